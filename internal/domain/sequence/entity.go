package sequence

import (
	"time"

	"github.com/google/uuid"
)

// Counter represents the sequence_counters table: the highest sequence
// number seen per (discussion, sender, thread). Lazily created on the
// first message from a sender-thread; never decreases.
type Counter struct {
	DiscussionID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	SenderIdentifier string    `gorm:"primaryKey"`
	SenderThreadID   string    `gorm:"primaryKey"`

	LatestSequenceNumber int64 `gorm:"not null"`
	UpdatedAt            time.Time
}

func (Counter) TableName() string {
	return "sequence_counters"
}
