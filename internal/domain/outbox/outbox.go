package outbox

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// EffectRecord represents the effect_outbox table. Effects produced
// inside an ingest transaction are stored here and published to the
// Engine after the transaction commits, never inside it, so a slow
// collaborator cannot hold a discussion lock.
type EffectRecord struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	DiscussionID uuid.UUID `gorm:"type:uuid;index"`
	Kind         string    `gorm:"not null"`
	Payload      string    `gorm:"type:text"`

	CreatedAt   time.Time
	ProcessedAt sql.NullTime
	RetryCount  int
	LastError   sql.NullString
}

func (EffectRecord) TableName() string {
	return "effect_outbox"
}
