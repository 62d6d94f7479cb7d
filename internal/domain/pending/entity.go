package pending

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Kind orders mutation requests by priority: a delete always wins over
// an edit for the same target, and both are drained before reactions.
type Kind int

const (
	KindDelete Kind = iota
	KindEdit
	KindReaction
)

func (k Kind) String() string {
	switch k {
	case KindDelete:
		return "delete"
	case KindEdit:
		return "edit"
	case KindReaction:
		return "reaction"
	default:
		return "unknown"
	}
}

// MutationRequest represents the pending_mutation_requests table: a
// delete/edit/reaction that arrived before the message it targets.
// ReacterIdentity is empty except for reactions, so the unique index
// enforces at most one delete-or-edit slot per target while reactions
// from different reacters coexist.
type MutationRequest struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`

	DiscussionID         uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_pending_target,priority:1"`
	SenderIdentifier     string    `gorm:"not null;uniqueIndex:ux_pending_target,priority:2"`
	SenderThreadID       string    `gorm:"not null;uniqueIndex:ux_pending_target,priority:3"`
	SenderSequenceNumber int64     `gorm:"not null;uniqueIndex:ux_pending_target,priority:4"`
	Slot                 string    `gorm:"not null;uniqueIndex:ux_pending_target,priority:5"`

	Kind             Kind `gorm:"not null"`
	ActorIdentity    string
	ReacterIdentity  string
	RequestTimestamp int64
	Payload          sql.NullString

	CreatedAt time.Time
}

func (MutationRequest) TableName() string {
	return "pending_mutation_requests"
}
