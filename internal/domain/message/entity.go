package message

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// StableRef is the cross-device identity of a logical message. Mutation
// requests always target a StableRef, never the local storage id, which
// is only a local optimization.
type StableRef struct {
	DiscussionID         uuid.UUID
	SenderIdentifier     string
	SenderThreadID       string
	SenderSequenceNumber int64
}

// Message represents the messages table. The stable reference columns
// carry a unique composite index: one logical message, one row.
type Message struct {
	LocalID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	DiscussionID         uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_messages_stable_ref,priority:1;index"`
	SenderIdentifier     string    `gorm:"not null;uniqueIndex:ux_messages_stable_ref,priority:2"`
	SenderThreadID       string    `gorm:"not null;uniqueIndex:ux_messages_stable_ref,priority:3"`
	SenderSequenceNumber int64     `gorm:"not null;uniqueIndex:ux_messages_stable_ref,priority:4"`

	ServerTimestamp    int64
	Status             Status
	WipeStatus         WipeStatus
	EditStatus         EditStatus
	MissedMessageCount int64
	Body               sql.NullString
	Outbound           bool
	OnHold             bool
	ReadOnce           bool

	CreatedAt time.Time
	EditedAt  sql.NullTime
	WipedAt   sql.NullTime
}

func (m *Message) Ref() StableRef {
	return StableRef{
		DiscussionID:         m.DiscussionID,
		SenderIdentifier:     m.SenderIdentifier,
		SenderThreadID:       m.SenderThreadID,
		SenderSequenceNumber: m.SenderSequenceNumber,
	}
}

// Attachment represents the message_attachments table. Byte transfer is
// the Engine's job; the core only tracks refs and their fate.
type Attachment struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	MessageLocalID  uuid.UUID `gorm:"type:uuid;not null;index"`
	EngineRef       string    `gorm:"not null"`
	Filename        string
	Size            int64
	MarkedForDelete bool
	CreatedAt       time.Time
}

// Reaction represents the message_reactions table. One row per
// (message, reacter); a newer reaction from the same reacter replaces
// the older one.
type Reaction struct {
	MessageLocalID  uuid.UUID `gorm:"type:uuid;primaryKey"`
	ReacterIdentity string    `gorm:"primaryKey"`
	Emoji           string
	Timestamp       int64
	CreatedAt       time.Time
}

// RecipientStatus represents the message_recipient_statuses table:
// per-recipient delivery and read timestamps for an outbound message.
type RecipientStatus struct {
	MessageLocalID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	RecipientIdentity string    `gorm:"primaryKey"`
	Sent              bool
	DeliveredAt       sql.NullTime
	ReadAt            sql.NullTime
	UpdatedAt         time.Time
}

func (Message) TableName() string {
	return "messages"
}

func (Attachment) TableName() string {
	return "message_attachments"
}

func (Reaction) TableName() string {
	return "message_reactions"
}

func (RecipientStatus) TableName() string {
	return "message_recipient_statuses"
}
