package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"concord-core/internal/domain/discussion"
	"concord-core/internal/domain/group"
	"concord-core/internal/domain/message"
	"concord-core/internal/domain/outbox"
	"concord-core/internal/domain/pending"
	"concord-core/internal/domain/sequence"
)

type MessageRepository interface {
	Create(ctx context.Context, m *message.Message) error
	GetByLocalID(ctx context.Context, id uuid.UUID) (message.Message, error)
	GetByStableRef(ctx context.Context, ref message.StableRef) (message.Message, error)
	Update(ctx context.Context, m message.Message) error
	// GetFollowing returns the message with the smallest sequence number
	// strictly greater than afterSeq for the same sender-thread.
	GetFollowing(ctx context.Context, ref message.StableRef) (message.Message, error)
	GetDiscussionMessages(ctx context.Context, discussionID uuid.UUID) ([]message.Message, error)
	GetOnHoldMessages(ctx context.Context, discussionID uuid.UUID) ([]message.Message, error)
	SetOnHold(ctx context.Context, localID uuid.UUID, onHold bool) error

	AddAttachment(ctx context.Context, a *message.Attachment) error
	GetAttachments(ctx context.Context, localID uuid.UUID) ([]message.Attachment, error)
	MarkAttachmentsForDeletion(ctx context.Context, localID uuid.UUID) error

	SetReaction(ctx context.Context, r *message.Reaction) error
	RemoveReaction(ctx context.Context, localID uuid.UUID, reacter string) error
	GetReactions(ctx context.Context, localID uuid.UUID) ([]message.Reaction, error)

	GetRecipientStatuses(ctx context.Context, localID uuid.UUID) ([]message.RecipientStatus, error)
	UpsertRecipientStatus(ctx context.Context, rs *message.RecipientStatus) error
	// VoidUnsentDeliveries removes not-yet-sent recipient rows for an
	// identity across a discussion and returns the affected messages.
	VoidUnsentDeliveries(ctx context.Context, discussionID uuid.UUID, recipient string) ([]uuid.UUID, error)
}

type SequenceRepository interface {
	Get(ctx context.Context, discussionID uuid.UUID, sender, threadID string) (sequence.Counter, error)
	Create(ctx context.Context, c *sequence.Counter) error
	Update(ctx context.Context, c sequence.Counter) error
}

type PendingRepository interface {
	Create(ctx context.Context, r *pending.MutationRequest) error
	Update(ctx context.Context, r pending.MutationRequest) error
	Delete(ctx context.Context, id uuid.UUID) error
	// GetForTarget returns all queued requests for a stable reference in
	// priority order: delete, edit, then reactions by reacter identity.
	GetForTarget(ctx context.Context, ref message.StableRef) ([]pending.MutationRequest, error)
	GetMutateSlot(ctx context.Context, ref message.StableRef) (pending.MutationRequest, error)
	GetReactionSlot(ctx context.Context, ref message.StableRef, reacter string) (pending.MutationRequest, error)
	DeleteForTarget(ctx context.Context, ref message.StableRef) error
}

type GroupRepository interface {
	GetMembers(ctx context.Context, owner, groupID string) ([]group.Member, error)
	GetPendingMembers(ctx context.Context, owner, groupID string) ([]group.PendingMember, error)
	GetMember(ctx context.Context, owner, groupID, identity string) (group.Member, error)
	CreateMember(ctx context.Context, m *group.Member) error
	UpdateMember(ctx context.Context, m group.Member) error
	DeleteMember(ctx context.Context, owner, groupID, identity string) error
	CreatePendingMember(ctx context.Context, p *group.PendingMember) error
	UpdatePendingMember(ctx context.Context, p group.PendingMember) error
	DeletePendingMember(ctx context.Context, owner, groupID, identity string) error
}

type DiscussionRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (discussion.Discussion, error)
	GetByScope(ctx context.Context, owner, peerOrGroup string) (discussion.Discussion, error)
	Create(ctx context.Context, d *discussion.Discussion) error
	Update(ctx context.Context, d discussion.Discussion) error
}

type OutboxRepository interface {
	Create(ctx context.Context, rec *outbox.EffectRecord) error
	GetPending(ctx context.Context, limit int) ([]outbox.EffectRecord, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// Store bundles all repositories over one gorm handle so a unit of work
// can rebind the whole set onto a transaction.
type Store struct {
	Messages    MessageRepository
	Sequences   SequenceRepository
	Pendings    PendingRepository
	Groups      GroupRepository
	Discussions DiscussionRepository
	Outbox      OutboxRepository

	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		Messages:    NewMessageRepository(db),
		Sequences:   NewSequenceRepository(db),
		Pendings:    NewPendingRepository(db),
		Groups:      NewGroupRepository(db),
		Discussions: NewDiscussionRepository(db),
		Outbox:      NewOutboxRepository(db),
		db:          db,
	}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn with a Store bound to one transaction; every
// repository call inside fn is all-or-nothing.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}

// Migrate creates/updates the schema for every relation the core owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&discussion.Discussion{},
		&message.Message{},
		&message.Attachment{},
		&message.Reaction{},
		&message.RecipientStatus{},
		&sequence.Counter{},
		&pending.MutationRequest{},
		&group.Member{},
		&group.PendingMember{},
		&outbox.EffectRecord{},
	)
}
