package lifecycle

import (
	"context"
	"database/sql"
	"time"

	"concord-core/internal/domain/message"
	"concord-core/internal/events"
	"concord-core/internal/repository"
	concord_errors "concord-core/pkg/errors"
	"concord-core/pkg/logger"
)

// Service applies content mutations to a single message under the
// lifecycle rules: RemoteDeleted is terminal and dominates edits and
// reactions, body and status always change in the same transaction.
type Service struct {
	log *logger.Logger
}

func NewService(log *logger.Logger) *Service {
	return &Service{log: log}
}

// RemoteDelete moves a message into RemoteDeleted, clears its body and
// marks its attachments for deletion. Idempotent; returns the effects
// for the Engine to drop the attachment bytes.
func (s *Service) RemoteDelete(ctx context.Context, store *repository.Store, m *message.Message) ([]events.Effect, error) {
	if m.WipeStatus == message.RemoteDeleted {
		return nil, nil
	}
	if err := m.MarkRemoteDeleted(sql.NullTime{Time: time.Now(), Valid: true}); err != nil {
		return nil, err
	}
	if err := store.Messages.Update(ctx, *m); err != nil {
		return nil, err
	}

	attachments, err := store.Messages.GetAttachments(ctx, m.LocalID)
	if err != nil {
		return nil, err
	}
	if err := store.Messages.MarkAttachmentsForDeletion(ctx, m.LocalID); err != nil {
		return nil, err
	}
	var effects []events.Effect
	for _, a := range attachments {
		effects = append(effects, events.Effect{
			Kind:          events.EffectMarkAttachmentForDeletion,
			DiscussionID:  m.DiscussionID,
			AttachmentRef: a.EngineRef,
		})
	}
	return effects, nil
}

// Edit replaces the message body. Rejected once the message is wiped or
// remote deleted.
func (s *Service) Edit(ctx context.Context, store *repository.Store, m *message.Message, newBody string, at int64) error {
	if err := m.ApplyEdit(newBody, sql.NullTime{Time: time.UnixMilli(at), Valid: true}); err != nil {
		return err
	}
	return store.Messages.Update(ctx, *m)
}

// SetReaction records one reacter's reaction. An empty emoji clears the
// previous reaction; a reaction older than the stored one is ignored.
// Reactions to a remote-deleted message are dropped.
func (s *Service) SetReaction(ctx context.Context, store *repository.Store, m *message.Message, reacter, emoji string, at int64) error {
	if m.WipeStatus == message.RemoteDeleted || m.WipeStatus == message.Wiped {
		return concord_errors.ErrInvalidTransition
	}
	existing, err := store.Messages.GetReactions(ctx, m.LocalID)
	if err != nil {
		return err
	}
	for _, r := range existing {
		if r.ReacterIdentity == reacter && r.Timestamp >= at {
			return nil
		}
	}
	if emoji == "" {
		return store.Messages.RemoveReaction(ctx, m.LocalID, reacter)
	}
	return store.Messages.SetReaction(ctx, &message.Reaction{
		MessageLocalID:  m.LocalID,
		ReacterIdentity: reacter,
		Emoji:           emoji,
		Timestamp:       at,
		CreatedAt:       time.Now(),
	})
}

// MarkRead transitions an inbound message to Read. A read-once message
// wipes when the user is not currently viewing the discussion, or
// immediately when retention policy says not to retain.
func (s *Service) MarkRead(ctx context.Context, store *repository.Store, m *message.Message, viewingDiscussion, retain bool) error {
	if m.Status != message.StatusUnread {
		return nil
	}
	m.Status = message.StatusRead
	if m.WipeStatus == message.WipeOnRead && (!viewingDiscussion || !retain) {
		if err := m.Wipe(sql.NullTime{Time: time.Now(), Valid: true}); err != nil {
			return err
		}
	}
	return store.Messages.Update(ctx, *m)
}

// RefreshOutboundStatus recomputes an outbound message's status from its
// per-recipient delivery and read timestamps and persists it if changed.
func (s *Service) RefreshOutboundStatus(ctx context.Context, store *repository.Store, m *message.Message) error {
	if !m.Outbound {
		return nil
	}
	statuses, err := store.Messages.GetRecipientStatuses(ctx, m.LocalID)
	if err != nil {
		return err
	}
	next := message.RefreshOutboundStatus(statuses)
	if next == m.Status {
		return nil
	}
	m.Status = next
	return store.Messages.Update(ctx, *m)
}
