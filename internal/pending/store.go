package pending

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"concord-core/internal/domain/group"
	"concord-core/internal/domain/message"
	pdomain "concord-core/internal/domain/pending"
	"concord-core/internal/engine"
	"concord-core/internal/events"
	"concord-core/internal/lifecycle"
	"concord-core/internal/repository"
	concord_errors "concord-core/pkg/errors"
	"concord-core/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Outcome reports what happened to a mutation request.
type Outcome int

const (
	OutcomeApplied Outcome = iota
	OutcomeQueued
	OutcomeRejected
)

// AuthzScope carries the identities needed for permission checks: the
// local owner and the group the discussion belongs to (empty for
// one-to-one).
type AuthzScope struct {
	Owner           string
	GroupIdentifier string
}

// Request is the value form of an incoming mutation.
type Request struct {
	Ref       message.StableRef
	Kind      pdomain.Kind
	Actor     string
	Timestamp int64
	// Payload is the new body for an edit, the emoji for a reaction.
	Payload string
}

// Store queues delete/edit/reaction requests whose target message has
// not been seen yet and replays them the moment the target is created,
// inside the creation transaction, so a message is never visible in an
// un-reconciled state.
type Store struct {
	log       *logger.Logger
	lifecycle *lifecycle.Service
}

func NewStore(log *logger.Logger, lc *lifecycle.Service) *Store {
	return &Store{log: log, lifecycle: lc}
}

// RecordIfTargetMissing applies the mutation directly when its target
// exists, otherwise queues it under the priority rules: a delete wins
// over an edit for the same target, a newer request of the same kind
// replaces an older one, reactions are slotted per reacter.
func (s *Store) RecordIfTargetMissing(ctx context.Context, store *repository.Store, resolver engine.PermissionResolver, scope AuthzScope, req Request) (Outcome, []events.Effect, error) {
	target, err := store.Messages.GetByStableRef(ctx, req.Ref)
	if err == nil {
		return s.applyNow(ctx, store, resolver, scope, &target, req)
	}
	if !errors.Is(err, concord_errors.ErrNotFound) {
		return OutcomeRejected, nil, err
	}

	// Target absent: queue. Permission is deliberately not checked here;
	// it is re-validated at drain time against the permissions current
	// then, which also acts as implicit cancellation.
	switch req.Kind {
	case pdomain.KindDelete, pdomain.KindEdit:
		return s.queueMutate(ctx, store, req)
	case pdomain.KindReaction:
		return s.queueReaction(ctx, store, req)
	default:
		return OutcomeRejected, nil, concord_errors.ErrInvalidInput
	}
}

func (s *Store) queueMutate(ctx context.Context, store *repository.Store, req Request) (Outcome, []events.Effect, error) {
	existing, err := store.Pendings.GetMutateSlot(ctx, req.Ref)
	if errors.Is(err, concord_errors.ErrNotFound) {
		if err := store.Pendings.Create(ctx, s.newRow(req, repository.MutateSlot)); err != nil {
			return OutcomeRejected, nil, err
		}
		return OutcomeQueued, nil, nil
	}
	if err != nil {
		return OutcomeRejected, nil, err
	}

	// Slot occupied: delete > edit; same kind resolves by timestamp.
	switch {
	case existing.Kind == pdomain.KindDelete && req.Kind == pdomain.KindEdit:
		return OutcomeRejected, nil, nil
	case existing.Kind == pdomain.KindEdit && req.Kind == pdomain.KindDelete:
		// Delete supersedes the queued edit.
	case req.Timestamp <= existing.RequestTimestamp:
		return OutcomeRejected, nil, nil
	}

	existing.Kind = req.Kind
	existing.ActorIdentity = req.Actor
	existing.RequestTimestamp = req.Timestamp
	existing.Payload = payloadOf(req)
	if err := store.Pendings.Update(ctx, existing); err != nil {
		return OutcomeRejected, nil, err
	}
	return OutcomeQueued, nil, nil
}

func (s *Store) queueReaction(ctx context.Context, store *repository.Store, req Request) (Outcome, []events.Effect, error) {
	existing, err := store.Pendings.GetReactionSlot(ctx, req.Ref, req.Actor)
	if errors.Is(err, concord_errors.ErrNotFound) {
		if err := store.Pendings.Create(ctx, s.newRow(req, repository.ReactionSlot(req.Actor))); err != nil {
			return OutcomeRejected, nil, err
		}
		return OutcomeQueued, nil, nil
	}
	if err != nil {
		return OutcomeRejected, nil, err
	}
	if req.Timestamp <= existing.RequestTimestamp {
		return OutcomeRejected, nil, nil
	}
	existing.RequestTimestamp = req.Timestamp
	existing.Payload = payloadOf(req)
	if err := store.Pendings.Update(ctx, existing); err != nil {
		return OutcomeRejected, nil, err
	}
	return OutcomeQueued, nil, nil
}

func (s *Store) newRow(req Request, slot string) *pdomain.MutationRequest {
	return &pdomain.MutationRequest{
		ID:                   uuid.New(),
		DiscussionID:         req.Ref.DiscussionID,
		SenderIdentifier:     req.Ref.SenderIdentifier,
		SenderThreadID:       req.Ref.SenderThreadID,
		SenderSequenceNumber: req.Ref.SenderSequenceNumber,
		Slot:                 slot,
		Kind:                 req.Kind,
		ActorIdentity:        req.Actor,
		ReacterIdentity:      reacterOf(req),
		RequestTimestamp:     req.Timestamp,
		Payload:              payloadOf(req),
		CreatedAt:            time.Now(),
	}
}

// DrainOnMessageCreated consumes every queued request matching the
// just-created message, in priority order (delete, edit, then each
// reaction), applying them as part of the creation transaction.
// Requests whose authorization lapsed are discarded, not applied.
func (s *Store) DrainOnMessageCreated(ctx context.Context, store *repository.Store, resolver engine.PermissionResolver, scope AuthzScope, m *message.Message) ([]events.Effect, error) {
	requests, err := store.Pendings.GetForTarget(ctx, m.Ref())
	if err != nil {
		return nil, err
	}
	if len(requests) == 0 {
		return nil, nil
	}

	var effects []events.Effect
	for _, queued := range requests {
		req := Request{
			Ref:       m.Ref(),
			Kind:      queued.Kind,
			Actor:     queued.ActorIdentity,
			Timestamp: queued.RequestTimestamp,
		}
		if queued.Payload.Valid {
			req.Payload = queued.Payload.String
		}
		_, applied, err := s.applyNow(ctx, store, resolver, scope, m, req)
		if err != nil {
			return nil, err
		}
		effects = append(effects, applied...)
	}
	if err := store.Pendings.DeleteForTarget(ctx, m.Ref()); err != nil {
		return nil, err
	}
	return effects, nil
}

// applyNow authorizes and applies a mutation against an existing
// message. Unauthorized or dominated requests are rejected quietly.
func (s *Store) applyNow(ctx context.Context, store *repository.Store, resolver engine.PermissionResolver, scope AuthzScope, m *message.Message, req Request) (Outcome, []events.Effect, error) {
	switch req.Kind {
	case pdomain.KindDelete:
		ok, err := s.authorizeDelete(ctx, resolver, scope, m, req.Actor)
		if err != nil {
			return OutcomeRejected, nil, err
		}
		if !ok {
			s.logDiscard(ctx, m, req, "delete not permitted")
			return OutcomeRejected, nil, nil
		}
		effects, err := s.lifecycle.RemoteDelete(ctx, store, m)
		if err != nil {
			return OutcomeRejected, nil, err
		}
		return OutcomeApplied, effects, nil

	case pdomain.KindEdit:
		ok, err := s.authorizeEdit(ctx, resolver, scope, m, req.Actor)
		if err != nil {
			return OutcomeRejected, nil, err
		}
		if !ok {
			s.logDiscard(ctx, m, req, "edit not permitted")
			return OutcomeRejected, nil, nil
		}
		if err := s.lifecycle.Edit(ctx, store, m, req.Payload, req.Timestamp); err != nil {
			if errors.Is(err, concord_errors.ErrInvalidTransition) {
				return OutcomeRejected, nil, nil
			}
			return OutcomeRejected, nil, err
		}
		return OutcomeApplied, nil, nil

	case pdomain.KindReaction:
		if err := s.lifecycle.SetReaction(ctx, store, m, req.Actor, req.Payload, req.Timestamp); err != nil {
			if errors.Is(err, concord_errors.ErrInvalidTransition) {
				return OutcomeRejected, nil, nil
			}
			return OutcomeRejected, nil, err
		}
		return OutcomeApplied, nil, nil

	default:
		return OutcomeRejected, nil, concord_errors.ErrInvalidInput
	}
}

func (s *Store) authorizeDelete(ctx context.Context, resolver engine.PermissionResolver, scope AuthzScope, m *message.Message, actor string) (bool, error) {
	if actor == m.SenderIdentifier {
		return resolver.HasPermission(ctx, scope.Owner, scope.GroupIdentifier, actor, group.PermissionEditOrRemoteDeleteOwn)
	}
	return resolver.HasPermission(ctx, scope.Owner, scope.GroupIdentifier, actor, group.PermissionRemoteDeleteAnything)
}

func (s *Store) authorizeEdit(ctx context.Context, resolver engine.PermissionResolver, scope AuthzScope, m *message.Message, actor string) (bool, error) {
	if actor != m.SenderIdentifier {
		return false, nil
	}
	return resolver.HasPermission(ctx, scope.Owner, scope.GroupIdentifier, actor, group.PermissionEditOrRemoteDeleteOwn)
}

func (s *Store) logDiscard(ctx context.Context, m *message.Message, req Request, reason string) {
	s.log.WithContext(ctx).Info("discarding mutation request",
		zap.String("reason", reason),
		zap.String("kind", req.Kind.String()),
		zap.String("actor", req.Actor),
		zap.Int64("sequence_number", m.SenderSequenceNumber))
}

func payloadOf(req Request) sql.NullString {
	if req.Payload == "" && req.Kind != pdomain.KindReaction {
		return sql.NullString{}
	}
	return sql.NullString{String: req.Payload, Valid: true}
}

func reacterOf(req Request) string {
	if req.Kind == pdomain.KindReaction {
		return req.Actor
	}
	return ""
}
