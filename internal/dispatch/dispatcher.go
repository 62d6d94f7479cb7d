package dispatch

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"concord-core/internal/domain/discussion"
	"concord-core/internal/domain/group"
	"concord-core/internal/domain/message"
	"concord-core/internal/domain/outbox"
	pdomain "concord-core/internal/domain/pending"
	"concord-core/internal/engine"
	"concord-core/internal/events"
	"concord-core/internal/lifecycle"
	"concord-core/internal/pending"
	"concord-core/internal/reconcile"
	"concord-core/internal/repository"
	"concord-core/internal/sequence"
	concord_errors "concord-core/pkg/errors"
	"concord-core/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IngestResult is what one atomic unit of work produced: the local id
// of a created message, the follow-up effects for collaborators, and
// the disposition the caller should apply to the delivery.
type IngestResult struct {
	Disposition           concord_errors.Disposition
	CreatedMessageLocalID *uuid.UUID
	Effects               []events.Effect
}

type handlerFunc func(ctx context.Context, tx *repository.Store, resolver engine.PermissionResolver, scope events.Scope, decoded events.Decoded) (IngestResult, error)

// Dispatcher classifies an inbound decoded payload and runs the
// matching handler inside one transaction. Every mutation to shared
// state is all-or-nothing; effects are stored in the outbox inside the
// same transaction and executed only after it commits.
type Dispatcher struct {
	store     *repository.Store
	log       *logger.Logger
	tracker   *sequence.Tracker
	pendings  *pending.Store
	lifecycle *lifecycle.Service
	groups    *reconcile.GroupReconciler
	settings  *reconcile.SettingsMerger

	handlers map[events.Kind]handlerFunc
}

func NewDispatcher(store *repository.Store, log *logger.Logger) *Dispatcher {
	lc := lifecycle.NewService(log)
	d := &Dispatcher{
		store:     store,
		log:       log,
		tracker:   sequence.NewTracker(log),
		pendings:  pending.NewStore(log, lc),
		lifecycle: lc,
		groups:    reconcile.NewGroupReconciler(log, lc),
		settings:  reconcile.NewSettingsMerger(log),
	}
	d.handlers = map[events.Kind]handlerFunc{
		events.KindNewMessage:          d.handleNewMessage,
		events.KindDeleteDiscussion:    d.handleDeleteDiscussion,
		events.KindDeleteMessages:      d.handleDeleteMessages,
		events.KindUpdateMessage:       d.handleUpdateMessage,
		events.KindReaction:            d.handleReaction,
		events.KindQuerySharedSettings: d.handleQuerySettings,
		events.KindSharedSettings:      d.handleSharedSettings,
		events.KindScreenCaptureNotice: d.handleScreenCapture,
	}
	return d
}

// Ingest is the single entry point for message-class and settings
// events. Errors never escape unclassified: the returned disposition
// tells the caller whether to acknowledge, drop or retry the delivery.
func (d *Dispatcher) Ingest(ctx context.Context, scope events.Scope, decoded events.Decoded) (IngestResult, error) {
	kind, ok := decoded.Classify()
	if !ok {
		return IngestResult{Disposition: concord_errors.DispositionDiscardAndAck}, nil
	}
	handler, ok := d.handlers[kind]
	if !ok {
		return IngestResult{Disposition: concord_errors.DispositionDiscardAndAck}, nil
	}

	var result IngestResult
	err := d.store.Transaction(ctx, func(tx *repository.Store) error {
		resolver := engine.NewStoreResolver(tx)
		var herr error
		result, herr = handler(ctx, tx, resolver, scope, decoded)
		if herr != nil {
			return herr
		}
		return persistEffects(ctx, tx, result.Effects)
	})
	if err != nil {
		disposition := concord_errors.Classify(err)
		d.log.WithContext(ctx).Warn("event discarded",
			zap.String("kind", string(kind)),
			zap.String("disposition", disposition.String()),
			zap.Error(err))
		if disposition == concord_errors.DispositionRetry {
			return IngestResult{Disposition: disposition}, err
		}
		return IngestResult{Disposition: disposition}, nil
	}
	result.Disposition = concord_errors.DispositionApplied
	return result, nil
}

// ReconcileGroup applies one authoritative membership snapshot as one
// atomic unit. Snapshots must be submitted in delivery order.
func (d *Dispatcher) ReconcileGroup(ctx context.Context, owner, groupID string, snap reconcile.Snapshot, uctx reconcile.UpdateContext) ([]events.Effect, error) {
	var effects []events.Effect
	err := d.store.Transaction(ctx, func(tx *repository.Store) error {
		var rerr error
		effects, rerr = d.groups.Reconcile(ctx, tx, owner, groupID, snap, uctx)
		if rerr != nil {
			return rerr
		}
		return persistEffects(ctx, tx, effects)
	})
	if err != nil {
		return nil, err
	}
	return effects, nil
}

// MergeSettings applies one settings delivery outside the normal event
// flow (used by local actions and by the bridge's direct merge path).
func (d *Dispatcher) MergeSettings(ctx context.Context, discussionID uuid.UUID, incoming discussion.SharedSettings, sender string) (reconcile.MergeOutcome, error) {
	var outcome reconcile.MergeOutcome
	err := d.store.Transaction(ctx, func(tx *repository.Store) error {
		resolver := engine.NewStoreResolver(tx)
		var merr error
		outcome, merr = d.settings.Merge(ctx, tx, resolver, discussionID, incoming, sender)
		return merr
	})
	return outcome, err
}

func (d *Dispatcher) handleNewMessage(ctx context.Context, tx *repository.Store, resolver engine.PermissionResolver, scope events.Scope, decoded events.Decoded) (IngestResult, error) {
	nm := decoded.NewMessage
	disc, err := d.discussionFor(ctx, tx, scope)
	if err != nil {
		return IngestResult{}, err
	}
	ref := message.StableRef{
		DiscussionID:         disc.ID,
		SenderIdentifier:     scope.SenderIdentity,
		SenderThreadID:       nm.SenderThreadID,
		SenderSequenceNumber: nm.SenderSequenceNumber,
	}

	// Idempotence per stable reference: a duplicate delivery of the
	// same logical message is a no-op; the same reference with
	// different content is an invariant violation.
	existing, err := tx.Messages.GetByStableRef(ctx, ref)
	if err == nil {
		if existing.WipeStatus == message.WipeNone && existing.Body.Valid && existing.Body.String != nm.Body {
			return IngestResult{}, concord_errors.ErrConsistencyViolation
		}
		id := existing.LocalID
		return IngestResult{CreatedMessageLocalID: &id}, nil
	}
	if !errors.Is(err, concord_errors.ErrNotFound) {
		return IngestResult{}, err
	}

	// Group messages from a sender we cannot resolve yet are withheld
	// and replayed when membership catches up. A resolved member whose
	// send permission was revoked is denied, not withheld.
	onHold := false
	groupID := d.groupIdentifier(disc)
	if groupID != "" {
		_, err := tx.Groups.GetMember(ctx, disc.OwnerIdentity, groupID, scope.SenderIdentity)
		switch {
		case errors.Is(err, concord_errors.ErrNotFound):
			onHold = true
		case err != nil:
			return IngestResult{}, err
		default:
			allowed, err := resolver.HasPermission(ctx, disc.OwnerIdentity, groupID, scope.SenderIdentity, group.PermissionSendMessage)
			if err != nil {
				return IngestResult{}, err
			}
			if !allowed {
				return IngestResult{}, concord_errors.ErrPermissionDenied
			}
		}
	}

	missed, err := d.tracker.Observe(ctx, tx, ref)
	if err != nil {
		return IngestResult{}, err
	}

	readOnce := nm.ReadOnce || disc.ReadOnce
	m := message.Message{
		LocalID:              uuid.New(),
		DiscussionID:         ref.DiscussionID,
		SenderIdentifier:     ref.SenderIdentifier,
		SenderThreadID:       ref.SenderThreadID,
		SenderSequenceNumber: ref.SenderSequenceNumber,
		ServerTimestamp:      scope.ServerTimestamp,
		Status:               message.StatusUnread,
		WipeStatus:           message.WipeNone,
		EditStatus:           message.EditNone,
		MissedMessageCount:   missed,
		Body:                 sql.NullString{String: nm.Body, Valid: true},
		OnHold:               onHold,
		ReadOnce:             readOnce,
		CreatedAt:            time.Now(),
	}
	if readOnce {
		m.WipeStatus = message.WipeOnRead
	}
	if err := tx.Messages.Create(ctx, &m); err != nil {
		return IngestResult{}, err
	}
	for _, a := range nm.Attachments {
		att := message.Attachment{
			ID:             uuid.New(),
			MessageLocalID: m.LocalID,
			EngineRef:      a.EngineRef,
			Filename:       a.Filename,
			Size:           a.Size,
			CreatedAt:      time.Now(),
		}
		if err := tx.Messages.AddAttachment(ctx, &att); err != nil {
			return IngestResult{}, err
		}
	}

	// Replay queued mutations before the message becomes visible.
	authz := pending.AuthzScope{Owner: disc.OwnerIdentity, GroupIdentifier: groupID}
	drained, err := d.pendings.DrainOnMessageCreated(ctx, tx, resolver, authz, &m)
	if err != nil {
		return IngestResult{}, err
	}

	var effects []events.Effect
	effects = append(effects, drained...)
	if !onHold {
		effects = append(effects, events.Effect{
			Kind:         events.EffectSendReturnReceipt,
			DiscussionID: disc.ID,
			Recipient:    scope.SenderIdentity,
		})
	}
	if m.WipeStatus != message.RemoteDeleted {
		for _, a := range nm.Attachments {
			effects = append(effects, events.Effect{
				Kind:          events.EffectRequestAttachmentDownload,
				DiscussionID:  disc.ID,
				AttachmentRef: a.EngineRef,
			})
		}
	}

	if scope.ServerTimestamp > disc.LastMessageTimestamp {
		disc.LastMessageTimestamp = scope.ServerTimestamp
		disc.UpdatedAt = time.Now()
		if err := tx.Discussions.Update(ctx, disc); err != nil {
			return IngestResult{}, err
		}
	}

	id := m.LocalID
	return IngestResult{CreatedMessageLocalID: &id, Effects: effects}, nil
}

func (d *Dispatcher) handleDeleteMessages(ctx context.Context, tx *repository.Store, resolver engine.PermissionResolver, scope events.Scope, decoded events.Decoded) (IngestResult, error) {
	disc, err := tx.Discussions.GetByID(ctx, scope.DiscussionID)
	if err != nil {
		return IngestResult{}, err
	}
	authz := pending.AuthzScope{Owner: disc.OwnerIdentity, GroupIdentifier: d.groupIdentifier(disc)}
	var effects []events.Effect
	for _, target := range decoded.DeleteMessages.Targets {
		req := pending.Request{
			Ref: message.StableRef{
				DiscussionID:         disc.ID,
				SenderIdentifier:     target.SenderIdentifier,
				SenderThreadID:       target.SenderThreadID,
				SenderSequenceNumber: target.SenderSequenceNumber,
			},
			Kind:      pdomain.KindDelete,
			Actor:     scope.SenderIdentity,
			Timestamp: scope.ServerTimestamp,
		}
		_, applied, err := d.pendings.RecordIfTargetMissing(ctx, tx, resolver, authz, req)
		if err != nil {
			return IngestResult{}, err
		}
		effects = append(effects, applied...)
	}
	return IngestResult{Effects: effects}, nil
}

func (d *Dispatcher) handleUpdateMessage(ctx context.Context, tx *repository.Store, resolver engine.PermissionResolver, scope events.Scope, decoded events.Decoded) (IngestResult, error) {
	disc, err := tx.Discussions.GetByID(ctx, scope.DiscussionID)
	if err != nil {
		return IngestResult{}, err
	}
	um := decoded.UpdateMessage
	authz := pending.AuthzScope{Owner: disc.OwnerIdentity, GroupIdentifier: d.groupIdentifier(disc)}
	req := pending.Request{
		Ref: message.StableRef{
			DiscussionID:         disc.ID,
			SenderIdentifier:     um.Target.SenderIdentifier,
			SenderThreadID:       um.Target.SenderThreadID,
			SenderSequenceNumber: um.Target.SenderSequenceNumber,
		},
		Kind:      pdomain.KindEdit,
		Actor:     scope.SenderIdentity,
		Timestamp: scope.ServerTimestamp,
		Payload:   um.NewBody,
	}
	_, effects, err := d.pendings.RecordIfTargetMissing(ctx, tx, resolver, authz, req)
	if err != nil {
		return IngestResult{}, err
	}
	return IngestResult{Effects: effects}, nil
}

func (d *Dispatcher) handleReaction(ctx context.Context, tx *repository.Store, resolver engine.PermissionResolver, scope events.Scope, decoded events.Decoded) (IngestResult, error) {
	disc, err := tx.Discussions.GetByID(ctx, scope.DiscussionID)
	if err != nil {
		return IngestResult{}, err
	}
	re := decoded.Reaction
	authz := pending.AuthzScope{Owner: disc.OwnerIdentity, GroupIdentifier: d.groupIdentifier(disc)}
	req := pending.Request{
		Ref: message.StableRef{
			DiscussionID:         disc.ID,
			SenderIdentifier:     re.Target.SenderIdentifier,
			SenderThreadID:       re.Target.SenderThreadID,
			SenderSequenceNumber: re.Target.SenderSequenceNumber,
		},
		Kind:      pdomain.KindReaction,
		Actor:     scope.SenderIdentity,
		Timestamp: scope.ServerTimestamp,
		Payload:   re.Emoji,
	}
	_, effects, err := d.pendings.RecordIfTargetMissing(ctx, tx, resolver, authz, req)
	if err != nil {
		return IngestResult{}, err
	}
	return IngestResult{Effects: effects}, nil
}

func (d *Dispatcher) handleDeleteDiscussion(ctx context.Context, tx *repository.Store, resolver engine.PermissionResolver, scope events.Scope, decoded events.Decoded) (IngestResult, error) {
	disc, err := tx.Discussions.GetByID(ctx, scope.DiscussionID)
	if err != nil {
		return IngestResult{}, err
	}
	groupID := d.groupIdentifier(disc)
	if groupID != "" {
		ok, err := resolver.HasPermission(ctx, disc.OwnerIdentity, groupID, scope.SenderIdentity, group.PermissionRemoteDeleteAnything)
		if err != nil {
			return IngestResult{}, err
		}
		if !ok {
			return IngestResult{}, concord_errors.ErrPermissionDenied
		}
	}

	msgs, err := tx.Messages.GetDiscussionMessages(ctx, disc.ID)
	if err != nil {
		return IngestResult{}, err
	}
	var effects []events.Effect
	for i := range msgs {
		wiped, err := d.lifecycle.RemoteDelete(ctx, tx, &msgs[i])
		if err != nil {
			return IngestResult{}, err
		}
		effects = append(effects, wiped...)
	}
	effects = append(effects, events.NewNotification(disc.ID, events.NotifyDiscussionWiped, "", scope.SenderIdentity))
	return IngestResult{Effects: effects}, nil
}

func (d *Dispatcher) handleQuerySettings(ctx context.Context, tx *repository.Store, resolver engine.PermissionResolver, scope events.Scope, decoded events.Decoded) (IngestResult, error) {
	outcome, err := d.settings.HandleQuery(ctx, tx, scope.DiscussionID, *decoded.QuerySharedSettings, scope.SenderIdentity)
	if err != nil {
		return IngestResult{}, err
	}
	return IngestResult{Effects: resendEffect(scope.DiscussionID, outcome)}, nil
}

func (d *Dispatcher) handleSharedSettings(ctx context.Context, tx *repository.Store, resolver engine.PermissionResolver, scope events.Scope, decoded events.Decoded) (IngestResult, error) {
	disc, err := tx.Discussions.GetByID(ctx, scope.DiscussionID)
	if err != nil {
		return IngestResult{}, err
	}
	groupID := d.groupIdentifier(disc)
	if groupID != "" && scope.SenderIdentity != disc.OwnerIdentity {
		ok, err := resolver.HasPermission(ctx, disc.OwnerIdentity, groupID, scope.SenderIdentity, group.PermissionChangeSettings)
		if err != nil {
			return IngestResult{}, err
		}
		if !ok {
			return IngestResult{}, concord_errors.ErrPermissionDenied
		}
	}
	incoming := reconcile.SettingsFromEvent(*decoded.SharedSettings)
	outcome, err := d.settings.Merge(ctx, tx, resolver, disc.ID, incoming, scope.SenderIdentity)
	if err != nil {
		return IngestResult{}, err
	}
	effects := resendEffect(disc.ID, outcome)
	if outcome.Changed {
		effects = append(effects, events.NewNotification(disc.ID, events.NotifySettingsUpdated, "", scope.SenderIdentity))
	}
	return IngestResult{Effects: effects}, nil
}

func (d *Dispatcher) handleScreenCapture(ctx context.Context, tx *repository.Store, resolver engine.PermissionResolver, scope events.Scope, decoded events.Decoded) (IngestResult, error) {
	disc, err := tx.Discussions.GetByID(ctx, scope.DiscussionID)
	if err != nil {
		return IngestResult{}, err
	}
	return IngestResult{
		Effects: []events.Effect{
			events.NewNotification(disc.ID, events.NotifyScreenCapture, "", scope.SenderIdentity),
		},
	}, nil
}

// discussionFor resolves the scoped discussion, creating the one-to-one
// row on first contact with a peer.
func (d *Dispatcher) discussionFor(ctx context.Context, tx *repository.Store, scope events.Scope) (discussion.Discussion, error) {
	disc, err := tx.Discussions.GetByID(ctx, scope.DiscussionID)
	if err == nil {
		return disc, nil
	}
	if !errors.Is(err, concord_errors.ErrNotFound) {
		return discussion.Discussion{}, err
	}
	disc = discussion.Discussion{
		ID:                    scope.DiscussionID,
		OwnerIdentity:         scope.OwnerIdentity,
		PeerOrGroupIdentifier: scope.SenderIdentity,
		Kind:                  discussion.KindOneToOne,
		CreatedAt:             time.Now(),
		UpdatedAt:             time.Now(),
	}
	if err := tx.Discussions.Create(ctx, &disc); err != nil {
		return discussion.Discussion{}, err
	}
	return disc, nil
}

func (d *Dispatcher) groupIdentifier(disc discussion.Discussion) string {
	if disc.Kind == discussion.KindOneToOne {
		return ""
	}
	return disc.PeerOrGroupIdentifier
}

func resendEffect(discussionID uuid.UUID, outcome reconcile.MergeOutcome) []events.Effect {
	if outcome.ResendTo == "" {
		return nil
	}
	return []events.Effect{{
		Kind:         events.EffectResendSettings,
		DiscussionID: discussionID,
		Recipient:    outcome.ResendTo,
	}}
}

func persistEffects(ctx context.Context, tx *repository.Store, effects []events.Effect) error {
	for _, e := range effects {
		payload, err := json.Marshal(e)
		if err != nil {
			return err
		}
		rec := outbox.EffectRecord{
			ID:           uuid.New(),
			DiscussionID: e.DiscussionID,
			Kind:         string(e.Kind),
			Payload:      string(payload),
			CreatedAt:    time.Now(),
		}
		if err := tx.Outbox.Create(ctx, &rec); err != nil {
			return err
		}
	}
	return nil
}
