package reconcile

import (
	"context"
	"database/sql"
	"time"

	"concord-core/internal/domain/discussion"
	"concord-core/internal/domain/group"
	"concord-core/internal/engine"
	"concord-core/internal/events"
	"concord-core/internal/repository"
	"concord-core/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MergeOutcome reports what a settings delivery did.
type MergeOutcome struct {
	Changed bool
	// ResendTo is set when the sender proved stale and should receive
	// our current settings.
	ResendTo string
}

// SettingsMerger folds shared ephemeral settings deliveries into the
// discussion. A higher version replaces wholesale; an equal version
// merges each constraint to its most restrictive value, a commutative,
// associative, idempotent meet, so duplicate deliveries are safe.
type SettingsMerger struct {
	log *logger.Logger
}

func NewSettingsMerger(log *logger.Logger) *SettingsMerger {
	return &SettingsMerger{log: log}
}

// MeetSettings merges two same-version constraint triples: readOnce ORs,
// durations take the minimum, unset means no constraint.
func MeetSettings(a, b discussion.SharedSettings) discussion.SharedSettings {
	return discussion.SharedSettings{
		Version:            a.Version,
		ReadOnce:           a.ReadOnce || b.ReadOnce,
		VisibilityDuration: minDuration(a.VisibilityDuration, b.VisibilityDuration),
		ExistenceDuration:  minDuration(a.ExistenceDuration, b.ExistenceDuration),
	}
}

func minDuration(a, b sql.NullInt64) sql.NullInt64 {
	switch {
	case !a.Valid:
		return b
	case !b.Valid:
		return a
	case a.Int64 <= b.Int64:
		return a
	default:
		return b
	}
}

// Merge applies one incoming settings delivery to a discussion.
func (s *SettingsMerger) Merge(ctx context.Context, store *repository.Store, resolver engine.PermissionResolver, discussionID uuid.UUID, incoming discussion.SharedSettings, sender string) (MergeOutcome, error) {
	disc, err := store.Discussions.GetByID(ctx, discussionID)
	if err != nil {
		return MergeOutcome{}, err
	}
	local := disc.Settings()

	switch {
	case incoming.Version > local.Version:
		disc.SetSettings(incoming)
		disc.UpdatedAt = time.Now()
		if err := store.Discussions.Update(ctx, disc); err != nil {
			return MergeOutcome{}, err
		}
		return MergeOutcome{Changed: true}, nil

	case incoming.Version == local.Version:
		merged := MeetSettings(local, incoming)
		if merged == local {
			return MergeOutcome{}, nil
		}
		disc.SetSettings(merged)
		disc.UpdatedAt = time.Now()
		if err := store.Discussions.Update(ctx, disc); err != nil {
			return MergeOutcome{}, err
		}
		return MergeOutcome{Changed: true}, nil

	default:
		// Stale sender. Self-heal by resending our settings when this
		// is one-to-one or we hold change-settings for the group.
		resend, err := s.mayResend(ctx, resolver, disc)
		if err != nil {
			return MergeOutcome{}, err
		}
		if resend {
			s.log.WithContext(ctx).Info("stale settings received, resending current version",
				zap.Int("incoming_version", incoming.Version),
				zap.Int("local_version", local.Version),
				zap.String("sender", sender))
			return MergeOutcome{ResendTo: sender}, nil
		}
		return MergeOutcome{}, nil
	}
}

// HandleQuery answers a settings query: it never mutates state, and only
// resends when our stored settings are strictly newer than the querier's
// known version, or equal with different constraint content.
func (s *SettingsMerger) HandleQuery(ctx context.Context, store *repository.Store, discussionID uuid.UUID, query events.QuerySharedSettings, querier string) (MergeOutcome, error) {
	disc, err := store.Discussions.GetByID(ctx, discussionID)
	if err != nil {
		return MergeOutcome{}, err
	}
	local := disc.Settings()
	if local.Version > query.KnownVersion {
		return MergeOutcome{ResendTo: querier}, nil
	}
	if local.Version == query.KnownVersion && query.KnownSettings != nil {
		known := SettingsFromEvent(*query.KnownSettings)
		if local != known {
			return MergeOutcome{ResendTo: querier}, nil
		}
	}
	return MergeOutcome{}, nil
}

// SettingsFromEvent converts the wire triple into the storage value.
func SettingsFromEvent(in events.SharedSettings) discussion.SharedSettings {
	out := discussion.SharedSettings{
		Version:  in.Version,
		ReadOnce: in.ReadOnce,
	}
	if in.VisibilityDuration != nil {
		out.VisibilityDuration = sql.NullInt64{Int64: *in.VisibilityDuration, Valid: true}
	}
	if in.ExistenceDuration != nil {
		out.ExistenceDuration = sql.NullInt64{Int64: *in.ExistenceDuration, Valid: true}
	}
	return out
}

func (s *SettingsMerger) mayResend(ctx context.Context, resolver engine.PermissionResolver, disc discussion.Discussion) (bool, error) {
	if disc.Kind == discussion.KindOneToOne {
		return true, nil
	}
	return resolver.HasPermission(ctx, disc.OwnerIdentity, disc.PeerOrGroupIdentifier, disc.OwnerIdentity, group.PermissionChangeSettings)
}
