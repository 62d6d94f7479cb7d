package sequence

import (
	"context"
	"errors"
	"time"

	"concord-core/internal/domain/message"
	seqdomain "concord-core/internal/domain/sequence"
	"concord-core/internal/repository"
	concord_errors "concord-core/pkg/errors"
	"concord-core/pkg/logger"

	"go.uber.org/zap"
)

// Tracker maintains the per (discussion, sender, thread) monotonic
// counter and computes the missed-message count for each arrival. It
// must run inside the same transaction as the message insert it
// supports: the counter update and the message creation are
// all-or-nothing.
type Tracker struct {
	log *logger.Logger
}

func NewTracker(log *logger.Logger) *Tracker {
	return &Tracker{log: log}
}

// Observe folds one arriving sequence number into the counter state and
// returns how many messages immediately preceding it are known to be
// missing. Out-of-order arrivals repair the gap already recorded on the
// next-higher message from the same sender-thread.
func (t *Tracker) Observe(ctx context.Context, store *repository.Store, ref message.StableRef) (int64, error) {
	counter, err := store.Sequences.Get(ctx, ref.DiscussionID, ref.SenderIdentifier, ref.SenderThreadID)
	if errors.Is(err, concord_errors.ErrNotFound) {
		// First message from this sender-thread: nothing before it is
		// detectable.
		c := seqdomain.Counter{
			DiscussionID:         ref.DiscussionID,
			SenderIdentifier:     ref.SenderIdentifier,
			SenderThreadID:       ref.SenderThreadID,
			LatestSequenceNumber: ref.SenderSequenceNumber,
			UpdatedAt:            time.Now(),
		}
		if err := store.Sequences.Create(ctx, &c); err != nil {
			return 0, err
		}
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	switch {
	case ref.SenderSequenceNumber > counter.LatestSequenceNumber:
		missed := ref.SenderSequenceNumber - 1 - counter.LatestSequenceNumber
		counter.LatestSequenceNumber = ref.SenderSequenceNumber
		counter.UpdatedAt = time.Now()
		if err := store.Sequences.Update(ctx, counter); err != nil {
			return 0, err
		}
		return missed, nil

	case ref.SenderSequenceNumber < counter.LatestSequenceNumber:
		return t.repairFollowing(ctx, store, ref)

	default:
		// Duplicate of the latest sequence number. Upstream
		// de-duplication should have caught this.
		t.log.WithContext(ctx).Warn("duplicate sequence number observed",
			zap.String("sender", ref.SenderIdentifier),
			zap.Int64("sequence_number", ref.SenderSequenceNumber))
		return 0, nil
	}
}

// repairFollowing handles a late, out-of-order arrival: the message with
// the next-higher sequence number already accounts for a gap, and this
// arrival explains part of it.
func (t *Tracker) repairFollowing(ctx context.Context, store *repository.Store, ref message.StableRef) (int64, error) {
	following, err := store.Messages.GetFollowing(ctx, ref)
	if errors.Is(err, concord_errors.ErrNotFound) {
		// Nothing to repair.
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	distance := following.SenderSequenceNumber - ref.SenderSequenceNumber
	if following.MissedMessageCount < distance {
		// The recorded gap already accounts for messages further back
		// than this one; the insertion is consistent as-is.
		return 0, nil
	}

	// Of the gap recorded on the following message, distance-1 messages
	// sit strictly between this arrival and it; the rest (minus this
	// arrival itself) precede this one.
	remainder := following.MissedMessageCount - distance
	following.MissedMessageCount = distance - 1
	if err := store.Messages.Update(ctx, following); err != nil {
		return 0, err
	}
	return remainder, nil
}
