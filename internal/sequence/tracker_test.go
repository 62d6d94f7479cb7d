package sequence

import (
	"context"
	"database/sql"
	"math/rand"
	"testing"
	"time"

	"concord-core/internal/domain/message"
	"concord-core/internal/repository"
	"concord-core/pkg/database"
	"concord-core/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *repository.Store {
	t.Helper()
	db, err := database.OpenInMemory()
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db))
	return repository.NewStore(db)
}

func insertMessage(t *testing.T, store *repository.Store, ref message.StableRef, missed int64) message.Message {
	t.Helper()
	m := message.Message{
		LocalID:              uuid.New(),
		DiscussionID:         ref.DiscussionID,
		SenderIdentifier:     ref.SenderIdentifier,
		SenderThreadID:       ref.SenderThreadID,
		SenderSequenceNumber: ref.SenderSequenceNumber,
		Status:               message.StatusUnread,
		WipeStatus:           message.WipeNone,
		EditStatus:           message.EditNone,
		MissedMessageCount:   missed,
		Body:                 sql.NullString{String: "hello", Valid: true},
		CreatedAt:            time.Now(),
	}
	require.NoError(t, store.Messages.Create(context.Background(), &m))
	return m
}

func refFor(discussionID uuid.UUID, seq int64) message.StableRef {
	return message.StableRef{
		DiscussionID:         discussionID,
		SenderIdentifier:     "alice",
		SenderThreadID:       "thread-1",
		SenderSequenceNumber: seq,
	}
}

// observe records the arrival the way the ingestion path does: counter
// first, then the message row carrying the returned missed count.
func observe(t *testing.T, tracker *Tracker, store *repository.Store, discussionID uuid.UUID, seq int64) int64 {
	t.Helper()
	missed, err := tracker.Observe(context.Background(), store, refFor(discussionID, seq))
	require.NoError(t, err)
	insertMessage(t, store, refFor(discussionID, seq), missed)
	return missed
}

func TestTracker_FirstMessageMissesNothing(t *testing.T) {
	store := newTestStore(t)
	tracker := NewTracker(logger.Nop())

	missed := observe(t, tracker, store, uuid.New(), 7)
	assert.Equal(t, int64(0), missed)
}

func TestTracker_GapThenRepair(t *testing.T) {
	store := newTestStore(t)
	tracker := NewTracker(logger.Nop())
	discussionID := uuid.New()

	assert.Equal(t, int64(0), observe(t, tracker, store, discussionID, 1))
	assert.Equal(t, int64(1), observe(t, tracker, store, discussionID, 3))

	// Late arrival of 2 repairs the gap recorded on 3.
	assert.Equal(t, int64(0), observe(t, tracker, store, discussionID, 2))

	three, err := store.Messages.GetByStableRef(context.Background(), refFor(discussionID, 3))
	require.NoError(t, err)
	assert.Equal(t, int64(0), three.MissedMessageCount)
}

func TestTracker_LateArrivalSplitsGap(t *testing.T) {
	store := newTestStore(t)
	tracker := NewTracker(logger.Nop())
	discussionID := uuid.New()

	observe(t, tracker, store, discussionID, 1)
	assert.Equal(t, int64(3), observe(t, tracker, store, discussionID, 5))

	// 3 arrives: one message still missing between 3 and 5, one before 3.
	assert.Equal(t, int64(1), observe(t, tracker, store, discussionID, 3))

	five, err := store.Messages.GetByStableRef(context.Background(), refFor(discussionID, 5))
	require.NoError(t, err)
	assert.Equal(t, int64(1), five.MissedMessageCount)
}

func TestTracker_ArrivalOlderThanAccountedGap(t *testing.T) {
	store := newTestStore(t)
	tracker := NewTracker(logger.Nop())
	discussionID := uuid.New()

	// Counter starts at 2: message 1 predates anything detectable.
	observe(t, tracker, store, discussionID, 2)
	observe(t, tracker, store, discussionID, 3)

	assert.Equal(t, int64(0), observe(t, tracker, store, discussionID, 1))

	two, err := store.Messages.GetByStableRef(context.Background(), refFor(discussionID, 2))
	require.NoError(t, err)
	assert.Equal(t, int64(0), two.MissedMessageCount)
}

func TestTracker_DuplicateOfLatestReturnsZero(t *testing.T) {
	store := newTestStore(t)
	tracker := NewTracker(logger.Nop())
	discussionID := uuid.New()

	observe(t, tracker, store, discussionID, 4)
	missed, err := tracker.Observe(context.Background(), store, refFor(discussionID, 4))
	require.NoError(t, err)
	assert.Equal(t, int64(0), missed)
}

// For any delivery order, the sum of recorded missed counts plus the
// number of delivered messages at or above the baseline covers the
// range from the first arrival to the highest sequence number.
func TestTracker_GapSumInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		store := newTestStore(t)
		tracker := NewTracker(logger.Nop())
		discussionID := uuid.New()

		seqs := []int64{1, 2, 3, 4, 5, 6, 7, 8}
		// Drop a random subset, keeping the max so the target is fixed.
		var delivered []int64
		for _, s := range seqs {
			if s == 8 || rng.Intn(3) > 0 {
				delivered = append(delivered, s)
			}
		}
		rng.Shuffle(len(delivered), func(i, j int) {
			delivered[i], delivered[j] = delivered[j], delivered[i]
		})

		// The very first arrival anchors the counter; everything below
		// it is invisible to the tracker. Over the visible range
		// [first, max], missed counts plus delivered messages account
		// for every sequence number exactly once.
		first := delivered[0]
		for _, s := range delivered {
			observe(t, tracker, store, discussionID, s)
		}

		msgs, err := store.Messages.GetDiscussionMessages(context.Background(), discussionID)
		require.NoError(t, err)
		var sum int64
		var visible int64
		for _, m := range msgs {
			sum += m.MissedMessageCount
			if m.SenderSequenceNumber >= first {
				visible++
			}
		}
		assert.Equal(t, int64(8)-first+1, sum+visible,
			"trial %d delivered %v", trial, delivered)
	}
}
