package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	concord_errors "concord-core/pkg/errors"
	"concord-core/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_TasksForOneDiscussionRunInOrder(t *testing.T) {
	p := NewPool(logger.Nop(), 4, 32)
	discussionID := uuid.New()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		require.NoError(t, p.Submit(discussionID, func(ctx context.Context) {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	p.Stop()

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestPool_DifferentDiscussionsAllComplete(t *testing.T) {
	p := NewPool(logger.Nop(), 4, 32)

	var mu sync.Mutex
	counts := map[uuid.UUID]int{}
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	for round := 0; round < 20; round++ {
		for _, id := range ids {
			id := id
			require.NoError(t, p.Submit(id, func(ctx context.Context) {
				mu.Lock()
				counts[id]++
				mu.Unlock()
			}))
		}
	}
	p.Stop()

	for _, id := range ids {
		assert.Equal(t, 20, counts[id])
	}
}

func TestPool_SubmitAfterStopIsRejected(t *testing.T) {
	p := NewPool(logger.Nop(), 2, 8)
	p.Stop()

	err := p.Submit(uuid.New(), func(ctx context.Context) {})
	assert.ErrorIs(t, err, concord_errors.ErrConflict)
}

func TestPool_SubmitBlockedOnFullQueueSurvivesStop(t *testing.T) {
	p := NewPool(logger.Nop(), 1, 1)

	release := make(chan struct{})
	// Occupy the single worker, then fill its one queue slot.
	require.NoError(t, p.Submit(uuid.New(), func(ctx context.Context) { <-release }))
	require.NoError(t, p.Submit(uuid.New(), func(ctx context.Context) {}))

	submitErr := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				submitErr <- fmt.Errorf("submit panicked: %v", r)
			}
		}()
		submitErr <- p.Submit(uuid.New(), func(ctx context.Context) {})
	}()

	// Let the third submit block inside the channel send, then unblock
	// the worker while Stop runs.
	time.Sleep(20 * time.Millisecond)
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	p.Stop()

	// The blocked submit either lands before the queues close or is
	// turned away; it never panics.
	if err := <-submitErr; err != nil {
		assert.ErrorIs(t, err, concord_errors.ErrConflict)
	}
}

func TestPool_StopWaitsForInFlightTasks(t *testing.T) {
	p := NewPool(logger.Nop(), 1, 8)

	done := false
	require.NoError(t, p.Submit(uuid.New(), func(ctx context.Context) {
		done = true
	}))
	p.Stop()

	assert.True(t, done)
}
