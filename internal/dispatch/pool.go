package dispatch

import (
	"context"
	"hash/fnv"
	"sync"

	concord_errors "concord-core/pkg/errors"
	"concord-core/pkg/logger"

	"github.com/google/uuid"
)

// Task is one unit of work bound to a discussion partition.
type Task func(ctx context.Context)

// Pool is a bounded worker pool partitioned by discussion id: units of
// work for the same discussion run in submission order on one worker,
// never overlapping, while different discussions proceed in parallel.
// SequenceTracker and GroupMembershipReconciler read-modify-write
// counters and member sets that must not interleave within a
// discussion.
type Pool struct {
	log    *logger.Logger
	queues []chan Task
	wg     sync.WaitGroup

	// mu orders Submit against Stop: every Submit holds the read lock
	// across its channel send, so Stop cannot close a queue while a
	// sender is inside it.
	mu      sync.RWMutex
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
}

func NewPool(log *logger.Logger, workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		log:    log,
		queues: make([]chan Task, workers),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := range p.queues {
		p.queues[i] = make(chan Task, queueSize)
		p.wg.Add(1)
		go p.run(p.queues[i])
	}
	return p
}

func (p *Pool) run(queue chan Task) {
	defer p.wg.Done()
	for task := range queue {
		task(p.ctx)
	}
}

// Submit enqueues a task on the partition owning the discussion.
// Blocks when the partition queue is full, which is the back-pressure
// point toward the Engine. Returns ErrConflict after Stop.
func (p *Pool) Submit(discussionID uuid.UUID, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return concord_errors.ErrConflict
	}
	queue := p.queues[p.partition(discussionID)]

	// A send blocked on a full queue keeps the read lock, so Stop waits
	// behind it; the workers are still draining, so the send completes.
	select {
	case queue <- task:
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

// Stop drains the queues and waits for in-flight tasks to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	for _, q := range p.queues {
		close(q)
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
}

func (p *Pool) partition(discussionID uuid.UUID) int {
	h := fnv.New32a()
	h.Write(discussionID[:])
	return int(h.Sum32() % uint32(len(p.queues)))
}
