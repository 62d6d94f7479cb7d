package outbox

import (
	"context"
	"encoding/json"
	"time"

	"concord-core/internal/events"
	"concord-core/internal/repository"
	"concord-core/pkg/logger"

	"go.uber.org/zap"
)

// Processor drains the effect outbox and hands effects to the Engine
// over the publisher. Effects were recorded inside ingest transactions;
// publishing happens strictly after commit, so a slow collaborator can
// never hold a discussion lock.
type Processor struct {
	repo       repository.OutboxRepository
	publisher  events.Publisher
	channel    string
	log        *logger.Logger
	batchSize  int
	interval   time.Duration
	maxRetries int
}

func NewProcessor(repo repository.OutboxRepository, publisher events.Publisher, channel string, log *logger.Logger, batchSize int, interval time.Duration, maxRetries int) *Processor {
	return &Processor{
		repo:       repo,
		publisher:  publisher,
		channel:    channel,
		log:        log,
		batchSize:  batchSize,
		interval:   interval,
		maxRetries: maxRetries,
	}
}

func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch publishes one batch of pending effects in creation order.
func (p *Processor) ProcessBatch(ctx context.Context) {
	batch, err := p.repo.GetPending(ctx, p.batchSize)
	if err != nil || len(batch) == 0 {
		return
	}

	for _, rec := range batch {
		if rec.RetryCount >= p.maxRetries {
			p.log.WithContext(ctx).Error("effect dropped after max retries",
				zap.String("kind", rec.Kind),
				zap.String("effect_id", rec.ID.String()))
			_ = p.repo.MarkProcessed(ctx, rec.ID)
			continue
		}

		env := events.Envelope{
			EventType:    rec.Kind,
			DiscussionID: rec.DiscussionID.String(),
			OccurredAt:   rec.CreatedAt.UTC(),
			Payload:      json.RawMessage(rec.Payload),
		}
		payload, err := json.Marshal(env)
		if err != nil {
			_ = p.repo.MarkFailed(ctx, rec.ID, err.Error())
			continue
		}

		if err := p.publisher.Publish(ctx, p.channel, payload); err != nil {
			_ = p.repo.MarkFailed(ctx, rec.ID, err.Error())
			continue
		}
		_ = p.repo.MarkProcessed(ctx, rec.ID)
	}
}
