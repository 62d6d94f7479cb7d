package outbox

import (
	"context"
	"time"

	"concord-core/internal/events"
	"concord-core/internal/repository"
	"concord-core/pkg/logger"
)

type Runner struct {
	processor *Processor
}

func NewRunner(processor *Processor) *Runner {
	return &Runner{processor: processor}
}

func (r *Runner) Start(ctx context.Context) {
	go r.processor.Run(ctx)
}

func DefaultProcessor(repo repository.OutboxRepository, publisher events.Publisher, channel string, log *logger.Logger) *Processor {
	return NewProcessor(repo, publisher, channel, log, 100, time.Second*2, 5)
}
