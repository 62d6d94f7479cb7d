package bridge

import (
	"context"

	"concord-core/internal/dispatch"
	"concord-core/internal/engine"
	"concord-core/internal/events"
	concord_errors "concord-core/pkg/errors"
	"concord-core/pkg/logger"

	"go.uber.org/zap"
)

// Bridge consumes decoded-event frames the Engine publishes on its
// inbound channel and feeds them through the partitioned pool into the
// dispatcher. The Engine has already decrypted and authenticated every
// frame; the bridge only parses and routes.
type Bridge struct {
	subscriber events.Subscriber
	pool       *dispatch.Pool
	dispatcher *dispatch.Dispatcher
	channel    string
	log        *logger.Logger
}

func NewBridge(subscriber events.Subscriber, pool *dispatch.Pool, dispatcher *dispatch.Dispatcher, channel string, log *logger.Logger) *Bridge {
	return &Bridge{
		subscriber: subscriber,
		pool:       pool,
		dispatcher: dispatcher,
		channel:    channel,
		log:        log,
	}
}

// Run blocks consuming the inbound channel until the context ends.
func (b *Bridge) Run(ctx context.Context) error {
	return b.subscriber.Subscribe(ctx, []string{b.channel}, func(channel string, payload []byte) {
		inbound, err := engine.DecodeInbound(payload)
		if err != nil {
			// Malformed frames are acknowledged by doing nothing: the
			// pub/sub bridge has no redelivery, dropping is the ack.
			b.log.WithContext(ctx).Warn("dropping undecodable frame", zap.Error(err))
			return
		}
		scope := inbound.Scope
		decoded := inbound.Decoded
		if err := b.pool.Submit(scope.DiscussionID, func(taskCtx context.Context) {
			result, err := b.dispatcher.Ingest(taskCtx, scope, decoded)
			if err != nil && result.Disposition == concord_errors.DispositionRetry {
				// One immediate retry; ingestion is idempotent per
				// stable reference.
				_, err = b.dispatcher.Ingest(taskCtx, scope, decoded)
			}
			if err != nil {
				b.log.WithContext(taskCtx).Error("event permanently failed",
					zap.String("discussion_id", scope.DiscussionID.String()),
					zap.Error(err))
			}
		}); err != nil {
			b.log.WithContext(ctx).Warn("pool rejected task", zap.Error(err))
		}
	})
}
