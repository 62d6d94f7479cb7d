package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"concord-core/internal/bridge"
	"concord-core/internal/config"
	"concord-core/internal/dispatch"
	"concord-core/internal/events"
	"concord-core/internal/outbox"
	"concord-core/internal/repository"
	"concord-core/pkg/database"
	"concord-core/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger := logger.New(cfg.App.Environment)
	defer appLogger.Logger.Sync()

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	if err := repository.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate schema: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	store := repository.NewStore(db)
	dispatcher := dispatch.NewDispatcher(store, appLogger)
	pool := dispatch.NewPool(appLogger, cfg.Pool.Workers, cfg.Pool.QueueSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publisher := events.NewRedisPublisher(redisClient)
	processor := outbox.NewProcessor(
		store.Outbox,
		publisher,
		cfg.Redis.EffectsChannel,
		appLogger,
		cfg.Outbox.BatchSize,
		time.Duration(cfg.Outbox.IntervalSeconds)*time.Second,
		cfg.Outbox.MaxRetries,
	)
	outbox.NewRunner(processor).Start(ctx)

	subscriber := events.NewRedisSubscriber(redisClient)
	engineBridge := bridge.NewBridge(subscriber, pool, dispatcher, cfg.Redis.InboundChannel, appLogger)
	go func() {
		if err := engineBridge.Run(ctx); err != nil && ctx.Err() == nil {
			appLogger.Errorf("engine bridge stopped: %v", err)
		}
	}()

	appLogger.Infof("reconciliation core started, inbound=%s effects=%s", cfg.Redis.InboundChannel, cfg.Redis.EffectsChannel)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	appLogger.Infof("shutting down")
	cancel()
	pool.Stop()
}
