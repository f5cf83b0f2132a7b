package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"messgate/internal/config"
	"messgate/internal/logger"
	"messgate/internal/queue"
	"messgate/internal/store"
	"messgate/internal/tally"
)

// Worker consumes meal.logged events and maintains the live tallies.
func main() {
	cfg := config.Load()
	log := logger.SetupDefault(os.Stdout, cfg.LogLevel)

	if cfg.QueueBackend != "redis" {
		log.Error("worker needs QUEUE_BACKEND=redis; the memory backend is served in-process by the api")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Warn("redis not reachable yet, consumer will keep retrying", slog.String("addr", cfg.RedisAddr))
	}

	q := queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	messages, err := q.Consume(ctx)
	if err != nil {
		log.Error("queue consume init failed", slog.Any("error", err))
		os.Exit(1)
	}

	w := tally.NewWorker(tally.NewStore(redisClient.Client), nil, log)

	log.Info("worker started, waiting for messages", slog.String("queue", queue.DefaultKey))
	applied := w.Run(ctx, messages)
	log.Info("worker stopped", slog.Int("applied", applied))
}
