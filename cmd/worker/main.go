package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"classattend/internal/config"
	"classattend/internal/logging"
	"classattend/internal/notify"
	"classattend/internal/observability"
)

// Worker drains the notification queue and delivers each message.
// Delivery is a structured log line until a mail channel is configured.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logging.Init(cfg.LogLevel, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	flush, err := observability.InitSentry(observability.SentryConfig{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Env,
		Release:     cfg.Release,
		SampleRate:  cfg.SentrySampleRate,
	})
	if err != nil {
		log.Warn("sentry init failed", zap.Error(err))
	}
	defer flush()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	var q notify.Queue
	if cfg.QueueBackend == "memory" {
		log.Warn("memory queue selected; the worker cannot see messages published by another process")
		q = notify.NewInMemory(64)
	} else {
		rq := notify.NewRedisQueue(notify.NewRedisClient(cfg.RedisAddr), cfg.NotifyQueueKey)
		if !rq.Healthy(ctx) {
			log.Warn("redis not reachable yet; consumer will keep retrying", zap.String("addr", cfg.RedisAddr))
		}
		q = rq
	}

	log.Info("worker started, waiting for messages")
	if err := notify.Drain(ctx, q, notify.LogDelivery(log)); err != nil {
		log.Fatal("queue consume init failed", zap.Error(err))
	}
	log.Info("worker stopped")
}
