package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/aleksmarkov/docpulse/internal/api"
	"github.com/aleksmarkov/docpulse/internal/config"
	"github.com/aleksmarkov/docpulse/internal/database"
	"github.com/aleksmarkov/docpulse/internal/ingest"
	"github.com/aleksmarkov/docpulse/internal/notify"
	"github.com/aleksmarkov/docpulse/internal/queue"
	"github.com/aleksmarkov/docpulse/internal/repository"
	"github.com/aleksmarkov/docpulse/internal/s3storage"
	"github.com/aleksmarkov/docpulse/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger.Init(&logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}
	repo := repository.NewFileRepository(pool)

	store, err := s3storage.New(cfg)
	if err != nil {
		log.Fatalf("init storage: %v", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		log.Fatalf("ensure bucket: %v", err)
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer asynqClient.Close()
	jobs := queue.NewClient(asynqClient, cfg.MaxJobAttempts, cfg.JobTimeout)

	ingestSvc := ingest.New(repo, store, jobs, cfg.MaxFileSize)

	hub := notify.NewHub()
	defer hub.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	go func() {
		if err := notify.Relay(ctx, redisClient, hub); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error(ctx, "notification relay stopped", "error", err)
		}
	}()

	srv := api.New(cfg, repo, store, ingestSvc, hub)
	if err := srv.Run(ctx); err != nil {
		logger.Error(ctx, "server stopped", "error", err)
		os.Exit(1)
	}
}
