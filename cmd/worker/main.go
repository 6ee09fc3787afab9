package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/aleksmarkov/docpulse/internal/config"
	"github.com/aleksmarkov/docpulse/internal/database"
	"github.com/aleksmarkov/docpulse/internal/notify"
	"github.com/aleksmarkov/docpulse/internal/queue"
	"github.com/aleksmarkov/docpulse/internal/repository"
	"github.com/aleksmarkov/docpulse/internal/s3storage"
	"github.com/aleksmarkov/docpulse/internal/worker"
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

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	sink := notify.NewRedisSink(redisClient)

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		Concurrency:    cfg.Concurrency,
		RetryDelayFunc: queue.RetryDelay(cfg.BackoffBase),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Warn(ctx, "task attempt failed", "type", task.Type(), "error", err)
		}),
	})
	processor := worker.NewProcessor(repo, store, sink, cfg)
	mux := processor.Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	if err := server.Run(mux); err != nil {
		logger.Error(ctx, "worker stopped", "error", err)
		os.Exit(1)
	}
}
