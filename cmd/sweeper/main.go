package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/magabrotheeeer/subscription-billing/internal/cache"
	"github.com/magabrotheeeer/subscription-billing/internal/config"
	"github.com/magabrotheeeer/subscription-billing/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-billing/internal/rabbitmq"
	lifecycleservice "github.com/magabrotheeeer/subscription-billing/internal/services/lifecycle"
	sweeperservice "github.com/magabrotheeeer/subscription-billing/internal/services/sweeper"
	"github.com/magabrotheeeer/subscription-billing/internal/storage/repository"
)

func waitForDB(storage *repository.Storage) error {
	for range 10 {
		err := repository.CheckDatabaseReady(storage)
		if err == nil {
			return nil
		}
		time.Sleep(3 * time.Second)
	}
	return fmt.Errorf("database not ready after retries")
}

func main() {
	cfg := config.MustLoad()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	logger.Info("starting sweeper", slog.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", sl.Err(err))
		os.Exit(1)
	}
	defer func() {
		_ = conn.Close()
	}()

	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetBillingQueues())
	if err != nil {
		logger.Error("failed to setup RabbitMQ channel", sl.Err(err))
		os.Exit(1)
	}
	defer func() {
		_ = ch.Close()
	}()

	storage, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		logger.Error("failed to connect to storage", sl.Err(err))
		os.Exit(1)
	}
	defer func() {
		_ = storage.DB.Close()
	}()
	if err := waitForDB(storage); err != nil {
		logger.Error("database is not ready", sl.Err(err))
		os.Exit(1)
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		logger.Error("failed to connect to redis", sl.Err(err))
		os.Exit(1)
	}

	lifecycleService := lifecycleservice.NewLifecycleService(
		storage, cacheRedis, logger, cfg.GracePeriod, cfg.SweepBatchSize)
	sweeper := sweeperservice.NewSweeperService(lifecycleService, storage, logger, cfg.SweepInterval)

	sweeper.Run(ctx, ch)
	logger.Info("sweeper stopped gracefully")
}
