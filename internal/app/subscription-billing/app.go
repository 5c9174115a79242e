// Package subscriptionbilling собирает HTTP-сервис управления подписками:
// хранилище, миграции, кеш, машину состояний и маршруты.
package subscriptionbilling

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"

	"github.com/magabrotheeeer/subscription-billing/internal/cache"
	"github.com/magabrotheeeer/subscription-billing/internal/config"
	"github.com/magabrotheeeer/subscription-billing/internal/migrations"
	auditservice "github.com/magabrotheeeer/subscription-billing/internal/services/audit"
	lifecycleservice "github.com/magabrotheeeer/subscription-billing/internal/services/lifecycle"
	"github.com/magabrotheeeer/subscription-billing/internal/storage/repository"
)

type App struct {
	server  *http.Server
	logger  *slog.Logger
	storage *repository.Storage
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	storage, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(storage.DB, cfg.MigrationsPath); err != nil {
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, err
	}

	lifecycleService := lifecycleservice.NewLifecycleService(
		storage, cacheRedis, logger, cfg.GracePeriod, cfg.SweepBatchSize)
	auditService := auditservice.NewAuditService(storage, logger)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, storage, lifecycleService, auditService)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server:  srv,
		logger:  logger,
		storage: storage,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		_ = a.storage.DB.Close()
		return err
	}
}
