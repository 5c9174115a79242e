// Package subscriptionbilling предоставляет маршруты для основного приложения.
package subscriptionbilling

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/subscription-billing/internal/http/handlers/subscription/active"
	"github.com/magabrotheeeer/subscription-billing/internal/http/handlers/subscription/auditlist"
	"github.com/magabrotheeeer/subscription-billing/internal/http/handlers/subscription/cancel"
	"github.com/magabrotheeeer/subscription-billing/internal/http/handlers/subscription/changetier"
	"github.com/magabrotheeeer/subscription-billing/internal/http/handlers/subscription/health"
	"github.com/magabrotheeeer/subscription-billing/internal/http/handlers/subscription/payment"
	"github.com/magabrotheeeer/subscription-billing/internal/http/handlers/subscription/provision"
	"github.com/magabrotheeeer/subscription-billing/internal/http/handlers/subscription/read"
	"github.com/magabrotheeeer/subscription-billing/internal/http/handlers/subscription/remove"
	"github.com/magabrotheeeer/subscription-billing/internal/http/middlewarectx"
	auditservice "github.com/magabrotheeeer/subscription-billing/internal/services/audit"
	lifecycleservice "github.com/magabrotheeeer/subscription-billing/internal/services/lifecycle"
	"github.com/magabrotheeeer/subscription-billing/internal/storage/repository"
)

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, storage *repository.Storage,
	lifecycleService *lifecycleservice.LifecycleService, auditService *auditservice.AuditService) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middlewarectx.ActorMiddleware(logger))
		r.Use(middlewarectx.RateLimitMiddleware(logger, rate.Limit(50), 100))

		r.Post("/subscriptions", provision.New(logger, lifecycleService).ServeHTTP)
		r.Get("/subscriptions/{id}", read.New(logger, lifecycleService).ServeHTTP)
		r.Delete("/subscriptions/{id}", remove.New(logger, lifecycleService).ServeHTTP)
		r.Post("/subscriptions/{id}/payment", payment.New(logger, lifecycleService).ServeHTTP)
		r.Post("/subscriptions/{id}/cancel", cancel.New(logger, lifecycleService).ServeHTTP)
		r.Post("/subscriptions/{id}/tier", changetier.New(logger, lifecycleService).ServeHTTP)
		r.Get("/subscriptions/{id}/audit", auditlist.New(logger, auditService).ServeHTTP)
		r.Get("/organizations/{orgID}/subscription", active.New(logger, lifecycleService).ServeHTTP)
	})

	r.Get("/health", health.New(logger, storage).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
