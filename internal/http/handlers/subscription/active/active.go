// Package active реализует HTTP-обработчик чтения live-подписки организации.
package active

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/magabrotheeeer/subscription-billing/internal/http/response"
	"github.com/magabrotheeeer/subscription-billing/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-billing/internal/models"
)

// Handler управляет HTTP-запросами на чтение live-подписки организации.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает интерфейс чтения live-подписки.
type Service interface {
	GetActive(ctx context.Context, organizationID uuid.UUID) (*models.Subscription, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Получить live-подписку организации
// @Description Возвращает подписку организации в статусе trialing или active; такая подписка не более одной.
// @Tags Subscriptions
// @Produce  json
// @Param orgID path string true "ID организации"
// @Success 200 {object} map[string]any "Live-подписка организации"
// @Failure 404 {object} response.ErrorResponse "Live-подписки нет"
// @Failure 422 {object} response.ErrorResponse "Некорректный ID организации"
// @Router /organizations/{orgID}/subscription [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.active"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	organizationID, err := uuid.Parse(chi.URLParam(r, "orgID"))
	if err != nil {
		log.Error("invalid organization id", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.Error("invalid organization id"))
		return
	}

	sub, err := h.service.GetActive(r.Context(), organizationID)
	if err != nil {
		log.Error("failed to read active subscription", sl.Err(err))
		status, body := response.Problem(err)
		w.WriteHeader(status)
		render.JSON(w, r, body)
		return
	}

	render.JSON(w, r, response.OKWithData(sub))
}
