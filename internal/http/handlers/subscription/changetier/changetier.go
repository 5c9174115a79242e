// Package changetier реализует HTTP-обработчик смены тарифа подписки.
// Смена тарифа ортогональна статусу и разрешена в любом нетерминальном
// статусе; квота пересчитывается по умолчанию нового тарифа, если не
// передана явно.
package changetier

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"
	"github.com/google/uuid"

	"github.com/magabrotheeeer/subscription-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/subscription-billing/internal/http/response"
	"github.com/magabrotheeeer/subscription-billing/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-billing/internal/models"
)

// Handler управляет HTTP-запросами на смену тарифа.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// Service описывает интерфейс машины состояний для смены тарифа.
type Service interface {
	ChangeTier(ctx context.Context, actorID *uuid.UUID, id uuid.UUID, req models.DummyTierEntry) (*models.Subscription, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Сменить тариф подписки
// @Description Меняет тариф и пересчитывает квоту. Допустимо в любом нетерминальном статусе.
// @Tags Subscriptions
// @Accept  json
// @Produce  json
// @Param id path string true "ID подписки"
// @Param request body models.DummyTierEntry true "Новый тариф"
// @Success 200 {object} map[string]any "Состояние подписки после смены тарифа"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 404 {object} response.ErrorResponse "Подписка не найдена"
// @Failure 409 {object} response.ErrorResponse "Терминальный статус"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Router /subscriptions/{id}/tier [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.changetier"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		log.Error("invalid subscription id", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.Error("invalid subscription id"))
		return
	}

	var req models.DummyTierEntry
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	sub, err := h.service.ChangeTier(r.Context(), middlewarectx.ActorID(r.Context()), id, req)
	if err != nil {
		log.Error("failed to change tier", sl.Err(err))
		status, body := response.Problem(err)
		w.WriteHeader(status)
		render.JSON(w, r, body)
		return
	}

	log.Info("changed tier", slog.String("id", id.String()), slog.String("tier", sub.Tier))
	render.JSON(w, r, response.OKWithData(sub))
}
