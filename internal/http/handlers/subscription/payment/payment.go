// Package payment реализует HTTP-обработчик результата платежа.
//
// Успешный платёж переводит подписку в active и сбрасывает счётчик
// повторов; неуспешный — в past_due с началом льготного периода.
// Сами платежи ядро не проводит, обработчик только фиксирует их исход.
package payment

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

// Handler управляет HTTP-запросами с результатами платежей.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// Service описывает интерфейс машины состояний для платёжных событий.
type Service interface {
	RecordPaymentSuccess(ctx context.Context, actorID *uuid.UUID, id uuid.UUID) (*models.Subscription, error)
	RecordPaymentFailure(ctx context.Context, actorID *uuid.UUID, id uuid.UUID, paymentError string) (*models.Subscription, error)
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
// @Summary Зафиксировать результат платежа
// @Description Применяет исход платежа к подписке: succeeded активирует её, failed увеличивает счётчик повторов и назначает льготный период.
// @Tags Subscriptions
// @Accept  json
// @Produce  json
// @Param id path string true "ID подписки"
// @Param request body models.DummyPaymentEntry true "Результат платежа"
// @Success 200 {object} map[string]any "Состояние подписки после перехода"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 404 {object} response.ErrorResponse "Подписка не найдена"
// @Failure 409 {object} response.ErrorResponse "Переход запрещён или конкурентное изменение"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Router /subscriptions/{id}/payment [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.payment"
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

	var req models.DummyPaymentEntry
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

	actorID := middlewarectx.ActorID(r.Context())
	var sub *models.Subscription
	if req.Result == "succeeded" {
		sub, err = h.service.RecordPaymentSuccess(r.Context(), actorID, id)
	} else {
		sub, err = h.service.RecordPaymentFailure(r.Context(), actorID, id, req.Error)
	}
	if err != nil {
		log.Error("failed to record payment result", sl.Err(err))
		status, body := response.Problem(err)
		w.WriteHeader(status)
		render.JSON(w, r, body)
		return
	}

	log.Info("recorded payment result",
		slog.String("id", id.String()),
		slog.String("result", req.Result),
		slog.String("status", string(sub.Status)))
	render.JSON(w, r, response.OKWithData(sub))
}
