// Package provision реализует HTTP-обработчик создания подписки организации.
//
// Handler принимает JSON-запрос с параметрами подписки, валидирует их,
// извлекает действующего пользователя из контекста и вызывает машину
// состояний. Попытка завести вторую live-подписку организации
// возвращает конфликт без записи аудита.
package provision

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"
	"github.com/google/uuid"

	"github.com/magabrotheeeer/subscription-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/subscription-billing/internal/http/response"
	"github.com/magabrotheeeer/subscription-billing/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-billing/internal/models"
)

// Handler управляет HTTP-запросами на создание подписок.
type Handler struct {
	log      *slog.Logger        // Логгер для записи информации и ошибок
	service  Service             // Машина состояний жизненного цикла
	validate *validator.Validate // Валидатор структуры входящих данных
}

// Service описывает интерфейс машины состояний для создания подписки.
type Service interface {
	Provision(ctx context.Context, actorID *uuid.UUID, req models.DummyProvisionEntry) (*models.Subscription, error)
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
// @Summary Создать подписку организации
// @Description Создает подписку в статусе active (или trialing при trial=true). Возвращает созданную запись.
// @Tags Subscriptions
// @Accept  json
// @Produce  json
// @Param request body models.DummyProvisionEntry true "Параметры новой подписки"
// @Success 200 {object} map[string]any "Успешное создание подписки"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 409 {object} response.ErrorResponse "У организации уже есть live-подписка"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /subscriptions [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.provision"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req models.DummyProvisionEntry
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	log.Info("request body decoded", slog.Any("request", req))

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	sub, err := h.service.Provision(r.Context(), middlewarectx.ActorID(r.Context()), req)
	if err != nil {
		log.Error("failed to provision subscription", sl.Err(err))
		status, body := response.Problem(err)
		w.WriteHeader(status)
		render.JSON(w, r, body)
		return
	}

	log.Info("provisioned subscription", slog.String("id", sub.ID.String()))
	render.JSON(w, r, response.OKWithData(sub))
}
