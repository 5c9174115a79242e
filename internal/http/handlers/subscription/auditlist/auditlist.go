// Package auditlist реализует HTTP-обработчик выборки журнала аудита подписки.
package auditlist

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/magabrotheeeer/subscription-billing/internal/http/response"
	"github.com/magabrotheeeer/subscription-billing/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-billing/internal/models"
)

// Handler управляет HTTP-запросами на чтение журнала аудита.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает интерфейс чтения аудита.
type Service interface {
	List(ctx context.Context, subscriptionID uuid.UUID, filter models.AuditFilter) ([]*models.AuditEntry, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Журнал аудита подписки
// @Description Возвращает записи аудита по возрастанию Timestamp, с необязательными фильтрами event_type, since, until (RFC3339).
// @Tags Audit
// @Produce  json
// @Param id path string true "ID подписки"
// @Param event_type query string false "Тип события"
// @Param since query string false "Нижняя граница Timestamp (RFC3339)"
// @Param until query string false "Верхняя граница Timestamp (RFC3339)"
// @Success 200 {object} map[string]any "Записи аудита"
// @Failure 404 {object} response.ErrorResponse "Подписка не найдена"
// @Failure 422 {object} response.ErrorResponse "Некорректные параметры"
// @Router /subscriptions/{id}/audit [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.auditlist"
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

	filter := models.AuditFilter{EventType: r.URL.Query().Get("event_type")}
	if raw := r.URL.Query().Get("since"); raw != "" {
		filter.Since, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			log.Error("invalid since parameter", sl.Err(err))
			w.WriteHeader(http.StatusUnprocessableEntity)
			render.JSON(w, r, response.Error("invalid since parameter, expected RFC3339"))
			return
		}
	}
	if raw := r.URL.Query().Get("until"); raw != "" {
		filter.Until, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			log.Error("invalid until parameter", sl.Err(err))
			w.WriteHeader(http.StatusUnprocessableEntity)
			render.JSON(w, r, response.Error("invalid until parameter, expected RFC3339"))
			return
		}
	}

	entries, err := h.service.List(r.Context(), id, filter)
	if err != nil {
		log.Error("failed to list audit entries", sl.Err(err))
		status, body := response.Problem(err)
		w.WriteHeader(status)
		render.JSON(w, r, body)
		return
	}

	log.Info("listed audit entries", slog.String("id", id.String()), slog.Int("count", len(entries)))
	render.JSON(w, r, response.OKWithData(entries))
}
