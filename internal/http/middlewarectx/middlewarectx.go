// Package middlewarectx содержит middleware, наполняющие контекст запроса,
// и ограничитель частоты запросов.
package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/subscription-billing/internal/http/response"
	"github.com/magabrotheeeer/subscription-billing/internal/lib/sl"
)

type ctxKey string

// Actor — ключ контекста с ID пользователя, выполняющего команду.
// Значение попадает в поле user_id записей аудита.
const Actor ctxKey = "actor"

// ActorMiddleware извлекает необязательный заголовок X-Actor-Id
// и кладёт его в контекст запроса. Некорректный ID — ошибка запроса,
// отсутствие заголовка — анонимная команда.
func ActorMiddleware(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("X-Actor-Id")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			actorID, err := uuid.Parse(header)
			if err != nil {
				log.Error("invalid actor id header", sl.Err(err))
				w.WriteHeader(http.StatusBadRequest)
				render.JSON(w, r, response.Error("invalid X-Actor-Id header"))
				return
			}

			ctx := context.WithValue(r.Context(), Actor, actorID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorID возвращает ID действующего пользователя из контекста, если он есть.
func ActorID(ctx context.Context) *uuid.UUID {
	if id, ok := ctx.Value(Actor).(uuid.UUID); ok {
		return &id
	}
	return nil
}

// RateLimitMiddleware ограничивает частоту запросов к сервису.
func RateLimitMiddleware(log *slog.Logger, limit rate.Limit, burst int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(limit, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				log.Error("too many requests")
				w.WriteHeader(http.StatusTooManyRequests)
				render.JSON(w, r, response.Error("too many requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
