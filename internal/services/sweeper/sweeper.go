// Package sweeper реализует периодический обход просроченных подписок.
// Сам обход не отправляет уведомлений и не трогает платёжный шлюз:
// для каждой завершённой подписки публикуется событие в RabbitMQ,
// доставку выполняют внешние консьюмеры.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/subscription-billing/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-billing/internal/rabbitmq"
)

// Lifecycle определяет операции машины состояний, которые вызывает sweeper.
type Lifecycle interface {
	ExpireOverdue(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

// MagicLinkStore определяет очистку просроченных magic-link токенов.
type MagicLinkStore interface {
	DeleteExpiredMagicLinks(ctx context.Context, now time.Time) (int64, error)
}

// ExpiredEvent — сообщение о завершённой подписке для консьюмеров уведомлений.
type ExpiredEvent struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	ExpiredAt      time.Time `json:"expired_at"`
}

// SweeperService запускает ExpireOverdue по расписанию и публикует результаты.
type SweeperService struct {
	lifecycle  Lifecycle
	magicLinks MagicLinkStore
	log        *slog.Logger
	interval   time.Duration
}

// NewSweeperService создает новый экземпляр SweeperService.
func NewSweeperService(lifecycle Lifecycle, magicLinks MagicLinkStore, log *slog.Logger, interval time.Duration) *SweeperService {
	return &SweeperService{
		lifecycle:  lifecycle,
		magicLinks: magicLinks,
		log:        log,
		interval:   interval,
	}
}

// Run выполняет обход сразу и далее по таймеру до отмены контекста.
func (s *SweeperService) Run(ctx context.Context, channel *amqp.Channel) {
	s.runSweep(ctx, channel)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runSweep(ctx, channel)
		}
	}
}

func (s *SweeperService) runSweep(ctx context.Context, channel *amqp.Channel) {
	s.log.Info("starting sweep for overdue subscriptions")
	now := time.Now().UTC()

	expired, err := s.lifecycle.ExpireOverdue(ctx, now)
	if err != nil {
		s.log.Error("failed to expire overdue subscriptions", sl.Err(err))
		return
	}
	if len(expired) == 0 {
		s.log.Info("no overdue subscriptions found")
	}
	for _, id := range expired {
		event := ExpiredEvent{SubscriptionID: id, ExpiredAt: now}
		if err := rabbitmq.PublishMessage(channel, rabbitmq.BillingExchange, "subscription.expired", event); err != nil {
			s.log.Error("failed to publish expiration event",
				slog.String("subscription_id", id.String()), sl.Err(err))
		}
	}

	purged, err := s.magicLinks.DeleteExpiredMagicLinks(ctx, now)
	if err != nil {
		s.log.Error("failed to purge expired magic links", sl.Err(err))
		return
	}
	if purged > 0 {
		s.log.Info("purged expired magic links", slog.Int64("count", purged))
	}
}
