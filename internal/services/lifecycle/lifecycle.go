// Package lifecycle содержит машину состояний биллинговой подписки.
// Это единственный писатель хранилища подписок: все переходы идут через
// ApplyTransition репозитория и атомарно сопровождаются записью аудита.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/magabrotheeeer/subscription-billing/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-billing/internal/lib/snapshot"
	"github.com/magabrotheeeer/subscription-billing/internal/models"
)

var transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "subscription_transitions_total",
	Help: "Количество успешных переходов подписок по типам событий.",
}, []string{"event_type"})

// Repository определяет методы хранилища, нужные машине состояний.
type Repository interface {
	// GetSubscription возвращает подписку по ID.
	GetSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	// GetActiveByOrganization возвращает live-подписку организации.
	GetActiveByOrganization(ctx context.Context, organizationID uuid.UUID) (*models.Subscription, error)
	// CreateSubscription атомарно вставляет подписку и запись аудита о создании.
	CreateSubscription(ctx context.Context, sub *models.Subscription, entry *models.AuditEntry) (*models.Subscription, error)
	// ApplyTransition выполняет переход атомарно: блокировка, apply, запись, аудит.
	ApplyTransition(ctx context.Context, id uuid.UUID, apply func(sub *models.Subscription) (*models.AuditEntry, error)) (*models.Subscription, error)
	// RemoveSubscription жёстко удаляет подписку вместе с аудитом.
	RemoveSubscription(ctx context.Context, id uuid.UUID) error
	// FindOverdueSubscriptions возвращает ID просроченных past_due подписок.
	FindOverdueSubscriptions(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

// Cache описывает методы для кэширования данных.
type Cache interface {
	// Get пытается получить значение из кеша по ключу.
	Get(ctx context.Context, key string, result any) (bool, error)
	// Set сохраняет значение в кеш с временем жизни.
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	// Invalidate удаляет значение из кеша по ключу.
	Invalidate(ctx context.Context, key string) error
}

// Ключи метаданных, зарезервированные за типизированными полями.
// Через свободную карту метаданных их менять нельзя.
var reservedMetadataKeys = []string{"status", "tier", "usage_quota"}

const cacheTTL = 5 * time.Minute

// LifecycleService реализует правила переходов подписки между статусами,
// эскалацию платёжных сбоев и льготный период.
type LifecycleService struct {
	repo           Repository
	cache          Cache
	log            *slog.Logger
	gracePeriod    time.Duration
	sweepBatchSize int
}

// NewLifecycleService создает новый экземпляр LifecycleService.
func NewLifecycleService(repo Repository, cache Cache, log *slog.Logger, gracePeriod time.Duration, sweepBatchSize int) *LifecycleService {
	return &LifecycleService{
		repo:           repo,
		cache:          cache,
		log:            log,
		gracePeriod:    gracePeriod,
		sweepBatchSize: sweepBatchSize,
	}
}

func cacheKey(id uuid.UUID) string {
	return fmt.Sprintf("subscription:%s", id)
}

// refreshCache обновляет кеш после успешного перехода.
// Ошибки кеша не отменяют уже зафиксированный переход.
func (s *LifecycleService) refreshCache(ctx context.Context, sub *models.Subscription) {
	key := cacheKey(sub.ID)
	if err := s.cache.Set(ctx, key, sub, cacheTTL); err != nil {
		s.log.Warn("failed to cache subscription", slog.String("key", key), sl.Err(err))
	}
}

func validateMetadata(metadata map[string]any) error {
	for _, key := range reservedMetadataKeys {
		if _, ok := metadata[key]; ok {
			return fmt.Errorf("metadata key %q is reserved: %w", key, models.ErrValidation)
		}
	}
	return nil
}

// Provision создает подписку организации в статусе active (или trialing)
// и возвращает её. Для организации с существующей live-подпиской
// возвращается ErrInvariantViolation, аудит отклонённой попытки не пишется.
func (s *LifecycleService) Provision(ctx context.Context, actorID *uuid.UUID, req models.DummyProvisionEntry) (*models.Subscription, error) {
	organizationID, err := uuid.Parse(req.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("invalid organization id: %w", models.ErrValidation)
	}

	tier := req.Tier
	if tier == "" {
		tier = models.DefaultTier
	}
	quota := models.DefaultQuotaForTier(tier)
	if req.UsageQuota != nil {
		if *req.UsageQuota < 0 {
			return nil, fmt.Errorf("usage quota must be non-negative: %w", models.ErrValidation)
		}
		quota = *req.UsageQuota
	}

	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	if err := validateMetadata(metadata); err != nil {
		return nil, err
	}

	status := models.StatusActive
	if req.Trial {
		status = models.StatusTrialing
	}

	sub := &models.Subscription{
		ID:             uuid.New(),
		OrganizationID: &organizationID,
		Status:         status,
		Tier:           tier,
		UsageQuota:     quota,
		Metadata:       metadata,
	}

	entry := &models.AuditEntry{
		SubscriptionID: sub.ID,
		UserID:         actorID,
		EventType:      models.EventCreated,
		OldValue:       map[string]any{},
		NewValue: snapshot.Of(sub,
			snapshot.FieldStatus, snapshot.FieldTier, snapshot.FieldUsageQuota),
		Timestamp: time.Now().UTC(),
	}

	created, err := s.repo.CreateSubscription(ctx, sub, entry)
	if err != nil {
		return nil, err
	}

	s.log.Info("provisioned subscription",
		slog.String("id", created.ID.String()),
		slog.String("organization_id", organizationID.String()),
		slog.String("status", string(created.Status)))
	transitionsTotal.WithLabelValues(models.EventCreated).Inc()
	s.refreshCache(ctx, created)

	return created, nil
}

// RecordPaymentSuccess переводит подписку в active по успешному платежу:
// trialing активируется впервые (событие activated), past_due возвращается
// из льготного периода, active продлевается. Счётчик повторов и льготный
// период сбрасываются.
func (s *LifecycleService) RecordPaymentSuccess(ctx context.Context, actorID *uuid.UUID, id uuid.UUID) (*models.Subscription, error) {
	now := time.Now().UTC()
	var eventType string

	sub, err := s.repo.ApplyTransition(ctx, id, func(sub *models.Subscription) (*models.AuditEntry, error) {
		switch sub.Status {
		case models.StatusTrialing, models.StatusActive, models.StatusPastDue:
		default:
			return nil, models.NewInvalidTransition(sub.Status, models.StatusActive)
		}

		eventType = models.EventPaymentSucceeded
		if sub.Status == models.StatusTrialing {
			eventType = models.EventActivated
		}

		before := snapshot.Of(sub, snapshot.FieldStatus, snapshot.FieldPaymentRetryCount,
			snapshot.FieldGracePeriodEnd, snapshot.FieldLastPaymentError)

		sub.Status = models.StatusActive
		sub.PaymentRetryCount = 0
		sub.GracePeriodEnd = nil
		sub.LastPaymentError = nil

		after := snapshot.Of(sub, snapshot.FieldStatus, snapshot.FieldPaymentRetryCount,
			snapshot.FieldGracePeriodEnd, snapshot.FieldLastPaymentError)
		oldValue, newValue := snapshot.Trim(before, after)

		return &models.AuditEntry{
			UserID:    actorID,
			EventType: eventType,
			OldValue:  oldValue,
			NewValue:  newValue,
			Timestamp: now,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("recorded successful payment", slog.String("id", id.String()), slog.String("event", eventType))
	transitionsTotal.WithLabelValues(eventType).Inc()
	s.refreshCache(ctx, sub)
	return sub, nil
}

// RecordPaymentFailure фиксирует неуспешный платёж: подписка уходит
// в past_due, счётчик повторов растёт, сохраняется диагностика платежа.
// Льготный период назначается при входе в past_due и повторными
// сбоями не продлевается.
func (s *LifecycleService) RecordPaymentFailure(ctx context.Context, actorID *uuid.UUID, id uuid.UUID, paymentError string) (*models.Subscription, error) {
	now := time.Now().UTC()

	sub, err := s.repo.ApplyTransition(ctx, id, func(sub *models.Subscription) (*models.AuditEntry, error) {
		switch sub.Status {
		case models.StatusActive, models.StatusPastDue:
		default:
			return nil, models.NewInvalidTransition(sub.Status, models.StatusPastDue)
		}

		before := snapshot.Of(sub, snapshot.FieldStatus, snapshot.FieldPaymentRetryCount,
			snapshot.FieldGracePeriodEnd, snapshot.FieldLastPaymentError)

		if sub.Status == models.StatusActive {
			graceEnd := now.Add(s.gracePeriod)
			sub.GracePeriodEnd = &graceEnd
		}
		sub.Status = models.StatusPastDue
		sub.PaymentRetryCount++
		sub.LastPaymentError = &paymentError

		after := snapshot.Of(sub, snapshot.FieldStatus, snapshot.FieldPaymentRetryCount,
			snapshot.FieldGracePeriodEnd, snapshot.FieldLastPaymentError)
		oldValue, newValue := snapshot.Trim(before, after)

		return &models.AuditEntry{
			UserID:    actorID,
			EventType: models.EventPaymentFailed,
			OldValue:  oldValue,
			NewValue:  newValue,
			Timestamp: now,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("recorded failed payment",
		slog.String("id", id.String()),
		slog.Int("retry_count", sub.PaymentRetryCount))
	transitionsTotal.WithLabelValues(models.EventPaymentFailed).Inc()
	s.refreshCache(ctx, sub)
	return sub, nil
}

// Cancel переводит подписку в canceled из любого нетерминального статуса.
// Повторная отмена — идемпотентный no-op: возвращается текущее состояние,
// запись аудита не добавляется.
func (s *LifecycleService) Cancel(ctx context.Context, actorID *uuid.UUID, id uuid.UUID) (*models.Subscription, error) {
	now := time.Now().UTC()
	var canceled bool

	sub, err := s.repo.ApplyTransition(ctx, id, func(sub *models.Subscription) (*models.AuditEntry, error) {
		if sub.Status == models.StatusCanceled {
			return nil, nil
		}
		if sub.Status.Terminal() {
			return nil, models.NewInvalidTransition(sub.Status, models.StatusCanceled)
		}

		before := snapshot.Of(sub, snapshot.FieldStatus, snapshot.FieldGracePeriodEnd)
		sub.Status = models.StatusCanceled
		sub.GracePeriodEnd = nil
		after := snapshot.Of(sub, snapshot.FieldStatus, snapshot.FieldGracePeriodEnd)
		oldValue, newValue := snapshot.Trim(before, after)

		canceled = true
		return &models.AuditEntry{
			UserID:    actorID,
			EventType: models.EventCanceled,
			OldValue:  oldValue,
			NewValue:  newValue,
			Timestamp: now,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	if canceled {
		s.log.Info("canceled subscription", slog.String("id", id.String()))
		transitionsTotal.WithLabelValues(models.EventCanceled).Inc()
		s.refreshCache(ctx, sub)
	}
	return sub, nil
}

// ChangeTier меняет тариф подписки независимо от статуса (кроме терминальных).
// Квота пересчитывается по умолчанию нового тарифа, если вызывающий
// не передал явное значение.
func (s *LifecycleService) ChangeTier(ctx context.Context, actorID *uuid.UUID, id uuid.UUID, req models.DummyTierEntry) (*models.Subscription, error) {
	now := time.Now().UTC()

	quota := models.DefaultQuotaForTier(req.Tier)
	if req.UsageQuota != nil {
		if *req.UsageQuota < 0 {
			return nil, fmt.Errorf("usage quota must be non-negative: %w", models.ErrValidation)
		}
		quota = *req.UsageQuota
	}

	var changed bool
	sub, err := s.repo.ApplyTransition(ctx, id, func(sub *models.Subscription) (*models.AuditEntry, error) {
		if sub.Status.Terminal() {
			return nil, models.NewInvalidTransition(sub.Status, sub.Status)
		}
		if sub.Tier == req.Tier && sub.UsageQuota == quota {
			return nil, nil
		}

		before := snapshot.Of(sub, snapshot.FieldTier, snapshot.FieldUsageQuota)
		sub.Tier = req.Tier
		sub.UsageQuota = quota
		after := snapshot.Of(sub, snapshot.FieldTier, snapshot.FieldUsageQuota)
		oldValue, newValue := snapshot.Trim(before, after)

		changed = true
		return &models.AuditEntry{
			UserID:    actorID,
			EventType: models.EventTierChanged,
			OldValue:  oldValue,
			NewValue:  newValue,
			Timestamp: now,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.log.Info("changed subscription tier",
			slog.String("id", id.String()),
			slog.String("tier", sub.Tier),
			slog.Int("usage_quota", sub.UsageQuota))
		transitionsTotal.WithLabelValues(models.EventTierChanged).Inc()
		s.refreshCache(ctx, sub)
	}
	return sub, nil
}

// ExpireOverdue завершает подписки, льготный период которых истёк
// на момент now, и возвращает их ID. Операция идемпотентна и рассчитана
// на периодический повторный запуск внешним планировщиком: уже
// отменённые и ещё не просроченные подписки пропускаются.
func (s *LifecycleService) ExpireOverdue(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	candidates, err := s.repo.FindOverdueSubscriptions(ctx, now, s.sweepBatchSize)
	if err != nil {
		return nil, err
	}

	var expired []uuid.UUID
	for _, id := range candidates {
		var did bool
		sub, err := s.repo.ApplyTransition(ctx, id, func(sub *models.Subscription) (*models.AuditEntry, error) {
			if sub.Status != models.StatusPastDue {
				return nil, nil
			}
			if sub.GracePeriodEnd == nil || now.Before(*sub.GracePeriodEnd) {
				return nil, nil
			}

			before := snapshot.Of(sub, snapshot.FieldStatus)
			sub.Status = models.StatusCanceled
			after := snapshot.Of(sub, snapshot.FieldStatus)

			did = true
			return &models.AuditEntry{
				EventType: models.EventExpired,
				OldValue:  before,
				NewValue:  after,
				Timestamp: now,
			}, nil
		})
		if err != nil {
			s.log.Error("failed to expire subscription", slog.String("id", id.String()), sl.Err(err))
			continue
		}
		if did {
			expired = append(expired, id)
			transitionsTotal.WithLabelValues(models.EventExpired).Inc()
			s.refreshCache(ctx, sub)
		}
	}

	if len(expired) > 0 {
		s.log.Info("expired overdue subscriptions", slog.Int("count", len(expired)))
	}
	return expired, nil
}

// Get возвращает подписку по ID, используя кеш или репозиторий.
func (s *LifecycleService) Get(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var result *models.Subscription
	key := cacheKey(id)
	found, err := s.cache.Get(ctx, key, &result)
	if err != nil {
		s.log.Warn("failed to read from cache", slog.String("key", key), sl.Err(err))
	}
	if found {
		return result, nil
	}

	result, err = s.repo.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	s.refreshCache(ctx, result)
	return result, nil
}

// GetActive возвращает live-подписку организации. Чтение всегда идёт
// в хранилище: оно должно наблюдать последнюю зафиксированную запись.
func (s *LifecycleService) GetActive(ctx context.Context, organizationID uuid.UUID) (*models.Subscription, error) {
	return s.repo.GetActiveByOrganization(ctx, organizationID)
}

// Remove жёстко удаляет подписку вместе с её аудитом.
// Терминальное административное действие.
func (s *LifecycleService) Remove(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.RemoveSubscription(ctx, id); err != nil {
		return err
	}
	key := cacheKey(id)
	if err := s.cache.Invalidate(ctx, key); err != nil {
		s.log.Warn("failed to remove from cache", slog.String("key", key), sl.Err(err))
	}
	s.log.Info("removed subscription", slog.String("id", id.String()))
	return nil
}
