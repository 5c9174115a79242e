// Package audit предоставляет чтение журнала аудита подписок.
// Recorder — «глупый» надёжный журнал: записи создаются только внутри
// транзакций переходов и никогда не интерпретируются здесь.
package audit

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/subscription-billing/internal/models"
)

// Repository определяет методы хранилища для чтения аудита.
type Repository interface {
	// GetSubscription возвращает подписку по ID.
	GetSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	// ListAuditEntries возвращает записи аудита подписки по фильтру.
	ListAuditEntries(ctx context.Context, subscriptionID uuid.UUID, filter models.AuditFilter) ([]*models.AuditEntry, error)
}

// AuditService реализует выборку записей аудита.
type AuditService struct {
	repo Repository
	log  *slog.Logger
}

// NewAuditService создает новый экземпляр AuditService.
func NewAuditService(repo Repository, log *slog.Logger) *AuditService {
	return &AuditService{
		repo: repo,
		log:  log,
	}
}

// List возвращает записи аудита подписки по возрастанию Timestamp.
// Для неизвестной подписки возвращается ErrNotFound, а не пустой список.
func (s *AuditService) List(ctx context.Context, subscriptionID uuid.UUID, filter models.AuditFilter) ([]*models.AuditEntry, error) {
	if _, err := s.repo.GetSubscription(ctx, subscriptionID); err != nil {
		return nil, err
	}

	entries, err := s.repo.ListAuditEntries(ctx, subscriptionID, filter)
	if err != nil {
		return nil, err
	}

	s.log.Info("listed audit entries",
		slog.String("subscription_id", subscriptionID.String()),
		slog.Int("count", len(entries)))
	return entries, nil
}
