package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/subscription-billing/internal/models"
)

const subscriptionColumns = `id, organization_id, status, tier, usage_quota, grace_period_end,
	payment_retry_count, last_payment_error, metadata, version, created_at, updated_at`

// TransitionFunc применяет переход к загруженной подписке.
// Функция изменяет sub на месте и возвращает запись аудита перехода.
// Возврат nil-записи означает no-op: состояние не меняется, аудит не пишется.
type TransitionFunc = func(sub *models.Subscription) (*models.AuditEntry, error)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var sub models.Subscription
	var orgID sql.Null[uuid.UUID]
	var graceEnd sql.NullTime
	var lastErr sql.NullString
	var metadata []byte

	if err := row.Scan(&sub.ID, &orgID, &sub.Status, &sub.Tier, &sub.UsageQuota, &graceEnd,
		&sub.PaymentRetryCount, &lastErr, &metadata, &sub.Version, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, err
	}
	if orgID.Valid {
		sub.OrganizationID = &orgID.V
	}
	if graceEnd.Valid {
		t := graceEnd.Time
		sub.GracePeriodEnd = &t
	}
	if lastErr.Valid {
		v := lastErr.String
		sub.LastPaymentError = &v
	}
	if err := json.Unmarshal(metadata, &sub.Metadata); err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetSubscription возвращает подписку по её ID.
func (s *Storage) GetSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	const op = "storage.GetSubscription"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + subscriptionColumns + `
			  FROM subscriptions WHERE id = $1`
	sub, err := scanSubscription(s.DB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// GetActiveByOrganization возвращает live-подписку организации (trialing или active).
// Уникальный индекс гарантирует, что такая подписка не более одной.
func (s *Storage) GetActiveByOrganization(ctx context.Context, organizationID uuid.UUID) (*models.Subscription, error) {
	const op = "storage.GetActiveByOrganization"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + subscriptionColumns + `
			  FROM subscriptions
			  WHERE organization_id = $1
			    AND status IN ('trialing', 'active')`
	sub, err := scanSubscription(s.DB.QueryRowContext(ctx, query, organizationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// CreateSubscription вставляет новую подписку и запись аудита о её создании
// в одной транзакции. Если подписка создаётся в live-статусе, live-строки
// организации блокируются и проверяются; гонка двух одновременных созданий,
// которую блокировка не сериализует (строк ещё нет), перехватывается
// уникальным индексом на коммите.
func (s *Storage) CreateSubscription(ctx context.Context, sub *models.Subscription, entry *models.AuditEntry) (*models.Subscription, error) {
	const op = "storage.CreateSubscription"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	metadata, err := json.Marshal(sub.Metadata)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var created *models.Subscription
	err = s.transact(ctx, func(tx *sql.Tx) error {
		if sub.OrganizationID != nil && sub.Status.Live() {
			if err := lockOrganizationLive(ctx, tx, *sub.OrganizationID, sub.ID); err != nil {
				return err
			}
		}

		query := `INSERT INTO subscriptions (id, organization_id, status, tier, usage_quota,
				      grace_period_end, payment_retry_count, last_payment_error, metadata)
				  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				  RETURNING ` + subscriptionColumns
		created, err = scanSubscription(tx.QueryRowContext(ctx, query,
			sub.ID, sub.OrganizationID, sub.Status, sub.Tier, sub.UsageQuota,
			sub.GracePeriodEnd, sub.PaymentRetryCount, sub.LastPaymentError, metadata))
		if err != nil {
			return mapPgError(err)
		}

		_, err = appendAuditEntryTx(ctx, tx, entry)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return created, nil
}

// ApplyTransition выполняет один переход состояния атомарно:
// строка подписки блокируется (FOR UPDATE), apply валидирует и изменяет её,
// для перехода в live-статус сериализуются и проверяются live-строки
// организации, затем запись обновляется с проверкой версии и пишется аудит.
// Любая ошибка откатывает весь переход.
func (s *Storage) ApplyTransition(ctx context.Context, id uuid.UUID, apply TransitionFunc) (*models.Subscription, error) {
	const op = "storage.ApplyTransition"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var result *models.Subscription
	err := s.transact(ctx, func(tx *sql.Tx) error {
		query := `SELECT ` + subscriptionColumns + `
				  FROM subscriptions WHERE id = $1 FOR UPDATE`
		sub, err := scanSubscription(tx.QueryRowContext(ctx, query, id))
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrNotFound
		}
		if err != nil {
			return err
		}

		wasLive := sub.Status.Live()
		expectedVersion := sub.Version

		entry, err := apply(sub)
		if err != nil {
			return err
		}
		if entry == nil {
			// Идемпотентный no-op: состояние и аудит не трогаем.
			result = sub
			return nil
		}

		if !wasLive && sub.Status.Live() && sub.OrganizationID != nil {
			if err := lockOrganizationLive(ctx, tx, *sub.OrganizationID, sub.ID); err != nil {
				return err
			}
		}

		result, err = updateSubscriptionTx(ctx, tx, sub, expectedVersion)
		if err != nil {
			return err
		}

		entry.SubscriptionID = sub.ID
		_, err = appendAuditEntryTx(ctx, tx, entry)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// lockOrganizationLive блокирует live-строки организации и возвращает
// ErrInvariantViolation, если среди них есть чужая подписка.
// Блокировка сериализует конкурирующие активации для одной организации.
func lockOrganizationLive(ctx context.Context, tx *sql.Tx, organizationID, selfID uuid.UUID) error {
	query := `SELECT id FROM subscriptions
			  WHERE organization_id = $1
			    AND status IN ('trialing', 'active')
			    AND id <> $2
			  FOR UPDATE`
	rows, err := tx.QueryContext(ctx, query, organizationID, selfID)
	if err != nil {
		return err
	}
	defer func() {
		_ = rows.Close()
	}()

	if rows.Next() {
		return models.ErrInvariantViolation
	}
	return rows.Err()
}

// updateSubscriptionTx обновляет изменяемые поля подписки с проверкой версии.
// Несовпадение версии означает потерянное обновление и возвращает ErrConflict.
func updateSubscriptionTx(ctx context.Context, tx *sql.Tx, sub *models.Subscription, expectedVersion int64) (*models.Subscription, error) {
	metadata, err := json.Marshal(sub.Metadata)
	if err != nil {
		return nil, err
	}

	query := `UPDATE subscriptions
			  SET status = $1, tier = $2, usage_quota = $3, grace_period_end = $4,
			      payment_retry_count = $5, last_payment_error = $6, metadata = $7,
			      version = version + 1, updated_at = now()
			  WHERE id = $8 AND version = $9
			  RETURNING ` + subscriptionColumns
	updated, err := scanSubscription(tx.QueryRowContext(ctx, query,
		sub.Status, sub.Tier, sub.UsageQuota, sub.GracePeriodEnd,
		sub.PaymentRetryCount, sub.LastPaymentError, metadata,
		sub.ID, expectedVersion))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrConflict
	}
	if err != nil {
		return nil, mapPgError(err)
	}
	return updated, nil
}

// RemoveSubscription удаляет подписку по ID; записи аудита удаляются каскадно.
// Терминальное административное действие.
func (s *Storage) RemoveSubscription(ctx context.Context, id uuid.UUID) error {
	const op = "storage.RemoveSubscription"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	result, err := s.DB.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	return nil
}

// FindOverdueSubscriptions возвращает ID подписок в статусе past_due,
// льготный период которых истёк на момент now. Используется sweeper'ом;
// каждый найденный ID затем проходит обычный переход через ApplyTransition,
// поэтому дубли и уже обработанные подписки безопасно пропускаются.
func (s *Storage) FindOverdueSubscriptions(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	const op = "storage.FindOverdueSubscriptions"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id FROM subscriptions
			  WHERE status = 'past_due'
			    AND grace_period_end IS NOT NULL
			    AND grace_period_end <= $1
			  ORDER BY grace_period_end
			  LIMIT $2`
	rows, err := s.DB.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
