package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/subscription-billing/internal/models"
)

// appendAuditEntryTx вставляет запись аудита внутри транзакции перехода.
// Записи неизменяемы: никакие методы пакета их не обновляют и не удаляют,
// исключение — каскадное удаление вместе с подпиской.
func appendAuditEntryTx(ctx context.Context, tx *sql.Tx, entry *models.AuditEntry) (uuid.UUID, error) {
	oldValue, err := json.Marshal(entry.OldValue)
	if err != nil {
		return uuid.Nil, err
	}
	newValue, err := json.Marshal(entry.NewValue)
	if err != nil {
		return uuid.Nil, err
	}

	query := `INSERT INTO subscription_audit_logs
			      (id, subscription_id, user_id, event_type, old_value, new_value, timestamp)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)
			  RETURNING id`
	id := entry.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	var newID uuid.UUID
	if err := tx.QueryRowContext(ctx, query,
		id, entry.SubscriptionID, entry.UserID, entry.EventType,
		oldValue, newValue, entry.Timestamp).Scan(&newID); err != nil {
		return uuid.Nil, err
	}
	return newID, nil
}

// ListAuditEntries возвращает записи аудита подписки, отсортированные
// по Timestamp по возрастанию, с необязательными фильтрами по типу
// события и границам интервала.
func (s *Storage) ListAuditEntries(ctx context.Context, subscriptionID uuid.UUID, filter models.AuditFilter) ([]*models.AuditEntry, error) {
	const op = "storage.ListAuditEntries"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, subscription_id, user_id, event_type, old_value, new_value,
			      timestamp, created_at, updated_at
			  FROM subscription_audit_logs
			  WHERE subscription_id = $1`
	args := []any{subscriptionID}

	if filter.EventType != "" {
		args = append(args, filter.EventType)
		query += ` AND event_type = $` + strconv.Itoa(len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		query += ` AND timestamp >= $` + strconv.Itoa(len(args))
	}
	if !filter.Until.IsZero() {
		args = append(args, filter.Until)
		query += ` AND timestamp <= $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY timestamp ASC`

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.AuditEntry
	for rows.Next() {
		var item models.AuditEntry
		var userID sql.Null[uuid.UUID]
		var oldValue, newValue []byte
		if err := rows.Scan(&item.ID, &item.SubscriptionID, &userID, &item.EventType,
			&oldValue, &newValue, &item.Timestamp, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if userID.Valid {
			item.UserID = &userID.V
		}
		if err := json.Unmarshal(oldValue, &item.OldValue); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if err := json.Unmarshal(newValue, &item.NewValue); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
