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

// CreateMagicLink сохраняет хеш одноразового токена входа и возвращает его ID.
func (s *Storage) CreateMagicLink(ctx context.Context, link *models.MagicLink) (uuid.UUID, error) {
	const op = "storage.CreateMagicLink"
	select {
	case <-ctx.Done():
		return uuid.Nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	attribution, err := json.Marshal(link.SignupAttribution)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}
	id := link.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	query := `INSERT INTO magic_links (id, token_hash, expires_at, user_email, user_id, source, signup_attribution)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)
			  RETURNING id`
	var newID uuid.UUID
	if err := s.DB.QueryRowContext(ctx, query,
		id, link.TokenHash, link.ExpiresAt, link.UserEmail, link.UserID, link.Source, attribution).Scan(&newID); err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}
	return newID, nil
}

// ConsumeMagicLink одноразово изымает действующий токен по его хешу.
// Просроченный или несуществующий токен возвращает ErrNotFound.
func (s *Storage) ConsumeMagicLink(ctx context.Context, tokenHash string, now time.Time) (*models.MagicLink, error) {
	const op = "storage.ConsumeMagicLink"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `DELETE FROM magic_links
			  WHERE token_hash = $1 AND expires_at > $2
			  RETURNING id, token_hash, expires_at, user_email, user_id, source, signup_attribution,
			      created_at, updated_at`
	var link models.MagicLink
	var userID sql.Null[uuid.UUID]
	var source sql.NullString
	var attribution []byte
	err := s.DB.QueryRowContext(ctx, query, tokenHash, now).Scan(
		&link.ID, &link.TokenHash, &link.ExpiresAt, &link.UserEmail, &userID, &source,
		&attribution, &link.CreatedAt, &link.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if userID.Valid {
		link.UserID = &userID.V
	}
	if source.Valid {
		v := source.String
		link.Source = &v
	}
	if err := json.Unmarshal(attribution, &link.SignupAttribution); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &link, nil
}

// DeleteExpiredMagicLinks удаляет просроченные токены и возвращает их количество.
func (s *Storage) DeleteExpiredMagicLinks(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.DeleteExpiredMagicLinks"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	result, err := s.DB.ExecContext(ctx, `DELETE FROM magic_links WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected, nil
}
