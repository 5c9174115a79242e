// Package repository реализует хранилище данных на основе PostgreSQL
// для управления биллинговыми подписками, журналом аудита и magic-link токенами.
// Все переходы состояния выполняются в одной транзакции:
// блокировка строки, проверка инварианта организации, запись и аудит.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/magabrotheeeer/subscription-billing/internal/models"
)

// Имя частичного уникального индекса, обеспечивающего инвариант
// «не более одной live-подписки на организацию» на уровне базы.
const uniqueActiveConstraint = "uq_one_active_subscription"

// Имя внешнего ключа подписки на организацию.
const organizationFKConstraint = "subscriptions_organization_id_fkey"

// Storage инкапсулирует соединение с базой данных PostgreSQL
// и реализует методы работы с подписками, аудитом и magic-link токенами.
type Storage struct {
	DB *sql.DB
}

// New создаёт подключение к PostgreSQL и проверяет его доступность.
func New(storageConnectionString string) (*Storage, error) {
	const op = "storage.New"

	db, err := sql.Open("pgx", storageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{
		DB: db,
	}, nil
}

// CheckDatabaseReady проверяет готовность базы данных.
func CheckDatabaseReady(storage *Storage) error {
	var exists bool
	err := storage.DB.QueryRow(`SELECT EXISTS (
        SELECT FROM information_schema.tables
        WHERE table_name = 'subscriptions'
    )`).Scan(&exists)
	if err != nil || !exists {
		return fmt.Errorf("required table subscriptions missing or query error: %w", err)
	}
	return nil
}

// transact выполняет fn внутри транзакции.
// При ошибке транзакция откатывается целиком: частичных записей,
// в том числе записей аудита, снаружи не видно.
func (s *Storage) transact(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// mapPgError переводит ошибки ограничений PostgreSQL в доменные:
// нарушение уникального индекса организации — в ErrInvariantViolation,
// нарушение внешнего ключа на организацию — в ErrNotFound
// (подписку завели на несуществующую организацию).
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == uniqueActiveConstraint:
		return models.ErrInvariantViolation
	case pgErr.Code == pgerrcode.ForeignKeyViolation && pgErr.ConstraintName == organizationFKConstraint:
		return models.ErrNotFound
	}
	return err
}
