package models

import (
	"errors"
	"fmt"
)

// Ошибки доменного ядра. Хранилище и машина состояний возвращают их
// обёрнутыми через fmt.Errorf("%s: %w", ...), сравнение — errors.Is.
var (
	// ErrNotFound — подписка или организация не существует.
	ErrNotFound = errors.New("subscription not found")
	// ErrConflict — конкурентное изменение, версия записи устарела; вызывающий повторяет со свежим состоянием.
	ErrConflict = errors.New("concurrent modification detected")
	// ErrInvariantViolation — попытка создать вторую live-подписку для организации.
	ErrInvariantViolation = errors.New("organization already has an active subscription")
	// ErrValidation — некорректные входные данные (например, отрицательная квота).
	ErrValidation = errors.New("validation failed")
)

// InvalidTransitionError сообщает о запрещённом переходе,
// называя исходный и целевой статусы. Совпадающие статусы означают,
// что отклонён не переход, а изменение подписки в терминальном статусе
// (например, смена тарифа после отмены).
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	if e.From == e.To {
		return fmt.Sprintf("no changes allowed in terminal status %q", e.From)
	}
	return fmt.Sprintf("invalid transition from %q to %q", e.From, e.To)
}

// NewInvalidTransition возвращает ошибку запрещённого перехода from → to.
func NewInvalidTransition(from, to Status) error {
	return &InvalidTransitionError{From: from, To: to}
}
