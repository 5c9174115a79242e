package models

import (
	"time"

	"github.com/google/uuid"
)

// Типы событий аудита. Recorder их не интерпретирует,
// семантика принадлежит машине состояний.
const (
	EventCreated          = "created"
	EventActivated        = "activated"
	EventPaymentSucceeded = "payment_succeeded"
	EventPaymentFailed    = "payment_failed"
	EventTierChanged      = "tier_changed"
	EventCanceled         = "canceled"
	EventExpired          = "expired"
)

// AuditEntry представляет неизменяемую запись одного перехода подписки.
// OldValue и NewValue содержат снимки только изменённых полей.
// Timestamp — момент события; он может предшествовать CreatedAt записи,
// если событие воспроизводится задним числом.
type AuditEntry struct {
	ID             uuid.UUID      `json:"id"`
	SubscriptionID uuid.UUID      `json:"subscription_id"`
	UserID         *uuid.UUID     `json:"user_id,omitempty"`
	EventType      string         `json:"event_type"`
	OldValue       map[string]any `json:"old_value"`
	NewValue       map[string]any `json:"new_value"`
	Timestamp      time.Time      `json:"timestamp"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// AuditFilter описывает фильтры выборки записей аудита.
// Нулевые значения означают отсутствие фильтра.
type AuditFilter struct {
	EventType string
	Since     time.Time
	Until     time.Time
}
