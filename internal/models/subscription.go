// Package models содержит доменные структуры биллинговой подписки,
// а также вспомогательные типы для приёма данных из внешних источников (например, JSON-запросы).
package models

import (
	"time"

	"github.com/google/uuid"
)

// Status перечисляет возможные статусы подписки.
type Status string

// Возможные статусы жизненного цикла подписки.
const (
	StatusTrialing Status = "trialing"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
	StatusExpired  Status = "expired"
)

// Terminal сообщает, является ли статус конечным.
// Из конечного статуса переходы запрещены.
func (s Status) Terminal() bool {
	return s == StatusCanceled || s == StatusExpired
}

// Live сообщает, занимает ли подписка «активный слот» организации.
// Для организации допускается не более одной подписки в live-статусе.
func (s Status) Live() bool {
	return s == StatusTrialing || s == StatusActive
}

// Значения по умолчанию для тарифа и квоты.
// Старые записи, созданные до появления колонок, получают именно их.
const (
	DefaultTier       = "free"
	DefaultUsageQuota = 1000
)

// defaultQuotas задает квоту по умолчанию для известных тарифов.
// Тариф — открытая строка, неизвестные тарифы получают DefaultUsageQuota.
var defaultQuotas = map[string]int{
	"free":       1000,
	"pro":        50000,
	"enterprise": 1000000,
}

// DefaultQuotaForTier возвращает квоту по умолчанию для тарифа.
func DefaultQuotaForTier(tier string) int {
	if q, ok := defaultQuotas[tier]; ok {
		return q
	}
	return DefaultUsageQuota
}

// Subscription представляет собой основную модель подписки,
// используемую в бизнес-логике и хранилище.
// Поле OrganizationID может быть nil только во время предварительного создания.
// Поле Version используется для оптимистического контроля конкурентных изменений.
type Subscription struct {
	ID                uuid.UUID      `json:"id"`
	OrganizationID    *uuid.UUID     `json:"organization_id"`
	Status            Status         `json:"status"`
	Tier              string         `json:"tier"`
	UsageQuota        int            `json:"usage_quota"`
	GracePeriodEnd    *time.Time     `json:"grace_period_end,omitempty"`
	PaymentRetryCount int            `json:"payment_retry_count"`
	LastPaymentError  *string        `json:"last_payment_error,omitempty"`
	Metadata          map[string]any `json:"metadata"`
	Version           int64          `json:"version"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// InGracePeriod сообщает, находится ли подписка в льготном периоде на момент now.
func (s *Subscription) InGracePeriod(now time.Time) bool {
	return s.GracePeriodEnd != nil && now.Before(*s.GracePeriodEnd)
}

// DummyProvisionEntry используется для приёма данных из JSON-запроса
// на создание подписки, прежде чем конвертировать их в Subscription.
type DummyProvisionEntry struct {
	OrganizationID string         `json:"organization_id" validate:"required,uuid"` // Организация-владелец
	Tier           string         `json:"tier"`                                     // Тариф, по умолчанию "free"
	UsageQuota     *int           `json:"usage_quota"`                              // Явная квота (иначе — по тарифу)
	Trial          bool           `json:"trial"`                                    // Начать с trialing вместо active
	Metadata       map[string]any `json:"metadata"`                                 // Произвольные метаданные
}

// DummyPaymentEntry используется для приёма результата платежа из JSON-запроса.
type DummyPaymentEntry struct {
	Result string `json:"result" validate:"required,oneof=succeeded failed"` // Результат платежа
	Error  string `json:"error"`                                             // Диагностика при result=failed
}

// DummyTierEntry используется для приёма запроса на смену тарифа.
type DummyTierEntry struct {
	Tier       string `json:"tier" validate:"required"` // Новый тариф
	UsageQuota *int   `json:"usage_quota"`              // Явная квота вместо квоты тарифа
}
