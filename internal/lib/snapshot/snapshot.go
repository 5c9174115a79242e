// Package snapshot формирует снимки полей подписки для записей аудита.
// Снимок — это map[string]any, пригодный для сериализации в JSONB:
// временные поля кодируются строками RFC3339, отсутствующие значения — nil.
package snapshot

import (
	"time"

	"github.com/magabrotheeeer/subscription-billing/internal/models"
)

// Имена полей, доступных для снимка.
const (
	FieldStatus            = "status"
	FieldTier              = "tier"
	FieldUsageQuota        = "usage_quota"
	FieldGracePeriodEnd    = "grace_period_end"
	FieldPaymentRetryCount = "payment_retry_count"
	FieldLastPaymentError  = "last_payment_error"
)

// Of возвращает снимок перечисленных полей подписки.
// Неизвестные имена полей молча пропускаются.
func Of(sub *models.Subscription, fields ...string) map[string]any {
	snap := make(map[string]any, len(fields))
	for _, f := range fields {
		switch f {
		case FieldStatus:
			snap[f] = string(sub.Status)
		case FieldTier:
			snap[f] = sub.Tier
		case FieldUsageQuota:
			snap[f] = sub.UsageQuota
		case FieldGracePeriodEnd:
			snap[f] = timeValue(sub.GracePeriodEnd)
		case FieldPaymentRetryCount:
			snap[f] = sub.PaymentRetryCount
		case FieldLastPaymentError:
			snap[f] = stringValue(sub.LastPaymentError)
		}
	}
	return snap
}

// Trim удаляет из пары снимков ключи, значения которых не изменились,
// оставляя в аудите только затронутые переходом поля.
func Trim(oldValue, newValue map[string]any) (map[string]any, map[string]any) {
	trimmedOld := make(map[string]any, len(oldValue))
	trimmedNew := make(map[string]any, len(newValue))
	for k, ov := range oldValue {
		nv, ok := newValue[k]
		if ok && ov == nv {
			continue
		}
		trimmedOld[k] = ov
		if ok {
			trimmedNew[k] = nv
		}
	}
	for k, nv := range newValue {
		if _, ok := oldValue[k]; !ok {
			trimmedNew[k] = nv
		}
	}
	return trimmedOld, trimmedNew
}

func timeValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func stringValue(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
