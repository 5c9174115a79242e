package lifecycle

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/subscription-billing/internal/models"
)

// fakeRepo воспроизводит транзакционную семантику хранилища в памяти:
// apply на копии, проверка инварианта организации, инкремент версии,
// атомарная запись аудита.
type fakeRepo struct {
	subs    map[uuid.UUID]*models.Subscription
	entries []*models.AuditEntry
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{subs: make(map[uuid.UUID]*models.Subscription)}
}

func cloneSub(sub *models.Subscription) *models.Subscription {
	c := *sub
	if sub.OrganizationID != nil {
		v := *sub.OrganizationID
		c.OrganizationID = &v
	}
	if sub.GracePeriodEnd != nil {
		v := *sub.GracePeriodEnd
		c.GracePeriodEnd = &v
	}
	if sub.LastPaymentError != nil {
		v := *sub.LastPaymentError
		c.LastPaymentError = &v
	}
	c.Metadata = make(map[string]any, len(sub.Metadata))
	for k, v := range sub.Metadata {
		c.Metadata[k] = v
	}
	return &c
}

func (r *fakeRepo) violatesInvariant(sub *models.Subscription) bool {
	if sub.OrganizationID == nil || !sub.Status.Live() {
		return false
	}
	for id, other := range r.subs {
		if id != sub.ID && other.OrganizationID != nil &&
			*other.OrganizationID == *sub.OrganizationID && other.Status.Live() {
			return true
		}
	}
	return false
}

func (r *fakeRepo) GetSubscription(_ context.Context, id uuid.UUID) (*models.Subscription, error) {
	sub, ok := r.subs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneSub(sub), nil
}

func (r *fakeRepo) GetActiveByOrganization(_ context.Context, organizationID uuid.UUID) (*models.Subscription, error) {
	for _, sub := range r.subs {
		if sub.OrganizationID != nil && *sub.OrganizationID == organizationID && sub.Status.Live() {
			return cloneSub(sub), nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *fakeRepo) CreateSubscription(_ context.Context, sub *models.Subscription, entry *models.AuditEntry) (*models.Subscription, error) {
	if r.violatesInvariant(sub) {
		return nil, models.ErrInvariantViolation
	}
	stored := cloneSub(sub)
	stored.Version = 1
	stored.CreatedAt = time.Now().UTC()
	stored.UpdatedAt = stored.CreatedAt
	r.subs[stored.ID] = stored
	e := *entry
	r.entries = append(r.entries, &e)
	return cloneSub(stored), nil
}

func (r *fakeRepo) ApplyTransition(_ context.Context, id uuid.UUID, apply func(sub *models.Subscription) (*models.AuditEntry, error)) (*models.Subscription, error) {
	stored, ok := r.subs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	work := cloneSub(stored)
	entry, err := apply(work)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return cloneSub(stored), nil
	}
	if r.violatesInvariant(work) {
		return nil, models.ErrInvariantViolation
	}
	work.Version++
	work.UpdatedAt = time.Now().UTC()
	r.subs[id] = work
	e := *entry
	e.SubscriptionID = id
	r.entries = append(r.entries, &e)
	return cloneSub(work), nil
}

func (r *fakeRepo) RemoveSubscription(_ context.Context, id uuid.UUID) error {
	if _, ok := r.subs[id]; !ok {
		return models.ErrNotFound
	}
	delete(r.subs, id)
	return nil
}

func (r *fakeRepo) FindOverdueSubscriptions(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var result []uuid.UUID
	for id, sub := range r.subs {
		if len(result) >= limit {
			break
		}
		if sub.Status == models.StatusPastDue && sub.GracePeriodEnd != nil && !sub.GracePeriodEnd.After(now) {
			result = append(result, id)
		}
	}
	return result, nil
}

func (r *fakeRepo) entriesFor(id uuid.UUID) []*models.AuditEntry {
	var result []*models.AuditEntry
	for _, e := range r.entries {
		if e.SubscriptionID == id {
			result = append(result, e)
		}
	}
	return result
}

type noopCache struct{}

func (noopCache) Get(context.Context, string, any) (bool, error)        { return false, nil }
func (noopCache) Set(context.Context, string, any, time.Duration) error { return nil }
func (noopCache) Invalidate(context.Context, string) error              { return nil }

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func newTestService(repo *fakeRepo) *LifecycleService {
	return NewLifecycleService(repo, noopCache{}, newNoopLogger(), 72*time.Hour, 100)
}

func provisionTrial(t *testing.T, svc *LifecycleService, orgID uuid.UUID) *models.Subscription {
	t.Helper()
	sub, err := svc.Provision(context.Background(), nil, models.DummyProvisionEntry{
		OrganizationID: orgID.String(),
		Trial:          true,
	})
	require.NoError(t, err)
	return sub
}

func TestLifecycle_FullScenario(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	svc := newTestService(repo)
	orgID := uuid.New()

	sub := provisionTrial(t, svc, orgID)
	assert.Equal(t, models.StatusTrialing, sub.Status)
	assert.Equal(t, "free", sub.Tier)
	assert.Equal(t, 1000, sub.UsageQuota)

	// Первый успешный платеж активирует подписку
	sub, err := svc.RecordPaymentSuccess(ctx, nil, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, sub.Status)
	assert.Equal(t, 0, sub.PaymentRetryCount)
	assert.Nil(t, sub.GracePeriodEnd)

	// Первый сбой платежа: past_due, счётчик 1, назначен льготный период
	sub, err = svc.RecordPaymentFailure(ctx, nil, sub.ID, "card declined")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPastDue, sub.Status)
	assert.Equal(t, 1, sub.PaymentRetryCount)
	require.NotNil(t, sub.GracePeriodEnd)
	require.NotNil(t, sub.LastPaymentError)
	assert.Equal(t, "card declined", *sub.LastPaymentError)
	firstGraceEnd := *sub.GracePeriodEnd

	// Повторный сбой до конца льготного периода: счётчик 2, период не продлевается
	sub, err = svc.RecordPaymentFailure(ctx, nil, sub.ID, "card declined again")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPastDue, sub.Status)
	assert.Equal(t, 2, sub.PaymentRetryCount)
	require.NotNil(t, sub.GracePeriodEnd)
	assert.True(t, sub.GracePeriodEnd.Equal(firstGraceEnd))

	// До конца льготного периода sweep ничего не завершает
	expired, err := svc.ExpireOverdue(ctx, firstGraceEnd.Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, expired)

	// Ровно на границе (now >= T) подписка завершается
	expired, err = svc.ExpireOverdue(ctx, firstGraceEnd)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{sub.ID}, expired)

	got, err := svc.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCanceled, got.Status)

	// Повторный запуск sweep идемпотентен
	expired, err = svc.ExpireOverdue(ctx, firstGraceEnd.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, expired)

	var events []string
	for _, e := range repo.entriesFor(sub.ID) {
		events = append(events, e.EventType)
	}
	assert.Equal(t, []string{
		models.EventCreated,
		models.EventActivated,
		models.EventPaymentFailed,
		models.EventPaymentFailed,
		models.EventExpired,
	}, events)
}

func TestLifecycle_AuditSnapshotsCoverMutatedFieldsOnly(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	svc := newTestService(repo)

	sub := provisionTrial(t, svc, uuid.New())
	_, err := svc.RecordPaymentSuccess(ctx, nil, sub.ID)
	require.NoError(t, err)

	entries := repo.entriesFor(sub.ID)
	require.Len(t, entries, 2)
	activated := entries[1]
	assert.Equal(t, models.EventActivated, activated.EventType)
	assert.Equal(t, map[string]any{"status": "trialing"}, activated.OldValue)
	assert.Equal(t, map[string]any{"status": "active"}, activated.NewValue)
}

func TestLifecycle_CancelIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	svc := newTestService(repo)

	sub := provisionTrial(t, svc, uuid.New())

	canceled, err := svc.Cancel(ctx, nil, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCanceled, canceled.Status)
	entriesAfterFirst := len(repo.entriesFor(sub.ID))

	// Повторная отмена возвращает то же состояние и не пишет аудит
	again, err := svc.Cancel(ctx, nil, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCanceled, again.Status)
	assert.Equal(t, canceled.Version, again.Version)
	assert.Len(t, repo.entriesFor(sub.ID), entriesAfterFirst)
}

func TestLifecycle_InvalidTransitions(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	svc := newTestService(repo)

	sub := provisionTrial(t, svc, uuid.New())
	_, err := svc.Cancel(ctx, nil, sub.ID)
	require.NoError(t, err)
	auditCount := len(repo.entriesFor(sub.ID))

	var invalid *models.InvalidTransitionError

	_, err = svc.RecordPaymentSuccess(ctx, nil, sub.ID)
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, models.StatusCanceled, invalid.From)
	assert.Equal(t, models.StatusActive, invalid.To)

	_, err = svc.RecordPaymentFailure(ctx, nil, sub.ID, "card declined")
	require.ErrorAs(t, err, &invalid)

	_, err = svc.ChangeTier(ctx, nil, sub.ID, models.DummyTierEntry{Tier: "pro"})
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, err.Error(), "terminal")

	// Отклонённые попытки не оставляют следов в аудите
	assert.Len(t, repo.entriesFor(sub.ID), auditCount)
}

func TestLifecycle_SecondLiveSubscriptionRejected(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	svc := newTestService(repo)
	orgID := uuid.New()

	first := provisionTrial(t, svc, orgID)

	_, err := svc.Provision(ctx, nil, models.DummyProvisionEntry{
		OrganizationID: orgID.String(),
	})
	require.ErrorIs(t, err, models.ErrInvariantViolation)

	// Аудит отклонённой попытки не пишется
	assert.Len(t, repo.entries, 1)

	// После отмены первой подписки слот освобождается
	_, err = svc.Cancel(ctx, nil, first.ID)
	require.NoError(t, err)
	second, err := svc.Provision(ctx, nil, models.DummyProvisionEntry{
		OrganizationID: orgID.String(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, second.Status)
}

func TestLifecycle_CanceledCannotBeReactivated(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	svc := newTestService(repo)
	orgID := uuid.New()

	first := provisionTrial(t, svc, orgID)
	_, err := svc.Cancel(ctx, nil, first.ID)
	require.NoError(t, err)

	second := provisionTrial(t, svc, orgID)
	assert.Equal(t, models.StatusTrialing, second.Status)

	// Отмена терминальна: платёж по отменённой подписке её не оживляет
	var invalid *models.InvalidTransitionError
	_, err = svc.RecordPaymentSuccess(ctx, nil, first.ID)
	require.ErrorAs(t, err, &invalid)
}

func TestLifecycle_ChangeTier(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	svc := newTestService(repo)

	sub := provisionTrial(t, svc, uuid.New())

	// Квота пересчитывается по умолчанию нового тарифа
	sub, err := svc.ChangeTier(ctx, nil, sub.ID, models.DummyTierEntry{Tier: "pro"})
	require.NoError(t, err)
	assert.Equal(t, "pro", sub.Tier)
	assert.Equal(t, 50000, sub.UsageQuota)

	// Явная квота перекрывает дефолт
	override := 123
	sub, err = svc.ChangeTier(ctx, nil, sub.ID, models.DummyTierEntry{Tier: "pro", UsageQuota: &override})
	require.NoError(t, err)
	assert.Equal(t, 123, sub.UsageQuota)

	// Отрицательная квота отклоняется
	negative := -1
	_, err = svc.ChangeTier(ctx, nil, sub.ID, models.DummyTierEntry{Tier: "pro", UsageQuota: &negative})
	require.ErrorIs(t, err, models.ErrValidation)

	// Смена на тот же тариф с той же квотой — no-op без аудита
	auditCount := len(repo.entriesFor(sub.ID))
	versionBefore := sub.Version
	sub, err = svc.ChangeTier(ctx, nil, sub.ID, models.DummyTierEntry{Tier: "pro", UsageQuota: &override})
	require.NoError(t, err)
	assert.Equal(t, versionBefore, sub.Version)
	assert.Len(t, repo.entriesFor(sub.ID), auditCount)
}

func TestLifecycle_ProvisionValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newFakeRepo())

	tests := []struct {
		name string
		req  models.DummyProvisionEntry
	}{
		{
			name: "invalid organization id",
			req:  models.DummyProvisionEntry{OrganizationID: "not-a-uuid"},
		},
		{
			name: "negative usage quota",
			req: func() models.DummyProvisionEntry {
				q := -5
				return models.DummyProvisionEntry{OrganizationID: uuid.NewString(), UsageQuota: &q}
			}(),
		},
		{
			name: "reserved metadata key",
			req: models.DummyProvisionEntry{
				OrganizationID: uuid.NewString(),
				Metadata:       map[string]any{"tier": "enterprise"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Provision(ctx, nil, tt.req)
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}
}

func TestLifecycle_PaymentSuccessClearsFailureState(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	svc := newTestService(repo)

	sub := provisionTrial(t, svc, uuid.New())
	_, err := svc.RecordPaymentSuccess(ctx, nil, sub.ID)
	require.NoError(t, err)
	_, err = svc.RecordPaymentFailure(ctx, nil, sub.ID, "insufficient funds")
	require.NoError(t, err)

	sub, err = svc.RecordPaymentSuccess(ctx, nil, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, sub.Status)
	assert.Equal(t, 0, sub.PaymentRetryCount)
	assert.Nil(t, sub.GracePeriodEnd)
	assert.Nil(t, sub.LastPaymentError)
}

func TestLifecycle_NotFound(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newFakeRepo())
	unknown := uuid.New()

	_, err := svc.Get(ctx, unknown)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = svc.RecordPaymentSuccess(ctx, nil, unknown)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = svc.Cancel(ctx, nil, unknown)
	assert.ErrorIs(t, err, models.ErrNotFound)

	err = svc.Remove(ctx, unknown)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
