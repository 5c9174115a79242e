package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/subscription-billing/internal/models"
)

func TestStorage_ListAuditEntries(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	factory := NewTestDataFactory(storage)
	orgID := factory.CreateOrganization(t, "acme")
	userID := factory.CreateUser(t, "admin@acme.test")

	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	sub := NewSubscription(orgID, models.StatusTrialing)
	entry := NewCreatedEntry(sub)
	entry.Timestamp = base
	_, err := storage.CreateSubscription(ctx, sub, entry)
	require.NoError(t, err)

	// Наращиваем историю переходами с возрастающими Timestamp
	transitions := []struct {
		event  string
		status models.Status
		at     time.Time
		actor  *uuid.UUID
	}{
		{models.EventActivated, models.StatusActive, base.Add(time.Hour), &userID},
		{models.EventPaymentFailed, models.StatusPastDue, base.Add(2 * time.Hour), nil},
		{models.EventCanceled, models.StatusCanceled, base.Add(3 * time.Hour), &userID},
	}
	for _, tr := range transitions {
		tr := tr
		_, err := storage.ApplyTransition(ctx, sub.ID, func(s *models.Subscription) (*models.AuditEntry, error) {
			old := string(s.Status)
			s.Status = tr.status
			return &models.AuditEntry{
				UserID:    tr.actor,
				EventType: tr.event,
				OldValue:  map[string]any{"status": old},
				NewValue:  map[string]any{"status": string(tr.status)},
				Timestamp: tr.at,
			}, nil
		})
		require.NoError(t, err)
	}

	t.Run("all entries in timestamp order", func(t *testing.T) {
		entries, err := storage.ListAuditEntries(ctx, sub.ID, models.AuditFilter{})
		require.NoError(t, err)
		require.Len(t, entries, 4)

		var events []string
		for i, e := range entries {
			events = append(events, e.EventType)
			if i > 0 {
				assert.False(t, e.Timestamp.Before(entries[i-1].Timestamp))
			}
		}
		assert.Equal(t, []string{
			models.EventCreated,
			models.EventActivated,
			models.EventPaymentFailed,
			models.EventCanceled,
		}, events)
	})

	t.Run("filter by event type", func(t *testing.T) {
		entries, err := storage.ListAuditEntries(ctx, sub.ID, models.AuditFilter{
			EventType: models.EventPaymentFailed,
		})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, models.EventPaymentFailed, entries[0].EventType)
	})

	t.Run("filter by time range", func(t *testing.T) {
		entries, err := storage.ListAuditEntries(ctx, sub.ID, models.AuditFilter{
			Since: base.Add(time.Hour),
			Until: base.Add(2 * time.Hour),
		})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, models.EventActivated, entries[0].EventType)
		assert.Equal(t, models.EventPaymentFailed, entries[1].EventType)
	})

	t.Run("actor persisted in user_id", func(t *testing.T) {
		entries, err := storage.ListAuditEntries(ctx, sub.ID, models.AuditFilter{
			EventType: models.EventActivated,
		})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.NotNil(t, entries[0].UserID)
		assert.Equal(t, userID, *entries[0].UserID)
	})

	t.Run("snapshots survive jsonb roundtrip", func(t *testing.T) {
		entries, err := storage.ListAuditEntries(ctx, sub.ID, models.AuditFilter{
			EventType: models.EventCanceled,
		})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, map[string]any{"status": "past_due"}, entries[0].OldValue)
		assert.Equal(t, map[string]any{"status": "canceled"}, entries[0].NewValue)
	})

	t.Run("unknown subscription returns empty list", func(t *testing.T) {
		entries, err := storage.ListAuditEntries(ctx, uuid.New(), models.AuditFilter{})
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}
