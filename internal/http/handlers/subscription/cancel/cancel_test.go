package cancel

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/subscription-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/subscription-billing/internal/models"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Cancel(ctx context.Context, actorID *uuid.UUID, id uuid.UUID) (*models.Subscription, error) {
	args := m.Called(ctx, actorID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func newRequest(id string, actor *uuid.UUID) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/subscriptions/"+id+"/cancel", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	if actor != nil {
		ctx = context.WithValue(ctx, middlewarectx.Actor, *actor)
	}
	return req.WithContext(ctx)
}

func TestCancelHandler(t *testing.T) {
	subID := uuid.New()
	actorID := uuid.New()
	canceled := &models.Subscription{ID: subID, Status: models.StatusCanceled}

	tests := []struct {
		name           string
		id             string
		actor          *uuid.UUID
		setupMock      func(service *MockService)
		expectedStatus int
	}{
		{
			name:  "success with actor",
			id:    subID.String(),
			actor: &actorID,
			setupMock: func(service *MockService) {
				service.On("Cancel", mock.Anything, &actorID, subID).Return(canceled, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "repeated cancel is still ok",
			id:   subID.String(),
			setupMock: func(service *MockService) {
				service.On("Cancel", mock.Anything, (*uuid.UUID)(nil), subID).Return(canceled, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "invalid subscription id",
			id:             "not-a-uuid",
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name: "unknown subscription",
			id:   subID.String(),
			setupMock: func(service *MockService) {
				service.On("Cancel", mock.Anything, (*uuid.UUID)(nil), subID).
					Return(nil, models.ErrNotFound)
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name: "expired subscription cannot be canceled",
			id:   subID.String(),
			setupMock: func(service *MockService) {
				service.On("Cancel", mock.Anything, (*uuid.UUID)(nil), subID).
					Return(nil, models.NewInvalidTransition(models.StatusExpired, models.StatusCanceled))
			},
			expectedStatus: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := new(MockService)
			if tt.setupMock != nil {
				tt.setupMock(service)
			}
			handler := New(newNoopLogger(), service)

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, newRequest(tt.id, tt.actor))

			assert.Equal(t, tt.expectedStatus, rr.Code)
			service.AssertExpectations(t)
		})
	}
}
