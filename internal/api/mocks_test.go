package api

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/pageza/nutrilog/backend/internal/models"
	"github.com/pageza/nutrilog/backend/internal/service"
	"github.com/pageza/nutrilog/backend/internal/types"
)

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) HandleChat(ctx context.Context, req types.ChatWebhookRequest) (*types.ChatResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*types.ChatResponse)
	return resp, args.Error(1)
}

func (m *MockDispatcher) RejectChat(ctx context.Context, cause error) (*types.ChatResponse, error) {
	args := m.Called(ctx, cause)
	resp, _ := args.Get(0).(*types.ChatResponse)
	return resp, args.Error(1)
}

func (m *MockDispatcher) HandlePayment(ctx context.Context, req types.PaymentWebhookRequest) (*types.PaymentAck, error) {
	args := m.Called(ctx, req)
	ack, _ := args.Get(0).(*types.PaymentAck)
	return ack, args.Error(1)
}

type MockAuthService struct {
	mock.Mock
}

func (m *MockAuthService) Login(username, password string) (*types.AdminTokenResponse, error) {
	args := m.Called(username, password)
	resp, _ := args.Get(0).(*types.AdminTokenResponse)
	return resp, args.Error(1)
}

func (m *MockAuthService) ValidateToken(token string) (*types.AdminClaims, error) {
	args := m.Called(token)
	claims, _ := args.Get(0).(*types.AdminClaims)
	return claims, args.Error(1)
}

type MockUserService struct {
	mock.Mock
}

func (m *MockUserService) ResolveOrCreate(ctx context.Context, id service.Identity) (*models.User, bool, error) {
	args := m.Called(ctx, id)
	user, _ := args.Get(0).(*models.User)
	return user, args.Bool(1), args.Error(2)
}

func (m *MockUserService) GetByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	args := m.Called(ctx, externalID)
	user, _ := args.Get(0).(*models.User)
	return user, args.Error(1)
}

func (m *MockUserService) Purge(ctx context.Context, externalID string) (*service.PurgeReport, error) {
	args := m.Called(ctx, externalID)
	report, _ := args.Get(0).(*service.PurgeReport)
	return report, args.Error(1)
}

type MockStatsService struct {
	mock.Mock
}

func (m *MockStatsService) Recompute(ctx context.Context, userID uuid.UUID, date string) (*models.DailyStats, error) {
	args := m.Called(ctx, userID, date)
	stats, _ := args.Get(0).(*models.DailyStats)
	return stats, args.Error(1)
}

func (m *MockStatsService) RecomputeAt(ctx context.Context, user *models.User, t time.Time) (*models.DailyStats, error) {
	args := m.Called(ctx, user, t)
	stats, _ := args.Get(0).(*models.DailyStats)
	return stats, args.Error(1)
}

func (m *MockStatsService) Get(ctx context.Context, userID uuid.UUID, date string) (*models.DailyStats, error) {
	args := m.Called(ctx, userID, date)
	stats, _ := args.Get(0).(*models.DailyStats)
	return stats, args.Error(1)
}

func (m *MockStatsService) History(ctx context.Context, user *models.User, days int) ([]models.DailyStats, error) {
	args := m.Called(ctx, user, days)
	rows, _ := args.Get(0).([]models.DailyStats)
	return rows, args.Error(1)
}

func (m *MockStatsService) Today(user *models.User) string {
	return m.Called(user).String(0)
}
