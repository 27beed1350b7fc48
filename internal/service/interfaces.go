package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pageza/nutrilog/backend/internal/analysis"
	"github.com/pageza/nutrilog/backend/internal/models"
	"github.com/pageza/nutrilog/backend/internal/types"
)

// IUserService resolves chat subscribers to users
type IUserService interface {
	ResolveOrCreate(ctx context.Context, id Identity) (*models.User, bool, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.User, error)
	Purge(ctx context.Context, externalID string) (*PurgeReport, error)
}

// IQuizService defines the onboarding quiz operations
type IQuizService interface {
	Start(ctx context.Context, userID uuid.UUID) (*QuizReply, error)
	Reset(ctx context.Context, userID uuid.UUID) (*QuizReply, error)
	Prompt(ctx context.Context, userID uuid.UUID) (*QuizReply, error)
	Answer(ctx context.Context, userID uuid.UUID, input string, step *int) (*QuizReply, error)
}

// ISubscriptionService defines the subscription lifecycle operations
type ISubscriptionService interface {
	HandlePaymentEvent(ctx context.Context, ev types.PaymentEvent) (*types.PaymentAck, error)
	ActivateTrial(ctx context.Context, userID uuid.UUID) (*models.User, bool, error)
	RefreshAccess(ctx context.Context, user *models.User) (*models.User, error)
	ExpireTrials(ctx context.Context) (int, error)
}

// IDailyStatsService defines the daily aggregation operations
type IDailyStatsService interface {
	Recompute(ctx context.Context, userID uuid.UUID, date string) (*models.DailyStats, error)
	RecomputeAt(ctx context.Context, user *models.User, t time.Time) (*models.DailyStats, error)
	Get(ctx context.Context, userID uuid.UUID, date string) (*models.DailyStats, error)
	History(ctx context.Context, user *models.User, days int) ([]models.DailyStats, error)
	Today(user *models.User) string
}

// IFoodLogService defines the meal logging operations
type IFoodLogService interface {
	Record(ctx context.Context, user *models.User, result *analysis.Result, messageID string) (*LogOutcome, error)
	Entries(ctx context.Context, user *models.User, date string) ([]models.FoodLogEntry, error)
}

// IDispatcher handles inbound webhooks
type IDispatcher interface {
	HandleChat(ctx context.Context, req types.ChatWebhookRequest) (*types.ChatResponse, error)
	RejectChat(ctx context.Context, cause error) (*types.ChatResponse, error)
	HandlePayment(ctx context.Context, req types.PaymentWebhookRequest) (*types.PaymentAck, error)
}

// IAuthService defines the admin authentication operations
type IAuthService interface {
	Login(username, password string) (*types.AdminTokenResponse, error)
	ValidateToken(token string) (*types.AdminClaims, error)
}
