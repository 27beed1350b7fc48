package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/pageza/nutrilog/backend/internal/analysis"
	"github.com/pageza/nutrilog/backend/internal/api"
	"github.com/pageza/nutrilog/backend/internal/cache"
	"github.com/pageza/nutrilog/backend/internal/i18n"
	"github.com/pageza/nutrilog/backend/internal/metrics"
	"github.com/pageza/nutrilog/backend/internal/middleware"
	"github.com/pageza/nutrilog/backend/internal/service"
	"github.com/pageza/nutrilog/backend/internal/testhelpers"
	"github.com/pageza/nutrilog/backend/internal/types"
)

const (
	webhookToken = "chat-secret"
	jwtSecret    = "0123456789abcdef0123456789abcdef"
)

type sqlPinger struct{ db *gorm.DB }

func (p sqlPinger) HealthCheck(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func newTestRouter(t *testing.T) (*gin.Engine, *metrics.Counters) {
	t.Helper()
	return newLimitedTestRouter(t, 100)
}

func newLimitedTestRouter(t *testing.T, adminLimit int) (*gin.Engine, *metrics.Counters) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testhelpers.SetupSQLite(t)
	logger := zap.NewNop()
	messages := i18n.MustNewManager("en")
	memCache := cache.NewMemory(time.Hour, 100)
	counters := metrics.NewCounters()

	users := service.NewUserService(db, logger)
	stats := service.NewDailyStatsService(db, "UTC", logger)
	subscriptions := service.NewSubscriptionService(db, new(testhelpers.MockSubscriptionLookup), service.DefaultTrialDays*24*time.Hour, logger)
	dispatcher := service.NewDispatcher(service.DispatcherDeps{
		Users:         users,
		Quiz:          service.NewQuizService(db, messages, service.DefaultTrialDays*24*time.Hour, logger),
		Analyzer:      analysis.NewPipeline(analysis.Config{Cache: memCache}, logger),
		FoodLog:       service.NewFoodLogService(db, stats, logger),
		Stats:         stats,
		Subscriptions: subscriptions,
		Messages:      messages,
		Recorder:      counters,
	}, service.DispatcherConfig{PaymentLink: "https://pay.example"}, logger)

	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)
	auth := service.NewAuthService("ops", string(hash), jwtSecret, time.Hour)

	r := SetupRouter(Options{
		Webhooks:     api.NewWebhookHandler(dispatcher, logger),
		Admin:        api.NewAdminHandler(auth, users, stats, logger),
		Health:       api.NewHealthHandler(sqlPinger{db}, memCache, counters),
		Tokens:       auth,
		RateLimiter:  middleware.NewAdminRateLimiter(middleware.NewMemoryCounter(nil), adminLimit, logger),
		WebhookToken: webhookToken,
		CORSOrigins:  []string{"*"},
		Logger:       logger,
	})
	return r, counters
}

func do(r http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestChatWebhookRequiresToken(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodPost, "/webhooks/chat", `{"subscriber_id":1,"text":"hi"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestChatWebhookEndToEnd(t *testing.T) {
	r, counters := newTestRouter(t)
	auth := map[string]string{middleware.WebhookTokenHeader: webhookToken}

	w := do(r, http.MethodPost, "/webhooks/chat", `{"subscriber_id":1001,"first_name":"Ana","language":"en","text":"hi"}`, auth)
	require.Equal(t, http.StatusOK, w.Code)

	var resp types.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Content.Messages, 2)
	assert.Contains(t, resp.Content.Messages[0].Text, "Ana")

	w = do(r, http.MethodPost, "/webhooks/chat", `{"first_name":"Ana","text":"hi"}`, auth)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Content.Messages)

	snap := counters.Snapshot()
	assert.EqualValues(t, 2, snap.Received)
	assert.EqualValues(t, 1, snap.Failed)
}

func TestPaymentWebhookIgnoresUnknownEvents(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodPost, "/webhooks/payments", `{"id":77,"type":"payment","data":{"id":"123"}}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ignored","event_id":"77"}`, w.Body.String())
}

func TestAdminAPIFlow(t *testing.T) {
	r, _ := newTestRouter(t)

	do(r, http.MethodPost, "/webhooks/chat", `{"subscriber_id":"s-1","language":"en","text":"hi"}`,
		map[string]string{middleware.WebhookTokenHeader: webhookToken})

	w := do(r, http.MethodGet, "/api/v1/users/s-1/daily", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/api/v1/admin/token", `{"username":"ops","password":"wrong"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/api/v1/admin/token", `{"username":"ops","password":"pw"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var token types.AdminTokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &token))
	bearer := map[string]string{"Authorization": "Bearer " + token.Token}

	w = do(r, http.MethodGet, "/api/v1/users/s-1/daily?date=2024-03-10", "", bearer)
	require.Equal(t, http.StatusOK, w.Code)
	var summary types.DailySummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, "s-1", summary.ExternalID)
	assert.Equal(t, "2024-03-10", summary.Date)
	assert.Zero(t, summary.MealCount)
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Limit"))

	w = do(r, http.MethodGet, "/api/v1/users/unknown/history", "", bearer)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminRateLimitKeysOnAuthenticatedAdmin(t *testing.T) {
	r, _ := newLimitedTestRouter(t, 2)

	w := do(r, http.MethodPost, "/api/v1/admin/token", `{"username":"ops","password":"wrong"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = do(r, http.MethodPost, "/api/v1/admin/token", `{"username":"ops","password":"pw"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	var token types.AdminTokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &token))

	// the client IP has spent its budget on the token route
	w = do(r, http.MethodPost, "/api/v1/admin/token", `{"username":"ops","password":"pw"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	bearer := map[string]string{"Authorization": "Bearer " + token.Token}
	w = do(r, http.MethodGet, "/api/v1/users/unknown/history", "", bearer)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
}

func TestHealthEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	w = do(r, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
