package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pageza/nutrilog/backend/internal/types"
)

type stubValidator struct {
	claims *types.AdminClaims
	err    error
}

func (s stubValidator) ValidateToken(string) (*types.AdminClaims, error) {
	return s.claims, s.err
}

func authRouter(v TokenValidator) *gin.Engine {
	r := gin.New()
	r.GET("/stats", AuthMiddleware(v, types.AdminScopeRead), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextUsername))
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	ok := stubValidator{claims: &types.AdminClaims{Username: "ops", Scope: types.AdminScopeRead}}

	tests := []struct {
		name      string
		validator TokenValidator
		header    string
		status    int
	}{
		{"missing header", ok, "", http.StatusUnauthorized},
		{"wrong scheme", ok, "Basic abc", http.StatusUnauthorized},
		{"empty token", ok, "Bearer ", http.StatusUnauthorized},
		{"invalid token", stubValidator{err: errors.New("invalid token")}, "Bearer abc", http.StatusUnauthorized},
		{"wrong scope", stubValidator{claims: &types.AdminClaims{Username: "ops", Scope: "other"}}, "Bearer abc", http.StatusForbidden},
		{"valid", ok, "Bearer abc", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/stats", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := serve(authRouter(tt.validator), req)
			assert.Equal(t, tt.status, rr.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "ops", rr.Body.String())
			}
		})
	}
}

func TestWebhookToken(t *testing.T) {
	r := gin.New()
	r.POST("/open", WebhookToken(""), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/closed", WebhookToken("s3cret"), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodPost, "/open", nil)).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, httptest.NewRequest(http.MethodPost, "/closed", nil)).Code)

	req := httptest.NewRequest(http.MethodPost, "/closed", nil)
	req.Header.Set(WebhookTokenHeader, "s3cret")
	assert.Equal(t, http.StatusOK, serve(r, req).Code)
}

func TestRateLimiterFixedWindow(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 30, 0, time.UTC)
	clock := func() time.Time { return now }
	rl := NewAdminRateLimiter(NewMemoryCounter(clock), 2, nil)
	rl.now = clock

	r := gin.New()
	r.GET("/x", rl.RateLimitMiddleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		rr := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
		require.Equal(t, http.StatusOK, rr.Code)
	}
	rr := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
	assert.Contains(t, rr.Body.String(), `"retry_after":30`)

	now = now.Add(time.Minute)
	rr = serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("X-RateLimit-Remaining"))
}

type failingCounter struct{}

func (failingCounter) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("redis unavailable")
}

func TestRateLimiterFailsOpen(t *testing.T) {
	rl := NewAdminRateLimiter(failingCounter{}, 1, nil)
	r := gin.New()
	r.GET("/x", rl.RateLimitMiddleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	rr := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "rate limit check failed", rr.Header().Get("X-RateLimit-Error"))
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"https://admin.example"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://admin.example")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rr := serve(r, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://admin.example", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	assert.Equal(t, http.StatusForbidden, serve(r, req).Code)
}
