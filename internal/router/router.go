package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pageza/nutrilog/backend/internal/api"
	"github.com/pageza/nutrilog/backend/internal/middleware"
	"github.com/pageza/nutrilog/backend/internal/types"
)

// Options carries the handlers and middleware wired by cmd/api.
type Options struct {
	Webhooks     *api.WebhookHandler
	Admin        *api.AdminHandler
	Health       *api.HealthHandler
	Tokens       middleware.TokenValidator
	RateLimiter  *middleware.RateLimiter
	WebhookToken string
	CORSOrigins  []string
	Logger       *zap.Logger
}

// SetupRouter configures the application routes
func SetupRouter(opts Options) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestLogger(opts.Logger))
	router.Use(middleware.ErrorHandler(opts.Logger))

	opts.Health.RegisterRoutes(router)

	// Webhook routes
	webhooks := router.Group("/webhooks")
	opts.Webhooks.RegisterRoutes(webhooks, middleware.WebhookToken(opts.WebhookToken))

	// Read-only admin API
	if opts.Admin != nil {
		v1 := router.Group("/api/v1")
		v1.Use(middleware.CORS(opts.CORSOrigins))

		var public []gin.HandlerFunc
		protected := []gin.HandlerFunc{middleware.AuthMiddleware(opts.Tokens, types.AdminScopeRead)}
		if opts.RateLimiter != nil {
			// Limited after auth so signed-in admins get their own bucket; the token
			// route stays keyed by client IP.
			limit := opts.RateLimiter.RateLimitMiddleware()
			public = append(public, limit)
			protected = append(protected, limit)
		}
		opts.Admin.RegisterRoutes(v1, public, protected)
	}

	return router
}
