package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/pageza/nutrilog/backend/internal/types"
)

// Context keys set by AuthMiddleware.
const (
	ContextUsername = "username"
	ContextScope    = "scope"
)

// WebhookTokenHeader carries the shared secret on chat platform callbacks.
const WebhookTokenHeader = "X-Webhook-Token"

// TokenValidator is an interface for validating JWT tokens
type TokenValidator interface {
	ValidateToken(token string) (*types.AdminClaims, error)
}

// AuthMiddleware creates a middleware that validates admin bearer tokens carrying scope.
func AuthMiddleware(validator TokenValidator, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			return
		}

		claims, err := validator.ValidateToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		if claims.Scope != scope {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient scope"})
			return
		}

		c.Set(ContextUsername, claims.Username)
		c.Set(ContextScope, claims.Scope)
		c.Next()
	}
}

// ErrBadWebhookToken is attached to the context when the shared secret does not match.
var ErrBadWebhookToken = errors.New("invalid webhook token")

// WebhookToken rejects callbacks whose X-Webhook-Token does not match token. An empty
// token disables the check.
func WebhookToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got := c.GetHeader(WebhookTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			_ = c.Error(ErrBadWebhookToken)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrBadWebhookToken.Error()})
			return
		}
		c.Next()
	}
}
