package types

import (
	"github.com/golang-jwt/jwt/v5"
)

// AdminClaims are the claims carried by admin API bearer tokens.
type AdminClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	Scope    string `json:"scope"`
}

// AdminScopeRead grants access to the read-only admin endpoints.
const AdminScopeRead = "stats:read"

// AdminTokenRequest is the body of POST /api/v1/admin/token.
type AdminTokenRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type AdminTokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}
