package service

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/pageza/nutrilog/backend/internal/types"
)

const (
	DefaultTokenTTL = 12 * time.Hour
	tokenIssuer     = "nutrilog"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token has expired")
	ErrAdminDisabled      = errors.New("admin access is not configured")
)

// AuthService issues and validates bearer tokens for the read-only admin API. There is a
// single admin account whose password is stored as a bcrypt hash in configuration.
type AuthService struct {
	username     string
	passwordHash []byte
	jwtSecret    []byte
	ttl          time.Duration
	now          Clock
}

var _ IAuthService = (*AuthService)(nil)

func NewAuthService(username, passwordHash, jwtSecret string, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &AuthService{
		username:     username,
		passwordHash: []byte(passwordHash),
		jwtSecret:    []byte(jwtSecret),
		ttl:          ttl,
		now:          time.Now,
	}
}

// WithClock replaces the time source.
func (s *AuthService) WithClock(now Clock) *AuthService {
	s.now = now
	return s
}

// Login checks the admin credentials and returns a signed token.
func (s *AuthService) Login(username, password string) (*types.AdminTokenResponse, error) {
	if s.username == "" || len(s.passwordHash) == 0 || len(s.jwtSecret) == 0 {
		return nil, ErrAdminDisabled
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1
	// always run bcrypt so timing does not reveal the username
	passErr := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password))
	if !userOK || passErr != nil {
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	expires := now.Add(s.ttl)
	claims := types.AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Username: username,
		Scope:    types.AdminScopeRead,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &types.AdminTokenResponse{Token: token, ExpiresAt: expires.Unix()}, nil
}

// ValidateToken verifies the signature, expiry and scope of a bearer token.
func (s *AuthService) ValidateToken(tokenString string) (*types.AdminClaims, error) {
	if len(s.jwtSecret) == 0 {
		return nil, ErrAdminDisabled
	}
	claims := &types.AdminClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Scope != types.AdminScopeRead {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
