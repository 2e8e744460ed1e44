// Package auth implements the authentication contract (§6 Auth — "not
// core but contract must hold"): signup, login, refresh, logout, and
// logout-all, backed by bcrypt password hashes and JWT access tokens.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tunnelnet/controlplane/internal/domain"
	"github.com/tunnelnet/controlplane/internal/security"
)

// Config bundles the auth service's token lifetimes and signing secret.
type Config struct {
	JWTSecret       []byte
	AccessTokenTTL  time.Duration // default 15 min
	RefreshTokenTTL time.Duration // default 30 days
}

// DefaultConfig returns conservative defaults; JWTSecret must still be set.
func DefaultConfig() Config {
	return Config{AccessTokenTTL: 15 * time.Minute, RefreshTokenTTL: 30 * 24 * time.Hour}
}

// Claims is the JWT payload carried by access tokens.
type Claims struct {
	UserID string `json:"sub"`
	jwt.RegisteredClaims
}

// Service implements the auth contract against a Store.
type Service struct {
	store domain.Store
	cfg   Config
	now   domain.Clock
}

// New constructs a Service.
func New(store domain.Store, cfg Config) *Service {
	return &Service{store: store, cfg: cfg, now: time.Now}
}

// Result bundles the token pair returned from signup/login/refresh.
type Result struct {
	Token        string
	RefreshToken string
	User         *domain.User
}

// Signup creates a user and issues a token pair. Returns
// domain.ErrUserExists on duplicate email.
func (s *Service) Signup(ctx context.Context, email, password, name string) (*Result, error) {
	hash, err := security.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.store.CreateUserAndAssignTrial(ctx, email, hash, name)
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, user)
}

// Login verifies credentials and issues a token pair.
func (s *Service) Login(ctx context.Context, email, password string) (*Result, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	if !security.CheckPassword(user.PasswordHash, password) {
		return nil, domain.ErrInvalidCredentials
	}
	return s.issue(ctx, user)
}

// Refresh exchanges a valid refresh token for a fresh token pair,
// rotating the refresh token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Result, error) {
	userID, expiresAt, err := s.store.GetRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, domain.ErrInvalidToken
	}
	if s.now().After(expiresAt) {
		_ = s.store.DeleteRefreshToken(ctx, refreshToken)
		return nil, domain.ErrInvalidToken
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, domain.ErrInvalidToken
	}
	_ = s.store.DeleteRefreshToken(ctx, refreshToken)
	return s.issue(ctx, user)
}

// Logout revokes a single refresh token.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return s.store.DeleteRefreshToken(ctx, refreshToken)
}

// LogoutAll revokes every refresh token for a user. Tunnel tokens are
// not touched here; the logout-all HTTP handler revokes them separately
// through the token broker.
func (s *Service) LogoutAll(ctx context.Context, userID string) error {
	return s.store.DeleteUserRefreshTokens(ctx, userID)
}

// Me returns the caller's user record.
func (s *Service) Me(ctx context.Context, userID string) (*domain.User, error) {
	return s.store.GetUserByID(ctx, userID)
}

func (s *Service) issue(ctx context.Context, user *domain.User) (*Result, error) {
	now := s.now()
	claims := Claims{
		UserID: user.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTokenTTL)),
		},
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refresh := uuid.NewString()
	if err := s.store.SaveRefreshToken(ctx, refresh, user.ID, now.Add(s.cfg.RefreshTokenTTL)); err != nil {
		return nil, fmt.Errorf("save refresh token: %w", err)
	}

	return &Result{Token: access, RefreshToken: refresh, User: user}, nil
}

// ParseAccessToken validates an access token and returns its claims.
func (s *Service) ParseAccessToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return s.cfg.JWTSecret, nil
	})
	if err != nil {
		return nil, domain.ErrInvalidToken
	}
	return claims, nil
}
