package auth

import (
	"context"
	"testing"

	"github.com/tunnelnet/controlplane/internal/domain"
	"github.com/tunnelnet/controlplane/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	cfg := DefaultConfig()
	cfg.JWTSecret = []byte("test-secret")
	return New(db, cfg)
}

func TestSignupThenLogin(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	res, err := s.Signup(ctx, "a@example.com", "hunter2", "A")
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}
	if res.Token == "" || res.RefreshToken == "" {
		t.Fatal("Signup() returned empty tokens")
	}

	res2, err := s.Login(ctx, "a@example.com", "hunter2")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if res2.User.ID != res.User.ID {
		t.Errorf("Login() user = %v, want %v", res2.User.ID, res.User.ID)
	}
}

func TestSignup_DuplicateEmailErrors(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	if _, err := s.Signup(ctx, "dup@example.com", "pw", "A"); err != nil {
		t.Fatalf("first Signup() error = %v", err)
	}
	if _, err := s.Signup(ctx, "dup@example.com", "pw", "B"); err != domain.ErrUserExists {
		t.Errorf("second Signup() error = %v, want ErrUserExists", err)
	}
}

func TestLogin_WrongPasswordRejected(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	s.Signup(ctx, "a@example.com", "correct", "A")

	if _, err := s.Login(ctx, "a@example.com", "wrong"); err != domain.ErrInvalidCredentials {
		t.Errorf("Login() error = %v, want ErrInvalidCredentials", err)
	}
}

func TestRefresh_RotatesToken(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	first, _ := s.Signup(ctx, "a@example.com", "pw", "A")

	refreshed, err := s.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if refreshed.RefreshToken == first.RefreshToken {
		t.Error("Refresh() did not rotate the refresh token")
	}

	if _, err := s.Refresh(ctx, first.RefreshToken); err != domain.ErrInvalidToken {
		t.Errorf("reusing old refresh token error = %v, want ErrInvalidToken", err)
	}
}

func TestParseAccessToken_RoundTrips(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	res, _ := s.Signup(ctx, "a@example.com", "pw", "A")

	claims, err := s.ParseAccessToken(res.Token)
	if err != nil {
		t.Fatalf("ParseAccessToken() error = %v", err)
	}
	if claims.UserID != res.User.ID {
		t.Errorf("claims.UserID = %v, want %v", claims.UserID, res.User.ID)
	}
}

func TestLogoutAll_RevokesRefreshTokens(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	res, _ := s.Signup(ctx, "a@example.com", "pw", "A")

	if err := s.LogoutAll(ctx, res.User.ID); err != nil {
		t.Fatalf("LogoutAll() error = %v", err)
	}
	if _, err := s.Refresh(ctx, res.RefreshToken); err != domain.ErrInvalidToken {
		t.Errorf("Refresh() after logout-all error = %v, want ErrInvalidToken", err)
	}
}
