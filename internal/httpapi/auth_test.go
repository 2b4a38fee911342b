package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"pantry/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func newStubStore(t *testing.T) *userStoreStub {
	t.Helper()
	return &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin":  {Username: "admin", Password: mustHashPassword(t, "admin123"), Role: domain.RoleAdmin, Active: true},
			"vendor": {Username: "vendor", Password: mustHashPassword(t, "vendor123"), Role: domain.RoleVendor, Active: true},
			"former": {Username: "former", Password: mustHashPassword(t, "former123"), Role: domain.RoleAdmin, Active: false},
		},
	}
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, store)
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"}); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if !isPasswordHash(users[0].Password) {
		t.Fatalf("expected password to be upgraded from plain-text")
	}
	if store.updates == 0 {
		t.Fatalf("expected the user store to receive the hashed password")
	}
}

func TestLoginIssuesSessionToken(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, newStubStore(t))

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: " Vendor ", Password: "vendor123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.Role != domain.RoleVendor || !strings.HasPrefix(resp.SessionID, "sess-") {
		t.Fatalf("unexpected login response %+v", resp)
	}

	session, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if session.ID != resp.SessionID || session.Username != "vendor" || session.Role != domain.RoleVendor {
		t.Fatalf("unexpected session %+v", session)
	}
	if got := session.ExpiresAt.Sub(session.IssuedAt); got != time.Hour {
		t.Fatalf("expected one hour lifetime, got %s", got)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, newStubStore(t))

	cases := []domain.LoginRequest{
		{Username: "admin", Password: "wrong"},
		{Username: "nobody", Password: "admin123"},
		{Username: "admin", Password: " "},
	}
	for _, req := range cases {
		if _, err := manager.Login(context.Background(), req); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected invalid credentials for %+v, got %v", req, err)
		}
	}

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "former", Password: "former123"}); err == nil {
		t.Fatalf("expected inactive account to be rejected")
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, newStubStore(t))

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	session, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}

	manager.Logout(session)

	if _, err := manager.ParseToken(resp.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected revoked token to be rejected, got %v", err)
	}
}

func TestParseTokenRejectsExpiredAndForeignTokens(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Minute, newStubStore(t))
	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	manager.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := manager.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}

	other := NewAuthManager("another-secret", time.Hour, newStubStore(t))
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestParseTokenRejectsUnknownRole(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, nil)

	now := time.Now()
	claims := sessionClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        "sess-1",
			Subject:   "cashier",
			Issuer:    tokenIssuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(time.Hour)),
		},
		Role: domain.Role("cashier"),
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := manager.ParseToken(token); err == nil {
		t.Fatalf("expected unknown role to be rejected")
	}
}
