package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vovakirdan/wirechat-relay/internal/store/sqlite"
)

var testJWT = &JWTConfig{
	Secret:   []byte("test-secret-change-me"),
	Issuer:   "test",
	Audience: "test",
	TTL:      24 * time.Hour,
}

func newTestAuthService(t *testing.T) *Service {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	return NewService(st, testJWT)
}

func TestRegister_RejectsInvalidUsername(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "ab", "password123"); !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("expected ErrInvalidUsername, got %v", err)
	}

	// Should be validated after trimming whitespace.
	if _, err := svc.Register(ctx, " ab ", "password123"); !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("expected ErrInvalidUsername, got %v", err)
	}
}

func TestRegister_RejectsInvalidPassword(t *testing.T) {
	svc := newTestAuthService(t)

	if _, err := svc.Register(context.Background(), "abc", "12345"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
}

func TestRegister_TrimsUsernameAndCreatesUser(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	g, err := svc.Register(ctx, " alice ", "password123")
	if err != nil {
		t.Fatalf("expected registration success, got %v", err)
	}
	if g.Token == "" || g.Identity.Name != "alice" || g.Identity.UserID == 0 {
		t.Fatalf("unexpected grant: %+v", g)
	}

	if _, err := svc.Register(ctx, "alice", "password123"); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestLoginAndResolve(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	registered, err := svc.Register(ctx, "alice", "password123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := svc.Login(ctx, "alice", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	g, err := svc.Login(ctx, "alice", "password123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	id, err := svc.Resolve(g.Token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id != registered.Identity {
		t.Fatalf("expected %+v, got %+v", registered.Identity, id)
	}
}

func TestGuestIdentity(t *testing.T) {
	svc := newTestAuthService(t)

	g, sessionID, err := svc.CreateGuestUser(context.Background())
	if err != nil {
		t.Fatalf("guest: %v", err)
	}
	if sessionID == "" {
		t.Fatalf("expected session id")
	}

	id, err := svc.Resolve(g.Token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !id.Guest || id.Name != "guest_"+sessionID[:8] {
		t.Fatalf("unexpected guest identity: %+v", id)
	}
}

func TestResolveRejectsBadTokens(t *testing.T) {
	svc := newTestAuthService(t)

	foreign := *testJWT
	foreign.Secret = []byte("other-secret")
	wrongKey, err := GenerateToken(&foreign, 1, "mallory", false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	expiredCfg := *testJWT
	expiredCfg.TTL = -time.Minute
	expired, err := GenerateToken(&expiredCfg, 1, "alice", false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	otherAudience := *testJWT
	otherAudience.Audience = "elsewhere"
	wrongAud, err := GenerateToken(&otherAudience, 1, "alice", false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": testJWT.Issuer,
		"aud": testJWT.Audience,
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString(testJWT.Secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	for name, token := range map[string]string{
		"empty":        "",
		"garbage":      "not-a-jwt",
		"wrong key":    wrongKey,
		"expired":      expired,
		"wrong aud":    wrongAud,
		"missing user": noUser,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.Resolve(token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}
