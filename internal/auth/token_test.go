package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestCodec(t *testing.T, opts ...CodecOption) *Codec {
	t.Helper()
	codec, err := NewCodec("test-secret", 7*24*time.Hour, opts...)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return codec
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	codec := newTestCodec(t)

	identities := []Identity{
		{SubjectID: "u1", Email: "admin@example.com", Role: RoleAdmin},
		{SubjectID: "u2", Email: "sa@example.com", Role: RoleSolutionsArchitect},
		{SubjectID: "u3", Email: "sd@example.com", Role: RoleSalesDirector},
	}
	for _, ident := range identities {
		token, expiresAt, err := codec.Issue(ident)
		if err != nil {
			t.Fatalf("Issue(%v): %v", ident, err)
		}
		if !expiresAt.After(time.Now().Add(6 * 24 * time.Hour)) {
			t.Fatalf("expected ~7 day expiry, got %v", expiresAt)
		}
		claims, err := codec.Verify(token)
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		got := claims.Identity()
		if got.SubjectID != ident.SubjectID || got.Email != ident.Email || got.Role != ident.Role {
			t.Fatalf("round trip mismatch: got %+v want %+v", got, ident)
		}
	}
}

func TestVerifyExpiredTokenFails(t *testing.T) {
	past := time.Now().Add(-30 * 24 * time.Hour)
	issuer := newTestCodec(t, WithClock(func() time.Time { return past }))
	verifier := newTestCodec(t)

	token, _, err := issuer.Issue(Identity{SubjectID: "u1", Role: RoleAdmin})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := verifier.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestVerifyTamperedTokenFails(t *testing.T) {
	codec := newTestCodec(t)
	token, _, err := codec.Issue(Identity{SubjectID: "u1", Role: RoleAdmin})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape")
	}
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
	if _, err := codec.Verify(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for tampered token, got %v", err)
	}
}

func TestVerifyWrongSecretFails(t *testing.T) {
	codec := newTestCodec(t)
	other, err := NewCodec("another-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	token, _, err := other.Issue(Identity{SubjectID: "u1", Role: RoleAdmin})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := codec.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
}

func TestIssueRejectsUnknownRole(t *testing.T) {
	codec := newTestCodec(t)
	if _, _, err := codec.Issue(Identity{SubjectID: "u1", Role: "SALES_REP"}); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
}

func TestExtractTokenPrefersBearerHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/deals", nil)
	req.Header.Set("Authorization", "Bearer header-token")
	req.AddCookie(&http.Cookie{Name: AuthCookieName, Value: "cookie-token"})

	if got := ExtractToken(req); got != "header-token" {
		t.Fatalf("expected header token, got %q", got)
	}
}

func TestExtractTokenFallsBackToCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/deals", nil)
	req.AddCookie(&http.Cookie{Name: AuthCookieName, Value: "cookie-token"})

	if got := ExtractToken(req); got != "cookie-token" {
		t.Fatalf("expected cookie token, got %q", got)
	}
}

func TestExtractTokenEmptyWhenAbsent(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/deals", nil)
	if got := ExtractToken(req); got != "" {
		t.Fatalf("expected empty token, got %q", got)
	}
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	if got := ExtractToken(req); got != "" {
		t.Fatalf("expected empty token for non-bearer scheme, got %q", got)
	}
}

func TestContextIdentityRoundTrip(t *testing.T) {
	ident := Identity{SubjectID: "u1", Email: "a@example.com", Role: RoleAdmin}
	ctx := ContextWithIdentity(context.Background(), ident)
	got, ok := IdentityFromContext(ctx)
	if !ok || got != ident {
		t.Fatalf("unexpected identity: %+v ok=%v", got, ok)
	}
	if _, ok := IdentityFromContext(context.Background()); ok {
		t.Fatalf("expected no identity on fresh context")
	}
}
