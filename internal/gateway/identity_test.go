package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lerndmina/Heimdall-sub000/internal/platform"
)

func TestSessionTokensRoundTrip(t *testing.T) {
	tokens := NewSessionTokens([]byte("secret"), "heimdall")
	signed, err := tokens.Issue("u1", "Alice", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	id, err := tokens.ResolveIdentity(context.Background(), signed)
	if err != nil {
		t.Fatalf("ResolveIdentity: %v", err)
	}
	if id.UserID != "u1" || id.Username != "Alice" {
		t.Fatalf("unexpected identity %+v", id)
	}

	other := NewSessionTokens([]byte("other"), "heimdall")
	if _, err := other.ResolveIdentity(context.Background(), signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
}

func TestSessionTokensExpire(t *testing.T) {
	tokens := NewSessionTokens([]byte("secret"), "")
	now := time.Now()
	tokens.now = func() time.Time { return now }

	signed, err := tokens.Issue("u1", "", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	tokens.now = func() time.Time { return now.Add(2 * time.Minute) }
	if _, err := tokens.ResolveIdentity(context.Background(), signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
}

type countingIdentity struct {
	calls int
	ids   map[string]platform.Identity
}

func (c *countingIdentity) ResolveIdentity(_ context.Context, token string) (platform.Identity, error) {
	c.calls++
	id, ok := c.ids[token]
	if !ok {
		return platform.Identity{}, platform.ErrUnauthorized
	}
	return id, nil
}

func TestIdentityChain(t *testing.T) {
	sessions := NewSessionTokens([]byte("secret"), "")
	signed, err := sessions.Issue("session-user", "S", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	upstream := &countingIdentity{ids: map[string]platform.Identity{"oauth": {UserID: "oauth-user"}}}
	chain := IdentityChain{Sessions: sessions, Platform: upstream}

	id, err := chain.ResolveIdentity(context.Background(), signed)
	if err != nil || id.UserID != "session-user" {
		t.Fatalf("expected session identity, got %+v %v", id, err)
	}
	if upstream.calls != 0 {
		t.Fatalf("session token must not reach the platform, calls=%d", upstream.calls)
	}

	id, err = chain.ResolveIdentity(context.Background(), " oauth ")
	if err != nil || id.UserID != "oauth-user" {
		t.Fatalf("expected platform identity, got %+v %v", id, err)
	}

	if _, err := chain.ResolveIdentity(context.Background(), ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for empty token, got %v", err)
	}
}

func TestCachedIdentity(t *testing.T) {
	upstream := &countingIdentity{ids: map[string]platform.Identity{"good": {UserID: "u1"}}}
	cached := NewCachedIdentity(upstream, 8, time.Minute)

	for i := 0; i < 3; i++ {
		if id, err := cached.ResolveIdentity(context.Background(), "good"); err != nil || id.UserID != "u1" {
			t.Fatalf("resolve %d: %+v %v", i, id, err)
		}
	}
	if upstream.calls != 1 {
		t.Fatalf("expected one upstream call, got %d", upstream.calls)
	}

	for i := 0; i < 2; i++ {
		if _, err := cached.ResolveIdentity(context.Background(), "bad"); err == nil {
			t.Fatal("expected failure for bad token")
		}
	}
	if upstream.calls != 3 {
		t.Fatalf("failures must not be cached, calls=%d", upstream.calls)
	}
}

func TestAuthLimiterWindow(t *testing.T) {
	l := newAuthLimiter(2, time.Minute)
	now := time.Now()
	l.now = func() time.Time { return now }

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("first two attempts must pass")
	}
	if l.Allow("a") {
		t.Fatal("third attempt in window must be refused")
	}
	if !l.Allow("b") {
		t.Fatal("addresses are limited independently")
	}

	now = now.Add(61 * time.Second)
	if !l.Allow("a") {
		t.Fatal("attempts older than the window must be forgotten")
	}

	if !newAuthLimiter(0, time.Minute).Allow("a") {
		t.Fatal("zero limit disables limiting")
	}
}

func TestAuthLimiterWindowRolls(t *testing.T) {
	l := newAuthLimiter(2, time.Minute)
	start := time.Now()
	now := start
	l.now = func() time.Time { return now }

	if !l.Allow("a") {
		t.Fatal("attempt at 0s must pass")
	}
	now = start.Add(59 * time.Second)
	if !l.Allow("a") {
		t.Fatal("attempt at 59s must pass")
	}

	now = start.Add(61 * time.Second)
	got := []bool{l.Allow("a"), l.Allow("a"), l.Allow("a")}
	if !got[0] || got[1] || got[2] {
		t.Fatalf("only one slot frees at 61s while the 59s attempt is in the window, got %v", got)
	}

	now = start.Add(120 * time.Second)
	if !l.Allow("a") {
		t.Fatal("the 59s attempt has left the window by 120s")
	}
}

func TestClientAddr(t *testing.T) {
	trusted, err := parseTrustedProxies([]string{"10.0.0.0/8", "192.0.2.7"})
	if err != nil {
		t.Fatalf("parseTrustedProxies: %v", err)
	}

	tests := []struct {
		name   string
		remote string
		xff    []string
		want   string
	}{
		{name: "no header", remote: "198.51.100.4:5000", want: "198.51.100.4"},
		{name: "untrusted peer spoofing", remote: "198.51.100.4:5000", xff: []string{"203.0.113.9"}, want: "198.51.100.4"},
		{name: "trusted proxy", remote: "10.1.2.3:443", xff: []string{"203.0.113.9"}, want: "203.0.113.9"},
		{name: "client prepends fake hop", remote: "10.1.2.3:443", xff: []string{"1.1.1.1, 203.0.113.9"}, want: "203.0.113.9"},
		{name: "proxy chain", remote: "192.0.2.7:443", xff: []string{"203.0.113.9", "10.0.0.5"}, want: "203.0.113.9"},
		{name: "trusted proxy without header", remote: "10.1.2.3:443", want: "10.1.2.3"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			r.RemoteAddr = tc.remote
			for _, v := range tc.xff {
				r.Header.Add("X-Forwarded-For", v)
			}
			if got := clientAddr(r, trusted); got != tc.want {
				t.Fatalf("clientAddr = %q, want %q", got, tc.want)
			}
		})
	}

	if _, err := parseTrustedProxies([]string{"not-an-ip"}); err == nil {
		t.Fatal("expected error for invalid proxy entry")
	}
}
