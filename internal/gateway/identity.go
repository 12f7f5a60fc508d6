package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/lerndmina/Heimdall-sub000/internal/platform"
)

// ErrInvalidToken is returned for credentials no provider accepts.
var ErrInvalidToken = errors.New("gateway: invalid token")

// SessionClaims are the claims of a dashboard session token.
type SessionClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username,omitempty"`
}

// SessionTokens issues and verifies HS256 dashboard session tokens.
type SessionTokens struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewSessionTokens creates a session token codec. issuer may be empty.
func NewSessionTokens(secret []byte, issuer string) *SessionTokens {
	return &SessionTokens{secret: secret, issuer: issuer, now: time.Now}
}

// Issue signs a token for userID valid for ttl.
func (s *SessionTokens) Issue(userID, username string, ttl time.Duration) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Username: username,
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("gateway: sign session: %w", err)
	}
	return signed, nil
}

// ResolveIdentity verifies a session token.
func (s *SessionTokens) ResolveIdentity(_ context.Context, token string) (platform.Identity, error) {
	claims := &SessionClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return platform.Identity{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return platform.Identity{}, ErrInvalidToken
	}
	return platform.Identity{UserID: claims.Subject, Username: claims.Username}, nil
}

// looksLikeJWT reports whether token has the three-segment JWT shape.
func looksLikeJWT(token string) bool {
	return strings.Count(token, ".") == 2
}

// IdentityChain tries session tokens first for JWT-shaped credentials and
// falls back to the platform identity endpoint.
type IdentityChain struct {
	Sessions *SessionTokens
	Platform platform.IdentityResolver
}

func (c IdentityChain) ResolveIdentity(ctx context.Context, token string) (platform.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return platform.Identity{}, ErrInvalidToken
	}
	if c.Sessions != nil && looksLikeJWT(token) {
		if id, err := c.Sessions.ResolveIdentity(ctx, token); err == nil {
			return id, nil
		}
	}
	if c.Platform == nil {
		return platform.Identity{}, ErrInvalidToken
	}
	return c.Platform.ResolveIdentity(ctx, token)
}

// CachedIdentity memoises successful lookups for a short time so reconnect
// storms do not hammer the platform identity endpoint. Failures are never
// cached.
type CachedIdentity struct {
	next  platform.IdentityResolver
	cache *expirable.LRU[string, platform.Identity]
}

// NewCachedIdentity wraps next with an LRU of size entries living ttl.
func NewCachedIdentity(next platform.IdentityResolver, size int, ttl time.Duration) *CachedIdentity {
	if size <= 0 {
		size = 1024
	}
	return &CachedIdentity{
		next:  next,
		cache: expirable.NewLRU[string, platform.Identity](size, nil, ttl),
	}
}

func (c *CachedIdentity) ResolveIdentity(ctx context.Context, token string) (platform.Identity, error) {
	sum := sha256.Sum256([]byte(token))
	key := hex.EncodeToString(sum[:])
	if id, ok := c.cache.Get(key); ok {
		return id, nil
	}
	id, err := c.next.ResolveIdentity(ctx, token)
	if err != nil {
		return platform.Identity{}, err
	}
	c.cache.Add(key, id)
	return id, nil
}
