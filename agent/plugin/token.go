package plugin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource supplies bearer tokens for plugin calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	// Invalidate drops any cached token; the next Token call fetches anew.
	Invalidate()
}

// StaticToken never changes.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }
func (StaticToken) Invalidate()                             {}

// FetchFunc obtains a fresh token, e.g. from an auth endpoint or a file.
type FetchFunc func(ctx context.Context) (string, error)

// JWTTokenSource caches a JWT and refetches it shortly before it expires.
// The signature is not verified here; the plugin service does that.
type JWTTokenSource struct {
	fetch FetchFunc
	skew  time.Duration
	now   func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewJWTTokenSource refreshes when fewer than skew remains on the token.
func NewJWTTokenSource(fetch FetchFunc, skew time.Duration) *JWTTokenSource {
	if skew <= 0 {
		skew = 30 * time.Second
	}
	return &JWTTokenSource{fetch: fetch, skew: skew, now: time.Now}
}

func (s *JWTTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && (s.expiry.IsZero() || s.now().Add(s.skew).Before(s.expiry)) {
		return s.token, nil
	}

	tok, err := s.fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch plugin token: %w", err)
	}
	exp, err := tokenExpiry(tok)
	if err != nil {
		return "", err
	}
	s.token, s.expiry = tok, exp
	return tok, nil
}

func (s *JWTTokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expiry = time.Time{}
}

// tokenExpiry reads the exp claim; tokens without one never expire.
func tokenExpiry(tok string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return time.Time{}, fmt.Errorf("malformed plugin token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, nil
	}
	return exp.Time, nil
}
