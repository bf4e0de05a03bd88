package parley

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ============================================================================
// Token Supplier
// ============================================================================

// expiryMargin is the trailing safety window: a cached token this close to
// its expiry is never handed out; callers get a refreshed one instead.
const expiryMargin = 5 * time.Minute

// Token is an opaque bearer credential with an absolute expiry instant.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// valid reports whether the token can still be handed out at instant now.
func (t Token) valid(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt.Add(-expiryMargin))
}

// TokenProvider is the identity-provider capability: obtain a fresh bearer
// token, and end the session. Protocol internals (redirects, refresh
// credentials) stay behind this interface.
type TokenProvider interface {
	Refresh(ctx context.Context) (Token, error)
	SignOut(ctx context.Context) error
}

// TokenSupplier owns the cached session token. It is the only mutator of the
// cached value and expiry. Safe for concurrent use.
type TokenSupplier struct {
	provider TokenProvider
	onLogout func()
	logger   *slog.Logger

	mu  sync.Mutex
	tok Token
	sf  singleflight.Group
}

// SupplierOption configures a TokenSupplier.
type SupplierOption func(*TokenSupplier)

// WithOnLogout registers a callback invoked after an unrecoverable refresh
// failure has forced the session out.
func WithOnLogout(fn func()) SupplierOption {
	return func(s *TokenSupplier) { s.onLogout = fn }
}

// WithSupplierLogger overrides the supplier's logger.
func WithSupplierLogger(l *slog.Logger) SupplierOption {
	return func(s *TokenSupplier) { s.logger = l }
}

// NewTokenSupplier creates a supplier backed by the given provider.
func NewTokenSupplier(provider TokenProvider, opts ...SupplierOption) *TokenSupplier {
	s := &TokenSupplier{
		provider: provider,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Seed installs an already-issued token, e.g. one exchanged during the
// redirect callback. Subsequent expiry is handled normally.
func (s *TokenSupplier) Seed(tok Token) {
	s.mu.Lock()
	s.tok = tok
	s.mu.Unlock()
}

// Token returns a cached token that is not expiring soon, refreshing through
// the provider otherwise. Concurrent callers during a refresh share one
// underlying provider call.
func (s *TokenSupplier) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	tok := s.tok
	s.mu.Unlock()

	if tok.valid(time.Now()) {
		return tok.Value, nil
	}
	if s.provider == nil {
		return "", ErrNotAuthenticated
	}

	v, err, _ := s.sf.Do("refresh", func() (any, error) {
		// Re-check under the flight: a caller that queued behind the
		// winning refresh must not trigger a second one.
		s.mu.Lock()
		cached := s.tok
		s.mu.Unlock()
		if cached.valid(time.Now()) {
			return cached.Value, nil
		}

		fresh, err := s.provider.Refresh(ctx)
		if err != nil {
			if isInvalidGrant(err) {
				s.forceLogout(ctx)
				return "", ErrInvalidGrant
			}
			return "", fmt.Errorf("token refresh: %w", err)
		}

		s.mu.Lock()
		s.tok = fresh
		s.mu.Unlock()
		return fresh.Value, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate clears the cached token and expiry.
func (s *TokenSupplier) Invalidate() {
	s.mu.Lock()
	s.tok = Token{}
	s.mu.Unlock()
}

// forceLogout clears local state, signs the provider session out, and
// notifies the registered callback. Sign-out failure is logged only; the
// local session is gone either way.
func (s *TokenSupplier) forceLogout(ctx context.Context) {
	s.Invalidate()
	if err := s.provider.SignOut(ctx); err != nil {
		s.logger.Warn("sign-out after invalid grant failed", "error", err)
	}
	if s.onLogout != nil {
		s.onLogout()
	}
}

// isInvalidGrant classifies a refresh failure as fatal. Providers may return
// ErrInvalidGrant directly or surface the identity provider's error text.
func isInvalidGrant(err error) bool {
	if errors.Is(err, ErrInvalidGrant) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "invalid_grant") ||
		strings.Contains(msg, "invalid refresh token")
}
