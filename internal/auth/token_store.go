package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/damworks/aem-assets-mcp/internal/aem"
)

// RefreshSkew is how far ahead of expiry a cached token is considered stale.
// A token returned by GetValidToken is always valid for at least this long.
const RefreshSkew = 5 * time.Minute

// Token is a bearer token with its expiry instant. Tokens live only in the
// store; they are never persisted.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Provider obtains a fresh token for one scheme. Providers do not cache;
// caching and coalescing belong to the TokenStore.
type Provider interface {
	Fetch(ctx context.Context) (Token, error)
}

type refreshCall struct {
	done  chan struct{}
	token Token
	err   error
}

type entry struct {
	mu       sync.Mutex
	token    Token
	hasToken bool
	inflight *refreshCall
}

// TokenStore caches at most one token per scheme and refreshes ahead of
// expiry. Concurrent refreshes for the same scheme coalesce into a single
// exchange; schemes never block each other.
type TokenStore struct {
	providers map[aem.Scheme]Provider
	entries   map[aem.Scheme]*entry
	logger    *slog.Logger
	now       func() time.Time
}

// NewTokenStore builds a store over the configured providers. Schemes with
// no provider fail at GetValidToken; credential presence is validated by the
// config layer at startup.
func NewTokenStore(providers map[aem.Scheme]Provider, logger *slog.Logger) *TokenStore {
	if logger == nil {
		logger = slog.Default()
	}
	entries := make(map[aem.Scheme]*entry, len(providers))
	for scheme := range providers {
		entries[scheme] = &entry{}
	}
	return &TokenStore{
		providers: providers,
		entries:   entries,
		logger:    logger,
		now:       time.Now,
	}
}

// GetValidToken returns a token valid for at least RefreshSkew, refreshing
// through the scheme's provider when the cache is empty or near expiry.
func (s *TokenStore) GetValidToken(ctx context.Context, scheme aem.Scheme) (string, error) {
	e, ok := s.entries[scheme]
	if !ok {
		return "", &aem.AuthError{Reason: "scheme not configured: " + string(scheme)}
	}

	e.mu.Lock()
	if e.hasToken && s.now().Add(RefreshSkew).Before(e.token.ExpiresAt) {
		value := e.token.Value
		e.mu.Unlock()
		return value, nil
	}

	if e.inflight != nil {
		// Another caller is already refreshing; share its outcome.
		call := e.inflight
		e.mu.Unlock()
		select {
		case <-call.done:
			if call.err != nil {
				return "", call.err
			}
			return call.token.Value, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	call := &refreshCall{done: make(chan struct{})}
	e.inflight = call
	e.mu.Unlock()

	s.logger.Debug("refreshing access token", "scheme", scheme)
	token, err := s.providers[scheme].Fetch(ctx)

	e.mu.Lock()
	e.inflight = nil
	if err != nil {
		// The stale token is discarded, never returned.
		e.hasToken = false
		e.token = Token{}
	} else {
		e.token = token
		e.hasToken = true
	}
	e.mu.Unlock()

	call.token, call.err = token, err
	close(call.done)

	if err != nil {
		s.logger.Warn("token refresh failed", "scheme", scheme, "error", err)
		return "", err
	}
	return token.Value, nil
}

// Invalidate drops the cached token for a scheme, forcing the next
// GetValidToken to refresh. Called after a downstream 401.
func (s *TokenStore) Invalidate(scheme aem.Scheme) {
	e, ok := s.entries[scheme]
	if !ok {
		return
	}
	e.mu.Lock()
	e.hasToken = false
	e.token = Token{}
	e.mu.Unlock()
	s.logger.Debug("token invalidated", "scheme", scheme)
}
