// Package credential resolves bearer tokens for secret store access.
//
// A Chain tries an ordered list of Providers — environment-injected
// identity, OS keyring developer login, platform credential, explicit
// client secret — and returns the first token it can acquire. Acquired
// tokens are cached in memory and reused until they approach expiry;
// they are never persisted to disk.
package credential

import (
	"context"
	"strings"
	"sync"
	"time"
)

// DefaultRefreshMargin is how long before a token's expiry the chain
// re-acquires it. Five minutes keeps clock skew and slow requests from
// handing out a token that dies mid-call.
const DefaultRefreshMargin = 5 * time.Minute

// Token is an opaque bearer credential with an expiry. Tokens are held in
// memory only.
type Token struct {
	// Value is the bearer token. Never log this field.
	Value string

	// ExpiresAt is when the token stops being accepted.
	ExpiresAt time.Time
}

// Valid reports whether the token is usable at t with the given safety
// margin before expiry.
func (t Token) Valid(now time.Time, margin time.Duration) bool {
	return t.Value != "" && now.Add(margin).Before(t.ExpiresAt)
}

// Provider produces a bearer token from one identity mechanism, or fails
// with *ProviderUnavailableError when that mechanism is not usable here
// (missing environment, no keyring session, unreachable endpoint).
type Provider interface {
	// Name identifies the provider in errors and debug logs.
	Name() string

	// Acquire obtains a fresh token. Implementations must honor ctx.
	Acquire(ctx context.Context) (Token, error)
}

// ProviderUnavailableError reports that a single provider in the chain
// could not produce a token. The chain aggregates these into
// *NoCredentialError when every provider fails.
type ProviderUnavailableError struct {
	Provider string
	Err      error
}

func (e *ProviderUnavailableError) Error() string {
	return "credential provider " + e.Provider + " unavailable: " + e.Err.Error()
}

func (e *ProviderUnavailableError) Unwrap() error { return e.Err }

// NoCredentialError reports that every provider in the chain failed. It
// keeps each provider's failure so the doctor command can show why.
type NoCredentialError struct {
	Failures []error
}

func (e *NoCredentialError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, f.Error())
	}
	return "no credential available: " + strings.Join(msgs, "; ")
}

func (e *NoCredentialError) Unwrap() []error { return e.Failures }

// Chain resolves a token by trying providers in priority order and caching
// the first success. Safe for concurrent use.
type Chain struct {
	providers []Provider
	margin    time.Duration

	mu     sync.Mutex
	cached Token

	// now is replaced in tests.
	now func() time.Time
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithRefreshMargin overrides DefaultRefreshMargin.
func WithRefreshMargin(margin time.Duration) ChainOption {
	return func(c *Chain) {
		c.margin = margin
	}
}

// NewChain creates a chain over the given providers. Order is priority
// order; the first provider that acquires a token wins.
func NewChain(providers []Provider, opts ...ChainOption) *Chain {
	c := &Chain{
		providers: providers,
		margin:    DefaultRefreshMargin,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve returns a valid token, reusing the cached one while it is more
// than the refresh margin away from expiry. On cache miss it walks the
// providers in order and caches the first success. When every provider
// fails it returns *NoCredentialError aggregating each failure.
//
// The provider walk happens under the chain lock so concurrent callers do
// not race to acquire duplicate tokens.
func (c *Chain) Resolve(ctx context.Context) (Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached.Valid(c.now(), c.margin) {
		return c.cached, nil
	}

	var failures []error
	for _, p := range c.providers {
		tok, err := p.Acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return Token{}, ctx.Err()
			}
			failures = append(failures, &ProviderUnavailableError{Provider: p.Name(), Err: err})
			continue
		}
		c.cached = tok
		return tok, nil
	}

	return Token{}, &NoCredentialError{Failures: failures}
}

// Invalidate drops the cached token, forcing the next Resolve to
// re-acquire. Used when a store rejects a token before its expiry.
func (c *Chain) Invalidate() {
	c.mu.Lock()
	c.cached = Token{}
	c.mu.Unlock()
}

// Providers returns the chain's providers in priority order, for the
// doctor command's per-provider health report.
func (c *Chain) Providers() []Provider {
	out := make([]Provider, len(c.providers))
	copy(out, c.providers)
	return out
}
