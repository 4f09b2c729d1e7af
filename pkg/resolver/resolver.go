// Package resolver is the entry point applications use to read secrets.
//
// A Resolver layers three behaviors over a secretstore.Store:
//
//   - caching: resolved values are kept in encrypted memory until a
//     freshness deadline (the sooner of the configured TTL and the
//     secret's own expiry) and evicted lazily on the next access
//   - single-flight: concurrent requests for the same reference collapse
//     into one store fetch whose outcome all waiters share
//   - retry: transient failures (unavailable, timeout) are retried with
//     capped exponential backoff and jitter; permanent failures (not
//     found, unauthorized) surface immediately
//
// Multiple independently configured resolvers can coexist in one process;
// there is no package-level state beyond metrics.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"

	"github.com/systmms/secretcache/internal/logging"
	"github.com/systmms/secretcache/internal/metrics"
	"github.com/systmms/secretcache/internal/secure"
	"github.com/systmms/secretcache/pkg/secretstore"
)

// Default option values, used when the corresponding Options field is
// zero. These are starting points, not contracts; tune per deployment.
const (
	DefaultTTL            = 5 * time.Minute
	DefaultMaxRetries     = 3
	DefaultBaseBackoff    = 100 * time.Millisecond
	DefaultMaxBackoff     = 5 * time.Second
	DefaultPerCallTimeout = 10 * time.Second
	DefaultOverallTimeout = 30 * time.Second
)

// Options configures a Resolver. The zero value is usable and picks up
// the package defaults.
type Options struct {
	// DefaultTTL bounds how long a cached value is served without
	// re-fetching. A secret whose own expiry comes sooner expires sooner.
	DefaultTTL time.Duration

	// MaxRetries is the number of retries after the initial attempt for
	// transient failures.
	MaxRetries int

	// BaseBackoff is the pre-jitter delay before the first retry; each
	// subsequent retry doubles it up to MaxBackoff.
	BaseBackoff time.Duration

	// MaxBackoff caps the pre-jitter delay between retries.
	MaxBackoff time.Duration

	// PerCallTimeout bounds each individual store fetch.
	PerCallTimeout time.Duration

	// OverallTimeout bounds the whole retry loop, independent of the
	// per-call timeout.
	OverallTimeout time.Duration

	// DisableJitter makes retry delays deterministic. Meant for tests.
	DisableJitter bool

	// Logger receives debug output. Defaults to a quiet logger.
	Logger *logging.Logger
}

func (o Options) withDefaults() Options {
	if o.DefaultTTL <= 0 {
		o.DefaultTTL = DefaultTTL
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	} else if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = DefaultBaseBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = DefaultMaxBackoff
	}
	if o.PerCallTimeout <= 0 {
		o.PerCallTimeout = DefaultPerCallTimeout
	}
	if o.OverallTimeout <= 0 {
		o.OverallTimeout = DefaultOverallTimeout
	}
	if o.Logger == nil {
		o.Logger = logging.New(false, false)
	}
	return o
}

// ExhaustedError is returned when every retry of a transient failure has
// been spent. It wraps the final underlying error and records how much
// work was done, for observability.
type ExhaustedError struct {
	Attempts int
	Elapsed  time.Duration
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("fetch failed after %d attempts over %s: %v", e.Attempts, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// cacheEntry wraps one resolved secret. The payload lives in an encrypted
// buffer; metadata stays in the clear. Entries are replaced, never
// mutated.
type cacheEntry struct {
	buf         *secure.Buffer
	version     string
	contentType string
	expiresAt   *time.Time
	tags        map[string]string
	fetchedAt   time.Time
	deadline    time.Time
}

// Resolver caches and de-duplicates secret fetches against one store.
// Safe for concurrent use.
type Resolver struct {
	store  secretstore.Store
	opts   Options
	logger *logging.Logger

	mu    sync.RWMutex
	cache map[string]*cacheEntry

	flight singleflight.Group

	// test seams
	now     func() time.Time
	onRetry func(err error, delay time.Duration)
}

// New creates a resolver over the given store.
func New(store secretstore.Store, opts Options) *Resolver {
	opts = opts.withDefaults()
	return &Resolver{
		store:  store,
		opts:   opts,
		logger: opts.Logger,
		cache:  make(map[string]*cacheEntry),
		now:    time.Now,
	}
}

// Get returns the secret for ref, serving from cache when a live entry
// exists and otherwise fetching through the store with single-flight
// de-duplication and retry.
//
// Callers that cancel ctx abandon only their own wait; an in-flight fetch
// keeps running for its other waiters and completes the cache fill. The
// fetch itself is bounded by the configured overall timeout.
func (r *Resolver) Get(ctx context.Context, ref secretstore.Reference) (secretstore.SecretValue, error) {
	key := ref.Key()

	if val, ok, err := r.cached(key); ok {
		return val, err
	}

	ch := r.flight.DoChan(key, func() (interface{}, error) {
		return r.fetchAndCache(ref)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return secretstore.SecretValue{}, res.Err
		}
		return res.Val.(secretstore.SecretValue), nil
	case <-ctx.Done():
		return secretstore.SecretValue{}, ctx.Err()
	}
}

// cached serves a live entry. Entries past their deadline are evicted
// here; refresh happens via the caller's subsequent fetch.
func (r *Resolver) cached(key string) (secretstore.SecretValue, bool, error) {
	r.mu.RLock()
	entry := r.cache[key]
	r.mu.RUnlock()

	if entry == nil {
		metrics.CacheAccess.WithLabelValues(r.store.Name(), "miss").Inc()
		return secretstore.SecretValue{}, false, nil
	}

	if !r.now().Before(entry.deadline) {
		r.mu.Lock()
		if r.cache[key] == entry {
			delete(r.cache, key)
			entry.buf.Destroy()
		}
		r.mu.Unlock()
		metrics.CacheAccess.WithLabelValues(r.store.Name(), "expired").Inc()
		return secretstore.SecretValue{}, false, nil
	}

	value, live, err := entry.buf.Bytes()
	if err != nil {
		return secretstore.SecretValue{}, true, err
	}
	if !live {
		// The entry was invalidated between the map lookup and the read.
		// Treat it as a miss so the caller fetches fresh.
		metrics.CacheAccess.WithLabelValues(r.store.Name(), "miss").Inc()
		return secretstore.SecretValue{}, false, nil
	}
	metrics.CacheAccess.WithLabelValues(r.store.Name(), "hit").Inc()

	return secretstore.SecretValue{
		Value:       value,
		Version:     entry.version,
		ContentType: entry.contentType,
		ExpiresAt:   entry.expiresAt,
		Tags:        entry.tags,
	}, true, nil
}

// fetchAndCache performs the retried store fetch and fills the cache.
// It runs on a context detached from any individual caller so that one
// caller's cancellation cannot fail the fetch for the others.
func (r *Resolver) fetchAndCache(ref secretstore.Reference) (secretstore.SecretValue, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.OverallTimeout)
	defer cancel()

	start := time.Now()
	attempts := 0

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = r.opts.BaseBackoff
	expo.MaxInterval = r.opts.MaxBackoff
	expo.Multiplier = 2
	if r.opts.DisableJitter {
		expo.RandomizationFactor = 0
	}

	operation := func() (secretstore.SecretValue, error) {
		attempts++
		callCtx, callCancel := context.WithTimeout(ctx, r.opts.PerCallTimeout)
		defer callCancel()

		val, err := r.store.Fetch(callCtx, ref)
		if err == nil {
			return val, nil
		}

		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = &secretstore.TimeoutError{Store: r.store.Name(), Op: "fetch", Timeout: r.opts.PerCallTimeout}
		}
		if !secretstore.IsTransient(err) {
			return secretstore.SecretValue{}, backoff.Permanent(err)
		}
		return secretstore.SecretValue{}, err
	}

	val, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(r.opts.MaxRetries)+1),
		backoff.WithNotify(func(opErr error, delay time.Duration) {
			metrics.RetriesTotal.WithLabelValues(r.store.Name()).Inc()
			r.logger.Debug("retrying fetch of %s in %s: %v", ref.Key(), delay, opErr)
			if r.onRetry != nil {
				r.onRetry(opErr, delay)
			}
		}),
	)

	metrics.FetchDuration.WithLabelValues(r.store.Name()).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.FetchesTotal.WithLabelValues(r.store.Name(), "error").Inc()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		if secretstore.IsTransient(err) {
			err = &ExhaustedError{Attempts: attempts, Elapsed: time.Since(start), Err: err}
		}
		return secretstore.SecretValue{}, err
	}

	metrics.FetchesTotal.WithLabelValues(r.store.Name(), "ok").Inc()
	r.storeEntry(ref.Key(), val)
	return val, nil
}

// storeEntry replaces the cache entry for key. The freshness deadline is
// the sooner of fetchedAt+TTL and the secret's own expiry.
func (r *Resolver) storeEntry(key string, val secretstore.SecretValue) {
	fetchedAt := r.now()
	deadline := fetchedAt.Add(r.opts.DefaultTTL)
	if val.ExpiresAt != nil && val.ExpiresAt.Before(deadline) {
		deadline = *val.ExpiresAt
	}

	sealed := make([]byte, len(val.Value))
	copy(sealed, val.Value)

	entry := &cacheEntry{
		buf:         secure.NewBuffer(sealed),
		version:     val.Version,
		contentType: val.ContentType,
		expiresAt:   val.ExpiresAt,
		tags:        val.Tags,
		fetchedAt:   fetchedAt,
		deadline:    deadline,
	}

	r.mu.Lock()
	if old := r.cache[key]; old != nil {
		old.buf.Destroy()
	}
	r.cache[key] = entry
	r.mu.Unlock()
}

// Invalidate removes any cached entry for ref, forcing the next Get to
// re-fetch. Removing an absent entry is not an error.
func (r *Resolver) Invalidate(ref secretstore.Reference) {
	r.mu.Lock()
	if entry := r.cache[ref.Key()]; entry != nil {
		delete(r.cache, ref.Key())
		entry.buf.Destroy()
	}
	r.mu.Unlock()
	metrics.CacheInvalidations.WithLabelValues(r.store.Name(), "ref").Inc()
}

// InvalidateAll clears the entire cache, e.g. after a rotation
// notification.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	for key, entry := range r.cache {
		delete(r.cache, key)
		entry.buf.Destroy()
	}
	r.mu.Unlock()
	metrics.CacheInvalidations.WithLabelValues(r.store.Name(), "all").Inc()
}

// Store exposes the backing store, mainly for the CLI's list/put paths
// which bypass the cache on purpose.
func (r *Resolver) Store() secretstore.Store {
	return r.store
}
