// Package secretstore defines the types and interfaces shared by all secret
// store backends in secretcache.
//
// A Store is the raw remote surface of a secret provider: fetch a value by
// reference, list metadata, and write new versions. It performs no caching
// and no retries — that is the resolver's job. Implementations live in
// internal/stores (generic HTTP API, Azure Key Vault, AWS Secrets Manager,
// Google Secret Manager).
//
// # Reference Semantics
//
// A Reference with an empty Version addresses the provider's current
// version at fetch time. The SecretValue returned by Fetch always records
// which concrete version was served, so callers (and the cache) can tell
// what they actually got.
//
// # Error Taxonomy
//
// Stores report failures through the typed errors in this package:
//
//   - NotFoundError — the name/version does not exist
//   - UnauthorizedError — the credential lacks permission
//   - UnavailableError — transport or service failure, worth retrying
//   - TimeoutError — the per-call deadline elapsed, worth retrying
//
// IsTransient classifies these for retry policy. Stores must map their
// backend's native errors onto this taxonomy; anything unmapped is treated
// as permanent.
//
// # Security
//
// Implementations must never log secret values. Use logging.Secret when a
// reference name needs to appear in debug output.
package secretstore

import (
	"context"
	"errors"
	"time"
)

// Store is the interface implemented by all secret store backends.
//
// Implementations must be safe for concurrent use; the resolver issues
// Fetch calls from multiple goroutines. All methods honor context
// cancellation and deadlines.
type Store interface {
	// Name returns the store's stable identifier, e.g. "httpapi",
	// "azure.keyvault", "aws.secretsmanager", "gcp.secretmanager".
	Name() string

	// Fetch retrieves a single secret value. An empty ref.Version means
	// the current version. Returns NotFoundError, UnauthorizedError,
	// UnavailableError or TimeoutError per the package taxonomy.
	Fetch(ctx context.Context, ref Reference) (SecretValue, error)

	// List returns a pager over secret metadata. The sequence is lazy,
	// finite, and not restartable once consumed; each NextPage call may
	// perform a network round trip. Values are never included.
	List() Pager

	// Put writes a new version of the named secret. Existing versions are
	// never overwritten; the returned SecretValue carries the version the
	// backend assigned.
	Put(ctx context.Context, name string, value []byte, opts PutOptions) (SecretValue, error)

	// Validate checks connectivity and minimum permissions with a cheap
	// probe. Used by the doctor command before any real operation.
	Validate(ctx context.Context) error
}

// Reference identifies a secret within a store. Immutable once created.
type Reference struct {
	// Name is the secret's unique name within the store.
	Name string

	// Version addresses a specific version. Empty means the provider's
	// current version at fetch time.
	Version string
}

// Key returns a stable cache key for the reference. Unversioned
// references share one key so that "latest" lookups collapse together.
func (r Reference) Key() string {
	if r.Version == "" {
		return r.Name + "@latest"
	}
	return r.Name + "@" + r.Version
}

// SecretValue is a resolved secret payload with its metadata. A new
// version of a secret produces a new SecretValue; instances are never
// mutated after creation.
type SecretValue struct {
	// Value is the raw secret data. Never log this field.
	Value []byte

	// Version is the concrete version the backend served. Always set on
	// a successful Fetch, even when the reference was unversioned.
	Version string

	// ContentType describes the payload, e.g. "text/plain" or
	// "application/x-pkcs12". May be empty.
	ContentType string

	// ExpiresAt is the secret's own expiry as recorded by the backend.
	// Nil when the backend has no expiry set.
	ExpiresAt *time.Time

	// Tags holds backend tags/labels attached to the secret.
	Tags map[string]string
}

// SecretMetadata describes a secret without exposing its value, as
// returned by List.
type SecretMetadata struct {
	Name      string
	Version   string
	Enabled   bool
	ExpiresAt *time.Time
	UpdatedAt time.Time
	Tags      map[string]string
}

// PutOptions carries the optional attributes for Store.Put.
type PutOptions struct {
	ContentType string
	Tags        map[string]string
	ExpiresAt   *time.Time
}

// Pager iterates a paged listing. Modeled on the Azure SDK pagers: call
// More before each NextPage; NextPage returns one page of results and
// advances the cursor.
type Pager interface {
	// More reports whether another page is available.
	More() bool

	// NextPage fetches the next page. Calling it when More() is false is
	// a programming error and returns ErrNoMorePages.
	NextPage(ctx context.Context) ([]SecretMetadata, error)
}

// ErrNoMorePages is returned by NextPage once the listing is exhausted.
var ErrNoMorePages = errors.New("secretstore: no more pages")

// NotFoundError indicates the requested name/version does not exist.
// Permanent: retrying will not help.
type NotFoundError struct {
	Store string
	Name  string
	// Version is the requested version, empty for "current".
	Version string
}

func (e *NotFoundError) Error() string {
	if e.Version != "" {
		return "secret not found: " + e.Name + "@" + e.Version + " in store " + e.Store
	}
	return "secret not found: " + e.Name + " in store " + e.Store
}

// UnauthorizedError indicates the credential was rejected or lacks
// permission for the operation. Permanent.
type UnauthorizedError struct {
	Store   string
	Message string
}

func (e *UnauthorizedError) Error() string {
	return "unauthorized for store " + e.Store + ": " + e.Message
}

// UnavailableError indicates a transport or service failure. Transient:
// the operation may succeed on retry.
type UnavailableError struct {
	Store string
	Err   error
}

func (e *UnavailableError) Error() string {
	return "store " + e.Store + " unavailable: " + e.Err.Error()
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// TimeoutError indicates the per-call deadline elapsed before the backend
// answered. Transient.
type TimeoutError struct {
	Store   string
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return "store " + e.Store + ": " + e.Op + " timed out after " + e.Timeout.String()
}

// IsTransient reports whether err is worth retrying. Only Unavailable and
// Timeout are transient; everything else, including unclassified errors,
// is treated as permanent so that a misbehaving backend cannot trap the
// resolver in a retry loop.
func IsTransient(err error) bool {
	var unavailable *UnavailableError
	var timeout *TimeoutError
	return errors.As(err, &unavailable) || errors.As(err, &timeout)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsUnauthorized reports whether err is an UnauthorizedError.
func IsUnauthorized(err error) bool {
	var ua *UnauthorizedError
	return errors.As(err, &ua)
}
