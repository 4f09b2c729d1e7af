// Package stores contains the secret store backends: the generic HTTP
// API store plus Azure Key Vault, AWS Secrets Manager, and Google Secret
// Manager. All of them implement secretstore.Store and map their
// backend's native failures onto the shared error taxonomy.
package stores

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/systmms/secretcache/internal/logging"
	"github.com/systmms/secretcache/pkg/credential"
	"github.com/systmms/secretcache/pkg/secretstore"
)

// defaultHTTPTimeout is the transport-level backstop; callers normally
// bound requests with their own context deadlines.
const defaultHTTPTimeout = 30 * time.Second

// defaultPageSize is the maxresults hint sent with listing requests.
const defaultPageSize = 100

// HTTPStore talks to a generic secret provider over its REST surface:
//
//	GET  {endpoint}/secrets/{name}[/{version}]
//	GET  {endpoint}/secrets?maxresults=N[&skiptoken=T]   (paged)
//	PUT  {endpoint}/secrets/{name}
//
// Every request carries a bearer token resolved through the credential
// chain. A 401 invalidates the chain's cached token so the next request
// re-authenticates.
type HTTPStore struct {
	name     string
	endpoint string
	chain    *credential.Chain
	client   *http.Client
	logger   *logging.Logger
}

// HTTPStoreOption is a functional option for configuring the HTTP store.
type HTTPStoreOption func(*HTTPStore)

// WithHTTPClient sets a custom HTTP client (for tests and custom
// transports).
func WithHTTPClient(client *http.Client) HTTPStoreOption {
	return func(s *HTTPStore) {
		s.client = client
	}
}

// WithHTTPLogger sets the debug logger.
func WithHTTPLogger(logger *logging.Logger) HTTPStoreOption {
	return func(s *HTTPStore) {
		s.logger = logger
	}
}

// NewHTTPStore creates a store for the provider at endpoint,
// authenticating through chain.
func NewHTTPStore(endpoint string, chain *credential.Chain, opts ...HTTPStoreOption) (*HTTPStore, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint %q: must be an absolute URL", endpoint)
	}

	s := &HTTPStore{
		name:     "httpapi",
		endpoint: strings.TrimRight(endpoint, "/"),
		chain:    chain,
		logger:   logging.New(false, false),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return s, nil
}

// Name implements secretstore.Store.
func (s *HTTPStore) Name() string { return s.name }

// secretPayload is the wire form of a secret value. Value travels as
// base64 per encoding/json's []byte handling.
type secretPayload struct {
	Value       []byte            `json:"value"`
	Version     string            `json:"version"`
	ContentType string            `json:"contentType,omitempty"`
	ExpiresAt   *time.Time        `json:"expiresAt,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

func (p secretPayload) toValue() secretstore.SecretValue {
	return secretstore.SecretValue{
		Value:       p.Value,
		Version:     p.Version,
		ContentType: p.ContentType,
		ExpiresAt:   p.ExpiresAt,
		Tags:        p.Tags,
	}
}

// Fetch implements secretstore.Store.
func (s *HTTPStore) Fetch(ctx context.Context, ref secretstore.Reference) (secretstore.SecretValue, error) {
	path := s.endpoint + "/secrets/" + url.PathEscape(ref.Name)
	if ref.Version != "" {
		path += "/" + url.PathEscape(ref.Version)
	}

	s.logger.Debug("Fetching secret %s", logging.Secret(ref.Name))

	resp, err := s.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return secretstore.SecretValue{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return secretstore.SecretValue{}, s.statusError(resp, "fetch", ref)
	}

	var payload secretPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return secretstore.SecretValue{}, &secretstore.UnavailableError{
			Store: s.name,
			Err:   fmt.Errorf("malformed response: %w", err),
		}
	}
	return payload.toValue(), nil
}

// Put implements secretstore.Store.
func (s *HTTPStore) Put(ctx context.Context, name string, value []byte, opts secretstore.PutOptions) (secretstore.SecretValue, error) {
	body, err := json.Marshal(secretPayload{
		Value:       value,
		ContentType: opts.ContentType,
		ExpiresAt:   opts.ExpiresAt,
		Tags:        opts.Tags,
	})
	if err != nil {
		return secretstore.SecretValue{}, err
	}

	path := s.endpoint + "/secrets/" + url.PathEscape(name)
	resp, err := s.do(ctx, http.MethodPut, path, bytes.NewReader(body))
	if err != nil {
		return secretstore.SecretValue{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return secretstore.SecretValue{}, s.statusError(resp, "put", secretstore.Reference{Name: name})
	}

	var payload secretPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return secretstore.SecretValue{}, &secretstore.UnavailableError{
			Store: s.name,
			Err:   fmt.Errorf("malformed response: %w", err),
		}
	}
	return payload.toValue(), nil
}

// listPage is the wire form of one listing page.
type listPage struct {
	Items []struct {
		Name      string            `json:"name"`
		Version   string            `json:"version,omitempty"`
		Enabled   bool              `json:"enabled"`
		ExpiresAt *time.Time        `json:"expiresAt,omitempty"`
		UpdatedAt time.Time         `json:"updatedAt,omitempty"`
		Tags      map[string]string `json:"tags,omitempty"`
	} `json:"items"`
	NextLink string `json:"nextLink,omitempty"`
}

// List implements secretstore.Store.
func (s *HTTPStore) List() secretstore.Pager {
	return &httpPager{
		store: s,
		next:  fmt.Sprintf("%s/secrets?maxresults=%d", s.endpoint, defaultPageSize),
	}
}

type httpPager struct {
	store *HTTPStore
	next  string
	done  bool
}

func (p *httpPager) More() bool { return !p.done }

func (p *httpPager) NextPage(ctx context.Context) ([]secretstore.SecretMetadata, error) {
	if p.done {
		return nil, secretstore.ErrNoMorePages
	}

	resp, err := p.store.do(ctx, http.MethodGet, p.next, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.store.statusError(resp, "list", secretstore.Reference{})
	}

	var page listPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, &secretstore.UnavailableError{
			Store: p.store.name,
			Err:   fmt.Errorf("malformed response: %w", err),
		}
	}

	if page.NextLink == "" {
		p.done = true
	} else {
		p.next = p.store.absoluteLink(page.NextLink)
	}

	out := make([]secretstore.SecretMetadata, 0, len(page.Items))
	for _, item := range page.Items {
		out = append(out, secretstore.SecretMetadata{
			Name:      item.Name,
			Version:   item.Version,
			Enabled:   item.Enabled,
			ExpiresAt: item.ExpiresAt,
			UpdatedAt: item.UpdatedAt,
			Tags:      item.Tags,
		})
	}
	return out, nil
}

// absoluteLink resolves a possibly relative nextLink against the
// endpoint.
func (s *HTTPStore) absoluteLink(link string) string {
	if strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") {
		return link
	}
	return s.endpoint + "/" + strings.TrimLeft(link, "/")
}

// Validate implements secretstore.Store with a one-item listing probe.
func (s *HTTPStore) Validate(ctx context.Context) error {
	resp, err := s.do(ctx, http.MethodGet, s.endpoint+"/secrets?maxresults=1", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return s.statusError(resp, "validate", secretstore.Reference{})
	}
	return nil
}

// do issues one authenticated request and classifies transport failures.
func (s *HTTPStore) do(ctx context.Context, method, rawURL string, body io.Reader) (*http.Response, error) {
	token, err := s.chain.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token.Value)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, s.transportError(method, err)
	}
	return resp, nil
}

// statusError maps a non-success HTTP status onto the error taxonomy.
func (s *HTTPStore) statusError(resp *http.Response, op string, ref secretstore.Reference) error {
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &secretstore.NotFoundError{Store: s.name, Name: ref.Name, Version: ref.Version}
	case resp.StatusCode == http.StatusUnauthorized:
		// The token may have been revoked before its expiry; drop it so
		// the next call re-authenticates.
		s.chain.Invalidate()
		return &secretstore.UnauthorizedError{Store: s.name, Message: op + " rejected with 401"}
	case resp.StatusCode == http.StatusForbidden:
		return &secretstore.UnauthorizedError{Store: s.name, Message: op + " rejected with 403"}
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return &secretstore.UnavailableError{
			Store: s.name,
			Err:   fmt.Errorf("%s returned %d", op, resp.StatusCode),
		}
	default:
		return fmt.Errorf("store %s: %s returned unexpected status %d", s.name, op, resp.StatusCode)
	}
}

// transportError classifies client-side request failures.
func (s *HTTPStore) transportError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &secretstore.TimeoutError{Store: s.name, Op: op, Timeout: s.client.Timeout}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &secretstore.TimeoutError{Store: s.name, Op: op, Timeout: s.client.Timeout}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &secretstore.UnavailableError{Store: s.name, Err: err}
}
