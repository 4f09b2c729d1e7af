package stores

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/secretcache/pkg/credential"
	"github.com/systmms/secretcache/pkg/secretstore"
)

func testChain(token string) *credential.Chain {
	return credential.NewChain([]credential.Provider{
		&credential.StaticProvider{
			Token: credential.Token{Value: token, ExpiresAt: time.Now().Add(time.Hour)},
		},
	})
}

func newTestHTTPStore(t *testing.T, handler http.Handler) (*HTTPStore, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store, err := NewHTTPStore(server.URL, testChain("test-token"))
	require.NoError(t, err)
	return store, server
}

func TestNewHTTPStoreRejectsRelativeEndpoint(t *testing.T) {
	t.Parallel()

	for _, endpoint := range []string{"", "not-a-url", "/just/a/path"} {
		_, err := NewHTTPStore(endpoint, testChain("t"))
		assert.Error(t, err, "endpoint %q", endpoint)
	}
}

func TestHTTPStoreFetch(t *testing.T) {
	t.Parallel()

	store, _ := newTestHTTPStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "/secrets/db-password", r.URL.Path)

		_ = json.NewEncoder(w).Encode(secretPayload{
			Value:       []byte("hunter2"),
			Version:     "v7",
			ContentType: "text/plain",
		})
	}))

	val, err := store.Fetch(context.Background(), secretstore.Reference{Name: "db-password"})
	require.NoError(t, err)
	assert.Equal(t, []byte("hunter2"), val.Value)
	assert.Equal(t, "v7", val.Version)
	assert.Equal(t, "text/plain", val.ContentType)
}

func TestHTTPStoreFetchVersionedPath(t *testing.T) {
	t.Parallel()

	store, _ := newTestHTTPStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/secrets/db-password/v3", r.URL.Path)
		_ = json.NewEncoder(w).Encode(secretPayload{Value: []byte("old"), Version: "v3"})
	}))

	val, err := store.Fetch(context.Background(), secretstore.Reference{Name: "db-password", Version: "v3"})
	require.NoError(t, err)
	assert.Equal(t, "v3", val.Version)
}

func TestHTTPStoreFetchErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{"404 is not found", http.StatusNotFound, func(t *testing.T, err error) {
			assert.True(t, secretstore.IsNotFound(err))
		}},
		{"401 is unauthorized", http.StatusUnauthorized, func(t *testing.T, err error) {
			assert.True(t, secretstore.IsUnauthorized(err))
		}},
		{"403 is unauthorized", http.StatusForbidden, func(t *testing.T, err error) {
			assert.True(t, secretstore.IsUnauthorized(err))
		}},
		{"429 is transient", http.StatusTooManyRequests, func(t *testing.T, err error) {
			assert.True(t, secretstore.IsTransient(err))
		}},
		{"503 is transient", http.StatusServiceUnavailable, func(t *testing.T, err error) {
			assert.True(t, secretstore.IsTransient(err))
		}},
		{"418 is permanent and unclassified", http.StatusTeapot, func(t *testing.T, err error) {
			assert.False(t, secretstore.IsTransient(err))
			assert.False(t, secretstore.IsNotFound(err))
			assert.False(t, secretstore.IsUnauthorized(err))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store, _ := newTestHTTPStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			_, err := store.Fetch(context.Background(), secretstore.Reference{Name: "x"})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestHTTPStore401InvalidatesChainToken(t *testing.T) {
	t.Parallel()

	var issued atomic.Int32
	provider := &credential.StaticProvider{
		Token: credential.Token{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)},
	}
	chain := credential.NewChain([]credential.Provider{providerCounting{provider, &issued}})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	store, err := NewHTTPStore(server.URL, chain)
	require.NoError(t, err)

	_, err = store.Fetch(context.Background(), secretstore.Reference{Name: "x"})
	assert.True(t, secretstore.IsUnauthorized(err))

	_, err = store.Fetch(context.Background(), secretstore.Reference{Name: "x"})
	assert.True(t, secretstore.IsUnauthorized(err))

	// The 401 dropped the cached token, so each fetch re-acquired.
	assert.Equal(t, int32(2), issued.Load())
}

// providerCounting counts Acquire calls through to the wrapped provider.
type providerCounting struct {
	inner *credential.StaticProvider
	calls *atomic.Int32
}

func (p providerCounting) Name() string { return p.inner.Name() }

func (p providerCounting) Acquire(ctx context.Context) (credential.Token, error) {
	p.calls.Add(1)
	return p.inner.Acquire(ctx)
}

func TestHTTPStoreFetchTimeout(t *testing.T) {
	t.Parallel()

	store, _ := newTestHTTPStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := store.Fetch(ctx, secretstore.Reference{Name: "slow"})
	require.Error(t, err)

	var timeout *secretstore.TimeoutError
	assert.ErrorAs(t, err, &timeout)
	assert.True(t, secretstore.IsTransient(err))
}

func TestHTTPStorePutThenFetch(t *testing.T) {
	t.Parallel()

	store, _ := newTestHTTPStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			assert.Equal(t, "/secrets/api-key", r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			var payload secretPayload
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, []byte("fresh"), payload.Value)

			payload.Version = "v2"
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(payload)
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(secretPayload{Value: []byte("fresh"), Version: "v2"})
		}
	}))

	written, err := store.Put(context.Background(), "api-key", []byte("fresh"), secretstore.PutOptions{
		Tags: map[string]string{"team": "platform"},
	})
	require.NoError(t, err)
	assert.Equal(t, "v2", written.Version)

	val, err := store.Fetch(context.Background(), secretstore.Reference{Name: "api-key"})
	require.NoError(t, err)
	assert.Equal(t, written.Version, val.Version)
}

func TestHTTPStoreListPagination(t *testing.T) {
	t.Parallel()

	var server *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/secrets", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("skiptoken") == "" {
			_, _ = w.Write([]byte(`{"items":[{"name":"a","enabled":true},{"name":"b","enabled":true}],` +
				`"nextLink":"` + server.URL + `/secrets?skiptoken=page2"}`))
			return
		}
		_, _ = w.Write([]byte(`{"items":[{"name":"c","enabled":false}]}`))
	})
	server = httptest.NewServer(mux)
	defer server.Close()

	store, err := NewHTTPStore(server.URL, testChain("t"))
	require.NoError(t, err)

	pager := store.List()
	var names []string
	pages := 0
	for pager.More() {
		page, err := pager.NextPage(context.Background())
		require.NoError(t, err)
		pages++
		for _, meta := range page {
			names = append(names, meta.Name)
		}
	}

	assert.Equal(t, 2, pages)
	assert.Equal(t, []string{"a", "b", "c"}, names)

	_, err = pager.NextPage(context.Background())
	assert.ErrorIs(t, err, secretstore.ErrNoMorePages)
}

func TestHTTPStoreValidate(t *testing.T) {
	t.Parallel()

	store, _ := newTestHTTPStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("maxresults"))
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))

	assert.NoError(t, store.Validate(context.Background()))
}

func TestHTTPStoreValidateSurfacesAuthFailure(t *testing.T) {
	t.Parallel()

	store, _ := newTestHTTPStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	err := store.Validate(context.Background())
	assert.True(t, secretstore.IsUnauthorized(err))
}
