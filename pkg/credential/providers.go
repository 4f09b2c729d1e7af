package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/zalando/go-keyring"
)

// Environment variable names consumed by ClientSecretProvider when no
// explicit values are configured.
const (
	EnvTokenURL     = "SECRETCACHE_TOKEN_URL"
	EnvClientID     = "SECRETCACHE_CLIENT_ID"
	EnvClientSecret = "SECRETCACHE_CLIENT_SECRET"
	EnvScope        = "SECRETCACHE_SCOPE"
)

// ClientSecretProvider exchanges a client ID and secret for a bearer token
// using the OAuth2 client-credentials grant. Configuration comes from
// explicit fields or, when they are empty, from SECRETCACHE_* environment
// variables — which also makes this the "environment-injected identity"
// leg of the chain.
type ClientSecretProvider struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        string

	// HTTPClient overrides http.DefaultClient, mainly for tests.
	HTTPClient *http.Client
}

// Name implements Provider.
func (p *ClientSecretProvider) Name() string { return "client-secret" }

// Acquire performs the token exchange.
func (p *ClientSecretProvider) Acquire(ctx context.Context) (Token, error) {
	tokenURL := firstNonEmpty(p.TokenURL, os.Getenv(EnvTokenURL))
	clientID := firstNonEmpty(p.ClientID, os.Getenv(EnvClientID))
	clientSecret := firstNonEmpty(p.ClientSecret, os.Getenv(EnvClientSecret))
	scope := firstNonEmpty(p.Scope, os.Getenv(EnvScope))

	if tokenURL == "" || clientID == "" || clientSecret == "" {
		return Token{}, errors.New("client credentials not configured (set " +
			EnvTokenURL + ", " + EnvClientID + ", " + EnvClientSecret + ")")
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	if scope != "" {
		form.Set("scope", scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return Token{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Token{}, fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Token{}, fmt.Errorf("invalid token response: %w", err)
	}
	if body.AccessToken == "" {
		return Token{}, errors.New("token response missing access_token")
	}

	expiresIn := body.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}

	return Token{
		Value:     body.AccessToken,
		ExpiresAt: time.Now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

// KeyringService is the OS keyring service name under which the login
// command stores developer tokens.
const KeyringService = "secretcache"

// KeyringProvider reads a developer login token from the OS keyring
// (macOS Keychain, Linux Secret Service, Windows Credential Manager).
// The token is written by `secretcache login`.
type KeyringProvider struct {
	// Account is the keyring account name, typically the endpoint host.
	Account string

	// TTL bounds how long a keyring token is trusted after being read.
	// The keyring stores no expiry, so the chain re-reads periodically.
	// Defaults to one hour.
	TTL time.Duration
}

// Name implements Provider.
func (p *KeyringProvider) Name() string { return "keyring" }

// Acquire reads the stored token.
func (p *KeyringProvider) Acquire(ctx context.Context) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}

	secret, err := keyring.Get(KeyringService, p.Account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return Token{}, fmt.Errorf("no stored login for %q (run `secretcache login`)", p.Account)
		}
		return Token{}, err
	}

	ttl := p.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	return Token{Value: secret, ExpiresAt: time.Now().Add(ttl)}, nil
}

// StoreLogin writes a developer token into the OS keyring for the given
// account. Used by the login command.
func StoreLogin(account, token string) error {
	return keyring.Set(KeyringService, account, token)
}

// DeleteLogin removes a stored developer token.
func DeleteLogin(account string) error {
	err := keyring.Delete(KeyringService, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// StaticProvider returns a fixed token. Useful for tests and for wiring a
// literal token through configuration in development.
type StaticProvider struct {
	Token Token

	// Err, when set, makes Acquire fail. Test hook.
	Err error
}

// Name implements Provider.
func (p *StaticProvider) Name() string { return "static" }

// Acquire implements Provider.
func (p *StaticProvider) Acquire(ctx context.Context) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	if p.Err != nil {
		return Token{}, p.Err
	}
	return p.Token, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
