package upstream

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// safetyMargin absorbs clock skew and in-flight latency when judging
	// whether the cached service token is still usable
	safetyMargin = 30 * time.Second

	// assertionValidity is the lifetime of a signed client assertion
	assertionValidity = 5 * time.Minute

	clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
)

// serviceToken is the cached client-credentials token. Replacements swap
// the whole record, so a thundering herd on expiry can waste work but
// never corrupt the cache: the last successful response wins.
type serviceToken struct {
	token     string
	expiresAt time.Time
}

// BrokerConfig configures the service-level token broker
type BrokerConfig struct {
	TokenURL   string
	APIBaseURL string
	ClientID   string
	SigningKey *rsa.PrivateKey
}

// Broker acquires and caches the service's own client-credentials token
// against the provider, shared across all users' requests to minimize
// assertion signing. It is an injected single-owner cache, not a
// process global.
type Broker struct {
	cfg    BrokerConfig
	client *Client
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	cached *serviceToken
}

// NewBroker creates a service token broker
func NewBroker(cfg BrokerConfig, client *Client, logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		cfg:    cfg,
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

// ParseSigningKey parses an RSA private key from PEM
func ParseSigningKey(pemData string) (*rsa.PrivateKey, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(pemData))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningKey, err)
	}
	return key, nil
}

// ServiceToken returns the cached token while it has more than the
// safety margin of validity left, otherwise runs the full acquisition
// flow. Acquisition is not deduplicated across concurrent callers; the
// cache write is an atomic whole-record replacement.
func (b *Broker) ServiceToken(ctx context.Context) (string, error) {
	b.mu.Lock()
	cached := b.cached
	b.mu.Unlock()

	if cached != nil && b.now().Before(cached.expiresAt.Add(-safetyMargin)) {
		return cached.token, nil
	}

	return b.acquire(ctx)
}

// Invalidate drops the cached token, forcing a fresh acquisition on the
// next call. Used when the provider answers 401 with the current token.
func (b *Broker) Invalidate() {
	b.mu.Lock()
	b.cached = nil
	b.mu.Unlock()
}

// acquire exchanges a signed assertion via the client-credentials grant
func (b *Broker) acquire(ctx context.Context) (string, error) {
	assertion, err := b.signAssertion()
	if err != nil {
		return "", err
	}

	form := url.Values{
		"grant_type":            {"client_credentials"},
		"client_id":             {b.cfg.ClientID},
		"client_assertion_type": {clientAssertionType},
		"client_assertion":      {assertion},
	}

	resp, err := b.client.Do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, b.cfg.TokenURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("service token request failed (status %d): %s", resp.StatusCode, body)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.AccessToken == "" || tr.ExpiresIn <= 0 {
		return "", fmt.Errorf("provider returned unusable service token")
	}

	token := &serviceToken{
		token:     tr.AccessToken,
		expiresAt: b.now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}

	b.mu.Lock()
	b.cached = token
	b.mu.Unlock()

	b.logger.Info("service token acquired", zap.Time("expires_at", token.expiresAt))
	return token.token, nil
}

// signAssertion builds the client assertion: service identity as issuer
// and subject, token endpoint as audience, short validity, unique id.
func (b *Broker) signAssertion() (string, error) {
	if b.cfg.SigningKey == nil {
		return "", ErrSigningKey
	}

	now := b.now()
	claims := jwt.RegisteredClaims{
		Issuer:    b.cfg.ClientID,
		Subject:   b.cfg.ClientID,
		Audience:  jwt.ClaimStrings{b.cfg.TokenURL},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(assertionValidity)),
		ID:        uuid.New().String(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(b.cfg.SigningKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigningKey, err)
	}
	return signed, nil
}

// Request performs an authenticated call against the provider API. A 401
// response invalidates the cached token and propagates the failure; it
// is never silently retried with a stale identity.
func (b *Broker) Request(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	token, err := b.ServiceToken(ctx)
	if err != nil {
		return nil, err
	}

	var payload []byte
	if body != nil {
		payload, err = io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
	}

	resp, err := b.client.Do(ctx, func() (*http.Request, error) {
		var reader io.Reader
		if payload != nil {
			reader = strings.NewReader(string(payload))
		}
		req, err := http.NewRequest(method, b.cfg.APIBaseURL+path, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		b.Invalidate()
		b.logger.Warn("service token rejected, cache invalidated", zap.String("path", path))
		return nil, fmt.Errorf("provider rejected service token (status 401)")
	}

	return resp, nil
}

// tokenResponse is the provider's token endpoint payload, shared by the
// client-credentials, refresh and authorization-code grants
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}
