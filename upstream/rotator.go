package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/finbridge/finbridge/models"
	"github.com/finbridge/finbridge/store"
)

// freshnessWindow is the remaining validity below which EnsureFresh
// refreshes instead of returning the stored pair
const freshnessWindow = 5 * time.Minute

// RotatorConfig configures the per-user token rotator
type RotatorConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Rotator manages each user's personal provider access/refresh token
// pair. Refreshed pairs are committed under optimistic concurrency on
// the user's token version, so concurrent rotations cannot clobber each
// other.
type Rotator struct {
	cfg    RotatorConfig
	store  store.Store
	client *Client
	logger *zap.Logger
	now    func() time.Time
}

// NewRotator creates a user token rotator
func NewRotator(cfg RotatorConfig, st store.Store, client *Client, logger *zap.Logger) *Rotator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rotator{
		cfg:    cfg,
		store:  st,
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

// TokenPair is a user's provider token pair as returned to callers
type TokenPair struct {
	AccessToken  string `json:"-"`
	RefreshToken string `json:"-"`
	ExpiresIn    int64  `json:"expires_in"`
}

// EnsureFresh returns the user's token pair, refreshing it first when
// less than five minutes of validity remain. A provider 400 means the
// refresh token is malformed; a 401 means it has been revoked, in which
// case the connection is cleared so the caller can prompt a reconnect.
func (r *Rotator) EnsureFresh(ctx context.Context, userID string) (*TokenPair, error) {
	user, err := r.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	conn := user.Connection
	if !conn.Connected || conn.RefreshToken == "" {
		return nil, ErrNotConnected
	}
	if conn.ExpiresAt == nil || conn.ExpiresAt.IsZero() {
		return nil, ErrInvalidState
	}

	now := r.now()
	if remaining := conn.ExpiresAt.Sub(now); remaining > freshnessWindow {
		return &TokenPair{
			AccessToken:  conn.AccessToken,
			RefreshToken: conn.RefreshToken,
			ExpiresIn:    int64(remaining / time.Second),
		}, nil
	}

	tokens, err := r.refresh(ctx, conn.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrConnectionExpired) {
			// The refresh token itself is dead; clear the pair so
			// subsequent reads show the user disconnected.
			if _, clearErr := r.Disconnect(ctx, userID); clearErr != nil {
				r.logger.Error("failed to clear expired connection",
					zap.String("user_id", userID),
					zap.Error(clearErr),
				)
			}
		}
		r.logger.Warn("token refresh failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil, err
	}

	if _, err := r.Commit(ctx, userID, tokens, conn.TokenVersion); err != nil {
		return nil, err
	}
	return tokens, nil
}

// Commit persists a new token pair as a single conditional update on
// the token version read when the rotation began. A version conflict
// means another rotation won; the caller must re-read rather than
// retry with stale local state.
func (r *Rotator) Commit(ctx context.Context, userID string, tokens *TokenPair, expectedVersion int64) (*models.User, error) {
	expiresAt := r.now().Add(time.Duration(tokens.ExpiresIn) * time.Second)
	conn := models.UpstreamConnection{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    &expiresAt,
		Connected:    true,
	}

	user, err := r.store.UpdateConnection(ctx, userID, conn, expectedVersion)
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			r.logger.Warn("concurrent token rotation lost",
				zap.String("user_id", userID),
				zap.Int64("expected_version", expectedVersion),
			)
		}
		return nil, err
	}
	return user, nil
}

// Connect exchanges an authorization code for the user's initial token
// pair and commits it. A pair the provider hands back already expired
// is rejected.
func (r *Rotator) Connect(ctx context.Context, userID, authorizationCode string) (*models.User, error) {
	user, err := r.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	form := url.Values{
		"grant_type": {"authorization_code"},
		"code":       {authorizationCode},
	}
	if r.cfg.RedirectURI != "" {
		form.Set("redirect_uri", r.cfg.RedirectURI)
	}

	tokens, err := r.exchange(ctx, form)
	if err != nil {
		return nil, err
	}
	if tokens.ExpiresIn <= 0 {
		return nil, fmt.Errorf("%w: provider returned an already-expired token", ErrInvalidState)
	}

	updated, err := r.Commit(ctx, userID, tokens, user.Connection.TokenVersion)
	if err != nil {
		return nil, err
	}

	r.logger.Info("connection established", zap.String("user_id", userID))
	return updated, nil
}

// Disconnect clears the user's token pair atomically
func (r *Rotator) Disconnect(ctx context.Context, userID string) (*models.User, error) {
	user, err := r.store.ClearConnection(ctx, userID)
	if err != nil {
		return nil, err
	}
	r.logger.Info("connection cleared", zap.String("user_id", userID))
	return user, nil
}

// refresh runs the refresh grant and maps the provider's rejection
// statuses onto the rotator's error kinds: 400 means the refresh token
// is malformed, 401 means it has been revoked or expired.
func (r *Rotator) refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	tokens, err := r.exchange(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	})
	if err != nil {
		var statusErr *exchangeStatusError
		if errors.As(err, &statusErr) {
			switch statusErr.status {
			case http.StatusBadRequest:
				return nil, ErrInvalidRefreshToken
			case http.StatusUnauthorized:
				return nil, ErrConnectionExpired
			}
		}
		return nil, err
	}
	return tokens, nil
}

// exchangeStatusError carries a non-retryable token endpoint rejection
type exchangeStatusError struct {
	status int
	body   string
}

func (e *exchangeStatusError) Error() string {
	return fmt.Sprintf("token exchange failed (status %d): %s", e.status, e.body)
}

// exchange calls the provider token endpoint with the given grant form.
// Transport failures and 5xx responses go through the shared retry
// policy; 4xx rejections come back as *exchangeStatusError.
func (r *Rotator) exchange(ctx context.Context, form url.Values) (*TokenPair, error) {
	form.Set("client_id", r.cfg.ClientID)
	if r.cfg.ClientSecret != "" {
		form.Set("client_secret", r.cfg.ClientSecret)
	}

	resp, err := r.client.Do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, r.cfg.TokenURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &exchangeStatusError{status: resp.StatusCode, body: string(body)}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.AccessToken == "" || tr.RefreshToken == "" {
		return nil, fmt.Errorf("provider returned incomplete token pair")
	}

	return &TokenPair{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresIn:    tr.ExpiresIn,
	}, nil
}
