package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/finbridge/finbridge/middleware"
	"github.com/finbridge/finbridge/models"
	"github.com/finbridge/finbridge/store"
	"github.com/finbridge/finbridge/upstream"
)

func newConnectionHandler(t *testing.T, tokenURL string) (*ConnectionHandler, *store.MemoryStore) {
	t.Helper()

	st := store.NewMemoryStore()
	now := time.Now()
	if err := st.CreateUser(context.Background(), &models.User{
		ID:           "user-123",
		Email:        "alice@example.com",
		PasswordHash: "hashed",
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	client := upstream.NewClient(5*time.Second, upstream.RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
	}, nil)
	rotator := upstream.NewRotator(upstream.RotatorConfig{
		TokenURL: tokenURL,
		ClientID: "finbridge-client",
	}, st, client, nil)

	return NewConnectionHandler(rotator), st
}

func authedRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	ctx := context.WithValue(req.Context(), middleware.UserContextKey, "user-123")
	return req.WithContext(ctx)
}

func TestConnectEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"a","refresh_token":"r","token_type":"Bearer","expires_in":3600}`)
	}))
	defer srv.Close()

	h, st := newConnectionHandler(t, srv.URL)

	rec := httptest.NewRecorder()
	h.Connect(rec, authedRequest(http.MethodPost, "/api/connection", `{"code":"consent-code"}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var status ConnectionStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !status.Connected {
		t.Error("expected connected = true")
	}
	if status.ExpiresAt == nil {
		t.Error("expected an expiry timestamp")
	}
	if strings.Contains(rec.Body.String(), `"access_token"`) || strings.Contains(rec.Body.String(), `"refresh_token"`) {
		t.Error("connection response must not expose tokens")
	}

	user, err := st.GetUserByID(context.Background(), "user-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !user.Connection.Connected {
		t.Error("user should be connected in the store")
	}
}

func TestConnectEndpointRejections(t *testing.T) {
	h, _ := newConnectionHandler(t, "http://unused.example.com")

	rec := httptest.NewRecorder()
	h.Connect(rec, authedRequest(http.MethodPost, "/api/connection", `{"code":""}`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty code: status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Connect(rec, authedRequest(http.MethodPost, "/api/connection", `{not json`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad body: status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/connection", strings.NewReader(`{"code":"x"}`))
	h.Connect(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no user: status = %d, want 401", rec.Code)
	}
}

func TestStatusNotConnected(t *testing.T) {
	h, _ := newConnectionHandler(t, "http://unused.example.com")

	rec := httptest.NewRecorder()
	h.Status(rec, authedRequest(http.MethodGet, "/api/connection", ""))

	if rec.Code != http.StatusPreconditionFailed {
		t.Errorf("status = %d, want 412: %s", rec.Code, rec.Body.String())
	}
}

func TestStatusConnected(t *testing.T) {
	h, st := newConnectionHandler(t, "http://unused.example.com")

	expiresAt := time.Now().Add(2 * time.Hour)
	if _, err := st.UpdateConnection(context.Background(), "user-123", models.UpstreamConnection{
		AccessToken:  "a",
		RefreshToken: "r",
		ExpiresAt:    &expiresAt,
		Connected:    true,
	}, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := httptest.NewRecorder()
	h.Status(rec, authedRequest(http.MethodGet, "/api/connection", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Connected bool  `json:"connected"`
		ExpiresIn int64 `json:"expires_in"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Connected {
		t.Error("expected connected = true")
	}
	if resp.ExpiresIn < 7000 || resp.ExpiresIn > 7200 {
		t.Errorf("expires_in = %d, want about 7200", resp.ExpiresIn)
	}
}

func TestDisconnectEndpoint(t *testing.T) {
	h, st := newConnectionHandler(t, "http://unused.example.com")

	expiresAt := time.Now().Add(time.Hour)
	if _, err := st.UpdateConnection(context.Background(), "user-123", models.UpstreamConnection{
		AccessToken:  "a",
		RefreshToken: "r",
		ExpiresAt:    &expiresAt,
		Connected:    true,
	}, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := httptest.NewRecorder()
	h.Disconnect(rec, authedRequest(http.MethodDelete, "/api/connection", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var status ConnectionStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if status.Connected {
		t.Error("expected connected = false")
	}
	if status.ExpiresAt != nil {
		t.Error("expected no expiry after disconnect")
	}
}
