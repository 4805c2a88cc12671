package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/finbridge/finbridge/keys"
	"github.com/finbridge/finbridge/middleware"
	"github.com/finbridge/finbridge/models"
	"github.com/finbridge/finbridge/store"
)

var secretPattern = regexp.MustCompile(`^fbk_[A-Za-z0-9_-]{43}$`)

// keyTestRouter mounts the key routes behind a middleware that injects
// the given user id, standing in for session auth
func keyTestRouter(t *testing.T, userID string, maxActive int) http.Handler {
	t.Helper()

	st := store.NewMemoryStore()
	now := time.Now()
	if err := st.CreateUser(context.Background(), &models.User{
		ID:           userID,
		Email:        "alice@example.com",
		PasswordHash: "hashed",
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	material, err := keys.NewMaterial(keys.WithCost(bcrypt.MinCost))
	if err != nil {
		t.Fatalf("failed to create material: %v", err)
	}
	t.Cleanup(material.Close)

	ledger := keys.NewLedger(st, material, keys.LedgerOptions{MaxActiveKeys: maxActive}, nil)
	h := NewAPIKeyHandler(ledger)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := context.WithValue(req.Context(), middleware.UserContextKey, userID)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Post("/api/keys", h.Create)
	r.Get("/api/keys", h.List)
	r.Delete("/api/keys/{id}", h.Revoke)
	r.Post("/api/keys/verify", h.Verify)
	return r
}

func doRequest(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func createKey(t *testing.T, router http.Handler, body string) keys.IssuedKey {
	t.Helper()
	rec := doRequest(router, http.MethodPost, "/api/keys", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var issued keys.IssuedKey
	if err := json.Unmarshal(rec.Body.Bytes(), &issued); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return issued
}

func TestCreateAPIKey(t *testing.T) {
	router := keyTestRouter(t, "user-123", 5)

	issued := createKey(t, router, `{"name":"CI key"}`)

	if !secretPattern.MatchString(issued.Secret) {
		t.Errorf("secret %q does not match the issued key format", issued.Secret)
	}
	if issued.DisplayName != "CI key" {
		t.Errorf("DisplayName = %q, want CI key", issued.DisplayName)
	}
	if issued.ID == "" {
		t.Error("expected a key id")
	}
}

func TestCreateAPIKeyWithTTL(t *testing.T) {
	router := keyTestRouter(t, "user-123", 5)

	issued := createKey(t, router, `{"name":"short lived","expires_in":30}`)

	want := time.Now().Add(30 * 24 * time.Hour)
	if issued.ExpiresAt.Before(want.Add(-time.Minute)) || issued.ExpiresAt.After(want.Add(time.Minute)) {
		t.Errorf("ExpiresAt = %v, want about %v", issued.ExpiresAt, want)
	}
}

func TestCreateAPIKeyRejections(t *testing.T) {
	router := keyTestRouter(t, "user-123", 5)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"name too short", `{"name":"ab"}`, http.StatusBadRequest},
		{"name too long", `{"name":"` + strings.Repeat("x", 51) + `"}`, http.StatusBadRequest},
		{"invalid body", `{not json`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(router, http.MethodPost, "/api/keys", tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestCreateAPIKeyLimit(t *testing.T) {
	router := keyTestRouter(t, "user-123", 2)

	createKey(t, router, `{"name":"first key"}`)
	createKey(t, router, `{"name":"second key"}`)

	rec := doRequest(router, http.MethodPost, "/api/keys", `{"name":"third key"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409: %s", rec.Code, rec.Body.String())
	}
}

func TestListAPIKeysMasksSecrets(t *testing.T) {
	router := keyTestRouter(t, "user-123", 5)

	issued := createKey(t, router, `{"name":"CI key"}`)

	rec := doRequest(router, http.MethodGet, "/api/keys", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		APIKeys []APIKeyInfo `json:"api_keys"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.APIKeys) != 1 {
		t.Fatalf("got %d keys, want 1", len(resp.APIKeys))
	}

	got := resp.APIKeys[0]
	if got.Key == issued.Secret {
		t.Error("listing must not expose the plaintext secret")
	}
	if !strings.Contains(got.Key, "****") {
		t.Errorf("Key = %q, want masked form", got.Key)
	}
	if strings.Contains(rec.Body.String(), issued.Secret) {
		t.Error("response body contains the plaintext secret")
	}
}

func TestRevokeAPIKey(t *testing.T) {
	router := keyTestRouter(t, "user-123", 5)

	issued := createKey(t, router, `{"name":"doomed key"}`)

	rec := doRequest(router, http.MethodDelete, "/api/keys/"+issued.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	// Second revoke conflicts
	rec = doRequest(router, http.MethodDelete, "/api/keys/"+issued.ID, "")
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409: %s", rec.Code, rec.Body.String())
	}

	// Unknown key
	rec = doRequest(router, http.MethodDelete, "/api/keys/no-such-key", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404: %s", rec.Code, rec.Body.String())
	}
}

func TestVerifyAPIKey(t *testing.T) {
	router := keyTestRouter(t, "user-123", 5)

	issued := createKey(t, router, `{"name":"probe key"}`)

	tests := []struct {
		name string
		key  string
		want bool
	}{
		{"valid key", issued.Secret, true},
		{"wrong key", "fbk_AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", false},
		{"malformed key", "not-a-key", false},
		{"empty key", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(map[string]string{"key": tt.key})
			rec := doRequest(router, http.MethodPost, "/api/keys/verify", string(body))
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}

			var resp map[string]bool
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp["valid"] != tt.want {
				t.Errorf("valid = %v, want %v", resp["valid"], tt.want)
			}
		})
	}
}
