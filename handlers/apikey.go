package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/finbridge/finbridge/keys"
	"github.com/finbridge/finbridge/middleware"
	"github.com/finbridge/finbridge/models"
)

// APIKeyHandler handles API key management endpoints
type APIKeyHandler struct {
	ledger *keys.Ledger
}

// NewAPIKeyHandler creates a new API key handler
func NewAPIKeyHandler(ledger *keys.Ledger) *APIKeyHandler {
	return &APIKeyHandler{ledger: ledger}
}

// CreateAPIKeyRequest represents a request to mint an API key
type CreateAPIKeyRequest struct {
	Name      string `json:"name"`
	ExpiresIn *int   `json:"expires_in,omitempty"` // days, nil means default TTL
}

// APIKeyInfo represents API key metadata (with the secret masked)
type APIKeyInfo struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name"`
	Key         string     `json:"key"` // Masked display form
	CreatedAt   time.Time  `json:"created_at"`
	LastUsedAt  *time.Time `json:"last_used_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	IsActive    bool       `json:"is_active"`
}

func keyInfo(key *models.APIKey) APIKeyInfo {
	return APIKeyInfo{
		ID:          key.ID,
		DisplayName: key.DisplayName,
		Key:         key.MaskedKey,
		CreatedAt:   key.CreatedAt,
		LastUsedAt:  key.LastUsedAt,
		ExpiresAt:   key.ExpiresAt,
		IsActive:    key.IsActive,
	}
}

// Create handles API key creation. The plaintext secret appears in this
// response and nowhere else, ever again.
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req CreateAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := models.ValidateKeyName(req.Name); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var ttl time.Duration
	if req.ExpiresIn != nil && *req.ExpiresIn > 0 {
		ttl = time.Duration(*req.ExpiresIn) * 24 * time.Hour
	}

	issued, err := h.ledger.Issue(r.Context(), userID, req.Name, ttl)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, issued)
}

// List handles listing API keys for the current user
func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	userKeys, err := h.ledger.List(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	result := make([]APIKeyInfo, 0, len(userKeys))
	for _, key := range userKeys {
		result = append(result, keyInfo(key))
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"api_keys": result,
	})
}

// Revoke handles revoking an API key
func (h *APIKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	keyID := chi.URLParam(r, "id")
	if keyID == "" {
		respondError(w, http.StatusBadRequest, "missing key id")
		return
	}

	revoked, err := h.ledger.Revoke(r.Context(), userID, keyID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "API key revoked successfully",
		"api_key": keyInfo(revoked),
	})
}

// VerifyAPIKeyRequest represents a verification probe
type VerifyAPIKeyRequest struct {
	Key string `json:"key"`
}

// Verify checks a candidate secret against the current user's active keys
func (h *APIKeyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req VerifyAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{
		"valid": h.ledger.Verify(r.Context(), userID, req.Key),
	})
}
