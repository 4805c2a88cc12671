package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/finbridge/finbridge/middleware"
	"github.com/finbridge/finbridge/models"
	"github.com/finbridge/finbridge/upstream"
)

// ConnectionHandler handles the user's provider connection endpoints
type ConnectionHandler struct {
	rotator *upstream.Rotator
}

// NewConnectionHandler creates a new connection handler
func NewConnectionHandler(rotator *upstream.Rotator) *ConnectionHandler {
	return &ConnectionHandler{rotator: rotator}
}

// ConnectRequest carries the authorization code from the provider's
// consent redirect
type ConnectRequest struct {
	Code string `json:"code"`
}

// ConnectionStatus is the outward view of a connection; tokens stay out
type ConnectionStatus struct {
	Connected bool    `json:"connected"`
	ExpiresAt *string `json:"expires_at,omitempty"`
}

func connectionStatus(user *models.User) ConnectionStatus {
	status := ConnectionStatus{Connected: user.Connection.Connected}
	if user.Connection.ExpiresAt != nil {
		s := user.Connection.ExpiresAt.UTC().Format(time.RFC3339)
		status.ExpiresAt = &s
	}
	return status
}

// Connect exchanges an authorization code for the initial token pair
func (h *ConnectionHandler) Connect(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" {
		respondError(w, http.StatusBadRequest, "code is required")
		return
	}

	user, err := h.rotator.Connect(r.Context(), userID, req.Code)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, connectionStatus(user))
}

// Status returns whether the user currently holds a usable token pair
func (h *ConnectionHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	pair, err := h.rotator.EnsureFresh(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"connected":  true,
		"expires_in": pair.ExpiresIn,
	})
}

// Disconnect clears the user's provider connection
func (h *ConnectionHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	user, err := h.rotator.Disconnect(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, connectionStatus(user))
}
