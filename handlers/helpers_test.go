package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/finbridge/finbridge/keys"
	"github.com/finbridge/finbridge/store"
	"github.com/finbridge/finbridge/upstream"
)

func TestRespondDomainError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"key limit", keys.ErrLimitExceeded, http.StatusConflict},
		{"key not found", keys.ErrNotFound, http.StatusNotFound},
		{"store not found", store.ErrNotFound, http.StatusNotFound},
		{"already inactive", keys.ErrAlreadyInactive, http.StatusConflict},
		{"key expired", keys.ErrKeyExpired, http.StatusGone},
		{"version conflict", store.ErrVersionConflict, http.StatusConflict},
		{"not connected", upstream.ErrNotConnected, http.StatusPreconditionFailed},
		{"invalid state", upstream.ErrInvalidState, http.StatusConflict},
		{"invalid refresh token", upstream.ErrInvalidRefreshToken, http.StatusBadRequest},
		{"connection expired", upstream.ErrConnectionExpired, http.StatusUnauthorized},
		{"provider unavailable", upstream.ErrUnavailable, http.StatusBadGateway},
		{"wrapped error", fmt.Errorf("context: %w", upstream.ErrNotConnected), http.StatusPreconditionFailed},
		{"unknown error", errors.New("something odd"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			respondDomainError(rec, tt.err)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestHealthCheck(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}
