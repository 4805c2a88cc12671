package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/finbridge/finbridge/keys"
	"github.com/finbridge/finbridge/store"
	"github.com/finbridge/finbridge/upstream"
)

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{
		"error": message,
	})
}

// respondDomainError maps the credential and token error kinds onto
// HTTP statuses. Anything unrecognized is a 500.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, keys.ErrLimitExceeded):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, keys.ErrNotFound), errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, keys.ErrAlreadyInactive):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, keys.ErrKeyExpired):
		respondError(w, http.StatusGone, err.Error())
	case errors.Is(err, store.ErrVersionConflict):
		respondError(w, http.StatusConflict, "concurrent modification, please retry")
	case errors.Is(err, upstream.ErrNotConnected):
		respondError(w, http.StatusPreconditionFailed, err.Error())
	case errors.Is(err, upstream.ErrInvalidState):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, upstream.ErrInvalidRefreshToken):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, upstream.ErrConnectionExpired):
		respondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, upstream.ErrUnavailable):
		respondError(w, http.StatusBadGateway, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
