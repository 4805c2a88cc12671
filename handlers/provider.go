package handlers

import (
	"io"
	"net/http"

	"github.com/finbridge/finbridge/upstream"
)

// ProviderHandler exposes service-level provider data fetched with the
// broker's client-credentials token
type ProviderHandler struct {
	broker *upstream.Broker
}

// NewProviderHandler creates a new provider handler. The broker may be
// nil when no signing key is configured; requests then get a 503.
func NewProviderHandler(broker *upstream.Broker) *ProviderHandler {
	return &ProviderHandler{broker: broker}
}

// Institutions proxies the provider's institution directory
func (h *ProviderHandler) Institutions(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		respondError(w, http.StatusServiceUnavailable, "provider access not configured")
		return
	}

	resp, err := h.broker.Request(r.Context(), http.MethodGet, "/institutions", nil)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respondError(w, http.StatusBadGateway, "provider returned an error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	io.Copy(w, resp.Body)
}
