package models

import (
	"errors"
	"time"
)

// DefaultKeyTTL is the key lifetime applied when the caller does not ask
// for one.
const DefaultKeyTTL = 90 * 24 * time.Hour

// MaxKeyTTL caps the lifetime a caller may request for a key.
const MaxKeyTTL = 365 * 24 * time.Hour

// APIKey represents a long-lived API key issued to a user for
// programmatic access. The plaintext secret is never stored; only its
// bcrypt hash survives issuance.
type APIKey struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	DisplayName string     `json:"display_name"`
	SecretHash  string     `json:"-"`   // Never expose in JSON, stored as hash
	MaskedKey   string     `json:"key"` // Display form, computed once at creation
	CreatedAt   time.Time  `json:"created_at"`
	LastUsedAt  *time.Time `json:"last_used_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	IsActive    bool       `json:"is_active"`
}

// Validate validates APIKey fields
func (k *APIKey) Validate() error {
	if k.ID == "" {
		return errors.New("id is required")
	}
	if len(k.ID) > 36 {
		return errors.New("id must be <= 36 characters")
	}
	if k.UserID == "" {
		return errors.New("user_id is required")
	}
	if err := ValidateKeyName(k.DisplayName); err != nil {
		return err
	}
	if k.SecretHash == "" {
		return errors.New("secret_hash is required")
	}
	if k.MaskedKey == "" {
		return errors.New("masked_key is required")
	}
	if k.ExpiresAt.IsZero() {
		return errors.New("expires_at is required")
	}
	return nil
}

// ValidateKeyName validates a user-supplied key label
func ValidateKeyName(name string) error {
	if len(name) < 3 {
		return errors.New("display_name must be at least 3 characters")
	}
	if len(name) > 50 {
		return errors.New("display_name must be <= 50 characters")
	}
	return nil
}

// IsExpired checks if the API key has passed its expiry
func (k *APIKey) IsExpired(now time.Time) bool {
	return now.After(k.ExpiresAt)
}

// IsUsable reports whether the key can authenticate a request right now
// (active and not past its expiry)
func (k *APIKey) IsUsable(now time.Time) bool {
	return k.IsActive && !k.IsExpired(now)
}
