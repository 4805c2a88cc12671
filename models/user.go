package models

import (
	"errors"
	"regexp"
	"time"
)

// User represents a system user
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Never expose in JSON
	Name         string    `json:"name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	Connection UpstreamConnection `json:"connection"`
}

// UpstreamConnection holds the user's personal token pair for the
// open-banking provider. Either all of AccessToken/RefreshToken/ExpiresAt
// are present and Connected is true, or all are absent and Connected is
// false. TokenVersion increments on every successful token replacement
// and is the compare-and-swap stamp for concurrent rotations.
type UpstreamConnection struct {
	AccessToken  string     `json:"-"` // Never expose in JSON
	RefreshToken string     `json:"-"` // Never expose in JSON
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Connected    bool       `json:"connected"`
	TokenVersion int64      `json:"-"`
}

// Validate checks the all-present / all-absent invariant
func (c *UpstreamConnection) Validate() error {
	if c.Connected {
		if c.AccessToken == "" || c.RefreshToken == "" || c.ExpiresAt == nil {
			return errors.New("connected requires access_token, refresh_token and expires_at")
		}
		return nil
	}
	if c.AccessToken != "" || c.RefreshToken != "" || c.ExpiresAt != nil {
		return errors.New("disconnected connection must not carry tokens")
	}
	return nil
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Validate validates User fields
func (u *User) Validate() error {
	if u.ID == "" {
		return errors.New("id is required")
	}
	if len(u.ID) > 36 {
		return errors.New("id must be <= 36 characters")
	}
	if u.Email == "" {
		return errors.New("email is required")
	}
	if !emailRegex.MatchString(u.Email) {
		return errors.New("invalid email format")
	}
	if len(u.Email) > 255 {
		return errors.New("email must be <= 255 characters")
	}
	if len(u.Name) > 200 {
		return errors.New("name must be <= 200 characters")
	}
	if u.PasswordHash == "" {
		return errors.New("password_hash is required")
	}
	return u.Connection.Validate()
}

// ValidatePassword validates password strength requirements
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return errors.New("password must be at least 8 characters")
	}
	return nil
}
