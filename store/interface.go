package store

import (
	"context"
	"time"

	"github.com/finbridge/finbridge/models"
)

// Store defines the interface for data storage implementations.
// Different storage backends (memory, postgres, etc.) can implement this
// interface. The conditional operations (InsertAPIKey, DeactivateAPIKey,
// UpdateConnection) are the serialization points of the system: each is
// a single atomic write whose precondition is re-checked at write time.
type Store interface {
	// User operations
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error

	// API key operations
	//
	// InsertAPIKey adds the key only if the user holds fewer than
	// maxActive active keys at write time (ErrActiveKeyLimit otherwise).
	// DeactivateAPIKey flips IsActive to false only if it is still true
	// (ErrKeyInactive otherwise) and returns the updated key.
	// TouchAPIKeyLastUsed updates a single key's LastUsedAt without
	// rewriting the rest of the collection.
	InsertAPIKey(ctx context.Context, key *models.APIKey, maxActive int) error
	GetAPIKey(ctx context.Context, userID, keyID string) (*models.APIKey, error)
	ListAPIKeysByUser(ctx context.Context, userID string) ([]*models.APIKey, error)
	DeactivateAPIKey(ctx context.Context, userID, keyID string) (*models.APIKey, error)
	TouchAPIKeyLastUsed(ctx context.Context, userID, keyID string, when time.Time) error
	ReapAPIKeys(ctx context.Context, now time.Time, retention time.Duration) (int, error)

	// Upstream connection operations
	//
	// UpdateConnection replaces the user's token pair only if the stored
	// TokenVersion equals expectedVersion, incrementing it on success
	// (ErrVersionConflict otherwise). ClearConnection removes the pair
	// unconditionally but still bumps the version.
	UpdateConnection(ctx context.Context, userID string, conn models.UpstreamConnection, expectedVersion int64) (*models.User, error)
	ClearConnection(ctx context.Context, userID string) (*models.User, error)
}
