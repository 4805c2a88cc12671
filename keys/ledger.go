package keys

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finbridge/finbridge/models"
	"github.com/finbridge/finbridge/store"
)

// LedgerOptions bounds the per-user key collection
type LedgerOptions struct {
	MaxActiveKeys int
	DefaultTTL    time.Duration
	MaxTTL        time.Duration
	Retention     time.Duration
}

// DefaultLedgerOptions returns the production limits
func DefaultLedgerOptions() LedgerOptions {
	return LedgerOptions{
		MaxActiveKeys: 5,
		DefaultTTL:    models.DefaultKeyTTL,
		MaxTTL:        models.MaxKeyTTL,
		Retention:     90 * 24 * time.Hour,
	}
}

// Ledger manages the per-user collection of issued API keys. All
// invariants (active-key cap, single revoke, per-key last-used
// bookkeeping) are enforced through the store's conditional writes, not
// by locking in this layer.
type Ledger struct {
	store    store.Store
	material *Material
	opts     LedgerOptions
	logger   *zap.Logger
	now      func() time.Time
}

// NewLedger creates a key ledger over the given store and material
func NewLedger(st store.Store, material *Material, opts LedgerOptions, logger *zap.Logger) *Ledger {
	if opts.MaxActiveKeys <= 0 {
		opts.MaxActiveKeys = 5
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = models.DefaultKeyTTL
	}
	if opts.MaxTTL <= 0 {
		opts.MaxTTL = models.MaxKeyTTL
	}
	if opts.Retention <= 0 {
		opts.Retention = 90 * 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		store:    st,
		material: material,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// IssuedKey is returned by Issue. Secret is the plaintext key, returned
// exactly once; it is never retrievable again.
type IssuedKey struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Secret      string    `json:"key"`
	MaskedKey   string    `json:"masked_key"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Issue mints a new key for the user. Generation and hashing are pure;
// the conditional insert is the only side effect, so a failed insert
// leaves no orphaned state.
func (l *Ledger) Issue(ctx context.Context, userID, displayName string, ttl time.Duration) (*IssuedKey, error) {
	if err := models.ValidateKeyName(displayName); err != nil {
		return nil, err
	}

	if ttl <= 0 {
		ttl = l.opts.DefaultTTL
	}
	if ttl > l.opts.MaxTTL {
		ttl = l.opts.MaxTTL
	}

	secret, err := l.material.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	hash, err := l.material.Hash(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to hash key: %w", err)
	}

	now := l.now()
	key := &models.APIKey{
		ID:          uuid.New().String(),
		UserID:      userID,
		DisplayName: displayName,
		SecretHash:  hash,
		MaskedKey:   Mask(secret),
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		IsActive:    true,
	}

	if err := l.store.InsertAPIKey(ctx, key, l.opts.MaxActiveKeys); err != nil {
		if errors.Is(err, store.ErrActiveKeyLimit) {
			return nil, ErrLimitExceeded
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to store key: %w", err)
	}

	l.logger.Info("api key issued",
		zap.String("user_id", userID),
		zap.String("key_id", key.ID),
		zap.String("key", key.MaskedKey),
		zap.Time("expires_at", key.ExpiresAt),
	)

	return &IssuedKey{
		ID:          key.ID,
		DisplayName: key.DisplayName,
		Secret:      secret,
		MaskedKey:   key.MaskedKey,
		CreatedAt:   key.CreatedAt,
		ExpiresAt:   key.ExpiresAt,
	}, nil
}

// Revoke deactivates a key. Expired keys must go through the reaper so
// the audit trail records expiry rather than a manual revoke. Returns
// the key's metadata for audit logging, never the secret.
func (l *Ledger) Revoke(ctx context.Context, userID, keyID string) (*models.APIKey, error) {
	key, err := l.store.GetAPIKey(ctx, userID, keyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load key: %w", err)
	}
	if !key.IsActive {
		return nil, ErrAlreadyInactive
	}
	if key.IsExpired(l.now()) {
		return nil, ErrKeyExpired
	}

	revoked, err := l.store.DeactivateAPIKey(ctx, userID, keyID)
	if err != nil {
		if errors.Is(err, store.ErrKeyInactive) {
			// Lost a double-revoke race
			return nil, ErrAlreadyInactive
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to revoke key: %w", err)
	}

	l.logger.Info("api key revoked",
		zap.String("user_id", userID),
		zap.String("key_id", revoked.ID),
		zap.String("key", revoked.MaskedKey),
	)
	return revoked, nil
}

// List returns all of the user's keys, active and inactive, with
// secrets already reduced to their masked display form.
func (l *Ledger) List(ctx context.Context, userID string) ([]*models.APIKey, error) {
	keys, err := l.store.ListAPIKeysByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Verify checks a candidate secret against the user's active,
// non-expired keys. On the first match it records the use on that key
// alone; verifications for different keys or users never serialize on a
// ledger-wide lock.
func (l *Ledger) Verify(ctx context.Context, userID, candidate string) bool {
	if !ValidateFormat(candidate) {
		return false
	}

	userKeys, err := l.store.ListAPIKeysByUser(ctx, userID)
	if err != nil {
		return false
	}

	now := l.now()
	for _, key := range userKeys {
		if !key.IsUsable(now) {
			continue
		}
		if l.material.Verify(candidate, key.SecretHash) {
			if err := l.store.TouchAPIKeyLastUsed(ctx, userID, key.ID, now); err != nil {
				l.logger.Warn("failed to record key use",
					zap.String("user_id", userID),
					zap.String("key_id", key.ID),
					zap.Error(err),
				)
			}
			return true
		}
	}
	return false
}

// Reap removes keys past expiry or unused beyond the retention window.
// Idempotent and safe alongside Issue/Revoke: it only deletes records,
// so the active-count precondition is still enforced solely at insert.
func (l *Ledger) Reap(ctx context.Context) (int, error) {
	count, err := l.store.ReapAPIKeys(ctx, l.now(), l.opts.Retention)
	if err != nil {
		return 0, fmt.Errorf("failed to reap keys: %w", err)
	}
	if count > 0 {
		l.logger.Info("reaped api keys", zap.Int("count", count))
	}
	return count, nil
}
