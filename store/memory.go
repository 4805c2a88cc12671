package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/finbridge/finbridge/models"
)

// MemoryStore is a thread-safe in-memory store for users and their API
// keys. The outer lock only guards the user maps; each user record
// carries its own lock, so operations against different users do not
// serialize on each other.
type MemoryStore struct {
	mu           sync.RWMutex
	users        map[string]*userRecord
	usersByEmail map[string]string // email -> user id
}

type userRecord struct {
	mu   sync.Mutex
	user models.User
	keys map[string]*models.APIKey
}

// NewMemoryStore creates a new memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:        make(map[string]*userRecord),
		usersByEmail: make(map[string]string),
	}
}

func (s *MemoryStore) record(userID string) (*userRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.users[userID]
	if !exists {
		return nil, ErrNotFound
	}
	return rec, nil
}

// CreateUser creates a new user
func (s *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	if err := user.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(user.Email)
	if _, exists := s.usersByEmail[email]; exists {
		return ErrDuplicateEmail
	}
	if _, exists := s.users[user.ID]; exists {
		return ErrDuplicateEmail
	}

	s.users[user.ID] = &userRecord{
		user: *user,
		keys: make(map[string]*models.APIKey),
	}
	s.usersByEmail[email] = user.ID
	return nil
}

// GetUserByID retrieves a user by ID
func (s *MemoryStore) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	rec, err := s.record(userID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	user := rec.user
	return &user, nil
}

// GetUserByEmail retrieves a user by email
func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	userID, exists := s.usersByEmail[strings.ToLower(email)]
	s.mu.RUnlock()

	if !exists {
		return nil, ErrNotFound
	}
	return s.GetUserByID(ctx, userID)
}

// UpdateUser updates user profile fields. Connection fields are owned by
// UpdateConnection/ClearConnection and left untouched here.
func (s *MemoryStore) UpdateUser(ctx context.Context, user *models.User) error {
	rec, err := s.record(user.ID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	conn := rec.user.Connection
	rec.user = *user
	rec.user.Connection = conn
	return nil
}

// InsertAPIKey adds a key if the user is under the active-key cap
func (s *MemoryStore) InsertAPIKey(ctx context.Context, key *models.APIKey, maxActive int) error {
	if err := key.Validate(); err != nil {
		return err
	}

	rec, err := s.record(key.UserID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	active := 0
	for _, k := range rec.keys {
		if k.IsActive {
			active++
		}
	}
	if active >= maxActive {
		return ErrActiveKeyLimit
	}

	stored := *key
	rec.keys[key.ID] = &stored
	return nil
}

// GetAPIKey retrieves a key by user and key ID
func (s *MemoryStore) GetAPIKey(ctx context.Context, userID, keyID string) (*models.APIKey, error) {
	rec, err := s.record(userID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	k, exists := rec.keys[keyID]
	if !exists {
		return nil, ErrNotFound
	}
	key := *k
	return &key, nil
}

// ListAPIKeysByUser returns all of a user's keys, active and inactive
func (s *MemoryStore) ListAPIKeysByUser(ctx context.Context, userID string) ([]*models.APIKey, error) {
	rec, err := s.record(userID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	keys := make([]*models.APIKey, 0, len(rec.keys))
	for _, k := range rec.keys {
		key := *k
		keys = append(keys, &key)
	}
	return keys, nil
}

// DeactivateAPIKey flips IsActive to false, conditioned on it being true
func (s *MemoryStore) DeactivateAPIKey(ctx context.Context, userID, keyID string) (*models.APIKey, error) {
	rec, err := s.record(userID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	k, exists := rec.keys[keyID]
	if !exists {
		return nil, ErrNotFound
	}
	if !k.IsActive {
		return nil, ErrKeyInactive
	}

	k.IsActive = false
	key := *k
	return &key, nil
}

// TouchAPIKeyLastUsed updates a single key's LastUsedAt
func (s *MemoryStore) TouchAPIKeyLastUsed(ctx context.Context, userID, keyID string, when time.Time) error {
	rec, err := s.record(userID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	k, exists := rec.keys[keyID]
	if !exists {
		return ErrNotFound
	}
	used := when
	k.LastUsedAt = &used
	return nil
}

// ReapAPIKeys removes keys past expiry or idle beyond the retention
// window. Idempotent; only removes records, so it never contests the
// active-count precondition enforced by InsertAPIKey.
func (s *MemoryStore) ReapAPIKeys(ctx context.Context, now time.Time, retention time.Duration) (int, error) {
	s.mu.RLock()
	records := make([]*userRecord, 0, len(s.users))
	for _, rec := range s.users {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	removed := 0
	cutoff := now.Add(-retention)
	for _, rec := range records {
		rec.mu.Lock()
		for id, k := range rec.keys {
			idleSince := k.CreatedAt
			if k.LastUsedAt != nil {
				idleSince = *k.LastUsedAt
			}
			if k.IsExpired(now) || idleSince.Before(cutoff) {
				delete(rec.keys, id)
				removed++
			}
		}
		rec.mu.Unlock()
	}
	return removed, nil
}

// UpdateConnection replaces the user's token pair under optimistic
// concurrency on TokenVersion
func (s *MemoryStore) UpdateConnection(ctx context.Context, userID string, conn models.UpstreamConnection, expectedVersion int64) (*models.User, error) {
	rec, err := s.record(userID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.user.Connection.TokenVersion != expectedVersion {
		return nil, ErrVersionConflict
	}

	conn.TokenVersion = expectedVersion + 1
	if err := conn.Validate(); err != nil {
		return nil, err
	}

	rec.user.Connection = conn
	rec.user.UpdatedAt = time.Now()
	user := rec.user
	return &user, nil
}

// ClearConnection removes the token pair and marks the user disconnected
func (s *MemoryStore) ClearConnection(ctx context.Context, userID string) (*models.User, error) {
	rec, err := s.record(userID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.user.Connection = models.UpstreamConnection{
		TokenVersion: rec.user.Connection.TokenVersion + 1,
	}
	rec.user.UpdatedAt = time.Now()
	user := rec.user
	return &user, nil
}
