package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finbridge/finbridge/models"
)

// PostgresStore implements Store interface using PostgreSQL. The
// conditional operations are single statements whose WHERE clause
// re-checks the precondition, with the affected-row count deciding the
// outcome.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store connection
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Pool returns the underlying connection pool
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the database connection pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const userColumns = `id, email, password_hash, name, created_at, updated_at,
	access_token, refresh_token, token_expires_at, connected, token_version`

func scanUser(row pgx.Row) (*models.User, error) {
	var user models.User
	var accessToken, refreshToken *string
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Name,
		&user.CreatedAt,
		&user.UpdatedAt,
		&accessToken,
		&refreshToken,
		&user.Connection.ExpiresAt,
		&user.Connection.Connected,
		&user.Connection.TokenVersion,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if accessToken != nil {
		user.Connection.AccessToken = *accessToken
	}
	if refreshToken != nil {
		user.Connection.RefreshToken = *refreshToken
	}
	return &user, nil
}

// CreateUser creates a new user
func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	if err := user.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO users (id, email, password_hash, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.pool.Exec(ctx, query,
		user.ID,
		strings.ToLower(user.Email),
		user.PasswordHash,
		user.Name,
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetUserByID retrieves a user by ID
func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(s.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	user, err := scanUser(s.pool.QueryRow(ctx, query, strings.ToLower(email)))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// UpdateUser updates user profile fields. Connection columns are owned
// by UpdateConnection/ClearConnection and not written here.
func (s *PostgresStore) UpdateUser(ctx context.Context, user *models.User) error {
	query := `
		UPDATE users
		SET email = $2, password_hash = $3, name = $4, updated_at = $5
		WHERE id = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		user.ID,
		strings.ToLower(user.Email),
		user.PasswordHash,
		user.Name,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertAPIKey adds a key only while the user holds fewer than maxActive
// active keys. The count re-check and the insert are one statement, so
// two racing issues cannot both pass a stale count.
func (s *PostgresStore) InsertAPIKey(ctx context.Context, key *models.APIKey, maxActive int) error {
	if err := key.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO api_keys (id, user_id, display_name, secret_hash, masked_key,
			created_at, last_used_at, expires_at, is_active)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9
		WHERE (SELECT COUNT(*) FROM api_keys WHERE user_id = $2 AND is_active = true) < $10
	`

	tag, err := s.pool.Exec(ctx, query,
		key.ID,
		key.UserID,
		key.DisplayName,
		key.SecretHash,
		key.MaskedKey,
		key.CreatedAt,
		key.LastUsedAt,
		key.ExpiresAt,
		key.IsActive,
		maxActive,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrNotFound
		}
		return fmt.Errorf("failed to insert api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrActiveKeyLimit
	}
	return nil
}

const keyColumns = `id, user_id, display_name, secret_hash, masked_key,
	created_at, last_used_at, expires_at, is_active`

func scanAPIKey(row pgx.Row) (*models.APIKey, error) {
	var key models.APIKey
	err := row.Scan(
		&key.ID,
		&key.UserID,
		&key.DisplayName,
		&key.SecretHash,
		&key.MaskedKey,
		&key.CreatedAt,
		&key.LastUsedAt,
		&key.ExpiresAt,
		&key.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &key, nil
}

// GetAPIKey retrieves a key by user and key ID
func (s *PostgresStore) GetAPIKey(ctx context.Context, userID, keyID string) (*models.APIKey, error) {
	query := `SELECT ` + keyColumns + ` FROM api_keys WHERE id = $1 AND user_id = $2`

	key, err := scanAPIKey(s.pool.QueryRow(ctx, query, keyID, userID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return key, nil
}

// ListAPIKeysByUser returns all of a user's keys, active and inactive
func (s *PostgresStore) ListAPIKeysByUser(ctx context.Context, userID string) ([]*models.APIKey, error) {
	query := `SELECT ` + keyColumns + ` FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	keys := make([]*models.APIKey, 0)
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// DeactivateAPIKey flips IsActive to false, conditioned on it being true
func (s *PostgresStore) DeactivateAPIKey(ctx context.Context, userID, keyID string) (*models.APIKey, error) {
	query := `
		UPDATE api_keys
		SET is_active = false
		WHERE id = $1 AND user_id = $2 AND is_active = true
		RETURNING ` + keyColumns

	key, err := scanAPIKey(s.pool.QueryRow(ctx, query, keyID, userID))
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to deactivate api key: %w", err)
	}

	// No row matched: distinguish a missing key from a lost revoke race
	if _, getErr := s.GetAPIKey(ctx, userID, keyID); getErr != nil {
		return nil, getErr
	}
	return nil, ErrKeyInactive
}

// TouchAPIKeyLastUsed updates a single key's LastUsedAt
func (s *PostgresStore) TouchAPIKeyLastUsed(ctx context.Context, userID, keyID string, when time.Time) error {
	query := `UPDATE api_keys SET last_used_at = $3 WHERE id = $1 AND user_id = $2`

	tag, err := s.pool.Exec(ctx, query, keyID, userID, when)
	if err != nil {
		return fmt.Errorf("failed to touch api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReapAPIKeys removes keys past expiry or idle beyond the retention window
func (s *PostgresStore) ReapAPIKeys(ctx context.Context, now time.Time, retention time.Duration) (int, error) {
	query := `
		DELETE FROM api_keys
		WHERE expires_at < $1
		   OR COALESCE(last_used_at, created_at) < $2
	`

	tag, err := s.pool.Exec(ctx, query, now, now.Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to reap api keys: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// UpdateConnection replaces the user's token pair under optimistic
// concurrency: the write only lands if token_version is unchanged since
// the caller read it.
func (s *PostgresStore) UpdateConnection(ctx context.Context, userID string, conn models.UpstreamConnection, expectedVersion int64) (*models.User, error) {
	conn.TokenVersion = expectedVersion + 1
	if err := conn.Validate(); err != nil {
		return nil, err
	}

	query := `
		UPDATE users
		SET access_token = $3, refresh_token = $4, token_expires_at = $5,
		    connected = $6, token_version = token_version + 1, updated_at = $7
		WHERE id = $1 AND token_version = $2
		RETURNING ` + userColumns

	user, err := scanUser(s.pool.QueryRow(ctx, query,
		userID,
		expectedVersion,
		conn.AccessToken,
		conn.RefreshToken,
		conn.ExpiresAt,
		conn.Connected,
		time.Now(),
	))
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to update connection: %w", err)
	}

	// No row matched: distinguish a missing user from a lost rotation race
	if _, getErr := s.GetUserByID(ctx, userID); getErr != nil {
		return nil, getErr
	}
	return nil, ErrVersionConflict
}

// ClearConnection removes the token pair and marks the user disconnected
func (s *PostgresStore) ClearConnection(ctx context.Context, userID string) (*models.User, error) {
	query := `
		UPDATE users
		SET access_token = NULL, refresh_token = NULL, token_expires_at = NULL,
		    connected = false, token_version = token_version + 1, updated_at = $2
		WHERE id = $1
		RETURNING ` + userColumns

	user, err := scanUser(s.pool.QueryRow(ctx, query, userID, time.Now()))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to clear connection: %w", err)
	}
	return user, nil
}
