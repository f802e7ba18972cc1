// Package invites issues single-use tokens that let an invited account set
// its first password.
package invites

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/versionmanager/pkg/auth"
	"github.com/platinummonkey/versionmanager/pkg/storage"
)

// DefaultTTL is how long an invite stays valid
const DefaultTTL = 72 * time.Hour

var ErrNotFound = errors.New("invite not found")

// Invite is a stored invitation. Token is only set on the value returned by
// Create; the database keeps a hash.
type Invite struct {
	Token     string     `json:"token,omitempty"`
	UserID    string     `json:"userId"`
	UserEmail string     `json:"email"`
	ExpiresAt time.Time  `json:"expiresAt"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Valid reports whether the invite is unused and unexpired at now
func (i *Invite) Valid(now time.Time) bool {
	return i.UsedAt == nil && now.Before(i.ExpiresAt)
}

// PostgresStore keeps invites in invite_tokens
type PostgresStore struct {
	db  storage.DBTX
	ttl time.Duration
	now func() time.Time
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db storage.DBTX, ttl time.Duration) *PostgresStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &PostgresStore{db: db, ttl: ttl, now: time.Now}
}

// Create issues a token for the user
func (s *PostgresStore) Create(ctx context.Context, userID, email string) (*Invite, error) {
	token, err := auth.GenerateToken()
	if err != nil {
		return nil, err
	}
	inv := &Invite{
		Token:     token,
		UserID:    userID,
		UserEmail: email,
		ExpiresAt: s.now().Add(s.ttl).UTC(),
	}
	query := `
		INSERT INTO invite_tokens (token, user_id, user_email, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	if err := s.db.QueryRowContext(ctx, query, auth.HashToken(token), userID, email, inv.ExpiresAt).Scan(&inv.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create invite: %w", err)
	}
	return inv, nil
}

// Get looks up an invite by its raw token
func (s *PostgresStore) Get(ctx context.Context, token string) (*Invite, error) {
	if auth.ValidateTokenFormat(token) != nil {
		return nil, ErrNotFound
	}
	query := `
		SELECT user_id, user_email, expires_at, used_at, created_at
		FROM invite_tokens
		WHERE token = $1
	`
	inv := &Invite{}
	var usedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, auth.HashToken(token)).Scan(
		&inv.UserID, &inv.UserEmail, &inv.ExpiresAt, &usedAt, &inv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invite: %w", err)
	}
	if usedAt.Valid {
		inv.UsedAt = &usedAt.Time
	}
	return inv, nil
}

// Valid returns the invite when it exists, is unused and is unexpired
func (s *PostgresStore) Valid(ctx context.Context, token string) (*Invite, error) {
	inv, err := s.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if !inv.Valid(s.now()) {
		return nil, ErrNotFound
	}
	return inv, nil
}

// MarkUsed consumes an invite. A token that was already used gives ErrNotFound.
func (s *PostgresStore) MarkUsed(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE invite_tokens SET used_at = NOW() WHERE token = $1 AND used_at IS NULL`, auth.HashToken(token))
	if err != nil {
		return fmt.Errorf("failed to mark invite used: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteForUser revokes the user's outstanding invites
func (s *PostgresStore) DeleteForUser(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM invite_tokens WHERE user_id = $1 AND used_at IS NULL`, userID); err != nil {
		return fmt.Errorf("failed to revoke invites: %w", err)
	}
	return nil
}

// DeleteExpired removes expired invites and returns how many were removed
func (s *PostgresStore) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM invite_tokens WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired invites: %w", err)
	}
	return result.RowsAffected()
}
