package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/platinummonkey/versionmanager/pkg/storage"
)

const bootstrapIndex = "app_users_single_bootstrap"

const userColumns = `id, name, email, status, is_superadmin, password_hash IS NOT NULL, created_at`

// PostgresStore implements account persistence on the control-plane database
type PostgresStore struct {
	db storage.DBTX
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db storage.DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row scanner) (*User, error) {
	u := &User{}
	var status string
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &status, &u.IsSuperAdmin, &u.HasPassword, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Status = Status(status)
	return u, nil
}

// List returns every account, newest first
func (s *PostgresStore) List(ctx context.Context) ([]*User, error) {
	query := `SELECT ` + userColumns + ` FROM app_users ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return out, nil
}

// Count returns the number of accounts
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM app_users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

// GetByID returns ErrNotFound when no account has the id
func (s *PostgresStore) GetByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM app_users WHERE id = $1`
	u, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetByEmail returns ErrNotFound when no account has the address
func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM app_users WHERE email = $1`
	u, err := scanUser(s.db.QueryRowContext(ctx, query, NormalizeEmail(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetCredentials returns the account and its password hash for login
func (s *PostgresStore) GetCredentials(ctx context.Context, email string) (*Credentials, error) {
	query := `SELECT ` + userColumns + `, COALESCE(password_hash, '') FROM app_users WHERE email = $1`
	c := &Credentials{}
	var status string
	err := s.db.QueryRowContext(ctx, query, NormalizeEmail(email)).Scan(
		&c.ID, &c.Name, &c.Email, &status, &c.IsSuperAdmin, &c.HasPassword, &c.CreatedAt, &c.PasswordHash,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}
	c.Status = Status(status)
	return c, nil
}

func prepare(in NewUser) NewUser {
	in.Email = NormalizeEmail(in.Email)
	if in.Status == "" {
		in.Status = StatusInvited
		if in.PasswordHash != "" {
			in.Status = StatusActive
		}
	}
	return in
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Create inserts an account. A duplicate email gives ErrEmailTaken.
func (s *PostgresStore) Create(ctx context.Context, in NewUser) (*User, error) {
	in = prepare(in)
	query := `
		INSERT INTO app_users (id, name, email, status, password_hash, is_superadmin)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + userColumns
	u, err := scanUser(s.db.QueryRowContext(ctx, query,
		uuid.NewString(), in.Name, in.Email, string(in.Status), nullable(in.PasswordHash), in.IsSuperAdmin))
	if storage.IsUniqueViolation(err, "") {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

// CreateFirst inserts the initial SuperAdmin. An empty passwordHash creates
// it as Invited. It returns ErrAlreadyBootstrapped if any account exists or
// another caller won the race.
func (s *PostgresStore) CreateFirst(ctx context.Context, name, email, passwordHash string) (*User, error) {
	query := `
		INSERT INTO app_users (id, name, email, status, password_hash, is_superadmin, bootstrap)
		SELECT $1, $2, $3, CASE WHEN $4 = '' THEN 'Invited' ELSE 'Active' END, NULLIF($4, ''), TRUE, TRUE
		WHERE NOT EXISTS (SELECT 1 FROM app_users)
		RETURNING ` + userColumns
	u, err := scanUser(s.db.QueryRowContext(ctx, query, uuid.NewString(), name, NormalizeEmail(email), passwordHash))
	// a lost race surfaces either as no row or as a violation of the bootstrap index
	if errors.Is(err, sql.ErrNoRows) || storage.IsUniqueViolation(err, bootstrapIndex) {
		return nil, ErrAlreadyBootstrapped
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create first user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) exec(ctx context.Context, op, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
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

// UpdateName renames an account
func (s *PostgresStore) UpdateName(ctx context.Context, id, name string) error {
	return s.exec(ctx, "update user name", `UPDATE app_users SET name = $1 WHERE id = $2`, name, id)
}

// SetPasswordHash stores a hash and activates the account
func (s *PostgresStore) SetPasswordHash(ctx context.Context, id, hash string) error {
	return s.exec(ctx, "set password",
		`UPDATE app_users SET password_hash = $1, status = 'Active' WHERE id = $2`, hash, id)
}

// ResetPassword clears the hash and returns the account to Invited
func (s *PostgresStore) ResetPassword(ctx context.Context, id string) error {
	return s.exec(ctx, "reset password",
		`UPDATE app_users SET password_hash = NULL, status = 'Invited' WHERE id = $1`, id)
}

// SetSuperAdmin grants or revokes the global SuperAdmin flag
func (s *PostgresStore) SetSuperAdmin(ctx context.Context, id string, superAdmin bool) error {
	return s.exec(ctx, "update superadmin",
		`UPDATE app_users SET is_superadmin = $1 WHERE id = $2`, superAdmin, id)
}

// Delete removes an account; memberships and invites cascade
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	return s.exec(ctx, "delete user", `DELETE FROM app_users WHERE id = $1`, id)
}
