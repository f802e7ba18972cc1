package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/platinummonkey/versionmanager/pkg/storage"
)

// DefaultKey is the settings row used when no instance is given
const DefaultKey = "default"

// PostgresStore keeps one JSONB document per instance in app_settings
type PostgresStore struct {
	db     storage.DBTX
	cipher *Cipher
}

// NewPostgresStore creates a new PostgresStore. cipher may be nil for plaintext storage.
func NewPostgresStore(db storage.DBTX, cipher *Cipher) *PostgresStore {
	if cipher == nil {
		cipher = &Cipher{}
	}
	return &PostgresStore{db: db, cipher: cipher}
}

func settingsKey(instanceID string) string {
	if instanceID == "" {
		return DefaultKey
	}
	return instanceID
}

// Get returns the stored settings merged over Defaults. An instance that has
// saved nothing gets Defaults. Read and decrypt failures are returned.
func (s *PostgresStore) Get(ctx context.Context, instanceID string) (Settings, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM app_settings WHERE key = $1`, settingsKey(instanceID)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Defaults(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to get settings: %w", err)
	}

	var stored Settings
	if err := json.Unmarshal(raw, &stored); err != nil {
		return Settings{}, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	password, err := s.cipher.Decrypt(stored.DB.Password)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}
	stored.DB.Password = password
	return stored.merge(), nil
}

// Save validates and upserts the settings for an instance. A redacted
// password keeps the stored one.
func (s *PostgresStore) Save(ctx context.Context, instanceID string, next Settings) (Settings, error) {
	if err := next.Validate(); err != nil {
		return Settings{}, err
	}
	next = next.merge()

	if next.DB.Password == RedactedPassword {
		current, err := s.Get(ctx, instanceID)
		if err != nil {
			return Settings{}, err
		}
		next.DB.Password = current.DB.Password
	}

	toStore := next
	enc, err := s.cipher.Encrypt(next.DB.Password)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to encrypt password: %w", err)
	}
	toStore.DB.Password = enc

	value, err := json.Marshal(toStore)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to marshal settings: %w", err)
	}

	query := `
		INSERT INTO app_settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = NOW()
	`
	if _, err := s.db.ExecContext(ctx, query, settingsKey(instanceID), value); err != nil {
		return Settings{}, fmt.Errorf("failed to save settings: %w", err)
	}
	return next, nil
}

// Delete removes an instance's settings
func (s *PostgresStore) Delete(ctx context.Context, instanceID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM app_settings WHERE key = $1`, settingsKey(instanceID)); err != nil {
		return fmt.Errorf("failed to delete settings: %w", err)
	}
	return nil
}

// ConnectionSettings returns the versions-database connection of an instance
func (s *PostgresStore) ConnectionSettings(ctx context.Context, instanceID string) (Database, error) {
	st, err := s.Get(ctx, instanceID)
	if err != nil {
		return Database{}, err
	}
	return st.DB, nil
}
