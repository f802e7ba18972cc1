package invites

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/versionmanager/pkg/auth"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	store := NewPostgresStore(db, 0)
	return store, mock, db
}

func TestCreate(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	mock.ExpectQuery(`INSERT INTO invite_tokens`).
		WithArgs(sqlmock.AnyArg(), "u1", "bob@example.com", fixed.Add(DefaultTTL)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(fixed))

	inv, err := store.Create(context.Background(), "u1", "bob@example.com")
	require.NoError(t, err)
	assert.NoError(t, auth.ValidateTokenFormat(inv.Token))
	assert.Equal(t, fixed.Add(72*time.Hour), inv.ExpiresAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetStoresHashOnly(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()
	token, err := auth.GenerateToken()
	require.NoError(t, err)
	now := time.Now()

	mock.ExpectQuery(`SELECT .+ FROM invite_tokens WHERE token = \$1`).
		WithArgs(auth.HashToken(token)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "user_email", "expires_at", "used_at", "created_at"}).
			AddRow("u1", "bob@example.com", now.Add(time.Hour), nil, now))

	inv, err := store.Get(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u1", inv.UserID)
	assert.Nil(t, inv.UsedAt)
	assert.Empty(t, inv.Token)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMalformedTokenSkipsQuery(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	_, err := store.Get(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestValid(t *testing.T) {
	cols := []string{"user_id", "user_email", "expires_at", "used_at", "created_at"}
	now := time.Now()
	token, err := auth.GenerateToken()
	require.NoError(t, err)

	tests := []struct {
		name    string
		expires time.Time
		usedAt  interface{}
		wantErr bool
	}{
		{name: "fresh", expires: now.Add(time.Hour)},
		{name: "expired", expires: now.Add(-time.Minute), wantErr: true},
		{name: "used", expires: now.Add(time.Hour), usedAt: now, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock, db := newMockStore(t)
			defer db.Close()
			store.now = func() time.Time { return now }
			mock.ExpectQuery(`SELECT .+ FROM invite_tokens`).
				WillReturnRows(sqlmock.NewRows(cols).AddRow("u1", "bob@example.com", tt.expires, tt.usedAt, now))

			inv, err := store.Valid(context.Background(), token)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNotFound)
				assert.Nil(t, inv)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "bob@example.com", inv.UserEmail)
			}
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestMarkUsed(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()

	mock.ExpectExec(`UPDATE invite_tokens SET used_at = NOW\(\) WHERE token = \$1 AND used_at IS NULL`).
		WithArgs(auth.HashToken("tok")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.MarkUsed(ctx, "tok"))

	mock.ExpectExec(`UPDATE invite_tokens`).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, store.MarkUsed(ctx, "tok"), ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteForUser(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM invite_tokens WHERE user_id = \$1 AND used_at IS NULL`).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	require.NoError(t, store.DeleteForUser(context.Background(), "u1"))

	mock.ExpectExec(`DELETE FROM invite_tokens`).WillReturnError(fmt.Errorf("boom"))
	assert.Error(t, store.DeleteForUser(context.Background(), "u1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteExpired(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM invite_tokens WHERE expires_at < NOW\(\)`).
		WillReturnResult(sqlmock.NewResult(0, 4))
	n, err := store.DeleteExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
