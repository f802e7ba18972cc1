package instances

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/versionmanager/pkg/auth"
)

var membershipCols = []string{"user_id", "instance_id", "role", "created_at"}

func TestListMembers(t *testing.T) {
	service, mock, db := newMockService(t)
	defer db.Close()
	now := time.Now()

	rows := sqlmock.NewRows([]string{"user_id", "instance_id", "role", "created_at", "name", "email"}).
		AddRow("u1", "i-1", "Admin", now, "Alice", "alice@example.com").
		AddRow("u2", "i-1", "User", now, "Bob", "bob@example.com")
	mock.ExpectQuery(`FROM user_instance_memberships m\s+JOIN app_users u`).
		WithArgs("i-1").
		WillReturnRows(rows)

	members, err := service.ListMembers(context.Background(), "i-1")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, auth.RoleAdmin, members[0].Role)
	assert.Equal(t, auth.RoleUser, members[1].Role)
	assert.Equal(t, "bob@example.com", members[1].Email)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListUserInstances(t *testing.T) {
	service, mock, db := newMockService(t)
	defer db.Close()
	now := time.Now()

	rows := sqlmock.NewRows(append(instanceCols, "role")).
		AddRow("i-old", "Old", "old", now.Add(-time.Hour), nil, "User").
		AddRow("i-new", "New", "new", now, nil, "Admin")
	mock.ExpectQuery(`JOIN user_instance_memberships m ON i.id = m.instance_id\s+WHERE m.user_id = \$1\s+ORDER BY i.created_at ASC`).
		WithArgs("u1").
		WillReturnRows(rows)

	list, err := service.ListUserInstances(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "i-old", list[0].ID)
	assert.Equal(t, auth.RoleUser, list[0].Role)
	assert.Equal(t, auth.RoleAdmin, list[1].Role)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMembership(t *testing.T) {
	service, mock, db := newMockService(t)
	defer db.Close()
	ctx := context.Background()

	mock.ExpectQuery(`FROM user_instance_memberships\s+WHERE user_id = \$1 AND instance_id = \$2`).
		WithArgs("u1", "i-1").
		WillReturnRows(sqlmock.NewRows(membershipCols).AddRow("u1", "i-1", "Admin", time.Now()))
	m, err := service.GetMembership(ctx, "u1", "i-1")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, m.Role)

	mock.ExpectQuery(`FROM user_instance_memberships`).
		WithArgs("u1", "i-2").
		WillReturnError(sql.ErrNoRows)
	_, err = service.GetMembership(ctx, "u1", "i-2")
	assert.ErrorIs(t, err, ErrMembershipNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddMember(t *testing.T) {
	service, mock, db := newMockService(t)
	defer db.Close()
	ctx := context.Background()

	t.Run("upsert", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO user_instance_memberships .+ ON CONFLICT \(user_id, instance_id\) DO UPDATE`).
			WithArgs("u1", "i-1", auth.RoleAdmin).
			WillReturnRows(sqlmock.NewRows(membershipCols).AddRow("u1", "i-1", "Admin", time.Now()))

		m, err := service.AddMember(ctx, "u1", "i-1", auth.RoleAdmin)
		require.NoError(t, err)
		assert.Equal(t, auth.RoleAdmin, m.Role)
	})

	t.Run("unknown user or instance", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO user_instance_memberships`).
			WithArgs("ghost", "i-1", auth.RoleUser).
			WillReturnError(&pq.Error{Code: "23503", Constraint: "user_instance_memberships_user_id_fkey"})

		_, err := service.AddMember(ctx, "ghost", "i-1", auth.RoleUser)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("superadmin is not a member role", func(t *testing.T) {
		_, err := service.AddMember(ctx, "u1", "i-1", auth.RoleSuperAdmin)
		assert.Error(t, err)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAndRemoveMember(t *testing.T) {
	service, mock, db := newMockService(t)
	defer db.Close()
	ctx := context.Background()

	mock.ExpectQuery(`UPDATE user_instance_memberships SET role = \$3`).
		WithArgs("u1", "i-1", auth.RoleUser).
		WillReturnRows(sqlmock.NewRows(membershipCols))
	_, err := service.UpdateMemberRole(ctx, "u1", "i-1", auth.RoleUser)
	assert.ErrorIs(t, err, ErrMembershipNotFound)

	mock.ExpectExec(`DELETE FROM user_instance_memberships WHERE user_id = \$1 AND instance_id = \$2`).
		WithArgs("u1", "i-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, service.RemoveMember(ctx, "u1", "i-1"))

	mock.ExpectExec(`DELETE FROM user_instance_memberships`).
		WithArgs("u1", "i-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, service.RemoveMember(ctx, "u1", "i-1"), ErrMembershipNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}
