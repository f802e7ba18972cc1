package instances

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/versionmanager/pkg/auth"
	"github.com/platinummonkey/versionmanager/pkg/storage"
)

// ListMembers returns the members of an instance with their profiles
func (s *PostgresService) ListMembers(ctx context.Context, instanceID string) ([]*Member, error) {
	query := `
		SELECT m.user_id, m.instance_id, m.role, m.created_at, u.name, u.email
		FROM user_instance_memberships m
		JOIN app_users u ON u.id = m.user_id
		WHERE m.instance_id = $1
		ORDER BY m.created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		m := &Member{}
		if err := rows.Scan(&m.UserID, &m.InstanceID, &m.Role, &m.CreatedAt, &m.Name, &m.Email); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return members, nil
}

// ListUserInstances returns the instances a user belongs to in creation order
func (s *PostgresService) ListUserInstances(ctx context.Context, userID string) ([]*InstanceWithRole, error) {
	query := `
		SELECT i.id, i.name, i.slug, i.created_at, i.created_by, m.role
		FROM instances i
		JOIN user_instance_memberships m ON i.id = m.instance_id
		WHERE m.user_id = $1
		ORDER BY i.created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user instances: %w", err)
	}
	defer rows.Close()

	var out []*InstanceWithRole
	for rows.Next() {
		var role auth.Role
		inst, err := scanInstance(rows, &role)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		out = append(out, &InstanceWithRole{Instance: *inst, Role: role})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list user instances: %w", err)
	}
	return out, nil
}

// GetMembership returns ErrMembershipNotFound when the user has no role on the instance
func (s *PostgresService) GetMembership(ctx context.Context, userID, instanceID string) (*Membership, error) {
	query := `
		SELECT user_id, instance_id, role, created_at
		FROM user_instance_memberships
		WHERE user_id = $1 AND instance_id = $2
	`
	m := &Membership{}
	err := s.db.QueryRowContext(ctx, query, userID, instanceID).Scan(&m.UserID, &m.InstanceID, &m.Role, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMembershipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// AddMember grants role on the instance, replacing any existing role
func (s *PostgresService) AddMember(ctx context.Context, userID, instanceID string, role auth.Role) (*Membership, error) {
	if !role.IsMemberRole() {
		return nil, fmt.Errorf("invalid member role %s", role)
	}
	query := `
		INSERT INTO user_instance_memberships (user_id, instance_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, instance_id) DO UPDATE SET role = EXCLUDED.role
		RETURNING user_id, instance_id, role, created_at
	`
	m := &Membership{}
	err := s.db.QueryRowContext(ctx, query, userID, instanceID, role).Scan(&m.UserID, &m.InstanceID, &m.Role, &m.CreatedAt)
	if storage.PgCode(err) == "23503" {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to add member: %w", err)
	}
	return m, nil
}

// UpdateMemberRole changes the role of an existing membership
func (s *PostgresService) UpdateMemberRole(ctx context.Context, userID, instanceID string, role auth.Role) (*Membership, error) {
	if !role.IsMemberRole() {
		return nil, fmt.Errorf("invalid member role %s", role)
	}
	query := `
		UPDATE user_instance_memberships SET role = $3
		WHERE user_id = $1 AND instance_id = $2
		RETURNING user_id, instance_id, role, created_at
	`
	m := &Membership{}
	err := s.db.QueryRowContext(ctx, query, userID, instanceID, role).Scan(&m.UserID, &m.InstanceID, &m.Role, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMembershipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update member role: %w", err)
	}
	return m, nil
}

// RemoveMember deletes a membership
func (s *PostgresService) RemoveMember(ctx context.Context, userID, instanceID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM user_instance_memberships WHERE user_id = $1 AND instance_id = $2`, userID, instanceID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrMembershipNotFound
	}
	return nil
}
