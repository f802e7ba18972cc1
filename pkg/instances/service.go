package instances

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/platinummonkey/versionmanager/pkg/storage"
)

const instanceColumns = `id, name, slug, created_at, created_by`

// PostgresService implements instance and membership persistence
type PostgresService struct {
	db storage.DBTX
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db storage.DBTX) *PostgresService {
	return &PostgresService{db: db}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanInstance(row scanner, extra ...interface{}) (*Instance, error) {
	inst := &Instance{}
	var createdBy sql.NullString
	dest := append([]interface{}{&inst.ID, &inst.Name, &inst.Slug, &inst.CreatedAt, &createdBy}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if createdBy.Valid {
		inst.CreatedBy = &createdBy.String
	}
	return inst, nil
}

// List returns instances in creation order
func (s *PostgresService) List(ctx context.Context, limit, offset int) ([]*Instance, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + instanceColumns + ` FROM instances ORDER BY created_at ASC LIMIT $1 OFFSET $2`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var out []*Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	return out, nil
}

// Count returns the number of instances
func (s *PostgresService) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM instances`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count instances: %w", err)
	}
	return n, nil
}

func (s *PostgresService) getOne(ctx context.Context, where string, arg interface{}) (*Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances WHERE ` + where + ` = $1`
	inst, err := scanInstance(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return inst, nil
}

// Get retrieves an instance by id
func (s *PostgresService) Get(ctx context.Context, id string) (*Instance, error) {
	return s.getOne(ctx, "id", id)
}

// GetBySlug retrieves an instance by slug
func (s *PostgresService) GetBySlug(ctx context.Context, slug string) (*Instance, error) {
	return s.getOne(ctx, "slug", NormalizeSlug(slug))
}

// First returns the oldest instance, or ErrNotFound when there are none
func (s *PostgresService) First(ctx context.Context) (*Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances ORDER BY created_at ASC LIMIT 1`
	inst, err := scanInstance(s.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get first instance: %w", err)
	}
	return inst, nil
}

// Create inserts an instance with a generated id
func (s *PostgresService) Create(ctx context.Context, name, slug, createdBy string) (*Instance, error) {
	name = strings.TrimSpace(name)
	slug = NormalizeSlug(slug)
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ValidateSlug(slug); err != nil {
		return nil, err
	}
	return s.insert(ctx, uuid.NewString(), name, slug, createdBy)
}

func (s *PostgresService) insert(ctx context.Context, id, name, slug, createdBy string) (*Instance, error) {
	query := `
		INSERT INTO instances (id, name, slug, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + instanceColumns
	creator := sql.NullString{String: createdBy, Valid: createdBy != ""}
	inst, err := scanInstance(s.db.QueryRowContext(ctx, query, id, name, slug, creator))
	if storage.IsUniqueViolation(err, "") {
		return nil, ErrSlugTaken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create instance: %w", err)
	}
	return inst, nil
}

// Update applies the non-nil fields of req
func (s *PostgresService) Update(ctx context.Context, id string, req UpdateRequest) (*Instance, error) {
	setClauses := []string{}
	args := []interface{}{}
	argPos := 1

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if err := ValidateName(name); err != nil {
			return nil, err
		}
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", argPos))
		args = append(args, name)
		argPos++
	}
	if req.Slug != nil {
		slug := NormalizeSlug(*req.Slug)
		if err := ValidateSlug(slug); err != nil {
			return nil, err
		}
		setClauses = append(setClauses, fmt.Sprintf("slug = $%d", argPos))
		args = append(args, slug)
		argPos++
	}

	if len(setClauses) == 0 {
		return s.Get(ctx, id)
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE instances SET %s WHERE id = $%d RETURNING %s",
		strings.Join(setClauses, ", "), argPos, instanceColumns)
	inst, err := scanInstance(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if storage.IsUniqueViolation(err, "") {
		return nil, ErrSlugTaken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update instance: %w", err)
	}
	return inst, nil
}

// Delete removes an instance and, by cascade, its memberships
func (s *PostgresService) Delete(ctx context.Context, id string) error {
	if id == DefaultID {
		return ErrDefaultInstance
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM instances WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete instance: %w", err)
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

// EnsureDefault creates the reserved default instance if it is missing
func (s *PostgresService) EnsureDefault(ctx context.Context) (*Instance, error) {
	inst, err := s.Get(ctx, DefaultID)
	if err == nil {
		return inst, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	inst, err = s.insert(ctx, DefaultID, "Default", DefaultID, "")
	if errors.Is(err, ErrSlugTaken) {
		return s.Get(ctx, DefaultID)
	}
	return inst, err
}
