package versions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/versionmanager/pkg/storage"
)

// column names follow what n8n writes
const versionColumns = `id, w_id, w_name, w_version, w_updatedat, w_json, createdat, updatedat`

const summaryQuery = `
	SELECT
		v.w_id,
		(array_agg(v.w_name ORDER BY v.w_updatedat DESC))[1],
		MAX(v.w_updatedat),
		COUNT(*)::int
	FROM workflow_versions v`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanVersion(row scanner) (*Version, error) {
	v := &Version{}
	if err := row.Scan(&v.ID, &v.WorkflowID, &v.WorkflowName, &v.VersionUUID,
		&v.WorkflowUpdatedAt, &v.JSON, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	v.Tags = []string{}
	return v, nil
}

func scanSummary(row scanner) (*WorkflowSummary, error) {
	s := &WorkflowSummary{}
	if err := row.Scan(&s.WorkflowID, &s.Name, &s.LastUpdatedAt, &s.VersionsCount); err != nil {
		return nil, err
	}
	return s, nil
}

// tenantErr classifies failures of queries against a versions database
func tenantErr(op string, err error) error {
	if storage.PgCode(err) == storage.CodeUndefinedTable {
		return fmt.Errorf("%s: %w", op, ErrTableMissing)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func listWorkflows(ctx context.Context, db *sql.DB, f ListFilter) ([]*WorkflowSummary, error) {
	query := summaryQuery + `
	WHERE ($1::text IS NULL OR v.w_name ILIKE $1)
	GROUP BY v.w_id
	ORDER BY COUNT(*) DESC, MAX(v.w_updatedat) DESC
	LIMIT $2 OFFSET $3`
	rows, err := db.QueryContext(ctx, query, f.pattern(), f.Limit, f.Offset)
	if err != nil {
		return nil, tenantErr("list workflows", err)
	}
	defer rows.Close()
	return collectSummaries(rows)
}

func listStaleWorkflows(ctx context.Context, db *sql.DB, limit int) ([]*WorkflowSummary, error) {
	query := summaryQuery + `
	GROUP BY v.w_id
	ORDER BY MAX(v.w_updatedat) ASC
	LIMIT $1`
	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, tenantErr("list stale workflows", err)
	}
	defer rows.Close()
	return collectSummaries(rows)
}

func collectSummaries(rows *sql.Rows) ([]*WorkflowSummary, error) {
	out := []*WorkflowSummary{}
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	return out, nil
}

func countWorkflows(ctx context.Context, db *sql.DB, f ListFilter) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT w_id) FROM workflow_versions WHERE ($1::text IS NULL OR w_name ILIKE $1)`,
		f.pattern()).Scan(&n)
	if err != nil {
		return 0, tenantErr("count workflows", err)
	}
	return n, nil
}

// queryVersions returns versions newest first; tail follows the ORDER BY
func queryVersions(ctx context.Context, db *sql.DB, op, where, tail string, args ...interface{}) ([]*Version, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM workflow_versions `+where+` ORDER BY createdat DESC `+tail, args...)
	if err != nil {
		return nil, tenantErr(op, err)
	}
	defer rows.Close()

	out := []*Version{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, tenantErr(op, err)
	}
	return out, nil
}

func getVersion(ctx context.Context, db *sql.DB, id int64) (*Version, error) {
	v, err := scanVersion(db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM workflow_versions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, tenantErr("get version", err)
	}
	return v, nil
}

// insertVersion allocates the next id under a table lock; n8n does not use a sequence
func insertVersion(ctx context.Context, db *sql.DB, in NewVersion, now time.Time) (*Version, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, tenantErr("begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `LOCK TABLE workflow_versions IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return nil, tenantErr("lock versions", err)
	}
	v, err := scanVersion(tx.QueryRowContext(ctx, `
		INSERT INTO workflow_versions (id, w_id, w_name, w_version, w_updatedat, w_json, createdat, updatedat)
		SELECT COALESCE(MAX(id), 0) + 1, $1, $2, $3, $4, $5, $4, $4 FROM workflow_versions
		RETURNING `+versionColumns,
		in.WorkflowID, in.WorkflowName, in.VersionUUID, now, in.WorkflowJSON))
	if err != nil {
		return nil, tenantErr("create version", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, tenantErr("commit version", err)
	}
	return v, nil
}

func deleteVersions(ctx context.Context, db *sql.DB, ids []int64) (int64, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM workflow_versions WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, tenantErr("delete versions", err)
	}
	return result.RowsAffected()
}

// pruneVersions deletes all but the newest keep versions and returns the
// deleted ids
func pruneVersions(ctx context.Context, db *sql.DB, keep int) ([]int64, error) {
	rows, err := db.QueryContext(ctx, `
		DELETE FROM workflow_versions
		WHERE id NOT IN (SELECT id FROM workflow_versions ORDER BY createdat DESC LIMIT $1)
		RETURNING id`, keep)
	if err != nil {
		return nil, tenantErr("prune versions", err)
	}
	defer rows.Close()

	deleted := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan version id: %w", err)
		}
		deleted = append(deleted, id)
	}
	if err := rows.Err(); err != nil {
		return nil, tenantErr("prune versions", err)
	}
	return deleted, nil
}
