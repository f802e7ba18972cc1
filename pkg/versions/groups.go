package versions

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/platinummonkey/versionmanager/pkg/storage"
)

// Groups maps a group name to the workflow ids filed under it
type Groups map[string][]string

// GroupStore keeps the workflow folders of each instance in the
// control-plane database
type GroupStore struct {
	db storage.TxBeginner
}

// NewGroupStore creates a new GroupStore
func NewGroupStore(db storage.TxBeginner) *GroupStore {
	return &GroupStore{db: db}
}

// List returns every group of an instance, including empty ones
func (s *GroupStore) List(ctx context.Context, instanceID string) (Groups, error) {
	out := Groups{}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM workflow_groups WHERE instance_id = $1 ORDER BY name ASC`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow groups: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan workflow group: %w", err)
		}
		out[name] = []string{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list workflow groups: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT group_name, workflow_id FROM workflow_group_members
		WHERE instance_id = $1 ORDER BY group_name ASC, workflow_id ASC`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow group members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var group, workflowID string
		if err := rows.Scan(&group, &workflowID); err != nil {
			return nil, fmt.Errorf("failed to scan workflow group member: %w", err)
		}
		out[group] = append(out[group], workflowID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list workflow group members: %w", err)
	}
	return out, nil
}

// Replace swaps the groups of an instance for groups in one transaction.
// Names and ids are trimmed; a workflow listed twice stays in the first
// group by name.
func (s *GroupStore) Replace(ctx context.Context, instanceID string, groups Groups) (Groups, error) {
	clean := groups.normalized()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM workflow_groups WHERE instance_id = $1`, instanceID); err != nil {
		return nil, fmt.Errorf("failed to clear workflow groups: %w", err)
	}
	for _, name := range clean.names() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO workflow_groups (instance_id, name) VALUES ($1, $2)`, instanceID, name); err != nil {
			return nil, fmt.Errorf("failed to save workflow group %q: %w", name, err)
		}
		for _, workflowID := range clean[name] {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO workflow_group_members (instance_id, workflow_id, group_name) VALUES ($1, $2, $3)`,
				instanceID, workflowID, name); err != nil {
				return nil, fmt.Errorf("failed to save workflow group %q: %w", name, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit workflow groups: %w", err)
	}
	return clean, nil
}

func (g Groups) names() []string {
	names := make([]string, 0, len(g))
	for name := range g {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (g Groups) normalized() Groups {
	merged := Groups{}
	for name, ids := range g {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		merged[name] = append(merged[name], ids...)
	}

	out := Groups{}
	seen := map[string]bool{}
	for _, name := range merged.names() {
		out[name] = []string{}
		for _, id := range merged[name] {
			id = strings.TrimSpace(id)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out[name] = append(out[name], id)
		}
	}
	return out
}
