package versions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/platinummonkey/versionmanager/pkg/storage"
)

// MetadataStore keeps version metadata in the control-plane database
type MetadataStore struct {
	db storage.DBTX
}

// NewMetadataStore creates a new MetadataStore
func NewMetadataStore(db storage.DBTX) *MetadataStore {
	return &MetadataStore{db: db}
}

// ForVersions returns the metadata recorded for ids on an instance
func (s *MetadataStore) ForVersions(ctx context.Context, instanceID string, ids []int64) (map[int64]Metadata, error) {
	out := make(map[int64]Metadata, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT version_id, description, comment, tags
		FROM workflow_version_metadata
		WHERE instance_id = $1 AND version_id = ANY($2)`,
		instanceID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to load version metadata: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   int64
			m    Metadata
			tags []byte
		)
		if err := rows.Scan(&id, &m.Description, &m.Comment, &tags); err != nil {
			return nil, fmt.Errorf("failed to scan version metadata: %w", err)
		}
		if err := json.Unmarshal(tags, &m.Tags); err != nil || m.Tags == nil {
			m.Tags = []string{}
		}
		out[id] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load version metadata: %w", err)
	}
	return out, nil
}

// Upsert replaces the metadata of one version
func (s *MetadataStore) Upsert(ctx context.Context, instanceID string, versionID int64, m Metadata) error {
	tags, err := json.Marshal(normalizeTags(m.Tags))
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_version_metadata (instance_id, version_id, description, comment, tags)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (instance_id, version_id) DO UPDATE
		SET description = EXCLUDED.description, comment = EXCLUDED.comment,
		    tags = EXCLUDED.tags, updated_at = NOW()`,
		instanceID, versionID, m.Description, m.Comment, tags)
	if err != nil {
		return fmt.Errorf("failed to save version metadata: %w", err)
	}
	return nil
}

// Delete removes the metadata of ids on an instance
func (s *MetadataStore) Delete(ctx context.Context, instanceID string, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM workflow_version_metadata WHERE instance_id = $1 AND version_id = ANY($2)`,
		instanceID, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("failed to delete version metadata: %w", err)
	}
	return result.RowsAffected()
}
