package versions

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Pools hands out the versions database of an instance; poolcache.Cache
// implements it
type Pools interface {
	Get(ctx context.Context, tenantID string) (*sql.DB, error)
}

// Service combines tenant version rows with their control-plane metadata
type Service struct {
	pools Pools
	meta  *MetadataStore
	now   func() time.Time
}

// NewService creates a new Service
func NewService(pools Pools, meta *MetadataStore) *Service {
	return &Service{pools: pools, meta: meta, now: time.Now}
}

// ListWorkflows returns a page of workflows and the total matching the filter
func (s *Service) ListWorkflows(ctx context.Context, instanceID string, f ListFilter) ([]*WorkflowSummary, int, error) {
	db, err := s.pools.Get(ctx, instanceID)
	if err != nil {
		return nil, 0, err
	}
	f = f.Normalized()
	list, err := listWorkflows(ctx, db, f)
	if err != nil {
		return nil, 0, err
	}
	total, err := countWorkflows(ctx, db, f)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// StaleWorkflows returns the workflows that have gone longest without a new version
func (s *Service) StaleWorkflows(ctx context.Context, instanceID string, limit int) ([]*WorkflowSummary, error) {
	db, err := s.pools.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return listStaleWorkflows(ctx, db, clampLimit(limit))
}

// Recent returns the newest versions across all workflows
func (s *Service) Recent(ctx context.Context, instanceID string, limit int) ([]*Version, error) {
	db, err := s.pools.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	list, err := queryVersions(ctx, db, "list recent versions", "", "LIMIT $1", clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return s.withMetadata(ctx, instanceID, list)
}

// ListByWorkflow returns every version of a workflow, newest first
func (s *Service) ListByWorkflow(ctx context.Context, instanceID, workflowID string) ([]*Version, error) {
	db, err := s.pools.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	list, err := queryVersions(ctx, db, "list workflow versions", "WHERE w_id = $1", "", workflowID)
	if err != nil {
		return nil, err
	}
	return s.withMetadata(ctx, instanceID, list)
}

// ByIDs returns the versions among ids that exist, newest first
func (s *Service) ByIDs(ctx context.Context, instanceID string, ids []int64) ([]*Version, error) {
	if len(ids) == 0 {
		return []*Version{}, nil
	}
	db, err := s.pools.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	list, err := queryVersions(ctx, db, "list versions", "WHERE id = ANY($1)", "", pq.Array(ids))
	if err != nil {
		return nil, err
	}
	return s.withMetadata(ctx, instanceID, list)
}

// Get returns one version or ErrNotFound
func (s *Service) Get(ctx context.Context, instanceID string, id int64) (*Version, error) {
	db, err := s.pools.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	v, err := getVersion(ctx, db, id)
	if err != nil {
		return nil, err
	}
	list, err := s.withMetadata(ctx, instanceID, []*Version{v})
	if err != nil {
		return nil, err
	}
	return list[0], nil
}

// Create stores a manually captured version. A missing VersionUUID gets a
// fresh one.
func (s *Service) Create(ctx context.Context, instanceID string, in NewVersion) (*Version, error) {
	in, err := in.Normalize()
	if err != nil {
		return nil, err
	}
	if in.VersionUUID == "" {
		in.VersionUUID = uuid.NewString()
	}
	db, err := s.pools.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return insertVersion(ctx, db, in, s.now().UTC())
}

// Delete removes versions and their metadata. It returns ErrNotFound when none
// of ids existed.
func (s *Service) Delete(ctx context.Context, instanceID string, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, ErrNoIDs
	}
	db, err := s.pools.Get(ctx, instanceID)
	if err != nil {
		return 0, err
	}
	n, err := deleteVersions(ctx, db, ids)
	if err != nil {
		return 0, err
	}
	if _, err := s.meta.Delete(ctx, instanceID, ids); err != nil {
		return n, err
	}
	if n == 0 {
		return 0, ErrNotFound
	}
	return n, nil
}

// UpdateMetadata replaces the description, comment and tags of a version
func (s *Service) UpdateMetadata(ctx context.Context, instanceID string, id int64, m Metadata) error {
	return s.meta.Upsert(ctx, instanceID, id, m)
}

// DeleteMetadata clears the metadata of ids without touching the versions
func (s *Service) DeleteMetadata(ctx context.Context, instanceID string, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, ErrNoIDs
	}
	return s.meta.Delete(ctx, instanceID, ids)
}

// Prune keeps only the newest keep versions of the instance
func (s *Service) Prune(ctx context.Context, instanceID string, keep int) (PruneResult, error) {
	if keep < 0 {
		return PruneResult{}, ErrInvalidKeep
	}
	db, err := s.pools.Get(ctx, instanceID)
	if err != nil {
		return PruneResult{}, err
	}
	deleted, err := pruneVersions(ctx, db, keep)
	if err != nil {
		return PruneResult{}, err
	}
	res := PruneResult{Keep: keep, DeletedVersions: int64(len(deleted))}
	res.DeletedMetadata, err = s.meta.Delete(ctx, instanceID, deleted)
	return res, err
}

func (s *Service) withMetadata(ctx context.Context, instanceID string, list []*Version) ([]*Version, error) {
	ids := make([]int64, len(list))
	for i, v := range list {
		ids[i] = v.ID
	}
	meta, err := s.meta.ForVersions(ctx, instanceID, ids)
	if err != nil {
		return nil, err
	}
	for _, v := range list {
		if m, ok := meta[v.ID]; ok {
			v.Metadata = m
		}
	}
	return list, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 10
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return limit
}
