// Package versions reads and curates the workflow version history that n8n
// writes into each instance's versions database.
//
// Version rows live in the tenant database (table workflow_versions) and are
// reached through the per-instance pool. Descriptions, comments and tags are
// owned by this service and kept in the control-plane database, keyed by
// instance and version id, so they never collide across tenants.
package versions

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// DefaultKeep is how many of the newest versions Prune keeps when unset
const DefaultKeep = 5

// Page sizes for ListWorkflows
const (
	DefaultListLimit = 200
	MaxListLimit     = 1000
)

var (
	ErrNotFound     = errors.New("Version not found")
	ErrInvalidInput = errors.New("workflowId, workflowName, and workflowJson are required.")
	ErrInvalidJSON  = errors.New("workflowJson is not valid JSON")
	ErrNoIDs        = errors.New("No version IDs provided")
	ErrInvalidKeep  = errors.New("keep must be a non-negative number")
	ErrTableMissing = errors.New("workflow_versions table not found in the versions database")
)

// Metadata is the curated information attached to a version
type Metadata struct {
	Description string   `json:"description"`
	Comment     string   `json:"comment"`
	Tags        []string `json:"tags"`
}

// Version is one saved revision of a workflow
type Version struct {
	ID                int64     `json:"id"`
	WorkflowID        string    `json:"workflowId"`
	WorkflowName      string    `json:"workflowName"`
	VersionUUID       string    `json:"versionUuid"`
	WorkflowUpdatedAt time.Time `json:"workflowUpdatedAt"`
	JSON              string    `json:"json"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
	Metadata
}

// WorkflowSummary aggregates the versions of one workflow
type WorkflowSummary struct {
	WorkflowID    string    `json:"workflowId"`
	Name          string    `json:"name"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
	VersionsCount int       `json:"versionsCount"`
}

// ListFilter selects a page of workflows. Search matches names case-insensitively.
type ListFilter struct {
	Search string
	Limit  int
	Offset int
}

// Normalized applies the default and maximum page size
func (f ListFilter) Normalized() ListFilter {
	f.Search = strings.TrimSpace(f.Search)
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// pattern returns the ILIKE argument, nil when no search is set
func (f ListFilter) pattern() interface{} {
	if f.Search == "" {
		return nil
	}
	return "%" + f.Search + "%"
}

// NewVersion is a manually captured workflow revision
type NewVersion struct {
	WorkflowID   string `json:"workflowId"`
	WorkflowName string `json:"workflowName"`
	WorkflowJSON string `json:"workflowJson"`
	VersionUUID  string `json:"versionUuid"`
}

// Normalize trims the fields and compacts the workflow JSON
func (n NewVersion) Normalize() (NewVersion, error) {
	n.WorkflowID = strings.TrimSpace(n.WorkflowID)
	n.WorkflowName = strings.TrimSpace(n.WorkflowName)
	n.WorkflowJSON = strings.TrimSpace(n.WorkflowJSON)
	n.VersionUUID = strings.TrimSpace(n.VersionUUID)
	if n.WorkflowID == "" || n.WorkflowName == "" || n.WorkflowJSON == "" {
		return n, ErrInvalidInput
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(n.WorkflowJSON)); err != nil {
		return n, ErrInvalidJSON
	}
	n.WorkflowJSON = buf.String()
	return n, nil
}

// PruneResult reports what Prune removed
type PruneResult struct {
	Keep            int   `json:"keep"`
	DeletedVersions int64 `json:"deletedVersions"`
	DeletedMetadata int64 `json:"deletedMetadata"`
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
