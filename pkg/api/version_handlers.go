package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/versionmanager/pkg/audit"
	"github.com/platinummonkey/versionmanager/pkg/auth"
	"github.com/platinummonkey/versionmanager/pkg/httputil"
	"github.com/platinummonkey/versionmanager/pkg/observability"
	"github.com/platinummonkey/versionmanager/pkg/versions"
)

// VersionHandlers serves the workflow version history of the effective
// instance. Reads and curation need User; destructive operations need Admin.
type VersionHandlers struct {
	deps Deps
}

// NewVersionHandlers creates a new VersionHandlers
func NewVersionHandlers(d Deps) *VersionHandlers {
	return &VersionHandlers{deps: d}
}

// RegisterRoutes registers version routes
func (h *VersionHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/workflows", h.ListWorkflows).Methods("GET")
	router.HandleFunc("/workflows/stale", h.StaleWorkflows).Methods("GET")
	router.HandleFunc("/workflows/groups", h.ListGroups).Methods("GET")
	router.HandleFunc("/workflows/groups", h.SaveGroups).Methods("PUT")
	router.HandleFunc("/workflows/{workflowId}/versions", h.ListWorkflowVersions).Methods("GET")
	router.HandleFunc("/versions", h.RecentVersions).Methods("GET")
	router.HandleFunc("/versions", h.CreateVersion).Methods("POST")
	router.HandleFunc("/versions", h.BulkDelete).Methods("DELETE")
	router.HandleFunc("/versions/prune", h.Prune).Methods("POST")
	router.HandleFunc("/versions/{versionId:[0-9]+}", h.GetVersion).Methods("GET")
	router.HandleFunc("/versions/{versionId:[0-9]+}", h.UpdateMetadata).Methods("PATCH")
	router.HandleFunc("/versions/{versionId:[0-9]+}", h.DeleteVersion).Methods("DELETE")
	router.HandleFunc("/versions/{versionId:[0-9]+}/metadata", h.DeleteMetadata).Methods("DELETE")
	router.HandleFunc("/export", h.Export).Methods("GET")
}

// ListWorkflows returns a page of workflows ordered by version count
func (h *VersionHandlers) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, tenantID, err := effectiveAccess(ctx, h.deps.Resolver, auth.RoleUser)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	limit, err := httputil.ParseQueryInt(r, "limit", versions.DefaultListLimit)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	filter := versions.ListFilter{Search: r.URL.Query().Get("search"), Limit: limit, Offset: offset}.Normalized()

	list, total, err := h.deps.Versions.ListWorkflows(ctx, tenantID, filter)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"ok":         true,
		"instanceId": tenantID,
		"workflows":  list,
		"total":      total,
		"limit":      filter.Limit,
		"offset":     filter.Offset,
	})
}

// StaleWorkflows returns the workflows that have gone longest without a new version
func (h *VersionHandlers) StaleWorkflows(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, tenantID, err := effectiveAccess(ctx, h.deps.Resolver, auth.RoleUser)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	limit, err := httputil.ParseQueryInt(r, "limit", 10)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	list, err := h.deps.Versions.StaleWorkflows(ctx, tenantID, limit)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"ok":         true,
		"instanceId": tenantID,
		"workflows":  list,
	})
}

// ListWorkflowVersions returns every version of one workflow
func (h *VersionHandlers) ListWorkflowVersions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workflowID, ok := httputil.ParsePathStringOrError(w, r, "workflowId")
	if !ok {
		return
	}
	_, tenantID, err := effectiveAccess(ctx, h.deps.Resolver, auth.RoleUser)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	list, err := h.deps.Versions.ListByWorkflow(ctx, tenantID, workflowID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"ok":         true,
		"instanceId": tenantID,
		"workflowId": workflowID,
		"versions":   list,
	})
}

// RecentVersions returns the newest versions across all workflows
func (h *VersionHandlers) RecentVersions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, tenantID, err := effectiveAccess(ctx, h.deps.Resolver, auth.RoleUser)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	limit, err := httputil.ParseQueryInt(r, "limit", 10)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	list, err := h.deps.Versions.Recent(ctx, tenantID, limit)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"ok":         true,
		"instanceId": tenantID,
		"versions":   list,
	})
}

// CreateVersion stores a manually captured workflow revision
func (h *VersionHandlers) CreateVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, tenantID, err := effectiveAccess(ctx, h.deps.Resolver, auth.RoleUser)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	var req versions.NewVersion
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	v, err := h.deps.Versions.Create(ctx, tenantID, req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	record(ctx, h.deps.Audit, actor, audit.Event{
		Action:     audit.ActionVersionCreate,
		EntityType: audit.EntityVersion,
		EntityID:   strconv.FormatInt(v.ID, 10),
		InstanceID: tenantID,
		Details:    map[string]interface{}{"workflowId": v.WorkflowID, "workflowName": v.WorkflowName},
	})
	httputil.WriteCreated(w, map[string]interface{}{
		"ok":         true,
		"instanceId": tenantID,
		"version":    v,
	})
}

// GetVersion returns one version with its metadata
func (h *VersionHandlers) GetVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := httputil.ParsePathInt64OrError(w, r, "versionId")
	if !ok {
		return
	}
	_, tenantID, err := effectiveAccess(ctx, h.deps.Resolver, auth.RoleUser)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	v, err := h.deps.Versions.Get(ctx, tenantID, id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"ok":         true,
		"instanceId": tenantID,
		"version":    v,
	})
}

// UpdateMetadata replaces the description, comment and tags of a version
func (h *VersionHandlers) UpdateMetadata(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := httputil.ParsePathInt64OrError(w, r, "versionId")
	if !ok {
		return
	}
	actor, tenantID, err := effectiveAccess(ctx, h.deps.Resolver, auth.RoleUser)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	var req versions.Metadata
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	// metadata may only be attached to versions that exist on the instance
	if _, err := h.deps.Versions.Get(ctx, tenantID, id); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if err := h.deps.Versions.UpdateMetadata(ctx, tenantID, id, req); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	v, err := h.deps.Versions.Get(ctx, tenantID, id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	record(ctx, h.deps.Audit, actor, audit.Event{
		Action:     audit.ActionMetadataUpdate,
		EntityType: audit.EntityVersion,
		EntityID:   strconv.FormatInt(id, 10),
		InstanceID: tenantID,
		Details:    map[string]interface{}{"tags": v.Tags},
	})
	httputil.WriteSuccess(w, map[string]interface{}{
		"ok":         true,
		"instanceId": tenantID,
		"version":    v,
	})
}

// DeleteVersion removes one version and its metadata
func (h *VersionHandlers) DeleteVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := httputil.ParsePathInt64OrError(w, r, "versionId")
	if !ok {
		return
	}
	actor, tenantID, err := effectiveAccess(ctx, h.deps.Resolver, auth.RoleAdmin)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if _, err := h.deps.Versions.Delete(ctx, tenantID, []int64{id}); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	record(ctx, h.deps.Audit, actor, audit.Event{
		Action:     audit.ActionVersionDelete,
		EntityType: audit.EntityVersion,
		EntityID:   strconv.FormatInt(id, 10),
		InstanceID: tenantID,
	})
	httputil.WriteSuccess(w, map[string]interface{}{
		"ok":         true,
		"instanceId": tenantID,
		"deleted":    1,
	})
}

// DeleteMetadata clears the metadata of one version
func (h *VersionHandlers) DeleteMetadata(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := httputil.ParsePathInt64OrError(w, r, "versionId")
	if !ok {
		return
	}
	actor, tenantID, err := effectiveAccess(ctx, h.deps.Resolver, auth.RoleUser)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	n, err := h.deps.Versions.DeleteMetadata(ctx, tenantID, []int64{id})
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	record(ctx, h.deps.Audit, actor, audit.Event{
		Action:     audit.ActionMetadataDelete,
		EntityType: audit.EntityVersion,
		EntityID:   strconv.FormatInt(id, 10),
		InstanceID: tenantID,
	})
	httputil.WriteSuccess(w, map[string]interface{}{
		"ok":              true,
		"instanceId":      tenantID,
		"deletedMetadata": n,
	})
}

// BulkDeleteRequest selects versions to delete. MetadataOnly keeps the
// versions and clears only their metadata.
type BulkDeleteRequest struct {
	IDs          []int64 `json:"ids"`
	MetadataOnly bool    `json:"metadataOnly"`
}

// BulkDelete deletes several versions, or only their metadata
func (h *VersionHandlers) BulkDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, tenantID, err := effectiveAccess(ctx, h.deps.Resolver, auth.RoleUser)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	var req BulkDeleteRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		httputil.WriteAppError(w, r, versions.ErrNoIDs)
		return
	}

	if req.MetadataOnly {
		n, err := h.deps.Versions.DeleteMetadata(ctx, tenantID, req.IDs)
		if err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}
		record(ctx, h.deps.Audit, actor, audit.Event{
			Action:     audit.ActionMetadataDelete,
			EntityType: audit.EntityVersion,
			InstanceID: tenantID,
			Details:    map[string]interface{}{"ids": req.IDs, "deleted": n},
		})
		httputil.WriteSuccess(w, map[string]interface{}{
			"ok":              true,
			"instanceId":      tenantID,
			"deletedMetadata": n,
		})
		return
	}

	if _, err := h.deps.Resolver.RequireRole(ctx, actor, tenantID, auth.RoleAdmin); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	n, err := h.deps.Versions.Delete(ctx, tenantID, req.IDs)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	observability.FromContext(ctx).WithTenant(tenantID).Infof("deleted %d versions", n)
	record(ctx, h.deps.Audit, actor, audit.Event{
		Action:     audit.ActionVersionBulkDelete,
		EntityType: audit.EntityVersion,
		InstanceID: tenantID,
		Details:    map[string]interface{}{"ids": req.IDs, "deleted": n},
	})
	httputil.WriteSuccess(w, map[string]interface{}{
		"ok":         true,
		"instanceId": tenantID,
		"deleted":    n,
	})
}

// PruneRequest sets how many of the newest versions to keep; nil keeps
// versions.DefaultKeep
type PruneRequest struct {
	Keep *int `json:"keep"`
}

// Prune deletes all but the newest versions of the instance
func (h *VersionHandlers) Prune(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, tenantID, err := effectiveAccess(ctx, h.deps.Resolver, auth.RoleAdmin)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	var req PruneRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	keep := versions.DefaultKeep
	if req.Keep != nil {
		keep = *req.Keep
	}
	res, err := h.deps.Versions.Prune(ctx, tenantID, keep)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	observability.FromContext(ctx).WithTenant(tenantID).Infof("pruned %d versions, kept %d", res.DeletedVersions, keep)
	record(ctx, h.deps.Audit, actor, audit.Event{
		Action:     audit.ActionVersionPrune,
		EntityType: audit.EntityVersion,
		InstanceID: tenantID,
		Details: map[string]interface{}{
			"keep":            res.Keep,
			"deletedVersions": res.DeletedVersions,
			"deletedMetadata": res.DeletedMetadata,
		},
	})
	httputil.WriteSuccess(w, map[string]interface{}{
		"ok":         true,
		"instanceId": tenantID,
		"result":     res,
	})
}

// parseIDs reads a comma separated id list, skipping entries that are not integers
func parseIDs(raw string) []int64 {
	ids := []int64{}
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// Export returns the versions named by ids, or every version of workflowId,
// as JSON or as a CSV attachment
func (h *VersionHandlers) Export(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, tenantID, err := effectiveAccess(ctx, h.deps.Resolver, auth.RoleUser)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	q := r.URL.Query()
	format := strings.ToLower(q.Get("format"))
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		httputil.WriteBadRequest(w, "format must be json or csv")
		return
	}

	list := []*versions.Version{}
	workflowID := q.Get("workflowId")
	switch {
	case q.Get("ids") != "":
		list, err = h.deps.Versions.ByIDs(ctx, tenantID, parseIDs(q.Get("ids")))
	case workflowID != "":
		list, err = h.deps.Versions.ListByWorkflow(ctx, tenantID, workflowID)
	}
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	record(ctx, h.deps.Audit, actor, audit.Event{
		Action:     audit.ActionVersionExport,
		EntityType: audit.EntityVersion,
		InstanceID: tenantID,
		Details:    map[string]interface{}{"count": len(list), "workflowId": workflowID, "format": format},
	})

	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="versions.csv"`)
		w.WriteHeader(http.StatusOK)
		if err := versions.WriteCSV(w, list); err != nil {
			observability.FromContext(ctx).WithError(err).Warn("failed to write csv export")
		}
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"ok":         true,
		"instanceId": tenantID,
		"versions":   list,
	})
}

// ListGroups returns the workflow folders of the instance
func (h *VersionHandlers) ListGroups(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, tenantID, err := effectiveAccess(ctx, h.deps.Resolver, auth.RoleUser)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	groups, err := h.deps.Groups.List(ctx, tenantID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"ok":         true,
		"instanceId": tenantID,
		"folders":    groups,
	})
}

// SaveGroupsRequest replaces every folder of the instance
type SaveGroupsRequest struct {
	Folders versions.Groups `json:"folders"`
}

// SaveGroups replaces the workflow folders of the instance
func (h *VersionHandlers) SaveGroups(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, tenantID, err := effectiveAccess(ctx, h.deps.Resolver, auth.RoleUser)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	var req SaveGroupsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	saved, err := h.deps.Groups.Replace(ctx, tenantID, req.Folders)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	record(ctx, h.deps.Audit, actor, audit.Event{
		Action:     audit.ActionGroupsSave,
		InstanceID: tenantID,
		Details:    map[string]interface{}{"groups": len(saved)},
	})
	httputil.WriteSuccess(w, map[string]interface{}{
		"ok":         true,
		"instanceId": tenantID,
		"folders":    saved,
	})
}
