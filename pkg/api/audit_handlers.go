package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/versionmanager/pkg/audit"
	"github.com/platinummonkey/versionmanager/pkg/auth"
	"github.com/platinummonkey/versionmanager/pkg/httputil"
)

// AuditHandlers serves the audit trail of the effective instance
type AuditHandlers struct {
	deps Deps
}

// NewAuditHandlers creates a new AuditHandlers
func NewAuditHandlers(d Deps) *AuditHandlers {
	return &AuditHandlers{deps: d}
}

// RegisterRoutes registers audit routes
func (h *AuditHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit", h.ListEvents).Methods("GET")
}

// ListEvents lists the instance events, newest first, including global ones
func (h *AuditHandlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, tenantID, err := effectiveAccess(ctx, h.deps.Resolver, auth.RoleAdmin)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	limit, err := httputil.ParseQueryInt(r, "limit", audit.DefaultListLimit)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	events, err := h.deps.Audit.List(ctx, audit.ListFilter{InstanceID: tenantID, Limit: limit, Offset: offset})
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	total, err := h.deps.Audit.Count(ctx, tenantID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if events == nil {
		events = []*audit.Event{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"ok":         true,
		"instanceId": tenantID,
		"events":     events,
		"total":      total,
		"limit":      limit,
		"offset":     offset,
	})
}
