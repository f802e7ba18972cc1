package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/versionmanager/pkg/access"
	"github.com/platinummonkey/versionmanager/pkg/audit"
	"github.com/platinummonkey/versionmanager/pkg/auth"
	"github.com/platinummonkey/versionmanager/pkg/contextkeys"
	"github.com/platinummonkey/versionmanager/pkg/httputil"
	"github.com/platinummonkey/versionmanager/pkg/observability"
	"github.com/platinummonkey/versionmanager/pkg/poolcache"
	"github.com/platinummonkey/versionmanager/pkg/settings"
	"github.com/platinummonkey/versionmanager/pkg/users"
)

// SettingsHandlers handles the settings of the effective instance
type SettingsHandlers struct {
	deps Deps
}

// NewSettingsHandlers creates a new SettingsHandlers
func NewSettingsHandlers(d Deps) *SettingsHandlers {
	return &SettingsHandlers{deps: d}
}

// RegisterRoutes registers settings routes
func (h *SettingsHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/settings", h.GetSettings).Methods("GET")
	router.HandleFunc("/settings", h.SaveSettings).Methods("PUT")
	router.HandleFunc("/settings/test-connection", h.TestConnection).Methods("POST")
}

// effectiveAccess resolves the caller, picks the instance the request
// operates on and requires minimum on it
func effectiveAccess(ctx context.Context, resolver *access.Resolver, minimum auth.Role) (*users.User, string, error) {
	user, err := resolver.ResolveUser(ctx, contextkeys.SessionToken(ctx))
	if err != nil {
		return nil, "", err
	}
	tenantID, err := resolver.EffectiveTenant(ctx, user, contextkeys.RequestedTenant(ctx))
	if err != nil {
		return user, "", err
	}
	if tenantID == "" {
		return user, "", poolcache.ErrNoTenant
	}
	if _, err := resolver.RequireRole(ctx, user, tenantID, minimum); err != nil {
		return user, tenantID, err
	}
	return user, tenantID, nil
}

// GetSettings returns the instance settings with the DB password redacted
func (h *SettingsHandlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, tenantID, err := effectiveAccess(ctx, h.deps.Resolver, auth.RoleAdmin)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	current, err := h.deps.Settings.Get(ctx, tenantID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"ok":         true,
		"instanceId": tenantID,
		"settings":   current.Redacted(),
	})
}

// SaveSettings validates and stores the instance settings, then drops the
// instance pool so the next request connects with the new settings
func (h *SettingsHandlers) SaveSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, tenantID, err := effectiveAccess(ctx, h.deps.Resolver, auth.RoleAdmin)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	var next settings.Settings
	if !httputil.ParseJSONOrError(w, r, &next) {
		return
	}
	saved, err := h.deps.Settings.Save(ctx, tenantID, next)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	h.deps.Pools.Invalidate(tenantID)

	observability.FromContext(ctx).WithTenant(tenantID).Info("settings saved, pool invalidated")
	record(ctx, h.deps.Audit, actor, audit.Event{
		Action:     audit.ActionSettingsSave,
		EntityType: audit.EntitySettings,
		EntityID:   tenantID,
		InstanceID: tenantID,
		Details: map[string]interface{}{
			"host":       saved.DB.Host,
			"database":   saved.DB.Database,
			"sslMode":    saved.DB.EffectiveSSLMode(),
			"webhookUrl": saved.Webhook.URL,
		},
	})
	httputil.WriteSuccess(w, map[string]interface{}{
		"ok":         true,
		"instanceId": tenantID,
		"settings":   saved.Redacted(),
	})
}

// TestConnection opens or reuses the instance pool and pings it
func (h *SettingsHandlers) TestConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, tenantID, err := effectiveAccess(ctx, h.deps.Resolver, auth.RoleAdmin)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	latency, err := pingInstance(ctx, h.deps.Pools, tenantID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"ok":         true,
		"instanceId": tenantID,
		"latencyMs":  latency.Milliseconds(),
	})
}
