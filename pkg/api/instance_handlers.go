package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/versionmanager/pkg/audit"
	"github.com/platinummonkey/versionmanager/pkg/auth"
	"github.com/platinummonkey/versionmanager/pkg/contextkeys"
	"github.com/platinummonkey/versionmanager/pkg/httputil"
	"github.com/platinummonkey/versionmanager/pkg/instances"
	"github.com/platinummonkey/versionmanager/pkg/poolcache"
	"github.com/platinummonkey/versionmanager/pkg/users"
)

// maxListedInstances bounds the instance list of a SuperAdmin
const maxListedInstances = 1000

// pingTimeout bounds connection checks against instance databases
const pingTimeout = 5 * time.Second

// InstanceHandlers handles instance, membership and pool status requests
type InstanceHandlers struct {
	deps Deps
}

// NewInstanceHandlers creates a new InstanceHandlers
func NewInstanceHandlers(d Deps) *InstanceHandlers {
	return &InstanceHandlers{deps: d}
}

// RegisterRoutes registers instance routes
func (h *InstanceHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/instances", h.ListInstances).Methods("GET")
	router.HandleFunc("/instances", h.CreateInstance).Methods("POST")
	router.HandleFunc("/instances/switch", h.SwitchInstance).Methods("POST")
	router.HandleFunc("/instances/{id}", h.GetInstance).Methods("GET")
	router.HandleFunc("/instances/{id}", h.UpdateInstance).Methods("PUT")
	router.HandleFunc("/instances/{id}", h.DeleteInstance).Methods("DELETE")
	router.HandleFunc("/instances/{id}/status", h.Status).Methods("GET")

	// Members
	router.HandleFunc("/instances/{id}/members", h.ListMembers).Methods("GET")
	router.HandleFunc("/instances/{id}/members", h.AddMember).Methods("POST")
	router.HandleFunc("/instances/{id}/members/{userId}", h.UpdateMember).Methods("PUT")
	router.HandleFunc("/instances/{id}/members/{userId}", h.RemoveMember).Methods("DELETE")
}

// visibleInstances lists every instance for a SuperAdmin and the member
// instances of anyone else
func visibleInstances(ctx context.Context, store InstanceStore, user *users.User) ([]*instances.InstanceWithRole, error) {
	if !user.IsSuperAdmin {
		list, err := store.ListUserInstances(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		if list == nil {
			list = []*instances.InstanceWithRole{}
		}
		return list, nil
	}
	all, err := store.List(ctx, maxListedInstances, 0)
	if err != nil {
		return nil, err
	}
	out := make([]*instances.InstanceWithRole, 0, len(all))
	for _, inst := range all {
		out = append(out, &instances.InstanceWithRole{Instance: *inst, Role: auth.RoleSuperAdmin})
	}
	return out, nil
}

// ListInstances lists the instances visible to the caller
func (h *InstanceHandlers) ListInstances(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, err := h.deps.Resolver.ResolveUser(ctx, contextkeys.SessionToken(ctx))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	list, err := visibleInstances(ctx, h.deps.Instances, user)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"ok": true, "instances": list})
}

type createInstanceRequest struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	AdminUserID string `json:"adminUserId"`
}

// CreateInstance creates an instance, optionally with an initial Admin
func (h *InstanceHandlers) CreateInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, err := h.deps.Resolver.RequireSuperAdmin(ctx, contextkeys.SessionToken(ctx))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	var req createInstanceRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.Name)
	slug := instances.NormalizeSlug(req.Slug)
	if err := instances.ValidateName(name); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if err := instances.ValidateSlug(slug); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if req.AdminUserID != "" {
		if _, err := h.deps.Users.GetByID(ctx, req.AdminUserID); err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}
	}

	inst, err := h.deps.Instances.Create(ctx, name, slug, actor.ID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if req.AdminUserID != "" {
		if _, err := h.deps.Instances.AddMember(ctx, req.AdminUserID, inst.ID, auth.RoleAdmin); err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}
	}

	record(ctx, h.deps.Audit, actor, audit.Event{
		Action:     audit.ActionInstanceCreate,
		EntityType: audit.EntityInstance,
		EntityID:   inst.ID,
		InstanceID: inst.ID,
		Details:    map[string]interface{}{"name": inst.Name, "slug": inst.Slug},
	})
	httputil.WriteCreated(w, map[string]interface{}{"ok": true, "instance": inst})
}

// GetInstance returns one instance to its Admins
func (h *InstanceHandlers) GetInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	_, access, err := h.deps.Resolver.Authorize(ctx, contextkeys.SessionToken(ctx), id, auth.RoleAdmin)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	inst, err := h.deps.Instances.Get(ctx, id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"ok": true, "instance": inst, "role": access.Role})
}

// UpdateInstance renames an instance or changes its slug
func (h *InstanceHandlers) UpdateInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, err := h.deps.Resolver.RequireSuperAdmin(ctx, contextkeys.SessionToken(ctx))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req instances.UpdateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	inst, err := h.deps.Instances.Update(ctx, id, req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	record(ctx, h.deps.Audit, actor, audit.Event{
		Action:     audit.ActionInstanceUpdate,
		EntityType: audit.EntityInstance,
		EntityID:   inst.ID,
		InstanceID: inst.ID,
		Details:    map[string]interface{}{"name": inst.Name, "slug": inst.Slug},
	})
	httputil.WriteSuccess(w, map[string]interface{}{"ok": true, "instance": inst})
}

// DeleteInstance removes an instance, its memberships and its settings, and
// closes its pool. The default instance is refused before any role check.
func (h *InstanceHandlers) DeleteInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if id == instances.DefaultID {
		httputil.WriteAppError(w, r, instances.ErrDefaultInstance)
		return
	}
	actor, err := h.deps.Resolver.RequireSuperAdmin(ctx, contextkeys.SessionToken(ctx))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if err := h.deps.Instances.Delete(ctx, id); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	h.deps.Pools.Invalidate(id)
	if err := h.deps.Settings.Delete(ctx, id); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	record(ctx, h.deps.Audit, actor, audit.Event{
		Action:     audit.ActionInstanceDelete,
		EntityType: audit.EntityInstance,
		EntityID:   id,
	})
	httputil.WriteOK(w)
}

type switchInstanceRequest struct {
	InstanceID string `json:"instanceId"`
}

// SwitchInstance remembers the instance the caller works on
func (h *InstanceHandlers) SwitchInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, err := h.deps.Resolver.ResolveUser(ctx, contextkeys.SessionToken(ctx))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	var req switchInstanceRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	id := strings.TrimSpace(req.InstanceID)
	if id == "" {
		httputil.WriteBadRequest(w, "Instance ID is required")
		return
	}
	if _, err := h.deps.Instances.Get(ctx, id); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if _, err := h.deps.Resolver.RequireRole(ctx, user, id, auth.RoleUser); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	h.deps.Cookies.SetInstance(w, id)
	httputil.WriteSuccess(w, map[string]interface{}{"ok": true, "instanceId": id})
}

// Status checks the instance database through the pool cache
func (h *InstanceHandlers) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if _, _, err := h.deps.Resolver.Authorize(ctx, contextkeys.SessionToken(ctx), id, auth.RoleUser); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	latency, err := pingInstance(ctx, h.deps.Pools, id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"ok":         true,
		"instanceId": id,
		"connected":  true,
		"latencyMs":  latency.Milliseconds(),
		"pools": map[string]int{
			"size":     h.deps.Pools.Len(),
			"maxPools": h.deps.Pools.MaxPools(),
		},
	})
}

// pingInstance fetches the instance pool and pings it
func pingInstance(ctx context.Context, pools Pools, instanceID string) (time.Duration, error) {
	db, err := pools.Get(ctx, instanceID)
	if err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	start := time.Now()
	if err := db.PingContext(ctx); err != nil {
		return 0, &poolcache.ConnectionError{TenantID: instanceID, Err: err}
	}
	return time.Since(start), nil
}

// ListMembers lists an instance's members with their profiles
func (h *InstanceHandlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if _, _, err := h.deps.Resolver.Authorize(ctx, contextkeys.SessionToken(ctx), id, auth.RoleAdmin); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	members, err := h.deps.Instances.ListMembers(ctx, id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if members == nil {
		members = []*instances.Member{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"ok": true, "members": members})
}

type memberRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// AddMember grants a user a role on the instance, replacing any previous role
func (h *InstanceHandlers) AddMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	actor, _, err := h.deps.Resolver.Authorize(ctx, contextkeys.SessionToken(ctx), id, auth.RoleAdmin)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	var req memberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID == "" {
		httputil.WriteBadRequest(w, "User ID is required")
		return
	}
	role, err := auth.ParseMemberRole(req.Role)
	if err != nil {
		httputil.WriteBadRequest(w, "Valid role (Admin/User) is required")
		return
	}
	if _, err := h.deps.Users.GetByID(ctx, req.UserID); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	membership, err := h.deps.Instances.AddMember(ctx, req.UserID, id, role)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	record(ctx, h.deps.Audit, actor, audit.Event{
		Action:     audit.ActionMemberAdd,
		EntityType: audit.EntityUser,
		EntityID:   req.UserID,
		InstanceID: id,
		Details:    map[string]interface{}{"role": role.String()},
	})
	httputil.WriteSuccess(w, map[string]interface{}{"ok": true, "membership": membership})
}

// UpdateMember changes a member's role
func (h *InstanceHandlers) UpdateMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "userId")
	if !ok {
		return
	}
	actor, _, err := h.deps.Resolver.Authorize(ctx, contextkeys.SessionToken(ctx), id, auth.RoleAdmin)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	var req memberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	role, err := auth.ParseMemberRole(req.Role)
	if err != nil {
		httputil.WriteBadRequest(w, "Valid role (Admin/User) is required")
		return
	}
	membership, err := h.deps.Instances.UpdateMemberRole(ctx, userID, id, role)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	record(ctx, h.deps.Audit, actor, audit.Event{
		Action:     audit.ActionMemberRoleChange,
		EntityType: audit.EntityUser,
		EntityID:   userID,
		InstanceID: id,
		Details:    map[string]interface{}{"role": role.String()},
	})
	httputil.WriteSuccess(w, map[string]interface{}{"ok": true, "membership": membership})
}

// RemoveMember revokes a member's access to the instance
func (h *InstanceHandlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "userId")
	if !ok {
		return
	}
	actor, _, err := h.deps.Resolver.Authorize(ctx, contextkeys.SessionToken(ctx), id, auth.RoleAdmin)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if err := h.deps.Instances.RemoveMember(ctx, userID, id); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	record(ctx, h.deps.Audit, actor, audit.Event{
		Action:     audit.ActionMemberRemove,
		EntityType: audit.EntityUser,
		EntityID:   userID,
		InstanceID: id,
	})
	httputil.WriteOK(w)
}
