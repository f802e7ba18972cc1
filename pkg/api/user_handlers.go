package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/versionmanager/pkg/audit"
	"github.com/platinummonkey/versionmanager/pkg/auth"
	"github.com/platinummonkey/versionmanager/pkg/contextkeys"
	"github.com/platinummonkey/versionmanager/pkg/httputil"
	"github.com/platinummonkey/versionmanager/pkg/users"
)

// UserHandlers handles account administration requests
type UserHandlers struct {
	deps Deps
}

// NewUserHandlers creates a new UserHandlers
func NewUserHandlers(d Deps) *UserHandlers {
	return &UserHandlers{deps: d}
}

// RegisterRoutes registers user routes
func (h *UserHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/users", h.ListUsers).Methods("GET")
	router.HandleFunc("/users", h.CreateUser).Methods("POST")
	router.HandleFunc("/users/{id}", h.UpdateUser).Methods("PATCH")
	router.HandleFunc("/users/{id}", h.DeleteUser).Methods("DELETE")
	router.HandleFunc("/users/{id}/invite", h.Reinvite).Methods("POST")
}

// ListUsers lists all accounts
func (h *UserHandlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := h.deps.Resolver.RequireSuperAdmin(ctx, contextkeys.SessionToken(ctx)); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	list, err := h.deps.Users.List(ctx)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if list == nil {
		list = []*users.User{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"ok": true, "users": list})
}

type createUserRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	IsSuperAdmin bool   `json:"isSuperAdmin"`
	InstanceID   string `json:"instanceId"`
	Role         string `json:"role"`
}

// CreateUser invites an account and optionally adds it to an instance. It is
// open to anonymous callers only while no account exists.
func (h *UserHandlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, err := h.deps.Resolver.AdmitBootstrap(ctx, contextkeys.SessionToken(ctx))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	var req createUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.Name)
	email := users.NormalizeEmail(req.Email)
	if name == "" || email == "" {
		httputil.WriteBadRequest(w, "Name and email are required")
		return
	}
	role := auth.RoleUser
	if req.InstanceID != "" && req.Role != "" {
		if role, err = auth.ParseMemberRole(req.Role); err != nil {
			httputil.WriteBadRequest(w, "Valid role (Admin/User) is required")
			return
		}
	}

	if req.InstanceID != "" {
		if _, err := h.deps.Instances.Get(ctx, req.InstanceID); err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}
	}

	var user *users.User
	if actor == nil {
		// an anonymous caller may only create the first account, as SuperAdmin
		user, err = h.deps.Users.CreateFirst(ctx, name, email, "")
	} else {
		user, err = h.deps.Users.Create(ctx, users.NewUser{
			Name:         name,
			Email:        email,
			Status:       users.StatusInvited,
			IsSuperAdmin: req.IsSuperAdmin,
		})
	}
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if req.InstanceID != "" {
		if _, err := h.deps.Instances.AddMember(ctx, user.ID, req.InstanceID, role); err != nil {
			h.discardUser(w, r, user, err)
			return
		}
	}

	inv, err := h.deps.Invites.Create(ctx, user.ID, user.Email)
	if err != nil {
		h.discardUser(w, r, user, err)
		return
	}
	if actor == nil {
		h.deps.Resolver.MarkOperational()
	}

	record(ctx, h.deps.Audit, actor, audit.Event{
		Action:     audit.ActionUserInvite,
		EntityType: audit.EntityUser,
		EntityID:   user.ID,
		InstanceID: req.InstanceID,
		Details:    map[string]interface{}{"email": user.Email, "isSuperAdmin": user.IsSuperAdmin},
	})
	httputil.WriteCreated(w, map[string]interface{}{
		"ok":             true,
		"user":           user,
		"inviteToken":    inv.Token,
		"inviteUrl":      inviteURL(r, inv.Token),
		"expiresInHours": expiresInHours(inv),
	})
}

type updateUserRequest struct {
	Name          *string `json:"name"`
	IsSuperAdmin  *bool   `json:"isSuperAdmin"`
	ResetPassword bool    `json:"resetPassword"`
}

// UpdateUser renames an account, grants or revokes SuperAdmin, or resets the
// password back to the invited state
func (h *UserHandlers) UpdateUser(w http.ResponseWriter, r *http.Request) {
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
	var req updateUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == nil && req.IsSuperAdmin == nil && !req.ResetPassword {
		httputil.WriteBadRequest(w, "Nothing to update")
		return
	}
	if req.IsSuperAdmin != nil && !*req.IsSuperAdmin && id == actor.ID {
		httputil.WriteBadRequest(w, "Cannot revoke your own SuperAdmin status")
		return
	}

	if _, err := h.deps.Users.GetByID(ctx, id); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	event := audit.Event{EntityType: audit.EntityUser, EntityID: id}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			httputil.WriteBadRequest(w, "Name is required")
			return
		}
		if err := h.deps.Users.UpdateName(ctx, id, name); err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}
		event.Action = audit.ActionUserUpdate
		event.Details = map[string]interface{}{"name": name}
		record(ctx, h.deps.Audit, actor, event)
	}
	if req.IsSuperAdmin != nil {
		if err := h.deps.Users.SetSuperAdmin(ctx, id, *req.IsSuperAdmin); err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}
		event.Action = audit.ActionSuperAdminRevoke
		if *req.IsSuperAdmin {
			event.Action = audit.ActionSuperAdminGrant
		}
		event.Details = map[string]interface{}{"isSuperAdmin": *req.IsSuperAdmin}
		record(ctx, h.deps.Audit, actor, event)
	}
	if req.ResetPassword {
		if err := h.deps.Users.ResetPassword(ctx, id); err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}
		event.Action = audit.ActionPasswordReset
		event.Details = nil
		record(ctx, h.deps.Audit, actor, event)
	}

	user, err := h.deps.Users.GetByID(ctx, id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"ok": true, "user": user})
}

// DeleteUser removes an account; its memberships cascade
func (h *UserHandlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
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
	if id == actor.ID {
		httputil.WriteBadRequest(w, "Cannot delete your own account")
		return
	}
	if err := h.deps.Users.Delete(ctx, id); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	record(ctx, h.deps.Audit, actor, audit.Event{
		Action:     audit.ActionUserDelete,
		EntityType: audit.EntityUser,
		EntityID:   id,
	})
	httputil.WriteOK(w)
}

// Reinvite replaces the pending invitations of an invited account with a
// fresh token
func (h *UserHandlers) Reinvite(w http.ResponseWriter, r *http.Request) {
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
	user, err := h.deps.Users.GetByID(ctx, id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if user.Status != users.StatusInvited {
		httputil.WriteBadRequest(w, "User is not in Invited status")
		return
	}

	if err := h.deps.Invites.DeleteForUser(ctx, user.ID); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	inv, err := h.deps.Invites.Create(ctx, user.ID, user.Email)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	record(ctx, h.deps.Audit, actor, audit.Event{
		Action:     audit.ActionUserReinvite,
		EntityType: audit.EntityUser,
		EntityID:   user.ID,
		Details:    map[string]interface{}{"email": user.Email},
	})
	httputil.WriteSuccess(w, map[string]interface{}{
		"ok":             true,
		"token":          inv.Token,
		"inviteUrl":      inviteURL(r, inv.Token),
		"expiresInHours": expiresInHours(inv),
	})
}

// discardUser removes an account whose invitation could not be completed so
// the email can be invited again, then writes cause
func (h *UserHandlers) discardUser(w http.ResponseWriter, r *http.Request, user *users.User, cause error) {
	if err := h.deps.Users.Delete(r.Context(), user.ID); err != nil {
		h.deps.Logger.WithError(err).WithField("user_id", user.ID).Warn("failed to remove partially created user")
	}
	httputil.WriteAppError(w, r, cause)
}
