package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/versionmanager/pkg/audit"
	"github.com/platinummonkey/versionmanager/pkg/auth"
	"github.com/platinummonkey/versionmanager/pkg/contextkeys"
	"github.com/platinummonkey/versionmanager/pkg/httputil"
)

// MinProfilePasswordLength applies to passwords changed from the profile
const MinProfilePasswordLength = 8

// ProfileHandlers lets the caller manage their own account
type ProfileHandlers struct {
	deps Deps
}

// NewProfileHandlers creates a new ProfileHandlers
func NewProfileHandlers(d Deps) *ProfileHandlers {
	return &ProfileHandlers{deps: d}
}

// RegisterRoutes registers profile routes
func (h *ProfileHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/profile", h.GetProfile).Methods("GET")
	router.HandleFunc("/profile", h.UpdateProfile).Methods("PATCH")
}

// GetProfile returns the caller's account
func (h *ProfileHandlers) GetProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, err := h.deps.Resolver.ResolveUser(ctx, contextkeys.SessionToken(ctx))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"ok": true, "profile": user})
}

// UpdateProfileRequest changes the display name, the password, or both.
// CurrentPassword is required when the account already has a password.
type UpdateProfileRequest struct {
	Name            *string `json:"name"`
	CurrentPassword string  `json:"currentPassword"`
	NewPassword     string  `json:"newPassword"`
	ConfirmPassword string  `json:"confirmPassword"`
}

// UpdateProfile applies the caller's own name and password changes
func (h *ProfileHandlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, err := h.deps.Resolver.ResolveUser(ctx, contextkeys.SessionToken(ctx))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	var req UpdateProfileRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	creds, err := h.deps.Users.GetCredentials(ctx, user.Email)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	// validate everything before writing anything
	var name string
	if req.Name != nil {
		name = strings.TrimSpace(*req.Name)
		if name == "" {
			httputil.WriteBadRequest(w, "Display name is required")
			return
		}
	}
	changePassword := req.NewPassword != ""
	if changePassword {
		switch {
		case len(req.NewPassword) < MinProfilePasswordLength:
			httputil.WriteBadRequest(w, "Password must be at least 8 characters")
			return
		case req.ConfirmPassword != "" && req.NewPassword != req.ConfirmPassword:
			httputil.WriteBadRequest(w, "Passwords do not match")
			return
		case creds.PasswordHash != "" && req.CurrentPassword == "":
			httputil.WriteBadRequest(w, "Current password is required")
			return
		case creds.PasswordHash != "" && !auth.VerifyPassword(req.CurrentPassword, creds.PasswordHash):
			httputil.WriteBadRequest(w, "Current password is incorrect")
			return
		}
	}

	updates := map[string]interface{}{}
	if name != "" && name != creds.Name {
		if err := h.deps.Users.UpdateName(ctx, creds.ID, name); err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}
		record(ctx, h.deps.Audit, user, audit.Event{
			Action:     audit.ActionProfileUpdate,
			EntityType: audit.EntityUser,
			EntityID:   creds.ID,
			Details:    map[string]interface{}{"name": name},
		})
		updates["name"] = name
	}
	if changePassword {
		hash, err := auth.HashPassword(req.NewPassword)
		if err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}
		if err := h.deps.Users.SetPasswordHash(ctx, creds.ID, hash); err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}
		action := audit.ActionPasswordChange
		if creds.PasswordHash == "" {
			action = audit.ActionSetPassword
		}
		record(ctx, h.deps.Audit, user, audit.Event{
			Action:     action,
			EntityType: audit.EntityUser,
			EntityID:   creds.ID,
		})
		updates["passwordUpdated"] = true
	}
	if len(updates) == 0 {
		httputil.WriteBadRequest(w, "No changes submitted")
		return
	}

	profile, err := h.deps.Users.GetByID(ctx, creds.ID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"ok":      true,
		"updates": updates,
		"profile": profile,
	})
}
