package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/versionmanager/pkg/access"
	"github.com/platinummonkey/versionmanager/pkg/audit"
	"github.com/platinummonkey/versionmanager/pkg/auth"
	"github.com/platinummonkey/versionmanager/pkg/contextkeys"
	"github.com/platinummonkey/versionmanager/pkg/httputil"
	"github.com/platinummonkey/versionmanager/pkg/invites"
	"github.com/platinummonkey/versionmanager/pkg/observability"
	"github.com/platinummonkey/versionmanager/pkg/users"
)

const (
	// MinBootstrapPasswordLength applies to the first account
	MinBootstrapPasswordLength = 8
	// MinPasswordLength applies to passwords set from an invitation
	MinPasswordLength = 6
)

const invalidCredentials = "Invalid login or password"

// AuthHandlers handles sign-in, bootstrap and invitation requests
type AuthHandlers struct {
	deps Deps
}

// NewAuthHandlers creates a new AuthHandlers
func NewAuthHandlers(d Deps) *AuthHandlers {
	return &AuthHandlers{deps: d}
}

// RegisterRoutes registers authentication routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/bootstrap", h.BootstrapStatus).Methods("GET")
	router.Handle("/auth/bootstrap", limited(h.deps, h.Bootstrap)).Methods("POST")
	router.Handle("/auth/login", limited(h.deps, h.Login)).Methods("POST")
	router.HandleFunc("/auth/logout", h.Logout).Methods("POST", "GET")
	router.Handle("/auth/invite/{token}", limited(h.deps, h.ValidateInvite)).Methods("GET")
	router.Handle("/auth/set-password", limited(h.deps, h.SetPassword)).Methods("POST")
	router.HandleFunc("/me", h.Me).Methods("GET")
}

// BootstrapStatus reports whether the first account still has to be created
func (h *AuthHandlers) BootstrapStatus(w http.ResponseWriter, r *http.Request) {
	state, err := h.deps.Resolver.State(r.Context())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"needsBootstrap": state == access.StateBootstrapping,
	})
}

type bootstrapRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Bootstrap creates the first account as an active SuperAdmin and signs it in
func (h *AuthHandlers) Bootstrap(w http.ResponseWriter, r *http.Request) {
	var req bootstrapRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.Name)
	email := users.NormalizeEmail(req.Email)
	switch {
	case name == "" || email == "":
		httputil.WriteBadRequest(w, "Name and email are required")
		return
	case len(req.Password) < MinBootstrapPasswordLength:
		httputil.WriteBadRequest(w, "Password must be at least 8 characters")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	user, err := h.deps.Users.CreateFirst(r.Context(), name, email, hash)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	h.deps.Resolver.MarkOperational()

	if !h.startSession(w, r, user.Email) {
		return
	}
	record(r.Context(), h.deps.Audit, user, audit.Event{
		Action:     audit.ActionBootstrap,
		EntityType: audit.EntityUser,
		EntityID:   user.ID,
	})
	observability.FromContext(r.Context()).WithField("user_id", user.ID).Info("bootstrap account created")
	httputil.WriteCreated(w, map[string]interface{}{"ok": true, "user": user})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login verifies a password and issues a session cookie. An account without
// a password answers 200 with needsPassword so the client can offer the
// set-password flow.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	email := users.NormalizeEmail(req.Email)
	if email == "" {
		httputil.WriteBadRequest(w, "Email is required")
		return
	}

	creds, err := h.deps.Users.GetCredentials(r.Context(), email)
	if errors.Is(err, users.ErrNotFound) {
		httputil.WriteUnauthorized(w, invalidCredentials)
		return
	}
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	if creds.PasswordHash == "" {
		httputil.WriteSuccess(w, map[string]interface{}{
			"ok":            false,
			"needsPassword": true,
			"email":         creds.Email,
			"userName":      creds.Name,
			"error":         "Password not set",
		})
		return
	}
	if req.Password == "" {
		httputil.WriteBadRequest(w, "Password is required")
		return
	}
	if !auth.VerifyPassword(req.Password, creds.PasswordHash) {
		httputil.WriteUnauthorized(w, invalidCredentials)
		return
	}

	if !h.startSession(w, r, creds.Email) {
		return
	}
	record(r.Context(), h.deps.Audit, &creds.User, audit.Event{
		Action:     audit.ActionLogin,
		EntityType: audit.EntityUser,
		EntityID:   creds.ID,
	})
	httputil.WriteOK(w)
}

// Logout revokes the session and clears the cookie. GET requests are
// redirected to the login page.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	if token := contextkeys.SessionToken(r.Context()); token != "" {
		if err := h.deps.Sessions.Delete(r.Context(), token); err != nil {
			observability.FromContext(r.Context()).WithError(err).Warn("failed to revoke session")
		}
	}
	h.deps.Cookies.ClearSession(w)
	if r.Method == http.MethodGet {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	httputil.WriteOK(w)
}

// ValidateInvite checks an invitation token before the client asks for a password
func (h *AuthHandlers) ValidateInvite(w http.ResponseWriter, r *http.Request) {
	token, ok := httputil.ParsePathStringOrError(w, r, "token")
	if !ok {
		return
	}
	inv, user, ok := h.acceptableInvite(w, r, token)
	if !ok {
		return
	}
	if user.Status != users.StatusInvited {
		httputil.WriteBadRequest(w, "This invitation is no longer valid")
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"ok":        true,
		"userId":    user.ID,
		"email":     user.Email,
		"name":      user.Name,
		"expiresAt": inv.ExpiresAt,
	})
}

type setPasswordRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	Token           string `json:"token"`
}

// SetPassword sets the first password of an account, either from an
// invitation token or, for accounts invited before tokens existed, by email.
// The caller is signed in afterwards.
func (h *AuthHandlers) SetPassword(w http.ResponseWriter, r *http.Request) {
	var req setPasswordRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	switch {
	case req.Password == "":
		httputil.WriteBadRequest(w, "Password is required")
		return
	case len(req.Password) < MinPasswordLength:
		httputil.WriteBadRequest(w, "Password must be at least 6 characters")
		return
	case req.Password != req.ConfirmPassword:
		httputil.WriteBadRequest(w, "Passwords do not match")
		return
	}

	token := strings.TrimSpace(req.Token)
	email := users.NormalizeEmail(req.Email)
	if token != "" {
		_, user, ok := h.acceptableInvite(w, r, token)
		if !ok {
			return
		}
		email = user.Email
	} else if email == "" {
		httputil.WriteBadRequest(w, "Email is required")
		return
	}

	creds, err := h.deps.Users.GetCredentials(r.Context(), email)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if creds.PasswordHash != "" {
		httputil.WriteBadRequest(w, "Password already set")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if err := h.deps.Users.SetPasswordHash(r.Context(), creds.ID, hash); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if token != "" {
		if err := h.deps.Invites.MarkUsed(r.Context(), token); err != nil {
			observability.FromContext(r.Context()).WithError(err).Warn("failed to mark invite used")
		}
	}

	if !h.startSession(w, r, creds.Email) {
		return
	}
	record(r.Context(), h.deps.Audit, &creds.User, audit.Event{
		Action:     audit.ActionSetPassword,
		EntityType: audit.EntityUser,
		EntityID:   creds.ID,
		Details:    map[string]interface{}{"viaInvite": token != ""},
	})
	httputil.WriteOK(w)
}

// Me returns the caller, the instances they can see and the instance their
// requests currently resolve to
func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, err := h.deps.Resolver.ResolveUser(ctx, contextkeys.SessionToken(ctx))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	visible, err := visibleInstances(ctx, h.deps.Instances, user)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	current, err := h.deps.Resolver.EffectiveTenant(ctx, user, contextkeys.RequestedTenant(ctx))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"ok":                true,
		"user":              user,
		"instances":         visible,
		"currentInstanceId": current,
	})
}

// acceptableInvite resolves an unused, unexpired invite and its account,
// writing the error response when there is none
func (h *AuthHandlers) acceptableInvite(w http.ResponseWriter, r *http.Request, token string) (*invites.Invite, *users.User, bool) {
	inv, err := h.deps.Invites.Valid(r.Context(), token)
	if errors.Is(err, invites.ErrNotFound) {
		httputil.WriteUnauthorized(w, "Invalid or expired invitation link")
		return nil, nil, false
	}
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return nil, nil, false
	}
	user, err := h.deps.Users.GetByID(r.Context(), inv.UserID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return nil, nil, false
	}
	return inv, user, true
}

func (h *AuthHandlers) startSession(w http.ResponseWriter, r *http.Request, email string) bool {
	token, err := h.deps.Sessions.Create(r.Context(), email)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return false
	}
	h.deps.Cookies.SetSession(w, token)
	return true
}

// inviteURL points the invited user at the login page of the host the
// administrator used
func inviteURL(r *http.Request, token string) string {
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "https"
		if r.TLS == nil && strings.HasPrefix(r.Host, "localhost") {
			scheme = "http"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return scheme + "://" + host + "/login?token=" + token
}

func expiresInHours(inv *invites.Invite) int {
	return int(time.Until(inv.ExpiresAt).Round(time.Hour) / time.Hour)
}
