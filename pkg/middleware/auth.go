package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/versionmanager/pkg/contextkeys"
)

const (
	// SessionCookie carries the opaque session token
	SessionCookie = "vm_user"
	// InstanceCookie remembers the instance picked with /api/instances/switch
	InstanceCookie = "vm_instance"
	// InstanceQueryParam overrides the instance cookie for one request
	InstanceQueryParam = "instanceId"
)

// Identity copies the caller's session token and requested instance into the
// request context. It never rejects a request; authorization happens in the
// handlers through the access resolver.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if token := sessionToken(r); token != "" {
			ctx = contextkeys.WithSessionToken(ctx, token)
		}
		if tenant := requestedTenant(r); tenant != "" {
			ctx = contextkeys.WithRequestedTenant(ctx, tenant)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionToken reads the cookie first, then an Authorization: Bearer header
func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

func requestedTenant(r *http.Request) string {
	if id := strings.TrimSpace(r.URL.Query().Get(InstanceQueryParam)); id != "" {
		return id
	}
	if c, err := r.Cookie(InstanceCookie); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

// CookieWriter sets and clears the session and instance cookies
type CookieWriter struct {
	Secure bool
	TTL    time.Duration
}

// SetSession stores the session token
func (c CookieWriter) SetSession(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(c.TTL.Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSession expires the session cookie
func (c CookieWriter) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SetInstance remembers the selected instance for a year
func (c CookieWriter) SetInstance(w http.ResponseWriter, instanceID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     InstanceCookie,
		Value:    instanceID,
		Path:     "/",
		MaxAge:   int((365 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
