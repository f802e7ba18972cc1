// Package contextkeys provides centralized context key definitions
//
// All request-scoped values shared between middleware and handlers are keyed
// here. Request ids and loggers live in pkg/observability.
//
// USAGE PATTERN:
//
//	ctx = contextkeys.WithSessionToken(ctx, token)
//	token := contextkeys.SessionToken(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// SessionTokenKey contains the opaque session token from the vm_user cookie
	// Set by: middleware.Identity
	// Required by: every handler that calls the access resolver
	// Type: string
	SessionTokenKey Key = "session_token"

	// RequestedTenantKey contains the instance id the caller asked for
	// (?instanceId= first, then the vm_instance cookie)
	// Set by: middleware.Identity
	// Used by: settings, audit and status handlers via Resolver.EffectiveTenant
	// Type: string
	RequestedTenantKey Key = "requested_tenant"
)

// WithSessionToken adds the session token to the context
func WithSessionToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, SessionTokenKey, token)
}

// SessionToken retrieves the session token, or ""
func SessionToken(ctx context.Context) string {
	if token, ok := ctx.Value(SessionTokenKey).(string); ok {
		return token
	}
	return ""
}

// WithRequestedTenant adds the requested instance id to the context
func WithRequestedTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, RequestedTenantKey, tenantID)
}

// RequestedTenant retrieves the requested instance id, or ""
func RequestedTenant(ctx context.Context) string {
	if id, ok := ctx.Value(RequestedTenantKey).(string); ok {
		return id
	}
	return ""
}
