// Package auth holds the shared access-control vocabulary of the version manager.
//
// # Roles
//
// Role is a closed, totally ordered variant:
//
//	RoleNone < RoleUser < RoleAdmin < RoleSuperAdmin
//
// RoleUser and RoleAdmin are the only roles a membership row may carry.
// RoleSuperAdmin is derived from the global is_superadmin flag and RoleNone
// means the caller has no rights on the tenant. Every comparison goes through
// Role.AtLeast so precedence is decided in one place.
//
// # Errors
//
// The access outcomes are typed so HTTP boundaries can tell 401 from 403:
//
//	ErrNotAuthenticated  no resolvable identity
//	ErrNoAccess          authenticated, no membership on the tenant
//	ErrForbidden         authenticated, role below the required minimum
//
// A *ForbiddenError carries the human-readable reason and matches
// ErrForbidden (and ErrNoAccess when the resolved role is RoleNone).
//
// # Credentials
//
// HashPassword and VerifyPassword use PBKDF2-SHA512 with the
// "iterations:salt:hash" storage format. GenerateToken produces the opaque
// random tokens used for sessions and invitations.
package auth
