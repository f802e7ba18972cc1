package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthenticated is returned when no identity can be resolved
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrNoAccess is returned when an authenticated user has no role on the tenant
	ErrNoAccess = errors.New("no access to this instance")

	// ErrForbidden is returned when the resolved role is below the required one
	ErrForbidden = errors.New("forbidden")
)

// ForbiddenError describes a failed role requirement
type ForbiddenError struct {
	TenantID string
	Required Role
	Actual   Role
	Reason   string

	global bool
}

// NewForbiddenError builds the error for a role below the required minimum
func NewForbiddenError(tenantID string, required, actual Role) *ForbiddenError {
	reason := fmt.Sprintf("%s role required", required)
	switch {
	case actual == RoleNone:
		reason = ErrNoAccess.Error()
	case required == RoleAdmin:
		reason = "Instance Admin role required"
	}
	return &ForbiddenError{
		TenantID: tenantID,
		Required: required,
		Actual:   actual,
		Reason:   reason,
	}
}

// NewSuperAdminError builds the error for a caller without the global SuperAdmin flag
func NewSuperAdminError() *ForbiddenError {
	return &ForbiddenError{
		Required: RoleSuperAdmin,
		Reason:   "SuperAdmin role required",
		global:   true,
	}
}

func (e *ForbiddenError) Error() string {
	return e.Reason
}

// Is matches ErrForbidden, and ErrNoAccess when no role was resolved
func (e *ForbiddenError) Is(target error) bool {
	if target == ErrForbidden {
		return true
	}
	return target == ErrNoAccess && e.Actual == RoleNone && !e.global
}
