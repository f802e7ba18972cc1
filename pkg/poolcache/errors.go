package poolcache

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoTenant is returned for an empty instance id
	ErrNoTenant = errors.New("no instance selected")
	// ErrClosed is returned after CloseAll
	ErrClosed = errors.New("pool cache is closed")
)

// MisconfiguredTenantError reports incomplete connection settings. No network
// access happens before it is returned.
type MisconfiguredTenantError struct {
	TenantID string
	Missing  []string
}

func (e *MisconfiguredTenantError) Error() string {
	return fmt.Sprintf("Versions DB is not configured for instance %s (missing %s). Open Settings and fill DB access.",
		e.TenantID, strings.Join(e.Missing, ", "))
}

// ConnectionError reports a failure to open or verify a tenant pool
type ConnectionError struct {
	TenantID string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to versions database for instance %s: %v", e.TenantID, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsMisconfigured reports whether err carries a MisconfiguredTenantError
func IsMisconfigured(err error) bool {
	var me *MisconfiguredTenantError
	return errors.As(err, &me)
}

// IsConnectionError reports whether err carries a ConnectionError
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
