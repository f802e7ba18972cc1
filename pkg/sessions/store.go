// Package sessions maps opaque session tokens to account emails.
//
// The token is what the vm_user cookie carries. Only a hash of the token is
// used as a storage key.
package sessions

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL is how long a session lives without re-login
const DefaultTTL = 30 * 24 * time.Hour

// ErrNotFound is returned for unknown or expired tokens
var ErrNotFound = errors.New("session not found")

// Store keeps sessions
type Store interface {
	Create(ctx context.Context, email string) (string, error)
	Lookup(ctx context.Context, token string) (string, error)
	Delete(ctx context.Context, token string) error
}
