package users

import (
	"errors"
	"strings"
	"time"
)

// Status is the authentication state of an account
type Status string

const (
	StatusActive  Status = "Active"
	StatusInvited Status = "Invited"
)

var (
	ErrNotFound            = errors.New("user not found")
	ErrEmailTaken          = errors.New("a user with this email already exists")
	ErrAlreadyBootstrapped = errors.New("Admin already exists")
)

// User is an application account without its password hash
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Status       Status    `json:"status"`
	IsSuperAdmin bool      `json:"isSuperAdmin"`
	HasPassword  bool      `json:"hasPassword"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Credentials pairs a user with the stored password hash, "" when none is set
type Credentials struct {
	User
	PasswordHash string `json:"-"`
}

// NewUser describes an account to insert
type NewUser struct {
	Name         string
	Email        string
	Status       Status
	IsSuperAdmin bool
	PasswordHash string
}

// NormalizeEmail trims and lower-cases an address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
