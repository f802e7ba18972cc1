package instances

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/platinummonkey/versionmanager/pkg/auth"
)

// DefaultID is the reserved instance that can never be deleted
const DefaultID = "default"

var (
	ErrNotFound           = errors.New("instance not found")
	ErrSlugTaken          = errors.New("An instance with this slug already exists")
	ErrDefaultInstance    = errors.New("Cannot delete the default instance")
	ErrMembershipNotFound = errors.New("membership not found")
	ErrInvalidSlug        = errors.New("Slug must be 3-50 characters: lowercase letters, numbers, and hyphens")
	ErrNameRequired       = errors.New("Name is required")
)

var slugPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// Instance is a tenant
type Instance struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"createdAt"`
	CreatedBy *string   `json:"createdBy"`
}

// InstanceWithRole is an instance as seen by one of its members
type InstanceWithRole struct {
	Instance
	Role auth.Role `json:"role"`
}

// Membership grants a user a role on an instance
type Membership struct {
	UserID     string    `json:"userId"`
	InstanceID string    `json:"instanceId"`
	Role       auth.Role `json:"role"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Member is a membership joined with the user's profile
type Member struct {
	Membership
	Name  string `json:"name"`
	Email string `json:"email"`
}

// UpdateRequest carries the optional fields of an instance update
type UpdateRequest struct {
	Name *string `json:"name,omitempty"`
	Slug *string `json:"slug,omitempty"`
}

// NormalizeSlug trims and lower-cases a slug
func NormalizeSlug(slug string) string {
	return strings.ToLower(strings.TrimSpace(slug))
}

// ValidateSlug checks a normalized slug
func ValidateSlug(slug string) error {
	if len(slug) < 3 || len(slug) > 50 || !slugPattern.MatchString(slug) {
		return ErrInvalidSlug
	}
	return nil
}

// ValidateName checks an instance name
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrNameRequired
	}
	return nil
}
