package auth

import (
	"database/sql/driver"
	"fmt"
)

// Role is the effective role of a caller on a tenant
type Role int

const (
	RoleNone Role = iota
	RoleUser
	RoleAdmin
	RoleSuperAdmin
)

var roleNames = map[Role]string{
	RoleNone:       "None",
	RoleUser:       "User",
	RoleAdmin:      "Admin",
	RoleSuperAdmin: "SuperAdmin",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// AtLeast reports whether r satisfies the minimum role. RoleNone never does.
func (r Role) AtLeast(minimum Role) bool {
	if r == RoleNone {
		return false
	}
	return r >= minimum
}

// IsMemberRole reports whether r may be stored on a membership row
func (r Role) IsMemberRole() bool {
	return r == RoleUser || r == RoleAdmin
}

// ParseRole parses a role name
func ParseRole(s string) (Role, error) {
	for role, name := range roleNames {
		if name == s {
			return role, nil
		}
	}
	return RoleNone, fmt.Errorf("unknown role %q", s)
}

// ParseMemberRole parses a role that is valid on a membership (Admin or User)
func ParseMemberRole(s string) (Role, error) {
	role, err := ParseRole(s)
	if err != nil || !role.IsMemberRole() {
		return RoleNone, fmt.Errorf("valid role (Admin/User) is required")
	}
	return role, nil
}

// MarshalText implements encoding.TextMarshaler
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (r *Role) UnmarshalText(text []byte) error {
	role, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// Value implements driver.Valuer. Only membership roles are persisted.
func (r Role) Value() (driver.Value, error) {
	if !r.IsMemberRole() {
		return nil, fmt.Errorf("role %s cannot be stored on a membership", r)
	}
	return r.String(), nil
}

// Scan implements sql.Scanner
func (r *Role) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		return r.UnmarshalText([]byte(v))
	case []byte:
		return r.UnmarshalText(v)
	case nil:
		*r = RoleNone
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Role", src)
	}
}

// Access is the outcome of resolving a caller against a tenant
type Access struct {
	TenantID string `json:"instanceId"`
	Role     Role   `json:"role"`
}

// Granted reports whether any access was resolved
func (a Access) Granted() bool {
	return a.Role != RoleNone
}

// Allows reports whether the access satisfies the minimum role
func (a Access) Allows(minimum Role) bool {
	return a.Role.AtLeast(minimum)
}
