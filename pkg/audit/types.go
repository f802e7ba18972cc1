package audit

import (
	"time"
)

// Action identifies what happened
type Action string

const (
	ActionBootstrap         Action = "auth.bootstrap"
	ActionLogin             Action = "auth.login"
	ActionSetPassword       Action = "auth.set_password"
	ActionSettingsSave      Action = "settings.save"
	ActionInstanceCreate    Action = "instance.create"
	ActionInstanceUpdate    Action = "instance.update"
	ActionInstanceDelete    Action = "instance.delete"
	ActionMemberAdd         Action = "member.add"
	ActionMemberRoleChange  Action = "member.role_change"
	ActionMemberRemove      Action = "member.remove"
	ActionUserInvite        Action = "user.invite"
	ActionUserUpdate        Action = "user.update"
	ActionUserDelete        Action = "user.delete"
	ActionUserReinvite      Action = "user.reinvite"
	ActionPasswordReset     Action = "user.password_reset"
	ActionSuperAdminGrant   Action = "user.superadmin_grant"
	ActionSuperAdminRevoke  Action = "user.superadmin_revoke"
	ActionVersionCreate     Action = "version.create"
	ActionVersionDelete     Action = "version.delete"
	ActionVersionBulkDelete Action = "version.bulk_delete"
	ActionVersionPrune      Action = "version.prune"
	ActionMetadataUpdate    Action = "metadata.update"
	ActionMetadataDelete    Action = "metadata.delete"
	ActionVersionExport     Action = "version.export"
	ActionGroupsSave        Action = "groups.save"
	ActionProfileUpdate     Action = "user.name.update"
	ActionPasswordChange    Action = "user.password.update"
)

// EntityType is the kind of object an event refers to
type EntityType string

const (
	EntityUser     EntityType = "user"
	EntityInstance EntityType = "instance"
	EntitySettings EntityType = "settings"
	EntityVersion  EntityType = "version"
)

// DefaultListLimit is used when a caller does not ask for a page size
const DefaultListLimit = 200

// MaxListLimit caps page sizes
const MaxListLimit = 1000

// Event is one audit record. InstanceID is empty for global events.
type Event struct {
	ID         int64                  `json:"id"`
	CreatedAt  time.Time              `json:"createdAt"`
	ActorEmail string                 `json:"actorEmail,omitempty"`
	Action     Action                 `json:"action"`
	EntityType EntityType             `json:"entityType,omitempty"`
	EntityID   string                 `json:"entityId,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	InstanceID string                 `json:"instanceId,omitempty"`
}

// ListFilter selects a page of events
type ListFilter struct {
	InstanceID string
	Limit      int
	Offset     int
}

func (f ListFilter) normalized() ListFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
