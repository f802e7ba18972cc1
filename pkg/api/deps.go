package api

import (
	"context"
	"database/sql"

	"github.com/platinummonkey/versionmanager/pkg/access"
	"github.com/platinummonkey/versionmanager/pkg/audit"
	"github.com/platinummonkey/versionmanager/pkg/auth"
	"github.com/platinummonkey/versionmanager/pkg/instances"
	"github.com/platinummonkey/versionmanager/pkg/invites"
	"github.com/platinummonkey/versionmanager/pkg/middleware"
	"github.com/platinummonkey/versionmanager/pkg/observability"
	"github.com/platinummonkey/versionmanager/pkg/poolcache"
	"github.com/platinummonkey/versionmanager/pkg/settings"
	"github.com/platinummonkey/versionmanager/pkg/users"
	"github.com/platinummonkey/versionmanager/pkg/versions"
)

// UserStore manages application accounts
type UserStore interface {
	List(ctx context.Context) ([]*users.User, error)
	GetByID(ctx context.Context, id string) (*users.User, error)
	GetCredentials(ctx context.Context, email string) (*users.Credentials, error)
	Create(ctx context.Context, in users.NewUser) (*users.User, error)
	CreateFirst(ctx context.Context, name, email, passwordHash string) (*users.User, error)
	UpdateName(ctx context.Context, id, name string) error
	SetPasswordHash(ctx context.Context, id, hash string) error
	ResetPassword(ctx context.Context, id string) error
	SetSuperAdmin(ctx context.Context, id string, superAdmin bool) error
	Delete(ctx context.Context, id string) error
}

// InstanceStore manages instances and memberships
type InstanceStore interface {
	List(ctx context.Context, limit, offset int) ([]*instances.Instance, error)
	Get(ctx context.Context, id string) (*instances.Instance, error)
	Create(ctx context.Context, name, slug, createdBy string) (*instances.Instance, error)
	Update(ctx context.Context, id string, req instances.UpdateRequest) (*instances.Instance, error)
	Delete(ctx context.Context, id string) error
	ListMembers(ctx context.Context, instanceID string) ([]*instances.Member, error)
	ListUserInstances(ctx context.Context, userID string) ([]*instances.InstanceWithRole, error)
	AddMember(ctx context.Context, userID, instanceID string, role auth.Role) (*instances.Membership, error)
	UpdateMemberRole(ctx context.Context, userID, instanceID string, role auth.Role) (*instances.Membership, error)
	RemoveMember(ctx context.Context, userID, instanceID string) error
}

// SettingsStore reads and writes per-instance settings
type SettingsStore interface {
	Get(ctx context.Context, instanceID string) (settings.Settings, error)
	Save(ctx context.Context, instanceID string, next settings.Settings) (settings.Settings, error)
	Delete(ctx context.Context, instanceID string) error
}

// InviteStore issues and consumes invitation tokens
type InviteStore interface {
	Create(ctx context.Context, userID, email string) (*invites.Invite, error)
	Valid(ctx context.Context, token string) (*invites.Invite, error)
	MarkUsed(ctx context.Context, token string) error
	DeleteForUser(ctx context.Context, userID string) error
}

// SessionStore issues and revokes session tokens
type SessionStore interface {
	Create(ctx context.Context, email string) (string, error)
	Delete(ctx context.Context, token string) error
}

// Pools hands out per-instance database pools; poolcache.Cache implements it
type Pools interface {
	Get(ctx context.Context, tenantID string) (*sql.DB, error)
	Invalidate(tenantID string)
	Len() int
	MaxPools() int
	Snapshot() []poolcache.PoolInfo
}

// AuditLog records and lists audit events
type AuditLog interface {
	audit.Logger
	List(ctx context.Context, filter audit.ListFilter) ([]*audit.Event, error)
	Count(ctx context.Context, instanceID string) (int64, error)
}

// VersionService browses and curates the version history of an instance
type VersionService interface {
	ListWorkflows(ctx context.Context, instanceID string, f versions.ListFilter) ([]*versions.WorkflowSummary, int, error)
	StaleWorkflows(ctx context.Context, instanceID string, limit int) ([]*versions.WorkflowSummary, error)
	Recent(ctx context.Context, instanceID string, limit int) ([]*versions.Version, error)
	ListByWorkflow(ctx context.Context, instanceID, workflowID string) ([]*versions.Version, error)
	Get(ctx context.Context, instanceID string, id int64) (*versions.Version, error)
	ByIDs(ctx context.Context, instanceID string, ids []int64) ([]*versions.Version, error)
	Create(ctx context.Context, instanceID string, in versions.NewVersion) (*versions.Version, error)
	Delete(ctx context.Context, instanceID string, ids []int64) (int64, error)
	UpdateMetadata(ctx context.Context, instanceID string, id int64, m versions.Metadata) error
	DeleteMetadata(ctx context.Context, instanceID string, ids []int64) (int64, error)
	Prune(ctx context.Context, instanceID string, keep int) (versions.PruneResult, error)
}

// GroupStore keeps the workflow folders of each instance
type GroupStore interface {
	List(ctx context.Context, instanceID string) (versions.Groups, error)
	Replace(ctx context.Context, instanceID string, groups versions.Groups) (versions.Groups, error)
}

// Deps are the collaborators of the API handlers
type Deps struct {
	Resolver  *access.Resolver
	Users     UserStore
	Instances InstanceStore
	Settings  SettingsStore
	Invites   InviteStore
	Sessions  SessionStore
	Pools     Pools
	Versions  VersionService
	Groups    GroupStore
	Audit     AuditLog
	Cookies   middleware.CookieWriter

	// AuthLimiter throttles the credential endpoints; nil disables it
	AuthLimiter middleware.Limiter
	Logger      *observability.Logger
	// Metrics is optional
	Metrics *observability.Metrics
}
