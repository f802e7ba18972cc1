package access

import (
	"context"
	"errors"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/versionmanager/pkg/auth"
	"github.com/platinummonkey/versionmanager/pkg/instances"
	"github.com/platinummonkey/versionmanager/pkg/sessions"
	"github.com/platinummonkey/versionmanager/pkg/storage"
	"github.com/platinummonkey/versionmanager/pkg/users"
)

var tracer = otel.Tracer("github.com/platinummonkey/versionmanager/pkg/access")

// SessionStore resolves a session token to an email
type SessionStore interface {
	Lookup(ctx context.Context, token string) (string, error)
}

// UserStore reads accounts
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*users.User, error)
	Count(ctx context.Context) (int, error)
}

// MembershipStore reads memberships and instance ordering
type MembershipStore interface {
	GetMembership(ctx context.Context, userID, instanceID string) (*instances.Membership, error)
	ListUserInstances(ctx context.Context, userID string) ([]*instances.InstanceWithRole, error)
	First(ctx context.Context) (*instances.Instance, error)
}

// Observer receives access decisions; observability.Metrics implements it
type Observer interface {
	AccessDecision(outcome string)
}

// Resolver derives effective access for a caller
type Resolver struct {
	sessions    SessionStore
	users       UserStore
	memberships MembershipStore
	observer    Observer
	state       atomic.Int32
}

// NewResolver creates a Resolver. observer may be nil.
func NewResolver(sessions SessionStore, users UserStore, memberships MembershipStore, observer Observer) *Resolver {
	return &Resolver{
		sessions:    sessions,
		users:       users,
		memberships: memberships,
		observer:    observer,
	}
}

func (r *Resolver) record(outcome string) {
	if r.observer != nil {
		r.observer.AccessDecision(outcome)
	}
}

// State returns the system state. Operational is cached once observed;
// Bootstrapping is re-checked on every call.
func (r *Resolver) State(ctx context.Context) (SystemState, error) {
	if SystemState(r.state.Load()) == StateOperational {
		return StateOperational, nil
	}
	n, err := r.users.Count(ctx)
	if err != nil {
		return StateUnknown, storage.NewStoreError("count users", err)
	}
	if n > 0 {
		r.MarkOperational()
		return StateOperational, nil
	}
	return StateBootstrapping, nil
}

// MarkOperational records that an account exists
func (r *Resolver) MarkOperational() {
	r.state.Store(int32(StateOperational))
}

// ResolveUser maps a session token to its account
func (r *Resolver) ResolveUser(ctx context.Context, token string) (*users.User, error) {
	ctx, span := tracer.Start(ctx, "access.ResolveUser")
	defer span.End()

	if token == "" {
		return nil, auth.ErrNotAuthenticated
	}
	email, err := r.sessions.Lookup(ctx, token)
	if errors.Is(err, sessions.ErrNotFound) {
		return nil, auth.ErrNotAuthenticated
	}
	if err != nil {
		span.RecordError(err)
		return nil, storage.NewStoreError("lookup session", err)
	}

	user, err := r.users.GetByEmail(ctx, email)
	if errors.Is(err, users.ErrNotFound) {
		return nil, auth.ErrNotAuthenticated
	}
	if err != nil {
		span.RecordError(err)
		return nil, storage.NewStoreError("lookup user", err)
	}
	span.SetAttributes(attribute.String("user.id", user.ID))
	return user, nil
}

// ResolveAccess returns the effective role of user on tenantID. A missing
// membership yields RoleNone.
func (r *Resolver) ResolveAccess(ctx context.Context, user *users.User, tenantID string) (auth.Access, error) {
	ctx, span := tracer.Start(ctx, "access.ResolveAccess",
		trace.WithAttributes(attribute.String("instance.id", tenantID)))
	defer span.End()

	access := auth.Access{TenantID: tenantID, Role: auth.RoleNone}
	if user == nil {
		return access, auth.ErrNotAuthenticated
	}
	if user.IsSuperAdmin {
		access.Role = auth.RoleSuperAdmin
		return access, nil
	}
	if tenantID == "" {
		return access, nil
	}

	m, err := r.memberships.GetMembership(ctx, user.ID, tenantID)
	if errors.Is(err, instances.ErrMembershipNotFound) {
		return access, nil
	}
	if err != nil {
		span.RecordError(err)
		return access, storage.NewStoreError("lookup membership", err)
	}
	if m.Role.IsMemberRole() {
		access.Role = m.Role
	}
	span.SetAttributes(attribute.String("access.role", access.Role.String()))
	return access, nil
}

// RequireRole fails with a *auth.ForbiddenError when user's role on
// tenantID is below minimum
func (r *Resolver) RequireRole(ctx context.Context, user *users.User, tenantID string, minimum auth.Role) (auth.Access, error) {
	access, err := r.ResolveAccess(ctx, user, tenantID)
	if err != nil {
		r.record("error")
		return access, err
	}
	if !access.Allows(minimum) {
		r.record("denied")
		return access, auth.NewForbiddenError(tenantID, minimum, access.Role)
	}
	r.record("granted")
	return access, nil
}

// Authorize resolves the caller and requires minimum on tenantID
func (r *Resolver) Authorize(ctx context.Context, token, tenantID string, minimum auth.Role) (*users.User, auth.Access, error) {
	user, err := r.ResolveUser(ctx, token)
	if err != nil {
		r.record("unauthenticated")
		return nil, auth.Access{TenantID: tenantID}, err
	}
	access, err := r.RequireRole(ctx, user, tenantID, minimum)
	if err != nil {
		return user, access, err
	}
	return user, access, nil
}

// RequireSuperAdmin resolves the caller and requires the global flag
func (r *Resolver) RequireSuperAdmin(ctx context.Context, token string) (*users.User, error) {
	user, err := r.ResolveUser(ctx, token)
	if err != nil {
		r.record("unauthenticated")
		return nil, err
	}
	if !user.IsSuperAdmin {
		r.record("denied")
		return user, auth.NewSuperAdminError()
	}
	r.record("granted")
	return user, nil
}

// AdmitBootstrap admits an anonymous caller while no account exists and
// otherwise requires a SuperAdmin. The returned user is nil for a
// bootstrap admission.
func (r *Resolver) AdmitBootstrap(ctx context.Context, token string) (*users.User, error) {
	state, err := r.State(ctx)
	if err != nil {
		return nil, err
	}
	if state == StateBootstrapping {
		r.record("bootstrap")
		return nil, nil
	}
	return r.RequireSuperAdmin(ctx, token)
}

// EffectiveTenant picks the instance a request operates on: requested when
// set, otherwise the caller's first instance by creation order. It returns
// "" when the caller has none.
func (r *Resolver) EffectiveTenant(ctx context.Context, user *users.User, requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	if user == nil {
		return "", auth.ErrNotAuthenticated
	}
	if user.IsSuperAdmin {
		first, err := r.memberships.First(ctx)
		if errors.Is(err, instances.ErrNotFound) {
			return "", nil
		}
		if err != nil {
			return "", storage.NewStoreError("lookup first instance", err)
		}
		return first.ID, nil
	}

	list, err := r.memberships.ListUserInstances(ctx, user.ID)
	if err != nil {
		return "", storage.NewStoreError("list user instances", err)
	}
	if len(list) == 0 {
		return "", nil
	}
	return list[0].ID, nil
}
