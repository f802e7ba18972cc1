package access

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/versionmanager/pkg/auth"
	"github.com/platinummonkey/versionmanager/pkg/instances"
	"github.com/platinummonkey/versionmanager/pkg/sessions"
	"github.com/platinummonkey/versionmanager/pkg/storage"
	"github.com/platinummonkey/versionmanager/pkg/users"
)

type mockSessions struct {
	lookupFunc func(ctx context.Context, token string) (string, error)
}

func (m *mockSessions) Lookup(ctx context.Context, token string) (string, error) {
	return m.lookupFunc(ctx, token)
}

type mockUsers struct {
	getByEmailFunc func(ctx context.Context, email string) (*users.User, error)
	countFunc      func(ctx context.Context) (int, error)
	countCalls     int
}

func (m *mockUsers) GetByEmail(ctx context.Context, email string) (*users.User, error) {
	return m.getByEmailFunc(ctx, email)
}

func (m *mockUsers) Count(ctx context.Context) (int, error) {
	m.countCalls++
	return m.countFunc(ctx)
}

type mockMemberships struct {
	memberships map[[2]string]auth.Role
	userTenants map[string][]string
	first       string
	err         error
	calls       int
}

func (m *mockMemberships) GetMembership(ctx context.Context, userID, instanceID string) (*instances.Membership, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	role, ok := m.memberships[[2]string{userID, instanceID}]
	if !ok {
		return nil, instances.ErrMembershipNotFound
	}
	return &instances.Membership{UserID: userID, InstanceID: instanceID, Role: role}, nil
}

func (m *mockMemberships) ListUserInstances(ctx context.Context, userID string) ([]*instances.InstanceWithRole, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*instances.InstanceWithRole
	for _, id := range m.userTenants[userID] {
		out = append(out, &instances.InstanceWithRole{Instance: instances.Instance{ID: id}})
	}
	return out, nil
}

func (m *mockMemberships) First(ctx context.Context) (*instances.Instance, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.first == "" {
		return nil, instances.ErrNotFound
	}
	return &instances.Instance{ID: m.first}, nil
}

type countingObserver struct {
	outcomes map[string]int
}

func (c *countingObserver) AccessDecision(outcome string) {
	if c.outcomes == nil {
		c.outcomes = map[string]int{}
	}
	c.outcomes[outcome]++
}

var (
	superAdmin = &users.User{ID: "a", Email: "a@example.com", IsSuperAdmin: true}
	memberB    = &users.User{ID: "b", Email: "b@example.com"}
	outsiderC  = &users.User{ID: "c", Email: "c@example.com"}
)

func newTestResolver() (*Resolver, *mockUsers, *mockMemberships, *countingObserver) {
	byEmail := map[string]*users.User{}
	for _, u := range []*users.User{superAdmin, memberB, outsiderC} {
		byEmail[u.Email] = u
	}
	sess := &mockSessions{lookupFunc: func(ctx context.Context, token string) (string, error) {
		switch token {
		case "token-a":
			return superAdmin.Email, nil
		case "token-b":
			return memberB.Email, nil
		case "token-c":
			return outsiderC.Email, nil
		case "token-deleted":
			return "deleted@example.com", nil
		}
		return "", sessions.ErrNotFound
	}}
	us := &mockUsers{
		getByEmailFunc: func(ctx context.Context, email string) (*users.User, error) {
			if u, ok := byEmail[email]; ok {
				return u, nil
			}
			return nil, users.ErrNotFound
		},
		countFunc: func(ctx context.Context) (int, error) { return len(byEmail), nil },
	}
	ms := &mockMemberships{
		memberships: map[[2]string]auth.Role{
			{"a", "T2"}: auth.RoleAdmin,
			{"b", "T1"}: auth.RoleUser,
			{"b", "T3"}: auth.RoleAdmin,
		},
		userTenants: map[string][]string{"b": {"T1", "T3"}},
		first:       "default",
	}
	obs := &countingObserver{}
	return NewResolver(sess, us, ms, obs), us, ms, obs
}

func TestSuperAdminPrecedence(t *testing.T) {
	r, _, ms, _ := newTestResolver()
	ctx := context.Background()

	for _, tenant := range []string{"T1", "T2", "unknown"} {
		access, err := r.ResolveAccess(ctx, superAdmin, tenant)
		require.NoError(t, err)
		assert.Equal(t, auth.RoleSuperAdmin, access.Role, tenant)
	}
	assert.Equal(t, 0, ms.calls)
}

func TestDefaultDeny(t *testing.T) {
	r, _, _, _ := newTestResolver()
	ctx := context.Background()

	access, err := r.ResolveAccess(ctx, outsiderC, "T1")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleNone, access.Role)
	assert.False(t, access.Granted())

	_, err = r.RequireRole(ctx, outsiderC, "T1", auth.RoleUser)
	assert.ErrorIs(t, err, auth.ErrNoAccess)
	assert.ErrorIs(t, err, auth.ErrForbidden)

	access, err = r.ResolveAccess(ctx, memberB, "")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleNone, access.Role)
}

func TestMemberScenario(t *testing.T) {
	r, _, _, _ := newTestResolver()
	ctx := context.Background()

	_, err := r.RequireRole(ctx, memberB, "T1", auth.RoleAdmin)
	var fe *auth.ForbiddenError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "Instance Admin role required", fe.Reason)
	assert.NotErrorIs(t, err, auth.ErrNoAccess)

	access, err := r.RequireRole(ctx, memberB, "T1", auth.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleUser, access.Role)
}

func TestRoleMonotonicity(t *testing.T) {
	r, _, _, _ := newTestResolver()
	ctx := context.Background()

	for _, user := range []*users.User{superAdmin, memberB, outsiderC} {
		for _, tenant := range []string{"T1", "T2", "T3", "T4"} {
			_, adminErr := r.RequireRole(ctx, user, tenant, auth.RoleAdmin)
			_, userErr := r.RequireRole(ctx, user, tenant, auth.RoleUser)
			if adminErr == nil {
				assert.NoError(t, userErr, "%s on %s", user.ID, tenant)
			}
		}
	}
}

func TestResolveUser(t *testing.T) {
	r, _, _, _ := newTestResolver()
	ctx := context.Background()

	u, err := r.ResolveUser(ctx, "token-b")
	require.NoError(t, err)
	assert.Equal(t, "b", u.ID)

	for _, token := range []string{"", "bogus", "token-deleted"} {
		_, err := r.ResolveUser(ctx, token)
		assert.ErrorIs(t, err, auth.ErrNotAuthenticated, token)
	}
}

func TestCollaboratorFailuresAreStoreErrors(t *testing.T) {
	r, us, ms, _ := newTestResolver()
	ctx := context.Background()

	ms.err = errors.New("connection reset")
	_, err := r.RequireRole(ctx, memberB, "T1", auth.RoleUser)
	assert.True(t, storage.IsStoreError(err))
	assert.NotErrorIs(t, err, auth.ErrNoAccess)

	_, err = r.EffectiveTenant(ctx, memberB, "")
	assert.True(t, storage.IsStoreError(err))

	us.getByEmailFunc = func(ctx context.Context, email string) (*users.User, error) {
		return nil, errors.New("timeout")
	}
	_, err = r.ResolveUser(ctx, "token-b")
	assert.True(t, storage.IsStoreError(err))
	assert.NotErrorIs(t, err, auth.ErrNotAuthenticated)

	r.sessions = &mockSessions{lookupFunc: func(ctx context.Context, token string) (string, error) {
		return "", errors.New("redis down")
	}}
	_, err = r.ResolveUser(ctx, "token-b")
	assert.True(t, storage.IsStoreError(err))
}

func TestBootstrapWindowCloses(t *testing.T) {
	r, us, _, obs := newTestResolver()
	ctx := context.Background()

	count := 0
	us.countFunc = func(ctx context.Context) (int, error) { return count, nil }

	u, err := r.AdmitBootstrap(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, u)
	assert.Equal(t, 1, obs.outcomes["bootstrap"])

	// bootstrapping is never cached
	state, err := r.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateBootstrapping, state)

	count = 1
	_, err = r.AdmitBootstrap(ctx, "")
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)

	// operational is cached
	calls := us.countCalls
	count = 0
	_, err = r.AdmitBootstrap(ctx, "")
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)
	assert.Equal(t, calls, us.countCalls)

	_, err = r.AdmitBootstrap(ctx, "token-b")
	assert.ErrorIs(t, err, auth.ErrForbidden)

	admin, err := r.AdmitBootstrap(ctx, "token-a")
	require.NoError(t, err)
	assert.Equal(t, "a", admin.ID)
}

func TestMarkOperational(t *testing.T) {
	r, us, _, _ := newTestResolver()
	us.countFunc = func(ctx context.Context) (int, error) { return 0, nil }

	r.MarkOperational()
	state, err := r.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateOperational, state)
	assert.Equal(t, 0, us.countCalls)
}

func TestStateStoreError(t *testing.T) {
	r, us, _, _ := newTestResolver()
	us.countFunc = func(ctx context.Context) (int, error) { return 0, errors.New("db down") }

	_, err := r.AdmitBootstrap(context.Background(), "")
	assert.True(t, storage.IsStoreError(err))
}

func TestAuthorize(t *testing.T) {
	r, _, _, obs := newTestResolver()
	ctx := context.Background()

	user, access, err := r.Authorize(ctx, "token-b", "T3", auth.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, "b", user.ID)
	assert.Equal(t, auth.RoleAdmin, access.Role)

	_, _, err = r.Authorize(ctx, "", "T3", auth.RoleUser)
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)

	_, _, err = r.Authorize(ctx, "token-c", "T3", auth.RoleUser)
	assert.ErrorIs(t, err, auth.ErrNoAccess)

	assert.Equal(t, 1, obs.outcomes["granted"])
	assert.Equal(t, 1, obs.outcomes["denied"])
	assert.Equal(t, 1, obs.outcomes["unauthenticated"])
}

func TestRequireSuperAdmin(t *testing.T) {
	r, _, _, _ := newTestResolver()
	ctx := context.Background()

	u, err := r.RequireSuperAdmin(ctx, "token-a")
	require.NoError(t, err)
	assert.True(t, u.IsSuperAdmin)

	_, err = r.RequireSuperAdmin(ctx, "token-b")
	assert.ErrorIs(t, err, auth.ErrForbidden)
	assert.NotErrorIs(t, err, auth.ErrNoAccess)
}

func TestEffectiveTenant(t *testing.T) {
	r, _, ms, _ := newTestResolver()
	ctx := context.Background()

	tests := []struct {
		name      string
		user      *users.User
		requested string
		want      string
	}{
		{name: "requested wins", user: memberB, requested: "T9", want: "T9"},
		{name: "first membership", user: memberB, want: "T1"},
		{name: "superadmin gets first instance", user: superAdmin, want: "default"},
		{name: "no memberships", user: outsiderC, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.EffectiveTenant(ctx, tt.user, tt.requested)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	ms.first = ""
	got, err := r.EffectiveTenant(ctx, superAdmin, "")
	require.NoError(t, err)
	assert.Equal(t, "", got)

	_, err = r.EffectiveTenant(ctx, nil, "")
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)
}
