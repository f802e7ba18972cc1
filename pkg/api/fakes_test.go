package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/versionmanager/pkg/access"
	"github.com/platinummonkey/versionmanager/pkg/audit"
	"github.com/platinummonkey/versionmanager/pkg/auth"
	"github.com/platinummonkey/versionmanager/pkg/instances"
	"github.com/platinummonkey/versionmanager/pkg/invites"
	"github.com/platinummonkey/versionmanager/pkg/middleware"
	"github.com/platinummonkey/versionmanager/pkg/poolcache"
	"github.com/platinummonkey/versionmanager/pkg/sessions"
	"github.com/platinummonkey/versionmanager/pkg/settings"
	"github.com/platinummonkey/versionmanager/pkg/users"
	"github.com/platinummonkey/versionmanager/pkg/versions"
)

// world is the shared in-memory state behind the fake stores
type world struct {
	mu        sync.Mutex
	clock     time.Time
	users     map[string]*users.Credentials
	instances []*instances.Instance
	members   map[string]map[string]*instances.Membership
	settings  map[string]settings.Settings
	invites   map[string]*invites.Invite

	// addMemberErr makes AddMember fail once it is set
	addMemberErr error
}

func newWorld() *world {
	w := &world{
		clock:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		users:    map[string]*users.Credentials{},
		members:  map[string]map[string]*instances.Membership{},
		settings: map[string]settings.Settings{},
		invites:  map[string]*invites.Invite{},
	}
	w.instances = append(w.instances, &instances.Instance{
		ID: instances.DefaultID, Name: "Default", Slug: "default", CreatedAt: w.tick(),
	})
	return w
}

func (w *world) tick() time.Time {
	w.clock = w.clock.Add(time.Second)
	return w.clock
}

func (w *world) byEmail(email string) *users.Credentials {
	for _, u := range w.users {
		if u.Email == users.NormalizeEmail(email) {
			return u
		}
	}
	return nil
}

func (w *world) instance(id string) *instances.Instance {
	for _, inst := range w.instances {
		if inst.ID == id {
			return inst
		}
	}
	return nil
}

type fakeUsers struct{ w *world }

func (f fakeUsers) List(ctx context.Context) ([]*users.User, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	var out []*users.User
	for _, c := range f.w.users {
		u := c.User
		out = append(out, &u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f fakeUsers) Count(ctx context.Context) (int, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	return len(f.w.users), nil
}

func (f fakeUsers) GetByID(ctx context.Context, id string) (*users.User, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	c, ok := f.w.users[id]
	if !ok {
		return nil, users.ErrNotFound
	}
	u := c.User
	return &u, nil
}

func (f fakeUsers) GetByEmail(ctx context.Context, email string) (*users.User, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	c := f.w.byEmail(email)
	if c == nil {
		return nil, users.ErrNotFound
	}
	u := c.User
	return &u, nil
}

func (f fakeUsers) GetCredentials(ctx context.Context, email string) (*users.Credentials, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	c := f.w.byEmail(email)
	if c == nil {
		return nil, users.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f fakeUsers) insert(in users.NewUser) (*users.User, error) {
	if f.w.byEmail(in.Email) != nil {
		return nil, users.ErrEmailTaken
	}
	c := &users.Credentials{
		User: users.User{
			ID:           uuid.NewString(),
			Name:         in.Name,
			Email:        users.NormalizeEmail(in.Email),
			Status:       in.Status,
			IsSuperAdmin: in.IsSuperAdmin,
			HasPassword:  in.PasswordHash != "",
			CreatedAt:    f.w.tick(),
		},
		PasswordHash: in.PasswordHash,
	}
	f.w.users[c.ID] = c
	u := c.User
	return &u, nil
}

func (f fakeUsers) Create(ctx context.Context, in users.NewUser) (*users.User, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	return f.insert(in)
}

func (f fakeUsers) CreateFirst(ctx context.Context, name, email, passwordHash string) (*users.User, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	if len(f.w.users) > 0 {
		return nil, users.ErrAlreadyBootstrapped
	}
	status := users.StatusActive
	if passwordHash == "" {
		status = users.StatusInvited
	}
	return f.insert(users.NewUser{Name: name, Email: email, Status: status, IsSuperAdmin: true, PasswordHash: passwordHash})
}

func (f fakeUsers) update(id string, fn func(c *users.Credentials)) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	c, ok := f.w.users[id]
	if !ok {
		return users.ErrNotFound
	}
	fn(c)
	return nil
}

func (f fakeUsers) UpdateName(ctx context.Context, id, name string) error {
	return f.update(id, func(c *users.Credentials) { c.Name = name })
}

func (f fakeUsers) SetPasswordHash(ctx context.Context, id, hash string) error {
	return f.update(id, func(c *users.Credentials) {
		c.PasswordHash, c.HasPassword, c.Status = hash, true, users.StatusActive
	})
}

func (f fakeUsers) ResetPassword(ctx context.Context, id string) error {
	return f.update(id, func(c *users.Credentials) {
		c.PasswordHash, c.HasPassword, c.Status = "", false, users.StatusInvited
	})
}

func (f fakeUsers) SetSuperAdmin(ctx context.Context, id string, superAdmin bool) error {
	return f.update(id, func(c *users.Credentials) { c.IsSuperAdmin = superAdmin })
}

func (f fakeUsers) Delete(ctx context.Context, id string) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	if _, ok := f.w.users[id]; !ok {
		return users.ErrNotFound
	}
	delete(f.w.users, id)
	for _, m := range f.w.members {
		delete(m, id)
	}
	return nil
}

type fakeInstances struct{ w *world }

func (f fakeInstances) List(ctx context.Context, limit, offset int) ([]*instances.Instance, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	out := make([]*instances.Instance, len(f.w.instances))
	copy(out, f.w.instances)
	return out, nil
}

func (f fakeInstances) First(ctx context.Context) (*instances.Instance, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	if len(f.w.instances) == 0 {
		return nil, instances.ErrNotFound
	}
	return f.w.instances[0], nil
}

func (f fakeInstances) Get(ctx context.Context, id string) (*instances.Instance, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	inst := f.w.instance(id)
	if inst == nil {
		return nil, instances.ErrNotFound
	}
	return inst, nil
}

func (f fakeInstances) Create(ctx context.Context, name, slug, createdBy string) (*instances.Instance, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	for _, inst := range f.w.instances {
		if inst.Slug == slug {
			return nil, instances.ErrSlugTaken
		}
	}
	inst := &instances.Instance{ID: uuid.NewString(), Name: name, Slug: slug, CreatedAt: f.w.tick(), CreatedBy: &createdBy}
	f.w.instances = append(f.w.instances, inst)
	return inst, nil
}

func (f fakeInstances) Update(ctx context.Context, id string, req instances.UpdateRequest) (*instances.Instance, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	inst := f.w.instance(id)
	if inst == nil {
		return nil, instances.ErrNotFound
	}
	if req.Name != nil {
		inst.Name = *req.Name
	}
	if req.Slug != nil {
		slug := instances.NormalizeSlug(*req.Slug)
		if err := instances.ValidateSlug(slug); err != nil {
			return nil, err
		}
		inst.Slug = slug
	}
	return inst, nil
}

func (f fakeInstances) Delete(ctx context.Context, id string) error {
	if id == instances.DefaultID {
		return instances.ErrDefaultInstance
	}
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	for i, inst := range f.w.instances {
		if inst.ID == id {
			f.w.instances = append(f.w.instances[:i], f.w.instances[i+1:]...)
			delete(f.w.members, id)
			return nil
		}
	}
	return instances.ErrNotFound
}

func (f fakeInstances) ListMembers(ctx context.Context, instanceID string) ([]*instances.Member, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	var out []*instances.Member
	for userID, m := range f.w.members[instanceID] {
		u := f.w.users[userID]
		out = append(out, &instances.Member{Membership: *m, Name: u.Name, Email: u.Email})
	}
	return out, nil
}

func (f fakeInstances) ListUserInstances(ctx context.Context, userID string) ([]*instances.InstanceWithRole, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	var out []*instances.InstanceWithRole
	for _, inst := range f.w.instances {
		if m, ok := f.w.members[inst.ID][userID]; ok {
			out = append(out, &instances.InstanceWithRole{Instance: *inst, Role: m.Role})
		}
	}
	return out, nil
}

func (f fakeInstances) GetMembership(ctx context.Context, userID, instanceID string) (*instances.Membership, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	m, ok := f.w.members[instanceID][userID]
	if !ok {
		return nil, instances.ErrMembershipNotFound
	}
	return m, nil
}

func (f fakeInstances) AddMember(ctx context.Context, userID, instanceID string, role auth.Role) (*instances.Membership, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	if f.w.addMemberErr != nil {
		return nil, f.w.addMemberErr
	}
	if f.w.instance(instanceID) == nil {
		return nil, instances.ErrNotFound
	}
	if f.w.members[instanceID] == nil {
		f.w.members[instanceID] = map[string]*instances.Membership{}
	}
	m := &instances.Membership{UserID: userID, InstanceID: instanceID, Role: role, CreatedAt: f.w.tick()}
	f.w.members[instanceID][userID] = m
	return m, nil
}

func (f fakeInstances) UpdateMemberRole(ctx context.Context, userID, instanceID string, role auth.Role) (*instances.Membership, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	m, ok := f.w.members[instanceID][userID]
	if !ok {
		return nil, instances.ErrMembershipNotFound
	}
	m.Role = role
	return m, nil
}

func (f fakeInstances) RemoveMember(ctx context.Context, userID, instanceID string) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	if _, ok := f.w.members[instanceID][userID]; !ok {
		return instances.ErrMembershipNotFound
	}
	delete(f.w.members[instanceID], userID)
	return nil
}

type fakeSettings struct{ w *world }

func (f fakeSettings) Get(ctx context.Context, instanceID string) (settings.Settings, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	if s, ok := f.w.settings[instanceID]; ok {
		return s, nil
	}
	return settings.Defaults(), nil
}

func (f fakeSettings) Save(ctx context.Context, instanceID string, next settings.Settings) (settings.Settings, error) {
	if err := next.Validate(); err != nil {
		return settings.Settings{}, err
	}
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	if next.DB.Password == settings.RedactedPassword {
		next.DB.Password = f.w.settings[instanceID].DB.Password
	}
	f.w.settings[instanceID] = next
	return next, nil
}

func (f fakeSettings) Delete(ctx context.Context, instanceID string) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	delete(f.w.settings, instanceID)
	return nil
}

type fakeInvites struct{ w *world }

func (f fakeInvites) Create(ctx context.Context, userID, email string) (*invites.Invite, error) {
	token, err := auth.GenerateToken()
	if err != nil {
		return nil, err
	}
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	inv := &invites.Invite{UserID: userID, UserEmail: email, CreatedAt: time.Now(), ExpiresAt: time.Now().Add(invites.DefaultTTL)}
	f.w.invites[token] = inv
	out := *inv
	out.Token = token
	return &out, nil
}

func (f fakeInvites) Valid(ctx context.Context, token string) (*invites.Invite, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	inv, ok := f.w.invites[token]
	if !ok || !inv.Valid(time.Now()) {
		return nil, invites.ErrNotFound
	}
	return inv, nil
}

func (f fakeInvites) MarkUsed(ctx context.Context, token string) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	inv, ok := f.w.invites[token]
	if !ok || inv.UsedAt != nil {
		return invites.ErrNotFound
	}
	now := time.Now()
	inv.UsedAt = &now
	return nil
}

func (f fakeInvites) DeleteForUser(ctx context.Context, userID string) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	for token, inv := range f.w.invites {
		if inv.UserID == userID && inv.UsedAt == nil {
			delete(f.w.invites, token)
		}
	}
	return nil
}

// fakePools hands out one pool per tenant, or a fixed error
type fakePools struct {
	mu          sync.Mutex
	pools       map[string]*sql.DB
	err         error
	invalidated []string
}

func (f *fakePools) Get(ctx context.Context, tenantID string) (*sql.DB, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	db, ok := f.pools[tenantID]
	if !ok {
		return nil, &poolcache.MisconfiguredTenantError{TenantID: tenantID, Missing: []string{"host"}}
	}
	return db, nil
}

func (f *fakePools) Invalidate(tenantID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, tenantID)
}

func (f *fakePools) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pools)
}

func (f *fakePools) MaxPools() int { return poolcache.DefaultMaxPools }

func (f *fakePools) Snapshot() []poolcache.PoolInfo { return nil }

// fakeVersions keeps version history per tenant. Every call goes through
// pools first so pool errors surface the way they do in production.
type fakeVersions struct {
	pools *fakePools
	mu    sync.Mutex
	now   time.Time
	next  int64
	byTen map[string][]*versions.Version
}

func newFakeVersions(pools *fakePools) *fakeVersions {
	return &fakeVersions{
		pools: pools,
		now:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		byTen: map[string][]*versions.Version{},
	}
}

func (f *fakeVersions) tenant(ctx context.Context, tenantID string) error {
	_, err := f.pools.Get(ctx, tenantID)
	return err
}

func (f *fakeVersions) find(tenantID string, id int64) *versions.Version {
	for _, v := range f.byTen[tenantID] {
		if v.ID == id {
			return v
		}
	}
	return nil
}

// newestFirst returns a copy of the tenant's versions, newest first
func (f *fakeVersions) newestFirst(tenantID string) []*versions.Version {
	list := f.byTen[tenantID]
	out := make([]*versions.Version, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		cp := *list[i]
		out = append(out, &cp)
	}
	return out
}

func (f *fakeVersions) summaries(tenantID string) []*versions.WorkflowSummary {
	byID := map[string]*versions.WorkflowSummary{}
	var order []string
	for _, v := range f.newestFirst(tenantID) {
		s, ok := byID[v.WorkflowID]
		if !ok {
			s = &versions.WorkflowSummary{WorkflowID: v.WorkflowID, Name: v.WorkflowName, LastUpdatedAt: v.WorkflowUpdatedAt}
			byID[v.WorkflowID] = s
			order = append(order, v.WorkflowID)
		}
		s.VersionsCount++
	}
	out := make([]*versions.WorkflowSummary, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

func (f *fakeVersions) ListWorkflows(ctx context.Context, tenantID string, filter versions.ListFilter) ([]*versions.WorkflowSummary, int, error) {
	if err := f.tenant(ctx, tenantID); err != nil {
		return nil, 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.summaries(tenantID)
	sort.SliceStable(all, func(i, j int) bool { return all[i].VersionsCount > all[j].VersionsCount })
	total := len(all)
	if filter.Offset >= total {
		return []*versions.WorkflowSummary{}, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > total {
		end = total
	}
	return all[filter.Offset:end], total, nil
}

func (f *fakeVersions) StaleWorkflows(ctx context.Context, tenantID string, limit int) ([]*versions.WorkflowSummary, error) {
	if err := f.tenant(ctx, tenantID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.summaries(tenantID)
	sort.SliceStable(all, func(i, j int) bool { return all[i].LastUpdatedAt.Before(all[j].LastUpdatedAt) })
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (f *fakeVersions) Recent(ctx context.Context, tenantID string, limit int) ([]*versions.Version, error) {
	if err := f.tenant(ctx, tenantID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.newestFirst(tenantID)
	if len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (f *fakeVersions) ListByWorkflow(ctx context.Context, tenantID, workflowID string) ([]*versions.Version, error) {
	if err := f.tenant(ctx, tenantID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*versions.Version{}
	for _, v := range f.newestFirst(tenantID) {
		if v.WorkflowID == workflowID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeVersions) Get(ctx context.Context, tenantID string, id int64) (*versions.Version, error) {
	if err := f.tenant(ctx, tenantID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.find(tenantID, id)
	if v == nil {
		return nil, versions.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (f *fakeVersions) ByIDs(ctx context.Context, tenantID string, ids []int64) ([]*versions.Version, error) {
	if err := f.tenant(ctx, tenantID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	want := map[int64]bool{}
	for _, id := range ids {
		want[id] = true
	}
	out := []*versions.Version{}
	for _, v := range f.newestFirst(tenantID) {
		if want[v.ID] {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeVersions) Create(ctx context.Context, tenantID string, in versions.NewVersion) (*versions.Version, error) {
	in, err := in.Normalize()
	if err != nil {
		return nil, err
	}
	if err := f.tenant(ctx, tenantID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.now = f.now.Add(time.Minute)
	v := &versions.Version{
		ID:                f.next,
		WorkflowID:        in.WorkflowID,
		WorkflowName:      in.WorkflowName,
		VersionUUID:       in.VersionUUID,
		WorkflowUpdatedAt: f.now,
		JSON:              in.WorkflowJSON,
		CreatedAt:         f.now,
		UpdatedAt:         f.now,
		Metadata:          versions.Metadata{Tags: []string{}},
	}
	f.byTen[tenantID] = append(f.byTen[tenantID], v)
	cp := *v
	return &cp, nil
}

func (f *fakeVersions) Delete(ctx context.Context, tenantID string, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, versions.ErrNoIDs
	}
	if err := f.tenant(ctx, tenantID); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	drop := map[int64]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	var kept []*versions.Version
	for _, v := range f.byTen[tenantID] {
		if !drop[v.ID] {
			kept = append(kept, v)
		}
	}
	n := int64(len(f.byTen[tenantID]) - len(kept))
	f.byTen[tenantID] = kept
	if n == 0 {
		return 0, versions.ErrNotFound
	}
	return n, nil
}

func (f *fakeVersions) UpdateMetadata(ctx context.Context, tenantID string, id int64, m versions.Metadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v := f.find(tenantID, id); v != nil {
		if m.Tags == nil {
			m.Tags = []string{}
		}
		v.Metadata = m
	}
	return nil
}

func (f *fakeVersions) DeleteMetadata(ctx context.Context, tenantID string, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, versions.ErrNoIDs
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, id := range ids {
		if v := f.find(tenantID, id); v != nil && (v.Description != "" || v.Comment != "" || len(v.Tags) > 0) {
			v.Metadata = versions.Metadata{Tags: []string{}}
			n++
		}
	}
	return n, nil
}

func (f *fakeVersions) Prune(ctx context.Context, tenantID string, keep int) (versions.PruneResult, error) {
	if keep < 0 {
		return versions.PruneResult{}, versions.ErrInvalidKeep
	}
	if err := f.tenant(ctx, tenantID); err != nil {
		return versions.PruneResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.byTen[tenantID]
	if len(list) <= keep {
		return versions.PruneResult{Keep: keep}, nil
	}
	res := versions.PruneResult{Keep: keep, DeletedVersions: int64(len(list) - keep)}
	for _, v := range list[:len(list)-keep] {
		if v.Description != "" || v.Comment != "" || len(v.Tags) > 0 {
			res.DeletedMetadata++
		}
	}
	f.byTen[tenantID] = list[len(list)-keep:]
	return res, nil
}

type fakeGroups struct {
	mu    sync.Mutex
	byTen map[string]versions.Groups
}

func (f *fakeGroups) List(ctx context.Context, tenantID string) (versions.Groups, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.byTen[tenantID]; ok {
		return g, nil
	}
	return versions.Groups{}, nil
}

func (f *fakeGroups) Replace(ctx context.Context, tenantID string, groups versions.Groups) (versions.Groups, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if groups == nil {
		groups = versions.Groups{}
	}
	f.byTen[tenantID] = groups
	return groups, nil
}

type fakeAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (f *fakeAudit) Log(ctx context.Context, event audit.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeAudit) List(ctx context.Context, filter audit.ListFilter) ([]*audit.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*audit.Event
	for i := len(f.events) - 1; i >= 0; i-- {
		e := f.events[i]
		if filter.InstanceID == "" || e.InstanceID == "" || e.InstanceID == filter.InstanceID {
			out = append(out, &e)
		}
	}
	return out, nil
}

func (f *fakeAudit) Count(ctx context.Context, instanceID string) (int64, error) {
	list, _ := f.List(ctx, audit.ListFilter{InstanceID: instanceID})
	return int64(len(list)), nil
}

func (f *fakeAudit) actions() []audit.Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]audit.Action, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Action)
	}
	return out
}

type testEnv struct {
	world    *world
	sessions *sessions.MemoryStore
	pools    *fakePools
	versions *fakeVersions
	groups   *fakeGroups
	audit    *fakeAudit
	resolver *access.Resolver
	router   *mux.Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	w := newWorld()
	env := &testEnv{
		world:    w,
		sessions: sessions.NewMemoryStore(100, time.Hour),
		pools:    &fakePools{pools: map[string]*sql.DB{}},
		audit:    &fakeAudit{},
	}
	env.versions = newFakeVersions(env.pools)
	env.groups = &fakeGroups{byTen: map[string]versions.Groups{}}
	env.resolver = access.NewResolver(env.sessions, fakeUsers{w}, fakeInstances{w}, nil)
	env.router = NewRouter(Deps{
		Resolver:  env.resolver,
		Users:     fakeUsers{w},
		Instances: fakeInstances{w},
		Settings:  fakeSettings{w},
		Invites:   fakeInvites{w},
		Sessions:  env.sessions,
		Pools:     env.pools,
		Versions:  env.versions,
		Groups:    env.groups,
		Audit:     env.audit,
		Cookies:   middleware.CookieWriter{TTL: time.Hour},
	})
	return env
}

// addUser inserts an account directly; an empty password leaves it invited
func (e *testEnv) addUser(t *testing.T, name, email, password string, superAdmin bool) *users.User {
	t.Helper()
	in := users.NewUser{Name: name, Email: email, Status: users.StatusInvited, IsSuperAdmin: superAdmin}
	if password != "" {
		hash, err := auth.HashPassword(password)
		require.NoError(t, err)
		in.PasswordHash = hash
		in.Status = users.StatusActive
	}
	u, err := fakeUsers{e.world}.Create(context.Background(), in)
	require.NoError(t, err)
	return u
}

func (e *testEnv) addMember(t *testing.T, userID, instanceID string, role auth.Role) {
	t.Helper()
	_, err := fakeInstances{e.world}.AddMember(context.Background(), userID, instanceID, role)
	require.NoError(t, err)
}

func (e *testEnv) addInstance(t *testing.T, name, slug string) *instances.Instance {
	t.Helper()
	inst, err := fakeInstances{e.world}.Create(context.Background(), name, slug, "")
	require.NoError(t, err)
	return inst
}

// connect gives an instance a versions database so pool lookups succeed
func (e *testEnv) connect(instanceID string) {
	e.pools.mu.Lock()
	defer e.pools.mu.Unlock()
	e.pools.pools[instanceID] = &sql.DB{}
}

// sessionFor signs a user in without going through the login endpoint
func (e *testEnv) sessionFor(t *testing.T, u *users.User) string {
	t.Helper()
	token, err := e.sessions.Create(context.Background(), u.Email)
	require.NoError(t, err)
	return token
}

type requestOption func(r *http.Request)

func withInstanceCookie(id string) requestOption {
	return func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: middleware.InstanceCookie, Value: id})
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}, opts ...requestOption) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookie, Value: token})
	}
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.SessionCookie {
			return c
		}
	}
	return nil
}
