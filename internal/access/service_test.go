package access

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compasshq/compass/internal/permission"
	"github.com/compasshq/compass/internal/shared"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockRepository struct {
	roles       map[int64]RoleGrants
	userRole    map[int64]int64
	userGroups  map[int64][]GroupGrants
	overrides   map[int64]*OverrideRecord
	nextRoleID  int64
	nextGroupID int64

	roleErr error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		roles:       make(map[int64]RoleGrants),
		userRole:    make(map[int64]int64),
		userGroups:  make(map[int64][]GroupGrants),
		overrides:   make(map[int64]*OverrideRecord),
		nextRoleID:  1,
		nextGroupID: 1,
	}
}

func (m *mockRepository) RoleForUser(ctx context.Context, userID int64) (RoleGrants, error) {
	if m.roleErr != nil {
		return RoleGrants{}, m.roleErr
	}
	roleID, ok := m.userRole[userID]
	if !ok {
		return RoleGrants{}, shared.ErrMissingRole
	}
	return m.roles[roleID], nil
}

func (m *mockRepository) GroupsForUser(ctx context.Context, userID int64) ([]GroupGrants, error) {
	return m.userGroups[userID], nil
}

func (m *mockRepository) OverrideForUser(ctx context.Context, userID int64) (*OverrideRecord, error) {
	return m.overrides[userID], nil
}

func (m *mockRepository) ListRoles(ctx context.Context) ([]Role, error)   { return nil, nil }
func (m *mockRepository) ListGroups(ctx context.Context) ([]Group, error) { return nil, nil }

func (m *mockRepository) CreateRole(ctx context.Context, name, description string) (Role, error) {
	id := m.nextRoleID
	m.nextRoleID++
	m.roles[id] = RoleGrants{RoleID: id}
	return Role{ID: id, Name: name, Description: description}, nil
}

func (m *mockRepository) SetRoleGrants(ctx context.Context, roleID int64, grants map[permission.Capability]bool) error {
	m.roles[roleID] = RoleGrants{RoleID: roleID, Grants: grants}
	return nil
}

func (m *mockRepository) AssignRole(ctx context.Context, userID, roleID int64) error {
	m.userRole[userID] = roleID
	return nil
}

func (m *mockRepository) CreateGroup(ctx context.Context, name, description string) (Group, error) {
	id := m.nextGroupID
	m.nextGroupID++
	return Group{ID: id, Name: name, Description: description}, nil
}

func (m *mockRepository) SetGroupGrants(ctx context.Context, groupID int64, grants map[permission.Capability]bool) error {
	for userID, groups := range m.userGroups {
		for i := range groups {
			if groups[i].GroupID == groupID {
				groups[i].Grants = grants
			}
		}
		m.userGroups[userID] = groups
	}
	return nil
}

func (m *mockRepository) AddGroupMember(ctx context.Context, groupID, userID int64) error {
	for _, g := range m.userGroups[userID] {
		if g.GroupID == groupID {
			return shared.ErrDuplicate
		}
	}
	m.userGroups[userID] = append(m.userGroups[userID], GroupGrants{GroupID: groupID})
	return nil
}

func (m *mockRepository) RemoveGroupMember(ctx context.Context, groupID, userID int64) error {
	groups := m.userGroups[userID]
	for i, g := range groups {
		if g.GroupID == groupID {
			m.userGroups[userID] = append(groups[:i], groups[i+1:]...)
			return nil
		}
	}
	return shared.ErrNotFound
}

func (m *mockRepository) PutOverride(ctx context.Context, userID int64, grants map[permission.Capability]bool, updatedBy int64) (OverrideRecord, error) {
	record := OverrideRecord{
		UserID:    userID,
		Grants:    grants,
		Version:   time.Now().Format(time.RFC3339Nano),
		UpdatedBy: updatedBy,
		UpdatedAt: time.Now(),
	}
	m.overrides[userID] = &record
	return record, nil
}

func (m *mockRepository) ClearOverride(ctx context.Context, userID int64) error {
	if _, ok := m.overrides[userID]; !ok {
		return shared.ErrNotFound
	}
	delete(m.overrides, userID)
	return nil
}

func (m *mockRepository) CountOverrides(ctx context.Context) (int64, error) {
	return int64(len(m.overrides)), nil
}

type mockAudit struct {
	entries []shared.AuditLog
}

func (m *mockAudit) Record(ctx context.Context, log shared.AuditLog) error {
	m.entries = append(m.entries, log)
	return nil
}

// ============================================================================
// HELPERS
// ============================================================================

func fullGrants(allowed ...permission.Capability) map[permission.Capability]bool {
	grants := make(map[permission.Capability]bool)
	for _, c := range permission.Capabilities() {
		grants[c] = false
	}
	for _, c := range allowed {
		grants[c] = true
	}
	return grants
}

func newTestService(t *testing.T, repo *mockRepository) (*Service, *Cache, *mockAudit) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewCache(client, 30*time.Second)
	audit := &mockAudit{}
	svc := NewService(repo, cache, audit, nil, nil, nil)
	return svc, cache, audit
}

func seedUser(repo *mockRepository, userID, roleID int64, roleGrants map[permission.Capability]bool) {
	repo.roles[roleID] = RoleGrants{RoleID: roleID, Grants: roleGrants}
	repo.userRole[userID] = roleID
}

// ============================================================================
// TESTS
// ============================================================================

func TestResolveForUserRoleOnly(t *testing.T) {
	repo := newMockRepository()
	seedUser(repo, 10, 1, fullGrants(permission.CapSeeUsers))
	svc, _, _ := newTestService(t, repo)

	res, err := svc.ResolveForUser(context.Background(), 10)
	require.NoError(t, err)

	assert.True(t, res.Resolved.Get(permission.CapSeeUsers))
	assert.False(t, res.Resolved.Get(permission.CapDeleteUsers))
	assert.Equal(t, permission.SourceRole, res.Provenance[permission.CapSeeUsers])
}

func TestResolveForUserGroupGrants(t *testing.T) {
	repo := newMockRepository()
	seedUser(repo, 10, 1, fullGrants())
	repo.userGroups[10] = []GroupGrants{
		{GroupID: 5, Name: "Editors", Grants: fullGrants(permission.CapEditUsers)},
	}
	svc, _, _ := newTestService(t, repo)

	res, err := svc.ResolveForUser(context.Background(), 10)
	require.NoError(t, err)

	assert.True(t, res.Resolved.Get(permission.CapEditUsers))
	assert.Equal(t, permission.GroupSource("5"), res.Provenance[permission.CapEditUsers])
}

func TestResolveForUserOverrideWins(t *testing.T) {
	repo := newMockRepository()
	seedUser(repo, 10, 1, fullGrants(permission.CapEditUsers))
	repo.overrides[10] = &OverrideRecord{
		UserID:  10,
		Grants:  map[permission.Capability]bool{permission.CapEditUsers: false},
		Version: "v1",
	}
	svc, _, _ := newTestService(t, repo)

	res, err := svc.ResolveForUser(context.Background(), 10)
	require.NoError(t, err)

	assert.False(t, res.Resolved.Get(permission.CapEditUsers))
	assert.Equal(t, permission.SourceIndividual, res.Provenance[permission.CapEditUsers])
}

func TestResolveForUserMissingRole(t *testing.T) {
	repo := newMockRepository()
	svc, _, _ := newTestService(t, repo)

	_, err := svc.ResolveForUser(context.Background(), 99)
	require.Error(t, err)

	var rerr *permission.ResolutionError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, permission.FaultMissingRole, rerr.Fault)
}

func TestResolveForUserDegradedGroup(t *testing.T) {
	repo := newMockRepository()
	seedUser(repo, 10, 1, fullGrants())
	repo.userGroups[10] = []GroupGrants{
		// Non-total grant map: must contribute nothing.
		{GroupID: 7, Grants: map[permission.Capability]bool{permission.CapDeleteUsers: true}},
	}
	svc, _, _ := newTestService(t, repo)

	res, err := svc.ResolveForUser(context.Background(), 10)
	require.NoError(t, err)

	assert.False(t, res.Resolved.Get(permission.CapDeleteUsers))
	require.Len(t, res.Degraded, 1)
	assert.Equal(t, permission.GroupSource("7"), res.Degraded[0].Source)
}

func TestResolveForUserServesFromCacheUntilBump(t *testing.T) {
	repo := newMockRepository()
	seedUser(repo, 10, 1, fullGrants())
	repo.userGroups[10] = []GroupGrants{
		{GroupID: 3, Grants: fullGrants(permission.CapSeeReports)},
	}
	svc, cache, _ := newTestService(t, repo)
	ctx := context.Background()

	first, err := svc.ResolveForUser(ctx, 10)
	require.NoError(t, err)
	require.True(t, first.Resolved.Get(permission.CapSeeReports))

	// Change the group's grants behind the cache's back: the cache key does
	// not include grant contents, so the stale value is served until a bump.
	repo.userGroups[10][0].Grants = fullGrants()

	stale, err := svc.ResolveForUser(ctx, 10)
	require.NoError(t, err)
	assert.True(t, stale.Resolved.Get(permission.CapSeeReports), "cached resolution expected")

	require.NoError(t, cache.Bump(ctx))

	fresh, err := svc.ResolveForUser(ctx, 10)
	require.NoError(t, err)
	assert.False(t, fresh.Resolved.Get(permission.CapSeeReports))
}

func TestMutationsInvalidateCache(t *testing.T) {
	repo := newMockRepository()
	seedUser(repo, 10, 1, fullGrants())
	svc, _, audit := newTestService(t, repo)
	ctx := context.Background()

	res, err := svc.ResolveForUser(ctx, 10)
	require.NoError(t, err)
	require.False(t, res.Resolved.Get(permission.CapEditUsers))

	// The grant change goes through the service, which bumps the cache.
	require.NoError(t, svc.SetRoleGrants(ctx, 1, 1, fullGrants(permission.CapEditUsers)))

	res, err = svc.ResolveForUser(ctx, 10)
	require.NoError(t, err)
	assert.True(t, res.Resolved.Get(permission.CapEditUsers))

	require.NotEmpty(t, audit.entries)
	assert.Equal(t, "access.role.grants", audit.entries[0].Action)
}

func TestSetOverrideRejectsUnknownCapability(t *testing.T) {
	repo := newMockRepository()
	svc, _, _ := newTestService(t, repo)

	_, err := svc.SetOverride(context.Background(), 1, 10, map[permission.Capability]bool{"canTimeTravel": true})
	require.Error(t, err)

	var verr *permission.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, repo.overrides, "invalid override must never be persisted")
}

func TestSetRoleGrantsRequiresTotalMap(t *testing.T) {
	repo := newMockRepository()
	seedUser(repo, 10, 1, fullGrants())
	svc, _, _ := newTestService(t, repo)

	err := svc.SetRoleGrants(context.Background(), 1, 1, map[permission.Capability]bool{permission.CapSeeUsers: true})
	require.Error(t, err)

	var verr *permission.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.NotEmpty(t, verr.Missing)
}

func TestSetOverrideAndClearAreAudited(t *testing.T) {
	repo := newMockRepository()
	seedUser(repo, 10, 1, fullGrants())
	svc, _, audit := newTestService(t, repo)
	ctx := context.Background()

	record, err := svc.SetOverride(ctx, 2, 10, map[permission.Capability]bool{permission.CapDeleteUsers: true})
	require.NoError(t, err)
	assert.NotEmpty(t, record.Version)

	require.NoError(t, svc.ClearOverride(ctx, 2, 10))

	require.Len(t, audit.entries, 2)
	assert.Equal(t, "access.override.set", audit.entries[0].Action)
	assert.Equal(t, "access.override.clear", audit.entries[1].Action)
	assert.Equal(t, int64(2), audit.entries[0].ActorID)
}

func TestSummaryForUser(t *testing.T) {
	repo := newMockRepository()
	seedUser(repo, 10, 4, fullGrants(permission.CapSeeUsers))
	repo.userGroups[10] = []GroupGrants{
		{GroupID: 9, Grants: fullGrants(permission.CapSeeGroups)},
		{GroupID: 2, Grants: fullGrants()},
	}
	repo.overrides[10] = &OverrideRecord{
		UserID:  10,
		Grants:  map[permission.Capability]bool{permission.CapSeeUsers: false},
		Version: "v42",
	}
	svc, _, _ := newTestService(t, repo)

	summary, err := svc.SummaryForUser(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, int64(10), summary.UserID)
	assert.Equal(t, int64(4), summary.RoleID)
	assert.Equal(t, []int64{2, 9}, summary.GroupIDs)
	assert.Equal(t, "v42", summary.OverrideVersion)
	assert.False(t, summary.Resolved[permission.CapSeeUsers])
	assert.Equal(t, string(permission.SourceIndividual), summary.Provenance[permission.CapSeeUsers])
	assert.True(t, summary.Resolved[permission.CapSeeGroups])
	assert.Equal(t, string(permission.GroupSource("9")), summary.Provenance[permission.CapSeeGroups])
}

func TestAddGroupMemberDuplicate(t *testing.T) {
	repo := newMockRepository()
	seedUser(repo, 10, 1, fullGrants())
	svc, _, _ := newTestService(t, repo)
	ctx := context.Background()

	require.NoError(t, svc.AddGroupMember(ctx, 1, 5, 10))
	err := svc.AddGroupMember(ctx, 1, 5, 10)
	assert.ErrorIs(t, err, shared.ErrDuplicate)
}
