package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/taskboard/pkg/rbac"
	"github.com/platinummonkey/taskboard/pkg/storage"
	"github.com/platinummonkey/taskboard/pkg/storage/memory"
	"github.com/platinummonkey/taskboard/pkg/storage/redisclient"
)

type fixture struct {
	store *Store
	mem   *memory.Store
	mr    *miniredis.Miniredis
	owner *storage.User
	other *storage.User
	proj  *storage.Project
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	mr := miniredis.RunT(t)
	rc, err := redisclient.New(ctx, redisclient.Config{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })

	mem := memory.New()
	s := New(mem, rc, DefaultTTLs(), nil)

	owner := &storage.User{Username: "owner", Email: "owner@example.com", PasswordHash: "x"}
	other := &storage.User{Username: "other", Email: "other@example.com", PasswordHash: "x"}
	require.NoError(t, s.CreateUser(ctx, owner))
	require.NoError(t, s.CreateUser(ctx, other))

	proj := &storage.Project{Name: "Roadmap", CreatedBy: owner.ID}
	require.NoError(t, s.CreateProject(ctx, proj))

	return &fixture{store: s, mem: mem, mr: mr, owner: owner, other: other, proj: proj}
}

func TestGetProjectCachesAndInvalidates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	p, err := f.store.GetProject(ctx, f.proj.ID)
	require.NoError(t, err)
	assert.Equal(t, "Roadmap", p.Name)
	assert.True(t, f.mr.Exists(projectKey(f.proj.ID)))

	p.Name = "Roadmap 2"
	require.NoError(t, f.store.UpdateProject(ctx, p))
	assert.False(t, f.mr.Exists(projectKey(f.proj.ID)))

	p, err = f.store.GetProject(ctx, f.proj.ID)
	require.NoError(t, err)
	assert.Equal(t, "Roadmap 2", p.Name)
}

func TestGetMemberRoleCachesMiss(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, found, err := f.store.GetMemberRole(ctx, f.proj.ID, f.other.ID)
	require.NoError(t, err)
	assert.False(t, found)
	assert.True(t, f.mr.Exists(memberKey(f.proj.ID, f.other.ID)))

	require.NoError(t, f.store.AddMember(ctx, &storage.Membership{
		ProjectID: f.proj.ID, UserID: f.other.ID, Role: rbac.RoleMember,
	}))

	role, found, err := f.store.GetMemberRole(ctx, f.proj.ID, f.other.ID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, rbac.RoleMember, role)
}

func TestRoleChangeInvalidates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.store.AddMember(ctx, &storage.Membership{
		ProjectID: f.proj.ID, UserID: f.other.ID, Role: rbac.RoleMember,
	}))

	_, _, err := f.store.GetMemberRole(ctx, f.proj.ID, f.other.ID)
	require.NoError(t, err)

	require.NoError(t, f.store.UpdateMemberRole(ctx, f.proj.ID, f.other.ID, rbac.RoleProjectAdmin))
	role, _, err := f.store.GetMemberRole(ctx, f.proj.ID, f.other.ID)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleProjectAdmin, role)

	require.NoError(t, f.store.RemoveMember(ctx, f.proj.ID, f.other.ID))
	_, found, err := f.store.GetMemberRole(ctx, f.proj.ID, f.other.ID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFailedWriteKeepsCache(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, _, err := f.store.GetMemberRole(ctx, f.proj.ID, f.owner.ID)
	require.NoError(t, err)

	err = f.store.UpdateMemberRole(ctx, f.proj.ID, f.owner.ID, rbac.RoleMember)
	assert.ErrorIs(t, err, storage.ErrLastProjectAdmin)
	assert.True(t, f.mr.Exists(memberKey(f.proj.ID, f.owner.ID)))
}

func TestDeleteProjectInvalidatesMembers(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, _, err := f.store.GetMemberRole(ctx, f.proj.ID, f.owner.ID)
	require.NoError(t, err)
	_, err = f.store.GetProject(ctx, f.proj.ID)
	require.NoError(t, err)

	require.NoError(t, f.store.DeleteProject(ctx, f.proj.ID))
	assert.False(t, f.mr.Exists(memberKey(f.proj.ID, f.owner.ID)))

	_, err = f.store.GetProject(ctx, f.proj.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCacheOutageFallsThrough(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	f.mr.Close()

	role, found, err := f.store.GetMemberRole(ctx, f.proj.ID, f.owner.ID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, rbac.RoleProjectAdmin, role)
}
