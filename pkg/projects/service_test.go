package projects

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/taskboard/pkg/apperrors"
	"github.com/platinummonkey/taskboard/pkg/notifications"
	"github.com/platinummonkey/taskboard/pkg/rbac"
	"github.com/platinummonkey/taskboard/pkg/storage"
	"github.com/platinummonkey/taskboard/pkg/storage/memory"
)

type fixture struct {
	store *memory.Store
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	return &fixture{
		store: store,
		svc:   NewService(store, rbac.NewAuthorizer(store), notifications.NewService(store, nil), nil),
	}
}

func (f *fixture) user(t *testing.T, name string, role rbac.GlobalRole) rbac.Principal {
	t.Helper()
	u := &storage.User{Username: name, Email: name + "@example.com", PasswordHash: "x", Role: role, EmailVerified: true}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	return u.Principal()
}

func assertKind(t *testing.T, err error, kind apperrors.Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, apperrors.KindOf(err), "error: %v", err)
}

func TestCreateMakesCreatorAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", rbac.GlobalMember)

	proj, err := f.svc.Create(ctx, alice, Input{Name: "  Apollo ", Tags: []string{"a", " a", "", "b"}})
	require.NoError(t, err)
	assert.Equal(t, "Apollo", proj.Name)
	assert.Equal(t, storage.ProjectActive, proj.Status)
	assert.Equal(t, []string{"a", "b"}, proj.Tags)

	detail, err := f.svc.Get(ctx, alice, proj.ID)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleProjectAdmin, detail.Role)

	_, err = f.svc.Create(ctx, alice, Input{Name: "Apollo"})
	assertKind(t, err, apperrors.KindConflict)
}

func TestAccessRequiresMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", rbac.GlobalMember)
	bob := f.user(t, "bob", rbac.GlobalMember)
	root := f.user(t, "root", rbac.GlobalAdmin)

	proj, err := f.svc.Create(ctx, alice, Input{Name: "Apollo"})
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, bob, proj.ID)
	assertKind(t, err, apperrors.KindForbidden)

	_, err = f.svc.Get(ctx, bob, "missing")
	assertKind(t, err, apperrors.KindNotFound)

	detail, err := f.svc.Get(ctx, root, proj.ID)
	require.NoError(t, err)
	assert.Empty(t, detail.Role)

	all, err := f.svc.List(ctx, root)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	none, err := f.svc.List(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemberCannotUpdateOrDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", rbac.GlobalMember)
	bob := f.user(t, "bob", rbac.GlobalMember)

	proj, err := f.svc.Create(ctx, alice, Input{Name: "Apollo"})
	require.NoError(t, err)
	_, err = f.svc.AddMember(ctx, alice, proj.ID, "bob@example.com", rbac.RoleMember)
	require.NoError(t, err)

	name := "Renamed"
	_, err = f.svc.Update(ctx, bob, proj.ID, Patch{Name: &name})
	assertKind(t, err, apperrors.KindForbidden)
	assertKind(t, f.svc.Delete(ctx, bob, proj.ID), apperrors.KindForbidden)

	updated, err := f.svc.Update(ctx, alice, proj.ID, Patch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)

	require.NoError(t, f.svc.Delete(ctx, alice, proj.ID))
	_, err = f.svc.Get(ctx, alice, proj.ID)
	assertKind(t, err, apperrors.KindNotFound)

	for _, who := range []rbac.Principal{alice, bob} {
		_, err = f.store.GetMembership(ctx, proj.ID, who.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound, who.ID)

		listed, err := f.svc.List(ctx, who)
		require.NoError(t, err)
		assert.Empty(t, listed, who.ID)
	}
}

func TestAddMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", rbac.GlobalMember)
	bob := f.user(t, "bob", rbac.GlobalMember)

	proj, err := f.svc.Create(ctx, alice, Input{Name: "Apollo"})
	require.NoError(t, err)

	_, err = f.svc.AddMember(ctx, alice, proj.ID, "nobody@example.com", rbac.RoleMember)
	assertKind(t, err, apperrors.KindNotFound)

	_, err = f.svc.AddMember(ctx, alice, proj.ID, "bob@example.com", "owner")
	assertKind(t, err, apperrors.KindValidation)

	m, err := f.svc.AddMember(ctx, alice, proj.ID, "bob@example.com", "")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleMember, m.Role)

	_, err = f.svc.AddMember(ctx, alice, proj.ID, "bob@example.com", rbac.RoleMember)
	assertKind(t, err, apperrors.KindConflict)

	_, err = f.svc.AddMember(ctx, bob, proj.ID, "alice@example.com", rbac.RoleMember)
	assertKind(t, err, apperrors.KindForbidden)

	notes, _, err := f.store.ListNotifications(ctx, bob.ID, true, storage.Page{})
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, storage.NotificationProjectInvite, notes[0].Type)
}

func TestAdminFloor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", rbac.GlobalMember)
	f.user(t, "bob", rbac.GlobalMember)

	proj, err := f.svc.Create(ctx, alice, Input{Name: "Apollo"})
	require.NoError(t, err)
	bob, err := f.svc.AddMember(ctx, alice, proj.ID, "bob@example.com", rbac.RoleMember)
	require.NoError(t, err)

	_, err = f.svc.UpdateMemberRole(ctx, alice, proj.ID, alice.ID, rbac.RoleMember)
	assertKind(t, err, apperrors.KindConflict)
	assertKind(t, f.svc.RemoveMember(ctx, alice, proj.ID, alice.ID), apperrors.KindConflict)

	_, err = f.svc.SetMemberRoles(ctx, alice, proj.ID, map[string]rbac.ProjectRole{alice.ID: rbac.RoleMember})
	assertKind(t, err, apperrors.KindConflict)

	members, err := f.svc.SetMemberRoles(ctx, alice, proj.ID, map[string]rbac.ProjectRole{
		alice.ID:   rbac.RoleMember,
		bob.UserID: rbac.RoleProjectAdmin,
	})
	require.NoError(t, err)
	roles := map[string]rbac.ProjectRole{}
	for _, m := range members {
		roles[m.UserID] = m.Role
	}
	assert.Equal(t, rbac.RoleMember, roles[alice.ID])
	assert.Equal(t, rbac.RoleProjectAdmin, roles[bob.UserID])

	// alice is no longer an admin
	assertKind(t, f.svc.RemoveMember(ctx, alice, proj.ID, bob.UserID), apperrors.KindForbidden)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", rbac.GlobalMember)

	proj, err := f.svc.Create(ctx, alice, Input{Name: "Apollo"})
	require.NoError(t, err)
	for _, st := range []storage.TaskStatus{storage.TaskTodo, storage.TaskTodo, storage.TaskDone} {
		require.NoError(t, f.store.CreateTask(ctx, &storage.Task{ProjectID: proj.ID, Title: "t", Status: st, CreatedBy: alice.ID}))
	}

	report, err := f.svc.Status(ctx, alice, proj.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, report.TotalTasks)
	assert.Equal(t, 2, report.TaskCounts[storage.TaskTodo])
	assert.Equal(t, 0, report.TaskCounts[storage.TaskInProgress])
	assert.Equal(t, 1, report.MemberCount)
}

func TestCreateRejectsDueBeforeStart(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice", rbac.GlobalMember)
	start := mustDate(t, "2025-05-02")
	due := mustDate(t, "2025-05-01")

	_, err := f.svc.Create(context.Background(), alice, Input{Name: "Apollo", StartDate: &start, DueDate: &due})
	assertKind(t, err, apperrors.KindValidation)
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return d
}
