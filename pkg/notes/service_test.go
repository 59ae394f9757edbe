package notes

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/taskboard/pkg/apperrors"
	"github.com/platinummonkey/taskboard/pkg/notifications"
	"github.com/platinummonkey/taskboard/pkg/rbac"
	"github.com/platinummonkey/taskboard/pkg/storage"
	"github.com/platinummonkey/taskboard/pkg/storage/memory"
)

type fixture struct {
	store    *memory.Store
	svc      *Service
	project  string
	task     *storage.Task
	admin    rbac.Principal
	assignee rbac.Principal
	member   rbac.Principal
	root     rbac.Principal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	f := &fixture{store: store}
	f.svc = NewService(store, rbac.NewAuthorizer(store), notifications.NewService(store, nil))

	f.admin = f.user(t, "alice", rbac.GlobalMember)
	f.assignee = f.user(t, "bob", rbac.GlobalMember)
	f.member = f.user(t, "carol", rbac.GlobalMember)
	f.root = f.user(t, "root", rbac.GlobalAdmin)

	p := &storage.Project{Name: "Apollo", CreatedBy: f.admin.ID}
	require.NoError(t, store.CreateProject(ctx, p))
	for _, id := range []string{f.assignee.ID, f.member.ID} {
		require.NoError(t, store.AddMember(ctx, &storage.Membership{ProjectID: p.ID, UserID: id, Role: rbac.RoleMember}))
	}
	f.project = p.ID

	f.task = &storage.Task{ProjectID: p.ID, Title: "Ship", Status: storage.TaskTodo, AssignedTo: []string{f.assignee.ID}, CreatedBy: f.admin.ID}
	require.NoError(t, store.CreateTask(ctx, f.task))
	return f
}

func (f *fixture) user(t *testing.T, name string, role rbac.GlobalRole) rbac.Principal {
	t.Helper()
	u := &storage.User{Username: name, Email: name + "@example.com", PasswordHash: "x", Role: role}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	return u.Principal()
}

func TestCreateRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.member, f.project, Input{Content: "project note"})
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))

	_, err = f.svc.Create(ctx, f.member, f.project, Input{Content: "task note", TaskID: f.task.ID})
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))

	n, err := f.svc.Create(ctx, f.assignee, f.project, Input{Content: "task note", TaskID: f.task.ID})
	require.NoError(t, err)
	assert.Equal(t, storage.NotePrivate, n.Visibility)

	_, err = f.svc.Create(ctx, f.admin, f.project, Input{Content: "project note", Visibility: storage.NotePublic})
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, f.admin, f.project, Input{Content: "   "})
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	_, err = f.svc.Create(ctx, f.admin, f.project, Input{Content: strings.Repeat("x", MaxContentLength+1)})
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	_, err = f.svc.Create(ctx, f.admin, f.project, Input{Content: "x", TaskID: "missing"})
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestPublicTaskNoteNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.assignee, f.project, Input{Content: "done soon", TaskID: f.task.ID, Visibility: storage.NotePublic})
	require.NoError(t, err)

	got, _, err := f.store.ListNotifications(ctx, f.admin.ID, true, storage.Page{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, storage.NotificationCommentAdded, got[0].Type)

	mine, _, err := f.store.ListNotifications(ctx, f.assignee.ID, true, storage.Page{})
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestPrivateNotesNarrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	private, err := f.svc.Create(ctx, f.assignee, f.project, Input{Content: "secret", TaskID: f.task.ID})
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, f.admin, f.project, Input{Content: "hello", Visibility: storage.NotePublic})
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, f.admin, f.project, Input{Content: "admin only"})
	require.NoError(t, err)

	tests := []struct {
		name      string
		principal rbac.Principal
		total     int
		private   int
	}{
		{"member sees public only", f.member, 1, 0},
		{"creator sees own private", f.assignee, 2, 1},
		{"project admin sees all", f.admin, 3, 2},
		{"global admin sees all", f.root, 3, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, total, err := f.svc.List(ctx, tt.principal, storage.NoteFilter{ProjectID: f.project})
			require.NoError(t, err)
			assert.Equal(t, tt.total, total)

			stats, err := f.svc.Analytics(ctx, tt.principal, f.project)
			require.NoError(t, err)
			assert.Equal(t, tt.total, stats.Total)
			assert.Equal(t, tt.private, stats.Private)
		})
	}

	_, err = f.svc.Get(ctx, f.member, f.project, private.ID)
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))
	_, err = f.svc.Get(ctx, f.admin, f.project, private.ID)
	assert.NoError(t, err)
}

func TestUpdateAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n, err := f.svc.Create(ctx, f.assignee, f.project, Input{Content: "draft", TaskID: f.task.ID, Visibility: storage.NotePublic})
	require.NoError(t, err)

	content := "edited"
	_, err = f.svc.Update(ctx, f.member, f.project, n.ID, Patch{Content: &content})
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))

	updated, err := f.svc.Update(ctx, f.assignee, f.project, n.ID, Patch{Content: &content})
	require.NoError(t, err)
	assert.Equal(t, "edited", updated.Content)
	assert.Equal(t, f.task.ID, updated.TaskID)

	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(f.svc.Delete(ctx, f.member, f.project, n.ID)))
	require.NoError(t, f.svc.Delete(ctx, f.admin, f.project, n.ID))
	_, err = f.svc.Get(ctx, f.admin, f.project, n.ID)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}
