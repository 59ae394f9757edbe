//go:build integration

package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/taskboard/pkg/observability"
	"github.com/platinummonkey/taskboard/pkg/rbac"
	"github.com/platinummonkey/taskboard/pkg/storage"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("taskboard_test"),
		tcpostgres.WithUsername("taskboard"),
		tcpostgres.WithPassword("taskboard_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	cm, err := NewConnectionManager(DefaultConnectionConfig(connStr), observability.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { cm.Close() })

	s := NewStore(cm)
	require.NoError(t, s.Migrate(ctx))
	return s
}

func mustUser(t *testing.T, s *Store, name string) *storage.User {
	t.Helper()
	u := &storage.User{Username: name, Email: name + "@example.com", PasswordHash: "hash",
		Avatar: storage.Avatar{URL: storage.DefaultAvatarURL}}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func TestIntegrationStore(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")

	t.Run("duplicate email is case insensitive", func(t *testing.T) {
		err := s.CreateUser(ctx, &storage.User{Username: "alice2", Email: "ALICE@example.com", PasswordHash: "h"})
		assert.ErrorIs(t, err, storage.ErrDuplicateEmail)
	})

	t.Run("refresh rotation has one winner", func(t *testing.T) {
		require.NoError(t, s.SetRefreshToken(ctx, alice.ID, "r0"))

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := s.SwapRefreshToken(ctx, alice.ID, "r0", "next")
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("verification token is single use", func(t *testing.T) {
		now := time.Now()
		require.NoError(t, s.SetVerificationToken(ctx, bob.ID, storage.PendingToken{Digest: "vd", ExpiresAt: now.Add(time.Minute)}))

		found, err := s.GetUserByVerificationDigest(ctx, "vd")
		require.NoError(t, err)
		assert.Equal(t, bob.ID, found.ID)

		ok, err := s.ConsumeVerificationToken(ctx, bob.ID, "vd", now)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.ConsumeVerificationToken(ctx, bob.ID, "vd", now)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("project lifecycle and admin floor", func(t *testing.T) {
		p := &storage.Project{Name: "Apollo", Status: storage.ProjectActive, Priority: storage.PriorityHigh,
			Visibility: storage.ProjectPrivate, Tags: []string{"space"}, CreatedBy: alice.ID}
		require.NoError(t, s.CreateProject(ctx, p))

		err := s.CreateProject(ctx, &storage.Project{Name: "apollo", Status: storage.ProjectActive,
			Priority: storage.PriorityLow, Visibility: storage.ProjectPrivate, CreatedBy: alice.ID})
		assert.ErrorIs(t, err, storage.ErrDuplicateProject)

		require.NoError(t, s.AddMember(ctx, &storage.Membership{ProjectID: p.ID, UserID: bob.ID, Role: rbac.RoleMember}))
		assert.ErrorIs(t, s.AddMember(ctx, &storage.Membership{ProjectID: p.ID, UserID: bob.ID, Role: rbac.RoleMember}),
			storage.ErrDuplicateMember)

		assert.ErrorIs(t, s.UpdateMemberRole(ctx, p.ID, alice.ID, rbac.RoleMember), storage.ErrLastProjectAdmin)

		task := &storage.Task{ProjectID: p.ID, Title: "Launch", Status: storage.TaskTodo, Priority: storage.PriorityHigh,
			AssignedTo: []string{bob.ID}, CreatedBy: alice.ID}
		require.NoError(t, s.CreateTask(ctx, task))

		tasks, total, err := s.ListTasks(ctx, storage.TaskFilter{ProjectID: p.ID, AssignedTo: bob.ID, Page: storage.Page{Limit: 10}})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Equal(t, "Launch", tasks[0].Title)

		require.NoError(t, s.RemoveMember(ctx, p.ID, bob.ID))
		got, err := s.GetTask(ctx, p.ID, task.ID)
		require.NoError(t, err)
		assert.Empty(t, got.AssignedTo)

		summaries, err := s.ListProjects(ctx, alice.ID, false)
		require.NoError(t, err)
		require.Len(t, summaries, 1)
		assert.Equal(t, []string{"space"}, summaries[0].Tags)
		assert.Equal(t, rbac.RoleProjectAdmin, summaries[0].Role)

		require.NoError(t, s.DeleteProject(ctx, p.ID))
		_, err = s.GetTask(ctx, p.ID, task.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("notes respect private visibility", func(t *testing.T) {
		p := &storage.Project{Name: "Notes", Status: storage.ProjectActive, Priority: storage.PriorityLow,
			Visibility: storage.ProjectTeam, CreatedBy: bob.ID}
		require.NoError(t, s.CreateProject(ctx, p))
		require.NoError(t, s.CreateNote(ctx, &storage.Note{ProjectID: p.ID, Content: "shared", Visibility: storage.NotePublic, CreatedBy: bob.ID}))
		require.NoError(t, s.CreateNote(ctx, &storage.Note{ProjectID: p.ID, Content: "secret", Visibility: storage.NotePrivate, CreatedBy: bob.ID}))

		_, total, err := s.ListNotes(ctx, storage.NoteFilter{ProjectID: p.ID, ViewerID: alice.ID})
		require.NoError(t, err)
		assert.Equal(t, 1, total)

		stats, err := s.NoteStats(ctx, storage.NoteFilter{ProjectID: p.ID, ViewerID: bob.ID})
		require.NoError(t, err)
		assert.Equal(t, storage.NoteStats{Total: 2, Public: 1, Private: 1, ProjectLevel: 2}, stats)
	})

	t.Run("delete user cascade", func(t *testing.T) {
		require.NoError(t, s.DeleteUserCascade(ctx, bob.ID))
		_, err := s.GetUserByID(ctx, bob.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}
