package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/taskboard/pkg/observability"
	"github.com/platinummonkey/taskboard/pkg/storage"
	"github.com/platinummonkey/taskboard/pkg/storage/memory"
)

type failingPurger struct{}

func (failingPurger) PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	return 0, errors.New("database unavailable")
}

type panickingPurger struct{}

func (panickingPurger) PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	panic("boom")
}

func TestRunOncePurgesExpiredTokens(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	store := memory.New()

	expired := &storage.User{Username: "expired", Email: "expired@example.com", PasswordHash: "x"}
	fresh := &storage.User{Username: "fresh", Email: "fresh@example.com", PasswordHash: "x"}
	require.NoError(t, store.CreateUser(ctx, expired))
	require.NoError(t, store.CreateUser(ctx, fresh))

	require.NoError(t, store.SetVerificationToken(ctx, expired.ID, storage.PendingToken{Digest: "a", ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, store.SetResetToken(ctx, expired.ID, storage.PendingToken{Digest: "b", ExpiresAt: now.Add(-time.Hour)}))
	require.NoError(t, store.SetVerificationToken(ctx, fresh.ID, storage.PendingToken{Digest: "c", ExpiresAt: now.Add(time.Minute)}))

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	j, err := NewJanitor(store, "", WithClock(func() time.Time { return now }), WithMetrics(metrics))
	require.NoError(t, err)

	n, err := j.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.TokensPurgedTotal))

	u, err := store.GetUserByID(ctx, expired.ID)
	require.NoError(t, err)
	assert.Nil(t, u.Verification)
	assert.Nil(t, u.PasswordReset)

	u, err = store.GetUserByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.NotNil(t, u.Verification)

	n, err = j.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunOnceError(t *testing.T) {
	j, err := NewJanitor(failingPurger{}, DefaultPurgeSchedule)
	require.NoError(t, err)

	_, err = j.RunOnce(context.Background())
	assert.EqualError(t, err, "database unavailable")

	// the scheduled wrapper only logs
	assert.NotPanics(t, j.run)
}

func TestRunRecoversPanic(t *testing.T) {
	j, err := NewJanitor(panickingPurger{}, DefaultPurgeSchedule)
	require.NoError(t, err)
	assert.NotPanics(t, j.run)
}

func TestInvalidSchedule(t *testing.T) {
	_, err := NewJanitor(failingPurger{}, "every tuesday")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid purge schedule")
}

func TestStartStop(t *testing.T) {
	j, err := NewJanitor(memory.New(), "@every 1h")
	require.NoError(t, err)

	j.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, j.Stop(ctx))
}
