package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), Config{URL: "redis://" + mr.Addr(), PoolSize: 5})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestNewInvalidURL(t *testing.T) {
	_, err := New(context.Background(), Config{URL: "not-a-url"})
	assert.ErrorContains(t, err, "invalid redis URL")
}

func TestNewUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := New(context.Background(), Config{URL: "redis://" + addr})
	assert.ErrorContains(t, err, "failed to connect to redis")
}

func TestJSONRoundTrip(t *testing.T) {
	c, mr := setupClient(t)
	ctx := context.Background()

	type entry struct {
		Role string `json:"role"`
	}

	var got entry
	found, err := c.GetJSON(ctx, "member:p1:u1", &got)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.SetJSON(ctx, "member:p1:u1", entry{Role: "project_admin"}, time.Minute))
	found, err = c.GetJSON(ctx, "member:p1:u1", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "project_admin", got.Role)
	assert.Equal(t, time.Minute, mr.TTL("member:p1:u1"))
}

func TestGetJSONCorruptValueIsMiss(t *testing.T) {
	c, mr := setupClient(t)
	require.NoError(t, mr.Set("k", "{not json"))

	var dest map[string]any
	found, err := c.GetJSON(context.Background(), "k", &dest)
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, mr.Exists("k"))
}

func TestInvalidatePatterns(t *testing.T) {
	c, mr := setupClient(t)
	require.NoError(t, mr.Set("member:p1:u1", "1"))
	require.NoError(t, mr.Set("member:p1:u2", "1"))
	require.NoError(t, mr.Set("member:p2:u1", "1"))

	require.NoError(t, c.InvalidatePatterns(context.Background(), "member:p1:*"))
	assert.False(t, mr.Exists("member:p1:u1"))
	assert.False(t, mr.Exists("member:p1:u2"))
	assert.True(t, mr.Exists("member:p2:u1"))
}

func TestIncrWindow(t *testing.T) {
	c, mr := setupClient(t)
	ctx := context.Background()

	n, left, err := c.IncrWindow(ctx, "rl:auth:1.2.3.4", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 15*time.Minute, left)

	mr.FastForward(5 * time.Minute)
	n, left, err = c.IncrWindow(ctx, "rl:auth:1.2.3.4", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 10*time.Minute, left, "the window does not slide")

	mr.FastForward(11 * time.Minute)
	n, _, err = c.IncrWindow(ctx, "rl:auth:1.2.3.4", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "a new window starts after expiry")
}

func TestDeleteNoKeys(t *testing.T) {
	c, _ := setupClient(t)
	assert.NoError(t, c.Delete(context.Background()))
}
