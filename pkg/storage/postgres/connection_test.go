package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/taskboard/pkg/observability"
)

func pingMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func newTestManager(primary *sql.DB, replicas ...*sql.DB) *ConnectionManager {
	if replicas == nil {
		replicas = []*sql.DB{}
	}
	return &ConnectionManager{
		primary:  primary,
		replicas: replicas,
		logger:   observability.NewNopLogger(),
	}
}

func TestParseReplicaURLs(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty", "", nil},
		{"single", "postgres://a/db", []string{"postgres://a/db"}},
		{"whitespace and blanks", " postgres://a/db , ,postgres://b/db,", []string{"postgres://a/db", "postgres://b/db"}},
		{"only separators", " , , ", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseReplicaURLs(tt.input))
		})
	}
}

func TestDefaultConnectionConfig(t *testing.T) {
	cfg := DefaultConnectionConfig("postgres://localhost/taskboard")
	assert.Equal(t, "postgres://localhost/taskboard", cfg.PrimaryURL)
	assert.LessOrEqual(t, cfg.MinConns, cfg.MaxConns)
	assert.Equal(t, 12, cfg.replicaMaxConns())

	assert.Equal(t, 2, ConnectionConfig{MaxConns: 1}.replicaMaxConns())
}

func TestNewConnectionManagerUnreachablePrimary(t *testing.T) {
	cfg := DefaultConnectionConfig("postgres://nonexistent:9999/taskboard?connect_timeout=1")
	cfg.Timeout = 2 * time.Second

	cm, err := NewConnectionManager(cfg, nil)
	assert.Error(t, err)
	assert.Nil(t, cm)
	assert.Contains(t, err.Error(), "failed to ping primary")
}

func TestReplicaSelection(t *testing.T) {
	primary := &sql.DB{}

	t.Run("falls back to primary", func(t *testing.T) {
		cm := newTestManager(primary)
		assert.Same(t, primary, cm.Replica())
	})

	t.Run("round robin", func(t *testing.T) {
		r1, r2, r3 := &sql.DB{}, &sql.DB{}, &sql.DB{}
		cm := newTestManager(primary, r1, r2, r3)

		counts := make(map[*sql.DB]int)
		for i := 0; i < 30; i++ {
			counts[cm.Replica()]++
		}
		assert.Equal(t, 10, counts[r1])
		assert.Equal(t, 10, counts[r2])
		assert.Equal(t, 10, counts[r3])
	})

	t.Run("AllReplicas returns a copy", func(t *testing.T) {
		r1 := &sql.DB{}
		cm := newTestManager(primary, r1)
		got := cm.AllReplicas()
		got[0] = &sql.DB{}
		assert.Same(t, r1, cm.AllReplicas()[0])
	})
}

func TestHealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		primary, pm := pingMock(t)
		replica, rm := pingMock(t)
		pm.ExpectPing()
		rm.ExpectPing()

		assert.NoError(t, newTestManager(primary, replica).HealthCheck(context.Background()))
		assert.NoError(t, pm.ExpectationsWereMet())
		assert.NoError(t, rm.ExpectationsWereMet())
	})

	t.Run("primary down", func(t *testing.T) {
		primary, pm := pingMock(t)
		pm.ExpectPing().WillReturnError(errors.New("connection refused"))

		err := newTestManager(primary).HealthCheck(context.Background())
		assert.ErrorContains(t, err, "primary unhealthy")
	})

	t.Run("every replica down", func(t *testing.T) {
		primary, pm := pingMock(t)
		replica, rm := pingMock(t)
		pm.ExpectPing()
		rm.ExpectPing().WillReturnError(errors.New("connection refused"))

		err := newTestManager(primary, replica).HealthCheck(context.Background())
		assert.ErrorContains(t, err, "all replicas unhealthy: replica-0")
	})
}

func TestRemoveUnhealthyReplicas(t *testing.T) {
	healthy, hm := pingMock(t)
	broken, bm := pingMock(t)
	hm.ExpectPing()
	bm.ExpectPing().WillReturnError(errors.New("connection refused"))
	bm.ExpectClose()

	cm := newTestManager(&sql.DB{}, healthy, broken)
	assert.Equal(t, 1, cm.RemoveUnhealthyReplicas(context.Background()))
	assert.Equal(t, []*sql.DB{healthy}, cm.AllReplicas())
}

func TestStartHealthCheckRoutineDropsReplica(t *testing.T) {
	replica, rm := pingMock(t)
	rm.ExpectPing().WillReturnError(errors.New("connection lost"))
	rm.ExpectClose()

	cm := newTestManager(&sql.DB{}, replica)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cm.StartHealthCheckRoutine(ctx, 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		return len(cm.AllReplicas()) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestClose(t *testing.T) {
	primary, pm := pingMock(t)
	replica, rm := pingMock(t)
	pm.ExpectClose()
	rm.ExpectClose()

	cm := newTestManager(primary, replica)
	require.NoError(t, cm.Close())
	assert.Empty(t, cm.AllReplicas())
	assert.NoError(t, pm.ExpectationsWereMet())
	assert.NoError(t, rm.ExpectationsWereMet())
}
