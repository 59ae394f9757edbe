package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestShutdownManagerRunsHooksInOrder(t *testing.T) {
	sm := NewShutdownManager(nil, time.Second)

	var mu sync.Mutex
	var order []string
	record := func(name string) ShutdownFunc {
		return func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}
	sm.Register("http", record("http"))
	sm.Register("cron", record("cron"))
	sm.Register("nil", nil)
	sm.Register("database", record("database"))

	if err := sm.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	want := []string{"http", "cron", "database"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order = %v, want %v", order, want)
		}
	}

	if err := sm.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
	if len(order) != 3 {
		t.Error("hooks ran twice")
	}
}

func TestShutdownManagerCollectsErrors(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), time.Second)
	boom := errors.New("boom")
	ran := false

	sm.Register("redis", func(ctx context.Context) error { return boom })
	sm.Register("database", func(ctx context.Context) error { ran = true; return nil })

	err := sm.Shutdown(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if !ran {
		t.Error("later hook did not run after a failure")
	}
}

func TestShutdownManagerTimeout(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), 50*time.Millisecond)
	skipped := true

	sm.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	sm.Register("after", func(ctx context.Context) error { skipped = false; return nil })

	err := sm.Shutdown(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if !skipped {
		t.Error("hook after the deadline should be skipped")
	}
}

func TestShutdownManagerWaitWithHTTPServer(t *testing.T) {
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Start()
	defer srv.Close()

	sm := NewShutdownManager(NewNopLogger(), time.Second)
	sm.Register("http", srv.Config.Shutdown)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sm.Wait(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Wait: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return")
	}

	if _, err := http.Get(srv.URL); err == nil {
		t.Error("server still accepting after shutdown")
	}
}
