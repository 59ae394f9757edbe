package audit

import (
	"context"
	"sync"

	"github.com/platinummonkey/taskboard/pkg/observability"
)

// Logger records audit events
type Logger interface {
	Log(ctx context.Context, event *Event) error
	Close() error
}

// NopLogger discards events
type NopLogger struct{}

func (NopLogger) Log(context.Context, *Event) error { return nil }
func (NopLogger) Close() error                      { return nil }

// LogLogger writes events into the application log
type LogLogger struct {
	logger *observability.Logger
}

// NewLogLogger creates a logger writing through l
func NewLogLogger(l *observability.Logger) *LogLogger {
	if l == nil {
		l = observability.NewNopLogger()
	}
	return &LogLogger{logger: l}
}

func (l *LogLogger) Log(_ context.Context, e *Event) error {
	entry := l.logger.WithFields(map[string]interface{}{
		"audit":      true,
		"event_type": string(e.Type),
		"status":     string(e.Status),
		"user_id":    e.UserID,
		"ip_address": e.IPAddress,
	})
	if e.RequestID != "" {
		entry = entry.WithField("request_id", e.RequestID)
	}
	if e.Email != "" {
		entry = entry.WithField("email", e.Email)
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Type)
	}
	if e.Status == StatusFailure {
		entry.Warn(msg)
	} else {
		entry.Info(msg)
	}
	return nil
}

func (l *LogLogger) Close() error { return nil }

// Recorder keeps events in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Log(_ context.Context, e *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *e)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in order
func (r *Recorder) Types() []EventType {
	events := r.Events()
	out := make([]EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}
