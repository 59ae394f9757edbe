package observability

import (
	"fmt"
	"runtime/debug"
)

// LogPanic logs a recovered value with the current stack
func LogPanic(logger *Logger, where string, rec interface{}) {
	logger.WithFields(map[string]interface{}{
		"panic":   fmt.Sprint(rec),
		"stack":   string(debug.Stack()),
		"context": where,
	}).Error("PANIC recovered")
}

// RecoverPanic must be deferred directly. It swallows a panic after logging
// it, for goroutines such as cron jobs that must not take the process down.
func RecoverPanic(logger *Logger, where string) {
	if rec := recover(); rec != nil {
		LogPanic(logger, where, rec)
	}
}
