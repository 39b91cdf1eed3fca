// Package safego provides panic-recovering goroutine launchers for best-effort background work.
package safego

import (
	"context"
	"log/slog"
	"time"
)

// Go launches fn in a new goroutine. If fn panics, the panic is recovered and
// logged rather than crashing the process.
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine", "panic", r)
			}
		}()
		fn()
	}()
}

// GoWithTimeout launches fn in a new goroutine with its own context bounded by timeout.
// The context is detached from any request, so a client disconnect does not cancel the
// work. A returned error is logged at warn level under name and never propagated.
func GoWithTimeout(name string, timeout time.Duration, fn func(ctx context.Context) error) {
	Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			slog.Warn("background task failed", "task", name, "error", err)
		}
	})
}
