package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ShutdownCoordinator tears down long-lived components in reverse order of
// registration, so dependents stop before what they depend on (the store
// stops before its metrics listener, the tracer flushes last).
type ShutdownCoordinator struct {
	mu    sync.Mutex
	hooks []shutdownHook
	done  bool
}

type shutdownHook struct {
	name string
	stop func(context.Context) error
}

// Register adds a teardown hook. Registration after Shutdown is a no-op.
func (c *ShutdownCoordinator) Register(name string, stop func(context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return
	}
	c.hooks = append(c.hooks, shutdownHook{name: name, stop: stop})
}

// Shutdown runs every hook LIFO, continuing past failures, and returns the
// joined errors. A second call returns nil without rerunning anything.
func (c *ShutdownCoordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return nil
	}
	c.done = true
	hooks := c.hooks
	c.hooks = nil
	c.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		start := time.Now()
		err := h.stop(ctx)
		elapsed := time.Since(start)
		if err != nil {
			slog.Error("component shutdown failed", "component", h.name, "elapsed", elapsed, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			continue
		}
		slog.Debug("component stopped", "component", h.name, "elapsed", elapsed)
	}
	return errors.Join(errs...)
}
