package observability

import (
	"context"
	"errors"
	"testing"
)

func TestShutdownRunsHooksLIFO(t *testing.T) {
	var c ShutdownCoordinator
	var order []string
	for _, name := range []string{"store", "metrics", "tracer"} {
		name := name
		c.Register(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	want := []string{"tracer", "metrics", "store"}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("shutdown order = %v, want %v", order, want)
		}
	}
}

func TestShutdownCollectsErrors(t *testing.T) {
	var c ShutdownCoordinator
	errA := errors.New("flush failed")
	errB := errors.New("close failed")
	ran := false

	c.Register("first", func(context.Context) error {
		ran = true
		return errA
	})
	c.Register("second", func(context.Context) error { return errB })

	err := c.Shutdown(context.Background())
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("Shutdown error %v missing a hook failure", err)
	}
	// A failing hook must not stop the rest.
	if !ran {
		t.Error("earlier hook skipped after a failure")
	}
}

func TestShutdownRunsOnce(t *testing.T) {
	var c ShutdownCoordinator
	calls := 0
	c.Register("once", func(context.Context) error {
		calls++
		return nil
	})

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := c.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown returned %v", err)
	}
	if calls != 1 {
		t.Errorf("hook ran %d times, want 1", calls)
	}

	// Late registration after shutdown never runs.
	c.Register("late", func(context.Context) error {
		t.Error("late hook executed")
		return nil
	})
	_ = c.Shutdown(context.Background())
}
