package shutdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) step(name string) func(context.Context) error {
	return func(context.Context) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.order = append(r.order, name)
		return nil
	}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func waitDone(t *testing.T, c *Coordinator) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not finish")
	}
}

func TestIntakeRunsInOrderBeforeCleanup(t *testing.T) {
	c := New(2 * time.Second)
	rec := &recorder{}
	c.RegisterIntake("gate", rec.step("gate"))
	c.RegisterIntake("drain", rec.step("drain"))
	c.RegisterCleanup("store", false, rec.step("store"))

	c.Trigger("test")
	waitDone(t, c)

	got := rec.snapshot()
	if len(got) != 3 || got[0] != "gate" || got[1] != "drain" || got[2] != "store" {
		t.Errorf("execution order = %v, want [gate drain store]", got)
	}
	if code := c.ExitCode(); code != 0 {
		t.Errorf("ExitCode() = %d, want 0", code)
	}
}

func TestTriggerOnlyRunsOnce(t *testing.T) {
	c := New(2 * time.Second)
	var mu sync.Mutex
	runs := 0
	c.RegisterCleanup("count", false, func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		runs++
		return nil
	})

	c.Trigger("first")
	c.Trigger("second")
	waitDone(t, c)

	mu.Lock()
	defer mu.Unlock()
	if runs != 1 {
		t.Errorf("cleanup ran %d times, want 1", runs)
	}
}

func TestExitCodeReflectsFatalFailures(t *testing.T) {
	boom := errors.New("close failed")
	tests := []struct {
		name  string
		fatal bool
		want  int
	}{
		{"fatal failure", true, 1},
		{"non-fatal failure", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(2 * time.Second)
			c.RegisterCleanup("store", tt.fatal, func(context.Context) error { return boom })
			c.RegisterCleanup("stream", false, func(context.Context) error { return nil })

			c.Trigger("test")
			waitDone(t, c)

			if code := c.ExitCode(); code != tt.want {
				t.Errorf("ExitCode() = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestHungCleanupBoundedByGrace(t *testing.T) {
	c := New(300 * time.Millisecond)
	c.RegisterCleanup("hung", true, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	c.Trigger("test")
	waitDone(t, c)

	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("shutdown took %s, want bounded by grace", elapsed)
	}
	if code := c.ExitCode(); code != 1 {
		t.Errorf("ExitCode() = %d, want 1 after timeout", code)
	}
}

func TestIntakeErrorDoesNotStopSequence(t *testing.T) {
	c := New(2 * time.Second)
	rec := &recorder{}
	c.RegisterIntake("gate", func(context.Context) error { return errors.New("already closed") })
	c.RegisterIntake("drain", rec.step("drain"))
	c.RegisterCleanup("store", false, rec.step("store"))

	c.Trigger("test")
	waitDone(t, c)

	got := rec.snapshot()
	if len(got) != 2 {
		t.Errorf("later steps = %v, want both to run", got)
	}
	if code := c.ExitCode(); code != 0 {
		t.Errorf("ExitCode() = %d, want 0 for non-fatal intake error", code)
	}
}
