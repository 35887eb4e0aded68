// Package shutdown drains and releases the process's resources exactly
// once, whether the trigger is a signal or an operator request.
package shutdown

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultGrace bounds the whole shutdown sequence.
	DefaultGrace = 10 * time.Second

	// taskTimeout bounds each cleanup task so one hung close cannot
	// eat the entire grace period.
	taskTimeout = 5 * time.Second
)

type task struct {
	name  string
	fatal bool
	run   func(context.Context) error
}

type result struct {
	name  string
	fatal bool
	err   error
}

// Coordinator runs registered shutdown work in two phases: intake
// steps sequentially in registration order (stop accepting work,
// drain what is in flight), then cleanup tasks concurrently (cancel
// resting orders, close connections, close the store). The whole
// sequence shares one grace deadline; each cleanup task additionally
// gets its own timeout.
type Coordinator struct {
	grace time.Duration

	mu      sync.Mutex
	intake  []task
	cleanup []task

	once   sync.Once
	done   chan struct{}
	failed atomic.Bool
}

func New(grace time.Duration) *Coordinator {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Coordinator{grace: grace, done: make(chan struct{})}
}

// RegisterIntake adds a sequential first-phase step. Registration
// order is execution order.
func (c *Coordinator) RegisterIntake(name string, run func(context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.intake = append(c.intake, task{name: name, run: run})
}

// RegisterCleanup adds a concurrent second-phase task. A fatal task
// that fails flips the exit code to 1.
func (c *Coordinator) RegisterCleanup(name string, fatal bool, run func(context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanup = append(c.cleanup, task{name: name, fatal: fatal, run: run})
}

// Trigger starts the shutdown sequence in the background and returns
// immediately, so an HTTP handler can trigger it without deadlocking
// on its own server's drain. Repeat triggers are logged and ignored.
func (c *Coordinator) Trigger(reason string) {
	first := false
	c.once.Do(func() {
		first = true
		go c.run(reason)
	})
	if !first {
		log.Printf("shutdown already in progress; ignoring trigger (%s)", reason)
	}
}

// Done is closed when the sequence has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// ExitCode is 0, or 1 if any task marked fatal failed. Valid once
// Done is closed.
func (c *Coordinator) ExitCode() int {
	if c.failed.Load() {
		return 1
	}
	return 0
}

func (c *Coordinator) run(reason string) {
	defer close(c.done)

	log.Printf("🛑 Shutting down (%s), grace %s", reason, c.grace)
	ctx, cancel := context.WithTimeout(context.Background(), c.grace)
	defer cancel()

	c.mu.Lock()
	intake := append([]task(nil), c.intake...)
	cleanup := append([]task(nil), c.cleanup...)
	c.mu.Unlock()

	for _, t := range intake {
		if err := t.run(ctx); err != nil {
			c.record(result{name: t.name, fatal: t.fatal, err: err})
		}
	}

	results := make(chan result, len(cleanup))
	var wg sync.WaitGroup
	for _, t := range cleanup {
		wg.Add(1)
		go func(t task) {
			defer wg.Done()
			tctx, tcancel := context.WithTimeout(ctx, taskTimeout)
			defer tcancel()
			results <- result{name: t.name, fatal: t.fatal, err: t.run(tctx)}
		}(t)
	}
	wg.Wait()
	close(results)
	for r := range results {
		c.record(r)
	}

	if c.failed.Load() {
		log.Println("⚠️ Shutdown finished with errors")
	} else {
		log.Println("✅ Shutdown complete")
	}
}

func (c *Coordinator) record(r result) {
	if r.err == nil {
		return
	}
	log.Printf("⚠️ shutdown %s: %v", r.name, r.err)
	if r.fatal {
		c.failed.Store(true)
	}
}
