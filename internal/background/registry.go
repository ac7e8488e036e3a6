// Package background tracks fire-and-forget work so failures are observed
// and shutdown can wait for in-flight tasks.
package background

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Task is a handle to one tracked unit of work.
type Task struct {
	ID   int64
	Name string
	done chan struct{}
}

// Done is closed when the task finishes, however it finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Registry runs tasks on their own goroutines and keeps a live set of
// in-flight work. A failing task is logged with its name and never reaches
// the caller.
type Registry struct {
	mu     sync.Mutex
	nextID int64
	live   map[int64]*Task
	wg     sync.WaitGroup
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{live: make(map[int64]*Task)}
}

// Track schedules fn for independent execution. The returned handle can be
// waited on but the caller is never required to.
func (r *Registry) Track(name string, fn func(ctx context.Context) error) *Task {
	r.mu.Lock()
	r.nextID++
	task := &Task{ID: r.nextID, Name: name, done: make(chan struct{})}
	r.live[task.ID] = task
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.live, task.ID)
			r.mu.Unlock()
			close(task.done)
		}()
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("Background task panicked", "task", name, "panic", rec)
			}
		}()

		start := time.Now()
		if err := fn(context.Background()); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			slog.Error("Background task failed", "task", name, "error", err, "elapsed", time.Since(start))
			return
		}
		slog.Debug("Background task finished", "task", name, "elapsed", time.Since(start))
	}()

	return task
}

// Len reports how many tasks are currently in flight.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// Wait blocks until all in-flight tasks finish or ctx expires.
func (r *Registry) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
