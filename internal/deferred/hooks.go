// Package deferred runs work strictly after the triggering response has been written.
//
// Each request carries a Hooks list in its context. Handlers register tasks with Defer;
// Executor.Middleware flushes the response once the handler returns and hands the batch to
// a bounded worker pool. Tasks run once, in registration order.
//
// Submission happens when Middleware returns. Mount it outermost so that every other
// middleware has finished by then. net/http still writes the terminating chunk of a chunked
// response and finishes the connection after that point, so a task may start its outbound
// I/O a moment before the last bytes leave the server. Everything the handler wrote has
// already been flushed.
package deferred

import (
	"context"
	"sync"
)

// Task is a single post-response unit of work. It receives a context detached from the
// request so that request cancellation does not abort it.
type Task func(ctx context.Context)

// Hooks collects the tasks registered while serving one request.
type Hooks struct {
	mu     sync.Mutex
	tasks  []Task
	sealed bool
}

// Defer appends task. It reports false once the batch has been handed to the executor.
func (h *Hooks) Defer(task Task) bool {
	if task == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sealed {
		return false
	}
	h.tasks = append(h.tasks, task)
	return true
}

// Len reports the number of registered tasks.
func (h *Hooks) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.tasks)
}

// seal closes the list and returns its tasks; later calls return nil.
func (h *Hooks) seal() []Task {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sealed {
		return nil
	}
	h.sealed = true
	tasks := h.tasks
	h.tasks = nil
	return tasks
}

type hooksKey struct{}

// WithHooks returns a context carrying h.
func WithHooks(ctx context.Context, h *Hooks) context.Context {
	return context.WithValue(ctx, hooksKey{}, h)
}

// FromContext returns the request's hook list, or nil outside an executor-wrapped request.
func FromContext(ctx context.Context) *Hooks {
	h, _ := ctx.Value(hooksKey{}).(*Hooks)
	return h
}

// Defer registers task on the hook list carried by ctx. It reports false when ctx has no
// hook list or the list is already sealed.
func Defer(ctx context.Context, task Task) bool {
	h := FromContext(ctx)
	if h == nil {
		return false
	}
	return h.Defer(task)
}
