package dispatcher

import (
	"context"
	"sync"

	"github.com/YoshitsuguKoike/deeplay/internal/application/port/output"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/playbook"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/run"
)

// Handler produces the outcome of one dispatch
type Handler func(ctx context.Context, req output.DispatchRequest) (output.DispatchResult, error)

// Succeed returns a handler reporting success with no impact
func Succeed() Handler {
	return func(context.Context, output.DispatchRequest) (output.DispatchResult, error) {
		return output.DispatchResult{Success: true}, nil
	}
}

// Report returns a handler reporting success with the given impact
func Report(impact run.Impact) Handler {
	return func(context.Context, output.DispatchRequest) (output.DispatchResult, error) {
		return output.DispatchResult{Success: true, Impact: impact.Clone()}, nil
	}
}

// Fail returns a handler reporting an unsuccessful action
func Fail(message string) Handler {
	return func(context.Context, output.DispatchRequest) (output.DispatchResult, error) {
		return output.DispatchResult{Success: false, Error: message}, nil
	}
}

// Blocking returns a handler that announces each request on started and
// holds it until release is closed, then delegates to next
func Blocking(started chan<- output.DispatchRequest, release <-chan struct{}, next Handler) Handler {
	return func(ctx context.Context, req output.DispatchRequest) (output.DispatchResult, error) {
		started <- req
		<-release
		return next(ctx, req)
	}
}

// MemoryDispatcher is a scriptable in-process dispatcher.
// It records every request and flags overlapping dispatches of the same run.
type MemoryDispatcher struct {
	mu         sync.Mutex
	handlers   map[playbook.ActionType]Handler
	fallback   Handler
	calls      []output.DispatchRequest
	violations int

	inflight *InflightTracker
}

// NewMemoryDispatcher creates a dispatcher where every action succeeds
func NewMemoryDispatcher() *MemoryDispatcher {
	return &MemoryDispatcher{
		handlers: make(map[playbook.ActionType]Handler),
		fallback: Succeed(),
		inflight: NewInflightTracker(),
	}
}

// On scripts the outcome of an action type
func (d *MemoryDispatcher) On(action playbook.ActionType, h Handler) *MemoryDispatcher {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[action] = h
	return d
}

// Default scripts the outcome of every action without its own handler
func (d *MemoryDispatcher) Default(h Handler) *MemoryDispatcher {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fallback = h
	return d
}

// Dispatch implements output.ActionDispatcher
func (d *MemoryDispatcher) Dispatch(ctx context.Context, req output.DispatchRequest) (output.DispatchResult, error) {
	key := req.RunID.String()
	ok := d.inflight.TryAcquire(key)
	defer d.inflight.Release(key)

	d.mu.Lock()
	d.calls = append(d.calls, req)
	if !ok {
		d.violations++
	}
	h, found := d.handlers[req.ActionType]
	if !found {
		h = d.fallback
	}
	d.mu.Unlock()

	return h(ctx, req)
}

// Calls returns the requests received so far, in arrival order
func (d *MemoryDispatcher) Calls() []output.DispatchRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]output.DispatchRequest(nil), d.calls...)
}

// CallCount returns how many dispatches were received
func (d *MemoryDispatcher) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

// Violations returns how often a run had two dispatches in flight
func (d *MemoryDispatcher) Violations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.violations
}

// Inflight exposes the per-run concurrency tracker
func (d *MemoryDispatcher) Inflight() *InflightTracker {
	return d.inflight
}
