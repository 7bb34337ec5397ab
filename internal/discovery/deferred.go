package discovery

import (
	"context"
	"sync"
)

// Deferred is a cooperative cancellation handle for one background workflow.
// Cancel never interrupts a command in flight; the workflow checks IsCanceled
// between steps and drops its result.
type Deferred struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	finished bool
	stops    []func() bool
	done     chan struct{}
}

func NewDeferred() *Deferred {
	ctx, cancel := context.WithCancel(context.Background())
	return &Deferred{ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

// Cancel requests cancellation. It is a no-op once the workflow finished.
func (d *Deferred) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.finished {
		return
	}
	d.finished = true
	d.cancel()
	close(d.done)
}

func (d *Deferred) IsCanceled() bool { return d.ctx.Err() != nil }

// OnCanceled registers fn to run on its own goroutine when Cancel is called.
func (d *Deferred) OnCanceled(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops = append(d.stops, context.AfterFunc(d.ctx, fn))
}

// Done is closed when the workflow completes or is canceled.
func (d *Deferred) Done() <-chan struct{} { return d.done }

// Context is canceled together with the handle.
func (d *Deferred) Context() context.Context { return d.ctx }

// complete marks the workflow finished and drops cancellation hooks.
// It reports false when the handle was canceled first.
func (d *Deferred) complete() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.finished {
		return false
	}
	d.finished = true
	for _, stop := range d.stops {
		stop()
	}
	d.stops = nil
	close(d.done)
	return true
}
