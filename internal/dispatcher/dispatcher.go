package dispatcher

import (
	"container/list"
	"context"
	"sync"

	"collaborative-table-editor/internal/errors"
)

// Action is a unit of work executed on the dispatcher's own goroutine.
type Action func(ctx context.Context) error

type task struct {
	ctx  context.Context
	fn   Action
	done chan error
}

// Dispatcher serializes all work submitted to it onto a single goroutine,
// giving the owning object a single-writer execution context. Every Domain,
// the DomainContext and the host each own exactly one Dispatcher.
//
// The queue is unbounded so that Invoke from many callers can never deadlock
// against a full buffer; admission is FIFO.
type Dispatcher struct {
	name string

	mu     sync.Mutex
	queue  *list.List
	wake   chan struct{}
	closed bool

	stopped chan struct{}
}

type ctxKey struct{}

// New creates a dispatcher and starts its execution loop.
func New(name string) *Dispatcher {
	d := &Dispatcher{
		name:    name,
		queue:   list.New(),
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go d.run()
	return d
}

// Name returns the owner name the dispatcher was created with.
func (d *Dispatcher) Name() string {
	return d.name
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	for {
		t, ok := d.next()
		if !ok {
			return
		}
		d.execute(t)
	}
}

// next blocks until a task is available or the dispatcher is shut down.
// Work already queued at shutdown still runs before the loop exits.
func (d *Dispatcher) next() (*task, bool) {
	for {
		d.mu.Lock()
		if e := d.queue.Front(); e != nil {
			d.queue.Remove(e)
			d.mu.Unlock()
			return e.Value.(*task), true
		}
		if d.closed {
			d.mu.Unlock()
			return nil, false
		}
		d.mu.Unlock()
		<-d.wake
	}
}

func (d *Dispatcher) execute(t *task) {
	// Skip work whose caller already gave up; nothing was applied yet so
	// the all-or-nothing guarantee holds.
	if err := t.ctx.Err(); err != nil {
		t.done <- err
		return
	}
	ctx := context.WithValue(t.ctx, ctxKey{}, d)
	t.done <- t.fn(ctx)
}

func (d *Dispatcher) enqueue(ctx context.Context, fn Action) (chan error, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, errors.DispatcherExpired(d.name)
	}
	t := &task{ctx: ctx, fn: fn, done: make(chan error, 1)}
	d.queue.PushBack(t)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return t.done, nil
}

// Invoke runs fn on the dispatcher goroutine and blocks until it completes,
// returning fn's error. Fails with a DispatcherExpired error once the
// dispatcher has been shut down.
func (d *Dispatcher) Invoke(ctx context.Context, fn Action) error {
	done, err := d.enqueue(ctx, fn)
	if err != nil {
		return err
	}
	return <-done
}

// InvokeAsync enqueues fn and returns a channel that receives its result.
func (d *Dispatcher) InvokeAsync(ctx context.Context, fn Action) <-chan error {
	done, err := d.enqueue(ctx, fn)
	if err != nil {
		failed := make(chan error, 1)
		failed <- err
		return failed
	}
	return done
}

// VerifyAccess fails unless ctx belongs to an action currently executing on
// this dispatcher. Accessors that must only run under dispatch assert with it.
func (d *Dispatcher) VerifyAccess(ctx context.Context) error {
	if FromContext(ctx) != d {
		return errors.InvalidOperation("call is not running on dispatcher " + d.name)
	}
	return nil
}

// CheckAccess reports whether ctx is executing on this dispatcher.
func (d *Dispatcher) CheckAccess(ctx context.Context) bool {
	return FromContext(ctx) == d
}

// FromContext returns the dispatcher executing ctx, or nil.
func FromContext(ctx context.Context) *Dispatcher {
	d, _ := ctx.Value(ctxKey{}).(*Dispatcher)
	return d
}

// Shutdown stops the dispatcher after the currently queued work finishes.
// Tasks enqueued afterwards fail with a DispatcherExpired error. Shutdown
// must not be called from the dispatcher's own goroutine.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.stopped
		return
	}
	d.closed = true
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	<-d.stopped
}
