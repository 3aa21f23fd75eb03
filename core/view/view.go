// Package view keeps local, consistent views of remote collections.
//
// Two strategies share the View interface: Mirror follows a live feed, Cache
// refetches after writes. Writes of one instance run one at a time, in call order.
package view

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-dash/core"
	"github.com/trezcool/masomo-dash/core/collection"
)

var (
	ErrClosed  = errors.New("view closed")
	ErrUnbound = errors.New("view is not bound to a collection")
)

// State is a point in time copy of a view's local state.
type State struct {
	Handle    collection.Handle
	Items     []collection.Document
	IsLoading bool
	Err       error
}

// View is the capability shared by Mirror and Cache.
type View interface {
	Items() []collection.Document
	IsLoading() bool
	Err() error
	State() State
	Add(ctx context.Context, flds collection.Fields) (string, error)
	Update(ctx context.Context, id string, flds collection.Fields) error
	Remove(ctx context.Context, id string) error
	Close()
}

type options struct {
	logger   core.Logger
	listener func(State)
}

type Option func(*options)

func WithLogger(logger core.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithListener registers fn to be called with the new state after every change.
// Calls are made in change order, outside the view's lock; fn must not wait on writes of the same view.
func WithListener(fn func(State)) Option {
	return func(o *options) { o.listener = fn }
}

// base holds what both strategies share: local state, its generation and the write queue.
type base struct {
	svc  collection.Service
	opts options

	mu       sync.Mutex
	notifyMu sync.Mutex
	gen      uint64 // bumped on Close and on handle change
	closed   bool
	bound    bool
	handle   collection.Handle
	queue    *queue
	items    []collection.Document
	loading  bool
	err      error
}

func newBase(svc collection.Service, opts []Option) base {
	o := options{logger: core.NopLogger}
	for _, opt := range opts {
		opt(&o)
	}
	return base{svc: svc, opts: o, queue: new(queue)}
}

func (b *base) stateLocked() State {
	return State{
		Handle:    b.handle,
		Items:     collection.CloneDocuments(b.items),
		IsLoading: b.loading,
		Err:       b.err,
	}
}

func (b *base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *base) Items() []collection.Document { return b.State().Items }

func (b *base) IsLoading() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loading
}

func (b *base) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// resetLocked starts a new generation: results of older operations are dropped from now on.
func (b *base) resetLocked() {
	b.gen++
	b.queue = new(queue)
}

// apply runs fn on the state if gen is still current, then notifies the listener.
// It reports whether fn ran.
func (b *base) apply(gen uint64, fn func()) bool {
	b.mu.Lock()
	if b.closed || gen != b.gen {
		b.mu.Unlock()
		return false
	}
	fn()
	st := b.stateLocked()
	b.notifyMu.Lock()
	b.mu.Unlock()
	defer b.notifyMu.Unlock()

	if b.opts.listener != nil {
		b.opts.listener(st)
	}
	return true
}

// current returns what a write needs to run against the current generation.
func (b *base) current() (collection.Handle, uint64, *queue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return collection.Handle{}, 0, nil, ErrClosed
	}
	if !b.bound {
		return collection.Handle{}, 0, nil, ErrUnbound
	}
	return b.handle, b.gen, b.queue, nil
}

// settle records the outcome of a write.
func (b *base) settle(gen uint64, op string, h collection.Handle, err error) {
	if err != nil {
		b.opts.logger.Error(op+" failed", err, map[string]interface{}{"collection": h.Name, "filter": h.Filter.String()})
	}
	b.apply(gen, func() { b.err = err })
}

// close marks the view closed. It reports false if it already was.
func (b *base) close() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.closed = true
	b.resetLocked()
	return true
}
