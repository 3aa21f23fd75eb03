package view

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-dash/core/collection"
)

// Mirror keeps its items in sync with a live feed of the remote collection.
// Writes go straight to the service and show up through the feed, except Remove
// which drops the document locally right away (and does not restore it if the delete fails).
//
// Err reports the last failure of the feed or of a write, and a successful write clears it
// even when the feed has ended. Use IsLive to know whether deliveries still arrive.
type Mirror struct {
	base

	root       context.Context
	cancelRoot context.CancelFunc
	cancelSub  context.CancelFunc
	live       bool
}

var _ View = (*Mirror)(nil)

func NewMirror(svc collection.Service, opts ...Option) *Mirror {
	root, cancel := context.WithCancel(context.Background())
	return &Mirror{base: newBase(svc, opts), root: root, cancelRoot: cancel}
}

// Open subscribes to h. Opening the handle the mirror is already following is a no-op;
// opening another handle drops the current subscription and its local state.
// After the feed failed, opening the same handle subscribes again.
func (m *Mirror) Open(h collection.Handle) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.bound && m.live && m.handle.Equal(h) {
		m.mu.Unlock()
		return nil
	}

	if m.cancelSub != nil {
		m.cancelSub()
	}
	if !m.bound || !m.handle.Equal(h) {
		m.items, m.err = nil, nil
	}
	m.resetLocked()
	m.bound, m.handle, m.live, m.loading = true, h, true, true
	gen := m.gen
	ctx, cancel := context.WithCancel(m.root)
	m.cancelSub = cancel
	st := m.stateLocked()
	m.notifyMu.Lock()
	m.mu.Unlock()
	if m.opts.listener != nil {
		m.opts.listener(st)
	}
	m.notifyMu.Unlock()

	feed, err := m.svc.Subscribe(ctx, h.Name, h.Filter)
	if err != nil {
		cancel()
		err = errors.Wrapf(err, "subscribe to %s", h.Name)
		m.opts.logger.Error("subscription failed", err, map[string]interface{}{"collection": h.Name, "filter": h.Filter.String()})
		m.apply(gen, func() {
			m.live, m.loading, m.err = false, false, err
		})
		return err
	}
	go m.follow(gen, h, feed)
	return nil
}

// IsLive reports whether the mirror follows a subscription that has neither failed nor ended.
func (m *Mirror) IsLive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bound && m.live && !m.closed
}

// follow applies the deliveries of feed, in order, for as long as gen is current.
func (m *Mirror) follow(gen uint64, h collection.Handle, feed <-chan collection.Snapshot) {
	for snap := range feed {
		if snap.Err != nil {
			err := errors.Wrapf(snap.Err, "feed of %s", h.Name)
			if m.apply(gen, func() { m.live, m.loading, m.err = false, false, err }) {
				m.opts.logger.Error("feed failed", err, map[string]interface{}{"collection": h.Name, "filter": h.Filter.String()})
			}
			return
		}
		items := h.Filter.Apply(snap.Docs)
		if !m.apply(gen, func() { m.items, m.loading, m.err = items, false, nil }) {
			return
		}
	}
	m.apply(gen, func() { m.live, m.loading = false, false })
}

func (m *Mirror) Add(ctx context.Context, flds collection.Fields) (string, error) {
	h, gen, q, err := m.current()
	if err != nil {
		return "", err
	}
	var id string
	err = q.do(ctx, func() error {
		var err error
		id, err = m.svc.Create(ctx, h.Name, flds)
		return errors.Wrapf(err, "add to %s", h.Name)
	})
	m.settle(gen, "add", h, err)
	return id, err
}

func (m *Mirror) Update(ctx context.Context, id string, flds collection.Fields) error {
	h, gen, q, err := m.current()
	if err != nil {
		return err
	}
	err = q.do(ctx, func() error {
		return errors.Wrapf(m.svc.Update(ctx, h.Name, id, flds), "update %s/%s", h.Name, id)
	})
	m.settle(gen, "update", h, err)
	return err
}

// Remove drops id from the items before asking the service to delete it.
func (m *Mirror) Remove(ctx context.Context, id string) error {
	h, gen, q, err := m.current()
	if err != nil {
		return err
	}
	m.apply(gen, func() { m.items = collection.WithoutID(m.items, id) })

	err = q.do(ctx, func() error {
		return errors.Wrapf(m.svc.Delete(ctx, h.Name, id), "remove %s/%s", h.Name, id)
	})
	m.settle(gen, "remove", h, err)
	return err
}

// Close cancels the subscription. Results arriving afterwards are ignored.
func (m *Mirror) Close() {
	if m.close() {
		m.cancelRoot()
	}
}
