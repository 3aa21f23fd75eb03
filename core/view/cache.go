package view

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-dash/core/collection"
)

// PartialError reports a write that took effect remotely while the reload that followed it failed.
// The items are stale until the next successful load.
type PartialError struct {
	Op  string
	ID  string
	Err error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%s %s succeeded, reload failed: %v", e.Op, e.ID, e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }

func IsPartial(err error) bool {
	var pe *PartialError
	return errors.As(err, &pe)
}

// Cache holds a fetched copy of a remote collection.
// Add and Update reload the whole matched set afterwards; Remove patches the items locally.
type Cache struct {
	base
	pending int // loads submitted or running
}

var _ View = (*Cache)(nil)

func NewCache(svc collection.Service, opts ...Option) *Cache {
	return &Cache{base: newBase(svc, opts)}
}

// Load binds the cache to h and fetches its documents.
// Binding another handle discards the current items and ignores results of earlier operations.
func (c *Cache) Load(ctx context.Context, h collection.Handle) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.bound || !c.handle.Equal(h) {
		c.resetLocked()
		c.bound, c.handle = true, h
		c.items, c.err, c.pending, c.loading = nil, nil, 0, false
	}
	c.mu.Unlock()
	return c.Refresh(ctx)
}

// Refresh reloads the items of the bound handle.
func (c *Cache) Refresh(ctx context.Context) error {
	h, gen, q, err := c.current()
	if err != nil {
		return err
	}
	c.apply(gen, c.startLoad)
	err = q.do(ctx, func() error { return c.fetch(ctx, gen, h) })
	if err != nil {
		c.opts.logger.Error("load failed", err, map[string]interface{}{"collection": h.Name, "filter": h.Filter.String()})
	}
	c.apply(gen, func() {
		c.endLoad()
		if err != nil {
			c.err = err
		}
	})
	return err
}

func (c *Cache) startLoad() {
	c.pending++
	c.loading = true
}

func (c *Cache) endLoad() {
	if c.pending > 0 {
		c.pending--
	}
	c.loading = c.pending > 0
}

// fetch lists the matched set and replaces the items with it. It must run on the queue.
func (c *Cache) fetch(ctx context.Context, gen uint64, h collection.Handle) error {
	c.apply(gen, c.startLoad)
	docs, err := c.svc.List(ctx, h.Name, h.Filter)
	err = errors.Wrapf(err, "load %s", h.Name)
	items := h.Filter.Apply(docs)
	c.apply(gen, func() {
		c.endLoad()
		if err != nil {
			c.err = err
			return
		}
		c.items, c.err = items, nil
	})
	return err
}

func (c *Cache) Add(ctx context.Context, flds collection.Fields) (string, error) {
	h, gen, q, err := c.current()
	if err != nil {
		return "", err
	}
	var id string
	err = q.do(ctx, func() error {
		var err error
		if id, err = c.svc.Create(ctx, h.Name, flds); err != nil {
			return errors.Wrapf(err, "add to %s", h.Name)
		}
		if err = c.fetch(ctx, gen, h); err != nil {
			return &PartialError{Op: "add", ID: id, Err: err}
		}
		return nil
	})
	c.settle(gen, "add", h, err)
	return id, err
}

func (c *Cache) Update(ctx context.Context, id string, flds collection.Fields) error {
	h, gen, q, err := c.current()
	if err != nil {
		return err
	}
	err = q.do(ctx, func() error {
		if err := c.svc.Update(ctx, h.Name, id, flds); err != nil {
			return errors.Wrapf(err, "update %s/%s", h.Name, id)
		}
		if err := c.fetch(ctx, gen, h); err != nil {
			return &PartialError{Op: "update", ID: id, Err: err}
		}
		return nil
	})
	c.settle(gen, "update", h, err)
	return err
}

// Remove deletes id remotely, then drops it from the items without reloading.
func (c *Cache) Remove(ctx context.Context, id string) error {
	h, gen, q, err := c.current()
	if err != nil {
		return err
	}
	err = q.do(ctx, func() error {
		if err := c.svc.Delete(ctx, h.Name, id); err != nil {
			return errors.Wrapf(err, "remove %s/%s", h.Name, id)
		}
		c.apply(gen, func() { c.items = collection.WithoutID(c.items, id) })
		return nil
	})
	c.settle(gen, "remove", h, err)
	return err
}

// Close detaches the cache. Results arriving afterwards are ignored.
func (c *Cache) Close() {
	c.close()
}
