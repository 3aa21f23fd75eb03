package view

import (
	"context"
	"strconv"
	"sync"

	"github.com/trezcool/masomo-dash/core/collection"
)

// fakeService is a collection.Service whose calls are counted and can be scripted by tests.
type fakeService struct {
	mu     sync.Mutex
	calls  map[string]int
	feeds  []*fakeFeed
	subErr error

	list   func(ctx context.Context, name collection.Name, filter collection.Filter) ([]collection.Document, error)
	create func(ctx context.Context, flds collection.Fields) (string, error)
	update func(ctx context.Context, id string, flds collection.Fields) error
	remove func(ctx context.Context, id string) error
}

var _ collection.Service = (*fakeService)(nil)

func newFakeService() *fakeService {
	return &fakeService{calls: make(map[string]int)}
}

func (svc *fakeService) count(op string) int {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.calls[op]
}

func (svc *fakeService) called(op string) {
	svc.mu.Lock()
	svc.calls[op]++
	svc.mu.Unlock()
}

// feed returns the i-th subscription.
func (svc *fakeService) feed(i int) *fakeFeed {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if i >= len(svc.feeds) {
		return nil
	}
	return svc.feeds[i]
}

func (svc *fakeService) Subscribe(ctx context.Context, name collection.Name, filter collection.Filter) (<-chan collection.Snapshot, error) {
	svc.called("subscribe")
	if svc.subErr != nil {
		return nil, svc.subErr
	}
	f := &fakeFeed{ctx: ctx, ch: make(chan collection.Snapshot)}
	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.closed {
			f.closed = true
			close(f.ch)
		}
	}()
	svc.mu.Lock()
	svc.feeds = append(svc.feeds, f)
	svc.mu.Unlock()
	return f.ch, nil
}

func (svc *fakeService) List(ctx context.Context, name collection.Name, filter collection.Filter) ([]collection.Document, error) {
	svc.called("list")
	if svc.list == nil {
		return nil, nil
	}
	return svc.list(ctx, name, filter)
}

func (svc *fakeService) Get(context.Context, collection.Name, string) (collection.Document, error) {
	svc.called("get")
	return collection.Document{}, collection.ErrNotFound
}

func (svc *fakeService) Create(ctx context.Context, _ collection.Name, flds collection.Fields) (string, error) {
	svc.called("create")
	if svc.create == nil {
		return strconv.Itoa(svc.count("create")), nil
	}
	return svc.create(ctx, flds)
}

func (svc *fakeService) Update(ctx context.Context, _ collection.Name, id string, flds collection.Fields) error {
	svc.called("update")
	if svc.update == nil {
		return nil
	}
	return svc.update(ctx, id, flds)
}

func (svc *fakeService) Delete(ctx context.Context, _ collection.Name, id string) error {
	svc.called("delete")
	if svc.remove == nil {
		return nil
	}
	return svc.remove(ctx, id)
}

type fakeFeed struct {
	ctx    context.Context
	mu     sync.Mutex
	ch     chan collection.Snapshot
	closed bool
}

// push delivers docs and reports whether the subscriber received them.
func (f *fakeFeed) push(docs ...collection.Document) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	select {
	case f.ch <- collection.Snapshot{Docs: docs}:
		return true
	case <-f.ctx.Done():
		return false
	}
}

// fail ends the feed with err.
func (f *fakeFeed) fail(err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.closed = true
	defer close(f.ch)
	select {
	case f.ch <- collection.Snapshot{Err: err}:
		return true
	case <-f.ctx.Done():
		return false
	}
}

// done reports whether the feed channel was closed.
func (f *fakeFeed) done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeFeed) cancelled() bool {
	return f.ctx.Err() != nil
}

func student(id, name, status string) collection.Document {
	return collection.Document{ID: id, Fields: collection.Fields{"firstName": name, "status": status}}
}

func ids(docs []collection.Document) []string {
	res := make([]string, len(docs))
	for i, d := range docs {
		res[i] = d.ID
	}
	return res
}
