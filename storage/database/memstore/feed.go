package memstore

import (
	"context"
	"sync"

	"github.com/trezcool/masomo-dash/core/collection"
)

// subscriber buffers the snapshots of one subscription until its reader takes them.
type subscriber struct {
	name   collection.Name
	filter collection.Filter

	mu      sync.Mutex
	pending []collection.Snapshot
	wake    chan struct{}
}

func (sub *subscriber) push(snap collection.Snapshot) {
	sub.mu.Lock()
	sub.pending = append(sub.pending, snap)
	sub.mu.Unlock()
	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

func (sub *subscriber) next() (collection.Snapshot, bool) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.pending) == 0 {
		return collection.Snapshot{}, false
	}
	snap := sub.pending[0]
	sub.pending = sub.pending[1:]
	return snap, true
}

// pump forwards the buffered snapshots to out until ctx is done or an error snapshot went out.
func (sub *subscriber) pump(ctx context.Context, out chan<- collection.Snapshot, done func()) {
	defer close(out)
	defer done()
	for {
		snap, ok := sub.next()
		if !ok {
			select {
			case <-sub.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		select {
		case out <- snap:
		case <-ctx.Done():
			return
		}
		if snap.Err != nil {
			return
		}
	}
}

// Subscribe delivers the matched set now and after every change to the collection.
// Snapshots are never dropped nor coalesced.
func (s *Store) Subscribe(ctx context.Context, name collection.Name, filter collection.Filter) (<-chan collection.Snapshot, error) {
	s.Lock()
	defer s.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tbl, err := s.check(OpSubscribe, name)
	if err != nil {
		return nil, err
	}

	sub := &subscriber{name: name, filter: filter, wake: make(chan struct{}, 1)}
	sub.push(collection.Snapshot{Docs: tbl.query(filter)})
	s.subs[sub] = struct{}{}

	out := make(chan collection.Snapshot)
	go sub.pump(ctx, out, func() { s.unsubscribe(sub) })
	return out, nil
}

func (s *Store) unsubscribe(sub *subscriber) {
	s.Lock()
	delete(s.subs, sub)
	s.Unlock()
}

// publish must be called with the write lock held.
func (s *Store) publish(name collection.Name) {
	tbl := s.tables[name]
	for sub := range s.subs {
		if sub.name == name {
			sub.push(collection.Snapshot{Docs: tbl.query(sub.filter)})
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (s *Store) Subscribers() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.subs)
}
