package postgres

import (
	"context"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-dash/core/collection"
	"github.com/trezcool/masomo-dash/storage/database"
)

// listener is the part of *pq.Listener a subscription uses.
type listener interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

// newListenerFunc opens the LISTEN connection of a subscription. Tests may replace it.
var newListenerFunc = func(s *Store) listener {
	return pq.NewListener(s.opts.DSN, s.opts.MinReconnect, s.opts.MaxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			s.opts.Logger.Warn("documents listener", err, map[string]interface{}{"event": ev})
		}
	})
}

// Subscribe lists the matched set, then lists it again after every notification about the collection.
func (s *Store) Subscribe(ctx context.Context, name collection.Name, filter collection.Filter) (<-chan collection.Snapshot, error) {
	if err := checkName("subscribe", name); err != nil {
		return nil, err
	}
	if s.opts.DSN == "" {
		return nil, collection.NewPermanentError("subscribe", errors.New("no DSN to listen on"))
	}

	l := newListenerFunc(s)
	if err := l.Listen(database.NotifyChannel); err != nil {
		_ = l.Close()
		return nil, classify("subscribe", err)
	}
	docs, err := s.List(ctx, name, filter)
	if err != nil {
		_ = l.Close()
		return nil, err
	}

	out := make(chan collection.Snapshot)
	go s.watch(ctx, l, name, filter, docs, out)
	return out, nil
}

func (s *Store) watch(ctx context.Context, l listener, name collection.Name, filter collection.Filter, docs []collection.Document, out chan<- collection.Snapshot) {
	defer close(out)
	defer func() { _ = l.Close() }()

	send := func(snap collection.Snapshot) bool {
		select {
		case out <- snap:
			return true
		case <-ctx.Done():
			return false
		}
	}
	if !send(collection.Snapshot{Docs: docs}) {
		return
	}

	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-l.NotificationChannel():
			if !ok {
				send(collection.Snapshot{Err: collection.NewTransientError("subscribe", errors.New("listener closed"))})
				return
			}
			// a nil notification follows a reconnect: changes may have been missed
			if n != nil && n.Extra != string(name) {
				continue
			}
			docs, err := s.List(ctx, name, filter)
			if err != nil {
				if ctx.Err() == nil {
					send(collection.Snapshot{Err: err})
				}
				return
			}
			if !send(collection.Snapshot{Docs: docs}) {
				return
			}
		case <-ticker.C:
			if err := l.Ping(); err != nil {
				s.opts.Logger.Debug("documents listener ping", err)
			}
		}
	}
}
