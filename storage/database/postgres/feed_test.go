package postgres

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-dash/core"
	"github.com/trezcool/masomo-dash/core/collection"
)

// fakeDB answers listing queries with the rows it holds.
type fakeDB struct {
	mu      sync.Mutex
	rows    []row
	selects int
	err     error
}

func (db *fakeDB) ExecContext(context.Context, string, ...interface{}) (sql.Result, error) {
	return nil, errors.New("not implemented")
}

func (db *fakeDB) SelectContext(_ context.Context, dest interface{}, _ string, _ ...interface{}) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.selects++
	if db.err != nil {
		return db.err
	}
	*dest.(*[]row) = append([]row(nil), db.rows...)
	return nil
}

func (db *fakeDB) GetContext(context.Context, interface{}, string, ...interface{}) error {
	return sql.ErrNoRows
}

func (db *fakeDB) set(rows ...row) {
	db.mu.Lock()
	db.rows = rows
	db.mu.Unlock()
}

type fakeListener struct {
	notify chan *pq.Notification
	closed chan struct{}
	once   sync.Once
}

func (l *fakeListener) Listen(string) error                         { return nil }
func (l *fakeListener) NotificationChannel() <-chan *pq.Notification { return l.notify }
func (l *fakeListener) Ping() error                                  { return nil }
func (l *fakeListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func withFakeListener(t *testing.T) *fakeListener {
	t.Helper()
	l := &fakeListener{notify: make(chan *pq.Notification), closed: make(chan struct{})}
	orig := newListenerFunc
	newListenerFunc = func(*Store) listener { return l }
	t.Cleanup(func() { newListenerFunc = orig })
	return l
}

func docRow(id, name string) row {
	now := time.Date(2021, 9, 1, 8, 0, 0, 0, time.UTC)
	return row{ID: id, Data: []byte(`{"firstName":"` + name + `"}`), CreatedAt: now, UpdatedAt: now}
}

func receive(t *testing.T, feed <-chan collection.Snapshot) collection.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-feed:
		require.True(t, ok, "feed closed")
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot")
	}
	return collection.Snapshot{}
}

func TestStore_Subscribe(t *testing.T) {
	l := withFakeListener(t)
	db := &fakeDB{}
	db.set(docRow("a", "Ana"))
	s := New(db, Options{DSN: "postgres://test"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed, err := s.Subscribe(ctx, collection.Students, collection.Filter{})
	require.NoError(t, err)

	snap := receive(t, feed)
	require.Len(t, snap.Docs, 1)
	assert.Equal(t, "Ana", snap.Docs[0].Fields["firstName"])
	assert.IsType(t, time.Time{}, snap.Docs[0].Fields["createdAt"])

	// other collections are ignored
	l.notify <- &pq.Notification{Channel: "masomo_documents", Extra: "teachers"}
	db.set(docRow("a", "Ana"), docRow("b", "Bob"))
	l.notify <- &pq.Notification{Channel: "masomo_documents", Extra: "students"}
	snap = receive(t, feed)
	assert.Len(t, snap.Docs, 2)

	// reconnects trigger a listing too
	db.set(docRow("b", "Bob"))
	l.notify <- nil
	snap = receive(t, feed)
	assert.Len(t, snap.Docs, 1)

	db.mu.Lock()
	assert.Equal(t, 3, db.selects)
	db.mu.Unlock()

	cancel()
	select {
	case <-l.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("listener not closed")
	}
	for range feed {
	}
}

func TestStore_SubscribeListFailure(t *testing.T) {
	l := withFakeListener(t)
	db := &fakeDB{}
	s := New(db, Options{DSN: "postgres://test"})

	feed, err := s.Subscribe(context.Background(), collection.Students, collection.Filter{})
	require.NoError(t, err)
	receive(t, feed)

	db.mu.Lock()
	db.err = &pq.Error{Code: "08006", Message: "connection failure"}
	db.mu.Unlock()
	l.notify <- &pq.Notification{Extra: "students"}

	snap := receive(t, feed)
	require.Error(t, snap.Err)
	assert.True(t, collection.IsTransient(snap.Err))
	_, open := <-feed
	assert.False(t, open, "an error snapshot is the last one")
}

func TestStore_SubscribeWithoutDSN(t *testing.T) {
	s := New(&fakeDB{}, Options{})
	_, err := s.Subscribe(context.Background(), collection.Students, collection.Filter{})
	require.Error(t, err)
	assert.False(t, collection.IsTransient(err))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantTransient bool
		wantShutdown  bool
	}{
		{"connection", &pq.Error{Code: "08006"}, true, false},
		{"serialization", &pq.Error{Code: "40001"}, true, false},
		{"admin shutdown", &pq.Error{Code: "57P01"}, true, true},
		{"crash shutdown", &pq.Error{Code: "57P02"}, true, true},
		{"cannot connect now", &pq.Error{Code: "57P03"}, true, false},
		{"syntax", &pq.Error{Code: "42601"}, false, false},
		{"unique violation", &pq.Error{Code: "23505"}, false, false},
		{"network", errors.New("dial tcp: connection refused"), true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("list", tt.err)
			if got := collection.IsTransient(err); got != tt.wantTransient {
				t.Errorf("IsTransient(classify()) = %v; want %v", got, tt.wantTransient)
			}
			if got := core.IsShutdown(err); got != tt.wantShutdown {
				t.Errorf("IsShutdown(classify()) = %v; want %v", got, tt.wantShutdown)
			}
		})
	}

	if err := classify("list", context.Canceled); err != context.Canceled {
		t.Errorf("classify(context.Canceled) = %v", err)
	}
}

func TestStore_InvalidIDs(t *testing.T) {
	s := New(&fakeDB{}, Options{})
	ctx := context.Background()

	_, err := s.Get(ctx, collection.Students, "not-a-uuid")
	assert.True(t, collection.IsNotFound(err))
	assert.True(t, collection.IsNotFound(s.Update(ctx, collection.Students, "not-a-uuid", collection.Fields{"a": 1})))
	assert.NoError(t, s.Delete(ctx, collection.Students, "not-a-uuid"))
}
