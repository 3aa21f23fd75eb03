package remote_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/masomo-dash/apps/api/echo"
	"github.com/trezcool/masomo-dash/core"
	"github.com/trezcool/masomo-dash/core/collection"
	"github.com/trezcool/masomo-dash/core/view"
	"github.com/trezcool/masomo-dash/storage/database/memstore"
	"github.com/trezcool/masomo-dash/storage/remote"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

var active = collection.MustFilter(collection.Where("status", collection.OpEqual, "active"))

// setup serves a memstore through the gateway and returns a client of it.
func setup(t *testing.T) (*remote.Client, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	srv := echoapi.NewServer(echoapi.ServerDeps{
		Conf:    &core.Config{TestMode: true, Server: core.ServerConfig{DisableReqLogs: true}},
		Service: store,
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	client, err := remote.New(ts.URL)
	require.NoError(t, err)
	return client, store
}

func receive(t *testing.T, feed <-chan collection.Snapshot) collection.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-feed:
		require.True(t, ok, "feed closed")
		return snap
	case <-time.After(waitFor):
		t.Fatal("no snapshot")
	}
	return collection.Snapshot{}
}

func TestNew(t *testing.T) {
	_, err := remote.New("ftp://example.com")
	assert.Error(t, err)
	_, err = remote.New("https://example.com/")
	assert.NoError(t, err)
}

func TestClient_CRUD(t *testing.T) {
	client, _ := setup(t)
	ctx := context.Background()

	id, err := client.Create(ctx, collection.Students, collection.Fields{"firstName": "Ana", "status": "active", "age": 12})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	_, err = client.Create(ctx, collection.Students, collection.Fields{"firstName": "Bob", "status": "inactive"})
	require.NoError(t, err)

	doc, err := client.Get(ctx, collection.Students, id)
	require.NoError(t, err)
	assert.Equal(t, id, doc.ID)
	assert.Equal(t, "Ana", doc.Fields["firstName"])
	assert.Equal(t, 12.0, doc.Fields["age"])
	assert.IsType(t, time.Time{}, doc.Fields[collection.CreatedAtField])

	docs, err := client.List(ctx, collection.Students, active)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, id, docs[0].ID)

	all, err := client.List(ctx, collection.Students, collection.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, client.Update(ctx, collection.Students, id, collection.Fields{"status": "graduated"}))
	doc, err = client.Get(ctx, collection.Students, id)
	require.NoError(t, err)
	assert.Equal(t, "graduated", doc.Fields["status"])

	require.NoError(t, client.Delete(ctx, collection.Students, id))
	_, err = client.Get(ctx, collection.Students, id)
	assert.True(t, collection.IsNotFound(err))
	assert.True(t, collection.IsNotFound(client.Update(ctx, collection.Students, id, collection.Fields{"a": 1})))
}

func TestClient_Errors(t *testing.T) {
	client, store := setup(t)
	ctx := context.Background()

	_, err := client.List(ctx, "unicorns", collection.Filter{})
	require.Error(t, err)
	assert.True(t, core.IsValidationError(err))
	assert.False(t, collection.IsTransient(err))

	store.Fail(memstore.OpList, collection.NewTransientError("list", errors.New("store unavailable")))
	_, err = client.List(ctx, collection.Students, collection.Filter{})
	require.Error(t, err)
	assert.True(t, collection.IsTransient(err))

	store.Fail(memstore.OpCreate, collection.NewPermanentError("create", errors.New("quota exceeded")))
	_, err = client.Create(ctx, collection.Students, collection.Fields{"firstName": "Ana"})
	require.Error(t, err)
	assert.False(t, collection.IsTransient(err))
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestClient_Unreachable(t *testing.T) {
	ts := httptest.NewServer(nil)
	url := ts.URL
	ts.Close()

	client, err := remote.New(url)
	require.NoError(t, err)
	_, err = client.List(context.Background(), collection.Students, collection.Filter{})
	assert.True(t, collection.IsTransient(err))
	_, err = client.Subscribe(context.Background(), collection.Students, collection.Filter{})
	assert.True(t, collection.IsTransient(err))
}

func TestClient_Subscribe(t *testing.T) {
	client, store := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := store.Create(ctx, collection.Students, collection.Fields{"firstName": "Ana", "status": "active"})
	require.NoError(t, err)

	feed, err := client.Subscribe(ctx, collection.Students, active)
	require.NoError(t, err)
	snap := receive(t, feed)
	require.NoError(t, snap.Err)
	require.Len(t, snap.Docs, 1)
	assert.IsType(t, time.Time{}, snap.Docs[0].Fields[collection.CreatedAtField])

	_, err = store.Create(ctx, collection.Students, collection.Fields{"firstName": "Bob", "status": "active"})
	require.NoError(t, err)
	snap = receive(t, feed)
	assert.Len(t, snap.Docs, 2)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-feed:
			return !ok
		default:
			return false
		}
	}, waitFor, tick)
	require.Eventually(t, func() bool { return store.Subscribers() == 0 }, waitFor, tick, "the gateway drops the subscription")
}

func TestClient_SubscribeFailures(t *testing.T) {
	client, store := setup(t)
	ctx := context.Background()

	_, err := client.Subscribe(ctx, "unicorns", collection.Filter{})
	require.Error(t, err)
	assert.True(t, core.IsValidationError(err))

	feed, err := client.Subscribe(ctx, collection.Students, collection.Filter{})
	require.NoError(t, err)
	receive(t, feed)

	store.BreakFeeds(collection.NewTransientError("subscribe", errors.New("connection lost")))
	snap := receive(t, feed)
	require.Error(t, snap.Err)
	assert.True(t, collection.IsTransient(snap.Err))
	_, open := <-feed
	assert.False(t, open)
}

func TestMirror_OverTheGateway(t *testing.T) {
	client, store := setup(t)
	ctx := context.Background()
	for _, name := range []string{"Bea", "Cid", "Dee"} {
		_, err := store.Create(ctx, collection.Students, collection.Fields{"firstName": name, "status": "active"})
		require.NoError(t, err)
	}

	m := view.NewMirror(client)
	defer m.Close()
	require.NoError(t, m.Open(collection.Handle{Name: collection.Students, Filter: active}))
	require.Eventually(t, func() bool { return !m.IsLoading() && len(m.Items()) == 3 }, waitFor, tick)

	id, err := m.Add(ctx, collection.Fields{"firstName": "Ana", "status": "active"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(m.Items()) == 4 }, waitFor, tick)

	require.NoError(t, m.Remove(ctx, id))
	assert.Len(t, m.Items(), 3)
	require.Never(t, func() bool { return len(m.Items()) != 3 }, 100*time.Millisecond, tick)
}
