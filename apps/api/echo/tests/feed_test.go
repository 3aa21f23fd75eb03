package tests

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-dash/core/collection"
)

type feedMsg struct {
	Docs      []collection.Document `json:"docs"`
	Error     string                `json:"error"`
	Transient bool                  `json:"transient"`
}

func dialFeed(t *testing.T, baseURL, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(baseURL, "http")+path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func Test_collectionApi_feed(t *testing.T) {
	srv, store := setup(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	ana := seed(t, store, collection.Students, collection.Fields{"firstName": "Ana", "status": "active"})
	seed(t, store, collection.Students, collection.Fields{"firstName": "Bob", "status": "inactive"})

	conn := dialFeed(t, ts.URL, "/v1/collections/students/feed"+filterQuery(t, collection.Where("status", collection.OpEqual, "active")))

	var msg feedMsg
	require.NoError(t, conn.ReadJSON(&msg))
	require.Len(t, msg.Docs, 1)
	assert.Equal(t, ana.ID, msg.Docs[0].ID)

	_, err := store.Create(context.Background(), collection.Students, collection.Fields{"firstName": "Cid", "status": "active"})
	require.NoError(t, err)

	msg = feedMsg{}
	require.NoError(t, conn.ReadJSON(&msg))
	require.Len(t, msg.Docs, 2)
	assert.Equal(t, "Cid", msg.Docs[1].Fields["firstName"])

	store.BreakFeeds(collection.NewTransientError("subscribe", errors.New("connection reset")))
	msg = feedMsg{}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Empty(t, msg.Docs)
	assert.Contains(t, msg.Error, "connection reset")
	assert.True(t, msg.Transient)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "err = %v", err)
}

func Test_collectionApi_feed_badRequest(t *testing.T) {
	srv, _ := setup(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/collections/unicorns/feed", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}
