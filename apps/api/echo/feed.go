package echoapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/trezcool/masomo-dash/core/collection"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = (feedPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// feed streams the snapshots of a live subscription over a websocket:
// {"docs": [...]} for every snapshot, {"error": "...", "transient": bool} before closing on failure.
func (api *collectionApi) feed(ctx echo.Context) error {
	h, err := api.handle(ctx)
	if err != nil {
		return err
	}

	conn, err := upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		// the upgrader already replied
		api.logger.Debug("feed upgrade failed", err)
		return nil
	}
	defer func() { _ = conn.Close() }()

	subCtx, cancel := context.WithCancel(ctx.Request().Context())
	defer cancel()

	// the client only ever closes: read until it does
	go func() {
		defer cancel()
		_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(feedPongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	snaps, err := api.svc.Subscribe(subCtx, h.Name, h.Filter)
	if err != nil {
		api.closeFeed(conn, err)
		return nil
	}

	ticker := time.NewTicker(feedPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case snap, ok := <-snaps:
			if !ok {
				return nil
			}
			if snap.Err != nil {
				api.closeFeed(conn, snap.Err)
				return nil
			}
			docs := snap.Docs
			if docs == nil {
				docs = []collection.Document{}
			}
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteJSON(echo.Map{"docs": docs}); err != nil {
				return nil
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteWait)); err != nil {
				return nil
			}
		}
	}
}

// closeFeed reports err to the client and closes the connection.
func (api *collectionApi) closeFeed(conn *websocket.Conn, err error) {
	api.logger.Warn("feed failed", err)
	_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
	_ = conn.WriteJSON(echo.Map{"error": err.Error(), "transient": collection.IsTransient(err)})
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(feedWriteWait))
}
