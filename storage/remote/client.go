// Package remote is a collection.Service talking to the collection gateway over HTTP & websockets.
package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sendgrid/rest"

	"github.com/trezcool/masomo-dash/core"
	"github.com/trezcool/masomo-dash/core/collection"
)

const apiPrefix = "/v1/collections/"

type Client struct {
	baseURL string
	wsURL   string
	rest    *rest.Client
	dialer  *websocket.Dialer
}

var _ collection.Service = (*Client)(nil) // interface compliance check

type Option func(*Client)

// WithHTTPClient sets the client used for REST calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.rest = &rest.Client{HTTPClient: hc} }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// New returns a client of the gateway served at baseURL, eg. http://localhost:8080.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parsing base url")
	}
	ws := *u
	switch u.Scheme {
	case "http":
		ws.Scheme = "ws"
	case "https":
		ws.Scheme = "wss"
	default:
		return nil, errors.Errorf("unsupported scheme %q", u.Scheme)
	}

	c := &Client{
		baseURL: u.String(),
		wsURL:   ws.String(),
		rest:    &rest.Client{HTTPClient: &http.Client{}},
		dialer:  websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) url(name collection.Name, id ...string) string {
	u := c.baseURL + apiPrefix + url.PathEscape(string(name))
	if len(id) > 0 {
		u += "/" + url.PathEscape(id[0])
	}
	return u
}

func filterParams(filter collection.Filter) (map[string]string, error) {
	if filter.Len() == 0 {
		return nil, nil
	}
	data, err := json.Marshal(filter)
	if err != nil {
		return nil, errors.Wrap(err, "encoding filter")
	}
	return map[string]string{"filter": string(data)}, nil
}

func (c *Client) send(ctx context.Context, op string, req rest.Request, want int) (*rest.Response, error) {
	if req.Headers == nil {
		req.Headers = make(map[string]string)
	}
	req.Headers["Accept"] = "application/json"
	if len(req.Body) > 0 {
		req.Headers["Content-Type"] = "application/json"
	}

	resp, err := c.rest.SendWithContext(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, collection.NewTransientError(op, err)
	}
	if resp.StatusCode != want {
		return nil, responseError(op, resp.StatusCode, []byte(resp.Body))
	}
	return resp, nil
}

// responseError maps a gateway error response to a collection error.
func responseError(op string, code int, body []byte) error {
	var msg string
	var flds []core.FieldError
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err == nil {
		if m, ok := payload["error"].(string); ok {
			msg = m
		} else {
			for k, v := range payload {
				if s, ok := v.(string); ok {
					flds = append(flds, core.FieldError{Field: k, Error: s})
				}
			}
		}
	}
	if msg == "" {
		msg = http.StatusText(code)
	}

	switch {
	case code == http.StatusNotFound:
		return collection.NewPermanentError(op, collection.ErrNotFound)
	case code == http.StatusBadRequest:
		if len(flds) > 0 {
			return collection.NewPermanentError(op, core.NewValidationError(nil, flds...))
		}
		return collection.NewPermanentError(op, core.NewValidationError(errors.New(msg)))
	case code >= http.StatusInternalServerError:
		return collection.NewTransientError(op, errors.Errorf("%d %s", code, msg))
	}
	return collection.NewPermanentError(op, errors.Errorf("%d %s", code, msg))
}

// normalize turns the server timestamps back into times.
func normalize(d *collection.Document) {
	for _, fld := range []string{collection.CreatedAtField, collection.UpdatedAtField} {
		if s, ok := d.Fields[fld].(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				d.Fields[fld] = t
			}
		}
	}
}

func (c *Client) List(ctx context.Context, name collection.Name, filter collection.Filter) ([]collection.Document, error) {
	params, err := filterParams(filter)
	if err != nil {
		return nil, collection.NewPermanentError("list", err)
	}
	resp, err := c.send(ctx, "list", rest.Request{Method: rest.Get, BaseURL: c.url(name), QueryParams: params}, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var docs []collection.Document
	if err = json.Unmarshal([]byte(resp.Body), &docs); err != nil {
		return nil, collection.NewPermanentError("list", errors.Wrap(err, "decoding documents"))
	}
	for i := range docs {
		normalize(&docs[i])
	}
	return docs, nil
}

func (c *Client) Get(ctx context.Context, name collection.Name, id string) (collection.Document, error) {
	resp, err := c.send(ctx, "get", rest.Request{Method: rest.Get, BaseURL: c.url(name, id)}, http.StatusOK)
	if err != nil {
		return collection.Document{}, err
	}

	var doc collection.Document
	if err = json.Unmarshal([]byte(resp.Body), &doc); err != nil {
		return collection.Document{}, collection.NewPermanentError("get", errors.Wrap(err, "decoding document"))
	}
	normalize(&doc)
	return doc, nil
}

func (c *Client) Create(ctx context.Context, name collection.Name, flds collection.Fields) (string, error) {
	if flds == nil {
		flds = collection.Fields{}
	}
	body, err := json.Marshal(flds)
	if err != nil {
		return "", collection.NewPermanentError("create", errors.Wrap(err, "encoding fields"))
	}
	resp, err := c.send(ctx, "create", rest.Request{Method: rest.Post, BaseURL: c.url(name), Body: body}, http.StatusCreated)
	if err != nil {
		return "", err
	}

	var created struct {
		ID string `json:"id"`
	}
	if err = json.Unmarshal([]byte(resp.Body), &created); err != nil {
		return "", collection.NewPermanentError("create", errors.Wrap(err, "decoding response"))
	}
	return created.ID, nil
}

func (c *Client) Update(ctx context.Context, name collection.Name, id string, flds collection.Fields) error {
	if flds == nil {
		flds = collection.Fields{}
	}
	body, err := json.Marshal(flds)
	if err != nil {
		return collection.NewPermanentError("update", errors.Wrap(err, "encoding fields"))
	}
	_, err = c.send(ctx, "update", rest.Request{Method: rest.Patch, BaseURL: c.url(name, id), Body: body}, http.StatusNoContent)
	return err
}

func (c *Client) Delete(ctx context.Context, name collection.Name, id string) error {
	_, err := c.send(ctx, "delete", rest.Request{Method: rest.Delete, BaseURL: c.url(name, id)}, http.StatusNoContent)
	return err
}

// feedMessage is one websocket message of the live feed.
type feedMessage struct {
	Docs      []collection.Document `json:"docs"`
	Error     string                `json:"error"`
	Transient bool                  `json:"transient"`
}

// Subscribe opens the websocket feed of name. The connection is closed once ctx is done.
func (c *Client) Subscribe(ctx context.Context, name collection.Name, filter collection.Filter) (<-chan collection.Snapshot, error) {
	params, err := filterParams(filter)
	if err != nil {
		return nil, collection.NewPermanentError("subscribe", err)
	}
	u := c.wsURL + apiPrefix + url.PathEscape(string(name)) + "/feed"
	if params != nil {
		u += "?" + url.Values{"filter": {params["filter"]}}.Encode()
	}

	conn, resp, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
			_ = resp.Body.Close()
			return nil, responseError("subscribe", resp.StatusCode, body)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, collection.NewTransientError("subscribe", err)
	}

	out := make(chan collection.Snapshot)
	go read(ctx, conn, out)
	return out, nil
}

func read(ctx context.Context, conn *websocket.Conn, out chan<- collection.Snapshot) {
	defer close(out)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
			_ = conn.Close()
		}
	}()

	send := func(snap collection.Snapshot) bool {
		select {
		case out <- snap:
			return true
		case <-ctx.Done():
			return false
		}
	}
	for {
		var msg feedMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			send(collection.Snapshot{Err: collection.NewTransientError("subscribe", errors.Wrap(err, "reading feed"))})
			return
		}
		if msg.Error != "" {
			err := errors.New(msg.Error)
			if msg.Transient {
				err = collection.NewTransientError("subscribe", err)
			} else {
				err = collection.NewPermanentError("subscribe", err)
			}
			send(collection.Snapshot{Err: err})
			return
		}
		for i := range msg.Docs {
			normalize(&msg.Docs[i])
		}
		if !send(collection.Snapshot{Docs: msg.Docs}) {
			return
		}
	}
}
