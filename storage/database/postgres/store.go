// Package postgres serves collections from the documents table.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-dash/core"
	"github.com/trezcool/masomo-dash/core/collection"
)

type Options struct {
	// DSN is used to open the LISTEN connection of live subscriptions.
	DSN          string
	MinReconnect time.Duration
	MaxReconnect time.Duration
	PingInterval time.Duration
	Logger       core.Logger
}

type Store struct {
	db   core.DBExecutor
	opts Options
}

var _ collection.Service = (*Store)(nil) // interface compliance check

func New(db core.DBExecutor, opts Options) *Store {
	if opts.MinReconnect <= 0 {
		opts.MinReconnect = 10 * time.Second
	}
	if opts.MaxReconnect < opts.MinReconnect {
		opts.MaxReconnect = opts.MinReconnect
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 90 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = core.NopLogger
	}
	return &Store{db: db, opts: opts}
}

// NewFromConfig builds a Store over db using the database settings of conf.
func NewFromConfig(db core.DBExecutor, conf *core.Config, logger core.Logger) *Store {
	return New(db, Options{
		DSN:          conf.Database.URL,
		MinReconnect: conf.Database.MinReconnect,
		MaxReconnect: conf.Database.MaxReconnect,
		Logger:       logger,
	})
}

type row struct {
	ID        string    `db:"id"`
	Data      []byte    `db:"data"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r row) document() (collection.Document, error) {
	flds := make(collection.Fields)
	if len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, &flds); err != nil {
			return collection.Document{}, errors.Wrapf(err, "decoding document %s", r.ID)
		}
	}
	flds[collection.CreatedAtField] = r.CreatedAt.UTC()
	flds[collection.UpdatedAtField] = r.UpdatedAt.UTC()
	return collection.Document{ID: r.ID, Fields: flds}, nil
}

// encode drops the fields kept in columns.
func encode(flds collection.Fields) ([]byte, error) {
	data := make(map[string]interface{}, len(flds))
	for k, v := range flds {
		if _, ok := columns[k]; ok {
			continue
		}
		if t, ok := v.(time.Time); ok {
			v = t.UTC()
		}
		data[k] = v
	}
	return json.Marshal(data)
}

func checkName(op string, name collection.Name) error {
	if name.IsValid() {
		return nil
	}
	err := core.NewValidationError(errors.Errorf("unknown collection %q", name), core.FieldError{Field: "collection", Error: "unknown collection"})
	return collection.NewPermanentError(op, err)
}

// classify tags err as transient or permanent.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "57P01", pqErr.Code == "57P02": // admin & crash shutdown
			return collection.NewTransientError(op, core.NewShutdownError("database shutting down: "+pqErr.Error()))
		case strings.HasPrefix(string(pqErr.Code), "08"), // connection exception
			strings.HasPrefix(string(pqErr.Code), "40"), // transaction rollback
			strings.HasPrefix(string(pqErr.Code), "53"), // insufficient resources
			strings.HasPrefix(string(pqErr.Code), "57P"): // operator intervention
			return collection.NewTransientError(op, err)
		}
		return collection.NewPermanentError(op, err)
	}
	// bad connections & network failures
	return collection.NewTransientError(op, err)
}

func (s *Store) List(ctx context.Context, name collection.Name, filter collection.Filter) ([]collection.Document, error) {
	if err := checkName("list", name); err != nil {
		return nil, err
	}
	q, err := selectDocuments(name, filter)
	if err != nil {
		return nil, collection.NewPermanentError("list", err)
	}

	var rows []row
	if err = s.db.SelectContext(ctx, &rows, q.String(), q.args...); err != nil {
		return nil, classify("list", err)
	}
	docs := make([]collection.Document, 0, len(rows))
	for _, r := range rows {
		d, err := r.document()
		if err != nil {
			return nil, collection.NewPermanentError("list", err)
		}
		docs = append(docs, d)
	}
	return docs, nil
}

func (s *Store) Get(ctx context.Context, name collection.Name, id string) (collection.Document, error) {
	if err := checkName("get", name); err != nil {
		return collection.Document{}, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return collection.Document{}, collection.NewPermanentError("get", collection.ErrNotFound)
	}

	var r row
	err := s.db.GetContext(ctx, &r,
		"SELECT id::text AS id, data, created_at, updated_at FROM documents WHERE collection = $1 AND id = $2",
		string(name), id,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return collection.Document{}, collection.NewPermanentError("get", collection.ErrNotFound)
		}
		return collection.Document{}, classify("get", err)
	}
	d, err := r.document()
	if err != nil {
		return collection.Document{}, collection.NewPermanentError("get", err)
	}
	return d, nil
}

func (s *Store) Create(ctx context.Context, name collection.Name, flds collection.Fields) (string, error) {
	if err := checkName("create", name); err != nil {
		return "", err
	}
	data, err := encode(flds)
	if err != nil {
		return "", collection.NewPermanentError("create", err)
	}

	id := uuid.New().String()
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)",
		string(name), id, data,
	)
	if err != nil {
		return "", classify("create", err)
	}
	return id, nil
}

// Update merges flds into the stored data at the top level.
func (s *Store) Update(ctx context.Context, name collection.Name, id string, flds collection.Fields) error {
	if err := checkName("update", name); err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return collection.NewPermanentError("update", collection.ErrNotFound)
	}
	data, err := encode(flds)
	if err != nil {
		return collection.NewPermanentError("update", err)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE documents SET data = data || $3::jsonb, updated_at = now() WHERE collection = $1 AND id = $2",
		string(name), id, data,
	)
	if err != nil {
		return classify("update", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return collection.NewPermanentError("update", collection.ErrNotFound)
	}
	return nil
}

// Delete removes the document. Deleting a missing document is not an error.
func (s *Store) Delete(ctx context.Context, name collection.Name, id string) error {
	if err := checkName("delete", name); err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE collection = $1 AND id = $2", string(name), id)
	return classify("delete", err)
}
