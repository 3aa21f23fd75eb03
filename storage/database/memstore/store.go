// Package memstore is an in-memory collection.Service, used in development and tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-dash/core"
	"github.com/trezcool/masomo-dash/core/collection"
)

var (
	// NowFunc stamps createdAt & updatedAt. Tests may replace it.
	NowFunc = func() time.Time { return time.Now().UTC() }

	// NewIDFunc assigns document ids.
	NewIDFunc = func() string { return uuid.New().String() }
)

// Operation names accepted by Store.Fail.
const (
	OpSubscribe = "subscribe"
	OpList      = "list"
	OpGet       = "get"
	OpCreate    = "create"
	OpUpdate    = "update"
	OpDelete    = "delete"
)

type (
	Store struct {
		sync.RWMutex
		tables map[collection.Name]*table
		subs   map[*subscriber]struct{}
		fails  map[string]error
	}

	table struct {
		rows map[string]collection.Fields
	}
)

var _ collection.Service = (*Store)(nil) // interface compliance check

func New() *Store {
	s := &Store{
		tables: make(map[collection.Name]*table, len(collection.AllNames)),
		subs:   make(map[*subscriber]struct{}),
		fails:  make(map[string]error),
	}
	for _, name := range collection.AllNames {
		s.tables[name] = &table{rows: make(map[string]collection.Fields)}
	}
	return s
}

// Fail makes every following call of op return err. A nil err restores the operation.
func (s *Store) Fail(op string, err error) {
	s.Lock()
	defer s.Unlock()
	if err == nil {
		delete(s.fails, op)
		return
	}
	s.fails[op] = err
}

// BreakFeeds ends every live subscription with err.
func (s *Store) BreakFeeds(err error) {
	s.Lock()
	defer s.Unlock()
	for sub := range s.subs {
		sub.push(collection.Snapshot{Err: err})
		delete(s.subs, sub)
	}
}

// check must be called with the lock held.
func (s *Store) check(op string, name collection.Name) (*table, error) {
	if err, ok := s.fails[op]; ok {
		return nil, err
	}
	tbl, ok := s.tables[name]
	if !ok {
		err := core.NewValidationError(errors.Errorf("unknown collection %q", name), core.FieldError{Field: "collection", Error: "unknown collection"})
		return nil, collection.NewPermanentError(op, err)
	}
	return tbl, nil
}

// query returns the documents of tbl matching filter, ordered by (createdAt, id).
func (tbl *table) query(filter collection.Filter) []collection.Document {
	docs := make([]collection.Document, 0, len(tbl.rows))
	for id, flds := range tbl.rows {
		d := collection.Document{ID: id, Fields: flds.Clone()}
		if filter.Matches(d) {
			docs = append(docs, d)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		ti, _ := docs[i].Fields[collection.CreatedAtField].(time.Time)
		tj, _ := docs[j].Fields[collection.CreatedAtField].(time.Time)
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return docs[i].ID < docs[j].ID
	})
	return docs
}

func (s *Store) List(ctx context.Context, name collection.Name, filter collection.Filter) ([]collection.Document, error) {
	s.RLock()
	defer s.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tbl, err := s.check(OpList, name)
	if err != nil {
		return nil, err
	}
	return tbl.query(filter), nil
}

func (s *Store) Get(ctx context.Context, name collection.Name, id string) (collection.Document, error) {
	s.RLock()
	defer s.RUnlock()

	if err := ctx.Err(); err != nil {
		return collection.Document{}, err
	}
	tbl, err := s.check(OpGet, name)
	if err != nil {
		return collection.Document{}, err
	}
	if flds, ok := tbl.rows[id]; ok {
		return collection.Document{ID: id, Fields: flds.Clone()}, nil
	}
	return collection.Document{}, collection.NewPermanentError(OpGet, collection.ErrNotFound)
}

// Create stores flds under a new id. A client supplied "id" is ignored.
func (s *Store) Create(ctx context.Context, name collection.Name, flds collection.Fields) (string, error) {
	s.Lock()
	defer s.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	tbl, err := s.check(OpCreate, name)
	if err != nil {
		return "", err
	}

	row := flds.Clone()
	if row == nil {
		row = make(collection.Fields)
	}
	delete(row, collection.IDField)
	now := NowFunc()
	row[collection.CreatedAtField] = now
	row[collection.UpdatedAtField] = now

	id := NewIDFunc()
	tbl.rows[id] = row
	s.publish(name)
	return id, nil
}

// Update merges flds into the stored document. "id" & "createdAt" cannot be changed.
func (s *Store) Update(ctx context.Context, name collection.Name, id string, flds collection.Fields) error {
	s.Lock()
	defer s.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tbl, err := s.check(OpUpdate, name)
	if err != nil {
		return err
	}
	row, ok := tbl.rows[id]
	if !ok {
		return collection.NewPermanentError(OpUpdate, collection.ErrNotFound)
	}

	row = row.Clone()
	for k, v := range flds {
		if k == collection.IDField || k == collection.CreatedAtField {
			continue
		}
		row[k] = v
	}
	row[collection.UpdatedAtField] = NowFunc()
	tbl.rows[id] = row
	s.publish(name)
	return nil
}

// Delete removes the document. Deleting a missing document is not an error.
func (s *Store) Delete(ctx context.Context, name collection.Name, id string) error {
	s.Lock()
	defer s.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tbl, err := s.check(OpDelete, name)
	if err != nil {
		return err
	}
	if _, ok := tbl.rows[id]; !ok {
		return nil
	}
	delete(tbl.rows, id)
	s.publish(name)
	return nil
}
