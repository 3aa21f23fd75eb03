package collection

import (
	"context"

	"github.com/pkg/errors"
)

// Snapshot is one delivery of a live feed: the full matched set, or a terminal error.
type Snapshot struct {
	Docs []Document
	Err  error
}

// Service is the remote collection store.
//
// Subscribe delivers full snapshots of the documents matching filter, in order.
// A snapshot carrying an error is the last one; the channel is closed after it.
// The channel is also closed once ctx is done.
type Service interface {
	Subscribe(ctx context.Context, name Name, filter Filter) (<-chan Snapshot, error)
	List(ctx context.Context, name Name, filter Filter) ([]Document, error)
	Get(ctx context.Context, name Name, id string) (Document, error)
	Create(ctx context.Context, name Name, flds Fields) (string, error)
	Update(ctx context.Context, name Name, id string, flds Fields) error
	Delete(ctx context.Context, name Name, id string) error
}

var ErrNotFound = errors.New("document not found")

// Kind classifies a service failure.
type Kind int

const (
	Permanent Kind = iota
	Transient
)

func (k Kind) String() string {
	if k == Transient {
		return "transient"
	}
	return "permanent"
}

// Error is a failed service operation.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func NewTransientError(op string, err error) error {
	return &Error{Op: op, Kind: Transient, Err: err}
}

func NewPermanentError(op string, err error) error {
	return &Error{Op: op, Kind: Permanent, Err: err}
}

func (e *Error) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Cause lets errors.Cause reach the underlying error.
func (e *Error) Cause() error { return e.Err }

// IsTransient reports whether err was classified as transient (network, unavailable store...).
func IsTransient(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == Transient
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
