package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/trezcool/masomo-dash/core/collection"
	"github.com/trezcool/masomo-dash/storage/database/memstore"
)

// FreezeClock makes memstore timestamps start at 2021-09-01 08:00 UTC and advance one minute per write,
// so documents list in creation order.
func FreezeClock(t *testing.T) {
	clock := time.Date(2021, 9, 1, 8, 0, 0, 0, time.UTC)
	now := memstore.NowFunc
	memstore.NowFunc = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	t.Cleanup(func() { memstore.NowFunc = now })
}

// CreateDocument creates a document through svc and returns it as stored.
func CreateDocument(t *testing.T, svc collection.Service, name collection.Name, flds collection.Fields) collection.Document {
	t.Helper()
	ctx := context.Background()
	id, err := svc.Create(ctx, name, flds)
	if err != nil {
		t.Fatalf("CreateDocument() failed: %v", err)
	}
	doc, err := svc.Get(ctx, name, id)
	if err != nil {
		t.Fatalf("CreateDocument() failed: %v", err)
	}
	return doc
}
