package collection

import (
	"encoding/json"
	"sort"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-dash/core"
)

// Name identifies one of the known remote collections.
type Name string

const (
	Students   Name = "students"
	Teachers   Name = "teachers"
	Parents    Name = "parents"
	Classes    Name = "classes"
	Courses    Name = "courses"
	Payments   Name = "payments"
	Attendance Name = "attendance"
	Grades     Name = "grades"
	Users      Name = "users"
)

var AllNames = []Name{Students, Teachers, Parents, Classes, Courses, Payments, Attendance, Grades, Users}

var errUnknownName = errors.New("unknown collection")

func (n Name) IsValid() bool {
	for _, known := range AllNames {
		if n == known {
			return true
		}
	}
	return false
}

func (n Name) String() string { return string(n) }

// ParseName cleans & checks s against the known collections.
func ParseName(s string) (Name, error) {
	n := Name(core.CleanString(s, true /* lower */))
	if !n.IsValid() {
		return "", core.NewValidationError(errors.Wrapf(errUnknownName, "%q", s), core.FieldError{Field: "collection", Error: "unknown collection"})
	}
	return n, nil
}

// Server maintained fields.
const (
	IDField        = "id"
	CreatedAtField = "createdAt"
	UpdatedAtField = "updatedAt"
)

// Fields maps field names to JSON-like values.
type Fields map[string]interface{}

// Clone returns a shallow copy of flds.
func (flds Fields) Clone() Fields {
	if flds == nil {
		return nil
	}
	c := make(Fields, len(flds))
	for k, v := range flds {
		c[k] = v
	}
	return c
}

// Keys returns the sorted field names.
func (flds Fields) Keys() []string {
	keys := make([]string, 0, len(flds))
	for k := range flds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Document is a record of a remote collection. ID is assigned by the remote store and never changes.
type Document struct {
	ID     string
	Fields Fields
}

// Get returns the value of the named field; "id" resolves to the Document ID.
func (d Document) Get(field string) (interface{}, bool) {
	if field == IDField {
		return d.ID, d.ID != ""
	}
	v, ok := d.Fields[field]
	return v, ok
}

func (d Document) Clone() Document {
	return Document{ID: d.ID, Fields: d.Fields.Clone()}
}

// MarshalJSON flattens the document: {"id": ..., <fields>...}
func (d Document) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(d.Fields)+1)
	for k, v := range d.Fields {
		m[k] = v
	}
	m[IDField] = d.ID
	return json.Marshal(m)
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	d.ID = ""
	if id, ok := m[IDField].(string); ok {
		d.ID = id
	}
	delete(m, IDField)
	d.Fields = m
	return nil
}

// CloneDocuments deep copies docs one level down (each document's Fields map).
func CloneDocuments(docs []Document) []Document {
	if docs == nil {
		return nil
	}
	c := make([]Document, len(docs))
	for i, d := range docs {
		c[i] = d.Clone()
	}
	return c
}

// WithoutID returns docs minus the document identified by id, preserving order.
func WithoutID(docs []Document, id string) []Document {
	res := make([]Document, 0, len(docs))
	for _, d := range docs {
		if d.ID != id {
			res = append(res, d)
		}
	}
	return res
}

// Handle binds a Mirror or Cache instance to a collection and a filter.
type Handle struct {
	Name   Name
	Filter Filter
}

func (h Handle) Equal(other Handle) bool {
	return h.Name == other.Name && h.Filter.Equal(other.Filter)
}

func (h Handle) String() string {
	if h.Filter.Len() == 0 {
		return string(h.Name)
	}
	return string(h.Name) + " where " + h.Filter.String()
}
