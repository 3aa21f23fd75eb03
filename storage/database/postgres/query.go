package postgres

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-dash/core"
	"github.com/trezcool/masomo-dash/core/collection"
)

var (
	// fields stored in their own columns
	columns = map[string]string{
		collection.IDField:        "id",
		collection.CreatedAtField: "created_at",
		collection.UpdatedAtField: "updated_at",
	}

	defaultOrdering = []core.DBOrdering{{Field: "created_at", Ascending: true}, {Field: "id", Ascending: true}}
)

// query accumulates an SQL statement and its positional arguments.
type query struct {
	sb   strings.Builder
	args []interface{}
}

func (q *query) arg(v interface{}) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

func (q *query) String() string { return q.sb.String() }

// selectDocuments builds the listing query of name's documents matching filter.
func selectDocuments(name collection.Name, filter collection.Filter) (*query, error) {
	q := new(query)
	q.sb.WriteString("SELECT id::text AS id, data, created_at, updated_at FROM documents WHERE collection = ")
	q.sb.WriteString(q.arg(string(name)))
	for _, c := range filter.Constraints() {
		pred, err := q.predicate(c)
		if err != nil {
			return nil, err
		}
		q.sb.WriteString(" AND ")
		q.sb.WriteString(pred)
	}
	q.sb.WriteString(" ORDER BY ")
	for i, o := range defaultOrdering {
		if i > 0 {
			q.sb.WriteString(", ")
		}
		q.sb.WriteString(o.String())
	}
	return q, nil
}

type jsonKind int

const (
	jsonNull jsonKind = iota
	jsonBool
	jsonNumber
	jsonString
	jsonTime
	jsonComposite
)

func kindOf(v interface{}) (jsonKind, []byte, error) {
	switch v.(type) {
	case time.Time, *time.Time:
		data, err := json.Marshal(v)
		return jsonTime, data, err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return 0, nil, err
	}
	switch data[0] {
	case 'n':
		return jsonNull, data, nil
	case 't', 'f':
		return jsonBool, data, nil
	case '"':
		return jsonString, data, nil
	case '{', '[':
		return jsonComposite, data, nil
	}
	return jsonNumber, data, nil
}

var sqlOps = map[collection.Operator]string{
	collection.OpEqual:        "=",
	collection.OpNotEqual:     "<>",
	collection.OpGreater:      ">",
	collection.OpLess:         "<",
	collection.OpGreaterEqual: ">=",
	collection.OpLessEqual:    "<=",
}

// predicate translates c. A document lacking the field never matches.
func (q *query) predicate(c collection.Constraint) (string, error) {
	op, ok := sqlOps[c.Op]
	if !ok {
		return "", errors.Errorf("unsupported operator %q", c.Op)
	}
	kind, data, err := kindOf(c.Value)
	if err != nil {
		return "", errors.Wrapf(err, "encoding value of %s", c.Field)
	}

	if col, ok := columns[c.Field]; ok {
		return q.columnPredicate(col, op, kind, c.Value)
	}

	field := q.arg(c.Field)
	switch c.Op {
	case collection.OpEqual:
		return fmt.Sprintf("data -> %s = %s::jsonb", field, q.arg(string(data))), nil
	case collection.OpNotEqual:
		return fmt.Sprintf("(data -> %s IS NOT NULL AND data -> %s <> %s::jsonb)", field, field, q.arg(string(data))), nil
	}

	switch kind {
	case jsonNumber:
		return fmt.Sprintf("(jsonb_typeof(data -> %s) = 'number' AND data -> %s %s %s::jsonb)", field, field, op, q.arg(string(data))), nil
	case jsonString:
		var s string
		_ = json.Unmarshal(data, &s)
		return fmt.Sprintf(`(jsonb_typeof(data -> %s) = 'string' AND (data ->> %s) COLLATE "C" %s %s)`, field, field, op, q.arg(s)), nil
	case jsonTime:
		return fmt.Sprintf(
			`(CASE WHEN jsonb_typeof(data -> %s) = 'string' AND (data ->> %s) ~ '^\d{4}-\d{2}-\d{2}T' THEN (data ->> %s)::timestamptz END) %s %s`,
			field, field, field, op, q.arg(c.Value),
		), nil
	}
	// ordering booleans, nulls or composites never matches
	return "FALSE", nil
}

func (q *query) columnPredicate(col, op string, kind jsonKind, value interface{}) (string, error) {
	if col == "id" {
		if kind != jsonString {
			if op == "<>" {
				return "TRUE", nil
			}
			return "FALSE", nil
		}
		return fmt.Sprintf(`id::text COLLATE "C" %s %s`, op, q.arg(value)), nil
	}

	switch kind {
	case jsonTime:
		return fmt.Sprintf("%s %s %s", col, op, q.arg(value)), nil
	case jsonString:
		s := value.(string)
		if _, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return fmt.Sprintf("%s %s %s::timestamptz", col, op, q.arg(s)), nil
		}
	}
	if op == "<>" {
		return "TRUE", nil
	}
	return "FALSE", nil
}
