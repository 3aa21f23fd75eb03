package collection

import (
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-dash/core"
)

// Operator compares a document field against a constraint value.
type Operator string

const (
	OpEqual        Operator = "="
	OpNotEqual     Operator = "!="
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
)

// Operators lists the supported operators, longest first so that prefix scans stay unambiguous.
var Operators = []Operator{OpNotEqual, OpGreaterEqual, OpLessEqual, OpEqual, OpGreater, OpLess}

func (op Operator) IsValid() bool {
	switch op {
	case OpEqual, OpNotEqual, OpGreater, OpLess, OpGreaterEqual, OpLessEqual:
		return true
	}
	return false
}

// ParseOperator accepts the supported operators plus "==" as an alias of "=".
func ParseOperator(s string) (Operator, error) {
	s = core.CleanString(s)
	if s == "==" {
		return OpEqual, nil
	}
	if op := Operator(s); op.IsValid() {
		return op, nil
	}
	return "", errors.Errorf("unsupported operator %q", s)
}

// Constraint is a single (field, operator, value) predicate.
type Constraint struct {
	Field string      `json:"field" validate:"notblank"`
	Op    Operator    `json:"op" validate:"operator"`
	Value interface{} `json:"value"`
}

// Where is shorthand for building a Constraint.
func Where(field string, op Operator, value interface{}) Constraint {
	return Constraint{Field: field, Op: op, Value: value}
}

func (c Constraint) String() string {
	return fmt.Sprintf("%s %s %v", c.Field, c.Op, c.Value)
}

func (c Constraint) equal(other Constraint) bool {
	return c.Field == other.Field && c.Op == other.Op && valuesEqual(c.Value, other.Value)
}

// Matches reports whether doc satisfies c. A document lacking the field never matches.
func (c Constraint) Matches(doc Document) bool {
	v, ok := doc.Get(c.Field)
	if !ok {
		return false
	}
	switch c.Op {
	case OpEqual:
		return valuesEqual(v, c.Value)
	case OpNotEqual:
		return !valuesEqual(v, c.Value)
	}
	cmp, ok := compareValues(v, c.Value)
	if !ok {
		return false
	}
	switch c.Op {
	case OpGreater:
		return cmp > 0
	case OpLess:
		return cmp < 0
	case OpGreaterEqual:
		return cmp >= 0
	case OpLessEqual:
		return cmp <= 0
	}
	return false
}

// Filter is an immutable conjunction of constraints. Compare filters with Equal.
type Filter struct {
	constraints []Constraint
}

// NewFilter validates cs and returns the filter matching all of them.
func NewFilter(cs ...Constraint) (Filter, error) {
	for i, c := range cs {
		if err := validate.Struct(c); err != nil {
			err = core.TranslateErrors(err, translator)
			return Filter{}, errors.Wrapf(err, "constraint %d", i)
		}
	}
	if len(cs) == 0 {
		return Filter{}, nil
	}
	return Filter{constraints: append([]Constraint(nil), cs...)}, nil
}

// MustFilter is like NewFilter but panics on invalid constraints.
func MustFilter(cs ...Constraint) Filter {
	f, err := NewFilter(cs...)
	if err != nil {
		panic(err)
	}
	return f
}

// And returns a new filter made of f's constraints followed by cs.
func (f Filter) And(cs ...Constraint) (Filter, error) {
	all := make([]Constraint, 0, len(f.constraints)+len(cs))
	all = append(all, f.constraints...)
	all = append(all, cs...)
	return NewFilter(all...)
}

func (f Filter) Len() int { return len(f.constraints) }

// Constraints returns a copy of the filter's constraints.
func (f Filter) Constraints() []Constraint {
	return append([]Constraint(nil), f.constraints...)
}

// Equal reports whether both filters hold the same constraints in the same order.
func (f Filter) Equal(other Filter) bool {
	if len(f.constraints) != len(other.constraints) {
		return false
	}
	for i := range f.constraints {
		if !f.constraints[i].equal(other.constraints[i]) {
			return false
		}
	}
	return true
}

func (f Filter) Matches(doc Document) bool {
	for _, c := range f.constraints {
		if !c.Matches(doc) {
			return false
		}
	}
	return true
}

// Apply returns the documents of docs matching f, in their original order.
func (f Filter) Apply(docs []Document) []Document {
	res := make([]Document, 0, len(docs))
	for _, d := range docs {
		if f.Matches(d) {
			res = append(res, d)
		}
	}
	return res
}

func (f Filter) String() string {
	parts := make([]string, len(f.constraints))
	for i, c := range f.constraints {
		parts[i] = c.String()
	}
	return strings.Join(parts, " and ")
}

func (f Filter) MarshalJSON() ([]byte, error) {
	if f.constraints == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(f.constraints)
}

func (f *Filter) UnmarshalJSON(data []byte) error {
	var cs []Constraint
	if err := json.Unmarshal(data, &cs); err != nil {
		return err
	}
	for i := range cs {
		if op, err := ParseOperator(string(cs[i].Op)); err == nil {
			cs[i].Op = op
		}
	}
	nf, err := NewFilter(cs...)
	if err != nil {
		return err
	}
	*f = nf
	return nil
}

// ParseFilter decodes a JSON array of constraints. An empty string yields the empty filter.
func ParseFilter(s string) (Filter, error) {
	var f Filter
	if core.CleanString(s) == "" {
		return f, nil
	}
	if err := json.Unmarshal([]byte(s), &f); err != nil {
		if core.IsValidationError(err) {
			return Filter{}, err
		}
		return Filter{}, core.NewValidationError(errors.Wrap(err, "invalid filter"), core.FieldError{Field: "filter", Error: "invalid filter"})
	}
	return f, nil
}

var scanOrder = append([]Operator{"=="}, Operators...)

// ParseConstraint parses expressions such as "status=active" or "age>=12".
// Values are decoded as JSON when possible (numbers, booleans, null, quoted strings), else kept as raw strings.
func ParseConstraint(expr string) (Constraint, error) {
	for i := 0; i < len(expr); i++ {
		for _, op := range scanOrder {
			if !strings.HasPrefix(expr[i:], string(op)) {
				continue
			}
			field := core.CleanString(expr[:i])
			raw := core.CleanString(expr[i+len(op):])
			parsed, err := ParseOperator(string(op))
			if err != nil {
				return Constraint{}, err
			}
			var value interface{}
			if err := json.Unmarshal([]byte(raw), &value); err != nil {
				value = raw
			}
			return Where(field, parsed, value), nil
		}
	}
	return Constraint{}, errors.Errorf("no operator in %q", expr)
}

// value normalization

type valueKind int

const (
	kindOther valueKind = iota
	kindNil
	kindNumber
	kindString
	kindBool
	kindTime
)

func normalize(v interface{}) (interface{}, valueKind) {
	switch x := v.(type) {
	case nil:
		return nil, kindNil
	case string:
		return x, kindString
	case bool:
		return x, kindBool
	case time.Time:
		return x, kindTime
	case *time.Time:
		if x == nil {
			return nil, kindNil
		}
		return *x, kindTime
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f, kindNumber
		}
		return x.String(), kindString
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), kindNumber
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), kindNumber
	case reflect.Float32, reflect.Float64:
		return rv.Float(), kindNumber
	}
	return v, kindOther
}

func parseTime(s string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339Nano, s)
	return t, err == nil
}

// compareValues orders a against b. ok is false when the values are not of a comparable kind.
func compareValues(a, b interface{}) (cmp int, ok bool) {
	na, ka := normalize(a)
	nb, kb := normalize(b)

	// times may travel as RFC3339 strings
	if ka == kindTime && kb == kindString {
		if t, parsed := parseTime(nb.(string)); parsed {
			nb, kb = t, kindTime
		}
	} else if ka == kindString && kb == kindTime {
		if t, parsed := parseTime(na.(string)); parsed {
			na, ka = t, kindTime
		}
	}
	if ka != kb {
		return 0, false
	}

	switch ka {
	case kindNumber:
		if x, ok := integer(a); ok {
			if y, ok := integer(b); ok {
				return x.Cmp(y), true
			}
		}
		x, y := na.(float64), nb.(float64)
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case kindString:
		return strings.Compare(na.(string), nb.(string)), true
	case kindTime:
		return na.(time.Time).Compare(nb.(time.Time)), true
	}
	return 0, false
}

// integer returns v exactly when it is a Go integer or an integral json.Number.
func integer(v interface{}) (*big.Int, bool) {
	if n, ok := v.(json.Number); ok {
		return new(big.Int).SetString(n.String(), 10)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return big.NewInt(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return new(big.Int).SetUint64(rv.Uint()), true
	}
	return nil, false
}

func valuesEqual(a, b interface{}) bool {
	if cmp, ok := compareValues(a, b); ok {
		return cmp == 0
	}
	na, ka := normalize(a)
	nb, kb := normalize(b)
	if ka != kb {
		return false
	}
	switch ka {
	case kindNil:
		return true
	case kindBool:
		return na.(bool) == nb.(bool)
	}
	return reflect.DeepEqual(na, nb)
}
