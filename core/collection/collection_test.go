package collection

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-dash/core"
)

func TestParseName(t *testing.T) {
	tests := []struct {
		in      string
		want    Name
		wantErr bool
	}{
		{"students", Students, false},
		{"  Payments ", Payments, false},
		{"users", Users, false},
		{"unicorns", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseName(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseName() error = %v; wantErr %v", err, tt.wantErr)
			}
			if err != nil && !core.IsValidationError(err) {
				t.Errorf("ParseName() error = %T; want a validation error", err)
			}
			if got != tt.want {
				t.Errorf("ParseName() = %q; want %q", got, tt.want)
			}
		})
	}
}

func TestDocument_JSON(t *testing.T) {
	d := Document{ID: "abc", Fields: Fields{"name": "Ana", "age": 12}}
	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if want := `{"age":12,"id":"abc","name":"Ana"}`; string(data) != want {
		t.Errorf("Marshal() = %s; want %s", data, want)
	}

	var got Document
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.ID != "abc" {
		t.Errorf("ID = %q; want abc", got.ID)
	}
	if _, ok := got.Fields["id"]; ok {
		t.Error("id leaked into Fields")
	}
	if got.Fields["name"] != "Ana" || got.Fields["age"] != 12.0 {
		t.Errorf("Fields = %v", got.Fields)
	}
}

func TestDocument_Clone(t *testing.T) {
	d := Document{ID: "1", Fields: Fields{"name": "Ana"}}
	c := d.Clone()
	c.Fields["name"] = "Bob"
	if d.Fields["name"] != "Ana" {
		t.Error("Clone() shares the fields map")
	}
}

func TestHandle_Equal(t *testing.T) {
	h := Handle{Name: Students, Filter: MustFilter(Where("status", OpEqual, "active"))}
	tests := []struct {
		name  string
		other Handle
		want  bool
	}{
		{"same", Handle{Name: Students, Filter: MustFilter(Where("status", OpEqual, "active"))}, true},
		{"other collection", Handle{Name: Teachers, Filter: MustFilter(Where("status", OpEqual, "active"))}, false},
		{"other filter", Handle{Name: Students}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := h.Equal(tt.other); got != tt.want {
				t.Errorf("Equal() = %v; want %v", got, tt.want)
			}
		})
	}
}

func TestErrorKinds(t *testing.T) {
	base := fmt.Errorf("connection reset")
	tests := []struct {
		name          string
		err           error
		wantTransient bool
		wantNotFound  bool
	}{
		{"transient", NewTransientError("list", base), true, false},
		{"wrapped transient", errors.Wrap(NewTransientError("list", base), "students"), true, false},
		{"permanent", NewPermanentError("create", base), false, false},
		{"not found", NewPermanentError("get", ErrNotFound), false, true},
		{"wrapped not found", errors.Wrap(ErrNotFound, "get"), false, true},
		{"plain", base, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.wantTransient {
				t.Errorf("IsTransient() = %v; want %v", got, tt.wantTransient)
			}
			if got := IsNotFound(tt.err); got != tt.wantNotFound {
				t.Errorf("IsNotFound() = %v; want %v", got, tt.wantNotFound)
			}
		})
	}
}
