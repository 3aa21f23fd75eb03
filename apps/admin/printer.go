package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/trezcool/masomo-dash/core/collection"
	"github.com/trezcool/masomo-dash/core/view"
)

// printer writes aligned tables to terminals and JSON lines anywhere else.
type printer struct {
	out   io.Writer
	table bool
}

func (cli *commandLine) printer() printer {
	p := printer{out: cli.out}
	if f, ok := cli.out.(*os.File); ok {
		p.table = isTerminalFunc(int(f.Fd()))
	}
	return p
}

type stateLine struct {
	Collection collection.Name       `json:"collection"`
	Filter     collection.Filter     `json:"filter"`
	Loading    bool                  `json:"loading"`
	Error      string                `json:"error,omitempty"`
	Items      []collection.Document `json:"items"`
}

func (p printer) state(st view.State) error {
	if !p.table {
		line := stateLine{
			Collection: st.Handle.Name,
			Filter:     st.Handle.Filter,
			Loading:    st.IsLoading,
			Items:      st.Items,
		}
		if line.Items == nil {
			line.Items = []collection.Document{}
		}
		if st.Err != nil {
			line.Error = st.Err.Error()
		}
		return json.NewEncoder(p.out).Encode(line)
	}

	status := fmt.Sprintf("%d items", len(st.Items))
	switch {
	case st.Err != nil:
		status = "error: " + st.Err.Error()
	case st.IsLoading:
		status = "loading"
	}
	title := st.Handle.Name.String()
	if st.Handle.Filter.Len() > 0 {
		title += " where " + st.Handle.Filter.String()
	}
	if _, err := fmt.Fprintf(p.out, "# %s (%s)\n", title, status); err != nil {
		return err
	}
	return p.docs(st.Items)
}

func (p printer) docs(docs []collection.Document) error {
	if !p.table {
		enc := json.NewEncoder(p.out)
		for _, d := range docs {
			if err := enc.Encode(d); err != nil {
				return err
			}
		}
		return nil
	}

	cols := columns(docs)
	w := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	fmt.Fprint(w, collection.IDField)
	for _, col := range cols {
		fmt.Fprint(w, "\t"+col)
	}
	fmt.Fprintln(w)
	for _, d := range docs {
		fmt.Fprint(w, d.ID)
		for _, col := range cols {
			fmt.Fprint(w, "\t"+cell(d.Fields[col]))
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}

// columns returns the sorted union of the documents' field names.
func columns(docs []collection.Document) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, d := range docs {
		for _, k := range d.Fields.Keys() {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

func cell(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return x.Format(time.RFC3339)
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}
