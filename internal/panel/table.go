package panel

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/panelkit/panelkit/internal/errors"
)

// Row is one observation. Rows are treated as immutable once a stage has
// produced them; stages that change values build new rows.
type Row []Value

// Clone returns a copy of the row.
func (r Row) Clone() Row {
	return slices.Clone(r)
}

// Key is an ordered tuple of cells identifying a group.
type Key []Value

// String joins the key cells with "|".
func (k Key) String() string {
	parts := make([]string, len(k))
	for i, v := range k {
		parts[i] = v.String()
	}
	return strings.Join(parts, "|")
}

// Encode renders the key as a map key that two keys share only if they
// compare equal. Each cell is written as its kind, a presence flag and its
// length-prefixed text, so separators inside cell text cannot collide.
func (k Key) Encode() string {
	var b strings.Builder
	for _, v := range k {
		b.WriteByte(byte(v.kind))
		if v.IsNull() {
			b.WriteByte('-')
			continue
		}
		s := v.String()
		if v.kind == KindFloat && v.f == 0 {
			s = "0" // -0 compares equal to 0
		}
		b.WriteByte('+')
		b.WriteString(strconv.Itoa(len(s)))
		b.WriteByte(':')
		b.WriteString(s)
	}
	return b.String()
}

// CompareKeys orders keys lexicographically cell by cell.
func CompareKeys(a, b Key) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

// KeyOf extracts the cells at idx from r.
func KeyOf(r Row, idx []int) Key {
	k := make(Key, len(idx))
	for i, j := range idx {
		k[i] = r[j]
	}
	return k
}

// Table is an ordered collection of rows sharing a schema.
type Table struct {
	Name   string
	Schema *Schema
	Rows   []Row
}

// NewTable creates an empty table.
func NewTable(name string, schema *Schema) *Table {
	return &Table{Name: name, Schema: schema}
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// Append adds a row after checking its width.
func (t *Table) Append(r Row) error {
	if len(r) != t.Schema.Len() {
		return fmt.Errorf("%s: got %d values for %d fields: %w", t.Name, len(r), t.Schema.Len(), errors.ErrRowWidth)
	}
	t.Rows = append(t.Rows, r)
	return nil
}

// MustAppend is Append that panics on error.
func (t *Table) MustAppend(values ...Value) *Table {
	if err := t.Append(Row(values)); err != nil {
		panic(err)
	}
	return t
}

// Clone returns a deep copy of the table. The schema is shared.
func (t *Table) Clone() *Table {
	out := &Table{Name: t.Name, Schema: t.Schema, Rows: make([]Row, len(t.Rows))}
	for i, r := range t.Rows {
		out.Rows[i] = r.Clone()
	}
	return out
}

// Get returns the named cell of row i.
func (t *Table) Get(i int, column string) (Value, error) {
	j, ok := t.Schema.Index(column)
	if !ok {
		return Value{}, errors.NewMissingColumn(t.Name, column)
	}
	return t.Rows[i][j], nil
}

// Column returns a copy of the named column.
func (t *Table) Column(name string) ([]Value, error) {
	j, ok := t.Schema.Index(name)
	if !ok {
		return nil, errors.NewMissingColumn(t.Name, name)
	}
	out := make([]Value, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r[j]
	}
	return out, nil
}

// SortBy stably sorts the rows by the named columns.
func (t *Table) SortBy(columns ...string) error {
	idx, err := t.Schema.Indices(columns...)
	if err != nil {
		return errors.Wrap(err, t.Name)
	}
	slices.SortStableFunc(t.Rows, func(a, b Row) int {
		for _, j := range idx {
			if c := Compare(a[j], b[j]); c != 0 {
				return c
			}
		}
		return 0
	})
	return nil
}

// Filter returns a new table holding the rows for which keep returns true.
// Rows are shared with the receiver.
func (t *Table) Filter(keep func(Row) bool) *Table {
	out := &Table{Name: t.Name, Schema: t.Schema}
	for _, r := range t.Rows {
		if keep(r) {
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}

// Derive returns a new table with one column added (or replaced) whose
// values are computed from each row.
func (t *Table) Derive(f Field, fn func(Row) Value) (*Table, error) {
	schema, err := t.Schema.With(f)
	if err != nil {
		return nil, err
	}
	j, _ := schema.Index(f.Name)
	out := &Table{Name: t.Name, Schema: schema, Rows: make([]Row, len(t.Rows))}
	for i, r := range t.Rows {
		nr := make(Row, schema.Len())
		copy(nr, r)
		nr[j] = fn(r)
		out.Rows[i] = nr
	}
	return out, nil
}

// Select returns a new table restricted to the named columns.
func (t *Table) Select(columns ...string) (*Table, error) {
	schema, err := t.Schema.Select(columns...)
	if err != nil {
		return nil, errors.Wrap(err, t.Name)
	}
	idx, _ := t.Schema.Indices(columns...)
	out := &Table{Name: t.Name, Schema: schema, Rows: make([]Row, len(t.Rows))}
	for i, r := range t.Rows {
		nr := make(Row, len(idx))
		for k, j := range idx {
			nr[k] = r[j]
		}
		out.Rows[i] = nr
	}
	return out, nil
}

// Rename returns a new table whose fields are renamed according to names.
// Columns absent from names keep their name.
func (t *Table) Rename(names map[string]string) (*Table, error) {
	fields := t.Schema.Fields()
	for i, f := range fields {
		if n, ok := names[f.Name]; ok {
			fields[i].Name = n
		}
	}
	schema, err := NewSchema(fields...)
	if err != nil {
		return nil, errors.Wrap(err, t.Name)
	}
	return &Table{Name: t.Name, Schema: schema, Rows: t.Rows}, nil
}

// MissingCount returns the number of missing cells in r.
func MissingCount(r Row) int {
	n := 0
	for _, v := range r {
		if v.IsNull() {
			n++
		}
	}
	return n
}
