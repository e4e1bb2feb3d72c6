package panel

import (
	"fmt"

	"github.com/panelkit/panelkit/internal/errors"
)

// Field describes one column.
type Field struct {
	Name string
	Kind Kind

	// Width is the storage width in bits of an integer column (8, 16, 32 or
	// 64). Zero means 64.
	Width int
}

// Schema is an ordered, immutable set of fields. A Schema may be shared
// between tables and goroutines.
type Schema struct {
	fields []Field
	index  map[string]int
}

// NewSchema builds a schema. Field names must be unique and non-empty.
func NewSchema(fields ...Field) (*Schema, error) {
	s := &Schema{
		fields: make([]Field, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("field %d has no name: %w", i, errors.ErrInvalidSchema)
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, fmt.Errorf("field %q declared twice: %w", f.Name, errors.ErrInvalidSchema)
		}
		s.fields[i] = f
		s.index[f.Name] = i
	}
	return s, nil
}

// MustSchema is NewSchema that panics on error.
func MustSchema(fields ...Field) *Schema {
	s, err := NewSchema(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of fields.
func (s *Schema) Len() int { return len(s.fields) }

// Field returns the i-th field.
func (s *Schema) Field(i int) Field { return s.fields[i] }

// Fields returns a copy of the fields.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Names returns the field names in order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.fields))
	for i, f := range s.fields {
		out[i] = f.Name
	}
	return out
}

// Index returns the position of a named field.
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Has reports whether the schema has a field with the given name.
func (s *Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Indices resolves several names at once.
func (s *Schema) Indices(names ...string) ([]int, error) {
	out := make([]int, len(names))
	for i, n := range names {
		idx, ok := s.index[n]
		if !ok {
			return nil, fmt.Errorf("column %q: %w", n, errors.ErrMissingColumn)
		}
		out[i] = idx
	}
	return out, nil
}

// With returns a new schema with fields appended. A field whose name already
// exists replaces the existing definition in place.
func (s *Schema) With(fields ...Field) (*Schema, error) {
	out := s.Fields()
	for _, f := range fields {
		if i, ok := s.index[f.Name]; ok {
			out[i] = f
			continue
		}
		out = append(out, f)
	}
	return NewSchema(out...)
}

// Select returns a schema restricted to the named fields, in the given order.
func (s *Schema) Select(names ...string) (*Schema, error) {
	idx, err := s.Indices(names...)
	if err != nil {
		return nil, err
	}
	out := make([]Field, len(idx))
	for i, j := range idx {
		out[i] = s.fields[j]
	}
	return NewSchema(out...)
}

// Equal reports whether two schemas declare the same fields in the same order.
func (s *Schema) Equal(o *Schema) bool {
	if s == o {
		return true
	}
	if s == nil || o == nil || len(s.fields) != len(o.fields) {
		return false
	}
	for i := range s.fields {
		if s.fields[i] != o.fields[i] {
			return false
		}
	}
	return true
}
