package engine

import (
	"github.com/panelkit/panelkit/internal/panel"
)

// Variant selects how a transform's output is reassembled.
type Variant uint8

const (
	// RowReducer collapses each group to exactly one row.
	RowReducer Variant = iota + 1

	// ElementwiseMap returns one row per input row, index-aligned with the
	// group's rows.
	ElementwiseMap
)

func (v Variant) String() string {
	switch v {
	case RowReducer:
		return "row_reducer"
	case ElementwiseMap:
		return "elementwise_map"
	default:
		return "unknown"
	}
}

// ReduceFunc collapses a group to one row.
type ReduceFunc func(g Group) (panel.Row, error)

// MapFunc returns len(g.Rows) rows, out[i] corresponding to g.Rows[i].
type MapFunc func(g Group) ([]panel.Row, error)

// Transform is a per-group callback tagged with its variant. The caller picks
// the variant explicitly through Reduce or Map; the pool never infers it from
// the shape of a result.
type Transform struct {
	// Name labels logs, metrics and errors.
	Name string

	// Output is the schema of produced rows. Nil means the input schema.
	Output *panel.Schema

	variant Variant
	reduce  ReduceFunc
	mapf    MapFunc
}

// Reduce builds a RowReducer transform.
func Reduce(name string, fn ReduceFunc) Transform {
	return Transform{Name: name, variant: RowReducer, reduce: fn}
}

// Map builds an ElementwiseMap transform.
func Map(name string, fn MapFunc) Transform {
	return Transform{Name: name, variant: ElementwiseMap, mapf: fn}
}

// WithOutput returns a copy of the transform producing rows of schema s.
func (t Transform) WithOutput(s *panel.Schema) Transform {
	t.Output = s
	return t
}

// Variant returns the transform's variant.
func (t Transform) Variant() Variant { return t.variant }

func (t Transform) valid() bool {
	switch t.variant {
	case RowReducer:
		return t.reduce != nil
	case ElementwiseMap:
		return t.mapf != nil
	default:
		return false
	}
}
