package perioddiff

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panelkit/panelkit/internal/engine"
	"github.com/panelkit/panelkit/internal/errors"
	"github.com/panelkit/panelkit/internal/panel"
)

var nan = math.NaN()

func TestIncrements(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want []float64
	}{
		{"cumulative", []float64{10, 15, 22, 22}, []float64{10, 5, 7, 0}},
		{"mixed missing", []float64{nan, 5, nan, 9}, []float64{0, 5, -5, 9}},
		{"single", []float64{4}, []float64{4}},
		{"empty", []float64{}, []float64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Increments(tt.in))
		})
	}
}

func TestIncrements_AllMissing(t *testing.T) {
	got := Increments([]float64{nan, nan, nan})
	require.Len(t, got, 3)
	for i, v := range got {
		assert.True(t, math.IsNaN(v), "entry %d should stay missing, got %v", i, v)
	}
}

var cfSchema = panel.MustSchema(
	panel.Field{Name: "Permco", Kind: panel.KindInt},
	panel.Field{Name: "Fiscal Year", Kind: panel.KindInt},
	panel.Field{Name: "Fiscal Quarter", Kind: panel.KindInt},
	panel.Field{Name: "Capex", Kind: panel.KindFloat},
	panel.Field{Name: "Cash Dividends", Kind: panel.KindFloat},
)

func f(v float64) panel.Value { return panel.FloatValue(v) }

// cashflowTable stores quarters out of order so that the transform has to
// order by fiscal quarter rather than by position.
func cashflowTable() *panel.Table {
	tbl := panel.NewTable("compustat", cfSchema)
	i := panel.IntValue
	missing := panel.NullValue(panel.KindFloat)
	tbl.MustAppend(i(1), i(2019), i(3), f(22), missing)
	tbl.MustAppend(i(1), i(2019), i(1), f(10), missing)
	tbl.MustAppend(i(2), i(2019), i(1), missing, f(1))
	tbl.MustAppend(i(1), i(2019), i(4), f(22), missing)
	tbl.MustAppend(i(1), i(2019), i(2), f(15), missing)
	tbl.MustAppend(i(2), i(2019), i(2), f(5), f(3))
	tbl.MustAppend(i(1), i(2020), i(1), f(3), f(2))
	return tbl
}

func TestColumns(t *testing.T) {
	pool, err := engine.NewPool(engine.Options{Workers: 2})
	require.NoError(t, err)

	tbl := cashflowTable()
	out, err := Columns(context.Background(), pool, tbl, []string{"Permco", "Fiscal Year"}, "Fiscal Quarter", []string{"Capex", "Cash Dividends"})
	require.NoError(t, err)
	require.Equal(t, tbl.Len(), out.Len())

	capex := func(row int) float64 { return out.Rows[row][3].Float() }
	div := func(row int) panel.Value { return out.Rows[row][4] }

	// Permco 1 / 2019 in quarter order: 10, 15, 22, 22 -> 10, 5, 7, 0
	assert.Equal(t, 10.0, capex(1))
	assert.Equal(t, 5.0, capex(4))
	assert.Equal(t, 7.0, capex(0))
	assert.Equal(t, 0.0, capex(3))

	// Dividends never reported for Permco 1 / 2019: stay missing.
	for _, row := range []int{0, 1, 3, 4} {
		assert.True(t, div(row).IsNull(), "row %d", row)
	}

	// Permco 2 / 2019 capex: missing, 5 -> 0, 5. Dividends 1, 3 -> 1, 2.
	assert.Equal(t, 0.0, capex(2))
	assert.Equal(t, 5.0, capex(5))
	assert.Equal(t, 1.0, div(2).Float())
	assert.Equal(t, 2.0, div(5).Float())

	// A new fiscal year resets the cumulation.
	assert.Equal(t, 3.0, capex(6))

	// Input untouched.
	assert.Equal(t, 22.0, tbl.Rows[0][3].Float())
}

func TestTransformMatchesColumns(t *testing.T) {
	tbl := cashflowTable()
	columns := []string{"Capex", "Cash Dividends"}

	pool, err := engine.NewPool(engine.Options{Workers: 3})
	require.NoError(t, err)

	byColumn, err := Columns(context.Background(), pool, tbl, []string{"Permco", "Fiscal Year"}, "Fiscal Quarter", columns)
	require.NoError(t, err)

	tf, err := Transform(tbl.Schema, "Fiscal Quarter", columns)
	require.NoError(t, err)
	byRows, err := pool.Apply(context.Background(), tbl, []string{"Permco", "Fiscal Year"}, tf)
	require.NoError(t, err)

	key := func(r panel.Row) string { return panel.KeyOf(r, []int{0, 1, 2}).String() }
	want := make(map[string]panel.Row)
	for _, r := range byColumn.Rows {
		want[key(r)] = r
	}
	require.Equal(t, len(want), byRows.Len())
	for _, r := range byRows.Rows {
		assert.Equal(t, want[key(r)], r)
	}
}

func TestColumns_RejectsNonFloat(t *testing.T) {
	pool, err := engine.NewPool(engine.Options{Workers: 1})
	require.NoError(t, err)

	_, err = Columns(context.Background(), pool, cashflowTable(), []string{"Permco"}, "Fiscal Quarter", []string{"Fiscal Year"})
	assert.ErrorIs(t, err, errors.ErrInvalidSchema)

	_, err = Columns(context.Background(), pool, cashflowTable(), []string{"Permco"}, "Quarter", []string{"Capex"})
	assert.ErrorIs(t, err, errors.ErrMissingColumn)

	_, err = Transform(cashflowTable().Schema, "Fiscal Quarter", []string{"Fiscal Year"})
	assert.ErrorIs(t, err, errors.ErrInvalidSchema)
}
