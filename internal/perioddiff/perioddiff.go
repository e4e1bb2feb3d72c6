// Package perioddiff converts fiscal-year-to-date cumulative figures into
// per-period increments.
//
// A cumulative series holds one value per fiscal period of one entity, fiscal
// year and variable. Missing values are NaN. When at least one value of the
// series is present, missing values count as "no additional contribution"
// (zero) before differencing; a series with no values at all stays missing.
package perioddiff

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/panelkit/panelkit/internal/engine"
	"github.com/panelkit/panelkit/internal/errors"
	"github.com/panelkit/panelkit/internal/panel"
)

// Increments differences a cumulative series ordered by fiscal period.
// out[0] = in[0]; out[i] = in[i] - in[i-1].
func Increments(cum []float64) []float64 {
	out := make([]float64, len(cum))

	allMissing := true
	for _, v := range cum {
		if !math.IsNaN(v) {
			allMissing = false
			break
		}
	}
	if allMissing {
		copy(out, cum)
		return out
	}

	prev := 0.0
	for i, v := range cum {
		if math.IsNaN(v) {
			v = 0
		}
		out[i] = v - prev
		prev = v
	}
	return out
}

// periodOrder returns the positions of rows sorted by fiscal period,
// earliest first. Rows without a period sort last; ties keep input order.
func periodOrder(rows []panel.Row, period int) []int {
	order := make([]int, len(rows))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return panel.Compare(rows[a][period], rows[b][period])
	})
	return order
}

// groupIncrements computes increments of one column of one group and returns
// them index-aligned with rows.
func groupIncrements(rows []panel.Row, period, column int) []float64 {
	order := periodOrder(rows, period)
	cum := make([]float64, len(rows))
	for k, i := range order {
		cum[k] = rows[i][column].Float()
	}
	inc := Increments(cum)
	out := make([]float64, len(rows))
	for k, i := range order {
		out[i] = inc[k]
	}
	return out
}

// resolve finds the period column and the float columns to difference.
func resolve(s *panel.Schema, table, periodColumn string, columns []string) (int, []int, error) {
	period, ok := s.Index(periodColumn)
	if !ok {
		return 0, nil, errors.NewMissingColumn(table, periodColumn)
	}
	cols, err := s.Indices(columns...)
	if err != nil {
		return 0, nil, errors.Wrap(err, table)
	}
	for i, c := range cols {
		if k := s.Field(c).Kind; k != panel.KindFloat {
			return 0, nil, fmt.Errorf("%s: column %q is %s, want float: %w", table, columns[i], k, errors.ErrInvalidSchema)
		}
	}
	return period, cols, nil
}

// Transform returns an ElementwiseMap that replaces every column in columns
// with its per-period increments. The pool must group rows by entity and
// fiscal year; rows are ordered by periodColumn inside each group. Work is
// split by groups, so it suits tables with fewer columns than workers.
func Transform(schema *panel.Schema, periodColumn string, columns []string) (engine.Transform, error) {
	period, cols, err := resolve(schema, "period diff", periodColumn, columns)
	if err != nil {
		return engine.Transform{}, err
	}

	return engine.Map("period_diff", func(g engine.Group) ([]panel.Row, error) {
		out := make([]panel.Row, len(g.Rows))
		for i, r := range g.Rows {
			out[i] = r.Clone()
		}
		for _, c := range cols {
			inc := groupIncrements(g.Rows, period, c)
			for i := range out {
				out[i][c] = panel.FloatValue(inc[i])
			}
		}
		return out, nil
	}), nil
}

// Columns quarterizes every column in columns. Each column is one unit of
// work on the pool: a unit walks every group of the table and produces the
// whole replacement column, so columns are computed in parallel independently
// of the row partitioning. The returned table keeps the input row order.
func Columns(ctx context.Context, pool *engine.Pool, t *panel.Table, groupColumns []string, periodColumn string, columns []string) (*panel.Table, error) {
	period, cols, err := resolve(t.Schema, t.Name, periodColumn, columns)
	if err != nil {
		return nil, err
	}

	groups, err := engine.GroupRows(t, groupColumns)
	if err != nil {
		return nil, err
	}

	results := make([][]float64, len(cols))
	err = pool.Each(ctx, "period_diff", len(cols), func(ctx context.Context, unit int) error {
		col := make([]float64, t.Len())
		for _, g := range groups {
			if err := ctx.Err(); err != nil {
				return err
			}
			inc := groupIncrements(g.Rows, period, cols[unit])
			for i, origin := range g.Origins {
				col[origin] = inc[i]
			}
		}
		results[unit] = col
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := &panel.Table{Name: t.Name, Schema: t.Schema, Rows: make([]panel.Row, t.Len())}
	for i, r := range t.Rows {
		nr := r.Clone()
		for unit, c := range cols {
			nr[c] = panel.FloatValue(results[unit][i])
		}
		out.Rows[i] = nr
	}
	return out, nil
}
