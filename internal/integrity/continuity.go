package integrity

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/panelkit/panelkit/internal/engine"
	"github.com/panelkit/panelkit/internal/errors"
	"github.com/panelkit/panelkit/internal/panel"
)

// DaysPerMonth is the day-count proxy for one month of tolerance. It covers
// 28 to 31 day months without false positives.
const DaysPerMonth = 32

const day = 24 * time.Hour

// MaxGapDays returns the largest gap, in whole days, between consecutive
// timestamps after sorting. Zero or one timestamp has no gap.
func MaxGapDays(ts []time.Time) int {
	if len(ts) < 2 {
		return 0
	}
	sorted := slices.Clone(ts)
	slices.SortFunc(sorted, func(a, b time.Time) int { return a.Compare(b) })

	var gap time.Duration
	for i := 1; i < len(sorted); i++ {
		gap = max(gap, sorted[i].Sub(sorted[i-1]))
	}
	return int(gap / day)
}

// IsContinuous reports whether the largest gap between consecutive
// timestamps of one entity is at most toleranceMonths * DaysPerMonth days.
func IsContinuous(ts []time.Time, toleranceMonths int) bool {
	return MaxGapDays(ts) <= toleranceMonths*DaysPerMonth
}

// Discontinuity is an entity whose time index breaks the tolerance.
type Discontinuity struct {
	Entity     string
	MaxGapDays int
}

var gapSchema = panel.MustSchema(
	panel.Field{Name: "entity", Kind: panel.KindString},
	panel.Field{Name: "max_gap_days", Kind: panel.KindInt},
)

// Discontinuities evaluates IsContinuous per entity, in parallel on pool, and
// returns the entities that fail, ordered by entity. Rows whose timestamp is
// missing are ignored.
func Discontinuities(ctx context.Context, pool *engine.Pool, t *panel.Table, entityColumn, timeColumn string, toleranceMonths int) ([]Discontinuity, error) {
	ti, ok := t.Schema.Index(timeColumn)
	if !ok {
		return nil, errors.NewMissingColumn(t.Name, timeColumn)
	}
	if k := t.Schema.Field(ti).Kind; k != panel.KindDate {
		return nil, fmt.Errorf("%s: time column %q is %s: %w", t.Name, timeColumn, k, errors.ErrInvalidSchema)
	}

	gaps := engine.Reduce("continuity", func(g engine.Group) (panel.Row, error) {
		ts := make([]time.Time, 0, len(g.Rows))
		for _, r := range g.Rows {
			if v := r[ti]; !v.IsNull() {
				ts = append(ts, v.Time())
			}
		}
		return panel.Row{
			panel.StringValue(g.Key.String()),
			panel.IntValue(int64(MaxGapDays(ts))),
		}, nil
	}).WithOutput(gapSchema)

	res, err := pool.Apply(ctx, t, []string{entityColumn}, gaps)
	if err != nil {
		return nil, err
	}

	limit := toleranceMonths * DaysPerMonth
	var out []Discontinuity
	for _, r := range res.Rows {
		if d := int(r[1].Int()); d > limit {
			out = append(out, Discontinuity{Entity: r[0].Text(), MaxGapDays: d})
		}
	}
	slices.SortFunc(out, func(a, b Discontinuity) int { return cmp.Compare(a.Entity, b.Entity) })
	return out, nil
}

// CheckContinuous is the continuity gate. It returns a
// *errors.DiscontinuityError naming every failing entity, or nil.
func CheckContinuous(ctx context.Context, pool *engine.Pool, t *panel.Table, entityColumn, timeColumn string, toleranceMonths int) error {
	bad, err := Discontinuities(ctx, pool, t, entityColumn, timeColumn, toleranceMonths)
	if err != nil {
		return err
	}
	if len(bad) == 0 {
		return nil
	}
	e := &errors.DiscontinuityError{Table: t.Name}
	for _, d := range bad {
		e.Entities = append(e.Entities, d.Entity)
		e.MaxGapDays = append(e.MaxGapDays, d.MaxGapDays)
	}
	return e
}
