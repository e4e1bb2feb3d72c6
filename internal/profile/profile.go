// Package profile computes column profiles of panel tables: counts, missing
// cells, range, mean and sketch-based quantiles. Profiles are logged after
// each pipeline stage so a run's output can be eyeballed without opening the
// persisted tables.
package profile

import (
	"context"
	"log/slog"
	"math"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/panelkit/panelkit/internal/engine"
	"github.com/panelkit/panelkit/internal/panel"
)

// DefaultAccuracy is the relative accuracy of quantile sketches.
const DefaultAccuracy = 0.01

// Result is the profile of one numeric column.
type Result struct {
	Column  string
	Count   int64
	Missing int64
	Min     float64
	Max     float64
	Mean    float64

	// Quantiles are nil when no value is present.
	P50 *float64
	P90 *float64
	P99 *float64
}

// HasQuantiles reports whether quantiles are set.
func (r *Result) HasQuantiles() bool {
	return r.P50 != nil
}

// LogValue renders the result as a slog group.
func (r Result) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int64("count", r.Count),
		slog.Int64("missing", r.Missing),
	}
	if r.Count > 0 {
		attrs = append(attrs,
			slog.Float64("min", r.Min),
			slog.Float64("max", r.Max),
			slog.Float64("mean", r.Mean),
		)
	}
	if r.HasQuantiles() {
		attrs = append(attrs,
			slog.Float64("p50", *r.P50),
			slog.Float64("p90", *r.P90),
			slog.Float64("p99", *r.P99),
		)
	}
	return slog.GroupValue(attrs...)
}

// Column maintains running statistics for a single column. A Column is not
// safe for concurrent use: workers fill their own and Merge them afterwards.
type Column struct {
	name     string
	accuracy float64

	// Running statistics
	count   int64
	missing int64
	sum     float64
	min     float64
	max     float64

	// DDSketch for quantiles (nil if it could not be created)
	sketch *ddsketch.DDSketch
}

// NewColumn creates a column profile with the given quantile accuracy.
func NewColumn(name string, accuracy float64) *Column {
	c := &Column{
		name:     name,
		accuracy: accuracy,
		min:      math.MaxFloat64,
		max:      -math.MaxFloat64,
	}

	sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
	if err == nil {
		c.sketch = sketch
	}

	return c
}

// Add adds a present value.
func (c *Column) Add(value float64) {
	c.count++
	c.sum += value

	if value < c.min {
		c.min = value
	}
	if value > c.max {
		c.max = value
	}

	if c.sketch != nil {
		// Values outside the sketch's indexable range still count
		// towards the running statistics.
		_ = c.sketch.Add(value)
	}
}

// AddMissing records a missing cell.
func (c *Column) AddMissing() {
	c.missing++
}

// AddValue adds a panel cell. Non-numeric kinds are counted as missing.
func (c *Column) AddValue(v panel.Value) {
	if v.IsNull() {
		c.AddMissing()
		return
	}
	switch v.Kind() {
	case panel.KindFloat, panel.KindInt:
		c.Add(v.Float())
	default:
		c.AddMissing()
	}
}

// Count returns the number of present values added.
func (c *Column) Count() int64 {
	return c.count
}

// Merge combines another column profile into this one.
func (c *Column) Merge(other *Column) {
	if other == nil {
		return
	}

	c.count += other.count
	c.missing += other.missing
	c.sum += other.sum

	if other.min < c.min {
		c.min = other.min
	}
	if other.max > c.max {
		c.max = other.max
	}

	// Merge sketches
	if c.sketch != nil && other.sketch != nil {
		_ = c.sketch.MergeWith(other.sketch)
	}
}

// Result returns the profile.
func (c *Column) Result() Result {
	r := Result{
		Column:  c.name,
		Count:   c.count,
		Missing: c.missing,
	}

	if c.count > 0 {
		r.Min = c.min
		r.Max = c.max
		r.Mean = c.sum / float64(c.count)
	}

	if c.sketch != nil && !c.sketch.IsEmpty() {
		p50, err50 := c.sketch.GetValueAtQuantile(0.50)
		p90, err90 := c.sketch.GetValueAtQuantile(0.90)
		p99, err99 := c.sketch.GetValueAtQuantile(0.99)
		if err50 == nil && err90 == nil && err99 == nil {
			r.P50, r.P90, r.P99 = &p50, &p90, &p99
		}
	}

	return r
}

// Table profiles every numeric column of t. Rows are split into one slice
// per worker; each (column, slice) pair is one unit of work on pool and the
// partial profiles are merged per column. Results follow schema order.
func Table(ctx context.Context, pool *engine.Pool, t *panel.Table, accuracy float64) ([]Result, error) {
	if accuracy <= 0 || accuracy >= 1 {
		accuracy = DefaultAccuracy
	}

	var idx []int
	for i, f := range t.Schema.Fields() {
		if f.Kind == panel.KindFloat || f.Kind == panel.KindInt {
			idx = append(idx, i)
		}
	}

	parts := min(pool.Workers(), max(t.Len(), 1))
	size := (t.Len() + parts - 1) / parts

	partial := make([]*Column, len(idx)*parts)
	err := pool.Each(ctx, "profile", len(partial), func(ctx context.Context, unit int) error {
		col, part := unit/parts, unit%parts
		j := idx[col]
		lo := min(part*size, t.Len())
		hi := min(lo+size, t.Len())

		c := NewColumn(t.Schema.Field(j).Name, accuracy)
		for _, r := range t.Rows[lo:hi] {
			c.AddValue(r[j])
		}
		partial[unit] = c
		return ctx.Err()
	})
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(idx))
	for col := range idx {
		c := partial[col*parts]
		for part := 1; part < parts; part++ {
			c.Merge(partial[col*parts+part])
		}
		results[col] = c.Result()
	}
	return results, nil
}

// Log writes one Info record per profile.
func Log(logger *slog.Logger, table string, results []Result) {
	for _, r := range results {
		logger.Info("column profile", "table", table, "column", r.Column, "profile", r)
	}
}
