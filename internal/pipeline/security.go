package pipeline

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/panelkit/panelkit/internal/engine"
	"github.com/panelkit/panelkit/internal/errors"
	"github.com/panelkit/panelkit/internal/integrity"
	"github.com/panelkit/panelkit/internal/logging"
	"github.com/panelkit/panelkit/internal/panel"
	"github.com/panelkit/panelkit/internal/storage/config"
)

// Security reads, cleans, gates and persists the security table.
func (p *Pipeline) Security(ctx context.Context) (*panel.Table, error) {
	cfg := p.cfg.Security

	raw, err := p.read(ctx, cfg.DatasetConfig)
	if err != nil {
		return nil, err
	}
	t, err := CleanSecurity(ctx, p.pool, raw, cfg)
	if err != nil {
		return nil, err
	}
	if err := p.gate(ctx, t, cfg.DatasetConfig); err != nil {
		return nil, err
	}
	if err := p.persist(ctx, t, cfg.EntityColumn, cfg.TimeColumn); err != nil {
		return nil, err
	}
	return t, nil
}

// CleanSecurity turns a raw security extract into one row per entity and
// date:
//
//   - only common shares (share code 10-19) are kept
//   - columns are renamed and restricted to the renamed set
//   - split-adjusted price, shares, volume and market cap are derived
//   - share classes of one entity and date are collapsed into one row
//   - rows without a return are dropped
//
// The result is not gated.
func CleanSecurity(ctx context.Context, pool *engine.Pool, raw *panel.Table, cfg config.SecurityConfig) (*panel.Table, error) {
	log := logging.WithContext(ctx)

	common, err := commonShares(raw, cfg.ShareCodeColumn)
	if err != nil {
		return nil, err
	}
	t, err := renameSelect(common, cfg.Rename)
	if err != nil {
		return nil, err
	}
	if t, err = derive(t, false, securityFeatures...); err != nil {
		return nil, err
	}
	if t, err = t.Select(securityColumns(cfg)...); err != nil {
		return nil, err
	}

	t, err = collapseShareClasses(ctx, pool, t, cfg)
	if err != nil {
		return nil, err
	}

	ret, ok := t.Schema.Index(cfg.ReturnColumn)
	if !ok {
		return nil, errors.NewMissingColumn(t.Name, cfg.ReturnColumn)
	}
	before := t.Len()
	t = t.Filter(func(r panel.Row) bool { return !r[ret].IsNull() })

	if t, err = derive(t, false, priceVolume); err != nil {
		return nil, err
	}

	log.Info("security cleaned",
		"raw_rows", raw.Len(),
		"common_rows", common.Len(),
		"missing_return", before-t.Len(),
		"rows", t.Len(),
	)
	return t, nil
}

// commonShares keeps rows whose share code is in 10-19. Rows with a missing
// code are dropped.
func commonShares(t *panel.Table, column string) (*panel.Table, error) {
	j, ok := t.Schema.Index(column)
	if !ok {
		return nil, errors.NewMissingColumn(t.Name, column)
	}
	return t.Filter(func(r panel.Row) bool {
		v := r[j]
		if v.IsNull() {
			return false
		}
		return math.Floor(v.Float()/10) == 1
	}), nil
}

// securityColumns is the cleaned column set: keys, first, added and
// weighted columns, then the weight, each once.
func securityColumns(cfg config.SecurityConfig) []string {
	var out []string
	add := func(names ...string) {
		for _, n := range names {
			if !slices.Contains(out, n) {
				out = append(out, n)
			}
		}
	}
	add(cfg.GroupKeyColumns...)
	add(cfg.Aggregation.First...)
	add(cfg.Aggregation.Add...)
	add(cfg.ValueColumns...)
	add(cfg.Aggregation.Weight)
	return out
}

// collapseShareClasses reduces every duplicated (entity, date) key to one
// row. Unique keys pass through untouched, so the reducer only runs over
// multi-class entities.
func collapseShareClasses(ctx context.Context, pool *engine.Pool, t *panel.Table, cfg config.SecurityConfig) (*panel.Table, error) {
	dups, err := integrity.Duplicates(t, cfg.GroupKeyColumns)
	if err != nil {
		return nil, err
	}
	if len(dups) == 0 {
		return t, nil
	}

	idx, err := t.Schema.Indices(cfg.GroupKeyColumns...)
	if err != nil {
		return nil, err
	}
	dup := integrity.Counts(dups)
	multi := func(r panel.Row) bool { return dup[panel.KeyOf(r, idx).Encode()] > 0 }

	good := t.Filter(func(r panel.Row) bool { return !multi(r) })
	problem := t.Filter(multi)

	tf, err := shareClassReducer(t.Schema, cfg)
	if err != nil {
		return nil, err
	}
	collapsed, err := pool.Apply(ctx, problem, cfg.GroupKeyColumns, tf)
	if err != nil {
		return nil, err
	}

	logging.WithContext(ctx).Info("collapsed share classes",
		"keys", len(dups),
		"rows", problem.Len(),
	)

	out := &panel.Table{Name: t.Name, Schema: t.Schema, Rows: make([]panel.Row, 0, good.Len()+collapsed.Len())}
	out.Rows = append(out.Rows, good.Rows...)
	out.Rows = append(out.Rows, collapsed.Rows...)
	return out, nil
}

// shareClassReducer builds the reducer collapsing the share classes of one
// key. Rows are ranked by weight, largest first, missing last, ties by input
// position. Key and first columns come from the top row, added columns are
// summed with missing as zero, and value columns are averaged by weight over
// the rows where both are present; with no usable weight the top row's value
// is kept.
func shareClassReducer(s *panel.Schema, cfg config.SecurityConfig) (engine.Transform, error) {
	agg := cfg.Aggregation

	w, ok := s.Index(agg.Weight)
	if !ok {
		return engine.Transform{}, errors.NewMissingColumn("share classes", agg.Weight)
	}
	sum, err := floatColumns(s, agg.Add)
	if err != nil {
		return engine.Transform{}, err
	}
	avg, err := floatColumns(s, cfg.ValueColumns)
	if err != nil {
		return engine.Transform{}, err
	}
	if s.Field(w).Kind != panel.KindFloat {
		return engine.Transform{}, fmt.Errorf("weight %q is %s: %w", agg.Weight, s.Field(w).Kind, errors.ErrInvalidSchema)
	}

	return engine.Reduce("collapse_share_classes", func(g engine.Group) (panel.Row, error) {
		order := make([]int, len(g.Rows))
		for i := range order {
			order[i] = i
		}
		slices.SortStableFunc(order, func(a, b int) int {
			wa, wb := g.Rows[a][w].Float(), g.Rows[b][w].Float()
			switch {
			case math.IsNaN(wa) && math.IsNaN(wb):
				return g.Origins[a] - g.Origins[b]
			case math.IsNaN(wa):
				return 1
			case math.IsNaN(wb):
				return -1
			case wa > wb:
				return -1
			case wa < wb:
				return 1
			}
			return g.Origins[a] - g.Origins[b]
		})

		top := g.Rows[order[0]]
		out := top.Clone()

		for _, j := range sum {
			total := 0.0
			for _, r := range g.Rows {
				if v := r[j].Float(); !math.IsNaN(v) {
					total += v
				}
			}
			out[j] = panel.FloatValue(total)
		}

		for _, j := range avg {
			var num, den float64
			for _, r := range g.Rows {
				v, wt := r[j].Float(), r[w].Float()
				if math.IsNaN(v) || math.IsNaN(wt) {
					continue
				}
				num += v * wt
				den += wt
			}
			if den > 0 {
				out[j] = panel.FloatValue(num / den)
			} else {
				out[j] = top[j]
			}
		}
		return out, nil
	}), nil
}

// floatColumns resolves names that must hold floats.
func floatColumns(s *panel.Schema, names []string) ([]int, error) {
	idx, err := s.Indices(names...)
	if err != nil {
		return nil, err
	}
	for k, j := range idx {
		if f := s.Field(j); f.Kind != panel.KindFloat {
			return nil, fmt.Errorf("column %q is %s, want float: %w", names[k], f.Kind, errors.ErrInvalidSchema)
		}
	}
	return idx, nil
}
