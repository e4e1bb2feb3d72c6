package pipeline

import (
	"context"
	"fmt"

	"github.com/panelkit/panelkit/internal/engine"
	"github.com/panelkit/panelkit/internal/errors"
	"github.com/panelkit/panelkit/internal/integrity"
	"github.com/panelkit/panelkit/internal/logging"
	"github.com/panelkit/panelkit/internal/metrics"
	"github.com/panelkit/panelkit/internal/panel"
	"github.com/panelkit/panelkit/internal/storage/config"
)

// Merge loads the persisted security and accounting tables, joins them,
// gates and persists the merged panel.
func (p *Pipeline) Merge(ctx context.Context) (*panel.Table, error) {
	sec, err := p.store.Load(p.cfg.Security.Table)
	if err != nil {
		return nil, err
	}
	acc, err := p.store.Load(p.cfg.Accounting.Table)
	if err != nil {
		return nil, err
	}

	t, err := MergeTables(ctx, p.pool, sec, acc, p.cfg)
	if err != nil {
		return nil, err
	}

	keys := p.cfg.Security.PanelKey()
	if err := integrity.CheckUnique(t, keys); err != nil {
		if errors.IsGate(err) {
			p.metrics.GateFailed(t.Name, metrics.GateUnique)
		}
		return nil, err
	}
	if err := p.persist(ctx, t, keys[0], keys[1]); err != nil {
		return nil, err
	}
	return t, nil
}

// MergeTables left-joins acc onto sec by (entity, date). Every security row
// is kept. Non-key columns present on both sides get the configured
// suffixes. Accounting columns are then carried forward in time within each
// entity, so a quarterly report stays attached to the trading days after it
// until the next report.
func MergeTables(ctx context.Context, pool *engine.Pool, sec, acc *panel.Table, cfg *config.Config) (*panel.Table, error) {
	sk := cfg.Security.PanelKey()
	ak := cfg.Accounting.PanelKey()

	sidx, err := sec.Schema.Indices(sk...)
	if err != nil {
		return nil, errors.Wrap(err, sec.Name)
	}
	aidx, err := acc.Schema.Indices(ak...)
	if err != nil {
		return nil, errors.Wrap(err, acc.Name)
	}

	// Accounting columns carried into the merged table.
	isKey := map[string]bool{ak[0]: true, ak[1]: true}
	var carried []int
	for j, f := range acc.Schema.Fields() {
		if !isKey[f.Name] {
			carried = append(carried, j)
		}
	}

	schema, err := mergedSchema(sec.Schema, acc.Schema, carried, sk, cfg.Merge)
	if err != nil {
		return nil, err
	}

	reports := make(map[string]panel.Row, acc.Len())
	for _, r := range acc.Rows {
		key := panel.KeyOf(r, aidx)
		k := key.Encode()
		if _, dup := reports[k]; dup {
			return nil, fmt.Errorf("%s: key %s: %w", acc.Name, key, errors.ErrDuplicateKey)
		}
		reports[k] = r
	}

	width := sec.Schema.Len()
	out := &panel.Table{Name: cfg.Merge.Table, Schema: schema, Rows: make([]panel.Row, sec.Len())}
	matched := 0
	for i, r := range sec.Rows {
		nr := make(panel.Row, schema.Len())
		copy(nr, r)
		rep, ok := reports[panel.KeyOf(r, sidx).Encode()]
		for k, j := range carried {
			if ok {
				nr[width+k] = rep[j]
			} else {
				nr[width+k] = panel.NullValue(acc.Schema.Field(j).Kind)
			}
		}
		if ok {
			matched++
		}
		out.Rows[i] = nr
	}

	if err := out.SortBy(sk...); err != nil {
		return nil, err
	}
	cols := make([]int, len(carried))
	for k := range carried {
		cols[k] = width + k
	}
	filled, err := pool.Apply(ctx, out, sk[:1], forwardFill(cols))
	if err != nil {
		return nil, err
	}

	logging.WithContext(ctx).Info("merged tables",
		"security_rows", sec.Len(),
		"accounting_rows", acc.Len(),
		"matched", matched,
		"accounting_columns", len(carried),
	)
	return filled, nil
}

// mergedSchema lays out the security fields followed by the carried
// accounting fields, suffixing names that appear on both sides.
func mergedSchema(sec, acc *panel.Schema, carried []int, secKeys []string, mc config.MergeConfig) (*panel.Schema, error) {
	accNames := make(map[string]bool, len(carried))
	for _, j := range carried {
		accNames[acc.Field(j).Name] = true
	}
	isKey := map[string]bool{secKeys[0]: true, secKeys[1]: true}

	fields := sec.Fields()
	clash := make(map[string]bool)
	for i, f := range fields {
		if !isKey[f.Name] && accNames[f.Name] {
			clash[f.Name] = true
			fields[i].Name = f.Name + mc.LeftSuffix
		}
	}
	for _, j := range carried {
		f := acc.Field(j)
		if clash[f.Name] || isKey[f.Name] {
			f.Name += mc.RightSuffix
		}
		fields = append(fields, f)
	}
	return panel.NewSchema(fields...)
}

// forwardFill replaces missing cells of cols with the last present value
// earlier in the group. Groups must arrive in time order.
func forwardFill(cols []int) engine.Transform {
	return engine.Map("forward_fill", func(g engine.Group) ([]panel.Row, error) {
		out := make([]panel.Row, len(g.Rows))
		last := make([]panel.Value, len(cols))
		seen := make([]bool, len(cols))
		for i, r := range g.Rows {
			nr := r.Clone()
			for k, j := range cols {
				if nr[j].IsNull() {
					if seen[k] {
						nr[j] = last[k]
					}
					continue
				}
				last[k], seen[k] = nr[j], true
			}
			out[i] = nr
		}
		return out, nil
	})
}
