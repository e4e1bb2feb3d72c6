package pipeline

import (
	"context"

	"github.com/panelkit/panelkit/internal/engine"
	"github.com/panelkit/panelkit/internal/logging"
	"github.com/panelkit/panelkit/internal/panel"
	"github.com/panelkit/panelkit/internal/perioddiff"
	"github.com/panelkit/panelkit/internal/storage/config"
)

// Accounting reads, cleans, gates and persists the accounting table.
func (p *Pipeline) Accounting(ctx context.Context) (*panel.Table, error) {
	cfg := p.cfg.Accounting

	raw, err := p.read(ctx, cfg.DatasetConfig)
	if err != nil {
		return nil, err
	}
	t, err := CleanAccounting(ctx, p.pool, raw, cfg)
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

// CleanAccounting turns a raw fundamentals extract into one report per
// entity and date:
//
//   - columns are renamed and restricted to the renamed set
//   - of several reports for one key, the one with the fewest missing cells
//     is kept
//   - fiscal-year-to-date value columns become per-period increments
//   - market cap and book equity are derived where their inputs exist
//
// The result is not gated.
func CleanAccounting(ctx context.Context, pool *engine.Pool, raw *panel.Table, cfg config.AccountingConfig) (*panel.Table, error) {
	t, err := renameSelect(raw, cfg.Rename)
	if err != nil {
		return nil, err
	}

	deduped, err := pool.Apply(ctx, t, cfg.GroupKeyColumns, leastMissing())
	if err != nil {
		return nil, err
	}

	if t, err = quarterize(ctx, pool, deduped, cfg); err != nil {
		return nil, err
	}

	if t, err = derive(t, true, accountingFeatures...); err != nil {
		return nil, err
	}

	logging.WithContext(ctx).Info("accounting cleaned",
		"raw_rows", raw.Len(),
		"dropped_reports", raw.Len()-deduped.Len(),
		"rows", t.Len(),
	)
	return t, nil
}

// quarterize turns the year-to-date value columns into per-period
// increments within each entity and fiscal year. With at least one column
// per worker the work is split by column, otherwise by group.
func quarterize(ctx context.Context, pool *engine.Pool, t *panel.Table, cfg config.AccountingConfig) (*panel.Table, error) {
	groups := []string{cfg.EntityColumn, cfg.FiscalYearColumn}
	if len(cfg.ValueColumns) >= pool.Workers() {
		return perioddiff.Columns(ctx, pool, t, groups, cfg.FiscalPeriodColumn, cfg.ValueColumns)
	}
	tf, err := perioddiff.Transform(t.Schema, cfg.FiscalPeriodColumn, cfg.ValueColumns)
	if err != nil {
		return nil, err
	}
	return pool.Apply(ctx, t, groups, tf)
}

// leastMissing keeps the row of a group with the fewest missing cells. Ties
// go to the row that came first in the input.
func leastMissing() engine.Transform {
	return engine.Reduce("least_missing", func(g engine.Group) (panel.Row, error) {
		best := 0
		fewest := panel.MissingCount(g.Rows[0])
		for i := 1; i < len(g.Rows); i++ {
			n := panel.MissingCount(g.Rows[i])
			if n < fewest || (n == fewest && g.Origins[i] < g.Origins[best]) {
				best, fewest = i, n
			}
		}
		return g.Rows[best].Clone(), nil
	})
}
