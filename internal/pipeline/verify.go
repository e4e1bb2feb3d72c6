package pipeline

import (
	"context"
	"fmt"
	"slices"

	"github.com/panelkit/panelkit/internal/errors"
	"github.com/panelkit/panelkit/internal/integrity"
	"github.com/panelkit/panelkit/internal/logging"
	"github.com/panelkit/panelkit/internal/metrics"
	"github.com/panelkit/panelkit/internal/storage/parquet"
	"github.com/panelkit/panelkit/internal/storage/query"
)

// check is one persisted table and the gates it must still pass on disk.
type check struct {
	table     string
	keys      []string
	entity    string
	time      string
	tolerance int // months; 0 skips the continuity check
}

// Verify re-runs the gates over the persisted files with DuckDB, so a table
// that was edited or truncated after its stage is caught before use.
func (p *Pipeline) Verify(ctx context.Context) error {
	log := logging.WithContext(ctx)

	svc, err := query.New(p.cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	sec, acc := p.cfg.Security, p.cfg.Accounting
	checks := []check{
		{sec.Table, sec.PanelKey(), sec.EntityColumn, sec.TimeColumn, sec.ContinuityToleranceMonths},
		{acc.Table, acc.PanelKey(), acc.EntityColumn, acc.TimeColumn, acc.ContinuityToleranceMonths},
		{p.cfg.Merge.Table, sec.PanelKey(), sec.EntityColumn, sec.TimeColumn, 0},
	}

	for _, c := range checks {
		if err := p.verify(ctx, svc, c); err != nil {
			return err
		}
	}

	st := svc.Stats()
	log.Info("verified tables", "tables", len(checks), "queries", st.QueriesExecuted, "rows_scanned", st.RowsReturned)
	return nil
}

func (p *Pipeline) verify(ctx context.Context, svc *query.Service, c check) error {
	if !p.store.Exists(c.table) {
		return fmt.Errorf("table %s: %w", c.table, errors.ErrNotFound)
	}
	path := p.store.Path(c.table)

	// A file rewritten by another tool lacks the panel schema footer.
	info, err := parquet.GetFileInfo(path)
	if err != nil {
		return fmt.Errorf("table %s: %w", c.table, err)
	}
	n, err := svc.Count(ctx, path)
	if err != nil {
		return err
	}
	if n != info.NumRows {
		return fmt.Errorf("table %s: footer has %d rows, scan returned %d: %w", c.table, info.NumRows, n, errors.ErrInvalidSchema)
	}

	dups, err := svc.Duplicates(ctx, path, c.keys)
	if err != nil {
		return err
	}
	if len(dups) > 0 {
		p.metrics.GateFailed(c.table, metrics.GateUnique)
		e := &errors.DuplicateKeyError{Table: c.table}
		for _, k := range sortedKeys(dups) {
			e.Keys = append(e.Keys, k)
			e.Counts = append(e.Counts, dups[k])
		}
		return e
	}

	if c.tolerance > 0 {
		gaps, err := svc.MaxGaps(ctx, path, c.entity, c.time)
		if err != nil {
			return err
		}
		limit := c.tolerance * integrity.DaysPerMonth
		e := &errors.DiscontinuityError{Table: c.table}
		for _, entity := range sortedKeys(gaps) {
			if gaps[entity] > limit {
				e.Entities = append(e.Entities, entity)
				e.MaxGapDays = append(e.MaxGapDays, gaps[entity])
			}
		}
		if len(e.Entities) > 0 {
			p.metrics.GateFailed(c.table, metrics.GateContinuous)
			return e
		}
	}

	summary, err := svc.Summary(ctx, path, c.entity, c.time)
	if err != nil {
		return err
	}
	logging.WithContext(ctx).Info("table verified",
		"table", c.table,
		"rows", n,
		"entities", summary["entities"],
		"first", summary["first_date"],
		"last", summary["last_date"],
		"row_groups", info.NumRowGroup,
		"bytes", info.Size,
		"path", path,
	)
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
