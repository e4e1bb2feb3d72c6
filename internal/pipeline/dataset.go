package pipeline

import (
	"context"
	"log/slog"
	"unicode/utf8"

	"github.com/panelkit/panelkit/internal/errors"
	"github.com/panelkit/panelkit/internal/ingest"
	"github.com/panelkit/panelkit/internal/integrity"
	"github.com/panelkit/panelkit/internal/logging"
	"github.com/panelkit/panelkit/internal/metrics"
	"github.com/panelkit/panelkit/internal/panel"
	"github.com/panelkit/panelkit/internal/storage/config"
)

// read loads the raw extract of a dataset. Coerced cells are counted in the
// run metrics.
func (p *Pipeline) read(ctx context.Context, ds config.DatasetConfig) (*panel.Table, error) {
	delim, _ := utf8.DecodeRuneInString(ds.Delimiter)

	t, rep, err := ingest.ReadFile(ctx, ds.Input, ds.Table, ingest.Options{
		Delimiter:  delim,
		DateLayout: ds.DateLayout,
		Types: ingest.Types{
			Date:  ds.Types.Date,
			Float: ds.Types.Float,
			Int:   ds.Types.Int,
		},
	})
	if err != nil {
		return nil, err
	}
	p.metrics.Coerced(ds.Table, rep.Coerced)
	return t, nil
}

// renameSelect applies the dataset renames and keeps only renamed columns,
// in rename order.
func renameSelect(t *panel.Table, renames config.Renames) (*panel.Table, error) {
	for _, r := range renames {
		if !t.Schema.Has(r.From) {
			return nil, errors.NewMissingColumn(t.Name, r.From)
		}
	}
	renamed, err := t.Rename(renames.Map())
	if err != nil {
		return nil, err
	}
	return renamed.Select(renames.Targets()...)
}

// gate runs the uniqueness and continuity gates of a cleaned dataset.
func (p *Pipeline) gate(ctx context.Context, t *panel.Table, ds config.DatasetConfig) error {
	log := logging.WithContext(ctx)

	if err := integrity.CheckUnique(t, ds.PanelKey()); err != nil {
		if errors.IsGate(err) {
			p.metrics.GateFailed(t.Name, metrics.GateUnique)
		}
		return err
	}

	err := integrity.CheckContinuous(ctx, p.pool, t, ds.EntityColumn, ds.TimeColumn, ds.ContinuityToleranceMonths)
	if err != nil {
		if errors.IsGate(err) {
			p.metrics.GateFailed(t.Name, metrics.GateContinuous)
		}
		return err
	}

	log.Info("gates passed",
		slog.String("table", t.Name),
		slog.Any("key", ds.PanelKey()),
		slog.Int("tolerance_months", ds.ContinuityToleranceMonths),
	)
	return nil
}
