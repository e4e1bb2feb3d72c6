// Package ingest reads delimited text extracts into panel tables.
//
// Each column is coerced to its declared type. A cell that does not parse
// becomes a missing value and is counted in the Report; coercion never
// fails a read. Columns without a declared type are kept as strings.
package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/panelkit/panelkit/internal/errors"
	"github.com/panelkit/panelkit/internal/logging"
	"github.com/panelkit/panelkit/internal/panel"
)

// Types declares column types by raw column name.
type Types struct {
	Date  []string
	Float []string
	Int   []string
}

// kindOf returns the declared kind of column, or KindString.
func (t Types) kindOf(column string) panel.Kind {
	switch {
	case slices.Contains(t.Date, column):
		return panel.KindDate
	case slices.Contains(t.Float, column):
		return panel.KindFloat
	case slices.Contains(t.Int, column):
		return panel.KindInt
	default:
		return panel.KindString
	}
}

// Options configures a read.
type Options struct {
	// Delimiter separates fields. Defaults to tab.
	Delimiter rune

	// DateLayout is the Go layout of date cells. Parsed dates are rolled
	// forward to month end.
	DateLayout string

	// Types declares column types.
	Types Types
}

// Report summarizes one read.
type Report struct {
	Table string
	Rows  int

	// Coerced counts, per column, the non-empty cells that failed to parse
	// and were stored as missing.
	Coerced map[string]int

	// IntWidths holds the narrowest signed width (8, 16, 32 or 64) that
	// fits every present value of each integer column.
	IntWidths map[string]int
}

// TotalCoerced returns the number of coerced cells across all columns.
func (r *Report) TotalCoerced() int {
	n := 0
	for _, c := range r.Coerced {
		n += c
	}
	return n
}

const ctxCheckInterval = 10000

// ReadFile reads the extract at path into a table named name.
func ReadFile(ctx context.Context, path, name string, opts Options) (*panel.Table, *Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Read(ctx, f, name, opts)
}

// Read reads a delimited extract with a header row into a table named name.
func Read(ctx context.Context, r io.Reader, name string, opts Options) (*panel.Table, *Report, error) {
	log := logging.Component("ingest").With("table", name)
	start := time.Now()

	if opts.Delimiter == 0 {
		opts.Delimiter = '\t'
	}

	cr := csv.NewReader(r)
	cr.Comma = opts.Delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil, fmt.Errorf("%s: empty input: %w", name, errors.ErrInvalidSchema)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%s: read header: %w", name, err)
	}
	header = slices.Clone(header)
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
	}

	for _, declared := range [][]string{opts.Types.Date, opts.Types.Float, opts.Types.Int} {
		for _, col := range declared {
			if !slices.Contains(header, col) {
				return nil, nil, errors.NewMissingColumn(name, col)
			}
		}
	}

	kinds := make([]panel.Kind, len(header))
	fields := make([]panel.Field, len(header))
	for i, h := range header {
		kinds[i] = opts.Types.kindOf(h)
		fields[i] = panel.Field{Name: h, Kind: kinds[i]}
	}

	report := &Report{Table: name, Coerced: make(map[string]int), IntWidths: make(map[string]int)}
	widths := make([]int, len(header))

	var rows []panel.Row
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, nil, fmt.Errorf("%s: line %d: %w", name, line, err)
		}
		if len(rec) > len(header) {
			return nil, nil, fmt.Errorf("%s: line %d: got %d fields for %d columns: %w", name, line, len(rec), len(header), errors.ErrRowWidth)
		}

		row := make(panel.Row, len(header))
		for i := range header {
			cell := ""
			if i < len(rec) {
				cell = rec[i]
			}
			v, ok := coerce(cell, kinds[i], opts.DateLayout)
			if !ok {
				report.Coerced[header[i]]++
			}
			if kinds[i] == panel.KindInt && !v.IsNull() {
				widths[i] = max(widths[i], intWidth(v.Int()))
			}
			row[i] = v
		}
		rows = append(rows, row)

		if len(rows)%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
		}
	}

	for i, k := range kinds {
		if k != panel.KindInt {
			continue
		}
		w := max(widths[i], 8)
		fields[i].Width = w
		report.IntWidths[header[i]] = w
	}

	schema, err := panel.NewSchema(fields...)
	if err != nil {
		return nil, nil, errors.Wrap(err, name)
	}
	report.Rows = len(rows)

	for _, col := range header {
		if n := report.Coerced[col]; n > 0 {
			log.Debug("coerced cells to missing", "column", col, "cells", n, "error", errors.ErrTypeCoercion)
		}
	}
	log.Info("read table",
		slog.Int("rows", report.Rows),
		slog.Int("columns", len(header)),
		slog.Int("coerced", report.TotalCoerced()),
		slog.Duration("elapsed", time.Since(start)),
	)

	return &panel.Table{Name: name, Schema: schema, Rows: rows}, report, nil
}

// coerce parses one cell. ok is false when a non-empty cell failed to
// parse; the returned value is then missing.
func coerce(cell string, kind panel.Kind, dateLayout string) (panel.Value, bool) {
	if kind == panel.KindString {
		if cell == "" {
			return panel.NullValue(kind), true
		}
		return panel.StringValue(cell), true
	}

	s := strings.TrimSpace(cell)
	if s == "" {
		return panel.NullValue(kind), true
	}

	switch kind {
	case panel.KindDate:
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return panel.NullValue(kind), false
		}
		return panel.DateValue(panel.MonthEnd(t)), true

	case panel.KindFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return panel.NullValue(kind), false
		}
		return panel.FloatValue(f), true

	case panel.KindInt:
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return panel.IntValue(i), true
		}
		// "12.0" is an integer written as a float.
		f, err := strconv.ParseFloat(s, 64)
		// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
		if err != nil || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return panel.NullValue(kind), false
		}
		return panel.IntValue(int64(f)), true
	}

	return panel.NullValue(kind), false
}

// intWidth returns the narrowest signed width that holds v.
func intWidth(v int64) int {
	switch {
	case v >= math.MinInt8 && v <= math.MaxInt8:
		return 8
	case v >= math.MinInt16 && v <= math.MaxInt16:
		return 16
	case v >= math.MinInt32 && v <= math.MaxInt32:
		return 32
	default:
		return 64
	}
}
