// Package testutil provides test utilities for panelkit: panel fixtures,
// raw extract files and a safe way to assert from goroutines.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/panelkit/panelkit/internal/panel"
)

// =============================================================================
// Error Channel Pattern
// =============================================================================

// GoroutineTest collects errors from goroutines started by a test.
//
// Using t.Fatal or t.FailNow in a goroutine causes the test to hang because
// these functions call runtime.Goexit() which only exits the current goroutine,
// not the test goroutine. Goroutines started through Go return an error
// instead, and Wait reports them all.
//
//	gt := testutil.NewGoroutineTest(t, 5*time.Second)
//	defer gt.Wait()
//
//	gt.Go(func(ctx context.Context) error {
//	    out, err := pool.Run(ctx, part, tf)
//	    if err != nil {
//	        return fmt.Errorf("run: %w", err)
//	    }
//	    ...
//	})
type GoroutineTest struct {
	t      testing.TB
	wg     sync.WaitGroup
	mu     sync.Mutex
	errs   []error
	ctx    context.Context
	cancel context.CancelFunc
}

// NewGoroutineTest creates a GoroutineTest whose context expires after
// timeout.
func NewGoroutineTest(t testing.TB, timeout time.Duration) *GoroutineTest {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return &GoroutineTest{
		t:      t,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Go runs fn in a goroutine and records its error.
func (gt *GoroutineTest) Go(fn func(ctx context.Context) error) {
	gt.wg.Add(1)
	go func() {
		defer gt.wg.Done()
		if err := fn(gt.ctx); err != nil {
			gt.mu.Lock()
			gt.errs = append(gt.errs, err)
			gt.mu.Unlock()
		}
	}()
}

// Wait waits for all goroutines and fails the test if any returned an error.
func (gt *GoroutineTest) Wait() {
	gt.t.Helper()

	gt.wg.Wait()
	gt.cancel()

	if len(gt.errs) > 0 {
		gt.t.Errorf("Goroutine test failed with %d error(s):", len(gt.errs))
		for i, err := range gt.errs {
			gt.t.Errorf("  [%d] %v", i+1, err)
		}
		gt.t.FailNow()
	}
}

// =============================================================================
// Panel fixtures
// =============================================================================

// Table builds a table from string cells. Each cell is parsed according to
// its field kind; "" is a missing cell. Dates use panel.DateLayout.
func Table(t testing.TB, name string, fields []panel.Field, rows ...[]string) *panel.Table {
	t.Helper()

	schema, err := panel.NewSchema(fields...)
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	tbl := panel.NewTable(name, schema)
	for i, cells := range rows {
		if len(cells) != len(fields) {
			t.Fatalf("row %d: got %d cells for %d fields", i, len(cells), len(fields))
		}
		row := make(panel.Row, len(fields))
		for j, c := range cells {
			v, err := parse(c, fields[j].Kind)
			if err != nil {
				t.Fatalf("row %d column %s: %v", i, fields[j].Name, err)
			}
			row[j] = v
		}
		if err := tbl.Append(row); err != nil {
			t.Fatalf("append row %d: %v", i, err)
		}
	}
	return tbl
}

func parse(s string, kind panel.Kind) (panel.Value, error) {
	if s == "" {
		return panel.NullValue(kind), nil
	}
	switch kind {
	case panel.KindFloat:
		var f float64
		_, err := fmt.Sscan(s, &f)
		return panel.FloatValue(f), err
	case panel.KindInt:
		var i int64
		_, err := fmt.Sscan(s, &i)
		return panel.IntValue(i), err
	case panel.KindDate:
		d, err := time.Parse(panel.DateLayout, s)
		return panel.DateValue(d), err
	case panel.KindBool:
		return panel.BoolValue(s == "true"), nil
	default:
		return panel.StringValue(s), nil
	}
}

// Rows renders every row as "a|b|c", sorted. Two tables holding the same
// multiset of rows render identically regardless of row order.
func Rows(t *panel.Table) []string {
	out := make([]string, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = panel.Key(r).String()
	}
	slices.Sort(out)
	return out
}

// Column renders one column as strings in row order.
func Column(t testing.TB, tbl *panel.Table, name string) []string {
	t.Helper()

	vals, err := tbl.Column(name)
	if err != nil {
		t.Fatalf("column %s: %v", name, err)
	}
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = v.String()
	}
	return out
}

// Lookup returns the row of tbl whose keyColumns render as key.
func Lookup(t testing.TB, tbl *panel.Table, keyColumns []string, key string) panel.Row {
	t.Helper()

	idx, err := tbl.Schema.Indices(keyColumns...)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	for _, r := range tbl.Rows {
		if panel.KeyOf(r, idx).String() == key {
			return r
		}
	}
	t.Fatalf("%s: no row with key %s", tbl.Name, key)
	return nil
}

// =============================================================================
// Raw extracts
// =============================================================================

// WriteExtract writes a tab-delimited extract with a header row to
// dir/name and returns its path.
func WriteExtract(t testing.TB, dir, name string, header []string, rows ...[]string) string {
	t.Helper()

	var b strings.Builder
	b.WriteString(strings.Join(header, "\t"))
	b.WriteByte('\n')
	for _, r := range rows {
		b.WriteString(strings.Join(r, "\t"))
		b.WriteByte('\n')
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatalf("write extract: %v", err)
	}
	return path
}
