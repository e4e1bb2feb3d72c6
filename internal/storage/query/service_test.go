package query

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/panelkit/panelkit/internal/errors"
	"github.com/panelkit/panelkit/internal/panel"
	"github.com/panelkit/panelkit/internal/storage/config"
	"github.com/panelkit/panelkit/internal/storage/parquet"
)

func newService(t *testing.T) *Service {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Query.Threads = 2

	svc, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

// writePanel persists a small monthly panel and returns its path.
func writePanel(t *testing.T) string {
	t.Helper()

	schema := panel.MustSchema(
		panel.Field{Name: "Permco", Kind: panel.KindString},
		panel.Field{Name: "datadate", Kind: panel.KindDate},
		panel.Field{Name: "Return", Kind: panel.KindFloat},
	)
	tbl := panel.NewTable("monthly", schema)
	add := func(entity, date string, ret float64) {
		tbl.MustAppend(panel.StringValue(entity), panel.DateValue(panel.MustDate(date)), panel.FloatValue(ret))
	}
	add("A", "2020-01-31", 0.01)
	add("A", "2020-01-31", 0.02)
	add("A", "2020-02-29", 0.03)
	add("B", "2020-01-31", 0.04)
	add("B", "2020-02-29", 0.05)
	add("B", "2020-06-30", 0.06)
	add("C", "2020-03-31", 0.07)

	store := parquet.NewStore(t.TempDir(), parquet.DefaultOptions())
	path, err := store.Save(tbl)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	return path
}

func TestService_New(t *testing.T) {
	svc := newService(t)
	if svc == nil {
		t.Fatal("service is nil")
	}
}

func TestService_ExecuteSQL(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	// Simple query
	results, err := svc.ExecuteSQL(ctx, "SELECT 1 AS value")
	if err != nil {
		t.Fatalf("ExecuteSQL: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}

	stats := svc.Stats()
	if stats.QueriesExecuted != 1 {
		t.Errorf("expected 1 query executed, got %d", stats.QueriesExecuted)
	}
}

func TestService_ExecuteSQLError(t *testing.T) {
	svc := newService(t)

	_, err := svc.ExecuteSQL(context.Background(), "SELECT * FROM no_such_table")
	if !errors.Is(err, errors.ErrDatabase) {
		t.Fatalf("expected ErrDatabase, got %v", err)
	}
	if svc.Stats().Errors != 1 {
		t.Errorf("expected 1 error, got %d", svc.Stats().Errors)
	}
}

func TestService_Count(t *testing.T) {
	svc := newService(t)
	path := writePanel(t)

	n, err := svc.Count(context.Background(), path)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 7 {
		t.Errorf("expected 7 rows, got %d", n)
	}
}

func TestService_Duplicates(t *testing.T) {
	svc := newService(t)
	path := writePanel(t)

	dups, err := svc.Duplicates(context.Background(), path, []string{"Permco", "datadate"})
	if err != nil {
		t.Fatalf("Duplicates: %v", err)
	}
	if len(dups) != 1 || dups["A|2020-01-31"] != 2 {
		t.Errorf("expected {A|2020-01-31: 2}, got %v", dups)
	}

	dups, err = svc.Duplicates(context.Background(), path, []string{"Permco", "datadate", "Return"})
	if err != nil {
		t.Fatalf("Duplicates: %v", err)
	}
	if len(dups) != 0 {
		t.Errorf("expected no duplicates, got %v", dups)
	}

	if _, err := svc.Duplicates(context.Background(), path, nil); !errors.Is(err, errors.ErrMissingField) {
		t.Errorf("expected ErrMissingField, got %v", err)
	}
}

func TestService_MaxGaps(t *testing.T) {
	svc := newService(t)
	path := writePanel(t)

	gaps, err := svc.MaxGaps(context.Background(), path, "Permco", "datadate")
	if err != nil {
		t.Fatalf("MaxGaps: %v", err)
	}

	want := map[string]int{"A": 29, "B": 122, "C": 0}
	for entity, days := range want {
		if gaps[entity] != days {
			t.Errorf("entity %s: expected %d days, got %d", entity, days, gaps[entity])
		}
	}
	if len(gaps) != len(want) {
		t.Errorf("expected %d entities, got %d", len(want), len(gaps))
	}
}

func TestService_Summary(t *testing.T) {
	svc := newService(t)
	path := writePanel(t)

	sum, err := svc.Summary(context.Background(), path, "Permco", "datadate")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum["row_count"] != int64(7) || sum["entities"] != int64(3) {
		t.Errorf("expected 7 rows over 3 entities, got %v", sum)
	}
	if sum["first_date"] != "2020-01-31" || sum["last_date"] != "2020-06-30" {
		t.Errorf("expected 2020-01-31..2020-06-30, got %v..%v", sum["first_date"], sum["last_date"])
	}
}

func TestService_MissingFile(t *testing.T) {
	svc := newService(t)

	_, err := svc.Count(context.Background(), filepath.Join(t.TempDir(), "missing.parquet"))
	if !errors.Is(err, errors.ErrDatabase) {
		t.Errorf("expected ErrDatabase, got %v", err)
	}
}
