// Package query runs verification SQL over persisted tables with DuckDB.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/panelkit/panelkit/internal/errors"
	"github.com/panelkit/panelkit/internal/storage/config"
	"github.com/panelkit/panelkit/internal/validation"
)

// nullText renders a missing key cell the same way panel.Key does.
const nullText = "'<null>'"

// Service queries Parquet files through an in-memory DuckDB database.
type Service struct {
	mu sync.RWMutex

	config *config.Config
	db     *sql.DB

	// Statistics
	stats Stats
}

// Stats holds query statistics.
type Stats struct {
	QueriesExecuted int64
	RowsReturned    int64
	Errors          int64
}

// New creates a new query service.
func New(cfg *config.Config) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Open in-memory DuckDB database
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w: %w", errors.ErrDatabase, err)
	}

	// Configure DuckDB
	if cfg.Query.MemoryLimit != "" {
		_, err = db.Exec(fmt.Sprintf("SET memory_limit=%s", validation.QuoteLiteral(cfg.Query.MemoryLimit)))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w: %w", errors.ErrDatabase, err)
		}
	}
	if cfg.Query.Threads > 0 {
		_, err = db.Exec(fmt.Sprintf("SET threads=%d", cfg.Query.Threads))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("set threads: %w: %w", errors.ErrDatabase, err)
		}
	}

	return &Service{
		config: cfg,
		db:     db,
	}, nil
}

// Close closes the query service.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func source(path string) string {
	return "read_parquet(" + validation.QuoteLiteral(path) + ")"
}

// keyText renders one column as panel.Key text.
func keyText(column string) string {
	return fmt.Sprintf("coalesce(CAST(%s AS VARCHAR), %s)", validation.QuoteIdent(column), nullText)
}

// Count returns the number of rows in the Parquet file at path.
func (s *Service) Count(ctx context.Context, path string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM "+source(path)).Scan(&n)
	if err != nil {
		s.stats.Errors++
		return 0, fmt.Errorf("count %s: %w: %w", path, errors.ErrDatabase, err)
	}
	s.stats.QueriesExecuted++
	s.stats.RowsReturned++
	return n, nil
}

// Duplicates returns every key of keyColumns occurring more than once in the
// Parquet file at path. Keys are rendered like panel.Key ("a|b").
func (s *Service) Duplicates(ctx context.Context, path string, keyColumns []string) (map[string]int, error) {
	if len(keyColumns) == 0 {
		return nil, errors.NewMissingField("key columns")
	}

	parts := make([]string, len(keyColumns))
	cols := make([]string, len(keyColumns))
	for i, c := range keyColumns {
		parts[i] = keyText(c)
		cols[i] = validation.QuoteIdent(c)
	}

	query := fmt.Sprintf(`
		SELECT concat_ws('|', %s) AS key, count(*) AS n
		FROM %s
		GROUP BY %s
		HAVING count(*) > 1
		ORDER BY key`,
		strings.Join(parts, ", "), source(path), strings.Join(cols, ", "))

	out := make(map[string]int)
	err := s.scan(ctx, query, func(rows *sql.Rows) error {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		out[key] = int(n)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("duplicates in %s: %w", path, err)
	}
	return out, nil
}

// MaxGaps returns, per entity, the largest number of days between
// consecutive dates of timeColumn in the Parquet file at path. Entities with
// a single date report 0. Rows with a missing date are ignored.
func (s *Service) MaxGaps(ctx context.Context, path, entityColumn, timeColumn string) (map[string]int, error) {
	e := validation.QuoteIdent(entityColumn)
	t := validation.QuoteIdent(timeColumn)

	query := fmt.Sprintf(`
		SELECT entity, coalesce(max(gap), 0) AS max_gap
		FROM (
			SELECT %s AS entity,
			       date_diff('day', lag(%s) OVER (PARTITION BY %s ORDER BY %s), %s) AS gap
			FROM %s
			WHERE %s IS NOT NULL
		)
		GROUP BY entity
		ORDER BY entity`,
		keyText(entityColumn), t, e, t, t, source(path), t)

	out := make(map[string]int)
	err := s.scan(ctx, query, func(rows *sql.Rows) error {
		var entity string
		var gap int64
		if err := rows.Scan(&entity, &gap); err != nil {
			return err
		}
		out[entity] = int(gap)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("max gaps in %s: %w", path, err)
	}
	return out, nil
}

// scan runs query and hands every result row to fn.
func (s *Service) scan(ctx context.Context, query string, fn func(*sql.Rows) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		s.stats.Errors++
		return fmt.Errorf("%w: %w", errors.ErrDatabase, err)
	}
	defer rows.Close()

	var n int64
	for rows.Next() {
		if err := fn(rows); err != nil {
			s.stats.Errors++
			return fmt.Errorf("scan row: %w", err)
		}
		n++
	}
	if err := rows.Err(); err != nil {
		s.stats.Errors++
		return fmt.Errorf("%w: %w", errors.ErrDatabase, err)
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned += n
	return nil
}

// Stats returns query statistics.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Summary describes the Parquet file at path in one row: its row count,
// distinct entities and the first and last date of timeColumn.
func (s *Service) Summary(ctx context.Context, path, entityColumn, timeColumn string) (map[string]interface{}, error) {
	t := validation.QuoteIdent(timeColumn)
	query := fmt.Sprintf(`
		SELECT count(*) AS row_count,
		       count(DISTINCT %s) AS entities,
		       CAST(min(%s) AS VARCHAR) AS first_date,
		       CAST(max(%s) AS VARCHAR) AS last_date
		FROM %s`,
		keyText(entityColumn), t, t, source(path))

	results, err := s.ExecuteSQL(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("summary of %s: %w", path, err)
	}
	if len(results) != 1 {
		return nil, fmt.Errorf("summary of %s: %d rows: %w", path, len(results), errors.ErrDatabase)
	}
	return results[0], nil
}

// ExecuteSQL executes a raw SQL query using DuckDB and returns every row as
// a column-name map.
func (s *Service) ExecuteSQL(ctx context.Context, query string) ([]map[string]interface{}, error) {
	var results []map[string]interface{}
	var columns []string

	err := s.scan(ctx, query, func(rows *sql.Rows) error {
		if columns == nil {
			var err error
			if columns, err = rows.Columns(); err != nil {
				return err
			}
		}

		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return err
		}

		row := make(map[string]interface{})
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
		return nil
	})
	return results, err
}
