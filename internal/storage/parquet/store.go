package parquet

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/panelkit/panelkit/internal/errors"
	"github.com/panelkit/panelkit/internal/logging"
	"github.com/panelkit/panelkit/internal/panel"
)

// Extension is the file suffix of persisted tables.
const Extension = ".parquet"

// Store persists named tables as Parquet files in one directory.
type Store struct {
	dir    string
	opts   Options
	logger *slog.Logger
}

// NewStore creates a store rooted at dir.
func NewStore(dir string, opts Options) *Store {
	return &Store{
		dir:    dir,
		opts:   opts,
		logger: logging.Component("parquet").With("dir", dir),
	}
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file path of the named table.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+Extension)
}

// Exists reports whether the named table has been saved.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// Save writes t to <dir>/<t.Name>.parquet, replacing any previous file.
// When sortBy is given the rows are written in that order; t itself is not
// reordered. The file is written under a temporary name and renamed into
// place once complete.
func (s *Store) Save(t *panel.Table, sortBy ...string) (string, error) {
	start := time.Now()

	out := t
	if len(sortBy) > 0 {
		out = &panel.Table{Name: t.Name, Schema: t.Schema, Rows: append([]panel.Row(nil), t.Rows...)}
		if err := out.SortBy(sortBy...); err != nil {
			return "", err
		}
	}

	path := s.Path(t.Name)
	tmp := path + ".tmp"

	w, err := NewTableWriter(tmp, t.Schema, s.opts)
	if err != nil {
		return "", errors.Wrapf(err, "save %s", t.Name)
	}
	if err := w.Write(out.Rows); err != nil {
		w.Close()
		os.Remove(tmp)
		return "", errors.Wrapf(err, "save %s", t.Name)
	}
	if err := w.Close(); err != nil {
		os.Remove(tmp)
		return "", errors.Wrapf(err, "save %s", t.Name)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("save %s: %w", t.Name, err)
	}

	s.logger.Info("saved table",
		"table", t.Name,
		"rows", w.RowCount(),
		"columns", t.Schema.Len(),
		"elapsed", time.Since(start),
	)
	return path, nil
}

// Load reads the named table.
func (s *Store) Load(name string) (*panel.Table, error) {
	path := s.Path(name)
	if !s.Exists(name) {
		return nil, fmt.Errorf("table %s at %s: %w", name, path, errors.ErrNotFound)
	}

	r, err := NewTableReader(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", name)
	}
	defer r.Close()

	t, err := r.ReadAll(name)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", name)
	}
	s.logger.Debug("loaded table", "table", name, "rows", t.Len())
	return t, nil
}
