package parquet

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/panelkit/panelkit/internal/errors"
	"github.com/panelkit/panelkit/internal/panel"
)

// SchemaKey is the key-value metadata entry holding the panel schema.
const SchemaKey = "panel.schema"

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType

	// RowGroupSize is the target number of rows per row group
	RowGroupSize int
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{
		Compression:  CompressionZstd,
		RowGroupSize: 100000,
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// fieldMeta is the JSON form of one panel field. Parquet groups order
// columns by name, so the panel order and kinds travel as metadata.
type fieldMeta struct {
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	Width int    `json:"width,omitempty"`
}

func encodeSchema(s *panel.Schema) (string, error) {
	meta := make([]fieldMeta, s.Len())
	for i, f := range s.Fields() {
		meta[i] = fieldMeta{Name: f.Name, Kind: f.Kind.String(), Width: f.Width}
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeSchema(s string) (*panel.Schema, error) {
	var meta []fieldMeta
	if err := json.Unmarshal([]byte(s), &meta); err != nil {
		return nil, fmt.Errorf("decode %s: %w", SchemaKey, err)
	}
	fields := make([]panel.Field, len(meta))
	for i, m := range meta {
		k, ok := panel.ParseKind(m.Kind)
		if !ok {
			return nil, fmt.Errorf("field %q: unknown kind %q: %w", m.Name, m.Kind, errors.ErrInvalidSchema)
		}
		fields[i] = panel.Field{Name: m.Name, Kind: k, Width: m.Width}
	}
	return panel.NewSchema(fields...)
}

// node maps a panel field to an optional Parquet leaf.
func node(f panel.Field) parquet.Node {
	var n parquet.Node
	switch f.Kind {
	case panel.KindFloat:
		n = parquet.Leaf(parquet.DoubleType)
	case panel.KindInt:
		n = parquet.Int(intWidth(f))
	case panel.KindDate:
		n = parquet.Date()
	case panel.KindBool:
		n = parquet.Leaf(parquet.BooleanType)
	default:
		n = parquet.String()
	}
	return parquet.Optional(n)
}

func intWidth(f panel.Field) int {
	switch f.Width {
	case 8, 16, 32:
		return f.Width
	default:
		return 64
	}
}

// parquetSchema builds the Parquet schema of s and the Parquet column index
// of every panel field.
func parquetSchema(name string, s *panel.Schema) (*parquet.Schema, []int, error) {
	group := make(parquet.Group, s.Len())
	for _, f := range s.Fields() {
		group[f.Name] = node(f)
	}
	ps := parquet.NewSchema(name, group)

	columns := make([]int, s.Len())
	for i, f := range s.Fields() {
		leaf, ok := ps.Lookup(f.Name)
		if !ok {
			return nil, nil, fmt.Errorf("column %q: %w", f.Name, errors.ErrInvalidSchema)
		}
		columns[i] = leaf.ColumnIndex
	}
	return ps, columns, nil
}

const epochDay = 24 * 60 * 60

// toParquet converts one cell. Missing cells carry definition level 0.
func toParquet(v panel.Value, f panel.Field, column int) parquet.Value {
	if v.IsNull() {
		return parquet.NullValue().Level(0, 0, column)
	}
	var pv parquet.Value
	switch f.Kind {
	case panel.KindFloat:
		pv = parquet.DoubleValue(v.Float())
	case panel.KindInt:
		if intWidth(f) == 64 {
			pv = parquet.Int64Value(v.Int())
		} else {
			pv = parquet.Int32Value(int32(v.Int()))
		}
	case panel.KindDate:
		pv = parquet.Int32Value(int32(v.Time().Unix() / epochDay))
	case panel.KindBool:
		pv = parquet.BooleanValue(v.Bool())
	default:
		pv = parquet.ByteArrayValue([]byte(v.Text()))
	}
	return pv.Level(0, 1, column)
}

// TableWriter writes panel rows to a Parquet file.
type TableWriter struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.Writer
	schema   *panel.Schema
	columns  []int
	opts     Options
	pending  int
	rowCount int64
	closed   bool
}

// NewTableWriter creates a new table Parquet writer. The panel schema is
// stored in the file's key-value metadata.
func NewTableWriter(path string, schema *panel.Schema, opts Options) (*TableWriter, error) {
	ps, columns, err := parquetSchema(filepath.Base(path), schema)
	if err != nil {
		return nil, err
	}
	meta, err := encodeSchema(schema)
	if err != nil {
		return nil, err
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	writerOpts := []parquet.WriterOption{
		ps,
		parquet.Compression(getCompression(opts.Compression)),
		parquet.KeyValueMetadata(SchemaKey, meta),
	}

	return &TableWriter{
		path:    path,
		file:    f,
		writer:  parquet.NewWriter(f, writerOpts...),
		schema:  schema,
		columns: columns,
		opts:    opts,
	}, nil
}

// Write writes rows to the Parquet file.
func (w *TableWriter) Write(rows []panel.Row) error {
	if len(rows) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.ErrWriterClosed
	}

	fields := w.schema.Fields()
	buf := make([]parquet.Row, 0, len(rows))
	for _, r := range rows {
		if len(r) != len(fields) {
			return fmt.Errorf("got %d values for %d fields: %w", len(r), len(fields), errors.ErrRowWidth)
		}
		// Values are laid out in Parquet column order.
		pr := make(parquet.Row, len(fields))
		for i, f := range fields {
			pr[w.columns[i]] = toParquet(r[i], f, w.columns[i])
		}
		buf = append(buf, pr)
	}

	for len(buf) > 0 {
		n := len(buf)
		if w.opts.RowGroupSize > 0 {
			n = min(n, w.opts.RowGroupSize-w.pending)
		}
		written, err := w.writer.WriteRows(buf[:n])
		if err != nil {
			return fmt.Errorf("write rows: %w", err)
		}
		w.rowCount += int64(written)
		w.pending += written
		buf = buf[n:]

		if w.opts.RowGroupSize > 0 && w.pending >= w.opts.RowGroupSize {
			if err := w.writer.Flush(); err != nil {
				return fmt.Errorf("flush row group: %w", err)
			}
			w.pending = 0
		}
	}
	return nil
}

// Close closes the writer.
func (w *TableWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}

	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *TableWriter) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *TableWriter) Path() string {
	return w.path
}
