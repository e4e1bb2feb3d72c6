package parquet

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/panelkit/panelkit/internal/errors"
	"github.com/panelkit/panelkit/internal/panel"
)

const readBatchSize = 1024

// TableReader reads a panel table from a Parquet file written by
// TableWriter.
type TableReader struct {
	file   *os.File
	pf     *parquet.File
	schema *panel.Schema
	fields map[int]int
	path   string
}

// NewTableReader opens a table Parquet file.
func NewTableReader(path string) (*TableReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	meta, ok := pf.Lookup(SchemaKey)
	if !ok {
		f.Close()
		return nil, fmt.Errorf("%s: no %s metadata: %w", path, SchemaKey, errors.ErrInvalidSchema)
	}
	schema, err := decodeSchema(meta)
	if err != nil {
		f.Close()
		return nil, err
	}

	// Map Parquet column indexes back to panel field positions.
	fields := make(map[int]int, schema.Len())
	for i, field := range schema.Fields() {
		leaf, ok := pf.Schema().Lookup(field.Name)
		if !ok {
			f.Close()
			return nil, errors.NewMissingColumn(path, field.Name)
		}
		fields[leaf.ColumnIndex] = i
	}

	return &TableReader{
		file:   f,
		pf:     pf,
		schema: schema,
		fields: fields,
		path:   path,
	}, nil
}

// Schema returns the panel schema stored in the file.
func (r *TableReader) Schema() *panel.Schema {
	return r.schema
}

// NumRows returns the total number of rows in the file.
func (r *TableReader) NumRows() int64 {
	return r.pf.NumRows()
}

// ReadAll reads every row group into a table named name.
func (r *TableReader) ReadAll(name string) (*panel.Table, error) {
	t := panel.NewTable(name, r.schema)
	t.Rows = make([]panel.Row, 0, r.NumRows())

	buf := make([]parquet.Row, readBatchSize)
	for _, rg := range r.pf.RowGroups() {
		rows := rg.Rows()
		for {
			n, err := rows.ReadRows(buf)
			for _, pr := range buf[:n] {
				t.Rows = append(t.Rows, r.fromParquet(pr))
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("read rows: %w", err)
			}
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// fromParquet converts one Parquet row back to panel values. Byte arrays
// are copied because the reader reuses its buffers.
func (r *TableReader) fromParquet(pr parquet.Row) panel.Row {
	row := make(panel.Row, r.schema.Len())
	for i, f := range r.schema.Fields() {
		row[i] = panel.NullValue(f.Kind)
	}

	for _, v := range pr {
		i, ok := r.fields[v.Column()]
		if !ok || v.IsNull() {
			continue
		}
		switch f := r.schema.Field(i); f.Kind {
		case panel.KindFloat:
			row[i] = panel.FloatValue(v.Double())
		case panel.KindInt:
			if v.Kind() == parquet.Int32 {
				row[i] = panel.IntValue(int64(v.Int32()))
			} else {
				row[i] = panel.IntValue(v.Int64())
			}
		case panel.KindDate:
			row[i] = panel.DateValue(time.Unix(int64(v.Int32())*epochDay, 0).UTC())
		case panel.KindBool:
			row[i] = panel.BoolValue(v.Boolean())
		default:
			row[i] = panel.StringValue(string(v.ByteArray()))
		}
	}
	return row
}

// Close closes the reader.
func (r *TableReader) Close() error {
	return r.file.Close()
}

// Path returns the file path.
func (r *TableReader) Path() string {
	return r.path
}

// FileInfo contains metadata about a Parquet file.
type FileInfo struct {
	Path        string
	Size        int64
	NumRows     int64
	NumRowGroup int
	Columns     []string
}

// GetFileInfo returns metadata about a table Parquet file.
func GetFileInfo(path string) (*FileInfo, error) {
	r, err := NewTableReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	stat, err := r.file.Stat()
	if err != nil {
		return nil, err
	}

	return &FileInfo{
		Path:        path,
		Size:        stat.Size(),
		NumRows:     r.NumRows(),
		NumRowGroup: len(r.pf.RowGroups()),
		Columns:     r.schema.Names(),
	}, nil
}
