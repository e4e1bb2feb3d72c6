// Package parquet implements Parquet file reading and writing for panel tables.
//
// The package provides:
//   - TableWriter/TableReader for one table per file
//   - Store for named tables persisted in a data directory
//   - Support for multiple compression algorithms (snappy, zstd, lz4, gzip)
//
// Columns are written as optional leaves so missing cells survive a round
// trip. The panel schema (column order, kinds and integer widths) is kept
// in the file's key-value metadata under SchemaKey.
package parquet
