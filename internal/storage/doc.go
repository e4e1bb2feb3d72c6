// Package storage groups the persistence layers of a panel run.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│   Cleaned   │────▶│   Parquet   │────▶│   DuckDB    │
//	│    Table    │     │    Store    │     │   Verify    │
//	└─────────────┘     └─────────────┘     └─────────────┘
//
// Subpackages:
//   - config: YAML and PANEL_* environment configuration
//   - parquet: one Parquet file per table, written atomically
//   - query: SQL re-checks of persisted files
package storage
