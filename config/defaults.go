// Package config provides configuration defaults for panelkit.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via panel.yaml or PANEL_* environment
// variables.
package config

// =============================================================================
// Engine Defaults
// =============================================================================

const (
	// DefaultWorkerCount is the number of parallel workers in the pool.
	// Each worker holds a private copy of its chunk, so memory grows with
	// the worker count.
	// Range: 1-64
	// Override via config: engine.worker_count
	DefaultWorkerCount = 2

	// DefaultProgressInterval logs progress every N groups within one worker.
	// 0 disables progress reports.
	// Override via config: engine.progress_interval
	DefaultProgressInterval = 10000
)

// =============================================================================
// Ingest Defaults
// =============================================================================

const (
	// DefaultDelimiter separates fields in the raw extracts.
	// Override via config: <dataset>.delimiter
	DefaultDelimiter = "\t"

	// DefaultDateLayout is the Go layout of raw date cells (YYYY/MM/DD).
	// Parsed dates are rolled forward to month end.
	// Override via config: <dataset>.date_layout
	DefaultDateLayout = "2006/01/02"
)

// =============================================================================
// Gate Defaults
// =============================================================================

const (
	// DefaultSecurityToleranceMonths is the largest allowed gap between
	// consecutive monthly observations of one entity.
	// Override via config: security.continuity_tolerance_months
	DefaultSecurityToleranceMonths = 1

	// DefaultAccountingToleranceMonths is the largest allowed gap between
	// consecutive quarterly reports of one entity.
	// Override via config: accounting.continuity_tolerance_months
	DefaultAccountingToleranceMonths = 3
)

// =============================================================================
// Merge Defaults
// =============================================================================

const (
	// DefaultSecuritySuffix marks security columns whose name also exists in
	// the accounting table.
	// Override via config: merge.left_suffix
	DefaultSecuritySuffix = ".crsp"

	// DefaultAccountingSuffix marks the accounting side of the same clash.
	// Override via config: merge.right_suffix
	DefaultAccountingSuffix = ".comp"
)

// =============================================================================
// Storage Defaults
// =============================================================================

const (
	// DefaultCompression is the Parquet codec for persisted tables.
	// Options: zstd, snappy, lz4, gzip, none
	// Override via config: storage.compression
	DefaultCompression = "zstd"

	// DefaultRowGroupSize is the number of rows per Parquet row group.
	// Override via config: storage.row_group_size
	DefaultRowGroupSize = 100000

	// DefaultQueryMemoryLimit caps DuckDB memory during verification.
	// Override via config: query.memory_limit
	DefaultQueryMemoryLimit = "1GB"
)

// =============================================================================
// Table Names
// =============================================================================

const (
	// SecurityTable is the persisted name of the cleaned security table.
	SecurityTable = "cleaned_security"

	// AccountingTable is the persisted name of the cleaned accounting table.
	AccountingTable = "cleaned_accounting"

	// MergedTable is the persisted name of the merged panel.
	MergedTable = "merged_panel"
)

// =============================================================================
// Profile Defaults
// =============================================================================

const (
	// DefaultProfileAccuracy is the DDSketch relative accuracy of column
	// profiles (0.01 = 1% error).
	// Override via config: profile.accuracy
	DefaultProfileAccuracy = 0.01
)
