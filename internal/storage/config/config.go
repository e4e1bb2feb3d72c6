package config

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	defaults "github.com/panelkit/panelkit/config"
	"github.com/panelkit/panelkit/internal/errors"
)

// EnvPrefix prefixes every environment override, e.g. PANEL_ENGINE_WORKER_COUNT.
const EnvPrefix = "PANEL"

// Config represents the complete pipeline configuration.
type Config struct {
	// DataDir is the directory persisted tables are written to.
	DataDir string `yaml:"data_dir" envconfig:"DATA_DIR" validate:"required"`

	// Engine configures the worker pool.
	Engine EngineConfig `yaml:"engine" envconfig:"ENGINE"`

	// Logging configures the slog handler.
	Logging LoggingConfig `yaml:"logging" envconfig:"LOGGING"`

	// Security configures the security (market data) cleaning stage.
	Security SecurityConfig `yaml:"security" envconfig:"SECURITY"`

	// Accounting configures the accounting (fundamentals) cleaning stage.
	Accounting AccountingConfig `yaml:"accounting" envconfig:"ACCOUNTING"`

	// Merge configures the merge stage.
	Merge MergeConfig `yaml:"merge" envconfig:"MERGE"`

	// Storage configures Parquet persistence.
	Storage StorageConfig `yaml:"storage" envconfig:"STORAGE"`

	// Query configures the DuckDB verification stage.
	Query QueryConfig `yaml:"query" envconfig:"QUERY"`

	// Metrics configures the Prometheus textfile export.
	Metrics MetricsConfig `yaml:"metrics" envconfig:"METRICS"`

	// Profile configures per-stage column profiles.
	Profile ProfileConfig `yaml:"profile" envconfig:"PROFILE"`
}

// EngineConfig configures the worker pool.
type EngineConfig struct {
	// WorkerCount is the number of parallel workers.
	WorkerCount int `yaml:"worker_count" envconfig:"WORKER_COUNT" validate:"min=1,max=64"`

	// ProgressInterval logs progress every N groups per worker. 0 disables.
	ProgressInterval int `yaml:"progress_interval" envconfig:"PROGRESS_INTERVAL" validate:"min=0"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn error"`

	// JSON switches to the JSON handler.
	JSON bool `yaml:"json" envconfig:"JSON"`
}

// DatasetConfig is shared by both cleaning stages.
type DatasetConfig struct {
	// Table is the persisted table name.
	Table string `yaml:"table" envconfig:"TABLE" validate:"required"`

	// Input is the path of the delimited extract.
	Input string `yaml:"input" envconfig:"INPUT" validate:"required"`

	// Delimiter is the single-character field separator.
	Delimiter string `yaml:"delimiter" envconfig:"DELIMITER" validate:"len=1"`

	// DateLayout is the Go time layout of raw date cells.
	DateLayout string `yaml:"date_layout" envconfig:"DATE_LAYOUT" validate:"required"`

	// EntityColumn identifies an entity across time (after renaming).
	EntityColumn string `yaml:"entity_column" envconfig:"ENTITY_COLUMN" validate:"required"`

	// TimeColumn is the period-end date of an observation (after renaming).
	TimeColumn string `yaml:"time_column" envconfig:"TIME_COLUMN" validate:"required"`

	// GroupKeyColumns uniquely identify a cleaned row.
	GroupKeyColumns []string `yaml:"group_key_columns" ignored:"true" validate:"min=1,dive,required"`

	// ValueColumns are the columns the stage's value transform operates on.
	ValueColumns []string `yaml:"value_columns" ignored:"true" validate:"dive,required"`

	// ContinuityToleranceMonths is the largest allowed gap between
	// consecutive observations of one entity.
	ContinuityToleranceMonths int `yaml:"continuity_tolerance_months" envconfig:"CONTINUITY_TOLERANCE_MONTHS" validate:"min=1"`

	// Types declares the raw column types.
	Types ColumnTypes `yaml:"types" ignored:"true"`

	// Rename maps raw names to cleaned names. Only renamed columns are kept,
	// in the order given.
	Rename Renames `yaml:"rename" ignored:"true" validate:"min=1"`
}

// PanelKey returns the (entity, time) pair every cleaned table must be
// unique on, whatever the grouping columns.
func (d DatasetConfig) PanelKey() []string {
	return []string{d.EntityColumn, d.TimeColumn}
}

// ColumnTypes declares the raw column types. Columns not listed are read as
// strings.
type ColumnTypes struct {
	Date  []string `yaml:"date"`
	Float []string `yaml:"float"`
	Int   []string `yaml:"int"`
}

// SecurityConfig configures the security cleaning stage. ValueColumns are
// the weight-averaged columns when share classes are collapsed.
type SecurityConfig struct {
	DatasetConfig `yaml:",inline"`

	// ShareCodeColumn holds the raw share code; only codes 10-19 (common
	// shares) are kept.
	ShareCodeColumn string `yaml:"share_code_column" envconfig:"SHARE_CODE_COLUMN" validate:"required"`

	// ReturnColumn is the cleaned return column; rows where it is missing
	// are dropped.
	ReturnColumn string `yaml:"return_column" envconfig:"RETURN_COLUMN" validate:"required"`

	// Aggregation configures the share-class collapse.
	Aggregation AggregationConfig `yaml:"aggregation" ignored:"true"`
}

// AggregationConfig configures how share classes of one entity and date
// collapse into one row.
type AggregationConfig struct {
	// Weight orders share classes (largest first) and weights ValueColumns.
	Weight string `yaml:"weight" validate:"required"`

	// First columns are taken from the largest share class.
	First []string `yaml:"first" validate:"dive,required"`

	// Add columns are summed, missing as zero.
	Add []string `yaml:"add" validate:"dive,required"`
}

// AccountingConfig configures the accounting cleaning stage. ValueColumns
// are the fiscal-year-to-date columns converted into per-period increments.
type AccountingConfig struct {
	DatasetConfig `yaml:",inline"`

	// FiscalYearColumn is the fiscal year of a report (after renaming).
	FiscalYearColumn string `yaml:"fiscal_year_column" envconfig:"FISCAL_YEAR_COLUMN" validate:"required"`

	// FiscalPeriodColumn is the fiscal period within the year (after renaming).
	FiscalPeriodColumn string `yaml:"fiscal_period_column" envconfig:"FISCAL_PERIOD_COLUMN" validate:"required"`
}

// MergeConfig configures the merge stage.
type MergeConfig struct {
	// Table is the persisted name of the merged panel.
	Table string `yaml:"table" envconfig:"TABLE" validate:"required"`

	// LeftSuffix marks security columns whose name clashes with an
	// accounting column.
	LeftSuffix string `yaml:"left_suffix" envconfig:"LEFT_SUFFIX" validate:"required"`

	// RightSuffix marks the accounting side of the same clash.
	RightSuffix string `yaml:"right_suffix" envconfig:"RIGHT_SUFFIX" validate:"required,nefield=LeftSuffix"`
}

// StorageConfig configures Parquet persistence.
type StorageConfig struct {
	// Compression is one of zstd, snappy, lz4, gzip, none.
	Compression string `yaml:"compression" envconfig:"COMPRESSION" validate:"oneof=zstd snappy lz4 gzip none"`

	// RowGroupSize is the number of rows per row group.
	RowGroupSize int `yaml:"row_group_size" envconfig:"ROW_GROUP_SIZE" validate:"min=1"`
}

// QueryConfig configures the DuckDB verification stage.
type QueryConfig struct {
	// MemoryLimit is the DuckDB memory limit, e.g. "1GB".
	MemoryLimit string `yaml:"memory_limit" envconfig:"MEMORY_LIMIT"`

	// Threads caps DuckDB threads. 0 uses the DuckDB default.
	Threads int `yaml:"threads" envconfig:"THREADS" validate:"min=0"`
}

// MetricsConfig configures the Prometheus textfile export.
type MetricsConfig struct {
	// Textfile is written at the end of a run when set.
	Textfile string `yaml:"textfile" envconfig:"TEXTFILE"`
}

// ProfileConfig configures per-stage column profiles.
type ProfileConfig struct {
	// Enabled logs column profiles after each stage.
	Enabled bool `yaml:"enabled" envconfig:"ENABLED"`

	// Accuracy is the relative accuracy of the quantile sketches.
	Accuracy float64 `yaml:"accuracy" envconfig:"ACCURACY" validate:"gt=0,lt=1"`
}

// Load loads configuration from a YAML file, then applies PANEL_*
// environment overrides and validates the result. An empty path loads the
// defaults.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w: %w", errors.ErrInvalidConfig, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parse config file: %w: %w", errors.ErrInvalidConfig, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, config); err != nil {
		return nil, fmt.Errorf("load config from env: %w: %w", errors.ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration matching the CRSP monthly stock file
// and the CRSP/Compustat merged quarterly fundamentals.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./output",
		Engine: EngineConfig{
			WorkerCount:      defaults.DefaultWorkerCount,
			ProgressInterval: defaults.DefaultProgressInterval,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Security: SecurityConfig{
			DatasetConfig: DatasetConfig{
				Table:                     defaults.SecurityTable,
				Input:                     "./data/crsp.txt",
				Delimiter:                 defaults.DefaultDelimiter,
				DateLayout:                defaults.DefaultDateLayout,
				EntityColumn:              "Permco",
				TimeColumn:                "datadate",
				GroupKeyColumns:           []string{"Permco", "datadate"},
				ValueColumns:              []string{"Volume", "Return"},
				ContinuityToleranceMonths: defaults.DefaultSecurityToleranceMonths,
				Types: ColumnTypes{
					Date:  []string{"date"},
					Float: []string{"BIDLO", "ASKHI", "PRC", "RET", "DLRET", "BID", "ASK", "RETX", "CFACPR", "CFACSHR"},
					Int:   []string{"PERMNO", "PERMCO", "HSICCD", "SHROUT", "VOL", "EXCHCD", "SHRCD"},
				},
				Rename: Renames{
					{"RET", "Return"},
					{"SHROUT", "Shares Outstanding on Trading Day"},
					{"COMNAM", "Company Name"},
					{"EXCHCD", "Exchange Code"},
					{"TICKER", "Ticker"},
					{"date", "datadate"},
					{"PERMNO", "Permno"},
					{"PERMCO", "Permco"},
					{"PRC", "Price with Flag"},
					{"BID", "Bid"},
					{"ASK", "Ask"},
					{"VOL", "Volume on Trading Day"},
					{"SHRCLS", "Share Class"},
					{"CFACPR", "Price Adjustment Factor"},
					{"CFACSHR", "Share Adjustment Factor"},
				},
			},
			ShareCodeColumn: "SHRCD",
			ReturnColumn:    "Return",
			Aggregation: AggregationConfig{
				Weight: "Market Cap (Billions, CRSP)",
				First:  []string{"Company Name", "Permno", "Ticker", "Price", "Bid", "Ask", "Exchange Code", "Imputed Price"},
				Add:    []string{"Market Cap (Billions, CRSP)"},
			},
		},
		Accounting: AccountingConfig{
			DatasetConfig: DatasetConfig{
				Table:           defaults.AccountingTable,
				Input:           "./data/compustat-merged.txt",
				Delimiter:       defaults.DefaultDelimiter,
				DateLayout:      defaults.DefaultDateLayout,
				EntityColumn:    "Permco",
				TimeColumn:      "datadate",
				GroupKeyColumns: []string{"Permco", "datadate"},
				ValueColumns: []string{
					"Capex",
					"Cash Dividends",
					"Financing Activities",
					"Long Term Debt, Gross Issuance",
					"Long Term Debt, Retired",
					"M&A",
					"Operating Cash Flow",
				},
				ContinuityToleranceMonths: defaults.DefaultAccountingToleranceMonths,
				Types: ColumnTypes{
					Date: []string{"datadate"},
					Float: []string{
						"cogsq", "cshopq", "cshoq", "dpq", "oiadpq", "oibdpq", "prcraq", "saleq", "txpq",
						"xintq", "xsgaq", "aqcy", "capxy", "dvy", "fincfy", "oancfy", "prccq", "seqq",
						"ceqq", "pstkrq", "atq", "ltq", "cheq", "txditcq", "dlttq", "dlcq", "niq",
						"epsfiq", "epsfxq", "dltisy", "dltry", "cshfdq",
					},
					Int: []string{"GVKEY", "LPERMNO", "LPERMCO", "fyearq", "fqtr", "exchg", "cik", "naics"},
				},
				Rename: Renames{
					// Identifiers
					{"GVKEY", "Gvkey"},
					{"LPERMNO", "Permno"},
					{"LPERMCO", "Permco"},
					{"fyearq", "Fiscal Year"},
					{"fqtr", "Fiscal Quarter"},
					{"conm", "Company Name"},
					{"curcdq", "Currency"},
					{"rdq", "Report Date"},
					{"naics", "NAICS Sector Code"},
					{"exchg", "Exchange Code"},
					{"datadate", "datadate"},

					// Balance sheet
					{"atq", "Assets, Total"},
					{"ceqq", "Common Equity, Total"},
					{"seqq", "Shareholder Equity, Total"},
					{"pstkrq", "Preferred Equity, Total"},
					{"ltq", "Liabilities, Total"},
					{"txditcq", "Deferred Tax Assets"},
					{"dlttq", "Long Term Debt"},
					{"dlcq", "Short Term Debt"},
					{"cheq", "Cash"},

					// Income statement
					{"saleq", "Sales"},
					{"cogsq", "COGS"},
					{"xsgaq", "SG&A"},
					{"dpq", "Depreciation and Amortization"},
					{"oibdpq", "EBITDA"},
					{"oiadpq", "EBIT"},
					{"xintq", "Interest Expense"},
					{"txpq", "Taxes Payable"},
					{"niq", "Net Income"},
					{"epsfiq", "Diluted EPS, Raw"},
					{"epsfxq", "Diluted EPS, Adjusted"},

					// Cash flow statement, fiscal year to date
					{"oancfy", "Operating Cash Flow"},
					{"fincfy", "Financing Activities"},
					{"dltisy", "Long Term Debt, Gross Issuance"},
					{"dltry", "Long Term Debt, Retired"},
					{"dvy", "Cash Dividends"},
					{"capxy", "Capex"},
					{"aqcy", "M&A"},
					{"cshopq", "Total Repurchased Shares"},
					{"prcraq", "Repurchase Price"},

					// Market data
					{"cshoq", "Shares Outstanding (Compustat)"},
					{"prccq", "Price (Compustat)"},
					{"cshfdq", "Shares Outstanding for EPS"},
				},
			},
			FiscalYearColumn:   "Fiscal Year",
			FiscalPeriodColumn: "Fiscal Quarter",
		},
		Merge: MergeConfig{
			Table:       defaults.MergedTable,
			LeftSuffix:  defaults.DefaultSecuritySuffix,
			RightSuffix: defaults.DefaultAccountingSuffix,
		},
		Storage: StorageConfig{
			Compression:  defaults.DefaultCompression,
			RowGroupSize: defaults.DefaultRowGroupSize,
		},
		Query: QueryConfig{
			MemoryLimit: defaults.DefaultQueryMemoryLimit,
		},
		Profile: ProfileConfig{
			Enabled:  true,
			Accuracy: defaults.DefaultProfileAccuracy,
		},
	}
}
