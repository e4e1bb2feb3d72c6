package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Requirements represents the estimated memory footprint of one stage.
type Requirements struct {
	Rows    int64
	Columns int64

	// Memory requirements
	TableBytes      int64
	WorkerCopyBytes int64
	ResultBytes     int64
	QueryCacheBytes int64
	TotalRAMBytes   int64
}

// Constants for calculations
const (
	// Bytes per cell (in-memory panel.Value plus slice header share)
	bytesPerCell = 72

	// Go runtime and heap headroom
	runtimeOverheadBytes = 512 * 1024 * 1024
)

// CalculateRequirements estimates peak memory for a table of the given
// shape. The input table, the chunk copies handed to workers and the
// worker outputs are all alive at the join, so a stage holds about three
// copies of its table.
func (c *Config) CalculateRequirements(rows, columns int) Requirements {
	r := Requirements{Rows: int64(rows), Columns: int64(columns)}

	r.TableBytes = r.Rows * r.Columns * bytesPerCell
	r.WorkerCopyBytes = r.TableBytes
	r.ResultBytes = r.TableBytes

	r.QueryCacheBytes, _ = ParseMemoryLimit(c.Query.MemoryLimit)

	r.TotalRAMBytes = r.TableBytes + r.WorkerCopyBytes + r.ResultBytes + runtimeOverheadBytes
	return r
}

// LogAttrs returns the requirements as slog key/value pairs.
func (r Requirements) LogAttrs() []any {
	return []any{
		"rows", r.Rows,
		"columns", r.Columns,
		"table", FormatBytes(r.TableBytes),
		"worker_copies", FormatBytes(r.WorkerCopyBytes),
		"results", FormatBytes(r.ResultBytes),
		"total", FormatBytes(r.TotalRAMBytes),
	}
}

// ParseMemoryLimit parses a memory limit string like "2GB" into bytes.
// An empty string yields the DuckDB default of 0 (no explicit limit).
func ParseMemoryLimit(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, true
	}

	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, false
	}
	value, err := strconv.ParseInt(s[:i], 10, 64)
	if err != nil {
		return 0, false
	}

	switch strings.ToUpper(strings.TrimSpace(s[i:])) {
	case "B", "":
		return value, true
	case "KB", "K", "KIB":
		return value * 1024, true
	case "MB", "M", "MIB":
		return value * 1024 * 1024, true
	case "GB", "G", "GIB":
		return value * 1024 * 1024 * 1024, true
	case "TB", "T", "TIB":
		return value * 1024 * 1024 * 1024 * 1024, true
	default:
		return 0, false
	}
}

// FormatBytes formats bytes as a human-readable string.
func FormatBytes(b int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
