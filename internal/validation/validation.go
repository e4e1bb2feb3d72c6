// Package validation provides centralized name validation for panelkit.
package validation

import (
	"fmt"
	"strings"
	"unicode"
)

// =============================================================================
// Name Validation
// =============================================================================

// NameRules defines the validation rules for names.
type NameRules struct {
	MinLength    int
	MaxLength    int
	AllowDots    bool
	AllowHyphens bool
	AllowUnders  bool
	AllowSpaces  bool

	// AllowPunct permits any printable punctuation not otherwise listed,
	// e.g. "Market Cap (Billions, CRSP)" or "SG&A".
	AllowPunct bool
}

// TableNameRules returns the rules for persisted table names. Table names
// become file names, so they are restricted to a portable character set.
func TableNameRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    128,
		AllowDots:    false,
		AllowHyphens: true,
		AllowUnders:  true,
	}
}

// ColumnNameRules returns the rules for column names. Column names are
// always quoted in SQL, so most printable characters are allowed.
func ColumnNameRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    255,
		AllowDots:    true,
		AllowHyphens: true,
		AllowUnders:  true,
		AllowSpaces:  true,
		AllowPunct:   true,
	}
}

// ValidateName validates a name according to the given rules.
func ValidateName(name string, rules NameRules) error {
	if len(name) < rules.MinLength {
		return fmt.Errorf("name too short: minimum %d characters required", rules.MinLength)
	}
	if len(name) > rules.MaxLength {
		return fmt.Errorf("name too long: maximum %d characters allowed", rules.MaxLength)
	}

	if name == "." || name == ".." {
		return fmt.Errorf("name cannot be '.' or '..'")
	}

	if strings.TrimSpace(name) != name {
		return fmt.Errorf("name cannot start or end with whitespace")
	}

	for i, r := range name {
		if r < 32 || r == 127 {
			return fmt.Errorf("name cannot contain control characters at position %d", i)
		}
		if r == '/' || r == '\\' {
			return fmt.Errorf("name cannot contain path separators at position %d", i)
		}
		if !isAllowedNameChar(r, rules) {
			return fmt.Errorf("invalid character '%c' at position %d", r, i)
		}
	}

	return nil
}

func isAllowedNameChar(r rune, rules NameRules) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '.':
		return rules.AllowDots
	case '-':
		return rules.AllowHyphens
	case '_':
		return rules.AllowUnders
	case ' ':
		return rules.AllowSpaces
	case '"':
		return false
	}
	return rules.AllowPunct && (unicode.IsPunct(r) || unicode.IsSymbol(r))
}

// ValidateTableName validates a persisted table name.
func ValidateTableName(name string) error {
	return ValidateName(name, TableNameRules())
}

// ValidateColumnName validates a column name.
func ValidateColumnName(name string) error {
	return ValidateName(name, ColumnNameRules())
}

// ValidateColumns validates every column name and rejects repeats.
func ValidateColumns(names []string) error {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if err := ValidateColumnName(n); err != nil {
			return fmt.Errorf("column %q: %w", n, err)
		}
		if seen[n] {
			return fmt.Errorf("column %q listed twice", n)
		}
		seen[n] = true
	}
	return nil
}

// =============================================================================
// SQL Identifiers
// =============================================================================

// QuoteIdent quotes a column or table name for SQL.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral quotes a string literal for SQL.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
