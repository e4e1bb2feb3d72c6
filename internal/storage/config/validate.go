package config

import (
	"fmt"
	"os"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/panelkit/panelkit/internal/errors"
	"github.com/panelkit/panelkit/internal/validation"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report YAML names rather than Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the configuration for errors. Struct tags are checked
// first; cross-field rules are collected afterwards so that one call
// reports every problem.
func (c *Config) Validate() error {
	errs := errors.NewValidationErrors()

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return errors.Wrap(err, "validate config")
		}
		for _, fe := range fieldErrs {
			errs.AddField(fieldPath(fe), formatFieldError(fe))
		}
	}

	if err := validation.ValidateTableName(c.Security.Table); err != nil {
		errs.AddField("security.table", err.Error())
	}
	if err := validation.ValidateTableName(c.Accounting.Table); err != nil {
		errs.AddField("accounting.table", err.Error())
	}
	if err := validation.ValidateTableName(c.Merge.Table); err != nil {
		errs.AddField("merge.table", err.Error())
	}
	if c.Security.Table == c.Accounting.Table || c.Security.Table == c.Merge.Table || c.Accounting.Table == c.Merge.Table {
		errs.AddField("table", "security, accounting and merge tables must have distinct names")
	}

	if _, ok := ParseMemoryLimit(c.Query.MemoryLimit); !ok && c.Query.MemoryLimit != "" {
		errs.AddField("query.memory_limit", fmt.Sprintf("cannot parse %q", c.Query.MemoryLimit))
	}

	c.Security.DatasetConfig.validate("security", errs)
	c.Accounting.DatasetConfig.validate("accounting", errs)

	agg := c.Security.Aggregation
	for _, col := range slices.Concat(agg.First, agg.Add, []string{agg.Weight}) {
		if err := validation.ValidateColumnName(col); err != nil {
			errs.AddField("security.aggregation", fmt.Sprintf("column %q: %v", col, err))
		}
	}

	if !slices.Contains(c.Security.ValueColumns, c.Security.ReturnColumn) {
		errs.AddField("security.return_column", fmt.Sprintf("%q must be one of value_columns", c.Security.ReturnColumn))
	}

	if c.Accounting.FiscalYearColumn == c.Accounting.FiscalPeriodColumn {
		errs.AddField("accounting.fiscal_period_column", "must differ from fiscal_year_column")
	}
	for _, col := range c.Accounting.ValueColumns {
		if !slices.Contains(c.Accounting.Types.Float, rawName(c.Accounting.Rename, col)) {
			errs.AddField("accounting.value_columns", fmt.Sprintf("%q is not declared as a float column", col))
		}
	}

	if c.Security.EntityColumn != c.Accounting.EntityColumn || c.Security.TimeColumn != c.Accounting.TimeColumn {
		errs.AddField("accounting.entity_column", "security and accounting must share entity and time columns to merge")
	}

	return errs.Err()
}

// validate applies the cross-field rules shared by both datasets.
func (d *DatasetConfig) validate(section string, errs *errors.ValidationErrors) {
	if err := validation.ValidateColumns(d.Rename.Targets()); err != nil {
		errs.AddField(section+".rename", err.Error())
	}
	if err := validation.ValidateColumns(d.GroupKeyColumns); err != nil {
		errs.AddField(section+".group_key_columns", err.Error())
	}
	if err := validation.ValidateColumns(d.ValueColumns); err != nil {
		errs.AddField(section+".value_columns", err.Error())
	}

	if !slices.Contains(d.GroupKeyColumns, d.EntityColumn) {
		errs.AddField(section+".group_key_columns", fmt.Sprintf("must contain entity_column %q", d.EntityColumn))
	}
	if !slices.Contains(d.GroupKeyColumns, d.TimeColumn) {
		errs.AddField(section+".group_key_columns", fmt.Sprintf("must contain time_column %q", d.TimeColumn))
	}
	if !slices.Contains(d.Types.Date, rawName(d.Rename, d.TimeColumn)) {
		errs.AddField(section+".time_column", fmt.Sprintf("%q is not declared as a date column", d.TimeColumn))
	}

	seen := make(map[string]string)
	for kind, cols := range map[string][]string{"date": d.Types.Date, "float": d.Types.Float, "int": d.Types.Int} {
		for _, col := range cols {
			if prev, ok := seen[col]; ok {
				errs.AddField(section+".types", fmt.Sprintf("column %q declared as both %s and %s", col, prev, kind))
			}
			seen[col] = kind
		}
	}
}

// rawName maps a cleaned column name back to its raw name.
func rawName(renames Renames, cleaned string) string {
	for _, r := range renames {
		if r.To == cleaned {
			return r.From
		}
	}
	return cleaned
}

func fieldPath(fe validator.FieldError) string {
	// Namespace is "Config.security.DatasetConfig.input"; drop the root type
	// and the inline struct.
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		ns = rest
	}
	return strings.ReplaceAll(ns, ".DatasetConfig", "")
}

func formatFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "lt":
		return fmt.Sprintf("must be less than %s", fe.Param())
	case "nefield":
		return fmt.Sprintf("must differ from %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// EnsureDirectories creates the data directory.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", c.DataDir, err)
	}
	return nil
}
