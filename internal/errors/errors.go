// LOCATION: internal/errors/errors.go
//
// This file provides:
// - Process exit codes for batch runs
// - Sentinel errors for all error conditions
// - Typed gate and worker errors carrying the offending keys
// - Error category checking functions
// - Error wrapping utilities

package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ============================================================================
// Exit codes - returned by panelctl
// ============================================================================

const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitInvalidConfig = 2
	ExitGate          = 3
	ExitWorker        = 4
)

// ExitName returns a human-readable name for an exit code.
func ExitName(code int) string {
	switch code {
	case ExitOK:
		return "OK"
	case ExitFailure:
		return "Failure"
	case ExitInvalidConfig:
		return "InvalidConfig"
	case ExitGate:
		return "GateViolation"
	case ExitWorker:
		return "WorkerFailure"
	default:
		return fmt.Sprintf("Exit(%d)", code)
	}
}

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Data errors
	ErrTypeCoercion  = errors.New("type coercion failed")
	ErrMissingColumn = errors.New("missing column")
	ErrInvalidSchema = errors.New("invalid schema")
	ErrRowWidth      = errors.New("row width does not match schema")
	ErrNotFound      = errors.New("not found")

	// Gate errors
	ErrDuplicateKey  = errors.New("duplicate key")
	ErrDiscontinuity = errors.New("discontinuous time index")

	// Engine errors
	ErrWorkerFailure  = errors.New("worker failure")
	ErrShapeMismatch  = errors.New("elementwise map changed row count")
	ErrUnsortedGroups = errors.New("group index is not monotonically non-decreasing")
	ErrInvalidWorkers = errors.New("worker count must be at least 1")
	ErrInvalidVariant = errors.New("transform has no callback")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingField  = errors.New("missing required field")
	ErrUnknownStage  = errors.New("unknown stage")

	// Storage errors
	ErrWriterClosed = errors.New("writer is closed")
	ErrDatabase     = errors.New("database error")
)

// ============================================================================
// Typed errors
// ============================================================================

// DuplicateKeyError reports keys that occur more than once after a
// deduplication stage.
type DuplicateKeyError struct {
	Table  string
	Keys   []string
	Counts []int
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s: %d duplicated keys (%s)", e.Table, len(e.Keys), preview(e.Keys, e.Counts))
}

func (e *DuplicateKeyError) Unwrap() error { return ErrDuplicateKey }

// DiscontinuityError reports entities whose time index has a gap larger than
// the configured tolerance.
type DiscontinuityError struct {
	Table      string
	Entities   []string
	MaxGapDays []int
}

func (e *DiscontinuityError) Error() string {
	return fmt.Sprintf("%s: %d discontinuous entities (%s)", e.Table, len(e.Entities), preview(e.Entities, e.MaxGapDays))
}

func (e *DiscontinuityError) Unwrap() error { return ErrDiscontinuity }

// WorkerError wraps the first failure raised inside a pool worker.
type WorkerError struct {
	Transform string
	Worker    int
	Group     string
	Err       error
}

func (e *WorkerError) Error() string {
	if e.Group == "" {
		return fmt.Sprintf("%s: worker %d: %v", e.Transform, e.Worker, e.Err)
	}
	return fmt.Sprintf("%s: worker %d: group %s: %v", e.Transform, e.Worker, e.Group, e.Err)
}

// Unwrap exposes both the taxonomy sentinel and the callback's own error.
func (e *WorkerError) Unwrap() []error { return []error{ErrWorkerFailure, e.Err} }

const previewLimit = 10

func preview(keys []string, counts []int) string {
	var b strings.Builder
	for i, k := range keys {
		if i == previewLimit {
			fmt.Fprintf(&b, ", ... %d more", len(keys)-previewLimit)
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		if i < len(counts) {
			fmt.Fprintf(&b, "%s=%d", k, counts[i])
		} else {
			b.WriteString(k)
		}
	}
	return b.String()
}

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// IsGate returns true if err is a pipeline gate violation.
func IsGate(err error) bool {
	return errors.Is(err, ErrDuplicateKey) || errors.Is(err, ErrDiscontinuity)
}

// IsWorker returns true if err originated inside a pool worker.
func IsWorker(err error) bool {
	return errors.Is(err, ErrWorkerFailure)
}

// IsValidation returns true if err is a configuration error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrUnknownStage)
}

// ExitCode maps an error to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case IsGate(err):
		return ExitGate
	case IsWorker(err):
		return ExitWorker
	case IsValidation(err):
		return ExitInvalidConfig
	default:
		return ExitFailure
	}
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewMissingColumn creates a missing column error.
func NewMissingColumn(table, column string) error {
	return fmt.Errorf("%s: column %q: %w", table, column, ErrMissingColumn)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the collected errors for errors.Is/As support.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}
