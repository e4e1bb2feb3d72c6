package panel

import (
	"cmp"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Kind is the declared type of a column.
type Kind uint8

const (
	KindString Kind = iota
	KindFloat
	KindInt
	KindDate
	KindBool
)

// String returns the kind name used in schema descriptors and config files.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindDate:
		return "date"
	case KindBool:
		return "bool"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind converts a kind name back to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "string":
		return KindString, true
	case "float":
		return KindFloat, true
	case "int":
		return KindInt, true
	case "date":
		return KindDate, true
	case "bool":
		return KindBool, true
	default:
		return 0, false
	}
}

// DateLayout is the canonical text form of date values.
const DateLayout = "2006-01-02"

// Value is a single nullable cell. The zero Value is a missing string.
type Value struct {
	kind  Kind
	valid bool
	f     float64
	i     int64
	s     string
	t     time.Time
}

// FloatValue returns a float cell. NaN is stored as missing.
func FloatValue(f float64) Value {
	if math.IsNaN(f) {
		return Value{kind: KindFloat}
	}
	return Value{kind: KindFloat, valid: true, f: f}
}

// IntValue returns an integer cell.
func IntValue(i int64) Value {
	return Value{kind: KindInt, valid: true, i: i}
}

// StringValue returns a string cell.
func StringValue(s string) Value {
	return Value{kind: KindString, valid: true, s: s}
}

// DateValue returns a date cell normalized to midnight UTC.
func DateValue(t time.Time) Value {
	y, m, d := t.Date()
	return Value{kind: KindDate, valid: true, t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// BoolValue returns a boolean cell.
func BoolValue(b bool) Value {
	v := Value{kind: KindBool, valid: true}
	if b {
		v.i = 1
	}
	return v
}

// NullValue returns a missing cell of the given kind.
func NullValue(k Kind) Value {
	return Value{kind: k}
}

// Kind returns the cell's kind.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the cell is missing.
func (v Value) IsNull() bool { return !v.valid }

// Float returns the numeric value of the cell, or NaN if missing or not numeric.
func (v Value) Float() float64 {
	if !v.valid {
		return math.NaN()
	}
	switch v.kind {
	case KindFloat:
		return v.f
	case KindInt, KindBool:
		return float64(v.i)
	default:
		return math.NaN()
	}
}

// Int returns the integer value of the cell. Floats are truncated.
func (v Value) Int() int64 {
	switch v.kind {
	case KindFloat:
		return int64(v.f)
	default:
		return v.i
	}
}

// Text returns the raw string of a string cell.
func (v Value) Text() string { return v.s }

// Time returns the date of a date cell.
func (v Value) Time() time.Time { return v.t }

// Bool returns the value of a bool cell.
func (v Value) Bool() bool { return v.i != 0 }

// String formats the cell for keys, logs and reports.
func (v Value) String() string {
	if !v.valid {
		return "<null>"
	}
	switch v.kind {
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindDate:
		return v.t.Format(DateLayout)
	case KindBool:
		return strconv.FormatBool(v.i != 0)
	default:
		return v.s
	}
}

// Equal reports whether two cells hold the same kind and value.
// Two missing cells of the same kind are equal.
func (v Value) Equal(o Value) bool {
	return Compare(v, o) == 0
}

// Compare orders two cells. Missing cells sort after present ones; cells of
// different kinds order by kind.
func Compare(a, b Value) int {
	if a.kind != b.kind {
		return cmp.Compare(a.kind, b.kind)
	}
	switch {
	case !a.valid && !b.valid:
		return 0
	case !a.valid:
		return 1
	case !b.valid:
		return -1
	}
	switch a.kind {
	case KindFloat:
		return cmp.Compare(a.f, b.f)
	case KindInt, KindBool:
		return cmp.Compare(a.i, b.i)
	case KindDate:
		return a.t.Compare(b.t)
	default:
		return cmp.Compare(a.s, b.s)
	}
}

// MonthEnd rolls t forward to the last day of its month.
func MonthEnd(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC)
}

// MustDate parses a YYYY-MM-DD date and panics on malformed input.
// Intended for fixtures and constants.
func MustDate(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}
