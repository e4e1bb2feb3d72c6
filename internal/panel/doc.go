// Package panel defines the in-memory panel table: typed nullable cells,
// immutable schemas, rows keyed by entity and period, and group keys.
//
// A Table is an ordered collection of rows. Stages never mutate a table they
// have handed on; they derive a new one. Schemas are immutable and shared.
//
// Missing data is explicit: every Value carries a validity flag, and numeric
// accessors return NaN for missing cells.
package panel
