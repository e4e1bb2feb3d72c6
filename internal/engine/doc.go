// Package engine implements the parallel group-wise transform engine.
//
// A table is split into groups by key, groups are assigned to chunks so that
// no group is ever split, and chunks are processed by a fixed pool of
// workers:
//
//	table ──Split──▶ [chunk 0][chunk 1]...[chunk N-1] ──Run──▶ table
//	                     │        │             │
//	                  worker 0  worker 1 ...  worker N-1
//
// Chunk boundaries are quantiles of the per-row group index, so chunks hold
// roughly equal row counts. Every worker receives a private deep copy of its
// chunk and writes into its own result slot; results are concatenated in
// chunk order after a single join.
//
// Transforms are tagged explicitly as RowReducer (group -> one row) or
// ElementwiseMap (group -> one row per input row). Any error or panic in a
// worker aborts the whole run.
package engine
