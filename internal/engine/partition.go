package engine

import (
	"fmt"
	"math"
	"slices"

	"github.com/panelkit/panelkit/internal/errors"
	"github.com/panelkit/panelkit/internal/panel"
)

// Bounds is the group-index range covered by one chunk: [Lo, Hi), or
// [Lo, Hi] when Closed is set (the last chunk).
type Bounds struct {
	Lo     int
	Hi     int
	Closed bool
}

// Contains reports whether group index g falls inside the bounds.
func (b Bounds) Contains(g int) bool {
	if g < b.Lo {
		return false
	}
	if b.Closed {
		return g <= b.Hi
	}
	return g < b.Hi
}

// Cuts returns the n+1 quantiles of groupIndex at 0, 1/n, ..., 1 using
// nearest-value interpolation. groupIndex holds one entry per row and must be
// sorted; quantiles are therefore weighted by rows, not by groups.
func Cuts(groupIndex []int, n int) ([]int, error) {
	if n < 1 {
		return nil, errors.ErrInvalidWorkers
	}
	if !slices.IsSorted(groupIndex) {
		return nil, errors.ErrUnsortedGroups
	}

	cuts := make([]int, n+1)
	if len(groupIndex) == 0 {
		return cuts, nil
	}

	last := float64(len(groupIndex) - 1)
	for i := 0; i <= n; i++ {
		pos := math.RoundToEven(last * float64(i) / float64(n))
		cuts[i] = groupIndex[int(pos)]
	}
	return cuts, nil
}

// Partition turns the group-index distribution into n chunk bounds. Chunk
// bounds are a pure function of the distribution, so the same input and n
// always produce the same partitioning. When there are fewer distinct groups
// than n some bounds are empty.
func Partition(groupIndex []int, n int) ([]Bounds, error) {
	cuts, err := Cuts(groupIndex, n)
	if err != nil {
		return nil, err
	}
	bounds := make([]Bounds, n)
	for i := 0; i < n; i++ {
		bounds[i] = Bounds{Lo: cuts[i], Hi: cuts[i+1], Closed: i == n-1}
	}
	return bounds, nil
}

// Group is every row sharing one key.
type Group struct {
	// Index is the dense rank of Key among all keys of the table.
	Index int
	Key   panel.Key
	Rows  []panel.Row

	// Origins holds the position of each row in the input table.
	Origins []int
}

// Len returns the number of rows in the group.
func (g Group) Len() int { return len(g.Rows) }

// Clone deep-copies the group.
func (g Group) Clone() Group {
	out := Group{
		Index:   g.Index,
		Key:     slices.Clone(g.Key),
		Rows:    make([]panel.Row, len(g.Rows)),
		Origins: slices.Clone(g.Origins),
	}
	for i, r := range g.Rows {
		out.Rows[i] = r.Clone()
	}
	return out
}

// Chunk is a contiguous run of whole groups assigned to one worker.
type Chunk struct {
	ID     int
	Bounds Bounds
	Groups []Group
}

// Len returns the number of rows in the chunk.
func (c Chunk) Len() int {
	n := 0
	for _, g := range c.Groups {
		n += len(g.Rows)
	}
	return n
}

// Clone deep-copies the chunk so a worker owns its data outright.
func (c Chunk) Clone() Chunk {
	out := Chunk{ID: c.ID, Bounds: c.Bounds, Groups: make([]Group, len(c.Groups))}
	for i, g := range c.Groups {
		out.Groups[i] = g.Clone()
	}
	return out
}

// Partitioning is a table split into chunks of whole groups.
type Partitioning struct {
	Table      string
	Schema     *panel.Schema
	KeyColumns []string
	Chunks     []Chunk
	Groups     int
	Rows       int
}

// GroupRows sorts the table's rows by key (stable, so rows of one group keep
// their input order) and collects them into groups in increasing key order.
func GroupRows(t *panel.Table, keyColumns []string) ([]Group, error) {
	idx, err := t.Schema.Indices(keyColumns...)
	if err != nil {
		return nil, errors.Wrap(err, t.Name)
	}

	keys := make([]panel.Key, len(t.Rows))
	order := make([]int, len(t.Rows))
	for i, r := range t.Rows {
		keys[i] = panel.KeyOf(r, idx)
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return panel.CompareKeys(keys[a], keys[b])
	})

	var groups []Group
	for _, i := range order {
		n := len(groups)
		if n == 0 || panel.CompareKeys(groups[n-1].Key, keys[i]) != 0 {
			groups = append(groups, Group{Index: n, Key: keys[i]})
			n++
		}
		g := &groups[n-1]
		g.Rows = append(g.Rows, t.Rows[i])
		g.Origins = append(g.Origins, i)
	}
	return groups, nil
}

// Split partitions t by keyColumns into n chunks. Every group lands in
// exactly one chunk and chunks are returned in increasing group order.
func Split(t *panel.Table, keyColumns []string, n int) (*Partitioning, error) {
	if n < 1 {
		return nil, errors.ErrInvalidWorkers
	}
	groups, err := GroupRows(t, keyColumns)
	if err != nil {
		return nil, err
	}

	groupIndex := make([]int, 0, len(t.Rows))
	for _, g := range groups {
		for range g.Rows {
			groupIndex = append(groupIndex, g.Index)
		}
	}

	bounds, err := Partition(groupIndex, n)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.Name, err)
	}

	p := &Partitioning{
		Table:      t.Name,
		Schema:     t.Schema,
		KeyColumns: slices.Clone(keyColumns),
		Chunks:     make([]Chunk, n),
		Groups:     len(groups),
		Rows:       len(t.Rows),
	}
	for i, b := range bounds {
		p.Chunks[i] = Chunk{ID: i, Bounds: b}
	}

	c := 0
	for _, g := range groups {
		for !p.Chunks[c].Bounds.Contains(g.Index) {
			c++
		}
		p.Chunks[c].Groups = append(p.Chunks[c].Groups, g)
	}
	return p, nil
}
