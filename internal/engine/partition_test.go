package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panelkit/panelkit/internal/errors"
	"github.com/panelkit/panelkit/internal/panel"
)

var groupSchema = panel.MustSchema(
	panel.Field{Name: "entity", Kind: panel.KindString},
	panel.Field{Name: "seq", Kind: panel.KindInt},
	panel.Field{Name: "value", Kind: panel.KindFloat},
)

// sizedTable builds a table with one group per entry of sizes. Rows are
// interleaved so that groups are not contiguous in the input.
func sizedTable(sizes []int) *panel.Table {
	t := panel.NewTable("sized", groupSchema)
	seq := int64(0)
	for round := 0; ; round++ {
		added := false
		for g := len(sizes) - 1; g >= 0; g-- {
			if round >= sizes[g] {
				continue
			}
			t.MustAppend(
				panel.StringValue(fmt.Sprintf("g%03d", g)),
				panel.IntValue(seq),
				panel.FloatValue(float64(g*1000+round)),
			)
			seq++
			added = true
		}
		if !added {
			return t
		}
	}
}

func TestCuts_NearestQuantiles(t *testing.T) {
	idx := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 8, 8, 8}
	cuts, err := Cuts(idx, 4)
	require.NoError(t, err)
	// positions 0, 2.75, 5.5, 8.25, 11 round to 0, 3, 6, 8, 11
	assert.Equal(t, []int{0, 3, 6, 8, 8}, cuts)
}

func TestCuts_Errors(t *testing.T) {
	_, err := Cuts([]int{0, 1}, 0)
	assert.ErrorIs(t, err, errors.ErrInvalidWorkers)

	_, err = Cuts([]int{2, 1}, 2)
	assert.ErrorIs(t, err, errors.ErrUnsortedGroups)
}

func TestPartition_Deterministic(t *testing.T) {
	idx := []int{0, 0, 1, 2, 2, 2, 3, 4, 5, 5}
	a, err := Partition(idx, 3)
	require.NoError(t, err)
	b, err := Partition(idx, 3)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.True(t, a[2].Closed)
	assert.False(t, a[0].Closed)
}

func TestSplit_CompleteDisjointNoGroupSplit(t *testing.T) {
	sizes := []int{3, 1, 4, 1, 5, 9, 2, 6, 5, 3}
	tbl := sizedTable(sizes)

	for n := 1; n <= len(sizes); n++ {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			part, err := Split(tbl, []string{"entity"}, n)
			require.NoError(t, err)
			require.Len(t, part.Chunks, n)

			seen := make(map[int]int) // origin -> chunk
			groupChunk := make(map[string]int)
			total := 0
			lastGroup := -1
			for _, c := range part.Chunks {
				for _, g := range c.Groups {
					assert.Greater(t, g.Index, lastGroup, "chunks must be in increasing group order")
					lastGroup = g.Index

					key := g.Key.String()
					if prev, ok := groupChunk[key]; ok {
						t.Fatalf("group %s in chunks %d and %d", key, prev, c.ID)
					}
					groupChunk[key] = c.ID

					for _, o := range g.Origins {
						if prev, ok := seen[o]; ok {
							t.Fatalf("row %d in chunks %d and %d", o, prev, c.ID)
						}
						seen[o] = c.ID
					}
					total += g.Len()
				}
			}
			assert.Equal(t, tbl.Len(), total)
			assert.Len(t, seen, tbl.Len())
			assert.Len(t, groupChunk, len(sizes))
		})
	}
}

func TestSplit_SkewedGroups(t *testing.T) {
	tbl := sizedTable([]int{1, 1, 1, 1, 1, 1, 1, 1, 100})

	part, err := Split(tbl, []string{"entity"}, 4)
	require.NoError(t, err)

	total := 0
	holders := 0
	for _, c := range part.Chunks {
		total += c.Len()
		for _, g := range c.Groups {
			if g.Key.String() == "g008" {
				holders++
				assert.Equal(t, 100, g.Len())
			}
		}
	}
	assert.Equal(t, 108, total)
	assert.Equal(t, 1, holders)

	// cuts are [0, 8, 8, 8, 8]: small groups in chunk 0, the large one in the
	// closed last chunk, the middle chunks empty.
	assert.Equal(t, 8, part.Chunks[0].Len())
	assert.Equal(t, 0, part.Chunks[1].Len())
	assert.Equal(t, 0, part.Chunks[2].Len())
	assert.Equal(t, 100, part.Chunks[3].Len())
}

func TestSplit_FewerGroupsThanWorkers(t *testing.T) {
	tbl := sizedTable([]int{2, 2})

	part, err := Split(tbl, []string{"entity"}, 4)
	require.NoError(t, err)

	empty := 0
	for _, c := range part.Chunks {
		if len(c.Groups) == 0 {
			empty++
		}
	}
	assert.GreaterOrEqual(t, empty, 2)
	assert.Equal(t, 2, part.Groups)
}

func TestSplit_EmptyTable(t *testing.T) {
	part, err := Split(panel.NewTable("empty", groupSchema), []string{"entity"}, 3)
	require.NoError(t, err)
	require.Len(t, part.Chunks, 3)
	for _, c := range part.Chunks {
		assert.Empty(t, c.Groups)
	}
}

func TestSplit_MissingColumn(t *testing.T) {
	_, err := Split(sizedTable([]int{1}), []string{"nope"}, 2)
	assert.ErrorIs(t, err, errors.ErrMissingColumn)
}

func TestGroupRows_KeepsEncounterOrder(t *testing.T) {
	tbl := panel.NewTable("t", groupSchema)
	tbl.MustAppend(panel.StringValue("b"), panel.IntValue(0), panel.FloatValue(1))
	tbl.MustAppend(panel.StringValue("a"), panel.IntValue(1), panel.FloatValue(2))
	tbl.MustAppend(panel.StringValue("b"), panel.IntValue(2), panel.FloatValue(3))

	groups, err := GroupRows(tbl, []string{"entity"})
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "a", groups[0].Key.String())
	assert.Equal(t, []int{0, 2}, groups[1].Origins)
}
