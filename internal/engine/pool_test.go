package engine

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panelkit/panelkit/internal/errors"
	"github.com/panelkit/panelkit/internal/panel"
)

func newPool(t *testing.T, workers int) *Pool {
	t.Helper()
	p, err := NewPool(Options{Workers: workers})
	require.NoError(t, err)
	return p
}

// sumReducer collapses a group into its first row with value = sum(value).
var sumReducer = Reduce("sum", func(g Group) (panel.Row, error) {
	total := 0.0
	for _, r := range g.Rows {
		total += r[2].Float()
	}
	out := g.Rows[0].Clone()
	out[2] = panel.FloatValue(total)
	return out, nil
})

// cumsum maps each row to the running sum of value within its group.
var cumsum = Map("cumsum", func(g Group) ([]panel.Row, error) {
	out := make([]panel.Row, len(g.Rows))
	run := 0.0
	for i, r := range g.Rows {
		run += r[2].Float()
		nr := r.Clone()
		nr[2] = panel.FloatValue(run)
		out[i] = nr
	}
	return out, nil
})

func valuesByKey(t *testing.T, tbl *panel.Table) map[string]float64 {
	t.Helper()
	out := make(map[string]float64, tbl.Len())
	for _, r := range tbl.Rows {
		out[r[0].String()+"/"+r[1].String()] = r[2].Float()
	}
	return out
}

func TestNewPool_InvalidWorkers(t *testing.T) {
	_, err := NewPool(Options{Workers: 0})
	assert.ErrorIs(t, err, errors.ErrInvalidWorkers)
}

func TestPool_RowReducer(t *testing.T) {
	sizes := []int{3, 1, 4, 1, 5}
	tbl := sizedTable(sizes)

	out, err := newPool(t, 2).Apply(context.Background(), tbl, []string{"entity"}, sumReducer)
	require.NoError(t, err)
	require.Equal(t, len(sizes), out.Len())

	for _, r := range out.Rows {
		var g int
		_, err := fmt.Sscanf(r[0].Text(), "g%03d", &g)
		require.NoError(t, err)
		want := 0.0
		for round := 0; round < sizes[g]; round++ {
			want += float64(g*1000 + round)
		}
		assert.Equal(t, want, r[2].Float(), "group %d", g)
	}
}

func TestPool_ElementwiseMapMatchesSerial(t *testing.T) {
	tbl := sizedTable([]int{3, 1, 4, 1, 5, 9, 2, 6})

	serial, err := newPool(t, 1).Apply(context.Background(), tbl, []string{"entity"}, cumsum)
	require.NoError(t, err)
	want := valuesByKey(t, serial)

	for _, workers := range []int{2, 3, 4, 8} {
		out, err := newPool(t, workers).Apply(context.Background(), tbl, []string{"entity"}, cumsum)
		require.NoError(t, err)
		assert.Equal(t, tbl.Len(), out.Len())
		assert.Equal(t, want, valuesByKey(t, out), "workers=%d", workers)
	}
}

func TestPool_RepeatedRunsIdentical(t *testing.T) {
	tbl := sizedTable([]int{5, 4, 3, 2, 1, 7})
	p := newPool(t, 3)

	a, err := p.Apply(context.Background(), tbl, []string{"entity"}, cumsum)
	require.NoError(t, err)
	b, err := p.Apply(context.Background(), tbl, []string{"entity"}, cumsum)
	require.NoError(t, err)
	assert.Equal(t, a.Rows, b.Rows)
}

func TestPool_DoesNotMutateInput(t *testing.T) {
	tbl := sizedTable([]int{2, 3})
	before := tbl.Clone()

	mutating := Map("mutate", func(g Group) ([]panel.Row, error) {
		for _, r := range g.Rows {
			r[2] = panel.FloatValue(-1)
		}
		return g.Rows, nil
	})
	_, err := newPool(t, 2).Apply(context.Background(), tbl, []string{"entity"}, mutating)
	require.NoError(t, err)
	assert.Equal(t, before.Rows, tbl.Rows)
}

func TestPool_EmptyChunksAreNoOps(t *testing.T) {
	tbl := sizedTable([]int{2})
	out, err := newPool(t, 4).Apply(context.Background(), tbl, []string{"entity"}, sumReducer)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Len())
}

func TestPool_ShapeMismatch(t *testing.T) {
	bad := Map("bad", func(g Group) ([]panel.Row, error) {
		return g.Rows[:1], nil
	})
	_, err := newPool(t, 2).Apply(context.Background(), sizedTable([]int{1, 3}), []string{"entity"}, bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrShapeMismatch)
	assert.ErrorIs(t, err, errors.ErrWorkerFailure)
}

func TestPool_FailFast(t *testing.T) {
	boom := fmt.Errorf("boom")
	var calls atomic.Int64

	failing := Reduce("failing", func(g Group) (panel.Row, error) {
		calls.Add(1)
		if g.Key.String() == "g000" {
			return nil, boom
		}
		time.Sleep(time.Millisecond)
		return g.Rows[0], nil
	})

	sizes := make([]int, 200)
	for i := range sizes {
		sizes[i] = 1
	}
	out, err := newPool(t, 2).Apply(context.Background(), sizedTable(sizes), []string{"entity"}, failing)
	require.Error(t, err)
	assert.Nil(t, out, "no partial output on failure")
	assert.ErrorIs(t, err, boom)

	var we *errors.WorkerError
	require.True(t, errors.As(err, &we))
	assert.Equal(t, "g000", we.Group)
	assert.Less(t, calls.Load(), int64(200), "remaining groups should be skipped after the first failure")
}

func TestPool_PanicBecomesWorkerError(t *testing.T) {
	panicky := Reduce("panicky", func(g Group) (panel.Row, error) {
		panic("bad group")
	})
	_, err := newPool(t, 2).Apply(context.Background(), sizedTable([]int{1, 1}), []string{"entity"}, panicky)
	require.Error(t, err)
	assert.True(t, errors.IsWorker(err))
	assert.Contains(t, err.Error(), "bad group")
}

func TestPool_RowWidthChecked(t *testing.T) {
	narrow := Reduce("narrow", func(g Group) (panel.Row, error) {
		return panel.Row{g.Key[0]}, nil
	})
	_, err := newPool(t, 1).Apply(context.Background(), sizedTable([]int{1}), []string{"entity"}, narrow)
	assert.ErrorIs(t, err, errors.ErrRowWidth)

	keyOnly := panel.MustSchema(panel.Field{Name: "entity", Kind: panel.KindString})
	out, err := newPool(t, 1).Apply(context.Background(), sizedTable([]int{1, 2}), []string{"entity"}, narrow.WithOutput(keyOnly))
	require.NoError(t, err)
	assert.Equal(t, 2, out.Len())
	assert.True(t, out.Schema.Equal(keyOnly))
}

func TestPool_InvalidTransform(t *testing.T) {
	_, err := newPool(t, 1).Apply(context.Background(), sizedTable([]int{1}), []string{"entity"}, Transform{Name: "empty"})
	assert.ErrorIs(t, err, errors.ErrInvalidVariant)
}

func TestPool_Progress(t *testing.T) {
	var mu sync.Mutex
	var reports []Progress

	p, err := NewPool(Options{
		Workers:          1,
		ProgressInterval: 3,
		OnProgress: func(pr Progress) {
			mu.Lock()
			defer mu.Unlock()
			reports = append(reports, pr)
		},
	})
	require.NoError(t, err)

	sizes := make([]int, 10)
	for i := range sizes {
		sizes[i] = 1
	}
	_, err = p.Apply(context.Background(), sizedTable(sizes), []string{"entity"}, sumReducer)
	require.NoError(t, err)

	require.Len(t, reports, 3)
	assert.Equal(t, []int{3, 6, 9}, []int{reports[0].Groups, reports[1].Groups, reports[2].Groups})
	assert.Equal(t, "sum", reports[0].Transform)
}

func TestPool_ProgressDisabled(t *testing.T) {
	called := false
	p, err := NewPool(Options{Workers: 1, OnProgress: func(Progress) { called = true }})
	require.NoError(t, err)

	_, err = p.Apply(context.Background(), sizedTable([]int{1, 1, 1}), []string{"entity"}, sumReducer)
	require.NoError(t, err)
	assert.False(t, called)
}

type recordingObserver struct {
	groups atomic.Int64
	chunks atomic.Int64
}

func (o *recordingObserver) GroupsProcessed(_ string, n int) { o.groups.Add(int64(n)) }

func (o *recordingObserver) ChunkDone(string, int, time.Duration) { o.chunks.Add(1) }

func TestPool_Observer(t *testing.T) {
	obs := &recordingObserver{}
	p, err := NewPool(Options{Workers: 3, Observer: obs})
	require.NoError(t, err)

	_, err = p.Apply(context.Background(), sizedTable([]int{1, 2, 3, 4}), []string{"entity"}, sumReducer)
	require.NoError(t, err)
	assert.Equal(t, int64(4), obs.groups.Load())
	assert.Equal(t, int64(3), obs.chunks.Load())
	assert.Equal(t, int64(4), p.Stats().GroupsProcessed.Load())
}

func TestPool_Each(t *testing.T) {
	p := newPool(t, 2)
	out := make([]int, 5)
	err := p.Each(context.Background(), "square", len(out), func(_ context.Context, i int) error {
		out[i] = i * i
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 4, 9, 16}, out)
}

func TestPool_EachFailure(t *testing.T) {
	p := newPool(t, 1)
	var ran []int
	err := p.Each(context.Background(), "units", 5, func(ctx context.Context, i int) error {
		ran = append(ran, i)
		if i == 1 {
			return fmt.Errorf("unit %d failed", i)
		}
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.IsWorker(err))
	assert.False(t, slices.Contains(ran, 4), "units after the failure should not run")
}
