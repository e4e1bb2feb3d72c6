package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/panelkit/panelkit/internal/errors"
	"github.com/panelkit/panelkit/internal/logging"
	"github.com/panelkit/panelkit/internal/panel"
)

// Progress is reported every ProgressInterval groups within one worker.
type Progress struct {
	Transform string
	Worker    int
	Groups    int
	Total     int
}

// ProgressFunc receives progress reports. It is called from worker
// goroutines and must be safe for concurrent use.
type ProgressFunc func(Progress)

// Observer receives pool events. Implementations must be safe for concurrent
// use.
type Observer interface {
	GroupsProcessed(transform string, n int)
	ChunkDone(transform string, worker int, d time.Duration)
}

// Options configures a Pool.
type Options struct {
	// Workers is the number of parallel workers. Must be at least 1.
	Workers int

	// ProgressInterval reports progress every N groups within a worker.
	// Zero disables reporting.
	ProgressInterval int

	// OnProgress receives progress reports. If nil and ProgressInterval is
	// set, progress is logged.
	OnProgress ProgressFunc

	// Observer receives group and chunk events. Optional.
	Observer Observer
}

// Stats holds pool statistics.
type Stats struct {
	Runs            atomic.Int64
	Failures        atomic.Int64
	GroupsProcessed atomic.Int64
	RowsProduced    atomic.Int64
}

// Pool runs per-group transforms over chunks in parallel. Each worker owns a
// private copy of its chunk; the only synchronization point is the join at
// the end of Run or Each. The first failure cancels the remaining workers and
// is returned as is; no partial output is ever returned.
type Pool struct {
	opts  Options
	log   *slog.Logger
	stats Stats
}

// NewPool creates a worker pool.
func NewPool(opts Options) (*Pool, error) {
	if opts.Workers < 1 {
		return nil, errors.ErrInvalidWorkers
	}
	if opts.ProgressInterval < 0 {
		opts.ProgressInterval = 0
	}
	p := &Pool{
		opts: opts,
		log:  logging.Component("engine"),
	}
	if p.opts.OnProgress == nil && p.opts.ProgressInterval > 0 {
		p.opts.OnProgress = p.logProgress
	}
	return p, nil
}

// Workers returns the configured worker count.
func (p *Pool) Workers() int { return p.opts.Workers }

// Stats returns the pool statistics.
func (p *Pool) Stats() *Stats { return &p.stats }

// Apply splits t by keyColumns into one chunk per worker and runs tf.
func (p *Pool) Apply(ctx context.Context, t *panel.Table, keyColumns []string, tf Transform) (*panel.Table, error) {
	part, err := Split(t, keyColumns, p.opts.Workers)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx, part, tf)
}

// Run executes tf once per group, sequentially within a chunk and in parallel
// across chunks, and concatenates the outputs in chunk order. Within a chunk,
// output follows group order. The result's row order therefore differs from
// the input table's order in general.
func (p *Pool) Run(ctx context.Context, part *Partitioning, tf Transform) (*panel.Table, error) {
	if !tf.valid() {
		return nil, fmt.Errorf("%s: %w", tf.Name, errors.ErrInvalidVariant)
	}
	out := tf.Output
	if out == nil {
		out = part.Schema
	}

	p.stats.Runs.Add(1)
	start := time.Now()

	results := make([][]panel.Row, len(part.Chunks))
	g, gctx := errgroup.WithContext(ctx)
	for i := range part.Chunks {
		chunk := part.Chunks[i].Clone()
		g.Go(func() error {
			rows, err := p.runChunk(gctx, i, chunk, tf, out.Len())
			if err != nil {
				return err
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.stats.Failures.Add(1)
		p.log.Error("pool aborted", "transform", tf.Name, "table", part.Table, "error", err)
		return nil, err
	}

	table := &panel.Table{Name: part.Table, Schema: out}
	for _, rows := range results {
		table.Rows = append(table.Rows, rows...)
	}
	p.stats.RowsProduced.Add(int64(len(table.Rows)))

	p.log.Debug("pool finished",
		"transform", tf.Name,
		"variant", tf.variant.String(),
		"table", part.Table,
		"chunks", len(part.Chunks),
		"groups", part.Groups,
		"rows_in", part.Rows,
		"rows_out", len(table.Rows),
		"elapsed", time.Since(start),
	)
	return table, nil
}

// runChunk processes one chunk's groups in order.
func (p *Pool) runChunk(ctx context.Context, worker int, c Chunk, tf Transform, width int) ([]panel.Row, error) {
	start := time.Now()
	rows := make([]panel.Row, 0, c.Len())

	for n, g := range c.Groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out, err := p.call(tf, g, width)
		if err != nil {
			return nil, &errors.WorkerError{
				Transform: tf.Name,
				Worker:    worker,
				Group:     g.Key.String(),
				Err:       err,
			}
		}
		rows = append(rows, out...)

		done := n + 1
		if p.opts.ProgressInterval > 0 && done%p.opts.ProgressInterval == 0 {
			p.opts.OnProgress(Progress{Transform: tf.Name, Worker: worker, Groups: done, Total: len(c.Groups)})
		}
	}

	p.stats.GroupsProcessed.Add(int64(len(c.Groups)))
	if p.opts.Observer != nil {
		p.opts.Observer.GroupsProcessed(tf.Name, len(c.Groups))
		p.opts.Observer.ChunkDone(tf.Name, worker, time.Since(start))
	}
	return rows, nil
}

// call invokes the transform on one group and checks the result's shape.
func (p *Pool) call(tf Transform, g Group, width int) (out []panel.Row, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	switch tf.variant {
	case RowReducer:
		row, err := tf.reduce(g)
		if err != nil {
			return nil, err
		}
		out = []panel.Row{row}
	case ElementwiseMap:
		out, err = tf.mapf(g)
		if err != nil {
			return nil, err
		}
		if len(out) != len(g.Rows) {
			return nil, fmt.Errorf("got %d rows for %d: %w", len(out), len(g.Rows), errors.ErrShapeMismatch)
		}
	}

	for _, r := range out {
		if len(r) != width {
			return nil, fmt.Errorf("got %d values for %d fields: %w", len(r), width, errors.ErrRowWidth)
		}
	}
	return out, nil
}

// Each runs fn for units 0..n-1 with at most Workers running at once. It is
// the second axis of parallelism: whole independent units of work (for
// example one variable across every group) rather than row partitions. The
// first failure cancels the units that have not started yet.
func (p *Pool) Each(ctx context.Context, name string, n int, fn func(ctx context.Context, unit int) error) error {
	p.stats.Runs.Add(1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for i := 0; i < n; i++ {
		g.Go(func() (err error) {
			if err := gctx.Err(); err != nil {
				return err
			}
			defer func() {
				if r := recover(); r != nil {
					err = &errors.WorkerError{Transform: name, Worker: i, Err: fmt.Errorf("panic: %v", r)}
				}
			}()
			if err := fn(gctx, i); err != nil {
				return &errors.WorkerError{Transform: name, Worker: i, Err: err}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.stats.Failures.Add(1)
		p.log.Error("pool aborted", "transform", name, "error", err)
		return err
	}
	return nil
}

func (p *Pool) logProgress(pr Progress) {
	p.log.Info("progress",
		"transform", pr.Transform,
		"worker", pr.Worker,
		"groups", pr.Groups,
		"total", pr.Total,
	)
}
