// Package pipeline sequences the cleaning stages of a panel run.
//
// A run reads the two raw extracts, cleans each into a table unique on
// (entity, time) with no gaps beyond tolerance, persists them, merges them
// into one panel and finally re-checks the persisted files with SQL. Every
// stage is all-or-nothing: a failed gate or worker aborts the run and
// nothing past the failure is written.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/panelkit/panelkit/internal/engine"
	"github.com/panelkit/panelkit/internal/errors"
	"github.com/panelkit/panelkit/internal/logging"
	"github.com/panelkit/panelkit/internal/metrics"
	"github.com/panelkit/panelkit/internal/panel"
	"github.com/panelkit/panelkit/internal/profile"
	"github.com/panelkit/panelkit/internal/storage/config"
	"github.com/panelkit/panelkit/internal/storage/parquet"
)

// Stage names a runnable step.
type Stage string

const (
	StageSecurity   Stage = "security"
	StageAccounting Stage = "accounting"
	StageMerge      Stage = "merge"
	StageVerify     Stage = "verify"
	StageAll        Stage = "all"
)

// Stages lists the steps StageAll runs, in order.
var Stages = []Stage{StageSecurity, StageAccounting, StageMerge, StageVerify}

// ParseStage parses a stage name.
func ParseStage(s string) (Stage, error) {
	switch st := Stage(strings.ToLower(strings.TrimSpace(s))); st {
	case StageSecurity, StageAccounting, StageMerge, StageVerify, StageAll:
		return st, nil
	default:
		return "", fmt.Errorf("%q: %w", s, errors.ErrUnknownStage)
	}
}

// Pipeline runs stages against one configuration.
type Pipeline struct {
	cfg     *config.Config
	pool    *engine.Pool
	store   *parquet.Store
	metrics *metrics.Recorder
	logger  *slog.Logger
}

// New creates a pipeline. The worker pool reports to the pipeline's metrics
// recorder.
func New(cfg *config.Config) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	rec := metrics.New()
	pool, err := engine.NewPool(engine.Options{
		Workers:          cfg.Engine.WorkerCount,
		ProgressInterval: cfg.Engine.ProgressInterval,
		Observer:         rec,
	})
	if err != nil {
		return nil, fmt.Errorf("worker_count %d: %w", cfg.Engine.WorkerCount, err)
	}

	store := parquet.NewStore(cfg.DataDir, parquet.Options{
		Compression:  parquet.ParseCompressionType(cfg.Storage.Compression),
		RowGroupSize: cfg.Storage.RowGroupSize,
	})

	return &Pipeline{
		cfg:     cfg,
		pool:    pool,
		store:   store,
		metrics: rec,
		logger:  logging.Component("pipeline"),
	}, nil
}

// Metrics returns the run's metrics recorder.
func (p *Pipeline) Metrics() *metrics.Recorder { return p.metrics }

// Store returns the table store.
func (p *Pipeline) Store() *parquet.Store { return p.store }

// Run executes stage, or every stage in order for StageAll. Each run gets a
// fresh run ID that is attached to every log record. The metrics textfile,
// when configured, is written even if a stage fails.
func (p *Pipeline) Run(ctx context.Context, stage Stage) (err error) {
	runID := uuid.NewString()
	ctx = logging.ContextWithRunID(ctx, runID)
	log := logging.WithContext(ctx)

	if err := p.cfg.EnsureDirectories(); err != nil {
		return err
	}

	stages := []Stage{stage}
	if stage == StageAll {
		stages = Stages
	}

	start := time.Now()
	log.Info("run started", "stages", stages, "workers", p.pool.Workers(), "data_dir", p.cfg.DataDir)

	defer func() {
		if path := p.cfg.Metrics.Textfile; path != "" {
			if werr := p.metrics.WriteTextfile(path); werr != nil {
				log.Warn("write metrics textfile", "path", path, "error", werr)
			}
		}
		if err != nil {
			log.Error("run failed", "error", err, "exit_code", errors.ExitCode(err), "elapsed", time.Since(start))
			return
		}
		log.Info("run finished", "elapsed", time.Since(start))
	}()

	for _, s := range stages {
		if err := p.runStage(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) runStage(ctx context.Context, s Stage) error {
	ctx = logging.ContextWithStage(ctx, string(s))
	log := logging.WithContext(ctx)

	start := time.Now()
	log.Info("stage started")

	var err error
	switch s {
	case StageSecurity:
		_, err = p.Security(ctx)
	case StageAccounting:
		_, err = p.Accounting(ctx)
	case StageMerge:
		_, err = p.Merge(ctx)
	case StageVerify:
		err = p.Verify(ctx)
	default:
		err = fmt.Errorf("%q: %w", s, errors.ErrUnknownStage)
	}

	p.metrics.StageDone(string(s), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("stage %s: %w", s, err)
	}
	log.Info("stage finished", "elapsed", time.Since(start))
	return nil
}

// persist writes t sorted by (entity, time), records its row count and logs
// its column profiles.
func (p *Pipeline) persist(ctx context.Context, t *panel.Table, entity, timeColumn string) error {
	log := logging.WithContext(ctx)

	req := p.cfg.CalculateRequirements(t.Len(), t.Schema.Len())
	log.Debug("table footprint", req.LogAttrs()...)

	path, err := p.store.Save(t, entity, timeColumn)
	if err != nil {
		return err
	}
	p.metrics.SetRows(t.Name, t.Len())
	log.Info("persisted table", "table", t.Name, "rows", t.Len(), "path", path)

	if !p.cfg.Profile.Enabled {
		return nil
	}
	results, err := profile.Table(ctx, p.pool, t, p.cfg.Profile.Accuracy)
	if err != nil {
		return err
	}
	profile.Log(log, t.Name, results)
	return nil
}
