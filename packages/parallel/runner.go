package parallel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/abdul-hamid-achik/minitest/packages/core/config"
	"github.com/abdul-hamid-achik/minitest/packages/core/suite"
	"github.com/abdul-hamid-achik/minitest/packages/logging"
)

// ErrParallelDisabled is returned by Runner.Run when the configuration does
// not enable parallel execution.
var ErrParallelDisabled = errors.New("parallel execution is not enabled")

var errNoResult = errors.New("worker pool returned no result")

// Runner executes test files on a worker pool.
type Runner struct {
	cfg       *config.Config
	spawner   Spawner
	logger    *slog.Logger
	grace     time.Duration
	listeners map[EventType][]Listener
	stats     *RunStats
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the runner's logger. The pool logs through a child of it.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = l
	}
}

// WithListener forwards pool events of type t to fn.
func WithListener(t EventType, fn Listener) RunnerOption {
	return func(r *Runner) {
		r.listeners[t] = append(r.listeners[t], fn)
	}
}

// WithGrace overrides the pool's shutdown grace period.
func WithGrace(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.grace = d
	}
}

// NewRunner creates a runner for cfg whose workers are started by spawner.
func NewRunner(cfg *config.Config, spawner Spawner, opts ...RunnerOption) *Runner {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	r := &Runner{
		cfg:       cfg,
		spawner:   spawner,
		logger:    logging.Discard(),
		grace:     DefaultShutdownGrace,
		listeners: make(map[EventType][]Listener),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Stats returns the statistics of the last run, or nil.
func (r *Runner) Stats() *RunStats {
	return r.stats
}

// Run executes files on a fresh pool and returns their results in
// submission order. A file whose task failed is reported as a load failure.
// The pool is always shut down before Run returns.
func (r *Runner) Run(ctx context.Context, files []string) (*suite.Aggregate, error) {
	if !r.cfg.GetParallel() {
		return nil, ErrParallelDisabled
	}

	start := time.Now()
	recorder := newStatsRecorder()
	pool := NewPool(r.spawner,
		WithMaxWorkers(r.cfg.GetMaxWorkers()),
		WithShutdownGrace(r.grace),
		WithPoolLogger(logging.Component(r.logger, "pool")),
	)
	defer func() {
		force := ctx.Err() != nil
		if err := pool.Shutdown(context.WithoutCancel(ctx), force); err != nil {
			r.logger.Warn("worker pool shutdown", "error", err)
		}
		r.stats = recorder.Summary(pool.Stats())
		r.logStats()
	}()

	for t, fns := range r.listeners {
		for _, fn := range fns {
			pool.On(t, fn)
		}
	}

	r.logger.Info("starting parallel run", "files", len(files), "maxWorkers", r.cfg.GetMaxWorkers(), "isolation", r.cfg.GetIsolation())
	if err := pool.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initializing worker pool: %w", err)
	}

	ids := make([]string, len(files))
	for i, file := range files {
		id, err := pool.AddTask(&Task{Type: TaskTypeTestFile, FilePath: file, Config: r.cfg})
		if err != nil {
			return nil, fmt.Errorf("submitting %s: %w", file, err)
		}
		ids[i] = id
	}

	results, err := pool.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("waiting for workers: %w", err)
	}

	agg := suite.NewAggregate()
	for i, file := range files {
		fr := normalize(file, results[ids[i]])
		agg.Add(fr)

		var d time.Duration
		if res := results[ids[i]]; res != nil && res.Data != nil {
			d = time.Duration(res.Data.Duration) * time.Millisecond
		}
		recorder.Record(fr.WorkerID, d, fr.Error != "")
	}
	agg.Duration = time.Since(start).Milliseconds()
	return agg, nil
}

func normalize(file string, res *TaskResult) *suite.FileResult {
	switch {
	case res == nil:
		return suite.LoadFailure(file, errNoResult)
	case !res.Success:
		err := res.Err
		if err == nil {
			err = errors.New(res.Error)
		}
		return suite.LoadFailure(file, err)
	case res.Data == nil || res.Data.Results == nil:
		return suite.LoadFailure(file, errNoResult)
	}

	fr := suite.NewFileResult(file, res.Data.Results)
	fr.WorkerID = res.Data.WorkerID
	return fr
}

func (r *Runner) logStats() {
	s := r.stats
	r.logger.Info("parallel run finished",
		"files", s.Files,
		"failedFiles", s.Failed,
		"workersCreated", s.Pool.WorkersCreated,
		"tasksCompleted", s.Pool.TasksCompleted,
		"tasksFailed", s.Pool.TasksFailed,
		"tasksTotal", s.Pool.TasksTotal,
		"meanFileTime", s.MeanFileTime,
		"p95FileTime", s.P95FileTime,
		"duration", s.Duration,
	)
}
