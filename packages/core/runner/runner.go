package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/abdul-hamid-achik/minitest/packages/core/config"
	"github.com/abdul-hamid-achik/minitest/packages/core/suite"
	"github.com/abdul-hamid-achik/minitest/packages/logging"
	"github.com/abdul-hamid-achik/minitest/packages/parallel"
)

// Runner decides between sequential and parallel execution.
type Runner struct {
	cfg      *config.Config
	loaders  parallel.LoaderFactory
	spawner  parallel.Spawner
	logger   *slog.Logger
	fileDone func(file string)

	stats    *parallel.RunStats
	fellBack bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithSpawner sets how parallel workers are started. Defaults to goroutine workers.
func WithSpawner(s parallel.Spawner) Option {
	return func(r *Runner) {
		r.spawner = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = l
	}
}

// WithFileDone registers a callback invoked once per finished file, in
// completion order.
func WithFileDone(fn func(file string)) Option {
	return func(r *Runner) {
		r.fileDone = fn
	}
}

// New creates a runner. loaders provides the loader for the configuration.
func New(cfg *config.Config, loaders parallel.LoaderFactory, opts ...Option) *Runner {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	r := &Runner{
		cfg:     cfg,
		loaders: loaders,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.spawner == nil {
		r.spawner = &parallel.GoroutineSpawner{
			Loaders: loaders,
			Options: []parallel.WorkerOption{parallel.WithWorkerLogger(logging.Component(r.logger, "worker"))},
		}
	}
	return r
}

// Stats returns the statistics of the last parallel run, or nil when the
// last run was sequential.
func (r *Runner) Stats() *parallel.RunStats {
	return r.stats
}

// FellBack reports whether the last run retried sequentially after the
// parallel path failed.
func (r *Runner) FellBack() bool {
	return r.fellBack
}

// Run executes files and returns their aggregate in input order. Parallel
// execution is used when enabled and there is more than one file; if it
// fails the same files are run sequentially once.
func (r *Runner) Run(ctx context.Context, files []string) (*suite.Aggregate, error) {
	r.stats = nil
	r.fellBack = false

	if r.cfg.GetParallel() && len(files) > 1 {
		agg, err := r.runParallel(ctx, files)
		if err == nil {
			return agg, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Warn("parallel execution failed, falling back to sequential", "error", err)
		r.fellBack = true
	}

	return r.RunSequential(ctx, files), nil
}

func (r *Runner) runParallel(ctx context.Context, files []string) (*suite.Aggregate, error) {
	opts := []parallel.RunnerOption{parallel.WithLogger(logging.Component(r.logger, "parallel"))}
	if r.fileDone != nil {
		done := func(ev parallel.Event) { r.fileDone(ev.FilePath) }
		opts = append(opts,
			parallel.WithListener(parallel.EventTaskCompleted, done),
			parallel.WithListener(parallel.EventTaskFailed, done),
		)
	}

	pr := parallel.NewRunner(r.cfg, r.spawner, opts...)
	agg, err := pr.Run(ctx, files)
	if err != nil {
		return nil, err
	}
	r.stats = pr.Stats()
	return agg, nil
}

// RunSequential executes files one after another in the calling goroutine.
// A file that cannot be loaded is recorded as a load failure and the run
// continues.
func (r *Runner) RunSequential(ctx context.Context, files []string) *suite.Aggregate {
	start := time.Now()
	agg := suite.NewAggregate()
	loader := r.loaders(r.cfg)

	for _, file := range files {
		fr := r.runFile(ctx, loader, file)
		agg.Add(fr)
		if r.fileDone != nil {
			r.fileDone(file)
		}
	}

	agg.Duration = time.Since(start).Milliseconds()
	return agg
}

func (r *Runner) runFile(ctx context.Context, loader suite.Loader, file string) *suite.FileResult {
	deadline := r.cfg.FileDeadline()
	if deadline <= 0 {
		return r.execute(ctx, loader, file)
	}

	fctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan *suite.FileResult, 1)
	go func() {
		done <- r.execute(fctx, loader, file)
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case fr := <-done:
		return fr
	case <-timer.C:
		err := fmt.Errorf("test file %s timed out after %dms", file, deadline.Milliseconds())
		r.logger.Error("file deadline exceeded", "error", err)
		return suite.LoadFailure(file, err)
	}
}

func (r *Runner) execute(ctx context.Context, loader suite.Loader, file string) *suite.FileResult {
	var tree *suite.ResultTree
	var err error

	var pc panics.Catcher
	pc.Try(func() {
		tree, err = suite.RunFile(ctx, loader, file, suite.WithDefaultTimeout(r.cfg.CaseTimeout()))
	})
	if rec := pc.Recovered(); rec != nil {
		r.logger.Error("panic while loading test file", "file", file, "panic", rec.Value)
		err = fmt.Errorf("panic: %v", rec.Value)
	}

	if err != nil {
		r.logger.Debug("test file failed to load", "file", file, "error", err)
		return suite.LoadFailure(file, err)
	}
	return suite.NewFileResult(file, tree)
}
