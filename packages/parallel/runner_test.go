package parallel

import (
	"bytes"
	"context"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/minitest/packages/core/config"
	"github.com/abdul-hamid-achik/minitest/packages/core/suite"
	"github.com/abdul-hamid-achik/minitest/packages/logging"
)

func parallelConfig(workers int) *config.Config {
	return &config.Config{Parallel: config.BoolPtr(true), MaxWorkers: workers}
}

func TestRunner_Disabled(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.Config
	}{
		{"nil config", nil},
		{"parallel unset", &config.Config{MaxWorkers: 4}},
		{"parallel false", &config.Config{Parallel: config.BoolPtr(false)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRunner(tt.cfg, goroutineSpawner(fixtureRegistry()))

			agg, err := r.Run(context.Background(), []string{"a.mt", "b.mt"})
			require.ErrorIs(t, err, ErrParallelDisabled)
			assert.Regexp(t, "not enabled", err.Error())
			assert.Nil(t, agg)
		})
	}
}

func TestRunner_ThreeFilesTwoWorkers(t *testing.T) {
	r := NewRunner(parallelConfig(2), goroutineSpawner(fixtureRegistry()))

	agg, err := r.Run(context.Background(), []string{"a.mt", "b.mt", "c.mt"})
	require.NoError(t, err)

	require.Len(t, agg.Files, 3)
	assert.Equal(t, []string{"a.mt", "b.mt", "c.mt"}, []string{agg.Files[0].File, agg.Files[1].File, agg.Files[2].File})
	assert.Equal(t, 2, agg.Passed)
	assert.Equal(t, 1, agg.Failed)
	assert.Equal(t, 1, agg.Skipped)
	for _, f := range agg.Files {
		assert.NotEmpty(t, f.WorkerID)
		assert.Empty(t, f.Error)
	}

	stats := r.Stats()
	require.NotNil(t, stats)
	assert.Equal(t, 3, stats.Files)
	assert.Equal(t, 3, stats.Pool.TasksCompleted)
	assert.Equal(t, 3, stats.Pool.TasksTotal)
	assert.LessOrEqual(t, stats.Pool.WorkersCreated, 2)
	assert.Zero(t, stats.Pool.TotalWorkers)
}

func TestRunner_FailedTaskBecomesLoadFailure(t *testing.T) {
	r := NewRunner(parallelConfig(2), goroutineSpawner(fixtureRegistry()))

	agg, err := r.Run(context.Background(), []string{"a.mt", "dir/missing.mt", "panic.mt"})
	require.NoError(t, err)
	require.Len(t, agg.Files, 3)

	missing := agg.Files[1]
	assert.Equal(t, "dir/missing.mt", missing.File)
	assert.Equal(t, "missing.mt", missing.Name)
	assert.Equal(t, 1, missing.Failed)
	require.Len(t, missing.Tests, 1)
	assert.Equal(t, "Loading dir/missing.mt", missing.Tests[0].Name)
	assert.Equal(t, suite.StatusFailed, missing.Tests[0].Status)
	assert.Contains(t, missing.Tests[0].Error, "no test file registered")

	crashed := agg.Files[2]
	assert.Equal(t, 1, crashed.Failed)
	assert.Contains(t, crashed.Error, "panic: boom")

	assert.Equal(t, 2, agg.Passed)
	assert.Equal(t, 2, agg.Failed)
	assert.Equal(t, 2, r.Stats().Failed)
}

func TestRunner_LogsFailedTasks(t *testing.T) {
	var logs bytes.Buffer
	spawner := &scriptedSpawner{crash: map[string]int{"crash.mt": 3}}
	r := NewRunner(parallelConfig(1), spawner, WithLogger(logging.New(&logs, slog.LevelInfo, true)))

	agg, err := r.Run(context.Background(), []string{"a.mt", "crash.mt", "b.mt"})
	require.NoError(t, err)
	assert.Equal(t, "worker exited with code 3", agg.Files[1].Error)

	pool := r.Stats().Pool
	assert.Equal(t, 2, pool.TasksCompleted)
	assert.Equal(t, 1, pool.TasksFailed)
	assert.Equal(t, pool.TasksTotal, pool.TasksCompleted+pool.TasksFailed)

	out := logs.String()
	assert.Contains(t, out, "tasksCompleted=2")
	assert.Contains(t, out, "tasksFailed=1")
	assert.Contains(t, out, "tasksTotal=3")
}

func TestRunner_FileTimeoutDoesNotStopTheRun(t *testing.T) {
	reg := suite.NewRegistry()
	reg.Register("slow.mt", func(s *suite.Session) {
		s.Test("slow", sleepy(5*time.Second), suite.WithTimeout(10*time.Second))
	})
	reg.Register("fast.mt", func(s *suite.Session) {
		s.Test("fast", pass)
	})

	cfg := parallelConfig(1)
	cfg.FileTimeout = 50
	r := NewRunner(cfg, goroutineSpawner(reg))

	agg, err := r.Run(context.Background(), []string{"slow.mt", "fast.mt"})
	require.NoError(t, err)

	assert.Equal(t, "test file slow.mt timed out after 50ms", agg.Files[0].Error)
	assert.Equal(t, 1, agg.Files[1].Passed)
	assert.Equal(t, 2, r.Stats().Pool.WorkersCreated)
}

func TestRunner_Listener(t *testing.T) {
	var completed []string
	r := NewRunner(parallelConfig(2), goroutineSpawner(fixtureRegistry()),
		WithListener(EventTaskCompleted, func(ev Event) {
			completed = append(completed, ev.FilePath)
		}))

	_, err := r.Run(context.Background(), []string{"a.mt", "c.mt"})
	require.NoError(t, err)

	sort.Strings(completed)
	assert.Equal(t, []string{"a.mt", "c.mt"}, completed)
}

// flatten reduces a file result to what both execution paths must agree on.
func flatten(f *suite.FileResult) []string {
	var out []string
	f.Walk(func(path []string, tr suite.TestResult) {
		out = append(out, f.File+":"+strings.Join(path, "/")+"/"+tr.Name+"="+string(tr.Status)+":"+tr.Error)
	})
	return out
}

func TestRunner_MatchesSequentialExecution(t *testing.T) {
	reg := fixtureRegistry()
	reg.Register("hooks.mt", func(s *suite.Session) {
		s.BeforeEach(pass)
		s.Describe("outer", func() {
			s.Test("one", pass)
			s.Describe("inner", func() {
				s.Test("two", pass)
			})
		})
	})
	files := []string{"a.mt", "b.mt", "c.mt", "hooks.mt"}

	sequential := suite.NewAggregate()
	for _, f := range files {
		tree, err := suite.RunFile(context.Background(), reg, f)
		require.NoError(t, err)
		sequential.Add(suite.NewFileResult(f, tree))
	}

	r := NewRunner(parallelConfig(3), goroutineSpawner(reg))
	parallel, err := r.Run(context.Background(), files)
	require.NoError(t, err)

	assert.Equal(t, sequential.Passed, parallel.Passed)
	assert.Equal(t, sequential.Failed, parallel.Failed)
	assert.Equal(t, sequential.Skipped, parallel.Skipped)
	require.Len(t, parallel.Files, len(sequential.Files))
	for i := range files {
		assert.Equal(t, flatten(sequential.Files[i]), flatten(parallel.Files[i]))
	}
}

func TestRunner_CancelledContext(t *testing.T) {
	reg := suite.NewRegistry()
	reg.Register("slow.mt", func(s *suite.Session) {
		s.Test("slow", sleepy(5*time.Second), suite.WithTimeout(10*time.Second))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	r := NewRunner(parallelConfig(1), goroutineSpawner(reg))
	begin := time.Now()
	_, err := r.Run(ctx, []string{"slow.mt"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(begin), 3*time.Second)
	assert.Zero(t, r.Stats().Pool.TotalWorkers)
}
