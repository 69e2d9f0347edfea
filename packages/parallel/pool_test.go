package parallel

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/minitest/packages/core/suite"
)

func TestPool_RunsTasks(t *testing.T) {
	ctx := context.Background()
	pool := NewPool(goroutineSpawner(fixtureRegistry()), WithMaxWorkers(2))
	require.NoError(t, pool.Initialize(ctx))

	ids := map[string]string{}
	for _, f := range []string{"a.mt", "b.mt", "c.mt"} {
		id, err := pool.AddTask(&Task{FilePath: f})
		require.NoError(t, err)
		ids[f] = id
	}

	results, err := pool.Wait(ctx)
	require.NoError(t, err)
	require.Len(t, results, 3)

	a := results[ids["a.mt"]]
	require.True(t, a.Success)
	assert.Equal(t, 2, a.Data.Results.Passed)
	assert.Equal(t, "a.mt", a.Data.FilePath)
	assert.NotEmpty(t, a.Data.WorkerID)

	// a failing case is still a completed task
	assert.True(t, results[ids["b.mt"]].Success)
	assert.Equal(t, 1, results[ids["b.mt"]].Data.Results.Failed)

	stats := pool.Stats()
	assert.Equal(t, 3, stats.TasksTotal)
	assert.Equal(t, 3, stats.TasksCompleted)
	assert.LessOrEqual(t, stats.WorkersCreated, 2)
	assert.Zero(t, stats.QueuedTasks)
	assert.Zero(t, stats.RunningTasks)

	require.NoError(t, pool.Shutdown(ctx, false))
	final := pool.Stats()
	assert.Equal(t, final.WorkersCreated, final.WorkersTerminated)
	assert.Zero(t, final.TotalWorkers)
}

func TestPool_RespectsMaxWorkers(t *testing.T) {
	for _, limit := range []int{1, 2, 3} {
		t.Run(fmt.Sprintf("max=%d", limit), func(t *testing.T) {
			probe := &concurrencyProbe{}
			reg := suite.NewRegistry()
			var files []string
			for i := range 6 {
				name := fmt.Sprintf("f%d.mt", i)
				files = append(files, name)
				reg.Register(name, func(s *suite.Session) {
					s.Test("work", probe.body(20*time.Millisecond))
				})
			}

			ctx := context.Background()
			pool := NewPool(goroutineSpawner(reg), WithMaxWorkers(limit))
			defer pool.Shutdown(ctx, true)

			for _, f := range files {
				_, err := pool.AddTask(&Task{FilePath: f})
				require.NoError(t, err)
			}
			results, err := pool.Wait(ctx)
			require.NoError(t, err)

			assert.Len(t, results, len(files))
			assert.LessOrEqual(t, int(probe.peak.Load()), limit)
			assert.LessOrEqual(t, pool.Stats().WorkersCreated, limit)
		})
	}
}

func TestPool_WorkerCrashFailsTaskAndIsReplaced(t *testing.T) {
	ctx := context.Background()
	spawner := &scriptedSpawner{crash: map[string]int{"crash.mt": 3}}
	pool := NewPool(spawner, WithMaxWorkers(1))
	defer pool.Shutdown(ctx, false)

	var ids []string
	for _, f := range []string{"a.mt", "crash.mt", "b.mt"} {
		id, err := pool.AddTask(&Task{FilePath: f})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	results, err := pool.Wait(ctx)
	require.NoError(t, err)

	assert.True(t, results[ids[0]].Success)
	assert.True(t, results[ids[2]].Success)

	crashed := results[ids[1]]
	require.False(t, crashed.Success)
	assert.Equal(t, "worker exited with code 3", crashed.Error)
	var fault *WorkerFault
	require.ErrorAs(t, crashed.Err, &fault)
	assert.Equal(t, 3, fault.ExitCode)

	stats := pool.Stats()
	assert.Equal(t, 2, stats.WorkersCreated)
	assert.Equal(t, 1, stats.WorkersTerminated)
	assert.Equal(t, 2, stats.TasksCompleted)
	assert.Equal(t, 1, stats.TasksFailed)
	assert.EqualValues(t, 2, spawner.spawned.Load())
}

func TestPool_LastResortPanicReplacesWorker(t *testing.T) {
	ctx := context.Background()
	pool := NewPool(goroutineSpawner(fixtureRegistry()), WithMaxWorkers(1))
	defer pool.Shutdown(ctx, false)

	panicID, err := pool.AddTask(&Task{FilePath: "panic.mt"})
	require.NoError(t, err)
	okID, err := pool.AddTask(&Task{FilePath: "a.mt"})
	require.NoError(t, err)

	results, err := pool.Wait(ctx)
	require.NoError(t, err)

	assert.False(t, results[panicID].Success)
	assert.Contains(t, results[panicID].Error, "panic: boom")
	assert.True(t, results[okID].Success)
	assert.Equal(t, 2, pool.Stats().WorkersCreated)
}

func TestPool_SpawnFailureFailsTasks(t *testing.T) {
	ctx := context.Background()
	spawner := &scriptedSpawner{fail: errors.New("no such binary")}
	pool := NewPool(spawner, WithMaxWorkers(2))
	defer pool.Shutdown(ctx, true)

	err := pool.Initialize(ctx)
	var fault *WorkerFault
	require.ErrorAs(t, err, &fault)
	assert.Contains(t, err.Error(), "no such binary")

	id, err := pool.AddTask(&Task{FilePath: "a.mt"})
	require.NoError(t, err)

	results, err := pool.Wait(ctx)
	require.NoError(t, err)
	assert.False(t, results[id].Success)
	assert.Contains(t, results[id].Error, "no such binary")
}

func TestPool_WorkerExitingBeforeReadyFailsTasks(t *testing.T) {
	spawner := &scriptedSpawner{startupExit: 1}
	pool := NewPool(spawner, WithMaxWorkers(1))
	defer pool.Shutdown(context.Background(), true)

	var ids []string
	for _, f := range []string{"a.mt", "b.mt"} {
		id, err := pool.AddTask(&Task{FilePath: f})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	results, err := pool.Wait(ctx)
	require.NoError(t, err)

	for _, id := range ids {
		res := results[id]
		require.NotNil(t, res)
		assert.False(t, res.Success)
		assert.Equal(t, "worker exited with code 1", res.Error)
		var fault *WorkerFault
		require.ErrorAs(t, res.Err, &fault)
		assert.Equal(t, 1, fault.ExitCode)
	}

	stats := pool.Stats()
	assert.Equal(t, 2, stats.TasksFailed)
	assert.Zero(t, stats.QueuedTasks)
	assert.EqualValues(t, 2, spawner.spawned.Load())
}

func TestPool_BrokenReplacementsAreBounded(t *testing.T) {
	ctx := context.Background()
	spawner := &scriptedSpawner{startupExit: 1, healthy: 1}
	pool := NewPool(spawner, WithMaxWorkers(2))
	defer pool.Shutdown(ctx, true)

	// a single task starts only the healthy worker
	_, err := pool.AddTask(&Task{FilePath: "first.mt"})
	require.NoError(t, err)
	_, err = pool.Wait(ctx)
	require.NoError(t, err)

	var ids []string
	for i := range 20 {
		id, err := pool.AddTask(&Task{FilePath: fmt.Sprintf("f%d.mt", i)})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	results, err := pool.Wait(ctx)
	require.NoError(t, err)
	for _, id := range ids {
		assert.True(t, results[id].Success)
	}
	assert.LessOrEqual(t, int(spawner.spawned.Load()), 1+maxStartFailures)
	assert.Zero(t, pool.Stats().TasksFailed)
}

func TestPool_AddTaskAfterShutdown(t *testing.T) {
	ctx := context.Background()
	pool := NewPool(goroutineSpawner(fixtureRegistry()), WithMaxWorkers(1))
	require.NoError(t, pool.Shutdown(ctx, false))

	_, err := pool.AddTask(&Task{FilePath: "a.mt"})
	assert.ErrorIs(t, err, ErrPoolShutdown)

	// idempotent
	assert.NoError(t, pool.Shutdown(ctx, true))
}

func TestPool_GracefulShutdownWaitsForRunningTasks(t *testing.T) {
	reg := suite.NewRegistry()
	reg.Register("slow.mt", func(s *suite.Session) {
		s.Test("slow", sleepy(100*time.Millisecond))
	})

	ctx := context.Background()
	pool := NewPool(goroutineSpawner(reg), WithMaxWorkers(1))

	started := make(chan struct{}, 1)
	var completed atomic.Bool
	pool.On(EventTaskStarted, func(Event) { started <- struct{}{} })
	pool.On(EventTaskCompleted, func(Event) { completed.Store(true) })

	_, err := pool.AddTask(&Task{FilePath: "slow.mt"})
	require.NoError(t, err)
	<-started

	require.NoError(t, pool.Shutdown(ctx, false))
	assert.True(t, completed.Load())

	stats := pool.Stats()
	assert.Equal(t, 1, stats.TasksCompleted)
	assert.Zero(t, stats.TotalWorkers)
}

func TestPool_ForcedShutdownTerminatesBusyWorkers(t *testing.T) {
	reg := suite.NewRegistry()
	reg.Register("hang.mt", func(s *suite.Session) {
		s.Test("hang", sleepy(time.Minute), suite.WithTimeout(2*time.Minute))
	})

	ctx := context.Background()
	pool := NewPool(goroutineSpawner(reg), WithMaxWorkers(1))

	started := make(chan struct{}, 1)
	failed := make(chan Event, 1)
	pool.On(EventTaskStarted, func(Event) { started <- struct{}{} })
	pool.On(EventTaskFailed, func(ev Event) { failed <- ev })

	_, err := pool.AddTask(&Task{FilePath: "hang.mt"})
	require.NoError(t, err)
	<-started

	begin := time.Now()
	require.NoError(t, pool.Shutdown(ctx, true))
	assert.Less(t, time.Since(begin), 2*time.Second)

	ev := <-failed
	assert.Equal(t, "worker exited with code -1", ev.Result.Error)
	assert.Equal(t, 1, pool.Stats().WorkersTerminated)
}

func TestPool_ProgressEvents(t *testing.T) {
	ctx := context.Background()
	pool := NewPool(goroutineSpawner(fixtureRegistry()), WithMaxWorkers(1))
	defer pool.Shutdown(ctx, false)

	var names []string
	pool.On(EventTaskProgress, func(ev Event) {
		names = append(names, ev.Progress.Suite+"/"+ev.Progress.Name)
	})

	_, err := pool.AddTask(&Task{FilePath: "a.mt"})
	require.NoError(t, err)
	_, err = pool.Wait(ctx)
	require.NoError(t, err)

	// listeners run on the coordinator, Stats orders the read after them
	pool.Stats()
	assert.Equal(t, []string{"math/adds", "math/subtracts"}, names)
}

func TestPool_WaitHonoursContext(t *testing.T) {
	reg := suite.NewRegistry()
	reg.Register("slow.mt", func(s *suite.Session) {
		s.Test("slow", sleepy(time.Second))
	})

	pool := NewPool(goroutineSpawner(reg), WithMaxWorkers(1))
	defer pool.Shutdown(context.Background(), true)

	_, err := pool.AddTask(&Task{FilePath: "slow.mt"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
