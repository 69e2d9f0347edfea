// Package parallel distributes test files across a bounded pool of isolated
// workers.
//
// A Pool owns a FIFO queue of tasks and at most maxWorkers workers. All pool
// bookkeeping happens on a single coordinator goroutine; callers and workers
// talk to it through channels. Workers never share state with the pool or
// with each other: they receive run-task and shutdown messages and answer
// with worker-ready, task-completed, task-failed and task-progress.
//
// Two spawners are provided. GoroutineSpawner runs each worker as a goroutine
// with its own mailbox. ProcessSpawner re-executes the current binary and
// exchanges JSON lines over the child's stdin and stdout, so a crashing test
// file takes down only its own process.
//
// Runner turns a list of files into tasks, waits for the pool and normalizes
// the results into a suite.Aggregate in submission order.
package parallel
