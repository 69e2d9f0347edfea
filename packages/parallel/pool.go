package parallel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/abdul-hamid-achik/minitest/packages/logging"
)

// DefaultShutdownGrace is how long a graceful shutdown waits for workers to
// exit before terminating them.
const DefaultShutdownGrace = 5 * time.Second

// maxStartFailures bounds consecutive replacement workers that die before
// becoming ready while another ready worker can still drain the queue.
const maxStartFailures = 3

// ErrPoolShutdown is returned when work is submitted to a pool that is shut down.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// WorkerFault reports a worker that died, or never started, while it owned a task.
type WorkerFault struct {
	WorkerID string
	ExitCode int
	Err      error
}

func (e *WorkerFault) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("worker %s: %v", e.WorkerID, e.Err)
	}
	return fmt.Sprintf("worker exited with code %d", e.ExitCode)
}

func (e *WorkerFault) Unwrap() error { return e.Err }

// EventType names a pool event.
type EventType string

const (
	EventTaskStarted   EventType = "task-started"
	EventTaskCompleted EventType = "task-completed"
	EventTaskFailed    EventType = "task-failed"
	EventTaskProgress  EventType = "task-progress"
)

// Event is passed to listeners registered with On.
type Event struct {
	Type     EventType
	TaskID   string
	WorkerID string
	FilePath string
	Result   *TaskResult
	Progress *Progress
}

// Listener receives pool events on the pool's coordinator goroutine. It must
// return quickly and must not call back into the pool.
type Listener func(Event)

// Stats is a snapshot of the pool's counters.
type Stats struct {
	TasksTotal        int `json:"tasksTotal"`
	TasksCompleted    int `json:"tasksCompleted"`
	TasksFailed       int `json:"tasksFailed"`
	WorkersCreated    int `json:"workersCreated"`
	WorkersTerminated int `json:"workersTerminated"`
	ActiveWorkers     int `json:"activeWorkers"`
	QueuedTasks       int `json:"queuedTasks"`
	RunningTasks      int `json:"runningTasks"`
	TotalWorkers      int `json:"totalWorkers"`
}

type worker struct {
	id          string
	handle      Handle // nil until the spawner returns
	ready       bool
	busy        bool
	dead        bool // excluded from dispatch, exit pending
	currentTask string
	createdAt   time.Time

	settled   chan struct{} // closed once ready or failed to start
	isSettled bool
	startErr  error
}

func (w *worker) settle(err error) {
	if w.isSettled {
		return
	}
	w.isSettled = true
	w.startErr = err
	close(w.settled)
}

type assignment struct {
	task     *Task
	workerID string
	start    time.Time
}

// Pool runs tasks on at most maxWorkers workers.
type Pool struct {
	maxWorkers int
	grace      time.Duration
	spawner    Spawner
	logger     *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	cmds    chan func()
	events  chan WorkerEvent
	stopped chan struct{}
	final   Stats

	// owned by the coordinator goroutine
	workers     map[string]*worker
	order       []string
	queue       []*Task
	running     map[string]*assignment
	results     map[string]*TaskResult
	listeners   map[EventType][]Listener
	stats       Stats
	startFails  int
	closing     bool
	forced      bool
	idleWaiters []chan struct{}
	goneWaiters []chan struct{}
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithMaxWorkers caps the number of live workers. Values below 1 mean 1.
func WithMaxWorkers(n int) PoolOption {
	return func(p *Pool) {
		if n < 1 {
			n = 1
		}
		p.maxWorkers = n
	}
}

// WithShutdownGrace sets how long a graceful shutdown waits for workers to exit.
func WithShutdownGrace(d time.Duration) PoolOption {
	return func(p *Pool) {
		p.grace = d
	}
}

// WithPoolLogger sets the pool's logger.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) {
		p.logger = l
	}
}

// NewPool creates a pool and starts its coordinator. No worker is started
// until Initialize or the first AddTask.
func NewPool(spawner Spawner, opts ...PoolOption) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		maxWorkers: 1,
		grace:      DefaultShutdownGrace,
		spawner:    spawner,
		logger:     logging.Discard(),
		ctx:        ctx,
		cancel:     cancel,
		cmds:       make(chan func()),
		events:     make(chan WorkerEvent, 64),
		stopped:    make(chan struct{}),
		workers:    make(map[string]*worker),
		running:    make(map[string]*assignment),
		results:    make(map[string]*TaskResult),
		listeners:  make(map[EventType][]Listener),
	}
	for _, opt := range opts {
		opt(p)
	}

	go p.loop()
	return p
}

func (p *Pool) loop() {
	for {
		select {
		case fn := <-p.cmds:
			fn()
		case ev := <-p.events:
			p.handleEvent(ev)
		case <-p.ctx.Done():
			p.final = p.snapshot()
			close(p.stopped)
			return
		}
	}
}

// do runs fn on the coordinator and waits for it.
func (p *Pool) do(fn func()) error {
	done := make(chan struct{})
	select {
	case p.cmds <- func() { fn(); close(done) }:
	case <-p.ctx.Done():
		return ErrPoolShutdown
	}
	<-done
	return nil
}

// post runs fn on the coordinator without waiting. It is dropped if the
// pool has stopped.
func (p *Pool) post(fn func()) {
	select {
	case p.cmds <- fn:
	case <-p.ctx.Done():
	}
}

// On registers a listener for events of type t.
func (p *Pool) On(t EventType, fn Listener) {
	_ = p.do(func() {
		p.listeners[t] = append(p.listeners[t], fn)
	})
}

func (p *Pool) emit(ev Event) {
	for _, fn := range p.listeners[ev.Type] {
		fn(ev)
	}
}

// Initialize eagerly starts min(maxWorkers, 2) workers and waits until they
// are ready.
func (p *Pool) Initialize(ctx context.Context) error {
	var initial []*worker
	if err := p.do(func() {
		if p.closing {
			return
		}
		for i := 0; i < min(p.maxWorkers, 2); i++ {
			initial = append(initial, p.spawnWorker())
		}
	}); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range initial {
		g.Go(func() error {
			select {
			case <-w.settled:
				return w.startErr
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	return g.Wait()
}

// AddTask enqueues task and returns its id.
func (p *Pool) AddTask(task *Task) (string, error) {
	var id string
	var err error
	if derr := p.do(func() {
		if p.closing {
			err = ErrPoolShutdown
			return
		}
		t := *task
		t.ID = uuid.NewString()
		if t.Type == "" {
			t.Type = TaskTypeTestFile
		}
		id = t.ID
		p.queue = append(p.queue, &t)
		p.stats.TasksTotal++
		p.dispatch()
	}); derr != nil {
		return "", derr
	}
	return id, err
}

// Wait blocks until the queue is empty and no task is running, then returns
// the results recorded so far keyed by task id.
func (p *Pool) Wait(ctx context.Context) (map[string]*TaskResult, error) {
	idle, err := p.notifyWhen(p.isIdle, &p.idleWaiters)
	if err != nil {
		return nil, err
	}
	select {
	case <-idle:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var results map[string]*TaskResult
	if err := p.do(func() {
		results = maps.Clone(p.results)
	}); err != nil {
		return nil, err
	}
	return results, nil
}

// Stats returns the current counters. After shutdown it returns the final ones.
func (p *Pool) Stats() Stats {
	var s Stats
	if err := p.do(func() { s = p.snapshot() }); err != nil {
		<-p.stopped
		return p.final
	}
	return s
}

// Shutdown stops the pool. Queued tasks that never started fail with
// ErrPoolShutdown. A graceful shutdown waits for running tasks, asks every
// worker to exit and terminates those still alive after the grace period; a
// forced one terminates workers immediately. Cancelling ctx escalates to
// forced. Shutdown is idempotent.
func (p *Pool) Shutdown(ctx context.Context, force bool) error {
	if err := p.do(func() {
		p.closing = true
		p.abandonQueue()
	}); err != nil {
		return nil
	}

	if !force {
		idle, err := p.notifyWhen(p.isIdle, &p.idleWaiters)
		if err != nil {
			return nil
		}
		select {
		case <-idle:
		case <-ctx.Done():
			force = true
		}
	}

	if err := p.do(func() { p.stopWorkers(force) }); err != nil {
		return nil
	}

	gone, err := p.notifyWhen(p.isGone, &p.goneWaiters)
	if err != nil {
		return nil
	}

	grace := time.NewTimer(p.grace)
	defer grace.Stop()

	var result error
	select {
	case <-gone:
	case <-grace.C:
		p.logger.Warn("workers did not exit in time, terminating")
		_ = p.do(func() { p.stopWorkers(true) })
	case <-ctx.Done():
		_ = p.do(func() { p.stopWorkers(true) })
	}
	select {
	case <-gone:
	case <-ctx.Done():
		result = ctx.Err()
	}

	p.cancel()
	<-p.stopped
	return result
}

func (p *Pool) notifyWhen(cond func() bool, waiters *[]chan struct{}) (<-chan struct{}, error) {
	ch := make(chan struct{})
	err := p.do(func() {
		if cond() {
			close(ch)
			return
		}
		*waiters = append(*waiters, ch)
	})
	return ch, err
}

func (p *Pool) isIdle() bool { return len(p.queue) == 0 && len(p.running) == 0 }

func (p *Pool) isGone() bool { return len(p.workers) == 0 }

func (p *Pool) checkWaiters() {
	if p.isIdle() {
		for _, ch := range p.idleWaiters {
			close(ch)
		}
		p.idleWaiters = nil
	}
	if p.isGone() {
		for _, ch := range p.goneWaiters {
			close(ch)
		}
		p.goneWaiters = nil
	}
}

func (p *Pool) snapshot() Stats {
	s := p.stats
	s.QueuedTasks = len(p.queue)
	s.RunningTasks = len(p.running)
	s.TotalWorkers = len(p.workers)
	for _, w := range p.workers {
		if w.busy {
			s.ActiveWorkers++
		}
	}
	return s
}

func (p *Pool) abandonQueue() {
	for _, t := range p.queue {
		p.results[t.ID] = &TaskResult{Error: ErrPoolShutdown.Error(), Err: ErrPoolShutdown}
		p.stats.TasksFailed++
	}
	p.queue = nil
	p.checkWaiters()
}

func (p *Pool) stopWorkers(force bool) {
	p.forced = p.forced || force
	for _, id := range p.order {
		w := p.workers[id]
		if w.handle == nil || (w.dead && !p.forced) {
			continue
		}
		p.stopWorker(w)
	}
}

func (p *Pool) stopWorker(w *worker) {
	w.dead = true
	if !p.forced {
		if err := w.handle.Send(&Message{Type: MsgShutdown}); err == nil {
			return
		}
	}
	if err := w.handle.Terminate(); err != nil {
		p.logger.Warn("terminating worker", "worker", w.id, "error", err)
	}
}

func (p *Pool) spawnWorker() *worker {
	w := &worker{
		id:        uuid.NewString(),
		createdAt: time.Now(),
		settled:   make(chan struct{}),
	}
	p.workers[w.id] = w
	p.order = append(p.order, w.id)

	go func() {
		h, err := p.spawner.Spawn(p.ctx, w.id, p.events)
		p.post(func() { p.registered(w, h, err) })
	}()
	return w
}

func (p *Pool) registered(w *worker, h Handle, err error) {
	if _, ok := p.workers[w.id]; !ok {
		// exited before the spawner returned
		if err == nil {
			p.stats.WorkersCreated++
		}
		return
	}
	if err != nil {
		fault := &WorkerFault{WorkerID: w.id, ExitCode: ExitTerminated, Err: err}
		p.logger.Error("failed to start worker", "worker", w.id, "error", err)
		p.removeWorker(w)
		w.settle(fault)
		p.startFailed(fault)
		p.dispatch()
		p.checkWaiters()
		return
	}

	w.handle = h
	p.stats.WorkersCreated++
	p.logger.Debug("worker started", "worker", w.id)
	if p.closing {
		p.stopWorker(w)
		return
	}
	p.dispatch()
}

// startFailed accounts for a worker that died before becoming ready.
func (p *Pool) startFailed(fault *WorkerFault) {
	p.startFails++
	// with no ready worker the queue would never drain
	if !p.hasReadyWorker() && len(p.queue) > 0 {
		task := p.queue[0]
		p.queue = p.queue[1:]
		p.recordFailure(task, fault.WorkerID, fault)
	}
}

func (p *Pool) hasReadyWorker() bool {
	for _, w := range p.workers {
		if w.ready && !w.dead {
			return true
		}
	}
	return false
}

// canSpawn reports whether dispatch may start another worker. Once workers
// keep dying during startup, spawning continues only when no ready worker
// is left, and every such death then fails a queued task.
func (p *Pool) canSpawn() bool {
	return len(p.workers) < p.maxWorkers &&
		(p.startFails < maxStartFailures || !p.hasReadyWorker())
}

func (p *Pool) removeWorker(w *worker) {
	delete(p.workers, w.id)
	for i, id := range p.order {
		if id == w.id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

func (p *Pool) idleWorker() *worker {
	for _, id := range p.order {
		w := p.workers[id]
		if w.handle != nil && w.ready && !w.busy && !w.dead {
			return w
		}
	}
	return nil
}

// dispatch pairs queued tasks with idle workers and starts workers while
// below the cap.
func (p *Pool) dispatch() {
	if p.closing {
		return
	}

	for len(p.queue) > 0 {
		w := p.idleWorker()
		if w == nil {
			break
		}
		task := p.queue[0]
		if err := w.handle.Send(&Message{Type: MsgRunTask, TaskID: task.ID, Task: task}); err != nil {
			p.logger.Warn("worker rejected task", "worker", w.id, "task", task.ID, "error", err)
			w.dead = true
			_ = w.handle.Terminate()
			continue
		}
		p.queue = p.queue[1:]
		w.busy = true
		w.currentTask = task.ID
		p.running[task.ID] = &assignment{task: task, workerID: w.id, start: time.Now()}
		p.emit(Event{Type: EventTaskStarted, TaskID: task.ID, WorkerID: w.id, FilePath: task.FilePath})
	}

	starting := 0
	for _, w := range p.workers {
		if !w.ready && !w.dead {
			starting++
		}
	}
	for need := len(p.queue) - starting; need > 0 && p.canSpawn(); need-- {
		p.spawnWorker()
	}
}

func (p *Pool) handleEvent(ev WorkerEvent) {
	w, ok := p.workers[ev.WorkerID]
	if !ok {
		return
	}
	if ev.Exited {
		p.onExit(w, ev.ExitCode)
		return
	}

	m := ev.Message
	switch m.Type {
	case MsgWorkerReady:
		w.ready = true
		p.startFails = 0
		w.settle(nil)
		p.dispatch()
	case MsgTaskCompleted:
		if m.TaskID == "" || m.TaskID != w.currentTask {
			return
		}
		p.finish(w, &TaskResult{Success: true, Data: m.Result})
	case MsgTaskFailed:
		if m.Fatal {
			w.dead = true
		}
		if m.TaskID == "" || m.TaskID != w.currentTask {
			return
		}
		p.finish(w, &TaskResult{Error: m.Error, Err: errors.New(m.Error)})
	case MsgTaskProgress:
		a, ok := p.running[m.TaskID]
		if !ok || a.workerID != w.id {
			return
		}
		p.emit(Event{Type: EventTaskProgress, TaskID: m.TaskID, WorkerID: w.id, FilePath: a.task.FilePath, Progress: m.Data})
	default:
		p.logger.Warn("ignoring unknown message", "worker", w.id, "type", m.Type)
	}
}

func (p *Pool) onExit(w *worker, code int) {
	p.removeWorker(w)
	p.stats.WorkersTerminated++
	if !w.ready {
		fault := &WorkerFault{WorkerID: w.id, ExitCode: code}
		w.settle(fault)
		if !p.closing {
			p.logger.Warn("worker exited before becoming ready", "worker", w.id, "code", code)
			p.startFailed(fault)
		}
		p.dispatch()
		p.checkWaiters()
		return
	}

	if w.currentTask != "" {
		fault := &WorkerFault{WorkerID: w.id, ExitCode: code}
		p.logger.Warn("worker exited while running a task", "worker", w.id, "task", w.currentTask, "code", code)
		p.finish(w, &TaskResult{Error: fault.Error(), Err: fault})
	} else if code != 0 && !p.closing {
		p.logger.Warn("worker exited", "worker", w.id, "code", code)
	}

	p.dispatch()
	p.checkWaiters()
}

// finish records the result of w's current task and frees w.
func (p *Pool) finish(w *worker, result *TaskResult) {
	taskID := w.currentTask
	a, ok := p.running[taskID]
	w.busy = false
	w.currentTask = ""
	if !ok {
		return
	}
	delete(p.running, taskID)
	p.results[taskID] = result

	ev := Event{TaskID: taskID, WorkerID: w.id, FilePath: a.task.FilePath, Result: result}
	if result.Success {
		p.stats.TasksCompleted++
		ev.Type = EventTaskCompleted
	} else {
		p.stats.TasksFailed++
		ev.Type = EventTaskFailed
	}
	p.emit(ev)

	p.dispatch()
	p.checkWaiters()
}

// recordFailure fails a task that never reached a worker.
func (p *Pool) recordFailure(task *Task, workerID string, err error) {
	result := &TaskResult{Error: err.Error(), Err: err}
	p.results[task.ID] = result
	p.stats.TasksFailed++
	p.emit(Event{Type: EventTaskFailed, TaskID: task.ID, WorkerID: workerID, FilePath: task.FilePath, Result: result})
}
