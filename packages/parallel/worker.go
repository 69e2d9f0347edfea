package parallel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/panics"
	"golang.org/x/time/rate"

	"github.com/abdul-hamid-achik/minitest/packages/core/config"
	"github.com/abdul-hamid-achik/minitest/packages/core/suite"
	"github.com/abdul-hamid-achik/minitest/packages/logging"
)

// Exit codes returned by Worker.Serve.
const (
	ExitOK    = 0
	ExitFault = 1
)

// DefaultProgressInterval is the minimum spacing between task-progress messages.
const DefaultProgressInterval = 50 * time.Millisecond

// LoaderFactory returns the loader a worker uses for a task's configuration.
type LoaderFactory func(cfg *config.Config) suite.Loader

// StaticLoader returns a factory that always yields l.
func StaticLoader(l suite.Loader) LoaderFactory {
	return func(*config.Config) suite.Loader {
		return l
	}
}

// Worker executes tasks one at a time and reports through send.
type Worker struct {
	id            string
	loaders       LoaderFactory
	send          func(*Message) error
	logger        *slog.Logger
	progressEvery time.Duration
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithWorkerLogger sets the worker's logger.
func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = l
	}
}

// WithProgressInterval throttles task-progress messages. Zero or less sends
// one message per case.
func WithProgressInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		w.progressEvery = d
	}
}

// NewWorker creates a worker. send must be safe for concurrent use.
func NewWorker(id string, loaders LoaderFactory, send func(*Message) error, opts ...WorkerOption) *Worker {
	w := &Worker{
		id:            id,
		loaders:       loaders,
		send:          send,
		logger:        logging.Discard(),
		progressEvery: DefaultProgressInterval,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("worker", id)
	return w
}

// Serve announces readiness and handles messages until shutdown, inbox
// closure or ctx cancellation. It returns the exit code the worker should
// terminate with.
func (w *Worker) Serve(ctx context.Context, inbox <-chan *Message) int {
	if err := w.send(&Message{Type: MsgWorkerReady, WorkerID: w.id}); err != nil {
		w.logger.Error("announcing readiness", "error", err)
		return ExitFault
	}

	for {
		select {
		case <-ctx.Done():
			return ExitOK
		case msg, ok := <-inbox:
			if !ok {
				return ExitOK
			}
			switch msg.Type {
			case MsgShutdown:
				w.logger.Debug("shutting down")
				return ExitOK
			case MsgRunTask:
				if msg.Task == nil {
					w.reply(&Message{Type: MsgTaskFailed, TaskID: msg.TaskID, Error: "run-task message without task"})
					continue
				}
				if !w.handle(ctx, msg.Task) {
					return ExitFault
				}
			default:
				w.logger.Warn("ignoring unknown message", "type", msg.Type)
			}
		}
	}
}

type outcome struct {
	tree      *suite.ResultTree
	err       error
	recovered *panics.Recovered
}

// handle runs one task. It returns false when the worker must terminate.
func (w *Worker) handle(ctx context.Context, task *Task) bool {
	cfg := task.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	log := w.logger.With("task", task.ID, "file", task.FilePath)
	log.Debug("running task")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		var o outcome
		var pc panics.Catcher
		pc.Try(func() {
			o.tree, o.err = suite.RunFile(runCtx, w.loaders(cfg), task.FilePath,
				suite.WithDefaultTimeout(cfg.CaseTimeout()),
				suite.WithObserver(w.progress(task.ID)))
		})
		o.recovered = pc.Recovered()
		done <- o
	}()

	var deadline <-chan time.Time
	if d := cfg.FileDeadline(); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case o := <-done:
		switch {
		case o.recovered != nil:
			log.Error("panic while running test file", "panic", o.recovered.Value, "stack", string(o.recovered.Stack))
			w.fail(task, fmt.Errorf("panic: %v", o.recovered.Value), true)
			return false
		case o.err != nil:
			log.Debug("task failed", "error", o.err)
			w.fail(task, o.err, false)
			return true
		}
		w.reply(&Message{
			Type:   MsgTaskCompleted,
			TaskID: task.ID,
			Result: &TaskOutput{
				FilePath: task.FilePath,
				Results:  o.tree,
				WorkerID: w.id,
				Duration: time.Since(start).Milliseconds(),
			},
		})
		return true
	case <-deadline:
		err := fmt.Errorf("test file %s timed out after %dms", task.FilePath, cfg.FileDeadline().Milliseconds())
		log.Error("file deadline exceeded", "error", err)
		w.fail(task, err, true)
		return false
	}
}

func (w *Worker) fail(task *Task, err error, fatal bool) {
	w.reply(&Message{Type: MsgTaskFailed, TaskID: task.ID, Error: err.Error(), Fatal: fatal})
}

func (w *Worker) reply(m *Message) {
	m.WorkerID = w.id
	if err := w.send(m); err != nil {
		w.logger.Warn("sending message", "type", m.Type, "error", err)
	}
}

func (w *Worker) progress(taskID string) suite.Observer {
	limit := rate.Inf
	if w.progressEvery > 0 {
		limit = rate.Every(w.progressEvery)
	}
	limiter := rate.NewLimiter(limit, 1)

	return func(s *suite.Suite, c *suite.Case) {
		if !limiter.Allow() {
			return
		}
		w.reply(&Message{
			Type:   MsgTaskProgress,
			TaskID: taskID,
			Data:   &Progress{Event: "case", Suite: s.Name, Name: c.Name, Status: c.Status},
		})
	}
}

// ServeStdio runs a worker that reads messages from r and writes them to out
// as JSON lines. It is the entry point of a process-isolated worker.
func ServeStdio(ctx context.Context, id string, loaders LoaderFactory, r io.Reader, out io.Writer, opts ...WorkerOption) int {
	enc := NewEncoder(out)
	inbox := make(chan *Message)

	go func() {
		defer close(inbox)
		dec := NewDecoder(r)
		for {
			m, err := dec.Decode()
			if err != nil {
				return
			}
			select {
			case inbox <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	return NewWorker(id, loaders, enc.Encode, opts...).Serve(ctx, inbox)
}
