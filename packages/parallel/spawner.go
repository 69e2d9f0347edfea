package parallel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc/panics"
)

// ExitTerminated is the exit code reported for a worker killed by the pool.
const ExitTerminated = -1

const mailboxCapacity = 4

var (
	errWorkerGone  = errors.New("worker is gone")
	errMailboxFull = errors.New("worker mailbox is full")
)

// WorkerEvent is delivered by a spawned worker to the pool. A worker's
// messages always precede its exit event.
type WorkerEvent struct {
	WorkerID string
	Message  *Message
	Exited   bool
	ExitCode int
}

// Handle is the pool's side of a spawned worker. Implementations must be
// safe for concurrent use.
type Handle interface {
	// Send delivers a message to the worker without blocking on its work.
	Send(m *Message) error
	// Terminate stops the worker. Its exit event follows asynchronously.
	Terminate() error
}

// Spawner starts workers. Events from the worker are sent to events until
// ctx is done.
type Spawner interface {
	Spawn(ctx context.Context, id string, events chan<- WorkerEvent) (Handle, error)
}

func emit(ctx context.Context, events chan<- WorkerEvent, ev WorkerEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// GoroutineSpawner runs each worker as a goroutine with its own mailbox.
// A terminated worker is disconnected from the pool immediately; code it is
// still running finishes in the background and its messages are dropped.
type GoroutineSpawner struct {
	Loaders LoaderFactory
	Options []WorkerOption
}

func (s *GoroutineSpawner) Spawn(ctx context.Context, id string, events chan<- WorkerEvent) (Handle, error) {
	wctx, cancel := context.WithCancel(ctx)
	h := &goroutineHandle{
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		inbox:  make(chan *Message, mailboxCapacity),
		events: events,
	}

	worker := NewWorker(id, s.Loaders, h.deliver, s.Options...)
	go func() {
		code := ExitFault
		var pc panics.Catcher
		pc.Try(func() {
			code = worker.Serve(wctx, h.inbox)
		})
		h.exit(code)
	}()

	return h, nil
}

type goroutineHandle struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan *Message
	events chan<- WorkerEvent
	gone   atomic.Bool
	once   sync.Once
}

func (h *goroutineHandle) Send(m *Message) error {
	if h.gone.Load() {
		return errWorkerGone
	}
	select {
	case h.inbox <- m:
		return nil
	default:
		return errMailboxFull
	}
}

func (h *goroutineHandle) Terminate() error {
	go h.exit(ExitTerminated)
	return nil
}

// deliver is the worker's send function.
func (h *goroutineHandle) deliver(m *Message) error {
	if h.gone.Load() {
		return errWorkerGone
	}
	if !emit(h.ctx, h.events, WorkerEvent{WorkerID: h.id, Message: m}) {
		return errWorkerGone
	}
	return nil
}

func (h *goroutineHandle) exit(code int) {
	h.once.Do(func() {
		h.gone.Store(true)
		h.cancel()
		emit(h.ctx, h.events, WorkerEvent{WorkerID: h.id, Exited: true, ExitCode: code})
	})
}
