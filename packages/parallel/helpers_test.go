package parallel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/abdul-hamid-achik/minitest/packages/core/suite"
)

func pass(context.Context) error { return nil }

func sleepy(d time.Duration) suite.Func {
	return func(ctx context.Context) error {
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// fixtureRegistry declares a small set of files with known outcomes.
func fixtureRegistry() *suite.Registry {
	reg := suite.NewRegistry()
	reg.Register("a.mt", func(s *suite.Session) {
		s.Describe("math", func() {
			s.Test("adds", pass)
			s.Test("subtracts", pass)
		})
	})
	reg.Register("b.mt", func(s *suite.Session) {
		s.Test("breaks", func(context.Context) error { return errors.New("expected 2, got 3") })
	})
	reg.Register("c.mt", func(s *suite.Session) {
		s.Skip("later", "not implemented")
	})
	reg.Register("panic.mt", func(s *suite.Session) {
		panic("boom")
	})
	return reg
}

func goroutineSpawner(l suite.Loader) *GoroutineSpawner {
	return &GoroutineSpawner{
		Loaders: StaticLoader(l),
		Options: []WorkerOption{WithProgressInterval(0)},
	}
}

// concurrencyProbe records the highest number of files running at once.
type concurrencyProbe struct {
	inflight atomic.Int32
	peak     atomic.Int32
}

func (p *concurrencyProbe) body(d time.Duration) suite.Func {
	return func(ctx context.Context) error {
		n := p.inflight.Add(1)
		defer p.inflight.Add(-1)
		for {
			old := p.peak.Load()
			if n <= old || p.peak.CompareAndSwap(old, n) {
				break
			}
		}
		return sleepy(d)(ctx)
	}
}

// scriptedSpawner starts fake workers that complete every task instantly,
// except files listed in crash, which make the worker exit with the given code.
// With startupExit set, every worker after the first healthy ones exits with
// that code instead of announcing readiness.
type scriptedSpawner struct {
	crash       map[string]int
	fail        error
	startupExit int
	healthy     int32
	spawned     atomic.Int32
}

func (s *scriptedSpawner) Spawn(ctx context.Context, id string, events chan<- WorkerEvent) (Handle, error) {
	if s.fail != nil {
		return nil, s.fail
	}
	n := s.spawned.Add(1)
	h := &scriptedHandle{id: id, ctx: ctx, events: events, crash: s.crash}
	if s.startupExit != 0 && n > s.healthy {
		go h.exit(s.startupExit)
		return h, nil
	}
	go emit(ctx, events, WorkerEvent{WorkerID: id, Message: &Message{Type: MsgWorkerReady, WorkerID: id}})
	return h, nil
}

type scriptedHandle struct {
	id     string
	ctx    context.Context
	events chan<- WorkerEvent
	crash  map[string]int
	once   sync.Once
}

func (h *scriptedHandle) Send(m *Message) error {
	switch m.Type {
	case MsgRunTask:
		task := m.Task
		go func() {
			if code, ok := h.crash[task.FilePath]; ok {
				h.exit(code)
				return
			}
			emit(h.ctx, h.events, WorkerEvent{WorkerID: h.id, Message: &Message{
				Type:     MsgTaskCompleted,
				TaskID:   task.ID,
				WorkerID: h.id,
				Result: &TaskOutput{
					FilePath: task.FilePath,
					Results:  &suite.ResultTree{Name: suite.RootName, Passed: 1},
					WorkerID: h.id,
				},
			}})
		}()
	case MsgShutdown:
		go h.exit(ExitOK)
	}
	return nil
}

func (h *scriptedHandle) Terminate() error {
	go h.exit(ExitTerminated)
	return nil
}

func (h *scriptedHandle) exit(code int) {
	h.once.Do(func() {
		emit(h.ctx, h.events, WorkerEvent{WorkerID: h.id, Exited: true, ExitCode: code})
	})
}
