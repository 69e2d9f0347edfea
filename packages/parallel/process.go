package parallel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"slices"

	"github.com/abdul-hamid-achik/minitest/packages/logging"
)

// WorkerIDFlag is appended with the worker id to the arguments of a worker process.
const WorkerIDFlag = "--id"

// ProcessSpawner runs each worker as a child process speaking JSON lines on
// stdin and stdout. The child is expected to call ServeStdio.
type ProcessSpawner struct {
	// Path of the executable. Defaults to the running binary.
	Path string
	// Args precede the worker id flag, e.g. []string{"worker"}.
	Args []string
	// Env is appended to the parent's environment.
	Env []string
	// Stderr receives the child's logs. Defaults to os.Stderr.
	Stderr io.Writer
	Logger *slog.Logger
}

func (s *ProcessSpawner) Spawn(ctx context.Context, id string, events chan<- WorkerEvent) (Handle, error) {
	path := s.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locating worker executable: %w", err)
		}
		path = exe
	}
	logger := s.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	args := append(slices.Clone(s.Args), WorkerIDFlag, id)
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Stderr = s.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting worker process: %w", err)
	}

	h := &processHandle{cmd: cmd, stdin: stdin, enc: NewEncoder(stdin)}

	go func() {
		dec := NewDecoder(stdout)
		for {
			m, err := dec.Decode()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					logger.Warn("unreadable worker output", "worker", id, "error", err)
					_ = cmd.Process.Kill()
				}
				break
			}
			if !emit(ctx, events, WorkerEvent{WorkerID: id, Message: m}) {
				_ = cmd.Process.Kill()
				break
			}
		}

		_ = cmd.Wait()
		emit(ctx, events, WorkerEvent{WorkerID: id, Exited: true, ExitCode: cmd.ProcessState.ExitCode()})
	}()

	return h, nil
}

type processHandle struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	enc   *Encoder
}

func (h *processHandle) Send(m *Message) error {
	if err := h.enc.Encode(m); err != nil {
		return fmt.Errorf("writing to worker: %w", err)
	}
	if m.Type == MsgShutdown {
		return h.stdin.Close()
	}
	return nil
}

func (h *processHandle) Terminate() error {
	return h.cmd.Process.Kill()
}
