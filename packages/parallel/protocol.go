package parallel

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/abdul-hamid-achik/minitest/packages/core/config"
	"github.com/abdul-hamid-achik/minitest/packages/core/suite"
)

// MessageType identifies a worker protocol message.
type MessageType string

const (
	MsgRunTask       MessageType = "run-task"
	MsgShutdown      MessageType = "shutdown"
	MsgWorkerReady   MessageType = "worker-ready"
	MsgTaskCompleted MessageType = "task-completed"
	MsgTaskFailed    MessageType = "task-failed"
	MsgTaskProgress  MessageType = "task-progress"
)

// TaskTypeTestFile is the only task type workers understand.
const TaskTypeTestFile = "test-file"

// Task is one unit of work handed to a worker.
type Task struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	FilePath string         `json:"filePath"`
	Config   *config.Config `json:"config,omitempty"`
}

// TaskOutput is what a worker reports for a file it ran to completion.
type TaskOutput struct {
	FilePath string            `json:"filePath"`
	Results  *suite.ResultTree `json:"results"`
	WorkerID string            `json:"workerId"`
	Duration int64             `json:"duration"` // milliseconds
}

// Progress is the payload of a task-progress message.
type Progress struct {
	Event  string       `json:"event"`
	Suite  string       `json:"suite"`
	Name   string       `json:"name"`
	Status suite.Status `json:"status"`
}

// Message is the envelope exchanged between the pool and its workers.
type Message struct {
	Type     MessageType `json:"type"`
	WorkerID string      `json:"workerId,omitempty"`
	TaskID   string      `json:"taskId,omitempty"`
	Task     *Task       `json:"task,omitempty"`
	Result   *TaskOutput `json:"result,omitempty"`
	Error    string      `json:"error,omitempty"`
	Data     *Progress   `json:"data,omitempty"`

	// Fatal marks a task-failed message sent by a worker that is about to exit.
	Fatal bool `json:"fatal,omitempty"`
}

// TaskResult is the pool's record of a finished task.
type TaskResult struct {
	Success bool        `json:"success"`
	Data    *TaskOutput `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`

	// Err carries the typed failure when the pool itself produced it.
	Err error `json:"-"`
}

// Encoder writes messages as JSON lines. It is safe for concurrent use.
type Encoder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// Encode writes m followed by a newline.
func (e *Encoder) Encode(m *Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(m)
}

// Decoder reads messages written by an Encoder.
type Decoder struct {
	dec *json.Decoder
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: json.NewDecoder(r)}
}

// Decode reads the next message. It returns io.EOF at end of input.
func (d *Decoder) Decode() (*Message, error) {
	var m Message
	if err := d.dec.Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}
