package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"
)

// destination is where an exporter writes its output: a file, a writer or
// both.
type destination struct {
	writer   io.Writer
	filePath string
}

func (d *destination) write(data []byte) error {
	if d.filePath != "" {
		if err := os.WriteFile(d.filePath, data, 0644); err != nil {
			return fmt.Errorf("failed to write metrics file: %w", err)
		}
	}
	if d.writer != nil {
		if _, err := d.writer.Write(data); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}
	return nil
}

// JSONExporter writes the run summary and the per-file records as one JSON
// document.
type JSONExporter struct {
	destination
	mu        sync.Mutex
	compact   bool
	files     []*FileMetrics
	startTime time.Time
}

// JSONOption is a functional option for JSONExporter
type JSONOption func(*JSONExporter)

// WithJSONWriter sets the output writer for JSON metrics
func WithJSONWriter(w io.Writer) JSONOption {
	return func(j *JSONExporter) {
		j.writer = w
	}
}

// WithJSONFile sets the output file for JSON metrics
func WithJSONFile(path string) JSONOption {
	return func(j *JSONExporter) {
		j.filePath = path
	}
}

// WithJSONCompact writes the document on a single line
func WithJSONCompact() JSONOption {
	return func(j *JSONExporter) {
		j.compact = true
	}
}

// NewJSONExporter creates a new JSON metrics exporter
func NewJSONExporter(opts ...JSONOption) *JSONExporter {
	j := &JSONExporter{startTime: time.Now()}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// JSONMetricsOutput is the document written by JSONExporter
type JSONMetricsOutput struct {
	Metadata JSONMetadata   `json:"metadata"`
	Summary  *RunMetrics    `json:"summary"`
	Files    []*FileMetrics `json:"files"`
}

// JSONMetadata describes when and where the metrics were collected
type JSONMetadata struct {
	GeneratedAt string `json:"generated_at"`
	StartTime   string `json:"start_time"`
	GoVersion   string `json:"go_version"`
	Platform    string `json:"platform"`
}

// Export writes the document
func (j *JSONExporter) Export(metrics *RunMetrics) error {
	j.mu.Lock()
	doc := JSONMetricsOutput{
		Metadata: JSONMetadata{
			GeneratedAt: time.Now().Format(time.RFC3339),
			StartTime:   j.startTime.Format(time.RFC3339),
			GoVersion:   runtime.Version(),
			Platform:    runtime.GOOS + "/" + runtime.GOARCH,
		},
		Summary: metrics,
		Files:   append([]*FileMetrics{}, j.files...),
	}
	j.mu.Unlock()

	var (
		data []byte
		err  error
	)
	if j.compact {
		data, err = json.Marshal(doc)
	} else {
		data, err = json.MarshalIndent(doc, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}
	return j.write(append(data, '\n'))
}

// ExportSingle buffers the record of one file until Export
func (j *JSONExporter) ExportSingle(metric *FileMetrics) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.files = append(j.files, metric)
	return nil
}

func (j *JSONExporter) Close() error {
	return nil
}
