// Package metrics exports run metrics of minitest executions.
package metrics

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/minitest/packages/core/suite"
	"github.com/abdul-hamid-achik/minitest/packages/parallel"
)

// FileMetrics is the metric record of one test file
type FileMetrics struct {
	File       string    `json:"file"`
	WorkerID   string    `json:"worker_id,omitempty"`
	DurationMs float64   `json:"duration_ms"`
	Passed     int       `json:"passed"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	LoadError  string    `json:"load_error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// RunMetrics represents aggregated metrics of a run
type RunMetrics struct {
	Files           int64              `json:"files"`
	FailedFiles     int64              `json:"failed_files"`
	LoadFailures    int64              `json:"load_failures"`
	TestsTotal      int64              `json:"tests_total"`
	TestsPassed     int64              `json:"tests_passed"`
	TestsFailed     int64              `json:"tests_failed"`
	TestsSkipped    int64              `json:"tests_skipped"`
	TotalDurationMs float64            `json:"total_duration_ms"`
	MinDurationMs   float64            `json:"min_duration_ms"`
	MaxDurationMs   float64            `json:"max_duration_ms"`
	AvgDurationMs   float64            `json:"avg_duration_ms"`
	RunDurationMs   float64            `json:"run_duration_ms"`
	ByWorker        map[string]int64   `json:"by_worker"`
	Pool            *parallel.RunStats `json:"pool,omitempty"`
}

// stdout is where exporters without a destination write.
var stdout io.Writer = os.Stdout

// Exporter is the interface for metrics exporters
type Exporter interface {
	// Export exports metrics to the target destination
	Export(metrics *RunMetrics) error

	// ExportSingle exports the metric of a single file
	ExportSingle(metric *FileMetrics) error

	// Close closes the exporter and flushes any buffered data
	Close() error
}

// Collector collects metrics from test runs
type Collector struct {
	mu        sync.Mutex
	metrics   []*FileMetrics
	aggregate *RunMetrics
	exporters []Exporter
}

// NewCollector creates a new metrics collector
func NewCollector(exporters ...Exporter) *Collector {
	return &Collector{
		metrics:   make([]*FileMetrics, 0),
		exporters: exporters,
		aggregate: newRunMetrics(),
	}
}

func newRunMetrics() *RunMetrics {
	return &RunMetrics{ByWorker: make(map[string]int64)}
}

// Record records the result of one file
func (c *Collector) Record(fr *suite.FileResult) {
	m := &FileMetrics{
		File:       fr.File,
		WorkerID:   fr.WorkerID,
		DurationMs: float64(fr.Duration),
		Passed:     fr.Passed,
		Failed:     fr.Failed,
		Skipped:    fr.Skipped,
		LoadError:  fr.Error,
		Timestamp:  time.Now(),
	}

	c.mu.Lock()
	c.metrics = append(c.metrics, m)
	c.aggregate.add(m)
	exporters := c.exporters
	c.mu.Unlock()

	for _, exp := range exporters {
		_ = exp.ExportSingle(m)
	}
}

// RecordRun records every file of agg together with the run duration and,
// for parallel runs, the pool statistics.
func (c *Collector) RecordRun(agg *suite.Aggregate, pool *parallel.RunStats) {
	for _, fr := range agg.Files {
		c.Record(fr)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.aggregate.RunDurationMs = float64(agg.Duration)
	c.aggregate.Pool = pool
}

func (a *RunMetrics) add(m *FileMetrics) {
	a.Files++
	if m.Failed > 0 {
		a.FailedFiles++
	}
	if m.LoadError != "" {
		a.LoadFailures++
	}
	a.TestsPassed += int64(m.Passed)
	a.TestsFailed += int64(m.Failed)
	a.TestsSkipped += int64(m.Skipped)
	a.TestsTotal = a.TestsPassed + a.TestsFailed + a.TestsSkipped
	a.TotalDurationMs += m.DurationMs

	if a.Files == 1 {
		a.MinDurationMs = m.DurationMs
		a.MaxDurationMs = m.DurationMs
	} else {
		if m.DurationMs < a.MinDurationMs {
			a.MinDurationMs = m.DurationMs
		}
		if m.DurationMs > a.MaxDurationMs {
			a.MaxDurationMs = m.DurationMs
		}
	}
	a.AvgDurationMs = a.TotalDurationMs / float64(a.Files)

	if m.WorkerID != "" {
		a.ByWorker[m.WorkerID]++
	}
}

// GetAggregate returns the aggregated metrics
func (c *Collector) GetAggregate() *RunMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aggregate
}

// Files returns the recorded file metrics
func (c *Collector) Files() []*FileMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*FileMetrics(nil), c.metrics...)
}

// Flush exports all aggregated metrics
func (c *Collector) Flush() error {
	c.mu.Lock()
	aggregate := c.aggregate
	c.mu.Unlock()

	for _, exp := range c.exporters {
		if err := exp.Export(aggregate); err != nil {
			return err
		}
	}
	return nil
}

// Close closes all exporters
func (c *Collector) Close() error {
	for _, exp := range c.exporters {
		if err := exp.Close(); err != nil {
			return err
		}
	}
	return nil
}

// New returns the exporter called format writing to path, or to stdout
// when path is empty.
func New(format, path string) (Exporter, error) {
	switch format {
	case "json":
		if path != "" {
			return NewJSONExporter(WithJSONFile(path)), nil
		}
		return NewJSONExporter(WithJSONWriter(stdout)), nil
	case "prometheus":
		if path != "" {
			return NewPrometheusExporter(WithPrometheusFile(path)), nil
		}
		return NewPrometheusExporter(WithPrometheusWriter(stdout)), nil
	default:
		return nil, fmt.Errorf("unknown metrics format %q (expected json or prometheus)", format)
	}
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
