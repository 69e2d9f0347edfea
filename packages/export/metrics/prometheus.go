package metrics

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// PrometheusExporter exports metrics in Prometheus text format
type PrometheusExporter struct {
	destination
	mu      sync.RWMutex
	metrics []*FileMetrics
}

// PrometheusOption is a functional option for PrometheusExporter
type PrometheusOption func(*PrometheusExporter)

// WithPrometheusWriter sets the output writer for Prometheus metrics
func WithPrometheusWriter(w io.Writer) PrometheusOption {
	return func(p *PrometheusExporter) {
		p.writer = w
	}
}

// WithPrometheusFile writes the metrics to path, in the format read by the
// node exporter's textfile collector.
func WithPrometheusFile(path string) PrometheusOption {
	return func(p *PrometheusExporter) {
		p.filePath = path
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter
func NewPrometheusExporter(opts ...PrometheusOption) *PrometheusExporter {
	p := &PrometheusExporter{
		metrics: make([]*FileMetrics, 0),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Export exports aggregated metrics
func (p *PrometheusExporter) Export(metrics *RunMetrics) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var buf bytes.Buffer
	p.writeMetrics(&buf, metrics)
	return p.write(buf.Bytes())
}

// ExportSingle records the metric of a single file
func (p *PrometheusExporter) ExportSingle(metric *FileMetrics) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.metrics = append(p.metrics, metric)
	return nil
}

func (p *PrometheusExporter) writeMetrics(w io.Writer, a *RunMetrics) {
	now := time.Now().UnixMilli()

	fmt.Fprintf(w, "# HELP minitest_files_total Test files executed\n")
	fmt.Fprintf(w, "# TYPE minitest_files_total counter\n")
	fmt.Fprintf(w, "minitest_files_total %d %d\n", a.Files, now)
	fmt.Fprintf(w, "minitest_files_failed_total %d %d\n", a.FailedFiles, now)
	fmt.Fprintf(w, "minitest_files_load_failed_total %d %d\n", a.LoadFailures, now)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "# HELP minitest_tests_total Tests by outcome\n")
	fmt.Fprintf(w, "# TYPE minitest_tests_total counter\n")
	fmt.Fprintf(w, "minitest_tests_total{status=\"passed\"} %d %d\n", a.TestsPassed, now)
	fmt.Fprintf(w, "minitest_tests_total{status=\"failed\"} %d %d\n", a.TestsFailed, now)
	fmt.Fprintf(w, "minitest_tests_total{status=\"skipped\"} %d %d\n", a.TestsSkipped, now)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "# HELP minitest_file_duration_ms File duration in milliseconds\n")
	fmt.Fprintf(w, "# TYPE minitest_file_duration_ms gauge\n")
	fmt.Fprintf(w, "minitest_file_duration_ms{quantile=\"min\"} %.2f %d\n", a.MinDurationMs, now)
	fmt.Fprintf(w, "minitest_file_duration_ms{quantile=\"max\"} %.2f %d\n", a.MaxDurationMs, now)
	fmt.Fprintf(w, "minitest_file_duration_ms{quantile=\"avg\"} %.2f %d\n", a.AvgDurationMs, now)
	if a.Pool != nil {
		fmt.Fprintf(w, "minitest_file_duration_ms{quantile=\"0.50\"} %.2f %d\n", ms(a.Pool.P50FileTime), now)
		fmt.Fprintf(w, "minitest_file_duration_ms{quantile=\"0.95\"} %.2f %d\n", ms(a.Pool.P95FileTime), now)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "# HELP minitest_run_duration_ms Wall-clock duration of the run\n")
	fmt.Fprintf(w, "# TYPE minitest_run_duration_ms gauge\n")
	fmt.Fprintf(w, "minitest_run_duration_ms %.2f %d\n", a.RunDurationMs, now)
	fmt.Fprintln(w)

	if a.Pool != nil {
		s := a.Pool.Pool
		fmt.Fprintf(w, "# HELP minitest_pool_workers_total Workers started and stopped by the pool\n")
		fmt.Fprintf(w, "# TYPE minitest_pool_workers_total counter\n")
		fmt.Fprintf(w, "minitest_pool_workers_total{event=\"created\"} %d %d\n", s.WorkersCreated, now)
		fmt.Fprintf(w, "minitest_pool_workers_total{event=\"terminated\"} %d %d\n", s.WorkersTerminated, now)
		fmt.Fprintln(w)

		fmt.Fprintf(w, "# HELP minitest_pool_tasks_total Pool tasks by outcome\n")
		fmt.Fprintf(w, "# TYPE minitest_pool_tasks_total counter\n")
		fmt.Fprintf(w, "minitest_pool_tasks_total{status=\"completed\"} %d %d\n", s.TasksCompleted, now)
		fmt.Fprintf(w, "minitest_pool_tasks_total{status=\"failed\"} %d %d\n", s.TasksFailed, now)
		fmt.Fprintln(w)

		fmt.Fprintf(w, "# HELP minitest_pool_throughput Files per second\n")
		fmt.Fprintf(w, "# TYPE minitest_pool_throughput gauge\n")
		fmt.Fprintf(w, "minitest_pool_throughput %.2f %d\n", a.Pool.Throughput, now)
		fmt.Fprintln(w)
	}

	if len(a.ByWorker) > 0 {
		fmt.Fprintf(w, "# HELP minitest_worker_files_total Files executed per worker\n")
		fmt.Fprintf(w, "# TYPE minitest_worker_files_total counter\n")
		for _, id := range sortedKeys(a.ByWorker) {
			fmt.Fprintf(w, "minitest_worker_files_total{worker=\"%s\"} %d %d\n", sanitizeLabel(id), a.ByWorker[id], now)
		}
		fmt.Fprintln(w)
	}

	if len(p.metrics) > 0 {
		fmt.Fprintf(w, "# HELP minitest_file_test_duration_ms Duration per test file\n")
		fmt.Fprintf(w, "# TYPE minitest_file_test_duration_ms gauge\n")
		for _, m := range p.metrics {
			fmt.Fprintf(w, "minitest_file_test_duration_ms{file=\"%s\"} %.2f %d\n", sanitizeLabel(m.File), m.DurationMs, now)
		}
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// sanitizeLabel makes a string safe for use as a Prometheus label value
func sanitizeLabel(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

// Close closes the exporter
func (p *PrometheusExporter) Close() error {
	return nil
}
