package parallel

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// maxFileDuration bounds the histogram; longer files are clamped.
const maxFileDuration = time.Hour

// RunStats summarizes one parallel run.
type RunStats struct {
	Pool            Stats          `json:"pool"`
	Files           int            `json:"files"`
	Failed          int            `json:"failedFiles"`
	Duration        time.Duration  `json:"duration"`
	MeanFileTime    time.Duration  `json:"meanFileTime"`
	P50FileTime     time.Duration  `json:"p50FileTime"`
	P95FileTime     time.Duration  `json:"p95FileTime"`
	MaxFileTime     time.Duration  `json:"maxFileTime"`
	Throughput      float64        `json:"filesPerSecond"`
	WorkerTaskCount map[string]int `json:"workerTaskCount"`
}

// statsRecorder collects per-file durations of a run.
type statsRecorder struct {
	mu        sync.Mutex
	histogram *hdrhistogram.Histogram
	files     int
	failed    int
	perWorker map[string]int
	startTime time.Time
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{
		// microseconds, 1us to 1h, 3 significant digits
		histogram: hdrhistogram.New(1, maxFileDuration.Microseconds(), 3),
		perWorker: make(map[string]int),
		startTime: time.Now(),
	}
}

// Record adds one finished file. d is zero for files that never ran.
func (r *statsRecorder) Record(workerID string, d time.Duration, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.files++
	if failed {
		r.failed++
	}
	if workerID != "" {
		r.perWorker[workerID]++
	}
	if d <= 0 {
		return
	}

	us := d.Microseconds()
	if us < 1 {
		us = 1
	}
	if us > maxFileDuration.Microseconds() {
		us = maxFileDuration.Microseconds()
	}
	_ = r.histogram.RecordValue(us)
}

// Summary returns the collected statistics together with the pool counters.
func (r *statsRecorder) Summary(pool Stats) *RunStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	elapsed := time.Since(r.startTime)
	throughput := float64(0)
	if elapsed.Seconds() > 0 {
		throughput = float64(r.files) / elapsed.Seconds()
	}

	perWorker := make(map[string]int, len(r.perWorker))
	for id, n := range r.perWorker {
		perWorker[id] = n
	}

	return &RunStats{
		Pool:            pool,
		Files:           r.files,
		Failed:          r.failed,
		Duration:        elapsed,
		MeanFileTime:    time.Duration(r.histogram.Mean()) * time.Microsecond,
		P50FileTime:     time.Duration(r.histogram.ValueAtQuantile(50)) * time.Microsecond,
		P95FileTime:     time.Duration(r.histogram.ValueAtQuantile(95)) * time.Microsecond,
		MaxFileTime:     time.Duration(r.histogram.Max()) * time.Microsecond,
		Throughput:      throughput,
		WorkerTaskCount: perWorker,
	}
}
