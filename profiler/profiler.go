// Package profiler - Instrumentation for fitting runs. FitProfiler plugs into
// the fitter as an observer, tracks wall time per optimization stage and the
// loss trajectory per term, and renders a summary report after the run.
package profiler

import (
	"fmt"
	"io"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/mocap-ai/go-skelfit/fit"
	"github.com/mocap-ai/go-skelfit/sequence"
)

// metricTracker tracks statistics for one scalar series over a bounded
// sample window.
type metricTracker struct {
	values []float64
	sum    float64
	min    float64
	max    float64
	count  int64
	last   float64
}

// timeTracker tracks duration statistics over a bounded sample window.
type timeTracker struct {
	durations []time.Duration
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

// Options configures a FitProfiler.
type Options struct {
	// MaxSamples bounds the per-series sample window (default: 600).
	MaxSamples int
}

// FitProfiler collects timing and loss statistics from a fitting run. It is
// safe for concurrent use, though the fitter itself reports from a single
// goroutine.
type FitProfiler struct {
	mu         sync.Mutex
	maxSamples int
	startTime  time.Time

	metrics map[string]*metricTracker
	timings map[string]*timeTracker

	// openStage is the stage currently being timed; a batch closes its
	// previous stage when the next one starts or the batch ends.
	openStage struct {
		active bool
		stage  fit.Stage
		since  time.Time
	}

	batches     int
	frames      int
	batchLosses []float64
}

// New creates a profiler ready to be registered as a fitting observer.
func New(opts Options) *FitProfiler {
	if opts.MaxSamples == 0 {
		opts.MaxSamples = 600
	}
	return &FitProfiler{
		maxSamples: opts.MaxSamples,
		startTime:  time.Now(),
		metrics:    make(map[string]*metricTracker),
		timings:    make(map[string]*timeTracker),
	}
}

// OnBatchStart records the stage transition and starts its clock.
func (p *FitProfiler) OnBatchStart(batch int, stage fit.Stage, init fit.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closeOpenStage()
	p.openStage.active = true
	p.openStage.stage = stage
	p.openStage.since = time.Now()

	if batch+1 > p.batches {
		p.batches = batch + 1
	}
}

// OnStep records the total loss and each loss term for the step's stage.
func (p *FitProfiler) OnStep(batch int, stage fit.Stage, step, numSteps int, loss float64, detail fit.Breakdown) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prefix := "loss/" + string(stage)
	p.record(prefix, loss)
	p.record(prefix+"/verts", detail.Verts)
	p.record(prefix+"/loose", detail.Loose)
	p.record(prefix+"/joint", detail.Joint)
	p.record(prefix+"/time", detail.Time)
	p.record(prefix+"/scapula", detail.Scapula)
	p.record(prefix+"/spine", detail.Spine)
	p.record(prefix+"/pose", detail.Pose)
}

// OnBatchEnd closes the batch's stage clock and keeps its final loss.
func (p *FitProfiler) OnBatchEnd(batch int, frames sequence.Range, loss float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closeOpenStage()
	p.frames += frames.Len()
	p.batchLosses = append(p.batchLosses, loss)
}

// closeOpenStage records the elapsed time of the stage being timed, if any.
// Callers hold the mutex.
func (p *FitProfiler) closeOpenStage() {
	if !p.openStage.active {
		return
	}
	p.recordTime("stage/"+string(p.openStage.stage), time.Since(p.openStage.since))
	p.openStage.active = false
}

// RecordMetric records one value of a named scalar series.
func (p *FitProfiler) RecordMetric(name string, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(name, value)
}

// StartOperation begins timing a named operation and returns the function
// that stops the clock.
//
// Arguments:
// - name: The operation to track, e.g. "load" or "export".
//
// Returns:
// - func(): Completion callback recording the elapsed time.
func (p *FitProfiler) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.recordTime(name, time.Since(start))
	}
}

func (p *FitProfiler) record(name string, value float64) {
	tracker, ok := p.metrics[name]
	if !ok {
		tracker = &metricTracker{
			values: make([]float64, 0, p.maxSamples),
			min:    value,
			max:    value,
		}
		p.metrics[name] = tracker
	}

	tracker.values = append(tracker.values, value)
	if len(tracker.values) > p.maxSamples {
		tracker.sum -= tracker.values[0]
		tracker.values = tracker.values[1:]
	}

	tracker.sum += value
	tracker.count++
	tracker.last = value

	if value < tracker.min {
		tracker.min = value
	}
	if value > tracker.max {
		tracker.max = value
	}
}

func (p *FitProfiler) recordTime(name string, duration time.Duration) {
	tracker, ok := p.timings[name]
	if !ok {
		tracker = &timeTracker{
			minTime: duration,
			maxTime: duration,
		}
		p.timings[name] = tracker
	}

	tracker.durations = append(tracker.durations, duration)
	if len(tracker.durations) > p.maxSamples {
		tracker.totalTime -= tracker.durations[0]
		tracker.durations = tracker.durations[1:]
	}

	tracker.totalTime += duration
	tracker.count++

	if duration < tracker.minTime {
		tracker.minTime = duration
	}
	if duration > tracker.maxTime {
		tracker.maxTime = duration
	}
}

// Report writes a human-readable summary of the run.
//
// Arguments:
// - w: Destination writer, typically os.Stdout.
func (p *FitProfiler) Report(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(w, "FITTING PROFILE - %s\n", time.Now().Format("15:04:05.000"))
	fmt.Fprintf(w, "Elapsed: %v\n", time.Since(p.startTime).Truncate(time.Millisecond))
	fmt.Fprintf(w, "Batches: %d  Frames: %d\n", p.batches, p.frames)

	if len(p.batchLosses) > 0 {
		fmt.Fprintf(w, "\nFINAL BATCH LOSSES:\n")
		for i, loss := range p.batchLosses {
			fmt.Fprintf(w, "  batch %d: %.6f\n", i, loss)
		}
	}

	if len(p.timings) > 0 {
		fmt.Fprintf(w, "\nTIMINGS:\n")
		for _, name := range sortedKeys(p.timings) {
			tracker := p.timings[name]
			if len(tracker.durations) == 0 {
				continue
			}
			avg := tracker.totalTime / time.Duration(len(tracker.durations))
			fmt.Fprintf(w, "  %s: avg=%v, min=%v, max=%v, count=%d\n",
				name, avg.Truncate(time.Microsecond),
				tracker.minTime.Truncate(time.Microsecond),
				tracker.maxTime.Truncate(time.Microsecond),
				tracker.count)
		}
	}

	if len(p.metrics) > 0 {
		fmt.Fprintf(w, "\nLOSS SERIES:\n")
		for _, name := range sortedKeys(p.metrics) {
			tracker := p.metrics[name]
			if len(tracker.values) == 0 {
				continue
			}
			avg := tracker.sum / float64(len(tracker.values))
			fmt.Fprintf(w, "  %s: last=%.6f, avg=%.6f, min=%.6f, max=%.6f, samples=%d\n",
				name, tracker.last, avg, tracker.min, tracker.max, tracker.count)
		}
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	fmt.Fprintf(w, "\nMEMORY:\n")
	fmt.Fprintf(w, "  Alloc: %s  Sys: %s  GC Cycles: %d\n",
		formatBytes(mem.Alloc), formatBytes(mem.Sys), mem.NumGC)
}

// Stats returns a flat snapshot of the collected statistics, keyed by series
// name. Timing series report milliseconds.
func (p *FitProfiler) Stats() map[string]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := make(map[string]float64)
	stats["batches"] = float64(p.batches)
	stats["frames"] = float64(p.frames)

	for name, tracker := range p.metrics {
		if len(tracker.values) == 0 {
			continue
		}
		stats[name+"/last"] = tracker.last
		stats[name+"/avg"] = tracker.sum / float64(len(tracker.values))
		stats[name+"/min"] = tracker.min
		stats[name+"/max"] = tracker.max
	}
	for name, tracker := range p.timings {
		if len(tracker.durations) == 0 {
			continue
		}
		avg := tracker.totalTime / time.Duration(len(tracker.durations))
		stats[name+"/avg_ms"] = float64(avg) / float64(time.Millisecond)
		stats[name+"/total_ms"] = float64(tracker.totalTime) / float64(time.Millisecond)
	}
	return stats
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// formatBytes formats byte counts in human-readable form.
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
