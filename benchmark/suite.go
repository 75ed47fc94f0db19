package benchmark

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Suite manages and executes benchmark scenarios against one runner.
type Suite struct {
	scenarios []Scenario
	runner    Runner
	outputDir string
	mu        sync.RWMutex
	results   []PerformanceMetrics
}

// NewSuite creates a benchmark suite.
//
// Arguments:
// - runner: The fitting runner under test.
// - outputDir: Directory for result files.
//
// Returns:
// - *Suite: The benchmark suite.
func NewSuite(runner Runner, outputDir string) *Suite {
	return &Suite{
		runner:    runner,
		outputDir: outputDir,
		scenarios: make([]Scenario, 0),
		results:   make([]PerformanceMetrics, 0),
	}
}

// AddScenario adds a scenario to the suite.
func (bs *Suite) AddScenario(scenario Scenario) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.scenarios = append(bs.scenarios, scenario)
}

// RunScenario executes a single benchmark scenario.
func (bs *Suite) RunScenario(ctx context.Context, scenario Scenario) (*PerformanceMetrics, error) {
	if scenario.Frames <= 0 {
		return nil, errors.Errorf("benchmark: scenario %s has no frames", scenario.Name)
	}
	if scenario.Iterations <= 0 {
		return nil, errors.Errorf("benchmark: scenario %s has no iterations", scenario.Name)
	}

	trans, betas, poses := SyntheticMotion(scenario.Frames)
	opts := scenario.RunOptions()

	metrics := &PerformanceMetrics{
		Scenario:  scenario,
		Timestamp: time.Now(),
	}

	// Warmup runs.
	for i := 0; i < scenario.WarmupRuns; i++ {
		if _, err := bs.runner.Fit(ctx, trans, betas, poses, opts); err != nil {
			continue
		}
	}

	// Capture initial memory stats.
	var startMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&startMem)

	startTime := time.Now()
	failed := 0
	var lossSum float64
	var lossRuns int

	for i := 0; i < scenario.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "benchmark: scenario %s", scenario.Name)
		}

		result, err := bs.runner.Fit(ctx, trans, betas, poses, opts)
		if err != nil {
			failed++
			continue
		}
		if n := len(result.BatchLosses); n > 0 {
			lossSum += result.BatchLosses[n-1]
			lossRuns++
		}
	}

	totalDuration := time.Since(startTime)

	// Capture final memory stats.
	var endMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&endMem)

	metrics.TotalDuration = totalDuration
	metrics.FramesPerSecond = float64(scenario.Frames*scenario.Iterations) / totalDuration.Seconds()
	metrics.ErrorRate = float64(failed) / float64(scenario.Iterations)
	if lossRuns > 0 {
		metrics.FinalLoss = lossSum / float64(lossRuns)
	}

	metrics.MemoryStats = MemoryMetrics{
		AllocBytes:      endMem.Alloc,
		TotalAllocBytes: endMem.TotalAlloc - startMem.TotalAlloc,
		SysBytes:        endMem.Sys,
		NumGC:           endMem.NumGC - startMem.NumGC,
		HeapAllocBytes:  endMem.HeapAlloc,
		HeapSysBytes:    endMem.HeapSys,
	}
	metrics.CPUStats = CPUMetrics{
		NumCPU: runtime.NumCPU(),
	}

	return metrics, nil
}

// RunAllScenarios executes every configured scenario and saves the results.
func (bs *Suite) RunAllScenarios(ctx context.Context) error {
	bs.mu.Lock()
	scenarios := make([]Scenario, len(bs.scenarios))
	copy(scenarios, bs.scenarios)
	bs.mu.Unlock()

	for _, scenario := range scenarios {
		metrics, err := bs.RunScenario(ctx, scenario)
		if err != nil {
			fmt.Printf("Scenario %s failed: %v\n", scenario.Name, err)
			continue
		}

		bs.mu.Lock()
		bs.results = append(bs.results, *metrics)
		bs.mu.Unlock()

		fmt.Printf("Scenario %s completed: %.2f frames/s, final loss %.6f\n",
			scenario.Name, metrics.FramesPerSecond, metrics.FinalLoss)
	}

	return bs.SaveResults()
}

// SaveResults persists the collected results as JSON plus a CSV summary.
func (bs *Suite) SaveResults() error {
	bs.mu.RLock()
	results := make([]PerformanceMetrics, len(bs.results))
	copy(results, bs.results)
	bs.mu.RUnlock()

	if err := os.MkdirAll(bs.outputDir, 0o755); err != nil {
		return errors.Wrap(err, "benchmark: create output directory")
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	resultsFile := filepath.Join(bs.outputDir, fmt.Sprintf("benchmark_results_%s.json", timestamp))

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return errors.Wrap(err, "benchmark: marshal results")
	}
	if err := os.WriteFile(resultsFile, data, 0o644); err != nil {
		return errors.Wrap(err, "benchmark: write results file")
	}

	summaryFile := filepath.Join(bs.outputDir, fmt.Sprintf("benchmark_summary_%s.csv", timestamp))
	if err := bs.saveSummaryCSV(summaryFile, results); err != nil {
		return errors.Wrap(err, "benchmark: save summary CSV")
	}

	fmt.Printf("Results saved to: %s\n", resultsFile)
	fmt.Printf("Summary saved to: %s\n", summaryFile)

	return nil
}

func (bs *Suite) saveSummaryCSV(filename string, results []PerformanceMetrics) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	header := "Scenario,Frames,Batch_Size,Max_Iter,Num_Steps,FPS,Total_Duration_ms,Avg_Memory_MB,Final_Loss,Error_Rate\n"
	if _, err := file.WriteString(header); err != nil {
		return err
	}

	for _, result := range results {
		avgMemoryMB := float64(result.MemoryStats.AllocBytes) / (1024 * 1024)
		line := fmt.Sprintf("%s,%d,%d,%d,%d,%.2f,%.2f,%.2f,%.6f,%.4f\n",
			result.Scenario.Name,
			result.Scenario.Frames,
			result.Scenario.BatchSize,
			result.Scenario.MaxIter,
			result.Scenario.NumSteps,
			result.FramesPerSecond,
			float64(result.TotalDuration.Nanoseconds())/1e6,
			avgMemoryMB,
			result.FinalLoss,
			result.ErrorRate,
		)
		if _, err := file.WriteString(line); err != nil {
			return err
		}
	}

	return nil
}

// GetResults returns a copy of all collected results.
func (bs *Suite) GetResults() []PerformanceMetrics {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	results := make([]PerformanceMetrics, len(bs.results))
	copy(results, bs.results)
	return results
}
