package benchmark

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// ScenarioBuilder helps build scenarios with a fluent API.
type ScenarioBuilder struct {
	scenario Scenario
}

// NewScenarioBuilder creates a new scenario builder with sane defaults.
func NewScenarioBuilder(name string) *ScenarioBuilder {
	return &ScenarioBuilder{
		scenario: Scenario{
			Name:       name,
			Frames:     20,
			Iterations: 10,
			WarmupRuns: 1,
		},
	}
}

// WithFrames sets the synthetic sequence length.
func (sb *ScenarioBuilder) WithFrames(frames int) *ScenarioBuilder {
	sb.scenario.Frames = frames
	return sb
}

// WithBatchSize sets the fitting batch size.
func (sb *ScenarioBuilder) WithBatchSize(batchSize int) *ScenarioBuilder {
	sb.scenario.BatchSize = batchSize
	return sb
}

// WithBudget sets the per-stage optimization budget.
func (sb *ScenarioBuilder) WithBudget(maxIter, numSteps int) *ScenarioBuilder {
	sb.scenario.MaxIter = maxIter
	sb.scenario.NumSteps = numSteps
	return sb
}

// WithMeshExport enables mesh evaluation after each run.
func (sb *ScenarioBuilder) WithMeshExport() *ScenarioBuilder {
	sb.scenario.ExportMeshes = true
	return sb
}

// WithIterations sets the number of timed iterations.
func (sb *ScenarioBuilder) WithIterations(iterations int) *ScenarioBuilder {
	sb.scenario.Iterations = iterations
	return sb
}

// WithWarmupRuns sets the number of warmup runs.
func (sb *ScenarioBuilder) WithWarmupRuns(warmups int) *ScenarioBuilder {
	sb.scenario.WarmupRuns = warmups
	return sb
}

// Build returns the configured scenario.
func (sb *ScenarioBuilder) Build() Scenario {
	return sb.scenario
}

// ScenarioSet represents a collection of related scenarios.
type ScenarioSet struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Scenarios   []Scenario `json:"scenarios"`
}

// PredefinedScenarios contains common benchmark scenario sets.
type PredefinedScenarios struct{}

// GetQuickScenarios returns a small set with tight budgets for quick runs.
func (ps *PredefinedScenarios) GetQuickScenarios() *ScenarioSet {
	scenarios := make([]Scenario, 0)

	for _, frames := range []int{5, 20} {
		scenario := NewScenarioBuilder(fmt.Sprintf("quick_%df", frames)).
			WithFrames(frames).
			WithBatchSize(frames).
			WithBudget(5, 2).
			WithIterations(5).
			WithWarmupRuns(1).
			Build()
		scenarios = append(scenarios, scenario)
	}

	return &ScenarioSet{
		Name:        "Quick Performance Test",
		Description: "Quick test with short sequences and tight budgets",
		Scenarios:   scenarios,
	}
}

// GetComprehensiveScenarios returns the full sequence-length and batch-size
// grid at the default optimization budget.
func (ps *PredefinedScenarios) GetComprehensiveScenarios() *ScenarioSet {
	scenarios := make([]Scenario, 0)

	for _, frames := range []int{20, 60, 120} {
		for _, batch := range []int{1, 5, 20} {
			if batch > frames {
				continue
			}
			scenario := NewScenarioBuilder(fmt.Sprintf("comprehensive_%df_b%d", frames, batch)).
				WithFrames(frames).
				WithBatchSize(batch).
				WithIterations(10).
				WithWarmupRuns(2).
				Build()
			scenarios = append(scenarios, scenario)
		}
	}

	return &ScenarioSet{
		Name:        "Comprehensive Performance Test",
		Description: "Tests all combinations of sequence length and batch size",
		Scenarios:   scenarios,
	}
}

// GetBatchSizeComparisonScenarios sweeps the batch size for one sequence
// length, isolating the cost of graph size versus batch count.
func (ps *PredefinedScenarios) GetBatchSizeComparisonScenarios(frames int) *ScenarioSet {
	scenarios := make([]Scenario, 0)

	for _, batch := range []int{1, 2, 5, 10, frames} {
		if batch > frames {
			continue
		}
		scenario := NewScenarioBuilder(fmt.Sprintf("batch_%df_b%d", frames, batch)).
			WithFrames(frames).
			WithBatchSize(batch).
			WithBudget(10, 3).
			WithIterations(10).
			WithWarmupRuns(2).
			Build()
		scenarios = append(scenarios, scenario)
	}

	return &ScenarioSet{
		Name:        fmt.Sprintf("Batch Size Comparison - %d frames", frames),
		Description: fmt.Sprintf("Compares batch sizes over a %d frame sequence", frames),
		Scenarios:   scenarios,
	}
}

// GetBudgetComparisonScenarios sweeps the optimization budget for one
// sequence, showing how fit quality trades against wall time.
func (ps *PredefinedScenarios) GetBudgetComparisonScenarios(frames, batch int) *ScenarioSet {
	scenarios := make([]Scenario, 0)

	budgets := []struct{ maxIter, numSteps int }{
		{5, 2}, {10, 5}, {25, 10},
	}
	for _, b := range budgets {
		scenario := NewScenarioBuilder(fmt.Sprintf("budget_%df_i%d_s%d", frames, b.maxIter, b.numSteps)).
			WithFrames(frames).
			WithBatchSize(batch).
			WithBudget(b.maxIter, b.numSteps).
			WithIterations(5).
			WithWarmupRuns(1).
			Build()
		scenarios = append(scenarios, scenario)
	}

	return &ScenarioSet{
		Name:        fmt.Sprintf("Budget Comparison - %d frames", frames),
		Description: fmt.Sprintf("Compares optimization budgets over a %d frame sequence at batch %d", frames, batch),
		Scenarios:   scenarios,
	}
}

// SaveScenarioSet saves a scenario set to a JSON file.
func SaveScenarioSet(scenarioSet *ScenarioSet, filename string) error {
	data, err := json.MarshalIndent(scenarioSet, "", "  ")
	if err != nil {
		return errors.Wrap(err, "benchmark: marshal scenario set")
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return errors.Wrap(err, "benchmark: write scenario file")
	}

	return nil
}

// LoadScenarioSet loads a scenario set from a JSON file.
func LoadScenarioSet(filename string) (*ScenarioSet, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "benchmark: read scenario file")
	}

	var scenarioSet ScenarioSet
	if err := json.Unmarshal(data, &scenarioSet); err != nil {
		return nil, errors.Wrap(err, "benchmark: unmarshal scenario set")
	}

	return &scenarioSet, nil
}

// Config represents the overall benchmark configuration.
type Config struct {
	OutputDir string `json:"output_dir"`
	// ModelPath points to an ONNX source model; empty selects the synthetic
	// runner.
	ModelPath string `json:"model_path"`
	// SourceArtifactsPath points to the source artifact container that goes
	// with ModelPath.
	SourceArtifactsPath string `json:"source_artifacts_path"`
	// SkelArtifactsPath points to the skeleton artifact container sharing
	// the source topology.
	SkelArtifactsPath string `json:"skel_artifacts_path"`
	TimeoutSeconds    int    `json:"timeout_seconds"`
	SaveDetailedLog   bool   `json:"save_detailed_log"`
}

// DefaultConfig returns a default benchmark configuration.
func DefaultConfig() *Config {
	return &Config{
		OutputDir:       "./benchmark_results",
		TimeoutSeconds:  3600,
		SaveDetailedLog: true,
	}
}

// SaveConfig saves the benchmark configuration to a JSON file.
func (bc *Config) SaveConfig(filename string) error {
	data, err := json.MarshalIndent(bc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "benchmark: marshal config")
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return errors.Wrap(err, "benchmark: write config file")
	}

	return nil
}

// LoadConfig loads benchmark configuration from a JSON file.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "benchmark: read config file")
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrap(err, "benchmark: unmarshal config")
	}

	return &config, nil
}
