// Package benchmark - Functionality for running fitting benchmarks: scenario
// definitions, a suite that executes them against a fitting runner, and
// persisted JSON/CSV results.
package benchmark

import (
	"context"
	"math"

	"github.com/mocap-ai/go-skelfit/body"
	"github.com/mocap-ai/go-skelfit/fit"
)

// Scenario defines one benchmark configuration: a synthetic sequence length,
// batching, and per-stage iteration budgets.
type Scenario struct {
	Name string `json:"name"`
	// Frames is the synthetic sequence length fitted per iteration.
	Frames int `json:"frames"`
	// BatchSize is the fitting batch size. Zero keeps the fitter default.
	BatchSize int `json:"batch_size"`
	// MaxIter overrides the inner iteration budget of both stages when
	// positive.
	MaxIter int `json:"max_iter"`
	// NumSteps overrides the outer step count of both stages when positive.
	NumSteps int `json:"num_steps"`
	// ExportMeshes enables mesh evaluation after each run.
	ExportMeshes bool `json:"export_meshes"`
	// Iterations is the number of timed fitting runs.
	Iterations int `json:"iterations"`
	// WarmupRuns precede the timed iterations and are not measured.
	WarmupRuns int `json:"warmup_runs"`
}

// RunOptions translates the scenario into fitting options. Budget overrides
// are applied to both stages.
func (s Scenario) RunOptions() fit.RunOptions {
	opts := fit.RunOptions{
		BatchSize:    s.BatchSize,
		ExportMeshes: s.ExportMeshes,
	}
	override := fit.Config{}
	if s.MaxIter > 0 {
		override[fit.KeyMaxIter] = float64(s.MaxIter)
	}
	if s.NumSteps > 0 {
		override[fit.KeyNumSteps] = float64(s.NumSteps)
	}
	if len(override) > 0 {
		opts.Warm = override
		opts.Refine = override
	}
	return opts
}

// Runner executes one fitting pass over a source sequence. Engines adapt the
// fitter to this interface so suites can run against synthetic or
// runtime-backed source models interchangeably.
type Runner interface {
	Fit(ctx context.Context, trans, betas, poses []float64, opts fit.RunOptions) (*fit.Result, error)
	Close() error
}

// SyntheticMotion generates a deterministic source sequence for benchmarks:
// a sinusoidal root rotation, a gentle arm swing, and a slow root drift.
//
// Arguments:
// - frames: Sequence length.
//
// Returns:
// - trans: Root translations, frames x 3.
// - betas: One shape row, broadcast by the fitter.
// - poses: Source poses, frames x 72.
func SyntheticMotion(frames int) (trans, betas, poses []float64) {
	trans = make([]float64, frames*3)
	betas = make([]float64, body.NumBetas)
	poses = make([]float64, frames*body.SourcePoseDim)

	betas[0] = 0.5
	betas[1] = -0.3

	for t := 0; t < frames; t++ {
		phase := 2 * math.Pi * float64(t) / float64(frames)

		pose := poses[t*body.SourcePoseDim:]
		pose[1] = 0.4 * math.Sin(phase)
		// Opposed shoulder swing on source joints 16 and 17.
		pose[16*3+2] = 0.3 * math.Sin(phase)
		pose[17*3+2] = -0.3 * math.Sin(phase)

		trans[t*3+0] = 0.01 * float64(t)
		trans[t*3+1] = 0.9 + 0.02*math.Sin(phase)
	}
	return trans, betas, poses
}
