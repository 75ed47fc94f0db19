package fit

import "github.com/mocap-ai/go-skelfit/sequence"

// Stage identifies which preset a batch optimization runs under.
type Stage string

const (
	// StageWarmStart is the rotation-only global alignment stage.
	StageWarmStart Stage = "warm_start"
	// StageRefine is the full-pose refinement stage.
	StageRefine Stage = "refine"
)

// Breakdown reports the weighted value of each loss term at one step.
type Breakdown struct {
	Verts   float64 `json:"verts"`
	Loose   float64 `json:"loose"`
	Joint   float64 `json:"joint"`
	Time    float64 `json:"time"`
	Scapula float64 `json:"scapula"`
	Spine   float64 `json:"spine"`
	Pose    float64 `json:"pose"`
}

// Snapshot carries detached copies of the batch parameters at the moment a
// stage starts. Mutating a snapshot never affects the fit.
type Snapshot struct {
	Frames sequence.Range
	Poses  []float64
	Betas  []float64
	Trans  []float64
}

// Observer receives fitting progress events. Events for one run arrive in
// order: for each batch, one OnBatchStart per stage, then OnStep per outer
// optimizer step, then OnBatchEnd when the batch's last stage finishes.
// Callbacks run on the fitting goroutine; implementations must not block.
type Observer interface {
	OnBatchStart(batch int, stage Stage, init Snapshot)
	OnStep(batch int, stage Stage, step, numSteps int, loss float64, detail Breakdown)
	OnBatchEnd(batch int, frames sequence.Range, loss float64)
}
