// Package engines - Fitting runners the benchmark suite drives: one backed
// by the synthetic body models, one by an ONNX runtime source model.
package engines

import (
	"context"

	"github.com/mocap-ai/go-skelfit/body"
	"github.com/mocap-ai/go-skelfit/fit"
)

// SyntheticEngine runs the fitter against the built-in synthetic body
// models. It needs no external files and is the default benchmark target.
type SyntheticEngine struct {
	fitter *fit.Fitter
}

// NewSyntheticEngine builds the synthetic models and a fitter over them.
func NewSyntheticEngine() (*SyntheticEngine, error) {
	model, err := body.NewSKEL(body.SyntheticArtifacts())
	if err != nil {
		return nil, err
	}
	source, err := body.NewSMPL(body.SyntheticSourceArtifacts())
	if err != nil {
		return nil, err
	}
	fitter, err := fit.NewFitter(source, model, fit.Options{})
	if err != nil {
		return nil, err
	}
	return &SyntheticEngine{fitter: fitter}, nil
}

// Fit runs one fitting pass. The context is checked before the run starts;
// the fit itself is not interruptible.
func (e *SyntheticEngine) Fit(ctx context.Context, trans, betas, poses []float64, opts fit.RunOptions) (*fit.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.fitter.RunFit(trans, betas, poses, opts)
}

// Close releases nothing; the synthetic models hold no external resources.
func (e *SyntheticEngine) Close() error {
	return nil
}
