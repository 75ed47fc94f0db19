package engines

import (
	"context"

	"github.com/pkg/errors"

	"github.com/mocap-ai/go-skelfit/body"
	"github.com/mocap-ai/go-skelfit/fit"
)

// ONNXEngine runs the fitter against an ONNX runtime source model, so the
// benchmark measures the full pipeline including source inference.
type ONNXEngine struct {
	source *body.ONNXSource
	fitter *fit.Fitter
}

// NewONNXEngine loads both artifact containers and binds an ONNX session
// over the given model. Only the source forward pass goes through the
// runtime; the skeleton side runs the graph forward as usual.
//
// Arguments:
// - modelPath: Path to the ONNX source model.
// - sourceArtifacts: Path to the source artifact container matching the model.
// - skelArtifacts: Path to the skeleton artifact container sharing the
//   source topology.
//
// Returns:
// - *ONNXEngine: The runner.
// - error: Error if the artifacts or the runtime session cannot be set up.
func NewONNXEngine(modelPath, sourceArtifacts, skelArtifacts string) (*ONNXEngine, error) {
	srcArt, err := body.LoadSourceArtifacts(sourceArtifacts)
	if err != nil {
		return nil, errors.Wrap(err, "engines: load source artifacts")
	}
	skelArt, err := body.LoadArtifacts(skelArtifacts)
	if err != nil {
		return nil, errors.Wrap(err, "engines: load skeleton artifacts")
	}

	source, err := body.NewONNXSource(body.ONNXConfig{ModelPath: modelPath}, srcArt)
	if err != nil {
		return nil, errors.Wrap(err, "engines: create onnx source")
	}

	model, err := body.NewSKEL(skelArt)
	if err != nil {
		source.Close()
		return nil, err
	}

	fitter, err := fit.NewFitter(source, model, fit.Options{})
	if err != nil {
		source.Close()
		return nil, err
	}

	return &ONNXEngine{source: source, fitter: fitter}, nil
}

// Fit runs one fitting pass with targets produced by the ONNX session.
func (e *ONNXEngine) Fit(ctx context.Context, trans, betas, poses []float64, opts fit.RunOptions) (*fit.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.fitter.RunFit(trans, betas, poses, opts)
}

// Close destroys the runtime session.
func (e *ONNXEngine) Close() error {
	if e.source != nil {
		e.source.Close()
		e.source = nil
	}
	return nil
}
