// Package fit - Batched two-stage fitting of the anatomical skeleton model
// to source surface sequences. A Fitter owns the shared read-only pieces
// (source model, skeleton model, forward graph, masks, regressors); RunFit
// partitions a sequence into batches, optimizes them strictly in order with
// L-BFGS over a differentiable loss, and seeds every batch with its
// predecessor's final frame.
package fit

import (
	"log"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/mocap-ai/go-skelfit/body"
	"github.com/mocap-ai/go-skelfit/sequence"
)

// DefaultBatchSize is used when RunOptions leaves BatchSize at zero.
const DefaultBatchSize = 20

// Masks holds the per-vertex weight masks computed once at fitter
// construction. Fitting weights every vertex term; Torso is Fitting
// restricted to vertices dominated by the torso joints and drives the
// rotation-only stage.
type Masks struct {
	Fitting []float64
	Torso   []float64
}

// sourceSeq is the validated source sequence with betas broadcast to rows.
type sourceSeq struct {
	frames int
	poses  []float64 // frames x 72
	betas  []float64 // frames x 10
	trans  []float64 // frames x 3
}

// Options configures fitter construction.
type Options struct {
	// FittingMask optionally weights vertices in the masked vertex term,
	// one value per source vertex. Nil selects all ones.
	FittingMask []float64
	// Observers receive progress events for every run of this fitter.
	Observers []Observer
}

// Fitter fits the skeleton model to source surface sequences.
type Fitter struct {
	source    body.SourceModel
	model     *body.SKEL
	graph     *body.ForwardGraph
	masks     Masks
	anatReg   *mat.Dense
	observers []Observer
}

// NewFitter validates that the source and skeleton skin meshes share
// topology and precomputes the masks and regressors shared by all runs.
//
// Arguments:
//   - source: The surface model whose output is fitted against.
//   - model: The skeleton model being fitted.
//   - opts: Optional mask and observers.
//
// Returns:
//   - *Fitter: A fitter safe for any number of sequential runs.
//   - error: An error when the models are incompatible.
func NewFitter(source body.SourceModel, model *body.SKEL, opts Options) (*Fitter, error) {
	if source == nil {
		return nil, errors.New("fit: nil source model")
	}
	if model == nil {
		return nil, errors.New("fit: nil skeleton model")
	}
	v := source.VertexCount()
	if v != model.Artifacts().VertexCount {
		return nil, errors.Errorf("fit: source has %d vertices, skeleton skin has %d; meshes must share topology",
			v, model.Artifacts().VertexCount)
	}
	weights := source.SkinWeights()
	if len(weights) != v*body.NumJoints {
		return nil, errors.Errorf("fit: source skinning weights have %d values, want %d", len(weights), v*body.NumJoints)
	}

	fitting := make([]float64, v)
	if opts.FittingMask != nil {
		if len(opts.FittingMask) != v {
			return nil, errors.Errorf("fit: fitting mask has %d values, want %d", len(opts.FittingMask), v)
		}
		copy(fitting, opts.FittingMask)
	} else {
		for i := range fitting {
			fitting[i] = 1
		}
	}
	torso := make([]float64, v)
	for vi := 0; vi < v; vi++ {
		var w float64
		for _, j := range body.TorsoSourceJoints {
			w += weights[vi*body.NumJoints+j]
		}
		if w > body.TorsoWeightThreshold {
			torso[vi] = fitting[vi]
		}
	}

	graph, err := body.NewForwardGraph(model)
	if err != nil {
		return nil, errors.Wrap(err, "fit: forward graph")
	}

	f := &Fitter{
		source:  source,
		model:   model,
		graph:   graph,
		masks:   Masks{Fitting: fitting, Torso: torso},
		anatReg: mat.NewDense(body.NumJoints, v, cloneFloats(model.Artifacts().AnatRegressor)),
	}
	f.observers = append(f.observers, opts.Observers...)
	return f, nil
}

// Masks returns copies of the per-vertex masks.
func (f *Fitter) Masks() Masks {
	return Masks{
		Fitting: cloneFloats(f.masks.Fitting),
		Torso:   cloneFloats(f.masks.Torso),
	}
}

// Init supplies a complete starting state for every frame, typically a
// previous fit of the same sequence. All three fields are required
// together; a partial init is rejected rather than silently mixed with
// defaults.
type Init struct {
	Poses []float64 // frames x 46
	Betas []float64 // frames x 10
	Trans []float64 // frames x 3
}

// RunOptions configures one fitting run.
type RunOptions struct {
	// BatchSize is the number of frames optimized jointly. Zero selects
	// DefaultBatchSize; values beyond the sequence length are clamped.
	BatchSize int
	// Init seeds the run and skips the rotation-only warm start.
	Init *Init
	// ExportMeshes evaluates the fitted and source meshes for every frame
	// and attaches them to the result.
	ExportMeshes bool
	// Warm and Refine are merged over the corresponding presets, entry by
	// entry. Nil leaves the presets untouched.
	Warm   Config
	Refine Config
}

// DefaultRunOptions returns the standard run configuration.
func DefaultRunOptions() RunOptions {
	return RunOptions{BatchSize: DefaultBatchSize}
}

// RunFit fits the skeleton model to a source sequence.
//
// The source sequence is given as flat row-major arrays: trans is frames x
// 3 root translations, poses is frames x 72 axis-angle source poses, and
// betas is one shape row shared by every frame, truncated or zero-padded
// to 10 coefficients.
//
// Without an init, the fit starts from the deterministic default state
// (zero pose with the global orientation channels seeded from the source
// root, source betas and translation) and the first batch runs the
// rotation-only warm start before refinement. With an init, every batch
// runs refinement only. Batches are processed strictly in order; before
// each later batch the predecessor's final fitted frame is forward-filled
// over the remaining rows.
//
// Arguments:
//   - trans: Source root translations, frames x 3.
//   - betas: Source shape coefficients, one row.
//   - poses: Source poses, frames x 72.
//   - opts: Run configuration.
//
// Returns:
//   - *Result: Fitted parameters for the whole sequence, per-batch losses,
//     and optionally per-frame meshes. The caller owns the arrays.
//   - error: An error on invalid input or on a numerical failure; the fit
//     is not retried.
func (f *Fitter) RunFit(trans, betas, poses []float64, opts RunOptions) (*Result, error) {
	src, err := newSourceSeq(trans, betas, poses)
	if err != nil {
		return nil, err
	}
	frames := src.frames

	batchSize := opts.BatchSize
	if batchSize == 0 {
		batchSize = DefaultBatchSize
	}
	if batchSize < 0 {
		return nil, errors.Errorf("fit: batch size must be positive, got %d", batchSize)
	}
	if batchSize > frames {
		log.Printf("fit: batch size %d exceeds sequence length %d, clamping", batchSize, frames)
		batchSize = frames
	}

	store, err := initStore(frames, src, opts.Init)
	if err != nil {
		return nil, err
	}

	warmCfg := WarmStart()
	if opts.Warm != nil {
		warmCfg = warmCfg.Merge(opts.Warm)
	}
	refineCfg := warmCfg.Merge(Refine())
	if opts.Refine != nil {
		refineCfg = refineCfg.Merge(opts.Refine)
	}

	ranges := sequence.Partition(frames, batchSize)
	losses := make([]float64, 0, len(ranges))
	for i, rng := range ranges {
		if i > 0 {
			if err := store.ForwardFillFrom(rng.Start); err != nil {
				return nil, errors.Wrapf(err, "fit: seed batch %d", i)
			}
		}
		twoStage := i == 0 && opts.Init == nil
		loss, err := f.runBatch(i, rng, store, src, twoStage, warmCfg, refineCfg)
		if err != nil {
			return nil, err
		}
		losses = append(losses, loss)
	}

	res := &Result{
		Frames:      frames,
		Poses:       store.Poses,
		Betas:       store.Betas,
		Trans:       store.Trans,
		BatchLosses: losses,
	}
	if opts.ExportMeshes {
		meshes, err := f.exportMeshes(store, src)
		if err != nil {
			return nil, err
		}
		res.Meshes = meshes
	}
	return res, nil
}

// runBatch optimizes one batch, optionally preceded by the rotation-only
// warm start, and reports the batch's final loss.
func (f *Fitter) runBatch(index int, rng sequence.Range, store *sequence.Store, src *sourceSeq, twoStage bool, warmCfg, refineCfg Config) (float64, error) {
	targets, err := f.batchTargets(rng, src)
	if err != nil {
		return 0, err
	}
	if twoStage {
		if _, _, err := f.runStage(index, rng, store, StageWarmStart, warmCfg, targets); err != nil {
			return 0, err
		}
	}
	loss, _, err := f.runStage(index, rng, store, StageRefine, refineCfg, targets)
	if err != nil {
		return 0, err
	}
	f.eachObserver(func(o Observer) {
		o.OnBatchEnd(index, rng, loss)
	})
	return loss, nil
}

// newSourceSeq validates the source arrays and broadcasts the shape row.
func newSourceSeq(trans, betas, poses []float64) (*sourceSeq, error) {
	if len(poses) == 0 || len(poses)%body.SourcePoseDim != 0 {
		return nil, errors.Errorf("fit: source poses length %d is not a positive multiple of %d", len(poses), body.SourcePoseDim)
	}
	frames := len(poses) / body.SourcePoseDim
	if len(trans) != frames*sequence.TransDim {
		return nil, errors.Errorf("fit: source trans length %d, want %d", len(trans), frames*sequence.TransDim)
	}

	row := make([]float64, body.NumBetas)
	n := copy(row, betas)
	if len(betas) > body.NumBetas {
		log.Printf("fit: truncating %d source shape coefficients to %d", len(betas), body.NumBetas)
	} else if n < body.NumBetas {
		log.Printf("fit: padding %d source shape coefficients to %d with zeros", n, body.NumBetas)
	}
	broadcast := make([]float64, frames*body.NumBetas)
	for i := 0; i < frames; i++ {
		copy(broadcast[i*body.NumBetas:], row)
	}

	return &sourceSeq{
		frames: frames,
		poses:  cloneFloats(poses),
		betas:  broadcast,
		trans:  cloneFloats(trans),
	}, nil
}

// initStore builds the parameter store for a run: either from a complete
// init or from the deterministic default state.
func initStore(frames int, src *sourceSeq, init *Init) (*sequence.Store, error) {
	store, err := sequence.NewStore(frames, body.NumPoseDOF)
	if err != nil {
		return nil, errors.Wrap(err, "fit: parameter store")
	}
	if init != nil {
		if init.Poses == nil || init.Betas == nil || init.Trans == nil {
			return nil, errors.New("fit: init requires poses, betas, and trans together")
		}
		if len(init.Poses) != frames*body.NumPoseDOF {
			return nil, errors.Errorf("fit: init poses length %d, want %d", len(init.Poses), frames*body.NumPoseDOF)
		}
		if len(init.Betas) != frames*body.NumBetas {
			return nil, errors.Errorf("fit: init betas length %d, want %d", len(init.Betas), frames*body.NumBetas)
		}
		if len(init.Trans) != frames*sequence.TransDim {
			return nil, errors.Errorf("fit: init trans length %d, want %d", len(init.Trans), frames*sequence.TransDim)
		}
		copy(store.Poses, init.Poses)
		copy(store.Betas, init.Betas)
		copy(store.Trans, init.Trans)
		return store, nil
	}

	for i := 0; i < frames; i++ {
		copy(store.PoseRow(i)[:body.GlobalOrientChannels],
			src.poses[i*body.SourcePoseDim:i*body.SourcePoseDim+body.GlobalOrientChannels])
	}
	copy(store.Betas, src.betas)
	copy(store.Trans, src.trans)
	return store, nil
}

// exportMeshes evaluates the fitted skeleton, fitted skin, and source
// surfaces for every frame of the finished sequence.
func (f *Fitter) exportMeshes(store *sequence.Store, src *sourceSeq) (*Meshes, error) {
	fitted, err := f.model.Forward(store.Poses, store.Betas, store.Trans, store.Frames, body.ForwardOptions{SkelMesh: true})
	if err != nil {
		return nil, errors.Wrap(err, "fit: export fitted meshes")
	}
	srcVerts, err := f.source.Forward(src.poses, src.betas, src.trans, src.frames)
	if err != nil {
		return nil, errors.Wrap(err, "fit: export source meshes")
	}
	art := f.model.Artifacts()
	return &Meshes{
		SkelVerts:         fitted.SkelVerts,
		SkinVerts:         fitted.SkinVerts,
		SourceVerts:       srcVerts,
		SkelFaces:         art.SkelFaces,
		SkinFaces:         art.SkinFaces,
		SourceFaces:       f.source.Faces(),
		SkelVertexCount:   art.SkelVertexCount,
		SkinVertexCount:   art.VertexCount,
		SourceVertexCount: f.source.VertexCount(),
	}, nil
}

func (f *Fitter) eachObserver(fn func(Observer)) {
	for _, o := range f.observers {
		if o != nil {
			fn(o)
		}
	}
}
