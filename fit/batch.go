package fit

import (
	"log"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/mocap-ai/go-skelfit/body"
	"github.com/mocap-ai/go-skelfit/sequence"
)

// Targets bundles the per-batch fitting targets, both read-only once built.
type Targets struct {
	SourceVerts []float64 // B x V x 3
	AnatJoints  []float64 // B x 24 x 3
}

// batchTargets evaluates the source model over the batch's rows and
// regresses the anatomical joint targets from the resulting surface.
func (f *Fitter) batchTargets(rng sequence.Range, src *sourceSeq) (*Targets, error) {
	b := rng.Len()
	verts, err := f.source.Forward(
		src.poses[rng.Start*body.SourcePoseDim:rng.End*body.SourcePoseDim],
		src.betas[rng.Start*body.NumBetas:rng.End*body.NumBetas],
		src.trans[rng.Start*sequence.TransDim:rng.End*sequence.TransDim],
		b,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "fit: source forward for frames %s", rng)
	}
	return &Targets{SourceVerts: verts, AnatJoints: f.anatJoints(verts, b)}, nil
}

// anatJoints applies the anatomical joint regressor to each frame of a
// surface, producing B x 24 x 3 joint targets.
func (f *Fitter) anatJoints(verts []float64, frames int) []float64 {
	v := f.source.VertexCount()
	out := make([]float64, frames*body.NumJoints*3)
	var joints mat.Dense
	for i := 0; i < frames; i++ {
		frame := mat.NewDense(v, 3, verts[i*v*3:(i+1)*v*3])
		joints.Mul(f.anatReg, frame)
		copy(out[i*body.NumJoints*3:], joints.RawMatrix().Data)
	}
	return out
}

// freeDimFor returns the number of free pose channels per frame.
func freeDimFor(rotOnly bool) int {
	if rotOnly {
		return body.GlobalOrientChannels
	}
	return body.NumPoseDOF
}

// packParams flattens the free parameters into the optimizer vector:
// translation rows first, then the free pose channels of each frame.
func packParams(trans, poses []float64, frames int, rotOnly bool) []float64 {
	freeDim := freeDimFor(rotOnly)
	x := make([]float64, frames*(sequence.TransDim+freeDim))
	copy(x, trans[:frames*sequence.TransDim])
	o := frames * sequence.TransDim
	for i := 0; i < frames; i++ {
		copy(x[o+i*freeDim:o+(i+1)*freeDim], poses[i*body.NumPoseDOF:i*body.NumPoseDOF+freeDim])
	}
	return x
}

// unpackParams writes the optimizer vector back into the translation and
// pose rows. In rotation-only mode only the free channels are touched, so
// the remaining channels keep their stored values exactly.
func unpackParams(x, trans, poses []float64, frames int, rotOnly bool) {
	freeDim := freeDimFor(rotOnly)
	copy(trans[:frames*sequence.TransDim], x[:frames*sequence.TransDim])
	o := frames * sequence.TransDim
	for i := 0; i < frames; i++ {
		copy(poses[i*body.NumPoseDOF:i*body.NumPoseDOF+freeDim], x[o+i*freeDim:o+(i+1)*freeDim])
	}
}

// runStage optimizes one batch under one config and writes the accepted
// parameters back into the store.
func (f *Fitter) runStage(index int, rng sequence.Range, store *sequence.Store, stage Stage, cfg Config, targets *Targets) (float64, Breakdown, error) {
	batch := rng.Len()
	poses, betas, trans := store.CopyRange(rng)

	f.eachObserver(func(o Observer) {
		o.OnBatchStart(index, stage, Snapshot{
			Frames: rng,
			Poses:  cloneFloats(poses),
			Betas:  cloneFloats(betas),
			Trans:  cloneFloats(trans),
		})
	})

	mask := f.masks.Fitting
	if cfg.RotOnly() {
		mask = f.masks.Torso
	}
	lg, err := buildLoss(f.graph, cfg, lossInputs{
		frames:  batch,
		poses:   poses,
		betas:   betas,
		targets: targets.SourceVerts,
		anat:    targets.AnatJoints,
		mask:    mask,
	})
	if err != nil {
		return 0, Breakdown{}, errors.Wrapf(err, "fit: batch %d stage %s", index, stage)
	}
	defer lg.Close()

	x := packParams(trans, poses, batch, cfg.RotOnly())
	loss, detail, err := optimizeBatch(lg, cfg, x, func(step, numSteps int, l float64, d Breakdown) {
		log.Printf("batch %d %s step %d/%d loss %.6f [verts %.4f loose %.4f joint %.4f time %.4f scapula %.4f spine %.4f pose %.4f]",
			index, stage, step, numSteps, l, d.Verts, d.Loose, d.Joint, d.Time, d.Scapula, d.Spine, d.Pose)
		f.eachObserver(func(o Observer) {
			o.OnStep(index, stage, step, numSteps, l, d)
		})
	})
	if err != nil {
		return 0, Breakdown{}, errors.Wrapf(err, "fit: batch %d stage %s frames %s", index, stage, rng)
	}

	unpackParams(x, trans, poses, batch, cfg.RotOnly())
	if err := store.WriteRange(rng, poses, betas, trans); err != nil {
		return 0, Breakdown{}, errors.Wrapf(err, "fit: batch %d stage %s", index, stage)
	}
	return loss, detail, nil
}

func cloneFloats(xs []float64) []float64 {
	out := make([]float64, len(xs))
	copy(out, xs)
	return out
}
