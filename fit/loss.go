package fit

import (
	"math"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/mocap-ai/go-skelfit/body"
	"github.com/mocap-ai/go-skelfit/sequence"
)

// normEps stabilizes the Frobenius norms under the square root: the
// gradient of sqrt is unbounded at zero, and the refinement stage starts
// from a pose whose regularized channels are exactly zero.
const normEps = 1e-12

// Breakdown term slots, in reporting order.
const (
	termVerts = iota
	termLoose
	termJoint
	termTime
	termScapula
	termSpine
	termPose
	termCount
)

// lossInputs bundles the per-batch data the loss graph embeds as constants.
// The graph keeps references to the slices, so callers hand over ownership.
type lossInputs struct {
	frames  int       // batch size B
	poses   []float64 // B x 46 stored rows at batch start; frozen channels in rotation-only mode
	betas   []float64 // B x 10, never optimized
	targets []float64 // B x V x 3 source surface
	anat    []float64 // B x 24 x 3 anatomical joint targets
	mask    []float64 // V per-vertex weights, torso-restricted in rotation-only mode
}

func (in lossInputs) validate(vertexCount int) error {
	b := in.frames
	if b < 1 {
		return errors.Errorf("batch size must be positive, got %d", b)
	}
	if len(in.poses) != b*body.NumPoseDOF {
		return errors.Errorf("poses length %d, want %d", len(in.poses), b*body.NumPoseDOF)
	}
	if len(in.betas) != b*body.NumBetas {
		return errors.Errorf("betas length %d, want %d", len(in.betas), b*body.NumBetas)
	}
	if len(in.targets) != b*vertexCount*3 {
		return errors.Errorf("targets length %d, want %d", len(in.targets), b*vertexCount*3)
	}
	if len(in.anat) != b*body.NumJoints*3 {
		return errors.Errorf("anat joints length %d, want %d", len(in.anat), b*body.NumJoints*3)
	}
	if len(in.mask) != vertexCount {
		return errors.Errorf("mask length %d, want %d", len(in.mask), vertexCount)
	}
	return nil
}

// lossGraph is a compiled objective for one batch: an expression graph with
// the forward model and every active loss term, its tape machine, and the
// symbolic gradients with respect to the free parameters. The free vector
// layout is translation rows followed by free pose rows.
type lossGraph struct {
	machine gorgonia.VM

	batch   int
	freeDim int

	poseNode  *gorgonia.Node
	transNode *gorgonia.Node
	poseBack  []float64
	transBack []float64
	poseT     *tensor.Dense
	transT    *tensor.Dense

	gradPose  *gorgonia.Node
	gradTrans *gorgonia.Node

	lossVal  gorgonia.Value
	termVals [termCount]gorgonia.Value
}

// buildLoss assembles the loss graph for one batch under cfg. Terms with a
// zero weight are left out of the graph entirely; the temporal term is
// additionally dropped for single-frame batches, where it has no meaning.
//
// In rotation-only mode only the three global orientation channels are free.
// The forward model then sees those channels concatenated with zeros, while
// the temporal term and the pose prior see them concatenated with the
// frozen stored values.
func buildLoss(fg *body.ForwardGraph, cfg Config, in lossInputs) (*lossGraph, error) {
	vertexCount := fg.VertexCount()
	if err := in.validate(vertexCount); err != nil {
		return nil, errors.Wrap(err, "fit: loss inputs")
	}

	batch := in.frames
	freeDim := body.NumPoseDOF
	if cfg.RotOnly() {
		freeDim = body.GlobalOrientChannels
	}

	g := gorgonia.NewGraph()
	b := body.NewBuilder(g)
	lg := &lossGraph{batch: batch, freeDim: freeDim}

	lg.poseNode = b.Input("pose_free", batch, freeDim)
	lg.transNode = b.Input("trans", batch, sequence.TransDim)
	betas := b.Const("betas", []int{batch, body.NumBetas}, in.betas)

	rawPose := lg.poseNode
	fkPose := lg.poseNode
	if restDim := body.NumPoseDOF - freeDim; restDim > 0 {
		frozen := make([]float64, batch*restDim)
		for f := 0; f < batch; f++ {
			copy(frozen[f*restDim:], in.poses[f*body.NumPoseDOF+freeDim:(f+1)*body.NumPoseDOF])
		}
		rawPose = b.Concat(1, lg.poseNode, b.Const("pose_frozen", []int{batch, restDim}, frozen))
		fkPose = b.Concat(1, lg.poseNode, b.Const("pose_zero", []int{batch, restDim}, make([]float64, batch*restDim)))
	}

	joints, skin := fg.Build(b, fkPose, betas, lg.transNode)

	target := b.Const("target_verts", []int{batch, vertexCount, 3}, in.targets)
	sq := b.Square(b.Sub(skin, target))

	var total *gorgonia.Node
	include := func(slot int, term *gorgonia.Node) {
		b.Read(term, &lg.termVals[slot])
		if total == nil {
			total = term
		} else {
			total = b.Add(total, term)
		}
	}

	if w := cfg.Weight(KeyLVerts); w != 0 {
		var denom float64
		for _, m := range in.mask {
			denom += m
		}
		if denom <= 0 {
			return nil, errors.New("fit: vertex mask sums to zero")
		}
		expanded := make([]float64, batch*vertexCount*3)
		for f := 0; f < batch; f++ {
			for v := 0; v < vertexCount; v++ {
				o := (f*vertexCount + v) * 3
				expanded[o] = in.mask[v]
				expanded[o+1] = in.mask[v]
				expanded[o+2] = in.mask[v]
			}
		}
		maskC := b.Const("vert_mask", []int{batch, vertexCount, 3}, expanded)
		include(termVerts, b.Mul(b.Scalar("w_verts", w/denom), b.Sum(b.Had(maskC, sq))))
	}

	if w := cfg.Weight(KeyLVertsLoose); w != 0 {
		include(termLoose, b.Mul(b.Scalar("w_loose", w), b.Mean(sq)))
	}

	if w := cfg.Weight(KeyLJoint); w != 0 {
		anatC := b.Const("anat_joints", []int{batch, body.NumJoints, 3}, in.anat)
		include(termJoint, b.Mul(b.Scalar("w_joint", w), b.Mean(b.Square(b.Sub(joints, anatC)))))
	}

	if w := cfg.Weight(KeyLTimeLoss); w != 0 && batch > 1 {
		d := b.Sub(b.SliceRows(rawPose, 1, batch), b.SliceRows(rawPose, 0, batch-1))
		include(termTime, b.Mul(b.Scalar("w_time", w), b.Mean(b.Square(d))))
	}

	frob := func(sel *gorgonia.Node) *gorgonia.Node {
		return b.Sqrt(b.Add(b.Sum(b.Square(sel)), b.Scalar("norm_eps", normEps)))
	}
	regFactor := cfg.Weight(KeyPoseRegFactor)
	if w := regFactor * cfg.Weight(KeyLScapula); w != 0 {
		sel := b.Mul(fkPose, b.Const("scapula_sel", []int{body.NumPoseDOF, len(body.ScapulaChannels)}, columnSelector(body.ScapulaChannels)))
		include(termScapula, b.Mul(b.Scalar("w_scapula", w), frob(sel)))
	}
	if w := regFactor * cfg.Weight(KeyLSpine); w != 0 {
		sel := b.Mul(fkPose, b.Const("spine_sel", []int{body.NumPoseDOF, len(body.SpineChannels)}, columnSelector(body.SpineChannels)))
		include(termSpine, b.Mul(b.Scalar("w_spine", w), frob(sel)))
	}
	if w := regFactor * cfg.Weight(KeyLPose); w != 0 {
		cols := make([]int, 0, body.NumPoseDOF-body.PosePriorStart)
		for c := body.PosePriorStart; c < body.NumPoseDOF; c++ {
			cols = append(cols, c)
		}
		sel := b.Mul(rawPose, b.Const("prior_sel", []int{body.NumPoseDOF, len(cols)}, columnSelector(cols)))
		include(termPose, b.Mul(b.Scalar("w_pose", w), frob(sel)))
	}

	if total == nil {
		return nil, errors.New("fit: every loss term is disabled")
	}
	b.Read(total, &lg.lossVal)
	if err := b.Err(); err != nil {
		return nil, errors.Wrap(err, "fit: assemble loss graph")
	}

	grads, err := gorgonia.Grad(total, lg.transNode, lg.poseNode)
	if err != nil {
		return nil, errors.Wrap(err, "fit: differentiate loss")
	}
	lg.gradTrans, lg.gradPose = grads[0], grads[1]

	lg.transBack = make([]float64, batch*sequence.TransDim)
	lg.poseBack = make([]float64, batch*freeDim)
	lg.transT = tensor.New(tensor.WithShape(batch, sequence.TransDim), tensor.WithBacking(lg.transBack))
	lg.poseT = tensor.New(tensor.WithShape(batch, freeDim), tensor.WithBacking(lg.poseBack))
	lg.machine = gorgonia.NewTapeMachine(g)
	return lg, nil
}

// columnSelector returns a 46 x len(cols) one-hot matrix that extracts the
// given pose channels by right-multiplication.
func columnSelector(cols []int) []float64 {
	sel := make([]float64, body.NumPoseDOF*len(cols))
	for j, c := range cols {
		sel[c*len(cols)+j] = 1
	}
	return sel
}

// dim returns the free-vector length: batch*3 translation entries followed
// by batch*freeDim pose entries.
func (lg *lossGraph) dim() int {
	return len(lg.transBack) + len(lg.poseBack)
}

// eval runs the compiled graph at x and returns the scalar loss and the
// per-term breakdown. When grad is non-nil it is filled with the gradient
// in the same layout as x. Non-finite losses or gradients are errors.
func (lg *lossGraph) eval(x, grad []float64) (float64, Breakdown, error) {
	if len(x) != lg.dim() {
		return 0, Breakdown{}, errors.Errorf("fit: parameter vector length %d, want %d", len(x), lg.dim())
	}
	copy(lg.transBack, x[:len(lg.transBack)])
	copy(lg.poseBack, x[len(lg.transBack):])
	if err := gorgonia.Let(lg.transNode, lg.transT); err != nil {
		return 0, Breakdown{}, errors.Wrap(err, "fit: bind trans")
	}
	if err := gorgonia.Let(lg.poseNode, lg.poseT); err != nil {
		return 0, Breakdown{}, errors.Wrap(err, "fit: bind pose")
	}
	if err := lg.machine.RunAll(); err != nil {
		lg.machine.Reset()
		return 0, Breakdown{}, errors.Wrap(err, "fit: evaluate loss graph")
	}

	loss := scalarOf(lg.lossVal)
	detail := Breakdown{
		Verts:   scalarOf(lg.termVals[termVerts]),
		Loose:   scalarOf(lg.termVals[termLoose]),
		Joint:   scalarOf(lg.termVals[termJoint]),
		Time:    scalarOf(lg.termVals[termTime]),
		Scapula: scalarOf(lg.termVals[termScapula]),
		Spine:   scalarOf(lg.termVals[termSpine]),
		Pose:    scalarOf(lg.termVals[termPose]),
	}
	var badGrad bool
	if grad != nil {
		gt := lg.gradTrans.Value().Data().([]float64)
		gp := lg.gradPose.Value().Data().([]float64)
		copy(grad, gt)
		copy(grad[len(gt):], gp)
		for _, v := range grad {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				badGrad = true
				break
			}
		}
	}
	lg.machine.Reset()

	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return loss, detail, errors.Errorf("fit: non-finite loss %v", loss)
	}
	if badGrad {
		return loss, detail, errors.New("fit: non-finite gradient")
	}
	return loss, detail, nil
}

// Close releases the tape machine.
func (lg *lossGraph) Close() error {
	if lg.machine != nil {
		if err := lg.machine.Close(); err != nil {
			return errors.Wrap(err, "fit: close machine")
		}
		lg.machine = nil
	}
	return nil
}

func scalarOf(v gorgonia.Value) float64 {
	if v == nil {
		return 0
	}
	switch d := v.Data().(type) {
	case float64:
		return d
	case []float64:
		if len(d) > 0 {
			return d[0]
		}
	}
	return 0
}
