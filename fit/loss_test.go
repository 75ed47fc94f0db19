package fit

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mocap-ai/go-skelfit/body"
)

func newTestGraph(t *testing.T) *body.ForwardGraph {
	t.Helper()
	model, err := body.NewSKEL(body.SyntheticArtifacts())
	require.NoError(t, err)
	fg, err := body.NewForwardGraph(model)
	require.NoError(t, err)
	return fg
}

// zeroInputs returns loss inputs for a zero-pose batch whose targets equal
// the unshaped template, so every vertex residual starts at zero.
func zeroInputs(fg *body.ForwardGraph, frames int) lossInputs {
	v := fg.VertexCount()
	template := fg.Model().Artifacts().Template
	targets := make([]float64, frames*v*3)
	for f := 0; f < frames; f++ {
		copy(targets[f*v*3:], template)
	}
	mask := make([]float64, v)
	for i := range mask {
		mask[i] = 1
	}
	return lossInputs{
		frames:  frames,
		poses:   make([]float64, frames*body.NumPoseDOF),
		betas:   make([]float64, frames*body.NumBetas),
		targets: targets,
		anat:    make([]float64, frames*body.NumJoints*3),
		mask:    mask,
	}
}

func restJoints(t *testing.T, fg *body.ForwardGraph, frames int) []float64 {
	t.Helper()
	res, err := fg.Model().Forward(
		make([]float64, frames*body.NumPoseDOF),
		make([]float64, frames*body.NumBetas),
		make([]float64, frames*3),
		frames, body.ForwardOptions{},
	)
	require.NoError(t, err)
	return res.Joints
}

func TestBuildLossValidation(t *testing.T) {
	fg := newTestGraph(t)
	cfg := Config{KeyLVerts: 0.1}

	t.Run("bad mask length", func(t *testing.T) {
		in := zeroInputs(fg, 1)
		in.mask = in.mask[:3]
		_, err := buildLoss(fg, cfg, in)
		assert.Error(t, err)
	})

	t.Run("zero mask", func(t *testing.T) {
		in := zeroInputs(fg, 1)
		for i := range in.mask {
			in.mask[i] = 0
		}
		_, err := buildLoss(fg, cfg, in)
		assert.Error(t, err)
	})

	t.Run("no active terms", func(t *testing.T) {
		_, err := buildLoss(fg, Config{}, zeroInputs(fg, 1))
		assert.Error(t, err)
	})

	t.Run("no frames", func(t *testing.T) {
		in := zeroInputs(fg, 1)
		in.frames = 0
		_, err := buildLoss(fg, cfg, in)
		assert.Error(t, err)
	})
}

func TestMaskedVertexTermValue(t *testing.T) {
	fg := newTestGraph(t)
	v := fg.VertexCount()

	in := zeroInputs(fg, 1)
	const delta = 0.2
	in.targets[0] += delta // vertex 0, x coordinate

	lg, err := buildLoss(fg, Config{KeyLVerts: 0.1}, in)
	require.NoError(t, err)
	defer lg.Close()

	x := make([]float64, lg.dim())
	loss, detail, err := lg.eval(x, nil)
	require.NoError(t, err)

	want := 0.1 * delta * delta / float64(v)
	assert.InDelta(t, want, detail.Verts, 1e-12)
	assert.InDelta(t, want, loss, 1e-12)
	assert.Zero(t, detail.Loose)
	assert.Zero(t, detail.Joint)
	assert.Zero(t, detail.Time)
}

func TestLooseAndJointTermValues(t *testing.T) {
	fg := newTestGraph(t)

	in := zeroInputs(fg, 1)
	for i := range in.targets {
		in.targets[i] += 0.1
	}
	rest := restJoints(t, fg, 1)
	copy(in.anat, rest)
	for i := range in.anat {
		in.anat[i] += 0.2
	}

	lg, err := buildLoss(fg, Config{KeyLVertsLoose: 2, KeyLJoint: 3}, in)
	require.NoError(t, err)
	defer lg.Close()

	loss, detail, err := lg.eval(make([]float64, lg.dim()), nil)
	require.NoError(t, err)

	assert.InDelta(t, 2*0.01, detail.Loose, 1e-12)
	assert.InDelta(t, 3*0.04, detail.Joint, 1e-12)
	assert.InDelta(t, detail.Loose+detail.Joint, loss, 1e-12)
}

func TestTemporalTermOnlyForMultiFrameBatches(t *testing.T) {
	fg := newTestGraph(t)
	cfg := Config{KeyLVerts: 0.1, KeyLTimeLoss: 0.5}

	t.Run("single frame has no temporal term", func(t *testing.T) {
		lg, err := buildLoss(fg, cfg, zeroInputs(fg, 1))
		require.NoError(t, err)
		defer lg.Close()
		_, detail, err := lg.eval(make([]float64, lg.dim()), nil)
		require.NoError(t, err)
		assert.Zero(t, detail.Time)
	})

	t.Run("two frames penalize pose differences", func(t *testing.T) {
		lg, err := buildLoss(fg, cfg, zeroInputs(fg, 2))
		require.NoError(t, err)
		defer lg.Close()

		// Second frame's pose channels all at 0.1, first at zero.
		x := make([]float64, lg.dim())
		poseOff := 2 * 3
		for c := 0; c < body.NumPoseDOF; c++ {
			x[poseOff+body.NumPoseDOF+c] = 0.1
		}
		_, detail, err := lg.eval(x, nil)
		require.NoError(t, err)
		assert.InDelta(t, 0.5*0.01, detail.Time, 1e-12)
	})
}

func TestRotOnlyFrozenChannels(t *testing.T) {
	fg := newTestGraph(t)

	t.Run("frozen values do not reach the forward model", func(t *testing.T) {
		cfg := Config{KeyLVerts: 0.1, KeyRotOnly: 1}
		inA := zeroInputs(fg, 1)
		inB := zeroInputs(fg, 1)
		for c := body.GlobalOrientChannels; c < body.NumPoseDOF; c++ {
			inA.poses[c] = 0.5
			inB.poses[c] = 0.9
		}

		lgA, err := buildLoss(fg, cfg, inA)
		require.NoError(t, err)
		defer lgA.Close()
		lgB, err := buildLoss(fg, cfg, inB)
		require.NoError(t, err)
		defer lgB.Close()

		x := make([]float64, lgA.dim())
		lossA, _, err := lgA.eval(x, nil)
		require.NoError(t, err)
		lossB, _, err := lgB.eval(x, nil)
		require.NoError(t, err)
		assert.Equal(t, lossA, lossB)
	})

	t.Run("frozen values do reach the temporal term", func(t *testing.T) {
		cfg := Config{KeyLVerts: 0.1, KeyLTimeLoss: 1, KeyRotOnly: 1}
		in := zeroInputs(fg, 2)
		// Channel 10 differs by 0.3 between the two stored rows.
		in.poses[body.NumPoseDOF+10] = 0.3

		lg, err := buildLoss(fg, cfg, in)
		require.NoError(t, err)
		defer lg.Close()

		_, detail, err := lg.eval(make([]float64, lg.dim()), nil)
		require.NoError(t, err)
		assert.InDelta(t, 0.3*0.3/float64(body.NumPoseDOF), detail.Time, 1e-12)
	})
}

func TestAnatomicalRegularizerValues(t *testing.T) {
	fg := newTestGraph(t)
	cfg := Config{
		KeyLVerts:        0.1,
		KeyLScapula:      0.5,
		KeyLSpine:        0.25,
		KeyLPose:         0.1,
		KeyPoseRegFactor: 10,
	}

	lg, err := buildLoss(fg, cfg, zeroInputs(fg, 1))
	require.NoError(t, err)
	defer lg.Close()

	x := make([]float64, lg.dim())
	x[3+20] = 0.2 // thorax bending, a spine channel
	x[3+26] = 0.3 // scapula abduction
	_, detail, err := lg.eval(x, nil)
	require.NoError(t, err)

	assert.InDelta(t, 10*0.5*0.3, detail.Scapula, 1e-9)
	assert.InDelta(t, 10*0.25*0.2, detail.Spine, 1e-9)
	assert.InDelta(t, 10*0.1*math.Sqrt(0.2*0.2+0.3*0.3), detail.Pose, 1e-9)
}

func TestRegularizersDifferentiableAtZeroPose(t *testing.T) {
	fg := newTestGraph(t)
	cfg := Config{KeyLVerts: 0.1, KeyLPose: 1e-4, KeyPoseRegFactor: 10}

	lg, err := buildLoss(fg, cfg, zeroInputs(fg, 1))
	require.NoError(t, err)
	defer lg.Close()

	grad := make([]float64, lg.dim())
	_, _, err = lg.eval(make([]float64, lg.dim()), grad)
	require.NoError(t, err)
	for i, g := range grad {
		assert.False(t, math.IsNaN(g) || math.IsInf(g, 0), "grad[%d] = %v", i, g)
	}
}

func TestEvaluatorMemoizesPoint(t *testing.T) {
	fg := newTestGraph(t)
	in := zeroInputs(fg, 1)
	in.targets[0] += 0.2

	lg, err := buildLoss(fg, Config{KeyLVerts: 0.1}, in)
	require.NoError(t, err)
	defer lg.Close()

	ev := newEvaluator(lg)
	x := make([]float64, lg.dim())
	grad := make([]float64, lg.dim())

	ev.Func(x)
	ev.Grad(grad, x)
	assert.Equal(t, 1, ev.evals, "value and gradient at one point share a run")

	x[0] = 0.01
	ev.Func(x)
	assert.Equal(t, 2, ev.evals)
}

func TestOptimizeBatchReducesLoss(t *testing.T) {
	fg := newTestGraph(t)
	model := fg.Model()

	// Target surface: zero pose translated by 0.2 along x.
	frames := 1
	trans := []float64{0.2, 0, 0}
	res, err := model.Forward(
		make([]float64, frames*body.NumPoseDOF),
		make([]float64, frames*body.NumBetas),
		trans, frames, body.ForwardOptions{},
	)
	require.NoError(t, err)

	in := zeroInputs(fg, frames)
	copy(in.targets, res.SkinVerts)

	cfg := Config{KeyLVerts: 0.1, KeyRotOnly: 1, KeyNumSteps: 3, KeyMaxIter: 8, KeyLR: 1}
	lg, err := buildLoss(fg, cfg, in)
	require.NoError(t, err)
	defer lg.Close()

	x := make([]float64, lg.dim())
	initial, _, err := lg.eval(x, nil)
	require.NoError(t, err)
	require.Greater(t, initial, 0.0)

	var steps int
	final, _, err := optimizeBatch(lg, cfg, x, func(step, numSteps int, loss float64, detail Breakdown) {
		steps++
		assert.Equal(t, 3, numSteps)
	})
	require.NoError(t, err)
	assert.Equal(t, 3, steps)
	assert.Less(t, final, initial/10)
	assert.InDelta(t, 0.2, x[0], 1e-2, "translation should recover the target offset")
	assert.InDelta(t, 0.0, x[1], 1e-2)
	assert.InDelta(t, 0.0, x[2], 1e-2)
}

func TestPackUnpackParams(t *testing.T) {
	frames := 2
	poses := make([]float64, frames*body.NumPoseDOF)
	for i := range poses {
		poses[i] = float64(i) * 0.01
	}
	trans := []float64{1, 2, 3, 4, 5, 6}

	t.Run("full", func(t *testing.T) {
		x := packParams(trans, poses, frames, false)
		assert.Len(t, x, frames*(3+body.NumPoseDOF))

		outP := make([]float64, len(poses))
		outT := make([]float64, len(trans))
		unpackParams(x, outT, outP, frames, false)
		assert.Equal(t, trans, outT)
		assert.Equal(t, poses, outP)
	})

	t.Run("rotation only leaves body channels alone", func(t *testing.T) {
		x := packParams(trans, poses, frames, true)
		assert.Len(t, x, frames*(3+body.GlobalOrientChannels))

		outP := make([]float64, len(poses))
		for i := range outP {
			outP[i] = -1
		}
		outT := make([]float64, len(trans))
		unpackParams(x, outT, outP, frames, true)
		assert.Equal(t, trans, outT)
		for f := 0; f < frames; f++ {
			row := outP[f*body.NumPoseDOF : (f+1)*body.NumPoseDOF]
			for c := 0; c < body.NumPoseDOF; c++ {
				if c < body.GlobalOrientChannels {
					assert.Equal(t, poses[f*body.NumPoseDOF+c], row[c])
				} else {
					assert.Equal(t, -1.0, row[c])
				}
			}
		}
	})
}

func BenchmarkLossEval(b *testing.B) {
	model, err := body.NewSKEL(body.SyntheticArtifacts())
	if err != nil {
		b.Fatal(err)
	}
	fg, err := body.NewForwardGraph(model)
	if err != nil {
		b.Fatal(err)
	}
	in := zeroInputs(fg, 8)
	lg, err := buildLoss(fg, WarmStart().Merge(Refine()), in)
	if err != nil {
		b.Fatal(err)
	}
	defer lg.Close()

	x := make([]float64, lg.dim())
	grad := make([]float64, lg.dim())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := lg.eval(x, grad); err != nil {
			b.Fatal(err)
		}
	}
}
