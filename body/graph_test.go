package body

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func testPoseBatch(batch int) (poses, betas, trans []float64) {
	poses = make([]float64, batch*NumPoseDOF)
	betas = make([]float64, batch*NumBetas)
	trans = make([]float64, batch*3)
	for f := 0; f < batch; f++ {
		for c := 0; c < NumPoseDOF; c++ {
			poses[f*NumPoseDOF+c] = 0.25 * math.Sin(0.37*float64(c)+0.9*float64(f)+1)
		}
		for k := 0; k < NumBetas; k++ {
			betas[f*NumBetas+k] = 0.2 * math.Cos(0.53*float64(k)+float64(f))
		}
		trans[f*3] = 0.1 * float64(f)
		trans[f*3+1] = -0.05 * float64(f)
		trans[f*3+2] = 0.02
	}
	return poses, betas, trans
}

func letBatch(t *testing.T, pose, betas, trans *gorgonia.Node, batch int, p, bt, tr []float64) {
	t.Helper()
	require.NoError(t, gorgonia.Let(pose, tensor.New(tensor.WithShape(batch, NumPoseDOF), tensor.WithBacking(p))))
	require.NoError(t, gorgonia.Let(betas, tensor.New(tensor.WithShape(batch, NumBetas), tensor.WithBacking(bt))))
	require.NoError(t, gorgonia.Let(trans, tensor.New(tensor.WithShape(batch, 3), tensor.WithBacking(tr))))
}

// The graph pipeline and the plain forward pass are two renderings of the
// same math and must agree to numerical precision.
func TestForwardGraphMatchesPlainForward(t *testing.T) {
	model, err := NewSKEL(SyntheticArtifacts())
	require.NoError(t, err)
	fg, err := NewForwardGraph(model)
	require.NoError(t, err)

	const batch = 3
	g := gorgonia.NewGraph()
	b := NewBuilder(g)
	pose := b.Input("pose", batch, NumPoseDOF)
	betas := b.Input("betas", batch, NumBetas)
	trans := b.Input("trans", batch, 3)

	joints, skin := fg.Build(b, pose, betas, trans)
	require.NoError(t, b.Err())
	require.NotNil(t, joints)
	require.NotNil(t, skin)

	p, bt, tr := testPoseBatch(batch)
	letBatch(t, pose, betas, trans, batch, p, bt, tr)

	m := gorgonia.NewTapeMachine(g)
	defer m.Close()
	require.NoError(t, m.RunAll())

	want, err := model.Forward(p, bt, tr, batch, ForwardOptions{})
	require.NoError(t, err)

	gotJoints := joints.Value().Data().([]float64)
	require.Len(t, gotJoints, len(want.Joints))
	for i := range want.Joints {
		assert.InDelta(t, want.Joints[i], gotJoints[i], 1e-9, "joint value %d", i)
	}

	gotSkin := skin.Value().Data().([]float64)
	require.Len(t, gotSkin, len(want.SkinVerts))
	for i := range want.SkinVerts {
		assert.InDelta(t, want.SkinVerts[i], gotSkin[i], 1e-9, "skin value %d", i)
	}
}

// Gradients must flow from a scalar of the skin surface back to every
// free parameter.
func TestForwardGraphGradients(t *testing.T) {
	model, err := NewSKEL(SyntheticArtifacts())
	require.NoError(t, err)
	fg, err := NewForwardGraph(model)
	require.NoError(t, err)

	const batch = 2
	g := gorgonia.NewGraph()
	b := NewBuilder(g)
	pose := b.Input("pose", batch, NumPoseDOF)
	betas := b.Input("betas", batch, NumBetas)
	trans := b.Input("trans", batch, 3)

	_, skin := fg.Build(b, pose, betas, trans)
	cost := b.Mean(b.Square(skin))
	require.NoError(t, b.Err())

	grads, err := gorgonia.Grad(cost, pose, trans)
	require.NoError(t, err)
	require.Len(t, grads, 2)

	p, bt, tr := testPoseBatch(batch)
	letBatch(t, pose, betas, trans, batch, p, bt, tr)

	m := gorgonia.NewTapeMachine(g)
	defer m.Close()
	require.NoError(t, m.RunAll())

	gPose := grads[0].Value().Data().([]float64)
	require.Len(t, gPose, batch*NumPoseDOF)
	gTrans := grads[1].Value().Data().([]float64)
	require.Len(t, gTrans, batch*3)

	var poseNorm, transNorm float64
	for _, v := range gPose {
		require.False(t, math.IsNaN(v) || math.IsInf(v, 0), "pose gradient not finite")
		poseNorm += v * v
	}
	for _, v := range gTrans {
		require.False(t, math.IsNaN(v) || math.IsInf(v, 0), "trans gradient not finite")
		transNorm += v * v
	}
	assert.Greater(t, poseNorm, 0.0, "no gradient reached the pose")
	assert.Greater(t, transNorm, 0.0, "no gradient reached the translation")
}

// Re-running the machine with new inputs after Reset must track the new
// values; the optimizer depends on this loop.
func TestForwardGraphReRun(t *testing.T) {
	model, err := NewSKEL(SyntheticArtifacts())
	require.NoError(t, err)
	fg, err := NewForwardGraph(model)
	require.NoError(t, err)

	const batch = 1
	g := gorgonia.NewGraph()
	b := NewBuilder(g)
	pose := b.Input("pose", batch, NumPoseDOF)
	betas := b.Input("betas", batch, NumBetas)
	trans := b.Input("trans", batch, 3)

	_, skin := fg.Build(b, pose, betas, trans)
	require.NoError(t, b.Err())

	m := gorgonia.NewTapeMachine(g)
	defer m.Close()

	p := make([]float64, NumPoseDOF)
	bt := make([]float64, NumBetas)
	tr := make([]float64, 3)
	letBatch(t, pose, betas, trans, batch, p, bt, tr)
	require.NoError(t, m.RunAll())
	first := append([]float64(nil), skin.Value().Data().([]float64)...)

	m.Reset()
	tr2 := []float64{1, 2, 3}
	letBatch(t, pose, betas, trans, batch, p, bt, tr2)
	require.NoError(t, m.RunAll())
	second := skin.Value().Data().([]float64)

	for vi := 0; vi < model.Artifacts().VertexCount; vi++ {
		assert.InDelta(t, first[vi*3]+1, second[vi*3], 1e-12)
		assert.InDelta(t, first[vi*3+1]+2, second[vi*3+1], 1e-12)
		assert.InDelta(t, first[vi*3+2]+3, second[vi*3+2], 1e-12)
	}
}

func BenchmarkForwardGraph(b *testing.B) {
	model, err := NewSKEL(SyntheticArtifacts())
	if err != nil {
		b.Fatal(err)
	}
	fg, err := NewForwardGraph(model)
	if err != nil {
		b.Fatal(err)
	}

	const batch = 8
	g := gorgonia.NewGraph()
	bld := NewBuilder(g)
	pose := bld.Input("pose", batch, NumPoseDOF)
	betas := bld.Input("betas", batch, NumBetas)
	trans := bld.Input("trans", batch, 3)
	_, skin := fg.Build(bld, pose, betas, trans)
	if bld.Err() != nil || skin == nil {
		b.Fatal(bld.Err())
	}

	p, bt, tr := testPoseBatch(batch)
	if err := gorgonia.Let(pose, tensor.New(tensor.WithShape(batch, NumPoseDOF), tensor.WithBacking(p))); err != nil {
		b.Fatal(err)
	}
	if err := gorgonia.Let(betas, tensor.New(tensor.WithShape(batch, NumBetas), tensor.WithBacking(bt))); err != nil {
		b.Fatal(err)
	}
	if err := gorgonia.Let(trans, tensor.New(tensor.WithShape(batch, 3), tensor.WithBacking(tr))); err != nil {
		b.Fatal(err)
	}

	m := gorgonia.NewTapeMachine(g)
	defer m.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := m.RunAll(); err != nil {
			b.Fatal(err)
		}
		m.Reset()
	}
}
