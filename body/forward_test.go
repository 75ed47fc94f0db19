package body

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForwardZeroPoseIsTemplate(t *testing.T) {
	art := SyntheticArtifacts()
	model, err := NewSKEL(art)
	require.NoError(t, err)

	poses := make([]float64, NumPoseDOF)
	betas := make([]float64, NumBetas)
	trans := make([]float64, 3)

	res, err := model.Forward(poses, betas, trans, 1, ForwardOptions{})
	require.NoError(t, err)

	for i := range art.Template {
		assert.InDelta(t, art.Template[i], res.SkinVerts[i], 1e-12)
	}

	// Rest joints come straight from the regressor at zero pose.
	for j := 0; j < NumJoints; j++ {
		for c := 0; c < 3; c++ {
			assert.InDelta(t, restJointTable[j][c], res.Joints[j*3+c], 1e-12)
		}
	}
	assert.Nil(t, res.SkelVerts, "skeleton mesh is opt-in")
}

func TestForwardTranslationShiftsEverything(t *testing.T) {
	model, err := NewSKEL(SyntheticArtifacts())
	require.NoError(t, err)

	poses := make([]float64, NumPoseDOF)
	betas := make([]float64, NumBetas)
	base, err := model.Forward(poses, betas, make([]float64, 3), 1, ForwardOptions{})
	require.NoError(t, err)

	moved, err := model.Forward(poses, betas, []float64{0.5, -1, 2}, 1, ForwardOptions{})
	require.NoError(t, err)

	for vi := 0; vi < model.Artifacts().VertexCount; vi++ {
		assert.InDelta(t, base.SkinVerts[vi*3]+0.5, moved.SkinVerts[vi*3], 1e-12)
		assert.InDelta(t, base.SkinVerts[vi*3+1]-1, moved.SkinVerts[vi*3+1], 1e-12)
		assert.InDelta(t, base.SkinVerts[vi*3+2]+2, moved.SkinVerts[vi*3+2], 1e-12)
	}
	for j := 0; j < NumJoints; j++ {
		assert.InDelta(t, base.Joints[j*3]+0.5, moved.Joints[j*3], 1e-12)
	}
}

// A rotation on the global-orientation channels is rigid: pairwise
// distances between vertices are preserved.
func TestForwardGlobalRotationIsRigid(t *testing.T) {
	model, err := NewSKEL(SyntheticArtifacts())
	require.NoError(t, err)

	betas := make([]float64, NumBetas)
	trans := make([]float64, 3)

	zero := make([]float64, NumPoseDOF)
	base, err := model.Forward(zero, betas, trans, 1, ForwardOptions{})
	require.NoError(t, err)

	rot := make([]float64, NumPoseDOF)
	rot[0], rot[1], rot[2] = 0.4, -0.2, 0.7
	posed, err := model.Forward(rot, betas, trans, 1, ForwardOptions{})
	require.NoError(t, err)

	v := model.Artifacts().VertexCount
	dist := func(verts []float64, a, b int) float64 {
		dx := verts[a*3] - verts[b*3]
		dy := verts[a*3+1] - verts[b*3+1]
		dz := verts[a*3+2] - verts[b*3+2]
		return math.Sqrt(dx*dx + dy*dy + dz*dz)
	}
	for _, pair := range [][2]int{{0, v - 1}, {1, v / 2}, {3, v / 3}} {
		assert.InDelta(t, dist(base.SkinVerts, pair[0], pair[1]), dist(posed.SkinVerts, pair[0], pair[1]), 1e-9)
	}

	// And it must actually move something.
	var moved float64
	for i := range base.SkinVerts {
		moved += math.Abs(base.SkinVerts[i] - posed.SkinVerts[i])
	}
	assert.Greater(t, moved, 0.1)
}

func TestForwardBetasChangeShape(t *testing.T) {
	model, err := NewSKEL(SyntheticArtifacts())
	require.NoError(t, err)

	poses := make([]float64, NumPoseDOF)
	trans := make([]float64, 3)

	base, err := model.Forward(poses, make([]float64, NumBetas), trans, 1, ForwardOptions{})
	require.NoError(t, err)

	betas := make([]float64, NumBetas)
	betas[0] = 1.5
	shaped, err := model.Forward(poses, betas, trans, 1, ForwardOptions{})
	require.NoError(t, err)

	var diff float64
	for i := range base.SkinVerts {
		diff += math.Abs(base.SkinVerts[i] - shaped.SkinVerts[i])
	}
	assert.Greater(t, diff, 0.01, "beta 0 must displace the surface")
}

func TestForwardSkelMesh(t *testing.T) {
	model, err := NewSKEL(SyntheticArtifacts())
	require.NoError(t, err)

	poses := make([]float64, 2*NumPoseDOF)
	betas := make([]float64, 2*NumBetas)
	trans := make([]float64, 2*3)

	res, err := model.Forward(poses, betas, trans, 2, ForwardOptions{SkelMesh: true})
	require.NoError(t, err)
	require.Len(t, res.SkelVerts, 2*SyntheticSkelVertexCount*3)

	for i := range model.Artifacts().SkelTemplate {
		assert.InDelta(t, model.Artifacts().SkelTemplate[i], res.SkelVerts[i], 1e-12)
	}
}

func TestForwardValidation(t *testing.T) {
	model, err := NewSKEL(SyntheticArtifacts())
	require.NoError(t, err)

	poses := make([]float64, NumPoseDOF)
	betas := make([]float64, NumBetas)
	trans := make([]float64, 3)

	tests := []struct {
		name string
		call func() error
	}{
		{"zero frames", func() error {
			_, err := model.Forward(poses, betas, trans, 0, ForwardOptions{})
			return err
		}},
		{"short poses", func() error {
			_, err := model.Forward(poses[:10], betas, trans, 1, ForwardOptions{})
			return err
		}},
		{"short betas", func() error {
			_, err := model.Forward(poses, betas[:3], trans, 1, ForwardOptions{})
			return err
		}},
		{"short trans", func() error {
			_, err := model.Forward(poses, betas, trans[:2], 1, ForwardOptions{})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.call())
		})
	}
}

func TestChannelTablesAreConsistent(t *testing.T) {
	// Every joint must be driven by at least one channel, and channel
	// joints must be valid.
	var covered [NumJoints]bool
	for c, j := range ChannelJoint {
		require.GreaterOrEqual(t, j, 0, "channel %d", c)
		require.Less(t, j, NumJoints, "channel %d", c)
		covered[j] = true
	}
	for j, ok := range covered {
		assert.True(t, ok, "joint %d (%s) has no pose channel", j, JointNames[j])
	}

	axes := DefaultChannelAxes()
	require.Len(t, axes, NumPoseDOF*3)
	for c := 0; c < NumPoseDOF; c++ {
		norm := math.Sqrt(axes[c*3]*axes[c*3] + axes[c*3+1]*axes[c*3+1] + axes[c*3+2]*axes[c*3+2])
		assert.InDelta(t, 1.0, norm, 1e-12, "axis %d (%s) must be unit", c, PoseParamNames[c])
	}

	// Parents precede children so a single forward walk is valid.
	for j := 1; j < NumJoints; j++ {
		assert.Less(t, JointParent[j], j)
	}
}
