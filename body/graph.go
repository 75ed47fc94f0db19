package body

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// ForwardGraph emits the skeleton model's forward pass as a gorgonia
// expression graph, batched over the frame dimension and differentiable
// end to end with respect to pose, betas, and translation. The expensive
// artifact rearrangements (transposed shape basis, regressed rest rows)
// are done once at construction and shared by every emitted graph.
//
// The pipeline mirrors SKEL.Forward exactly: shaped template and rest
// joints as affine functions of betas, one fixed-axis Rodrigues rotation
// per pose channel, per-joint channel products, kinematic-tree
// accumulation, then linear blend skinning, expressed with batched
// matrix products so a whole batch is a single machine run.
type ForwardGraph struct {
	model *SKEL

	tmplRow    []float64 // 1 x V*3 template
	shapeDirsT []float64 // NumBetas x V*3
	restRow    []float64 // 1 x NumJoints*3 rest joints of the unshaped template
	jointDirs  []float64 // NumBetas x NumJoints*3 rest-joint shape response
	weightCols [NumJoints][]float64
}

// NewForwardGraph precomputes the host-side matrices for a model.
func NewForwardGraph(model *SKEL) (*ForwardGraph, error) {
	if model == nil {
		return nil, errors.New("body: nil model")
	}
	art := model.art
	v := art.VertexCount

	fg := &ForwardGraph{
		model:      model,
		tmplRow:    make([]float64, v*3),
		shapeDirsT: make([]float64, NumBetas*v*3),
		restRow:    make([]float64, NumJoints*3),
		jointDirs:  make([]float64, NumBetas*NumJoints*3),
	}
	copy(fg.tmplRow, art.Template)
	for k := 0; k < NumBetas; k++ {
		for i := 0; i < v*3; i++ {
			fg.shapeDirsT[k*v*3+i] = art.ShapeDirs[i*NumBetas+k]
		}
	}
	regressJoints(art.JointRegressor, art.Template, v, fg.restRow)

	dir := make([]float64, v*3)
	for k := 0; k < NumBetas; k++ {
		for i := 0; i < v*3; i++ {
			dir[i] = art.ShapeDirs[i*NumBetas+k]
		}
		regressJoints(art.JointRegressor, dir, v, fg.jointDirs[k*NumJoints*3:(k+1)*NumJoints*3])
	}
	for j := 0; j < NumJoints; j++ {
		col := make([]float64, v)
		for vi := 0; vi < v; vi++ {
			col[vi] = art.Weights[vi*NumJoints+j]
		}
		fg.weightCols[j] = col
	}
	return fg, nil
}

// Model returns the wrapped skeleton model.
func (fg *ForwardGraph) Model() *SKEL {
	return fg.model
}

// VertexCount returns the skin vertex count V.
func (fg *ForwardGraph) VertexCount() int {
	return fg.model.art.VertexCount
}

// Build emits the forward pipeline into b. pose must be (B, NumPoseDOF),
// betas (B, NumBetas), trans (B, 3); the batch size B is taken from pose.
// Returns world-space joints (B, NumJoints, 3) and skin vertices
// (B, V, 3), both including the translation. Check b.Err after building.
func (fg *ForwardGraph) Build(b *Builder, pose, betas, trans *gorgonia.Node) (joints, skin *gorgonia.Node) {
	if b.Err() != nil || pose == nil || betas == nil || trans == nil {
		b.Failf("body: forward graph needs pose, betas, and trans nodes")
		return nil, nil
	}
	batch := pose.Shape()[0]
	if got := pose.Shape()[1]; got != NumPoseDOF {
		b.Failf("body: pose node has %d channels, want %d", got, NumPoseDOF)
		return nil, nil
	}
	v := fg.model.art.VertexCount

	onesB := b.Ones(batch)
	tmplC := b.Const("template_row", []int{1, v * 3}, fg.tmplRow)
	sdT := b.Const("shapedirs_t", []int{NumBetas, v * 3}, fg.shapeDirsT)
	restC := b.Const("rest_row", []int{1, NumJoints * 3}, fg.restRow)
	jdC := b.Const("joint_dirs", []int{NumBetas, NumJoints * 3}, fg.jointDirs)

	// Shaped template and rest joints are affine in betas.
	vShaped := b.Add(b.Mul(onesB, tmplC), b.Mul(betas, sdT)) // (B, V*3)
	restJ := b.Add(b.Mul(onesB, restC), b.Mul(betas, jdC))   // (B, J*3)
	vs3 := b.Reshape(vShaped, batch, v, 3)

	// Per-axis coordinate planes of the shaped template.
	var vsAxis [3]*gorgonia.Node
	for a := 0; a < 3; a++ {
		sel := b.Const(fmt.Sprintf("axis_col_%d", a), []int{batch, 3, 1}, axisColumn(batch, a))
		vsAxis[a] = b.Reshape(b.BMM(vs3, sel), batch, v)
	}

	chanRot := fg.channelRotations(b, pose, onesB, batch)

	// Per-joint local rotations: the joint's channels compose in order.
	var local [NumJoints]*gorgonia.Node
	for j := 0; j < NumJoints; j++ {
		for _, c := range fg.model.channels[j] {
			if local[j] == nil {
				local[j] = chanRot[c]
			} else {
				local[j] = b.BMM(local[j], chanRot[c])
			}
		}
	}

	// Kinematic tree walk.
	var worldR, w9 [NumJoints]*gorgonia.Node
	var worldP, restPos, skinT [NumJoints]*gorgonia.Node
	for j := 0; j < NumJoints; j++ {
		restPos[j] = b.Mul(restJ, b.Const(fmt.Sprintf("rest_sel_%d", j), []int{NumJoints * 3, 3}, jointSelector(j)))
		parent := JointParent[j]
		if parent < 0 {
			worldR[j] = local[j]
			worldP[j] = restPos[j]
		} else {
			worldR[j] = b.BMM(worldR[parent], local[j])
			offSel := b.Const(fmt.Sprintf("off_sel_%d", j), []int{NumJoints * 3, 3}, jointOffsetSelector(j, parent))
			off := b.Reshape(b.Mul(restJ, offSel), batch, 3, 1)
			worldP[j] = b.Add(worldP[parent], b.Reshape(b.BMM(worldR[parent], off), batch, 3))
		}
		rot := b.BMM(worldR[j], b.Reshape(restPos[j], batch, 3, 1))
		skinT[j] = b.Sub(worldP[j], b.Reshape(rot, batch, 3))
		w9[j] = b.Reshape(worldR[j], batch, 9)
	}

	// Blend skinning, one coordinate plane at a time.
	var elemSel [9]*gorgonia.Node
	for i := 0; i < 9; i++ {
		elemSel[i] = b.Const(fmt.Sprintf("elem_sel_%d", i), []int{9, 1}, oneHotCol(9, i))
	}
	var axSel [3]*gorgonia.Node
	for a := 0; a < 3; a++ {
		axSel[a] = b.Const(fmt.Sprintf("trans_sel_%d", a), []int{3, 1}, oneHotCol(3, a))
	}
	var wRow [NumJoints]*gorgonia.Node
	for j := 0; j < NumJoints; j++ {
		wRow[j] = b.Const(fmt.Sprintf("weight_row_%d", j), []int{1, v}, fg.weightCols[j])
	}

	var planes [3]*gorgonia.Node
	for a := 0; a < 3; a++ {
		var acc *gorgonia.Node
		for j := 0; j < NumJoints; j++ {
			term := b.Mul(b.Mul(skinT[j], axSel[a]), wRow[j]) // (B, V)
			for c := 0; c < 3; c++ {
				elem := b.Mul(w9[j], elemSel[a*3+c]) // (B, 1)
				term = b.Add(term, b.Had(b.Mul(elem, wRow[j]), vsAxis[c]))
			}
			if acc == nil {
				acc = term
			} else {
				acc = b.Add(acc, term)
			}
		}
		planes[a] = b.Reshape(acc, batch, v, 1)
	}

	transRow := b.Reshape(trans, batch, 1, 3)
	skin = b.Concat(2, planes[0], planes[1], planes[2])
	skin = b.BroadcastAddAxis1(skin, transRow)

	jointRows := make([]*gorgonia.Node, NumJoints)
	for j := 0; j < NumJoints; j++ {
		jointRows[j] = b.Reshape(worldP[j], batch, 1, 3)
	}
	joints = b.Concat(1, jointRows...)
	joints = b.BroadcastAddAxis1(joints, transRow)
	return joints, skin
}

// channelRotations emits one Rodrigues rotation (B, 3, 3) per pose
// channel: R = I + sin(q)K + (1-cos(q))K^2 with K the fixed-axis cross
// matrix, assembled as flat (B, 9) rows.
func (fg *ForwardGraph) channelRotations(b *Builder, pose, onesB *gorgonia.Node, batch int) [NumPoseDOF]*gorgonia.Node {
	identity := []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
	var out [NumPoseDOF]*gorgonia.Node
	for c := 0; c < NumPoseDOF; c++ {
		ax := fg.model.axes[c*3 : c*3+3]
		k := crossMat(ax[0], ax[1], ax[2])
		k2 := k.mul(k)

		sel := b.Const(fmt.Sprintf("chan_sel_%d", c), []int{NumPoseDOF, 1}, oneHotCol(NumPoseDOF, c))
		theta := b.Mul(pose, sel) // (B, 1)
		sinT := b.Sin(theta)
		cosT := b.Cos(theta)

		iC := b.Const(fmt.Sprintf("i_row_%d", c), []int{1, 9}, identity)
		kC := b.Const(fmt.Sprintf("k_row_%d", c), []int{1, 9}, k[:])
		k2C := b.Const(fmt.Sprintf("k2_row_%d", c), []int{1, 9}, k2[:])

		r9 := b.Add(b.Mul(onesB, iC), b.Mul(sinT, kC))
		r9 = b.Add(r9, b.Mul(b.Sub(onesB, cosT), k2C))
		out[c] = b.Reshape(r9, batch, 3, 3)
	}
	return out
}

func crossMat(kx, ky, kz float64) mat3 {
	return mat3{
		0, -kz, ky,
		kz, 0, -kx,
		-ky, kx, 0,
	}
}

func oneHotCol(n, idx int) []float64 {
	col := make([]float64, n)
	col[idx] = 1
	return col
}

// jointSelector picks joint j's xyz rows out of the flat rest-joint row.
func jointSelector(j int) []float64 {
	sel := make([]float64, NumJoints*3*3)
	for a := 0; a < 3; a++ {
		sel[(j*3+a)*3+a] = 1
	}
	return sel
}

// jointOffsetSelector picks joint j's rest offset from its parent.
func jointOffsetSelector(j, parent int) []float64 {
	sel := jointSelector(j)
	for a := 0; a < 3; a++ {
		sel[(parent*3+a)*3+a] = -1
	}
	return sel
}

// axisColumn tiles a one-hot 3-column over the batch for coordinate
// extraction with a batched matmul.
func axisColumn(batch, axis int) []float64 {
	col := make([]float64, batch*3)
	for f := 0; f < batch; f++ {
		col[f*3+axis] = 1
	}
	return col
}
