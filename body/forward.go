package body

import (
	"math"

	"github.com/pkg/errors"
)

// SKEL is the anatomical skeleton model. It exposes two forward passes
// over the same artifacts: this plain float64 one for export, playback,
// and verification, and the gorgonia graph in Graph for optimization.
type SKEL struct {
	art      *Artifacts
	axes     []float64
	channels [NumJoints][]int
}

// NewSKEL validates the artifacts and prepares the per-joint channel
// lists.
func NewSKEL(art *Artifacts) (*SKEL, error) {
	if art == nil {
		return nil, errors.New("body: nil artifacts")
	}
	if err := art.Validate(); err != nil {
		return nil, err
	}
	m := &SKEL{art: art, axes: art.Axes()}
	for c, j := range ChannelJoint {
		m.channels[j] = append(m.channels[j], c)
	}
	return m, nil
}

// Artifacts returns the model's artifact set.
func (m *SKEL) Artifacts() *Artifacts {
	return m.art
}

// ForwardOptions selects optional outputs of a forward pass. The skeleton
// mesh is noticeably more expensive than joints and skin and is only
// computed when geometry is needed for display or export.
type ForwardOptions struct {
	SkelMesh bool
}

// ForwardResult carries the outputs of a forward pass as flat row-major
// arrays with the frame dimension leading.
type ForwardResult struct {
	Joints    []float64 // frames x NumJoints x 3
	SkinVerts []float64 // frames x V x 3
	SkelVerts []float64 // frames x Vs x 3, only with ForwardOptions.SkelMesh
}

// Forward runs the kinematic pipeline for a batch of frames: shape the
// template with betas, regress rest joints, compose per-joint rotations
// from the pose channels, walk the kinematic tree, skin the surface, and
// translate. Inputs are never mutated.
//
// Arguments:
// - poses: frames x NumPoseDOF pose channels, radians.
// - betas: frames x NumBetas shape coefficients.
// - trans: frames x 3 root translations.
// - frames: The batch size all three arrays must match.
// - opts: Optional outputs.
//
// Returns:
// - The per-frame joints, skin vertices, and optionally skeleton-mesh vertices.
func (m *SKEL) Forward(poses, betas, trans []float64, frames int, opts ForwardOptions) (*ForwardResult, error) {
	if frames < 1 {
		return nil, errors.Errorf("body: frame count must be positive, got %d", frames)
	}
	if len(poses) != frames*NumPoseDOF {
		return nil, errors.Errorf("body: poses has %d values, want %d", len(poses), frames*NumPoseDOF)
	}
	if len(betas) != frames*NumBetas {
		return nil, errors.Errorf("body: betas has %d values, want %d", len(betas), frames*NumBetas)
	}
	if len(trans) != frames*3 {
		return nil, errors.Errorf("body: trans has %d values, want %d", len(trans), frames*3)
	}

	v := m.art.VertexCount
	res := &ForwardResult{
		Joints:    make([]float64, frames*NumJoints*3),
		SkinVerts: make([]float64, frames*v*3),
	}
	if opts.SkelMesh && m.art.SkelVertexCount > 0 {
		res.SkelVerts = make([]float64, frames*m.art.SkelVertexCount*3)
	}

	vShaped := make([]float64, v*3)
	restJ := make([]float64, NumJoints*3)
	var world [NumJoints]mat3
	var worldPos [NumJoints][3]float64
	var skinT [NumJoints][3]float64

	for f := 0; f < frames; f++ {
		pose := poses[f*NumPoseDOF : (f+1)*NumPoseDOF]
		beta := betas[f*NumBetas : (f+1)*NumBetas]
		tr := trans[f*3 : (f+1)*3]

		shapeTemplate(m.art.Template, m.art.ShapeDirs, beta, vShaped)
		regressJoints(m.art.JointRegressor, vShaped, v, restJ)
		m.kinematics(pose, restJ, &world, &worldPos)

		for j := 0; j < NumJoints; j++ {
			wj := world[j].mulVec3(restJ[j*3], restJ[j*3+1], restJ[j*3+2])
			skinT[j] = [3]float64{
				worldPos[j][0] - wj[0],
				worldPos[j][1] - wj[1],
				worldPos[j][2] - wj[2],
			}
			for c := 0; c < 3; c++ {
				res.Joints[(f*NumJoints+j)*3+c] = worldPos[j][c] + tr[c]
			}
		}

		skinVerts(vShaped, m.art.Weights, v, &world, &skinT, tr, res.SkinVerts[f*v*3:(f+1)*v*3])
		if res.SkelVerts != nil {
			vs := m.art.SkelVertexCount
			skinVerts(m.art.SkelTemplate, m.art.SkelWeights, vs, &world, &skinT, tr, res.SkelVerts[f*vs*3:(f+1)*vs*3])
		}
	}
	return res, nil
}

// shapeTemplate writes template + shapedirs*beta into out.
func shapeTemplate(template, shapeDirs, beta, out []float64) {
	copy(out, template)
	for i := range out {
		row := shapeDirs[i*NumBetas : (i+1)*NumBetas]
		for k, b := range beta {
			out[i] += row[k] * b
		}
	}
}

// regressJoints applies a NumJoints x verts regressor to shaped vertices.
func regressJoints(regressor, vShaped []float64, verts int, out []float64) {
	for j := 0; j < NumJoints; j++ {
		row := regressor[j*verts : (j+1)*verts]
		var x, y, z float64
		for vi, w := range row {
			if w == 0 {
				continue
			}
			x += w * vShaped[vi*3]
			y += w * vShaped[vi*3+1]
			z += w * vShaped[vi*3+2]
		}
		out[j*3], out[j*3+1], out[j*3+2] = x, y, z
	}
}

func (m *SKEL) kinematics(pose, restJ []float64, world *[NumJoints]mat3, worldPos *[NumJoints][3]float64) {
	for j := 0; j < NumJoints; j++ {
		local := identity3()
		for _, c := range m.channels[j] {
			ax := m.axes[c*3 : c*3+3]
			local = local.mul(rodrigues(ax[0], ax[1], ax[2], pose[c]))
		}
		parent := JointParent[j]
		if parent < 0 {
			world[j] = local
			worldPos[j] = [3]float64{restJ[j*3], restJ[j*3+1], restJ[j*3+2]}
			continue
		}
		world[j] = world[parent].mul(local)
		off := world[parent].mulVec3(
			restJ[j*3]-restJ[parent*3],
			restJ[j*3+1]-restJ[parent*3+1],
			restJ[j*3+2]-restJ[parent*3+2],
		)
		worldPos[j] = [3]float64{
			worldPos[parent][0] + off[0],
			worldPos[parent][1] + off[1],
			worldPos[parent][2] + off[2],
		}
	}
}

func skinVerts(template, weights []float64, verts int, world *[NumJoints]mat3, skinT *[NumJoints][3]float64, tr []float64, out []float64) {
	for vi := 0; vi < verts; vi++ {
		wRow := weights[vi*NumJoints : (vi+1)*NumJoints]
		x, y, z := template[vi*3], template[vi*3+1], template[vi*3+2]
		var ox, oy, oz float64
		for j, w := range wRow {
			if w == 0 {
				continue
			}
			p := world[j].mulVec3(x, y, z)
			ox += w * (p[0] + skinT[j][0])
			oy += w * (p[1] + skinT[j][1])
			oz += w * (p[2] + skinT[j][2])
		}
		out[vi*3] = ox + tr[0]
		out[vi*3+1] = oy + tr[1]
		out[vi*3+2] = oz + tr[2]
	}
}

// mat3 is a row-major 3x3 matrix.
type mat3 [9]float64

func identity3() mat3 {
	return mat3{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

func (a mat3) mul(b mat3) mat3 {
	var r mat3
	for i := 0; i < 3; i++ {
		for k := 0; k < 3; k++ {
			r[i*3+k] = a[i*3]*b[k] + a[i*3+1]*b[3+k] + a[i*3+2]*b[6+k]
		}
	}
	return r
}

func (a mat3) mulVec3(x, y, z float64) [3]float64 {
	return [3]float64{
		a[0]*x + a[1]*y + a[2]*z,
		a[3]*x + a[4]*y + a[5]*z,
		a[6]*x + a[7]*y + a[8]*z,
	}
}

// rodrigues builds the rotation of angle theta about the unit axis
// (kx, ky, kz): R = I + sin(t)K + (1-cos(t))K^2.
func rodrigues(kx, ky, kz, theta float64) mat3 {
	s, c := math.Sin(theta), math.Cos(theta)
	oc := 1 - c
	return mat3{
		c + kx*kx*oc, kx*ky*oc - kz*s, kx*kz*oc + ky*s,
		ky*kx*oc + kz*s, c + ky*ky*oc, ky*kz*oc - kx*s,
		kz*kx*oc - ky*s, kz*ky*oc + kx*s, c + kz*kz*oc,
	}
}

// rodriguesAA builds the rotation for an axis-angle vector (rx, ry, rz)
// whose magnitude is the angle. Near-zero angles return identity.
func rodriguesAA(rx, ry, rz float64) mat3 {
	theta := math.Sqrt(rx*rx + ry*ry + rz*rz)
	if theta < 1e-12 {
		return identity3()
	}
	return rodrigues(rx/theta, ry/theta, rz/theta, theta)
}
