package body

import (
	"github.com/pkg/errors"
)

// SMPL is the native source surface model: a linear-blend-skinned body
// whose pose is 24 axis-angle joint rotations. The fitter treats it as a
// read-only oracle producing the target surface.
type SMPL struct {
	art *SourceArtifacts
}

// NewSMPL validates the source artifacts.
func NewSMPL(art *SourceArtifacts) (*SMPL, error) {
	if art == nil {
		return nil, errors.New("body: nil source artifacts")
	}
	if err := art.Validate(); err != nil {
		return nil, err
	}
	return &SMPL{art: art}, nil
}

// Family implements SourceModel.
func (m *SMPL) Family() Family {
	return FamilySMPL
}

// VertexCount implements SourceModel.
func (m *SMPL) VertexCount() int {
	return m.art.VertexCount
}

// Faces implements SourceModel.
func (m *SMPL) Faces() []int32 {
	return m.art.Faces
}

// SkinWeights implements SourceModel.
func (m *SMPL) SkinWeights() []float64 {
	return m.art.Weights
}

// Forward runs the source LBS pipeline and returns the surface vertices
// for each frame. Inputs are never mutated.
func (m *SMPL) Forward(poses, betas, trans []float64, frames int) ([]float64, error) {
	if frames < 1 {
		return nil, errors.Errorf("body: frame count must be positive, got %d", frames)
	}
	if len(poses) != frames*SourcePoseDim {
		return nil, errors.Errorf("body: source poses has %d values, want %d", len(poses), frames*SourcePoseDim)
	}
	if len(betas) != frames*NumBetas {
		return nil, errors.Errorf("body: source betas has %d values, want %d", len(betas), frames*NumBetas)
	}
	if len(trans) != frames*3 {
		return nil, errors.Errorf("body: source trans has %d values, want %d", len(trans), frames*3)
	}

	v := m.art.VertexCount
	out := make([]float64, frames*v*3)
	vShaped := make([]float64, v*3)
	restJ := make([]float64, NumJoints*3)
	var world [NumJoints]mat3
	var worldPos [NumJoints][3]float64
	var skinT [NumJoints][3]float64

	for f := 0; f < frames; f++ {
		pose := poses[f*SourcePoseDim : (f+1)*SourcePoseDim]
		beta := betas[f*NumBetas : (f+1)*NumBetas]
		tr := trans[f*3 : (f+1)*3]

		shapeTemplate(m.art.Template, m.art.ShapeDirs, beta, vShaped)
		regressJoints(m.art.JointRegressor, vShaped, v, restJ)

		for j := 0; j < NumJoints; j++ {
			local := rodriguesAA(pose[j*3], pose[j*3+1], pose[j*3+2])
			parent := SourceJointParent[j]
			if parent < 0 {
				world[j] = local
				worldPos[j] = [3]float64{restJ[j*3], restJ[j*3+1], restJ[j*3+2]}
			} else {
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
			wj := world[j].mulVec3(restJ[j*3], restJ[j*3+1], restJ[j*3+2])
			skinT[j] = [3]float64{
				worldPos[j][0] - wj[0],
				worldPos[j][1] - wj[1],
				worldPos[j][2] - wj[2],
			}
		}

		skinVerts(vShaped, m.art.Weights, v, &world, &skinT, tr, out[f*v*3:(f+1)*v*3])
	}
	return out, nil
}
