package body

import "math"

// restJointTable is the stylized rest skeleton shared by the synthetic
// builders: a ~1.7m humanoid, y up, pelvis near the origin.
var restJointTable = [NumJoints][3]float64{
	{0, 0.95, 0},           // pelvis
	{-0.09, 0.90, 0},       // femur_r
	{-0.10, 0.50, 0},       // tibia_r
	{-0.10, 0.08, 0},       // talus_r
	{-0.10, 0.03, -0.03},   // calcn_r
	{-0.10, 0.02, 0.12},    // toes_r
	{0.09, 0.90, 0},        // femur_l
	{0.10, 0.50, 0},        // tibia_l
	{0.10, 0.08, 0},        // talus_l
	{0.10, 0.03, -0.03},    // calcn_l
	{0.10, 0.02, 0.12},     // toes_l
	{0, 1.10, 0},           // lumbar
	{0, 1.30, 0},           // thorax
	{0, 1.55, 0},           // head
	{-0.08, 1.42, -0.02},   // scapula_r
	{-0.17, 1.40, 0},       // humerus_r
	{-0.19, 1.12, 0},       // ulna_r
	{-0.20, 1.10, 0.01},    // radius_r
	{-0.21, 0.85, 0.02},    // hand_r
	{0.08, 1.42, -0.02},    // scapula_l
	{0.17, 1.40, 0},        // humerus_l
	{0.19, 1.12, 0},        // ulna_l
	{0.20, 1.10, 0.01},     // radius_l
	{0.21, 0.85, 0.02},     // hand_l
}

// Skin offsets per joint. The four offsets sum to zero so that the
// per-joint vertex mean recovers the joint position exactly, which is what
// the synthetic joint regressor encodes.
var skinOffsets = [4][3]float64{
	{0.05, 0.02, 0.01},
	{-0.05, -0.02, -0.01},
	{0.02, -0.04, 0.03},
	{-0.02, 0.04, -0.03},
}

var skelOffsets = [3][3]float64{
	{0.02, 0.01, 0},
	{-0.02, 0.01, 0},
	{0, -0.02, 0.01},
}

const (
	skinVertsPerJoint = len(skinOffsets)
	skelVertsPerJoint = len(skelOffsets)

	// SyntheticVertexCount is the skin vertex count of the synthetic models.
	SyntheticVertexCount = NumJoints * skinVertsPerJoint
	// SyntheticSkelVertexCount is the skeleton-mesh vertex count.
	SyntheticSkelVertexCount = NumJoints * skelVertsPerJoint
)

// SyntheticArtifacts builds a small, fully deterministic skeleton-model
// artifact set with the complete 24-joint, 46-channel topology but only a
// few vertices per joint. It keeps tests and benchmarks hermetic: no
// artifact files are needed, and every matrix relation of the real model
// (regressor recovers rest joints, shape directions displace the template,
// skinning weights sum to one) holds exactly.
func SyntheticArtifacts() *Artifacts {
	v := SyntheticVertexCount
	a := &Artifacts{
		VertexCount:     v,
		SkelVertexCount: SyntheticSkelVertexCount,
		Template:        make([]float64, v*3),
		ShapeDirs:       make([]float64, v*3*NumBetas),
		JointRegressor:  make([]float64, NumJoints*v),
		AnatRegressor:   make([]float64, NumJoints*v),
		Weights:         make([]float64, v*NumJoints),
		ChannelAxes:     DefaultChannelAxes(),
		SkelTemplate:    make([]float64, SyntheticSkelVertexCount*3),
		SkelWeights:     make([]float64, SyntheticSkelVertexCount*NumJoints),
	}

	for j := 0; j < NumJoints; j++ {
		for k := 0; k < skinVertsPerJoint; k++ {
			vi := j*skinVertsPerJoint + k
			for c := 0; c < 3; c++ {
				a.Template[vi*3+c] = restJointTable[j][c] + skinOffsets[k][c]
			}
			a.JointRegressor[j*v+vi] = 1.0 / skinVertsPerJoint
			a.AnatRegressor[j*v+vi] = 1.0 / skinVertsPerJoint
			a.Weights[vi*NumJoints+j] = 1
		}
		for k := 0; k < skelVertsPerJoint; k++ {
			vi := j*skelVertsPerJoint + k
			for c := 0; c < 3; c++ {
				a.SkelTemplate[vi*3+c] = restJointTable[j][c]*0.98 + skelOffsets[k][c]
			}
			a.SkelWeights[vi*NumJoints+j] = 1
		}
	}

	fillShapeDirs(a.ShapeDirs, a.Template, v)
	a.SkinFaces = perJointFaces(NumJoints, skinVertsPerJoint)
	a.SkelFaces = perJointFaces(NumJoints, skelVertsPerJoint)
	return a
}

// SyntheticSourceArtifacts builds the matching source-model artifact set.
// Template, shape directions, regressor, and weights equal the skeleton
// model's skin so that both models produce identical surfaces at zero
// pose, which makes synthetic fitting problems well posed.
func SyntheticSourceArtifacts() *SourceArtifacts {
	skel := SyntheticArtifacts()
	return &SourceArtifacts{
		VertexCount:    skel.VertexCount,
		Template:       skel.Template,
		ShapeDirs:      skel.ShapeDirs,
		JointRegressor: skel.JointRegressor,
		Weights:        skel.Weights,
		Faces:          skel.SkinFaces,
	}
}

// Shape direction 0 scales the body uniformly about the pelvis, direction
// 1 scales height, and the remaining directions add small deterministic
// ripples so that every beta has a nonzero effect.
func fillShapeDirs(dirs, template []float64, verts int) {
	var c [3]float64
	c[0], c[1], c[2] = restJointTable[0][0], restJointTable[0][1], restJointTable[0][2]
	for vi := 0; vi < verts; vi++ {
		for axis := 0; axis < 3; axis++ {
			row := (vi*3 + axis) * NumBetas
			dirs[row+0] = 0.1 * (template[vi*3+axis] - c[axis])
			if axis == 1 {
				dirs[row+1] = 0.1 * (template[vi*3+1] - c[1])
			}
			for k := 2; k < NumBetas; k++ {
				dirs[row+k] = 0.005 * math.Sin(1.0+0.7*float64(vi)+1.3*float64(axis)+2.1*float64(k))
			}
		}
	}
}

func perJointFaces(joints, vertsPerJoint int) []int32 {
	var faces []int32
	for j := 0; j < joints; j++ {
		base := int32(j * vertsPerJoint)
		faces = append(faces, base, base+1, base+2)
		if vertsPerJoint > 3 {
			faces = append(faces, base, base+2, base+3)
		}
	}
	return faces
}
