// Package body - Parametric body models for sequence fitting. The package
// holds the anatomical skeleton model (SKEL) with its plain and
// differentiable forward passes, the source surface model (SMPL) whose
// meshes are fitted against, the artifact container both are built from,
// and an ONNX-backed source variant.
package body

const (
	// NumJoints is the joint count shared by the skeleton and source models.
	NumJoints = 24
	// NumPoseDOF is the pose dimensionality of the skeleton model: one
	// scalar angle per anatomical degree of freedom.
	NumPoseDOF = 46
	// NumBetas is the number of shape coefficients.
	NumBetas = 10
	// SourcePoseDim is the pose dimensionality of the source model: three
	// axis-angle components for each of its 24 joints.
	SourcePoseDim = NumJoints * 3
	// TransDim is the dimensionality of a root translation.
	TransDim = 3
)

// JointNames lists the skeleton joints in kinematic-tree order.
var JointNames = [NumJoints]string{
	"pelvis",
	"femur_r", "tibia_r", "talus_r", "calcn_r", "toes_r",
	"femur_l", "tibia_l", "talus_l", "calcn_l", "toes_l",
	"lumbar", "thorax", "head",
	"scapula_r", "humerus_r", "ulna_r", "radius_r", "hand_r",
	"scapula_l", "humerus_l", "ulna_l", "radius_l", "hand_l",
}

// JointParent maps each joint to its parent; the pelvis is the root (-1).
var JointParent = [NumJoints]int{
	-1,
	0, 1, 2, 3, 4,
	0, 6, 7, 8, 9,
	0, 11, 12,
	12, 14, 15, 16, 17,
	12, 19, 20, 21, 22,
}

// PoseParamNames lists the 46 pose channels in order. The names follow the
// biomechanics convention used by motion storage files, which is also how
// columns are matched when loading a .mot sequence.
var PoseParamNames = [NumPoseDOF]string{
	"pelvis_tilt", "pelvis_list", "pelvis_rotation",
	"hip_flexion_r", "hip_adduction_r", "hip_rotation_r",
	"knee_angle_r",
	"ankle_angle_r",
	"subtalar_angle_r",
	"mtp_angle_r",
	"hip_flexion_l", "hip_adduction_l", "hip_rotation_l",
	"knee_angle_l",
	"ankle_angle_l",
	"subtalar_angle_l",
	"mtp_angle_l",
	"lumbar_bending", "lumbar_extension", "lumbar_twist",
	"thorax_bending", "thorax_extension", "thorax_twist",
	"head_bending", "head_extension", "head_twist",
	"scapula_abduction_r", "scapula_elevation_r", "scapula_upward_rot_r",
	"shoulder_r_x", "shoulder_r_y", "shoulder_r_z",
	"elbow_flexion_r",
	"pro_sup_r",
	"wrist_flexion_r", "wrist_deviation_r",
	"scapula_abduction_l", "scapula_elevation_l", "scapula_upward_rot_l",
	"shoulder_l_x", "shoulder_l_y", "shoulder_l_z",
	"elbow_flexion_l",
	"pro_sup_l",
	"wrist_flexion_l", "wrist_deviation_l",
}

// ChannelJoint maps each pose channel to the joint whose local rotation it
// drives. Channels of the same joint compose in listed order.
var ChannelJoint = [NumPoseDOF]int{
	0, 0, 0,
	1, 1, 1,
	2,
	3,
	4,
	5,
	6, 6, 6,
	7,
	8,
	9,
	10,
	11, 11, 11,
	12, 12, 12,
	13, 13, 13,
	14, 14, 14,
	15, 15, 15,
	16,
	17,
	18, 18,
	19, 19, 19,
	20, 20, 20,
	21,
	22,
	23, 23,
}

// GlobalOrientChannels are the pose channels that encode the global (root)
// orientation, shared in convention with the source model's first joint.
const GlobalOrientChannels = 3

// ScapulaChannels index the shoulder-girdle degrees of freedom penalized by
// the scapula plausibility regularizer.
var ScapulaChannels = []int{26, 27, 28, 36, 37, 38}

// SpineChannels index the lumbar, thorax, and head degrees of freedom
// penalized by the spinal-curvature regularizer.
var SpineChannels = []int{17, 18, 19, 20, 21, 22, 23, 24, 25}

// PosePriorStart is the first channel covered by the generic pose prior;
// the global orientation is exempt.
const PosePriorStart = GlobalOrientChannels

const (
	axisX = iota
	axisY
	axisZ
)

// subtalar joints rotate about an oblique axis; the canonical table keeps
// it normalized.
const obliqueC = 0.7071067811865476

// DefaultChannelAxes returns the canonical per-channel rotation axes as a
// flat 46x3 array. Artifact files may carry their own axes; the synthetic
// builder and artifact validation fall back to this table.
func DefaultChannelAxes() []float64 {
	unit := func(a int) [3]float64 {
		switch a {
		case axisX:
			return [3]float64{1, 0, 0}
		case axisY:
			return [3]float64{0, 1, 0}
		default:
			return [3]float64{0, 0, 1}
		}
	}
	axes := make([][3]float64, 0, NumPoseDOF)
	push := func(vs ...[3]float64) { axes = append(axes, vs...) }

	xyz := []([3]float64){unit(axisX), unit(axisY), unit(axisZ)}
	oblique := [3]float64{obliqueC, obliqueC, 0}

	push(xyz...)                                      // pelvis
	push(xyz...)                                      // hip_r
	push(unit(axisX))                                 // knee_r
	push(unit(axisX))                                 // ankle_r
	push(oblique)                                     // subtalar_r
	push(unit(axisX))                                 // mtp_r
	push(xyz...)                                      // hip_l
	push(unit(axisX))                                 // knee_l
	push(unit(axisX))                                 // ankle_l
	push(oblique)                                     // subtalar_l
	push(unit(axisX))                                 // mtp_l
	push(xyz...)                                      // lumbar
	push(xyz...)                                      // thorax
	push(xyz...)                                      // head
	push(xyz...)                                      // scapula_r
	push(xyz...)                                      // shoulder_r
	push(unit(axisX))                                 // elbow_r
	push(unit(axisY))                                 // pro_sup_r
	push(unit(axisX), unit(axisZ))                    // wrist_r
	push(xyz...)                                      // scapula_l
	push(xyz...)                                      // shoulder_l
	push(unit(axisX))                                 // elbow_l
	push(unit(axisY))                                 // pro_sup_l
	push(unit(axisX), unit(axisZ))                    // wrist_l

	flat := make([]float64, 0, NumPoseDOF*3)
	for _, a := range axes {
		flat = append(flat, a[0], a[1], a[2])
	}
	return flat
}

// SourceJointParent is the kinematic tree of the source (SMPL) model.
var SourceJointParent = [NumJoints]int{
	-1, 0, 0, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 9, 9, 12, 13, 14, 16, 17, 18, 19, 20, 21,
}

// TorsoSourceJoints are the source-model joints whose skinning weights
// define the torso vertex mask used by the rotation-only stage: pelvis and
// the three spine joints.
var TorsoSourceJoints = []int{0, 3, 6, 9}

// TorsoWeightThreshold is the minimum summed torso skinning weight for a
// vertex to count as torso.
const TorsoWeightThreshold = 0.5
