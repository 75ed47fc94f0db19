package body

// Family identifies a body-model family.
type Family string

const (
	// FamilySMPL is the source surface model family.
	FamilySMPL Family = "smpl"
	// FamilySKEL is the anatomical skeleton model family.
	FamilySKEL Family = "skel"
)

// SourceModel is the capability the fitter needs from the source side: a
// forward pass producing the target surface for a batch of frames, plus
// the static topology and skinning weights that derive the fitting masks.
// Implementations never mutate their inputs and are safe for concurrent
// reads after construction.
type SourceModel interface {
	// Family names the model family.
	Family() Family
	// VertexCount returns the surface vertex count V.
	VertexCount() int
	// Forward maps (poses frames x SourcePoseDim, betas frames x NumBetas,
	// trans frames x 3) to surface vertices (frames x V x 3, flat).
	Forward(poses, betas, trans []float64, frames int) ([]float64, error)
	// Faces returns the triangle table of the surface.
	Faces() []int32
	// SkinWeights returns the V x NumJoints skinning weight matrix.
	SkinWeights() []float64
}
