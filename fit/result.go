package fit

// Meshes carries per-frame geometry exported after a fit: the fitted
// skeleton and skin surfaces plus the source surface they were fitted to,
// with the face tables needed to write them out.
type Meshes struct {
	SkelVerts   []float64 // frames x SkelVertexCount x 3
	SkinVerts   []float64 // frames x SkinVertexCount x 3
	SourceVerts []float64 // frames x SourceVertexCount x 3

	SkelFaces   []int32
	SkinFaces   []int32
	SourceFaces []int32

	SkelVertexCount   int
	SkinVertexCount   int
	SourceVertexCount int
}

// SkelFrame returns the skeleton-mesh vertices of frame i.
func (m *Meshes) SkelFrame(i int) []float64 {
	n := m.SkelVertexCount * 3
	return m.SkelVerts[i*n : (i+1)*n]
}

// SkinFrame returns the skin vertices of frame i.
func (m *Meshes) SkinFrame(i int) []float64 {
	n := m.SkinVertexCount * 3
	return m.SkinVerts[i*n : (i+1)*n]
}

// SourceFrame returns the source-surface vertices of frame i.
func (m *Meshes) SourceFrame(i int) []float64 {
	n := m.SourceVertexCount * 3
	return m.SourceVerts[i*n : (i+1)*n]
}

// Result aggregates a completed fit. The parameter arrays cover the whole
// sequence and are owned by the caller once RunFit returns.
type Result struct {
	Frames int
	Poses  []float64 // frames x 46
	Betas  []float64 // frames x 10
	Trans  []float64 // frames x 3

	// BatchLosses holds the final loss of each batch in processing order.
	BatchLosses []float64

	// Meshes is populated only when RunOptions.ExportMeshes is set.
	Meshes *Meshes
}
