// Package sequence - Per-frame parameter storage and batch partitioning for
// sequence fitting. A Store owns the pose, shape, and translation arrays for
// a whole motion sequence; batches address contiguous frame ranges of it.
package sequence

import (
	"github.com/pkg/errors"
)

const (
	// NumBetas is the number of shape coefficients kept per frame.
	NumBetas = 10
	// TransDim is the dimensionality of a per-frame root translation.
	TransDim = 3
)

// Store holds the working parameters of every frame in a sequence as flat
// row-major float64 arrays. It is mutated in place across fitting stages:
// fitted batches write their results back, and frames beyond the current
// batch are forward-filled as initialization for later batches.
type Store struct {
	Frames  int
	PoseDim int

	Poses []float64 // Frames x PoseDim
	Betas []float64 // Frames x NumBetas
	Trans []float64 // Frames x TransDim
}

// NewStore allocates a zeroed store for the given number of frames and pose
// dimensionality.
func NewStore(frames, poseDim int) (*Store, error) {
	if frames < 1 {
		return nil, errors.Errorf("sequence: frame count must be positive, got %d", frames)
	}
	if poseDim < 1 {
		return nil, errors.Errorf("sequence: pose dimension must be positive, got %d", poseDim)
	}
	return &Store{
		Frames:  frames,
		PoseDim: poseDim,
		Poses:   make([]float64, frames*poseDim),
		Betas:   make([]float64, frames*NumBetas),
		Trans:   make([]float64, frames*TransDim),
	}, nil
}

// PoseRow returns a mutable view of frame i's pose vector.
func (s *Store) PoseRow(i int) []float64 {
	return s.Poses[i*s.PoseDim : (i+1)*s.PoseDim]
}

// BetasRow returns a mutable view of frame i's shape coefficients.
func (s *Store) BetasRow(i int) []float64 {
	return s.Betas[i*NumBetas : (i+1)*NumBetas]
}

// TransRow returns a mutable view of frame i's translation.
func (s *Store) TransRow(i int) []float64 {
	return s.Trans[i*TransDim : (i+1)*TransDim]
}

// CopyRange copies the parameters of the frames in r out of the store.
// The returned slices are owned by the caller; mutating them does not
// affect the store until they are written back with WriteRange.
func (s *Store) CopyRange(r Range) (poses, betas, trans []float64) {
	poses = make([]float64, r.Len()*s.PoseDim)
	betas = make([]float64, r.Len()*NumBetas)
	trans = make([]float64, r.Len()*TransDim)
	copy(poses, s.Poses[r.Start*s.PoseDim:r.End*s.PoseDim])
	copy(betas, s.Betas[r.Start*NumBetas:r.End*NumBetas])
	copy(trans, s.Trans[r.Start*TransDim:r.End*TransDim])
	return poses, betas, trans
}

// WriteRange writes fitted parameters for the frames in r back into the
// store. Slice lengths must match the range exactly.
//
// Arguments:
// - r: The frame range being written.
// - poses, betas, trans: Row-major arrays of r.Len() rows each.
//
// Returns:
// - An error when r is out of bounds or any array has the wrong length.
func (s *Store) WriteRange(r Range, poses, betas, trans []float64) error {
	if r.Start < 0 || r.End > s.Frames || r.Start >= r.End {
		return errors.Errorf("sequence: range [%d, %d) out of bounds for %d frames", r.Start, r.End, s.Frames)
	}
	if len(poses) != r.Len()*s.PoseDim {
		return errors.Errorf("sequence: pose array has %d values, want %d", len(poses), r.Len()*s.PoseDim)
	}
	if len(betas) != r.Len()*NumBetas {
		return errors.Errorf("sequence: betas array has %d values, want %d", len(betas), r.Len()*NumBetas)
	}
	if len(trans) != r.Len()*TransDim {
		return errors.Errorf("sequence: trans array has %d values, want %d", len(trans), r.Len()*TransDim)
	}
	copy(s.Poses[r.Start*s.PoseDim:r.End*s.PoseDim], poses)
	copy(s.Betas[r.Start*NumBetas:r.End*NumBetas], betas)
	copy(s.Trans[r.Start*TransDim:r.End*TransDim], trans)
	return nil
}

// ForwardFillFrom replicates the parameters of frame start-1 into every
// frame of [start, Frames). The scheduler uses it to seed the batches that
// follow a freshly fitted one with the fitted tail.
func (s *Store) ForwardFillFrom(start int) error {
	if start < 1 || start > s.Frames {
		return errors.Errorf("sequence: forward fill start %d out of range [1, %d]", start, s.Frames)
	}
	src := start - 1
	for i := start; i < s.Frames; i++ {
		copy(s.PoseRow(i), s.PoseRow(src))
		copy(s.BetasRow(i), s.BetasRow(src))
		copy(s.TransRow(i), s.TransRow(src))
	}
	return nil
}

// Clone returns a deep copy of the store.
func (s *Store) Clone() *Store {
	c := &Store{
		Frames:  s.Frames,
		PoseDim: s.PoseDim,
		Poses:   make([]float64, len(s.Poses)),
		Betas:   make([]float64, len(s.Betas)),
		Trans:   make([]float64, len(s.Trans)),
	}
	copy(c.Poses, s.Poses)
	copy(c.Betas, s.Betas)
	copy(c.Trans, s.Trans)
	return c
}
