package sequence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStoreValidation(t *testing.T) {
	tests := []struct {
		name    string
		frames  int
		poseDim int
		wantErr bool
	}{
		{name: "valid", frames: 4, poseDim: 46, wantErr: false},
		{name: "single frame", frames: 1, poseDim: 46, wantErr: false},
		{name: "zero frames", frames: 0, poseDim: 46, wantErr: true},
		{name: "zero pose dim", frames: 4, poseDim: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewStore(tt.frames, tt.poseDim)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			assert.Len(t, s.Poses, tt.frames*tt.poseDim)
			assert.Len(t, s.Betas, tt.frames*NumBetas)
			assert.Len(t, s.Trans, tt.frames*TransDim)
		})
	}
}

func TestStoreRowViews(t *testing.T) {
	s, err := NewStore(3, 5)
	require.NoError(t, err)

	// Row views alias the backing arrays.
	s.PoseRow(1)[0] = 42
	assert.Equal(t, 42.0, s.Poses[5])

	s.TransRow(2)[2] = -1
	assert.Equal(t, -1.0, s.Trans[8])

	s.BetasRow(0)[9] = 7
	assert.Equal(t, 7.0, s.Betas[9])
}

func TestCopyRangeIsDetached(t *testing.T) {
	s, err := NewStore(4, 2)
	require.NoError(t, err)
	for i := range s.Poses {
		s.Poses[i] = float64(i)
	}

	poses, betas, trans := s.CopyRange(Range{Start: 1, End: 3})
	assert.Equal(t, []float64{2, 3, 4, 5}, poses)
	assert.Len(t, betas, 2*NumBetas)
	assert.Len(t, trans, 2*TransDim)

	poses[0] = 99
	assert.Equal(t, 2.0, s.Poses[2], "copies must not alias the store")
}

func TestWriteRange(t *testing.T) {
	s, err := NewStore(3, 2)
	require.NoError(t, err)

	r := Range{Start: 1, End: 3}
	poses := []float64{1, 2, 3, 4}
	betas := make([]float64, 2*NumBetas)
	trans := []float64{9, 9, 9, 8, 8, 8}
	require.NoError(t, s.WriteRange(r, poses, betas, trans))

	assert.Equal(t, []float64{0, 0, 1, 2, 3, 4}, s.Poses)
	assert.Equal(t, []float64{9, 9, 9}, s.TransRow(1))

	t.Run("length mismatch", func(t *testing.T) {
		err := s.WriteRange(r, poses[:2], betas, trans)
		assert.Error(t, err)
	})

	t.Run("out of bounds", func(t *testing.T) {
		err := s.WriteRange(Range{Start: 2, End: 4}, poses, betas, trans)
		assert.Error(t, err)
	})
}

func TestForwardFillFrom(t *testing.T) {
	s, err := NewStore(4, 2)
	require.NoError(t, err)
	copy(s.PoseRow(1), []float64{5, 6})
	copy(s.TransRow(1), []float64{1, 2, 3})
	s.BetasRow(1)[0] = 0.5

	require.NoError(t, s.ForwardFillFrom(2))

	for i := 2; i < 4; i++ {
		assert.Equal(t, []float64{5, 6}, s.PoseRow(i))
		assert.Equal(t, []float64{1, 2, 3}, s.TransRow(i))
		assert.Equal(t, 0.5, s.BetasRow(i)[0])
	}
	// Frame 0 untouched.
	assert.Equal(t, []float64{0, 0}, s.PoseRow(0))

	t.Run("start of zero is rejected", func(t *testing.T) {
		assert.Error(t, s.ForwardFillFrom(0))
	})

	t.Run("fill from the end is a no-op", func(t *testing.T) {
		before := s.Clone()
		require.NoError(t, s.ForwardFillFrom(4))
		assert.Equal(t, before.Poses, s.Poses)
	})
}

func TestPartition(t *testing.T) {
	tests := []struct {
		name      string
		frames    int
		batchSize int
		want      []Range
	}{
		{
			name:   "even split",
			frames: 6, batchSize: 2,
			want: []Range{{0, 2}, {2, 4}, {4, 6}},
		},
		{
			name:   "ragged tail",
			frames: 5, batchSize: 2,
			want: []Range{{0, 2}, {2, 4}, {4, 5}},
		},
		{
			name:   "batch larger than sequence",
			frames: 3, batchSize: 10,
			want: []Range{{0, 3}},
		},
		{
			name:   "batch of one",
			frames: 3, batchSize: 1,
			want: []Range{{0, 1}, {1, 2}, {2, 3}},
		},
		{
			name:   "invalid batch",
			frames: 3, batchSize: 0,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Partition(tt.frames, tt.batchSize)
			assert.Equal(t, tt.want, got)
		})
	}
}

// Partition must cover [0, frames) exactly, with no gaps and no overlap,
// for any sequence length and batch size.
func TestPartitionCompleteness(t *testing.T) {
	for frames := 1; frames <= 23; frames++ {
		for batch := 1; batch <= frames+3; batch++ {
			ranges := Partition(frames, batch)
			require.NotEmpty(t, ranges)

			next := 0
			for _, r := range ranges {
				assert.Equal(t, next, r.Start, "frames=%d batch=%d", frames, batch)
				assert.Greater(t, r.Len(), 0)
				next = r.End
			}
			assert.Equal(t, frames, next, "frames=%d batch=%d", frames, batch)
		}
	}
}
