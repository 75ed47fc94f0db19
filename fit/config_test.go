package fit

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWarmStartPreset(t *testing.T) {
	cfg := WarmStart()
	assert.Equal(t, 1.0, cfg.LR())
	assert.Equal(t, 25, cfg.MaxIter())
	assert.Equal(t, 10, cfg.NumSteps())
	assert.True(t, cfg.RotOnly())
	assert.Equal(t, 0.1, cfg.Weight(KeyLVerts))
	assert.Equal(t, 0.0, cfg.Weight(KeyLVertsLoose))
	assert.Equal(t, 1e-2, cfg.Weight(KeyLTimeLoss))
	assert.Equal(t, 0.0, cfg.Weight(KeyLJoint))
	assert.Equal(t, 1e1, cfg.Weight(KeyPoseRegFactor))
}

func TestRefineMergeKeepsWarmVertexWeights(t *testing.T) {
	merged := WarmStart().Merge(Refine())

	assert.Equal(t, 0.1, merged.LR())
	assert.Equal(t, 10, merged.MaxIter())
	assert.Equal(t, 10, merged.NumSteps())
	assert.False(t, merged.RotOnly())
	assert.Equal(t, 5e2, merged.Weight(KeyLVertsLoose))
	assert.Equal(t, 1e2, merged.Weight(KeyLJoint))
	assert.Equal(t, 1e-2, merged.Weight(KeyLScapula))
	assert.Equal(t, 1e-3, merged.Weight(KeyLSpine))
	assert.Equal(t, 1e-4, merged.Weight(KeyLPose))

	// Keys the refine preset leaves alone survive the merge.
	assert.Equal(t, 0.1, merged.Weight(KeyLVerts))
	assert.Equal(t, 1e-2, merged.Weight(KeyLTimeLoss))
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	base := WarmStart()
	overlay := Config{KeyLR: 9}

	merged := base.Merge(overlay)
	assert.Equal(t, 9.0, merged.Weight(KeyLR))
	assert.Equal(t, 1.0, base.Weight(KeyLR))

	merged[KeyMaxIter] = 99
	assert.Equal(t, 25, base.MaxIter())
	assert.Equal(t, 9.0, overlay.Weight(KeyLR))
}

func TestAccessorDefaults(t *testing.T) {
	empty := Config{}
	assert.Equal(t, 1.0, empty.LR())
	assert.Equal(t, 1, empty.MaxIter())
	assert.Equal(t, 1, empty.NumSteps())
	assert.False(t, empty.RotOnly())
	assert.Equal(t, 0.0, empty.Weight(KeyLVerts))

	bad := Config{KeyLR: -2, KeyMaxIter: 0.4, KeyNumSteps: -1}
	assert.Equal(t, 1.0, bad.LR())
	assert.Equal(t, 1, bad.MaxIter())
	assert.Equal(t, 1, bad.NumSteps())
}

func TestConfigSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.json")
	cfg := WarmStart().Merge(Config{KeyLVerts: 0.25})
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestClone(t *testing.T) {
	base := Refine()
	clone := base.Clone()
	clone[KeyLR] = 42
	assert.Equal(t, 0.1, base.Weight(KeyLR))
	assert.Equal(t, 42.0, clone.Weight(KeyLR))
}
