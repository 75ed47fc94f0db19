package body

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyntheticArtifactsValidate(t *testing.T) {
	art := SyntheticArtifacts()
	require.NoError(t, art.Validate())

	src := SyntheticSourceArtifacts()
	require.NoError(t, src.Validate())

	// Skinning weights are a partition of unity.
	for vi := 0; vi < art.VertexCount; vi++ {
		var sum float64
		for j := 0; j < NumJoints; j++ {
			sum += art.Weights[vi*NumJoints+j]
		}
		assert.InDelta(t, 1.0, sum, 1e-12, "vertex %d", vi)
	}
}

func TestArtifactsRoundTrip(t *testing.T) {
	art := SyntheticArtifacts()
	path := filepath.Join(t.TempDir(), "skel.skaf")
	require.NoError(t, art.Save(path))

	loaded, err := LoadArtifacts(path)
	require.NoError(t, err)

	assert.Equal(t, art.VertexCount, loaded.VertexCount)
	assert.Equal(t, art.SkelVertexCount, loaded.SkelVertexCount)
	assert.Equal(t, art.Template, loaded.Template)
	assert.Equal(t, art.ShapeDirs, loaded.ShapeDirs)
	assert.Equal(t, art.JointRegressor, loaded.JointRegressor)
	assert.Equal(t, art.AnatRegressor, loaded.AnatRegressor)
	assert.Equal(t, art.Weights, loaded.Weights)
	assert.Equal(t, art.ChannelAxes, loaded.ChannelAxes)
	assert.Equal(t, art.SkinFaces, loaded.SkinFaces)
	assert.Equal(t, art.SkelTemplate, loaded.SkelTemplate)
	assert.Equal(t, art.SkelWeights, loaded.SkelWeights)
	assert.Equal(t, art.SkelFaces, loaded.SkelFaces)
}

func TestSourceArtifactsRoundTrip(t *testing.T) {
	src := SyntheticSourceArtifacts()
	path := filepath.Join(t.TempDir(), "smpl.skaf")
	require.NoError(t, src.Save(path))

	loaded, err := LoadSourceArtifacts(path)
	require.NoError(t, err)
	assert.Equal(t, src.VertexCount, loaded.VertexCount)
	assert.Equal(t, src.Template, loaded.Template)
	assert.Equal(t, src.Weights, loaded.Weights)
	assert.Equal(t, src.Faces, loaded.Faces)
}

func TestLoadArtifactsErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadArtifacts(filepath.Join(t.TempDir(), "nope.skaf"))
		assert.Error(t, err)
	})

	t.Run("wrong magic", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.skaf")
		require.NoError(t, os.WriteFile(path, []byte("JUNKJUNKJUNK"), 0o644))
		_, err := LoadArtifacts(path)
		assert.Error(t, err)
	})

	t.Run("truncated container", func(t *testing.T) {
		art := SyntheticArtifacts()
		path := filepath.Join(t.TempDir(), "trunc.skaf")
		require.NoError(t, art.Save(path))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, data[:len(data)/2], 0o644))
		_, err = LoadArtifacts(path)
		assert.Error(t, err)
	})
}

func TestValidateCatchesBadShapes(t *testing.T) {
	art := SyntheticArtifacts()
	art.Weights = art.Weights[:10]
	assert.Error(t, art.Validate())

	art = SyntheticArtifacts()
	art.SkinFaces[0] = int32(art.VertexCount)
	assert.Error(t, art.Validate(), "face index out of range")

	art = SyntheticArtifacts()
	art.ChannelAxes = art.ChannelAxes[:5]
	assert.Error(t, art.Validate())
}

func TestAxesFallBackToCanonical(t *testing.T) {
	art := SyntheticArtifacts()
	art.ChannelAxes = nil
	assert.Equal(t, DefaultChannelAxes(), art.Axes())
}
