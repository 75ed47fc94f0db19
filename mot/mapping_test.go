package mot

import (
	"math"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mocap-ai/go-skelfit/body"
)

func TestMapToSkelMatchesColumnsByName(t *testing.T) {
	doc := &Document{
		Columns: []string{"time", "knee_angle_r", "pelvis_tilt", "pelvis_tx", "pelvis_ty", "pelvis_tz"},
		Data: []float32{
			0.0, 90, 30, 0.1, 0.95, -0.2,
			0.1, 45, -30, 0.2, 0.96, -0.3,
		},
	}

	m, err := MapToSkel(doc)
	require.NoError(t, err)
	require.Equal(t, 2, m.Frames)
	require.Len(t, m.Poses, 2*body.NumPoseDOF)
	require.Len(t, m.Trans, 2*3)

	// knee_angle_r is channel 6, pelvis_tilt channel 0. Conversion happens
	// in float32 exactly as the capture pipeline does it.
	assert.Equal(t, float64(math32.Pi*float32(90)/180), m.Poses[6])
	assert.Equal(t, float64(math32.Pi*float32(30)/180), m.Poses[0])
	assert.Equal(t, float64(math32.Pi*float32(45)/180), m.Poses[body.NumPoseDOF+6])
	assert.InDelta(t, math.Pi/2, m.Poses[6], 1e-6)
	assert.InDelta(t, -math.Pi/6, m.Poses[body.NumPoseDOF], 1e-6)

	// Translation is copied through without unit conversion.
	assert.Equal(t, []float64{
		float64(float32(0.1)), float64(float32(0.95)), float64(float32(-0.2)),
		float64(float32(0.2)), float64(float32(0.96)), float64(float32(-0.3)),
	}, m.Trans)
}

func TestMapToSkelMissingColumnsStayZero(t *testing.T) {
	doc := &Document{
		Columns: []string{"time", "pelvis_tilt"},
		Data:    []float32{0, 10, 0.1, 20},
	}

	m, err := MapToSkel(doc)
	require.NoError(t, err)

	for r := 0; r < 2; r++ {
		for d := 1; d < body.NumPoseDOF; d++ {
			require.Zero(t, m.Poses[r*body.NumPoseDOF+d])
		}
	}
	assert.Equal(t, make([]float64, 6), m.Trans)
	assert.NotZero(t, m.Poses[0])
}

func TestMapToSkelEmptyDocument(t *testing.T) {
	_, err := MapToSkel(&Document{})
	assert.Error(t, err)
	_, err = MapToSkel(nil)
	assert.Error(t, err)
}

func TestMapToSkelRoundTripThroughStorage(t *testing.T) {
	cols := []string{"time"}
	cols = append(cols, body.PoseParamNames[:]...)
	cols = append(cols, transColumns[0], transColumns[1], transColumns[2])

	frames := 3
	doc := &Document{Columns: cols}
	for r := 0; r < frames; r++ {
		row := make([]float32, len(cols))
		row[0] = float32(r) * 0.033
		for d := 0; d < body.NumPoseDOF; d++ {
			row[1+d] = float32(r*body.NumPoseDOF+d) * 0.25
		}
		row[1+body.NumPoseDOF] = float32(r) * 0.1
		row[2+body.NumPoseDOF] = 0.9
		row[3+body.NumPoseDOF] = -float32(r) * 0.05
		doc.Data = append(doc.Data, row...)
	}

	direct, err := MapToSkel(doc)
	require.NoError(t, err)

	path := t.TempDir() + "/trip.mot"
	require.NoError(t, Save(path, doc))
	loaded := Load(path, LoadOptions{})
	require.False(t, loaded.Empty())

	viaFile, err := MapToSkel(loaded)
	require.NoError(t, err)
	assert.Equal(t, direct.Poses, viaFile.Poses)
	assert.Equal(t, direct.Trans, viaFile.Trans)
}

func TestMapToSkelScreensNonFiniteValues(t *testing.T) {
	doc := &Document{
		Columns: []string{"pelvis_tilt", "pelvis_tx"},
		Data: []float32{
			math32.NaN(), math32.Inf(1),
			45, 0.5,
		},
	}

	m, err := MapToSkel(doc)
	require.NoError(t, err)
	assert.Zero(t, m.Poses[0])
	assert.Zero(t, m.Trans[0])
	assert.Equal(t, float64(math32.Pi*float32(45)/180), m.Poses[body.NumPoseDOF])
	assert.Equal(t, float64(float32(0.5)), m.Trans[3])
}

func TestFromSkelLayout(t *testing.T) {
	motion := &SkelMotion{
		Frames: 2,
		Poses:  make([]float64, 2*body.NumPoseDOF),
		Trans:  []float64{0.1, 0.9, -0.2, 0.2, 0.95, -0.25},
	}
	motion.Poses[0] = math.Pi / 2
	motion.Poses[body.NumPoseDOF+6] = math.Pi / 4

	doc, err := FromSkel(motion, 30)
	require.NoError(t, err)
	require.Equal(t, 1+body.NumPoseDOF+3, len(doc.Columns))
	require.Equal(t, 2, doc.Rows())

	assert.Equal(t, "time", doc.Columns[0])
	assert.Equal(t, "pelvis_tilt", doc.Columns[1])
	assert.Equal(t, "pelvis_tx", doc.Columns[1+body.NumPoseDOF])

	// Frame times step at 1/fps; angles come back in degrees.
	assert.Zero(t, doc.Value(0, 0))
	assert.InDelta(t, 1.0/30, float64(doc.Value(1, 0)), 1e-7)
	assert.InDelta(t, 90, float64(doc.Value(0, 1)), 1e-4)
	assert.InDelta(t, 45, float64(doc.Value(1, 7)), 1e-4)
	assert.Equal(t, float32(0.1), doc.Value(0, doc.ColumnIndex("pelvis_tx")))
	assert.Equal(t, float32(-0.25), doc.Value(1, doc.ColumnIndex("pelvis_tz")))
}

func TestFromSkelRoundTrip(t *testing.T) {
	frames := 4
	motion := &SkelMotion{
		Frames: frames,
		Poses:  make([]float64, frames*body.NumPoseDOF),
		Trans:  make([]float64, frames*3),
	}
	for i := range motion.Poses {
		motion.Poses[i] = 0.01 * float64(i%17)
	}
	for i := range motion.Trans {
		motion.Trans[i] = 0.05 * float64(i%7)
	}

	doc, err := FromSkel(motion, 25)
	require.NoError(t, err)

	path := t.TempDir() + "/fitted.mot"
	require.NoError(t, Save(path, doc))
	back, err := MapToSkel(Load(path, LoadOptions{}))
	require.NoError(t, err)

	require.Equal(t, frames, back.Frames)
	for i := range motion.Poses {
		assert.InDelta(t, motion.Poses[i], back.Poses[i], 1e-5)
	}
	for i := range motion.Trans {
		assert.InDelta(t, motion.Trans[i], back.Trans[i], 1e-6)
	}
}

func TestFromSkelRejectsBadInput(t *testing.T) {
	_, err := FromSkel(nil, 30)
	assert.Error(t, err)
	_, err = FromSkel(&SkelMotion{}, 30)
	assert.Error(t, err)
	_, err = FromSkel(&SkelMotion{Frames: 1, Poses: make([]float64, body.NumPoseDOF), Trans: make([]float64, 3)}, 0)
	assert.Error(t, err)
	_, err = FromSkel(&SkelMotion{Frames: 2, Poses: make([]float64, body.NumPoseDOF), Trans: make([]float64, 6)}, 30)
	assert.Error(t, err)
}
