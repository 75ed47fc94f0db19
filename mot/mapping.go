package mot

import (
	"log"
	"strings"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/mocap-ai/go-skelfit/body"
)

// transColumns are the storage columns carrying the root translation, in
// meters. They are copied through without unit conversion.
var transColumns = [3]string{"pelvis_tx", "pelvis_ty", "pelvis_tz"}

// SkelMotion is a skeleton-native motion recovered from a storage document:
// one q-pose row and one root translation per frame.
type SkelMotion struct {
	Frames int
	// Poses holds Frames x 46 pose channels in radians.
	Poses []float64
	// Trans holds Frames x 3 root translations in meters.
	Trans []float64
}

// MapToSkel converts a storage document into a skeleton motion. Columns are
// matched to pose channels by name; angles are converted from degrees to
// radians in float32 before promotion, matching the capture pipeline's
// precision. Channels without a matching column stay zero and are reported
// in a single diagnostic.
//
// Arguments:
// - doc: Loaded storage document.
//
// Returns:
// - *SkelMotion: Per-frame q-poses and translations.
// - error: Error if the document is empty.
func MapToSkel(doc *Document) (*SkelMotion, error) {
	if doc.Empty() {
		return nil, errors.New("mot: cannot map empty document")
	}

	frames := doc.Rows()
	out := &SkelMotion{
		Frames: frames,
		Poses:  make([]float64, frames*body.NumPoseDOF),
		Trans:  make([]float64, frames*3),
	}

	var missing []string
	var screened int
	for d, name := range body.PoseParamNames {
		ci := doc.ColumnIndex(name)
		if ci < 0 {
			missing = append(missing, name)
			continue
		}
		for r := 0; r < frames; r++ {
			v := doc.Value(r, ci)
			if math32.IsNaN(v) || math32.IsInf(v, 0) {
				screened++
				continue
			}
			out.Poses[r*body.NumPoseDOF+d] = float64(math32.Pi * v / 180)
		}
	}
	if len(missing) > 0 {
		log.Printf("mot: %d pose channels without a column, left zero: %s",
			len(missing), strings.Join(missing, " "))
	}

	for k, name := range transColumns {
		ci := doc.ColumnIndex(name)
		if ci < 0 {
			log.Printf("mot: translation column %s missing, left zero", name)
			continue
		}
		for r := 0; r < frames; r++ {
			v := doc.Value(r, ci)
			if math32.IsNaN(v) || math32.IsInf(v, 0) {
				screened++
				continue
			}
			out.Trans[r*3+k] = float64(v)
		}
	}
	if screened > 0 {
		log.Printf("mot: zeroed %d non-finite values", screened)
	}

	return out, nil
}

// FromSkel builds a storage document from a skeleton motion: a time column at
// the given frame rate, the pose channels converted back to degrees, and the
// root translation columns. The result round-trips through MapToSkel up to
// float32 precision.
//
// Arguments:
// - motion: Per-frame q-poses and translations.
// - fps: Frame rate used to fill the time column.
//
// Returns:
// - *Document: Document ready for Save.
// - error: Error if the motion is empty or the frame rate is not positive.
func FromSkel(motion *SkelMotion, fps float64) (*Document, error) {
	if motion == nil || motion.Frames == 0 {
		return nil, errors.New("mot: cannot build document from empty motion")
	}
	if fps <= 0 {
		return nil, errors.Errorf("mot: frame rate must be positive, got %g", fps)
	}
	if len(motion.Poses) != motion.Frames*body.NumPoseDOF {
		return nil, errors.Errorf("mot: poses length %d, want %d", len(motion.Poses), motion.Frames*body.NumPoseDOF)
	}
	if len(motion.Trans) != motion.Frames*3 {
		return nil, errors.Errorf("mot: trans length %d, want %d", len(motion.Trans), motion.Frames*3)
	}

	cols := make([]string, 0, 1+body.NumPoseDOF+len(transColumns))
	cols = append(cols, "time")
	cols = append(cols, body.PoseParamNames[:]...)
	cols = append(cols, transColumns[:]...)

	doc := &Document{
		Columns: cols,
		Data:    make([]float32, 0, motion.Frames*len(cols)),
	}
	step := float32(1 / fps)
	for r := 0; r < motion.Frames; r++ {
		doc.Data = append(doc.Data, float32(r)*step)
		for d := 0; d < body.NumPoseDOF; d++ {
			rad := float32(motion.Poses[r*body.NumPoseDOF+d])
			doc.Data = append(doc.Data, rad*180/math32.Pi)
		}
		for k := 0; k < 3; k++ {
			doc.Data = append(doc.Data, float32(motion.Trans[r*3+k]))
		}
	}
	return doc, nil
}
