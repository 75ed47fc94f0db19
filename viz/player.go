package viz

import (
	"fmt"
	"log"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/mocap-ai/go-skelfit/common"
)

// Key codes reported by the window backend on Linux.
const (
	keyEsc        = 27
	keySpace      = 32
	keyComma      = 44
	keyPeriod     = 46
	keyQ          = 113
	keyArrowLeft  = 81
	keyArrowRight = 83
)

// PlayerOptions configures interactive playback.
type PlayerOptions struct {
	// Title is the window title. Empty selects "skelfit".
	Title string
	// FPS is the playback rate. Zero selects 30.
	FPS float64
	// Size is the render canvas size in pixels. Zero selects 512.
	Size int
}

func (o PlayerOptions) title() string {
	if o.Title == "" {
		return "skelfit"
	}
	return o.Title
}

func (o PlayerOptions) delayMillis() int {
	fps := o.FPS
	if fps <= 0 {
		fps = 30
	}
	d := int(1000 / fps)
	if d < 1 {
		d = 1
	}
	return d
}

// Play shows a vertex sequence in a window and loops it. Space pauses and
// resumes, the left and right arrows (or , and .) step one frame, q and ESC
// quit. The camera is framed once from the union bounds of all frames so the
// subject does not jitter. When the viewer is disabled through the
// DISABLE_VIEWER environment variable the call logs and returns immediately.
//
// Arguments:
// - frames: One flat V x 3 vertex buffer per frame.
// - opts: Playback options, zero value for defaults.
//
// Returns:
// - error: Error if frames is empty or the frame buffers cannot be rendered.
func Play(frames [][]float64, opts PlayerOptions) error {
	if len(frames) == 0 {
		return errors.New("viz: no frames to play")
	}
	if !Enabled() {
		log.Printf("viz: viewer disabled, skipping playback of %d frames", len(frames))
		return nil
	}

	box := common.EmptyAABB()
	for _, verts := range frames {
		box = box.Union(common.BoundsOf(verts))
	}

	window := gocv.NewWindow(opts.title())
	defer window.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()

	delay := opts.delayMillis()
	frame := 0
	paused := false
	for {
		img := Snapshot(frames[frame], SnapshotOptions{Size: opts.Size, Bounds: &box})
		rgba, err := gocv.ImageToMatRGBA(img)
		if err != nil {
			return errors.Wrapf(err, "viz: frame %d", frame)
		}
		gocv.CvtColor(rgba, &bgr, gocv.ColorRGBAToBGR)
		rgba.Close()

		window.SetWindowTitle(fmt.Sprintf("%s  frame %d/%d", opts.title(), frame+1, len(frames)))
		window.IMShow(bgr)

		switch window.WaitKey(delay) {
		case keyQ, keyEsc:
			return nil
		case keySpace:
			paused = !paused
		case keyArrowRight, keyPeriod:
			frame = (frame + 1) % len(frames)
			continue
		case keyArrowLeft, keyComma:
			frame = (frame - 1 + len(frames)) % len(frames)
			continue
		}
		if !paused {
			frame = (frame + 1) % len(frames)
		}
	}
}
