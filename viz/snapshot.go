// Package viz - Rendering of fitted body vertex sets: offline snapshots and
// contact sheets for quick inspection, plus an interactive point-cloud player.
// The fitting pipeline never depends on this package; it is wired in through
// observers and command-line tools only.
package viz

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"

	"github.com/mocap-ai/go-skelfit/common"
)

// Enabled reports whether interactive display is allowed. Setting the
// DISABLE_VIEWER environment variable to any non-empty value turns all
// windowed output off, which headless and batch runs rely on.
func Enabled() bool {
	return os.Getenv("DISABLE_VIEWER") == ""
}

// SnapshotOptions controls offline rendering of a vertex set.
type SnapshotOptions struct {
	// Size is the output image width and height in pixels. Zero selects 512.
	Size int
	// Margin is the fraction of the canvas left empty around the subject.
	// Zero selects 0.05.
	Margin float64
	// Bounds fixes the camera framing. Nil frames the given vertices, which
	// makes consecutive frames of a moving subject jitter; sequence renderers
	// pass the union box of all frames instead.
	Bounds *common.AABB
}

func (o SnapshotOptions) size() int {
	if o.Size <= 0 {
		return 512
	}
	return o.Size
}

func (o SnapshotOptions) margin() float64 {
	if o.Margin <= 0 {
		return 0.05
	}
	return o.Margin
}

// Snapshot renders a front orthographic view of a vertex set. X maps to the
// horizontal axis, Y to the vertical axis with +Y up, and depth along Z
// shades each point so nearer vertices appear brighter.
//
// Arguments:
// - verts: Flat vertex buffer, V x 3.
// - opts: Rendering options, zero value for defaults.
//
// Returns:
// - *image.RGBA: The rendered frame, dark background with light points.
func Snapshot(verts []float64, opts SnapshotOptions) *image.RGBA {
	size := opts.size()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{18, 18, 22, 255}), image.Point{}, draw.Src)

	box := common.BoundsOf(verts)
	if opts.Bounds != nil {
		box = *opts.Bounds
	}
	if box.Empty() {
		return img
	}

	cx, cy, _ := box.Center()
	dx, dy, dz := box.Extent()
	extent := math.Max(dx, dy)
	if extent <= 0 {
		extent = 1
	}
	scale := float64(size) * (1 - 2*opts.margin()) / extent

	for i := 0; i+2 < len(verts); i += 3 {
		u := int(math.Round(float64(size)/2 + (verts[i]-cx)*scale))
		v := int(math.Round(float64(size)/2 - (verts[i+1]-cy)*scale))

		shade := uint8(230)
		if dz > 0 {
			t := (verts[i+2] - box.MinZ) / dz
			shade = uint8(90 + t*165)
		}
		c := color.RGBA{shade, shade, shade, 255}
		// 2x2 splat keeps sparse clouds visible at small sizes.
		for du := 0; du < 2; du++ {
			for dv := 0; dv < 2; dv++ {
				if p := (image.Point{u + du, v + dv}); p.In(img.Bounds()) {
					img.SetRGBA(p.X, p.Y, c)
				}
			}
		}
	}
	return img
}

// Thumbnail scales an image down to the given width, preserving aspect ratio.
func Thumbnail(img image.Image, width uint) image.Image {
	return resize.Resize(width, 0, img, resize.Lanczos3)
}

// ContactSheet tiles a batch of equally sized images into one sheet, row
// major. Zero or negative columns selects a near-square layout.
//
// Arguments:
// - images: Frames to tile, all with the bounds of the first.
// - columns: Tiles per row.
//
// Returns:
// - *image.RGBA: The assembled sheet; empty image when no frames are given.
func ContactSheet(images []image.Image, columns int) *image.RGBA {
	if len(images) == 0 {
		return image.NewRGBA(image.Rect(0, 0, 0, 0))
	}
	if columns <= 0 {
		columns = int(math.Ceil(math.Sqrt(float64(len(images)))))
	}
	rows := (len(images) + columns - 1) / columns

	cell := images[0].Bounds().Size()
	sheet := image.NewRGBA(image.Rect(0, 0, columns*cell.X, rows*cell.Y))
	for i, im := range images {
		x := (i % columns) * cell.X
		y := (i / columns) * cell.Y
		r := image.Rect(x, y, x+cell.X, y+cell.Y)
		draw.Draw(sheet, r, im, im.Bounds().Min, draw.Src)
	}
	return sheet
}

// SavePNG writes an image as a PNG file.
func SavePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "viz: create %s", path)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return errors.Wrapf(err, "viz: encode %s", path)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "viz: close %s", path)
	}
	return nil
}
