package main

import (
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/pkg/errors"

	"github.com/mocap-ai/go-skelfit/benchmark"
	"github.com/mocap-ai/go-skelfit/body"
	"github.com/mocap-ai/go-skelfit/common"
	"github.com/mocap-ai/go-skelfit/fit"
	"github.com/mocap-ai/go-skelfit/mesh"
	"github.com/mocap-ai/go-skelfit/mot"
	"github.com/mocap-ai/go-skelfit/profiler"
	"github.com/mocap-ai/go-skelfit/sequence"
	"github.com/mocap-ai/go-skelfit/util"
	"github.com/mocap-ai/go-skelfit/viz"
)

const (
	// DefaultFrames is the demo sequence length when no motion file is given.
	DefaultFrames = 20
	// DefaultFPS fills the time column of saved motions and paces playback.
	DefaultFPS = 30
	// DefaultOutputDir receives the fitted motion, meshes, and snapshots.
	DefaultOutputDir = "fit_output"
	// SheetThumbWidth is the thumbnail width on the snapshot contact sheet.
	SheetThumbWidth = 160
	// SheetMaxFrames caps how many frames the contact sheet samples.
	SheetMaxFrames = 16
)

// runSettings carries the flags shared by single-sequence and directory mode.
type runSettings struct {
	batchSize    int
	maxIter      float64
	numSteps     float64
	excessHeader int
	exportMeshes bool
	snapshots    bool
	saveMot      bool
	showWindow   bool
	fps          float64
}

func main() {
	var (
		motPath         string
		motDir          string
		onnxModelPath   string
		sourceArtifacts string
		skelArtifacts   string
		frames          int
		outputDir       string
		run             runSettings
	)
	flag.StringVar(&motPath, "mot", "", "Motion file (.mot) used to seed the fit; skips the warm start")
	flag.StringVar(&motDir, "mot-dir", "", "Directory of .mot files fitted in turn, each to its own output subdirectory")
	flag.IntVar(&run.excessHeader, "excess-header", 0, "Trailing header names to drop when reading motion files")
	flag.StringVar(&onnxModelPath, "onnx-model", "", "Path to ONNX source model (default: built-in synthetic models)")
	flag.StringVar(&sourceArtifacts, "source-artifacts", "", "Source artifact container for -onnx-model")
	flag.StringVar(&skelArtifacts, "skel-artifacts", "", "Skeleton artifact container for -onnx-model")
	flag.IntVar(&frames, "frames", DefaultFrames, "Demo sequence length (ignored when -mot or -mot-dir is given)")
	flag.IntVar(&run.batchSize, "batch-size", fit.DefaultBatchSize, "Frames optimized jointly per batch")
	flag.Float64Var(&run.maxIter, "max-iter", 0, "Inner iterations per optimizer step (0 keeps the presets)")
	flag.Float64Var(&run.numSteps, "num-steps", 0, "Outer optimizer steps per stage (0 keeps the presets)")
	flag.StringVar(&outputDir, "output-dir", DefaultOutputDir, "Output directory for fitted results")
	flag.BoolVar(&run.exportMeshes, "export-meshes", true, "Write per-frame OBJ meshes")
	flag.BoolVar(&run.snapshots, "snapshots", true, "Write a PNG contact sheet of fitted frames")
	flag.BoolVar(&run.saveMot, "save-mot", true, "Write the fitted motion as a .mot file")
	flag.Float64Var(&run.fps, "fps", DefaultFPS, "Frame rate for the saved motion and playback")
	flag.BoolVar(&run.showWindow, "show-window", false, "Play the fitted sequence in a window after the fit")
	flag.Parse()

	if motPath != "" && motDir != "" {
		log.Fatalf("-mot and -mot-dir are mutually exclusive")
	}

	source, model, cleanup, err := buildModels(onnxModelPath, sourceArtifacts, skelArtifacts)
	if err != nil {
		log.Fatalf("Failed to set up models: %v", err)
	}
	defer cleanup()

	var motFiles []string
	if motDir != "" {
		motFiles, err = util.DiscoverMotionFiles(motDir)
		if err != nil {
			log.Fatalf("Failed to scan %s: %v", motDir, err)
		}
		if len(motFiles) == 0 {
			log.Fatalf("No .mot files found in %s", motDir)
		}
		if run.showWindow {
			fmt.Println("⚠️  -show-window is ignored with -mot-dir")
			run.showWindow = false
		}
	}

	fmt.Printf("\n🚀 Skeleton Fitting Pipeline\n")
	fmt.Printf("=====================================\n")
	fmt.Printf("⚙️  Configuration:\n")
	switch {
	case motDir != "":
		fmt.Printf("   🦴 Seed motions: %d files from %s\n", len(motFiles), motDir)
	case motPath != "":
		fmt.Printf("   🦴 Seed motion: %s\n", motPath)
	default:
		fmt.Printf("   🎬 Frames: %d\n", frames)
		fmt.Printf("   🦴 Seed motion: none (two-stage fit)\n")
	}
	fmt.Printf("   📦 Batch size: %d\n", run.batchSize)
	if onnxModelPath != "" {
		fmt.Printf("   🤖 Source model: ONNX (%s)\n", onnxModelPath)
	} else {
		fmt.Printf("   🤖 Source model: synthetic\n")
	}
	if run.maxIter > 0 || run.numSteps > 0 {
		fmt.Printf("   🔧 Budget override: max_iter=%.0f num_steps=%.0f\n", run.maxIter, run.numSteps)
	}
	fmt.Printf("   💾 Output directory: %s\n", outputDir)
	fmt.Printf("=====================================\n\n")

	prof := profiler.New(profiler.Options{})

	if motDir != "" {
		failed := 0
		for _, path := range motFiles {
			name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			fmt.Printf("\n🎬 Fitting %s\n", path)
			if _, err := fitSequence(source, model, prof, filepath.Join(outputDir, name), path, 0, run); err != nil {
				log.Printf("Failed to fit %s: %v", path, err)
				failed++
			}
		}
		fmt.Println()
		prof.Report(os.Stdout)
		if failed == len(motFiles) {
			log.Fatalf("All %d sequences failed", len(motFiles))
		}
		if failed > 0 {
			fmt.Printf("\n⚠️  %d of %d sequences failed\n", failed, len(motFiles))
		}
		return
	}

	res, err := fitSequence(source, model, prof, outputDir, motPath, frames, run)
	if err != nil {
		log.Fatalf("Fit failed: %v", err)
	}

	fmt.Println()
	prof.Report(os.Stdout)

	if run.showWindow {
		if err := viz.Play(skinFrames(res.Meshes, res.Frames), viz.PlayerOptions{
			Title: "skelfit",
			FPS:   run.fps,
		}); err != nil {
			log.Fatalf("Playback failed: %v", err)
		}
	}
}

// fitSequence fits one sequence and writes the requested outputs under dir.
// When motPath is given it seeds the fit and determines the frame count,
// otherwise the built-in demo motion of the given length is used.
func fitSequence(source body.SourceModel, model *body.SKEL, prof *profiler.FitProfiler, dir, motPath string, frames int, run runSettings) (*fit.Result, error) {
	// The demo source motion drives the fit; a given .mot only seeds it.
	var init *fit.Init
	if motPath != "" {
		stop := prof.StartOperation("load_mot")
		doc := mot.Load(motPath, mot.LoadOptions{ExcessHeaderEntries: run.excessHeader})
		motion, err := mot.MapToSkel(doc)
		stop()
		if err != nil {
			return nil, errors.Wrapf(err, "map motion file %s", motPath)
		}
		frames = motion.Frames
		init = &fit.Init{Poses: motion.Poses, Trans: motion.Trans}
	}
	if frames < 1 {
		return nil, errors.Errorf("sequence length must be positive, got %d", frames)
	}
	trans, betas, poses := benchmark.SyntheticMotion(frames)
	if init != nil {
		init.Betas = broadcastBetas(betas, frames)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create output directory")
	}

	progress := newProgressObserver(numBatches(frames, run.batchSize))
	fitter, err := fit.NewFitter(source, model, fit.Options{
		Observers: []fit.Observer{prof, progress},
	})
	if err != nil {
		return nil, err
	}

	opts := fit.RunOptions{
		BatchSize:    run.batchSize,
		Init:         init,
		ExportMeshes: run.exportMeshes || run.snapshots || run.showWindow,
	}
	if run.maxIter > 0 || run.numSteps > 0 {
		budget := fit.Config{}
		if run.maxIter > 0 {
			budget[fit.KeyMaxIter] = run.maxIter
		}
		if run.numSteps > 0 {
			budget[fit.KeyNumSteps] = run.numSteps
		}
		opts.Warm = budget
		opts.Refine = budget
	}

	start := time.Now()
	res, err := fitter.RunFit(trans, betas, poses, opts)
	progress.Finish()
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	fmt.Printf("\n✅ Fit completed in %v (%.2f frames/s)\n", elapsed, float64(res.Frames)/elapsed.Seconds())
	for i, loss := range res.BatchLosses {
		fmt.Printf("   batch %d final loss %.6f\n", i, loss)
	}

	if run.saveMot {
		stop := prof.StartOperation("save_mot")
		err := saveFittedMotion(filepath.Join(dir, "fitted.mot"), res, run.fps)
		stop()
		if err != nil {
			return nil, errors.Wrap(err, "save fitted motion")
		}
		fmt.Printf("💾 Fitted motion saved to %s\n", filepath.Join(dir, "fitted.mot"))
	}

	if run.exportMeshes {
		stop := prof.StartOperation("export_meshes")
		err := exportMeshSequences(dir, res.Meshes, res.Frames)
		stop()
		if err != nil {
			return nil, errors.Wrap(err, "export meshes")
		}
		fmt.Printf("💾 Mesh sequences saved to %s\n", dir)
	}

	if run.snapshots {
		sheet := filepath.Join(dir, "contact_sheet.png")
		stop := prof.StartOperation("contact_sheet")
		err := writeContactSheet(sheet, res.Meshes, res.Frames)
		stop()
		if err != nil {
			return nil, errors.Wrap(err, "write contact sheet")
		}
		fmt.Printf("📊 Contact sheet saved to %s\n", sheet)
	}

	return res, nil
}

// buildModels returns the source and skeleton models, either the built-in
// synthetic pair or an ONNX-backed source with artifact containers from disk.
func buildModels(onnxModelPath, sourceArtifacts, skelArtifacts string) (body.SourceModel, *body.SKEL, func(), error) {
	if onnxModelPath == "" {
		source, err := body.NewSMPL(body.SyntheticSourceArtifacts())
		if err != nil {
			return nil, nil, nil, err
		}
		model, err := body.NewSKEL(body.SyntheticArtifacts())
		if err != nil {
			return nil, nil, nil, err
		}
		return source, model, func() {}, nil
	}

	if sourceArtifacts == "" || skelArtifacts == "" {
		return nil, nil, nil, fmt.Errorf("-onnx-model requires -source-artifacts and -skel-artifacts")
	}
	srcArt, err := body.LoadSourceArtifacts(sourceArtifacts)
	if err != nil {
		return nil, nil, nil, err
	}
	skelArt, err := body.LoadArtifacts(skelArtifacts)
	if err != nil {
		return nil, nil, nil, err
	}
	source, err := body.NewONNXSource(body.ONNXConfig{ModelPath: onnxModelPath}, srcArt)
	if err != nil {
		return nil, nil, nil, err
	}
	model, err := body.NewSKEL(skelArt)
	if err != nil {
		source.Close()
		return nil, nil, nil, err
	}
	return source, model, func() { source.Close() }, nil
}

// numBatches mirrors the fitter's batch partitioning for the progress bar.
func numBatches(frames, batchSize int) int {
	if batchSize <= 0 {
		batchSize = fit.DefaultBatchSize
	}
	if batchSize > frames {
		batchSize = frames
	}
	return (frames + batchSize - 1) / batchSize
}

func broadcastBetas(row []float64, frames int) []float64 {
	out := make([]float64, frames*body.NumBetas)
	for i := 0; i < frames; i++ {
		copy(out[i*body.NumBetas:(i+1)*body.NumBetas], row)
	}
	return out
}

func saveFittedMotion(path string, res *fit.Result, fps float64) error {
	motion := &mot.SkelMotion{Frames: res.Frames, Poses: res.Poses, Trans: res.Trans}
	doc, err := mot.FromSkel(motion, fps)
	if err != nil {
		return err
	}
	return mot.Save(path, doc)
}

// exportMeshSequences writes the fitted skeleton, fitted skin, and source
// surfaces as numbered OBJ files.
func exportMeshSequences(dir string, meshes *fit.Meshes, frames int) error {
	skel := make([][]float64, frames)
	skin := make([][]float64, frames)
	source := make([][]float64, frames)
	for i := 0; i < frames; i++ {
		skel[i] = meshes.SkelFrame(i)
		skin[i] = meshes.SkinFrame(i)
		source[i] = meshes.SourceFrame(i)
	}
	if err := mesh.WriteSequence(dir, "skel", skel, meshes.SkelFaces); err != nil {
		return err
	}
	if err := mesh.WriteSequence(dir, "skin", skin, meshes.SkinFaces); err != nil {
		return err
	}
	return mesh.WriteSequence(dir, "source", source, meshes.SourceFaces)
}

// writeContactSheet renders evenly sampled fitted skin frames into one PNG,
// framed by the shared bounds so the subject stays put between cells.
func writeContactSheet(path string, meshes *fit.Meshes, frames int) error {
	step := 1
	if frames > SheetMaxFrames {
		step = (frames + SheetMaxFrames - 1) / SheetMaxFrames
	}

	box := common.EmptyAABB()
	for i := 0; i < frames; i += step {
		box = box.Union(common.BoundsOf(meshes.SkinFrame(i)))
	}

	var thumbs []image.Image
	for i := 0; i < frames; i += step {
		img := viz.Snapshot(meshes.SkinFrame(i), viz.SnapshotOptions{Bounds: &box})
		thumbs = append(thumbs, viz.Thumbnail(img, SheetThumbWidth))
	}
	return viz.SavePNG(path, viz.ContactSheet(thumbs, 0))
}

func skinFrames(meshes *fit.Meshes, frames int) [][]float64 {
	out := make([][]float64, frames)
	for i := 0; i < frames; i++ {
		out[i] = meshes.SkinFrame(i)
	}
	return out
}

// progressObserver drives a console bar at batch granularity while the
// per-step loss lines stream from the fitting log.
type progressObserver struct {
	bar *pb.ProgressBar
}

func newProgressObserver(batches int) *progressObserver {
	return &progressObserver{bar: util.NewProgressBar(batches, "fitting")}
}

func (p *progressObserver) OnBatchStart(batch int, stage fit.Stage, init fit.Snapshot) {
	p.bar.Set("prefix", fmt.Sprintf("batch %d %s", batch, stage))
}

func (p *progressObserver) OnStep(batch int, stage fit.Stage, step, numSteps int, loss float64, detail fit.Breakdown) {
}

func (p *progressObserver) OnBatchEnd(batch int, frames sequence.Range, loss float64) {
	p.bar.Increment()
}

func (p *progressObserver) Finish() {
	p.bar.Finish()
}
