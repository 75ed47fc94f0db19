package main

import (
	"flag"
	"fmt"
	"log"
	"path/filepath"

	"github.com/mocap-ai/go-skelfit/body"
	"github.com/mocap-ai/go-skelfit/mesh"
	"github.com/mocap-ai/go-skelfit/mot"
	"github.com/mocap-ai/go-skelfit/util"
	"github.com/mocap-ai/go-skelfit/viz"
)

func main() {
	var (
		dir          string
		prefix       string
		motPath      string
		excessHeader int
		artifacts    string
		fps          float64
		size         int
	)
	flag.StringVar(&dir, "dir", "", "Directory of numbered OBJ frames to play")
	flag.StringVar(&prefix, "prefix", "skin", "Frame file prefix inside -dir")
	flag.StringVar(&motPath, "mot", "", "Motion file (.mot) played through the skeleton model")
	flag.IntVar(&excessHeader, "excess-header", 0, "Trailing header names to drop when reading the motion file")
	flag.StringVar(&artifacts, "skel-artifacts", "", "Skeleton artifact container (default: built-in synthetic)")
	flag.Float64Var(&fps, "fps", 30, "Playback rate")
	flag.IntVar(&size, "size", 512, "Render canvas size in pixels")
	flag.Parse()

	if (dir == "") == (motPath == "") {
		log.Fatal("exactly one of -dir or -mot is required")
	}

	var (
		frames [][]float64
		title  string
		err    error
	)
	if dir != "" {
		frames, err = loadMeshFrames(dir, prefix)
		title = filepath.Base(dir)
	} else {
		frames, err = loadMotionFrames(motPath, excessHeader, artifacts)
		title = filepath.Base(motPath)
	}
	if err != nil {
		log.Fatalf("Failed to load frames: %v", err)
	}

	fmt.Printf("Playing %d frames (space pauses, arrows step, q quits)\n", len(frames))
	if err := viz.Play(frames, viz.PlayerOptions{Title: title, FPS: fps, Size: size}); err != nil {
		log.Fatalf("Playback failed: %v", err)
	}
}

// loadMeshFrames reads a numbered OBJ sequence into per-frame vertex buffers.
func loadMeshFrames(dir, prefix string) ([][]float64, error) {
	files, err := util.DiscoverFrameFiles(dir, prefix, ".obj")
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no %s_*.obj frames in %s", prefix, dir)
	}
	frames := make([][]float64, 0, len(files))
	for _, f := range files {
		verts, _, err := mesh.ReadOBJ(f.Path)
		if err != nil {
			return nil, err
		}
		frames = append(frames, verts)
	}
	return frames, nil
}

// loadMotionFrames maps a motion file onto the skeleton model and runs the
// forward pass, yielding the skin surface for every frame.
func loadMotionFrames(path string, excessHeader int, artifacts string) ([][]float64, error) {
	doc := mot.Load(path, mot.LoadOptions{ExcessHeaderEntries: excessHeader})
	motion, err := mot.MapToSkel(doc)
	if err != nil {
		return nil, err
	}

	art := body.SyntheticArtifacts()
	if artifacts != "" {
		art, err = body.LoadArtifacts(artifacts)
		if err != nil {
			return nil, err
		}
	}
	model, err := body.NewSKEL(art)
	if err != nil {
		return nil, err
	}

	betas := make([]float64, motion.Frames*body.NumBetas)
	res, err := model.Forward(motion.Poses, betas, motion.Trans, motion.Frames, body.ForwardOptions{})
	if err != nil {
		return nil, err
	}

	n := art.VertexCount * 3
	frames := make([][]float64, motion.Frames)
	for i := range frames {
		frames[i] = res.SkinVerts[i*n : (i+1)*n]
	}
	return frames, nil
}
