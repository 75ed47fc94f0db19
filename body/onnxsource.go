package body

import (
	"os"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXConfig configures an ONNX Runtime backed source model.
type ONNXConfig struct {
	// ModelPath is the path to the exported .onnx body model.
	ModelPath string
	// LibraryPath points at the onnxruntime shared library. When empty the
	// ONNXRUNTIME_SHARED_LIBRARY environment variable is consulted, then a
	// per-platform default under third_party/.
	LibraryPath string
	// BatchSize is the fixed frame count of the preallocated tensors.
	// Forward splits longer sequences into chunks of this size.
	BatchSize int
	// Input and output node names of the exported graph. Zero values select
	// the conventional poses/betas/trans -> vertices layout.
	PoseInput   string
	BetasInput  string
	TransInput  string
	VertsOutput string
}

func (c *ONNXConfig) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
	if c.PoseInput == "" {
		c.PoseInput = "poses"
	}
	if c.BetasInput == "" {
		c.BetasInput = "betas"
	}
	if c.TransInput == "" {
		c.TransInput = "trans"
	}
	if c.VertsOutput == "" {
		c.VertsOutput = "vertices"
	}
}

// defaultSharedLibPath returns the platform default onnxruntime library
// location, or an empty string when the platform has no bundled build.
func defaultSharedLibPath() string {
	if env := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY"); env != "" {
		return env
	}
	switch runtime.GOOS {
	case "windows":
		if runtime.GOARCH == "amd64" {
			return "third_party/onnxruntime.dll"
		}
	case "darwin":
		return "third_party/libonnxruntime.dylib"
	case "linux":
		if runtime.GOARCH == "arm64" {
			return "third_party/onnxruntime_arm64.so"
		}
		return "third_party/onnxruntime.so"
	}
	return ""
}

// ONNXSource runs a pretrained body model exported to ONNX. The graph maps
// (poses, betas, trans) batches to posed skin vertices; faces and skinning
// weights still come from the artifact file since the export carries only
// the differentiable part of the model.
type ONNXSource struct {
	art     *SourceArtifacts
	session *ort.AdvancedSession
	pose    *ort.Tensor[float32]
	betas   *ort.Tensor[float32]
	trans   *ort.Tensor[float32]
	verts   *ort.Tensor[float32]
	batch   int

	// The session reuses its preallocated tensors across Run calls, so
	// concurrent forwards must serialize.
	mu sync.Mutex
}

// NewONNXSource creates a source model backed by an ONNX Runtime session
// with preallocated input and output tensors.
//
// Arguments:
//   - cfg: Session configuration. ModelPath is required.
//   - art: Mesh artifacts providing vertex count, faces and skin weights.
//
// Returns:
//   - *ONNXSource: The ready-to-run source model. Callers own Close.
//   - error: An error if the runtime, tensors or session cannot be created.
func NewONNXSource(cfg ONNXConfig, art *SourceArtifacts) (*ONNXSource, error) {
	if art == nil {
		return nil, errors.New("onnx source: nil artifacts")
	}
	if err := art.Validate(); err != nil {
		return nil, errors.Wrap(err, "onnx source: artifacts")
	}
	if cfg.ModelPath == "" {
		return nil, errors.New("onnx source: empty model path")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, errors.Wrapf(err, "onnx source: model %s", cfg.ModelPath)
	}
	cfg.applyDefaults()

	libPath := cfg.LibraryPath
	if libPath == "" {
		libPath = defaultSharedLibPath()
	}
	if libPath == "" {
		return nil, errors.New("onnx source: no onnxruntime shared library for this platform, set ONNXRUNTIME_SHARED_LIBRARY")
	}
	if _, err := os.Stat(libPath); err != nil {
		return nil, errors.Wrapf(err, "onnx source: shared library %s", libPath)
	}

	if !ort.IsInitialized() {
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, errors.Wrap(err, "onnx source: initialize environment")
		}
	}

	b := int64(cfg.BatchSize)
	v := int64(art.VertexCount)

	pose, err := ort.NewEmptyTensor[float32](ort.NewShape(b, SourcePoseDim))
	if err != nil {
		return nil, errors.Wrap(err, "onnx source: pose tensor")
	}
	betas, err := ort.NewEmptyTensor[float32](ort.NewShape(b, NumBetas))
	if err != nil {
		pose.Destroy()
		return nil, errors.Wrap(err, "onnx source: betas tensor")
	}
	trans, err := ort.NewEmptyTensor[float32](ort.NewShape(b, TransDim))
	if err != nil {
		pose.Destroy()
		betas.Destroy()
		return nil, errors.Wrap(err, "onnx source: trans tensor")
	}
	verts, err := ort.NewEmptyTensor[float32](ort.NewShape(b, v, 3))
	if err != nil {
		pose.Destroy()
		betas.Destroy()
		trans.Destroy()
		return nil, errors.Wrap(err, "onnx source: output tensor")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		destroyAll(pose, betas, trans, verts)
		return nil, errors.Wrap(err, "onnx source: session options")
	}
	defer options.Destroy()
	options.SetIntraOpNumThreads(0)
	options.SetInterOpNumThreads(0)
	options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended)

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.PoseInput, cfg.BetasInput, cfg.TransInput},
		[]string{cfg.VertsOutput},
		[]ort.ArbitraryTensor{pose, betas, trans},
		[]ort.ArbitraryTensor{verts},
		options,
	)
	if err != nil {
		destroyAll(pose, betas, trans, verts)
		return nil, errors.Wrap(err, "onnx source: create session")
	}

	return &ONNXSource{
		art:     art,
		session: session,
		pose:    pose,
		betas:   betas,
		trans:   trans,
		verts:   verts,
		batch:   cfg.BatchSize,
	}, nil
}

func destroyAll(tensors ...ort.ArbitraryTensor) {
	for _, t := range tensors {
		t.Destroy()
	}
}

// Family reports the parameterization the exported graph expects.
func (s *ONNXSource) Family() Family { return FamilySMPL }

// VertexCount returns the number of skin vertices produced per frame.
func (s *ONNXSource) VertexCount() int { return s.art.VertexCount }

// Faces returns the triangle index list of the skin mesh.
func (s *ONNXSource) Faces() []int32 { return s.art.Faces }

// SkinWeights returns the per-vertex joint weights of the skin mesh.
func (s *ONNXSource) SkinWeights() []float64 { return s.art.Weights }

// Forward evaluates the exported graph for frames rows of parameters,
// chunking the sequence through the preallocated batch tensors.
func (s *ONNXSource) Forward(poses, betas, trans []float64, frames int) ([]float64, error) {
	if frames <= 0 {
		return nil, errors.Errorf("onnx source: frames must be positive, got %d", frames)
	}
	if len(poses) != frames*SourcePoseDim {
		return nil, errors.Errorf("onnx source: poses length %d, want %d", len(poses), frames*SourcePoseDim)
	}
	if len(betas) != frames*NumBetas {
		return nil, errors.Errorf("onnx source: betas length %d, want %d", len(betas), frames*NumBetas)
	}
	if len(trans) != frames*TransDim {
		return nil, errors.Errorf("onnx source: trans length %d, want %d", len(trans), frames*TransDim)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.art.VertexCount
	out := make([]float64, frames*v*3)
	for start := 0; start < frames; start += s.batch {
		n := frames - start
		if n > s.batch {
			n = s.batch
		}
		fillInput(s.pose.GetData(), poses[start*SourcePoseDim:], n, SourcePoseDim)
		fillInput(s.betas.GetData(), betas[start*NumBetas:], n, NumBetas)
		fillInput(s.trans.GetData(), trans[start*TransDim:], n, TransDim)
		if err := s.session.Run(); err != nil {
			return nil, errors.Wrapf(err, "onnx source: run frames [%d, %d)", start, start+n)
		}
		chunk := s.verts.GetData()
		for i := 0; i < n*v*3; i++ {
			out[start*v*3+i] = float64(chunk[i])
		}
	}
	return out, nil
}

// fillInput copies n rows of width stride into dst, zeroing the padding
// rows of the fixed-size tensor.
func fillInput(dst []float32, src []float64, n, stride int) {
	for i := 0; i < n*stride; i++ {
		dst[i] = float32(src[i])
	}
	for i := n * stride; i < len(dst); i++ {
		dst[i] = 0
	}
}

// Close releases the native session and its tensors.
func (s *ONNXSource) Close() error {
	if s.pose != nil {
		destroyAll(s.pose, s.betas, s.trans, s.verts)
		s.pose, s.betas, s.trans, s.verts = nil, nil, nil, nil
	}
	if s.session != nil {
		if err := s.session.Destroy(); err != nil {
			return errors.Wrap(err, "onnx source: destroy session")
		}
		s.session = nil
	}
	return nil
}
