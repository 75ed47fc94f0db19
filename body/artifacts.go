package body

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
)

// Artifacts holds the pre-trained matrices of the skeleton model. All
// arrays are flat row-major and immutable once loaded; every forward pass
// of the process shares one instance.
type Artifacts struct {
	VertexCount     int
	SkelVertexCount int

	Template       []float64 // V x 3 rest-pose skin template
	ShapeDirs      []float64 // (V*3) x NumBetas shape displacement basis
	JointRegressor []float64 // NumJoints x V rest-joint regressor
	AnatRegressor  []float64 // NumJoints x V anatomical-joint regressor
	Weights        []float64 // V x NumJoints skinning weights
	ChannelAxes    []float64 // NumPoseDOF x 3 per-channel rotation axes
	SkinFaces      []int32   // F x 3 skin mesh triangles

	SkelTemplate []float64 // Vs x 3 skeleton mesh template
	SkelWeights  []float64 // Vs x NumJoints rigid bone attachment
	SkelFaces    []int32   // Fs x 3 skeleton mesh triangles
}

// SourceArtifacts holds the matrices of the source surface model whose
// meshes are fitted against.
type SourceArtifacts struct {
	VertexCount int

	Template       []float64 // V x 3
	ShapeDirs      []float64 // (V*3) x NumBetas
	JointRegressor []float64 // NumJoints x V
	Weights        []float64 // V x NumJoints
	Faces          []int32   // F x 3
}

// Validate checks array shapes against the vertex counts and model
// constants. Loaded artifacts are validated before first use.
func (a *Artifacts) Validate() error {
	v := a.VertexCount
	if v < 1 {
		return errors.Errorf("body: artifact vertex count must be positive, got %d", v)
	}
	if len(a.Template) != v*3 {
		return errors.Errorf("body: template has %d values, want %d", len(a.Template), v*3)
	}
	if len(a.ShapeDirs) != v*3*NumBetas {
		return errors.Errorf("body: shapedirs has %d values, want %d", len(a.ShapeDirs), v*3*NumBetas)
	}
	if len(a.JointRegressor) != NumJoints*v {
		return errors.Errorf("body: joint regressor has %d values, want %d", len(a.JointRegressor), NumJoints*v)
	}
	if len(a.AnatRegressor) != NumJoints*v {
		return errors.Errorf("body: anatomical regressor has %d values, want %d", len(a.AnatRegressor), NumJoints*v)
	}
	if len(a.Weights) != v*NumJoints {
		return errors.Errorf("body: weights has %d values, want %d", len(a.Weights), v*NumJoints)
	}
	if len(a.ChannelAxes) != 0 && len(a.ChannelAxes) != NumPoseDOF*3 {
		return errors.Errorf("body: channel axes has %d values, want %d", len(a.ChannelAxes), NumPoseDOF*3)
	}
	if err := checkFaces(a.SkinFaces, v); err != nil {
		return errors.Wrap(err, "body: skin faces")
	}
	vs := a.SkelVertexCount
	if vs > 0 {
		if len(a.SkelTemplate) != vs*3 {
			return errors.Errorf("body: skeleton template has %d values, want %d", len(a.SkelTemplate), vs*3)
		}
		if len(a.SkelWeights) != vs*NumJoints {
			return errors.Errorf("body: skeleton weights has %d values, want %d", len(a.SkelWeights), vs*NumJoints)
		}
		if err := checkFaces(a.SkelFaces, vs); err != nil {
			return errors.Wrap(err, "body: skeleton faces")
		}
	}
	return nil
}

// Axes returns the per-channel rotation axes, falling back to the
// canonical table when the artifact file carries none.
func (a *Artifacts) Axes() []float64 {
	if len(a.ChannelAxes) == NumPoseDOF*3 {
		return a.ChannelAxes
	}
	return DefaultChannelAxes()
}

// Validate checks source artifact shapes.
func (a *SourceArtifacts) Validate() error {
	v := a.VertexCount
	if v < 1 {
		return errors.Errorf("body: source vertex count must be positive, got %d", v)
	}
	if len(a.Template) != v*3 {
		return errors.Errorf("body: source template has %d values, want %d", len(a.Template), v*3)
	}
	if len(a.ShapeDirs) != v*3*NumBetas {
		return errors.Errorf("body: source shapedirs has %d values, want %d", len(a.ShapeDirs), v*3*NumBetas)
	}
	if len(a.JointRegressor) != NumJoints*v {
		return errors.Errorf("body: source joint regressor has %d values, want %d", len(a.JointRegressor), NumJoints*v)
	}
	if len(a.Weights) != v*NumJoints {
		return errors.Errorf("body: source weights has %d values, want %d", len(a.Weights), v*NumJoints)
	}
	if err := checkFaces(a.Faces, v); err != nil {
		return errors.Wrap(err, "body: source faces")
	}
	return nil
}

func checkFaces(faces []int32, verts int) error {
	if len(faces)%3 != 0 {
		return errors.Errorf("face array length %d is not a multiple of 3", len(faces))
	}
	for i, f := range faces {
		if f < 0 || int(f) >= verts {
			return errors.Errorf("face index %d at position %d out of range [0, %d)", f, i, verts)
		}
	}
	return nil
}

// Artifact files are a flat container of named arrays:
//
//	magic "SKAF" | version u32 | count u32 |
//	repeat: nameLen u16 | name | dtype u8 | ndim u8 | dims []u32 | payload
//
// dtype 0 is float64, dtype 1 is int32; all values little-endian.
const artifactMagic = "SKAF"

const artifactVersion = 1

const (
	dtypeFloat64 = 0
	dtypeInt32   = 1
)

type namedArray struct {
	dims    []int
	floats  []float64
	ints    []int32
	isInt32 bool
}

// LoadArtifacts reads a skeleton artifact container from path and
// validates it.
//
// Arguments:
// - path: Artifact container file produced by Save or by the conversion tooling.
//
// Returns:
// - The validated artifacts, or an error describing the first problem found.
func LoadArtifacts(path string) (*Artifacts, error) {
	arrays, err := readContainer(path)
	if err != nil {
		return nil, err
	}
	a := &Artifacts{}
	if err := assign(arrays, "template", &a.Template); err != nil {
		return nil, err
	}
	a.VertexCount = len(a.Template) / 3
	required := []struct {
		name string
		dst  *[]float64
	}{
		{"shapedirs", &a.ShapeDirs},
		{"joint_regressor", &a.JointRegressor},
		{"anat_regressor", &a.AnatRegressor},
		{"weights", &a.Weights},
	}
	for _, r := range required {
		if err := assign(arrays, r.name, r.dst); err != nil {
			return nil, err
		}
	}
	// Optional sections.
	assignOptional(arrays, "channel_axes", &a.ChannelAxes)
	assignOptionalInt(arrays, "skin_faces", &a.SkinFaces)
	if arr, ok := arrays["skel_template"]; ok {
		a.SkelTemplate = arr.floats
		a.SkelVertexCount = len(arr.floats) / 3
		if err := assign(arrays, "skel_weights", &a.SkelWeights); err != nil {
			return nil, err
		}
		assignOptionalInt(arrays, "skel_faces", &a.SkelFaces)
	}
	if err := a.Validate(); err != nil {
		return nil, errors.Wrapf(err, "body: artifact file %s", path)
	}
	return a, nil
}

// LoadSourceArtifacts reads a source-model artifact container from path.
func LoadSourceArtifacts(path string) (*SourceArtifacts, error) {
	arrays, err := readContainer(path)
	if err != nil {
		return nil, err
	}
	a := &SourceArtifacts{}
	if err := assign(arrays, "template", &a.Template); err != nil {
		return nil, err
	}
	a.VertexCount = len(a.Template) / 3
	for _, r := range []struct {
		name string
		dst  *[]float64
	}{
		{"shapedirs", &a.ShapeDirs},
		{"joint_regressor", &a.JointRegressor},
		{"weights", &a.Weights},
	} {
		if err := assign(arrays, r.name, r.dst); err != nil {
			return nil, err
		}
	}
	assignOptionalInt(arrays, "faces", &a.Faces)
	if err := a.Validate(); err != nil {
		return nil, errors.Wrapf(err, "body: source artifact file %s", path)
	}
	return a, nil
}

func assign(arrays map[string]namedArray, name string, dst *[]float64) error {
	arr, ok := arrays[name]
	if !ok {
		return errors.Errorf("body: artifact container is missing %q", name)
	}
	if arr.isInt32 {
		return errors.Errorf("body: artifact %q has integer type, want float64", name)
	}
	*dst = arr.floats
	return nil
}

func assignOptional(arrays map[string]namedArray, name string, dst *[]float64) {
	if arr, ok := arrays[name]; ok && !arr.isInt32 {
		*dst = arr.floats
	}
}

func assignOptionalInt(arrays map[string]namedArray, name string, dst *[]int32) {
	if arr, ok := arrays[name]; ok && arr.isInt32 {
		*dst = arr.ints
	}
}

func readContainer(path string) (map[string]namedArray, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "body: open artifact container")
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, errors.Wrap(err, "body: read artifact magic")
	}
	if string(magic[:]) != artifactMagic {
		return nil, errors.Errorf("body: %s is not an artifact container (magic %q)", path, magic)
	}
	var version, count uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, errors.Wrap(err, "body: read artifact version")
	}
	if version != artifactVersion {
		return nil, errors.Errorf("body: unsupported artifact version %d", version)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, errors.Wrap(err, "body: read artifact count")
	}

	arrays := make(map[string]namedArray, count)
	for i := uint32(0); i < count; i++ {
		var nameLen uint16
		if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
			return nil, errors.Wrapf(err, "body: read array %d name length", i)
		}
		nameBytes := make([]byte, nameLen)
		if _, err := io.ReadFull(r, nameBytes); err != nil {
			return nil, errors.Wrapf(err, "body: read array %d name", i)
		}
		var dtype, ndim uint8
		if err := binary.Read(r, binary.LittleEndian, &dtype); err != nil {
			return nil, errors.Wrapf(err, "body: read array %q dtype", nameBytes)
		}
		if err := binary.Read(r, binary.LittleEndian, &ndim); err != nil {
			return nil, errors.Wrapf(err, "body: read array %q ndim", nameBytes)
		}
		dims := make([]int, ndim)
		size := 1
		for d := range dims {
			var v uint32
			if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
				return nil, errors.Wrapf(err, "body: read array %q dims", nameBytes)
			}
			dims[d] = int(v)
			size *= int(v)
		}
		arr := namedArray{dims: dims}
		switch dtype {
		case dtypeFloat64:
			arr.floats = make([]float64, size)
			if err := binary.Read(r, binary.LittleEndian, arr.floats); err != nil {
				return nil, errors.Wrapf(err, "body: read array %q payload", nameBytes)
			}
		case dtypeInt32:
			arr.isInt32 = true
			arr.ints = make([]int32, size)
			if err := binary.Read(r, binary.LittleEndian, arr.ints); err != nil {
				return nil, errors.Wrapf(err, "body: read array %q payload", nameBytes)
			}
		default:
			return nil, errors.Errorf("body: array %q has unknown dtype %d", nameBytes, dtype)
		}
		arrays[string(nameBytes)] = arr
	}
	return arrays, nil
}

// Save writes the artifacts to path in container format, round-tripping
// with LoadArtifacts.
func (a *Artifacts) Save(path string) error {
	w := newContainerWriter()
	w.addFloat("template", []int{a.VertexCount, 3}, a.Template)
	w.addFloat("shapedirs", []int{a.VertexCount * 3, NumBetas}, a.ShapeDirs)
	w.addFloat("joint_regressor", []int{NumJoints, a.VertexCount}, a.JointRegressor)
	w.addFloat("anat_regressor", []int{NumJoints, a.VertexCount}, a.AnatRegressor)
	w.addFloat("weights", []int{a.VertexCount, NumJoints}, a.Weights)
	if len(a.ChannelAxes) > 0 {
		w.addFloat("channel_axes", []int{NumPoseDOF, 3}, a.ChannelAxes)
	}
	if len(a.SkinFaces) > 0 {
		w.addInt("skin_faces", []int{len(a.SkinFaces) / 3, 3}, a.SkinFaces)
	}
	if a.SkelVertexCount > 0 {
		w.addFloat("skel_template", []int{a.SkelVertexCount, 3}, a.SkelTemplate)
		w.addFloat("skel_weights", []int{a.SkelVertexCount, NumJoints}, a.SkelWeights)
		if len(a.SkelFaces) > 0 {
			w.addInt("skel_faces", []int{len(a.SkelFaces) / 3, 3}, a.SkelFaces)
		}
	}
	return w.writeTo(path)
}

// Save writes the source artifacts to path in container format.
func (a *SourceArtifacts) Save(path string) error {
	w := newContainerWriter()
	w.addFloat("template", []int{a.VertexCount, 3}, a.Template)
	w.addFloat("shapedirs", []int{a.VertexCount * 3, NumBetas}, a.ShapeDirs)
	w.addFloat("joint_regressor", []int{NumJoints, a.VertexCount}, a.JointRegressor)
	w.addFloat("weights", []int{a.VertexCount, NumJoints}, a.Weights)
	if len(a.Faces) > 0 {
		w.addInt("faces", []int{len(a.Faces) / 3, 3}, a.Faces)
	}
	return w.writeTo(path)
}

type containerEntry struct {
	name  string
	dims  []int
	fdata []float64
	idata []int32
	isInt bool
}

type containerWriter struct {
	entries []containerEntry
}

func newContainerWriter() *containerWriter {
	return &containerWriter{}
}

func (w *containerWriter) addFloat(name string, dims []int, data []float64) {
	w.entries = append(w.entries, containerEntry{name: name, dims: dims, fdata: data})
}

func (w *containerWriter) addInt(name string, dims []int, data []int32) {
	w.entries = append(w.entries, containerEntry{name: name, dims: dims, idata: data, isInt: true})
}

func (w *containerWriter) writeTo(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "body: create artifact container")
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if _, err := bw.WriteString(artifactMagic); err != nil {
		return errors.Wrap(err, "body: write artifact magic")
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(artifactVersion)); err != nil {
		return errors.Wrap(err, "body: write artifact version")
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(w.entries))); err != nil {
		return errors.Wrap(err, "body: write artifact count")
	}
	for _, e := range w.entries {
		if err := binary.Write(bw, binary.LittleEndian, uint16(len(e.name))); err != nil {
			return errors.Wrapf(err, "body: write %q name length", e.name)
		}
		if _, err := bw.WriteString(e.name); err != nil {
			return errors.Wrapf(err, "body: write %q name", e.name)
		}
		dtype := uint8(dtypeFloat64)
		if e.isInt {
			dtype = dtypeInt32
		}
		if err := binary.Write(bw, binary.LittleEndian, dtype); err != nil {
			return errors.Wrapf(err, "body: write %q dtype", e.name)
		}
		if err := binary.Write(bw, binary.LittleEndian, uint8(len(e.dims))); err != nil {
			return errors.Wrapf(err, "body: write %q ndim", e.name)
		}
		for _, d := range e.dims {
			if err := binary.Write(bw, binary.LittleEndian, uint32(d)); err != nil {
				return errors.Wrapf(err, "body: write %q dims", e.name)
			}
		}
		if e.isInt {
			err = binary.Write(bw, binary.LittleEndian, e.idata)
		} else {
			err = binary.Write(bw, binary.LittleEndian, e.fdata)
		}
		if err != nil {
			return errors.Wrapf(err, "body: write %q payload", e.name)
		}
	}
	if err := bw.Flush(); err != nil {
		return errors.Wrap(err, "body: flush artifact container")
	}
	return nil
}
