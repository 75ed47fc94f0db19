// Package mesh - Wavefront OBJ export and import for fitted body surfaces.
// Export covers single meshes and numbered frame sequences; import reads the
// vertex and face statements back for playback tools.
package mesh

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// WriteOBJ writes one triangle mesh as OBJ statements.
//
// Arguments:
// - w: Destination writer.
// - verts: Flat vertex buffer, V x 3.
// - faces: Triangle corner indices, F x 3, zero based.
//
// Returns:
// - error: Error if the buffers are malformed or writing fails.
func WriteOBJ(w io.Writer, verts []float64, faces []int32) error {
	if len(verts)%3 != 0 {
		return errors.Errorf("mesh: vertex buffer length %d is not a multiple of 3", len(verts))
	}
	if len(faces)%3 != 0 {
		return errors.Errorf("mesh: face buffer length %d is not a multiple of 3", len(faces))
	}
	nv := int32(len(verts) / 3)
	for _, idx := range faces {
		if idx < 0 || idx >= nv {
			return errors.Errorf("mesh: face index %d out of range for %d vertices", idx, nv)
		}
	}

	bw := bufio.NewWriter(w)
	for i := 0; i < len(verts); i += 3 {
		fmt.Fprintf(bw, "v %g %g %g\n", verts[i], verts[i+1], verts[i+2])
	}
	for i := 0; i < len(faces); i += 3 {
		// OBJ indices are one based.
		fmt.Fprintf(bw, "f %d %d %d\n", faces[i]+1, faces[i+1]+1, faces[i+2]+1)
	}
	if err := bw.Flush(); err != nil {
		return errors.Wrap(err, "mesh: write obj")
	}
	return nil
}

// SaveOBJ writes one triangle mesh to a file.
func SaveOBJ(path string, verts []float64, faces []int32) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "mesh: create %s", path)
	}
	if err := WriteOBJ(f, verts, faces); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "mesh: close %s", path)
	}
	return nil
}

// WriteSequence writes one OBJ file per frame into a directory, named
// prefix_0000.obj, prefix_0001.obj and so on. The directory is created if
// needed.
//
// Arguments:
// - dir: Destination directory.
// - prefix: File name prefix.
// - frames: One flat V x 3 vertex buffer per frame.
// - faces: Shared triangle table for all frames.
//
// Returns:
// - error: Error on the first frame that fails to write.
func WriteSequence(dir, prefix string, frames [][]float64, faces []int32) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "mesh: create directory %s", dir)
	}
	for i, verts := range frames {
		path := filepath.Join(dir, fmt.Sprintf("%s_%04d.obj", prefix, i))
		if err := SaveOBJ(path, verts, faces); err != nil {
			return errors.Wrapf(err, "mesh: frame %d", i)
		}
	}
	return nil
}

// ReadOBJ reads vertex and triangle statements from an OBJ file. Texture and
// normal references after a slash are ignored; statements other than v and f
// are skipped.
//
// Arguments:
// - path: OBJ file path.
//
// Returns:
// - []float64: Flat vertex buffer, V x 3.
// - []int32: Triangle corner indices, zero based.
// - error: Error if the file is missing or a statement is malformed.
func ReadOBJ(path string) ([]float64, []int32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "mesh: open %s", path)
	}
	defer f.Close()

	var verts []float64
	var faces []int32
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "v":
			if len(fields) < 4 {
				return nil, nil, errors.Errorf("mesh: %s line %d: short vertex statement", path, line)
			}
			for _, s := range fields[1:4] {
				v, err := strconv.ParseFloat(s, 64)
				if err != nil {
					return nil, nil, errors.Wrapf(err, "mesh: %s line %d", path, line)
				}
				verts = append(verts, v)
			}
		case "f":
			if len(fields) != 4 {
				return nil, nil, errors.Errorf("mesh: %s line %d: only triangle faces are supported", path, line)
			}
			for _, s := range fields[1:4] {
				if k := strings.IndexByte(s, '/'); k >= 0 {
					s = s[:k]
				}
				idx, err := strconv.Atoi(s)
				if err != nil {
					return nil, nil, errors.Wrapf(err, "mesh: %s line %d", path, line)
				}
				if idx < 1 || idx > len(verts)/3 {
					return nil, nil, errors.Errorf("mesh: %s line %d: face index %d out of range", path, line, idx)
				}
				faces = append(faces, int32(idx-1))
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, errors.Wrapf(err, "mesh: read %s", path)
	}
	return verts, faces, nil
}
