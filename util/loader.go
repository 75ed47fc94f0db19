// Package util - Input discovery and console progress helpers shared by the
// command line tools.
package util

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// FrameFile is one file of a numbered frame sequence.
type FrameFile struct {
	// Path is the path to the frame file.
	Path string
	// Frame is the frame number parsed from the file name.
	Frame int
}

// DiscoverMotionFiles lists the .mot files directly under a directory,
// sorted by name. Subdirectories are not descended into.
//
// Arguments:
// - dir: Directory to scan.
//
// Returns:
// - []string: Paths of the motion files found.
// - error: Error if the directory cannot be read.
func DiscoverMotionFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "util: read %s", dir)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".mot") {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	return paths, nil
}

// DiscoverFrameFiles lists the files of a numbered sequence named
// prefix_<frame><ext>, sorted by frame number. Files that do not carry the
// prefix and extension are skipped; a matching file whose frame part is not
// numeric is an error.
//
// Arguments:
// - dir: Directory to scan.
// - prefix: Sequence prefix, e.g. "skin".
// - ext: File extension including the dot, e.g. ".obj".
//
// Returns:
// - []FrameFile: The sequence files in frame order.
// - error: Error if the directory cannot be read or a name is malformed.
func DiscoverFrameFiles(dir, prefix, ext string) ([]FrameFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "util: read %s", dir)
	}

	var frames []FrameFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, prefix+"_") || !strings.EqualFold(filepath.Ext(name), ext) {
			continue
		}
		num := strings.TrimSuffix(strings.TrimPrefix(name, prefix+"_"), filepath.Ext(name))
		frame, err := strconv.Atoi(num)
		if err != nil {
			return nil, errors.Wrapf(err, "util: frame number in %s", name)
		}
		frames = append(frames, FrameFile{
			Path:  filepath.Join(dir, name),
			Frame: frame,
		})
	}

	sort.Slice(frames, func(i, j int) bool {
		return frames[i].Frame < frames[j].Frame
	})

	return frames, nil
}
