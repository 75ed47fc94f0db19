// Package mot - Reading, writing, and mapping of whitespace-delimited motion
// storage files (.mot). A storage file carries free-form header lines, an
// "endheader" marker, a row of column names, and numeric frame rows. Loading
// is tolerant: missing or malformed files produce an empty document and a
// logged diagnostic rather than an error, so batch pipelines can skip bad
// inputs and keep going.
package mot

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// endHeaderMarker separates the free-form header from the column-name row.
const endHeaderMarker = "endheader"

// Document is an in-memory motion storage file. Values are kept in float32,
// matching the precision of the capture pipelines that produce these files.
type Document struct {
	// Meta holds the raw header lines preceding the endheader marker.
	Meta []string
	// Columns names each data column, time column included.
	Columns []string
	// Data holds the frame rows, Rows x len(Columns), row major.
	Data []float32
}

// Empty reports whether the document carries no frames.
func (d *Document) Empty() bool {
	return d == nil || len(d.Columns) == 0 || len(d.Data) == 0
}

// Rows returns the number of frame rows.
func (d *Document) Rows() int {
	if d == nil || len(d.Columns) == 0 {
		return 0
	}
	return len(d.Data) / len(d.Columns)
}

// ColumnIndex returns the index of the named column, or -1 if absent.
func (d *Document) ColumnIndex(name string) int {
	if d == nil {
		return -1
	}
	for i, c := range d.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Value returns the cell at the given row and column.
func (d *Document) Value(row, col int) float32 {
	return d.Data[row*len(d.Columns)+col]
}

// Column copies out the named column, one value per frame. The second return
// is false if the column does not exist.
func (d *Document) Column(name string) ([]float32, bool) {
	ci := d.ColumnIndex(name)
	if ci < 0 {
		return nil, false
	}
	out := make([]float32, d.Rows())
	for r := range out {
		out[r] = d.Value(r, ci)
	}
	return out, true
}

// LoadOptions controls storage file parsing.
type LoadOptions struct {
	// ExcessHeaderEntries drops that many trailing names from the column row
	// before reading data. Some exporters emit more column names than data
	// columns; the surplus names are always the trailing ones.
	ExcessHeaderEntries int
}

// Load reads a motion storage file.
//
// Arguments:
// - path: Path to the .mot file.
// - opts: Parsing options, zero value for defaults.
//
// Returns:
// - *Document: Parsed document. Empty (never nil) when the file is missing or
//   malformed, with a logged diagnostic.
func Load(path string, opts LoadOptions) *Document {
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Printf("mot: read %s: %v", path, err)
		return &Document{}
	}
	doc, err := parse(raw, opts)
	if err != nil {
		log.Printf("mot: parse %s: %v", path, err)
		return &Document{}
	}
	return doc
}

// ReadHeader returns the column names of a motion storage file without
// reading its frame rows. Missing or malformed files yield an empty slice
// and a logged diagnostic.
func ReadHeader(path string) []string {
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Printf("mot: read header %s: %v", path, err)
		return nil
	}
	lines := splitLines(string(raw))
	_, cols, _, err := headerOf(lines)
	if err != nil {
		log.Printf("mot: read header %s: %v", path, err)
		return nil
	}
	return cols
}

func parse(raw []byte, opts LoadOptions) (*Document, error) {
	lines := splitLines(string(raw))
	meta, cols, body, err := headerOf(lines)
	if err != nil {
		return nil, err
	}

	if n := opts.ExcessHeaderEntries; n > 0 {
		if n >= len(cols) {
			return nil, errors.Errorf("%d excess header entries leave no columns (header has %d)", n, len(cols))
		}
		cols = cols[:len(cols)-n]
	}

	data := make([]float32, 0, len(body)*len(cols))
	for i, line := range body {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != len(cols) {
			return nil, errors.Errorf("row %d has %d values, want %d", i, len(fields), len(cols))
		}
		for _, f := range fields {
			v, err := strconv.ParseFloat(f, 32)
			if err != nil {
				return nil, errors.Wrapf(err, "row %d", i)
			}
			data = append(data, float32(v))
		}
	}

	return &Document{Meta: meta, Columns: cols, Data: data}, nil
}

// headerOf splits the file lines into header lines, column names, and the
// remaining body lines.
func headerOf(lines []string) (meta []string, cols []string, body []string, err error) {
	end := -1
	for i, line := range lines {
		if strings.Contains(line, endHeaderMarker) {
			end = i
			break
		}
	}
	if end < 0 {
		return nil, nil, nil, errors.New("no endheader marker")
	}
	if end+1 >= len(lines) {
		return nil, nil, nil, errors.New("no column names after endheader")
	}
	cols = strings.Fields(lines[end+1])
	if len(cols) == 0 {
		return nil, nil, nil, errors.New("empty column name row")
	}
	return lines[:end], cols, lines[end+2:], nil
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(s, "\n")
}

// Save writes a document as a motion storage file. When the document carries
// no header lines a minimal standard header is synthesized.
//
// Arguments:
// - path: Destination file path.
// - doc: Document to write.
//
// Returns:
// - error: Error if the document is empty or writing fails.
func Save(path string, doc *Document) error {
	if doc.Empty() {
		return errors.New("mot: refusing to save empty document")
	}

	var sb strings.Builder
	meta := doc.Meta
	if len(meta) == 0 {
		meta = []string{
			"motion",
			"version=1",
			fmt.Sprintf("nRows=%d", doc.Rows()),
			fmt.Sprintf("nColumns=%d", len(doc.Columns)),
			"inDegrees=yes",
		}
	}
	for _, line := range meta {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	sb.WriteString(endHeaderMarker)
	sb.WriteByte('\n')
	sb.WriteString(strings.Join(doc.Columns, "\t"))
	sb.WriteByte('\n')

	cols := len(doc.Columns)
	for r := 0; r < doc.Rows(); r++ {
		for c := 0; c < cols; c++ {
			if c > 0 {
				sb.WriteByte('\t')
			}
			sb.WriteString(strconv.FormatFloat(float64(doc.Value(r, c)), 'g', -1, 32))
		}
		sb.WriteByte('\n')
	}

	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return errors.Wrapf(err, "mot: write %s", path)
	}
	return nil
}
