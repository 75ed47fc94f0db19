package sequence

import "fmt"

// Range is a half-open window [Start, End) of frame indices addressing a
// contiguous batch of a sequence.
type Range struct {
	Start int
	End   int
}

// Len returns the number of frames in the range.
func (r Range) Len() int {
	return r.End - r.Start
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End)
}

// Partition splits frames into ceil(frames/batchSize) contiguous,
// non-overlapping ranges that exactly cover [0, frames). The final range may
// be shorter than batchSize. A batchSize larger than the sequence yields a
// single full-sequence range. Returns nil when either argument is not
// positive.
func Partition(frames, batchSize int) []Range {
	if frames < 1 || batchSize < 1 {
		return nil
	}
	n := (frames + batchSize - 1) / batchSize
	ranges := make([]Range, 0, n)
	for start := 0; start < frames; start += batchSize {
		end := start + batchSize
		if end > frames {
			end = frames
		}
		ranges = append(ranges, Range{Start: start, End: end})
	}
	return ranges
}
