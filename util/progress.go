package util

import "github.com/cheggaaa/pb/v3"

// progressTemplate shows the batch prefix, counters, the bar itself, and
// elapsed plus remaining time estimates.
const progressTemplate = `{{ string . "prefix" }} {{counters . "%s/%s" "%s/?"}} {{bar . }} {{percent . }} {{etime . "%s elapsed"}} {{rtime . "%s remain" "%s total" "???"}}`

// NewProgressBar starts a console progress bar over a known total.
//
// Arguments:
// - total: Number of units of work.
// - prefix: Short label shown before the bar.
//
// Returns:
// - *pb.ProgressBar: Started bar; callers Increment() per unit and Finish().
func NewProgressBar(total int, prefix string) *pb.ProgressBar {
	bar := pb.ProgressBarTemplate(progressTemplate).Start(total)
	bar.Set("prefix", prefix)
	return bar
}
