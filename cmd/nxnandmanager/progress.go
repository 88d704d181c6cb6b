package main

import (
	"fmt"
	"os"

	"github.com/minkione/NxNandManager/copyengine"
)

// renderProgress draws a fixed-width, carriage-return-driven bar to stdout,
// the same text-progress style as a terminal install script: no cursor
// positioning, no external TUI library.
func renderProgress(p copyengine.ProgressInfo) {
	const barWidth = 40

	var fraction float64
	if p.BytesTotal > 0 {
		fraction = float64(p.BytesCount) / float64(p.BytesTotal)
	}
	if fraction > 1 {
		fraction = 1
	}

	filled := int(fraction * barWidth)
	bar := make([]byte, barWidth)
	for i := range bar {
		if i < filled {
			bar[i] = '='
		} else {
			bar[i] = ' '
		}
	}

	fmt.Fprintf(os.Stdout, "\r[%s] %3.0f%% %s  %d/%d bytes",
		bar, fraction*100, p.Mode, p.BytesCount, p.BytesTotal)
}

// finishProgress moves past the in-place bar once an operation completes.
func finishProgress() {
	fmt.Fprintln(os.Stdout)
}
