package printer

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

const progressBarWidth = 40

// ProgressBar renders a task progress on a single terminal line.
type ProgressBar struct {
	w     io.Writer
	label string
	last  int
	mu    sync.Mutex
}

// NewProgressBar creates a new progress bar that writes to w.
func NewProgressBar(w io.Writer, label string) *ProgressBar {
	return &ProgressBar{w: w, label: label, last: -1}
}

// Update renders the progress, in [0, 1]. Only changes of a full percent are rendered.
func (pb *ProgressBar) Update(progress float64) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	pct := int(min(max(progress, 0), 1) * 100)
	if pct == pb.last {
		return
	}
	pb.last = pct

	filled := pct * progressBarWidth / 100
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", progressBarWidth-filled)
	fmt.Fprintf(pb.w, "\r  %s [%s] %3d%%", pb.label, bar, pct)
}

// Finish ends the progress line.
func (pb *ProgressBar) Finish() {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	if pb.last >= 0 {
		fmt.Fprintln(pb.w)
	}
}
