package msg

import (
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	barWidth      = 40
	printInterval = 40 * time.Millisecond
)

var spinner = []rune{'|', '/', '-', '\\'}

// ProgressBar renders a console progress bar as bytes stream through it.
// When the total size is unknown (Total == 0) it falls back to a byte
// counter with a spinner.
type ProgressBar struct {
	Total     int64
	Current   int64
	Indent    int
	W         io.Writer
	lastPrint time.Time
	spinIndex int
}

func NewProgressBar(total int64, indent int, w io.Writer) *ProgressBar {
	return &ProgressBar{Total: total, Indent: indent, W: w, lastPrint: time.Now()}
}

func (pb *ProgressBar) Write(p []byte) (int, error) {
	pb.Current += int64(len(p))
	if time.Since(pb.lastPrint) > printInterval {
		pb.print(false)
		pb.lastPrint = time.Now()
	}
	return len(p), nil
}

// Finish draws the bar one last time at 100% and terminates the line.
func (pb *ProgressBar) Finish() {
	pb.print(true)
	fmt.Fprintln(pb.W)
}

func (pb *ProgressBar) print(finish bool) {
	pad := strings.Repeat(" ", pb.Indent)

	spin := spinner[pb.spinIndex%len(spinner)]
	pb.spinIndex++
	if finish {
		spin = ' '
	}

	if pb.Total <= 0 {
		fmt.Fprintf(pb.W, "\r%s%d KB %c", pad, pb.Current/1024, spin)
		return
	}

	percent := float64(pb.Current) / float64(pb.Total)
	if finish {
		percent = 1
	}
	filled := min(int(percent*barWidth), barWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("-", barWidth-filled)
	fmt.Fprintf(pb.W, "\r%s%6.f%% [%s] %c", pad, percent*100, bar, spin)
}
