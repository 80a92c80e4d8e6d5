// Package progress renders upload progress on the terminal.
package progress

import (
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"
)

// CLIProgress is a single-file progress bar driven by the uploader's
// percent reports.
type CLIProgress struct {
	bar *progressbar.ProgressBar
	out io.Writer
}

// NewCLIProgressTo creates a bar writing to w.
func NewCLIProgressTo(w io.Writer) *CLIProgress {
	return &CLIProgress{out: w}
}

// Start creates the bar for a file of size bytes.
func (p *CLIProgress) Start(size int64, description string) {
	out := p.out
	p.bar = progressbar.NewOptions64(size,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(out),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(out, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// SetPercent maps an uploader percent onto the byte bar.
func (p *CLIProgress) SetPercent(percent int) {
	if p.bar == nil {
		return
	}
	_ = p.bar.Set64(bytesAt(percent, p.bar.GetMax64()))
}

// Finish completes the bar.
func (p *CLIProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// Error prints err below the bar.
func (p *CLIProgress) Error(err error) {
	if err == nil {
		return
	}
	if p.bar != nil {
		_ = p.bar.Exit()
	}
	fmt.Fprintf(p.out, "\nError: %v\n", err)
}

// SetDescription updates the label.
func (p *CLIProgress) SetDescription(desc string) {
	if p.bar != nil {
		p.bar.Describe(desc)
	}
}

// bytesAt converts a 0..100 percent of size into bytes.
func bytesAt(percent int, size int64) int64 {
	switch {
	case percent <= 0:
		return 0
	case percent >= 100:
		return size
	}
	return size/100*int64(percent) + size%100*int64(percent)/100
}
