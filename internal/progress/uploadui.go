package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"
)

// UploadUI shows one mpb bar per uploading file. Without a terminal it
// prints a line per file start and finish instead.
type UploadUI struct {
	progress   *mpb.Progress
	out        io.Writer
	isTerminal bool
	totalFiles int
	started    atomic.Int32
}

// FileBar is one file's bar in an UploadUI.
type FileBar struct {
	bar       *mpb.Bar
	ui        *UploadUI
	index     int
	path      string
	datasetID string
	size      int64
	startTime time.Time

	mu      sync.Mutex
	percent int
	stage   atomic.Value // string
}

// NewUploadUI creates a UI for totalFiles files writing to stderr.
func NewUploadUI(totalFiles int) *UploadUI {
	isTerminal := term.IsTerminal(int(os.Stderr.Fd()))
	if isTerminal {
		enableANSIOnWindows(os.Stderr)
	}
	return newUploadUI(os.Stderr, isTerminal, totalFiles)
}

func newUploadUI(out io.Writer, isTerminal bool, totalFiles int) *UploadUI {
	var p *mpb.Progress
	if isTerminal {
		p = mpb.New(
			mpb.WithOutput(out),
			mpb.WithRefreshRate(300*time.Millisecond),
			mpb.WithWidth(100),
		)
	} else {
		p = mpb.New(mpb.WithOutput(io.Discard))
	}
	return &UploadUI{progress: p, out: out, isTerminal: isTerminal, totalFiles: totalFiles}
}

// AddFileBar starts a bar for localPath.
func (u *UploadUI) AddFileBar(localPath, datasetID string, size int64) FileBarHandle {
	fb := &FileBar{
		ui:        u,
		index:     int(u.started.Add(1)),
		path:      localPath,
		datasetID: datasetID,
		size:      size,
		startTime: time.Now(),
	}
	fb.stage.Store("")
	label := fmt.Sprintf("[%d/%d] %s (%s) → %s", fb.index, u.totalFiles, truncatePath(localPath, 2), formatMiB(size), datasetID)

	if !u.isTerminal {
		fmt.Fprintf(u.out, "Uploading %s\n", label)
		return fb
	}

	// mpb treats a zero total as unknown; empty files still get a bar.
	total := size
	if total == 0 {
		total = 1
	}
	fb.bar = u.progress.New(total,
		mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
		mpb.PrependDecorators(
			decor.Name(label, decor.WCSyncSpaceR),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.Percentage(decor.WCSyncSpace), "done"),
			decor.Name("  "),
			decor.AverageSpeed(decor.SizeB1024(0), "% .1f", decor.WCSyncSpace),
			decor.Any(func(decor.Statistics) string {
				if s := fb.stage.Load().(string); s != "" {
					return "  " + s
				}
				return ""
			}),
		),
		mpb.BarRemoveOnComplete(),
	)
	return fb
}

// SetPercent moves the bar forward. Percent reports arrive at milestones,
// so the bar jumps rather than streams.
func (f *FileBar) SetPercent(percent int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if percent <= f.percent {
		return
	}
	f.percent = percent
	if f.bar != nil && percent < 100 {
		f.bar.SetCurrent(bytesAt(percent, f.barTotal()))
	}
}

// SetStage sets the trailing status text.
func (f *FileBar) SetStage(stage string) {
	f.stage.Store(stage)
	if !f.ui.isTerminal && stage != "" {
		fmt.Fprintf(f.ui.out, "%s: %s\n", truncatePath(f.path, 2), stage)
	}
}

// Complete finishes the bar and prints the outcome above the bars.
func (f *FileBar) Complete(storageID string, err error) {
	elapsed := time.Since(f.startTime)

	var msg string
	if err == nil {
		if f.bar != nil {
			f.bar.SetTotal(f.barTotal(), true)
		}
		speed := float64(f.size) / (1024 * 1024) / max(elapsed.Seconds(), 0.001)
		msg = fmt.Sprintf("✓ %s → %s (%s, %s, %s, %.1f MiB/s)\n",
			truncatePath(f.path, 2), f.datasetID, storageID, formatMiB(f.size), elapsed.Round(time.Second), speed)
	} else {
		if f.bar != nil {
			f.bar.Abort(false)
		}
		msg = fmt.Sprintf("✗ %s → %s: %v\n", truncatePath(f.path, 2), f.datasetID, err)
	}
	_, _ = io.WriteString(f.ui.Writer(), msg)
}

func (f *FileBar) barTotal() int64 {
	if f.size == 0 {
		return 1
	}
	return f.size
}

// Wait blocks until all bars are complete or aborted.
func (u *UploadUI) Wait() {
	u.progress.Wait()
}

// Writer prints above the bars on a terminal.
func (u *UploadUI) Writer() io.Writer {
	if u.isTerminal {
		return u.progress
	}
	return u.out
}

func (u *UploadUI) IsTerminal() bool {
	return u.isTerminal
}

func formatMiB(size int64) string {
	return fmt.Sprintf("%.1f MiB", float64(size)/(1024*1024))
}

// truncatePath keeps the last maxComponents components:
// truncatePath("/a/b/c/d/file.txt", 3) is "…/c/d/file.txt".
func truncatePath(path string, maxComponents int) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) <= maxComponents {
		return filepath.Base(path)
	}
	return "…/" + strings.Join(parts[len(parts)-maxComponents:], "/")
}

func enableANSIOnWindows(f *os.File) {
	if runtime.GOOS == "windows" {
		enableWindowsANSI(f)
	}
}
