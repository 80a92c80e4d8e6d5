package progress

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/iqss/dataverse-int/internal/events"
)

var errCancelled = errors.New("cancelled")

// Follow drives ui from the transfer events published on bus until the
// bus closes. Bars whose final event was dropped are aborted at close.
// The subscription is in place when Follow returns; the returned func
// blocks until every bar has settled.
func Follow(bus *events.EventBus, ui ProgressUI) (wait func()) {
	ch := bus.SubscribeAll()
	done := make(chan struct{})

	go func() {
		defer close(done)
		bars := make(map[string]FileBarHandle)

		for ev := range ch {
			if le, ok := ev.(*events.LogEvent); ok {
				if bar := bars[le.TaskID]; bar != nil && le.Level >= events.WarnLevel {
					bar.SetStage(le.Message)
				}
				continue
			}
			te, ok := ev.(*events.TransferEvent)
			if !ok {
				continue
			}
			bar := bars[te.TaskID]

			switch te.Type() {
			case events.EventUploadInitializing:
				if bar == nil {
					bars[te.TaskID] = ui.AddFileBar(te.Name, te.TargetID, te.Size)
				}
			case events.EventUploadProgress:
				if bar != nil {
					bar.SetPercent(te.Percent)
				}
			case events.EventUploadRegistering:
				if bar != nil {
					bar.SetStage("registering")
				}
			case events.EventUploadCompleted, events.EventUploadFailed, events.EventUploadCancelled:
				if bar == nil {
					continue
				}
				err := te.Error
				if err == nil && te.Type() == events.EventUploadCancelled {
					err = errCancelled
				}
				bar.Complete(te.StorageID, err)
				delete(bars, te.TaskID)
			}
		}

		for _, bar := range bars {
			bar.Complete("", errors.New("upload did not report completion"))
		}
	}()

	return func() {
		<-done
		ui.Wait()
	}
}

// SingleFileUI renders one file with a CLIProgress bar.
type SingleFileUI struct {
	out     io.Writer
	bar     *CLIProgress
	once    sync.Once
	done    chan struct{}
	started atomic.Bool
}

// NewSingleFileUI creates a UI writing to out.
func NewSingleFileUI(out io.Writer) *SingleFileUI {
	return &SingleFileUI{out: out, bar: NewCLIProgressTo(out), done: make(chan struct{})}
}

// AddFileBar starts the bar. Only one file is expected.
func (s *SingleFileUI) AddFileBar(localPath, datasetID string, size int64) FileBarHandle {
	s.started.Store(true)
	s.bar.Start(size, truncatePath(localPath, 2))
	return &singleFileBar{ui: s}
}

// Wait returns once the bar completed, or at once if none was added.
func (s *SingleFileUI) Wait() {
	if s.started.Load() {
		<-s.done
	}
}

func (s *SingleFileUI) Writer() io.Writer { return s.out }

func (s *SingleFileUI) IsTerminal() bool { return true }

type singleFileBar struct {
	ui *SingleFileUI
}

func (b *singleFileBar) SetPercent(percent int) { b.ui.bar.SetPercent(percent) }

func (b *singleFileBar) SetStage(stage string) { b.ui.bar.SetDescription(stage) }

func (b *singleFileBar) Complete(storageID string, err error) {
	if err != nil {
		b.ui.bar.Error(err)
	} else {
		b.ui.bar.Finish()
	}
	b.ui.once.Do(func() { close(b.ui.done) })
}
