// Package notify sends desktop notifications when upload batches finish.
// It uses github.com/gen2brain/beeep for cross-platform delivery.
package notify

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/iqss/dataverse-int/internal/constants"
	"github.com/iqss/dataverse-int/internal/events"
	"github.com/iqss/dataverse-int/internal/logging"
)

// maxFailureNotices caps per-file failure notifications in one batch; the
// batch summary covers the rest.
const maxFailureNotices = 3

// Notifier sends desktop notifications. A disabled notifier is silent.
type Notifier struct {
	logger  *logging.Logger
	enabled bool

	notify func(title, message string) error
	alert  func(title, message string) error
}

// NewNotifier creates a notifier.
func NewNotifier(enabled bool, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Notifier{
		logger:  logger,
		enabled: enabled,
		notify:  func(title, message string) error { return beeep.Notify(title, message, "") },
		alert:   func(title, message string) error { return beeep.Alert(title, message, "") },
	}
}

// IsEnabled reports whether notifications are sent.
func (n *Notifier) IsEnabled() bool {
	return n.enabled
}

// BatchComplete reports the outcome of an upload batch. A batch with
// failures is raised as an alert.
func (n *Notifier) BatchComplete(ev *events.BatchCompleteEvent, datasetID string) {
	if !n.IsEnabled() || ev == nil {
		return
	}

	title := constants.AppName + ": upload complete"
	message := fmt.Sprintf("%d of %d file(s) uploaded to dataset %s in %s.",
		ev.Succeeded, ev.Total, truncate(datasetID, 40), ev.Duration.Round(time.Second))
	if ev.Cancelled > 0 {
		message += fmt.Sprintf("\n%d cancelled.", ev.Cancelled)
	}

	if ev.Failed == 0 {
		if err := n.notify(title, message); err != nil {
			n.logger.Warn().Err(err).Msg("failed to send batch notification")
		}
		return
	}

	title = constants.AppName + ": upload finished with errors"
	message += fmt.Sprintf("\n%d failed.", ev.Failed)
	if err := n.alert(title, message); err != nil {
		if err := n.notify(title, message); err != nil {
			n.logger.Warn().Err(err).Msg("failed to send batch alert")
		}
	}
}

// UploadFailed reports a single failed file.
func (n *Notifier) UploadFailed(path string, err error) {
	if !n.IsEnabled() || err == nil {
		return
	}
	message := fmt.Sprintf("%s:\n%s", shortenPath(path), truncate(err.Error(), 100))
	if sendErr := n.notify(constants.AppName+": upload failed", message); sendErr != nil {
		n.logger.Warn().Err(sendErr).Str("file", path).Msg("failed to send upload failure notification")
	}
}

// Watch sends a BatchComplete notification for every batch published on
// bus, and an UploadFailed notification for the first few failed files,
// until the bus closes. The subscriptions are in place when Watch
// returns; the returned func blocks until delivery has stopped.
func (n *Notifier) Watch(bus *events.EventBus, datasetID string) (wait func()) {
	batches := bus.Subscribe(events.EventBatchComplete)
	failures := bus.Subscribe(events.EventUploadFailed)
	done := make(chan struct{})

	go func() {
		defer close(done)
		notices := 0
		for batches != nil || failures != nil {
			select {
			case ev, ok := <-batches:
				if !ok {
					batches = nil
					continue
				}
				if bc, ok := ev.(*events.BatchCompleteEvent); ok {
					n.BatchComplete(bc, datasetID)
				}
			case ev, ok := <-failures:
				if !ok {
					failures = nil
					continue
				}
				if te, ok := ev.(*events.TransferEvent); ok && notices < maxFailureNotices {
					notices++
					n.UploadFailed(te.Name, te.Error)
				}
			}
		}
	}()
	return func() { <-done }
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// shortenPath keeps the last two components of a long path.
func shortenPath(path string) string {
	const maxLen = 60
	if len(path) <= maxLen {
		return path
	}
	short := filepath.Join("...", filepath.Base(filepath.Dir(path)), filepath.Base(path))
	if len(short) > maxLen {
		return "..." + path[len(path)-(maxLen-3):]
	}
	return short
}
