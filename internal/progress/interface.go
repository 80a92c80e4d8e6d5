package progress

import "io"

// ProgressUI renders per-file upload progress.
type ProgressUI interface {
	// AddFileBar starts tracking one file uploading to datasetID.
	AddFileBar(localPath, datasetID string, size int64) FileBarHandle

	// Wait blocks until every bar has completed.
	Wait()

	// Writer returns a writer that prints above the bars.
	Writer() io.Writer

	IsTerminal() bool
}

// FileBarHandle is one file's bar.
type FileBarHandle interface {
	// SetPercent moves the bar to percent (0..100). Lower values are ignored.
	SetPercent(percent int)

	// SetStage replaces the trailing status text, e.g. "registering".
	SetStage(stage string)

	// Complete finishes the bar and prints a summary line.
	Complete(storageID string, err error)
}
