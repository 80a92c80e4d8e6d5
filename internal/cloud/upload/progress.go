package upload

import (
	"context"
	"sync"

	"github.com/iqss/dataverse-int/internal/constants"
)

// ProgressFunc receives upload progress as a percentage in [0, 100].
// Calls are serialized and strictly increasing.
type ProgressFunc func(percent int)

// progressTracker turns part completions into percentages.
//
// The value reported for a completion depends only on how many parts had
// completed before it, so concurrent out-of-order completions produce the
// same stream. The last part's completion reports
// 10 + (N-1)*80/N and the finished upload reports 100.
type progressTracker struct {
	mu         sync.Mutex
	total      int
	completed  int
	last       int
	settled    bool
	onProgress ProgressFunc
}

func newProgressTracker(total int, onProgress ProgressFunc) *progressTracker {
	return &progressTracker{
		total:      total,
		last:       -1,
		onProgress: onProgress,
	}
}

// start reports that the transfer has begun.
func (p *progressTracker) start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emitLocked(constants.ProgressStarted)
}

// partCompleted records one successful part. Nothing is reported once ctx
// is done: the session is then cancelled or failing.
func (p *progressTracker) partCompleted(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prior := p.completed
	p.completed++

	if ctx.Err() != nil {
		return
	}
	p.emitLocked(constants.ProgressStarted + prior*constants.ProgressPartsSpan/p.total)
}

// finish reports completion of the whole upload.
func (p *progressTracker) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emitLocked(constants.ProgressDone)
}

// settle stops all further reporting. It waits for an in-progress callback.
func (p *progressTracker) settle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settled = true
}

func (p *progressTracker) emitLocked(percent int) {
	if p.settled || percent <= p.last {
		return
	}
	p.last = percent
	if p.onProgress != nil {
		p.onProgress(percent)
	}
}
