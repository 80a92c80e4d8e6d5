// Package transfer tracks and runs batches of direct uploads.
package transfer

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TaskState is the lifecycle state of an upload task.
type TaskState string

const (
	TaskQueued       TaskState = "queued"       // Waiting for a concurrency slot
	TaskInitializing TaskState = "initializing" // Slot acquired, destination being requested
	TaskActive       TaskState = "active"       // Bytes moving
	TaskRegistering  TaskState = "registering"  // Stored, being added to the dataset
	TaskCompleted    TaskState = "completed"
	TaskFailed       TaskState = "failed"
	TaskCancelled    TaskState = "cancelled"
)

// Terminal reports whether no further transitions happen from s.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Task is one file upload tracked by a Queue. The Queue owns the mutable
// fields; callers get copies from Queue.Tasks and Queue.Task.
type Task struct {
	ID        string
	Name      string
	Source    string // local path
	TargetID  string // dataset id or persistent id
	Size      int64
	State     TaskState
	Percent   int
	Speed     float64 // bytes/sec, smoothed
	StorageID string
	Err       error

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	lastPercent    int
	lastUpdateTime time.Time
	cancel         context.CancelFunc
}

func newTask(name, source, targetID string, size int64) *Task {
	return &Task{
		ID:        uuid.NewString(),
		Name:      name,
		Source:    source,
		TargetID:  targetID,
		Size:      size,
		State:     TaskQueued,
		CreatedAt: time.Now(),
	}
}

// speedSmoothing weights a new sample in the moving average.
const speedSmoothing = 0.25

// observe folds a percent report into the speed estimate. The uploader
// reports coarse milestones, so a sample is the bytes implied by the
// percent delta over the time since the previous report.
func (t *Task) observe(percent int, now time.Time) {
	if !t.lastUpdateTime.IsZero() && percent > t.lastPercent {
		elapsed := now.Sub(t.lastUpdateTime).Seconds()
		if elapsed > 0 {
			sample := float64(percent-t.lastPercent) * float64(t.Size) / 100 / elapsed
			if t.Speed == 0 {
				t.Speed = sample
			} else {
				t.Speed = speedSmoothing*sample + (1-speedSmoothing)*t.Speed
			}
		}
	}
	t.Percent = percent
	t.lastPercent = percent
	t.lastUpdateTime = now
}

func (t *Task) finish(state TaskState, err error) {
	t.State = state
	t.Err = err
	t.CompletedAt = time.Now()
	t.cancel = nil
}

func (t *Task) snapshot() Task {
	return Task{
		ID:          t.ID,
		Name:        t.Name,
		Source:      t.Source,
		TargetID:    t.TargetID,
		Size:        t.Size,
		State:       t.State,
		Percent:     t.Percent,
		Speed:       t.Speed,
		StorageID:   t.StorageID,
		Err:         t.Err,
		CreatedAt:   t.CreatedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
	}
}
