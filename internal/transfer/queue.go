package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/iqss/dataverse-int/internal/events"
)

var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrTaskNotActive = errors.New("task is not running")
)

// QueueStats counts tasks per state.
type QueueStats struct {
	Queued       int
	Initializing int
	Active       int
	Registering  int
	Completed    int
	Failed       int
	Cancelled    int
}

// Total returns the number of tracked tasks.
func (s QueueStats) Total() int {
	return s.Queued + s.Initializing + s.Active + s.Registering + s.Completed + s.Failed + s.Cancelled
}

// Queue observes uploads executed elsewhere: callers report transitions
// and progress, the queue records them and publishes TransferEvents.
// Terminal states are final; late reports for a settled task are ignored.
type Queue struct {
	mu        sync.RWMutex
	tasks     []*Task
	tasksByID map[string]*Task
	eventBus  *events.EventBus
	now       func() time.Time
}

// NewQueue creates a queue publishing on eventBus, which may be nil.
func NewQueue(eventBus *events.EventBus) *Queue {
	return &Queue{
		tasksByID: make(map[string]*Task),
		eventBus:  eventBus,
		now:       time.Now,
	}
}

// Track registers an upload in TaskQueued state and returns its ID.
func (q *Queue) Track(name, source, targetID string, size int64) string {
	task := newTask(name, source, targetID, size)

	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.tasksByID[task.ID] = task
	ev := q.eventLocked(events.EventUploadQueued, task)
	q.mu.Unlock()

	q.publish(ev)
	return task.ID
}

// Activate moves a queued task to TaskInitializing. cancel, if not nil,
// is called by Cancel and CancelAll.
func (q *Queue) Activate(taskID string, cancel context.CancelFunc) {
	q.transition(taskID, events.EventUploadInitializing, func(t *Task) bool {
		if t.State != TaskQueued {
			return false
		}
		t.State = TaskInitializing
		t.StartedAt = q.now()
		t.cancel = cancel
		return true
	})
}

// UpdateProgress records an uploader percent report. The first report
// moves the task to TaskActive.
func (q *Queue) UpdateProgress(taskID string, percent int) {
	var started bool
	q.transition(taskID, events.EventUploadProgress, func(t *Task) bool {
		switch t.State {
		case TaskInitializing:
			t.State = TaskActive
			started = true
		case TaskActive:
		default:
			return false
		}
		t.observe(percent, q.now())
		return true
	})
	if started {
		q.publishTask(taskID, events.EventUploadStarted)
	}
}

// Registering records the storage identifier and moves the task to
// TaskRegistering.
func (q *Queue) Registering(taskID, storageID string) {
	q.transition(taskID, events.EventUploadRegistering, func(t *Task) bool {
		if t.State.Terminal() {
			return false
		}
		t.State = TaskRegistering
		t.StorageID = storageID
		return true
	})
}

// Complete marks a task done. storageID may be empty when Registering
// already recorded it.
func (q *Queue) Complete(taskID, storageID string) {
	q.transition(taskID, events.EventUploadCompleted, func(t *Task) bool {
		if t.State.Terminal() {
			return false
		}
		if storageID != "" {
			t.StorageID = storageID
		}
		t.Percent = 100
		t.finish(TaskCompleted, nil)
		return true
	})
}

// Fail marks a task failed.
func (q *Queue) Fail(taskID string, err error) {
	q.transition(taskID, events.EventUploadFailed, func(t *Task) bool {
		if t.State.Terminal() {
			return false
		}
		t.finish(TaskFailed, err)
		return true
	})
}

// Cancelled marks a task cancelled; err is the uploader's error, if any.
func (q *Queue) Cancelled(taskID string, err error) {
	q.transition(taskID, events.EventUploadCancelled, func(t *Task) bool {
		if t.State.Terminal() {
			return false
		}
		t.finish(TaskCancelled, err)
		return true
	})
}

// Cancel signals a running task to stop. The task turns TaskCancelled
// when its runner reports back.
func (q *Queue) Cancel(taskID string) error {
	q.mu.Lock()
	task, ok := q.tasksByID[taskID]
	if !ok {
		q.mu.Unlock()
		return ErrTaskNotFound
	}
	cancel := task.cancel
	state := task.State
	q.mu.Unlock()

	if state.Terminal() || state == TaskQueued || cancel == nil {
		return ErrTaskNotActive
	}
	cancel()
	return nil
}

// CancelAll signals every running task to stop and returns how many
// were signalled.
func (q *Queue) CancelAll() int {
	q.mu.Lock()
	var cancels []context.CancelFunc
	for _, t := range q.tasks {
		if !t.State.Terminal() && t.cancel != nil {
			cancels = append(cancels, t.cancel)
		}
	}
	q.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return len(cancels)
}

// ClearCompleted drops settled tasks.
func (q *Queue) ClearCompleted() {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.tasks[:0]
	for _, t := range q.tasks {
		if t.State.Terminal() {
			delete(q.tasksByID, t.ID)
			continue
		}
		kept = append(kept, t)
	}
	q.tasks = kept
}

// Stats counts tasks per state.
func (q *Queue) Stats() QueueStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var s QueueStats
	for _, t := range q.tasks {
		switch t.State {
		case TaskQueued:
			s.Queued++
		case TaskInitializing:
			s.Initializing++
		case TaskActive:
			s.Active++
		case TaskRegistering:
			s.Registering++
		case TaskCompleted:
			s.Completed++
		case TaskFailed:
			s.Failed++
		case TaskCancelled:
			s.Cancelled++
		}
	}
	return s
}

// Tasks returns copies of all tasks in creation order.
func (q *Queue) Tasks() []Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]Task, len(q.tasks))
	for i, t := range q.tasks {
		out[i] = t.snapshot()
	}
	return out
}

// Task returns a copy of one task.
func (q *Queue) Task(taskID string) (Task, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	t, ok := q.tasksByID[taskID]
	if !ok {
		return Task{}, false
	}
	return t.snapshot(), true
}

// transition applies fn under the lock and publishes eventType if fn
// reports a change. Events are built under the lock and sent after it.
func (q *Queue) transition(taskID string, eventType events.EventType, fn func(*Task) bool) {
	q.mu.Lock()
	task, ok := q.tasksByID[taskID]
	if !ok || !fn(task) {
		q.mu.Unlock()
		return
	}
	ev := q.eventLocked(eventType, task)
	q.mu.Unlock()

	q.publish(ev)
}

func (q *Queue) publishTask(taskID string, eventType events.EventType) {
	q.mu.RLock()
	task, ok := q.tasksByID[taskID]
	var ev *events.TransferEvent
	if ok {
		ev = q.eventLocked(eventType, task)
	}
	q.mu.RUnlock()

	if ev != nil {
		q.publish(ev)
	}
}

func (q *Queue) eventLocked(eventType events.EventType, t *Task) *events.TransferEvent {
	return &events.TransferEvent{
		BaseEvent: events.BaseEvent{EventType: eventType, Time: q.now()},
		TaskID:    t.ID,
		Name:      t.Name,
		TargetID:  t.TargetID,
		Size:      t.Size,
		Percent:   t.Percent,
		Speed:     t.Speed,
		StorageID: t.StorageID,
		Error:     t.Err,
	}
}

// Retrying reports that the task's upload failed and is starting over.
func (q *Queue) Retrying(taskID string, attempt int, err error) {
	q.mu.RLock()
	task, ok := q.tasksByID[taskID]
	name := ""
	if ok {
		name = task.Name
	}
	q.mu.RUnlock()

	if ok && q.eventBus != nil {
		q.eventBus.PublishLog(events.WarnLevel, taskID, name, fmt.Sprintf("retrying (attempt %d)", attempt), err)
	}
}

func (q *Queue) publish(ev *events.TransferEvent) {
	if q.eventBus != nil {
		q.eventBus.Publish(ev)
	}
}
