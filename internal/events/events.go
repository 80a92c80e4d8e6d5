// Package events carries upload lifecycle notifications from the transfer
// queue to whatever renders them (progress bars, logs, notifications).
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/iqss/dataverse-int/internal/constants"
)

// EventType names an event.
type EventType string

const (
	EventLog EventType = "log"

	// Upload task lifecycle
	EventUploadQueued       EventType = "upload_queued"       // Task tracked, waiting for a slot
	EventUploadInitializing EventType = "upload_initializing" // Slot acquired, requesting a destination
	EventUploadStarted      EventType = "upload_started"      // First progress report arrived
	EventUploadProgress     EventType = "upload_progress"
	EventUploadRegistering  EventType = "upload_registering" // Bytes are durable, adding to the dataset
	EventUploadCompleted    EventType = "upload_completed"
	EventUploadFailed       EventType = "upload_failed"
	EventUploadCancelled    EventType = "upload_cancelled"

	// A batch of uploads settled
	EventBatchComplete EventType = "batch_complete"
)

// LogLevel is the severity of a LogEvent.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is implemented by every published event.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent holds the fields every event shares.
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// TransferEvent reports a state or progress change of one upload task.
type TransferEvent struct {
	BaseEvent
	TaskID    string
	Name      string // file name
	TargetID  string // dataset the file is uploaded to
	Size      int64
	Percent   int // 0..100 as reported by the uploader
	Speed     float64
	StorageID string // set once the bytes are stored
	Error     error
}

// LogEvent is a free-form message, optionally about one task.
type LogEvent struct {
	BaseEvent
	Level    LogLevel
	TaskID   string
	FileName string
	Message  string
	Error    error
}

// BatchCompleteEvent summarizes a finished batch.
type BatchCompleteEvent struct {
	BaseEvent
	Total     int
	Succeeded int
	Failed    int
	Cancelled int
	Duration  time.Duration
}

// EventBus fans events out to subscribers over buffered channels.
// Publishing never blocks: an event for a full channel is dropped and
// counted.
type EventBus struct {
	subscribers map[EventType][]chan Event
	all         []chan Event
	mu          sync.RWMutex
	bufferSize  int
	closed      bool
	dropped     atomic.Int64
}

// NewEventBus creates a bus whose subscription channels hold bufferSize
// events. A non-positive size selects the default.
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe returns a channel receiving events of one type. On a closed
// bus the channel is already closed.
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return closedChannel()
	}
	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll returns a channel receiving every event.
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return closedChannel()
	}
	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

func closedChannel() <-chan Event {
	ch := make(chan Event)
	close(ch)
	return ch
}

// Publish delivers event to matching subscribers without blocking.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}
	for _, ch := range eb.subscribers[event.Type()] {
		eb.offer(ch, event)
	}
	for _, ch := range eb.all {
		eb.offer(ch, event)
	}
}

func (eb *EventBus) offer(ch chan Event, event Event) {
	select {
	case ch <- event:
	default:
		eb.dropped.Add(1)
	}
}

// PublishLog publishes a LogEvent stamped with the current time. taskID
// and fileName may be empty.
func (eb *EventBus) PublishLog(level LogLevel, taskID, fileName, message string, err error) {
	eb.Publish(&LogEvent{
		BaseEvent: BaseEvent{EventType: EventLog, Time: time.Now()},
		Level:     level,
		TaskID:    taskID,
		FileName:  fileName,
		Message:   message,
		Error:     err,
	})
}

// Unsubscribe detaches ch from every type it was subscribed to and
// closes it.
func (eb *EventBus) Unsubscribe(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	for eventType, subs := range eb.subscribers {
		if kept, found := removeChannel(subs, ch); found {
			eb.subscribers[eventType] = kept
		}
	}
	if kept, found := removeChannel(eb.all, ch); found {
		eb.all = kept
	}
}

func removeChannel(subs []chan Event, ch <-chan Event) ([]chan Event, bool) {
	for i, sub := range subs {
		if sub == ch {
			close(sub)
			subs[i] = subs[len(subs)-1]
			return subs[:len(subs)-1], true
		}
	}
	return subs, false
}

// Close closes every subscription channel. Later publishes are ignored.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true
	for _, subs := range eb.subscribers {
		for _, ch := range subs {
			close(ch)
		}
	}
	for _, ch := range eb.all {
		close(ch)
	}
}

// DroppedEvents returns how many events were dropped on full channels.
func (eb *EventBus) DroppedEvents() int64 {
	return eb.dropped.Load()
}
