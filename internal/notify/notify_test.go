package notify

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/iqss/dataverse-int/internal/events"
)

type sent struct {
	kind, title, message string
}

func newRecordingNotifier(enabled bool, alertErr error) (*Notifier, *[]sent) {
	var got []sent
	n := NewNotifier(enabled, nil)
	n.notify = func(title, message string) error {
		got = append(got, sent{"notify", title, message})
		return nil
	}
	n.alert = func(title, message string) error {
		got = append(got, sent{"alert", title, message})
		return alertErr
	}
	return n, &got
}

func TestBatchCompleteSuccess(t *testing.T) {
	n, got := newRecordingNotifier(true, nil)
	n.BatchComplete(&events.BatchCompleteEvent{Total: 3, Succeeded: 3, Duration: 61 * time.Second}, "doi:10.5072/FK2/ABC")

	if len(*got) != 1 || (*got)[0].kind != "notify" {
		t.Fatalf("unexpected notifications %+v", *got)
	}
	msg := (*got)[0].message
	if !strings.Contains(msg, "3 of 3") || !strings.Contains(msg, "doi:10.5072/FK2/ABC") || !strings.Contains(msg, "1m1s") {
		t.Errorf("message = %q", msg)
	}
}

func TestBatchCompleteWithFailures(t *testing.T) {
	n, got := newRecordingNotifier(true, nil)
	n.BatchComplete(&events.BatchCompleteEvent{Total: 4, Succeeded: 2, Failed: 1, Cancelled: 1}, "42")

	if len(*got) != 1 || (*got)[0].kind != "alert" {
		t.Fatalf("unexpected notifications %+v", *got)
	}
	msg := (*got)[0].message
	if !strings.Contains(msg, "1 failed") || !strings.Contains(msg, "1 cancelled") {
		t.Errorf("message = %q", msg)
	}
}

func TestAlertFallsBackToNotify(t *testing.T) {
	n, got := newRecordingNotifier(true, errors.New("no alert support"))
	n.BatchComplete(&events.BatchCompleteEvent{Total: 1, Failed: 1}, "42")

	if len(*got) != 2 || (*got)[1].kind != "notify" {
		t.Errorf("expected alert then notify, got %+v", *got)
	}
}

func TestDisabledNotifierIsSilent(t *testing.T) {
	n, got := newRecordingNotifier(false, nil)
	n.BatchComplete(&events.BatchCompleteEvent{Total: 1, Succeeded: 1}, "42")
	n.UploadFailed("/data/a.txt", errors.New("boom"))
	if len(*got) != 0 {
		t.Errorf("disabled notifier sent %+v", *got)
	}

	if n.IsEnabled() {
		t.Error("IsEnabled() = true for disabled notifier")
	}
}

func TestUploadFailed(t *testing.T) {
	n, got := newRecordingNotifier(true, nil)
	n.UploadFailed("/data/a.txt", errors.New("boom"))
	n.UploadFailed("/data/b.txt", nil)
	if len(*got) != 1 {
		t.Errorf("expected one failure notification, got %+v", *got)
	}
}

func TestWatch(t *testing.T) {
	n, got := newRecordingNotifier(true, nil)
	bus := events.NewEventBus(10)

	wait := n.Watch(bus, "42")

	bus.Publish(&events.BatchCompleteEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventBatchComplete},
		Total:     1,
		Succeeded: 1,
	})
	bus.Close()
	wait()

	if len(*got) != 1 {
		t.Errorf("expected one notification, got %+v", *got)
	}
}

func TestWatchCapsFailureNotices(t *testing.T) {
	n, got := newRecordingNotifier(true, nil)
	bus := events.NewEventBus(20)
	wait := n.Watch(bus, "42")

	for _, name := range []string{"a", "b", "c", "d", "e"} {
		bus.Publish(&events.TransferEvent{
			BaseEvent: events.BaseEvent{EventType: events.EventUploadFailed},
			Name:      name + ".txt",
			Error:     errors.New("403 Forbidden"),
		})
	}
	bus.Close()
	wait()

	if len(*got) != maxFailureNotices {
		t.Fatalf("expected %d failure notices, got %+v", maxFailureNotices, *got)
	}
	if !strings.Contains((*got)[0].message, "a.txt") || !strings.Contains((*got)[0].message, "403") {
		t.Errorf("message = %q", (*got)[0].message)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"short", 10, "short"},
		{"exactly10c", 10, "exactly10c"},
		{"this is a long string", 10, "this is..."},
		{"", 10, ""},
	}
	for _, tt := range tests {
		if got := truncate(tt.input, tt.maxLen); got != tt.expected {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.expected)
		}
	}
}

func TestShortenPath(t *testing.T) {
	if got := shortenPath("/short/path"); got != "/short/path" {
		t.Errorf("short path changed: %q", got)
	}
	long := "/a/very/long/path/that/exceeds/the/maximum/length/for/notification/display/file.txt"
	got := shortenPath(long)
	if len(got) >= len(long) || !strings.HasSuffix(got, "file.txt") {
		t.Errorf("shortenPath(%q) = %q", long, got)
	}
}
