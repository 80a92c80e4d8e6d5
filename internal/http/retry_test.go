package http

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("unexpected status %d", int(e)) }
func (e statusErr) StatusCode() int { return int(e) }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "dial tcp: i/o deadline" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"nil", nil, ErrorTypeSuccess},
		{"cancelled", fmt.Errorf("put part: %w", context.Canceled), ErrorTypeFatal},
		{"deadline", context.DeadlineExceeded, ErrorTypeNetwork},
		{"status 403", statusErr(403), ErrorTypeCredential},
		{"status 404", statusErr(404), ErrorTypeFatal},
		{"status 429", statusErr(429), ErrorTypeRetryable},
		{"status 503 wrapped", fmt.Errorf("part 2: %w", statusErr(503)), ErrorTypeRetryable},
		{"net timeout", timeoutErr{}, ErrorTypeNetwork},
		{"connection reset", errors.New("read: connection reset by peer"), ErrorTypeNetwork},
		{"s3 slowdown", errors.New("SlowDown: please reduce your request rate"), ErrorTypeRetryable},
		{"expired url", errors.New("Request has expired"), ErrorTypeCredential},
		{"unknown", errors.New("something odd"), ErrorTypeFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError(%v) = %s, want %s", tt.err, ErrorTypeName(got), ErrorTypeName(tt.want))
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(statusErr(502)) {
		t.Error("502 should be transient")
	}
	if IsTransient(statusErr(400)) {
		t.Error("400 should not be transient")
	}
	if IsTransient(context.Canceled) {
		t.Error("cancellation should not be transient")
	}
}

func TestCalculateBackoff(t *testing.T) {
	if d := CalculateBackoff(0, time.Second, time.Minute); d != 0 {
		t.Errorf("attempt 0 should not wait, got %v", d)
	}
	for attempt := 1; attempt < 40; attempt++ {
		d := CalculateBackoff(attempt, 100*time.Millisecond, 2*time.Second)
		if d < 0 || d >= 2*time.Second {
			t.Fatalf("attempt %d: backoff %v outside [0, 2s)", attempt, d)
		}
	}
}

// TestExecuteWithRetry_Success verifies basic success case returns nil on first attempt.
func TestExecuteWithRetry_Success(t *testing.T) {
	cfg := Config{
		MaxRetries:   3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
	}

	calls := 0
	err := ExecuteWithRetry(context.Background(), cfg, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestExecuteWithRetry_RetriesTransient(t *testing.T) {
	cfg := Config{
		MaxRetries:   4,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}

	calls := 0
	var retried []int
	cfg.OnRetry = func(attempt int, err error, errorType ErrorType) {
		retried = append(retried, attempt)
	}

	err := ExecuteWithRetry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return statusErr(503)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if len(retried) != 2 {
		t.Errorf("expected 2 OnRetry callbacks, got %v", retried)
	}
}

func TestExecuteWithRetry_CustomClassifier(t *testing.T) {
	cfg := Config{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Classify:     func(error) ErrorType { return ErrorTypeFatal },
	}

	calls := 0
	err := ExecuteWithRetry(context.Background(), cfg, func() error {
		calls++
		return errors.New("read timeout_runs.csv: locked")
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call with a fatal classifier, got %d", calls)
	}
}

func TestExecuteWithRetry_ExhaustsAttempts(t *testing.T) {
	cfg := Config{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	calls := 0
	err := ExecuteWithRetry(context.Background(), cfg, func() error {
		calls++
		return statusErr(500)
	})
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	var sc StatusCoder
	if !errors.As(err, &sc) || sc.StatusCode() != 500 {
		t.Errorf("expected wrapped 500, got %v", err)
	}
}

// TestExecuteWithRetry_FatalError verifies no retry on fatal errors.
func TestExecuteWithRetry_FatalError(t *testing.T) {
	cfg := Config{
		MaxRetries:   5,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
	}

	for _, fatal := range []error{fmt.Errorf("400 bad request"), statusErr(403)} {
		calls := 0
		err := ExecuteWithRetry(context.Background(), cfg, func() error {
			calls++
			return fatal
		})
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if calls != 1 {
			t.Errorf("%v: expected 1 call (no retry), got %d", fatal, calls)
		}
	}
}

// TestExecuteWithRetry_ContextCancelledDuringSleep verifies retry returns quickly when context cancelled.
func TestExecuteWithRetry_ContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{
		MaxRetries:   5,
		InitialDelay: 5 * time.Second,
		MaxDelay:     30 * time.Second,
	}

	calls := 0
	start := time.Now()

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := ExecuteWithRetry(ctx, cfg, func() error {
		calls++
		return fmt.Errorf("connection reset")
	})

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 1*time.Second {
		t.Errorf("expected quick return after context cancel, but took %v", elapsed)
	}
	if calls < 1 {
		t.Errorf("expected at least 1 call, got %d", calls)
	}
}

// TestExecuteWithRetry_InsufficientDeadline verifies early exit when deadline < backoff.
func TestExecuteWithRetry_InsufficientDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	cfg := Config{
		MaxRetries:   5,
		InitialDelay: 5 * time.Second,
		MaxDelay:     30 * time.Second,
	}

	calls := 0
	start := time.Now()

	err := ExecuteWithRetry(ctx, cfg, func() error {
		calls++
		return fmt.Errorf("timeout")
	})

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if elapsed := time.Since(start); elapsed > 1*time.Second {
		t.Errorf("expected quick return due to insufficient deadline, but took %v", elapsed)
	}
	if calls < 1 {
		t.Errorf("expected at least 1 call, got %d", calls)
	}
}
