package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBurstThenEmpty(t *testing.T) {
	rl := NewRateLimiter(1.0, 5.0)

	if tokens := rl.GetCurrentTokens(); tokens < 4.9 {
		t.Fatalf("bucket should start full, got %.2f", tokens)
	}
	for i := 0; i < 5; i++ {
		if !rl.tryAcquire() {
			t.Fatalf("tryAcquire() failed on attempt %d", i+1)
		}
	}
	if rl.tryAcquire() {
		t.Error("tryAcquire() should fail when bucket is empty")
	}
}

func TestRefillCapsAtMax(t *testing.T) {
	rl := NewRateLimiter(100.0, 5.0)
	time.Sleep(100 * time.Millisecond)
	if tokens := rl.GetCurrentTokens(); tokens > 5.1 {
		t.Errorf("tokens should cap at 5, got %.2f", tokens)
	}
}

func TestWait(t *testing.T) {
	t.Run("blocks until refill", func(t *testing.T) {
		rl := NewRateLimiter(10.0, 1.0)
		rl.tryAcquire()

		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()

		start := time.Now()
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("Wait() returned error: %v", err)
		}
		if elapsed := time.Since(start); elapsed < 50*time.Millisecond || elapsed > 300*time.Millisecond {
			t.Errorf("Wait() took %v, expected ~100ms", elapsed)
		}
	})

	t.Run("honours context", func(t *testing.T) {
		rl := NewRateLimiter(0.1, 1.0)
		rl.tryAcquire()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		if err := rl.Wait(ctx); err != context.DeadlineExceeded {
			t.Errorf("Wait() error = %v, want context.DeadlineExceeded", err)
		}
	})

	t.Run("after drain", func(t *testing.T) {
		rl := NewRateLimiter(10.0, 10.0)
		rl.Drain()
		if tokens := rl.GetCurrentTokens(); tokens > 0.1 {
			t.Errorf("after Drain: tokens = %.2f, want ~0", tokens)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()

		start := time.Now()
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("Wait() after Drain returned error: %v", err)
		}
		if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
			t.Errorf("Wait() after Drain completed too quickly: %v", elapsed)
		}
	})
}

func TestCooldown(t *testing.T) {
	rl := NewRateLimiter(100.0, 100.0)
	if d := rl.CooldownRemaining(); d != 0 {
		t.Fatalf("CooldownRemaining() = %v, want 0", d)
	}

	rl.SetCooldown(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("Wait() during cooldown returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond || elapsed > 400*time.Millisecond {
		t.Errorf("Wait() during cooldown took %v, expected ~200ms", elapsed)
	}
	if d := rl.CooldownRemaining(); d != 0 {
		t.Errorf("cooldown should have expired, remaining %v", d)
	}
}

func TestCooldownNeverShortens(t *testing.T) {
	rl := NewRateLimiter(100.0, 100.0)

	rl.SetCooldown(500 * time.Millisecond)
	rl.SetCooldown(100 * time.Millisecond)
	if remaining := rl.CooldownRemaining(); remaining < 350*time.Millisecond {
		t.Errorf("cooldown shortened to %v", remaining)
	}

	rl.SetCooldown(time.Second)
	if remaining := rl.CooldownRemaining(); remaining < 800*time.Millisecond {
		t.Errorf("cooldown should extend to ~1s, remaining %v", remaining)
	}
}

func TestConcurrentWaiters(t *testing.T) {
	rl := NewRateLimiter(200.0, 10.0)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var acquired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rl.Wait(ctx); err == nil {
				acquired.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := acquired.Load(); got != 20 {
		t.Errorf("expected all 20 waiters to acquire, got %d", got)
	}
}
