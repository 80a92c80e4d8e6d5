package upload

import (
	"context"
	"sync"
	"time"
)

// canceller propagates the caller's cancellation and owns the one abort
// call a multipart session may make.
//
// Cancellation itself travels through the context handed to every part:
// parts derive from ctx, so cancelling ctx stops in-flight transfers and
// the part loop stops starting new ones. The abort runs on a context
// detached from ctx because ctx is usually already cancelled by then.
type canceller struct {
	ctx     context.Context
	abortFn func(context.Context) error
	timeout time.Duration

	once     sync.Once
	abortErr error
}

func newCanceller(ctx context.Context, abortFn func(context.Context) error, timeout time.Duration) *canceller {
	return &canceller{ctx: ctx, abortFn: abortFn, timeout: timeout}
}

// cancelled reports whether the caller has signalled cancellation.
func (c *canceller) cancelled() bool {
	return c.ctx.Err() != nil
}

// cause returns why the caller's context ended.
func (c *canceller) cause() error {
	return context.Cause(c.ctx)
}

// abort releases server-side multipart state. Only the first call does
// anything; later calls return the first result.
func (c *canceller) abort() error {
	c.once.Do(func() {
		if c.abortFn == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), c.timeout)
		defer cancel()
		c.abortErr = c.abortFn(ctx)
	})
	return c.abortErr
}
