package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// InfiniteRetryProcessor decorates a Processor: it catches any
// unexpected failure from a single Process invocation (including a
// panic escaping the loop body), logs it, sleeps a growing-then-capped
// backoff, and re-invokes. It honors cancellation immediately, even
// mid-backoff.
type InfiniteRetryProcessor struct {
	Inner  Processor
	Logger *slog.Logger

	// InitialBackoff and MaxBackoff bound the growing-then-capped delay
	// between restarts. Zero values fall back to sane defaults.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Run loops Process until ctx is cancelled. A clean (nil) return from
// Process ends the loop; a non-nil return or panic is treated as an
// unexpected processor crash and triggers a backoff-then-restart.
func (p InfiniteRetryProcessor) Run(ctx context.Context) {
	initial := p.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	maxBackoff := p.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}

	backoff := retry.WithCappedDuration(maxBackoff, retry.NewExponential(initial))

	_ = retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := p.invoke(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			// Cancellation raced with the error; treat as expected
			// shutdown, not a crash.
			return nil
		}

		p.Logger.Error("processor crashed, restarting after backoff", "error", err)
		return retry.RetryableError(err)
	})
}

// invoke runs Inner.Process, converting a panic escaping the call into
// an error so a crash in the loop body backs off and restarts instead
// of killing the goroutine.
func (p InfiniteRetryProcessor) invoke(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in processor: %v", r)
		}
	}()
	return p.Inner.Process(ctx)
}
