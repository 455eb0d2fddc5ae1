package failure

import (
	"context"
	"log/slog"
	"time"

	"github.com/nfa-labs/autopilot/pkg/metrics"
)

const maxRetryDelay = 30 * time.Second

// Retry runs fn up to maxAttempts times, sleeping between attempts with
// exponential backoff starting at baseDelay. Only infrastructure failures
// are retried: model output and business rejections return immediately,
// since retrying them would replay the same deterministic outcome.
//
// The returned error is always a *RunnerError (or nil).
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func(context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	delay := baseDelay
	var last *RunnerError
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		last = Normalize(err)
		if !last.Retryable {
			return last
		}
		if attempt == maxAttempts {
			break
		}
		metrics.RetryAttemptsTotal.Inc()
		slog.Warn("Retrying after infrastructure failure",
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"delay", delay,
			"error", last.Err)
		select {
		case <-ctx.Done():
			return Normalize(ctx.Err())
		case <-time.After(delay):
		}
		delay = min(delay*2, maxRetryDelay)
	}
	return last
}
