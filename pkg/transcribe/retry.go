package transcribe

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"
)

const (
	defaultMaxAttempts = 4
	defaultBaseDelay   = 500 * time.Millisecond
	defaultMargin      = 500 * time.Millisecond

	// maxJitter is the upper bound of the random component added to every
	// computed backoff, de-synchronising concurrent retriers.
	maxJitter = time.Second
)

// Compile-time assertion that Retrying implements Client.
var _ Client = (*Retrying)(nil)

// Retrying wraps a Client with single-call retry semantics: rate-limit and
// transient failures are retried with exponential backoff plus jitter, up to
// a fixed attempt count. Auth failures propagate immediately and payload-size
// failures are terminal for the payload, so neither is retried.
//
// When the failed attempt carries a server-suggested wait, the actual delay
// is the larger of the computed backoff and that suggestion plus a safety
// margin.
type Retrying struct {
	// Client is the wrapped single-call client. Required.
	Client Client

	// MaxAttempts caps the total number of calls, including the first.
	// Zero means 4.
	MaxAttempts int

	// BaseDelay is the backoff before the second attempt; it doubles for
	// each attempt after that. Zero means 500 ms.
	BaseDelay time.Duration

	// Margin is added to server-suggested waits. Zero means 500 ms.
	Margin time.Duration

	// sleep is injectable for tests; nil means a context-aware real sleep.
	sleep func(ctx context.Context, d time.Duration) error
}

// Transcribe implements Client.
func (r *Retrying) Transcribe(ctx context.Context, req Request) (*Fragment, error) {
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	baseDelay := r.BaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	margin := r.Margin
	if margin <= 0 {
		margin = defaultMargin
	}
	sleep := r.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		frag, err := r.Client.Transcribe(ctx, req)
		if err == nil {
			return frag, nil
		}
		if !Retryable(err) {
			return nil, err
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}

		delay := baseDelay<<(attempt-1) + rand.N(maxJitter)
		if suggested := suggestedWait(err); suggested > 0 && suggested+margin > delay {
			delay = suggested + margin
		}
		slog.Debug("transcription attempt failed, backing off",
			"attempt", attempt,
			"delay", delay,
			"err", err,
		)
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// suggestedWait extracts the server-suggested wait from a rate-limit error,
// or 0 when there is none.
func suggestedWait(err error) time.Duration {
	if rl, ok := err.(*RateLimitError); ok {
		return rl.RetryAfter
	}
	return 0
}

// sleepCtx waits for d or until ctx is cancelled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
