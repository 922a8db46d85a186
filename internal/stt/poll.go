package stt

import (
	"context"
	"time"
)

const (
	defaultPollAttempts = 30
	defaultPollInterval = time.Second
)

// Poller repeats a status check until it reports a terminal state.
type Poller struct {
	Attempts int
	Interval time.Duration

	// Sleep waits between checks; tests inject a no-op. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Check fetches the current job state. done=true ends polling successfully; a non-nil
// error ends it immediately.
type Check func(ctx context.Context) (done bool, err error)

// Poll runs check at most Attempts times, sleeping Interval between checks.
// Exhausting every attempt yields *TimeoutError.
func (p Poller) Poll(ctx context.Context, provider string, check Check) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = defaultPollAttempts
	}
	interval := p.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	for i := 0; i < attempts; i++ {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if i == attempts-1 {
			break
		}
		if err := sleep(ctx, interval); err != nil {
			return err
		}
	}
	return &TimeoutError{Provider: provider, Attempts: attempts}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
