package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lydakis/scenectl/internal/ipc"
)

var (
	// ErrJobFailed is returned when a job reaches the failed phase.
	ErrJobFailed = errors.New("job failed")

	// ErrWaitExceeded is returned when MaxWait elapses before a terminal status.
	ErrWaitExceeded = errors.New("job did not finish in time")
)

// DefaultPollInterval is used when Poller.Interval is zero.
const DefaultPollInterval = 5 * time.Second

// FetchFunc retrieves the current status. Each call is one exchange.
type FetchFunc func(ctx context.Context) (Status, error)

// Poller repeatedly fetches a status until it classifies as terminal.
type Poller struct {
	Interval time.Duration
	// MaxWait bounds the whole wait. Zero waits until ctx ends.
	MaxWait time.Duration
	// OnPoll, if set, observes every attempt.
	OnPoll func(attempt int, s Status, err error)
}

// Wait polls until the job succeeds or fails. Transport errors and
// malformed responses are retried after the same interval; a remote
// error reply stops polling immediately. A failed job returns its last
// status with an error wrapping ErrJobFailed.
func (p Poller) Wait(ctx context.Context, fetch FetchFunc) (Status, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	parent := ctx
	if p.MaxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.MaxWait)
		defer cancel()
	}

	var (
		last    Status
		attempt int
		lastErr error
	)
	op := func() error {
		attempt++
		s, err := fetch(ctx)
		if p.OnPoll != nil {
			p.OnPoll(attempt, s, err)
		}
		if err != nil {
			lastErr = err
			if retryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		last = s
		lastErr = nil
		switch Classify(s) {
		case Succeeded:
			return nil
		case Failed:
			return backoff.Permanent(fmt.Errorf("%w: status %s", ErrJobFailed, s))
		}
		return errPending
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(interval), ctx)
	err := backoff.Retry(op, b)
	if err == nil {
		return last, nil
	}
	if errors.Is(err, errPending) || (ctx.Err() != nil && parent.Err() == nil) {
		return last, p.exceeded(attempt, last, lastErr)
	}
	return last, err
}

var errPending = errors.New("job pending")

func (p Poller) exceeded(attempt int, last Status, lastErr error) error {
	if lastErr != nil {
		return fmt.Errorf("%w: %d polls over %s, last error: %v", ErrWaitExceeded, attempt, p.MaxWait, lastErr)
	}
	return fmt.Errorf("%w: %d polls over %s, last status %s", ErrWaitExceeded, attempt, p.MaxWait, last)
}

// retryable reports whether a fetch error is worth another attempt.
func retryable(err error) bool {
	var remote *ipc.RemoteError
	switch {
	case errors.As(err, &remote):
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ipc.ErrListenerUnavailable),
		errors.Is(err, ipc.ErrTimeout),
		errors.Is(err, ipc.ErrMalformedResponse),
		errors.Is(err, ErrBadStatus):
		return true
	}
	var perm *backoff.PermanentError
	return !errors.As(err, &perm)
}
