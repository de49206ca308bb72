package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/lydakis/scenectl/internal/ipc"
)

type step struct {
	status Status
	err    error
}

// scripted returns a fetch that replays steps, repeating the last one.
func scripted(steps []step) (FetchFunc, *int) {
	calls := new(int)
	return func(context.Context) (Status, error) {
		i := *calls
		*calls++
		if i >= len(steps) {
			i = len(steps) - 1
		}
		return steps[i].status, steps[i].err
	}, calls
}

func TestWaitSucceedsAfterThirdPoll(t *testing.T) {
	fetch, calls := scripted([]step{
		{status: List("processing")},
		{status: List("processing")},
		{status: List("Done")},
	})

	s, err := Poller{Interval: time.Millisecond}.Wait(context.Background(), fetch)
	require.NoError(t, err)
	assert.Equal(t, 3, *calls)
	assert.Equal(t, Succeeded, Classify(s))
}

func TestWaitFailsImmediatelyOnAnyFailedEntry(t *testing.T) {
	fetch, calls := scripted([]step{{status: List("Done", "Failed")}})

	s, err := Poller{Interval: time.Millisecond}.Wait(context.Background(), fetch)
	assert.ErrorIs(t, err, ErrJobFailed)
	assert.Equal(t, 1, *calls)
	assert.Equal(t, []string{"Done", "Failed"}, s.Entries)
}

func TestWaitRetriesTransportErrors(t *testing.T) {
	fetch, calls := scripted([]step{
		{err: fmt.Errorf("%w at 127.0.0.1:9876", ipc.ErrListenerUnavailable)},
		{err: fmt.Errorf("%w: short read", ipc.ErrMalformedResponse)},
		{err: ipc.ErrTimeout},
		{status: Scalar("Done")},
	})

	_, err := Poller{Interval: time.Millisecond}.Wait(context.Background(), fetch)
	require.NoError(t, err)
	assert.Equal(t, 4, *calls)
}

func TestWaitStopsOnRemoteError(t *testing.T) {
	remote := &ipc.RemoteError{Type: OpPoll, Message: "Hyper3D Rodin is disabled"}
	fetch, calls := scripted([]step{{err: remote}, {status: Scalar("Done")}})

	_, err := Poller{Interval: time.Millisecond}.Wait(context.Background(), fetch)
	var got *ipc.RemoteError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, 1, *calls)
}

func TestWaitHonorsMaxWait(t *testing.T) {
	fetch, _ := scripted([]step{{status: List("processing")}})

	_, err := Poller{Interval: 5 * time.Millisecond, MaxWait: 30 * time.Millisecond}.Wait(context.Background(), fetch)
	assert.ErrorIs(t, err, ErrWaitExceeded)
}

func TestWaitReturnsParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetch := func(context.Context) (Status, error) {
		cancel()
		return List("processing"), nil
	}

	_, err := Poller{Interval: time.Hour}.Wait(ctx, fetch)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrWaitExceeded))
}

func TestWaitTerminationLaw(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		pending := rapid.SliceOfN(rapid.SampledFrom([]string{"processing", "Waiting", "Generating", "Done"}), 1, 4)
		prefix := rapid.SliceOfN(pending, 0, 6).Draw(t, "prefix")
		failing := rapid.Bool().Draw(t, "failing")

		var steps []step
		for _, entries := range prefix {
			entries = append(entries, "processing")
			steps = append(steps, step{status: List(entries...)})
		}
		final := List("Done", "Done")
		if failing {
			final = List("Done", "Failed")
		}
		steps = append(steps, step{status: final})

		fetch, calls := scripted(steps)
		_, err := Poller{Interval: time.Microsecond, MaxWait: 5 * time.Second}.Wait(context.Background(), fetch)

		if *calls != len(steps) {
			t.Fatalf("polled %d times, want %d", *calls, len(steps))
		}
		if failing && !errors.Is(err, ErrJobFailed) {
			t.Fatalf("Wait() error = %v, want ErrJobFailed", err)
		}
		if !failing && err != nil {
			t.Fatalf("Wait() error = %v, want success", err)
		}
	})
}
