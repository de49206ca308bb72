package hostloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoRunsJobsInSubmissionOrder(t *testing.T) {
	lp := New()
	defer lp.Close()

	gate := make(chan struct{})
	first := make(chan struct{})
	var order []int
	var mu sync.Mutex

	go func() {
		_ = lp.Do(context.Background(), func(context.Context) error {
			close(first)
			<-gate
			return nil
		})
	}()
	<-first

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = lp.Do(context.Background(), func(context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}(i)
		require.Eventually(t, func() bool { return lp.Depth() == i+1 }, time.Second, time.Millisecond)
	}

	close(gate)
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestDoNeverRunsJobsConcurrently(t *testing.T) {
	lp := New()
	defer lp.Close()

	var running, maxRunning atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = lp.Do(context.Background(), func(context.Context) error {
				n := running.Add(1)
				for {
					m := maxRunning.Load()
					if n <= m || maxRunning.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				running.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxRunning.Load())
}

func TestDoReturnsJobError(t *testing.T) {
	lp := New()
	defer lp.Close()

	want := errors.New("operator failed")
	err := lp.Do(context.Background(), func(context.Context) error { return want })
	assert.ErrorIs(t, err, want)
}

func TestDoRecoversPanics(t *testing.T) {
	lp := New()
	defer lp.Close()

	err := lp.Do(context.Background(), func(context.Context) error { panic("bad scene") })
	require.Error(t, err)
	assert.Equal(t, "internal error: bad scene", err.Error())

	assert.NoError(t, lp.Do(context.Background(), func(context.Context) error { return nil }))
}

func TestDoSkipsJobsAbandonedBeforeStart(t *testing.T) {
	lp := New()
	defer lp.Close()

	gate := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = lp.Do(context.Background(), func(context.Context) error {
			close(started)
			<-gate
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	errc := make(chan error, 1)
	go func() {
		errc <- lp.Do(ctx, func(context.Context) error {
			ran.Store(true)
			return nil
		})
	}()
	require.Eventually(t, func() bool { return lp.Depth() == 1 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	close(gate)

	require.NoError(t, lp.Do(context.Background(), func(context.Context) error { return nil }))
	assert.False(t, ran.Load(), "abandoned job ran")
}

func TestStartedJobIsNotCanceled(t *testing.T) {
	lp := New()
	defer lp.Close()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	finished := make(chan error, 1)
	go func() {
		_ = lp.Do(ctx, func(jobCtx context.Context) error {
			close(started)
			time.Sleep(20 * time.Millisecond)
			finished <- jobCtx.Err()
			return nil
		})
	}()
	<-started
	cancel()

	select {
	case err := <-finished:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("started job did not finish")
	}
}

func TestDepthFuncAndClose(t *testing.T) {
	var last atomic.Int32
	last.Store(-1)
	lp := New(WithDepthFunc(func(d int) { last.Store(int32(d)) }))

	require.NoError(t, lp.Do(context.Background(), func(context.Context) error { return nil }))
	assert.Equal(t, int32(0), last.Load())

	lp.Close()
	lp.Close()
	assert.ErrorIs(t, lp.Do(context.Background(), func(context.Context) error { return nil }), ErrClosed)
}
