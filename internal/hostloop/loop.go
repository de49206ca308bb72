// Package hostloop runs work on a single goroutine that stands in for the
// host application's main thread. Jobs run one at a time in FIFO order.
package hostloop

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

// ErrClosed is returned by Do after Close.
var ErrClosed = errors.New("host loop closed")

// DepthFunc receives the queue depth whenever it changes. It is called
// with the queue lock held and must not call back into the Loop.
type DepthFunc func(depth int)

type job struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// Loop serializes jobs onto one goroutine.
type Loop struct {
	logger  *zap.Logger
	onDepth DepthFunc

	mu      sync.Mutex
	queue   []*job
	closed  bool
	wake    chan struct{}
	stopped chan struct{}
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the loop logger.
func WithLogger(l *zap.Logger) Option {
	return func(lp *Loop) {
		if l != nil {
			lp.logger = l
		}
	}
}

// WithDepthFunc reports queue depth changes, e.g. to a gauge.
func WithDepthFunc(fn DepthFunc) Option {
	return func(lp *Loop) { lp.onDepth = fn }
}

// New starts a loop.
func New(opts ...Option) *Loop {
	lp := &Loop{
		logger:  zap.NewNop(),
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(lp)
	}
	go lp.run()
	return lp
}

// Do enqueues fn and waits for it to finish. If ctx is done before fn
// starts, fn is skipped and ctx's error returned. Once started, fn runs
// to completion; Do still returns early when ctx ends, leaving the
// result unread. A panic inside fn is returned as an error.
func (lp *Loop) Do(ctx context.Context, fn func(context.Context) error) error {
	j := &job{ctx: ctx, fn: fn, done: make(chan error, 1)}

	lp.mu.Lock()
	if lp.closed {
		lp.mu.Unlock()
		return ErrClosed
	}
	lp.queue = append(lp.queue, j)
	lp.reportDepth(len(lp.queue))
	select {
	case lp.wake <- struct{}{}:
	default:
	}
	lp.mu.Unlock()

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Depth returns the number of queued jobs not yet started.
func (lp *Loop) Depth() int {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return len(lp.queue)
}

// Close stops accepting jobs, fails any still queued, and waits for
// the running job to finish.
func (lp *Loop) Close() {
	lp.mu.Lock()
	if lp.closed {
		lp.mu.Unlock()
		<-lp.stopped
		return
	}
	lp.closed = true
	pending := lp.queue
	lp.queue = nil
	lp.reportDepth(0)
	close(lp.wake)
	lp.mu.Unlock()

	for _, j := range pending {
		j.done <- ErrClosed
	}
	<-lp.stopped
}

func (lp *Loop) run() {
	defer close(lp.stopped)
	for range lp.wake {
		for {
			j := lp.next()
			if j == nil {
				break
			}
			lp.execute(j)
		}
	}
}

func (lp *Loop) next() *job {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	if len(lp.queue) == 0 {
		return nil
	}
	j := lp.queue[0]
	lp.queue[0] = nil
	lp.queue = lp.queue[1:]
	lp.reportDepth(len(lp.queue))
	return j
}

func (lp *Loop) execute(j *job) {
	if err := j.ctx.Err(); err != nil {
		lp.logger.Debug("skipping job abandoned before start", zap.Error(err))
		j.done <- err
		return
	}
	j.done <- lp.call(j)
}

func (lp *Loop) call(j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			lp.logger.Error("job panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return j.fn(context.WithoutCancel(j.ctx))
}

func (lp *Loop) reportDepth(depth int) {
	if lp.onDepth != nil {
		lp.onDepth(depth)
	}
}
