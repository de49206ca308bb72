package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"
)

const (
	defaultClientTimeout    = 10 * time.Second
	defaultMaxResponseBytes = 16 << 20
)

// Client sends requests to a listener. Each call opens one connection.
type Client struct {
	addr             string
	timeout          time.Duration
	maxResponseBytes int
	dialer           net.Dialer
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the default per-call timeout. Zero disables it.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d >= 0 {
			c.timeout = d
		}
	}
}

// WithMaxResponseBytes caps the size of a response frame.
func WithMaxResponseBytes(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxResponseBytes = n
		}
	}
}

// NewClient creates a client for the listener at addr.
func NewClient(addr string, opts ...ClientOption) *Client {
	c := &Client{
		addr:             addr,
		timeout:          defaultClientTimeout,
		maxResponseBytes: defaultMaxResponseBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Addr returns the listener address the client targets.
func (c *Client) Addr() string { return c.addr }

type callOptions struct {
	timeout    time.Duration
	hasTimeout bool
}

// CallOption adjusts a single call.
type CallOption func(*callOptions)

// WithCallTimeout overrides the client timeout for one call.
func WithCallTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout = d
		o.hasTimeout = true
	}
}

// Do sends req and returns the decoded response. A response with error
// status is returned as-is; only transport and protocol failures are errors.
func (c *Client) Do(ctx context.Context, req *Request, opts ...CallOption) (*Response, error) {
	payload, err := req.Encode()
	if err != nil {
		return nil, err
	}

	co := callOptions{timeout: c.timeout}
	for _, opt := range opts {
		opt(&co)
	}
	if co.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, co.timeout)
		defer cancel()
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, c.classify(ctx, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := WriteFrame(conn, payload); err != nil {
		return nil, c.classify(ctx, err)
	}

	data, err := ReadFrame(bufio.NewReader(conn), c.maxResponseBytes)
	if err != nil {
		return nil, c.classify(ctx, err)
	}
	return ParseResponse(data)
}

// Call sends an enveloped request and decodes the result into out.
// An error-status response is returned as *RemoteError.
func (c *Client) Call(ctx context.Context, typ string, params, out any, opts ...CallOption) error {
	req, err := NewRequest(typ, params)
	if err != nil {
		return err
	}
	resp, err := c.Do(ctx, req, opts...)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return &RemoteError{Type: typ, Message: resp.Message}
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("%w: decoding %s result: %v", ErrMalformedResponse, typ, err)
	}
	return nil
}

// SendRaw sends code as a raw-text request. The listener only accepts it
// when raw mode is enabled.
func (c *Client) SendRaw(ctx context.Context, code string, opts ...CallOption) (*Response, error) {
	if code == "" {
		return nil, errors.New("raw request is empty")
	}
	return c.Do(ctx, &Request{Raw: code}, opts...)
}

func (c *Client) classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("%w at %s", ErrListenerUnavailable, c.addr)
	case errors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(err):
		return fmt.Errorf("%w at %s", ErrTimeout, c.addr)
	case errors.Is(ctx.Err(), context.Canceled):
		return ctx.Err()
	case errors.Is(err, ErrFrameTooLarge):
		return fmt.Errorf("%w (%s)", ErrResponseTooLarge, trimSentinel(err, ErrFrameTooLarge))
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, syscall.ECONNRESET):
		return fmt.Errorf("%w: connection closed before a full response", ErrMalformedResponse)
	}
	return fmt.Errorf("talking to listener at %s: %w", c.addr, err)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
