package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler processes a decoded request and returns a response.
type Handler func(ctx context.Context, req *Request) *Response

// Observer receives per-request outcomes. The metrics package implements it.
type Observer interface {
	ObserveRequest(op, status string, elapsed time.Duration)
	ConnectionRejected()
}

type requestIDKey struct{}

// RequestID returns the id assigned to the connection serving ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

const (
	defaultReadTimeout     = 30 * time.Second
	defaultIdleTimeout     = 5 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultMaxRequestBytes = 16 << 20
	defaultMaxConnections  = 16
)

// Server accepts controller connections on a TCP address. Each connection
// carries exactly one request and one response.
type Server struct {
	addr    string
	handler Handler

	logger          *zap.Logger
	observer        Observer
	maxRequestBytes int
	readTimeout     time.Duration
	idleTimeout     time.Duration
	writeTimeout    time.Duration
	allowRaw        bool
	operations      map[string]bool
	sem             chan struct{}

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	wg       sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithObserver registers a request observer.
func WithObserver(o Observer) Option {
	return func(s *Server) { s.observer = o }
}

// WithMaxRequestBytes caps the size of a single request payload.
func WithMaxRequestBytes(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxRequestBytes = n
		}
	}
}

// WithMaxConnections caps the number of connections served at once.
func WithMaxConnections(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.sem = make(chan struct{}, n)
		}
	}
}

// WithReadTimeout bounds how long a connection may take to deliver its request.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.readTimeout = d
		}
	}
}

// WithIdleTimeout bounds how long a request may stall between reads.
// A payload that stops short of its announced length fails after this
// long instead of holding the connection until the read timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.idleTimeout = d
		}
	}
}

// WithOperations declares the recognized operation names. Requests for
// any other type are observed under the "unknown" label.
func WithOperations(names ...string) Option {
	return func(s *Server) {
		s.operations = make(map[string]bool, len(names))
		for _, name := range names {
			s.operations[name] = true
		}
	}
}

// WithAllowRaw enables the raw-text request form.
func WithAllowRaw(allow bool) Option {
	return func(s *Server) { s.allowRaw = allow }
}

// NewServer creates a server for addr. Call Start to begin accepting.
func NewServer(addr string, handler Handler, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		handler:         handler,
		logger:          zap.NewNop(),
		maxRequestBytes: defaultMaxRequestBytes,
		readTimeout:     defaultReadTimeout,
		idleTimeout:     defaultIdleTimeout,
		writeTimeout:    defaultWriteTimeout,
		sem:             make(chan struct{}, defaultMaxConnections),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds the address and begins accepting in the background.
// It fails immediately when the address is taken.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		if isAddrInUse(err) {
			return fmt.Errorf("%w: %s", ErrAddrInUse, s.addr)
		}
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln in the background.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	s.listener = ln
	s.closed = false
	s.mu.Unlock()

	s.logger.Info("listener started", zap.String("addr", ln.Addr().String()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ln)
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Running reports whether the server is accepting connections.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener != nil && !s.closed
}

// Stop closes the listener and waits for in-flight connections.
// Stopping a server that is not running is a no-op.
func (s *Server) Stop() {
	s.mu.Lock()
	ln := s.listener
	if ln == nil || s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	ln.Close()
	s.wg.Wait()

	s.mu.Lock()
	s.listener = nil
	s.mu.Unlock()
	s.logger.Info("listener stopped")
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			s.logger.Warn("accept failed", zap.Error(err))
			time.Sleep(50 * time.Millisecond)
			continue
		}

		select {
		case s.sem <- struct{}{}:
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer func() { <-s.sem }()
				defer conn.Close()
				s.handleConn(conn)
			}()
		default:
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer conn.Close()
				s.reject(conn)
			}()
		}
	}
}

func (s *Server) reject(conn net.Conn) {
	if s.observer != nil {
		s.observer.ConnectionRejected()
	}
	s.logger.Warn("connection rejected", zap.String("remote", conn.RemoteAddr().String()))
	_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := WriteFrame(conn, Failure("listener busy").Encode()); err == nil {
		drain(conn)
	}
}

const drainTimeout = 500 * time.Millisecond

// drain half-closes conn and discards unread request bytes so the peer
// sees the response instead of a reset.
func drain(conn net.Conn) {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
	_ = conn.SetReadDeadline(time.Now().Add(drainTimeout))
	_, _ = io.Copy(io.Discard, io.LimitReader(conn, 1<<20))
}

type wireMode int

const (
	modeFramed wireMode = iota
	modeLegacyJSON
)

func (s *Server) handleConn(conn net.Conn) {
	start := time.Now()
	id := uuid.NewString()
	log := s.logger.With(zap.String("request_id", id), zap.String("remote", remoteAddr(conn)))

	br := bufio.NewReader(&stallReader{conn: conn, idle: s.idleTimeout, deadline: start.Add(s.readTimeout)})
	payload, mode, err := s.readRequest(br)
	_ = conn.SetReadDeadline(time.Time{})

	op := "invalid"
	var resp *Response
	var req *Request
	if err != nil {
		resp = Failure(err.Error())
	} else if req, err = DecodeRequest(payload, s.allowRaw); err != nil {
		resp = Failure(err.Error())
	} else {
		op = req.Type
		if req.IsRaw() {
			op = RawOperation
		}
		log.Debug("request received", zap.String("op", op), zap.Int("bytes", len(payload)))
		resp = s.serve(conn, id, req)
		resp.Raw = req.IsRaw()
	}

	if resp.OK() {
		log.Debug("request served", zap.String("op", op), zap.Duration("elapsed", time.Since(start)))
	} else {
		log.Info("request failed", zap.String("op", op), zap.String("message", resp.Message))
	}
	if s.observer != nil {
		s.observer.ObserveRequest(s.label(op), resp.Status, time.Since(start))
	}

	_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := writeResponse(conn, mode, resp); err != nil {
		log.Debug("writing response failed", zap.Error(err))
		return
	}
	if req == nil {
		drain(conn)
	}
}

// label returns the metrics label for op.
func (s *Server) label(op string) string {
	if op == "invalid" || s.operations == nil || s.operations[op] {
		return op
	}
	return "unknown"
}

// serve runs the handler with a context that is canceled when the
// connection breaks before the response is ready. A clean EOF is a
// controller that finished sending (half-close) and does not cancel.
func (s *Server) serve(conn net.Conn, id string, req *Request) *Response {
	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), requestIDKey{}, id))
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		var buf [1]byte
		for {
			_, err := conn.Read(buf[:])
			if err == nil {
				continue
			}
			if !errors.Is(err, io.EOF) {
				cancel()
			}
			return
		}
	}()

	resp := s.invoke(ctx, req)
	_ = conn.SetReadDeadline(time.Now())
	<-done
	_ = conn.SetReadDeadline(time.Time{})
	return resp
}

func (s *Server) invoke(ctx context.Context, req *Request) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked", zap.Any("panic", r), zap.String("op", req.Type))
			resp = Failuref("internal error: %v", r)
		}
	}()
	resp = s.handler(ctx, req)
	if resp == nil {
		resp = Failure("internal error: no response")
	}
	return resp
}

func (s *Server) readRequest(br *bufio.Reader) ([]byte, wireMode, error) {
	first, err := br.Peek(1)
	if err != nil {
		if isTimeout(err) {
			return nil, modeFramed, errors.New("reading request: timed out waiting for request data")
		}
		return nil, modeFramed, fmt.Errorf("reading request: %w", err)
	}

	if first[0] == '{' {
		var raw json.RawMessage
		dec := json.NewDecoder(&capReader{r: br, n: int64(s.maxRequestBytes)})
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, errCapExceeded) {
				return nil, modeLegacyJSON, fmt.Errorf("request too large: exceeds limit %d", s.maxRequestBytes)
			}
			return nil, modeLegacyJSON, &ProtocolError{Reason: err.Error()}
		}
		return raw, modeLegacyJSON, nil
	}

	payload, err := ReadFrame(br, s.maxRequestBytes)
	if err != nil {
		if errors.Is(err, ErrFrameTooLarge) {
			return nil, modeFramed, fmt.Errorf("request too large: %s", trimSentinel(err, ErrFrameTooLarge))
		}
		if isTimeout(err) {
			return nil, modeFramed, errors.New("reading request: timed out waiting for request data")
		}
		return nil, modeFramed, fmt.Errorf("reading request: %w", err)
	}
	return payload, modeFramed, nil
}

// stallReader moves the read deadline forward before every read, so a
// request must keep arriving, up to an overall deadline.
type stallReader struct {
	conn     net.Conn
	idle     time.Duration
	deadline time.Time
}

func (r *stallReader) Read(p []byte) (int, error) {
	d := r.deadline
	if r.idle > 0 {
		if next := time.Now().Add(r.idle); next.Before(d) {
			d = next
		}
	}
	_ = r.conn.SetReadDeadline(d)
	return r.conn.Read(p)
}

func writeResponse(conn net.Conn, mode wireMode, resp *Response) error {
	if mode == modeLegacyJSON {
		return json.NewEncoder(conn).Encode(resp)
	}
	return WriteFrame(conn, resp.Encode())
}

func trimSentinel(err, sentinel error) string {
	msg := err.Error()
	prefix := sentinel.Error() + ": "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}

func remoteAddr(conn net.Conn) string {
	if a := conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}
