package ipc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

// fakeListener accepts connections and hands each to serve.
func fakeListener(t *testing.T, serve func(net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				serve(conn)
			}()
		}
	}()
	return ln.Addr().String()
}

func TestCallDecodesResult(t *testing.T) {
	s := startServer(t, func(ctx context.Context, req *Request) *Response {
		return Success(map[string]any{"categories": map[string]int{"outdoor": 12}})
	})

	c := NewClient(s.Addr().String())
	var out struct {
		Categories map[string]int `json:"categories"`
	}
	if err := c.Call(context.Background(), "get_polyhaven_categories", map[string]string{"asset_type": "hdris"}, &out); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if out.Categories["outdoor"] != 12 {
		t.Fatalf("categories = %v", out.Categories)
	}
}

func TestCallReturnsRemoteError(t *testing.T) {
	s := startServer(t, func(ctx context.Context, req *Request) *Response {
		return Failure("unknown operation: " + req.Type)
	})

	err := NewClient(s.Addr().String()).Call(context.Background(), "frobnicate", nil, nil)
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("Call() error = %v, want *RemoteError", err)
	}
	if remote.Message != "unknown operation: frobnicate" {
		t.Fatalf("message = %q", remote.Message)
	}
}

func TestCallReportsListenerUnavailable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	err = NewClient(addr, WithTimeout(time.Second)).Call(context.Background(), "get_status", nil, nil)
	if !errors.Is(err, ErrListenerUnavailable) {
		t.Fatalf("Call() error = %v, want ErrListenerUnavailable", err)
	}
}

func TestCallTimesOutWhenListenerStalls(t *testing.T) {
	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })
	addr := fakeListener(t, func(conn net.Conn) {
		_, _ = ReadFrame(conn, 1<<20)
		<-hold
	})

	c := NewClient(addr, WithTimeout(5*time.Second))
	start := time.Now()
	err := c.Call(context.Background(), "execute_code", map[string]string{"code": "loop()"}, nil, WithCallTimeout(100*time.Millisecond))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Call() error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("call took %v, per-call timeout ignored", elapsed)
	}
}

func TestDoRejectsOversizedResponse(t *testing.T) {
	addr := fakeListener(t, func(conn net.Conn) {
		_, _ = ReadFrame(conn, 1<<20)
		_, _ = conn.Write([]byte{0, 0x10, 0, 0})
	})

	_, err := NewClient(addr, WithMaxResponseBytes(1024)).Do(context.Background(), &Request{Type: "get_status"})
	if !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("Do() error = %v, want ErrResponseTooLarge", err)
	}
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("Do() error = %v, want it to wrap ErrMalformedResponse", err)
	}
}

func TestDoRejectsShortResponse(t *testing.T) {
	addr := fakeListener(t, func(conn net.Conn) {
		_, _ = ReadFrame(conn, 1<<20)
		_, _ = conn.Write([]byte{0, 0, 0, 40, '{', '"', 's'})
	})

	_, err := NewClient(addr).Do(context.Background(), &Request{Type: "get_status"})
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("Do() error = %v, want ErrMalformedResponse", err)
	}
}

func TestDoRejectsResponseWithoutStatus(t *testing.T) {
	addr := fakeListener(t, func(conn net.Conn) {
		_, _ = ReadFrame(conn, 1<<20)
		_ = WriteFrame(conn, []byte(`{"result":{"ok":true}}`))
	})

	_, err := NewClient(addr).Do(context.Background(), &Request{Type: "get_status"})
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("Do() error = %v, want ErrMalformedResponse", err)
	}
}

func TestSendRawAgainstDisabledListener(t *testing.T) {
	s := startServer(t, echoHandler)

	resp, err := NewClient(s.Addr().String()).SendRaw(context.Background(), "import bpy")
	if err != nil {
		t.Fatalf("SendRaw() error = %v", err)
	}
	if resp.OK() || resp.Message != ErrRawDisabled.Error() {
		t.Fatalf("response = %+v, want raw disabled error", resp)
	}
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		payload string
		status  string
		message string
		raw     bool
		wantErr bool
	}{
		{payload: `{"status":"success","result":[1]}`, status: StatusSuccess},
		{payload: `{"status":"error","message":"nope"}`, status: StatusError, message: "nope"},
		{payload: "SUCCESS", status: StatusSuccess, raw: true},
		{payload: "ERROR: name 'x' is not defined", status: StatusError, message: "name 'x' is not defined", raw: true},
		{payload: `{"status":"pending"}`, wantErr: true},
		{payload: `{"status":`, wantErr: true},
		{payload: "", wantErr: true},
		{payload: "hello", wantErr: true},
	}
	for _, tt := range tests {
		resp, err := ParseResponse([]byte(tt.payload))
		if tt.wantErr {
			if !errors.Is(err, ErrMalformedResponse) {
				t.Fatalf("ParseResponse(%q) error = %v, want ErrMalformedResponse", tt.payload, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseResponse(%q) error = %v", tt.payload, err)
		}
		if resp.Status != tt.status || resp.Message != tt.message || resp.Raw != tt.raw {
			t.Fatalf("ParseResponse(%q) = %+v", tt.payload, resp)
		}
	}
}
