package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/lydakis/scenectl/internal/ipc"
	"github.com/lydakis/scenectl/internal/jobs"
)

func TestUnwrapIndentsObjects(t *testing.T) {
	out, code := Unwrap(ipc.Success(map[string]int{"count": 3}))
	if code != ipc.ExitOK {
		t.Fatalf("Unwrap code = %d, want %d", code, ipc.ExitOK)
	}
	if string(out) != "{\n  \"count\": 3\n}\n" {
		t.Fatalf("Unwrap output = %q", string(out))
	}
}

func TestUnwrapPrintsStringsBare(t *testing.T) {
	out, _ := Unwrap(ipc.Success("alpha\nbeta"))
	if string(out) != "alpha\nbeta\n" {
		t.Fatalf("Unwrap output = %q, want %q", string(out), "alpha\\nbeta\\n")
	}
}

func TestUnwrapErrorResponse(t *testing.T) {
	out, code := Unwrap(ipc.Failure("unknown operation: nope"))
	if code != ipc.ExitRemote {
		t.Fatalf("Unwrap code = %d, want %d", code, ipc.ExitRemote)
	}
	if string(out) != "unknown operation: nope\n" {
		t.Fatalf("Unwrap output = %q", string(out))
	}
}

func TestUnwrapRawSuccess(t *testing.T) {
	out, code := Unwrap(&ipc.Response{Status: ipc.StatusSuccess, Raw: true})
	if code != ipc.ExitOK || string(out) != "SUCCESS\n" {
		t.Fatalf("Unwrap = %q, %d", string(out), code)
	}
}

func TestUnwrapNil(t *testing.T) {
	if _, code := Unwrap(nil); code != ipc.ExitInternal {
		t.Fatalf("Unwrap(nil) code = %d, want %d", code, ipc.ExitInternal)
	}
}

func TestRenderEmptyAndNull(t *testing.T) {
	for _, in := range []string{"", "null", "  "} {
		if out := Render(json.RawMessage(in)); out != nil {
			t.Fatalf("Render(%q) = %q, want nil", in, out)
		}
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: nil, want: ipc.ExitOK},
		{err: &ipc.RemoteError{Type: "execute_code", Message: "boom"}, want: ipc.ExitRemote},
		{err: fmt.Errorf("waiting: %w", jobs.ErrJobFailed), want: ipc.ExitRemote},
		{err: fmt.Errorf("%w: 127.0.0.1:9876", ipc.ErrListenerUnavailable), want: ipc.ExitInternal},
		{err: ipc.ErrMalformedResponse, want: ipc.ExitInternal},
		{err: errors.New("other"), want: ipc.ExitInternal},
	}
	for _, tt := range tests {
		if got := ExitCode(tt.err); got != tt.want {
			t.Fatalf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestHint(t *testing.T) {
	if Hint(fmt.Errorf("dial: %w", ipc.ErrListenerUnavailable)) == "" {
		t.Fatal("Hint(ErrListenerUnavailable) is empty")
	}
	if Hint(ipc.ErrResponseTooLarge) == "" {
		t.Fatal("Hint(ErrResponseTooLarge) is empty")
	}
	if Hint(errors.New("x")) != "" {
		t.Fatal("Hint(other) is not empty")
	}
}
