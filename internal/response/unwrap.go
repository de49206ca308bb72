// Package response turns listener replies and call errors into CLI
// output and exit codes.
package response

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/lydakis/scenectl/internal/ipc"
	"github.com/lydakis/scenectl/internal/jobs"
)

// Unwrap extracts printable output from a listener response.
// Returns the output bytes and an exit code.
func Unwrap(resp *ipc.Response) ([]byte, int) {
	if resp == nil {
		return nil, ipc.ExitInternal
	}
	if !resp.OK() {
		return ensureTrailingNewline([]byte(resp.Message)), ipc.ExitRemote
	}
	if resp.Raw {
		return []byte(ipc.RawSuccessToken + "\n"), ipc.ExitOK
	}
	return Render(resp.Result), ipc.ExitOK
}

// Render formats a result payload: JSON strings print bare, anything
// else prints as indented JSON. null and empty results print nothing.
func Render(result json.RawMessage) []byte {
	trimmed := bytes.TrimSpace(result)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	var s string
	if trimmed[0] == '"' && json.Unmarshal(trimmed, &s) == nil {
		return ensureTrailingNewline([]byte(s))
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, trimmed, "", "  "); err != nil {
		return ensureTrailingNewline(trimmed)
	}
	return ensureTrailingNewline(buf.Bytes())
}

// ExitCode maps a call error to the process exit code. Failures the
// listener reported, including failed jobs, exit 1; transport and
// protocol failures exit 3.
func ExitCode(err error) int {
	var remote *ipc.RemoteError
	switch {
	case err == nil:
		return ipc.ExitOK
	case errors.As(err, &remote), errors.Is(err, jobs.ErrJobFailed):
		return ipc.ExitRemote
	}
	return ipc.ExitInternal
}

// Hint returns advice for a transport failure, or "".
func Hint(err error) string {
	switch {
	case errors.Is(err, ipc.ErrListenerUnavailable):
		return "start the listener inside the host application with: scenectl serve"
	case errors.Is(err, ipc.ErrTimeout):
		return "the command may still be running in the host; raise --timeout for long operations"
	case errors.Is(err, ipc.ErrResponseTooLarge):
		return "raise client.max_response_bytes to accept larger replies"
	}
	return ""
}

func ensureTrailingNewline(out []byte) []byte {
	if len(out) == 0 {
		return out
	}
	if out[len(out)-1] != '\n' {
		return append(out, '\n')
	}
	return out
}
