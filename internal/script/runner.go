// Package script executes code strings with the host's configured interpreter.
package script

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// ErrNotConfigured is returned when no interpreter is configured.
var ErrNotConfigured = errors.New("code execution is not configured (set host.interpreter)")

const truncatedMarker = "\n[output truncated]"

// Result is the captured output of one run.
type Result struct {
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	Truncated bool   `json:"truncated,omitempty"`
}

// ExitError reports a non-zero interpreter exit.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := lastLine(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("code exited with status %d", e.Code)
	}
	return msg
}

// Runner runs code as the final argument of Interpreter.
type Runner struct {
	Interpreter    []string
	WorkDir        string
	Env            map[string]string
	MaxOutputBytes int
}

// Configured reports whether an interpreter is set.
func (r *Runner) Configured() bool {
	return r != nil && len(r.Interpreter) > 0 && r.Interpreter[0] != ""
}

// Run executes code and returns its captured output. A non-zero exit
// returns the partial Result together with an *ExitError.
func (r *Runner) Run(ctx context.Context, code string) (Result, error) {
	if !r.Configured() {
		return Result{}, ErrNotConfigured
	}

	args := append(append([]string(nil), r.Interpreter[1:]...), code)
	cmd := exec.CommandContext(ctx, r.Interpreter[0], args...)
	cmd.Dir = r.WorkDir
	cmd.Env = r.environ()

	stdout := &boundedBuffer{limit: r.MaxOutputBytes}
	stderr := &boundedBuffer{limit: r.MaxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	res := Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.truncated || stderr.truncated,
	}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return res, &ExitError{Code: exitErr.ExitCode(), Stderr: res.Stderr}
	}
	return res, fmt.Errorf("starting %s: %w", r.Interpreter[0], err)
}

func (r *Runner) environ() []string {
	if len(r.Env) == 0 {
		return nil
	}
	env := os.Environ()
	keys := make([]string, 0, len(r.Env))
	for k := range r.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+r.Env[k])
	}
	return env
}

// boundedBuffer keeps at most limit bytes and drops the rest.
type boundedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if b.limit <= 0 {
		b.buf.Write(p)
		return n, nil
	}
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.truncated = true
		return n, nil
	}
	if len(p) > room {
		p = p[:room]
		b.truncated = true
	}
	b.buf.Write(p)
	return n, nil
}

func (b *boundedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + truncatedMarker
	}
	return b.buf.String()
}

func lastLine(s string) string {
	s = strings.TrimSpace(strings.TrimSuffix(s, truncatedMarker))
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
