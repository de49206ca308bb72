package daemon

import (
	"errors"
	"fmt"

	"github.com/lydakis/scenectl/internal/hostloop"
	"github.com/lydakis/scenectl/internal/rodin"
	"github.com/lydakis/scenectl/internal/script"
)

// paramError is a request whose params fail validation.
type paramError struct {
	op  string
	msg string
}

func (e *paramError) Error() string {
	return fmt.Sprintf("invalid params for %s: %s", e.op, e.msg)
}

func invalidParams(op, format string, args ...any) error {
	return &paramError{op: op, msg: fmt.Sprintf(format, args...)}
}

// disabledError names the config key that enables a backend.
type disabledError struct {
	backend string
	hint    string
}

func (e *disabledError) Error() string {
	return fmt.Sprintf("%s is disabled: %s", e.backend, e.hint)
}

// errorMessage renders an operation error for the response message.
func errorMessage(err error) string {
	var (
		exitErr *script.ExitError
		apiErr  *rodin.APIError
	)
	switch {
	case errors.Is(err, hostloop.ErrClosed):
		return "listener is shutting down"
	case errors.Is(err, script.ErrNotConfigured):
		return script.ErrNotConfigured.Error()
	case errors.As(err, &exitErr):
		return exitErr.Error()
	case errors.As(err, &apiErr):
		if apiErr.StatusCode == 0 {
			return "Hyper3D Rodin: " + apiErr.Message
		}
		return fmt.Sprintf("Hyper3D Rodin: HTTP %d: %s", apiErr.StatusCode, apiErr.Message)
	}
	return err.Error()
}
