package ipc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Response status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Bare tokens used when replying to a raw-text request.
const (
	RawSuccessToken = "SUCCESS"
	RawErrorPrefix  = "ERROR:"
)

// Request is one logical request from a controller to the listener.
// Enveloped requests carry Type and Params; raw requests carry only Raw.
type Request struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`

	Raw string `json:"-"`
}

// Response is the single reply the listener sends per connection.
type Response struct {
	Status  string          `json:"status"`
	Result  json.RawMessage `json:"result,omitempty"`
	Message string          `json:"message,omitempty"`

	// Raw marks a reply to a raw-text request; it is written as a bare token.
	Raw bool `json:"-"`
}

// Exit codes.
const (
	ExitOK       = 0
	ExitRemote   = 1
	ExitUsageErr = 2
	ExitInternal = 3
)

// IsRaw reports whether the request is raw command text.
func (r *Request) IsRaw() bool {
	return r != nil && r.Type == "" && r.Raw != ""
}

// Encode returns the request payload as written inside a frame.
func (r *Request) Encode() ([]byte, error) {
	if r.IsRaw() {
		return []byte(r.Raw), nil
	}
	if strings.TrimSpace(r.Type) == "" {
		return nil, fmt.Errorf("request type is required")
	}
	return json.Marshal(r)
}

// NewRequest builds an enveloped request, marshaling params when non-nil.
func NewRequest(typ string, params any) (*Request, error) {
	req := &Request{Type: typ}
	if params == nil {
		return req, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		req.Params = raw
		return req, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding params for %s: %w", typ, err)
	}
	req.Params = data
	return req, nil
}

// Success builds a success response carrying result.
func Success(result any) *Response {
	if result == nil {
		return &Response{Status: StatusSuccess}
	}
	if raw, ok := result.(json.RawMessage); ok {
		return &Response{Status: StatusSuccess, Result: raw}
	}
	data, err := json.Marshal(result)
	if err != nil {
		return Failure(fmt.Sprintf("encoding result: %v", err))
	}
	return &Response{Status: StatusSuccess, Result: data}
}

// Failure builds an error response with a human-readable message.
func Failure(message string) *Response {
	return &Response{Status: StatusError, Message: message}
}

// Failuref builds an error response from a format string.
func Failuref(format string, args ...any) *Response {
	return Failure(fmt.Sprintf(format, args...))
}

// OK reports whether the response carries a success status.
func (r *Response) OK() bool {
	return r != nil && r.Status == StatusSuccess
}

// Encode returns the response payload. Raw replies are bare tokens.
func (r *Response) Encode() []byte {
	if r.Raw {
		if r.OK() {
			return []byte(RawSuccessToken)
		}
		return []byte(RawErrorPrefix + " " + r.Message)
	}
	data, err := json.Marshal(r)
	if err != nil {
		data, _ = json.Marshal(Failure(fmt.Sprintf("encoding response: %v", err)))
	}
	return data
}

// ParseResponse decodes a response payload received from the listener.
// Anything that is neither a JSON envelope with a status nor a bare
// raw-mode token is reported as ErrMalformedResponse.
func ParseResponse(payload []byte) (*Response, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedResponse)
	}

	if trimmed[0] == '{' {
		var resp Response
		if err := json.Unmarshal(trimmed, &resp); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		switch resp.Status {
		case StatusSuccess, StatusError:
			return &resp, nil
		case "":
			return nil, fmt.Errorf("%w: missing status", ErrMalformedResponse)
		default:
			return nil, fmt.Errorf("%w: unknown status %q", ErrMalformedResponse, resp.Status)
		}
	}

	text := string(trimmed)
	switch {
	case text == RawSuccessToken:
		return &Response{Status: StatusSuccess, Raw: true}, nil
	case strings.HasPrefix(text, RawErrorPrefix):
		msg := strings.TrimSpace(strings.TrimPrefix(text, RawErrorPrefix))
		return &Response{Status: StatusError, Message: msg, Raw: true}, nil
	default:
		return nil, fmt.Errorf("%w: unrecognized payload", ErrMalformedResponse)
	}
}
