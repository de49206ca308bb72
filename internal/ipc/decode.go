package ipc

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"
)

// ErrRawDisabled is returned for raw-text payloads when raw mode is off.
var ErrRawDisabled = errors.New("raw command execution is disabled (set listener.allow_raw = true)")

// RawOperation is the operation raw-text payloads are routed to.
const RawOperation = "execute_code"

// DecodeRequest classifies a payload and builds the request it carries.
//
// A payload whose first non-space byte is '{' or '[' is always treated as
// an envelope, so a truncated or invalid envelope is a protocol error and
// never falls through to code execution. Anything else is raw command
// text, accepted only when allowRaw is set.
func DecodeRequest(payload []byte, allowRaw bool) (*Request, error) {
	if !utf8.Valid(payload) {
		return nil, &ProtocolError{Reason: "payload is not valid UTF-8 text"}
	}

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, &ProtocolError{Reason: "empty request"}
	}

	switch trimmed[0] {
	case '{', '[':
		return decodeEnvelope(trimmed)
	}

	if !allowRaw {
		return nil, ErrRawDisabled
	}
	return &Request{Raw: string(payload)}, nil
}

func decodeEnvelope(data []byte) (*Request, error) {
	if !json.Valid(data) {
		var v any
		err := json.Unmarshal(data, &v)
		return nil, &ProtocolError{Reason: err.Error()}
	}

	var env map[string]json.RawMessage
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ProtocolError{Reason: `missing "type"`}
	}
	var typ string
	if err := json.Unmarshal(env["type"], &typ); err != nil || strings.TrimSpace(typ) == "" {
		return nil, &ProtocolError{Reason: `missing "type"`}
	}

	params := bytes.TrimSpace(env["params"])
	switch {
	case len(params) == 0 || bytes.Equal(params, []byte("null")):
		params = json.RawMessage("{}")
	case params[0] != '{':
		return nil, &ProtocolError{Reason: `"params" must be an object`}
	}

	return &Request{Type: strings.TrimSpace(typ), Params: params}, nil
}
