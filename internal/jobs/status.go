// Package jobs models long-running generation jobs: their status reports,
// classification into phases, polling, and the submit/poll/import workflow.
package jobs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the shape a status report arrived in.
type Kind int

const (
	// KindScalar is a single status string, e.g. "Done".
	KindScalar Kind = iota
	// KindList is a list of per-subtask statuses.
	KindList
	// KindStructured is an object carrying status_list, jobs, or status.
	KindStructured
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindList:
		return "list"
	case KindStructured:
		return "structured"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Phase is the classification of a status.
type Phase int

const (
	Pending Phase = iota
	Succeeded
	Failed
)

func (p Phase) String() string {
	switch p {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return "pending"
}

// Terminal reports whether the phase is final.
func (p Phase) Terminal() bool { return p != Pending }

// ParsePhase maps a stored phase name back to a Phase.
func ParsePhase(s string) Phase {
	switch s {
	case "succeeded":
		return Succeeded
	case "failed":
		return Failed
	}
	return Pending
}

// ErrBadStatus is returned for status reports of no recognized shape.
var ErrBadStatus = errors.New("unrecognized job status")

// Status is one status report. Entries holds the per-subtask status
// strings regardless of Kind.
type Status struct {
	Kind    Kind
	Entries []string
}

// Scalar returns a scalar status.
func Scalar(s string) Status { return Status{Kind: KindScalar, Entries: []string{s}} }

// List returns a list status.
func List(entries ...string) Status {
	return Status{Kind: KindList, Entries: append([]string{}, entries...)}
}

func (s Status) String() string {
	if s.Kind == KindScalar && len(s.Entries) == 1 {
		return s.Entries[0]
	}
	return "[" + strings.Join(s.Entries, ", ") + "]"
}

// MarshalJSON writes the status as the list of entries.
func (s Status) MarshalJSON() ([]byte, error) {
	if s.Entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.Entries)
}

// ParseStatus decodes any accepted status shape.
func ParseStatus(raw json.RawMessage) (Status, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Status{}, fmt.Errorf("%w: empty", ErrBadStatus)
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Status{}, fmt.Errorf("%w: %v", ErrBadStatus, err)
		}
		return Scalar(s), nil
	case '[':
		entries, err := parseEntries(raw)
		if err != nil {
			return Status{}, err
		}
		return Status{Kind: KindList, Entries: entries}, nil
	case '{':
		return parseStructured(raw)
	}
	return Status{}, fmt.Errorf("%w: %s", ErrBadStatus, truncate(raw))
}

func parseStructured(raw json.RawMessage) (Status, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrBadStatus, err)
	}
	for _, key := range []string{"status_list", "jobs"} {
		if v, ok := obj[key]; ok {
			entries, err := parseEntries(v)
			if err != nil {
				return Status{}, err
			}
			return Status{Kind: KindStructured, Entries: entries}, nil
		}
	}
	if v, ok := obj["status"]; ok {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return Status{}, fmt.Errorf("%w: status is not a string", ErrBadStatus)
		}
		return Status{Kind: KindStructured, Entries: []string{s}}, nil
	}
	return Status{}, fmt.Errorf("%w: %s", ErrBadStatus, truncate(raw))
}

// parseEntries accepts a list of strings or of objects with a status field.
func parseEntries(raw json.RawMessage) ([]string, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadStatus, err)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, s)
			continue
		}
		var obj struct {
			Status *string `json:"status"`
		}
		if err := json.Unmarshal(item, &obj); err != nil || obj.Status == nil {
			return nil, fmt.Errorf("%w: entry %s", ErrBadStatus, truncate(item))
		}
		out = append(out, *obj.Status)
	}
	return out, nil
}

var (
	doneTokens    = []string{"done", "succeed", "succeeded", "success", "completed"}
	failureTokens = []string{"failed", "failure", "error", "canceled", "cancelled"}
)

// IsDone reports whether a single status string means success.
func IsDone(s string) bool { return hasToken(doneTokens, s) }

// IsFailure reports whether a single status string means failure.
func IsFailure(s string) bool { return hasToken(failureTokens, s) }

func hasToken(tokens []string, s string) bool {
	s = strings.TrimSpace(s)
	for _, t := range tokens {
		if strings.EqualFold(s, t) {
			return true
		}
	}
	return false
}

// Classify maps a status to its phase. Any failure entry wins; all
// entries done (and at least one entry) succeeds; anything else,
// including an empty list, is pending.
func Classify(s Status) Phase {
	if len(s.Entries) == 0 {
		return Pending
	}
	for _, e := range s.Entries {
		if IsFailure(e) {
			return Failed
		}
	}
	for _, e := range s.Entries {
		if !IsDone(e) {
			return Pending
		}
	}
	return Succeeded
}

func truncate(b []byte) string {
	const limit = 120
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
