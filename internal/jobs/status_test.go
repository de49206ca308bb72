package jobs

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseStatusShapes(t *testing.T) {
	tests := []struct {
		raw     string
		kind    Kind
		entries []string
	}{
		{raw: `"Done"`, kind: KindScalar, entries: []string{"Done"}},
		{raw: `["Done","Generating"]`, kind: KindList, entries: []string{"Done", "Generating"}},
		{raw: `[]`, kind: KindList, entries: []string{}},
		{raw: `{"status_list":["Waiting"]}`, kind: KindStructured, entries: []string{"Waiting"}},
		{raw: `{"jobs":[{"uuid":"a","status":"Done"},{"uuid":"b","status":"Failed"}]}`, kind: KindStructured, entries: []string{"Done", "Failed"}},
		{raw: `{"status":"COMPLETED"}`, kind: KindStructured, entries: []string{"COMPLETED"}},
		{raw: `[{"status":"Done"}, "Waiting"]`, kind: KindList, entries: []string{"Done", "Waiting"}},
	}
	for _, tt := range tests {
		s, err := ParseStatus(json.RawMessage(tt.raw))
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.kind, s.Kind, tt.raw)
		assert.Equal(t, tt.entries, s.Entries, tt.raw)
	}
}

func TestParseStatusRejectsUnknownShapes(t *testing.T) {
	for _, raw := range []string{``, `42`, `{"result":1}`, `[1]`, `{"status":3}`, `null`} {
		_, err := ParseStatus(json.RawMessage(raw))
		assert.True(t, errors.Is(err, ErrBadStatus), "ParseStatus(%q) error = %v", raw, err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		status Status
		want   Phase
	}{
		{List("processing"), Pending},
		{List("Done"), Succeeded},
		{List("Done", "Done"), Succeeded},
		{List("Done", "Failed"), Failed},
		{List("Failed", "Waiting"), Failed},
		{List(), Pending},
		{Scalar("Succeed"), Succeeded},
		{Scalar("COMPLETED"), Succeeded},
		{Scalar("cancelled"), Failed},
		{Scalar(" done "), Succeeded},
		{Status{Kind: KindStructured, Entries: []string{"Generating"}}, Pending},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.status), "Classify(%v)", tt.status)
	}
}

var statusToken = rapid.SampledFrom([]string{
	"Done", "done", "Succeed", "COMPLETED", "success",
	"Failed", "error", "Canceled",
	"processing", "Waiting", "Generating", "",
})

func TestClassifyLaws(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		entries := rapid.SliceOfN(statusToken, 0, 8).Draw(t, "entries")
		got := Classify(List(entries...))

		anyFailed, allDone := false, len(entries) > 0
		for _, e := range entries {
			anyFailed = anyFailed || IsFailure(e)
			allDone = allDone && IsDone(e)
		}
		switch {
		case anyFailed:
			if got != Failed {
				t.Fatalf("Classify(%q) = %v, want failed", entries, got)
			}
		case allDone:
			if got != Succeeded {
				t.Fatalf("Classify(%q) = %v, want succeeded", entries, got)
			}
		default:
			if got != Pending {
				t.Fatalf("Classify(%q) = %v, want pending", entries, got)
			}
		}

		// The shape a report arrives in never changes its phase.
		raw, _ := json.Marshal(map[string][]string{"status_list": entries})
		structured, err := ParseStatus(raw)
		if err != nil {
			t.Fatalf("ParseStatus(%s): %v", raw, err)
		}
		if Classify(structured) != got {
			t.Fatalf("structured %s classified %v, list classified %v", raw, Classify(structured), got)
		}
	})
}

func TestStatusMarshalAndPhaseNames(t *testing.T) {
	data, err := json.Marshal(Scalar("Done"))
	require.NoError(t, err)
	assert.JSONEq(t, `["Done"]`, string(data))

	for _, p := range []Phase{Pending, Succeeded, Failed} {
		assert.Equal(t, p, ParsePhase(p.String()))
	}
	assert.True(t, Failed.Terminal())
	assert.False(t, Pending.Terminal())
	assert.True(t, strings.HasPrefix(List("a", "b").String(), "["))
}
