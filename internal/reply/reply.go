// Package reply turns raw model output into something the UI can always
// render. Structured output is decoded when possible; anything else is shown
// verbatim.
package reply

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// MemoDraft is the reminder a structured reply asked for.
type MemoDraft struct {
	Title string `json:"title"`
	Time  string `json:"time"`
}

// Parsed is the reply shown to the user plus an optional memo.
type Parsed struct {
	Text string     `json:"text"`
	Memo *MemoDraft `json:"memo"`
}

// Result is the outcome of Normalize. Failure is set when the text was not
// structured and Parsed is the plain-text fallback.
type Result struct {
	Parsed
	Structured bool
	Failure    error
}

// DecodeFailure explains why cleaned text was not a structured reply.
type DecodeFailure struct {
	Reason string
	Err    error
}

func (e *DecodeFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode reply: %s: %v", e.Reason, e.Err)
	}
	return "decode reply: " + e.Reason
}

func (e *DecodeFailure) Unwrap() error { return e.Err }

var (
	leadingFence  = regexp.MustCompile("^```[A-Za-z0-9_-]*[ \t]*\r?\n?")
	trailingFence = regexp.MustCompile("\r?\n?[ \t]*```$")
)

// Clean strips markdown fences the model added despite instructions and
// trims surrounding whitespace.
func Clean(raw string) string {
	s := strings.TrimSpace(raw)
	s = leadingFence.ReplaceAllString(s, "")
	s = trailingFence.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

type wireReply struct {
	Reply json.RawMessage `json:"reply"`
	Text  json.RawMessage `json:"text"`
	Memo  json.RawMessage `json:"memo"`
}

// Decode decodes cleaned text into a Parsed reply. Only a JSON object is
// accepted. Field types are read leniently: a non-string reply is shown as its
// JSON text, and a memo that is not an object with a string title is dropped.
func Decode(cleaned string) (Parsed, error) {
	data := []byte(cleaned)
	if len(bytes.TrimSpace(data)) == 0 {
		return Parsed{}, &DecodeFailure{Reason: "empty text"}
	}
	if bytes.TrimSpace(data)[0] != '{' {
		return Parsed{}, &DecodeFailure{Reason: "not a JSON object"}
	}

	var w wireReply
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&w); err != nil {
		return Parsed{}, &DecodeFailure{Reason: "invalid JSON", Err: err}
	}
	if dec.More() {
		return Parsed{}, &DecodeFailure{Reason: "trailing data after JSON object"}
	}

	var out Parsed
	if text, ok := textValue(w.Reply); ok {
		out.Text = text
	} else if text, ok := textValue(w.Text); ok {
		out.Text = text
	}
	out.Memo = memoDraft(w.Memo)
	return out, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// textValue reports the string form of raw; absent and null are not values.
func textValue(raw json.RawMessage) (string, bool) {
	if isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(bytes.TrimSpace(raw)), true
	}
	return buf.String(), true
}

func memoDraft(raw json.RawMessage) *MemoDraft {
	if isNull(raw) {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	var m MemoDraft
	title, ok := fields["title"]
	if !ok || json.Unmarshal(title, &m.Title) != nil || isNull(title) {
		return nil
	}
	if t, ok := fields["time"]; ok {
		// Non-string times are not a due time the scheduler can match.
		_ = json.Unmarshal(t, &m.Time)
	}
	return &m
}

// Normalize never fails: undecodable text becomes the reply itself with no memo.
func Normalize(raw string) Result {
	cleaned := Clean(raw)
	parsed, err := Decode(cleaned)
	if err != nil {
		return Result{
			Parsed:  Parsed{Text: cleaned, Memo: nil},
			Failure: err,
		}
	}
	return Result{Parsed: parsed, Structured: true}
}
