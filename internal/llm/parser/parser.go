// Package parser extracts JSON payloads from raw model output.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ParseError reports model output that is not valid JSON after normalization.
// Callers must be able to distinguish this from transport failures, so it is
// a dedicated type rather than a wrapped generic error.
type ParseError struct {
	Snippet string
	Err     error
}

// Error implements the error interface
func (e *ParseError) Error() string {
	if e.Snippet == "" {
		return fmt.Sprintf("model output is not valid JSON: %v", e.Err)
	}
	return fmt.Sprintf("model output is not valid JSON: %v (output starts with %q)", e.Err, e.Snippet)
}

// Unwrap returns the underlying decode error
func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parse extracts the JSON payload from raw model text. Some models wrap JSON
// in a Markdown code fence; the fence is stripped before a strict parse.
// No schema validation happens here - callers must treat every field of the
// result as optional and untrusted.
func Parse(raw string) (json.RawMessage, error) {
	text := Normalize(raw)

	dec := json.NewDecoder(strings.NewReader(text))
	var payload json.RawMessage
	if err := dec.Decode(&payload); err != nil {
		return nil, &ParseError{Snippet: snippet(text), Err: err}
	}
	if dec.More() {
		return nil, &ParseError{Snippet: snippet(text), Err: fmt.Errorf("trailing data after JSON value")}
	}

	return payload, nil
}

// ParseInto parses raw model text and unmarshals the payload into v.
func ParseInto(raw string, v any) error {
	payload, err := Parse(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return &ParseError{Snippet: snippet(string(payload)), Err: err}
	}
	return nil
}

// Normalize trims whitespace and strips a surrounding Markdown code fence.
// The opening fence is dropped through its first newline so both "```" and
// "```json" markers are handled.
func Normalize(raw string) string {
	text := strings.TrimSpace(raw)

	if strings.HasPrefix(text, "```") {
		if idx := strings.IndexByte(text, '\n'); idx >= 0 {
			text = text[idx+1:]
		} else {
			text = strings.TrimPrefix(text, "```")
		}
	}
	if strings.HasSuffix(text, "```") {
		text = strings.TrimSpace(text[:len(text)-3])
	}

	return text
}

func snippet(text string) string {
	text = string(bytes.ToValidUTF8([]byte(text), []byte("?")))
	if len(text) > 80 {
		return text[:80] + "..."
	}
	return text
}
