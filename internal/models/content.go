package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Content is the content of a learning record: either plain text or a
// structured JSON object. Structured content keeps its raw bytes so that a
// record read back from storage reconstructs exactly what was written.
type Content struct {
	text       string
	structured json.RawMessage
}

// TextContent returns plain-text content.
func TextContent(s string) Content {
	return Content{text: s}
}

// StructuredContent returns structured content holding the given JSON value.
// The input is validated and compacted once, so every later round trip
// through storage is byte-identical.
func StructuredContent(raw json.RawMessage) (Content, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return Content{}, fmt.Errorf("invalid structured content: %w", err)
	}
	return Content{structured: json.RawMessage(buf.Bytes())}, nil
}

// IsStructured reports whether the content is a structured JSON value.
func (c Content) IsStructured() bool {
	return c.structured != nil
}

// Text returns the plain-text content, or "" when structured.
func (c Content) Text() string {
	return c.text
}

// Structured returns the raw structured JSON, or nil when plain text.
func (c Content) Structured() json.RawMessage {
	return c.structured
}

// IsZero reports whether the content is empty.
func (c Content) IsZero() bool {
	return c.text == "" && c.structured == nil
}

// SearchText returns the text used for keyword search and embedding.
// For structured content this prefers a "summary" or "description" field,
// falling back to the raw JSON string.
func (c Content) SearchText() string {
	if !c.IsStructured() {
		return c.text
	}
	var obj map[string]any
	if err := json.Unmarshal(c.structured, &obj); err == nil {
		if s, ok := obj["summary"].(string); ok && s != "" {
			return s
		}
		if s, ok := obj["description"].(string); ok && s != "" {
			return s
		}
	}
	return string(c.structured)
}

// MarshalJSON emits the structured value as-is, or the text as a JSON string.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.IsStructured() {
		return c.structured, nil
	}
	return json.Marshal(c.text)
}

// UnmarshalJSON accepts either a JSON string (plain text) or any other JSON
// value (structured).
func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = TextContent(s)
		return nil
	}
	parsed, err := StructuredContent(data)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
