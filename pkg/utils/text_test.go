package utils

import (
	"strings"
	"testing"
)

func TestTruncate(t *testing.T) {
	if got := Truncate("hello", 10); got != "hello" {
		t.Errorf("short string should be unchanged: %q", got)
	}
	if got := Truncate("hello world", 5); got != "hello..." {
		t.Errorf("expected truncation: %q", got)
	}
	if got := Truncate("hello", 0); got != "hello" {
		t.Errorf("maxLen 0 should be a no-op: %q", got)
	}
}

func TestSanitizeForEmbedding(t *testing.T) {
	in := "hello\x00world\nnext\tline"
	out := SanitizeForEmbedding(in, 0)
	if strings.Contains(out, "\x00") {
		t.Error("NUL byte should be stripped")
	}
	if !strings.Contains(out, "\n") || !strings.Contains(out, "\t") {
		t.Error("common whitespace should be kept")
	}
	if got := SanitizeForEmbedding("abcdef", 3); got != "abc" {
		t.Errorf("expected cap at 3 bytes, got %q", got)
	}
	if got := SanitizeForEmbedding("", 10); got != "" {
		t.Errorf("empty input: %q", got)
	}
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{1, 0, 0}
	if got := CosineSimilarity(a, b); got < 0.999 {
		t.Errorf("identical vectors should score ~1, got %f", got)
	}
	c := []float32{0, 1, 0}
	if got := CosineSimilarity(a, c); got != 0 {
		t.Errorf("orthogonal vectors should score 0, got %f", got)
	}
	if got := CosineSimilarity(a, []float32{1, 2}); got != 0 {
		t.Errorf("mismatched lengths should score 0, got %f", got)
	}
}
