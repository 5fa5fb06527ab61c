package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	id := NewID("job")
	if !strings.HasPrefix(id, "job_") {
		t.Fatalf("NewID(job) = %q, want job_ prefix", id)
	}
	if got := len(strings.TrimPrefix(id, "job_")); got != 32 {
		t.Fatalf("expected 32 hex chars, got %d", got)
	}
	if bare := NewID(""); strings.Contains(bare, "_") || len(bare) != 32 {
		t.Fatalf("unexpected bare id %q", bare)
	}
	if NewID("x") == NewID("x") {
		t.Fatal("expected unique ids")
	}
}

func TestNewCode(t *testing.T) {
	code := NewCode(10)
	if len(code) != 10 {
		t.Fatalf("NewCode(10) length = %d", len(code))
	}
	for _, r := range code {
		if !strings.ContainsRune(codeAlphabet, r) {
			t.Fatalf("unexpected rune %q in %q", r, code)
		}
	}
	if len(NewCode(0)) != 8 {
		t.Fatal("expected default length 8")
	}
}
