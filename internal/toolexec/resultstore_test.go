package toolexec

import (
	"os"
	"strings"
	"testing"
)

func TestResultStore_ShortOutputPassesThroughUnmodified(t *testing.T) {
	s := NewResultStore(ResultLimits{PerToolCap: 100, ModelCap: 1000}, t.TempDir())
	out, err := s.Apply("read", "hello")
	if err != nil || out != "hello" {
		t.Fatalf("expected passthrough, got %q err=%v", out, err)
	}
}

func TestResultStore_OverflowPersistsAndReferences(t *testing.T) {
	dir := t.TempDir()
	s := NewResultStore(ResultLimits{PerToolCap: 10, ModelCap: 1000}, dir)
	content := strings.Repeat("x", 50)
	out, err := s.Apply("grep", content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "truncated") {
		t.Fatalf("expected truncation marker, got %q", out)
	}
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one overflow file, got %v err=%v", entries, err)
	}
}

func TestResultStore_CumulativeCapShrinksLaterCalls(t *testing.T) {
	dir := t.TempDir()
	s := NewResultStore(ResultLimits{PerToolCap: 40, ModelCap: 50}, dir)
	if _, err := s.Apply("read", strings.Repeat("a", 40)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := s.Apply("read", strings.Repeat("b", 40))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "truncated") {
		t.Fatalf("expected the second call to be truncated once the model cap is nearly spent, got %q", out)
	}
}
