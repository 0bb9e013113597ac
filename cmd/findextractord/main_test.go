package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestExtractPlainTextSnippetTrimsToMaxChars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("  the quick brown fox jumps over the lazy dog  "), 0o644); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	snippet, err := extractPlainTextSnippet(path, 9, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snippet != "the quick" {
		t.Fatalf("unexpected snippet: %q", snippet)
	}
}

func TestExtractPlainTextSnippetMissingFile(t *testing.T) {
	if _, err := extractPlainTextSnippet("/nonexistent/path/missing.txt", 100, 0); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestExtractPlainTextSnippetRefusesOversizeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.txt")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	if _, err := extractPlainTextSnippet(path, 100, 5); err == nil {
		t.Fatal("expected an error for a file over the extraction cap")
	}
}

func TestExtractionPoolBoundsAcquisition(t *testing.T) {
	pool := newExtractionPool(1, 50*time.Millisecond)

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = pool.withPermit(context.Background(), func() (string, error) {
			close(holding)
			<-release
			return "", nil
		})
	}()
	<-holding
	defer close(release)

	if _, err := pool.withPermit(context.Background(), func() (string, error) {
		return "should not run", nil
	}); err == nil {
		t.Fatal("expected permit acquisition to time out while the pool is exhausted")
	}
}

func TestExtractionPoolAllowsSequentialUse(t *testing.T) {
	pool := newExtractionPool(1, 50*time.Millisecond)
	for i := 0; i < 3; i++ {
		out, err := pool.withPermit(context.Background(), func() (string, error) {
			return "ok", nil
		})
		if err != nil || out != "ok" {
			t.Fatalf("sequential acquisition %d failed: (%q, %v)", i, out, err)
		}
	}
}
