package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestHashContentStable(t *testing.T) {
	a := HashContent([]byte("hello"))
	b := HashContent([]byte("hello"))
	if a != b {
		t.Error("identical content should produce identical hashes")
	}
	if a == HashContent([]byte("world")) {
		t.Error("different content should produce different hashes")
	}
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	if err := os.WriteFile(path, []byte("content"), 0644); err != nil {
		t.Fatal(err)
	}

	fileHash, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}
	if fileHash != HashContent([]byte("content")) {
		t.Error("file hash should match content hash")
	}

	if _, err := HashFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestIsBinary(t *testing.T) {
	if IsBinary([]byte("plain text\nwith lines\n")) {
		t.Error("text should not be detected as binary")
	}
	if !IsBinary([]byte{0x7f, 'E', 'L', 'F', 0x00, 0x01}) {
		t.Error("NUL-containing content should be detected as binary")
	}
}

func TestCountTokensFallback(t *testing.T) {
	var tc *TokenCounter
	// nil counter falls back to the 4-chars-per-token estimate
	if got := tc.CountTokens("12345678"); got != 2 {
		t.Errorf("expected fallback count 2, got %d", got)
	}
}

func TestTruncateToTokenLimit(t *testing.T) {
	tc, err := NewTokenCounter()
	if err != nil {
		t.Fatalf("NewTokenCounter failed: %v", err)
	}

	short := "short text"
	if got := tc.TruncateToTokenLimit(short, 100); got != short {
		t.Error("text under limit should be unchanged")
	}

	long := ""
	for i := 0; i < 1000; i++ {
		long += "some repeated words for truncation "
	}
	truncated := tc.TruncateToTokenLimit(long, 50)
	if len(truncated) >= len(long) {
		t.Error("text over limit should be truncated")
	}
	if tc.CountTokens(truncated) > 60 {
		t.Errorf("truncated text still well over limit: %d tokens", tc.CountTokens(truncated))
	}
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	tc, err := NewTokenCounter()
	if err != nil {
		t.Fatalf("NewTokenCounter failed: %v", err)
	}

	// Multi-byte runes at every position: any character cut point risks
	// landing mid-rune.
	long := strings.Repeat("日本語テキスト", 500)
	for _, limit := range []int{1, 5, 17, 50, 200} {
		truncated := tc.TruncateToTokenLimit(long, limit)
		if !utf8.ValidString(truncated) {
			t.Errorf("limit %d produced invalid UTF-8", limit)
		}
	}
}
