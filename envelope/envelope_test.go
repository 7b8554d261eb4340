package envelope

import (
	"bytes"
	"io"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	plaintext := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 500)

	var buf bytes.Buffer
	w, err := NewWriter(&buf, uint64(len(plaintext)))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := NewReader(&buf)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if !r.HasUncompressedLen || r.UncompressedLen != uint64(len(plaintext)) {
		t.Fatalf("UncompressedLen = %d, %v, want %d", r.UncompressedLen, r.HasUncompressedLen, len(plaintext))
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(plaintext))
	}
}

func TestUnsupportedVersionFails(t *testing.T) {
	buf := bytes.NewBuffer([]byte{99, 0, 0})
	if _, err := NewReader(buf); err == nil {
		t.Fatal("expected error for unsupported version")
	}
}
