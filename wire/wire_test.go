package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestRoundTripPrimitives(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteVersionTag(); err != nil {
		t.Fatalf("WriteVersionTag: %v", err)
	}
	if err := w.Uint64(0xdeadbeef); err != nil {
		t.Fatalf("Uint64: %v", err)
	}
	if err := w.Int64(-42); err != nil {
		t.Fatalf("Int64: %v", err)
	}
	if err := w.Byte(7); err != nil {
		t.Fatalf("Byte: %v", err)
	}
	if err := w.Varint(300); err != nil {
		t.Fatalf("Varint: %v", err)
	}
	s := "hello/world.txt"
	if err := w.BoundedString(&s); err != nil {
		t.Fatalf("BoundedString: %v", err)
	}
	if err := w.BoundedString(nil); err != nil {
		t.Fatalf("BoundedString(nil): %v", err)
	}

	r := NewReader(&buf)
	if _, err := r.ReadVersionTag(); err != nil {
		t.Fatalf("ReadVersionTag: %v", err)
	}
	if r.Version != Version {
		t.Fatalf("Version = %d, want %d", r.Version, Version)
	}
	u, err := r.Uint64()
	if err != nil || u != 0xdeadbeef {
		t.Fatalf("Uint64 = %d, %v", u, err)
	}
	i, err := r.Int64()
	if err != nil || i != -42 {
		t.Fatalf("Int64 = %d, %v", i, err)
	}
	b, err := r.Byte()
	if err != nil || b != 7 {
		t.Fatalf("Byte = %d, %v", b, err)
	}
	n, err := r.Varint()
	if err != nil || n != 300 {
		t.Fatalf("Varint = %d, %v", n, err)
	}
	got, err := r.BoundedString(1024)
	if err != nil || got == nil || *got != s {
		t.Fatalf("BoundedString = %v, %v", got, err)
	}
	gotNil, err := r.BoundedString(1024)
	if err != nil || gotNil != nil {
		t.Fatalf("BoundedString(nil round trip) = %v, %v", gotNil, err)
	}
}

func TestBoundedStringExceedsMax(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	s := "0123456789"
	if err := w.BoundedString(&s); err != nil {
		t.Fatalf("BoundedString: %v", err)
	}
	r := NewReader(&buf)
	if _, err := r.BoundedString(4); !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
}

func TestEnumRejectsUnknownValue(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.Byte(9); err != nil {
		t.Fatalf("Byte: %v", err)
	}
	r := NewReader(&buf)
	if _, err := r.Enum(0, 1); !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
}

func TestUnsupportedVersion(t *testing.T) {
	buf := bytes.NewBuffer([]byte{42})
	r := NewReader(buf)
	if _, err := r.ReadVersionTag(); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestUnexpectedEOF(t *testing.T) {
	buf := bytes.NewBuffer([]byte{1, 2})
	r := NewReader(buf)
	if _, err := r.Uint64(); !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
}
