// Package envelope implements the compression envelope: a small header
// carrying format version, flags, and uncompressed length, wrapping a Brotli
// stream. The format hard-codes Brotli; the algorithm identifier is omitted
// from the wire format because of that.
package envelope

import (
	"fmt"
	"io"

	"github.com/andybalholm/brotli"

	"github.com/joncooperworks/installerpkg/wire"
)

const (
	// flagUncompressedLengthPresent is bit 0: the header carries an 8-byte
	// uncompressed length immediately after the flags byte.
	flagUncompressedLengthPresent byte = 1 << 0
	// flagAlgorithmFixed is bit 1: no algorithm identifier follows, because
	// this format hard-codes Brotli.
	flagAlgorithmFixed byte = 1 << 1
)

// Writer compresses a record stream with Brotli, writing the envelope
// header first so a reader can show progress against the uncompressed
// length before the body arrives.
type Writer struct {
	bw *brotli.Writer
}

// NewWriter writes the envelope header (version tag, flags, uncompressed
// length) to w, then returns a Writer whose Write method streams Brotli-
// compressed bytes. uncompressedLen must be known up front: the package
// codec achieves this with a two-pass temp-file design.
func NewWriter(w io.Writer, uncompressedLen uint64) (*Writer, error) {
	hw := wire.NewWriter(w)
	if err := hw.WriteVersionTag(); err != nil {
		return nil, fmt.Errorf("envelope: write version tag: %w", err)
	}
	flags := flagUncompressedLengthPresent | flagAlgorithmFixed
	if err := hw.Byte(flags); err != nil {
		return nil, fmt.Errorf("envelope: write flags: %w", err)
	}
	if err := hw.Uint64(uncompressedLen); err != nil {
		return nil, fmt.Errorf("envelope: write uncompressed length: %w", err)
	}
	return &Writer{bw: brotli.NewWriterLevel(w, brotli.BestCompression)}, nil
}

// Write streams plaintext bytes, compressing as it goes.
func (ew *Writer) Write(p []byte) (int, error) {
	return ew.bw.Write(p)
}

// Close flushes and finalizes the Brotli stream.
func (ew *Writer) Close() error {
	return ew.bw.Close()
}

// Reader decompresses a Brotli body after validating the envelope header.
type Reader struct {
	br               io.Reader
	UncompressedLen  uint64
	HasUncompressedLen bool
}

// NewReader reads and validates the envelope header from r, then returns a
// Reader whose Read method streams decompressed plaintext. No full buffering
// of the archive body is performed.
func NewReader(r io.Reader) (*Reader, error) {
	hr := wire.NewReader(r)
	if _, err := hr.ReadVersionTag(); err != nil {
		return nil, fmt.Errorf("envelope: %w", err)
	}
	flags, err := hr.Byte()
	if err != nil {
		return nil, fmt.Errorf("envelope: read flags: %w", err)
	}
	if flags&flagAlgorithmFixed == 0 {
		return nil, fmt.Errorf("%w: envelope declares a non-fixed algorithm", wire.ErrUnsupportedFormat)
	}
	result := &Reader{br: brotli.NewReader(r)}
	if flags&flagUncompressedLengthPresent != 0 {
		length, err := hr.Uint64()
		if err != nil {
			return nil, fmt.Errorf("envelope: read uncompressed length: %w", err)
		}
		result.UncompressedLen = length
		result.HasUncompressedLen = true
	}
	return result, nil
}

// Read streams decompressed plaintext bytes.
func (er *Reader) Read(p []byte) (int, error) {
	return er.br.Read(p)
}
