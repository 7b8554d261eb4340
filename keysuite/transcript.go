package keysuite

import (
	"crypto/sha3"
	"encoding/binary"
)

// hashField returns the SHA3-256 digest of a field, a fixed-length stand-in
// for arbitrarily large key material. The transcripts built in this
// package embed their fields directly and do not call it.
func hashField(b []byte) [32]byte {
	return sha3.Sum256(b)
}

// appendLengthPrefixed appends a uint32-length-prefixed field to buf, the
// same framing the harness's payload transcripts use.
func appendLengthPrefixed(buf []byte, field []byte) []byte {
	var lengthBuf [4]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(field)))
	buf = append(buf, lengthBuf[:]...)
	buf = append(buf, field...)
	return buf
}

// buildTranscript concatenates a context string and a sequence of
// length-prefixed fields into the canonical byte string that gets signed
// or verified. Every signature in this package (self-signed KSR, vendor
// issuance, detached package signature) is computed over a transcript
// built this way so the signed bytes are unambiguous to reconstruct.
func buildTranscript(context string, fields ...[]byte) []byte {
	transcript := appendLengthPrefixed(nil, []byte(context))
	for _, f := range fields {
		transcript = appendLengthPrefixed(transcript, f)
	}
	return transcript
}
