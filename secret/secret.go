// Package secret implements the password pipeline: acquisition from an
// environment variable or stdin, and the two-stage KDF (PBKDF2 then
// Argon2id) that turns a password into a finalized AEAD key, optionally
// bound to a hardware root of trust via TPM.
package secret

import (
	"bufio"
	"crypto/hmac"
	"crypto/pbkdf2"
	"crypto/sha3"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"runtime"

	"golang.org/x/crypto/argon2"

	"github.com/joncooperworks/installerpkg/tpm"
)

// MaxPasswordLen bounds a password read from stdin.
const MaxPasswordLen = 255

// ErrPasswordTooLong is returned when stdin carries more than MaxPasswordLen
// bytes before EOF.
var ErrPasswordTooLong = errors.New("secret: password exceeds maximum length")

const (
	pbkdf2Iterations = 250_000
	kdfOutputLen     = 64 // SHA-512 output size
	argon2Time       = 1
	argon2MemoryKiB  = 47_104 // ~46 MiB
	argon2Threads    = 1
)

// ZeroBuffer wraps a byte slice holding secret material. Destroy overwrites
// it with zeros; callers should defer Destroy immediately after acquiring
// one, as a method so a deferred call can't be forgotten mid-refactor.
type ZeroBuffer struct {
	B []byte
}

// Destroy overwrites the buffer with zeros.
func (z *ZeroBuffer) Destroy() {
	if z == nil {
		return
	}
	for i := range z.B {
		z.B[i] = 0
	}
	runtime.KeepAlive(z.B)
}

// Acquire reads a password either from the named environment variable (if
// envVar is non-empty) or from stdin, bounded to MaxPasswordLen bytes.
func Acquire(envVar string) (*ZeroBuffer, error) {
	if envVar != "" {
		v, ok := os.LookupEnv(envVar)
		if !ok {
			return nil, fmt.Errorf("secret: environment variable %q is not set", envVar)
		}
		return &ZeroBuffer{B: []byte(v)}, nil
	}
	return acquireFromReader(os.Stdin)
}

func acquireFromReader(r io.Reader) (*ZeroBuffer, error) {
	buf := make([]byte, MaxPasswordLen+1)
	br := bufio.NewReader(r)
	n, err := io.ReadFull(br, buf)
	switch {
	case err == nil:
		// A full MaxPasswordLen+1 bytes were read without hitting EOF: too long.
		return nil, ErrPasswordTooLong
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return &ZeroBuffer{B: buf[:n]}, nil
	default:
		return nil, fmt.Errorf("secret: read password: %w", err)
	}
}

// FinalizeOptions configures Finalize.
type FinalizeOptions struct {
	// TPM, when non-nil, binds the finalized password to this hardware root
	// via an additional HMAC step.
	TPM tpm.Provider
}

// Finalize stretches password into a 64-byte AEAD key via PBKDF2-SHA3-384
// then Argon2id, both salted with HMAC-SHA3-512(password, password), and
// optionally binds the result to a TPM. Every intermediate buffer is zeroed
// before returning, on both the success and failure paths.
func Finalize(password []byte, opts FinalizeOptions) (*ZeroBuffer, error) {
	salt := computeSalt(password)
	defer zero(salt)

	stage1, err := pbkdf2.Key(sha3.New384, string(password), salt, pbkdf2Iterations, kdfOutputLen)
	if err != nil {
		return nil, fmt.Errorf("secret: pbkdf2 stage: %w", err)
	}
	defer zero(stage1)

	stage2 := argon2.IDKey(stage1, salt, argon2Time, argon2MemoryKiB, argon2Threads, kdfOutputLen)

	if opts.TPM == nil {
		return &ZeroBuffer{B: stage2}, nil
	}

	bound, err := opts.TPM.HMAC(stage2, stage2)
	zero(stage2)
	if err != nil {
		return nil, fmt.Errorf("secret: tpm binding: %w", err)
	}
	return &ZeroBuffer{B: bound}, nil
}

func computeSalt(password []byte) []byte {
	mac := hmac.New(func() hash.Hash { return sha3.New512() }, password)
	mac.Write(password)
	return mac.Sum(nil)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
