package secret

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/joncooperworks/installerpkg/tpm"
)

func TestAcquireFromEnv(t *testing.T) {
	t.Setenv("INSTALLERPKG_TEST_PASSWORD", "hunter2")
	zb, err := Acquire("INSTALLERPKG_TEST_PASSWORD")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if string(zb.B) != "hunter2" {
		t.Fatalf("got %q", zb.B)
	}
}

func TestAcquireMissingEnv(t *testing.T) {
	os.Unsetenv("INSTALLERPKG_TEST_MISSING")
	if _, err := Acquire("INSTALLERPKG_TEST_MISSING"); err == nil {
		t.Fatal("expected error for unset environment variable")
	}
}

func TestAcquireFromReaderWithinBound(t *testing.T) {
	zb, err := acquireFromReader(strings.NewReader("shortpassword"))
	if err != nil {
		t.Fatalf("acquireFromReader: %v", err)
	}
	if string(zb.B) != "shortpassword" {
		t.Fatalf("got %q", zb.B)
	}
}

func TestAcquireFromReaderTooLong(t *testing.T) {
	long := strings.Repeat("a", MaxPasswordLen+10)
	if _, err := acquireFromReader(strings.NewReader(long)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
}

func TestDestroyZeroesBuffer(t *testing.T) {
	zb := &ZeroBuffer{B: []byte("secret-data")}
	zb.Destroy()
	if !bytes.Equal(zb.B, make([]byte, len("secret-data"))) {
		t.Fatalf("expected zeroed buffer, got %v", zb.B)
	}
}

func TestFinalizeDeterministic(t *testing.T) {
	password := []byte("correct horse battery staple")
	k1, err := Finalize(password, FinalizeOptions{})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	k2, err := Finalize(password, FinalizeOptions{})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !bytes.Equal(k1.B, k2.B) {
		t.Fatal("expected Finalize to be deterministic for the same password")
	}
	if len(k1.B) != kdfOutputLen {
		t.Fatalf("expected %d-byte key, got %d", kdfOutputLen, len(k1.B))
	}
}

func TestFinalizeDiffersPerPassword(t *testing.T) {
	k1, err := Finalize([]byte("password-one"), FinalizeOptions{})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	k2, err := Finalize([]byte("password-two"), FinalizeOptions{})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if bytes.Equal(k1.B, k2.B) {
		t.Fatal("expected different passwords to finalize to different keys")
	}
}

type stubTPM struct {
	called bool
	out    []byte
	err    error
}

func (s *stubTPM) Name() string { return "stub" }

func (s *stubTPM) HMAC(key, msg []byte) ([]byte, error) {
	s.called = true
	return s.out, s.err
}

func TestFinalizeBindsToTPM(t *testing.T) {
	stub := &stubTPM{out: []byte("tpm-bound-key")}
	k, err := Finalize([]byte("some password"), FinalizeOptions{TPM: stub})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !stub.called {
		t.Fatal("expected TPM.HMAC to be called")
	}
	if !bytes.Equal(k.B, []byte("tpm-bound-key")) {
		t.Fatalf("got %q", k.B)
	}
}

func TestFinalizePropagatesTPMError(t *testing.T) {
	stub := &stubTPM{err: tpm.ErrUnavailable}
	if _, err := Finalize([]byte("some password"), FinalizeOptions{TPM: stub}); !errors.Is(err, tpm.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
