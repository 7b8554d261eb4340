// Package keysuite implements the two-tier signing key suite: an ECDSA
// P-521 primary keypair paired with a post-quantum Dilithium5 counter
// keypair, key-signing requests, vendor-issued signed public keys, a PKI
// trust store, and detached package signatures carrying both signatures.
package keysuite

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/sign/dilithium/mode5"
)

// KeyID names a key suite the way the rest of the toolchain addresses it:
// a short operator-chosen label, not a cryptographic identifier.
type KeyID string

// ErrInvalidKeySize is returned when marshaled key material has the wrong
// length for its declared algorithm.
var ErrInvalidKeySize = errors.New("keysuite: invalid key size")

// PrivateSuite holds the unencrypted private key material for one key
// suite: the ECDSA P-521 primary key used for everyday signing, and the
// Dilithium5 counter key whose signature only post-quantum-capable
// verifiers can meaningfully rely on.
type PrivateSuite struct {
	Primary *ecdsa.PrivateKey
	Counter *mode5.PrivateKey

	// Public is filled in once a vendor has signed this suite's public
	// keys (see Finalize); nil for a freshly generated, unsigned suite.
	Public *SignedPublicKey
}

// PublicSuite is the portable, unsigned half of a PrivateSuite: the two
// public keys a KSR bundles and a vendor ultimately signs.
type PublicSuite struct {
	Primary *ecdsa.PublicKey
	Counter *mode5.PublicKey
}

// Generate creates a fresh private suite: an ECDSA P-521 keypair (the
// largest curve the standard library offers) and a Dilithium5 keypair.
func Generate() (*PrivateSuite, error) {
	primary, err := ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keysuite: generate primary key: %w", err)
	}
	counterPub, counterPriv, err := mode5.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keysuite: generate counter key: %w", err)
	}
	_ = counterPub
	return &PrivateSuite{Primary: primary, Counter: counterPriv}, nil
}

// PublicKeys extracts the public half of a private suite.
func (s *PrivateSuite) PublicKeys() *PublicSuite {
	return &PublicSuite{Primary: &s.Primary.PublicKey, Counter: s.Counter.Public().(*mode5.PublicKey)}
}

// marshalPrimaryPublic encodes an ECDSA public key as an uncompressed
// SEC1 point, the same representation ecdsa.PublicKey.Bytes() produces on
// recent stdlib versions.
func marshalPrimaryPublic(pub *ecdsa.PublicKey) []byte {
	return elliptic.Marshal(pub.Curve, pub.X, pub.Y)
}

func unmarshalPrimaryPublic(data []byte) (*ecdsa.PublicKey, error) {
	curve := elliptic.P521()
	x, y := elliptic.Unmarshal(curve, data)
	if x == nil {
		return nil, fmt.Errorf("%w: malformed P-521 point", ErrInvalidKeySize)
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

func marshalCounterPublic(pub *mode5.PublicKey) ([]byte, error) {
	b, err := pub.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("keysuite: marshal counter public key: %w", err)
	}
	return b, nil
}

func unmarshalCounterPublic(data []byte) (*mode5.PublicKey, error) {
	var pub mode5.PublicKey
	if err := pub.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("keysuite: unmarshal counter public key: %w", err)
	}
	return &pub, nil
}
