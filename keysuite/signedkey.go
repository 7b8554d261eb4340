package keysuite

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha3"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/sign/dilithium/mode5"

	"github.com/joncooperworks/installerpkg/wire"
)

const signedPublicKeyContext = "installerpkg-signed-public-key-v1"

// ErrSignatureInvalid is returned when a primary or counter signature fails
// verification.
var ErrSignatureInvalid = errors.New("keysuite: signature verification failed")

// SignedPublicKey is a key suite's public half plus owner metadata and the
// primary+counter signatures that bind them. IssuerKeyID equals KeyID for
// a self-signed KSR bundle or trust-store root; otherwise it names the
// vendor suite that issued it.
type SignedPublicKey struct {
	KeyID       KeyID
	Domain      string
	OwnerEmail  string
	Suite       *PublicSuite
	IssuerKeyID KeyID

	PrimarySignature []byte
	CounterSignature []byte
}

func (spk *SignedPublicKey) transcript() ([]byte, error) {
	counterBytes, err := marshalCounterPublic(spk.Suite.Counter)
	if err != nil {
		return nil, err
	}
	return buildTranscript(
		signedPublicKeyContext,
		[]byte(spk.KeyID),
		[]byte(spk.Domain),
		[]byte(spk.OwnerEmail),
		[]byte(spk.IssuerKeyID),
		marshalPrimaryPublic(spk.Suite.Primary),
		counterBytes,
	), nil
}

// signWith signs this bundle's transcript with issuer's primary and counter
// private keys, filling in PrimarySignature and CounterSignature.
func (spk *SignedPublicKey) signWith(issuer *PrivateSuite) error {
	transcript, err := spk.transcript()
	if err != nil {
		return err
	}
	digest := sha3.Sum512(transcript)

	primarySig, err := ecdsa.SignASN1(rand.Reader, issuer.Primary, digest[:])
	if err != nil {
		return fmt.Errorf("keysuite: primary signature: %w", err)
	}

	counterSig := make([]byte, mode5.SignatureSize)
	mode5.SignTo(issuer.Counter, transcript, counterSig)

	spk.PrimarySignature = primarySig
	spk.CounterSignature = counterSig
	return nil
}

// verifyWith checks both signatures against issuerPublic's keys.
func (spk *SignedPublicKey) verifyWith(issuerPublic *PublicSuite) error {
	transcript, err := spk.transcript()
	if err != nil {
		return err
	}
	digest := sha3.Sum512(transcript)

	if !ecdsa.VerifyASN1(issuerPublic.Primary, digest[:], spk.PrimarySignature) {
		return fmt.Errorf("%w: primary signature", ErrSignatureInvalid)
	}
	if !mode5.Verify(issuerPublic.Counter, transcript, spk.CounterSignature) {
		return fmt.Errorf("%w: counter signature", ErrSignatureInvalid)
	}
	return nil
}

// Marshal serializes a signed public key to its wire form, used both when
// persisting it alongside a private suite and when writing a trust store.
func (spk *SignedPublicKey) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	w := wire.NewWriter(&buf)

	keyID := string(spk.KeyID)
	issuerKeyID := string(spk.IssuerKeyID)
	if err := w.BoundedString(&keyID); err != nil {
		return nil, err
	}
	if err := w.BoundedString(&spk.Domain); err != nil {
		return nil, err
	}
	if err := w.BoundedString(&spk.OwnerEmail); err != nil {
		return nil, err
	}
	if err := w.BoundedString(&issuerKeyID); err != nil {
		return nil, err
	}

	primaryBytes := marshalPrimaryPublic(spk.Suite.Primary)
	if err := writeAllBytes(w, primaryBytes); err != nil {
		return nil, err
	}
	counterBytes, err := marshalCounterPublic(spk.Suite.Counter)
	if err != nil {
		return nil, err
	}
	if err := writeAllBytes(w, counterBytes); err != nil {
		return nil, err
	}
	if err := writeAllBytes(w, spk.PrimarySignature); err != nil {
		return nil, err
	}
	if err := writeAllBytes(w, spk.CounterSignature); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalSignedPublicKey parses the form Marshal produces.
func UnmarshalSignedPublicKey(data []byte) (*SignedPublicKey, error) {
	r := wire.NewReader(bytes.NewReader(data))

	keyID, err := r.BoundedString(4096)
	if err != nil {
		return nil, err
	}
	domain, err := r.BoundedString(4096)
	if err != nil {
		return nil, err
	}
	ownerEmail, err := r.BoundedString(4096)
	if err != nil {
		return nil, err
	}
	issuerKeyID, err := r.BoundedString(4096)
	if err != nil {
		return nil, err
	}

	primaryBytes, err := readAllBytes(r)
	if err != nil {
		return nil, err
	}
	primary, err := unmarshalPrimaryPublic(primaryBytes)
	if err != nil {
		return nil, err
	}
	counterBytes, err := readAllBytes(r)
	if err != nil {
		return nil, err
	}
	counter, err := unmarshalCounterPublic(counterBytes)
	if err != nil {
		return nil, err
	}
	primarySig, err := readAllBytes(r)
	if err != nil {
		return nil, err
	}
	counterSig, err := readAllBytes(r)
	if err != nil {
		return nil, err
	}

	return &SignedPublicKey{
		KeyID:            KeyID(derefOr(keyID)),
		Domain:           derefOr(domain),
		OwnerEmail:       derefOr(ownerEmail),
		IssuerKeyID:      KeyID(derefOr(issuerKeyID)),
		Suite:            &PublicSuite{Primary: primary, Counter: counter},
		PrimarySignature: primarySig,
		CounterSignature: counterSig,
	}, nil
}

func derefOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
