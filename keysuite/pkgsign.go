package keysuite

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha3"
	"fmt"
	"io"

	"github.com/cloudflare/circl/sign/dilithium/mode5"

	"github.com/joncooperworks/installerpkg/wire"
)

const (
	packageSignatureFormatVersion byte = 1
	packageSignatureContext            = "installerpkg-package-signature-v1"
)

// PackageSignature is a detached signature over a package archive: the
// primary and counter signatures of the SignedPublicKey identifying the
// signer, plus a purpose string that must match at verification time so a
// signature minted for one operation (e.g. "installer-package") can't be
// replayed to authorize another.
type PackageSignature struct {
	Signer           *SignedPublicKey
	Purpose          string
	PrimarySignature []byte
	CounterSignature []byte
}

func packageDigest(purpose string, archive io.Reader) ([64]byte, error) {
	h := sha3.New512()
	if _, err := h.Write(buildTranscript(packageSignatureContext, []byte(purpose))); err != nil {
		return [64]byte{}, err
	}
	if _, err := io.Copy(h, archive); err != nil {
		return [64]byte{}, fmt.Errorf("keysuite: hash package: %w", err)
	}
	var digest [64]byte
	copy(digest[:], h.Sum(nil))
	return digest, nil
}

// SignPackage produces a detached signature over archive's bytes using
// signer's private suite. purpose is bound into the signature so it cannot
// be repurposed for a different operation.
func SignPackage(signer *PrivateSuite, purpose string, archive io.Reader) (*PackageSignature, error) {
	if signer.Public == nil {
		return nil, fmt.Errorf("keysuite: signer suite has no finalized signed public key")
	}
	digest, err := packageDigest(purpose, archive)
	if err != nil {
		return nil, err
	}

	primarySig, err := ecdsa.SignASN1(rand.Reader, signer.Primary, digest[:])
	if err != nil {
		return nil, fmt.Errorf("keysuite: primary package signature: %w", err)
	}
	counterSig := make([]byte, mode5.SignatureSize)
	mode5.SignTo(signer.Counter, digest[:], counterSig)

	return &PackageSignature{
		Signer:           signer.Public,
		Purpose:          purpose,
		PrimarySignature: primarySig,
		CounterSignature: counterSig,
	}, nil
}

// VerifyPackage checks a detached signature against archive's bytes,
// requiring the purpose string to match, both the primary and counter
// signatures to verify, and the signer's identity to chain to a trusted
// root.
func VerifyPackage(trust *TrustStore, expectedPurpose string, sig *PackageSignature, archive io.Reader) error {
	if sig.Purpose != expectedPurpose {
		return fmt.Errorf("%w: signature purpose %q does not match expected %q", ErrSignatureInvalid, sig.Purpose, expectedPurpose)
	}
	if err := trust.ValidateChain(sig.Signer); err != nil {
		return err
	}
	digest, err := packageDigest(sig.Purpose, archive)
	if err != nil {
		return err
	}
	if !ecdsa.VerifyASN1(sig.Signer.Suite.Primary, digest[:], sig.PrimarySignature) {
		return fmt.Errorf("%w: primary package signature", ErrSignatureInvalid)
	}
	if !mode5.Verify(sig.Signer.Suite.Counter, digest[:], sig.CounterSignature) {
		return fmt.Errorf("%w: counter package signature", ErrSignatureInvalid)
	}
	return nil
}

// Marshal serializes a detached package signature to its wire form, the
// contents of a package's .sig sidecar file.
func (ps *PackageSignature) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	w := wire.NewWriter(&buf)
	if err := w.WriteVersionTag(); err != nil {
		return nil, err
	}
	if err := w.BoundedString(&ps.Purpose); err != nil {
		return nil, err
	}
	signerBytes, err := ps.Signer.Marshal()
	if err != nil {
		return nil, err
	}
	if err := writeAllBytes(w, signerBytes); err != nil {
		return nil, err
	}
	if err := writeAllBytes(w, ps.PrimarySignature); err != nil {
		return nil, err
	}
	if err := writeAllBytes(w, ps.CounterSignature); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalPackageSignature parses the form Marshal produces.
func UnmarshalPackageSignature(data []byte) (*PackageSignature, error) {
	r := wire.NewReader(bytes.NewReader(data))
	version, err := r.ReadVersionTag()
	if err != nil {
		return nil, err
	}
	if version != packageSignatureFormatVersion {
		return nil, fmt.Errorf("%w: package signature format version %d", wire.ErrUnsupportedFormat, version)
	}
	purpose, err := r.BoundedString(4096)
	if err != nil {
		return nil, err
	}
	signerBytes, err := readAllBytes(r)
	if err != nil {
		return nil, err
	}
	signer, err := UnmarshalSignedPublicKey(signerBytes)
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
	return &PackageSignature{
		Signer:           signer,
		Purpose:          derefOr(purpose),
		PrimarySignature: primarySig,
		CounterSignature: counterSig,
	}, nil
}
