package keysuite

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

// ErrInvalidKSR is returned when a key signing request fails structural or
// policy validation (missing domain, malformed owner email, self-signature
// mismatch).
var ErrInvalidKSR = errors.New("keysuite: invalid key signing request")

// CreateKSR builds a self-signed key signing request for suite: a
// SignedPublicKey whose IssuerKeyID equals its own KeyID and whose
// signatures are produced by the suite's own private keys, proving
// possession before a vendor is asked to counter-sign it.
func CreateKSR(suite *PrivateSuite, keyID KeyID, domain, ownerEmail string) (*SignedPublicKey, error) {
	if err := ValidateKSRMetadata(keyID, domain, ownerEmail); err != nil {
		return nil, err
	}
	ksr := &SignedPublicKey{
		KeyID:       keyID,
		Domain:      domain,
		OwnerEmail:  ownerEmail,
		Suite:       suite.PublicKeys(),
		IssuerKeyID: keyID,
	}
	if err := ksr.signWith(suite); err != nil {
		return nil, fmt.Errorf("keysuite: self-sign KSR: %w", err)
	}
	return ksr, nil
}

// ValidateKSRMetadata checks the fields printKsr displays and a vendor
// reviews before countersigning: presence of a key ID and domain, and
// syntactic validity of the owner email. It does not verify signatures;
// that's VerifySelfSigned's job.
func ValidateKSRMetadata(keyID KeyID, domain, ownerEmail string) error {
	if strings.TrimSpace(string(keyID)) == "" {
		return fmt.Errorf("%w: key ID is required", ErrInvalidKSR)
	}
	if strings.TrimSpace(domain) == "" {
		return fmt.Errorf("%w: domain is required", ErrInvalidKSR)
	}
	if _, err := mail.ParseAddress(ownerEmail); err != nil {
		return fmt.Errorf("%w: owner email %q is not a valid address: %v", ErrInvalidKSR, ownerEmail, err)
	}
	return nil
}

// VerifySelfSigned checks that a KSR is self-signed: its IssuerKeyID must
// equal its own KeyID, and its signatures must verify against its own
// public keys.
func VerifySelfSigned(ksr *SignedPublicKey) error {
	if err := ValidateKSRMetadata(ksr.KeyID, ksr.Domain, ksr.OwnerEmail); err != nil {
		return err
	}
	if ksr.IssuerKeyID != ksr.KeyID {
		return fmt.Errorf("%w: not self-signed (issuer %q != key %q)", ErrInvalidKSR, ksr.IssuerKeyID, ksr.KeyID)
	}
	if err := ksr.verifyWith(ksr.Suite); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKSR, err)
	}
	return nil
}

// VendorSignKey validates a KSR's self-signature, then issues a new
// SignedPublicKey carrying the same identity and public keys but signed by
// the vendor suite instead: the handoff from "holder proved possession" to
// "vendor vouches for this identity."
func VendorSignKey(vendor *PrivateSuite, vendorKeyID KeyID, ksr *SignedPublicKey) (*SignedPublicKey, error) {
	if err := VerifySelfSigned(ksr); err != nil {
		return nil, err
	}
	issued := &SignedPublicKey{
		KeyID:       ksr.KeyID,
		Domain:      ksr.Domain,
		OwnerEmail:  ksr.OwnerEmail,
		Suite:       ksr.Suite,
		IssuerKeyID: vendorKeyID,
	}
	if err := issued.signWith(vendor); err != nil {
		return nil, fmt.Errorf("keysuite: vendor sign: %w", err)
	}
	return issued, nil
}

// Finalize installs issued (a vendor-countersigned SignedPublicKey
// previously obtained via VendorSignKey) onto suite, completing the suite's
// lifecycle from bare keypair to a publicly verifiable identity.
func (s *PrivateSuite) Finalize(issued *SignedPublicKey) error {
	mine := s.PublicKeys()
	if !publicSuiteEqual(mine, issued.Suite) {
		return fmt.Errorf("%w: signed public key does not match this suite", ErrInvalidKSR)
	}
	s.Public = issued
	return nil
}

func publicSuiteEqual(a, b *PublicSuite) bool {
	if a.Primary.X.Cmp(b.Primary.X) != 0 || a.Primary.Y.Cmp(b.Primary.Y) != 0 {
		return false
	}
	return a.Counter.Equal(b.Counter)
}
