package keysuite

import (
	"bytes"
	"fmt"
	"os"

	"github.com/joncooperworks/installerpkg/wire"
)

const trustStoreFormatVersion byte = 1

// TrustStore holds vendor root SignedPublicKeys (self-signed: their own
// IssuerKeyID equals their own KeyID) that anchor chain-of-trust
// validation. There is no online revocation; removing an entry from the
// store and redistributing it is the only revocation mechanism.
type TrustStore struct {
	roots map[KeyID]*SignedPublicKey
}

// NewTrustStore returns an empty trust store.
func NewTrustStore() *TrustStore {
	return &TrustStore{roots: make(map[KeyID]*SignedPublicKey)}
}

// AddRoot adds a vendor root to the store after checking it is validly
// self-signed.
func (ts *TrustStore) AddRoot(root *SignedPublicKey) error {
	if root.IssuerKeyID != root.KeyID {
		return fmt.Errorf("%w: trust store root %q is not self-signed", ErrInvalidKSR, root.KeyID)
	}
	if err := root.verifyWith(root.Suite); err != nil {
		return fmt.Errorf("%w: root %q: %v", ErrSignatureInvalid, root.KeyID, err)
	}
	ts.roots[root.KeyID] = root
	return nil
}

// ValidateChain checks that leaf was issued directly by a root in the
// store: leaf's IssuerKeyID must name a stored root whose keys verify
// leaf's signatures. Only this single hop is checked; an issuer that is
// not itself a stored root is rejected, not looked up further.
func (ts *TrustStore) ValidateChain(leaf *SignedPublicKey) error {
	const maxHops = 8
	current := leaf
	seen := make(map[KeyID]bool)

	for hop := 0; hop < maxHops; hop++ {
		if seen[current.KeyID] {
			return fmt.Errorf("%w: cycle detected at %q", ErrInvalidKSR, current.KeyID)
		}
		seen[current.KeyID] = true

		if root, ok := ts.roots[current.IssuerKeyID]; ok {
			if err := current.verifyWith(root.Suite); err != nil {
				return fmt.Errorf("%w: %q issued by trusted root %q: %v", ErrSignatureInvalid, current.KeyID, root.KeyID, err)
			}
			return nil
		}
		return fmt.Errorf("%w: no trusted root for issuer %q of %q", ErrInvalidKSR, current.IssuerKeyID, current.KeyID)
	}
	return fmt.Errorf("%w: chain exceeds %d hops", ErrInvalidKSR, maxHops)
}

// Save writes the trust store as a sequence of length-prefixed, marshaled
// SignedPublicKey roots.
func (ts *TrustStore) Save(path string) error {
	var buf bytes.Buffer
	w := wire.NewWriter(&buf)
	if err := w.WriteVersionTag(); err != nil {
		return err
	}
	if err := w.Varint(uint64(len(ts.roots))); err != nil {
		return err
	}
	for _, root := range ts.roots {
		data, err := root.Marshal()
		if err != nil {
			return fmt.Errorf("keysuite: marshal trust store root %q: %w", root.KeyID, err)
		}
		if err := writeAllBytes(w, data); err != nil {
			return err
		}
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// LoadTrustStore reads a trust store written by Save.
func LoadTrustStore(path string) (*TrustStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keysuite: read trust store: %w", err)
	}
	r := wire.NewReader(bytes.NewReader(data))
	version, err := r.ReadVersionTag()
	if err != nil {
		return nil, err
	}
	if version != trustStoreFormatVersion {
		return nil, fmt.Errorf("%w: trust store format version %d", wire.ErrUnsupportedFormat, version)
	}
	count, err := r.Varint()
	if err != nil {
		return nil, err
	}
	ts := NewTrustStore()
	for i := uint64(0); i < count; i++ {
		rootBytes, err := readAllBytes(r)
		if err != nil {
			return nil, err
		}
		root, err := UnmarshalSignedPublicKey(rootBytes)
		if err != nil {
			return nil, err
		}
		ts.roots[root.KeyID] = root
	}
	return ts, nil
}
