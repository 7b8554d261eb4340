package keysuite

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"fmt"
	"math/big"
	"os"

	"github.com/cloudflare/circl/sign/dilithium/mode5"

	"github.com/joncooperworks/installerpkg/wire"
)

const suiteFormatVersion byte = 1

// Save serializes the private suite and seals it at rest under key (the
// output of the password pipeline's Finalize), writing the result to path.
func (s *PrivateSuite) Save(path string, key []byte) error {
	plaintext, err := s.marshal()
	if err != nil {
		return err
	}
	sealed, err := sealAtRest(key, plaintext)
	if err != nil {
		return fmt.Errorf("keysuite: seal suite: %w", err)
	}
	if err := os.WriteFile(path, sealed, 0o600); err != nil {
		return fmt.Errorf("keysuite: write suite file: %w", err)
	}
	return nil
}

// Load reads and unseals a private suite previously written by Save.
func Load(path string, key []byte) (*PrivateSuite, error) {
	sealed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keysuite: read suite file: %w", err)
	}
	plaintext, err := openAtRest(key, sealed)
	if err != nil {
		return nil, err
	}
	return unmarshalSuite(plaintext)
}

func (s *PrivateSuite) marshal() ([]byte, error) {
	var buf bytes.Buffer
	w := wire.NewWriter(&buf)
	if err := w.WriteVersionTag(); err != nil {
		return nil, err
	}

	dBytes := s.Primary.D.Bytes()
	if err := writeAllBytes(w, dBytes); err != nil {
		return nil, fmt.Errorf("keysuite: write primary key: %w", err)
	}

	counterBytes, err := s.Counter.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("keysuite: marshal counter key: %w", err)
	}
	if err := writeAllBytes(w, counterBytes); err != nil {
		return nil, fmt.Errorf("keysuite: write counter key: %w", err)
	}

	hasPublic := s.Public != nil
	if err := w.Byte(boolByte(hasPublic)); err != nil {
		return nil, err
	}
	if hasPublic {
		publicBytes, err := s.Public.Marshal()
		if err != nil {
			return nil, fmt.Errorf("keysuite: marshal signed public key: %w", err)
		}
		if err := writeAllBytes(w, publicBytes); err != nil {
			return nil, fmt.Errorf("keysuite: write signed public key: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// writeAllBytes writes a varint length prefix followed by the raw bytes, the
// counterpart to readAllBytes.
func writeAllBytes(w *wire.Writer, b []byte) error {
	if err := w.Varint(uint64(len(b))); err != nil {
		return err
	}
	return w.Bytes(b)
}

func unmarshalSuite(data []byte) (*PrivateSuite, error) {
	r := wire.NewReader(bytes.NewReader(data))
	version, err := r.ReadVersionTag()
	if err != nil {
		return nil, err
	}
	if version != suiteFormatVersion {
		return nil, fmt.Errorf("%w: suite format version %d", wire.ErrUnsupportedFormat, version)
	}

	dBytes, err := readAllBytes(r)
	if err != nil {
		return nil, fmt.Errorf("keysuite: read primary key: %w", err)
	}
	curve := elliptic.P521()
	d := new(big.Int).SetBytes(dBytes)
	x, y := curve.ScalarBaseMult(dBytes)
	primary := &ecdsa.PrivateKey{PublicKey: ecdsa.PublicKey{Curve: curve, X: x, Y: y}, D: d}

	counterBytes, err := readAllBytes(r)
	if err != nil {
		return nil, fmt.Errorf("keysuite: read counter key: %w", err)
	}
	var counter mode5.PrivateKey
	if err := counter.UnmarshalBinary(counterBytes); err != nil {
		return nil, fmt.Errorf("keysuite: unmarshal counter key: %w", err)
	}

	hasPublic, err := r.Byte()
	if err != nil {
		return nil, err
	}
	suite := &PrivateSuite{Primary: primary, Counter: &counter}
	if hasPublic != 0 {
		publicBytes, err := readAllBytes(r)
		if err != nil {
			return nil, fmt.Errorf("keysuite: read signed public key: %w", err)
		}
		pub, err := UnmarshalSignedPublicKey(publicBytes)
		if err != nil {
			return nil, err
		}
		suite.Public = pub
	}
	return suite, nil
}

// readAllBytes reads a length-prefixed byte blob written by writeAllBytes
// by first reading its varint length, then the bytes themselves.
func readAllBytes(r *wire.Reader) ([]byte, error) {
	n, err := r.Varint()
	if err != nil {
		return nil, err
	}
	return r.Bytes(int64(n))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
