package keysuite

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha3"
	"crypto/subtle"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/aead/serpent"
)

const (
	encKeyLen = 32 // Serpent-256
	macKeyLen = 32 // HMAC-SHA3-512 key
	keyLen    = encKeyLen + macKeyLen
	tagLen    = 64 // SHA3-512 output
)

// ErrAuthenticationFailed is returned when a sealed suite's MAC does not
// verify, meaning the file was corrupted, truncated, or tampered with.
var ErrAuthenticationFailed = errors.New("keysuite: authentication failed")

// sealAtRest encrypts plaintext with Serpent-256 in CBC mode under a random
// IV, then MACs IV||ciphertext with HMAC-SHA3-512 (encrypt-then-MAC). key
// must be keyLen bytes, the output of the password pipeline's Finalize: the
// first 32 bytes are the cipher key, the last 32 the MAC key.
func sealAtRest(key, plaintext []byte) ([]byte, error) {
	if len(key) != keyLen {
		return nil, fmt.Errorf("%w: expected %d-byte key, got %d", ErrInvalidKeySize, keyLen, len(key))
	}
	encKey, macKey := key[:encKeyLen], key[encKeyLen:]

	block, err := serpent.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("keysuite: serpent cipher: %w", err)
	}
	iv := make([]byte, block.BlockSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("keysuite: generate iv: %w", err)
	}

	padded := pkcs7Pad(plaintext, block.BlockSize())
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	mac := hmac.New(func() hash.Hash { return sha3.New512() }, macKey)
	mac.Write(iv)
	mac.Write(ciphertext)
	tag := mac.Sum(nil)

	out := make([]byte, 0, len(iv)+len(ciphertext)+len(tag))
	out = append(out, iv...)
	out = append(out, ciphertext...)
	out = append(out, tag...)
	return out, nil
}

// openAtRest reverses sealAtRest, rejecting the payload outright if the MAC
// does not verify.
func openAtRest(key, sealed []byte) ([]byte, error) {
	if len(key) != keyLen {
		return nil, fmt.Errorf("%w: expected %d-byte key, got %d", ErrInvalidKeySize, keyLen, len(key))
	}
	encKey, macKey := key[:encKeyLen], key[encKeyLen:]

	const ivLen = 16 // serpent.BlockSize
	if len(sealed) < ivLen+tagLen {
		return nil, fmt.Errorf("%w: sealed suite too short", ErrAuthenticationFailed)
	}
	iv := sealed[:ivLen]
	ciphertext := sealed[ivLen : len(sealed)-tagLen]
	tag := sealed[len(sealed)-tagLen:]

	mac := hmac.New(func() hash.Hash { return sha3.New512() }, macKey)
	mac.Write(iv)
	mac.Write(ciphertext)
	expected := mac.Sum(nil)
	if subtle.ConstantTimeCompare(expected, tag) != 1 {
		return nil, ErrAuthenticationFailed
	}

	block, err := serpent.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("keysuite: serpent cipher: %w", err)
	}
	if len(ciphertext)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("%w: ciphertext not block-aligned", ErrAuthenticationFailed)
	}
	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)
	return pkcs7Unpad(padded)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", ErrAuthenticationFailed)
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, fmt.Errorf("%w: invalid padding", ErrAuthenticationFailed)
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("%w: invalid padding", ErrAuthenticationFailed)
		}
	}
	return data[:len(data)-padLen], nil
}
