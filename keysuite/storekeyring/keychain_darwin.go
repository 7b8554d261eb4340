//go:build darwin

package storekeyring

import (
	"fmt"

	"github.com/99designs/keyring"
)

func init() {
	Register("darwin", newDarwinCache)
}

func newDarwinCache() (Cache, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: "installerpkg",
		// Empty KeychainName targets the default login keychain, already
		// unlocked for the logged-in user, so KeychainTrustApplication
		// avoids a per-access prompt without requiring a custom keychain.
		KeychainName:             "",
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("storekeyring: open macOS keychain: %w", err)
	}
	return &ringCache{ring: ring}, nil
}
