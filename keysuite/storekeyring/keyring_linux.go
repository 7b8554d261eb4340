//go:build linux

package storekeyring

import (
	"fmt"

	"github.com/99designs/keyring"
)

func init() {
	Register("linux", newLinuxCache)
}

func newLinuxCache() (Cache, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: "installerpkg",
		AllowedBackends: []keyring.BackendType{
			keyring.SecretServiceBackend,
			keyring.KWalletBackend,
			keyring.KeyCtlBackend,
			keyring.FileBackend,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("storekeyring: open linux keyring: %w", err)
	}
	return &ringCache{ring: ring}, nil
}

