//go:build windows

package storekeyring

import (
	"fmt"

	"github.com/99designs/keyring"
)

func init() {
	Register("windows", newWindowsCache)
}

func newWindowsCache() (Cache, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: "installerpkg",
	})
	if err != nil {
		return nil, fmt.Errorf("storekeyring: open Windows credential store: %w", err)
	}
	return &ringCache{ring: ring}, nil
}
