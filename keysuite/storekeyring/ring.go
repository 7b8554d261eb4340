//go:build linux || darwin || windows

package storekeyring

import (
	"fmt"

	"github.com/99designs/keyring"
)

// ringCache adapts a 99designs/keyring.Keyring to Cache. It backs the
// Linux, macOS and Windows platform caches, which differ only in the
// keyring.Config used to open the underlying store.
type ringCache struct {
	ring keyring.Keyring
}

func (c *ringCache) Get(id string) ([]byte, error) {
	item, err := c.ring.Get(id)
	if err != nil {
		if err == keyring.ErrKeyNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storekeyring: get %q: %w", id, err)
	}
	return item.Data, nil
}

func (c *ringCache) Set(id string, key []byte) error {
	if err := c.ring.Set(keyring.Item{Key: id, Data: key}); err != nil {
		return fmt.Errorf("storekeyring: set %q: %w", id, err)
	}
	return nil
}

func (c *ringCache) Delete(id string) error {
	if err := c.ring.Remove(id); err != nil {
		if err == keyring.ErrKeyNotFound {
			return nil
		}
		return fmt.Errorf("storekeyring: delete %q: %w", id, err)
	}
	return nil
}
