//go:build !linux && !darwin && !windows

package storekeyring

import (
	"errors"
	"runtime"
)

// ErrUnsupportedPlatform is returned by the stub factory registered for
// platforms with no OS-keyring backend wired in. Callers should treat a
// missing cache as advisory and fall back to the password prompt.
var ErrUnsupportedPlatform = errors.New("storekeyring: no OS keyring backend on this platform")

func init() {
	Register(runtime.GOOS, func() (Cache, error) {
		return nil, ErrUnsupportedPlatform
	})
}
