//go:build linux || darwin
// +build linux darwin

package installer

import (
	"time"

	"golang.org/x/sys/unix"
)

// processAlive reports whether pid currently names a running process, by
// sending the null signal the way a portable "is it still there" check is
// conventionally done on Unix.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}

// waitForExit polls until pid is no longer alive. Go's os.Process only
// supports Wait() on a child the current process itself spawned, so a
// caller PID handed in from a re-entering process is polled instead.
func waitForExit(pid int) {
	if pid < 0 {
		return
	}
	for processAlive(pid) {
		time.Sleep(pollInterval)
	}
}
