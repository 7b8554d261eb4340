//go:build !windows
// +build !windows

package installer

import "os/exec"

// configureWindow is a no-op outside Windows: there's no console window to
// suppress when exec.Command launches a process on a unix terminal.
func configureWindow(cmd *exec.Cmd, d *Descriptor) {}
