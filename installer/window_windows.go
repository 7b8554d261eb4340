//go:build windows
// +build windows

package installer

import (
	"os/exec"
	"syscall"
)

// configureWindow suppresses the setup child's console window when the
// descriptor asks for it, or implicitly when the caller isn't going to
// exit and wait on it: a console only needs to be visible when the caller
// has already handed off control and stepped aside.
func configureWindow(cmd *exec.Cmd, d *Descriptor) {
	hide := d.HideWindow || !d.ExitRequired
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: hide}
}
