//go:build !windows
// +build !windows

package installer

import "os/exec"

// elevate is a no-op outside Windows. RequireAdministratorPrivileges is
// tied to the Windows UAC "runas" shell verb specifically, and there's no
// cross-platform equivalent this driver can assume (sudo prompts need a
// terminal and differ by distro).
func elevate(cmd *exec.Cmd) {}
