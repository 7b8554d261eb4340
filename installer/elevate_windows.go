//go:build windows
// +build windows

package installer

import (
	"os/exec"
	"strings"
)

// elevate rewrites cmd to request elevation through the "runas" shell
// verb, the way Windows UAC prompts are triggered for a process the
// current user doesn't already have administrator rights for.
func elevate(cmd *exec.Cmd) {
	target := cmd.Path
	args := strings.Join(cmd.Args[1:], " ")
	psCommand := "Start-Process -FilePath '" + target + "' -ArgumentList '" + args + "' -Verb RunAs -Wait"

	psPath, err := exec.LookPath("powershell.exe")
	if err != nil {
		return
	}
	cmd.Path = psPath
	cmd.Args = []string{psPath, "-NoProfile", "-NonInteractive", "-Command", psCommand}
}
