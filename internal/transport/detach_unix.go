//go:build unix

package transport

import (
	"os/exec"
	"syscall"
)

// detach moves the child into its own process group so a terminal Ctrl+C
// aimed at the orchestrator does not reach tool servers.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
