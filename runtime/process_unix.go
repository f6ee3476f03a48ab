//go:build unix

package runtime

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup starts the child in a new process group so that signals
// reach every descendant the agent spawns.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup signals the whole process group, falling back to the leader.
func signalGroup(p *os.Process, sig syscall.Signal) error {
	if err := syscall.Kill(-p.Pid, sig); err == nil {
		return nil
	}
	return p.Signal(sig)
}
