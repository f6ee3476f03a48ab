//go:build !unix

package runtime

import (
	"os"
	"os/exec"
	"syscall"
)

func setProcessGroup(*exec.Cmd) {}

// signalGroup has no process groups to target; graceful termination is not
// deliverable, so both signals kill the leader.
func signalGroup(p *os.Process, _ syscall.Signal) error {
	return p.Kill()
}
