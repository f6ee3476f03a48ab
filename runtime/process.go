package runtime

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"sync"
	"syscall"
)

// Terminator signals a running process tree.
type Terminator interface {
	// Terminate sends the graceful termination signal.
	Terminate() error
	// Kill sends the forceful kill signal.
	Kill() error
	// Alive reports whether the process has not yet exited.
	Alive() bool
}

// Process abstracts the agent process lifecycle for testing.
type Process interface {
	Terminator
	// Start launches the process. Its input is closed from the start.
	Start() error
	// Stdout is the primary output stream.
	Stdout() io.Reader
	// Stderr is the diagnostic output stream.
	Stderr() io.Reader
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// ExitCode is valid after Done is closed; -1 if killed by a signal.
	ExitCode() int
	// CloseOutput closes both output readers, unblocking any pending reads.
	CloseOutput()
	// Pid returns the process id, or 0 before Start.
	Pid() int
}

// ProcessFactory creates a Process. Used for test injection.
type ProcessFactory func(cmd Command) Process

// AgentProcess runs the agent as a child process in its own process group.
type AgentProcess struct {
	command Command
	cmd     *exec.Cmd

	stdout *os.File
	stderr *os.File

	done     chan struct{}
	exitCode int

	closeOnce sync.Once
}

// NewAgentProcess creates a process for cmd. Call Start to launch it.
func NewAgentProcess(cmd Command) Process {
	return &AgentProcess{
		command: cmd,
		done:    make(chan struct{}),
	}
}

// Start launches the process.
//
// Output goes through os.Pipe rather than exec's StdoutPipe so that reaping
// the child never closes the read ends underneath the drains. Stdin is
// left nil, which exec connects to the null device.
func (p *AgentProcess) Start() error {
	p.cmd = exec.Command(p.command.Path, p.command.Args...)
	p.cmd.Dir = p.command.Dir
	p.cmd.Env = p.command.Env
	setProcessGroup(p.cmd)

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("%w: failed to create stdout pipe: %v", ErrStart, err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return fmt.Errorf("%w: failed to create stderr pipe: %v", ErrStart, err)
	}
	p.cmd.Stdout = stdoutW
	p.cmd.Stderr = stderrW

	startErr := p.cmd.Start()

	// The child holds its own copies of the write ends.
	_ = stdoutW.Close()
	_ = stderrW.Close()

	if startErr != nil {
		_ = stdoutR.Close()
		_ = stderrR.Close()
		return classifyStartError(p.command.Path, startErr)
	}

	p.stdout = stdoutR
	p.stderr = stderrR

	go func() {
		p.exitCode = exitCodeOf(p.cmd.Wait())
		close(p.done)
	}()
	return nil
}

func classifyStartError(path string, err error) error {
	if errors.Is(err, exec.ErrNotFound) ||
		errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %s: %v", ErrExecutableNotFound, path, err)
	}
	return fmt.Errorf("%w: %v", ErrStart, err)
}

// exitCodeOf maps a Wait error to an exit code.
func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return -1
			}
			return status.ExitStatus()
		}
		return exitErr.ExitCode()
	}
	return -1
}

// Stdout returns the primary output reader.
func (p *AgentProcess) Stdout() io.Reader {
	return p.stdout
}

// Stderr returns the diagnostic output reader.
func (p *AgentProcess) Stderr() io.Reader {
	return p.stderr
}

// Done is closed when the process has been reaped.
func (p *AgentProcess) Done() <-chan struct{} {
	return p.done
}

// ExitCode returns the exit code. Only valid after Done is closed.
func (p *AgentProcess) ExitCode() int {
	<-p.done
	return p.exitCode
}

// Alive reports whether the process has started and not yet exited.
func (p *AgentProcess) Alive() bool {
	if p.cmd == nil || p.cmd.Process == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Pid returns the process id.
func (p *AgentProcess) Pid() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Terminate sends SIGTERM to the process group.
func (p *AgentProcess) Terminate() error {
	if !p.Alive() {
		return nil
	}
	return ignoreGone(signalGroup(p.cmd.Process, syscall.SIGTERM))
}

// Kill sends SIGKILL to the process group.
func (p *AgentProcess) Kill() error {
	if !p.Alive() {
		return nil
	}
	return ignoreGone(signalGroup(p.cmd.Process, syscall.SIGKILL))
}

// CloseOutput closes both read ends. Safe to call more than once.
func (p *AgentProcess) CloseOutput() {
	p.closeOnce.Do(func() {
		if p.stdout != nil {
			_ = p.stdout.Close()
		}
		if p.stderr != nil {
			_ = p.stderr.Close()
		}
	})
}

// ignoreGone treats signalling an already-exited process as success.
func ignoreGone(err error) error {
	if err == nil || errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
