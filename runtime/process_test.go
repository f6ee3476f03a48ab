package runtime

import (
	"errors"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"testing"
	"time"
)

func requireShell(t *testing.T) string {
	t.Helper()
	if goruntime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	const sh = "/bin/sh"
	if _, err := os.Stat(sh); err != nil {
		t.Skip("/bin/sh not available")
	}
	return sh
}

func TestAgentProcess_RealShell(t *testing.T) {
	sh := requireShell(t)
	cmd := Command{Path: sh, Args: []string{"-c", `echo one; echo two; echo diag >&2; printf 'tail'; exit 3`}}

	res, err := NewSupervisor(SupervisorConfig{HardTimeout: 10 * time.Second}).Execute(t.Context(), cmd)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Output != "one\ntwo\ntail\n" {
		t.Errorf("Output = %q", res.Output)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
}

func TestAgentProcess_StdinIsClosed(t *testing.T) {
	sh := requireShell(t)
	cmd := Command{Path: sh, Args: []string{"-c", `if read line; then echo got-input; else echo no-input; fi`}}

	res, err := NewSupervisor(SupervisorConfig{HardTimeout: 10 * time.Second}).Execute(t.Context(), cmd)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if strings.TrimSpace(res.Output) != "no-input" {
		t.Errorf("Output = %q, want no-input", res.Output)
	}
}

func TestAgentProcess_SoftTimeoutDeliversSIGTERM(t *testing.T) {
	sh := requireShell(t)
	script := `trap 'echo graceful; exit 0' TERM; echo started; while :; do sleep 0.05; done`
	cmd := Command{Path: sh, Args: []string{"-c", script}}

	res, err := NewSupervisor(SupervisorConfig{
		SoftTimeout: 300 * time.Millisecond,
		HardTimeout: 10 * time.Second,
		DrainLinger: 200 * time.Millisecond,
	}).Execute(t.Context(), cmd)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !res.SoftTimedOut {
		t.Error("SoftTimedOut = false")
	}
	if !strings.Contains(res.Output, "graceful") {
		t.Errorf("Output = %q, want trap output", res.Output)
	}
}

func TestAgentProcess_HardTimeoutKillsGroup(t *testing.T) {
	sh := requireShell(t)
	script := `trap '' TERM; echo started; while :; do sleep 0.05; done`
	cmd := Command{Path: sh, Args: []string{"-c", script}}

	start := time.Now()
	res, err := NewSupervisor(SupervisorConfig{
		HardTimeout:  200 * time.Millisecond,
		Grace:        300 * time.Millisecond,
		PollInterval: 50 * time.Millisecond,
		DrainLinger:  200 * time.Millisecond,
	}).Execute(t.Context(), cmd)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	if res.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1 (killed)", res.ExitCode)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("took %v to stop", elapsed)
	}
}

func TestAgentProcess_MissingExecutable(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "no-such-claude")
	_, err := NewSupervisor(SupervisorConfig{}).Execute(t.Context(), Command{Path: missing})
	if !errors.Is(err, ErrExecutableNotFound) {
		t.Fatalf("error = %v, want ErrExecutableNotFound", err)
	}
}

func TestExitCodeOf(t *testing.T) {
	if got := exitCodeOf(nil); got != 0 {
		t.Errorf("exitCodeOf(nil) = %d", got)
	}
	if got := exitCodeOf(errors.New("wait failed")); got != -1 {
		t.Errorf("exitCodeOf(other) = %d, want -1", got)
	}
}
