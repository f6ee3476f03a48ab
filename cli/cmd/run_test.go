package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/wvrunner/adapter"
	"github.com/justapithecus/wvrunner/cli/config"
	"github.com/justapithecus/wvrunner/iox"
	"github.com/justapithecus/wvrunner/journal"
	"github.com/justapithecus/wvrunner/runtime"
)

const successOutput = `{"type":"assistant"}` + "\n" +
	`Done. WVRUNNER_RESULT: {"status":"success","hours":{"per_day":8,"task_estimated":1},"ticket":"WV-7"}` + "\n"

// scriptedExecutor returns the same output for every attempt.
type scriptedExecutor struct {
	mu     sync.Mutex
	output string
	cmds   []runtime.Command
}

func (e *scriptedExecutor) Execute(_ context.Context, cmd runtime.Command) (*runtime.ExecResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cmds = append(e.cmds, cmd)
	return &runtime.ExecResult{Output: e.output, Duration: time.Second}, nil
}

// fileInfo reports an executable regular file.
type fileInfo struct{ fs.FileInfo }

func (fileInfo) Mode() fs.FileMode { return 0o755 }

func fakeResolver(found bool) runtime.Resolver {
	return runtime.Resolver{
		Getenv:  func(string) string { return "" },
		HomeDir: func() (string, error) { return "", nil },
		Stat: func(p string) (fs.FileInfo, error) {
			if found && p == "/usr/local/bin/claude" {
				return fileInfo{}, nil
			}
			return nil, fs.ErrNotExist
		},
		LookPath: func(string) (string, error) { return "", errors.New("not found") },
	}
}

type runHarness struct {
	executor *scriptedExecutor
	stdout   bytes.Buffer
	stderr   bytes.Buffer
	found    bool
}

func newHarness() *runHarness {
	return &runHarness{executor: &scriptedExecutor{output: successOutput}, found: true}
}

func (h *runHarness) run(ctx context.Context, args ...string) error {
	env := runEnv{
		resolver: fakeResolver(h.found),
		executor: h.executor,
		sleep:    func(context.Context, time.Duration) error { return nil },
		stdout:   &h.stdout,
		stderr:   &h.stderr,
	}
	app := &cli.App{
		Name:           "wvrunner",
		Commands:       []*cli.Command{runCommand(env)},
		ExitErrHandler: func(*cli.Context, error) {},
	}
	return app.RunContext(ctx, append([]string{"wvrunner", "run"}, args...))
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return 0
	}
	var ec cli.ExitCoder
	if !errors.As(err, &ec) {
		t.Fatalf("error %v is not an exit coder", err)
	}
	return ec.ExitCode()
}

func TestRun_ConfigErrors(t *testing.T) {
	t.Chdir(t.TempDir())

	tests := []struct {
		name string
		args []string
	}{
		{"invalid mode", []string{"--mode", "weekly"}},
		{"invalid workflow", []string{"--workflow", "deploy"}},
		{"negative goal", []string{"--goal", "-1"}},
		{"zero attempts", []string{"--max-attempts", "0"}},
		{"missing config file", []string{"--config", "nope.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			err := h.run(t.Context(), tt.args...)
			if got := exitCode(t, err); got != exitConfigError {
				t.Errorf("exit code = %d, want %d (err: %v)", got, exitConfigError, err)
			}
			if len(h.executor.cmds) != 0 {
				t.Error("agent must not launch on a configuration error")
			}
		})
	}
}

func TestRun_ExecutableNotFound(t *testing.T) {
	t.Chdir(t.TempDir())
	h := newHarness()
	h.found = false

	err := h.run(t.Context(), "--mode", "single")
	if got := exitCode(t, err); got != exitConfigError {
		t.Fatalf("exit code = %d, want %d", got, exitConfigError)
	}
	if !strings.Contains(err.Error(), "executable not found") {
		t.Errorf("error = %v", err)
	}
	if len(h.executor.cmds) != 0 {
		t.Error("agent must not launch without an executable")
	}
}

func TestRun_SingleJournalsAndNotifies(t *testing.T) {
	t.Chdir(t.TempDir())
	journalDir := t.TempDir()

	var (
		mu     sync.Mutex
		events []adapter.RunCompletedEvent
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var ev adapter.RunCompletedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			t.Errorf("unmarshal: %v", err)
		}
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	h := newHarness()
	err := h.run(t.Context(),
		"--mode", "single",
		"--workflow", "review",
		"--model", "opus",
		"--journal-path", journalDir,
		"--adapter-url", ts.URL,
	)
	if err != nil {
		t.Fatalf("run: %v\nstderr:\n%s", err, h.stderr.String())
	}

	if len(h.executor.cmds) != 1 {
		t.Fatalf("attempts = %d, want 1", len(h.executor.cmds))
	}
	cmd := h.executor.cmds[0]
	if cmd.Path != "/usr/local/bin/claude" {
		t.Errorf("executable = %q", cmd.Path)
	}
	if !strings.Contains(strings.Join(cmd.Args, " "), "--model opus") {
		t.Errorf("args = %v", cmd.Args)
	}

	mu.Lock()
	if len(events) != 1 || events[0].Status != "success" || events[0].Workflow != "review" {
		t.Errorf("events = %+v", events)
	}
	mu.Unlock()

	out := h.stdout.String()
	for _, want := range []string{"Run Summary", "Runs:         1", "Last Status:  success"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if !strings.Contains(h.stderr.String(), "session metrics") {
		t.Errorf("metrics snapshot not logged:\n%s", h.stderr.String())
	}

	hist, err := loadHistory(t.Context(), historyOptions{Backend: config.BackendFS, Path: journalDir})
	if err != nil {
		t.Fatalf("loadHistory: %v", err)
	}
	if len(hist.Days) != 1 || len(hist.Days[0].Runs) != 1 {
		t.Fatalf("history = %+v", hist)
	}
	day := hist.Days[0]
	if day.Workflow != "review" || day.Runs[0].Status != "success" {
		t.Errorf("day = %+v", day)
	}
	if day.Summary.DailyGoal != 8 || !day.Summary.ShouldContinue {
		t.Errorf("summary = %+v", day.Summary)
	}
	if hist.Metrics == nil || hist.Metrics.RunsStarted != 1 {
		t.Errorf("metrics = %+v", hist.Metrics)
	}
}

func TestRun_ConfigFileAndQuiet(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, "instructions.md"), []byte("Fix the flaky test."), 0o644); err != nil {
		t.Fatal(err)
	}
	yaml := `mode: single
workflow: ci_fix
workflows:
  ci_fix:
    instructions_file: instructions.md
`
	if err := os.WriteFile(filepath.Join(dir, config.DefaultPath), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	h := newHarness()
	if err := h.run(t.Context(), "--quiet"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.stdout.Len() != 0 {
		t.Errorf("--quiet should suppress the summary:\n%s", h.stdout.String())
	}
	if len(h.executor.cmds) != 1 || !strings.Contains(strings.Join(h.executor.cmds[0].Args, " "), "Fix the flaky test.") {
		t.Errorf("cmds = %+v", h.executor.cmds)
	}
}

func TestRun_InterruptedExits130(t *testing.T) {
	t.Chdir(t.TempDir())
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	h := newHarness()
	err := h.run(ctx, "--mode", "single", "--quiet")
	if got := exitCode(t, err); got != exitInterrupted {
		t.Errorf("exit code = %d, want %d (err: %v)", got, exitInterrupted, err)
	}
}

func TestRun_SoftTimeoutZeroDisables(t *testing.T) {
	t.Chdir(t.TempDir())
	app := &cli.App{
		Name: "wvrunner",
		Commands: []*cli.Command{{
			Name:  "run",
			Flags: RunCommand().Flags,
			Action: func(c *cli.Context) error {
				cfg, err := loadRunConfig(c)
				if err != nil {
					return err
				}
				if cfg.Timeouts.SoftTimeout() != 0 {
					t.Errorf("soft timeout = %v, want disabled", cfg.Timeouts.SoftTimeout())
				}
				if cfg.Timeouts.Hard.Duration != 2*time.Hour {
					t.Errorf("hard timeout = %v", cfg.Timeouts.Hard.Duration)
				}
				return nil
			},
		}},
	}
	if err := app.Run([]string{"wvrunner", "run", "--soft-timeout", "0s", "--hard-timeout", "2h"}); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestOpenAdapter(t *testing.T) {
	if a, err := openAdapter(config.AdapterConfig{}); err != nil || a != nil {
		t.Errorf("empty type = %v, %v", a, err)
	}
	a, err := openAdapter(config.AdapterConfig{Type: config.AdapterRedis, URL: "redis://localhost:6379/0"})
	if err != nil || a == nil {
		t.Fatalf("redis = %v, %v", a, err)
	}
	t.Cleanup(iox.CloseFunc(a))
	if _, err := openAdapter(config.AdapterConfig{Type: "smtp"}); err == nil {
		t.Error("unknown adapter type should fail")
	}
}

func TestHistory_MissingJournal(t *testing.T) {
	_, err := loadHistory(t.Context(), historyOptions{Backend: config.BackendFS, Path: filepath.Join(t.TempDir(), "missing")})
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("err = %v", err)
	}
	if _, err := loadHistory(t.Context(), historyOptions{Backend: "ftp"}); err == nil {
		t.Error("unknown backend should fail")
	}
}

func TestHistory_DayFilter(t *testing.T) {
	t.Chdir(t.TempDir())
	journalDir := t.TempDir()

	h := newHarness()
	for range 2 {
		if err := h.run(t.Context(), "--mode", "single", "--quiet", "--journal-path", journalDir); err != nil {
			t.Fatalf("run: %v", err)
		}
	}

	all, err := loadHistory(t.Context(), historyOptions{Backend: config.BackendFS, Path: journalDir})
	if err != nil {
		t.Fatalf("loadHistory: %v", err)
	}
	if len(all.Days) != 2 {
		t.Fatalf("days = %d, want one per session", len(all.Days))
	}

	filtered, err := loadHistory(t.Context(), historyOptions{
		Backend: config.BackendFS,
		Path:    journalDir,
		Filter:  journal.Filter{SessionID: all.Days[0].SessionID},
	})
	if err != nil {
		t.Fatalf("loadHistory: %v", err)
	}
	if len(filtered.Days) != 1 || filtered.Days[0].SessionID != all.Days[0].SessionID {
		t.Errorf("filtered = %+v", filtered.Days)
	}
}
