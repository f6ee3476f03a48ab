package runtime

import (
	"fmt"
	"io/fs"
	"maps"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/justapithecus/wvrunner/workflow"
)

// EnvExecutable overrides the agent executable location.
const EnvExecutable = "CLAUDE_PATH"

// DefaultExecutableName is looked up on PATH as a last resort.
const DefaultExecutableName = "claude"

// Command is a fully resolved agent invocation.
type Command struct {
	// Path is the executable path.
	Path string
	// Args excludes the executable itself.
	Args []string
	// Dir is the working directory; empty means the current directory.
	Dir string
	// Env is the process environment; nil inherits os.Environ().
	Env []string
}

// BuildCommand builds the agent command line for one attempt.
// continueSession resumes the agent's most recent session in dir.
func BuildCommand(executable, dir string, w workflow.Workflow, continueSession bool) Command {
	args := []string{
		"-p", w.Instructions,
		"--model", w.Model,
		"--output-format", "stream-json",
		"--verbose",
	}
	if w.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	if continueSession {
		args = append(args, "--continue")
	}
	return Command{Path: executable, Args: args, Dir: dir}
}

// Resolver locates the agent executable. Fields are injectable for tests.
type Resolver struct {
	Getenv   func(string) string
	HomeDir  func() (string, error)
	Stat     func(string) (fs.FileInfo, error)
	LookPath func(string) (string, error)
}

// DefaultResolver uses the real environment and filesystem.
var DefaultResolver = Resolver{
	Getenv:   os.Getenv,
	HomeDir:  os.UserHomeDir,
	Stat:     os.Stat,
	LookPath: exec.LookPath,
}

// ResolveExecutable resolves the agent executable with DefaultResolver.
func ResolveExecutable(configured string) (string, error) {
	return DefaultResolver.Resolve(configured)
}

// Resolve returns the agent executable path. Search order:
//  1. $CLAUDE_PATH
//  2. configured (from config or --claude-path)
//  3. standard install locations (see SearchPaths)
//  4. PATH lookup of "claude"
//
// An explicit override that does not point at an executable file is an
// error; it does not fall through to the search list.
func (r Resolver) Resolve(configured string) (string, error) {
	if p := r.Getenv(EnvExecutable); p != "" {
		if !r.isExecutable(p) {
			return "", fmt.Errorf("%w: %s=%s is not an executable file", ErrExecutableNotFound, EnvExecutable, p)
		}
		return p, nil
	}
	if configured != "" {
		if !r.isExecutable(configured) {
			return "", fmt.Errorf("%w: configured path %s is not an executable file", ErrExecutableNotFound, configured)
		}
		return configured, nil
	}

	home, _ := r.HomeDir()
	for _, p := range SearchPaths(home) {
		if r.isExecutable(p) {
			return p, nil
		}
	}

	if p, err := r.LookPath(DefaultExecutableName); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("%w: set %s or install %s", ErrExecutableNotFound, EnvExecutable, DefaultExecutableName)
}

// SearchPaths returns the standard install locations in search order.
// Home-relative entries are omitted when home is empty.
func SearchPaths(home string) []string {
	var paths []string
	if home != "" {
		paths = append(paths,
			filepath.Join(home, ".claude", "local", "claude"),
			filepath.Join(home, ".local", "bin", "claude"),
			filepath.Join(home, ".npm-global", "bin", "claude"),
		)
	}
	return append(paths,
		"/usr/local/bin/claude",
		"/opt/homebrew/bin/claude",
		"/usr/bin/claude",
	)
}

func (r Resolver) isExecutable(path string) bool {
	info, err := r.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}

// MergeEnv appends extra variables to base. Later entries win, so extra
// overrides inherited values with the same key.
func MergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return nil
	}
	env := slices.Clone(base)
	keys := slices.Sorted(maps.Keys(extra))
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return deduplicateEnv(env)
}

// deduplicateEnv keeps the last occurrence of each env var key.
func deduplicateEnv(env []string) []string {
	seen := make(map[string]int, len(env))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		seen[key] = i
	}
	result := make([]string, 0, len(seen))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		if seen[key] == i {
			result = append(result, entry)
		}
	}
	return result
}
