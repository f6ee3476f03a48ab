package cmd

import (
	"slices"
	"testing"
)

func TestReadOnlyFlags_IncludesTUI(t *testing.T) {
	hasTUI := false
	for _, f := range ReadOnlyFlags() {
		if f.Names()[0] == "tui" {
			hasTUI = true
			break
		}
	}
	if !hasTUI {
		t.Error("ReadOnlyFlags should include --tui flag for explicit error handling")
	}
}

func TestCommands_Flags(t *testing.T) {
	tests := []struct {
		name string
		want []string
	}{
		{
			name: "run",
			want: []string{"config", "mode", "workflow", "model", "workdir", "claude-path", "goal",
				"max-attempts", "soft-timeout", "hard-timeout", "transcript", "journal-path", "adapter-url", "quiet"},
		},
		{
			name: "history",
			want: []string{"journal-path", "day", "workflow", "format", "tui"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := RunCommand()
			if tt.name == "history" {
				cmd = HistoryCommand()
			}
			var names []string
			for _, f := range cmd.Flags {
				names = append(names, f.Names()[0])
			}
			for _, w := range tt.want {
				if !slices.Contains(names, w) {
					t.Errorf("%s is missing --%s", tt.name, w)
				}
			}
		})
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := VersionCommand("abc123")
	if cmd.Name != "version" || cmd.Action == nil {
		t.Errorf("command = %+v", cmd)
	}
}

func TestIsStderrTTY(_ *testing.T) {
	// Actual TTY behavior depends on runtime environment.
	_ = isStderrTTY()
}
