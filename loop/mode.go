package loop

import (
	"fmt"
	"slices"
	"strings"
)

// Mode selects how many logical runs the loop performs.
type Mode string

// Run modes.
const (
	// ModeSingle performs exactly one run.
	ModeSingle Mode = "single"
	// ModeDaily runs until the daily quota is spent or the cutoff hour.
	ModeDaily Mode = "daily"
	// ModeContinuous repeats daily mode across business days indefinitely.
	ModeContinuous Mode = "continuous"
)

var modes = []Mode{ModeSingle, ModeDaily, ModeContinuous}

// Modes returns all modes in a stable order.
func Modes() []Mode {
	return slices.Clone(modes)
}

// ParseMode validates a mode selector.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(modes, m) {
		return m, nil
	}
	names := make([]string, len(modes))
	for i, v := range modes {
		names[i] = string(v)
	}
	return "", fmt.Errorf("invalid mode %q (valid: %s)", s, strings.Join(names, ", "))
}
