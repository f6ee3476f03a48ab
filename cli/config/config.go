package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/justapithecus/wvrunner/adapter"
	"github.com/justapithecus/wvrunner/loop"
	"github.com/justapithecus/wvrunner/runtime"
	"github.com/justapithecus/wvrunner/schedule"
	"github.com/justapithecus/wvrunner/workflow"
)

// Config represents a wvrunner.yaml configuration file.
// All values are optional and act as defaults for wvrunner run flags.
// CLI flags always override config values.
type Config struct {
	Workflow   string                    `yaml:"workflow"`
	Mode       string                    `yaml:"mode"`
	Workdir    string                    `yaml:"workdir"`
	Agent      AgentConfig               `yaml:"agent"`
	Workflows  map[string]WorkflowConfig `yaml:"workflows"`
	Timeouts   TimeoutConfig             `yaml:"timeouts"`
	Retry      RetryConfig               `yaml:"retry"`
	Schedule   ScheduleConfig            `yaml:"schedule"`
	Journal    JournalConfig             `yaml:"journal"`
	Adapter    AdapterConfig             `yaml:"adapter"`
	Transcript string                    `yaml:"transcript"`
	LogLevel   string                    `yaml:"log_level"`

	// path is the file the config was loaded from, for relative paths.
	path string
}

// AgentConfig holds agent defaults shared by every workflow.
type AgentConfig struct {
	Executable      string            `yaml:"executable"`
	Model           string            `yaml:"model"`
	SkipPermissions *bool             `yaml:"skip_permissions,omitempty"`
	Env             map[string]string `yaml:"env,omitempty"`
}

// WorkflowConfig is the payload of one workflow kind. Keyed by kind name.
type WorkflowConfig struct {
	Instructions     string `yaml:"instructions"`
	InstructionsFile string `yaml:"instructions_file"`
	Model            string `yaml:"model"`
	SkipPermissions  *bool  `yaml:"skip_permissions,omitempty"`
}

// TimeoutConfig holds supervisor timings.
type TimeoutConfig struct {
	// Soft is nil when unset. An explicit "0s" disables the soft timeout.
	Soft        *Duration `yaml:"soft,omitempty"`
	Hard        Duration  `yaml:"hard"`
	Grace       Duration  `yaml:"grace"`
	DrainLinger Duration  `yaml:"drain_linger"`
	ExitGrace   Duration  `yaml:"exit_grace"`
}

// RetryConfig holds the retry policy of a logical run.
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	Backoff     Duration `yaml:"backoff"`
}

// ScheduleConfig holds run loop and wait settings.
type ScheduleConfig struct {
	// DailyGoal overrides the per_day hours reported by the agent. 0 keeps
	// the reported value.
	DailyGoal       float64  `yaml:"daily_goal"`
	CutoffHour      *int     `yaml:"cutoff_hour,omitempty"`
	Pause           Duration `yaml:"pause"`
	CycleWait       Duration `yaml:"cycle_wait"`
	BusinessDayHour *int     `yaml:"business_day_hour,omitempty"`
	Timezone        string   `yaml:"timezone"`
	MaxDays         int      `yaml:"max_days"`
}

// JournalConfig holds outcome journal settings. An empty backend disables
// the journal.
type JournalConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Dataset     string `yaml:"dataset"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig holds notification adapter settings.
type AdapterConfig struct {
	Type     string            `yaml:"type"`
	URL      string            `yaml:"url"`
	Channel  string            `yaml:"channel,omitempty"`
	Encoding string            `yaml:"encoding,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty"`
	Timeout  Duration          `yaml:"timeout,omitempty"`
	Retries  *int              `yaml:"retries,omitempty"`
}

// Journal backends.
const (
	BackendFS = "fs"
	BackendS3 = "s3"
)

// Adapter types.
const (
	AdapterWebhook = "webhook"
	AdapterRedis   = "redis"
)

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// SoftTimeout returns the soft timeout, or 0 when it is unset or disabled.
func (t TimeoutConfig) SoftTimeout() time.Duration {
	if t.Soft == nil {
		return 0
	}
	return t.Soft.Duration
}

func setDuration(d *Duration, def time.Duration) {
	if d.Duration == 0 {
		d.Duration = def
	}
}

func setInt(p **int, def int) {
	if *p == nil {
		v := def
		*p = &v
	}
}

// ApplyDefaults fills every unset field with its built-in default.
// Call it after flag overrides and before Validate.
func (c *Config) ApplyDefaults() {
	if c.Workflow == "" {
		c.Workflow = string(workflow.KindDevelop)
	}
	if c.Mode == "" {
		c.Mode = string(loop.ModeSingle)
	}
	if c.Timeouts.Soft == nil {
		c.Timeouts.Soft = &Duration{runtime.DefaultSoftTimeout}
	}
	setDuration(&c.Timeouts.Hard, runtime.DefaultHardTimeout)
	setDuration(&c.Timeouts.Grace, runtime.DefaultGrace)
	setDuration(&c.Timeouts.DrainLinger, runtime.DefaultDrainLinger)
	setDuration(&c.Timeouts.ExitGrace, runtime.DefaultExitGrace)
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = runtime.DefaultMaxAttempts
	}
	setDuration(&c.Retry.Backoff, runtime.DefaultBackoff)
	setInt(&c.Schedule.CutoffHour, loop.DefaultCutoffHour)
	setInt(&c.Schedule.BusinessDayHour, schedule.DefaultBusinessDayHour)
	setDuration(&c.Schedule.Pause, loop.DefaultPause)
	setDuration(&c.Schedule.CycleWait, schedule.DefaultCycle)
	if c.Journal.Backend == BackendFS && c.Journal.Path == "" {
		c.Journal.Path = DefaultJournalPath
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// DefaultJournalPath is the fs journal root when none is configured.
const DefaultJournalPath = ".wvrunner"

// Validate checks the config. It runs before any agent is launched.
func (c *Config) Validate() error {
	var errs []error
	if _, err := loop.ParseMode(c.Mode); err != nil {
		errs = append(errs, err)
	}
	if _, err := workflow.ParseKind(c.Workflow); err != nil {
		errs = append(errs, err)
	}
	for name := range c.Workflows {
		if _, err := workflow.ParseKind(name); err != nil {
			errs = append(errs, fmt.Errorf("workflows: %w", err))
		}
	}

	t := c.Timeouts
	if t.Hard.Duration <= 0 {
		errs = append(errs, errors.New("timeouts.hard must be positive"))
	}
	if soft := t.SoftTimeout(); soft < 0 || (soft > 0 && soft >= t.Hard.Duration) {
		errs = append(errs, fmt.Errorf("timeouts.soft (%v) must be below timeouts.hard (%v)", soft, t.Hard.Duration))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts))
	}

	s := c.Schedule
	if s.DailyGoal < 0 {
		errs = append(errs, fmt.Errorf("schedule.daily_goal must be >= 0, got %v", s.DailyGoal))
	}
	if s.CutoffHour != nil && (*s.CutoffHour < 1 || *s.CutoffHour > 24) {
		errs = append(errs, fmt.Errorf("schedule.cutoff_hour must be 1..24, got %d", *s.CutoffHour))
	}
	if s.BusinessDayHour != nil && (*s.BusinessDayHour < 0 || *s.BusinessDayHour > 23) {
		errs = append(errs, fmt.Errorf("schedule.business_day_hour must be 0..23, got %d", *s.BusinessDayHour))
	}
	if s.MaxDays < 0 {
		errs = append(errs, fmt.Errorf("schedule.max_days must be >= 0, got %d", s.MaxDays))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}

	switch c.Journal.Backend {
	case "", BackendFS:
	case BackendS3:
		if c.Journal.Path == "" {
			errs = append(errs, errors.New("journal.path (bucket[/prefix]) is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown journal.backend %q (valid: fs, s3)", c.Journal.Backend))
	}

	switch c.Adapter.Type {
	case "":
	case AdapterWebhook, AdapterRedis:
		if c.Adapter.URL == "" {
			errs = append(errs, fmt.Errorf("adapter.url is required for the %s adapter", c.Adapter.Type))
		}
		if _, err := adapter.ParseEncoding(c.Adapter.Encoding); err != nil {
			errs = append(errs, fmt.Errorf("adapter.encoding: %w", err))
		}
		if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
			errs = append(errs, fmt.Errorf("adapter.retries must be >= 0, got %d", *c.Adapter.Retries))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown adapter.type %q (valid: webhook, redis)", c.Adapter.Type))
	}

	if c.LogLevel != "" && !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.LogLevel)) {
		errs = append(errs, fmt.Errorf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	return errors.Join(errs...)
}

// Location returns the schedule time zone. Empty or "Local" is the host zone.
func (c *Config) Location() (*time.Location, error) {
	switch c.Schedule.Timezone {
	case "", "Local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule.timezone: %w", err)
	}
	return loc, nil
}

// ResolveWorkflow builds the workflow to run: the built-in payload for the
// kind, overridden by agent defaults, then by the kind's workflows entry.
// An instructions_file is read relative to the config file.
func (c *Config) ResolveWorkflow() (workflow.Workflow, error) {
	kind, err := workflow.ParseKind(c.Workflow)
	if err != nil {
		return workflow.Workflow{}, err
	}
	w := workflow.New(kind)
	if c.Agent.Model != "" {
		w.Model = c.Agent.Model
	}
	if c.Agent.SkipPermissions != nil {
		w.SkipPermissions = *c.Agent.SkipPermissions
	}

	if wc, ok := c.Workflows[string(kind)]; ok {
		switch {
		case wc.Instructions != "" && wc.InstructionsFile != "":
			return workflow.Workflow{}, fmt.Errorf("workflows.%s: instructions and instructions_file are mutually exclusive", kind)
		case wc.Instructions != "":
			w.Instructions = wc.Instructions
		case wc.InstructionsFile != "":
			data, err := os.ReadFile(c.resolvePath(wc.InstructionsFile))
			if err != nil {
				return workflow.Workflow{}, fmt.Errorf("workflows.%s: %w", kind, err)
			}
			w.Instructions = string(data)
		}
		if wc.Model != "" {
			w.Model = wc.Model
		}
		if wc.SkipPermissions != nil {
			w.SkipPermissions = *wc.SkipPermissions
		}
	}

	if err := w.Validate(); err != nil {
		return workflow.Workflow{}, fmt.Errorf("workflows.%s: %w", kind, err)
	}
	return w, nil
}

// resolvePath makes p relative to the config file's directory.
func (c *Config) resolvePath(p string) string {
	if filepath.IsAbs(p) || c.path == "" {
		return p
	}
	return filepath.Join(filepath.Dir(c.path), p)
}
