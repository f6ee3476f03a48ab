package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/wvrunner/adapter"
	"github.com/justapithecus/wvrunner/approval"
	"github.com/justapithecus/wvrunner/cli/config"
	"github.com/justapithecus/wvrunner/iox"
	"github.com/justapithecus/wvrunner/journal"
	"github.com/justapithecus/wvrunner/log"
	"github.com/justapithecus/wvrunner/loop"
	"github.com/justapithecus/wvrunner/metrics"
	"github.com/justapithecus/wvrunner/runtime"
	"github.com/justapithecus/wvrunner/schedule"
	"github.com/justapithecus/wvrunner/types"
)

// Exit codes for wvrunner run.
const (
	exitSuccess     = 0
	exitFailure     = 1
	exitConfigError = 2
	exitInterrupted = 130
)

// sideChannelTimeout bounds the final metrics write and adapter shutdown.
const sideChannelTimeout = 10 * time.Second

// RunCommand returns the run command.
// This is the only command that launches the agent.
func RunCommand() *cli.Command {
	return runCommand(defaultRunEnv())
}

func runCommand(env runEnv) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the agent in single, daily or continuous mode",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file (default: ./" + config.DefaultPath + " if present)",
			},
			&cli.StringFlag{
				Name:  "mode",
				Usage: "Run mode: single, daily, continuous",
			},
			&cli.StringFlag{
				Name:  "workflow",
				Usage: "Workflow kind: develop, review, ci_fix, maintenance",
			},
			&cli.StringFlag{
				Name:  "model",
				Usage: "Model selector passed to the agent",
			},
			&cli.StringFlag{
				Name:  "workdir",
				Usage: "Working directory for the agent",
			},
			&cli.StringFlag{
				Name:  "claude-path",
				Usage: "Path to the agent executable (CLAUDE_PATH takes precedence)",
			},
			&cli.Float64Flag{
				Name:  "goal",
				Usage: "Daily hour goal; overrides per_day reported by the agent",
			},
			&cli.IntFlag{
				Name:  "max-attempts",
				Usage: "Attempts per logical run",
			},
			&cli.DurationFlag{
				Name:  "soft-timeout",
				Usage: "Graceful termination deadline per attempt (0 disables)",
			},
			&cli.DurationFlag{
				Name:  "hard-timeout",
				Usage: "Hard ceiling per attempt",
			},
			&cli.StringFlag{
				Name:  "transcript",
				Usage: "Append every agent output line to this file",
			},
			&cli.StringFlag{
				Name:  "journal-path",
				Usage: "Journal outcomes to this directory (fs backend)",
			},
			&cli.StringFlag{
				Name:  "adapter-url",
				Usage: "Webhook URL notified after each run",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress the summary output",
			},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return execute(ctx, c, env)
		},
	}
}

// runEnv holds the process-level collaborators of a run. Tests replace them.
type runEnv struct {
	resolver runtime.Resolver
	// executor overrides the supervisor when non-nil.
	executor runtime.AttemptExecutor
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	stdout   io.Writer
	stderr   io.Writer
}

func defaultRunEnv() runEnv {
	return runEnv{
		resolver: runtime.DefaultResolver,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}
}

// loadRunConfig builds the effective config: built-in defaults < config
// file < flags. It is validated before anything is launched.
func loadRunConfig(c *cli.Context) (*config.Config, error) {
	cfg := &config.Config{}
	path := c.String("config")
	if path == "" {
		if _, err := os.Stat(config.DefaultPath); err == nil {
			path = config.DefaultPath
		}
	}
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	applyRunFlags(c, cfg)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyRunFlags overrides config values with flags the user set.
func applyRunFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("mode") {
		cfg.Mode = c.String("mode")
	}
	if c.IsSet("workflow") {
		cfg.Workflow = c.String("workflow")
	}
	if c.IsSet("model") {
		cfg.Agent.Model = c.String("model")
		if wc, ok := cfg.Workflows[cfg.Workflow]; ok {
			wc.Model = ""
			cfg.Workflows[cfg.Workflow] = wc
		}
	}
	if c.IsSet("workdir") {
		cfg.Workdir = c.String("workdir")
	}
	if c.IsSet("claude-path") {
		cfg.Agent.Executable = c.String("claude-path")
	}
	if c.IsSet("goal") {
		cfg.Schedule.DailyGoal = c.Float64("goal")
	}
	if c.IsSet("max-attempts") {
		cfg.Retry.MaxAttempts = c.Int("max-attempts")
	}
	if c.IsSet("soft-timeout") {
		cfg.Timeouts.Soft = &config.Duration{Duration: c.Duration("soft-timeout")}
	}
	if c.IsSet("hard-timeout") {
		cfg.Timeouts.Hard.Duration = c.Duration("hard-timeout")
	}
	if c.IsSet("transcript") {
		cfg.Transcript = c.String("transcript")
	}
	if c.IsSet("journal-path") {
		cfg.Journal.Backend = config.BackendFS
		cfg.Journal.Path = c.String("journal-path")
	}
	if c.IsSet("adapter-url") {
		cfg.Adapter.Type = config.AdapterWebhook
		cfg.Adapter.URL = c.String("adapter-url")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
}

func execute(ctx context.Context, c *cli.Context, env runEnv) error {
	cfg, err := loadRunConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), exitConfigError)
	}
	mode, _ := loop.ParseMode(cfg.Mode)
	wf, err := cfg.ResolveWorkflow()
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), exitConfigError)
	}
	loc, _ := cfg.Location()

	exe, err := env.resolver.Resolve(cfg.Agent.Executable)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	session := types.NewSessionMeta(string(wf.Kind), string(mode))
	level, _ := log.ParseLevel(cfg.LogLevel)
	logger := log.NewLoggerWithWriter(session, level, env.stderr)
	defer iox.DiscardErr(logger.Sync)

	collector := metrics.NewCollector(session.Workflow, session.Mode, cfg.Journal.Backend, session.SessionID)

	transcript, err := log.OpenTranscript(cfg.Transcript, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), exitConfigError)
	}
	defer iox.DiscardClose(transcript)

	sides, err := buildSideChannels(ctx, cfg, session, logger, collector)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), exitConfigError)
	}
	defer sides.close(logger)

	approvals := approval.NewLog()

	executor := env.executor
	if executor == nil {
		executor = runtime.NewSupervisor(runtime.SupervisorConfig{
			SoftTimeout: cfg.Timeouts.SoftTimeout(),
			HardTimeout: cfg.Timeouts.Hard.Duration,
			Grace:       cfg.Timeouts.Grace.Duration,
			DrainLinger: cfg.Timeouts.DrainLinger.Duration,
			ExitGrace:   cfg.Timeouts.ExitGrace.Duration,
			Sink:        transcript,
			Logger:      logger,
			Collector:   collector,
		})
	}

	controller := runtime.NewController(runtime.ControllerConfig{
		Workflow:    wf,
		Executable:  exe,
		Workdir:     cfg.Workdir,
		Env:         cfg.Agent.Env,
		MaxAttempts: cfg.Retry.MaxAttempts,
		Backoff:     cfg.Retry.Backoff.Duration,
		Executor:    executor,
		Approvals:   approvals,
		Observer:    transcript,
		Logger:      logger,
		Collector:   collector,
		Sleep:       env.sleep,
		Now:         env.now,
	})

	waiter := schedule.NewWaiter(schedule.Waiter{
		Cycle:    cfg.Schedule.CycleWait.Duration,
		Hour:     *cfg.Schedule.BusinessDayHour,
		Location: loc,
		Logger:   logger,
		Now:      env.now,
		Sleep:    env.sleep,
	})

	runner, err := loop.New(loop.Config{
		Mode:       mode,
		Session:    session,
		Controller: controller,
		Quota:      schedule.NewQuota(cfg.Schedule.DailyGoal),
		Waiter:     waiter,
		CutoffHour: *cfg.Schedule.CutoffHour,
		Location:   loc,
		Pause:      cfg.Schedule.Pause.Duration,
		MaxDays:    cfg.Schedule.MaxDays,
		Approvals:  approvals,
		Observers:  sides.observers(),
		Logger:     logger,
		Collector:  collector,
		Now:        env.now,
		Sleep:      env.sleep,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), exitConfigError)
	}

	summary, runErr := runner.Run(ctx)

	snap := collector.Snapshot()
	logger.Info("session metrics", snap.Fields())
	if sides.journal != nil {
		now := time.Now
		if env.now != nil {
			now = env.now
		}
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideChannelTimeout)
		if err := sides.journal.WriteMetrics(writeCtx, snap, now().In(loc)); err != nil {
			logger.Warn("failed to journal session metrics", map[string]any{"error": err.Error()})
		}
		cancel()
	}

	if !c.Bool("quiet") {
		printSummary(env.stdout, session, summary)
	}

	if runErr != nil {
		logger.Info("run interrupted", map[string]any{"cause": runErr.Error()})
		return cli.Exit("interrupted", exitInterrupted)
	}
	return nil
}

// sideChannels are the optional observers outside the scheduling core.
type sideChannels struct {
	journal  *journal.Journal
	notifier *adapter.Notifier
}

func (s *sideChannels) observers() []loop.Observer {
	var out []loop.Observer
	if s.journal != nil {
		out = append(out, s.journal)
	}
	if s.notifier != nil {
		out = append(out, s.notifier)
	}
	return out
}

func (s *sideChannels) close(logger *log.Logger) {
	if s.notifier != nil {
		if err := s.notifier.Close(); err != nil {
			logger.Warn("failed to close notification adapter", map[string]any{"error": err.Error()})
		}
	}
	if s.journal != nil {
		_ = s.journal.Close()
	}
}

func printSummary(w io.Writer, session *types.SessionMeta, s loop.Summary) {
	_, _ = fmt.Fprintf(w, "\nsession=%s, workflow=%s, mode=%s, stop=%s\n",
		session.SessionID, session.Workflow, session.Mode, s.Stop)
	_, _ = fmt.Fprintf(w, "\n=== Run Summary ===\n")
	_, _ = fmt.Fprintf(w, "Runs:         %d\n", s.Runs)
	_, _ = fmt.Fprintf(w, "Days:         %d\n", s.Days)
	if s.Last != nil {
		_, _ = fmt.Fprintf(w, "Last Status:  %s\n", s.Last.Status)
		if s.Last.Message != "" {
			_, _ = fmt.Fprintf(w, "Message:      %s\n", s.Last.Message)
		}
	}
	_, _ = fmt.Fprintf(w, "Remaining:    %.2fh\n", s.Decision.RemainingHours)
	_, _ = fmt.Fprintf(w, "Wait Reason:  %s\n", s.Decision.WaitReason)
}
