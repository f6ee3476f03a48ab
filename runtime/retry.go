package runtime

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/justapithecus/wvrunner/approval"
	"github.com/justapithecus/wvrunner/extract"
	"github.com/justapithecus/wvrunner/log"
	"github.com/justapithecus/wvrunner/metrics"
	"github.com/justapithecus/wvrunner/types"
	"github.com/justapithecus/wvrunner/workflow"
)

// Default retry policy.
const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = 30 * time.Second
)

// AttemptExecutor runs one agent invocation. *Supervisor implements it.
type AttemptExecutor interface {
	Execute(ctx context.Context, cmd Command) (*ExecResult, error)
}

// AttemptObserver is told when each attempt begins.
type AttemptObserver interface {
	Begin(attempt int, continued bool)
}

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	// Workflow is the workflow to run. Its instructions are the original task.
	Workflow workflow.Workflow
	// Executable is the resolved agent executable path.
	Executable string
	// Workdir is the agent's working directory.
	Workdir string
	// Env is extra environment for the agent, merged over the inherited one.
	Env map[string]string
	// MaxAttempts bounds attempts per logical run (default 3).
	MaxAttempts int
	// Backoff is the pause before retrying a recoverable failure (default 30s,
	// negative disables it).
	Backoff time.Duration
	// Executor runs each attempt. Required.
	Executor AttemptExecutor
	// Approvals receives commands the agent was denied permission to run.
	// If nil, denials are only logged.
	Approvals *approval.Log
	// Observer is told when each attempt begins. Optional.
	Observer AttemptObserver
	// Logger is the session logger. If nil, nothing is logged.
	Logger *log.Logger
	// Collector records retry counters (nil-safe).
	Collector *metrics.Collector
	// Sleep overrides the backoff wait (for testing).
	Sleep func(ctx context.Context, d time.Duration) error
	// Now overrides the clock (for testing).
	Now func() time.Time
}

// Report describes how a logical run went.
type Report struct {
	// Record is the outcome; it has status error on every terminal failure.
	Record types.OutcomeRecord
	// Attempts is the number of agent invocations made.
	Attempts int
	// Continuations is how many attempts ran with continuation instructions.
	Continuations int
	// Elapsed is the wall-clock time of the logical run.
	Elapsed time.Duration
	// LastFailure is the kind of the last attempt failure, if any.
	LastFailure FailureKind
}

// Controller runs one logical run: up to MaxAttempts agent invocations,
// retrying recoverable failures after a backoff and continuing the prior
// session when the agent finished without reporting its result.
type Controller struct {
	cfg    ControllerConfig
	logger *log.Logger
}

// NewController creates a Controller, filling unset policy with defaults.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	} else if cfg.Backoff == 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Controller{cfg: cfg, logger: logger}
}

// Run performs one logical run and returns its outcome. It never fails:
// every failure path ends in a record with status error.
func (c *Controller) Run(ctx context.Context) types.OutcomeRecord {
	return c.Execute(ctx).Record
}

// Execute performs one logical run and reports how it went.
//
// Policy per attempt:
//   - result extracted: done
//   - marker missing: next attempt continues the session with augmented
//     instructions, without backoff
//   - timeout, stream closed, start failure: back off, then continue the session
//   - parse failure, missing executable, cancellation: error record at once
func (c *Controller) Execute(ctx context.Context) Report {
	start := c.cfg.Now()
	original := c.cfg.Workflow.Instructions

	rep := Report{}
	w := c.cfg.Workflow
	continued := false
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		rep.Attempts = attempt
		if w.Instructions != original {
			rep.Continuations++
		}
		c.cfg.Collector.IncAttempt()
		if c.cfg.Observer != nil {
			c.cfg.Observer.Begin(attempt, continued)
		}

		attemptLog := c.logger.With(map[string]any{"attempt": attempt})
		attemptLog.Info("starting attempt", map[string]any{
			"max_attempts": c.cfg.MaxAttempts,
			"continue":     continued,
			"augmented":    w.Instructions != original,
		})

		cmd := BuildCommand(c.cfg.Executable, c.cfg.Workdir, w, continued)
		cmd.Env = MergeEnv(os.Environ(), c.cfg.Env)
		res, execErr := c.cfg.Executor.Execute(ctx, cmd)
		c.recordDenials(res, attempt)

		if res != nil {
			rec, extractErr := extract.Extract(res.Output, c.cfg.Now().Sub(start))
			if extractErr == nil {
				if execErr != nil {
					attemptLog.Warn("using result reported before attempt failure", map[string]any{
						"error": execErr.Error(),
					})
				}
				rep.Record = rec
				rep.Elapsed = c.cfg.Now().Sub(start)
				attemptLog.Info("attempt produced result", map[string]any{
					"status":      string(rec.Status),
					"task_worked": rec.Hours.TaskWorked,
					"exit_code":   res.ExitCode,
				})
				return rep
			}
			if execErr == nil {
				execErr = extractErr
			}
		}

		kind := Classify(execErr)
		rep.LastFailure = kind
		lastErr = execErr
		attemptLog.Warn("attempt failed", map[string]any{
			"failure": string(kind),
			"error":   execErr.Error(),
		})

		switch {
		case kind == FailureMarkerMissing:
			c.cfg.Collector.IncMarkerMissing()
			if attempt < c.cfg.MaxAttempts {
				c.cfg.Collector.IncContinuation()
				w.Instructions = workflow.Augment(original)
				continued = true
			}

		case kind.Retryable():
			if attempt < c.cfg.MaxAttempts {
				c.cfg.Collector.IncRetry()
				continued = true
				attemptLog.Info("backing off before retry", map[string]any{
					"backoff": c.cfg.Backoff.String(),
				})
				if err := c.cfg.Sleep(ctx, c.cfg.Backoff); err != nil {
					rep.LastFailure = FailureCanceled
					return c.fail(rep, start, fmt.Sprintf("canceled during retry backoff: %v", err))
				}
			}

		default:
			if kind == FailureParse {
				c.cfg.Collector.IncParseFailure()
			}
			return c.fail(rep, start, failureMessage(kind, execErr))
		}
	}

	return c.fail(rep, start, fmt.Sprintf("failed after %d attempts: %v", rep.Attempts, lastErr))
}

func (c *Controller) fail(rep Report, start time.Time, message string) Report {
	rep.Elapsed = c.cfg.Now().Sub(start)
	rep.Record = types.NewErrorRecord(message, rep.Elapsed)
	c.logger.Error("run failed", map[string]any{
		"failure":  string(rep.LastFailure),
		"attempts": rep.Attempts,
		"message":  message,
	})
	return rep
}

func (c *Controller) recordDenials(res *ExecResult, attempt int) {
	if res == nil || res.Result == nil {
		return
	}
	for _, d := range res.Result.PermissionDenials {
		cmd := d.Command()
		c.logger.Warn("agent was denied a command", map[string]any{
			"attempt": attempt,
			"tool":    d.ToolName,
			"command": cmd,
		})
		c.cfg.Approvals.Record(approval.Request{
			Command:  cmd,
			Tool:     d.ToolName,
			Workflow: string(c.cfg.Workflow.Kind),
			Attempt:  attempt,
			At:       c.cfg.Now(),
		})
	}
}

func failureMessage(kind FailureKind, err error) string {
	switch kind {
	case FailureParse:
		return fmt.Sprintf("malformed result: %v", err)
	case FailureExecutableNotFound:
		return fmt.Sprintf("agent not runnable: %v", err)
	case FailureCanceled:
		return fmt.Sprintf("canceled: %v", err)
	default:
		return err.Error()
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-t.C:
		return nil
	}
}
