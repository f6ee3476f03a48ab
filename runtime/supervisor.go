package runtime

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/justapithecus/wvrunner/ipc"
	"github.com/justapithecus/wvrunner/log"
	"github.com/justapithecus/wvrunner/metrics"
)

// Default supervisor timings.
const (
	DefaultSoftTimeout = 55 * time.Minute
	DefaultHardTimeout = 60 * time.Minute
	DefaultDrainLinger = 2 * time.Second
	DefaultExitGrace   = 30 * time.Second
)

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	// SoftTimeout sends a graceful termination if the agent has not reported
	// its result by then. Zero, or a value not below HardTimeout, disables it.
	SoftTimeout time.Duration
	// HardTimeout is the ceiling after which the agent is force-stopped.
	HardTimeout time.Duration
	// Grace is how long termination waits before escalating to a kill.
	Grace time.Duration
	// PollInterval is the liveness poll interval during Grace.
	PollInterval time.Duration
	// DrainLinger is how long drains may keep reading after the agent exits,
	// for output still buffered by descendants that inherited the pipes.
	DrainLinger time.Duration
	// ExitGrace is how long the agent may keep running after it emitted its
	// result record before it is stopped.
	ExitGrace time.Duration
	// Sink receives every output line. If nil, lines are only buffered.
	Sink LineSink
	// Logger is the session logger. If nil, nothing is logged.
	Logger *log.Logger
	// Collector records supervisor counters (nil-safe).
	Collector *metrics.Collector
	// ProcessFactory overrides process creation (for testing).
	// If nil, uses NewAgentProcess.
	ProcessFactory ProcessFactory
}

// ExecResult is the outcome of one supervised execution.
type ExecResult struct {
	// Output is every primary-stream line, newline terminated, in order.
	Output string
	// ExitCode is the agent's exit code; -1 if it was killed by a signal.
	ExitCode int
	// Duration is the wall-clock time from start to the end of draining.
	Duration time.Duration
	// SoftTimedOut is true if the soft timer sent a graceful termination.
	SoftTimedOut bool
	// EarlyCompletion is true if the agent emitted its result record.
	EarlyCompletion bool
	// Stopped is true if the supervisor deliberately stopped the agent.
	Stopped bool
	// Result is the agent's result record, if one was seen.
	Result *ipc.Event
}

// Supervisor runs one agent process at a time under soft and hard timeouts.
type Supervisor struct {
	cfg    SupervisorConfig
	logger *log.Logger
}

// NewSupervisor creates a Supervisor, filling unset timings with defaults.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.HardTimeout <= 0 {
		cfg.HardTimeout = DefaultHardTimeout
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.DrainLinger <= 0 {
		cfg.DrainLinger = DefaultDrainLinger
	}
	if cfg.ExitGrace <= 0 {
		cfg.ExitGrace = DefaultExitGrace
	}
	if cfg.Sink == nil {
		cfg.Sink = LineSinkFunc(func(ipc.Stream, string) {})
	}
	if cfg.ProcessFactory == nil {
		cfg.ProcessFactory = NewAgentProcess
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Supervisor{cfg: cfg, logger: logger}
}

// execState is shared between the drains, the soft timer and the watchdog.
type execState struct {
	earlyCompletion atomic.Bool
	stopping        atomic.Bool
	closing         atomic.Bool
	softTimedOut    atomic.Bool
}

// expected reports whether a stream failure now is part of a shutdown.
func (st *execState) expected() bool {
	return st.earlyCompletion.Load() || st.stopping.Load() || st.closing.Load()
}

// Execute runs cmd to completion.
//
// Execution flow:
//  1. Start the process with input closed
//  2. Drain stdout and stderr concurrently; watch stdout for the result record
//  3. Soft timer: graceful termination if no result by SoftTimeout
//  4. Join drains and soft timer under the hard ceiling
//  5. Return the buffered output and exit status
//
// A non-zero exit status is logged but is not an error: the caller decides
// from the output whether the run produced a result. Errors:
//   - ErrExecutableNotFound / ErrStart: the process did not start (nil result)
//   - ErrTimeout: the hard ceiling expired; the process tree was stopped
//   - ErrStreamClosed: an output stream failed outside a deliberate shutdown
//   - context errors: ctx was canceled; the process tree was stopped
func (s *Supervisor) Execute(ctx context.Context, cmd Command) (*ExecResult, error) {
	start := time.Now()
	proc := s.cfg.ProcessFactory(cmd)

	if err := proc.Start(); err != nil {
		s.cfg.Collector.IncLaunchFailure()
		s.logger.Error("failed to start agent", map[string]any{
			"executable": cmd.Path,
			"error":      err.Error(),
		})
		return nil, err
	}

	s.logger.Info("agent started", map[string]any{
		"pid":      proc.Pid(),
		"continue": slices.Contains(cmd.Args, "--continue"),
	})

	st := &execState{}
	resultSeen := make(chan struct{})
	var (
		output strings.Builder
		result *ipc.Event
	)

	drained := make(chan struct{})
	var pending atomic.Int32
	pending.Store(2)
	finish := func() {
		if pending.Add(-1) == 0 {
			close(drained)
		}
	}

	streamErr := func(stream ipc.Stream, err error) error {
		if err == nil || st.expected() {
			return nil
		}
		return fmt.Errorf("%w: %s: %v", ErrStreamClosed, stream, err)
	}

	var g errgroup.Group
	g.Go(func() error {
		defer finish()
		err := drain(proc.Stdout(), func(line string) {
			output.WriteString(line)
			output.WriteByte('\n')
			s.cfg.Sink.Line(ipc.StreamStdout, line)
			if result == nil && strings.Contains(line, `"result"`) {
				if ev := ipc.DecodeLine(line); ev.IsResult() {
					result = &ev
					st.earlyCompletion.Store(true)
					close(resultSeen)
				}
			}
		})
		return streamErr(ipc.StreamStdout, err)
	})
	g.Go(func() error {
		defer finish()
		err := drain(proc.Stderr(), func(line string) {
			s.cfg.Sink.Line(ipc.StreamStderr, line)
		})
		return streamErr(ipc.StreamStderr, err)
	})
	g.Go(func() error {
		s.softTimer(proc, st, drained)
		return nil
	})

	joined := make(chan error, 1)
	go func() { joined <- g.Wait() }()

	timedOut, canceled, joinErr := s.watch(ctx, proc, st, joined, resultSeen)

	res := &ExecResult{
		Output:          output.String(),
		ExitCode:        proc.ExitCode(),
		Duration:        time.Since(start),
		SoftTimedOut:    st.softTimedOut.Load(),
		EarlyCompletion: st.earlyCompletion.Load(),
		Stopped:         st.stopping.Load(),
		Result:          result,
	}

	fields := map[string]any{
		"exit_code":        res.ExitCode,
		"duration_ms":      res.Duration.Milliseconds(),
		"soft_timed_out":   res.SoftTimedOut,
		"early_completion": res.EarlyCompletion,
		"stopped":          res.Stopped,
	}
	if res.ExitCode != 0 {
		s.cfg.Collector.IncNonZeroExit()
		s.logger.Warn("agent exited with non-zero status", fields)
	} else {
		s.logger.Info("agent exited", fields)
	}

	switch {
	case timedOut:
		return res, fmt.Errorf("%w after %s", ErrTimeout, s.cfg.HardTimeout)
	case canceled:
		return res, fmt.Errorf("agent run canceled: %w", context.Cause(ctx))
	case joinErr != nil:
		s.cfg.Collector.IncStreamClosed()
		s.logger.Warn("agent output stream closed unexpectedly", map[string]any{
			"error": joinErr.Error(),
		})
		return res, joinErr
	}
	return res, nil
}

// watch waits until the drains have joined and the process has exited,
// enforcing the hard ceiling, cancellation and the post-result exit grace.
func (s *Supervisor) watch(
	ctx context.Context,
	proc Process,
	st *execState,
	joined <-chan error,
	resultSeen <-chan struct{},
) (timedOut, canceled bool, joinErr error) {
	hard := time.NewTimer(s.cfg.HardTimeout)
	defer hard.Stop()

	var (
		joinedCh  = joined
		exitCh    = proc.Done()
		resultCh  = resultSeen
		hardC     = hard.C
		ctxDone   = ctx.Done()
		lingerC   <-chan time.Time
		exitWaitC <-chan time.Time
		isJoined  bool
		exited    bool
	)

	stop := func(reason string) {
		st.stopping.Store(true)
		killed, err := Stop(proc, s.cfg.Grace, s.cfg.PollInterval)
		fields := map[string]any{"reason": reason, "killed": killed}
		if err != nil {
			fields["error"] = err.Error()
		}
		s.logger.Warn("stopped agent", fields)
	}

	for !isJoined || !exited {
		select {
		case joinErr = <-joinedCh:
			isJoined = true
			joinedCh = nil

		case <-exitCh:
			exited = true
			exitCh = nil
			if !isJoined {
				lingerC = time.After(s.cfg.DrainLinger)
			}

		case <-lingerC:
			lingerC = nil
			st.closing.Store(true)
			proc.CloseOutput()

		case <-resultCh:
			resultCh = nil
			s.cfg.Collector.IncEarlyCompletion()
			s.logger.Debug("agent reported result", nil)
			if !exited {
				exitWaitC = time.After(s.cfg.ExitGrace)
			}

		case <-exitWaitC:
			exitWaitC = nil
			if !exited {
				stop("agent still running after reporting result")
			}

		case <-hardC:
			hardC = nil
			timedOut = true
			s.cfg.Collector.IncHardTimeout()
			stop("hard timeout")

		case <-ctxDone:
			ctxDone = nil
			canceled = true
			stop("canceled")
		}
	}
	return timedOut, canceled, joinErr
}

// softTimer sends one graceful termination at SoftTimeout unless the agent
// already reported its result, a stop is in progress, or draining finished.
func (s *Supervisor) softTimer(proc Process, st *execState, drained <-chan struct{}) {
	soft := s.cfg.SoftTimeout
	if soft <= 0 || soft >= s.cfg.HardTimeout {
		return
	}

	t := time.NewTimer(soft)
	defer t.Stop()
	select {
	case <-drained:
		return
	case <-t.C:
	}

	if st.earlyCompletion.Load() || st.stopping.Load() {
		return
	}
	st.softTimedOut.Store(true)
	s.cfg.Collector.IncSoftTimeout()
	s.logger.Warn("soft timeout reached, asking agent to finish", map[string]any{
		"soft_timeout": soft.String(),
	})
	if err := proc.Terminate(); err != nil {
		s.logger.Warn("graceful termination failed", map[string]any{"error": err.Error()})
	}
}
