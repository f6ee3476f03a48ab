// Package loop drives logical runs in one of the run modes.
//
// The loop owns the run history. Each completed run is appended in
// completion order and the quota is evaluated against a read-only view of
// it. Run failures arrive as error records, never as Go errors; the only
// error Run returns is cancellation.
package loop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/justapithecus/wvrunner/approval"
	"github.com/justapithecus/wvrunner/log"
	"github.com/justapithecus/wvrunner/metrics"
	"github.com/justapithecus/wvrunner/runtime"
	"github.com/justapithecus/wvrunner/schedule"
	"github.com/justapithecus/wvrunner/types"
)

// Default loop settings.
const (
	DefaultCutoffHour = 23
	DefaultPause      = 5 * time.Second
)

// DayLayout formats the calendar day a run belongs to.
const DayLayout = "2006-01-02"

// Controller performs one logical run. *runtime.Controller implements it.
type Controller interface {
	Execute(ctx context.Context) runtime.Report
}

// Waiter sleeps when the loop has nothing to do. *schedule.Waiter implements it.
type Waiter interface {
	WaitOneCycle(ctx context.Context) error
	WaitUntilNextBusinessDay(ctx context.Context) (time.Time, error)
}

// StopReason says why a day (or the whole loop) ended.
type StopReason string

// Stop reasons.
const (
	StopSingle      StopReason = "single_run"
	StopQuota       StopReason = "quota"
	StopError       StopReason = "error"
	StopCutoff      StopReason = "cutoff"
	StopNoMoreTasks StopReason = "no_more_tasks"
	StopCanceled    StopReason = "canceled"
	StopDayLimit    StopReason = "day_limit"
)

// Completed describes one finished logical run.
type Completed struct {
	Session *types.SessionMeta
	// Day is the local calendar day the run started on.
	Day string
	// Index is the 1-based run number within the day.
	Index int
	// Report is the controller's report; Report.Record is the outcome.
	Report runtime.Report
	// Decision is the quota verdict after appending the record.
	Decision schedule.Decision
	// Approvals are the denied commands drained after the run.
	Approvals []approval.Request
	// StartedAt and FinishedAt bound the run.
	StartedAt  time.Time
	FinishedAt time.Time
}

// Observer is notified after every logical run. Observers must not block
// for long; failures are theirs to log.
type Observer interface {
	RunCompleted(ctx context.Context, c Completed)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, c Completed)

// RunCompleted calls f.
func (f ObserverFunc) RunCompleted(ctx context.Context, c Completed) { f(ctx, c) }

// Config configures a Runner.
type Config struct {
	// Mode is the run mode. Required.
	Mode Mode
	// Session identifies the scheduling session.
	Session *types.SessionMeta
	// Controller performs each logical run. Required.
	Controller Controller
	// Quota evaluates the daily history.
	Quota schedule.Quota
	// Waiter sleeps between days and when no work is available. Required
	// for daily and continuous modes.
	Waiter Waiter
	// CutoffHour ends a day once the local hour reaches it (default 23;
	// 24 disables the cutoff).
	CutoffHour int
	// Location is the zone of the cutoff hour and the day partition. It
	// must match the waiter's zone. If nil, the clock's own zone is used.
	Location *time.Location
	// Pause is the short wait between runs within a day (default 5s).
	Pause time.Duration
	// MaxDays bounds continuous mode; 0 runs until canceled.
	MaxDays int
	// Approvals is drained after each run. Optional.
	Approvals *approval.Log
	// Observers are notified after each run, in order.
	Observers []Observer
	// Logger is the session logger. If nil, nothing is logged.
	Logger *log.Logger
	// Collector records run counters (nil-safe).
	Collector *metrics.Collector
	// Now overrides the clock (for testing).
	Now func() time.Time
	// Sleep overrides the between-run pause (for testing).
	Sleep func(ctx context.Context, d time.Duration) error
}

// Summary describes a finished loop.
type Summary struct {
	// Runs is the total number of logical runs across all days.
	Runs int
	// Days is the number of days the loop worked.
	Days int
	// Last is the most recent outcome, if any run happened.
	Last *types.OutcomeRecord
	// History is the history of the last day.
	History []types.OutcomeRecord
	// Decision is the quota verdict for History.
	Decision schedule.Decision
	// Stop is why the loop ended.
	Stop StopReason
}

// Runner composes the controller, quota and waiter into a run mode.
type Runner struct {
	cfg    Config
	logger *log.Logger
}

// New validates cfg and creates a Runner. Nothing is launched here, so an
// invalid mode fails before any agent process starts.
func New(cfg Config) (*Runner, error) {
	if _, err := ParseMode(string(cfg.Mode)); err != nil {
		return nil, err
	}
	if cfg.Controller == nil {
		return nil, errors.New("loop: controller is required")
	}
	if cfg.Mode != ModeSingle && cfg.Waiter == nil {
		return nil, fmt.Errorf("loop: %s mode requires a waiter", cfg.Mode)
	}
	if cfg.CutoffHour <= 0 || cfg.CutoffHour > 24 {
		cfg.CutoffHour = DefaultCutoffHour
	}
	if cfg.Pause < 0 {
		cfg.Pause = 0
	} else if cfg.Pause == 0 {
		cfg.Pause = DefaultPause
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = schedule.Sleep
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Runner{cfg: cfg, logger: logger}, nil
}

// Run executes the configured mode. The returned error is non-nil only when
// ctx was canceled; the summary is valid either way.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	r.logger.Info("run loop starting", map[string]any{
		"mode":        string(r.cfg.Mode),
		"cutoff_hour": r.cfg.CutoffHour,
	})

	var (
		sum Summary
		err error
	)
	switch r.cfg.Mode {
	case ModeSingle:
		sum, err = r.runSingle(ctx)
	case ModeDaily:
		sum, err = r.runDaily(ctx)
	default:
		sum, err = r.runContinuous(ctx)
	}

	fields := map[string]any{
		"runs": sum.Runs,
		"days": sum.Days,
		"stop": string(sum.Stop),
	}
	if sum.Last != nil {
		fields["last_status"] = string(sum.Last.Status)
	}
	r.logger.Info("run loop finished", fields)
	return sum, err
}

func (r *Runner) runSingle(ctx context.Context) (Summary, error) {
	d := r.newDay()
	d.run(ctx)
	sum := d.summary(StopSingle)
	sum.Days = 1
	return sum, cancelCause(ctx)
}

func (r *Runner) runDaily(ctx context.Context) (Summary, error) {
	d := r.newDay()
	stop := d.loop(ctx, false)
	sum := d.summary(stop)
	sum.Days = 1
	return sum, cancelCause(ctx)
}

func (r *Runner) runContinuous(ctx context.Context) (Summary, error) {
	var (
		total int
		days  int
	)
	for {
		d := r.newDay()
		stop := d.loop(ctx, true)
		total += len(d.history)
		days++

		sum := d.summary(stop)
		sum.Runs = total
		sum.Days = days
		if stop == StopCanceled {
			return sum, cancelCause(ctx)
		}
		if r.cfg.MaxDays > 0 && days >= r.cfg.MaxDays {
			sum.Stop = StopDayLimit
			return sum, nil
		}

		r.logger.Info("day finished", map[string]any{
			"day":             d.date,
			"runs":            len(d.history),
			"reason":          string(stop),
			"remaining_hours": sum.Decision.RemainingHours,
		})
		if _, err := r.cfg.Waiter.WaitUntilNextBusinessDay(ctx); err != nil {
			sum.Stop = StopCanceled
			return sum, cancelCause(ctx)
		}
	}
}

// day is the state of one daily history.
type day struct {
	r       *Runner
	date    string
	history []types.OutcomeRecord
}

func (r *Runner) newDay() *day {
	return &day{r: r, date: r.localNow().Format(DayLayout)}
}

// localNow is the clock in the configured zone.
func (r *Runner) localNow() time.Time {
	now := r.cfg.Now()
	if r.cfg.Location == nil {
		return now
	}
	return now.In(r.cfg.Location)
}

// loop runs until the quota, the cutoff or the task source ends the day.
// endOnNoWork ends the day when the agent reports no more tasks; otherwise
// the loop waits one cycle and asks again.
func (d *day) loop(ctx context.Context, endOnNoWork bool) StopReason {
	r := d.r
	for {
		if ctx.Err() != nil {
			return StopCanceled
		}
		if stop, ok := d.stopReason(); ok {
			return stop
		}

		rec := d.run(ctx)
		if ctx.Err() != nil {
			return StopCanceled
		}

		if rec.Status == types.StatusNoMoreTasks {
			if endOnNoWork {
				return StopNoMoreTasks
			}
			if err := r.cfg.Waiter.WaitOneCycle(ctx); err != nil {
				return StopCanceled
			}
			continue
		}

		if !r.cfg.Quota.ShouldContinue(d.history) {
			continue
		}
		if err := r.cfg.Sleep(ctx, r.cfg.Pause); err != nil {
			return StopCanceled
		}
	}
}

// stopReason reports whether the day is over before starting another run.
func (d *day) stopReason() (StopReason, bool) {
	r := d.r
	if !r.cfg.Quota.ShouldContinue(d.history) {
		for _, rec := range d.history {
			if rec.IsError() {
				return StopError, true
			}
		}
		return StopQuota, true
	}
	if r.localNow().Hour() >= r.cfg.CutoffHour {
		r.logger.Info("daily cutoff reached", map[string]any{
			"cutoff_hour": r.cfg.CutoffHour,
			"local_time":  r.localNow().Format(time.RFC3339),
		})
		return StopCutoff, true
	}
	return "", false
}

// run performs one logical run and appends its record to the history.
func (d *day) run(ctx context.Context) types.OutcomeRecord {
	r := d.r
	index := len(d.history) + 1
	runLog := r.logger.With(map[string]any{"run": index, "day": d.date})

	r.cfg.Collector.IncRunStarted()
	started := r.cfg.Now()
	runLog.Info("starting run", map[string]any{
		"remaining_hours": r.cfg.Quota.RemainingHours(d.history),
	})

	rep := r.cfg.Controller.Execute(ctx)
	rec := rep.Record
	d.history = append(d.history, rec)

	if rec.IsError() {
		r.cfg.Collector.IncRunFailed()
	} else {
		r.cfg.Collector.IncRunSucceeded()
	}
	r.cfg.Collector.AddHoursWorked(rec.Hours.TaskWorked)

	decision := r.cfg.Quota.Decide(d.history)
	approvals := r.cfg.Approvals.Drain()

	fields := map[string]any{
		"status":          string(rec.Status),
		"task_worked":     rec.Hours.TaskWorked,
		"attempts":        rep.Attempts,
		"remaining_hours": decision.RemainingHours,
		"should_continue": decision.ShouldContinue,
		"wait_reason":     string(decision.WaitReason),
	}
	if rec.Message != "" {
		fields["message"] = rec.Message
	}
	if len(approvals) > 0 {
		fields["approvals"] = approval.Commands(approvals)
	}
	if rec.IsError() {
		runLog.Warn("run finished with error", fields)
	} else {
		runLog.Info("run finished", fields)
	}

	c := Completed{
		Session:    r.cfg.Session,
		Day:        d.date,
		Index:      index,
		Report:     rep,
		Decision:   decision,
		Approvals:  approvals,
		StartedAt:  started,
		FinishedAt: r.cfg.Now(),
	}
	for _, o := range r.cfg.Observers {
		o.RunCompleted(context.WithoutCancel(ctx), c)
	}
	return rec
}

func (d *day) summary(stop StopReason) Summary {
	sum := Summary{
		Runs:     len(d.history),
		History:  d.history,
		Decision: d.r.cfg.Quota.Decide(d.history),
		Stop:     stop,
	}
	if n := len(d.history); n > 0 {
		last := d.history[n-1]
		sum.Last = &last
	}
	return sum
}

func cancelCause(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	return context.Cause(ctx)
}
