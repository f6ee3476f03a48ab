package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/justapithecus/wvrunner/approval"
	"github.com/justapithecus/wvrunner/log"
	"github.com/justapithecus/wvrunner/loop"
	"github.com/justapithecus/wvrunner/metrics"
)

// DefaultPublishTimeout bounds one notification across all its retries.
const DefaultPublishTimeout = 30 * time.Second

// FromCompleted builds the event for a finished run.
func FromCompleted(c loop.Completed) *RunCompletedEvent {
	rec := c.Report.Record
	ev := &RunCompletedEvent{
		EventType:      EventType,
		Day:            c.Day,
		Run:            c.Index,
		Status:         string(rec.Status),
		Message:        rec.Message,
		HoursWorked:    rec.Hours.TaskWorked,
		PerDay:         rec.Hours.PerDay,
		RemainingHours: c.Decision.RemainingHours,
		ShouldContinue: c.Decision.ShouldContinue,
		WaitReason:     string(c.Decision.WaitReason),
		Attempts:       c.Report.Attempts,
		Approvals:      approval.Commands(c.Approvals),
		Timestamp:      c.FinishedAt.UTC().Format(time.RFC3339),
		DurationMs:     c.FinishedAt.Sub(c.StartedAt).Milliseconds(),
	}
	if c.Session != nil {
		ev.SessionID = c.Session.SessionID
		ev.Workflow = c.Session.Workflow
		ev.Mode = c.Session.Mode
	}
	return ev
}

// Notifier publishes every completed run to its adapters.
// It implements loop.Observer.
type Notifier struct {
	adapters  []Adapter
	timeout   time.Duration
	logger    *log.Logger
	collector *metrics.Collector
}

// NewNotifier creates a Notifier. A non-positive timeout uses
// DefaultPublishTimeout.
func NewNotifier(adapters []Adapter, timeout time.Duration, logger *log.Logger, collector *metrics.Collector) *Notifier {
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Notifier{adapters: adapters, timeout: timeout, logger: logger, collector: collector}
}

// RunCompleted publishes the run. Failures are logged and counted.
func (n *Notifier) RunCompleted(ctx context.Context, c loop.Completed) {
	_ = n.Notify(ctx, FromCompleted(c))
}

// Notify publishes ev to every adapter and returns the joined failures.
func (n *Notifier) Notify(ctx context.Context, ev *RunCompletedEvent) error {
	if len(n.adapters) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	var errs []error
	for _, a := range n.adapters {
		if err := a.Publish(ctx, ev); err != nil {
			n.collector.IncNotifyFailure()
			n.logger.Warn("failed to publish run notification", map[string]any{
				"run":   ev.Run,
				"error": err.Error(),
			})
			errs = append(errs, err)
			continue
		}
		n.logger.Debug("published run notification", map[string]any{"run": ev.Run})
	}
	return errors.Join(errs...)
}

// Close closes every adapter.
func (n *Notifier) Close() error {
	var errs []error
	for _, a := range n.adapters {
		errs = append(errs, a.Close())
	}
	return errors.Join(errs...)
}

var _ loop.Observer = (*Notifier)(nil)
