package schedule

import (
	"context"
	"time"

	"github.com/justapithecus/wvrunner/log"
)

// Default wait settings.
const (
	DefaultCycle           = time.Hour
	DefaultBusinessDayHour = 8
)

// Waiter sleeps between runs when there is nothing to do.
type Waiter struct {
	// Cycle is the WaitOneCycle duration (default 1h).
	Cycle time.Duration
	// Hour is the local hour at which a business day starts (default 8).
	Hour int
	// Location is the time zone business days are computed in (default Local).
	Location *time.Location
	// Logger is the session logger. If nil, nothing is logged.
	Logger *log.Logger
	// Now overrides the clock (for testing).
	Now func() time.Time
	// Sleep overrides the wait (for testing).
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewWaiter returns a Waiter with defaults applied to unset fields.
func NewWaiter(w Waiter) *Waiter {
	if w.Cycle <= 0 {
		w.Cycle = DefaultCycle
	}
	if w.Hour < 0 || w.Hour > 23 {
		w.Hour = DefaultBusinessDayHour
	}
	if w.Location == nil {
		w.Location = time.Local
	}
	if w.Logger == nil {
		w.Logger = log.NewNop()
	}
	if w.Now == nil {
		w.Now = time.Now
	}
	if w.Sleep == nil {
		w.Sleep = Sleep
	}
	return &w
}

// WaitOneCycle sleeps for one cycle. Used when the task source has no work.
func (w *Waiter) WaitOneCycle(ctx context.Context) error {
	w.Logger.Info("no work available, waiting one cycle", map[string]any{
		"wait": w.Cycle.String(),
	})
	return w.Sleep(ctx, w.Cycle)
}

// WaitUntilNextBusinessDay sleeps until the start of the next business day
// and returns that instant. If the instant has already passed it returns
// immediately.
func (w *Waiter) WaitUntilNextBusinessDay(ctx context.Context) (time.Time, error) {
	now := w.Now().In(w.Location)
	next := NextBusinessDay(now, w.Hour)
	d := next.Sub(w.Now())
	w.Logger.Info("waiting for next business day", map[string]any{
		"until": next.Format(time.RFC3339),
		"wait":  d.Round(time.Second).String(),
	})
	if d <= 0 {
		return next, ctx.Err()
	}
	return next, w.Sleep(ctx, d)
}

// NextBusinessDay returns hour:00 on the first weekday after now's calendar
// day, in now's location. The search starts from tomorrow, so calling it
// early on a Monday yields Tuesday.
func NextBusinessDay(now time.Time, hour int) time.Time {
	y, m, d := now.Date()
	next := time.Date(y, m, d+1, hour, 0, 0, 0, now.Location())
	for IsWeekend(next) {
		next = time.Date(next.Year(), next.Month(), next.Day()+1, hour, 0, 0, 0, now.Location())
	}
	return next
}

// IsWeekend reports whether t falls on a Saturday or Sunday.
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// Sleep waits for d or until ctx is done, returning the context's cause.
func Sleep(ctx context.Context, d time.Duration) error {
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
