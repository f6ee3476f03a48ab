package schedule

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNextBusinessDay(t *testing.T) {
	loc := time.FixedZone("test", -5*3600)
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"monday evening to tuesday", time.Date(2026, 3, 2, 23, 30, 0, 0, loc), time.Date(2026, 3, 3, 8, 0, 0, 0, loc)},
		{"monday early morning skips today", time.Date(2026, 3, 2, 6, 0, 0, 0, loc), time.Date(2026, 3, 3, 8, 0, 0, 0, loc)},
		{"friday to monday", time.Date(2026, 3, 6, 23, 0, 0, 0, loc), time.Date(2026, 3, 9, 8, 0, 0, 0, loc)},
		{"saturday to monday", time.Date(2026, 3, 7, 12, 0, 0, 0, loc), time.Date(2026, 3, 9, 8, 0, 0, 0, loc)},
		{"sunday to monday", time.Date(2026, 3, 8, 12, 0, 0, 0, loc), time.Date(2026, 3, 9, 8, 0, 0, 0, loc)},
		{"month end", time.Date(2026, 7, 31, 22, 0, 0, 0, loc), time.Date(2026, 8, 3, 8, 0, 0, 0, loc)},
		{"year end", time.Date(2026, 12, 31, 22, 0, 0, 0, loc), time.Date(2027, 1, 1, 8, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextBusinessDay(tt.now, 8)
			if !got.Equal(tt.want) {
				t.Errorf("NextBusinessDay(%s) = %s, want %s", tt.now, got, tt.want)
			}
			if IsWeekend(got) {
				t.Errorf("result %s falls on a weekend", got)
			}
		})
	}
}

type sleepRecorder struct {
	slept []time.Duration
	err   error
}

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	s.slept = append(s.slept, d)
	return s.err
}

func TestWaiter_WaitUntilNextBusinessDay(t *testing.T) {
	now := time.Date(2026, 3, 6, 20, 0, 0, 0, time.UTC) // Friday
	rec := &sleepRecorder{}
	w := NewWaiter(Waiter{
		Location: time.UTC,
		Hour:     8,
		Now:      func() time.Time { return now },
		Sleep:    rec.Sleep,
	})

	next, err := w.WaitUntilNextBusinessDay(t.Context())
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if want := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Errorf("next = %s, want %s", next, want)
	}
	if len(rec.slept) != 1 || rec.slept[0] != 60*time.Hour {
		t.Errorf("slept %v, want [60h]", rec.slept)
	}
}

func TestWaiter_PastInstantReturnsImmediately(t *testing.T) {
	calls := 0
	base := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	rec := &sleepRecorder{}
	w := NewWaiter(Waiter{
		Location: time.UTC,
		// The first reading computes the target; the second is past it.
		Now: func() time.Time {
			calls++
			if calls == 1 {
				return base
			}
			return base.Add(48 * time.Hour)
		},
		Sleep: rec.Sleep,
	})

	if _, err := w.WaitUntilNextBusinessDay(t.Context()); err != nil {
		t.Fatalf("error = %v", err)
	}
	if len(rec.slept) != 0 {
		t.Errorf("slept %v, want no sleep", rec.slept)
	}
}

func TestWaiter_WaitOneCycle(t *testing.T) {
	rec := &sleepRecorder{}
	w := NewWaiter(Waiter{Sleep: rec.Sleep})
	if err := w.WaitOneCycle(t.Context()); err != nil {
		t.Fatal(err)
	}
	if len(rec.slept) != 1 || rec.slept[0] != time.Hour {
		t.Errorf("slept %v, want [1h]", rec.slept)
	}
}

func TestSleep_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	start := time.Now()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep did not return promptly on cancel")
	}
}

func TestSleep_Elapses(t *testing.T) {
	if err := Sleep(t.Context(), 5*time.Millisecond); err != nil {
		t.Errorf("Sleep error = %v", err)
	}
}
