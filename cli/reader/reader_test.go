package reader

import (
	"testing"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/wvrunner/journal"
	"github.com/justapithecus/wvrunner/loop"
	"github.com/justapithecus/wvrunner/metrics"
	"github.com/justapithecus/wvrunner/runtime"
	"github.com/justapithecus/wvrunner/schedule"
	"github.com/justapithecus/wvrunner/types"
)

func sharedFactory(store lode.Store) lode.StoreFactory {
	return func() (lode.Store, error) { return store, nil }
}

func run(day string, index int, status types.Status, worked float64, at time.Time) loop.Completed {
	return loop.Completed{
		Day:   day,
		Index: index,
		Report: runtime.Report{
			Record:   types.OutcomeRecord{Status: status, Hours: types.Hours{PerDay: 4, TaskWorked: worked}},
			Attempts: 1,
		},
		StartedAt:  at.Add(-time.Hour),
		FinishedAt: at,
	}
}

func TestReader_History(t *testing.T) {
	store := lode.NewMemory()
	j, err := journal.New(journal.Config{Workflow: "develop", Mode: "daily", SessionID: "s-1"}, sharedFactory(store))
	if err != nil {
		t.Fatalf("journal.New: %v", err)
	}

	t0 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	writes := []loop.Completed{
		run("2026-03-02", 1, types.StatusSuccess, 2.5, t0),
		run("2026-03-02", 2, types.StatusSuccess, 2, t0.Add(3*time.Hour)),
		run("2026-03-03", 1, types.StatusError, 0.1, t0.Add(24*time.Hour)),
	}
	for _, c := range writes {
		if err := j.WriteOutcome(t.Context(), c); err != nil {
			t.Fatalf("WriteOutcome: %v", err)
		}
	}
	if err := j.WriteMetrics(t.Context(), metrics.Snapshot{RunsStarted: 3}, t0.Add(25*time.Hour)); err != nil {
		t.Fatalf("WriteMetrics: %v", err)
	}

	ds, err := journal.NewReadDataset("", sharedFactory(store))
	if err != nil {
		t.Fatalf("NewReadDataset: %v", err)
	}
	h, err := New(ds, 0).History(t.Context(), journal.Filter{})
	if err != nil {
		t.Fatalf("History: %v", err)
	}

	if len(h.Days) != 2 {
		t.Fatalf("days = %d, want 2", len(h.Days))
	}
	first := h.Days[0].Summary
	want := QuotaSummary{
		DailyGoal: 4, TotalWorked: 4.5, RemainingHours: -0.5,
		ShouldContinue: false, WaitReason: string(schedule.WaitQuotaExceeded),
		Runs: 2, Succeeded: 2,
	}
	if first != want {
		t.Errorf("day 1 summary = %+v\nwant %+v", first, want)
	}
	second := h.Days[1].Summary
	if second.ShouldContinue || second.Failed != 1 {
		t.Errorf("day 2 summary = %+v", second)
	}
	if len(h.Rows()) != 3 || len(h.Summaries()) != 2 {
		t.Errorf("rows = %d, summaries = %d", len(h.Rows()), len(h.Summaries()))
	}
	if h.Metrics == nil || h.Metrics.RunsStarted != 3 {
		t.Errorf("Metrics = %+v", h.Metrics)
	}

	filtered, err := New(ds, 10).History(t.Context(), journal.Filter{Day: "2026-03-02"})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(filtered.Days) != 1 || filtered.Days[0].Summary.RemainingHours != 5.5 || !filtered.Days[0].Summary.ShouldContinue {
		t.Errorf("filtered = %+v", filtered.Days)
	}
}

func TestSummarize_GroupsBySession(t *testing.T) {
	entries := []journal.OutcomeEntry{
		{Day: "2026-03-02", SessionID: "a", Run: 1, Status: "success", PerDay: 8, Worked: 1},
		{Day: "2026-03-02", SessionID: "b", Run: 1, Status: "success", PerDay: 6, Worked: 2},
		{Day: "2026-03-02", SessionID: "a", Run: 2, Status: "no_more_tasks", PerDay: 8, Worked: 0.5},
	}
	h, err := Summarize(entries, 0)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if len(h.Days) != 2 {
		t.Fatalf("days = %d, want 2", len(h.Days))
	}
	if h.Days[0].SessionID != "a" || h.Days[0].Summary.Runs != 2 || h.Days[0].Summary.RemainingHours != 6.5 {
		t.Errorf("session a = %+v", h.Days[0])
	}
	if h.Days[1].Summary.DailyGoal != 6 {
		t.Errorf("session b goal = %v", h.Days[1].Summary.DailyGoal)
	}
}

func TestSummarize_Empty(t *testing.T) {
	h, err := Summarize(nil, 0)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if h.Days == nil || len(h.Days) != 0 {
		t.Errorf("Days = %#v, want empty non-nil", h.Days)
	}
}
