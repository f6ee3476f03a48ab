package schedule

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/justapithecus/wvrunner/types"
)

func records(t *testing.T, raw string) []types.OutcomeRecord {
	t.Helper()
	var out []types.OutcomeRecord
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	return out
}

func rec(status types.Status, perDay, worked float64) types.OutcomeRecord {
	return types.OutcomeRecord{Status: status, Hours: types.Hours{PerDay: perDay, TaskWorked: worked}}
}

func TestQuota_ScenarioA(t *testing.T) {
	h := records(t, `[{"hours":{"per_day":8,"task_worked":0.5},"status":"success"}]`)
	q := Quota{}

	if got := q.RemainingHours(h); got != 7.5 {
		t.Errorf("RemainingHours = %v, want 7.5", got)
	}
	if !q.ShouldContinue(h) {
		t.Error("ShouldContinue = false, want true")
	}
	if got := q.WaitReason(h); got != WaitNone {
		t.Errorf("WaitReason = %q, want none", got)
	}
}

func TestQuota_ScenarioB(t *testing.T) {
	h := records(t, `[
		{"hours":{"per_day":8,"task_worked":5.5},"status":"success"},
		{"hours":{"per_day":8,"task_worked":3.0},"status":"success"}
	]`)
	q := Quota{}

	d := q.Decide(h)
	want := Decision{ShouldContinue: false, RemainingHours: -0.5, WaitReason: WaitQuotaExceeded}
	if d != want {
		t.Errorf("Decide = %+v, want %+v", d, want)
	}
}

func TestQuota_EmptyHistory(t *testing.T) {
	q := Quota{}
	if q.DailyGoal(nil) != 0 || q.TotalWorked(nil) != 0 {
		t.Error("empty history must have zero goal and zero worked")
	}
	if !q.ShouldContinue(nil) {
		t.Error("empty history must permit starting work")
	}
	if got := q.WaitReason(nil); got != WaitZeroQuota {
		t.Errorf("WaitReason = %q, want zero_quota", got)
	}
}

func TestQuota_GoalFromFirstRecord(t *testing.T) {
	h := []types.OutcomeRecord{
		rec(types.StatusSuccess, 4, 1),
		rec(types.StatusSuccess, 10, 1),
	}
	if got := (Quota{}).DailyGoal(h); got != 4 {
		t.Errorf("DailyGoal = %v, want 4 (first record)", got)
	}
	if got := (Quota{}).RemainingHours(h); got != 2 {
		t.Errorf("RemainingHours = %v, want 2", got)
	}
}

func TestQuota_ExternalGoal(t *testing.T) {
	h := []types.OutcomeRecord{rec(types.StatusSuccess, 8, 1)}
	q := NewQuota(2)

	if got := q.DailyGoal(h); got != 2 {
		t.Errorf("DailyGoal = %v, want 2", got)
	}
	if q.DailyGoal(nil) != 2 {
		t.Error("external goal applies to an empty history")
	}
	if NewQuota(0).Goal != nil {
		t.Error("non-positive goal must defer to the agent's figure")
	}

	h = append(h, rec(types.StatusSuccess, 8, 1))
	if q.ShouldContinue(h) {
		t.Error("ShouldContinue = true after reaching the external goal")
	}
}

func TestQuota_ZeroQuota(t *testing.T) {
	h := []types.OutcomeRecord{rec(types.StatusNoMoreTasks, 0, 0.1)}
	q := Quota{}
	if q.ShouldContinue(h) {
		t.Error("zero goal must stop")
	}
	if got := q.WaitReason(h); got != WaitZeroQuota {
		t.Errorf("WaitReason = %q, want zero_quota", got)
	}
}

func TestQuota_ErrorRecordStops(t *testing.T) {
	tests := [][]types.OutcomeRecord{
		{rec(types.StatusError, 0, 0)},
		{rec(types.StatusSuccess, 8, 0.5), rec(types.StatusError, 8, 0.1)},
		{rec(types.StatusError, 8, 0), rec(types.StatusSuccess, 8, 0.5)},
	}
	for i, h := range tests {
		q := Quota{}
		if q.RemainingHours(h) <= 0 && i > 0 {
			t.Fatalf("fixture %d should have hours left", i)
		}
		if q.ShouldContinue(h) {
			t.Errorf("history %d: ShouldContinue = true with an error record", i)
		}
	}
}

func TestQuota_Rounding(t *testing.T) {
	h := []types.OutcomeRecord{
		rec(types.StatusSuccess, 1, 0.1),
		rec(types.StatusSuccess, 1, 0.2),
	}
	if got := (Quota{}).RemainingHours(h); got != 0.7 {
		t.Errorf("RemainingHours = %v, want 0.7", got)
	}
}

func TestQuota_ShortRunsAccumulate(t *testing.T) {
	var h []types.OutcomeRecord
	for range 360 {
		h = append(h, types.OutcomeRecord{Status: types.StatusSuccess, Hours: types.Hours{PerDay: 1}}.WithTaskWorked(10*time.Second))
	}
	q := Quota{}
	if got := q.TotalWorked(h); got != 1 {
		t.Errorf("TotalWorked = %v, want 1", got)
	}
	if q.ShouldContinue(h) {
		t.Error("360 ten-second runs exhaust a one-hour goal")
	}
}

func TestQuota_IdempotentAndMonotonic(t *testing.T) {
	q := Quota{}
	worked := []float64{0.25, 1.1, 0, 2.33, 0.01, 3.7}
	var h []types.OutcomeRecord
	prev := q.RemainingHours(append(h, rec(types.StatusSuccess, 8, 0)))

	for _, w := range worked {
		h = append(h, rec(types.StatusSuccess, 8, w))
		first := q.RemainingHours(h)
		if again := q.RemainingHours(h); again != first {
			t.Fatalf("RemainingHours not idempotent: %v then %v", first, again)
		}
		if first > prev {
			t.Fatalf("RemainingHours increased from %v to %v", prev, first)
		}
		prev = first
	}
}

func TestQuota_DoesNotMutateHistory(t *testing.T) {
	h := []types.OutcomeRecord{rec(types.StatusSuccess, 8, 1)}
	before := h[0]
	(Quota{}).Decide(h)
	if h[0].Hours != before.Hours || h[0].Status != before.Status {
		t.Error("Decide mutated the history")
	}
}
