package reader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/wvrunner/journal"
	"github.com/justapithecus/wvrunner/schedule"
	"github.com/justapithecus/wvrunner/types"
)

// Reader loads history from a journal dataset.
type Reader struct {
	ds   lode.Dataset
	goal float64
}

// New creates a Reader. A positive goal overrides the per_day hours
// reported in the records, as --goal does for wvrunner run.
func New(ds lode.Dataset, goal float64) *Reader {
	return &Reader{ds: ds, goal: goal}
}

// History loads the runs matching f and summarizes each session day.
// The latest metrics snapshot is attached when one exists.
func (r *Reader) History(ctx context.Context, f journal.Filter) (*History, error) {
	entries, err := journal.QueryOutcomes(ctx, r.ds, f)
	if err != nil {
		return nil, err
	}
	h, err := Summarize(entries, r.goal)
	if err != nil {
		return nil, err
	}

	m, err := journal.QueryLatestMetrics(ctx, r.ds, f)
	switch {
	case err == nil:
		h.Metrics = &m.Snapshot
	case errors.Is(err, journal.ErrNoMetricsFound):
	default:
		return nil, err
	}
	return h, nil
}

// Summarize groups entries by day and session, preserving entry order, and
// evaluates the quota over each group.
func Summarize(entries []journal.OutcomeEntry, goal float64) (*History, error) {
	type key struct{ day, session string }
	index := make(map[key]int)
	records := make(map[key][]types.OutcomeRecord)
	h := &History{Days: []DayHistory{}}

	for _, e := range entries {
		k := key{e.Day, e.SessionID}
		i, ok := index[k]
		if !ok {
			i = len(h.Days)
			index[k] = i
			h.Days = append(h.Days, DayHistory{
				Day:       e.Day,
				SessionID: e.SessionID,
				Workflow:  e.Workflow,
				Mode:      e.Mode,
			})
		}

		rec, err := outcomeOf(e)
		if err != nil {
			return nil, fmt.Errorf("session %s day %s run %d: %w", e.SessionID, e.Day, e.Run, err)
		}
		records[k] = append(records[k], rec)

		h.Days[i].Runs = append(h.Days[i].Runs, RunRow{
			Day:        e.Day,
			Run:        e.Run,
			Status:     e.Status,
			Worked:     e.Worked,
			Estimated:  e.Estimated,
			PerDay:     e.PerDay,
			Remaining:  e.Remaining,
			Attempts:   e.Attempts,
			Workflow:   e.Workflow,
			SessionID:  e.SessionID,
			FinishedAt: e.FinishedAt,
			Message:    e.Message,
		})
	}

	quota := schedule.NewQuota(goal)
	for k, i := range index {
		h.Days[i].Summary = summarize(quota, records[k])
	}
	return h, nil
}

func summarize(q schedule.Quota, history []types.OutcomeRecord) QuotaSummary {
	d := q.Decide(history)
	s := QuotaSummary{
		DailyGoal:      q.DailyGoal(history),
		TotalWorked:    q.TotalWorked(history),
		RemainingHours: d.RemainingHours,
		ShouldContinue: d.ShouldContinue,
		WaitReason:     string(d.WaitReason),
		Runs:           len(history),
	}
	for _, r := range history {
		if r.IsError() {
			s.Failed++
		} else {
			s.Succeeded++
		}
	}
	return s
}

// outcomeOf restores the outcome record of an entry. Entries written
// without the full record fall back to the indexed fields.
func outcomeOf(e journal.OutcomeEntry) (types.OutcomeRecord, error) {
	if len(e.Outcome) > 0 && string(e.Outcome) != "null" {
		var rec types.OutcomeRecord
		if err := json.Unmarshal(e.Outcome, &rec); err != nil {
			return types.OutcomeRecord{}, fmt.Errorf("decode outcome: %w", err)
		}
		return rec, nil
	}
	return types.OutcomeRecord{
		Status:  types.Status(e.Status),
		Hours:   types.Hours{PerDay: e.PerDay, TaskEstimated: e.Estimated, TaskWorked: e.Worked},
		Message: e.Message,
	}, nil
}
