package journal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/justapithecus/wvrunner/approval"
	"github.com/justapithecus/wvrunner/loop"
	"github.com/justapithecus/wvrunner/metrics"
)

// Record kind discriminator values. record_kind is also the last partition key.
const (
	RecordKindOutcome = "outcome"
	RecordKindMetrics = "metrics"
)

// OutcomeEntry is the stored form of one finished logical run.
type OutcomeEntry struct {
	RecordKind string `json:"record_kind"`
	EntryID    string `json:"entry_id"`

	// Partition keys
	Workflow  string `json:"workflow"`
	Day       string `json:"day"`
	SessionID string `json:"session_id"`

	Mode       string   `json:"mode"`
	Run        int      `json:"run"`
	Status     string   `json:"status"`
	Message    string   `json:"message,omitempty"`
	PerDay     float64  `json:"per_day"`
	Estimated  float64  `json:"task_estimated"`
	Worked     float64  `json:"task_worked"`
	Remaining  float64  `json:"remaining_hours"`
	Continue   bool     `json:"should_continue"`
	WaitReason string   `json:"wait_reason"`
	Attempts   int      `json:"attempts"`
	Failure    string   `json:"failure,omitempty"`
	Approvals  []string `json:"approvals,omitempty"`
	StartedAt  string   `json:"started_at"`
	FinishedAt string   `json:"finished_at"`

	// Outcome is the full outcome record, opaque fields included.
	Outcome json.RawMessage `json:"outcome"`
}

// FinishedTime parses FinishedAt. The zero time is returned on error.
func (e OutcomeEntry) FinishedTime() time.Time {
	t, _ := time.Parse(time.RFC3339Nano, e.FinishedAt)
	return t
}

// MetricsEntry is the stored form of a metrics snapshot.
type MetricsEntry struct {
	RecordKind string `json:"record_kind"`
	EntryID    string `json:"entry_id"`

	Workflow  string `json:"workflow"`
	Day       string `json:"day"`
	SessionID string `json:"session_id"`

	RecordedAt string           `json:"recorded_at"`
	Snapshot   metrics.Snapshot `json:"snapshot"`
}

// toOutcomeMap converts a finished run to a map for storage.
// Lode HiveLayout requires records as map[string]any.
func toOutcomeMap(c loop.Completed, workflow, sessionID, mode string) (map[string]any, error) {
	rec := c.Report.Record
	outcome, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal outcome: %w", err)
	}

	m := map[string]any{
		"record_kind":     RecordKindOutcome,
		"entry_id":        uuid.NewString(),
		"workflow":        workflow,
		"day":             c.Day,
		"session_id":      sessionID,
		"mode":            mode,
		"run":             c.Index,
		"status":          string(rec.Status),
		"per_day":         rec.Hours.PerDay,
		"task_estimated":  rec.Hours.TaskEstimated,
		"task_worked":     rec.Hours.TaskWorked,
		"remaining_hours": c.Decision.RemainingHours,
		"should_continue": c.Decision.ShouldContinue,
		"wait_reason":     string(c.Decision.WaitReason),
		"attempts":        c.Report.Attempts,
		"started_at":      c.StartedAt.UTC().Format(time.RFC3339Nano),
		"finished_at":     c.FinishedAt.UTC().Format(time.RFC3339Nano),
		"outcome":         json.RawMessage(outcome),
	}
	if rec.Message != "" {
		m["message"] = rec.Message
	}
	if c.Report.LastFailure != "" && rec.IsError() {
		m["failure"] = string(c.Report.LastFailure)
	}
	if len(c.Approvals) > 0 {
		m["approvals"] = approval.Commands(c.Approvals)
	}
	return m, nil
}

// toMetricsMap converts a metrics snapshot to a map for storage.
func toMetricsMap(snap metrics.Snapshot, day string, at time.Time) map[string]any {
	return map[string]any{
		"record_kind": RecordKindMetrics,
		"entry_id":    uuid.NewString(),
		"workflow":    snap.Workflow,
		"day":         day,
		"session_id":  snap.SessionID,
		"recorded_at": at.UTC().Format(time.RFC3339Nano),
		"snapshot":    snap,
	}
}

// decodeEntry converts a stored map back into a typed entry.
func decodeEntry(item any, out any) error {
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
