// Package types defines the core domain types shared by the wvrunner packages.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"time"
)

// Status is the outcome status reported for a run.
// Values other than the constants below are opaque and passed through untouched.
type Status string

// Statuses the scheduler and run loop inspect.
const (
	// StatusSuccess indicates the agent finished its task.
	StatusSuccess Status = "success"
	// StatusError indicates the run failed; it stops the daily loop.
	StatusError Status = "error"
	// StatusNoMoreTasks indicates the upstream task source had no work.
	StatusNoMoreTasks Status = "no_more_tasks"
	// StatusCIFailed indicates the agent finished but CI did not pass.
	StatusCIFailed Status = "ci_failed"
)

// Hours is the hour accounting sub-record of an outcome.
type Hours struct {
	// PerDay is the daily hour goal as reported by the agent's task source.
	PerDay float64 `json:"per_day"`
	// TaskEstimated is the agent's estimate for the task.
	TaskEstimated float64 `json:"task_estimated"`
	// TaskWorked is the wall-clock duration of the run in hours.
	// Always injected by the extractor, never taken from agent output.
	TaskWorked float64 `json:"task_worked"`
	// AlreadyWorked is optionally reported by the agent.
	AlreadyWorked *float64 `json:"already_worked,omitempty"`
}

// OutcomeRecord is the parsed structured result of one logical run.
// Records are treated as immutable once produced; use Clone before mutating.
type OutcomeRecord struct {
	Status  Status
	Hours   Hours
	Message string
	// Extra holds opaque fields from the agent's record, preserved verbatim.
	Extra map[string]json.RawMessage
}

// reserved keys are owned by OutcomeRecord fields and never kept in Extra.
var reserved = map[string]struct{}{
	"status":  {},
	"hours":   {},
	"message": {},
}

// NewErrorRecord builds the error record used for every terminal failure.
func NewErrorRecord(message string, elapsed time.Duration) OutcomeRecord {
	return OutcomeRecord{
		Status:  StatusError,
		Hours:   Hours{TaskWorked: DurationHours(elapsed)},
		Message: message,
	}
}

// IsError reports whether the record has status error.
func (r OutcomeRecord) IsError() bool {
	return r.Status == StatusError
}

// WithTaskWorked returns a copy of r with hours.task_worked set from elapsed.
func (r OutcomeRecord) WithTaskWorked(elapsed time.Duration) OutcomeRecord {
	out := r.Clone()
	out.Hours.TaskWorked = DurationHours(elapsed)
	return out
}

// Clone returns a deep copy of the record.
func (r OutcomeRecord) Clone() OutcomeRecord {
	out := r
	if r.Hours.AlreadyWorked != nil {
		v := *r.Hours.AlreadyWorked
		out.Hours.AlreadyWorked = &v
	}
	if r.Extra != nil {
		out.Extra = maps.Clone(r.Extra)
	}
	return out
}

// MarshalJSON flattens Extra alongside the typed fields.
func (r OutcomeRecord) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Extra)+3)
	for k, v := range r.Extra {
		m[k] = v
	}
	m["status"] = r.Status
	m["hours"] = r.Hours
	if r.Message != "" {
		m["message"] = r.Message
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes the typed fields and keeps every other key in Extra.
func (r *OutcomeRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("outcome record must be a JSON object")
	}

	var out OutcomeRecord
	if v, ok := raw["status"]; ok {
		if err := json.Unmarshal(v, &out.Status); err != nil {
			return fmt.Errorf("status: %w", err)
		}
	}
	if v, ok := raw["hours"]; ok && string(v) != "null" {
		if err := json.Unmarshal(v, &out.Hours); err != nil {
			return fmt.Errorf("hours: %w", err)
		}
	}
	if v, ok := raw["message"]; ok && string(v) != "null" {
		// A non-string message is kept as its JSON text.
		if err := json.Unmarshal(v, &out.Message); err != nil {
			out.Message = compactJSON(v)
		}
	}
	for k, v := range raw {
		if _, skip := reserved[k]; skip {
			continue
		}
		if out.Extra == nil {
			out.Extra = make(map[string]json.RawMessage)
		}
		out.Extra[k] = v
	}

	*r = out
	return nil
}

func compactJSON(v json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return string(v)
	}
	return buf.String()
}

// DurationHours converts a duration to hours. The value is exact; only
// derived figures such as remaining hours are rounded.
func DurationHours(d time.Duration) float64 {
	return d.Hours()
}

// RoundHours rounds an hour figure to 2 decimal places.
func RoundHours(v float64) float64 {
	return math.Round(v*100) / 100
}
