// Package reader provides the read side of the CLI.
//
// It loads journaled outcomes and summarizes each session day with the same
// quota rules the run loop applies, so history output matches what the
// scheduler decided at the time.
package reader

import "github.com/justapithecus/wvrunner/metrics"

// RunRow is one journaled logical run.
type RunRow struct {
	Day        string  `json:"day" yaml:"day"`
	Run        int     `json:"run" yaml:"run"`
	Status     string  `json:"status" yaml:"status"`
	Worked     float64 `json:"task_worked" yaml:"task_worked"`
	Estimated  float64 `json:"task_estimated" yaml:"task_estimated"`
	PerDay     float64 `json:"per_day" yaml:"per_day"`
	Remaining  float64 `json:"remaining_hours" yaml:"remaining_hours"`
	Attempts   int     `json:"attempts" yaml:"attempts"`
	Workflow   string  `json:"workflow" yaml:"workflow"`
	SessionID  string  `json:"session_id" yaml:"session_id"`
	FinishedAt string  `json:"finished_at" yaml:"finished_at"`
	Message    string  `json:"message" yaml:"message"`
}

// QuotaSummary is the quota verdict over one session day.
type QuotaSummary struct {
	DailyGoal      float64 `json:"daily_goal" yaml:"daily_goal"`
	TotalWorked    float64 `json:"total_worked" yaml:"total_worked"`
	RemainingHours float64 `json:"remaining_hours" yaml:"remaining_hours"`
	ShouldContinue bool    `json:"should_continue" yaml:"should_continue"`
	WaitReason     string  `json:"wait_reason" yaml:"wait_reason"`
	Runs           int     `json:"runs" yaml:"runs"`
	Succeeded      int     `json:"succeeded" yaml:"succeeded"`
	Failed         int     `json:"failed" yaml:"failed"`
}

// DayHistory groups the runs of one session on one day.
type DayHistory struct {
	Day       string       `json:"day" yaml:"day"`
	SessionID string       `json:"session_id" yaml:"session_id"`
	Workflow  string       `json:"workflow" yaml:"workflow"`
	Mode      string       `json:"mode" yaml:"mode"`
	Summary   QuotaSummary `json:"summary" yaml:"summary"`
	Runs      []RunRow     `json:"runs" yaml:"runs"`
}

// History is the payload of wvrunner history.
type History struct {
	Days []DayHistory `json:"days" yaml:"days"`
	// Metrics is the latest journaled metrics snapshot, if any.
	Metrics *metrics.Snapshot `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// Rows flattens the history into run rows, oldest day first.
func (h *History) Rows() []RunRow {
	var rows []RunRow
	for _, d := range h.Days {
		rows = append(rows, d.Runs...)
	}
	return rows
}

// Summaries returns one summary row per session day.
func (h *History) Summaries() []SummaryRow {
	rows := make([]SummaryRow, 0, len(h.Days))
	for _, d := range h.Days {
		rows = append(rows, SummaryRow{
			Day:            d.Day,
			Workflow:       d.Workflow,
			SessionID:      d.SessionID,
			Runs:           d.Summary.Runs,
			DailyGoal:      d.Summary.DailyGoal,
			TotalWorked:    d.Summary.TotalWorked,
			RemainingHours: d.Summary.RemainingHours,
			WaitReason:     d.Summary.WaitReason,
		})
	}
	return rows
}

// SummaryRow is the table form of a day summary.
type SummaryRow struct {
	Day            string  `json:"day" yaml:"day"`
	Workflow       string  `json:"workflow" yaml:"workflow"`
	SessionID      string  `json:"session_id" yaml:"session_id"`
	Runs           int     `json:"runs" yaml:"runs"`
	DailyGoal      float64 `json:"daily_goal" yaml:"daily_goal"`
	TotalWorked    float64 `json:"total_worked" yaml:"total_worked"`
	RemainingHours float64 `json:"remaining_hours" yaml:"remaining_hours"`
	WaitReason     string  `json:"wait_reason" yaml:"wait_reason"`
}
