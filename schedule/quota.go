// Package schedule decides whether another run should start and how long to
// wait when it should not.
//
// Quota functions are pure: they read a run history and hold no state
// between calls. The history is owned by the caller.
package schedule

import (
	"github.com/justapithecus/wvrunner/types"
)

// WaitReason explains why the quota does not allow more work.
type WaitReason string

// Wait reasons.
const (
	WaitNone          WaitReason = "none"
	WaitZeroQuota     WaitReason = "zero_quota"
	WaitQuotaExceeded WaitReason = "quota_exceeded"
)

// Decision is the scheduling verdict for a history. It is derived on demand
// and never stored.
type Decision struct {
	ShouldContinue bool       `json:"should_continue"`
	RemainingHours float64    `json:"remaining_hours"`
	WaitReason     WaitReason `json:"wait_reason"`
}

// Quota evaluates a run history against a daily hour goal.
type Quota struct {
	// Goal overrides the per-day goal reported by the agent. If nil, the goal
	// is the per_day figure of the first record in the history.
	Goal *float64
}

// NewQuota returns a Quota with an external goal. A non-positive goal means
// "use the goal the agent reports".
func NewQuota(goal float64) Quota {
	if goal <= 0 {
		return Quota{}
	}
	return Quota{Goal: &goal}
}

// DailyGoal returns the hour goal for the session. Without an external goal
// it is the first record's per_day value, so a later change in the reported
// figure does not move the target mid-session. 0 for an empty history.
func (q Quota) DailyGoal(history []types.OutcomeRecord) float64 {
	if q.Goal != nil {
		return *q.Goal
	}
	if len(history) == 0 {
		return 0
	}
	return history[0].Hours.PerDay
}

// TotalWorked sums hours.task_worked across the history.
func (q Quota) TotalWorked(history []types.OutcomeRecord) float64 {
	var total float64
	for _, r := range history {
		total += r.Hours.TaskWorked
	}
	return types.RoundHours(total)
}

// RemainingHours is DailyGoal minus TotalWorked, rounded to 2 decimal places.
// It may be negative.
func (q Quota) RemainingHours(history []types.OutcomeRecord) float64 {
	return types.RoundHours(q.DailyGoal(history) - q.TotalWorked(history))
}

// ShouldContinue reports whether another run may start. Any error record
// stops the day. An exhausted goal stops it once a goal is known, either
// from configuration or from a first record. An empty history without a
// configured goal always permits starting.
func (q Quota) ShouldContinue(history []types.OutcomeRecord) bool {
	for _, r := range history {
		if r.IsError() {
			return false
		}
	}
	if q.hasGoal(history) && q.RemainingHours(history) <= 0 {
		return false
	}
	return true
}

// WaitReason classifies the quota state.
func (q Quota) WaitReason(history []types.OutcomeRecord) WaitReason {
	goal := q.DailyGoal(history)
	switch {
	case goal <= 0:
		return WaitZeroQuota
	case q.RemainingHours(history) <= 0:
		return WaitQuotaExceeded
	default:
		return WaitNone
	}
}

// Decide evaluates the history once.
func (q Quota) Decide(history []types.OutcomeRecord) Decision {
	return Decision{
		ShouldContinue: q.ShouldContinue(history),
		RemainingHours: q.RemainingHours(history),
		WaitReason:     q.WaitReason(history),
	}
}

func (q Quota) hasGoal(history []types.OutcomeRecord) bool {
	return q.Goal != nil || len(history) > 0
}
