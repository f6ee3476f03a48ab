// Package metrics provides per-session counters for the supervisor and run loop.
//
// The Collector accumulates counters across every logical run of one CLI
// session. It is a leaf package with no internal dependencies.
package metrics

import (
	"math"
	"sync"
)

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Logical runs (one RetryController invocation each)
	RunsStarted   int64 `json:"runs_started"`
	RunsSucceeded int64 `json:"runs_succeeded"`
	RunsFailed    int64 `json:"runs_failed"`

	// Attempts (one agent process each)
	Attempts             int64 `json:"attempts"`
	Retries              int64 `json:"retries"`
	ContinuationAttempts int64 `json:"continuation_attempts"`
	LaunchFailures       int64 `json:"launch_failures"`
	NonZeroExits         int64 `json:"non_zero_exits"`

	// Supervisor
	SoftTimeouts     int64 `json:"soft_timeouts"`
	HardTimeouts     int64 `json:"hard_timeouts"`
	StreamClosures   int64 `json:"stream_closures"`
	EarlyCompletions int64 `json:"early_completions"`

	// Extraction
	MarkerMissing int64 `json:"marker_missing"`
	ParseFailures int64 `json:"parse_failures"`

	// Side channels
	JournalWriteSuccess int64 `json:"journal_write_success"`
	JournalWriteFailure int64 `json:"journal_write_failure"`
	NotifyFailures      int64 `json:"notify_failures"`

	// HoursWorked is the sum of task_worked over all runs.
	HoursWorked float64 `json:"hours_worked"`

	// Dimensions (informational, set at construction)
	Workflow       string `json:"workflow"`
	Mode           string `json:"mode"`
	StorageBackend string `json:"storage_backend"`
	SessionID      string `json:"session_id"`
}

// Collector accumulates metrics during a session.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	runsStarted   int64
	runsSucceeded int64
	runsFailed    int64

	attempts             int64
	retries              int64
	continuationAttempts int64
	launchFailures       int64
	nonZeroExits         int64

	softTimeouts     int64
	hardTimeouts     int64
	streamClosures   int64
	earlyCompletions int64

	markerMissing int64
	parseFailures int64

	journalWriteSuccess int64
	journalWriteFailure int64
	notifyFailures      int64

	hoursWorked float64

	workflow       string
	mode           string
	storageBackend string
	sessionID      string
}

// NewCollector creates a Collector with dimension labels.
// storageBackend is empty when no journal is configured.
func NewCollector(workflow, mode, storageBackend, sessionID string) *Collector {
	return &Collector{
		workflow:       workflow,
		mode:           mode,
		storageBackend: storageBackend,
		sessionID:      sessionID,
	}
}

func (c *Collector) inc(field *int64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

// --- Logical runs ---

// IncRunStarted records the start of a logical run.
func (c *Collector) IncRunStarted() {
	if c == nil {
		return
	}
	c.inc(&c.runsStarted)
}

// IncRunSucceeded records a logical run that produced a non-error record.
func (c *Collector) IncRunSucceeded() {
	if c == nil {
		return
	}
	c.inc(&c.runsSucceeded)
}

// IncRunFailed records a logical run that ended in an error record.
func (c *Collector) IncRunFailed() {
	if c == nil {
		return
	}
	c.inc(&c.runsFailed)
}

// AddHoursWorked adds a run's task_worked hours.
func (c *Collector) AddHoursWorked(h float64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.hoursWorked += h
	c.mu.Unlock()
}

// --- Attempts ---

// IncAttempt records an agent launch attempt.
func (c *Collector) IncAttempt() {
	if c == nil {
		return
	}
	c.inc(&c.attempts)
}

// IncRetry records a backoff retry after a recoverable failure.
func (c *Collector) IncRetry() {
	if c == nil {
		return
	}
	c.inc(&c.retries)
}

// IncContinuation records a continuation attempt after a missing marker.
func (c *Collector) IncContinuation() {
	if c == nil {
		return
	}
	c.inc(&c.continuationAttempts)
}

// IncLaunchFailure records a failure to start the agent process.
func (c *Collector) IncLaunchFailure() {
	if c == nil {
		return
	}
	c.inc(&c.launchFailures)
}

// IncNonZeroExit records an agent exit with a non-zero status.
func (c *Collector) IncNonZeroExit() {
	if c == nil {
		return
	}
	c.inc(&c.nonZeroExits)
}

// --- Supervisor ---

// IncSoftTimeout records a graceful termination sent by the soft timer.
func (c *Collector) IncSoftTimeout() {
	if c == nil {
		return
	}
	c.inc(&c.softTimeouts)
}

// IncHardTimeout records a hard ceiling expiry.
func (c *Collector) IncHardTimeout() {
	if c == nil {
		return
	}
	c.inc(&c.hardTimeouts)
}

// IncStreamClosed records an unexpected output stream closure.
func (c *Collector) IncStreamClosed() {
	if c == nil {
		return
	}
	c.inc(&c.streamClosures)
}

// IncEarlyCompletion records detection of the agent's result record.
func (c *Collector) IncEarlyCompletion() {
	if c == nil {
		return
	}
	c.inc(&c.earlyCompletions)
}

// --- Extraction ---

// IncMarkerMissing records output that never contained the marker.
func (c *Collector) IncMarkerMissing() {
	if c == nil {
		return
	}
	c.inc(&c.markerMissing)
}

// IncParseFailure records a marker followed by a malformed record.
func (c *Collector) IncParseFailure() {
	if c == nil {
		return
	}
	c.inc(&c.parseFailures)
}

// --- Side channels ---
// Journal counters are per-call, not per-record.

// IncJournalWriteSuccess records a successful journal write.
func (c *Collector) IncJournalWriteSuccess() {
	if c == nil {
		return
	}
	c.inc(&c.journalWriteSuccess)
}

// IncJournalWriteFailure records a failed journal write.
func (c *Collector) IncJournalWriteFailure() {
	if c == nil {
		return
	}
	c.inc(&c.journalWriteFailure)
}

// IncNotifyFailure records a failed notification publish.
func (c *Collector) IncNotifyFailure() {
	if c == nil {
		return
	}
	c.inc(&c.notifyFailures)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		RunsStarted:   c.runsStarted,
		RunsSucceeded: c.runsSucceeded,
		RunsFailed:    c.runsFailed,

		Attempts:             c.attempts,
		Retries:              c.retries,
		ContinuationAttempts: c.continuationAttempts,
		LaunchFailures:       c.launchFailures,
		NonZeroExits:         c.nonZeroExits,

		SoftTimeouts:     c.softTimeouts,
		HardTimeouts:     c.hardTimeouts,
		StreamClosures:   c.streamClosures,
		EarlyCompletions: c.earlyCompletions,

		MarkerMissing: c.markerMissing,
		ParseFailures: c.parseFailures,

		JournalWriteSuccess: c.journalWriteSuccess,
		JournalWriteFailure: c.journalWriteFailure,
		NotifyFailures:      c.notifyFailures,

		HoursWorked: math.Round(c.hoursWorked*100) / 100,

		Workflow:       c.workflow,
		Mode:           c.mode,
		StorageBackend: c.storageBackend,
		SessionID:      c.sessionID,
	}
}

// Fields returns the snapshot as a flat map for structured logging.
func (s Snapshot) Fields() map[string]any {
	return map[string]any{
		"runs_started":          s.RunsStarted,
		"runs_succeeded":        s.RunsSucceeded,
		"runs_failed":           s.RunsFailed,
		"attempts":              s.Attempts,
		"retries":               s.Retries,
		"continuation_attempts": s.ContinuationAttempts,
		"launch_failures":       s.LaunchFailures,
		"non_zero_exits":        s.NonZeroExits,
		"soft_timeouts":         s.SoftTimeouts,
		"hard_timeouts":         s.HardTimeouts,
		"stream_closures":       s.StreamClosures,
		"early_completions":     s.EarlyCompletions,
		"marker_missing":        s.MarkerMissing,
		"parse_failures":        s.ParseFailures,
		"journal_write_success": s.JournalWriteSuccess,
		"journal_write_failure": s.JournalWriteFailure,
		"notify_failures":       s.NotifyFailures,
		"hours_worked":          s.HoursWorked,
	}
}
