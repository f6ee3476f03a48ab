// Package approval collects commands the agent attempted but was not
// permitted to run, so that a human can review and approve them later.
//
// A Log is created per session and passed explicitly to whatever records
// into it. The owner reads and clears it with Drain.
package approval

import (
	"slices"
	"sync"
	"time"
)

// Request is one command that required approval.
type Request struct {
	// Command is the shell command or tool name that was denied.
	Command string `json:"command"`
	// Tool is the agent tool that attempted the call.
	Tool string `json:"tool"`
	// Workflow is the workflow kind that was running.
	Workflow string `json:"workflow,omitempty"`
	// Attempt is the 1-based attempt number within the logical run.
	Attempt int `json:"attempt,omitempty"`
	// At is when the denial was observed.
	At time.Time `json:"at"`
}

// Log accumulates approval requests.
// Thread-safe. All methods are nil-receiver safe.
type Log struct {
	mu       sync.Mutex
	requests []Request
	seen     map[string]struct{}
}

// NewLog creates an empty approval log.
func NewLog() *Log {
	return &Log{seen: make(map[string]struct{})}
}

// Record appends a request. Repeated commands are recorded once until the
// log is drained. Empty commands are ignored.
func (l *Log) Record(req Request) {
	if l == nil || req.Command == "" {
		return
	}
	if req.At.IsZero() {
		req.At = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.seen[req.Command]; dup {
		return
	}
	l.seen[req.Command] = struct{}{}
	l.requests = append(l.requests, req)
}

// Len returns the number of pending requests.
func (l *Log) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requests)
}

// Pending returns a copy of the pending requests without clearing them.
func (l *Log) Pending() []Request {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.requests)
}

// Drain returns the pending requests in record order and clears the log.
func (l *Log) Drain() []Request {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.requests
	l.requests = nil
	l.seen = make(map[string]struct{})
	return out
}

// Commands returns the Command of each request.
func Commands(reqs []Request) []string {
	out := make([]string, len(reqs))
	for i, r := range reqs {
		out[i] = r.Command
	}
	return out
}
