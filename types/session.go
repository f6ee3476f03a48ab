package types

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// SessionMeta identifies one scheduling session (one CLI invocation).
// Every log entry, journal record and notification carries these fields.
type SessionMeta struct {
	// SessionID is a random UUID assigned at startup.
	SessionID string
	// Workflow is the workflow kind being run.
	Workflow string
	// Mode is the run loop mode.
	Mode string
	// StartedAt is the session start time.
	StartedAt time.Time
}

// NewSessionMeta creates session metadata with a fresh session ID.
func NewSessionMeta(workflow, mode string) *SessionMeta {
	return &SessionMeta{
		SessionID: uuid.NewString(),
		Workflow:  workflow,
		Mode:      mode,
		StartedAt: time.Now(),
	}
}

// Validate checks that identity fields are present.
func (s *SessionMeta) Validate() error {
	if s == nil {
		return errors.New("session metadata is required")
	}
	if s.SessionID == "" {
		return errors.New("session_id must be non-empty")
	}
	if s.Workflow == "" {
		return errors.New("workflow must be non-empty")
	}
	return nil
}
