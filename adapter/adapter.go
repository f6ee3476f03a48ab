// Package adapter publishes run-completed notifications to downstream systems.
//
// Adapters are optional side channels. A failed publish is logged and
// counted; it never affects scheduling.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// EventType is the event_type of every notification.
const EventType = "run_completed"

// RunCompletedEvent is the payload published after each logical run.
type RunCompletedEvent struct {
	EventType      string   `json:"event_type" msgpack:"event_type"`
	SessionID      string   `json:"session_id" msgpack:"session_id"`
	Workflow       string   `json:"workflow" msgpack:"workflow"`
	Mode           string   `json:"mode" msgpack:"mode"`
	Day            string   `json:"day" msgpack:"day"`
	Run            int      `json:"run" msgpack:"run"`
	Status         string   `json:"status" msgpack:"status"`
	Message        string   `json:"message,omitempty" msgpack:"message,omitempty"`
	HoursWorked    float64  `json:"hours_worked" msgpack:"hours_worked"`
	PerDay         float64  `json:"per_day" msgpack:"per_day"`
	RemainingHours float64  `json:"remaining_hours" msgpack:"remaining_hours"`
	ShouldContinue bool     `json:"should_continue" msgpack:"should_continue"`
	WaitReason     string   `json:"wait_reason" msgpack:"wait_reason"`
	Attempts       int      `json:"attempts" msgpack:"attempts"`
	Approvals      []string `json:"approvals,omitempty" msgpack:"approvals,omitempty"`
	Timestamp      string   `json:"timestamp" msgpack:"timestamp"` // RFC 3339
	DurationMs     int64    `json:"duration_ms" msgpack:"duration_ms"`
}

// Adapter publishes run completion events to a downstream system.
type Adapter interface {
	// Publish sends one event. Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *RunCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

// Encoding is the wire format of a published event.
type Encoding string

// Supported encodings.
const (
	EncodingJSON    Encoding = "json"
	EncodingMsgpack Encoding = "msgpack"
)

// ParseEncoding validates an encoding name. Empty means JSON.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(strings.ToLower(strings.TrimSpace(s))) {
	case "", EncodingJSON:
		return EncodingJSON, nil
	case EncodingMsgpack:
		return EncodingMsgpack, nil
	default:
		return "", fmt.Errorf("unknown encoding %q (valid: json, msgpack)", s)
	}
}

// ContentType returns the MIME type for the encoding.
func (e Encoding) ContentType() string {
	if e == EncodingMsgpack {
		return "application/msgpack"
	}
	return "application/json"
}

// Encode serializes the event in the given encoding.
func Encode(event *RunCompletedEvent, enc Encoding) ([]byte, error) {
	switch enc {
	case EncodingMsgpack:
		return msgpack.Marshal(event)
	case "", EncodingJSON:
		return json.Marshal(event)
	default:
		return nil, fmt.Errorf("unknown encoding %q", enc)
	}
}

// Decode parses an event encoded by Encode.
func Decode(data []byte, enc Encoding) (*RunCompletedEvent, error) {
	var ev RunCompletedEvent
	var err error
	switch enc {
	case EncodingMsgpack:
		err = msgpack.Unmarshal(data, &ev)
	case "", EncodingJSON:
		err = json.Unmarshal(data, &ev)
	default:
		err = fmt.Errorf("unknown encoding %q", enc)
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}
