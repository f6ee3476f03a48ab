// Package ipc decodes the line-delimited stream-json output of the agent.
//
// The agent writes one JSON object per line on stdout. The supervisor only
// needs two things from this stream: the "result" record that the agent emits
// just before it exits (the early-completion marker), and the permission
// denials that record reports. Everything else is decoded on a best-effort
// basis for transcript summaries.
package ipc

import (
	"encoding/json"
	"strings"
)

// Event type discriminants emitted by the agent.
const (
	TypeSystem    = "system"
	TypeAssistant = "assistant"
	TypeUser      = "user"
	TypeResult    = "result"
	// TypeText marks a line that was not a JSON object.
	TypeText = "text"
)

// Content block types inside assistant and user messages.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// PermissionDenial is a tool invocation the agent was not allowed to run.
type PermissionDenial struct {
	ToolName  string         `json:"tool_name"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	ToolInput map[string]any `json:"tool_input,omitempty"`
}

// Command returns the shell command of a denied Bash call, or the tool name
// for any other tool.
func (d PermissionDenial) Command() string {
	if cmd, ok := d.ToolInput["command"].(string); ok && cmd != "" {
		return cmd
	}
	return d.ToolName
}

// ContentBlock is one block of an assistant or user message.
type ContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// Message is the message body of assistant and user events.
type Message struct {
	Role    string         `json:"role,omitempty"`
	Content []ContentBlock `json:"content,omitempty"`
}

// Event is one decoded stream-json line.
type Event struct {
	Type              string             `json:"type"`
	Subtype           string             `json:"subtype,omitempty"`
	SessionID         string             `json:"session_id,omitempty"`
	Result            string             `json:"result,omitempty"`
	IsError           bool               `json:"is_error,omitempty"`
	NumTurns          int                `json:"num_turns,omitempty"`
	DurationMS        int64              `json:"duration_ms,omitempty"`
	TotalCostUSD      float64            `json:"total_cost_usd,omitempty"`
	PermissionDenials []PermissionDenial `json:"permission_denials,omitempty"`
	Message           *Message           `json:"message,omitempty"`

	// Raw is the original line, without its trailing newline.
	Raw string `json:"-"`
}

// DecodeLine decodes a single output line. It never fails: lines that are
// not JSON objects, or that lack a type, decode as TypeText events.
func DecodeLine(line string) Event {
	line = strings.TrimRight(line, "\r\n")
	trimmed := strings.TrimSpace(line)

	text := Event{Type: TypeText, Raw: line}
	if !strings.HasPrefix(trimmed, "{") {
		return text
	}

	var ev Event
	if err := json.Unmarshal([]byte(trimmed), &ev); err != nil || ev.Type == "" {
		return text
	}
	ev.Raw = line
	return ev
}

// IsResult reports whether the event is the agent's final result record.
func (e Event) IsResult() bool {
	return e.Type == TypeResult
}

// ToolNames returns the names of tools used in an assistant message.
func (e Event) ToolNames() []string {
	if e.Message == nil {
		return nil
	}
	var names []string
	for _, b := range e.Message.Content {
		if b.Type == BlockToolUse && b.Name != "" {
			names = append(names, b.Name)
		}
	}
	return names
}

// Text returns the concatenated text blocks of a message event, the result
// text of a result event, or the raw line of a text event.
func (e Event) Text() string {
	switch e.Type {
	case TypeText:
		return e.Raw
	case TypeResult:
		return e.Result
	}
	if e.Message == nil {
		return ""
	}
	var parts []string
	for _, b := range e.Message.Content {
		if b.Type == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Summary returns a one-line human-readable description of the event,
// truncated to maxLen runes when maxLen > 0.
func (e Event) Summary(maxLen int) string {
	var s string
	switch e.Type {
	case TypeSystem:
		s = "system: " + e.Subtype
	case TypeResult:
		s = "result: " + e.Subtype
		if e.IsError {
			s += " (error)"
		}
	case TypeAssistant:
		if tools := e.ToolNames(); len(tools) > 0 {
			s = "tool: " + strings.Join(tools, ", ")
		} else {
			s = firstLine(e.Text())
		}
	case TypeUser:
		s = "tool result"
	default:
		s = firstLine(e.Text())
	}
	return truncate(s, maxLen)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// Stream identifies which output channel of the agent a line came from.
type Stream string

// Output channels.
const (
	// StreamStdout is the primary channel carrying stream-json records.
	StreamStdout Stream = "stdout"
	// StreamStderr is the diagnostic channel.
	StreamStderr Stream = "stderr"
)
