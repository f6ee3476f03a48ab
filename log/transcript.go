package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/justapithecus/wvrunner/iox"
	"github.com/justapithecus/wvrunner/ipc"
)

// summaryLen bounds the per-line summary written to debug logs.
const summaryLen = 160

// Transcript receives every line the agent writes on either stream.
// Lines are appended verbatim to an optional transcript file and summarized
// at debug level on the logger. Safe for concurrent use by both drains.
type Transcript struct {
	out    *iox.LockedWriter
	closer io.Closer
	logger *Logger
}

// NewTranscript creates a transcript writing to w. Either argument may be nil.
func NewTranscript(w io.Writer, logger *Logger) *Transcript {
	t := &Transcript{logger: logger}
	if w != nil {
		t.out = iox.NewLockedWriter(w)
	}
	return t
}

// OpenTranscript appends to the file at path, creating parent directories.
// An empty path yields a transcript that only logs.
func OpenTranscript(path string, logger *Logger) (*Transcript, error) {
	if path == "" {
		return NewTranscript(nil, logger), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	t := NewTranscript(f, logger)
	t.closer = f
	return t, nil
}

// Begin writes an attempt header.
func (t *Transcript) Begin(attempt int, continued bool) {
	if t == nil || t.out == nil {
		return
	}
	_, _ = fmt.Fprintf(t.out, "=== attempt %d (continue=%t) %s ===\n",
		attempt, continued, time.Now().Format(time.RFC3339))
}

// Line records one agent output line.
func (t *Transcript) Line(stream ipc.Stream, line string) {
	if t == nil {
		return
	}
	if t.out != nil {
		if stream == ipc.StreamStderr {
			_, _ = t.out.WriteString("[stderr] " + line + "\n")
		} else {
			_, _ = t.out.WriteString(line + "\n")
		}
	}
	if t.logger != nil && t.logger.Enabled(zapcore.DebugLevel) {
		t.logger.Debug("agent output", map[string]any{
			"stream":  string(stream),
			"summary": ipc.DecodeLine(line).Summary(summaryLen),
		})
	}
}

// Close closes the transcript file, if any.
func (t *Transcript) Close() error {
	if t == nil || t.closer == nil {
		return nil
	}
	return t.closer.Close()
}
