// Package extract locates the structured outcome record that the agent
// embeds at the end of its free-form output.
//
// The record follows the literal marker (types.Marker) as a JSON object.
// Agent output is noisy: the object is usually wrapped in narrative text and,
// when it travels inside a stream-json line, every quote carries an extra
// layer of backslash escaping. The brace scan below is escape-aware so that
// quoted phrases inside string values never end the object early.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/justapithecus/wvrunner/types"
)

// Sentinel errors for extraction failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrMarkerNotFound indicates the output never contained the marker.
	// Callers treat this as "agent did not finish", not as malformed output.
	ErrMarkerNotFound = errors.New("marker not found")

	// ErrNoObjectStart indicates no '{' follows the marker.
	ErrNoObjectStart = errors.New("no object start")

	// ErrUnterminatedObject indicates the text ended before the object closed.
	ErrUnterminatedObject = errors.New("unterminated object")

	// ErrParse indicates the sliced object is not a valid outcome record.
	ErrParse = errors.New("parse error")
)

// Failure wraps an extraction failure with its classification.
type Failure struct {
	// Reason is one of the sentinel errors above.
	Reason error
	// Err is the underlying parser error, if any.
	Err error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%v: %v", f.Reason, f.Err)
	}
	return f.Reason.Error()
}

// Unwrap exposes both the reason and the parser error to errors.Is/As.
func (f *Failure) Unwrap() []error {
	if f.Err != nil {
		return []error{f.Reason, f.Err}
	}
	return []error{f.Reason}
}

func fail(reason, err error) *Failure {
	return &Failure{Reason: reason, Err: err}
}

// Extract parses the outcome record from raw agent output and stamps
// hours.task_worked with elapsed.
//
// When the marker occurs more than once the last occurrence that yields a
// valid record wins. If none does, the failure of the last occurrence is
// returned. ErrMarkerNotFound is returned only when the marker is absent.
func Extract(raw string, elapsed time.Duration) (types.OutcomeRecord, error) {
	var lastErr error
	end := len(raw)
	for {
		idx := strings.LastIndex(raw[:end], types.Marker)
		if idx < 0 {
			break
		}
		rec, err := extractAt(raw, idx+len(types.Marker))
		if err == nil {
			return rec.WithTaskWorked(elapsed), nil
		}
		if lastErr == nil {
			lastErr = err
		}
		end = idx
	}
	if lastErr != nil {
		return types.OutcomeRecord{}, lastErr
	}
	return types.OutcomeRecord{}, fail(ErrMarkerNotFound, nil)
}

// extractAt parses the object that follows the marker ending at offset from.
func extractAt(raw string, from int) (types.OutcomeRecord, error) {
	rel := strings.IndexByte(raw[from:], '{')
	if rel < 0 {
		return types.OutcomeRecord{}, fail(ErrNoObjectStart, nil)
	}
	start := from + rel

	end, ok := ScanObject(raw, start)
	if !ok {
		return types.OutcomeRecord{}, fail(ErrUnterminatedObject, nil)
	}

	rec, err := parse(raw[start:end])
	if err != nil {
		return types.OutcomeRecord{}, fail(ErrParse, err)
	}
	return rec, nil
}

// ScanObject returns the offset one past the '}' that closes the object
// opening at raw[start]. A '"' preceded by an odd run of backslashes is an
// escaped quote and never toggles string context; braces inside strings are
// not counted. ok is false when the text ends with nonzero depth.
func ScanObject(raw string, start int) (end int, ok bool) {
	depth := 0
	inString := false
	backslashes := 0

	for i := start; i < len(raw); i++ {
		c := raw[i]
		if c == '\\' {
			backslashes++
			continue
		}
		escaped := backslashes%2 == 1
		backslashes = 0

		switch {
		case c == '"':
			if !escaped {
				inString = !inString
			}
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

// parse decodes span as an outcome record. If the span is not valid JSON as
// is, two repairs are tried in order: collapsing double-escaped quotes only
// (\\" to \"), which leaves correct escapes like \n intact, then removing one
// full layer of escaping for an object that is escaped throughout.
func parse(span string) (types.OutcomeRecord, error) {
	rec, err := decode(span)
	if err == nil {
		return rec, nil
	}

	for _, repair := range []func(string) string{UnescapeQuotes, Unescape} {
		fixed := repair(span)
		if fixed == span {
			continue
		}
		if rec, rerr := decode(fixed); rerr == nil {
			return rec, nil
		}
	}
	// The raw error describes what the agent actually wrote.
	return types.OutcomeRecord{}, err
}

func decode(s string) (types.OutcomeRecord, error) {
	var rec types.OutcomeRecord
	if err := json.Unmarshal([]byte(s), &rec); err != nil {
		return types.OutcomeRecord{}, err
	}
	if rec.Status == "" {
		return types.OutcomeRecord{}, errors.New("status is required")
	}
	return rec, nil
}

// UnescapeQuotes rewrites every \\" as \". It repairs records whose
// embedded quotes were escaped twice while the rest is escaped once.
func UnescapeQuotes(s string) string {
	return strings.ReplaceAll(s, `\\"`, `\"`)
}

// Unescape removes exactly one layer of backslash escaping:
// \\ becomes \, \" becomes ", \/ becomes /, and \n, \r, \t become the
// control characters they name. Any other escape is left untouched.
func Unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		switch next := s[i+1]; next {
		case '\\', '"', '/':
			b.WriteByte(next)
			i++
		case 'n':
			b.WriteByte('\n')
			i++
		case 'r':
			b.WriteByte('\r')
			i++
		case 't':
			b.WriteByte('\t')
			i++
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
