package approval

import (
	"fmt"
	"slices"
	"sync"
	"testing"
)

func TestLog_RecordAndDrain(t *testing.T) {
	l := NewLog()
	l.Record(Request{Command: "git push --force", Tool: "Bash"})
	l.Record(Request{Command: "rm -rf build", Tool: "Bash"})
	l.Record(Request{Command: "git push --force", Tool: "Bash", Attempt: 2})
	l.Record(Request{Command: ""})

	if got := l.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}

	pending := l.Pending()
	if len(pending) != 2 || l.Len() != 2 {
		t.Fatal("Pending must not clear the log")
	}
	if pending[0].At.IsZero() {
		t.Error("At not stamped")
	}

	drained := l.Drain()
	if got := Commands(drained); !slices.Equal(got, []string{"git push --force", "rm -rf build"}) {
		t.Errorf("Drain() = %v", got)
	}
	if l.Len() != 0 {
		t.Errorf("Len() after drain = %d", l.Len())
	}

	// A drained command may be recorded again.
	l.Record(Request{Command: "git push --force"})
	if l.Len() != 1 {
		t.Errorf("Len() after re-record = %d, want 1", l.Len())
	}
}

func TestLog_NilSafe(t *testing.T) {
	var l *Log
	l.Record(Request{Command: "x"})
	if l.Len() != 0 || l.Drain() != nil || l.Pending() != nil {
		t.Error("nil log should be inert")
	}
}

func TestLog_ConcurrentRecord(t *testing.T) {
	l := NewLog()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Record(Request{Command: fmt.Sprintf("cmd-%d", i%10)})
		}()
	}
	wg.Wait()
	if got := l.Len(); got != 10 {
		t.Errorf("Len() = %d, want 10", got)
	}
}
