package runtime

import (
	"errors"
	"time"
)

// Default termination escalation timings.
const (
	DefaultGrace        = 5 * time.Second
	DefaultPollInterval = time.Second
)

// Stop terminates t with escalation: a graceful signal first, then liveness
// polls every poll interval for up to grace, then a forceful kill if the
// process is still alive. Stopping a process that already exited is not an
// error. killed reports whether the forceful kill was sent.
func Stop(t Terminator, grace, poll time.Duration) (killed bool, err error) {
	if !t.Alive() {
		return false, nil
	}
	if grace <= 0 {
		grace = DefaultGrace
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	termErr := t.Terminate()

	deadline := time.Now().Add(grace)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for t.Alive() && time.Now().Before(deadline) {
		<-ticker.C
	}

	if !t.Alive() {
		return false, nil
	}
	if err := t.Kill(); err != nil {
		return true, errors.Join(termErr, err)
	}
	return true, nil
}
