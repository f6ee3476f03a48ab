package runtime

import (
	"io"
	"sync"
)

// fakeProcess is a test Process driven by a script goroutine.
// Output is written through io.Pipe so drains block like on a real pipe.
type fakeProcess struct {
	mu sync.Mutex

	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	done     chan struct{}
	exitOnce sync.Once
	exitCode int

	closeOnce sync.Once
	stopped   chan struct{} // closed on first Terminate or Kill
	stopOnce  sync.Once

	startErr    error
	script      func(p *fakeProcess)
	onTerminate func(p *fakeProcess)

	started    bool
	terminated int
	killed     int
	cmd        Command
}

func newFakeProcess(script func(p *fakeProcess)) *fakeProcess {
	p := &fakeProcess{
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		script:  script,
	}
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	return p
}

// factory returns a ProcessFactory that always hands out p.
func (p *fakeProcess) factory() ProcessFactory {
	return func(cmd Command) Process {
		p.mu.Lock()
		p.cmd = cmd
		p.mu.Unlock()
		return p
	}
}

func (p *fakeProcess) Start() error {
	if p.startErr != nil {
		return p.startErr
	}
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	if p.script != nil {
		go p.script(p)
	}
	return nil
}

func (p *fakeProcess) Stdout() io.Reader { return p.stdoutR }
func (p *fakeProcess) Stderr() io.Reader { return p.stderrR }

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) ExitCode() int {
	<-p.done
	return p.exitCode
}

func (p *fakeProcess) Pid() int { return 4242 }

func (p *fakeProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *fakeProcess) Terminate() error {
	p.mu.Lock()
	p.terminated++
	handler := p.onTerminate
	p.mu.Unlock()
	p.stopOnce.Do(func() { close(p.stopped) })
	if handler != nil {
		go handler(p)
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killed++
	p.mu.Unlock()
	p.stopOnce.Do(func() { close(p.stopped) })
	p.closeWriters()
	p.exit(-1)
	return nil
}

func (p *fakeProcess) CloseOutput() {
	p.closeOnce.Do(func() {
		_ = p.stdoutR.Close()
		_ = p.stderrR.Close()
	})
}

// line writes one stdout line; write errors after close are ignored.
func (p *fakeProcess) line(s string) {
	_, _ = io.WriteString(p.stdoutW, s+"\n")
}

func (p *fakeProcess) errLine(s string) {
	_, _ = io.WriteString(p.stderrW, s+"\n")
}

func (p *fakeProcess) closeWriters() {
	_ = p.stdoutW.Close()
	_ = p.stderrW.Close()
}

func (p *fakeProcess) exit(code int) {
	p.exitOnce.Do(func() {
		p.exitCode = code
		close(p.done)
	})
}

// finish closes both streams and exits with code.
func (p *fakeProcess) finish(code int) {
	p.closeWriters()
	p.exit(code)
}

func (p *fakeProcess) counts() (terminated, killed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated, p.killed
}

// fakeTerminator records Stop escalation against a controllable liveness.
type fakeTerminator struct {
	mu         sync.Mutex
	alive      bool
	dieOnTerm  bool
	terminated int
	killed     int
}

func (f *fakeTerminator) Terminate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated++
	if f.dieOnTerm {
		f.alive = false
	}
	return nil
}

func (f *fakeTerminator) Kill() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed++
	f.alive = false
	return nil
}

func (f *fakeTerminator) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}
