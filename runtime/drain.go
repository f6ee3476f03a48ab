package runtime

import (
	"bufio"
	"errors"
	"io"
	"strings"

	"github.com/justapithecus/wvrunner/ipc"
)

// LineSink receives every line the agent writes, from both streams.
// Implementations must be safe for concurrent use.
type LineSink interface {
	Line(stream ipc.Stream, line string)
}

// LineSinkFunc adapts a function to LineSink.
type LineSinkFunc func(stream ipc.Stream, line string)

// Line calls f.
func (f LineSinkFunc) Line(stream ipc.Stream, line string) { f(stream, line) }

// drainBufferSize is the initial read buffer. Lines longer than this are
// still read whole; stream-json result records routinely exceed 64 KiB.
const drainBufferSize = 256 * 1024

// drain reads r line by line until EOF, calling onLine with each line
// stripped of its line terminator. A final unterminated line is delivered
// too. io.EOF is not an error; any other read error is returned as is.
func drain(r io.Reader, onLine func(line string)) error {
	br := bufio.NewReaderSize(r, drainBufferSize)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			onLine(strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
