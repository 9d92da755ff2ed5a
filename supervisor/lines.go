package supervisor

import (
	"bufio"
	"bytes"
	"io"
)

// maxLineLength bounds one output line. darknet lines are short; anything
// longer is a runaway progress bar.
const maxLineLength = 1 << 20

// splitLines is a bufio.SplitFunc that ends lines at "\n", "\r\n" or a
// bare "\r". darknet redraws progress with carriage returns.
func splitLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if !atEOF {
			// Need one more byte to tell "\r" from "\r\n".
			return 0, nil, nil
		}
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// lineReader reads lines on its own goroutine so the supervisor loop can
// react to cancellation while a read is blocked.
type lineReader struct {
	lines chan string
	stop  chan struct{}
	err   error // valid once lines is closed
}

func startLineReader(r io.Reader) *lineReader {
	lr := &lineReader{
		lines: make(chan string, 64),
		stop:  make(chan struct{}),
	}
	go lr.run(r)
	return lr
}

func (lr *lineReader) run(r io.Reader) {
	defer close(lr.lines)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	sc.Split(splitLines)
	for sc.Scan() {
		select {
		case lr.lines <- sc.Text():
		case <-lr.stop:
			return
		}
	}
	lr.err = sc.Err()
}

// Close releases the goroutine if it is blocked delivering a line.
// It does not interrupt a blocked read; closing the process output does.
func (lr *lineReader) Close() {
	select {
	case <-lr.stop:
	default:
		close(lr.stop)
	}
}
