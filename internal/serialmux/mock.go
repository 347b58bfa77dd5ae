package serialmux

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
)

// TestableSerialPort is an in-memory port for tests. Lines pushed with Feed
// are returned by Read; everything written is captured line by line.
type TestableSerialPort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu         sync.Mutex
	written    bytes.Buffer
	writeCh    chan string
	WriteError error
	CloseError error
	closed     bool
}

// NewTestableSerialPort returns an open port with nothing to read.
func NewTestableSerialPort() *TestableSerialPort {
	r, w := io.Pipe()
	return &TestableSerialPort{r: r, w: w, writeCh: make(chan string, 1024)}
}

func (t *TestableSerialPort) Read(p []byte) (int, error) {
	return t.r.Read(p)
}

func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, errors.New("serial port closed")
	}
	if t.WriteError != nil {
		return 0, t.WriteError
	}
	t.written.Write(p)
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		select {
		case t.writeCh <- line:
		default:
		}
	}
	return len(p), nil
}

// Close unblocks pending reads with io.EOF.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		t.w.Close()
	}
	return t.CloseError
}

// Feed makes line readable. It blocks until the reader consumes it.
func (t *TestableSerialPort) Feed(line string) error {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	_, err := io.WriteString(t.w, line)
	return err
}

// Written returns everything written to the port.
func (t *TestableSerialPort) Written() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.written.String()
}

// Lines yields each written line as it arrives.
func (t *TestableSerialPort) Lines() <-chan string { return t.writeCh }

// Closed reports whether Close was called.
func (t *TestableSerialPort) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
