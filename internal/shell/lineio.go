package shell

import (
	"bufio"
	"errors"
	"io"
	"sync"

	"golang.org/x/term"
)

// MaxLineLength is the longest input line accepted from a remote party.
const MaxLineLength = 4096 * 4

// ErrLineTooLong is returned by ReadLine when a line exceeds MaxLineLength.
var ErrLineTooLong = errors.New("shell: input line too long")

// LineIO reads lines from and writes text to the remote party of a session.
//
// Print and Println never fail: once the underlying stream is closed or a write
// has failed they silently do nothing.
type LineIO interface {
	// ReadLine renders prompt and blocks until a full line arrives. The trailing
	// terminator is stripped. It returns io.EOF once the stream is exhausted.
	ReadLine(prompt string) (string, error)
	// Print writes text after returning the cursor to column zero.
	Print(text string)
	// Println is Print with a line break appended.
	Println(text string)
	// Close marks the adapter closed and releases the underlying stream.
	Close() error
}

// StreamIO is the LineIO used for sessions without a pseudo-terminal. The remote
// side does its own line editing and sends whole lines terminated by CR, LF or CRLF.
type StreamIO struct {
	r  *bufio.Reader
	w  io.Writer
	rw io.ReadWriter

	// skipLF is set after a CR so that the LF of a CRLF pair is dropped on the
	// next read instead of blocking for it now.
	skipLF bool

	mu     sync.Mutex
	closed bool
}

// NewStreamIO wraps rw, typically an ssh.Channel.
func NewStreamIO(rw io.ReadWriter) *StreamIO {
	return &StreamIO{
		r:  bufio.NewReader(rw),
		w:  rw,
		rw: rw,
	}
}

// ReadLine implements LineIO.
func (s *StreamIO) ReadLine(prompt string) (string, error) {
	if prompt != "" {
		s.write(prompt)
	}

	var line []byte
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			// A final unterminated line is still a line.
			if len(line) > 0 && errors.Is(err, io.EOF) {
				return string(line), nil
			}
			return "", err
		}

		if s.skipLF {
			s.skipLF = false
			if b == '\n' {
				continue
			}
		}

		switch b {
		case '\r':
			s.skipLF = true
			return string(line), nil
		case '\n':
			return string(line), nil
		}

		if len(line) >= MaxLineLength {
			return "", ErrLineTooLong
		}
		line = append(line, b)
	}
}

// Print implements LineIO.
func (s *StreamIO) Print(text string) {
	s.write("\r" + text)
}

// Println implements LineIO.
func (s *StreamIO) Println(text string) {
	s.Print(text + "\n\r")
}

func (s *StreamIO) write(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if _, err := io.WriteString(s.w, text); err != nil {
		s.closed = true
	}
}

// Close implements LineIO.
func (s *StreamIO) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if c, ok := s.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// TerminalIO is the LineIO used when the client requested a pseudo-terminal. It
// echoes input and provides basic line editing and history.
type TerminalIO struct {
	t  *term.Terminal
	rw io.ReadWriter

	mu     sync.Mutex
	closed bool
}

// NewTerminalIO wraps rw with a terminal of the given size. A zero size keeps the
// x/term default of 80x24.
func NewTerminalIO(rw io.ReadWriter, width, height int) *TerminalIO {
	t := term.NewTerminal(rw, "")
	if width > 0 && height > 0 {
		_ = t.SetSize(width, height)
	}
	return &TerminalIO{t: t, rw: rw}
}

// ReadLine implements LineIO.
func (ti *TerminalIO) ReadLine(prompt string) (string, error) {
	ti.t.SetPrompt(prompt)
	return ti.t.ReadLine()
}

// Print implements LineIO. The terminal translates LF into CRLF on output.
func (ti *TerminalIO) Print(text string) {
	ti.mu.Lock()
	defer ti.mu.Unlock()

	if ti.closed {
		return
	}
	if _, err := ti.t.Write([]byte("\r" + text)); err != nil {
		ti.closed = true
	}
}

// Println implements LineIO.
func (ti *TerminalIO) Println(text string) {
	ti.Print(text + "\n")
}

// Resize updates the terminal dimensions after a window-change request.
func (ti *TerminalIO) Resize(width, height int) error {
	return ti.t.SetSize(width, height)
}

// Close implements LineIO.
func (ti *TerminalIO) Close() error {
	ti.mu.Lock()
	defer ti.mu.Unlock()

	if ti.closed {
		return nil
	}
	ti.closed = true
	if c, ok := ti.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
