package shell

import (
	"fmt"

	"github.com/ayanrajpoot10/ssh-shell/internal/identity"
	"github.com/sirupsen/logrus"
)

// Session is what a Handler sees of the session it runs in. It is owned by the
// session's goroutine and must not be retained by handlers after they return.
type Session struct {
	id       *identity.Identity
	io       LineIO
	log      logrus.FieldLogger
	registry *Registry
	interp   *Interpreter
}

// Identity returns the authenticated identity of the remote party.
func (s *Session) Identity() *identity.Identity { return s.id }

// Registry returns the command table, for introspection such as help listings.
func (s *Session) Registry() *Registry { return s.registry }

// Log returns a logger already carrying the session's fields.
func (s *Session) Log() logrus.FieldLogger { return s.log }

// ReadLine prompts the remote party for one more line of input, such as a
// confirmation. It returns io.EOF when the input has ended.
func (s *Session) ReadLine(prompt string) (string, error) { return s.io.ReadLine(prompt) }

// Print writes text to the remote party.
func (s *Session) Print(text string) { s.io.Print(text) }

// Println writes a line to the remote party.
func (s *Session) Println(text string) { s.io.Println(text) }

// Printf formats and writes a line to the remote party.
func (s *Session) Printf(format string, args ...any) {
	s.io.Println(fmt.Sprintf(format, args...))
}

// Queue schedules lines to run before any further input is read, in order.
func (s *Session) Queue(lines ...string) { s.interp.Queue(lines...) }
