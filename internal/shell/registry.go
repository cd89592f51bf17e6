package shell

import (
	"sort"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/ayanrajpoot10/ssh-shell/internal/logging"
)

// Handler runs a command for one session. arg is the remainder of the input line
// after the verb. Returning true ends the session.
type Handler interface {
	Execute(s *Session, arg string) (stop bool)
}

// HandlerFunc adapts an ordinary function to a Handler.
type HandlerFunc func(s *Session, arg string) bool

// Execute implements Handler.
func (f HandlerFunc) Execute(s *Session, arg string) bool {
	return f(s, arg)
}

type command struct {
	handler Handler
	help    string
}

// Registry maps verbs to handlers. It is filled in before the server starts and
// frozen once serving begins; after Freeze it is read concurrently by every session
// without locking, and any further registration panics.
type Registry struct {
	commands  map[string]*command
	emptyLine Handler
	fallback  Handler
	frozen    atomic.Bool
}

// NewRegistry returns an empty registry with the default empty-line and
// unknown-command behavior.
func NewRegistry() *Registry {
	return &Registry{
		commands:  make(map[string]*command),
		emptyLine: HandlerFunc(emptyLine),
		fallback:  HandlerFunc(notFound),
	}
}

// Handle registers the handler for verb. Verbs are case-sensitive.
// Panics if verb is empty or contains whitespace, if handler is nil, if verb is
// already registered, or if the registry is frozen.
func (r *Registry) Handle(verb string, handler Handler) {
	r.mustBeOpen()
	if verb == "" || strings.IndexFunc(verb, unicode.IsSpace) >= 0 {
		panic("shell: invalid verb " + `"` + verb + `"`)
	}
	if handler == nil {
		panic("shell: nil handler for " + verb)
	}
	if _, exists := r.commands[verb]; exists {
		panic("shell: multiple registrations for " + verb)
	}
	r.commands[verb] = &command{handler: handler}
}

// HandleFunc registers the handler function for verb.
func (r *Registry) HandleFunc(verb string, handler func(*Session, string) bool) {
	if handler == nil {
		panic("shell: nil handler for " + verb)
	}
	r.Handle(verb, HandlerFunc(handler))
}

// Describe sets the one-line help text shown by the help command.
func (r *Registry) Describe(verb, help string) {
	r.mustBeOpen()
	cmd, ok := r.commands[verb]
	if !ok {
		panic("shell: describe of unregistered verb " + verb)
	}
	cmd.help = help
}

// HandleEmpty replaces the handler run for empty input lines.
func (r *Registry) HandleEmpty(handler Handler) {
	r.mustBeOpen()
	if handler == nil {
		panic("shell: nil empty-line handler")
	}
	r.emptyLine = handler
}

// HandleDefault replaces the handler run for unknown verbs. It receives the whole
// line as its argument.
func (r *Registry) HandleDefault(handler Handler) {
	r.mustBeOpen()
	if handler == nil {
		panic("shell: nil default handler")
	}
	r.fallback = handler
}

// Lookup returns the handler registered for verb.
func (r *Registry) Lookup(verb string) (Handler, bool) {
	cmd, ok := r.commands[verb]
	if !ok {
		return nil, false
	}
	return cmd.handler, true
}

// Help returns the help text registered for verb.
func (r *Registry) Help(verb string) (string, bool) {
	cmd, ok := r.commands[verb]
	if !ok {
		return "", false
	}
	return cmd.help, true
}

// Verbs returns the registered verbs in sorted order.
func (r *Registry) Verbs() []string {
	verbs := make([]string, 0, len(r.commands))
	for v := range r.commands {
		verbs = append(verbs, v)
	}
	sort.Strings(verbs)
	return verbs
}

// Freeze forbids further registration. It is safe to call more than once.
func (r *Registry) Freeze() {
	r.frozen.Store(true)
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

func (r *Registry) mustBeOpen() {
	if r.frozen.Load() {
		panic("shell: registration after freeze")
	}
}

func emptyLine(s *Session, _ string) bool {
	s.Print("\r\n")
	return false
}

func notFound(s *Session, line string) bool {
	s.Log().WithField("event", logging.EventCommandNotFound).
		WithField("line", logging.Sanitize(line)).
		Info("unrecognized command")
	s.Println(`Command "` + line + `" not found`)
	return false
}
