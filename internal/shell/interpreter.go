package shell

import (
	"context"
	"errors"
	"io"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/ayanrajpoot10/ssh-shell/internal/identity"
	"github.com/ayanrajpoot10/ssh-shell/internal/logging"
	"github.com/sirupsen/logrus"
)

// EOFLine is the synthetic line dispatched when the input stream ends. Registering
// a handler for it overrides the default of stopping the session.
const EOFLine = "EOF"

// Exit statuses reported for exec requests.
const (
	// ExitOK is reported when the command ran.
	ExitOK = 0
	// ExitFailure is reported when the handler panicked.
	ExitFailure = 1
	// ExitNotFound is reported for an unknown verb, as shells do.
	ExitNotFound = 127
)

// State is the position of an Interpreter in its command loop.
type State int32

const (
	// AwaitingLine: waiting for the next input line. Initial state.
	AwaitingLine State = iota
	// Dispatching: a handler is running for the current line.
	Dispatching
	// Stopped: a handler asked to terminate, input ended or a handler panicked.
	// Terminal.
	Stopped
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case AwaitingLine:
		return "awaiting_line"
	case Dispatching:
		return "dispatching"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Interpreter runs the read-dispatch loop of a single session. It is not safe for
// concurrent use; each session owns exactly one.
type Interpreter struct {
	registry *Registry
	io       LineIO
	log      logrus.FieldLogger
	session  *Session
	prompt   string
	intro    string
	queue    []string
	state    atomic.Int32
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithIntro sets a message printed once before the first prompt.
func WithIntro(intro string) Option {
	return func(it *Interpreter) {
		it.intro = intro
	}
}

// New returns an Interpreter dispatching lines read from lio to the handlers in
// registry on behalf of id.
func New(registry *Registry, id *identity.Identity, lio LineIO, log logrus.FieldLogger, opts ...Option) *Interpreter {
	log = log.WithFields(id.Fields())

	it := &Interpreter{
		registry: registry,
		io:       lio,
		log:      log,
		prompt:   id.Prompt(),
	}
	it.session = &Session{
		id:       id,
		io:       lio,
		log:      log,
		registry: registry,
		interp:   it,
	}
	for _, opt := range opts {
		opt(it)
	}
	return it
}

// State returns the current loop state.
func (it *Interpreter) State() State {
	return State(it.state.Load())
}

func (it *Interpreter) setState(s State) {
	it.state.Store(int32(s))
}

// Session returns the handler context of this interpreter.
func (it *Interpreter) Session() *Session {
	return it.session
}

// Queue appends lines to the pending-input queue. Queued lines are dispatched in
// order before any further input is read.
func (it *Interpreter) Queue(lines ...string) {
	it.queue = append(it.queue, lines...)
}

// Run executes the command loop until a handler asks to stop, the input ends, or
// ctx is cancelled between two lines. Closing the underlying stream is the way to
// interrupt a blocked read.
func (it *Interpreter) Run(ctx context.Context) error {
	defer it.setState(Stopped)

	if it.intro != "" {
		it.io.Println(it.intro)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if it.OneCmd(it.next()) {
			return nil
		}
	}
}

// next pops the pending queue or blocks on the remote party for a line.
func (it *Interpreter) next() string {
	if len(it.queue) > 0 {
		line := it.queue[0]
		it.queue = it.queue[1:]
		return line
	}

	it.setState(AwaitingLine)
	line, err := it.io.ReadLine(it.prompt)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			it.log.WithError(err).Debug("read failed, treating as end of input")
		}
		return EOFLine
	}

	it.log.WithField("event", logging.EventCommandInput).
		WithField("line", logging.Sanitize(line)).
		Debug("input received")
	return line
}

// OneCmd dispatches a single line and reports whether the session should stop.
// A panicking handler is logged and stops the session.
func (it *Interpreter) OneCmd(line string) (stop bool) {
	res := it.dispatch(line)
	if res.stop {
		it.setState(Stopped)
	} else {
		it.setState(AwaitingLine)
	}
	return res.stop
}

// Exec dispatches line once, as for an SSH exec request, and returns the exit
// status to report to the client.
func (it *Interpreter) Exec(line string) int {
	it.log.WithField("event", logging.EventCommandExecution).
		WithField("line", logging.Sanitize(line)).
		Info("exec request")

	res := it.dispatch(line)
	it.setState(Stopped)

	switch {
	case res.panicked:
		return ExitFailure
	case !res.found:
		return ExitNotFound
	}
	return ExitOK
}

type result struct {
	stop     bool
	found    bool
	panicked bool
}

func (it *Interpreter) dispatch(line string) (res result) {
	it.setState(Dispatching)

	defer func() {
		if r := recover(); r != nil {
			it.log.WithField("event", logging.EventHandlerPanic).
				Errorf("panic in command handler: %v\n%s", r, debug.Stack())
			res = result{stop: true, found: true, panicked: true}
		}
	}()

	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return result{stop: it.registry.emptyLine.Execute(it.session, ""), found: true}
	}

	verb, arg := Split(line)
	if h, ok := it.registry.Lookup(verb); ok {
		return result{stop: h.Execute(it.session, arg), found: true}
	}
	if verb == EOFLine {
		return result{stop: true, found: true}
	}
	return result{stop: it.registry.fallback.Execute(it.session, line)}
}

// Split separates a line into its verb and the remainder following the first run
// of whitespace. Leading whitespace is ignored; the remainder is otherwise kept as is.
func Split(line string) (verb, arg string) {
	line = strings.TrimLeftFunc(line, unicode.IsSpace)
	i := strings.IndexFunc(line, unicode.IsSpace)
	if i < 0 {
		return line, ""
	}
	return line[:i], strings.TrimLeftFunc(line[i:], unicode.IsSpace)
}
