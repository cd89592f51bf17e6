// Package logging builds the structured logger shared by the ssh-shell server components.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Event names used as the "event" field of audit log entries.
const (
	EventConnectionEstablished = "connection_established"
	EventConnectionTerminated  = "connection_terminated"
	EventHandshakeFailed       = "handshake_failed"
	EventAuthAccepted          = "auth_accepted"
	EventAuthRejected          = "auth_rejected"
	EventAuthPartial           = "auth_partial"
	EventAuthThrottled         = "auth_throttled"
	EventCommandInput          = "command_input"
	EventCommandNotFound       = "command_not_found"
	EventCommandExecution      = "command_execution"
	EventHandlerPanic          = "handler_panic"
)

// Options controls how New builds a logger.
type Options struct {
	// Level is one of the logrus level names (debug, info, warn, error).
	Level string
	// Format is "text" or "json".
	Format string
	// File is the path logs are appended to. Blank writes to stdout.
	File string
}

// New returns a logger configured from opts. The returned closer releases the log
// file when one was opened and is a no-op otherwise.
func New(opts Options) (*logrus.Logger, io.Closer, error) {
	var w io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}

	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %s: %w", opts.File, err)
		}
		w = f
		closer = f
	}

	level := opts.Level
	if level == "" {
		level = "info"
	}
	logLvl, err := logrus.ParseLevel(level)
	if err != nil {
		closer.Close()
		return nil, nil, fmt.Errorf("parse log level: %w", err)
	}

	var formatter logrus.Formatter
	switch strings.ToLower(opts.Format) {
	case "", "text":
		formatter = &logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
			FullTimestamp:   true,
			DisableSorting:  true,
		}
	case "json":
		formatter = &logrus.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05"}
	default:
		closer.Close()
		return nil, nil, fmt.Errorf("unsupported log format %q", opts.Format)
	}

	return &logrus.Logger{
		Out:       w,
		Formatter: formatter,
		Hooks:     make(logrus.LevelHooks),
		Level:     logLvl,
	}, closer, nil
}

// Discard returns a logger that drops everything. Useful in tests and tools.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Sanitize removes line breaks and other control characters from remote-supplied
// strings so they cannot forge additional log entries.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteByte(' ')
		case r < 32 || r == 127:
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
