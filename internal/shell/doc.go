// Package shell implements the line-oriented command interpreter run inside every
// ssh-shell session.
//
// Features:
//   - Verb to handler dispatch through a Registry that is frozen before serving
//   - Per-session Interpreter with a read, dispatch, stop state machine
//   - Configurable empty-line and unknown-command behavior
//   - Pending-input queue for programmatically injected lines
//   - Handler panics contained to the session that raised them
//   - LineIO adapters for plain streams (StreamIO) and pseudo-terminals (TerminalIO)
//
// Usage:
//  1. Create a Registry with NewRegistry and add commands (RegisterBuiltins, Handle)
//  2. Freeze the registry before sessions start
//  3. For each session, build an Interpreter with New over a LineIO and call Run
//
// End of input is dispatched as the line "EOF"; unless a handler is registered for
// that verb the session stops.
package shell
