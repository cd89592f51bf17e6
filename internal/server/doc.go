// Package server hosts ssh-shell sessions over SSH.
//
// Each accepted connection is served by its own goroutine: optional PROXY header,
// idle-timeout wrapper, SSH handshake with the auth callbacks, then a single
// session channel on which a shell.Interpreter runs. A shell request starts the
// interactive loop; an exec request dispatches one line and reports its exit
// status. When the interpreter stops the server sends exit-status, closes the
// channel and the connection, and forgets the session.
//
// Shutdown stops the accept loop, closes every live connection and waits for
// the connection goroutines to return.
package server
