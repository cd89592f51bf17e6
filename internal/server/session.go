package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/ayanrajpoot10/ssh-shell/internal/identity"
	"github.com/ayanrajpoot10/ssh-shell/internal/logging"
	"github.com/ayanrajpoot10/ssh-shell/internal/shell"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

const channelCloseGrace = 5 * time.Second

// Payloads of the session channel requests, RFC 4254 section 6.
type ptyRequest struct {
	Term     string
	Columns  uint32
	Rows     uint32
	Width    uint32
	Height   uint32
	Modelist string
}

type windowChange struct {
	Columns uint32
	Rows    uint32
	Width   uint32
	Height  uint32
}

type execRequest struct {
	Command string
}

type exitStatus struct {
	Status uint32
}

func (srv *Server) handleConn(raw net.Conn) {
	log := srv.log.WithField("remote", raw.RemoteAddr().String())
	defer srv.connWG.Done()
	defer srv.recoverPanic(log)

	conn := newConn(raw, srv.cfg.IdleTimeout)
	srv.conns.Store(conn, struct{}{})
	n := srv.connCount.Add(1)
	defer func() {
		srv.conns.Delete(conn)
		srv.connCount.Add(-1)
		conn.Close()
	}()

	// Shutdown may have swept the connection set before this one was stored.
	if srv.ctx.Err() != nil {
		return
	}
	if max := srv.cfg.MaxSessions; max > 0 && int(n) > max {
		log.WithField("max_sessions", max).Warn("connection limit reached, closing connection")
		return
	}

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, srv.sshConfig)
	if err != nil {
		log.WithField("event", logging.EventHandshakeFailed).WithError(err).Info("handshake failed")
		return
	}

	id, err := identity.New(sshConn, sshConn.Permissions)
	if err != nil {
		log.WithError(err).Warn("rejecting connection without identity")
		sshConn.Close()
		return
	}

	log = srv.log.WithFields(id.Fields())
	start := time.Now()
	srv.add(id)
	log.WithField("event", logging.EventConnectionEstablished).
		WithField("auth_method", id.AuthMethod()).
		WithField("role", id.Role()).
		Info("connection established")

	defer func() {
		srv.remove(id)
		log.WithField("event", logging.EventConnectionTerminated).
			WithField("duration", time.Since(start).Round(time.Millisecond).String()).
			Info("connection terminated")
	}()

	go ssh.DiscardRequests(reqs)
	srv.serveChannels(id, chans, log)
	sshConn.Close()
}

// serveChannels accepts the first session channel of a connection and rejects
// every other channel. It returns once the connection is closed.
func (srv *Server) serveChannels(id *identity.Identity, chans <-chan ssh.NewChannel, log logrus.FieldLogger) {
	var (
		wg      sync.WaitGroup
		started bool
	)

	for newChannel := range chans {
		chanType := newChannel.ChannelType()
		switch {
		case chanType != "session":
			log.WithField("channel_type", chanType).Debug("rejecting channel")
			newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		case started:
			newChannel.Reject(ssh.Prohibited, "only one session per connection")
			continue
		}

		ch, reqs, err := newChannel.Accept()
		if err != nil {
			log.WithError(err).Warn("accepting session channel failed")
			id.Close()
			continue
		}
		started = true

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer id.Close()
			defer srv.recoverPanic(log)
			srv.serveSession(id, ch, reqs, log)
		}()
	}
	wg.Wait()
}

// serveSession answers the requests of a session channel and starts the
// interpreter on the first shell or exec request.
func (srv *Server) serveSession(id *identity.Identity, ch ssh.Channel, reqs <-chan *ssh.Request, log logrus.FieldLogger) {
	var (
		pty     *ptyRequest
		term    *shell.TerminalIO
		started bool
		wg      sync.WaitGroup
	)
	reqsDone := make(chan struct{})
	defer wg.Wait()
	defer close(reqsDone)

	for req := range reqs {
		switch req.Type {
		case "pty-req":
			var p ptyRequest
			if started || ssh.Unmarshal(req.Payload, &p) != nil {
				req.Reply(false, nil)
				continue
			}
			pty = &p
			req.Reply(true, nil)

		case "window-change":
			var w windowChange
			if err := ssh.Unmarshal(req.Payload, &w); err == nil && term != nil {
				term.Resize(int(w.Columns), int(w.Rows))
			}
			if req.WantReply {
				req.Reply(false, nil)
			}

		case "shell", "exec":
			var cmd execRequest
			if started || (req.Type == "exec" && ssh.Unmarshal(req.Payload, &cmd) != nil) {
				req.Reply(false, nil)
				continue
			}
			started = true
			req.Reply(true, nil)

			var lio shell.LineIO
			if pty != nil {
				term = shell.NewTerminalIO(ch, int(pty.Columns), int(pty.Rows))
				lio = term
			} else {
				lio = shell.NewStreamIO(ch)
			}

			wg.Add(1)
			go func(exec bool, command string) {
				defer wg.Done()
				defer func() {
					lio.Close()
					// The client normally answers the channel close, which ends
					// the request loop. Drop the connection if it does not.
					select {
					case <-reqsDone:
					case <-time.After(channelCloseGrace):
						id.Close()
					}
				}()
				defer srv.recoverPanic(log)
				srv.runInterpreter(id, ch, lio, exec, command, log)
			}(req.Type == "exec", cmd.Command)

		default:
			// env, subsystem, signal and anything else.
			log.WithField("request", req.Type).Debug("declining session request")
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func (srv *Server) runInterpreter(id *identity.Identity, ch ssh.Channel, lio shell.LineIO, exec bool, command string, log logrus.FieldLogger) {
	var opts []shell.Option
	if intro := srv.intro(id); intro != "" && !exec {
		opts = append(opts, shell.WithIntro(intro))
	}
	it := shell.New(srv.registry, id, lio, srv.log, opts...)

	status := shell.ExitOK
	if exec {
		status = it.Exec(command)
	} else if err := it.Run(srv.ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Debug("interpreter stopped")
	}

	if _, err := ch.SendRequest("exit-status", false, ssh.Marshal(exitStatus{Status: uint32(status)})); err != nil {
		log.WithError(err).Debug("sending exit-status failed")
	}
}
