package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ayanrajpoot10/ssh-shell/internal/auth"
	"github.com/ayanrajpoot10/ssh-shell/internal/identity"
	"github.com/ayanrajpoot10/ssh-shell/internal/shell"
	proxyproto "github.com/pires/go-proxyproto"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

const (
	maxStackInfoSize   = 64 << 10
	maxAcceptDelay     = time.Second
	proxyHeaderTimeout = 10 * time.Second
)

var (
	// ErrServerClosed is returned by Serve and ListenAndServe after Shutdown.
	ErrServerClosed = errors.New("server: closed")
	// ErrNoHostKey is returned by Serve when Config.HostKeys is empty.
	ErrNoHostKey = errors.New("server: no host key configured")
)

// Config holds the settings of a Server.
type Config struct {
	// SSH identification string; the x/crypto default when empty.
	Version string
	// Sent to clients before authentication when non-empty.
	Banner string
	// Printed to every interactive session before the first prompt.
	Motd string
	// A connection with no inbound traffic for this long is closed. Zero disables.
	IdleTimeout time.Duration
	// Concurrent connection limit. Zero is unlimited.
	MaxSessions int
	// Expect a PROXY protocol header on every connection.
	ProxyProtocol bool
	// How long Run waits for sessions to end once its context is cancelled.
	ShutdownTimeout time.Duration
	HostKeys        []ssh.Signer
}

// Server accepts SSH connections and runs one interpreter session on each.
type Server struct {
	cfg       Config
	registry  *shell.Registry
	sshConfig *ssh.ServerConfig
	log       logrus.FieldLogger
	intro     func(id *identity.Identity) string

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	listener net.Listener

	conns       sync.Map // map[*Conn]struct{}
	sessions    sync.Map // map[string]*identity.Identity
	connCount   atomic.Int32
	activeCount atomic.Int32
	connWG      sync.WaitGroup
}

// Option configures a Server.
type Option func(srv *Server)

// WithIntro replaces the function producing the text shown at the start of an
// interactive session.
func WithIntro(fn func(id *identity.Identity) string) Option {
	return func(srv *Server) {
		srv.intro = fn
	}
}

// New returns a Server dispatching session input to registry. Credentials are
// checked by authn.
func New(cfg Config, registry *shell.Registry, authn *auth.Authenticator, log logrus.FieldLogger, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	sshConfig := &ssh.ServerConfig{ServerVersion: cfg.Version}
	authn.Configure(sshConfig)
	for _, key := range cfg.HostKeys {
		sshConfig.AddHostKey(key)
	}
	if cfg.Banner != "" {
		banner := cfg.Banner
		sshConfig.BannerCallback = func(ssh.ConnMetadata) string { return banner }
	}

	srv := &Server{
		cfg:       cfg,
		registry:  registry,
		sshConfig: sshConfig,
		log:       log.WithField("component", "server"),
		ctx:       ctx,
		cancel:    cancel,
	}
	srv.intro = srv.defaultIntro
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

func (srv *Server) defaultIntro(id *identity.Identity) string {
	intro := srv.cfg.Motd
	if id.Elevated() {
		if intro != "" {
			intro += "\n"
		}
		intro += fmt.Sprintf("Logged in as %s with administrative privileges.", id.User())
	}
	return intro
}

// ListenAndServe listens on the TCP address addr and serves connections.
func (srv *Server) ListenAndServe(addr string) error {
	if addr == "" {
		addr = ":2222"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return srv.Serve(ln)
}

// Serve freezes the command registry and accepts connections on ln until Shutdown
// is called, after which it returns ErrServerClosed.
func (srv *Server) Serve(ln net.Listener) error {
	if len(srv.cfg.HostKeys) == 0 {
		ln.Close()
		return ErrNoHostKey
	}
	srv.registry.Freeze()

	if srv.cfg.ProxyProtocol {
		// The header is read on the connection's first use, inside its own
		// goroutine, and RemoteAddr then reports the proxied client.
		ln = &proxyproto.Listener{Listener: ln, ReadHeaderTimeout: proxyHeaderTimeout}
	}

	srv.mu.Lock()
	if srv.ctx.Err() != nil {
		srv.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	srv.listener = ln
	srv.mu.Unlock()

	srv.log.WithField("address", ln.Addr().String()).Info("listening")

	var tempDelay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-srv.ctx.Done():
				return ErrServerClosed
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}

			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else {
				tempDelay *= 2
			}
			if tempDelay > maxAcceptDelay {
				tempDelay = maxAcceptDelay
			}
			srv.log.WithError(err).WithField("retry_in", tempDelay.String()).Warn("accept failed")

			select {
			case <-srv.ctx.Done():
				return ErrServerClosed
			case <-time.After(tempDelay):
			}
			continue
		}
		tempDelay = 0

		srv.connWG.Add(1)
		go srv.handleConn(conn)
	}
}

// Addr returns the address being served, or nil before Serve is called.
func (srv *Server) Addr() net.Addr {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.listener == nil {
		return nil
	}
	return srv.listener.Addr()
}

// Run serves on addr until ctx is cancelled, then shuts down within the configured
// shutdown timeout. Failing to listen is returned immediately.
func (srv *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	timeout := srv.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	srv.log.Info("shutting down")
	err = srv.Shutdown(shutdownCtx)
	if serveErr := <-errc; !errors.Is(serveErr, ErrServerClosed) && err == nil {
		err = serveErr
	}
	return err
}

// Shutdown stops accepting connections, closes every live connection and waits
// for their goroutines to finish or ctx to expire.
func (srv *Server) Shutdown(ctx context.Context) error {
	srv.mu.Lock()
	srv.cancel()
	ln := srv.listener
	srv.mu.Unlock()

	var err error
	if ln != nil {
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}

	srv.conns.Range(func(k, _ any) bool {
		k.(*Conn).Close()
		return true
	})

	done := make(chan struct{})
	go func() {
		srv.connWG.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return err
	}
}

// Sessions returns the identities of the authenticated sessions currently open.
func (srv *Server) Sessions() []*identity.Identity {
	var ids []*identity.Identity
	srv.sessions.Range(func(_, v any) bool {
		ids = append(ids, v.(*identity.Identity))
		return true
	})
	return ids
}

// ActiveCount returns the number of authenticated sessions.
func (srv *Server) ActiveCount() int {
	return int(srv.activeCount.Load())
}

func (srv *Server) add(id *identity.Identity) {
	srv.sessions.Store(id.ID(), id)
	n := srv.activeCount.Add(1)
	srv.log.WithFields(id.Fields()).WithField("active", n).Debug("session added")
}

func (srv *Server) remove(id *identity.Identity) {
	srv.sessions.Delete(id.ID())
	n := srv.activeCount.Add(-1)
	srv.log.WithFields(id.Fields()).WithField("active", n).Debug("session removed")
}

func (srv *Server) recoverPanic(log logrus.FieldLogger) {
	if r := recover(); r != nil {
		buf := make([]byte, maxStackInfoSize)
		buf = buf[:runtime.Stack(buf, false)]
		log.Errorf("panic serving connection: %v\n%s", r, buf)
	}
}
