// Package identity describes who is on the other end of an authenticated session.
package identity

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// Permission extension keys populated by the authenticator.
const (
	ExtAuthMethod = "auth-method"
	ExtRole       = "role"
)

// Roles. RoleAdmin sessions receive the elevated banner.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// ErrNoUser is returned when the connection metadata carries no username.
var ErrNoUser = errors.New("identity: connection has no username")

// Identity is the immutable record of an authenticated party. It is built once the
// SSH handshake (and therefore authentication) has succeeded and is never modified.
type Identity struct {
	id            string
	user          string
	host          string
	port          int
	clientVersion string
	extensions    map[string]string
	prompt        string
	transport     io.Closer
}

// New builds an Identity from the metadata of an authenticated connection. The
// password or key used to authenticate is never part of meta or perms and is
// therefore never retained; only the name of the method is.
//
// When meta also implements io.Closer (as *ssh.ServerConn does), it becomes the
// transport handle released by Close.
func New(meta ssh.ConnMetadata, perms *ssh.Permissions) (*Identity, error) {
	if meta.User() == "" {
		return nil, ErrNoUser
	}

	host, port := splitAddr(meta.RemoteAddr())

	ext := make(map[string]string)
	if perms != nil {
		for k, v := range perms.Extensions {
			ext[k] = v
		}
	}

	id := &Identity{
		id:            uuid.NewString(),
		user:          meta.User(),
		host:          host,
		port:          port,
		clientVersion: string(meta.ClientVersion()),
		extensions:    ext,
	}
	id.prompt = fmt.Sprintf("%s@%s> ", id.user, id.host)
	if c, ok := meta.(io.Closer); ok {
		id.transport = c
	}
	return id, nil
}

// Local returns an identity for a party on the server's own console. It carries
// the given role and no transport.
func Local(user, role string) *Identity {
	id := &Identity{
		id:   uuid.NewString(),
		user: user,
		host: "local",
		extensions: map[string]string{
			ExtAuthMethod: "console",
			ExtRole:       role,
		},
	}
	id.prompt = fmt.Sprintf("%s@%s> ", id.user, id.host)
	return id
}

func splitAddr(addr net.Addr) (string, int) {
	if addr == nil {
		return "", 0
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 0
	}
	return host, port
}

// ID is the unique session identifier assigned at construction.
func (i *Identity) ID() string { return i.id }

// User is the authenticated username.
func (i *Identity) User() string { return i.user }

// Host is the origin host of the connection.
func (i *Identity) Host() string { return i.host }

// Port is the origin port of the connection, or 0 if unknown.
func (i *Identity) Port() int { return i.port }

// Origin is host:port as seen by the server.
func (i *Identity) Origin() string {
	return net.JoinHostPort(i.host, strconv.Itoa(i.port))
}

// ClientVersion is the SSH version string announced by the client.
func (i *Identity) ClientVersion() string { return i.clientVersion }

// AuthMethod is the name of the method that completed authentication.
func (i *Identity) AuthMethod() string { return i.extensions[ExtAuthMethod] }

// Role is the role attached at authentication, "user" when none was.
func (i *Identity) Role() string {
	if r := i.extensions[ExtRole]; r != "" {
		return r
	}
	return RoleUser
}

// Elevated reports whether the session runs with administrative privileges.
func (i *Identity) Elevated() bool { return i.Role() == RoleAdmin }

// Extension returns an authentication extension value.
func (i *Identity) Extension(key string) string { return i.extensions[key] }

// Prompt is the "{user}@{host}> " prompt, computed once.
func (i *Identity) Prompt() string { return i.prompt }

// Fields returns the log fields that attribute an entry to this session.
func (i *Identity) Fields() logrus.Fields {
	return logrus.Fields{
		"session": i.id,
		"user":    i.user,
		"origin":  i.Origin(),
	}
}

// Close releases the transport handle, if any.
func (i *Identity) Close() error {
	if i.transport == nil {
		return nil
	}
	return i.transport.Close()
}

// String returns "user@host:port".
func (i *Identity) String() string {
	return i.user + "@" + i.Origin()
}
