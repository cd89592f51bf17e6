// Package auth decides whether a credential offered during the SSH handshake is
// accepted, and installs that decision on an ssh.ServerConfig.
package auth

import (
	"errors"
	"net"
	"runtime/debug"
	"slices"

	"github.com/ayanrajpoot10/ssh-shell/internal/identity"
	"github.com/ayanrajpoot10/ssh-shell/internal/logging"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// Method names an SSH authentication method.
type Method string

const (
	// MethodPassword is the "password" method of RFC 4252.
	MethodPassword Method = "password"
	// MethodPublicKey is the "publickey" method of RFC 4252.
	MethodPublicKey Method = "publickey"
)

// ErrRejected is returned to the SSH layer for every rejected credential. The
// client learns nothing beyond the rejection itself.
var ErrRejected = errors.New("auth: credentials rejected")

// Attempt is one credential offer.
type Attempt struct {
	User      string
	Origin    net.Addr
	Method    Method
	Password  []byte
	PublicKey ssh.PublicKey

	// Satisfied lists the methods already passed on this connection when a
	// previous offer was only partially successful.
	Satisfied []Method
}

// Verdict is the outcome of an Attempt.
type Verdict int

const (
	// Reject refuses the credential.
	Reject Verdict = iota
	// Accept completes authentication.
	Accept
	// Partial accepts the credential but requires another method.
	Partial
)

// String returns the verdict in lower case.
func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case Partial:
		return "partial"
	}
	return "reject"
}

// Decision is what the Authenticator answers to an Attempt. Extensions are only set
// on Accept; Next is only set on Partial.
type Decision struct {
	Verdict    Verdict
	Extensions map[string]string
	Next       []Method
}

// PasswordChecker verifies a user's password.
type PasswordChecker interface {
	CheckPassword(user string, password []byte) (bool, error)
}

// KeyChecker verifies that a public key is authorized for a user.
type KeyChecker interface {
	CheckPublicKey(user string, key ssh.PublicKey) (bool, error)
}

// RoleResolver returns the role of a user.
type RoleResolver interface {
	Role(user string) string
}

// Authenticator evaluates credential offers against its checkers.
type Authenticator struct {
	passwords   []PasswordChecker
	keys        KeyChecker
	roles       RoleResolver
	throttle    *Throttle
	multiFactor bool
	log         logrus.FieldLogger
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithPasswordChecker appends a password checker. Checkers are consulted in order
// until one accepts.
func WithPasswordChecker(c PasswordChecker) Option {
	return func(a *Authenticator) {
		a.passwords = append(a.passwords, c)
	}
}

// WithKeyChecker enables public key authentication.
func WithKeyChecker(c KeyChecker) Option {
	return func(a *Authenticator) {
		a.keys = c
	}
}

// WithRoleResolver sets where the role extension comes from.
func WithRoleResolver(r RoleResolver) Option {
	return func(a *Authenticator) {
		a.roles = r
	}
}

// WithThrottle rejects hosts that failed too often.
func WithThrottle(t *Throttle) Option {
	return func(a *Authenticator) {
		a.throttle = t
	}
}

// WithMultiFactor requires a public key followed by a password.
func WithMultiFactor(required bool) Option {
	return func(a *Authenticator) {
		a.multiFactor = required
	}
}

// New returns an Authenticator logging its audit trail to log.
func New(log logrus.FieldLogger, opts ...Option) *Authenticator {
	a := &Authenticator{
		log: log.WithField("component", "auth"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate decides on a single credential offer. It never panics: a failing
// checker yields Reject.
func (a *Authenticator) Authenticate(at Attempt) (d Decision) {
	host := originHost(at.Origin)
	entry := a.log.WithFields(logrus.Fields{
		"user":   logging.Sanitize(at.User),
		"origin": originString(at.Origin),
		"method": string(at.Method),
	})

	defer func() {
		if r := recover(); r != nil {
			entry.Errorf("panic while authenticating: %v\n%s", r, debug.Stack())
			d = Decision{Verdict: Reject}
			a.throttle.Fail(host)
			entry.WithField("event", logging.EventAuthRejected).Info("authentication rejected")
		}
	}()

	if a.throttle.Blocked(host) {
		entry.WithField("event", logging.EventAuthThrottled).Warn("authentication throttled")
		return Decision{Verdict: Reject}
	}

	d = a.decide(at, entry)

	switch d.Verdict {
	case Accept:
		a.throttle.Reset(host)
		entry.WithField("event", logging.EventAuthAccepted).
			WithField("role", d.Extensions[identity.ExtRole]).
			Info("authentication accepted")
	case Partial:
		entry.WithField("event", logging.EventAuthPartial).Info("authentication partially accepted")
	default:
		// Unknown keys are probes; only passwords count toward the throttle.
		if at.Method == MethodPublicKey {
			entry.WithField("event", logging.EventAuthRejected).Debug("public key not accepted")
			break
		}
		n := a.throttle.Fail(host)
		entry.WithField("event", logging.EventAuthRejected).
			WithField("failures", n).
			Info("authentication rejected")
	}
	return d
}

func (a *Authenticator) decide(at Attempt, entry logrus.FieldLogger) Decision {
	if at.User == "" {
		return Decision{Verdict: Reject}
	}

	var ok bool
	switch at.Method {
	case MethodPassword:
		ok = a.checkPassword(at.User, at.Password, entry)
	case MethodPublicKey:
		ok = a.checkKey(at.User, at.PublicKey, entry)
	}
	if !ok {
		return Decision{Verdict: Reject}
	}

	method := string(at.Method)
	if a.multiFactor {
		switch {
		case at.Method == MethodPublicKey && len(at.Satisfied) == 0:
			return Decision{Verdict: Partial, Next: []Method{MethodPassword}}
		case at.Method == MethodPassword && slices.Contains(at.Satisfied, MethodPublicKey):
			method = string(MethodPublicKey) + "+" + string(MethodPassword)
		default:
			return Decision{Verdict: Reject}
		}
	}

	role := identity.RoleUser
	if a.roles != nil {
		if r := a.roles.Role(at.User); r != "" {
			role = r
		}
	}
	return Decision{
		Verdict: Accept,
		Extensions: map[string]string{
			identity.ExtAuthMethod: method,
			identity.ExtRole:       role,
		},
	}
}

func (a *Authenticator) checkPassword(user string, password []byte, entry logrus.FieldLogger) bool {
	if len(password) == 0 {
		return false
	}
	for _, c := range a.passwords {
		ok, err := c.CheckPassword(user, password)
		if err != nil {
			entry.WithError(err).Warn("password checker failed")
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

func (a *Authenticator) checkKey(user string, key ssh.PublicKey, entry logrus.FieldLogger) bool {
	if a.keys == nil || key == nil {
		return false
	}
	ok, err := a.keys.CheckPublicKey(user, key)
	if err != nil {
		entry.WithError(err).Warn("key checker failed")
		return false
	}
	return ok
}

// Configure installs the authentication callbacks on cfg. Public key
// authentication is only offered when a KeyChecker is set.
func (a *Authenticator) Configure(cfg *ssh.ServerConfig) {
	cb := a.callbacks(nil, nil)
	cfg.PasswordCallback = cb.PasswordCallback
	cfg.PublicKeyCallback = cb.PublicKeyCallback
}

// callbacks builds the callbacks for the methods in allowed (all when nil), given
// the methods already satisfied on the connection.
func (a *Authenticator) callbacks(satisfied, allowed []Method) ssh.ServerAuthCallbacks {
	var cb ssh.ServerAuthCallbacks

	if allowed == nil || slices.Contains(allowed, MethodPassword) {
		cb.PasswordCallback = func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			return a.answer(Attempt{
				User:      meta.User(),
				Origin:    meta.RemoteAddr(),
				Method:    MethodPassword,
				Password:  password,
				Satisfied: satisfied,
			})
		}
	}
	if a.keys != nil && (allowed == nil || slices.Contains(allowed, MethodPublicKey)) {
		cb.PublicKeyCallback = func(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			return a.answer(Attempt{
				User:      meta.User(),
				Origin:    meta.RemoteAddr(),
				Method:    MethodPublicKey,
				PublicKey: key,
				Satisfied: satisfied,
			})
		}
	}
	return cb
}

func (a *Authenticator) answer(at Attempt) (*ssh.Permissions, error) {
	d := a.Authenticate(at)
	switch d.Verdict {
	case Accept:
		return &ssh.Permissions{Extensions: d.Extensions}, nil
	case Partial:
		satisfied := append(slices.Clone(at.Satisfied), at.Method)
		return nil, &ssh.PartialSuccessError{Next: a.callbacks(satisfied, d.Next)}
	}
	return nil, ErrRejected
}

func originHost(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func originString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
