// Package pam checks passwords against the host's Pluggable Authentication Modules
// stack. It needs cgo and libpam, which is why it lives apart from package auth.
package pam

import (
	"fmt"

	pam "github.com/msteinert/pam/v2"
	"github.com/sirupsen/logrus"
)

// DefaultService is the PAM service consulted when none is configured.
const DefaultService = "sshd"

// Checker is an auth.PasswordChecker backed by PAM.
type Checker struct {
	service string
	log     logrus.FieldLogger
}

// New returns a Checker for the given PAM service.
func New(service string, log logrus.FieldLogger) *Checker {
	if service == "" {
		service = DefaultService
	}
	return &Checker{
		service: service,
		log:     log.WithField("component", "pam"),
	}
}

// CheckPassword runs the authentication and account management phases of the PAM
// service for user. A wrong password is (false, nil); an error means PAM itself
// could not be used.
func (c *Checker) CheckPassword(user string, password []byte) (bool, error) {
	t, err := pam.StartFunc(c.service, user, func(s pam.Style, msg string) (string, error) {
		switch s {
		case pam.PromptEchoOff:
			return string(password), nil
		case pam.TextInfo, pam.ErrorMsg:
			c.log.WithField("style", int(s)).Debug(msg)
			return "", nil
		default:
			return "", nil
		}
	})
	if err != nil {
		return false, fmt.Errorf("start pam transaction for service %s: %w", c.service, err)
	}
	defer func() {
		if err := t.End(); err != nil {
			c.log.WithError(err).Debug("failed to end pam transaction")
		}
	}()

	if err := t.Authenticate(0); err != nil {
		return false, nil
	}
	if err := t.AcctMgmt(0); err != nil {
		c.log.WithError(err).Info("pam account check failed")
		return false, nil
	}
	return true, nil
}
