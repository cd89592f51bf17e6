package server

import (
	"net"
	"sync"
	"time"
)

// Conn closes connections that stay silent for longer than idleTimeout by pushing
// the read deadline forward on every read.
type Conn struct {
	net.Conn

	idleTimeout time.Duration
	closeOnce   sync.Once
	closeErr    error
}

func newConn(c net.Conn, idleTimeout time.Duration) *Conn {
	return &Conn{Conn: c, idleTimeout: idleTimeout}
}

// Read reads from the underlying connection, first moving the read deadline
// idleTimeout into the future.
func (c *Conn) Read(b []byte) (int, error) {
	if c.idleTimeout > 0 {
		c.Conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
	}
	return c.Conn.Read(b)
}

// Close closes the underlying connection once; later calls return the first result.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.Conn.Close()
	})
	return c.closeErr
}
