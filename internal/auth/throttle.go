package auth

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Throttle counts rejected attempts per origin host. Once a host reaches the limit
// inside the window it is blocked until its counter expires. A nil *Throttle never
// blocks.
type Throttle struct {
	failures *gocache.Cache
	max      int
}

// NewThrottle returns a throttle blocking a host after max failures within window.
// It returns nil when max is not positive.
func NewThrottle(max int, window time.Duration) *Throttle {
	if max <= 0 {
		return nil
	}
	return &Throttle{
		failures: gocache.New(window, window),
		max:      max,
	}
}

// Blocked reports whether host has used up its failures.
func (t *Throttle) Blocked(host string) bool {
	if t == nil {
		return false
	}
	v, ok := t.failures.Get(host)
	if !ok {
		return false
	}
	return v.(int) >= t.max
}

// Fail records a rejected attempt from host and returns the count in the current window.
func (t *Throttle) Fail(host string) int {
	if t == nil {
		return 0
	}
	if err := t.failures.Add(host, 1, gocache.DefaultExpiration); err == nil {
		return 1
	}
	n, err := t.failures.IncrementInt(host, 1)
	if err != nil {
		// Expired between Add and IncrementInt.
		t.failures.Set(host, 1, gocache.DefaultExpiration)
		return 1
	}
	return n
}

// Reset forgets the failures of host.
func (t *Throttle) Reset(host string) {
	if t == nil {
		return
	}
	t.failures.Delete(host)
}
