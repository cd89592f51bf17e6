package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThrottle(t *testing.T) {
	th := NewThrottle(2, time.Minute)

	assert.False(t, th.Blocked("10.0.0.1"))
	assert.Equal(t, 1, th.Fail("10.0.0.1"))
	assert.False(t, th.Blocked("10.0.0.1"))
	assert.Equal(t, 2, th.Fail("10.0.0.1"))
	assert.True(t, th.Blocked("10.0.0.1"))
	assert.False(t, th.Blocked("10.0.0.2"))

	th.Reset("10.0.0.1")
	assert.False(t, th.Blocked("10.0.0.1"))
}

func TestThrottle_WindowExpires(t *testing.T) {
	th := NewThrottle(1, 50*time.Millisecond)

	th.Fail("10.0.0.1")
	assert.True(t, th.Blocked("10.0.0.1"))

	assert.Eventually(t, func() bool {
		return !th.Blocked("10.0.0.1")
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, th.Fail("10.0.0.1"))
}

func TestThrottle_Disabled(t *testing.T) {
	th := NewThrottle(0, time.Minute)
	assert.Nil(t, th)

	assert.NotPanics(t, func() {
		assert.Equal(t, 0, th.Fail("10.0.0.1"))
		assert.False(t, th.Blocked("10.0.0.1"))
		th.Reset("10.0.0.1")
	})
}
