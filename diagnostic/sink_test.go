package diagnostic

import (
	"testing"
	"time"

	"github.com/relex/gotils/logger"
	"github.com/relex/logasync-handler/ratelimit"
	"github.com/stretchr/testify/assert"
)

func TestEmitWithDisabledLimiterAlwaysLogs(t *testing.T) {
	lim, err := ratelimit.New("", time.Minute)
	assert.NoError(t, err)
	defer lim.Close()

	s := New(logger.Root().WithField("component", "test"), lim)
	for i := 0; i < 5; i++ {
		s.Emit("warn", "buffer.enqueue", "boom")
	}
	// no panics, no blocking: the noop limiter never suppresses.
}

func TestEmitSuppressesBeyondRate(t *testing.T) {
	lim, err := ratelimit.New("2 per minute", time.Minute)
	assert.NoError(t, err)
	defer lim.Close()

	s := New(logger.Root().WithField("component", "test"), lim)
	emit, suppressed := lim.ShouldEmit("transport.send")
	assert.True(t, emit)
	assert.Equal(t, 0, suppressed)

	emit, _ = lim.ShouldEmit("transport.send")
	assert.True(t, emit)

	emit, _ = lim.ShouldEmit("transport.send")
	assert.False(t, emit)

	s.Emit("warn", "transport.send", "connection reset")
	s.Close()
}

func TestEmitSurvivesRepeatedSuppression(t *testing.T) {
	lim, err := ratelimit.New("1 per minute", time.Minute)
	assert.NoError(t, err)
	defer lim.Close()

	s := New(logger.Root().WithField("component", "test"), lim)
	s.Emit("warn", "x", "first")  // consumes the window's one token
	s.Emit("warn", "x", "second") // suppressed
	s.Emit("warn", "x", "third")  // suppressed, still no panic or block
}
