// Package ratelimit implements the clock-driven, per-fingerprint suppression
// counter used to keep worker-internal diagnostics from flooding the host's
// logging system during an extended outage.
package ratelimit

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync"
	"github.com/relex/gotils/channels"
	"golang.org/x/time/rate"
)

// Limiter decides whether a diagnostic message for a given fingerprint should
// be emitted, and reports how many were suppressed since the last emission.
type Limiter interface {
	// ShouldEmit increments the window counter for fingerprint. If the count
	// exceeds the configured rate within the current window, it returns false
	// and increments the bucket's suppressed count. The first true returned
	// after a suppressed streak carries the streak's count, so the caller can
	// annotate the message.
	ShouldEmit(fingerprint string) (emit bool, suppressedSinceLast int)

	// Close stops the limiter's idle-bucket eviction loop.
	Close()
}

// New creates a Limiter from a rate-spec ("<N> per <unit>"). An empty spec
// disables rate limiting: ShouldEmit always returns (true, 0).
func New(spec string, idleTTL time.Duration) (Limiter, error) {
	if spec == "" {
		return noopLimiter{}, nil
	}
	r, err := ParseRate(spec)
	if err != nil {
		return nil, err
	}
	lim := &windowLimiter{
		rate:    r,
		idleTTL: idleTTL,
		buckets: xsync.NewMap(),
		stopped: channels.NewSignalAwaitable(),
		done:    make(chan struct{}),
	}
	go lim.evictLoop()
	return lim, nil
}

type bucket struct {
	mu          sync.Mutex
	gate        *rate.Limiter
	windowStart time.Time
	suppressed  int
	lastAccess  time.Time
}

type windowLimiter struct {
	rate    Rate
	idleTTL time.Duration
	buckets *xsync.Map
	stopped *channels.SignalAwaitable
	done    chan struct{}
}

func (l *windowLimiter) ShouldEmit(fingerprint string) (bool, int) {
	now := time.Now()
	raw, _ := l.buckets.LoadOrStore(fingerprint, &bucket{
		gate:        rate.NewLimiter(0, l.rate.N),
		windowStart: now,
	})
	b := raw.(*bucket)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastAccess = now
	if now.Sub(b.windowStart) >= l.rate.Window {
		b.windowStart = now
		b.gate = rate.NewLimiter(0, l.rate.N)
	}

	if !b.gate.AllowN(now, 1) {
		b.suppressed++
		return false, 0
	}

	suppressed := b.suppressed
	b.suppressed = 0
	return true, suppressed
}

func (l *windowLimiter) Close() {
	l.stopped.Signal()
	<-l.done
}

func (l *windowLimiter) evictLoop() {
	defer close(l.done)
	ticker := time.NewTicker(l.idleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopped.Channel():
			return
		case now := <-ticker.C:
			l.evictIdle(now)
		}
	}
}

func (l *windowLimiter) evictIdle(now time.Time) {
	l.buckets.Range(func(key string, value interface{}) bool {
		b := value.(*bucket)
		b.mu.Lock()
		idle := now.Sub(b.lastAccess) > l.idleTTL
		b.mu.Unlock()
		if idle {
			l.buckets.Delete(key)
		}
		return true
	})
}

type noopLimiter struct{}

func (noopLimiter) ShouldEmit(string) (bool, int) { return true, 0 }
func (noopLimiter) Close()                        {}
