// Package diagnostic implements base.DiagnosticSink: the handle the worker uses
// to report its own operational errors, deliberately distinct from whatever
// logger the application might be forwarding through this very pipeline. That
// separation keeps a misbehaving downstream from burying the diagnostics that
// would explain why it is misbehaving.
package diagnostic

import (
	"fmt"

	"github.com/relex/gotils/logger"
	"github.com/relex/logasync-handler/base"
	"github.com/relex/logasync-handler/defs"
	"github.com/relex/logasync-handler/ratelimit"
)

// Sink implements base.DiagnosticSink on top of a gotils logger.Logger and a
// ratelimit.Limiter, appending a suppression notice when an emission follows
// a suppressed streak.
type Sink struct {
	logger logger.Logger
	limit  ratelimit.Limiter
}

// New wraps baseLogger with limit. Pass a disabled ratelimit.Limiter (empty spec)
// to emit every diagnostic unconditionally.
func New(baseLogger logger.Logger, limit ratelimit.Limiter) *Sink {
	return &Sink{logger: baseLogger, limit: limit}
}

// Emit reports one diagnostic event for fingerprint, consulting the rate limiter
// first; level is one of "error", "warn", anything else logs at info.
func (s *Sink) Emit(level string, fingerprint string, message string) {
	emit, suppressed := s.limit.ShouldEmit(fingerprint)
	if !emit {
		return
	}
	if suppressed > 0 {
		message = fmt.Sprintf("%s (further messages of this kind will be dropped for the remaining window; suppressed %d since last report)", message, suppressed)
	}
	log := s.logger.WithField(defs.LabelFingerprint, fingerprint)
	switch level {
	case "error":
		log.Errorf("%s", message)
	case "warn":
		log.Warnf("%s", message)
	default:
		log.Infof("%s", message)
	}
}

// Close stops the underlying rate limiter's eviction loop.
func (s *Sink) Close() {
	s.limit.Close()
}

var _ base.DiagnosticSink = (*Sink)(nil)
