package worker

import (
	"github.com/relex/gotils/promexporter/promext"
	"github.com/relex/logasync-handler/base"
)

// metrics tracks worker-loop observability: queue depth, in-flight count,
// expiry/flush/send counters, and consecutive-failure streak.
type metrics struct {
	queuedGauge           promext.RWGauge
	inFlightGauge         promext.RWGauge
	expiredTotal          promext.RWCounter
	flushAttemptsTotal    promext.RWCounter
	flushSuccessTotal     promext.RWCounter
	flushFailureTotal     promext.RWCounter
	sentEventsTotal       promext.RWCounter
	droppedOversizedTotal promext.RWCounter
	consecutiveFailures   promext.RWGauge
}

func newMetrics(factory *base.MetricFactory) *metrics {
	return &metrics{
		queuedGauge:           factory.AddOrGetGauge("queued_events", "Number of events currently QUEUED in the durable buffer"),
		inFlightGauge:         factory.AddOrGetGauge("inflight_events", "Number of events currently IN_FLIGHT"),
		expiredTotal:          factory.AddOrGetCounter("expired_events_total", "Number of events dropped by TTL expiry"),
		flushAttemptsTotal:    factory.AddOrGetCounter("flush_attempts_total", "Number of flush cycles that attempted a transmission"),
		flushSuccessTotal:     factory.AddOrGetCounter("flush_success_total", "Number of successful flush cycles"),
		flushFailureTotal:     factory.AddOrGetCounter("flush_failure_total", "Number of failed flush cycles"),
		sentEventsTotal:       factory.AddOrGetCounter("sent_events_total", "Number of events successfully transmitted and acknowledged"),
		droppedOversizedTotal: factory.AddOrGetCounter("dropped_oversized_events_total", "Number of events dropped at intake for exceeding MaxPayloadBytes"),
		consecutiveFailures:   factory.AddOrGetGauge("consecutive_failures", "Current consecutive flush failure count"),
	}
}
