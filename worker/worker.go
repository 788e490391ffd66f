// Package worker implements the pipeline core: a single background goroutine
// that drains the intake queue into the durable buffer, expires TTL'd rows,
// batches and transmits QUEUED rows through a Transport, and backs off with
// jitter on failure. The goroutine owns the transport connection across send
// attempts, reconnecting on error and signaling Stopped on exit.
package worker

import (
	"context"
	"math/rand"
	"time"

	"github.com/relex/gotils/channels"
	"github.com/relex/gotils/logger"
	"github.com/relex/logasync-handler/base"
	"github.com/relex/logasync-handler/config"
	"github.com/relex/logasync-handler/defs"
)

// Worker drives the main loop. It is the sole mutator of buf and the sole
// owner of the transport session; application goroutines never touch either
// directly.
type Worker struct {
	buf       base.Buffer
	intake    Intake
	transport base.Transport
	tun       config.Tunables
	eventTTL  time.Duration
	diag      base.DiagnosticSink
	metrics   *metrics
	logger    logger.Logger
	clock     func() time.Time

	flushSignal chan struct{} // buffered 1: wakes the loop and sets flush_requested
	stopSignal  *channels.SignalAwaitable
	stopped     *channels.SignalAwaitable
}

// Intake is the subset of intake.Queue the worker depends on, so tests can
// substitute a fake without importing the intake package's concrete type.
type Intake interface {
	DrainBatch(maxWait time.Duration, limit int) []base.IntakeItem
	Size() int
}

// Args bundles the dependencies Worker needs; all fields are required except Clock.
type Args struct {
	Buffer    base.Buffer
	Intake    Intake
	Transport base.Transport
	Tunables  config.Tunables

	// EventTTL, if non-zero, drops buffered events older than this without
	// transmission; this is config.Config.EventTTL, not a process-wide tunable.
	EventTTL time.Duration

	Diagnostic base.DiagnosticSink
	Metrics    *base.MetricFactory
	Logger     logger.Logger

	// Clock overrides time.Now, for deterministic tests. Defaults to time.Now.
	Clock func() time.Time
}

// New constructs a Worker. It does not start the loop; call Launch for that.
func New(args Args) *Worker {
	clock := args.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Worker{
		buf:         args.Buffer,
		intake:      args.Intake,
		transport:   args.Transport,
		tun:         args.Tunables,
		eventTTL:    args.EventTTL,
		diag:        args.Diagnostic,
		metrics:     newMetrics(args.Metrics),
		logger:      args.Logger,
		clock:       clock,
		flushSignal: make(chan struct{}, 1),
		stopSignal:  channels.NewSignalAwaitable(),
		stopped:     channels.NewSignalAwaitable(),
	}
}

// Launch starts the main loop on a new goroutine.
func (w *Worker) Launch() {
	go w.run()
}

// Flush sets flush_requested and wakes the loop. Best-effort, non-blocking, no
// delivery guarantee.
func (w *Worker) Flush() {
	select {
	case w.flushSignal <- struct{}{}:
	default:
	}
}

// Stopped returns an Awaitable signaled once the main loop has fully exited.
func (w *Worker) Stopped() channels.Awaitable {
	return w.stopped
}

// RequestStop asks the main loop to run its shutdown sequence and exit. Does not
// block; call Stopped().Wait to join. Idempotent.
func (w *Worker) RequestStop() {
	w.stopSignal.Signal()
}

func (w *Worker) run() {
	defer w.stopped.Signal()
	w.logger.Info("started")

	now := w.clock()
	lastFlushTime := now
	var backoffDeadline time.Time
	consecutiveFailures := 0
	flushRequested := false

	for {
		wait := w.nextWait(now, lastFlushTime, backoffDeadline, flushRequested)
		timer := time.NewTimer(wait)
		select {
		case <-w.stopSignal.Channel():
			timer.Stop()
			w.shutdown()
			return
		case <-w.flushSignal:
			flushRequested = true
		case <-timer.C:
		}
		timer.Stop()

		now = w.clock()
		flushRequested = w.drainIntakeStep(now, flushRequested)
		w.ttlStep(now)

		flushDue := flushRequested || now.Sub(lastFlushTime) >= w.tun.FlushInterval
		if !flushDue || now.Before(backoffDeadline) {
			continue
		}

		lastFlushTime = now
		more, ok := w.flushStep()
		if ok {
			consecutiveFailures = 0
			w.metrics.consecutiveFailures.Set(0)
			flushRequested = more
		} else {
			consecutiveFailures++
			w.metrics.consecutiveFailures.Set(float64(consecutiveFailures))
			backoffDeadline = now.Add(w.backoffDuration(consecutiveFailures))
		}
	}
}

// nextWait computes how long to sleep before the next loop iteration: the
// earliest of the next queue-check tick, the next flush deadline, or the
// current backoff deadline if a flush is pending.
func (w *Worker) nextWait(now time.Time, lastFlushTime time.Time, backoffDeadline time.Time, flushRequested bool) time.Duration {
	wait := w.tun.QueueCheckInterval
	if untilFlush := lastFlushTime.Add(w.tun.FlushInterval).Sub(now); untilFlush < wait {
		wait = untilFlush
	}
	if flushRequested && !backoffDeadline.IsZero() {
		if untilBackoff := backoffDeadline.Sub(now); untilBackoff > 0 && untilBackoff < wait {
			wait = untilBackoff
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// drainIntakeStep drains the intake queue into the durable buffer, bounded by
// IntakeDrainSoftCap, and returns whether a flush should now be requested
// (either because it already was, or because FlushCount QUEUED rows have
// accumulated). now is stamped as each row's PendingSince: the moment the row
// actually lands in the durable buffer, not item.IntakeTime, which is the
// earlier moment the application goroutine called Emit and can lag behind now
// by an arbitrary amount under a sustained intake backlog.
func (w *Worker) drainIntakeStep(now time.Time, flushRequested bool) bool {
	items := w.intake.DrainBatch(0, w.tun.IntakeDrainSoftCap)
	ctx := context.Background()
	for _, item := range items {
		if len(item.Payload) > w.tun.MaxPayloadBytes {
			w.metrics.droppedOversizedTotal.Inc()
			w.diag.Emit("warn", "buffer.oversized", "dropping event: payload exceeds MaxPayloadBytes")
			continue
		}
		if _, err := w.buf.Enqueue(ctx, item.Payload, item.IntakeTime, now); err != nil {
			w.diag.Emit("error", "buffer.enqueue", "failed to enqueue event: "+err.Error())
			continue
		}
	}
	size, err := w.buf.Size(ctx)
	if err != nil {
		w.diag.Emit("error", "buffer.size", "failed to read buffer size: "+err.Error())
		return flushRequested
	}
	w.metrics.queuedGauge.Set(float64(size))
	return flushRequested || size >= w.tun.FlushCount
}

// ttlStep deletes rows older than EventTTL without transmission.
func (w *Worker) ttlStep(now time.Time) {
	if w.eventTTL <= 0 {
		return
	}
	n, err := w.buf.Expire(context.Background(), now, w.eventTTL)
	if err != nil {
		w.diag.Emit("error", "buffer.expire", "failed to expire events: "+err.Error())
		return
	}
	if n > 0 {
		w.metrics.expiredTotal.Add(float64(n))
	}
}

// flushStep claims a batch and attempts to transmit it. It returns
// (moreRemain, succeeded): moreRemain reports whether more QUEUED rows
// remained after a successful send, so the caller should immediately request
// another flush on the next cycle.
func (w *Worker) flushStep() (bool, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), w.tun.SocketTimeout)
	defer cancel()

	w.metrics.flushAttemptsTotal.Inc()

	batch, err := w.buf.ClaimBatch(ctx, w.tun.FlushCount)
	if err != nil {
		w.diag.Emit("error", "buffer.claim", "failed to claim batch: "+err.Error())
		return false, false
	}
	if len(batch) == 0 {
		return false, true
	}
	w.metrics.inFlightGauge.Add(float64(len(batch)))

	ids := make([]int64, len(batch))
	payloads := make([][]byte, len(batch))
	for i, ev := range batch {
		ids[i] = ev.ID
		payloads[i] = ev.Payload
	}

	if err := w.transport.Open(ctx); err != nil {
		w.metrics.inFlightGauge.Sub(float64(len(batch)))
		w.requeueFailed(ids)
		w.metrics.flushFailureTotal.Inc()
		w.diag.Emit("warn", "transport.open", "failed to open transport: "+err.Error())
		return false, false
	}

	if err := w.transport.Send(ctx, payloads); err != nil {
		w.transport.Close()
		w.metrics.inFlightGauge.Sub(float64(len(batch)))
		w.requeueFailed(ids)
		w.metrics.flushFailureTotal.Inc()
		w.diag.Emit("warn", "transport.send", "failed to send batch: "+err.Error())
		return false, false
	}

	w.metrics.inFlightGauge.Sub(float64(len(batch)))
	if err := w.buf.Ack(ctx, ids); err != nil {
		// The batch was sent but not durably removed. Requeue rather than leave
		// the rows stuck IN_FLIGHT until a restart's orphan reset reclaims them:
		// the next flush resends them, so a delivery already acknowledged by the
		// far end may be duplicated, but nothing is silently lost.
		w.diag.Emit("error", "buffer.ack", "failed to ack sent batch, requeuing for redelivery: "+err.Error())
		w.requeueFailed(ids)
		w.metrics.flushFailureTotal.Inc()
		return false, false
	}
	w.metrics.flushSuccessTotal.Inc()
	w.metrics.sentEventsTotal.Add(float64(len(batch)))

	size, sizeErr := w.buf.Size(context.Background())
	if sizeErr == nil {
		w.metrics.queuedGauge.Set(float64(size))
	}
	return size > 0, true
}

func (w *Worker) requeueFailed(ids []int64) {
	if err := w.buf.Requeue(context.Background(), ids); err != nil {
		w.diag.Emit("error", "buffer.requeue", "failed to requeue batch after send failure: "+err.Error())
	}
}

// backoffDuration implements the schedule
// min(cap, base·2^(n-1))·uniform(0.5,1.5), base = SocketTimeout, cap = max(FlushInterval, 60s).
// n is clamped so base·2^(n-1) cannot overflow before being compared against cap.
func (w *Worker) backoffDuration(n int) time.Duration {
	base := w.tun.SocketTimeout
	if base <= 0 {
		base = defs.BackoffFloor
	}
	ceiling := w.tun.FlushInterval
	if ceiling < 60*time.Second {
		ceiling = 60 * time.Second
	}

	shift := n - 1
	if shift > 62 {
		shift = 62
	}
	scaled := base
	for i := 0; i < shift && scaled < ceiling; i++ {
		scaled *= 2
	}
	if scaled > ceiling || scaled <= 0 {
		scaled = ceiling
	}

	jitter := 0.5 + rand.Float64()
	return time.Duration(float64(scaled) * jitter)
}

// shutdown drains intake, attempts one final flush (ignoring backoff), closes
// the transport, then closes the durable buffer.
func (w *Worker) shutdown() {
	w.logger.Info("shutting down")
	now := w.clock()
	w.drainIntakeStep(now, false)
	w.ttlStep(now)
	if _, _, err := w.finalFlush(); err != nil {
		w.diag.Emit("warn", "shutdown.flush", "final flush failed: "+err.Error())
	}
	w.transport.Close()
	if err := w.buf.Close(); err != nil {
		w.diag.Emit("error", "buffer.close", "failed to close durable buffer: "+err.Error())
	}
	w.logger.Info("stopped")
}

// finalFlush attempts exactly one flushStep regardless of backoffDeadline: if
// shutdown is signalled during backoff, the final flush is still attempted once.
func (w *Worker) finalFlush() (bool, bool, error) {
	more, ok := w.flushStep()
	if !ok {
		return more, ok, errFlushFailed
	}
	return more, ok, nil
}

var errFlushFailed = flushFailedErr{}

type flushFailedErr struct{}

func (flushFailedErr) Error() string { return "worker: final flush failed" }
