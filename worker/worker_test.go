package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/relex/gotils/logger"
	"github.com/relex/logasync-handler/base"
	"github.com/relex/logasync-handler/buffer/memorybuffer"
	"github.com/relex/logasync-handler/config"
	"github.com/relex/logasync-handler/diagnostic"
	"github.com/relex/logasync-handler/intake"
	"github.com/relex/logasync-handler/ratelimit"
	"github.com/stretchr/testify/assert"
)

type fakeTransport struct {
	mu       sync.Mutex
	open     bool
	failSend bool
	sent     [][]byte
	opens    int
}

func (t *fakeTransport) Open(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opens++
	t.open = true
	return nil
}

func (t *fakeTransport) Send(_ context.Context, payloads [][]byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failSend {
		return assert.AnError
	}
	t.sent = append(t.sent, payloads...)
	return nil
}

func (t *fakeTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = false
}

func (t *fakeTransport) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

type flakyAckBuffer struct {
	*memorybuffer.Buffer
	mu      sync.Mutex
	failAck bool
}

func (b *flakyAckBuffer) Ack(ctx context.Context, ids []int64) error {
	b.mu.Lock()
	fail := b.failAck
	b.mu.Unlock()
	if fail {
		return assert.AnError
	}
	return b.Buffer.Ack(ctx, ids)
}

func noopDiagnostic() base.DiagnosticSink {
	lim, _ := ratelimit.New("", time.Minute)
	return diagnostic.New(logger.Root().WithField("component", "test"), lim)
}

func newTestWorker(t *testing.T, transport base.Transport, tun config.Tunables) (*Worker, *memorybuffer.Buffer, *intake.Queue) {
	buf := memorybuffer.New()
	q := intake.NewQueue()
	w := New(Args{
		Buffer:     buf,
		Intake:     q,
		Transport:  transport,
		Tunables:   tun,
		Diagnostic: noopDiagnostic(),
		Metrics:    base.NewMetricFactory("test_"+t.Name()+"_", nil, nil),
		Logger:     logger.Root().WithField("component", "TestWorker"),
	})
	return w, buf, q
}

func testTunables() config.Tunables {
	tun := config.DefaultTunables()
	tun.QueueCheckInterval = 10 * time.Millisecond
	tun.FlushInterval = 50 * time.Millisecond
	tun.FlushCount = 5
	return tun
}

func TestWorkerHappyPathDelivers(t *testing.T) {
	transport := &fakeTransport{}
	w, _, q := newTestWorker(t, transport, testTunables())
	w.Launch()
	defer func() {
		w.RequestStop()
		w.Stopped().Wait(time.Second)
	}()

	q.Push([]byte(`{"message":"hello"}`), time.Now())

	assert.Eventually(t, func() bool { return transport.sentCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestWorkerFlushTriggeredByCount(t *testing.T) {
	transport := &fakeTransport{}
	tun := testTunables()
	tun.FlushInterval = time.Hour // only the count trigger should matter
	tun.FlushCount = 5
	w, _, q := newTestWorker(t, transport, tun)
	w.Launch()
	defer func() {
		w.RequestStop()
		w.Stopped().Wait(time.Second)
	}()

	for i := 0; i < 5; i++ {
		q.Push([]byte("x"), time.Now())
	}

	assert.Eventually(t, func() bool { return transport.sentCount() == 5 }, time.Second, 5*time.Millisecond)
}

func TestWorkerRequeuesOnSendFailure(t *testing.T) {
	transport := &fakeTransport{failSend: true}
	tun := testTunables()
	w, buf, q := newTestWorker(t, transport, tun)
	w.Launch()
	defer func() {
		w.RequestStop()
		w.Stopped().Wait(time.Second)
	}()

	q.Push([]byte("x"), time.Now())

	assert.Eventually(t, func() bool {
		size, _ := buf.Size(context.Background())
		return size == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, transport.sentCount())
}

func TestWorkerRequeuesOnAckFailure(t *testing.T) {
	transport := &fakeTransport{}
	buf := &flakyAckBuffer{Buffer: memorybuffer.New(), failAck: true}
	q := intake.NewQueue()
	tun := testTunables()
	// the failed Ack starts a backoff scaled from SocketTimeout; keep it well
	// under the Eventually timeout below so the retry can happen in time.
	tun.SocketTimeout = 10 * time.Millisecond
	w := New(Args{
		Buffer:     buf,
		Intake:     q,
		Transport:  transport,
		Tunables:   tun,
		Diagnostic: noopDiagnostic(),
		Metrics:    base.NewMetricFactory("test_"+t.Name()+"_", nil, nil),
		Logger:     logger.Root().WithField("component", "TestWorker"),
	})
	w.Launch()
	defer func() {
		w.RequestStop()
		w.Stopped().Wait(time.Second)
	}()

	q.Push([]byte("x"), time.Now())

	// the batch is sent but Ack fails, so the row must be requeued rather than
	// stuck IN_FLIGHT, and eventually resent once Ack starts succeeding.
	assert.Eventually(t, func() bool { return transport.sentCount() >= 1 }, time.Second, 5*time.Millisecond)

	buf.mu.Lock()
	buf.failAck = false
	buf.mu.Unlock()
	w.Flush()

	assert.Eventually(t, func() bool {
		size, _ := buf.Size(context.Background())
		return size == 0
	}, time.Second, 5*time.Millisecond)
}

func TestWorkerIdempotentShutdown(t *testing.T) {
	transport := &fakeTransport{}
	w, _, _ := newTestWorker(t, transport, testTunables())
	w.Launch()

	w.RequestStop()
	assert.True(t, w.Stopped().Wait(time.Second))

	// a second RequestStop/Wait must behave identically, not panic or hang.
	w.RequestStop()
	assert.True(t, w.Stopped().Wait(time.Second))
}

func TestBackoffDurationMonotonicFloor(t *testing.T) {
	tun := config.DefaultTunables()
	tun.SocketTimeout = 2 * time.Second
	tun.FlushInterval = 10 * time.Second
	w := &Worker{tun: tun}

	ceiling := tun.FlushInterval
	if ceiling < 60*time.Second {
		ceiling = 60 * time.Second
	}
	for k := 1; k <= 6; k++ {
		expectedFloor := tun.SocketTimeout << uint(k-1)
		if expectedFloor > ceiling || expectedFloor <= 0 {
			expectedFloor = ceiling
		}
		// sample several times since the jitter is randomized
		for i := 0; i < 20; i++ {
			d := w.backoffDuration(k)
			assert.GreaterOrEqual(t, d, expectedFloor/2, "k=%d", k)
			assert.LessOrEqual(t, d, time.Duration(float64(expectedFloor)*1.5)+time.Millisecond, "k=%d", k)
		}
	}
}
