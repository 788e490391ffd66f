// Package handler implements the public facade: the single type an embedding
// application constructs and calls Emit/Flush/Close on. It wires together
// every other package (formatter, intake, buffer, transport, worker,
// ratelimit) behind three methods that never propagate an error to the caller.
package handler

import (
	"fmt"
	"sync"
	"time"

	"github.com/relex/gotils/logger"
	"github.com/relex/logasync-handler/base"
	"github.com/relex/logasync-handler/buffer"
	"github.com/relex/logasync-handler/config"
	"github.com/relex/logasync-handler/defs"
	"github.com/relex/logasync-handler/diagnostic"
	"github.com/relex/logasync-handler/formatter"
	"github.com/relex/logasync-handler/intake"
	"github.com/relex/logasync-handler/ratelimit"
	"github.com/relex/logasync-handler/transport"
	_ "github.com/relex/logasync-handler/transport/tcptransport" // registers the "tcp" transport
	"github.com/relex/logasync-handler/worker"
)

// Handler is the public facade: it receives log records, invokes a formatter,
// hands the resulting payload to the intake queue, and exposes Flush/Close.
type Handler struct {
	cfg       config.Config
	formatter formatter.Formatter
	queue     *intake.Queue
	worker    *worker.Worker
	diag      base.DiagnosticSink
	limiter   ratelimit.Limiter
	logger    logger.Logger

	closeOnce sync.Once
}

// New constructs a Handler from cfg and fmtr, validating cfg, opening the
// durable buffer, constructing the transport (the worker opens it on its first
// flush), and launching the worker goroutine.
// metricFactory may be nil, in which case a fresh root factory is created.
func New(cfg config.Config, tun config.Tunables, fmtr formatter.Formatter, metricFactory *base.MetricFactory) (*Handler, error) {
	if fmtr == nil {
		panic("handler: a Formatter is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Transport == "" {
		cfg.Transport = "tcp"
	}

	baseLogger := logger.Root().WithField(defs.LabelComponent, "LogAsyncHandler")

	buf, err := buffer.Open(buffer.Config{
		DatabasePath:           cfg.DatabasePath,
		DatabaseTimeout:        tun.DatabaseTimeout,
		DatabaseEventChunkSize: tun.DatabaseEventChunkSize,
	})
	if err != nil {
		return nil, fmt.Errorf("handler: opening durable buffer: %w", err)
	}

	trns, err := transport.New(cfg.Transport, base.TransportConfig{
		Host:          cfg.Host,
		Port:          cfg.Port,
		SocketTimeout: tun.SocketTimeout,
		SSLEnable:     cfg.SSLEnable,
		SSLVerify:     cfg.SSLVerify,
		KeyFile:       cfg.KeyFile,
		CertFile:      cfg.CertFile,
		CACerts:       cfg.CACerts,
	})
	if err != nil {
		buf.Close()
		return nil, fmt.Errorf("handler: constructing transport %q: %w", cfg.Transport, err)
	}

	limiter, err := ratelimit.New(tun.ErrorLogRateLimit, tun.FingerprintIdleTTL)
	if err != nil {
		buf.Close()
		return nil, fmt.Errorf("handler: parsing ErrorLogRateLimit: %w", err)
	}
	diag := diagnostic.New(baseLogger.WithField("part", "diagnostic"), limiter)

	if metricFactory == nil {
		metricFactory = base.NewMetricFactory("logasync_", nil, nil)
	}

	q := intake.NewQueue()
	w := worker.New(worker.Args{
		Buffer:     buf,
		Intake:     q,
		Transport:  trns,
		Tunables:   tun,
		EventTTL:   cfg.EventTTL,
		Diagnostic: diag,
		Metrics:    metricFactory,
		Logger:     baseLogger.WithField("part", "worker"),
	})
	w.Launch()

	return &Handler{
		cfg:       cfg,
		formatter: fmtr,
		queue:     q,
		worker:    w,
		diag:      diag,
		limiter:   limiter,
		logger:    baseLogger,
	}, nil
}

// Emit formats record and hands it to the intake queue. It never panics or
// returns an error to the caller: formatter errors are caught and rate-limited
// through the diagnostic sink. If cfg.Enable is false, the record is dropped
// silently.
func (h *Handler) Emit(record formatter.Record) {
	if !h.cfg.Enable {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			h.diag.Emit("error", "formatter.panic", fmt.Sprintf("recovered from panic in formatter: %v", r))
		}
	}()

	payload, err := h.formatter.Format(record)
	if err != nil {
		h.diag.Emit("warn", "formatter.error", "dropping record: formatter error: "+err.Error())
		return
	}
	h.queue.Push(payload, time.Now())
}

// Flush requests a flush cycle on the worker. Best-effort, non-blocking,
// carries no delivery guarantee.
func (h *Handler) Flush() {
	h.worker.Flush()
}

// Close signals the worker to shut down, joins it, and releases its resources.
// Idempotent: a second call is a no-op.
func (h *Handler) Close() {
	h.closeOnce.Do(func() {
		h.queue.Close()
		h.worker.RequestStop()
		stopped := h.worker.Stopped()
		for !stopped.Wait(time.Second) {
			// keep waiting; the worker's shutdown sequence can take up to SocketTimeout
		}
		h.limiter.Close()
	})
}
