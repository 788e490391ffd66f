// Package tcptransport is the reference Transport: newline-delimited JSON over a
// single TCP connection, optionally wrapped in TLS. It holds one socket per
// worker and does no protocol handshake beyond the TLS handshake itself.
package tcptransport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/relex/gotils/logger"
	"github.com/relex/logasync-handler/base"
	"github.com/relex/logasync-handler/defs"
	"github.com/relex/logasync-handler/transport"
)

// Name is the registry key this package registers itself under.
const Name = "tcp"

func init() {
	transport.Register(Name, New)
}

// Transport holds at most one net.Conn across consecutive Send calls: Open
// connects, Send writes payload+"\n" per event and fails the whole batch on a
// partial write or error (closing the connection, so a later Send returns
// transport.ErrNotOpen until Open reconnects), Close is idempotent and swallows errors.
type Transport struct {
	cfg    transport.Config
	logger logger.Logger

	mu   sync.Mutex
	conn net.Conn
}

// New constructs a Transport from cfg. It does not dial; dialing happens in Open.
func New(cfg transport.Config) (base.Transport, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("tcptransport: Host is required")
	}
	return &Transport{
		cfg:    cfg,
		logger: logger.Root().WithField(defs.LabelComponent, "TCPTransport"),
	}, nil
}

// Open establishes the underlying connection if not already open.
func (t *Transport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}
	conn, err := t.dial(ctx)
	if err != nil {
		return err
	}
	t.conn = conn
	return nil
}

func (t *Transport) dial(ctx context.Context) (net.Conn, error) {
	addr := fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port)
	dialer := &net.Dialer{Timeout: t.cfg.SocketTimeout}

	if !t.cfg.SSLEnable {
		t.logger.Infof("connecting to %s in plain TCP mode", addr)
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("tcptransport: dial %s: %w", addr, err)
		}
		return conn, nil
	}

	t.logger.Infof("connecting to %s in TLS mode (verify=%t)", addr, t.cfg.SSLVerify)
	tlsConfig, err := t.buildTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("tcptransport: tls config: %w", err)
	}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcptransport: dial %s: %w", addr, err)
	}
	tlsConn := tls.Client(rawConn, tlsConfig)
	if deadline, ok := ctx.Deadline(); ok {
		if err := tlsConn.SetDeadline(deadline); err != nil {
			rawConn.Close()
			return nil, fmt.Errorf("tcptransport: set handshake deadline: %w", err)
		}
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("tcptransport: tls handshake with %s: %w", addr, err)
	}
	if err := tlsConn.SetDeadline(zeroDeadline); err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("tcptransport: clear handshake deadline: %w", err)
	}
	return tlsConn, nil
}

func (t *Transport) buildTLSConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		ServerName:         t.cfg.Host,
		InsecureSkipVerify: !t.cfg.SSLVerify, //nolint:gosec // explicit opt-out, per config.Config.SSLVerify
	}

	if t.cfg.CACerts != "" {
		pem, err := os.ReadFile(t.cfg.CACerts)
		if err != nil {
			return nil, fmt.Errorf("read ca_certs %s: %w", t.cfg.CACerts, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("ca_certs %s contains no usable certificates", t.cfg.CACerts)
		}
		tlsConfig.RootCAs = pool
	}

	if t.cfg.KeyFile != "" && t.cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(t.cfg.CertFile, t.cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert pair (certfile=%s, keyfile=%s): %w", t.cfg.CertFile, t.cfg.KeyFile, err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// Send writes each payload followed by "\n", in order, as one unit. Any error closes
// the connection, so the caller must Open again before the next Send; Send never
// retries internally.
func (t *Transport) Send(ctx context.Context, payloads [][]byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return transport.ErrNotOpen
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := t.conn.SetWriteDeadline(deadline); err != nil {
			t.closeLocked()
			return fmt.Errorf("tcptransport: set write deadline: %w", err)
		}
	}

	for _, payload := range payloads {
		if err := writeAll(t.conn, payload); err != nil {
			t.closeLocked()
			return fmt.Errorf("tcptransport: write: %w", err)
		}
		if err := writeAll(t.conn, newline); err != nil {
			t.closeLocked()
			return fmt.Errorf("tcptransport: write newline: %w", err)
		}
	}

	if err := t.conn.SetWriteDeadline(zeroDeadline); err != nil {
		t.closeLocked()
		return fmt.Errorf("tcptransport: clear write deadline: %w", err)
	}

	return nil
}

// Close tears down the current connection, if any. Idempotent; swallows errors.
func (t *Transport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
}

func (t *Transport) closeLocked() {
	if t.conn == nil {
		return
	}
	_ = t.conn.Close() // errors from a redundant/racing close are not actionable here
	t.conn = nil
}

var (
	newline      = []byte("\n")
	zeroDeadline time.Time
)

func writeAll(w net.Conn, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}
