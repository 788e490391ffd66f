package base

import (
	"context"
	"time"
)

// Transport is the capability set a batch transmitter must implement: open a
// session, send a batch of payloads as a single unit, and close. The reference
// implementation is transport/tcptransport; callers may register others under
// a name via transport.Register and select them by name in config.Config.
type Transport interface {
	// Open establishes the underlying session. Calling Open on an already-open
	// Transport is a no-op.
	Open(ctx context.Context) error

	// Send transmits payloads in order as one unit. A partial write is a
	// failure for the whole batch. Send does not wait for any application-level
	// acknowledgement; success means the underlying write completed without error.
	Send(ctx context.Context, payloads [][]byte) error

	// Close tears down the session. Idempotent; implementations must swallow
	// errors from a redundant close.
	Close()
}

// TransportConfig carries the options every registered transport constructor
// needs to dial and, optionally, secure its connection.
type TransportConfig struct {
	Host          string
	Port          int
	SocketTimeout time.Duration

	SSLEnable bool
	SSLVerify bool
	KeyFile   string
	CertFile  string
	CACerts   string
}

// NewTransportFunc constructs a Transport from a TransportConfig. Registered
// under a name with transport.Register and selected by config.Config.Transport.
type NewTransportFunc func(cfg TransportConfig) (Transport, error)
