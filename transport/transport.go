// Package transport defines the capability set that the worker uses to ship batches
// of events to a remote collector, plus a name-based registry so a transport can be
// selected by config.Config.Transport without dynamic loading.
package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/relex/logasync-handler/base"
)

// Config carries the options every registered transport constructor needs to dial
// and, optionally, secure its connection. Alias of base.TransportConfig kept here so
// callers only need to import this package.
type Config = base.TransportConfig

// Transport is the capability set a batch transmitter must implement.
type Transport = base.Transport

// NewFunc constructs a Transport from a Config.
type NewFunc = base.NewTransportFunc

var (
	registryMutex sync.Mutex
	registry      = map[string]NewFunc{}
)

// Register associates a transport name (as used in config.Config.Transport) with a
// constructor. Calling Register with a name already registered overwrites it; this
// mirrors the database/sql driver-registration idiom, where each package registers
// itself once at process init via its own init().
func Register(name string, fn NewFunc) {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	registry[name] = fn
}

// New looks up the constructor registered under name and invokes it with cfg.
func New(name string, cfg Config) (Transport, error) {
	registryMutex.Lock()
	fn, ok := registry[name]
	registryMutex.Unlock()
	if !ok {
		return nil, fmt.Errorf("transport: no transport registered under name %q", name)
	}
	if cfg.SocketTimeout <= 0 {
		cfg.SocketTimeout = DefaultTimeout
	}
	return fn(cfg)
}

// DefaultTimeout is used by New when cfg.SocketTimeout is zero, so a Config built by
// hand (e.g. in a test) without setting every field still behaves sensibly.
const DefaultTimeout = 5 * time.Second

// ErrNotOpen is returned by Send when called before a successful Open.
var ErrNotOpen = errNotOpen{}

type errNotOpen struct{}

func (errNotOpen) Error() string { return "transport: not open" }

// withDeadline derives a context bounded by timeout from ctx, falling back to
// DefaultTimeout when timeout is zero.
func withDeadline(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
