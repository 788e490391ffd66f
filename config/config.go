// Package config holds the externally-configurable shape of a handler: the
// per-instance Config options plus the process-wide Tunables, captured as an
// immutable snapshot at handler.New time. There is no global mutable holder
// and no runtime mutation after construction; defs carries the tunables'
// defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/relex/logasync-handler/defs"
	"gopkg.in/yaml.v3"
)

// Config holds the per-instance options of a handler.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// DatabasePath, if set, selects the SQLite durable buffer; unset selects the
	// in-memory backend and events do not survive process exit.
	DatabasePath string `yaml:"database_path,omitempty"`

	// Transport names the registered transport.NewFunc to use; defaults to "tcp".
	Transport string `yaml:"transport,omitempty"`

	SSLEnable bool   `yaml:"ssl_enable,omitempty"`
	SSLVerify bool   `yaml:"ssl_verify,omitempty"`
	KeyFile   string `yaml:"keyfile,omitempty"`
	CertFile  string `yaml:"certfile,omitempty"`
	CACerts   string `yaml:"ca_certs,omitempty"`

	// Enable, if false, makes Emit a silent no-op.
	Enable bool `yaml:"enable,omitempty"`

	// EventTTL, if non-zero, drops buffered events older than this without transmission.
	EventTTL time.Duration `yaml:"event_ttl,omitempty"`
}

// Tunables holds the process-wide tunable constants a handler is built with.
// A handler captures one Tunables snapshot at construction and never re-reads
// defs afterward.
type Tunables struct {
	SocketTimeout          time.Duration
	QueueCheckInterval     time.Duration
	FlushInterval          time.Duration
	FlushCount             int
	DatabaseEventChunkSize int
	DatabaseTimeout        time.Duration
	ErrorLogRateLimit      string

	MaxPayloadBytes    int
	FingerprintIdleTTL time.Duration
	IntakeDrainSoftCap int
}

// Default returns a Config with the documented defaults applied to everything
// except Host/Port, which the caller must always supply.
func Default() Config {
	return Config{
		Transport: "tcp",
		SSLVerify: true,
		Enable:    true,
	}
}

// DefaultTunables snapshots defs' current values. Call before overriding
// per-process defaults, and before constructing any handler.Handler.
func DefaultTunables() Tunables {
	return Tunables{
		SocketTimeout:          defs.SocketTimeout,
		QueueCheckInterval:     defs.QueueCheckInterval,
		FlushInterval:          defs.FlushInterval,
		FlushCount:             defs.FlushCount,
		DatabaseEventChunkSize: defs.DatabaseEventChunkSize,
		DatabaseTimeout:        defs.DatabaseTimeout,
		ErrorLogRateLimit:      defs.ErrorLogRateLimit,
		MaxPayloadBytes:        defs.MaxPayloadBytes,
		FingerprintIdleTTL:     defs.FingerprintIdleTTL,
		IntakeDrainSoftCap:     defs.IntakeDrainSoftCap,
	}
}

// LoadFile reads and decodes a Config from a YAML file at path, starting from
// Default() so unset fields keep their documented defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the required fields of Config.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("config: Host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: Port %d is out of range", c.Port)
	}
	if c.SSLEnable && (c.KeyFile != "") != (c.CertFile != "") {
		return fmt.Errorf("config: keyfile and certfile must both be set or both be empty")
	}
	return nil
}
