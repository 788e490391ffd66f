// Package formatter turns a host application's log record into a newline-free
// UTF-8 JSON document. The host logging framework's internals and any
// per-framework record decoration are external; only this output contract is
// in scope.
package formatter

import (
	"time"
)

// Record is what the host application's logging framework hands to a Formatter
// for one log event. Fields carries arbitrary per-call attributes; keys in
// SkippedRecordFields never leak into the emitted extras namespace.
type Record struct {
	Level   string
	Message string
	Time    time.Time
	Fields  map[string]interface{}
}

// Options configures a Formatter.
type Options struct {
	// MessageType sets the "type" field. Empty means DefaultMessageType.
	MessageType string

	// Tags is merged into the "tags" field alongside any per-call tags in Record.Fields["tags"].
	Tags []string

	// FQDN, if true, resolves the system's fully-qualified domain name for "host";
	// otherwise the plain hostname is used.
	FQDN bool

	// ExtraPrefix nests per-call and static extras under this key. Empty means
	// top-level merge, with reserved field names winning on collision.
	ExtraPrefix string

	// Extra is a static mapping merged into the extras namespace on every record.
	Extra map[string]interface{}

	// EnsureASCII, if true, escapes non-ASCII runes as \uXXXX; if false, UTF-8 is emitted directly.
	EnsureASCII bool

	// Port is carried into the reserved "port" field for diagnostic purposes; informational only.
	Port int
}

// DefaultMessageType is used when Options.MessageType is empty, matching the
// reference python-logstash formatter's own default.
const DefaultMessageType = "python-logstash"

// ReservedFields names the top-level keys this formatter always controls; an
// extras key of the same name is shadowed when ExtraPrefix is empty.
var ReservedFields = map[string]bool{
	"@timestamp": true,
	"@version":   true,
	"host":       true,
	"level":      true,
	"logsource":  true,
	"message":    true,
	"pid":        true,
	"port":       true,
	"program":    true,
	"type":       true,
}

// SkippedRecordFields names Record.Fields keys that must never leak into extras,
// because they are internal to the host logging framework's call-site machinery
// rather than caller-supplied structured data.
var SkippedRecordFields = map[string]bool{
	"args":            true,
	"exc_info":        true,
	"exc_text":        true,
	"funcName":        true,
	"levelno":         true,
	"lineno":          true,
	"module":          true,
	"msecs":           true,
	"msg":             true,
	"name":            true,
	"pathname":        true,
	"process":         true,
	"processName":     true,
	"relativeCreated": true,
	"stack_info":      true,
	"thread":          true,
	"threadName":      true,
}

// Formatter turns a Record into a serialized, newline-free payload.
type Formatter interface {
	Format(record Record) ([]byte, error)
}
