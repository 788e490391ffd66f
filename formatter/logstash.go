package formatter

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/relex/gotils/logger"
	"github.com/relex/logasync-handler/defs"
)

// Logstash is the one reference Formatter implementation, mirroring python-logstash's
// LogstashFormatterVersion1: it emits the reserved top-level fields plus caller
// extras, merged either at the top level or nested under ExtraPrefix.
type Logstash struct {
	opts Options

	hostOnce sync.Once
	host     string
	hostErr  error

	// droppedCollisions counts extras keys shadowed by a reserved field. Format
	// is called concurrently from every application goroutine that calls
	// handler.Handler.Emit, so this must only ever be touched through atomic.
	droppedCollisions atomic.Uint64
}

// NewLogstash creates a Logstash formatter from opts. MessageType defaults to
// DefaultMessageType if unset.
func NewLogstash(opts Options) *Logstash {
	if opts.MessageType == "" {
		opts.MessageType = DefaultMessageType
	}
	return &Logstash{opts: opts}
}

// DroppedCollisions reports how many extras keys have been shadowed by a reserved
// field name since creation, for metrics/diagnostics.
func (f *Logstash) DroppedCollisions() uint64 {
	return f.droppedCollisions.Load()
}

// Format renders record as a single-line JSON document. Non-ASCII runes are
// escaped as \uXXXX when Options.EnsureASCII is set.
func (f *Logstash) Format(record Record) ([]byte, error) {
	doc := map[string]interface{}{
		"@timestamp": record.Time.UTC().Format("2006-01-02T15:04:05.000Z"),
		"@version":   "1",
		"host":       f.resolveHost(),
		"level":      record.Level,
		"logsource":  f.hostname(),
		"message":    record.Message,
		"pid":        os.Getpid(),
		"port":       f.opts.Port,
		"program":    programName(),
		"type":       f.opts.MessageType,
	}

	tags := append([]string(nil), f.opts.Tags...)
	if extra, ok := record.Fields["tags"]; ok {
		if more, ok := extra.([]string); ok {
			tags = append(tags, more...)
		}
	}
	if len(tags) > 0 {
		doc["tags"] = tags
	}

	extras := f.collectExtras(record)
	f.mergeExtras(doc, extras)

	buf, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("formatter: marshal record: %w", err)
	}
	if f.opts.EnsureASCII {
		buf = escapeNonASCII(buf)
	}
	return buf, nil
}

// collectExtras merges the static Options.Extra with the per-call Record.Fields,
// excluding SkippedRecordFields and the synthetic "tags" key already handled above.
func (f *Logstash) collectExtras(record Record) map[string]interface{} {
	extras := make(map[string]interface{}, len(f.opts.Extra)+len(record.Fields))
	for k, v := range f.opts.Extra {
		extras[k] = v
	}
	for k, v := range record.Fields {
		if k == "tags" || SkippedRecordFields[k] {
			continue
		}
		extras[k] = v
	}
	return extras
}

// mergeExtras writes extras into doc, nesting under ExtraPrefix if set. When
// merging at the top level (ExtraPrefix == ""), a reserved field name always wins
// over a colliding extras key.
func (f *Logstash) mergeExtras(doc map[string]interface{}, extras map[string]interface{}) {
	if len(extras) == 0 {
		return
	}
	if f.opts.ExtraPrefix != "" {
		doc[f.opts.ExtraPrefix] = extras
		return
	}
	for k, v := range extras {
		if ReservedFields[k] {
			f.droppedCollisions.Add(1)
			continue
		}
		doc[k] = v
	}
}

func (f *Logstash) hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}

// resolveHost returns the FQDN when Options.FQDN is set, falling back to the plain
// hostname if resolution fails; otherwise it returns the plain hostname directly.
// The lookup result is cached for the lifetime of the formatter.
func (f *Logstash) resolveHost() string {
	if !f.opts.FQDN {
		return f.hostname()
	}
	f.hostOnce.Do(func() {
		f.host, f.hostErr = lookupFQDN(f.hostname())
	})
	if f.hostErr != nil {
		logger.Root().WithField(defs.LabelComponent, "LogstashFormatter").Warnf("fqdn lookup failed, falling back to hostname: %s", f.hostErr.Error())
		return f.hostname()
	}
	return f.host
}

func lookupFQDN(hostname string) (string, error) {
	addrs, err := net.LookupHost(hostname)
	if err != nil || len(addrs) == 0 {
		return "", fmt.Errorf("lookup host %s: %w", hostname, err)
	}
	names, err := net.LookupAddr(addrs[0])
	if err != nil || len(names) == 0 {
		return "", fmt.Errorf("reverse lookup %s: %w", addrs[0], err)
	}
	return strings.TrimSuffix(names[0], "."), nil
}

func programName() string {
	return filepath.Base(os.Args[0])
}

// escapeNonASCII rewrites any multi-byte UTF-8 rune in buf as a \uXXXX escape,
// matching Python's json.dumps(..., ensure_ascii=True). encoding/json always
// escapes HTML-unsafe runes but otherwise passes UTF-8 through untouched, so this
// is a second pass over the already-valid JSON bytes.
func escapeNonASCII(buf []byte) []byte {
	out := make([]byte, 0, len(buf))
	for _, r := range string(buf) {
		if r < 0x80 {
			out = append(out, byte(r))
			continue
		}
		if r > 0xFFFF {
			r1, r2 := utf16Surrogates(r)
			out = append(out, []byte(fmt.Sprintf(`\u%04x\u%04x`, r1, r2))...)
			continue
		}
		out = append(out, []byte(fmt.Sprintf(`\u%04x`, r))...)
	}
	return out
}

func utf16Surrogates(r rune) (rune, rune) {
	const (
		surrogateBase = 0x10000
		highStart     = 0xD800
		lowStart      = 0xDC00
		mask          = 0x3FF
	)
	v := r - surrogateBase
	return highStart + (v >> 10), lowStart + (v & mask)
}
