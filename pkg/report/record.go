// Package report formats accepted runtime events and delivers them to the
// local stream and, when configured, to a collector endpoint. It owns the
// wire schema; the runtime package owns admission (sampling, dedup) and the
// emission mutex.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// Field is one key/value line of a record. Key is the human-readable form
// used on the stream channel; the collector key is derived from it.
type Field struct {
	Key string
	Val any
}

// Record is one accepted anomaly event, ready for delivery.
type Record struct {
	ReportID  string
	Timestamp string
	CheckType string
	CallSite  string
	PC        uint64
	Details   []Field
}

// New assembles a record. The timestamp is rendered at second resolution in
// UTC; the report id mixes the call site with that timestamp so the same
// site reporting in two different seconds stays distinguishable.
func New(checkType, callSite string, pc uint64, now time.Time, details ...Field) Record {
	ts := now.UTC().Format("2006-01-02T15:04:05Z")
	return Record{
		ReportID:  reportID(callSite, ts),
		Timestamp: ts,
		CheckType: checkType,
		CallSite:  callSite,
		PC:        pc,
		Details:   details,
	}
}

func reportID(callSite, timestamp string) string {
	h := uint64(5381)
	for _, c := range []byte(callSite) {
		h = h<<5 + h + uint64(c)
	}
	h = h<<5 + h + '|'
	for _, c := range []byte(timestamp) {
		h = h<<5 + h + uint64(c)
	}
	return fmt.Sprintf("%016x", h)
}

// WriteStream renders the human-readable banner form. Write errors are the
// caller's to swallow; the stream channel must never abort the host.
func (r Record) WriteStream(w io.Writer) error {
	var b strings.Builder
	b.WriteString("\n=== Trace2Pass Report ===\n")
	fmt.Fprintf(&b, "Timestamp: %s\n", r.Timestamp)
	fmt.Fprintf(&b, "Type: %s\n", r.CheckType)
	fmt.Fprintf(&b, "PC: 0x%x\n", r.PC)
	for _, f := range r.Details {
		fmt.Fprintf(&b, "%s: %v\n", f.Key, f.Val)
	}
	b.WriteString("========================\n\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// jsonKey lowers a stream key to its collector spelling.
func jsonKey(k string) string {
	return strings.ReplaceAll(strings.ToLower(k), " ", "_")
}
