// Package runtime is the library linked into instrumented programs. Probes
// call its entry points; it samples, deduplicates per goroutine, and hands
// accepted events to the report sink under one process-wide mutex.
//
// The package is infallible from the caller's perspective: configuration
// problems degrade to warnings on standard error, I/O failures are
// swallowed, and nothing here ever panics into the host program.
package runtime

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/SamarthBhatia/Trace2Pass/pkg/report"
)

// Environment variables read once at Init.
const (
	EnvSampleRate   = "SAMPLE_RATE"
	EnvOutput       = "OUTPUT"
	EnvCollectorURL = "COLLECTOR_URL"
)

// DefaultSampleRate is the fraction of firings reported when SAMPLE_RATE is
// unset.
const DefaultSampleRate = 0.01

var (
	// emitMu serializes report emission and publishes configuration writes
	// to emitting readers. The sampling fast path never takes it.
	emitMu sync.Mutex

	// rateBits holds math.Float64bits(sample_rate) so the oracle can read
	// the rate without a lock under the single-writer discipline.
	rateBits atomic.Uint64

	out          io.Writer = os.Stderr
	outFile      *os.File
	collectorURL string
	compiler     = report.DefaultCompiler()
	buildInfo    = report.DefaultBuildInfo()
	initialized  bool
)

func init() {
	rateBits.Store(math.Float64bits(DefaultSampleRate))
}

func warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Trace2Pass: "+format+"\n", args...)
}

func sampleRate() float64 {
	return math.Float64frombits(rateBits.Load())
}

// Init reads the environment and opens the configured channels. It is the
// library-load hook; calling it twice without Fini is a no-op.
func Init() {
	emitMu.Lock()
	defer emitMu.Unlock()
	if initialized {
		return
	}
	initialized = true

	if v := os.Getenv(EnvSampleRate); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			warnf("unparseable %s %q, keeping %.3f", EnvSampleRate, v, sampleRate())
		} else {
			rateBits.Store(math.Float64bits(clampRate(r)))
		}
	}

	if path := os.Getenv(EnvOutput); path != "" {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			warnf("failed to open output file: %s", path)
		} else {
			out = f
			outFile = f
		}
	}

	if u := os.Getenv(EnvCollectorURL); u != "" {
		setCollectorURLLocked(u)
	}

	fmt.Fprintf(out, "Trace2Pass: Runtime initialized (sample_rate=%.3f)\n", sampleRate())
}

// Fini writes the shutdown line and closes a non-default output stream.
// It is the library-unload hook.
func Fini() {
	emitMu.Lock()
	defer emitMu.Unlock()
	if !initialized {
		return
	}
	initialized = false

	fmt.Fprintln(out, "Trace2Pass: Runtime shutting down")
	if outFile != nil {
		outFile.Close()
		outFile = nil
	}
	out = os.Stderr
	collectorURL = ""
}

func clampRate(r float64) float64 {
	if r < 0 || math.IsNaN(r) {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

// SetSampleRate overrides the sampling rate. Out-of-range values are
// ignored, matching the historical setter.
func SetSampleRate(r float64) {
	if r < 0 || r > 1 || math.IsNaN(r) {
		return
	}
	rateBits.Store(math.Float64bits(r))
}

// SetOutput redirects the stream channel to path, opened in append mode.
// On failure the previous stream is kept and a warning is emitted.
func SetOutput(path string) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		warnf("failed to open output file: %s", path)
		return
	}
	emitMu.Lock()
	defer emitMu.Unlock()
	if outFile != nil {
		outFile.Close()
	}
	out = f
	outFile = f
}

// SetOutputWriter redirects the stream channel to an arbitrary writer.
// Tooling and tests use this; instrumented programs use SetOutput.
func SetOutputWriter(w io.Writer) {
	emitMu.Lock()
	defer emitMu.Unlock()
	if outFile != nil {
		outFile.Close()
		outFile = nil
	}
	if w == nil {
		w = os.Stderr
	}
	out = w
}

// SetCollectorURL validates and installs the collector endpoint. An invalid
// URL yields exactly one warning and leaves the channel suppressed.
func SetCollectorURL(u string) {
	emitMu.Lock()
	defer emitMu.Unlock()
	setCollectorURLLocked(u)
}

func setCollectorURLLocked(u string) {
	if u == "" {
		collectorURL = ""
		return
	}
	if err := report.ValidateCollectorURL(u); err != nil {
		warnf("collector disabled: %v", err)
		collectorURL = ""
		return
	}
	collectorURL = u
}

// emit delivers an accepted record: collector first (when configured), then
// the stream, serialized process-wide. Both channels swallow failures.
func emit(rec report.Record) {
	emitMu.Lock()
	defer emitMu.Unlock()
	if collectorURL != "" {
		if err := report.Post(collectorURL, rec, compiler, buildInfo); err != nil {
			_ = err // non-fatal, never retried
		}
	}
	_ = rec.WriteStream(out)
	if outFile != nil {
		_ = outFile.Sync()
	}
}
