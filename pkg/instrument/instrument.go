// Package instrument rewrites checkir functions to add the runtime checks:
// one instrumentor per check kind, each collecting its candidate sites in a
// read-only sweep and only then rewriting them through the probe builder.
// Instrumentors register under short names; the pipeline activates whatever
// names it is asked for and leaves everything else untouched.
package instrument

import (
	"sort"
	"strings"
	"sync"

	"github.com/SamarthBhatia/Trace2Pass/pkg/checkir"
	"github.com/sirupsen/logrus"
)

// Logger receives the per-function summary lines. Swap it out to silence
// or redirect the compile-time chatter.
var Logger = logrus.StandardLogger()

// Pass is a function-level rewriter. Run reports whether it changed fn.
type Pass interface {
	Name() string
	Run(fn *checkir.Function) bool
}

// Factory builds a pass from a configuration.
type Factory func(cfg Config) Pass

var (
	regMu    sync.RWMutex
	registry = map[string]Factory{}
)

// Register installs a pass factory under name. Later registrations under
// the same name win, which lets tools shadow a stock pass.
func Register(name string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

// Lookup resolves a registered name. Unknown names report false and leave
// compilation unaffected.
func Lookup(name string, cfg Config) (Pass, bool) {
	regMu.RLock()
	f, ok := registry[name]
	regMu.RUnlock()
	if !ok {
		return nil, false
	}
	return f(cfg), true
}

// Names lists the registered pass names, sorted.
func Names() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// CombinedName activates all enabled check instrumentors at once.
const CombinedName = "trace2pass-instrument"

func init() {
	Register(CombinedName, func(cfg Config) Pass { return NewCombined(cfg) })
	Register("trace2pass-overflow", func(cfg Config) Pass { return &overflowInstrumentor{} })
	Register("trace2pass-divzero", func(cfg Config) Pass { return &divZeroInstrumentor{} })
	Register("trace2pass-signconv", func(cfg Config) Pass { return &signConvInstrumentor{} })
	Register("trace2pass-bounds", func(cfg Config) Pass { return &boundsInstrumentor{} })
	Register("trace2pass-pure", func(cfg Config) Pass { return &pureInstrumentor{} })
	Register("trace2pass-loopbound", func(cfg Config) Pass { return &loopBoundInstrumentor{threshold: cfg.LoopThreshold()} })
	Register("trace2pass-unreachable", func(cfg Config) Pass { return &unreachableInstrumentor{} })
}

// combined runs every enabled check in a fixed order. Overflow goes first
// so later instrumentors' bookkeeping arithmetic is already marked and
// never re-probed.
type combined struct {
	subs []Pass
}

// NewCombined assembles the all-checks pass respecting cfg's enable map.
func NewCombined(cfg Config) Pass {
	order := []struct {
		key  string
		mk   func() Pass
	}{
		{CheckArithOverflow, func() Pass { return &overflowInstrumentor{} }},
		{CheckDivByZero, func() Pass { return &divZeroInstrumentor{} }},
		{CheckSignConversion, func() Pass { return &signConvInstrumentor{} }},
		{CheckBoundsViolation, func() Pass { return &boundsInstrumentor{} }},
		{CheckPureConsistency, func() Pass { return &pureInstrumentor{} }},
		{CheckLoopBound, func() Pass { return &loopBoundInstrumentor{threshold: cfg.LoopThreshold()} }},
		{CheckUnreachable, func() Pass { return &unreachableInstrumentor{} }},
	}
	c := &combined{}
	for _, o := range order {
		if cfg.Enabled(o.key) {
			c.subs = append(c.subs, o.mk())
		}
	}
	return c
}

func (c *combined) Name() string { return CombinedName }

func (c *combined) Run(fn *checkir.Function) bool {
	changed := false
	for _, s := range c.subs {
		changed = s.Run(fn) || changed
	}
	return changed
}

// skipFunction filters declarations and the runtime's own functions, which
// must never observe themselves.
func skipFunction(fn *checkir.Function) bool {
	return fn == nil || len(fn.Blocks) == 0 || strings.HasPrefix(fn.Name, "trace2pass_")
}

func summarize(pass string, fn *checkir.Function, count int) {
	if count == 0 {
		return
	}
	Logger.WithFields(logrus.Fields{
		"pass":     pass,
		"function": fn.Name,
		"sites":    count,
	}).Info("trace2pass: instrumented function")
}
