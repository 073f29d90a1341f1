// Package passdiff wraps a named pass with before/after IR snapshots and
// classifies the structural delta. The harness is an observer: the wrapped
// pass's answer is returned verbatim and optimization outcomes are never
// altered by its presence.
package passdiff

import (
	"fmt"

	"github.com/SamarthBhatia/Trace2Pass/pkg/checkir"
	"github.com/sirupsen/logrus"
)

// Snapshot is an immutable structural record of one function. The hash
// mixes block count, instruction count and the ordered opcode sequence:
// order-sensitive, stable under renaming.
type Snapshot struct {
	InstructionCount int
	BasicBlockCount  int
	StructuralHash   uint64
	TextualForm      string
}

// Take snapshots fn. Terminators count as instructions.
func Take(fn *checkir.Function) Snapshot {
	instrs := 0
	for _, b := range fn.Blocks {
		instrs += len(b.Instrs)
		if b.Term != nil {
			instrs++
		}
	}
	h := uint64(len(fn.Blocks))*31 + uint64(instrs)*17
	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			h = h*37 + uint64(in.Op)
		}
		if b.Term != nil {
			h = h*37 + uint64(b.Term.Op)
		}
	}
	return Snapshot{
		InstructionCount: instrs,
		BasicBlockCount:  len(fn.Blocks),
		StructuralHash:   h,
		TextualForm:      fn.String(),
	}
}

// Suspicion thresholds. Large additions suggest code-bloat pathologies,
// large deletions over-aggressive dead-code elimination, and block-count
// swings point at CFG surgery.
const (
	maxInstrGrowth   = 10
	maxInstrShrink   = -5
	maxBlockDelta    = 3
)

// Verdict classifies one before/after pair.
type Verdict struct {
	Changed     bool
	Suspicious  bool
	DeltaInstrs int
	DeltaBlocks int
	Reason      string
}

// Compare diffs two snapshots of the same function.
func Compare(before, after Snapshot) Verdict {
	if before.StructuralHash == after.StructuralHash {
		return Verdict{}
	}
	v := Verdict{
		Changed:     true,
		DeltaInstrs: after.InstructionCount - before.InstructionCount,
		DeltaBlocks: after.BasicBlockCount - before.BasicBlockCount,
	}
	switch {
	case v.DeltaInstrs > maxInstrGrowth:
		v.Suspicious = true
		v.Reason = fmt.Sprintf("instruction count grew by %d (possible code bloat)", v.DeltaInstrs)
	case v.DeltaInstrs < maxInstrShrink:
		v.Suspicious = true
		v.Reason = fmt.Sprintf("instruction count shrank by %d (possible over-aggressive elimination)", -v.DeltaInstrs)
	case v.DeltaBlocks > maxBlockDelta || v.DeltaBlocks < -maxBlockDelta:
		v.Suspicious = true
		v.Reason = fmt.Sprintf("basic block count changed by %+d (CFG surgery)", v.DeltaBlocks)
	}
	return v
}

// Pass is the function-pass shape the harness wraps. Run reports whether
// the pass changed the function; the harness forwards that answer as-is.
type Pass interface {
	Name() string
	Run(fn *checkir.Function) bool
}

// Logger receives the per-function change lines.
var Logger = logrus.StandardLogger()

// Harness runs a pass between two snapshots.
type Harness struct {
	Pass Pass

	// LastVerdict holds the classification of the most recent Run, for
	// callers that want the verdict without re-diffing.
	LastVerdict Verdict
	// After holds the post-pass snapshot of the most recent Run.
	After Snapshot
}

// Wrap builds the harness for p. The wrapped pass registers under the
// "instrumented-" prefix by convention.
func Wrap(p Pass) *Harness {
	if p == nil {
		panic("passdiff: wrapping nil pass")
	}
	return &Harness{Pass: p}
}

func (h *Harness) Name() string { return "instrumented-" + h.Pass.Name() }

// Run snapshots fn, runs the wrapped pass, snapshots again, classifies,
// and logs one line when anything changed. The pass's own changed answer
// is returned untouched.
func (h *Harness) Run(fn *checkir.Function) bool {
	before := Take(fn)
	changed := h.Pass.Run(fn)
	after := Take(fn)
	v := Compare(before, after)
	h.LastVerdict = v
	h.After = after

	if v.Changed {
		entry := Logger.WithFields(logrus.Fields{
			"pass":     h.Pass.Name(),
			"function": fn.Name,
			"d_instrs": v.DeltaInstrs,
			"d_blocks": v.DeltaBlocks,
		})
		if v.Suspicious {
			entry.WithField("reason", v.Reason).Warn("trace2pass: SUSPICIOUS pass delta")
		} else {
			entry.Info("trace2pass: pass changed function")
		}
	}
	return changed
}
