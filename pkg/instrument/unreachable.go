package instrument

import (
	"github.com/SamarthBhatia/Trace2Pass/pkg/checkir"
	"github.com/SamarthBhatia/Trace2Pass/pkg/probe"
)

// unreachableInstrumentor records control flow crossing a terminator the
// compiler proved unreachable. The rewrite branches to a sampling-guarded
// report block and then into a final block that still ends in unreachable,
// so the program's undefined-behavior semantics at that point survive —
// the crossing is merely witnessed on the way through.
type unreachableInstrumentor struct{}

func (unreachableInstrumentor) Name() string { return "trace2pass-unreachable" }

func (u unreachableInstrumentor) Run(fn *checkir.Function) bool {
	if skipFunction(fn) {
		return false
	}
	var cands []*checkir.Block
	for _, b := range fn.Blocks {
		if b.Term != nil && b.Term.Op == checkir.OpUnreachable && !b.Term.Probed {
			cands = append(cands, b)
		}
	}
	if len(cands) == 0 {
		return false
	}
	bld := probe.NewBuilder(fn)
	for _, b := range cands {
		u.rewrite(bld, b)
	}
	summarize(u.Name(), fn, len(cands))
	return true
}

func (u unreachableInstrumentor) rewrite(bld *probe.Builder, b *checkir.Block) {
	// Splitting at the end of the block sends the unreachable terminator
	// into the tail, which becomes the final block the guard rejoins.
	msg := bld.InternedGlobalString(bld.Fn.Name + ":" + b.Name)
	reportPt, contPt := bld.GuardWithSampling(checkir.ConstBool(true), probe.Point{Block: b, Index: len(b.Instrs)})
	bld.EmitReportCall(probe.SymReportUnreachable, reportPt, msg)
	contPt.Block.Term.Probed = true
}
