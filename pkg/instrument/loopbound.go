package instrument

import (
	"github.com/SamarthBhatia/Trace2Pass/pkg/checkir"
	"github.com/SamarthBhatia/Trace2Pass/pkg/probe"
)

// loopBoundInstrumentor caps loop iterations. Headers are found textually:
// a block is a header when some predecessor sits at or after it in body
// order. That heuristic can mislabel a forward diamond as a loop, but a
// false positive costs at most a never-firing counter, never incorrect
// behavior.
//
// Each header gets one module-global i64 counter, incremented on every
// entry; the report fires exactly once, on the threshold→threshold+1
// transition.
type loopBoundInstrumentor struct {
	threshold uint64
}

func (loopBoundInstrumentor) Name() string { return "trace2pass-loopbound" }

func counterName(fn *checkir.Function, b *checkir.Block) string {
	return "t2p.loop." + fn.Name + "." + b.Name
}

func (l loopBoundInstrumentor) Run(fn *checkir.Function) bool {
	if skipFunction(fn) {
		return false
	}
	var headers []*checkir.Block
	for _, b := range fn.Blocks {
		if fn.Mod.HasCounter(counterName(fn, b)) {
			continue // already capped in an earlier run
		}
		for _, p := range fn.Preds(b) {
			if p.Index >= b.Index {
				headers = append(headers, b)
				break
			}
		}
	}
	if len(headers) == 0 {
		return false
	}
	bld := probe.NewBuilder(fn)
	for _, b := range headers {
		l.rewrite(bld, b)
	}
	summarize(l.Name(), fn, len(headers))
	return true
}

func (l loopBoundInstrumentor) rewrite(bld *probe.Builder, b *checkir.Block) {
	fn := bld.Fn
	ctr := fn.Mod.NewCounter(counterName(fn, b))

	ld := bld.Insert(probe.Point{Block: b, Index: 0}, checkir.Load(ctr))
	inc := bld.Insert(probe.Point{Block: b, Index: 1}, checkir.BinOp(checkir.OpAdd, ld, checkir.ConstInt(checkir.I64, 1)))
	bld.Insert(probe.Point{Block: b, Index: 2}, checkir.Store(ctr, inc))
	cond := bld.Insert(probe.Point{Block: b, Index: 3},
		checkir.ICmp(checkir.PredEQ, inc, checkir.ConstUint(checkir.I64, l.threshold+1)))

	reportPt, _ := bld.GuardWithSampling(cond, probe.Point{Block: b, Index: 4})
	loopName := bld.InternedGlobalString(fn.Name + ":" + b.Name)
	bld.EmitReportCall(probe.SymReportLoopBound, reportPt, loopName, inc, checkir.ConstUint(checkir.I64, l.threshold))
}
