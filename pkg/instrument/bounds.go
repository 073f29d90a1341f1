package instrument

import (
	"github.com/SamarthBhatia/Trace2Pass/pkg/checkir"
	"github.com/SamarthBhatia/Trace2Pass/pkg/probe"
)

// boundsInstrumentor probes address computations that index into an
// aggregate beyond the outermost pointer (more than one index). Static
// array bounds are generally unrecoverable from the IR, so the claimed
// size is reported as zero and only under-the-bottom access is detected:
// the predicate is "last index strictly negative". The probe sits before
// the address computation so the reporting path still sees the originating
// pointer.
type boundsInstrumentor struct{}

func (boundsInstrumentor) Name() string { return "trace2pass-bounds" }

func (bi boundsInstrumentor) Run(fn *checkir.Function) bool {
	if skipFunction(fn) {
		return false
	}
	var cands []*checkir.Instr
	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			if in.Probed || in.Op != checkir.OpAddr {
				continue
			}
			if len(in.Args) > 2 { // base plus at least two indexes
				cands = append(cands, in)
			}
		}
	}
	if len(cands) == 0 {
		return false
	}
	bld := probe.NewBuilder(fn)
	for _, in := range cands {
		bi.rewrite(bld, in)
	}
	summarize(bi.Name(), fn, len(cands))
	return true
}

func (bi boundsInstrumentor) rewrite(bld *probe.Builder, in *checkir.Instr) {
	b := in.Block()
	i := in.PosIn(b)
	last := in.Args[len(in.Args)-1]

	zero := checkir.ConstInt(last.Type(), 0)
	cond := bld.Insert(probe.Point{Block: b, Index: i}, checkir.ICmp(checkir.PredSLT, last, zero))
	reportPt, _ := bld.GuardWithSampling(cond, probe.Point{Block: b, Index: i + 1})

	off64, pt := extendTo64(bld, reportPt, last, true)
	bld.EmitReportCall(probe.SymReportBounds, pt, in.Args[0], off64, checkir.ConstUint(checkir.I64, 0))
	in.Probed = true
}
