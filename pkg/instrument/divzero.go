package instrument

import (
	"github.com/SamarthBhatia/Trace2Pass/pkg/checkir"
	"github.com/SamarthBhatia/Trace2Pass/pkg/probe"
)

// divZeroInstrumentor probes sdiv/udiv/srem/urem on a zero divisor. The
// probe sits before the dividing instruction, which is left in place: a
// true division by zero still traps per platform ABI — Trace2Pass only
// records that the anomaly was observed on the way in.
type divZeroInstrumentor struct{}

func (divZeroInstrumentor) Name() string { return "trace2pass-divzero" }

func opName(op checkir.Op) string {
	switch op {
	case checkir.OpSDiv:
		return "sdiv"
	case checkir.OpUDiv:
		return "udiv"
	case checkir.OpSRem:
		return "srem"
	default:
		return "urem"
	}
}

func (d divZeroInstrumentor) Run(fn *checkir.Function) bool {
	if skipFunction(fn) {
		return false
	}
	var cands []*checkir.Instr
	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			if in.Probed {
				continue
			}
			switch in.Op {
			case checkir.OpSDiv, checkir.OpUDiv, checkir.OpSRem, checkir.OpURem:
				cands = append(cands, in)
			}
		}
	}
	if len(cands) == 0 {
		return false
	}
	bld := probe.NewBuilder(fn)
	for _, in := range cands {
		d.rewrite(bld, in)
	}
	summarize(d.Name(), fn, len(cands))
	return true
}

func (d divZeroInstrumentor) rewrite(bld *probe.Builder, in *checkir.Instr) {
	b := in.Block()
	i := in.PosIn(b)
	signed := in.Op == checkir.OpSDiv || in.Op == checkir.OpSRem

	zero := checkir.ConstInt(in.Args[1].Type(), 0)
	cond := bld.Insert(probe.Point{Block: b, Index: i}, checkir.ICmp(checkir.PredEQ, in.Args[1], zero))
	reportPt, _ := bld.GuardWithSampling(cond, probe.Point{Block: b, Index: i + 1})

	op := bld.InternedGlobalString(opName(in.Op))
	dividend, pt := extendTo64(bld, reportPt, in.Args[0], signed)
	divisor, pt := extendTo64(bld, pt, in.Args[1], signed)
	bld.EmitReportCall(probe.SymReportDivByZero, pt, op, dividend, divisor)
	in.Probed = true
}
