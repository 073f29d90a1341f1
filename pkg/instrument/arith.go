package instrument

import (
	"github.com/SamarthBhatia/Trace2Pass/pkg/checkir"
	"github.com/SamarthBhatia/Trace2Pass/pkg/probe"
)

// overflowInstrumentor rewrites integer add/sub/mul through the overflow
// primitive and guards logical left shifts on the shift amount. The wrapped
// result replaces the original everywhere, so the non-probing path computes
// exactly what the uninstrumented program computed; the original
// instruction is left dead for a cleanup pass.
type overflowInstrumentor struct{}

func (overflowInstrumentor) Name() string { return "trace2pass-overflow" }

func (o overflowInstrumentor) Run(fn *checkir.Function) bool {
	if skipFunction(fn) {
		return false
	}
	var arith, shifts []*checkir.Instr
	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			if in.Probed {
				continue
			}
			switch in.Op {
			case checkir.OpAdd, checkir.OpSub, checkir.OpMul:
				arith = append(arith, in)
			case checkir.OpShl:
				shifts = append(shifts, in)
			}
		}
	}
	if len(arith)+len(shifts) == 0 {
		return false
	}
	bld := probe.NewBuilder(fn)
	for _, in := range arith {
		o.rewriteArith(bld, in)
	}
	for _, in := range shifts {
		o.rewriteShift(bld, in)
	}
	summarize(o.Name(), fn, len(arith)+len(shifts))
	return true
}

func exprFor(op checkir.Op) string {
	switch op {
	case checkir.OpAdd:
		return "x + y"
	case checkir.OpSub:
		return "x - y"
	case checkir.OpMul:
		return "x * y"
	default:
		return "x << y"
	}
}

// signedness picks the overflow semantics from the wrap flags: an operation
// carrying only nuw checks unsigned; anything else, including flagless
// operations, checks signed.
func signedness(in *checkir.Instr) bool {
	return !(in.NUW && !in.NSW)
}

func (o overflowInstrumentor) rewriteArith(bld *probe.Builder, in *checkir.Instr) {
	b := in.Block()
	i := in.PosIn(b)
	signed := signedness(in)

	ov := bld.Insert(probe.Point{Block: b, Index: i}, checkir.ArithOverflow(in.Op, signed, in.Args[0], in.Args[1]))
	res := bld.Insert(probe.Point{Block: b, Index: i + 1}, checkir.Extract(ov, 0))
	flag := bld.Insert(probe.Point{Block: b, Index: i + 2}, checkir.Extract(ov, 1))

	reportPt, _ := bld.GuardWithSampling(flag, probe.Point{Block: b, Index: i + 3})
	expr := bld.InternedGlobalString(exprFor(in.Op))
	a64, pt := extendTo64(bld, reportPt, in.Args[0], signed)
	b64, pt := extendTo64(bld, pt, in.Args[1], signed)
	bld.EmitReportCall(probe.SymReportOverflow, pt, expr, a64, b64)

	// All users now consume the wrapped result; the original operation is
	// dead in the tail block and waits for dce.
	bld.Fn.ReplaceUses(in, res)
	in.Probed = true
}

func (o overflowInstrumentor) rewriteShift(bld *probe.Builder, in *checkir.Instr) {
	b := in.Block()
	i := in.PosIn(b)
	width := checkir.ConstUint(in.Args[1].Type(), uint64(in.Ty.Bits))

	cond := bld.Insert(probe.Point{Block: b, Index: i}, checkir.ICmp(checkir.PredUGE, in.Args[1], width))
	reportPt, _ := bld.GuardWithSampling(cond, probe.Point{Block: b, Index: i + 1})
	expr := bld.InternedGlobalString(exprFor(checkir.OpShl))
	a64, pt := extendTo64(bld, reportPt, in.Args[0], true)
	b64, pt := extendTo64(bld, pt, in.Args[1], true)
	bld.EmitReportCall(probe.SymReportOverflow, pt, expr, a64, b64)

	// The shift itself stays: on the violating path its result is whatever
	// the target's undefined shift produces.
	in.Probed = true
}

// extendTo64 widens an integer operand to i64 at pt, sign- or zero-
// extending per the check's signedness. Returns the 64-bit value and the
// next insertion point.
func extendTo64(bld *probe.Builder, pt probe.Point, v checkir.Value, signed bool) (checkir.Value, probe.Point) {
	if v.Type().Bits == 64 {
		return v, pt
	}
	var c *checkir.Instr
	if signed {
		c = checkir.SExt(v, checkir.I64)
	} else {
		c = checkir.ZExt(v, checkir.I64)
	}
	bld.Insert(pt, c)
	return c, probe.Point{Block: pt.Block, Index: pt.Index + 1}
}
