package instrument

import (
	"github.com/SamarthBhatia/Trace2Pass/pkg/checkir"
	"github.com/SamarthBhatia/Trace2Pass/pkg/probe"
)

// signConvInstrumentor probes sign-losing conversions: widening zext and
// same-width reinterpretation, both of which read a possibly-negative
// source as unsigned. The probe sits after the cast, so downstream
// consumers see the cast result unchanged; it fires only when the source
// was actually negative.
type signConvInstrumentor struct{}

func (signConvInstrumentor) Name() string { return "trace2pass-signconv" }

func (s signConvInstrumentor) Run(fn *checkir.Function) bool {
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
			case checkir.OpZExt:
				if in.Args[0].Type().Bits < in.Ty.Bits {
					cands = append(cands, in)
				}
			case checkir.OpReinterpret:
				cands = append(cands, in)
			}
		}
	}
	if len(cands) == 0 {
		return false
	}
	bld := probe.NewBuilder(fn)
	for _, in := range cands {
		s.rewrite(bld, in)
	}
	summarize(s.Name(), fn, len(cands))
	return true
}

func (s signConvInstrumentor) rewrite(bld *probe.Builder, in *checkir.Instr) {
	b := in.Block()
	i := in.PosIn(b)
	orig := in.Args[0]
	srcBits := orig.Type().Bits
	dstBits := in.Ty.Bits

	zero := checkir.ConstInt(orig.Type(), 0)
	cond := bld.Insert(probe.Point{Block: b, Index: i + 1}, checkir.ICmp(checkir.PredSLT, orig, zero))
	reportPt, _ := bld.GuardWithSampling(cond, probe.Point{Block: b, Index: i + 2})

	orig64, pt := extendTo64(bld, reportPt, orig, true)
	cast64, pt := extendTo64(bld, pt, in, false)
	bld.EmitReportCall(probe.SymReportSignConv, pt, orig64, cast64,
		checkir.ConstInt(checkir.I32, int64(srcBits)),
		checkir.ConstInt(checkir.I32, int64(dstBits)))
	in.Probed = true
}
