package instrument

import (
	"strings"

	"github.com/SamarthBhatia/Trace2Pass/pkg/checkir"
	"github.com/SamarthBhatia/Trace2Pass/pkg/probe"
)

// pureInstrumentor probes direct calls to functions declared readnone or
// readonly that return an integer and take at most two integer arguments.
// The probe sits after the call and feeds every observation to the
// runtime's cache unconditionally — whether an observation is a fresh
// sample or a contradiction of a prior one is the runtime's call, and a
// sampled-away observation would corrupt that protocol.
type pureInstrumentor struct{}

func (pureInstrumentor) Name() string { return "trace2pass-pure" }

func pureCandidate(in *checkir.Instr) bool {
	if in.Op != checkir.OpCall || in.Probed {
		return false
	}
	d := in.Callee
	if !d.Attrs.Pure() || !d.Ret.IsInt() || len(d.Params) > 2 {
		return false
	}
	if strings.HasPrefix(d.Name, "trace2pass_") {
		return false
	}
	for _, p := range d.Params {
		if !p.IsInt() {
			return false
		}
	}
	return true
}

func (p pureInstrumentor) Run(fn *checkir.Function) bool {
	if skipFunction(fn) {
		return false
	}
	var cands []*checkir.Instr
	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			if pureCandidate(in) {
				cands = append(cands, in)
			}
		}
	}
	if len(cands) == 0 {
		return false
	}
	bld := probe.NewBuilder(fn)
	for _, in := range cands {
		p.rewrite(bld, in)
	}
	summarize(p.Name(), fn, len(cands))
	return true
}

func (p pureInstrumentor) rewrite(bld *probe.Builder, in *checkir.Instr) {
	b := in.Block()
	pt := probe.Point{Block: b, Index: in.PosIn(b) + 1}
	name := bld.InternedGlobalString(in.Callee.Name)

	args := [2]checkir.Value{checkir.ConstInt(checkir.I64, 0), checkir.ConstInt(checkir.I64, 0)}
	for i, a := range in.Args {
		args[i], pt = extendTo64(bld, pt, a, true)
	}
	res64, pt := extendTo64(bld, pt, in, true)
	bld.EmitReportCall(probe.SymCheckPure, pt, name, args[0], args[1], res64)
	in.Probed = true
}
