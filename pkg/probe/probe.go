// Package probe synthesizes the predicated check shapes every instrumentor
// shares: split a block on a condition, gate the slow path on the sampling
// oracle, and call a runtime entry point with the program counter attached.
//
// The builder's contract is one-sided: on well-formed IR it never fails and
// the non-probing path preserves the original program's observable result.
// Malformed input (nil operands, width mismatches) is instrumentor misuse
// and panics, aborting the compilation rather than producing unchecked code.
package probe

import (
	"fmt"

	"github.com/SamarthBhatia/Trace2Pass/pkg/checkir"
)

// Runtime ABI symbols. Declared lazily, once per module, with the payload
// schema of their check kind.
const (
	SymShouldSample      = "trace2pass_should_sample"
	SymReportOverflow    = "trace2pass_report_overflow"
	SymReportSignConv    = "trace2pass_report_sign_conversion"
	SymReportDivByZero   = "trace2pass_report_division_by_zero"
	SymCheckPure         = "trace2pass_check_pure_consistency"
	SymReportBounds      = "trace2pass_report_bounds_violation"
	SymReportUnreachable = "trace2pass_report_unreachable"
	SymReportLoopBound   = "trace2pass_report_loop_bound_exceeded"
)

var abiSignatures = map[string][]checkir.Type{
	// pc comes first in every signature and is added by EmitReportCall.
	SymReportOverflow:    {checkir.I64, checkir.Ptr, checkir.I64, checkir.I64},
	SymReportSignConv:    {checkir.I64, checkir.I64, checkir.I64, checkir.I32, checkir.I32},
	SymReportDivByZero:   {checkir.I64, checkir.Ptr, checkir.I64, checkir.I64},
	SymCheckPure:         {checkir.I64, checkir.Ptr, checkir.I64, checkir.I64, checkir.I64},
	SymReportBounds:      {checkir.I64, checkir.Ptr, checkir.I64, checkir.I64},
	SymReportUnreachable: {checkir.I64, checkir.Ptr},
	SymReportLoopBound:   {checkir.I64, checkir.Ptr, checkir.I64, checkir.I64},
}

// Point is an insertion point: instructions are placed before Index in
// Block. Splitting at a point sends Instrs[Index:] to the tail.
type Point struct {
	Block *checkir.Block
	Index int
}

// Before returns the insertion point just before in.
func Before(in *checkir.Instr) Point {
	b := in.Block()
	i := in.PosIn(b)
	if i < 0 {
		panic("probe: instruction not in its block")
	}
	return Point{Block: b, Index: i}
}

// After returns the insertion point just after in.
func After(in *checkir.Instr) Point {
	p := Before(in)
	p.Index++
	return p
}

// Builder places probes into one function.
type Builder struct {
	Fn *checkir.Function

	splits int
}

// NewBuilder wraps fn. A nil function or a function without a module is
// instrumentor misuse.
func NewBuilder(fn *checkir.Function) *Builder {
	if fn == nil || fn.Mod == nil {
		panic("probe: builder over nil function")
	}
	return &Builder{Fn: fn}
}

// Insert places in at p and returns it, advancing nothing; callers chain
// points manually when they need sequences. Everything the builder inserts
// is marked Probed so no instrumentor mistakes probe machinery for a
// candidate site.
func (bld *Builder) Insert(p Point, in *checkir.Instr) *checkir.Instr {
	in.Probed = true
	return p.Block.Insert(p.Index, in)
}

// SplitAndBranchIf splits the block at p. The tail is reached when cond is
// false; a fresh block is reached when cond is true and rejoins the tail.
// Returns the insertion point inside the true block and the point at the
// head of the tail.
func (bld *Builder) SplitAndBranchIf(cond checkir.Value, p Point) (truePt, contPt Point) {
	if cond == nil || !cond.Type().IsBool() {
		panic("probe: guard condition must be i1")
	}
	bld.splits++
	tail := checkir.SplitBlock(p.Block, p.Index, fmt.Sprintf("%s.cont%d", p.Block.Name, bld.splits))
	probeBlk := bld.Fn.NewBlockAfter(p.Block, fmt.Sprintf("%s.probe%d", p.Block.Name, bld.splits))
	p.Block.SetCondBr(cond, probeBlk, tail)
	probeBlk.SetBr(tail)
	return Point{Block: probeBlk, Index: 0}, Point{Block: tail, Index: 0}
}

// GuardWithSampling nests the sampling oracle inside the condition: the
// report block runs only when cond holds and the oracle answers yes. A
// suppressed event costs one predictable conditional plus one untaken call.
// Returns the report-block insertion point and the continuation point.
func (bld *Builder) GuardWithSampling(cond checkir.Value, p Point) (reportPt, contPt Point) {
	samplePt, contPt := bld.SplitAndBranchIf(cond, p)
	oracle := bld.Fn.Mod.DeclareExtern(SymShouldSample, checkir.I32, nil, 0)
	call := bld.Insert(samplePt, checkir.Call(oracle))
	sampled := bld.Insert(Point{samplePt.Block, 1}, checkir.ICmp(checkir.PredNE, call, checkir.ConstInt(checkir.I32, 0)))

	reportBlk := bld.Fn.NewBlockAfter(samplePt.Block, samplePt.Block.Name+".report")
	tail := contPt.Block
	samplePt.Block.SetCondBr(sampled, reportBlk, tail)
	reportBlk.SetBr(tail)
	return Point{Block: reportBlk, Index: 0}, contPt
}

// EmitReportCall declares the runtime entry point for sym (once per module)
// and emits the call at p with a leading program-counter argument taken
// from the return-address stand-in at depth 0. Returns the point after the
// emitted call.
func (bld *Builder) EmitReportCall(sym string, p Point, payload ...checkir.Value) Point {
	sig, ok := abiSignatures[sym]
	if !ok {
		panic("probe: unknown runtime symbol " + sym)
	}
	decl := bld.Fn.Mod.DeclareExtern(sym, checkir.Void, sig, 0)
	pc := bld.Insert(p, checkir.PC())
	args := append([]checkir.Value{pc}, payload...)
	bld.Insert(Point{p.Block, p.Index + 1}, checkir.Call(decl, args...))
	return Point{p.Block, p.Index + 2}
}

// InternedGlobalString returns the module's read-only global for s,
// deduplicated by content.
func (bld *Builder) InternedGlobalString(s string) *checkir.Global {
	return bld.Fn.Mod.InternString(s)
}
