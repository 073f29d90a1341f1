package instrument_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/SamarthBhatia/Trace2Pass/pkg/checkir"
	"github.com/SamarthBhatia/Trace2Pass/pkg/instrument"
	"github.com/SamarthBhatia/Trace2Pass/pkg/probe"
)

var mulBigOperand int64 = 1_000_000

// fakeRuntime captures probe calls instead of reporting, so each
// instrumentor can be checked in isolation from the real runtime.
type fakeRuntime struct {
	sample   uint64 // oracle answer
	overflow [][]uint64
	divzero  []struct {
		op                string
		dividend, divisor int64
	}
	signconv []struct {
		orig             int64
		cast             uint64
		srcBits, dstBits uint64
	}
	bounds []struct {
		ptr    uint64
		offset int64
		size   uint64
	}
	unreachable []string
	pure        []struct {
		name              string
		a0, a1, result    int64
	}
	loops []struct {
		name             string
		count, threshold uint64
	}
}

func newFakeRuntime() *fakeRuntime { return &fakeRuntime{sample: 1} }

func (f *fakeRuntime) externs() map[string]checkir.ExternFunc {
	return map[string]checkir.ExternFunc{
		probe.SymShouldSample: func(*checkir.Image, []uint64) uint64 { return f.sample },
		probe.SymReportOverflow: func(img *checkir.Image, args []uint64) uint64 {
			f.overflow = append(f.overflow, args)
			return 0
		},
		probe.SymReportDivByZero: func(img *checkir.Image, args []uint64) uint64 {
			s, _ := img.StringAt(args[1])
			f.divzero = append(f.divzero, struct {
				op                string
				dividend, divisor int64
			}{s, int64(args[2]), int64(args[3])})
			return 0
		},
		probe.SymReportSignConv: func(img *checkir.Image, args []uint64) uint64 {
			f.signconv = append(f.signconv, struct {
				orig             int64
				cast             uint64
				srcBits, dstBits uint64
			}{int64(args[1]), args[2], args[3], args[4]})
			return 0
		},
		probe.SymReportBounds: func(img *checkir.Image, args []uint64) uint64 {
			f.bounds = append(f.bounds, struct {
				ptr    uint64
				offset int64
				size   uint64
			}{args[1], int64(args[2]), args[3]})
			return 0
		},
		probe.SymReportUnreachable: func(img *checkir.Image, args []uint64) uint64 {
			s, _ := img.StringAt(args[1])
			f.unreachable = append(f.unreachable, s)
			return 0
		},
		probe.SymCheckPure: func(img *checkir.Image, args []uint64) uint64 {
			s, _ := img.StringAt(args[1])
			f.pure = append(f.pure, struct {
				name              string
				a0, a1, result    int64
			}{s, int64(args[2]), int64(args[3]), int64(args[4])})
			return 0
		},
		probe.SymReportLoopBound: func(img *checkir.Image, args []uint64) uint64 {
			s, _ := img.StringAt(args[1])
			f.loops = append(f.loops, struct {
				name             string
				count, threshold uint64
			}{s, args[2], args[3]})
			return 0
		},
	}
}

func runPass(t *testing.T, name string, cfg instrument.Config, fn *checkir.Function) {
	t.Helper()
	p, ok := instrument.Lookup(name, cfg)
	if !ok {
		t.Fatalf("pass %q not registered", name)
	}
	if !p.Run(fn) {
		t.Fatalf("pass %q did not modify the function", name)
	}
}

// -- Arithmetic overflow --

func mulFunc(width checkir.Type) (*checkir.Module, *checkir.Function) {
	mod := checkir.NewModule("test")
	a := &checkir.Param{Name: "a", Ty: width}
	b := &checkir.Param{Name: "b", Ty: width}
	fn := mod.NewFunction("mulThem", width, a, b)
	entry := fn.NewBlock("entry")
	prod := entry.Add(checkir.BinOp(checkir.OpMul, a, b))
	entry.SetRet(prod)
	return mod, fn
}

func TestOverflowInstrumentorReportsAndPreservesValue(t *testing.T) {
	t.Parallel()
	mod, fn := mulFunc(checkir.I32)
	runPass(t, "trace2pass-overflow", instrument.DefaultConfig(), fn)

	rt := newFakeRuntime()
	img := checkir.NewImage(mod, rt.externs())

	// Overflowing input: report fires, result is the modular product.
	got, err := img.Call("mulThem", 1_000_000, 1_000_000)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if want := uint64(uint32(mulBigOperand * mulBigOperand)); got != want {
		t.Errorf("instrumented result %d, want wrapped %d", got, want)
	}
	if len(rt.overflow) != 1 {
		t.Fatalf("expected 1 overflow report, got %d", len(rt.overflow))
	}
	if a, b := int64(rt.overflow[0][2]), int64(rt.overflow[0][3]); a != 1_000_000 || b != 1_000_000 {
		t.Errorf("operands (%d, %d), want (1000000, 1000000)", a, b)
	}

	// Clean input: no report, exact product.
	rt.overflow = nil
	got, _ = img.Call("mulThem", 6, 7)
	if got != 42 || len(rt.overflow) != 0 {
		t.Errorf("clean input: got %d with %d reports", got, len(rt.overflow))
	}
}

func TestOverflowSignednessFromFlags(t *testing.T) {
	t.Parallel()
	mod := checkir.NewModule("test")
	a := &checkir.Param{Name: "a", Ty: checkir.I32}
	b := &checkir.Param{Name: "b", Ty: checkir.I32}
	fn := mod.NewFunction("uadd", checkir.I32, a, b)
	entry := fn.NewBlock("entry")
	sum := checkir.BinOp(checkir.OpAdd, a, b)
	sum.NUW = true
	entry.Add(sum)
	entry.SetRet(sum)
	runPass(t, "trace2pass-overflow", instrument.DefaultConfig(), fn)

	rt := newFakeRuntime()
	img := checkir.NewImage(mod, rt.externs())

	// 0x7fffffff + 1 overflows signed but not unsigned: an nuw-only add
	// must stay quiet here.
	if _, err := img.Call("uadd", 0x7fffffff, 1); err != nil {
		t.Fatalf("eval: %v", err)
	}
	if len(rt.overflow) != 0 {
		t.Error("nuw add reported a signed overflow")
	}
	// 0xffffffff + 1 carries: now it must fire.
	img.Call("uadd", 0xffffffff, 1)
	if len(rt.overflow) != 1 {
		t.Errorf("unsigned carry not reported (%d reports)", len(rt.overflow))
	}
}

func TestShiftOutOfRange(t *testing.T) {
	t.Parallel()
	mod := checkir.NewModule("test")
	a := &checkir.Param{Name: "a", Ty: checkir.I32}
	s := &checkir.Param{Name: "s", Ty: checkir.I32}
	fn := mod.NewFunction("shl", checkir.I32, a, s)
	entry := fn.NewBlock("entry")
	r := entry.Add(checkir.BinOp(checkir.OpShl, a, s))
	entry.SetRet(r)
	runPass(t, "trace2pass-overflow", instrument.DefaultConfig(), fn)

	rt := newFakeRuntime()
	img := checkir.NewImage(mod, rt.externs())
	if _, err := img.Call("shl", 1, 3); err != nil {
		t.Fatalf("eval: %v", err)
	}
	if len(rt.overflow) != 0 {
		t.Error("in-range shift reported")
	}
	img.Call("shl", 1, 32)
	if len(rt.overflow) != 1 {
		t.Errorf("out-of-range shift not reported (%d)", len(rt.overflow))
	}
}

// -- Division by zero --

func TestDivZeroInstrumentor(t *testing.T) {
	t.Parallel()
	mod := checkir.NewModule("test")
	a := &checkir.Param{Name: "a", Ty: checkir.I32}
	b := &checkir.Param{Name: "b", Ty: checkir.I32}
	fn := mod.NewFunction("div", checkir.I32, a, b)
	entry := fn.NewBlock("entry")
	q := entry.Add(checkir.BinOp(checkir.OpSDiv, a, b))
	entry.SetRet(q)
	runPass(t, "trace2pass-divzero", instrument.DefaultConfig(), fn)

	rt := newFakeRuntime()
	img := checkir.NewImage(mod, rt.externs())

	// Quotient untouched on the safe path.
	got, err := img.Call("div", 42, 6)
	if err != nil || got != 7 {
		t.Fatalf("div(42, 6) = (%d, %v)", got, err)
	}
	if len(rt.divzero) != 0 {
		t.Error("safe division reported")
	}

	// Zero divisor: report first, then the platform trap still happens.
	_, err = img.Call("div", 5, 0)
	var trap *checkir.Trap
	if !errors.As(err, &trap) {
		t.Fatalf("division by zero did not trap: %v", err)
	}
	if len(rt.divzero) != 1 {
		t.Fatalf("expected 1 division report, got %d", len(rt.divzero))
	}
	if d := rt.divzero[0]; d.op != "sdiv" || d.dividend != 5 || d.divisor != 0 {
		t.Errorf("report payload %+v", d)
	}
}

// -- Sign conversion --

func TestSignConversionInstrumentor(t *testing.T) {
	t.Parallel()
	mod := checkir.NewModule("test")
	a := &checkir.Param{Name: "a", Ty: checkir.I32}
	fn := mod.NewFunction("toUnsigned", checkir.I32, a)
	entry := fn.NewBlock("entry")
	c := entry.Add(checkir.Reinterpret(a, checkir.I32))
	entry.SetRet(c)
	runPass(t, "trace2pass-signconv", instrument.DefaultConfig(), fn)

	rt := newFakeRuntime()
	img := checkir.NewImage(mod, rt.externs())

	// Non-negative source: quiet.
	got, err := img.Call("toUnsigned", 7)
	if err != nil || got != 7 {
		t.Fatalf("toUnsigned(7) = (%d, %v)", got, err)
	}
	if len(rt.signconv) != 0 {
		t.Error("non-negative source reported")
	}

	// (unsigned)(-1): cast result unchanged, one report with both views.
	got, _ = img.Call("toUnsigned", uint64(uint32(0xffffffff)))
	if got != 0xffffffff {
		t.Errorf("cast result %d, want 4294967295", got)
	}
	if len(rt.signconv) != 1 {
		t.Fatalf("expected 1 sign report, got %d", len(rt.signconv))
	}
	sc := rt.signconv[0]
	if sc.orig != -1 || sc.cast != 0xffffffff || sc.srcBits != 32 || sc.dstBits != 32 {
		t.Errorf("report payload %+v", sc)
	}
}

func TestSignConversionWideningZext(t *testing.T) {
	t.Parallel()
	mod := checkir.NewModule("test")
	a := &checkir.Param{Name: "a", Ty: checkir.I16}
	fn := mod.NewFunction("widen", checkir.I64, a)
	entry := fn.NewBlock("entry")
	c := entry.Add(checkir.ZExt(a, checkir.I64))
	entry.SetRet(c)
	runPass(t, "trace2pass-signconv", instrument.DefaultConfig(), fn)

	rt := newFakeRuntime()
	img := checkir.NewImage(mod, rt.externs())
	got, _ := img.Call("widen", uint64(uint16(0xffff))) // -1 as i16
	if got != 0xffff {
		t.Errorf("zext result %d, want 65535", got)
	}
	if len(rt.signconv) != 1 {
		t.Fatalf("expected 1 report, got %d", len(rt.signconv))
	}
	if sc := rt.signconv[0]; sc.orig != -1 || sc.srcBits != 16 || sc.dstBits != 64 {
		t.Errorf("report payload %+v", sc)
	}
}

// -- Bounds --

func TestBoundsInstrumentor(t *testing.T) {
	t.Parallel()
	mod := checkir.NewModule("test")
	p := &checkir.Param{Name: "p", Ty: checkir.Ptr}
	i := &checkir.Param{Name: "i", Ty: checkir.I32}
	fn := mod.NewFunction("index", checkir.I64, p, i)
	entry := fn.NewBlock("entry")
	addr := entry.Add(checkir.Addr(p, []int64{8, 8}, checkir.ConstInt(checkir.I32, 0), i))
	ld := entry.Add(checkir.Load(addr))
	entry.SetRet(ld)
	runPass(t, "trace2pass-bounds", instrument.DefaultConfig(), fn)

	rt := newFakeRuntime()
	img := checkir.NewImage(mod, rt.externs())

	if _, err := img.Call("index", 0x5000, 3); err != nil {
		t.Fatalf("eval: %v", err)
	}
	if len(rt.bounds) != 0 {
		t.Error("non-negative index reported")
	}

	img.Call("index", 0x5000, uint64(uint32(0xffffffff))) // arr[-1]
	if len(rt.bounds) != 1 {
		t.Fatalf("expected 1 bounds report, got %d", len(rt.bounds))
	}
	bv := rt.bounds[0]
	if bv.ptr != 0x5000 || bv.offset != -1 || bv.size != 0 {
		t.Errorf("report payload %+v", bv)
	}
}

// -- Unreachable --

func TestUnreachableInstrumentor(t *testing.T) {
	t.Parallel()
	mod := checkir.NewModule("test")
	a := &checkir.Param{Name: "a", Ty: checkir.I32}
	fn := mod.NewFunction("guard", checkir.I32, a)
	entry := fn.NewBlock("entry")
	dead := fn.NewBlock("dead")
	ok := fn.NewBlock("ok")
	cond := entry.Add(checkir.ICmp(checkir.PredEQ, a, checkir.ConstInt(checkir.I32, 0)))
	entry.SetCondBr(cond, dead, ok)
	dead.SetUnreachable()
	ok.SetRet(a)
	runPass(t, "trace2pass-unreachable", instrument.DefaultConfig(), fn)

	rt := newFakeRuntime()
	img := checkir.NewImage(mod, rt.externs())

	// Normal path untouched.
	got, err := img.Call("guard", 9)
	if err != nil || got != 9 {
		t.Fatalf("guard(9) = (%d, %v)", got, err)
	}

	// Crossing: one report, then the unreachable still traps.
	_, err = img.Call("guard", 0)
	var trap *checkir.Trap
	if !errors.As(err, &trap) || trap.Reason != "unreachable executed" {
		t.Fatalf("expected preserved unreachable trap, got %v", err)
	}
	if len(rt.unreachable) != 1 {
		t.Fatalf("expected 1 unreachable report, got %d", len(rt.unreachable))
	}
	if rt.unreachable[0] != "guard:dead" {
		t.Errorf("message %q", rt.unreachable[0])
	}
}

// -- Pure consistency --

func TestPureInstrumentorForwardsObservations(t *testing.T) {
	t.Parallel()
	mod := checkir.NewModule("test")
	pure := mod.DeclareExtern("math_add", checkir.I32,
		[]checkir.Type{checkir.I32, checkir.I32}, checkir.AttrReadNone)
	a := &checkir.Param{Name: "a", Ty: checkir.I32}
	b := &checkir.Param{Name: "b", Ty: checkir.I32}
	fn := mod.NewFunction("caller", checkir.I32, a, b)
	entry := fn.NewBlock("entry")
	call := entry.Add(checkir.Call(pure, a, b))
	entry.SetRet(call)
	runPass(t, "trace2pass-pure", instrument.DefaultConfig(), fn)

	rt := newFakeRuntime()
	externs := rt.externs()
	externs["math_add"] = func(_ *checkir.Image, args []uint64) uint64 {
		return (args[0] + args[1]) & 0xffffffff
	}
	img := checkir.NewImage(mod, externs)

	got, err := img.Call("caller", 2, 3)
	if err != nil || got != 5 {
		t.Fatalf("caller(2,3) = (%d, %v)", got, err)
	}
	if len(rt.pure) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(rt.pure))
	}
	ob := rt.pure[0]
	if ob.name != "math_add" || ob.a0 != 2 || ob.a1 != 3 || ob.result != 5 {
		t.Errorf("observation %+v", ob)
	}
}

func TestPureInstrumentorSkipsImpureAndWideCalls(t *testing.T) {
	t.Parallel()
	mod := checkir.NewModule("test")
	impure := mod.DeclareExtern("getenv_hash", checkir.I64, []checkir.Type{checkir.I64}, 0)
	wide := mod.DeclareExtern("mix3", checkir.I64,
		[]checkir.Type{checkir.I64, checkir.I64, checkir.I64}, checkir.AttrReadNone)
	fn := mod.NewFunction("caller", checkir.Void)
	entry := fn.NewBlock("entry")
	one := checkir.ConstInt(checkir.I64, 1)
	entry.Add(checkir.Call(impure, one))
	entry.Add(checkir.Call(wide, one, one, one))
	entry.SetRet(nil)

	p, _ := instrument.Lookup("trace2pass-pure", instrument.DefaultConfig())
	if p.Run(fn) {
		t.Error("pure instrumentor rewrote non-candidate calls")
	}
}

// -- Loop bound --

func loopFunc(mod *checkir.Module, n uint64) *checkir.Function {
	// for (cell = 0; cell < n; cell++) {}
	cell := mod.NewCounter("iv")
	fn := mod.NewFunction("spin", checkir.I64)
	entry := fn.NewBlock("entry")
	header := fn.NewBlock("header")
	body := fn.NewBlock("body")
	exit := fn.NewBlock("exit")

	entry.Add(checkir.Store(cell, checkir.ConstInt(checkir.I64, 0)))
	entry.SetBr(header)

	v := header.Add(checkir.Load(cell))
	cond := header.Add(checkir.ICmp(checkir.PredULT, v, checkir.ConstUint(checkir.I64, n)))
	header.SetCondBr(cond, body, exit)

	v2 := body.Add(checkir.Load(cell))
	v3 := body.Add(checkir.BinOp(checkir.OpAdd, v2, checkir.ConstInt(checkir.I64, 1)))
	body.Add(checkir.Store(cell, v3))
	body.SetBr(header)

	last := exit.Add(checkir.Load(cell))
	exit.SetRet(last)
	return fn
}

func TestLoopBoundInstrumentor(t *testing.T) {
	t.Parallel()
	mod := checkir.NewModule("test")
	fn := loopFunc(mod, 2000)
	cfg := instrument.Config{LoopBoundThreshold: 1000}
	runPass(t, "trace2pass-loopbound", cfg, fn)

	rt := newFakeRuntime()
	img := checkir.NewImage(mod, rt.externs())
	got, err := img.Call("spin")
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if got != 2000 {
		t.Errorf("loop result %d, want 2000 (value transparency)", got)
	}
	// The cap fires exactly once, on the threshold -> threshold+1 edge.
	if len(rt.loops) != 1 {
		t.Fatalf("expected exactly 1 loop report, got %d", len(rt.loops))
	}
	lr := rt.loops[0]
	if lr.count != 1001 || lr.threshold != 1000 {
		t.Errorf("report payload %+v", lr)
	}
	if lr.name != "spin:header" {
		t.Errorf("loop name %q", lr.name)
	}
}

func TestLoopBoundBelowThresholdIsSilent(t *testing.T) {
	t.Parallel()
	mod := checkir.NewModule("test")
	fn := loopFunc(mod, 500)
	runPass(t, "trace2pass-loopbound", instrument.Config{LoopBoundThreshold: 1000}, fn)

	rt := newFakeRuntime()
	img := checkir.NewImage(mod, rt.externs())
	if _, err := img.Call("spin"); err != nil {
		t.Fatalf("eval: %v", err)
	}
	if len(rt.loops) != 0 {
		t.Errorf("under-threshold loop reported %d times", len(rt.loops))
	}
}

// -- Combined pass, config, registry --

func TestCombinedPassRespectsConfig(t *testing.T) {
	t.Parallel()
	mod, fn := mulFunc(checkir.I32)
	cfg := instrument.Config{Checks: map[string]bool{instrument.CheckArithOverflow: false}}
	p, ok := instrument.Lookup(instrument.CombinedName, cfg)
	if !ok {
		t.Fatal("combined pass not registered")
	}
	if p.Run(fn) {
		t.Error("combined pass modified a function whose only candidates were disabled")
	}
	_ = mod
}

func TestCombinedPassIsIdempotentPerSite(t *testing.T) {
	t.Parallel()
	mod, fn := mulFunc(checkir.I32)
	cfg := instrument.DefaultConfig()
	p, _ := instrument.Lookup(instrument.CombinedName, cfg)
	p.Run(fn)

	before := len(mod.Externs)
	if p.Run(fn) {
		t.Error("second run re-instrumented already-probed sites")
	}
	if len(mod.Externs) != before {
		t.Error("second run declared new externs")
	}
}

func TestRuntimeFunctionsAreNeverInstrumented(t *testing.T) {
	t.Parallel()
	mod := checkir.NewModule("test")
	a := &checkir.Param{Name: "a", Ty: checkir.I32}
	fn := mod.NewFunction("trace2pass_report_overflow", checkir.I32, a)
	entry := fn.NewBlock("entry")
	r := entry.Add(checkir.BinOp(checkir.OpMul, a, a))
	entry.SetRet(r)

	p, _ := instrument.Lookup(instrument.CombinedName, instrument.DefaultConfig())
	if p.Run(fn) {
		t.Error("runtime function was instrumented")
	}
}

func TestLookupUnknownNameLeavesCompilationUnaffected(t *testing.T) {
	t.Parallel()
	if _, ok := instrument.Lookup("no-such-pass", instrument.DefaultConfig()); ok {
		t.Error("unknown pass name resolved")
	}
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "checks.yaml")
	body := "checks:\n  loop_bound: false\n  sign_conversion: true\nloop_bound_threshold: 500\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := instrument.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Enabled(instrument.CheckLoopBound) {
		t.Error("disabled check still enabled")
	}
	if !cfg.Enabled(instrument.CheckArithOverflow) {
		t.Error("unlisted check not enabled by default")
	}
	if cfg.LoopThreshold() != 500 {
		t.Errorf("threshold %d, want 500", cfg.LoopThreshold())
	}

	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("checks:\n  loop_bonud: true\n"), 0o644)
	if _, err := instrument.LoadConfig(bad); err == nil {
		t.Error("typoed check key accepted")
	}
}

func TestDefaultLoopThreshold(t *testing.T) {
	t.Parallel()
	if instrument.DefaultConfig().LoopThreshold() != 10_000_000 {
		t.Errorf("default loop threshold is %d, want 10000000", instrument.DefaultConfig().LoopThreshold())
	}
}
