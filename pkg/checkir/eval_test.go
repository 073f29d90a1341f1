package checkir_test

import (
	"errors"
	"testing"

	"github.com/SamarthBhatia/Trace2Pass/pkg/checkir"
)

var mulBigOperand int64 = 1_000_000

// evalBin builds and evaluates a single binary operation over i32 inputs.
func evalBin(t *testing.T, op checkir.Op, a, b uint64) (uint64, error) {
	t.Helper()
	mod := checkir.NewModule("test")
	pa := &checkir.Param{Name: "a", Ty: checkir.I32}
	pb := &checkir.Param{Name: "b", Ty: checkir.I32}
	fn := mod.NewFunction("f", checkir.I32, pa, pb)
	entry := fn.NewBlock("entry")
	r := entry.Add(checkir.BinOp(op, pa, pb))
	entry.SetRet(r)
	return checkir.NewImage(mod, nil).Call("f", a, b)
}

func TestEvalWrappingArithmetic(t *testing.T) {
	t.Parallel()
	got, err := evalBin(t, checkir.OpMul, 1_000_000, 1_000_000)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	// Signed 32-bit 10^12 wraps to the modular product.
	want := uint64(uint32(mulBigOperand * mulBigOperand))
	if got != want {
		t.Errorf("mul wrapped to %d, want %d", got, want)
	}
}

func TestEvalDivisionByZeroTraps(t *testing.T) {
	t.Parallel()
	_, err := evalBin(t, checkir.OpSDiv, 10, 0)
	var trap *checkir.Trap
	if !errors.As(err, &trap) {
		t.Fatalf("expected trap, got %v", err)
	}
	if trap.Reason != "division by zero" {
		t.Errorf("unexpected trap reason %q", trap.Reason)
	}
}

func TestEvalSignedDivision(t *testing.T) {
	t.Parallel()
	got, err := evalBin(t, checkir.OpSDiv, uint64(uint32(0xfffffff9)), 2) // -7 / 2
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if checkir.SignExtend(got, 32) != -3 {
		t.Errorf("sdiv(-7, 2) = %d, want -3", checkir.SignExtend(got, 32))
	}
}

func TestEvalOverflowPrimitive(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		op      checkir.Op
		signed  bool
		a, b    uint64
		wantOvf bool
	}{
		{"smul overflow", checkir.OpMul, true, 1_000_000, 1_000_000, true},
		{"smul clean", checkir.OpMul, true, 1000, 1000, false},
		{"sadd boundary", checkir.OpAdd, true, 0x7fffffff, 1, true},
		{"sadd clean", checkir.OpAdd, true, 0x7ffffffe, 1, false},
		{"uadd carry", checkir.OpAdd, false, 0xffffffff, 1, true},
		{"usub borrow", checkir.OpSub, false, 0, 1, true},
		{"ssub clean", checkir.OpSub, true, 0, 1, false},
		{"ssub boundary", checkir.OpSub, true, uint64(uint32(0x80000000)), 1, true},
		{"umul overflow", checkir.OpMul, false, 0x10000, 0x10000, true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			mod := checkir.NewModule("test")
			pa := &checkir.Param{Name: "a", Ty: checkir.I32}
			pb := &checkir.Param{Name: "b", Ty: checkir.I32}
			fn := mod.NewFunction("f", checkir.I1, pa, pb)
			entry := fn.NewBlock("entry")
			ov := entry.Add(checkir.ArithOverflow(tc.op, tc.signed, pa, pb))
			flag := entry.Add(checkir.Extract(ov, 1))
			entry.SetRet(flag)

			got, err := checkir.NewImage(mod, nil).Call("f", tc.a, tc.b)
			if err != nil {
				t.Fatalf("eval: %v", err)
			}
			if (got != 0) != tc.wantOvf {
				t.Errorf("overflow bit = %d, want %v", got, tc.wantOvf)
			}
		})
	}
}

func TestEvalOverflowValueMatchesPlainOp(t *testing.T) {
	t.Parallel()
	// The primitive's element 0 must equal the wrapped plain operation for
	// the same inputs: that is what value transparency rests on.
	mod := checkir.NewModule("test")
	pa := &checkir.Param{Name: "a", Ty: checkir.I32}
	pb := &checkir.Param{Name: "b", Ty: checkir.I32}
	fn := mod.NewFunction("f", checkir.I1, pa, pb)
	entry := fn.NewBlock("entry")
	plain := entry.Add(checkir.BinOp(checkir.OpMul, pa, pb))
	ov := entry.Add(checkir.ArithOverflow(checkir.OpMul, true, pa, pb))
	wrapped := entry.Add(checkir.Extract(ov, 0))
	same := entry.Add(checkir.ICmp(checkir.PredEQ, plain, wrapped))
	entry.SetRet(same)

	img := checkir.NewImage(mod, nil)
	for _, args := range [][2]uint64{{3, 4}, {1_000_000, 1_000_000}, {0xffffffff, 0xffffffff}} {
		got, err := img.Call("f", args[0], args[1])
		if err != nil {
			t.Fatalf("eval: %v", err)
		}
		if got != 1 {
			t.Errorf("wrapped result diverges from plain mul for %v", args)
		}
	}
}

func TestEvalUnreachableTraps(t *testing.T) {
	t.Parallel()
	mod := checkir.NewModule("test")
	fn := mod.NewFunction("f", checkir.Void)
	fn.NewBlock("entry").SetUnreachable()

	_, err := checkir.NewImage(mod, nil).Call("f")
	var trap *checkir.Trap
	if !errors.As(err, &trap) || trap.Reason != "unreachable executed" {
		t.Fatalf("expected unreachable trap, got %v", err)
	}
}

func TestEvalCountersPersistAcrossCalls(t *testing.T) {
	t.Parallel()
	mod := checkir.NewModule("test")
	ctr := mod.NewCounter("calls")
	fn := mod.NewFunction("bump", checkir.I64)
	entry := fn.NewBlock("entry")
	ld := entry.Add(checkir.Load(ctr))
	inc := entry.Add(checkir.BinOp(checkir.OpAdd, ld, checkir.ConstInt(checkir.I64, 1)))
	entry.Add(checkir.Store(ctr, inc))
	entry.SetRet(inc)

	img := checkir.NewImage(mod, nil)
	for want := uint64(1); want <= 3; want++ {
		got, err := img.Call("bump")
		if err != nil {
			t.Fatalf("eval: %v", err)
		}
		if got != want {
			t.Errorf("call %d returned %d", want, got)
		}
	}
	if img.CounterValue(ctr) != 3 {
		t.Errorf("counter cell holds %d, want 3", img.CounterValue(ctr))
	}
}

func TestEvalPCStableAcrossCalls(t *testing.T) {
	t.Parallel()
	mod := checkir.NewModule("test")
	fn := mod.NewFunction("f", checkir.I64)
	entry := fn.NewBlock("entry")
	pc := entry.Add(checkir.PC())
	entry.SetRet(pc)

	img := checkir.NewImage(mod, nil)
	first, err := img.Call("f")
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	second, _ := img.Call("f")
	if first == 0 || first != second {
		t.Errorf("pc not stable across calls: %d vs %d", first, second)
	}
}

func TestEvalExternDispatchAndStrings(t *testing.T) {
	t.Parallel()
	mod := checkir.NewModule("test")
	decl := mod.DeclareExtern("sink", checkir.I64, []checkir.Type{checkir.Ptr, checkir.I64}, 0)
	g := mod.InternString("hello probe")
	fn := mod.NewFunction("f", checkir.I64)
	entry := fn.NewBlock("entry")
	call := entry.Add(checkir.Call(decl, g, checkir.ConstInt(checkir.I64, 41)))
	entry.SetRet(call)

	var gotStr string
	externs := map[string]checkir.ExternFunc{
		"sink": func(img *checkir.Image, args []uint64) uint64 {
			s, ok := img.StringAt(args[0])
			if !ok {
				return 0
			}
			gotStr = s
			return args[1] + 1
		},
	}
	got, err := checkir.NewImage(mod, externs).Call("f")
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if got != 42 || gotStr != "hello probe" {
		t.Errorf("extern dispatch got (%d, %q)", got, gotStr)
	}
}

func TestEvalStepLimit(t *testing.T) {
	t.Parallel()
	mod := checkir.NewModule("test")
	fn := mod.NewFunction("spin", checkir.Void)
	b := fn.NewBlock("entry")
	b.SetBr(b)

	img := checkir.NewImage(mod, nil)
	img.MaxSteps = 1000
	if _, err := img.Call("spin"); err == nil {
		t.Fatal("expected step-limit error for infinite loop")
	}
}
