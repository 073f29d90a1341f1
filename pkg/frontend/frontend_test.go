package frontend_test

import (
	"testing"

	"github.com/SamarthBhatia/Trace2Pass/pkg/checkir"
	"github.com/SamarthBhatia/Trace2Pass/pkg/instrument"
	"github.com/SamarthBhatia/Trace2Pass/pkg/passdiff"
	"github.com/SamarthBhatia/Trace2Pass/pkg/testutil"
)

func TestConvertArithmeticFunction(t *testing.T) {
	t.Parallel()
	src := `package main

func combine(a, b int32) int32 {
	return a*b + b
}

func main() {}
`
	mods := testutil.ConvertSource(t, src)
	fn := testutil.FindFunction(t, mods, "combine")

	var muls, adds int
	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			switch in.Op {
			case checkir.OpMul:
				muls++
			case checkir.OpAdd:
				adds++
			}
		}
	}
	if muls != 1 || adds != 1 {
		t.Errorf("converted %d muls and %d adds, want 1 and 1:\n%s", muls, adds, fn)
	}
	if fn.Ret != checkir.I32 {
		t.Errorf("return type %s, want i32", fn.Ret)
	}
}

func TestConvertBranchesAndDivision(t *testing.T) {
	t.Parallel()
	src := `package main

func safeDiv(a, b int) int {
	if b == 0 {
		return 0
	}
	return a / b
}

func main() {}
`
	mods := testutil.ConvertSource(t, src)
	fn := testutil.FindFunction(t, mods, "safeDiv")

	var condbrs, sdivs int
	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			if in.Op == checkir.OpSDiv {
				sdivs++
			}
		}
		if b.Term != nil && b.Term.Op == checkir.OpCondBr {
			condbrs++
		}
	}
	if condbrs != 1 || sdivs != 1 {
		t.Errorf("converted %d condbrs and %d sdivs, want 1 and 1:\n%s", condbrs, sdivs, fn)
	}
}

func TestConvertedFunctionIsInstrumentable(t *testing.T) {
	t.Parallel()
	src := `package main

func mulBig(a, b int32) int32 {
	return a * b
}

func main() {}
`
	mods := testutil.ConvertSource(t, src)
	fn := testutil.FindFunction(t, mods, "mulBig")

	before := passdiff.Take(fn)
	p, _ := instrument.Lookup(instrument.CombinedName, instrument.DefaultConfig())
	if !p.Run(fn) {
		t.Fatal("combined pass found nothing to do in converted IR")
	}
	after := passdiff.Take(fn)
	if after.InstructionCount <= before.InstructionCount {
		t.Errorf("instrumentation did not grow the function: %d -> %d",
			before.InstructionCount, after.InstructionCount)
	}
}

func TestUnsupportedConstructsBecomeOpaque(t *testing.T) {
	t.Parallel()
	src := `package main

func useMap(m map[string]int, k string) int {
	return m[k]
}

func main() {}
`
	mods := testutil.ConvertSource(t, src)
	fn := testutil.FindFunction(t, mods, "useMap")

	opaques := 0
	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			if in.Op == checkir.OpOpaque {
				opaques++
			}
		}
	}
	if opaques == 0 {
		t.Errorf("map lookup converted without opaque nodes:\n%s", fn)
	}
}
