package checkir

import (
	"fmt"
	"hash/fnv"
	"math/bits"
)

// The evaluator executes checkir functions directly. It exists so the
// instrumentors' contracts (value transparency, report-on-violation) can be
// exercised end to end without a native backend: a probe's extern calls are
// dispatched through a caller-supplied symbol table, which is how the
// runtime package exposes its ABI to instrumented code under test.

// ExternFunc implements an external symbol for the evaluator. Arguments and
// result travel as 64-bit patterns; pointer arguments can be resolved back
// to interned strings through Image.StringAt.
type ExternFunc func(img *Image, args []uint64) uint64

// Trap reports that execution hit a defined trap point: division by zero,
// a reached unreachable, or an unresolved symbol.
type Trap struct {
	Reason string
	Fn     string
	Block  string
}

func (t *Trap) Error() string {
	return fmt.Sprintf("trap in @%s/%s: %s", t.Fn, t.Block, t.Reason)
}

// Image is the mutable runtime state of one module: global cells, interned
// string addresses and the extern symbol table. Counters live here for the
// life of the image, which models their process lifetime.
type Image struct {
	Mod     *Module
	Externs map[string]ExternFunc

	// MaxSteps bounds total executed instructions per Call. Zero means the
	// default of 1<<30.
	MaxSteps int64

	mem     map[uint64]uint64
	strAddr map[*Global]uint64
	addrStr map[uint64]string
	ctrAddr map[*GlobalVar]uint64
	pcs     map[*Instr]uint64
}

const (
	strBase = uint64(0x0001_0000)
	ctrBase = uint64(0x0010_0000)
)

// NewImage prepares an execution image for the module. The externs table
// may be nil when the module calls nothing external.
func NewImage(m *Module, externs map[string]ExternFunc) *Image {
	img := &Image{
		Mod:     m,
		Externs: externs,
		mem:     make(map[uint64]uint64),
		strAddr: make(map[*Global]uint64),
		addrStr: make(map[uint64]string),
		ctrAddr: make(map[*GlobalVar]uint64),
		pcs:     make(map[*Instr]uint64),
	}
	for i, g := range m.Strings {
		a := strBase + uint64(i)*0x100
		img.strAddr[g] = a
		img.addrStr[a] = g.Str
	}
	for i, c := range m.Counters {
		img.ctrAddr[c] = ctrBase + uint64(i)*8
	}
	return img
}

// StringAt resolves an address back to the interned string stored there.
func (img *Image) StringAt(addr uint64) (string, bool) {
	s, ok := img.addrStr[addr]
	return s, ok
}

// CounterValue reads a counter cell, for inspection in tests and tooling.
func (img *Image) CounterValue(c *GlobalVar) uint64 {
	return img.mem[img.ctrAddr[c]]
}

// Call executes the named function with the given argument patterns.
func (img *Image) Call(name string, args ...uint64) (uint64, error) {
	f, ok := img.Mod.Function(name)
	if !ok {
		return 0, fmt.Errorf("checkir: no function @%s", name)
	}
	return img.CallFunc(f, args...)
}

// CallFunc executes f. Arguments beyond the parameter list are ignored;
// missing arguments read as zero.
func (img *Image) CallFunc(f *Function, args ...uint64) (uint64, error) {
	if f.Entry() == nil {
		return 0, fmt.Errorf("checkir: @%s has no body", f.Name)
	}
	limit := img.MaxSteps
	if limit == 0 {
		limit = 1 << 30
	}
	params := make(map[*Param]uint64, len(f.Params))
	for i, p := range f.Params {
		if i < len(args) {
			params[p] = args[i]
		} else {
			params[p] = 0
		}
	}
	fr := &frame{img: img, fn: f, params: params, regs: make(map[*Instr]uint64), ovf: make(map[*Instr]bool)}

	blk := f.Entry()
	var steps int64
	for {
		for _, in := range blk.Instrs {
			steps++
			if steps > limit {
				return 0, fmt.Errorf("checkir: @%s exceeded %d steps", f.Name, limit)
			}
			if err := fr.exec(in); err != nil {
				return 0, err
			}
		}
		t := blk.Term
		if t == nil {
			return 0, &Trap{Reason: "block without terminator", Fn: f.Name, Block: blk.Name}
		}
		steps++
		if steps > limit {
			return 0, fmt.Errorf("checkir: @%s exceeded %d steps", f.Name, limit)
		}
		switch t.Op {
		case OpBr:
			blk = t.Succs[0]
		case OpCondBr:
			if fr.val(t.Args[0]) != 0 {
				blk = t.Succs[0]
			} else {
				blk = t.Succs[1]
			}
		case OpRet:
			if len(t.Args) == 0 {
				return 0, nil
			}
			return fr.val(t.Args[0]), nil
		case OpUnreachable:
			return 0, &Trap{Reason: "unreachable executed", Fn: f.Name, Block: blk.Name}
		default:
			return 0, &Trap{Reason: "bad terminator " + t.Op.String(), Fn: f.Name, Block: blk.Name}
		}
	}
}

type frame struct {
	img    *Image
	fn     *Function
	params map[*Param]uint64
	regs   map[*Instr]uint64
	ovf    map[*Instr]bool
}

func (fr *frame) val(v Value) uint64 {
	switch x := v.(type) {
	case *Const:
		return x.Val
	case *Param:
		return fr.params[x]
	case *Instr:
		return fr.regs[x]
	case *Global:
		return fr.img.strAddr[x]
	case *GlobalVar:
		return fr.img.ctrAddr[x]
	default:
		panic(fmt.Sprintf("checkir: unknown value %T", v))
	}
}

func (fr *frame) trap(in *Instr, reason string) error {
	return &Trap{Reason: reason, Fn: fr.fn.Name, Block: in.blk.Name}
}

func (fr *frame) exec(in *Instr) error {
	switch in.Op {
	case OpAdd, OpSub, OpMul:
		a, b := fr.val(in.Args[0]), fr.val(in.Args[1])
		var r uint64
		switch in.Op {
		case OpAdd:
			r, _ = addOv(a, b, in.Ty.Bits, false)
		case OpSub:
			r, _ = subOv(a, b, in.Ty.Bits, false)
		default:
			r, _ = mulOv(a, b, in.Ty.Bits, false)
		}
		fr.regs[in] = r
	case OpShl:
		a, s := fr.val(in.Args[0]), fr.val(in.Args[1])
		if s >= 64 {
			fr.regs[in] = 0
		} else {
			fr.regs[in] = (a << s) & in.Ty.Mask()
		}
	case OpSDiv, OpSRem:
		a := SignExtend(fr.val(in.Args[0]), in.Ty.Bits)
		b := SignExtend(fr.val(in.Args[1]), in.Ty.Bits)
		if b == 0 {
			return fr.trap(in, "division by zero")
		}
		if b == -1 && a == minInt(in.Ty.Bits) {
			return fr.trap(in, "division overflow")
		}
		if in.Op == OpSDiv {
			fr.regs[in] = uint64(a/b) & in.Ty.Mask()
		} else {
			fr.regs[in] = uint64(a%b) & in.Ty.Mask()
		}
	case OpUDiv, OpURem:
		a, b := fr.val(in.Args[0]), fr.val(in.Args[1])
		if b == 0 {
			return fr.trap(in, "division by zero")
		}
		if in.Op == OpUDiv {
			fr.regs[in] = a / b
		} else {
			fr.regs[in] = a % b
		}
	case OpICmp:
		fr.regs[in] = boolBit(evalPred(in.Pred, fr.val(in.Args[0]), fr.val(in.Args[1]), in.Args[0].Type().Bits))
	case OpSExt:
		fr.regs[in] = uint64(SignExtend(fr.val(in.Args[0]), in.Args[0].Type().Bits)) & in.Ty.Mask()
	case OpZExt, OpReinterpret:
		fr.regs[in] = fr.val(in.Args[0]) & in.Ty.Mask()
	case OpTrunc:
		fr.regs[in] = fr.val(in.Args[0]) & in.Ty.Mask()
	case OpAddr:
		a := fr.val(in.Args[0])
		for i, idx := range in.Args[1:] {
			off := SignExtend(fr.val(idx), idx.Type().Bits)
			a += uint64(off * in.Strides[i])
		}
		fr.regs[in] = a
	case OpLoad:
		fr.regs[in] = fr.img.mem[fr.val(in.Args[0])]
	case OpStore:
		fr.img.mem[fr.val(in.Args[0])] = fr.val(in.Args[1])
	case OpCall:
		fn, ok := fr.img.Externs[in.Callee.Name]
		if !ok {
			return fr.trap(in, "unresolved extern @"+in.Callee.Name)
		}
		args := make([]uint64, len(in.Args))
		for i, a := range in.Args {
			args[i] = fr.val(a)
		}
		r := fn(fr.img, args)
		if in.Ty.IsInt() {
			fr.regs[in] = r & in.Ty.Mask()
		}
	case OpArithOverflow:
		a, b := fr.val(in.Args[0]), fr.val(in.Args[1])
		var r uint64
		var ov bool
		switch in.XOp {
		case OpAdd:
			r, ov = addOv(a, b, in.Ty.Bits, in.Signed)
		case OpSub:
			r, ov = subOv(a, b, in.Ty.Bits, in.Signed)
		default:
			r, ov = mulOv(a, b, in.Ty.Bits, in.Signed)
		}
		fr.regs[in] = r
		fr.ovf[in] = ov
	case OpExtract:
		src := in.Args[0].(*Instr)
		if in.Index == 0 {
			fr.regs[in] = fr.regs[src]
		} else {
			fr.regs[in] = boolBit(fr.ovf[src])
		}
	case OpPC:
		fr.regs[in] = fr.img.pcOf(fr.fn, in)
	case OpOpaque:
		fr.regs[in] = 0
	default:
		return fr.trap(in, "unexpected opcode "+in.Op.String())
	}
	return nil
}

// pcOf synthesizes the return-address stand-in for a probe site. The value
// depends only on the function and the instruction's name, so every event
// from one probe carries the same program counter for the image's lifetime.
func (img *Image) pcOf(f *Function, in *Instr) uint64 {
	if pc, ok := img.pcs[in]; ok {
		return pc
	}
	h := fnv.New64a()
	h.Write([]byte(f.Name))
	h.Write([]byte{':'})
	h.Write([]byte(in.name))
	pc := h.Sum64()
	img.pcs[in] = pc
	return pc
}

func boolBit(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func minInt(w int) int64 {
	return -(int64(1) << uint(w-1))
}

func maxInt(w int) int64 {
	return (int64(1) << uint(w-1)) - 1
}

func evalPred(p Pred, a, b uint64, w int) bool {
	sa, sb := SignExtend(a, w), SignExtend(b, w)
	switch p {
	case PredEQ:
		return a == b
	case PredNE:
		return a != b
	case PredSLT:
		return sa < sb
	case PredSLE:
		return sa <= sb
	case PredSGT:
		return sa > sb
	case PredSGE:
		return sa >= sb
	case PredULT:
		return a < b
	case PredULE:
		return a <= b
	case PredUGT:
		return a > b
	default:
		return a >= b
	}
}

// addOv returns the wrapped w-bit sum and whether it overflowed under the
// requested signedness.
func addOv(a, b uint64, w int, signed bool) (uint64, bool) {
	mask := IntType(w).Mask()
	a, b = a&mask, b&mask
	if w == 64 {
		sum, carry := bits.Add64(a, b, 0)
		if signed {
			sa, sb, sr := int64(a), int64(b), int64(sum)
			return sum, (sa >= 0) == (sb >= 0) && (sr >= 0) != (sa >= 0)
		}
		return sum, carry != 0
	}
	sum := (a + b) & mask
	if signed {
		s := SignExtend(a, w) + SignExtend(b, w)
		return sum, s < minInt(w) || s > maxInt(w)
	}
	return sum, a+b > mask
}

// subOv returns the wrapped w-bit difference and the overflow flag.
func subOv(a, b uint64, w int, signed bool) (uint64, bool) {
	mask := IntType(w).Mask()
	a, b = a&mask, b&mask
	if w == 64 {
		diff, borrow := bits.Sub64(a, b, 0)
		if signed {
			sa, sb, sr := int64(a), int64(b), int64(diff)
			return diff, (sa >= 0) != (sb >= 0) && (sr >= 0) != (sa >= 0)
		}
		return diff, borrow != 0
	}
	diff := (a - b) & mask
	if signed {
		s := SignExtend(a, w) - SignExtend(b, w)
		return diff, s < minInt(w) || s > maxInt(w)
	}
	return diff, a < b
}

// mulOv returns the wrapped w-bit product and the overflow flag.
func mulOv(a, b uint64, w int, signed bool) (uint64, bool) {
	mask := IntType(w).Mask()
	a, b = a&mask, b&mask
	if signed {
		sa, sb := SignExtend(a, w), SignExtend(b, w)
		r := sa * sb
		ov := sa != 0 && (r/sa != sb || (sa == -1 && sb == minInt(64)))
		if w < 64 {
			ov = ov || r < minInt(w) || r > maxInt(w)
		}
		return uint64(r) & mask, ov
	}
	hi, lo := bits.Mul64(a, b)
	return lo & mask, hi != 0 || lo > mask
}
