package checkir

import "fmt"

// -- Opcodes --

type Op uint8

const (
	OpInvalid Op = iota

	OpAdd
	OpSub
	OpMul
	OpShl
	OpSDiv
	OpUDiv
	OpSRem
	OpURem

	OpICmp

	OpSExt
	OpZExt
	OpTrunc
	// OpReinterpret is the same-width signed-to-unsigned view of a value.
	// The bit pattern is unchanged; only the reading changes. It exists so
	// the sign-conversion instrumentor has a site to hang a probe on.
	OpReinterpret

	// OpAddr computes base + Σ index_k·stride_k. More than one index means
	// the address reaches into an aggregate beyond the outermost pointer.
	OpAddr

	OpLoad
	OpStore

	OpCall

	// OpArithOverflow is the {s,u}{add,sub,mul}_with_overflow primitive:
	// it yields a (wrapped result, overflow bit) pair consumed by OpExtract.
	OpArithOverflow
	OpExtract

	// OpPC yields the return-address stand-in for the current call frame.
	OpPC

	// OpOpaque is a node the frontend could not model. It is counted by
	// snapshots and carried by passes but never instrumented; evaluating
	// one yields zero.
	OpOpaque

	OpBr
	OpCondBr
	OpRet
	OpUnreachable
)

var opNames = [...]string{
	OpInvalid:       "invalid",
	OpAdd:           "add",
	OpSub:           "sub",
	OpMul:           "mul",
	OpShl:           "shl",
	OpSDiv:          "sdiv",
	OpUDiv:          "udiv",
	OpSRem:          "srem",
	OpURem:          "urem",
	OpICmp:          "icmp",
	OpSExt:          "sext",
	OpZExt:          "zext",
	OpTrunc:         "trunc",
	OpReinterpret:   "reinterpret",
	OpAddr:          "addr",
	OpLoad:          "load",
	OpStore:         "store",
	OpCall:          "call",
	OpArithOverflow: "arith.overflow",
	OpExtract:       "extract",
	OpPC:            "pc",
	OpOpaque:        "opaque",
	OpBr:            "br",
	OpCondBr:        "condbr",
	OpRet:           "ret",
	OpUnreachable:   "unreachable",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return "op?"
}

// IsTerminator reports whether the opcode ends a block.
func (o Op) IsTerminator() bool {
	return o == OpBr || o == OpCondBr || o == OpRet || o == OpUnreachable
}

// -- Comparison predicates --

type Pred uint8

const (
	PredEQ Pred = iota
	PredNE
	PredSLT
	PredSLE
	PredSGT
	PredSGE
	PredULT
	PredULE
	PredUGT
	PredUGE
)

var predNames = [...]string{"eq", "ne", "slt", "sle", "sgt", "sge", "ult", "ule", "ugt", "uge"}

func (p Pred) String() string {
	if int(p) < len(predNames) {
		return predNames[p]
	}
	return "pred?"
}

// -- Instructions --

// Instr is one instruction. A single struct covers every opcode; the
// op-specific fields are documented next to their constructors.
type Instr struct {
	Op   Op
	Ty   Type // result type; Void when the instruction produces no value
	Args []Value

	Pred    Pred        // OpICmp
	XOp     Op          // OpArithOverflow: OpAdd, OpSub or OpMul
	Signed  bool        // OpArithOverflow
	NSW     bool        // OpAdd/OpSub/OpMul: no signed wrap
	NUW     bool        // OpAdd/OpSub/OpMul: no unsigned wrap
	Index   int         // OpExtract: 0 = value, 1 = overflow bit
	Callee  *ExternDecl // OpCall
	Strides []int64     // OpAddr: one per index operand
	Depth   int         // OpPC: frame depth; only 0 is supported
	Note    string      // OpOpaque: what the frontend gave up on
	Succs   []*Block    // OpBr/OpCondBr

	// Probed marks a candidate site the instrumentors already rewrote, so
	// a re-run of a pass never probes the same site twice.
	Probed bool

	name string
	blk  *Block
}

func (in *Instr) Type() Type    { return in.Ty }
func (in *Instr) Block() *Block { return in.blk }
func (in *Instr) Name() string  { return in.name }

func (in *Instr) Operand() string {
	if in.name == "" {
		return "%?"
	}
	return "%" + in.name
}

// PosIn returns the instruction's index within b, or -1.
func (in *Instr) PosIn(b *Block) int {
	for i, x := range b.Instrs {
		if x == in {
			return i
		}
	}
	return -1
}

func checkIntOperands(op Op, args ...Value) {
	for _, a := range args {
		if a == nil {
			panic(fmt.Sprintf("checkir: %s with nil operand", op))
		}
		if !a.Type().IsInt() {
			panic(fmt.Sprintf("checkir: %s operand is %s, want integer", op, a.Type()))
		}
	}
	for _, a := range args[1:] {
		if a.Type() != args[0].Type() {
			panic(fmt.Sprintf("checkir: %s operand width mismatch: %s vs %s", op, args[0].Type(), a.Type()))
		}
	}
}

// BinOp builds an arithmetic instruction (add/sub/mul/shl/divisions).
func BinOp(op Op, x, y Value) *Instr {
	switch op {
	case OpAdd, OpSub, OpMul, OpShl, OpSDiv, OpUDiv, OpSRem, OpURem:
	default:
		panic("checkir: BinOp with non-arithmetic opcode " + op.String())
	}
	checkIntOperands(op, x, y)
	return &Instr{Op: op, Ty: x.Type(), Args: []Value{x, y}}
}

// ICmp builds an integer comparison yielding i1.
func ICmp(p Pred, x, y Value) *Instr {
	checkIntOperands(OpICmp, x, y)
	return &Instr{Op: OpICmp, Ty: I1, Args: []Value{x, y}, Pred: p}
}

// SExt sign-extends x to the wider type dst.
func SExt(x Value, dst Type) *Instr { return cast(OpSExt, x, dst) }

// ZExt zero-extends x to the wider type dst.
func ZExt(x Value, dst Type) *Instr { return cast(OpZExt, x, dst) }

// Trunc truncates x to the narrower type dst.
func Trunc(x Value, dst Type) *Instr { return cast(OpTrunc, x, dst) }

// Reinterpret views the same-width value x as unsigned.
func Reinterpret(x Value, dst Type) *Instr { return cast(OpReinterpret, x, dst) }

func cast(op Op, x Value, dst Type) *Instr {
	checkIntOperands(op, x)
	if !dst.IsInt() {
		panic("checkir: cast to non-integer type")
	}
	src := x.Type().Bits
	switch op {
	case OpSExt, OpZExt:
		if dst.Bits < src {
			panic(fmt.Sprintf("checkir: %s narrows i%d to i%d", op, src, dst.Bits))
		}
	case OpTrunc:
		if dst.Bits > src {
			panic(fmt.Sprintf("checkir: trunc widens i%d to i%d", src, dst.Bits))
		}
	case OpReinterpret:
		if dst.Bits != src {
			panic(fmt.Sprintf("checkir: reinterpret changes width i%d to i%d", src, dst.Bits))
		}
	}
	return &Instr{Op: op, Ty: dst, Args: []Value{x}}
}

// Addr computes an address from a base pointer and one stride per index.
func Addr(base Value, strides []int64, indexes ...Value) *Instr {
	if base == nil || base.Type().Kind != KindPtr {
		panic("checkir: addr base must be a pointer")
	}
	if len(indexes) == 0 || len(strides) != len(indexes) {
		panic("checkir: addr needs one stride per index")
	}
	checkIntOperands(OpAddr, indexes...)
	args := append([]Value{base}, indexes...)
	return &Instr{Op: OpAddr, Ty: Ptr, Args: args, Strides: strides}
}

// Load reads the i64 cell at addr.
func Load(addr Value) *Instr {
	if addr == nil || addr.Type().Kind != KindPtr {
		panic("checkir: load address must be a pointer")
	}
	return &Instr{Op: OpLoad, Ty: I64, Args: []Value{addr}}
}

// Store writes the i64 cell at addr.
func Store(addr, val Value) *Instr {
	if addr == nil || addr.Type().Kind != KindPtr {
		panic("checkir: store address must be a pointer")
	}
	if val == nil || !val.Type().IsInt() {
		panic("checkir: store of non-integer value")
	}
	return &Instr{Op: OpStore, Ty: Void, Args: []Value{addr, val}}
}

// Call builds a call to an external declaration.
func Call(callee *ExternDecl, args ...Value) *Instr {
	if callee == nil {
		panic("checkir: call with nil callee")
	}
	if len(args) != len(callee.Params) {
		panic(fmt.Sprintf("checkir: call to %s with %d args, want %d", callee.Name, len(args), len(callee.Params)))
	}
	for i, a := range args {
		if a == nil {
			panic("checkir: call with nil argument")
		}
		if a.Type() != callee.Params[i] {
			panic(fmt.Sprintf("checkir: call to %s arg %d is %s, want %s", callee.Name, i, a.Type(), callee.Params[i]))
		}
	}
	return &Instr{Op: OpCall, Ty: callee.Ret, Args: args, Callee: callee}
}

// ArithOverflow builds the overflow primitive for xop ∈ {add, sub, mul}.
func ArithOverflow(xop Op, signed bool, x, y Value) *Instr {
	if xop != OpAdd && xop != OpSub && xop != OpMul {
		panic("checkir: overflow primitive for " + xop.String())
	}
	checkIntOperands(OpArithOverflow, x, y)
	return &Instr{
		Op:     OpArithOverflow,
		Ty:     Type{Kind: KindPair, Bits: x.Type().Bits},
		Args:   []Value{x, y},
		XOp:    xop,
		Signed: signed,
	}
}

// Extract picks element idx from an overflow pair: 0 is the wrapped value,
// 1 the overflow bit.
func Extract(pair Value, idx int) *Instr {
	in, ok := pair.(*Instr)
	if !ok || in.Op != OpArithOverflow {
		panic("checkir: extract from non-overflow value")
	}
	if idx != 0 && idx != 1 {
		panic("checkir: extract index out of range")
	}
	ty := IntType(in.Ty.Bits)
	if idx == 1 {
		ty = I1
	}
	return &Instr{Op: OpExtract, Ty: ty, Args: []Value{pair}, Index: idx}
}

// PC yields the return-address stand-in. Only depth 0 is supported.
func PC() *Instr {
	return &Instr{Op: OpPC, Ty: I64, Depth: 0}
}

// Opaque builds an unmodeled node of the given type.
func Opaque(ty Type, note string) *Instr {
	return &Instr{Op: OpOpaque, Ty: ty, Note: note}
}

// -- Terminators --

func (b *Block) setTerm(in *Instr) {
	in.blk = b
	b.Term = in
}

// SetBr terminates the block with an unconditional branch.
func (b *Block) SetBr(dest *Block) {
	if dest == nil {
		panic("checkir: branch to nil block")
	}
	b.setTerm(&Instr{Op: OpBr, Ty: Void, Succs: []*Block{dest}})
}

// SetCondBr terminates the block with a two-way branch on cond.
func (b *Block) SetCondBr(cond Value, then, els *Block) {
	if cond == nil || !cond.Type().IsBool() {
		panic("checkir: condbr condition must be i1")
	}
	if then == nil || els == nil {
		panic("checkir: condbr to nil block")
	}
	b.setTerm(&Instr{Op: OpCondBr, Ty: Void, Args: []Value{cond}, Succs: []*Block{then, els}})
}

// SetRet terminates the block with a return. val is nil for void functions.
func (b *Block) SetRet(val Value) {
	in := &Instr{Op: OpRet, Ty: Void}
	if val != nil {
		in.Args = []Value{val}
	}
	b.setTerm(in)
}

// SetUnreachable marks the block's end as unreachable by construction.
func (b *Block) SetUnreachable() {
	b.setTerm(&Instr{Op: OpUnreachable, Ty: Void})
}
