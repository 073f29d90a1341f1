package checkir

import (
	"fmt"
	"strings"
)

// The textual form is deterministic and used by pass-diff snapshots.
// Structural hashing never reads it — hashes are over opcodes, so a pass
// that only renames values leaves the hash untouched.

func (in *Instr) String() string {
	var b strings.Builder
	if in.Ty.Kind != KindVoid && !in.Op.IsTerminator() {
		fmt.Fprintf(&b, "%s = ", in.Operand())
	}
	switch in.Op {
	case OpAdd, OpSub, OpMul:
		b.WriteString(in.Op.String())
		if in.NSW {
			b.WriteString(" nsw")
		}
		if in.NUW {
			b.WriteString(" nuw")
		}
		fmt.Fprintf(&b, " %s %s, %s", in.Ty, in.Args[0].Operand(), in.Args[1].Operand())
	case OpShl, OpSDiv, OpUDiv, OpSRem, OpURem:
		fmt.Fprintf(&b, "%s %s %s, %s", in.Op, in.Ty, in.Args[0].Operand(), in.Args[1].Operand())
	case OpICmp:
		fmt.Fprintf(&b, "icmp %s %s %s, %s", in.Pred, in.Args[0].Type(), in.Args[0].Operand(), in.Args[1].Operand())
	case OpSExt, OpZExt, OpTrunc, OpReinterpret:
		fmt.Fprintf(&b, "%s %s %s to %s", in.Op, in.Args[0].Type(), in.Args[0].Operand(), in.Ty)
	case OpAddr:
		fmt.Fprintf(&b, "addr %s", in.Args[0].Operand())
		for i, idx := range in.Args[1:] {
			fmt.Fprintf(&b, ", %s*%d", idx.Operand(), in.Strides[i])
		}
	case OpLoad:
		fmt.Fprintf(&b, "load %s", in.Args[0].Operand())
	case OpStore:
		fmt.Fprintf(&b, "store %s, %s", in.Args[0].Operand(), in.Args[1].Operand())
	case OpCall:
		fmt.Fprintf(&b, "call %s @%s(", in.Callee.Ret, in.Callee.Name)
		for i, a := range in.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(a.Operand())
		}
		b.WriteString(")")
	case OpArithOverflow:
		sign := "u"
		if in.Signed {
			sign = "s"
		}
		fmt.Fprintf(&b, "%s%s.overflow i%d %s, %s", sign, in.XOp, in.Ty.Bits, in.Args[0].Operand(), in.Args[1].Operand())
	case OpExtract:
		fmt.Fprintf(&b, "extract %s, %d", in.Args[0].Operand(), in.Index)
	case OpPC:
		fmt.Fprintf(&b, "pc %d", in.Depth)
	case OpOpaque:
		fmt.Fprintf(&b, "opaque %s", in.Ty)
		if in.Note != "" {
			fmt.Fprintf(&b, " ; %s", in.Note)
		}
	case OpBr:
		fmt.Fprintf(&b, "br %s", in.Succs[0].Name)
	case OpCondBr:
		fmt.Fprintf(&b, "condbr %s, %s, %s", in.Args[0].Operand(), in.Succs[0].Name, in.Succs[1].Name)
	case OpRet:
		if len(in.Args) == 0 {
			b.WriteString("ret void")
		} else {
			fmt.Fprintf(&b, "ret %s %s", in.Args[0].Type(), in.Args[0].Operand())
		}
	case OpUnreachable:
		b.WriteString("unreachable")
	default:
		b.WriteString(in.Op.String())
	}
	return b.String()
}

func (f *Function) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "func @%s(", f.Name)
	for i, p := range f.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s %%%s", p.Ty, p.Name)
	}
	fmt.Fprintf(&b, ") %s {\n", f.Ret)
	for _, blk := range f.Blocks {
		fmt.Fprintf(&b, "%s:\n", blk.Name)
		for _, in := range blk.Instrs {
			fmt.Fprintf(&b, "  %s\n", in)
		}
		if blk.Term != nil {
			fmt.Fprintf(&b, "  %s\n", blk.Term)
		}
	}
	b.WriteString("}\n")
	return b.String()
}

func (m *Module) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "module %s\n", m.Name)
	for _, g := range m.Strings {
		fmt.Fprintf(&b, "@%s = constant %q\n", g.Name, g.Str)
	}
	for _, c := range m.Counters {
		fmt.Fprintf(&b, "@%s = global i64 0\n", c.Name)
	}
	for _, d := range m.Externs {
		fmt.Fprintf(&b, "declare %s @%s(", d.Ret, d.Name)
		for i, p := range d.Params {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(p.String())
		}
		b.WriteString(")")
		if d.Attrs&AttrReadNone != 0 {
			b.WriteString(" readnone")
		}
		if d.Attrs&AttrReadOnly != 0 {
			b.WriteString(" readonly")
		}
		b.WriteString("\n")
	}
	for _, f := range m.Funcs {
		b.WriteString("\n")
		b.WriteString(f.String())
	}
	return b.String()
}
