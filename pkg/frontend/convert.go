package frontend

import (
	"fmt"
	"go/constant"
	"go/token"
	"go/types"
	"sort"

	"github.com/SamarthBhatia/Trace2Pass/pkg/checkir"
	"golang.org/x/sync/errgroup"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
)

// MaxFunctionBlocks caps conversion per function; pathological generated
// code is skipped rather than dominating a scan.
const MaxFunctionBlocks = 5000

// ConvertPackages loads-to-IR in one call: one checkir module per package,
// converted concurrently.
func ConvertPackages(pkgs []*packages.Package) ([]*checkir.Module, error) {
	prog, err := BuildSSA(pkgs)
	if err != nil {
		return nil, err
	}

	mods := make([]*checkir.Module, len(pkgs))
	var g errgroup.Group
	for i, pkg := range pkgs {
		i, pkg := i, pkg
		g.Go(func() error {
			if pkg.Types == nil {
				return nil
			}
			ssaPkg := prog.Package(pkg.Types)
			if ssaPkg == nil {
				return nil
			}
			mods[i] = convertPackage(prog, ssaPkg, pkg.PkgPath)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []*checkir.Module
	for _, m := range mods {
		if m != nil && len(m.Funcs) > 0 {
			out = append(out, m)
		}
	}
	return out, nil
}

func convertPackage(prog *ssa.Program, ssaPkg *ssa.Package, path string) *checkir.Module {
	mod := checkir.NewModule(path)
	visited := make(map[*ssa.Function]bool)

	var names []string
	byName := make(map[string]ssa.Member)
	for name, member := range ssaPkg.Members {
		names = append(names, name)
		byName[name] = member
	}
	sort.Strings(names)

	for _, name := range names {
		switch mem := byName[name].(type) {
		case *ssa.Function:
			convertFunctionAndAnons(mod, mem, visited)
		case *ssa.Type:
			if named, ok := mem.Type().(*types.Named); ok {
				for i := 0; i < named.NumMethods(); i++ {
					if fn := prog.FuncValue(named.Method(i)); fn != nil {
						convertFunctionAndAnons(mod, fn, visited)
					}
				}
			}
		}
	}
	return mod
}

func convertFunctionAndAnons(mod *checkir.Module, fn *ssa.Function, visited map[*ssa.Function]bool) {
	if visited[fn] {
		return
	}
	visited[fn] = true

	if fn.Synthetic != "" && fn.Name() != "init" {
		return
	}
	if len(fn.Blocks) > 0 && len(fn.Blocks) <= MaxFunctionBlocks {
		convertFunction(mod, fn)
	}
	for _, anon := range fn.AnonFuncs {
		convertFunctionAndAnons(mod, anon, visited)
	}
}

// typeOf maps a Go type to checkir. The bool reports whether the mapping
// is faithful; unfaithful operands degrade to opaque.
func typeOf(t types.Type) (checkir.Type, bool) {
	switch u := t.Underlying().(type) {
	case *types.Basic:
		info := u.Info()
		if info&types.IsBoolean != 0 {
			return checkir.I1, true
		}
		if info&types.IsInteger != 0 {
			switch u.Kind() {
			case types.Int8, types.Uint8:
				return checkir.I8, true
			case types.Int16, types.Uint16:
				return checkir.I16, true
			case types.Int32, types.Uint32:
				return checkir.I32, true
			default: // int, uint, int64, uint64, uintptr on 64-bit targets
				return checkir.I64, true
			}
		}
	case *types.Pointer, *types.Slice:
		return checkir.Ptr, true
	}
	return checkir.I64, false
}

func isSignedInt(t types.Type) bool {
	if b, ok := t.Underlying().(*types.Basic); ok {
		return b.Info()&types.IsInteger != 0 && b.Info()&types.IsUnsigned == 0
	}
	return false
}

type converter struct {
	mod    *checkir.Module
	out    *checkir.Function
	blocks map[*ssa.BasicBlock]*checkir.Block
	values map[ssa.Value]checkir.Value
	cur    *checkir.Block
}

func convertFunction(mod *checkir.Module, fn *ssa.Function) {
	ret := checkir.Void
	if res := fn.Signature.Results(); res.Len() == 1 {
		if t, ok := typeOf(res.At(0).Type()); ok && t.IsInt() {
			ret = t
		}
	}
	var params []*checkir.Param
	c := &converter{
		mod:    mod,
		blocks: make(map[*ssa.BasicBlock]*checkir.Block),
		values: make(map[ssa.Value]checkir.Value),
	}
	for i, p := range fn.Params {
		t, _ := typeOf(p.Type())
		name := p.Name()
		if name == "" {
			name = fmt.Sprintf("arg%d", i)
		}
		cp := &checkir.Param{Name: name, Ty: t}
		params = append(params, cp)
		c.values[p] = cp
	}
	c.out = mod.NewFunction(fn.RelString(nil), ret, params...)

	for _, b := range fn.Blocks {
		c.blocks[b] = c.out.NewBlock(fmt.Sprintf("b%d", b.Index))
	}
	for _, b := range fn.Blocks {
		c.cur = c.blocks[b]
		for _, in := range b.Instrs {
			c.convertInstr(in)
		}
		if c.cur.Term == nil {
			c.cur.SetUnreachable()
		}
	}
}

// operand resolves an ssa value, falling back to an opaque node of the
// mapped type when the value was never modeled.
func (c *converter) operand(v ssa.Value) checkir.Value {
	if mapped, ok := c.values[v]; ok {
		return mapped
	}
	if k, ok := v.(*ssa.Const); ok {
		if t, faithful := typeOf(k.Type()); faithful && t.IsInt() && k.Value != nil {
			if i, exact := constIntValue(k); exact {
				cv := checkir.ConstInt(t, i)
				c.values[v] = cv
				return cv
			}
		}
	}
	t, _ := typeOf(v.Type())
	op := c.cur.Add(checkir.Opaque(t, fmt.Sprintf("unmapped %T", v)))
	c.values[v] = op
	return op
}

func constIntValue(k *ssa.Const) (int64, bool) {
	if k.Value == nil {
		return 0, false
	}
	switch k.Value.Kind() {
	case constant.Int:
		if i, exact := constant.Int64Val(constant.ToInt(k.Value)); exact {
			return i, true
		}
	case constant.Bool:
		if constant.BoolVal(k.Value) {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// coerce adapts a value to the exact type a consumer demands, inserting an
// opaque shim when the widths disagree.
func (c *converter) coerce(v checkir.Value, want checkir.Type) checkir.Value {
	if v.Type() == want {
		return v
	}
	return c.cur.Add(checkir.Opaque(want, "coerced operand"))
}

func (c *converter) convertInstr(in ssa.Instruction) {
	switch x := in.(type) {
	case *ssa.BinOp:
		c.convertBinOp(x)
	case *ssa.Convert:
		c.convertConvert(x)
	case *ssa.IndexAddr:
		base := c.coerce(c.operand(x.X), checkir.Ptr)
		idxT, _ := typeOf(x.Index.Type())
		idx := c.coerce(c.operand(x.Index), idxT)
		// LLVM-style aggregate addressing: a leading zero index steps
		// through the outermost pointer, the second selects the element.
		zero := checkir.ConstInt(idxT, 0)
		c.values[x] = c.cur.Add(checkir.Addr(base, []int64{8, 8}, zero, idx))
	case *ssa.Call:
		c.convertCall(x)
	case *ssa.Return:
		if c.out.Ret.IsInt() && len(x.Results) == 1 {
			c.cur.SetRet(c.coerce(c.operand(x.Results[0]), c.out.Ret))
		} else {
			c.cur.SetRet(nil)
		}
	case *ssa.If:
		cond := c.coerce(c.operand(x.Cond), checkir.I1)
		succs := x.Block().Succs
		c.cur.SetCondBr(cond, c.blocks[succs[0]], c.blocks[succs[1]])
	case *ssa.Jump:
		c.cur.SetBr(c.blocks[x.Block().Succs[0]])
	case *ssa.Panic:
		c.cur.SetUnreachable()
	default:
		if v, ok := in.(ssa.Value); ok {
			t, _ := typeOf(v.Type())
			c.values[v] = c.cur.Add(checkir.Opaque(t, fmt.Sprintf("%T", in)))
		} else {
			c.cur.Add(checkir.Opaque(checkir.Void, fmt.Sprintf("%T", in)))
		}
	}
}

func (c *converter) convertBinOp(x *ssa.BinOp) {
	t, faithful := typeOf(x.X.Type())
	if !faithful || !t.IsInt() {
		rt, _ := typeOf(x.Type())
		c.values[x] = c.cur.Add(checkir.Opaque(rt, "non-integer binop"))
		return
	}
	signed := isSignedInt(x.X.Type())
	lhs := c.coerce(c.operand(x.X), t)
	rhs := c.coerce(c.operand(x.Y), t)

	var out *checkir.Instr
	switch x.Op {
	case token.ADD:
		out = checkir.BinOp(checkir.OpAdd, lhs, rhs)
	case token.SUB:
		out = checkir.BinOp(checkir.OpSub, lhs, rhs)
	case token.MUL:
		out = checkir.BinOp(checkir.OpMul, lhs, rhs)
	case token.QUO:
		if signed {
			out = checkir.BinOp(checkir.OpSDiv, lhs, rhs)
		} else {
			out = checkir.BinOp(checkir.OpUDiv, lhs, rhs)
		}
	case token.REM:
		if signed {
			out = checkir.BinOp(checkir.OpSRem, lhs, rhs)
		} else {
			out = checkir.BinOp(checkir.OpURem, lhs, rhs)
		}
	case token.SHL:
		out = checkir.BinOp(checkir.OpShl, lhs, c.coerce(c.operand(x.Y), t))
	case token.EQL:
		out = checkir.ICmp(checkir.PredEQ, lhs, rhs)
	case token.NEQ:
		out = checkir.ICmp(checkir.PredNE, lhs, rhs)
	case token.LSS:
		out = checkir.ICmp(pick(signed, checkir.PredSLT, checkir.PredULT), lhs, rhs)
	case token.LEQ:
		out = checkir.ICmp(pick(signed, checkir.PredSLE, checkir.PredULE), lhs, rhs)
	case token.GTR:
		out = checkir.ICmp(pick(signed, checkir.PredSGT, checkir.PredUGT), lhs, rhs)
	case token.GEQ:
		out = checkir.ICmp(pick(signed, checkir.PredSGE, checkir.PredUGE), lhs, rhs)
	default:
		rt, _ := typeOf(x.Type())
		c.values[x] = c.cur.Add(checkir.Opaque(rt, "binop "+x.Op.String()))
		return
	}
	c.values[x] = c.cur.Add(out)
}

func pick(signed bool, s, u checkir.Pred) checkir.Pred {
	if signed {
		return s
	}
	return u
}

func (c *converter) convertConvert(x *ssa.Convert) {
	srcT, srcOK := typeOf(x.X.Type())
	dstT, dstOK := typeOf(x.Type())
	if !srcOK || !dstOK || !srcT.IsInt() || !dstT.IsInt() {
		c.values[x] = c.cur.Add(checkir.Opaque(dstT, "non-integer convert"))
		return
	}
	src := c.coerce(c.operand(x.X), srcT)
	srcSigned := isSignedInt(x.X.Type())
	dstSigned := isSignedInt(x.Type())

	switch {
	case dstT.Bits > srcT.Bits && srcSigned:
		c.values[x] = c.cur.Add(checkir.SExt(src, dstT))
	case dstT.Bits > srcT.Bits:
		c.values[x] = c.cur.Add(checkir.ZExt(src, dstT))
	case dstT.Bits < srcT.Bits:
		c.values[x] = c.cur.Add(checkir.Trunc(src, dstT))
	case srcSigned && !dstSigned:
		c.values[x] = c.cur.Add(checkir.Reinterpret(src, dstT))
	default:
		c.values[x] = src // same width, no sign loss: a pure rename
	}
}

func (c *converter) convertCall(x *ssa.Call) {
	callee := x.Common().StaticCallee()
	rt, _ := typeOf(x.Type())
	if callee == nil {
		c.values[x] = c.cur.Add(checkir.Opaque(rt, "dynamic call"))
		return
	}

	sig := callee.Signature
	ret := checkir.Void
	if sig.Results().Len() == 1 {
		if t, ok := typeOf(sig.Results().At(0).Type()); ok && t.IsInt() {
			ret = t
		}
	}
	var params []checkir.Type
	for i := 0; i < sig.Params().Len(); i++ {
		t, _ := typeOf(sig.Params().At(i).Type())
		params = append(params, t)
	}
	if len(params) != len(x.Common().Args) {
		// Receiver-carrying or variadic-flattened shapes we don't model.
		c.values[x] = c.cur.Add(checkir.Opaque(rt, "irregular call shape"))
		return
	}
	decl := c.mod.DeclareExtern(callee.RelString(nil), ret, params, 0)
	args := make([]checkir.Value, len(params))
	for i, a := range x.Common().Args {
		args[i] = c.coerce(c.operand(a), params[i])
	}
	call := c.cur.Add(checkir.Call(decl, args...))
	if ret != checkir.Void {
		c.values[x] = call
	}
}
