// Package passes holds the cleanup passes the pass-diff harness wraps.
// The production optimizers live in the host pipeline; these two exist
// because the harness needs something real to measure and because the
// arithmetic instrumentor leaves its replaced operations dead by contract.
package passes

import (
	"github.com/SamarthBhatia/Trace2Pass/pkg/checkir"
)

// DeadCodeElim removes value-producing instructions nobody uses. It is
// deliberately conservative: divisions can trap, loads observe mutable
// cells, and calls and stores have effects, so none of those are touched.
type DeadCodeElim struct{}

func (DeadCodeElim) Name() string { return "dce" }

func removable(op checkir.Op) bool {
	switch op {
	case checkir.OpAdd, checkir.OpSub, checkir.OpMul, checkir.OpShl,
		checkir.OpICmp, checkir.OpSExt, checkir.OpZExt, checkir.OpTrunc,
		checkir.OpReinterpret, checkir.OpAddr, checkir.OpExtract,
		checkir.OpArithOverflow, checkir.OpPC:
		return true
	}
	return false
}

func (d DeadCodeElim) Run(fn *checkir.Function) bool {
	changed := false
	for {
		users := make(map[*checkir.Instr]int)
		walk := func(in *checkir.Instr) {
			for _, a := range in.Args {
				if u, ok := a.(*checkir.Instr); ok {
					users[u]++
				}
			}
		}
		for _, b := range fn.Blocks {
			for _, in := range b.Instrs {
				walk(in)
			}
			if b.Term != nil {
				walk(b.Term)
			}
		}

		removedAny := false
		for _, b := range fn.Blocks {
			for _, in := range append([]*checkir.Instr(nil), b.Instrs...) {
				if users[in] == 0 && removable(in.Op) {
					b.Remove(in)
					removedAny = true
				}
			}
		}
		if !removedAny {
			return changed
		}
		changed = true
	}
}

// SimplifyCFG folds constant branches, drops blocks unreachable from the
// entry, and merges straight-line block pairs.
type SimplifyCFG struct{}

func (SimplifyCFG) Name() string { return "simplify-cfg" }

func (s SimplifyCFG) Run(fn *checkir.Function) bool {
	if len(fn.Blocks) == 0 {
		return false
	}
	changed := false
	for {
		round := false

		// Constant conditions become unconditional branches.
		for _, b := range fn.Blocks {
			t := b.Term
			if t == nil || t.Op != checkir.OpCondBr {
				continue
			}
			if c, ok := t.Args[0].(*checkir.Const); ok {
				if c.Val != 0 {
					b.SetBr(t.Succs[0])
				} else {
					b.SetBr(t.Succs[1])
				}
				round = true
			}
		}

		// Drop whatever the entry can no longer reach.
		reach := map[*checkir.Block]bool{fn.Entry(): true}
		work := []*checkir.Block{fn.Entry()}
		for len(work) > 0 {
			b := work[len(work)-1]
			work = work[:len(work)-1]
			if b.Term == nil {
				continue
			}
			for _, s := range b.Term.Succs {
				if !reach[s] {
					reach[s] = true
					work = append(work, s)
				}
			}
		}
		for _, b := range append([]*checkir.Block(nil), fn.Blocks...) {
			if !reach[b] {
				fn.RemoveBlock(b)
				round = true
			}
		}

		// Merge a block into its sole unconditional successor when that
		// successor has no other way in.
		for _, b := range fn.Blocks {
			t := b.Term
			if t == nil || t.Op != checkir.OpBr {
				continue
			}
			succ := t.Succs[0]
			if succ == b || succ == fn.Entry() || len(fn.Preds(succ)) != 1 {
				continue
			}
			checkir.MergeInto(b, succ)
			round = true
			break // block list changed under us; rescan
		}

		if !round {
			return changed
		}
		changed = true
	}
}
