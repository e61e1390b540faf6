// Package optimizer runs the peephole pass over a method's instruction
// list: constant folding and local dead-store/tee rewriting, repeated until
// a whole pass changes nothing.
//
// Both rules inspect flat instruction adjacency only and never match across
// control instructions. The input must already be branch-structured: with
// every position control can enter marked by a block instruction, adjacency
// implies straight-line execution. On the flat jump-placeholder form a
// window could span a jump target and a rewrite would change behavior.
package optimizer

import (
	"github.com/wasmlift/wasmlift/internal/ir"
)

// Optimizer rewrites one method's instruction list in place.
type Optimizer struct {
	rewrites int
}

// New creates an optimizer.
func New() *Optimizer {
	return &Optimizer{}
}

// Rewrites reports how many pattern replacements the last Optimize made.
func (o *Optimizer) Rewrites() int { return o.rewrites }

// Optimize applies the peephole rules to a fixed point. The pass count is
// bounded by the initial list length as a guard against a rewrite cycle.
func (o *Optimizer) Optimize(instrs []ir.Instruction) []ir.Instruction {
	o.rewrites = 0
	bound := len(instrs)
	for pass := 0; pass < bound; pass++ {
		before := len(instrs)
		changedFold := false
		instrs, changedFold = o.foldConstants(instrs)
		changedLocals := o.rewriteLocals(instrs)
		if !changedFold && !changedLocals && len(instrs) == before {
			break
		}
	}
	return instrs
}

// foldConstants replaces "const a, const b, binop" (and "const a, unop")
// windows with the statically computed constant.
func (o *Optimizer) foldConstants(instrs []ir.Instruction) ([]ir.Instruction, bool) {
	changed := false
	out := instrs[:0]
	for _, instr := range instrs {
		num, ok := instr.(*ir.NumericInstruction)
		if !ok {
			out = append(out, instr)
			continue
		}
		if num.Op.IsUnary() && len(out) >= 1 {
			if c, ok := out[len(out)-1].(*ir.ConstInstruction); ok && c.Type == num.Type {
				if folded, ok := foldUnary(num.Op, num.Type, c.Value); ok {
					out[len(out)-1] = ir.NewConst(folded, num.Type, c.CodePos(), c.Line())
					o.rewrites++
					changed = true
					continue
				}
			}
		} else if !num.Op.IsUnary() && len(out) >= 2 {
			c2, ok2 := out[len(out)-1].(*ir.ConstInstruction)
			c1, ok1 := out[len(out)-2].(*ir.ConstInstruction)
			if ok1 && ok2 && c1.Type == num.Type && c2.Type == num.Type {
				if folded, foldedType, ok := foldBinary(num.Op, num.Type, c1.Value, c2.Value); ok {
					out = out[:len(out)-2]
					out = append(out, ir.NewConst(folded, foldedType, c1.CodePos(), c1.Line()))
					o.rewrites++
					changed = true
					continue
				}
			}
		}
		out = append(out, instr)
	}
	return out, changed
}

// rewriteLocals applies the two local-variable rules in place:
//
//   - store V immediately followed by load V fuses into a tee;
//   - a store whose value is never loaded before the next store of V (or
//     before the end of the flow) is replaced by a drop, since the value
//     still has to be computed and popped.
func (o *Optimizer) rewriteLocals(instrs []ir.Instruction) bool {
	changed := false
	for i, instr := range instrs {
		store, ok := instr.(*ir.LocalInstruction)
		if !ok || store.Op != ir.LocalSet {
			continue
		}

		if i+1 < len(instrs) {
			if load, ok := instrs[i+1].(*ir.LocalInstruction); ok &&
				load.Op == ir.LocalGet && load.Index == store.Index {
				instrs[i] = ir.NewLocal(ir.LocalTee, store.Index, store.Type, store.CodePos(), store.Line())
				instrs[i+1] = ir.NewNop(load.CodePos(), load.Line())
				changed = true
				o.rewrites++
				continue
			}
		}

		if o.isDeadStore(instrs, i, store.Index) {
			instrs[i] = ir.NewDrop(store.Type, store.CodePos(), store.Line())
			changed = true
			o.rewrites++
		}
	}
	return changed
}

// isDeadStore scans forward from the store. A load cancels, another store
// confirms, the end of the linear flow confirms. Any control transfer
// cancels, since the flat scan cannot see around branches.
func (o *Optimizer) isDeadStore(instrs []ir.Instruction, storeIdx, slot int) bool {
	for j := storeIdx + 1; j < len(instrs); j++ {
		switch next := instrs[j].(type) {
		case *ir.LocalInstruction:
			if next.Index != slot {
				continue
			}
			if next.Op == ir.LocalSet {
				return true
			}
			// a load, or a tee (which re-reads the slot's role)
			return false
		case *ir.DupThisInstruction:
			if next.Slot == slot {
				return false
			}
		case *ir.JumpInstruction:
			return false
		case *ir.BlockInstruction:
			switch next.Op {
			case ir.BlockOpReturn, ir.BlockOpThrow, ir.BlockOpUnreachable:
				return true
			case ir.BlockOpDrop:
				continue
			default:
				return false
			}
		}
	}
	return true
}
