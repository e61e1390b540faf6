package compiler

import (
	"math"

	"github.com/wasmlift/wasmlift/internal/diagnostics"
	"github.com/wasmlift/wasmlift/internal/ir"
)

// findPushInstruction simulates the operand stack forward from the method
// start and returns the index of the instruction that pushed the value
// sitting at depth values below the top when execution reaches instrs[toIdx]
// (depth 0 is the top of stack).
//
// The simulation is exact because every instruction has an unconditional pop
// count and push type. Unconditional jumps are the one wrinkle: a goto past
// the query position means the straight-line values never reach it, so the
// simulated stack is cleared; a goto before it is followed by fast-forwarding
// to its target, mirroring the actual flow.
func findPushInstruction(instrs []ir.Instruction, toIdx, depth int) (int, error) {
	if toIdx > len(instrs) {
		toIdx = len(instrs)
	}
	queryPos := math.MaxInt
	if toIdx < len(instrs) {
		queryPos = instrs[toIdx].CodePos()
	}

	stack := make([]int, 0, 16)
	for i := 0; i < toIdx; i++ {
		instr := instrs[i]
		if jump, ok := instr.(*ir.JumpInstruction); ok && !jump.Conditional {
			if jump.Target > queryPos {
				stack = stack[:0]
			} else {
				for i+1 < toIdx && instrs[i+1].CodePos() < jump.Target {
					i++
				}
			}
			continue
		}
		pop := instr.PopCount()
		if pop > len(stack) {
			return 0, diagnostics.NewError(diagnostics.ErrC004,
				"stack underflow while inspecting position %d: need %d values, have %d",
				instr.CodePos(), pop, len(stack))
		}
		stack = stack[:len(stack)-pop]
		if instr.PushType() != ir.NoType {
			stack = append(stack, i)
		}
	}

	if depth < 0 || depth >= len(stack) {
		return 0, diagnostics.NewError(diagnostics.ErrC004,
			"push instruction not found: depth %d with %d values on the stack", depth, len(stack))
	}
	return stack[len(stack)-1-depth], nil
}

// valueTypeAt returns the type of the stack value at depth below the top
// when execution reaches instrs[toIdx].
func valueTypeAt(instrs []ir.Instruction, toIdx, depth int) (ir.ValueType, error) {
	idx, err := findPushInstruction(instrs, toIdx, depth)
	if err != nil {
		return ir.NoType, err
	}
	return instrs[idx].PushType(), nil
}
