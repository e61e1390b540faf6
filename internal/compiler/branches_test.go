package compiler

import (
	"testing"

	"github.com/wasmlift/wasmlift/internal/ir"
)

func structured(t *testing.T, instrs []ir.Instruction) []ir.Instruction {
	t.Helper()
	out, err := NewBranchManager().Structure(instrs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, instr := range out {
		switch instr.(type) {
		case *ir.JumpInstruction, *SwitchInstruction:
			t.Fatalf("placeholder survived at output index %d", i)
		}
	}
	return out
}

func blockOpAt(t *testing.T, out []ir.Instruction, idx int, want ir.BlockOp) *ir.BlockInstruction {
	t.Helper()
	b, ok := out[idx].(*ir.BlockInstruction)
	if !ok {
		t.Fatalf("output[%d] = %T, want a block instruction", idx, out[idx])
	}
	if b.Op != want {
		t.Fatalf("output[%d] = %s, want %s", idx, b.Op, want)
	}
	return b
}

func TestStructure_IfNegatesCondition(t *testing.T) {
	instrs := []ir.Instruction{
		ir.NewLocal(ir.LocalGet, 0, ir.I32, 0, 0),
		ir.NewConst(int32(10), ir.I32, 1, 0),
		ir.NewNumeric(ir.OpLt, ir.I32, 3, 0),
		ir.NewJump(8, true, 3, 0), // branch taken skips the body
		ir.NewConst(int32(1), ir.I32, 5, 0),
		ir.NewLocal(ir.LocalSet, 1, ir.I32, 6, 0),
		ir.NewConst(int32(0), ir.I32, 8, 0),
		ir.NewReturn(ir.I32, 9, 0),
	}
	out := structured(t, instrs)

	if len(out) != 9 {
		t.Fatalf("got %d instructions, want 9", len(out))
	}
	num, ok := out[2].(*ir.NumericInstruction)
	if !ok || num.Op != ir.OpGe {
		t.Errorf("condition = %v, want the negated lt (ge)", out[2])
	}
	blockOpAt(t, out, 3, ir.BlockOpIf)
	blockOpAt(t, out, 6, ir.BlockOpEnd)
}

func TestStructure_IfElse(t *testing.T) {
	instrs := []ir.Instruction{
		ir.NewLocal(ir.LocalGet, 0, ir.I32, 0, 0),
		ir.NewJump(8, true, 1, 0),            // to the else branch
		ir.NewConst(int32(1), ir.I32, 3, 0),  // then
		ir.NewJump(12, false, 6, 0),          // over the else branch
		ir.NewConst(int32(2), ir.I32, 8, 0),  // else
		ir.NewReturn(ir.I32, 12, 0),
	}
	out := structured(t, instrs)

	// the jump had no relational producer, so an explicit compare with
	// zero is synthesized before the if
	if len(out) != 9 {
		t.Fatalf("got %d instructions, want 9", len(out))
	}
	if c, ok := out[1].(*ir.ConstInstruction); !ok || c.Value != int32(0) {
		t.Errorf("output[1] = %v, want the synthesized zero", out[1])
	}
	if num, ok := out[2].(*ir.NumericInstruction); !ok || num.Op != ir.OpEq {
		t.Errorf("output[2] = %v, want eq", out[2])
	}
	blockOpAt(t, out, 3, ir.BlockOpIf)
	blockOpAt(t, out, 5, ir.BlockOpElse)
	blockOpAt(t, out, 7, ir.BlockOpEnd)
}

func TestStructure_Loop(t *testing.T) {
	instrs := []ir.Instruction{
		ir.NewNop(0, 0), // loop header
		ir.NewConst(int32(1), ir.I32, 2, 0),
		ir.NewJump(0, true, 4, 0), // conditional back edge
		ir.NewReturn(ir.NoType, 6, 0),
	}
	out := structured(t, instrs)

	blockOpAt(t, out, 0, ir.BlockOpLoop)
	br := blockOpAt(t, out, 3, ir.BlockOpBrIf)
	if br.Data.(int) != 0 {
		t.Errorf("br_if depth = %d, want 0", br.Data.(int))
	}
	blockOpAt(t, out, 4, ir.BlockOpEnd)
}

func TestStructure_BreakBlock(t *testing.T) {
	instrs := []ir.Instruction{
		ir.NewConst(int32(1), ir.I32, 0, 0),
		ir.NewJump(6, false, 2, 0),
		ir.NewConst(int32(2), ir.I32, 4, 0),
		ir.NewReturn(ir.I32, 6, 0),
	}
	out := structured(t, instrs)

	blockOpAt(t, out, 1, ir.BlockOpBlock)
	br := blockOpAt(t, out, 2, ir.BlockOpBr)
	if br.Data.(int) != 0 {
		t.Errorf("br depth = %d, want 0", br.Data.(int))
	}
	blockOpAt(t, out, 4, ir.BlockOpEnd)
}

func TestStructure_Switch(t *testing.T) {
	instrs := []ir.Instruction{
		ir.NewLocal(ir.LocalGet, 0, ir.I32, 0, 0),
		NewSwitch([]int{4, 8}, 8, 2, 0),
		ir.NewConst(int32(1), ir.I32, 4, 0),
		ir.NewJump(10, false, 5, 0), // break out of the switch
		ir.NewConst(int32(2), ir.I32, 8, 0),
		ir.NewReturn(ir.I32, 10, 0),
	}
	out := structured(t, instrs)

	// three nested blocks open together: the outermost is the break
	// target, then the default/second-case region, then the first case
	blockOpAt(t, out, 1, ir.BlockOpBlock)
	blockOpAt(t, out, 2, ir.BlockOpBlock)
	blockOpAt(t, out, 3, ir.BlockOpBlock)

	bt := blockOpAt(t, out, 4, ir.BlockOpBrTable)
	data := bt.Data.(ir.BrTableData)
	if len(data.Targets) != 2 || data.Targets[0] != 0 || data.Targets[1] != 1 {
		t.Errorf("br_table targets = %v, want [0 1]", data.Targets)
	}
	if data.Default != 1 {
		t.Errorf("br_table default = %d, want 1", data.Default)
	}

	blockOpAt(t, out, 5, ir.BlockOpEnd)
	br := blockOpAt(t, out, 7, ir.BlockOpBr)
	if br.Data.(int) != 1 {
		t.Errorf("switch break depth = %d, want 1", br.Data.(int))
	}
	blockOpAt(t, out, 8, ir.BlockOpEnd)
	blockOpAt(t, out, 10, ir.BlockOpEnd)
}

func TestStructure_SharedLoopHeader(t *testing.T) {
	instrs := []ir.Instruction{
		ir.NewNop(0, 0),
		ir.NewJump(0, true, 3, 0),
		ir.NewConst(int32(1), ir.I32, 5, 0),
		ir.NewJump(0, false, 7, 0), // same header, later back edge
		ir.NewReturn(ir.NoType, 9, 0),
	}
	out := structured(t, instrs)

	// one loop region serves both back edges
	loops := 0
	for _, instr := range out {
		if b, ok := instr.(*ir.BlockInstruction); ok && b.Op == ir.BlockOpLoop {
			loops++
		}
	}
	if loops != 1 {
		t.Errorf("got %d loops, want 1", loops)
	}
}

func TestStructure_UnstructuredFlow(t *testing.T) {
	instrs := []ir.Instruction{
		ir.NewNop(0, 0),
		ir.NewJump(6, true, 1, 0), // enters the middle of the loop region
		ir.NewNop(4, 0),           // loop header
		ir.NewNop(6, 0),
		ir.NewJump(4, true, 9, 0),
		ir.NewReturn(ir.NoType, 11, 0),
	}
	if _, err := NewBranchManager().Structure(instrs); err == nil {
		t.Fatal("expected an unstructured control flow error")
	}
}
