package compiler

import (
	"testing"

	"github.com/wasmlift/wasmlift/internal/ir"
)

func TestFindPushInstruction_Linear(t *testing.T) {
	instrs := []ir.Instruction{
		ir.NewConst(int32(1), ir.I32, 0, 0),      // 0: pushes
		ir.NewLocal(ir.LocalGet, 0, ir.I64, 1, 0), // 1: pushes
		ir.NewConst(int32(2), ir.I32, 2, 0),      // 2: pushes
	}

	for depth, want := range map[int]int{0: 2, 1: 1, 2: 0} {
		got, err := findPushInstruction(instrs, len(instrs), depth)
		if err != nil {
			t.Fatalf("depth %d: unexpected error: %v", depth, err)
		}
		if got != want {
			t.Errorf("depth %d = instruction %d, want %d", depth, got, want)
		}
	}
}

func TestFindPushInstruction_ConsumersCollapse(t *testing.T) {
	instrs := []ir.Instruction{
		ir.NewConst(int32(7), ir.I32, 0, 0),
		ir.NewConst(int32(8), ir.I32, 1, 0),
		ir.NewNumeric(ir.OpAdd, ir.I32, 2, 0), // pops 2, pushes 1
		ir.NewConst(int32(9), ir.I32, 3, 0),
	}

	got, err := findPushInstruction(instrs, len(instrs), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 2 {
		t.Errorf("depth 1 = instruction %d, want the add at 2", got)
	}
}

func TestFindPushInstruction_CallArity(t *testing.T) {
	sig := ir.FuncSig{
		Name:     "A.f(II)I",
		Params:   []ir.ValueType{ir.I32, ir.I32},
		Results:  []ir.ValueType{ir.I32},
		NeedThis: true,
	}
	instrs := []ir.Instruction{
		ir.NewLocal(ir.LocalGet, 0, ir.AnyRef, 0, 0), // receiver
		ir.NewConst(int32(1), ir.I32, 1, 0),
		ir.NewConst(int32(2), ir.I32, 2, 0),
	}

	// the receiver sits below the two arguments
	got, err := findPushInstruction(instrs, len(instrs), len(sig.Params))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0 {
		t.Errorf("receiver push = instruction %d, want 0", got)
	}
}

func TestFindPushInstruction_GotoClearsStack(t *testing.T) {
	instrs := []ir.Instruction{
		ir.NewConst(int32(1), ir.I32, 0, 0),
		ir.NewJump(10, false, 1, 0), // jumps past the query position
		ir.NewConst(int32(2), ir.I32, 4, 0),
	}

	// the straight-line value never reaches position 4
	if _, err := findPushInstruction(instrs, 2, 0); err == nil {
		t.Fatal("expected an error: the pre-jump value cannot reach the query")
	}
}

func TestFindPushInstruction_GotoFastForwards(t *testing.T) {
	instrs := []ir.Instruction{
		ir.NewJump(4, false, 0, 0),          // skips the next constant
		ir.NewConst(int32(1), ir.I32, 2, 0), // dead
		ir.NewConst(int32(2), ir.I32, 4, 0),
		ir.NewNop(5, 0), // query anchor
	}

	got, err := findPushInstruction(instrs, 3, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 2 {
		t.Errorf("depth 0 = instruction %d, want 2", got)
	}
	if _, err := findPushInstruction(instrs, 3, 1); err == nil {
		t.Fatal("expected an error: the skipped value must not be counted")
	}
}

func TestFindPushInstruction_Underflow(t *testing.T) {
	instrs := []ir.Instruction{
		ir.NewNumeric(ir.OpAdd, ir.I32, 0, 0),
	}
	if _, err := findPushInstruction(instrs, 1, 0); err == nil {
		t.Fatal("expected a stack underflow error")
	}
}

func TestValueTypeAt(t *testing.T) {
	instrs := []ir.Instruction{
		ir.NewConst(int64(5), ir.I64, 0, 0),
		ir.NewConst(int32(1), ir.I32, 1, 0),
	}
	got, err := valueTypeAt(instrs, 2, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != ir.I64 {
		t.Errorf("type at depth 1 = %s, want i64", got)
	}
}
