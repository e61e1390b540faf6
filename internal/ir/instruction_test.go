package ir

import "testing"

func TestFuncSig_Arity(t *testing.T) {
	sig := FuncSig{
		Name:     "A.f(IJ)J",
		Params:   []ValueType{I32, I64},
		Results:  []ValueType{I64},
		NeedThis: true,
	}
	if got := sig.StackArity(); got != 3 {
		t.Errorf("StackArity = %d, want the receiver counted", got)
	}
	if got := sig.ReturnType(); got != I64 {
		t.Errorf("ReturnType = %s", got)
	}

	void := FuncSig{Name: "A.g()V"}
	if got := void.ReturnType(); got != NoType {
		t.Errorf("void ReturnType = %s", got)
	}
}

func TestStackEffects(t *testing.T) {
	call := NewCall(CallDirect, FuncSig{
		Name:    "A.f(II)I",
		Params:  []ValueType{I32, I32},
		Results: []ValueType{I32},
	}, 0, 0)

	tests := []struct {
		name string
		in   Instruction
		pops int
		push ValueType
	}{
		{"const", NewConst(int32(1), I32, 0, 0), 0, I32},
		{"binary numeric", NewNumeric(OpAdd, I64, 0, 0), 2, I64},
		{"relational pushes i32", NewNumeric(OpLt, F64, 0, 0), 2, I32},
		{"unary numeric", NewNumeric(OpSqrt, F64, 0, 0), 1, F64},
		{"load", NewMemory(MemoryLoad, I32, 4, 0, 0), 1, I32},
		{"store", NewMemory(MemoryStore, I64, 8, 0, 0), 2, NoType},
		{"local get", NewLocal(LocalGet, 0, F32, 0, 0), 0, F32},
		{"local set", NewLocal(LocalSet, 0, F32, 0, 0), 1, NoType},
		{"call", call, 2, I32},
		{"drop", NewDrop(I32, 0, 0), 1, NoType},
		{"convert", NewConvert(ConvI2L, 0, 0), 1, I64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.PopCount(); got != tt.pops {
				t.Errorf("PopCount = %d, want %d", got, tt.pops)
			}
			if got := tt.in.PushType(); got != tt.push {
				t.Errorf("PushType = %s, want %s", got, tt.push)
			}
		})
	}
}

func TestSameType(t *testing.T) {
	if !SameType(I32, I32) {
		t.Error("identical primitives differ")
	}
	if SameType(I32, I64) {
		t.Error("distinct primitives match")
	}
	if !SameType(nil, nil) {
		t.Error("two absent types differ")
	}
	if SameType(I32, nil) {
		t.Error("a type matches nil")
	}
}

func TestJumpInstruction_Direction(t *testing.T) {
	if !NewJump(10, false, 2, 0).IsForward() {
		t.Error("jump to a later position reads as backward")
	}
	if NewJump(0, true, 6, 0).IsForward() {
		t.Error("jump to an earlier position reads as forward")
	}
}

func TestConstInstruction_IsNull(t *testing.T) {
	if !NewConstNull(0, 0).IsNull() {
		t.Error("null constant does not read as null")
	}
	if NewConst(int32(0), I32, 0, 0).IsNull() {
		t.Error("integer zero reads as null")
	}
}

func TestDupThisInstruction_StackEffect(t *testing.T) {
	tee := NewDupThis(DupTee, 3, 0, 0)
	if tee.PopCount() != 1 || tee.PushType() != AnyRef {
		t.Errorf("tee duplication pops %d and pushes %v, want 1 and anyref",
			tee.PopCount(), tee.PushType())
	}
	reload := NewDupThis(DupReuseLocal, 0, 0, 0)
	if reload.PopCount() != 0 || reload.PushType() != AnyRef {
		t.Errorf("reload duplication pops %d and pushes %v, want 0 and anyref",
			reload.PopCount(), reload.PushType())
	}
}
