package optimizer

import (
	"math"
	"testing"

	"github.com/wasmlift/wasmlift/internal/ir"
)

func optimize(instrs []ir.Instruction) []ir.Instruction {
	return New().Optimize(instrs)
}

func constAt(t *testing.T, instrs []ir.Instruction, idx int) *ir.ConstInstruction {
	t.Helper()
	c, ok := instrs[idx].(*ir.ConstInstruction)
	if !ok {
		t.Fatalf("instruction %d = %T, want a constant", idx, instrs[idx])
	}
	return c
}

func TestFold_BinaryArithmetic(t *testing.T) {
	tests := []struct {
		name string
		a, b interface{}
		typ  ir.ValueType
		op   ir.NumericOp
		want interface{}
	}{
		{"i32 add", int32(2), int32(3), ir.I32, ir.OpAdd, int32(5)},
		{"i32 sub wraps", int32(math.MinInt32), int32(1), ir.I32, ir.OpSub, int32(math.MaxInt32)},
		{"i32 shl masks shift", int32(1), int32(33), ir.I32, ir.OpShl, int32(2)},
		{"i32 shr_u", int32(-1), int32(28), ir.I32, ir.OpShrU, int32(15)},
		{"i64 mul", int64(1 << 40), int64(4), ir.I64, ir.OpMul, int64(1 << 42)},
		{"f64 div by zero", 1.0, 0.0, ir.F64, ir.OpDiv, math.Inf(1)},
		{"f64 min", 2.5, -1.0, ir.F64, ir.OpMin, -1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := optimize([]ir.Instruction{
				ir.NewConst(tt.a, tt.typ, 0, 0),
				ir.NewConst(tt.b, tt.typ, 1, 0),
				ir.NewNumeric(tt.op, tt.typ, 2, 0),
			})
			if len(out) != 1 {
				t.Fatalf("got %d instructions, want 1", len(out))
			}
			if got := constAt(t, out, 0).Value; got != tt.want {
				t.Errorf("folded value = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFold_Relational(t *testing.T) {
	tests := []struct {
		name string
		a, b interface{}
		typ  ir.ValueType
		op   ir.NumericOp
		want int32
	}{
		{"i32 lt", int32(1), int32(2), ir.I32, ir.OpLt, 1},
		{"i64 ge", int64(5), int64(5), ir.I64, ir.OpGe, 1},
		{"f64 nan ne", math.NaN(), 1.0, ir.F64, ir.OpNe, 1},
		{"f64 nan eq", math.NaN(), math.NaN(), ir.F64, ir.OpEq, 0},
		{"f64 nan lt", math.NaN(), 1.0, ir.F64, ir.OpLt, 0},
		{"f32 gt", float32(2), float32(1), ir.F32, ir.OpGt, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := optimize([]ir.Instruction{
				ir.NewConst(tt.a, tt.typ, 0, 0),
				ir.NewConst(tt.b, tt.typ, 1, 0),
				ir.NewNumeric(tt.op, tt.typ, 2, 0),
			})
			if len(out) != 1 {
				t.Fatalf("got %d instructions, want 1", len(out))
			}
			c := constAt(t, out, 0)
			// comparisons push an i32 boolean regardless of operand type
			if c.Type != ir.I32 {
				t.Fatalf("folded type = %s, want i32", c.Type)
			}
			if c.Value != tt.want {
				t.Errorf("folded value = %v, want %d", c.Value, tt.want)
			}
		})
	}
}

func TestFold_IntegerDivByZeroPreserved(t *testing.T) {
	for _, op := range []ir.NumericOp{ir.OpDiv, ir.OpRem} {
		out := optimize([]ir.Instruction{
			ir.NewConst(int32(1), ir.I32, 0, 0),
			ir.NewConst(int32(0), ir.I32, 1, 0),
			ir.NewNumeric(op, ir.I32, 2, 0),
		})
		// the trap must still happen at run time
		if len(out) != 3 {
			t.Errorf("%v: got %d instructions, want the window untouched", op, len(out))
		}
	}
}

func TestFold_Unary(t *testing.T) {
	out := optimize([]ir.Instruction{
		ir.NewConst(int32(7), ir.I32, 0, 0),
		ir.NewNumeric(ir.OpNeg, ir.I32, 1, 0),
	})
	if len(out) != 1 || constAt(t, out, 0).Value != int32(-7) {
		t.Errorf("neg fold = %v", out)
	}

	out = optimize([]ir.Instruction{
		ir.NewConst(9.0, ir.F64, 0, 0),
		ir.NewNumeric(ir.OpSqrt, ir.F64, 1, 0),
	})
	if len(out) != 1 || constAt(t, out, 0).Value != 3.0 {
		t.Errorf("sqrt fold = %v", out)
	}
}

func TestFold_Cascades(t *testing.T) {
	// (2+3)*4 folds in two passes
	out := optimize([]ir.Instruction{
		ir.NewConst(int32(2), ir.I32, 0, 0),
		ir.NewConst(int32(3), ir.I32, 1, 0),
		ir.NewNumeric(ir.OpAdd, ir.I32, 2, 0),
		ir.NewConst(int32(4), ir.I32, 3, 0),
		ir.NewNumeric(ir.OpMul, ir.I32, 4, 0),
	})
	if len(out) != 1 || constAt(t, out, 0).Value != int32(20) {
		t.Errorf("cascade fold = %v", out)
	}
}

func TestFold_MixedTypesUntouched(t *testing.T) {
	out := optimize([]ir.Instruction{
		ir.NewConst(int32(1), ir.I32, 0, 0),
		ir.NewConst(int64(2), ir.I64, 1, 0),
		ir.NewNumeric(ir.OpAdd, ir.I64, 2, 0),
	})
	if len(out) != 3 {
		t.Errorf("mismatched constant types folded: %v", out)
	}
}

func TestRewrite_StoreLoadBecomesTee(t *testing.T) {
	out := optimize([]ir.Instruction{
		ir.NewLocal(ir.LocalGet, 0, ir.I32, 0, 0),
		ir.NewLocal(ir.LocalSet, 1, ir.I32, 1, 0),
		ir.NewLocal(ir.LocalGet, 1, ir.I32, 2, 0),
		ir.NewBlock(ir.BlockOpReturn, nil, 3, 0),
	})
	tee, ok := out[1].(*ir.LocalInstruction)
	if !ok || tee.Op != ir.LocalTee || tee.Index != 1 {
		t.Fatalf("instruction 1 = %v, want tee of local 1", out[1])
	}
	if _, ok := out[2].(*ir.NopInstruction); !ok {
		t.Errorf("instruction 2 = %T, want the fused load turned nop", out[2])
	}
}

func TestRewrite_DeadStoreBecomesDrop(t *testing.T) {
	ret := ir.NewReturn(ir.NoType, 4, 0)
	out := optimize([]ir.Instruction{
		ir.NewConst(int32(1), ir.I32, 0, 0),
		ir.NewLocal(ir.LocalSet, 0, ir.I32, 1, 0), // overwritten below
		ir.NewConst(int32(2), ir.I32, 2, 0),
		ir.NewLocal(ir.LocalSet, 0, ir.I32, 3, 0), // never read again
		ret,
	})
	if b, ok := out[1].(*ir.BlockInstruction); !ok || b.Op != ir.BlockOpDrop {
		t.Errorf("instruction 1 = %v, want drop", out[1])
	}
	if b, ok := out[3].(*ir.BlockInstruction); !ok || b.Op != ir.BlockOpDrop {
		t.Errorf("instruction 3 = %v, want drop", out[3])
	}
}

func TestRewrite_LoadKeepsStore(t *testing.T) {
	out := optimize([]ir.Instruction{
		ir.NewConst(int32(1), ir.I32, 0, 0),
		ir.NewLocal(ir.LocalSet, 0, ir.I32, 1, 0),
		ir.NewNop(2, 0),
		ir.NewLocal(ir.LocalGet, 0, ir.I32, 3, 0),
		ir.NewBlock(ir.BlockOpReturn, nil, 4, 0),
	})
	if s, ok := out[1].(*ir.LocalInstruction); !ok || s.Op != ir.LocalSet {
		t.Errorf("instruction 1 = %v, want the store kept", out[1])
	}
}

func TestRewrite_BranchKeepsStore(t *testing.T) {
	// a control transfer hides possible loads; the flat scan must give up
	out := optimize([]ir.Instruction{
		ir.NewConst(int32(1), ir.I32, 0, 0),
		ir.NewLocal(ir.LocalSet, 0, ir.I32, 1, 0),
		ir.NewJump(10, false, 2, 0),
	})
	if s, ok := out[1].(*ir.LocalInstruction); !ok || s.Op != ir.LocalSet {
		t.Errorf("instruction 1 = %v, want the store kept", out[1])
	}
}
