package optimizer

import (
	"math"

	"github.com/wasmlift/wasmlift/internal/ir"
)

// foldBinary computes "a op b" for two constants of the operator's value
// domain. Integer division and remainder by zero are never folded so the
// runtime trap is preserved. Relational operators produce an i32 boolean;
// Go's float comparison semantics already match the required IEEE behavior
// (any NaN operand makes ordered comparisons false and ne true, infinities
// compare numerically).
func foldBinary(op ir.NumericOp, t ir.ValueType, a, b interface{}) (interface{}, ir.ValueType, bool) {
	switch t {
	case ir.I32:
		x, ok1 := a.(int32)
		y, ok2 := b.(int32)
		if !ok1 || !ok2 {
			return nil, t, false
		}
		if v, ok := foldI32(op, x, y); ok {
			return v, ir.I32, true
		}
	case ir.I64:
		x, ok1 := a.(int64)
		y, ok2 := b.(int64)
		if !ok1 || !ok2 {
			return nil, t, false
		}
		if op.IsRelational() {
			return boolToI32(compareI64(op, x, y)), ir.I32, true
		}
		if v, ok := foldI64(op, x, y); ok {
			return v, ir.I64, true
		}
	case ir.F32:
		x, ok1 := a.(float32)
		y, ok2 := b.(float32)
		if !ok1 || !ok2 {
			return nil, t, false
		}
		if op.IsRelational() {
			return boolToI32(compareF64(op, float64(x), float64(y))), ir.I32, true
		}
		if v, ok := foldF64(op, float64(x), float64(y)); ok {
			return float32(v), ir.F32, true
		}
	case ir.F64:
		x, ok1 := a.(float64)
		y, ok2 := b.(float64)
		if !ok1 || !ok2 {
			return nil, t, false
		}
		if op.IsRelational() {
			return boolToI32(compareF64(op, x, y)), ir.I32, true
		}
		if v, ok := foldF64(op, x, y); ok {
			return v, ir.F64, true
		}
	}
	return nil, t, false
}

func foldI32(op ir.NumericOp, a, b int32) (interface{}, bool) {
	if op.IsRelational() {
		return boolToI32(compareI64(op, int64(a), int64(b))), true
	}
	switch op {
	case ir.OpAdd:
		return a + b, true
	case ir.OpSub:
		return a - b, true
	case ir.OpMul:
		return a * b, true
	case ir.OpDiv:
		if b == 0 {
			return nil, false
		}
		return a / b, true
	case ir.OpRem:
		if b == 0 {
			return nil, false
		}
		return a % b, true
	case ir.OpAnd:
		return a & b, true
	case ir.OpOr:
		return a | b, true
	case ir.OpXor:
		return a ^ b, true
	case ir.OpShl:
		return a << (uint32(b) & 31), true
	case ir.OpShr:
		return a >> (uint32(b) & 31), true
	case ir.OpShrU:
		return int32(uint32(a) >> (uint32(b) & 31)), true
	}
	return nil, false
}

func foldI64(op ir.NumericOp, a, b int64) (interface{}, bool) {
	switch op {
	case ir.OpAdd:
		return a + b, true
	case ir.OpSub:
		return a - b, true
	case ir.OpMul:
		return a * b, true
	case ir.OpDiv:
		if b == 0 {
			return nil, false
		}
		return a / b, true
	case ir.OpRem:
		if b == 0 {
			return nil, false
		}
		return a % b, true
	case ir.OpAnd:
		return a & b, true
	case ir.OpOr:
		return a | b, true
	case ir.OpXor:
		return a ^ b, true
	case ir.OpShl:
		return a << (uint64(b) & 63), true
	case ir.OpShr:
		return a >> (uint64(b) & 63), true
	case ir.OpShrU:
		return int64(uint64(a) >> (uint64(b) & 63)), true
	}
	return nil, false
}

func foldF64(op ir.NumericOp, a, b float64) (float64, bool) {
	switch op {
	case ir.OpAdd:
		return a + b, true
	case ir.OpSub:
		return a - b, true
	case ir.OpMul:
		return a * b, true
	case ir.OpDiv:
		return a / b, true // IEEE: ±Inf or NaN, no trap
	case ir.OpRem:
		return math.Mod(a, b), true
	case ir.OpMin:
		return math.Min(a, b), true
	case ir.OpMax:
		return math.Max(a, b), true
	case ir.OpCopySign:
		return math.Copysign(a, b), true
	}
	return 0, false
}

func compareI64(op ir.NumericOp, a, b int64) bool {
	switch op {
	case ir.OpEq:
		return a == b
	case ir.OpNe:
		return a != b
	case ir.OpLt:
		return a < b
	case ir.OpLe:
		return a <= b
	case ir.OpGt:
		return a > b
	default:
		return a >= b
	}
}

func compareF64(op ir.NumericOp, a, b float64) bool {
	switch op {
	case ir.OpEq:
		return a == b
	case ir.OpNe:
		return a != b
	case ir.OpLt:
		return a < b
	case ir.OpLe:
		return a <= b
	case ir.OpGt:
		return a > b
	default:
		return a >= b
	}
}

func boolToI32(v bool) int32 {
	if v {
		return 1
	}
	return 0
}

// foldUnary folds a single-operand operation against its constant.
func foldUnary(op ir.NumericOp, t ir.ValueType, a interface{}) (interface{}, bool) {
	switch t {
	case ir.I32:
		if x, ok := a.(int32); ok && op == ir.OpNeg {
			return -x, true
		}
	case ir.I64:
		if x, ok := a.(int64); ok && op == ir.OpNeg {
			return -x, true
		}
	case ir.F32:
		if x, ok := a.(float32); ok {
			switch op {
			case ir.OpNeg:
				return -x, true
			case ir.OpAbs:
				return float32(math.Abs(float64(x))), true
			case ir.OpSqrt:
				return float32(math.Sqrt(float64(x))), true
			}
		}
	case ir.F64:
		if x, ok := a.(float64); ok {
			switch op {
			case ir.OpNeg:
				return -x, true
			case ir.OpAbs:
				return math.Abs(x), true
			case ir.OpSqrt:
				return math.Sqrt(x), true
			}
		}
	}
	return nil, false
}
