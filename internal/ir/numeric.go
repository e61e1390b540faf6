package ir

// NumericOp is an arithmetic, bitwise or relational operation on one value
// domain.
type NumericOp int

const (
	OpAdd NumericOp = iota
	OpSub
	OpMul
	OpDiv
	OpRem
	OpNeg
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpShrU

	// Relational operators pop two values and always push an i32 boolean.
	// The conditional branch that follows consumes that boolean as an
	// ordinary operand; there is no special "condition only" form.
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe

	OpMin
	OpMax
	OpAbs
	OpSqrt
	OpCopySign
)

var numericOpNames = map[NumericOp]string{
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div", OpRem: "rem",
	OpNeg: "neg", OpAnd: "and", OpOr: "or", OpXor: "xor",
	OpShl: "shl", OpShr: "shr_s", OpShrU: "shr_u",
	OpEq: "eq", OpNe: "ne", OpLt: "lt", OpLe: "le", OpGt: "gt", OpGe: "ge",
	OpMin: "min", OpMax: "max", OpAbs: "abs", OpSqrt: "sqrt", OpCopySign: "copysign",
}

func (op NumericOp) String() string { return numericOpNames[op] }

// IsRelational reports whether the operation is a comparison pushing i32.
func (op NumericOp) IsRelational() bool {
	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}

// IsUnary reports whether the operation consumes a single operand.
func (op NumericOp) IsUnary() bool {
	switch op {
	case OpNeg, OpAbs, OpSqrt:
		return true
	}
	return false
}

// NumericInstruction applies Op to operands of the value domain Type.
type NumericInstruction struct {
	baseInstruction
	Op   NumericOp
	Type ValueType
}

func NewNumeric(op NumericOp, t ValueType, codePos, line int) *NumericInstruction {
	return &NumericInstruction{baseInstruction{codePos, line}, op, t}
}

func (i *NumericInstruction) PopCount() int {
	if i.Op.IsUnary() {
		return 1
	}
	return 2
}

func (i *NumericInstruction) PushType() ValueType {
	if i.Op.IsRelational() {
		return I32
	}
	return i.Type
}

func (i *NumericInstruction) Render(w ModuleWriter) error {
	return w.WriteNumericOp(i.Op, i.Type)
}
