// Package ir defines the target-side intermediate instruction model.
//
// A method body is compiled into a flat []Instruction list. Every
// instruction knows how many stack values it consumes (PopCount), the static
// type of the value it leaves on the stack if any (PushType), and how to
// render itself to a ModuleWriter. Pop count and push type are derived
// purely from the instruction's own operands, so the list can be analyzed
// without executing anything, which is what the stack inspector and the
// optimizer rely on.
package ir

// ValueType is a target value type. NoType marks instructions that leave
// nothing on the stack.
type ValueType int

const (
	NoType ValueType = iota
	I32
	I64
	F32
	F64
	// AnyRef is an object reference. In linear-memory mode it is an i32
	// address; in GC mode it renders as a real reference type.
	AnyRef
	FuncRef
	// ExceptionRef is the operand of throw/rethrow.
	ExceptionRef
)

func (t ValueType) String() string {
	switch t {
	case NoType:
		return "void"
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	case AnyRef:
		return "anyref"
	case FuncRef:
		return "funcref"
	case ExceptionRef:
		return "exnref"
	default:
		return "unknown"
	}
}

// IsWide reports whether the type occupies two slots in the source
// bytecode's local variable convention.
func (t ValueType) IsWide() bool {
	return t == I64 || t == F64
}

// ByteSize is the linear-memory footprint of the type.
func (t ValueType) ByteSize() int {
	switch t {
	case I64, F64:
		return 8
	default:
		return 4
	}
}

// IsNumeric reports whether constant folding applies to the type.
func (t ValueType) IsNumeric() bool {
	switch t {
	case I32, I64, F32, F64:
		return true
	}
	return false
}

// PointerWidth is the byte width of a linear-memory reference, used when
// computing vtable slot offsets.
const PointerWidth = 4

// AnyType is the type of a value as the compiler tracks it. The primitive
// value types implement it directly; the type manager's struct types
// implement it with a concrete class name so that local-variable type
// unification can keep the more specific of two related reference types.
type AnyType interface {
	// Primitive is the target value type a value of this type renders as.
	Primitive() ValueType
	// Name is a diagnostic name ("i32", "java/lang/String", ...).
	Name() string
}

// Primitive implements AnyType.
func (t ValueType) Primitive() ValueType { return t }

// Name implements AnyType.
func (t ValueType) Name() string { return t.String() }

// SameType reports whether two tracked types are interchangeable for local
// variable slots: equal primitives, or both reference types with the same
// name.
func SameType(a, b AnyType) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Primitive() == b.Primitive() && a.Name() == b.Name()
}
