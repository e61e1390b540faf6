package ir

// StructOp is an operation on a structured (object) value. These
// instructions are emitted in the GC reference mode; the linear-memory mode
// lowers field access to MemoryInstruction and allocation to runtime calls
// while the method is being built.
type StructOp int

const (
	StructNew StructOp = iota
	StructGet
	StructSet
	StructInstanceOf
	StructCast
)

func (op StructOp) String() string {
	switch op {
	case StructNew:
		return "struct.new"
	case StructGet:
		return "struct.get"
	case StructSet:
		return "struct.set"
	case StructInstanceOf:
		return "ref.test"
	default:
		return "ref.cast"
	}
}

// StructInstruction operates on a typed object reference.
type StructInstruction struct {
	baseInstruction
	Op        StructOp
	TypeName  string
	FieldName string
	FieldType ValueType
}

func NewStruct(op StructOp, typeName, fieldName string, fieldType ValueType, codePos, line int) *StructInstruction {
	return &StructInstruction{baseInstruction{codePos, line}, op, typeName, fieldName, fieldType}
}

func (i *StructInstruction) PopCount() int {
	switch i.Op {
	case StructNew:
		return 0 // struct.new_default; fields are zero-initialized
	case StructSet:
		return 2
	default:
		return 1
	}
}

func (i *StructInstruction) PushType() ValueType {
	switch i.Op {
	case StructNew, StructCast:
		return AnyRef
	case StructGet:
		return i.FieldType
	case StructInstanceOf:
		return I32
	default:
		return NoType
	}
}

func (i *StructInstruction) Render(w ModuleWriter) error {
	return w.WriteStructOp(i.Op, i.TypeName, i.FieldName)
}
