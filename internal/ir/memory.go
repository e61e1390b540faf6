package ir

// MemoryOp is a linear-memory access kind.
type MemoryOp int

const (
	MemoryLoad MemoryOp = iota
	MemoryStore
)

func (op MemoryOp) String() string {
	if op == MemoryLoad {
		return "load"
	}
	return "store"
}

// MemoryInstruction reads or writes linear memory. In the non-GC mode this
// is how instance fields are accessed: the base address is the receiver
// reference on the stack and Offset is the field offset the type manager
// computed.
//
// Width narrows sub-word accesses (8/16 for byte/boolean/char/short fields);
// 0 means the full width of Type.
type MemoryInstruction struct {
	baseInstruction
	Op     MemoryOp
	Type   ValueType
	Offset int
	Width  int
	Signed bool
}

func NewMemory(op MemoryOp, t ValueType, offset, codePos, line int) *MemoryInstruction {
	return &MemoryInstruction{baseInstruction{codePos, line}, op, t, offset, 0, true}
}

// NewMemoryNarrow creates a sub-word access (width 8 or 16 bits).
func NewMemoryNarrow(op MemoryOp, t ValueType, offset, width int, signed bool, codePos, line int) *MemoryInstruction {
	return &MemoryInstruction{baseInstruction{codePos, line}, op, t, offset, width, signed}
}

func (i *MemoryInstruction) PopCount() int {
	if i.Op == MemoryLoad {
		return 1 // address
	}
	return 2 // address, value
}

func (i *MemoryInstruction) PushType() ValueType {
	if i.Op == MemoryLoad {
		return i.Type
	}
	return NoType
}

func (i *MemoryInstruction) Render(w ModuleWriter) error {
	return w.WriteMemoryOp(i.Op, i.Type, i.Offset, i.Width, i.Signed)
}
