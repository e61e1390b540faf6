package ir

// LocalOp is a local-variable access kind.
type LocalOp int

const (
	LocalGet LocalOp = iota
	LocalSet
	// LocalTee stores the top of stack and keeps it: the store-and-keep
	// fusion the optimizer produces for store-then-load pairs.
	LocalTee
)

func (op LocalOp) String() string {
	switch op {
	case LocalGet:
		return "local.get"
	case LocalSet:
		return "local.set"
	default:
		return "local.tee"
	}
}

// LocalInstruction reads or writes a target-index local variable. Index is
// the dense target index produced by the slot translator, not the source
// slot number.
type LocalInstruction struct {
	baseInstruction
	Op    LocalOp
	Index int
	Type  ValueType
}

func NewLocal(op LocalOp, index int, t ValueType, codePos, line int) *LocalInstruction {
	return &LocalInstruction{baseInstruction{codePos, line}, op, index, t}
}

func (i *LocalInstruction) PopCount() int {
	if i.Op == LocalGet {
		return 0
	}
	return 1
}

func (i *LocalInstruction) PushType() ValueType {
	if i.Op == LocalSet {
		return NoType
	}
	return i.Type
}

func (i *LocalInstruction) Render(w ModuleWriter) error {
	return w.WriteLocalOp(i.Op, i.Index)
}
