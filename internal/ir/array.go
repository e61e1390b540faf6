package ir

// ArrayOp is an operation on an array value. Like struct operations these
// render directly only in the GC mode; the linear-memory mode lowers array
// access to runtime helper calls during building.
type ArrayOp int

const (
	ArrayNew ArrayOp = iota
	ArrayGet
	ArraySet
	ArrayLen
)

func (op ArrayOp) String() string {
	switch op {
	case ArrayNew:
		return "array.new"
	case ArrayGet:
		return "array.get"
	case ArraySet:
		return "array.set"
	default:
		return "array.len"
	}
}

// ArrayInstruction operates on a single-dimension array of Elem values.
type ArrayInstruction struct {
	baseInstruction
	Op   ArrayOp
	Elem ValueType
}

func NewArray(op ArrayOp, elem ValueType, codePos, line int) *ArrayInstruction {
	return &ArrayInstruction{baseInstruction{codePos, line}, op, elem}
}

func (i *ArrayInstruction) PopCount() int {
	switch i.Op {
	case ArrayNew, ArrayLen:
		return 1 // length / array ref
	case ArrayGet:
		return 2 // array ref, index
	default:
		return 3 // array ref, index, value
	}
}

func (i *ArrayInstruction) PushType() ValueType {
	switch i.Op {
	case ArrayNew:
		return AnyRef
	case ArrayGet:
		return i.Elem
	case ArrayLen:
		return I32
	default:
		return NoType
	}
}

func (i *ArrayInstruction) Render(w ModuleWriter) error {
	return w.WriteArrayOp(i.Op, i.Elem)
}
