package ir

// BlockOp is a structured control operation.
type BlockOp int

const (
	BlockOpBlock BlockOp = iota
	BlockOpLoop
	BlockOpIf
	BlockOpElse
	BlockOpEnd
	BlockOpBr
	BlockOpBrIf
	BlockOpBrTable
	BlockOpReturn
	BlockOpDrop
	BlockOpThrow
	BlockOpRethrow
	BlockOpUnreachable
)

var blockOpNames = map[BlockOp]string{
	BlockOpBlock: "block", BlockOpLoop: "loop", BlockOpIf: "if",
	BlockOpElse: "else", BlockOpEnd: "end", BlockOpBr: "br",
	BlockOpBrIf: "br_if", BlockOpBrTable: "br_table",
	BlockOpReturn: "return", BlockOpDrop: "drop",
	BlockOpThrow: "throw", BlockOpRethrow: "rethrow",
	BlockOpUnreachable: "unreachable",
}

func (op BlockOp) String() string { return blockOpNames[op] }

// BlockInstruction is a structured control instruction. Data carries the
// operation payload: a relative branch depth (int) for Br/BrIf, a
// BrTableData for BrTable, nothing for the rest.
//
// ReturnType is only meaningful for Return (the popped value type, NoType
// for void methods) and Drop.
type BlockInstruction struct {
	baseInstruction
	Op         BlockOp
	Data       interface{}
	ReturnType ValueType
}

func NewBlock(op BlockOp, data interface{}, codePos, line int) *BlockInstruction {
	return &BlockInstruction{baseInstruction{codePos, line}, op, data, NoType}
}

// NewReturn creates the method return; t is NoType for void methods.
func NewReturn(t ValueType, codePos, line int) *BlockInstruction {
	return &BlockInstruction{baseInstruction{codePos, line}, BlockOpReturn, nil, t}
}

// NewDrop discards the top of stack, e.g. a provably dead store's value.
func NewDrop(t ValueType, codePos, line int) *BlockInstruction {
	return &BlockInstruction{baseInstruction{codePos, line}, BlockOpDrop, nil, t}
}

func (i *BlockInstruction) PopCount() int {
	switch i.Op {
	case BlockOpIf, BlockOpBrIf, BlockOpBrTable, BlockOpDrop, BlockOpThrow:
		return 1
	case BlockOpReturn:
		if i.ReturnType != NoType {
			return 1
		}
		return 0
	default:
		return 0
	}
}

func (i *BlockInstruction) PushType() ValueType { return NoType }

func (i *BlockInstruction) Render(w ModuleWriter) error {
	return w.WriteBlockOp(i.Op, i.Data)
}
