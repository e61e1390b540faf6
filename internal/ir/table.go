package ir

// TableOp is a function-table access kind.
type TableOp int

const (
	TableGet TableOp = iota
	TableSet
)

func (op TableOp) String() string {
	if op == TableGet {
		return "table.get"
	}
	return "table.set"
}

// TableInstruction accesses the function table directly. Only the GC mode
// uses it; the linear-memory mode reads vtables out of the data section.
type TableInstruction struct {
	baseInstruction
	Op    TableOp
	Table int
}

func NewTable(op TableOp, table, codePos, line int) *TableInstruction {
	return &TableInstruction{baseInstruction{codePos, line}, op, table}
}

func (i *TableInstruction) PopCount() int {
	if i.Op == TableGet {
		return 1
	}
	return 2
}

func (i *TableInstruction) PushType() ValueType {
	if i.Op == TableGet {
		return FuncRef
	}
	return NoType
}

func (i *TableInstruction) Render(w ModuleWriter) error {
	return w.WriteTableOp(i.Op, i.Table)
}
