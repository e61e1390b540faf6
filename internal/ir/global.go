package ir

// GlobalInstruction reads or writes a module global. Static fields compile
// to one global each, named "Class.field".
type GlobalInstruction struct {
	baseInstruction
	Load bool
	Name string
	Type ValueType
}

func NewGlobal(load bool, name string, t ValueType, codePos, line int) *GlobalInstruction {
	return &GlobalInstruction{baseInstruction{codePos, line}, load, name, t}
}

func (i *GlobalInstruction) PopCount() int {
	if i.Load {
		return 0
	}
	return 1
}

func (i *GlobalInstruction) PushType() ValueType {
	if i.Load {
		return i.Type
	}
	return NoType
}

func (i *GlobalInstruction) Render(w ModuleWriter) error {
	return w.WriteGlobalOp(i.Load, i.Name, i.Type)
}
