package ir

// FuncSig describes a callable as instructions need it: the
// signature-qualified unique name used for registry identity, the parameter
// and result types, and whether the call carries a receiver.
type FuncSig struct {
	Name     string
	Params   []ValueType
	Results  []ValueType
	NeedThis bool
}

// StackArity is the number of values a call with this signature pops.
func (s FuncSig) StackArity() int {
	n := len(s.Params)
	if s.NeedThis {
		n++
	}
	return n
}

// ReturnType is the pushed type, or NoType for void functions.
func (s FuncSig) ReturnType() ValueType {
	if len(s.Results) == 0 {
		return NoType
	}
	return s.Results[0]
}

// ModuleWriter is the sink the core renders into. The core treats it as
// write-only: the only values it reads back are offsets it computed itself
// and handed over earlier. Both the text and the binary serializer implement
// this interface; tests implement it with a recording stub.
type ModuleWriter interface {
	// Module-level declarations.
	WriteImport(module, name string, sig FuncSig) error
	WriteExport(externalName, internalName string) error
	WriteGlobalDecl(name string, t ValueType, init int64, mutable bool) error
	WriteDataSegment(offset int, data []byte) error
	SetTableSize(size int) error
	// WriteElement binds a function-table slot to a function by its unique
	// name. The slot indices are the ones the type manager allocated.
	WriteElement(index int, funcName string) error

	// Per-function framing. Calls arrive in exactly this order:
	// StartFunction, WriteParam*, WriteResult*, WriteLocal*, StartBody,
	// one instruction-level call per instruction, FinishFunction.
	StartFunction(name, sourceFile string) error
	WriteParam(t ValueType, name string) error
	WriteResult(t ValueType) error
	WriteLocal(t ValueType, name string) error
	StartBody() error
	FinishFunction() error

	// Instruction-level sink, invoked from Instruction.Render.
	WriteConstI32(v int32) error
	WriteConstI64(v int64) error
	WriteConstF32(v float32) error
	WriteConstF64(v float64) error
	WriteConstNull() error
	WriteLocalOp(op LocalOp, index int) error
	WriteGlobalOp(load bool, name string, t ValueType) error
	WriteNumericOp(op NumericOp, t ValueType) error
	WriteConvert(op ConvertOp) error
	WriteMemoryOp(op MemoryOp, t ValueType, offset, width int, signed bool) error
	WriteBlockOp(op BlockOp, data interface{}) error
	WriteCall(sig FuncSig) error
	WriteCallIndirect(sig FuncSig) error
	WriteStructOp(op StructOp, typeName, fieldName string) error
	WriteArrayOp(op ArrayOp, elem ValueType) error
	WriteTableOp(op TableOp, table int) error
	WriteNop() error
}

// BrTableData is the payload of a BlockOpBrTable block operation.
type BrTableData struct {
	Targets []int
	Default int
}
