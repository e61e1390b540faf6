package ir

import (
	"github.com/wasmlift/wasmlift/internal/diagnostics"
)

// ConstInstruction pushes a literal. Value holds int32, int64, float32 or
// float64 matching Type; a nil Value with Type AnyRef is the null reference.
type ConstInstruction struct {
	baseInstruction
	Value interface{}
	Type  ValueType
}

func NewConst(value interface{}, t ValueType, codePos, line int) *ConstInstruction {
	return &ConstInstruction{baseInstruction{codePos, line}, value, t}
}

// NewConstNull pushes the null reference.
func NewConstNull(codePos, line int) *ConstInstruction {
	return &ConstInstruction{baseInstruction{codePos, line}, nil, AnyRef}
}

func (i *ConstInstruction) PopCount() int       { return 0 }
func (i *ConstInstruction) PushType() ValueType { return i.Type }

// IsNull reports whether the constant is the null reference.
func (i *ConstInstruction) IsNull() bool { return i.Value == nil && i.Type == AnyRef }

func (i *ConstInstruction) Render(w ModuleWriter) error {
	switch v := i.Value.(type) {
	case nil:
		return w.WriteConstNull()
	case int32:
		return w.WriteConstI32(v)
	case int64:
		return w.WriteConstI64(v)
	case float32:
		return w.WriteConstF32(v)
	case float64:
		return w.WriteConstF64(v)
	default:
		return diagnostics.NewError(diagnostics.ErrC004,
			"constant with unrenderable value %T at position %d", i.Value, i.codePos)
	}
}
