package ir

import (
	"github.com/wasmlift/wasmlift/internal/diagnostics"
)

// CallKind distinguishes how a call resolves its target.
type CallKind int

const (
	// CallDirect targets a statically known function.
	CallDirect CallKind = iota
	// CallVirtual dispatches through the receiver's vtable. It only
	// exists between the build and write phases: dispatch finalization
	// replaces it with either a direct call or an expanded indirect
	// sequence.
	CallVirtual
	// CallInterface dispatches through the interface method table
	// helper.
	CallInterface
	// CallIndirect calls through the function table; the table index is
	// the extra value on top of the stack.
	CallIndirect
)

// CallInstruction invokes a function. The pop count is fully determined by
// the signature: parameter count, plus one for the receiver of an instance
// call, plus one for the table index of an indirect call.
type CallInstruction struct {
	baseInstruction
	Kind CallKind
	Sig  FuncSig

	// VSlot is the resolved virtual/interface slot. It is only known
	// once all types are registered, i.e. during the write phase.
	VSlot int
}

func NewCall(kind CallKind, sig FuncSig, codePos, line int) *CallInstruction {
	return &CallInstruction{baseInstruction{codePos, line}, kind, sig, -1}
}

func (i *CallInstruction) PopCount() int {
	n := i.Sig.StackArity()
	if i.Kind == CallIndirect {
		n++
	}
	return n
}

func (i *CallInstruction) PushType() ValueType { return i.Sig.ReturnType() }

func (i *CallInstruction) Render(w ModuleWriter) error {
	switch i.Kind {
	case CallDirect:
		return w.WriteCall(i.Sig)
	case CallIndirect:
		return w.WriteCallIndirect(i.Sig)
	default:
		return diagnostics.NewError(diagnostics.ErrC004,
			"unresolved %s call to %s survived dispatch finalization", i.kindName(), i.Sig.Name)
	}
}

func (i *CallInstruction) kindName() string {
	switch i.Kind {
	case CallVirtual:
		return "virtual"
	case CallInterface:
		return "interface"
	case CallIndirect:
		return "indirect"
	default:
		return "direct"
	}
}
