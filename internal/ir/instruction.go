package ir

import (
	"github.com/wasmlift/wasmlift/internal/diagnostics"
)

// Instruction is one step of the translated computation.
//
// PopCount and PushType are exact and unconditional: an instruction never
// has a partial or data-dependent stack effect. Source constructs whose
// branches pop conditionally are modeled as two instructions (the jump plus
// an explicit drop placeholder) so that linear stack simulation stays exact.
type Instruction interface {
	// PopCount is how many stack values the instruction consumes.
	PopCount() int
	// PushType is the static type of the value left on the stack, or
	// NoType.
	PushType() ValueType
	// Render writes the instruction to the output sink.
	Render(w ModuleWriter) error
	// CodePos is the byte offset of the originating instruction in the
	// source method body.
	CodePos() int
	// Line is the source line number for diagnostics, 0 if unknown.
	Line() int
}

// baseInstruction carries the source position every variant shares.
type baseInstruction struct {
	codePos int
	line    int
}

func (b *baseInstruction) CodePos() int { return b.codePos }
func (b *baseInstruction) Line() int    { return b.line }

// NopInstruction replaces an instruction a rewrite eliminated, e.g. the
// load half of a fused store-then-load pair, so positions stay stable. It
// renders as nothing.
type NopInstruction struct {
	baseInstruction
}

func NewNop(codePos, line int) *NopInstruction {
	return &NopInstruction{baseInstruction{codePos, line}}
}

func (i *NopInstruction) PopCount() int             { return 0 }
func (i *NopInstruction) PushType() ValueType       { return NoType }
func (i *NopInstruction) Render(w ModuleWriter) error { return nil }

// JumpInstruction is the goto-class placeholder produced while the method is
// being built. Its pop count is always zero; conditional jumps are emitted
// as a relational operation plus this placeholder. The branch structuring
// pass replaces every placeholder with block instructions before rendering,
// so reaching Render is an internal consistency failure.
type JumpInstruction struct {
	baseInstruction
	// Target is the source code position the jump transfers to.
	Target int
	// Conditional is true when the jump consumes a condition through an
	// associated relational instruction.
	Conditional bool
}

func NewJump(target int, conditional bool, codePos, line int) *JumpInstruction {
	return &JumpInstruction{baseInstruction{codePos, line}, target, conditional}
}

func (i *JumpInstruction) PopCount() int {
	if i.Conditional {
		return 1
	}
	return 0
}

func (i *JumpInstruction) PushType() ValueType { return NoType }

func (i *JumpInstruction) Render(w ModuleWriter) error {
	return diagnostics.NewError(diagnostics.ErrC004,
		"jump placeholder at position %d survived branch structuring", i.codePos)
}

// IsForward reports whether the jump goes forward in the code.
func (i *JumpInstruction) IsForward() bool { return i.Target > i.codePos }

// DupThisMode selects how a receiver value is duplicated for a virtual
// dispatch.
type DupThisMode int

const (
	// DupReuseLocal re-loads the same side-effect-free local.
	DupReuseLocal DupThisMode = iota
	// DupTee stores the receiver into a synthesized temporary. The
	// instruction is spliced directly after the receiver-producing
	// instruction and behaves like a tee: pops the receiver, pushes it
	// back.
	DupTee
	// DupLoadTemp re-loads the synthesized temporary at the call site.
	DupLoadTemp
)

// DupThisInstruction places a second copy of a call receiver on the stack
// without re-evaluating the receiver expression. Slot is a variable handle
// until the local remapping pass assigns dense indices.
type DupThisInstruction struct {
	baseInstruction
	Mode DupThisMode
	Slot int
}

func NewDupThis(mode DupThisMode, slot, codePos, line int) *DupThisInstruction {
	return &DupThisInstruction{baseInstruction{codePos, line}, mode, slot}
}

func (i *DupThisInstruction) PopCount() int {
	if i.Mode == DupTee {
		return 1
	}
	return 0
}

func (i *DupThisInstruction) PushType() ValueType { return AnyRef }

func (i *DupThisInstruction) Render(w ModuleWriter) error {
	switch i.Mode {
	case DupTee:
		return w.WriteLocalOp(LocalTee, i.Slot)
	default:
		return w.WriteLocalOp(LocalGet, i.Slot)
	}
}
