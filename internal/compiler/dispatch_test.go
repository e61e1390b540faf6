package compiler

import (
	"testing"

	"github.com/wasmlift/wasmlift/internal/ir"
)

func TestInterfaceDispatch_Identity(t *testing.T) {
	d := &InterfaceDispatch{}
	if got := d.Name().UniqueName(); got != "wasmlift/Dispatch.resolveInterface(II)I" {
		t.Errorf("Name = %q", got)
	}
	sig := d.Signature()
	if len(sig.Params) != 2 || sig.Params[0] != ir.I32 || sig.Params[1] != ir.I32 {
		t.Errorf("params = %v", sig.Params)
	}
	if len(sig.Results) != 1 || sig.Results[0] != ir.I32 || sig.NeedThis {
		t.Errorf("results = %v, needThis = %v", sig.Results, sig.NeedThis)
	}
	if locals := d.Locals(); len(locals) != 2 {
		t.Errorf("locals = %v", locals)
	}
}

func TestInterfaceDispatch_Build(t *testing.T) {
	d := &InterfaceDispatch{TableBase: 2048}
	body, err := d.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// the scan starts at the table base
	base, ok := body[4].(*ir.ConstInstruction)
	if !ok || base.Value != int32(2048) {
		t.Errorf("body[4] = %v, want the table base constant", body[4])
	}

	// block structure must balance, and never close a block it never opened
	depth := 0
	for i, instr := range body {
		b, ok := instr.(*ir.BlockInstruction)
		if !ok {
			continue
		}
		switch b.Op {
		case ir.BlockOpLoop, ir.BlockOpIf, ir.BlockOpBlock:
			depth++
		case ir.BlockOpEnd:
			depth--
			if depth < 0 {
				t.Fatalf("unbalanced end at instruction %d", i)
			}
		}
	}
	if depth != 0 {
		t.Fatalf("unclosed blocks: depth %d at the end of the body", depth)
	}

	// a miss after the terminator check must trap, never fall through
	last, ok := body[len(body)-1].(*ir.BlockInstruction)
	if !ok || last.Op != ir.BlockOpUnreachable {
		t.Errorf("final instruction = %v, want unreachable", body[len(body)-1])
	}

	// each triple is 12 bytes; the loop advances the entry pointer by that
	foundStride := false
	for i := 0; i+1 < len(body); i++ {
		c, okC := body[i].(*ir.ConstInstruction)
		n, okN := body[i+1].(*ir.NumericInstruction)
		if okC && okN && c.Value == int32(12) && n.Op == ir.OpAdd {
			foundStride = true
		}
	}
	if !foundStride {
		t.Error("no entry-pointer advance by the triple size")
	}

	// the hit path returns the third word of the triple
	foundHit := false
	for i := 0; i+1 < len(body); i++ {
		m, okM := body[i].(*ir.MemoryInstruction)
		b, okB := body[i+1].(*ir.BlockInstruction)
		if okM && okB && m.Offset == 8 && b.Op == ir.BlockOpReturn {
			foundHit = true
		}
	}
	if !foundHit {
		t.Error("no load of the function index at triple offset 8 before the return")
	}
}
