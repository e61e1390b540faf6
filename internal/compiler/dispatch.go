package compiler

import (
	"github.com/wasmlift/wasmlift/internal/diagnostics"
	"github.com/wasmlift/wasmlift/internal/ir"
	"github.com/wasmlift/wasmlift/internal/registry"
	"github.com/wasmlift/wasmlift/internal/typesystem"
)

const (
	invokeVirtual = iota
	invokeSpecial
	invokeStatic
	invokeInterface
)

// fnResolveInterface is the synthetic helper that scans the interface
// dispatch table for (class id, method id) and returns the function table
// index.
var fnResolveInterface = registry.NewFuncName("wasmlift/Dispatch", "resolveInterface", "(II)I")

func (mc *MethodCompiler) compileInvoke(kind int, index uint16) error {
	member, ok := mc.pool.Member(index)
	if !ok {
		return diagnostics.NewError(diagnostics.ErrC004,
			"constant pool index %d at position %d is not a method reference", index, mc.pc)
	}
	if rewrite, ok := lookupIntrinsic(member); ok {
		return rewrite(mc, member)
	}
	name := registry.NewFuncName(member.ClassName, member.Name, member.Descriptor)

	switch kind {
	case invokeStatic:
		mc.recordClassRef(member.ClassName)
		if err := mc.reg.MarkAsNeeded(name, false); err != nil {
			return err
		}
		// inherited methods resolve as aliases during the scan; the call
		// must target the function that actually gets emitted
		sig, err := mc.reg.Alias(name).Signature(false)
		if err != nil {
			return err
		}
		mc.add(ir.NewCall(ir.CallDirect, sig, mc.pc, mc.line))
		return nil

	case invokeSpecial:
		// constructors, super calls and private methods bind statically
		if err := mc.reg.MarkAsNeeded(name, true); err != nil {
			return err
		}
		sig, err := mc.reg.Alias(name).Signature(true)
		if err != nil {
			return err
		}
		mc.add(ir.NewCall(ir.CallDirect, sig, mc.pc, mc.line))
		return nil

	case invokeInterface:
		return mc.compileDispatch(name, true)
	default:
		return mc.compileDispatch(name, false)
	}
}

// compileDispatch compiles a virtual or interface call. During the
// discovery scan only a placeholder call is emitted; the write phase, with
// all layouts final, either devirtualizes a monomorphic call or expands the
// full dynamic dispatch sequence.
func (mc *MethodCompiler) compileDispatch(name registry.FuncName, iface bool) error {
	if _, err := mc.useClassType(name.ClassName); err != nil {
		return err
	}
	if err := mc.reg.MarkAsNeeded(name, true); err != nil {
		return err
	}
	sig, err := name.Signature(true)
	if err != nil {
		return err
	}

	if !mc.strict {
		kind := ir.CallVirtual
		if iface {
			kind = ir.CallInterface
			if err := mc.reg.MarkAsNeeded(fnResolveInterface, false); err != nil {
				return err
			}
		}
		mc.add(ir.NewCall(kind, sig, mc.pc, mc.line))
		return nil
	}

	if !iface && !mc.types.IsOverridden(name.ClassName, name.MethodName, name.Descriptor) {
		return mc.compileMonomorphic(name, sig)
	}
	return mc.compilePolymorphic(name, sig, iface)
}

// compileMonomorphic devirtualizes a call with exactly one reachable
// implementation into a direct call.
func (mc *MethodCompiler) compileMonomorphic(name registry.FuncName, sig ir.FuncSig) error {
	impl := name
	if t, ok := mc.types.Type(name.ClassName); ok && !t.Interface {
		if slot, ok := mc.types.VirtualSlot(name.ClassName, name.MethodName, name.Descriptor); ok {
			impl = t.VTable[slot]
		}
	}
	implSig, err := mc.reg.Alias(impl).Signature(true)
	if err != nil {
		return err
	}
	mc.add(ir.NewCall(ir.CallDirect, implSig, mc.pc, mc.line))
	return nil
}

// compilePolymorphic duplicates the receiver, resolves the target function
// table index at run time and calls through the table. The receiver copy is
// a re-load when the receiver came from a plain local read, otherwise a tee
// into a temporary spliced right after the producing instruction.
func (mc *MethodCompiler) compilePolymorphic(name registry.FuncName, sig ir.FuncSig, iface bool) error {
	p, err := findPushInstruction(mc.instrs, len(mc.instrs), len(sig.Params))
	if err != nil {
		return err
	}
	if l, ok := mc.instrs[p].(*ir.LocalInstruction); ok && l.Op == ir.LocalGet {
		mc.add(ir.NewDupThis(ir.DupReuseLocal, l.Index, mc.pc, mc.line))
	} else {
		producer := mc.instrs[p]
		tmp := mc.locals.GetTempVariable(ir.AnyRef, producer.CodePos(), mc.codeEnd())
		tee := ir.NewDupThis(ir.DupTee, tmp, producer.CodePos(), producer.Line())
		mc.instrs = append(mc.instrs, nil)
		copy(mc.instrs[p+2:], mc.instrs[p+1:])
		mc.instrs[p+1] = tee
		mc.add(ir.NewDupThis(ir.DupLoadTemp, tmp, mc.pc, mc.line))
	}

	if iface {
		mid := mc.types.InterfaceMethodID(name.ClassName, name.MethodName, name.Descriptor)
		mc.addConst(int32(mid), ir.I32)
		if err := mc.callRuntime(fnResolveInterface); err != nil {
			return err
		}
	} else {
		slot, ok := mc.types.VirtualSlot(name.ClassName, name.MethodName, name.Descriptor)
		if !ok {
			return diagnostics.NewError(diagnostics.ErrC004,
				"no virtual slot for %s%s", name.FullName(), name.Descriptor)
		}
		mc.add(ir.NewMemory(ir.MemoryLoad, ir.I32, 0, mc.pc, mc.line))
		mc.add(ir.NewMemory(ir.MemoryLoad, ir.I32, typesystem.SlotOffset(slot), mc.pc, mc.line))
	}

	call := ir.NewCall(ir.CallIndirect, sig, mc.pc, mc.line)
	mc.add(call)
	return nil
}

// InterfaceDispatch is the synthetic body behind resolveInterface. The
// table base is only known once the data layout is final, so the compiler
// fills it in before the write phase.
type InterfaceDispatch struct {
	TableBase int
}

func (d *InterfaceDispatch) Name() registry.FuncName { return fnResolveInterface }

func (d *InterfaceDispatch) Signature() ir.FuncSig {
	sig, _ := fnResolveInterface.Signature(false)
	return sig
}

func (d *InterfaceDispatch) Locals() []ir.ValueType {
	return []ir.ValueType{ir.I32, ir.I32} // entry pointer, class id
}

// Build emits a linear scan over the (class id, method id, function index)
// triples, trapping on the terminator. Params: 0 receiver, 1 method id;
// locals: 2 entry pointer, 3 class id.
func (d *InterfaceDispatch) Build() ([]ir.Instruction, error) {
	var b []ir.Instruction
	add := func(i ir.Instruction) { b = append(b, i) }

	add(ir.NewLocal(ir.LocalGet, 0, ir.I32, 0, 0))
	add(ir.NewMemory(ir.MemoryLoad, ir.I32, 0, 0, 0)) // vtable address
	add(ir.NewMemory(ir.MemoryLoad, ir.I32, 0, 0, 0)) // class id in the header
	add(ir.NewLocal(ir.LocalSet, 3, ir.I32, 0, 0))
	add(ir.NewConst(int32(d.TableBase), ir.I32, 0, 0))
	add(ir.NewLocal(ir.LocalSet, 2, ir.I32, 0, 0))

	add(ir.NewBlock(ir.BlockOpLoop, nil, 0, 0))

	// terminator means the pair was never registered
	add(ir.NewLocal(ir.LocalGet, 2, ir.I32, 0, 0))
	add(ir.NewMemory(ir.MemoryLoad, ir.I32, 0, 0, 0))
	add(ir.NewConst(int32(-1), ir.I32, 0, 0))
	add(ir.NewNumeric(ir.OpEq, ir.I32, 0, 0))
	add(ir.NewBlock(ir.BlockOpIf, nil, 0, 0))
	add(ir.NewBlock(ir.BlockOpUnreachable, nil, 0, 0))
	add(ir.NewBlock(ir.BlockOpEnd, nil, 0, 0))

	add(ir.NewLocal(ir.LocalGet, 2, ir.I32, 0, 0))
	add(ir.NewMemory(ir.MemoryLoad, ir.I32, 0, 0, 0))
	add(ir.NewLocal(ir.LocalGet, 3, ir.I32, 0, 0))
	add(ir.NewNumeric(ir.OpEq, ir.I32, 0, 0))
	add(ir.NewLocal(ir.LocalGet, 2, ir.I32, 0, 0))
	add(ir.NewMemory(ir.MemoryLoad, ir.I32, 4, 0, 0))
	add(ir.NewLocal(ir.LocalGet, 1, ir.I32, 0, 0))
	add(ir.NewNumeric(ir.OpEq, ir.I32, 0, 0))
	add(ir.NewNumeric(ir.OpAnd, ir.I32, 0, 0))
	add(ir.NewBlock(ir.BlockOpIf, nil, 0, 0))
	add(ir.NewLocal(ir.LocalGet, 2, ir.I32, 0, 0))
	add(ir.NewMemory(ir.MemoryLoad, ir.I32, 8, 0, 0))
	add(ir.NewReturn(ir.I32, 0, 0))
	add(ir.NewBlock(ir.BlockOpEnd, nil, 0, 0))

	add(ir.NewLocal(ir.LocalGet, 2, ir.I32, 0, 0))
	add(ir.NewConst(int32(12), ir.I32, 0, 0))
	add(ir.NewNumeric(ir.OpAdd, ir.I32, 0, 0))
	add(ir.NewLocal(ir.LocalSet, 2, ir.I32, 0, 0))
	add(ir.NewBlock(ir.BlockOpBr, 0, 0, 0))

	add(ir.NewBlock(ir.BlockOpEnd, nil, 0, 0))
	add(ir.NewBlock(ir.BlockOpUnreachable, nil, 0, 0))
	return b, nil
}
