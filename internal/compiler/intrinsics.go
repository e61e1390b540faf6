package compiler

import (
	"strings"

	"github.com/wasmlift/wasmlift/internal/classfile"
	"github.com/wasmlift/wasmlift/internal/diagnostics"
	"github.com/wasmlift/wasmlift/internal/ir"
)

// intrinsicRewrite replaces a call with inline instructions. The rewrites
// work by provenance: they locate the constant instructions that produced
// the relevant operands, neutralize them and emit the direct equivalent.
type intrinsicRewrite func(mc *MethodCompiler, member classfile.MemberRef) error

func isUnsafeClass(desc string) bool {
	return strings.Contains(desc, "misc/Unsafe")
}

// lookupIntrinsic recognizes calls the compiler must rewrite instead of
// compiling: the raw memory accessors and the reflection calls that feed
// them.
func lookupIntrinsic(member classfile.MemberRef) (intrinsicRewrite, bool) {
	if member.ClassName == "java/lang/Class" {
		switch member.Name {
		case "getDeclaredField":
			return rewriteGetDeclaredField, true
		case "desiredAssertionStatus":
			return rewriteAssertionStatus, true
		}
		return nil, false
	}
	if member.ClassName == "java/lang/reflect/Field" {
		// the Field value is already the raw offset
		return func(mc *MethodCompiler, m classfile.MemberRef) error {
			return diagnostics.NewError(diagnostics.ErrC002,
				"reflective call %s.%s is not supported", m.ClassName, m.Name)
		}, true
	}
	if !isUnsafeClass("L" + member.ClassName + ";") {
		return nil, false
	}
	switch member.Name {
	case "getUnsafe":
		return rewriteGetUnsafe, true
	case "objectFieldOffset":
		return rewriteObjectFieldOffset, true
	case "arrayBaseOffset":
		return rewriteArrayBaseOffset, true
	case "getInt", "getIntVolatile":
		return rewriteUnsafeGet(ir.I32), true
	case "getLong", "getLongVolatile":
		return rewriteUnsafeGet(ir.I64), true
	case "getObject", "getObjectVolatile", "getReference", "getReferenceVolatile":
		return rewriteUnsafeGet(ir.I32), true
	case "putInt", "putIntVolatile", "putOrderedInt":
		return rewriteUnsafePut(ir.I32), true
	case "putLong", "putLongVolatile", "putOrderedLong":
		return rewriteUnsafePut(ir.I64), true
	case "putObject", "putObjectVolatile", "putOrderedObject", "putReference", "putReferenceVolatile":
		return rewriteUnsafePut(ir.I32), true
	case "compareAndSwapInt", "compareAndSetInt":
		return rewriteUnsafeCas(ir.I32), true
	case "compareAndSwapLong", "compareAndSetLong":
		return rewriteUnsafeCas(ir.I64), true
	case "compareAndSwapObject", "compareAndSetObject", "compareAndSetReference":
		return rewriteUnsafeCas(ir.I32), true
	}
	return func(mc *MethodCompiler, m classfile.MemberRef) error {
		return diagnostics.NewError(diagnostics.ErrC002,
			"unsafe operation %s is not supported", m.Name)
	}, true
}

// pruneConst locates the constant that pushed the stack value at depth and
// turns it into a no-op, consuming the value without code.
func (mc *MethodCompiler) pruneConst(depth int) (*ir.ConstInstruction, error) {
	p, err := findPushInstruction(mc.instrs, len(mc.instrs), depth)
	if err != nil {
		return nil, err
	}
	c, ok := mc.instrs[p].(*ir.ConstInstruction)
	if !ok {
		return nil, diagnostics.NewError(diagnostics.ErrC002,
			"cannot trace the operand at position %d to a constant", mc.instrs[p].CodePos())
	}
	mc.instrs[p] = ir.NewNop(c.CodePos(), c.Line())
	return c, nil
}

func rewriteGetUnsafe(mc *MethodCompiler, member classfile.MemberRef) error {
	mc.add(ir.NewConstNull(mc.pc, mc.line))
	return nil
}

// rewriteGetDeclaredField resolves the (class literal, field name) pair to
// the field's memory offset at compile time. The pushed value stands in
// for the Field object and already carries the offset.
func rewriteGetDeclaredField(mc *MethodCompiler, member classfile.MemberRef) error {
	nameConst, err := mc.pruneConst(0)
	if err != nil {
		return err
	}
	classConst, err := mc.pruneConst(1)
	if err != nil {
		return err
	}
	off, ok := nameConst.Value.(int32)
	if !ok {
		return diagnostics.NewError(diagnostics.ErrC002,
			"field name at position %d is not a string literal", mc.pc)
	}
	fieldName, ok := mc.strings.Lookup(int(off))
	if !ok {
		return diagnostics.NewError(diagnostics.ErrC002,
			"field name at position %d is not a string literal", mc.pc)
	}
	id, ok := classConst.Value.(int32)
	if !ok {
		return diagnostics.NewError(diagnostics.ErrC002,
			"class operand at position %d is not a class literal", mc.pc)
	}
	t, ok := mc.types.TypeByID(int(id))
	if !ok {
		return diagnostics.NewError(diagnostics.ErrC004,
			"class literal with unknown identity %d at position %d", id, mc.pc)
	}
	f, ok := t.FieldByName(fieldName)
	if !ok {
		return diagnostics.NewError(diagnostics.ErrC001,
			"field %s.%s was not found", t.ClassName, fieldName)
	}
	mc.addConst(int64(f.Offset), ir.I64)
	return nil
}

func rewriteObjectFieldOffset(mc *MethodCompiler, member classfile.MemberRef) error {
	// the Field stand-in on top of the stack already is the i64 offset;
	// only the unsafe singleton below it has to go
	_, err := mc.pruneConst(1)
	return err
}

func rewriteArrayBaseOffset(mc *MethodCompiler, member classfile.MemberRef) error {
	if _, err := mc.pruneConst(0); err != nil { // the class literal
		return err
	}
	if _, err := mc.pruneConst(0); err != nil { // the unsafe singleton
		return err
	}
	mc.addConst(int32(arrayHeader), ir.I32)
	return nil
}

func rewriteAssertionStatus(mc *MethodCompiler, member classfile.MemberRef) error {
	if _, err := mc.pruneConst(0); err != nil {
		return err
	}
	mc.addConst(int32(0), ir.I32)
	return nil
}

// rewriteUnsafeGet turns getX(object, offset) into a plain load from
// object+offset.
func rewriteUnsafeGet(t ir.ValueType) intrinsicRewrite {
	return func(mc *MethodCompiler, member classfile.MemberRef) error {
		mc.add(ir.NewConvert(ir.ConvL2I, mc.pc, mc.line))
		mc.numeric(ir.OpAdd, ir.I32)
		mc.add(ir.NewMemory(ir.MemoryLoad, t, 0, mc.pc, mc.line))
		_, err := mc.pruneConst(1)
		return err
	}
}

// rewriteUnsafePut turns putX(object, offset, value) into a plain store to
// object+offset.
func rewriteUnsafePut(t ir.ValueType) intrinsicRewrite {
	return func(mc *MethodCompiler, member classfile.MemberRef) error {
		tmp := mc.locals.GetTempVariable(t, mc.pc, mc.codeEnd())
		mc.add(ir.NewLocal(ir.LocalSet, tmp, t, mc.pc, mc.line))
		mc.add(ir.NewConvert(ir.ConvL2I, mc.pc, mc.line))
		mc.numeric(ir.OpAdd, ir.I32)
		mc.add(ir.NewLocal(ir.LocalGet, tmp, t, mc.pc, mc.line))
		mc.add(ir.NewMemory(ir.MemoryStore, t, 0, mc.pc, mc.line))
		_, err := mc.pruneConst(0)
		return err
	}
}

// rewriteUnsafeCas emits the single-threaded equivalent of compare and
// swap: the stored value is current + equal*(update - current), which is
// branch-free, and the comparison result is the return value.
func rewriteUnsafeCas(t ir.ValueType) intrinsicRewrite {
	return func(mc *MethodCompiler, member classfile.MemberRef) error {
		tNew := mc.locals.GetTempVariable(t, mc.pc, mc.codeEnd())
		mc.add(ir.NewLocal(ir.LocalSet, tNew, t, mc.pc, mc.line))
		tExp := mc.locals.GetTempVariable(t, mc.pc, mc.codeEnd())
		mc.add(ir.NewLocal(ir.LocalSet, tExp, t, mc.pc, mc.line))

		mc.add(ir.NewConvert(ir.ConvL2I, mc.pc, mc.line))
		mc.numeric(ir.OpAdd, ir.I32)
		tAddr := mc.locals.GetTempVariable(ir.I32, mc.pc, mc.codeEnd())
		mc.add(ir.NewLocal(ir.LocalTee, tAddr, ir.I32, mc.pc, mc.line))
		mc.add(ir.NewMemory(ir.MemoryLoad, t, 0, mc.pc, mc.line))
		tCur := mc.locals.GetTempVariable(t, mc.pc, mc.codeEnd())
		mc.add(ir.NewLocal(ir.LocalSet, tCur, t, mc.pc, mc.line))

		mc.add(ir.NewLocal(ir.LocalGet, tAddr, ir.I32, mc.pc, mc.line))
		mc.add(ir.NewLocal(ir.LocalGet, tCur, t, mc.pc, mc.line))
		mc.add(ir.NewLocal(ir.LocalGet, tNew, t, mc.pc, mc.line))
		mc.add(ir.NewLocal(ir.LocalGet, tCur, t, mc.pc, mc.line))
		mc.numeric(ir.OpSub, t)
		mc.add(ir.NewLocal(ir.LocalGet, tExp, t, mc.pc, mc.line))
		mc.add(ir.NewLocal(ir.LocalGet, tCur, t, mc.pc, mc.line))
		mc.numeric(ir.OpEq, t)
		if t == ir.I64 {
			mc.add(ir.NewConvert(ir.ConvI2L, mc.pc, mc.line))
		}
		mc.numeric(ir.OpMul, t)
		mc.numeric(ir.OpAdd, t)
		mc.add(ir.NewMemory(ir.MemoryStore, t, 0, mc.pc, mc.line))

		mc.add(ir.NewLocal(ir.LocalGet, tExp, t, mc.pc, mc.line))
		mc.add(ir.NewLocal(ir.LocalGet, tCur, t, mc.pc, mc.line))
		mc.numeric(ir.OpEq, t)
		_, err := mc.pruneConst(1)
		return err
	}
}
