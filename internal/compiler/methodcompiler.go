package compiler

import (
	"github.com/wasmlift/wasmlift/internal/classfile"
	"github.com/wasmlift/wasmlift/internal/diagnostics"
	"github.com/wasmlift/wasmlift/internal/ir"
	"github.com/wasmlift/wasmlift/internal/registry"
	"github.com/wasmlift/wasmlift/internal/typesystem"
)

// RuntimeModule is the import namespace of the memory runtime the
// linear-memory mode links against.
const RuntimeModule = "wasmlift"

// runtimeClass is the pseudo class the runtime imports are registered
// under.
const runtimeClass = "wasmlift/Runtime"

var (
	fnAlloc         = registry.NewFuncName(runtimeClass, "alloc", "(II)I")
	fnNewArray      = registry.NewFuncName(runtimeClass, "newArray", "(II)I")
	fnNewMultiArray = registry.NewFuncName(runtimeClass, "newMultiArray", "(III)I")
	fnInstanceOf    = registry.NewFuncName(runtimeClass, "instanceOf", "(II)I")
)

// RuntimeImports lists the functions the linear-memory mode may import.
func RuntimeImports() []registry.FuncName {
	return []registry.FuncName{fnAlloc, fnNewArray, fnNewMultiArray, fnInstanceOf}
}

// arrayHeader is the byte size of the array header holding the length.
const arrayHeader = 4

// CompiledMethod is the result of one method compilation: the instruction
// list before any pass has run, the local variable table driving the target
// locals, and the classes whose static state the body touches.
type CompiledMethod struct {
	Name      registry.FuncName
	Signature *classfile.MethodSignature
	IsStatic  bool
	Instrs    []ir.Instruction
	Locals    *LocalVariableManager
	ClassRefs []string
}

// MethodCompiler translates one class-file method body at a time. It is
// reused across methods; Compile resets the per-method state.
type MethodCompiler struct {
	types   *typesystem.Manager
	reg     *registry.Manager
	strings *StringPool
	globals *GlobalPool
	subtype SubtypeResolver

	// strict is false during the discovery scan and true during the
	// write phase, when all types and layouts are final.
	strict bool
	useGC  bool

	// clinitSplices maps a class name to its static initializer when a
	// dependency cycle was broken by calling that initializer inline at
	// the first referencing instruction.
	clinitSplices map[string]registry.FuncName

	// per-method state
	name       registry.FuncName
	code       *classfile.CodeAttribute
	pool       *classfile.ConstantPool
	locals     *LocalVariableManager
	instrs     []ir.Instruction
	classRefs  map[string]bool
	refOrder   []string
	splices    map[string]registry.FuncName
	pendingCmp ir.ValueType
	pc         int
	line       int
}

func NewMethodCompiler(types *typesystem.Manager, reg *registry.Manager, strings *StringPool, globals *GlobalPool, subtype SubtypeResolver, strict, useGC bool) *MethodCompiler {
	return &MethodCompiler{
		types:   types,
		reg:     reg,
		strings: strings,
		globals: globals,
		subtype: subtype,
		strict:  strict,
		useGC:   useGC,
	}
}

// SetClinitSplices installs the inline static-initializer calls for the
// next compilation. Consumed by the first referencing instruction per
// class.
func (mc *MethodCompiler) SetClinitSplices(splices map[string]registry.FuncName) {
	mc.clinitSplices = splices
}

// Compile builds the instruction list for one method body. Errors carry
// the class, method and source line they occurred at.
func (mc *MethodCompiler) Compile(method *classfile.Method, name registry.FuncName, pool *classfile.ConstantPool) (*CompiledMethod, error) {
	cm, err := mc.compile(method, name, pool)
	if err != nil {
		return nil, diagnostics.Enrich(err, name.ClassName, name.MethodName, mc.line)
	}
	return cm, nil
}

func (mc *MethodCompiler) compile(method *classfile.Method, name registry.FuncName, pool *classfile.ConstantPool) (*CompiledMethod, error) {
	code := method.Code
	if code == nil {
		return nil, diagnostics.NewError(diagnostics.ErrC002,
			"method %s is abstract or native and has no body to compile", name.FullName())
	}
	sig, err := classfile.ParseMethodDescriptor(method.Descriptor)
	if err != nil {
		return nil, err
	}

	mc.name = name
	mc.code = code
	mc.pool = pool
	mc.locals = NewLocalVariableManager(mc.strict, mc.subtype)
	mc.locals.Reset(sig, method.IsStatic(), code.LocalVariables, len(code.Code))
	mc.instrs = nil
	mc.classRefs = make(map[string]bool)
	mc.refOrder = nil
	mc.pendingCmp = ir.NoType
	mc.splices = mc.clinitSplices
	mc.clinitSplices = nil

	r := &codeReader{code: code.Code}
	for r.more() {
		mc.pc = r.pos
		mc.line = code.LineForPC(mc.pc)
		op := r.u8()
		if mc.pendingCmp != ir.NoType && (op < opIfEq || op > opIfLe) {
			return nil, diagnostics.NewError(diagnostics.ErrC002,
				"comparison result at position %d is used as a value", mc.pc)
		}
		if err := mc.compileOp(op, r); err != nil {
			return nil, err
		}
	}

	return &CompiledMethod{
		Name:      name,
		Signature: sig,
		IsStatic:  method.IsStatic(),
		Instrs:    mc.instrs,
		Locals:    mc.locals,
		ClassRefs: mc.refOrder,
	}, nil
}

func (mc *MethodCompiler) add(instr ir.Instruction) {
	mc.instrs = append(mc.instrs, instr)
}

func (mc *MethodCompiler) addConst(v interface{}, t ir.ValueType) {
	mc.add(ir.NewConst(v, t, mc.pc, mc.line))
}

func (mc *MethodCompiler) codeEnd() int { return len(mc.code.Code) }

// localAccess resolves a source slot and emits the local operation with the
// variable handle as index; the handle is mapped to the final dense index
// after Calculate.
func (mc *MethodCompiler) localAccess(op ir.LocalOp, t ir.ValueType, slot int) error {
	handle, err := mc.locals.Use(t, slot, mc.pc)
	if err != nil {
		return err
	}
	mc.add(ir.NewLocal(op, handle, t, mc.pc, mc.line))
	return nil
}

func (mc *MethodCompiler) numeric(op ir.NumericOp, t ir.ValueType) {
	mc.add(ir.NewNumeric(op, t, mc.pc, mc.line))
}

// condJump emits the comparison feeding a conditional branch plus the jump
// placeholder. A pending cmp instruction supplies the operand type; a plain
// zero test compares against an explicit constant.
func (mc *MethodCompiler) condJump(op ir.NumericOp, target int) {
	if mc.pendingCmp != ir.NoType {
		mc.numeric(op, mc.pendingCmp)
		mc.pendingCmp = ir.NoType
	} else {
		mc.addConst(int32(0), ir.I32)
		mc.numeric(op, ir.I32)
	}
	mc.add(ir.NewJump(target, true, mc.pc, mc.line))
}

func (mc *MethodCompiler) typeAt(depth int) (ir.ValueType, error) {
	return valueTypeAt(mc.instrs, len(mc.instrs), depth)
}

// recordClassRef notes that the body touches another class's static state
// and emits a spliced static-initializer call when this is the breaking
// point of an initialization cycle.
func (mc *MethodCompiler) recordClassRef(className string) {
	if className == mc.name.ClassName || className == runtimeClass {
		return
	}
	if !mc.classRefs[className] {
		mc.classRefs[className] = true
		mc.refOrder = append(mc.refOrder, className)
	}
	if fn, ok := mc.splices[className]; ok {
		delete(mc.splices, className)
		sig, err := fn.Signature(false)
		if err == nil {
			mc.add(ir.NewCall(ir.CallDirect, sig, mc.pc, mc.line))
		}
	}
}

func (mc *MethodCompiler) callRuntime(fn registry.FuncName) error {
	if err := mc.reg.MarkAsNeeded(fn, false); err != nil {
		return err
	}
	sig, err := fn.Signature(false)
	if err != nil {
		return err
	}
	mc.add(ir.NewCall(ir.CallDirect, sig, mc.pc, mc.line))
	return nil
}

// useClassType registers and returns the structural type of a class,
// failing when the class is not on the classpath.
func (mc *MethodCompiler) useClassType(className string) (*typesystem.StructType, error) {
	t, err := mc.types.UseType(className)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, diagnostics.NewError(diagnostics.ErrC001,
			"class %s referenced by %s was not found on the classpath",
			className, mc.name.FullName())
	}
	return t, nil
}

func (mc *MethodCompiler) compileOp(op int, r *codeReader) error {
	switch {
	case op == opNop:
		return nil
	case op == opAConstNull:
		mc.add(ir.NewConstNull(mc.pc, mc.line))
	case op >= opIConstM1 && op <= opIConst5:
		mc.addConst(int32(op-opIConst0), ir.I32)
	case op == opLConst0 || op == opLConst1:
		mc.addConst(int64(op-opLConst0), ir.I64)
	case op >= opFConst0 && op <= opFConst2:
		mc.addConst(float32(op-opFConst0), ir.F32)
	case op == opDConst0 || op == opDConst1:
		mc.addConst(float64(op-opDConst0), ir.F64)
	case op == opBIPush:
		mc.addConst(int32(r.s8()), ir.I32)
	case op == opSIPush:
		mc.addConst(int32(r.s16()), ir.I32)
	case op == opLdc:
		return mc.compileLdc(uint16(r.u8()))
	case op == opLdcW, op == opLdc2W:
		return mc.compileLdc(uint16(r.u16()))

	// loads and stores
	case op >= opILoad && op <= opALoad:
		return mc.localAccess(ir.LocalGet, loadStoreType(op-opILoad), r.index())
	case op >= opILoad0 && op <= opALoad3:
		rel := op - opILoad0
		return mc.localAccess(ir.LocalGet, loadStoreType(rel/4), rel%4)
	case op >= opIStore && op <= opAStore:
		return mc.localAccess(ir.LocalSet, loadStoreType(op-opIStore), r.index())
	case op >= opIStore0 && op <= opAStore3:
		rel := op - opIStore0
		return mc.localAccess(ir.LocalSet, loadStoreType(rel/4), rel%4)

	// array access
	case op >= opIALoad && op <= opSALoad:
		return mc.compileArrayLoad(op)
	case op >= opIAStore && op <= opSAStore:
		return mc.compileArrayStore(op)

	// stack shuffling
	case op == opPop:
		t, err := mc.typeAt(0)
		if err != nil {
			return err
		}
		mc.add(ir.NewDrop(t, mc.pc, mc.line))
	case op == opPop2:
		t, err := mc.typeAt(0)
		if err != nil {
			return err
		}
		mc.add(ir.NewDrop(t, mc.pc, mc.line))
		if !t.IsWide() {
			t1, err := mc.typeAt(0)
			if err != nil {
				return err
			}
			mc.add(ir.NewDrop(t1, mc.pc, mc.line))
		}
	case op == opDup:
		return mc.compileDup()
	case op == opDupX1:
		return mc.shuffle(2, []int{0, 1, 0})
	case op == opDupX2:
		t1, err := mc.typeAt(1)
		if err != nil {
			return err
		}
		if t1.IsWide() {
			return mc.shuffle(2, []int{0, 1, 0})
		}
		return mc.shuffle(3, []int{0, 1, 2, 0})
	case op == opDup2:
		t0, err := mc.typeAt(0)
		if err != nil {
			return err
		}
		if t0.IsWide() {
			return mc.compileDup()
		}
		return mc.shuffle(2, []int{0, 1, 0, 1})
	case op == opDup2X1 || op == opDup2X2:
		return diagnostics.NewError(diagnostics.ErrC002,
			"stack shuffle opcode 0x%02x at position %d is not supported", op, mc.pc)
	case op == opSwap:
		return mc.shuffle(2, []int{1, 0})

	// arithmetic
	case op >= opIAdd && op <= opDNeg:
		rel := op - opIAdd
		ops := []ir.NumericOp{ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpRem, ir.OpNeg}
		mc.numeric(ops[rel/4], arithType(rel%4))
	case op >= opIShl && op <= opLXor:
		rel := op - opIShl
		ops := []ir.NumericOp{ir.OpShl, ir.OpShr, ir.OpShrU, ir.OpAnd, ir.OpOr, ir.OpXor}
		t := ir.I32
		if rel%2 == 1 {
			t = ir.I64
		}
		mc.numeric(ops[rel/2], t)
		// shift counts on the wide domain arrive as i32 and must be
		// widened before the operation
		if t == ir.I64 && rel/2 <= 2 {
			n := len(mc.instrs)
			shift := mc.instrs[n-1]
			mc.instrs = append(mc.instrs[:n-1], ir.NewConvert(ir.ConvI2L, mc.pc, mc.line), shift)
		}
	case op == opIInc:
		slot := r.index()
		delta := r.s8()
		return mc.compileIInc(slot, delta)

	// conversions
	case op >= opI2L && op <= opI2S:
		mc.add(ir.NewConvert(ir.ConvertOp(int(ir.ConvI2L)+op-opI2L), mc.pc, mc.line))

	// comparisons and branches
	case op == opLCmp:
		mc.pendingCmp = ir.I64
	case op == opFCmpL || op == opFCmpG:
		mc.pendingCmp = ir.F32
	case op == opDCmpL || op == opDCmpG:
		mc.pendingCmp = ir.F64
	case op >= opIfEq && op <= opIfLe:
		mc.condJump(zeroCmpOps[op-opIfEq], mc.pc+r.s16())
	case op >= opIfICmpEq && op <= opIfICmpLe:
		target := mc.pc + r.s16()
		mc.numeric(zeroCmpOps[op-opIfICmpEq], ir.I32)
		mc.add(ir.NewJump(target, true, mc.pc, mc.line))
	case op == opIfACmpEq || op == opIfACmpNe:
		target := mc.pc + r.s16()
		rel := ir.OpEq
		if op == opIfACmpNe {
			rel = ir.OpNe
		}
		mc.numeric(rel, ir.AnyRef)
		mc.add(ir.NewJump(target, true, mc.pc, mc.line))
	case op == opIfNull || op == opIfNonNull:
		target := mc.pc + r.s16()
		rel := ir.OpEq
		if op == opIfNonNull {
			rel = ir.OpNe
		}
		mc.add(ir.NewConstNull(mc.pc, mc.line))
		mc.numeric(rel, ir.AnyRef)
		mc.add(ir.NewJump(target, true, mc.pc, mc.line))
	case op == opGoto:
		mc.add(ir.NewJump(mc.pc+r.s16(), false, mc.pc, mc.line))
	case op == opGotoW:
		mc.add(ir.NewJump(mc.pc+r.s32(), false, mc.pc, mc.line))
	case op == opTableSwitch:
		return mc.compileTableSwitch(r)
	case op == opLookupSwitch:
		return mc.compileLookupSwitch(r)

	// returns
	case op >= opIReturn && op <= opAReturn:
		mc.add(ir.NewReturn(loadStoreType(op-opIReturn), mc.pc, mc.line))
	case op == opReturn:
		mc.add(ir.NewReturn(ir.NoType, mc.pc, mc.line))

	// fields
	case op == opGetStatic:
		return mc.compileStatic(true, uint16(r.u16()))
	case op == opPutStatic:
		return mc.compileStatic(false, uint16(r.u16()))
	case op == opGetField:
		return mc.compileField(true, uint16(r.u16()))
	case op == opPutField:
		return mc.compileField(false, uint16(r.u16()))

	// calls
	case op == opInvokeVirtual:
		return mc.compileInvoke(invokeVirtual, uint16(r.u16()))
	case op == opInvokeSpecial:
		return mc.compileInvoke(invokeSpecial, uint16(r.u16()))
	case op == opInvokeStatic:
		return mc.compileInvoke(invokeStatic, uint16(r.u16()))
	case op == opInvokeInterface:
		idx := uint16(r.u16())
		r.u8() // historical argument count
		r.u8()
		return mc.compileInvoke(invokeInterface, idx)
	case op == opInvokeDynamic:
		return diagnostics.NewError(diagnostics.ErrC002,
			"invokedynamic at position %d is not supported", mc.pc)

	// objects and arrays
	case op == opNew:
		return mc.compileNew(mc.pool.ClassName(uint16(r.u16())))
	case op == opNewArray:
		elem, elemSize := primitiveArraySpec(r.u8())
		return mc.compileNewArray(elem, elemSize)
	case op == opANewArray:
		r.u16()
		return mc.compileNewArray(ir.AnyRef, ir.PointerWidth)
	case op == opArrayLength:
		if mc.useGC {
			mc.add(ir.NewArray(ir.ArrayLen, ir.AnyRef, mc.pc, mc.line))
		} else {
			mc.add(ir.NewMemory(ir.MemoryLoad, ir.I32, 0, mc.pc, mc.line))
		}
	case op == opAThrow:
		mc.add(ir.NewBlock(ir.BlockOpThrow, nil, mc.pc, mc.line))
	case op == opCheckCast:
		name := mc.pool.ClassName(uint16(r.u16()))
		if mc.useGC {
			mc.add(ir.NewStruct(ir.StructCast, name, "", ir.NoType, mc.pc, mc.line))
		}
		// linear-memory references are untyped addresses; the cast is
		// checked by the following field or call access
	case op == opInstanceOf:
		return mc.compileInstanceOf(mc.pool.ClassName(uint16(r.u16())))
	case op == opMonitorEnter || op == opMonitorExit:
		// single-threaded target, the lock is meaningless
		mc.add(ir.NewDrop(ir.AnyRef, mc.pc, mc.line))
	case op == opWide:
		return mc.compileWide(r)
	case op == opMultiANewArray:
		idx := uint16(r.u16())
		dims := r.u8()
		return mc.compileMultiArray(mc.pool.ClassName(idx), dims)

	case op == opJsr || op == opRet || op == opJsrW:
		return diagnostics.NewError(diagnostics.ErrC002,
			"subroutine opcode 0x%02x at position %d is not supported", op, mc.pc)
	default:
		return diagnostics.NewError(diagnostics.ErrC002,
			"unknown opcode 0x%02x at position %d", op, mc.pc)
	}
	return nil
}

func (mc *MethodCompiler) compileLdc(index uint16) error {
	v, ok := mc.pool.Constant(index)
	if !ok {
		return diagnostics.NewError(diagnostics.ErrC004,
			"constant pool index %d at position %d is not loadable", index, mc.pc)
	}
	switch c := v.(type) {
	case int32:
		mc.addConst(c, ir.I32)
	case int64:
		mc.addConst(c, ir.I64)
	case float32:
		mc.addConst(c, ir.F32)
	case float64:
		mc.addConst(c, ir.F64)
	case string:
		offset := mc.strings.Intern(c)
		mc.add(ir.NewConst(int32(offset), ir.AnyRef, mc.pc, mc.line))
	case classfile.ClassConst:
		t, err := mc.useClassType(string(c))
		if err != nil {
			return err
		}
		mc.add(ir.NewConst(int32(t.ID), ir.AnyRef, mc.pc, mc.line))
	}
	return nil
}

// compileDup duplicates the top of stack. A value produced by a constant or
// a plain local read is re-emitted; anything else goes through a tee into a
// compiler temporary.
func (mc *MethodCompiler) compileDup() error {
	p, err := findPushInstruction(mc.instrs, len(mc.instrs), 0)
	if err != nil {
		return err
	}
	src := mc.instrs[p]
	if c, ok := src.(*ir.ConstInstruction); ok {
		mc.addConst(c.Value, c.Type)
		return nil
	}
	if l, ok := src.(*ir.LocalInstruction); ok && l.Op == ir.LocalGet {
		mc.add(ir.NewLocal(ir.LocalGet, l.Index, l.Type, mc.pc, mc.line))
		return nil
	}
	t := src.PushType()
	tmp := mc.locals.GetTempVariable(t, mc.pc, mc.codeEnd())
	mc.add(ir.NewLocal(ir.LocalTee, tmp, t, mc.pc, mc.line))
	mc.add(ir.NewLocal(ir.LocalGet, tmp, t, mc.pc, mc.line))
	return nil
}

// shuffle spills the top n stack values into temporaries and reloads them
// so that the final stack, read from the top down, is order (0 names the
// former top of stack).
func (mc *MethodCompiler) shuffle(n int, order []int) error {
	tmps := make([]int, n)
	for i := 0; i < n; i++ {
		t, err := mc.typeAt(0)
		if err != nil {
			return err
		}
		tmp := mc.locals.GetTempVariable(t, mc.pc, mc.codeEnd())
		mc.add(ir.NewLocal(ir.LocalSet, tmp, t, mc.pc, mc.line))
		tmps[i] = tmp
	}
	for i := len(order) - 1; i >= 0; i-- {
		tmp := tmps[order[i]]
		mc.add(ir.NewLocal(ir.LocalGet, tmp, mc.locals.Variable(tmp).Type.Primitive(), mc.pc, mc.line))
	}
	return nil
}

func (mc *MethodCompiler) compileIInc(slot, delta int) error {
	handle, err := mc.locals.Use(ir.I32, slot, mc.pc)
	if err != nil {
		return err
	}
	mc.add(ir.NewLocal(ir.LocalGet, handle, ir.I32, mc.pc, mc.line))
	mc.addConst(int32(delta), ir.I32)
	mc.numeric(ir.OpAdd, ir.I32)
	mc.add(ir.NewLocal(ir.LocalSet, handle, ir.I32, mc.pc, mc.line))
	return nil
}

func (mc *MethodCompiler) compileArrayLoad(op int) error {
	t, width, signed := arrayAccessSpec(op - opIALoad)
	if mc.useGC {
		mc.add(ir.NewArray(ir.ArrayGet, t, mc.pc, mc.line))
		return nil
	}
	elemSize := t.ByteSize()
	if width != 0 {
		elemSize = width / 8
	}
	mc.addConst(int32(elemSize), ir.I32)
	mc.numeric(ir.OpMul, ir.I32)
	mc.numeric(ir.OpAdd, ir.I32)
	mc.add(ir.NewMemoryNarrow(ir.MemoryLoad, t, arrayHeader, width, signed, mc.pc, mc.line))
	return nil
}

func (mc *MethodCompiler) compileArrayStore(op int) error {
	t, width, signed := arrayAccessSpec(op - opIAStore)
	if mc.useGC {
		mc.add(ir.NewArray(ir.ArraySet, t, mc.pc, mc.line))
		return nil
	}
	// the value sits above the address operands; park it in a temporary
	tmp := mc.locals.GetTempVariable(t, mc.pc, mc.codeEnd())
	mc.add(ir.NewLocal(ir.LocalSet, tmp, t, mc.pc, mc.line))
	elemSize := t.ByteSize()
	if width != 0 {
		elemSize = width / 8
	}
	mc.addConst(int32(elemSize), ir.I32)
	mc.numeric(ir.OpMul, ir.I32)
	mc.numeric(ir.OpAdd, ir.I32)
	mc.add(ir.NewLocal(ir.LocalGet, tmp, t, mc.pc, mc.line))
	mc.add(ir.NewMemoryNarrow(ir.MemoryStore, t, arrayHeader, width, signed, mc.pc, mc.line))
	return nil
}

func (mc *MethodCompiler) compileTableSwitch(r *codeReader) error {
	r.align4()
	def := mc.pc + r.s32()
	low := r.s32()
	high := r.s32()
	targets := make([]int, high-low+1)
	for i := range targets {
		targets[i] = mc.pc + r.s32()
	}
	if low != 0 {
		mc.addConst(int32(low), ir.I32)
		mc.numeric(ir.OpSub, ir.I32)
	}
	mc.add(NewSwitch(targets, def, mc.pc, mc.line))
	return nil
}

// compileLookupSwitch densifies compact key sets into a jump table and
// lowers sparse ones to a compare chain over a temporary.
func (mc *MethodCompiler) compileLookupSwitch(r *codeReader) error {
	r.align4()
	def := mc.pc + r.s32()
	npairs := r.s32()
	keys := make([]int, npairs)
	targets := make([]int, npairs)
	for i := 0; i < npairs; i++ {
		keys[i] = r.s32()
		targets[i] = mc.pc + r.s32()
	}
	if npairs == 0 {
		mc.add(ir.NewDrop(ir.I32, mc.pc, mc.line))
		mc.add(ir.NewJump(def, false, mc.pc, mc.line))
		return nil
	}

	min, max := keys[0], keys[0]
	for _, k := range keys {
		if k < min {
			min = k
		}
		if k > max {
			max = k
		}
	}
	span := int64(max) - int64(min) + 1
	if span <= 2*int64(npairs) {
		table := make([]int, span)
		for i := range table {
			table[i] = def
		}
		for i, k := range keys {
			table[k-min] = targets[i]
		}
		if min != 0 {
			mc.addConst(int32(min), ir.I32)
			mc.numeric(ir.OpSub, ir.I32)
		}
		mc.add(NewSwitch(table, def, mc.pc, mc.line))
		return nil
	}

	tmp := mc.locals.GetTempVariable(ir.I32, mc.pc, mc.codeEnd())
	mc.add(ir.NewLocal(ir.LocalSet, tmp, ir.I32, mc.pc, mc.line))
	for i, k := range keys {
		mc.add(ir.NewLocal(ir.LocalGet, tmp, ir.I32, mc.pc, mc.line))
		mc.addConst(int32(k), ir.I32)
		mc.numeric(ir.OpEq, ir.I32)
		mc.add(ir.NewJump(targets[i], true, mc.pc, mc.line))
	}
	mc.add(ir.NewJump(def, false, mc.pc, mc.line))
	return nil
}

func (mc *MethodCompiler) compileField(load bool, index uint16) error {
	member, ok := mc.pool.Member(index)
	if !ok {
		return diagnostics.NewError(diagnostics.ErrC004,
			"constant pool index %d at position %d is not a field reference", index, mc.pc)
	}
	ft, err := classfile.TypeOfDescriptor(member.Descriptor)
	if err != nil {
		return err
	}
	if mc.useGC {
		op := ir.StructSet
		if load {
			op = ir.StructGet
		}
		mc.add(ir.NewStruct(op, member.ClassName, member.Name, ft, mc.pc, mc.line))
		return nil
	}
	t, err := mc.useClassType(member.ClassName)
	if err != nil {
		return err
	}
	f, ok := t.FieldByName(member.Name)
	if !ok {
		return diagnostics.NewError(diagnostics.ErrC001,
			"field %s.%s was not found", member.ClassName, member.Name)
	}
	width, signed := narrowSpec(member.Descriptor)
	op := ir.MemoryStore
	if load {
		op = ir.MemoryLoad
	}
	mc.add(ir.NewMemoryNarrow(op, ft, f.Offset, width, signed, mc.pc, mc.line))
	return nil
}

func (mc *MethodCompiler) compileStatic(load bool, index uint16) error {
	member, ok := mc.pool.Member(index)
	if !ok {
		return diagnostics.NewError(diagnostics.ErrC004,
			"constant pool index %d at position %d is not a field reference", index, mc.pc)
	}
	if load && isUnsafeClass(member.Descriptor) {
		// the unsafe singleton is never a real value; intrinsic rewrites
		// consume it
		mc.add(ir.NewConstNull(mc.pc, mc.line))
		return nil
	}
	gt, err := classfile.TypeOfDescriptor(member.Descriptor)
	if err != nil {
		return err
	}
	mc.recordClassRef(member.ClassName)
	name := member.ClassName + "." + member.Name
	mc.globals.Use(name, gt)
	mc.add(ir.NewGlobal(load, name, gt, mc.pc, mc.line))
	return nil
}

func (mc *MethodCompiler) compileNew(className string) error {
	t, err := mc.useClassType(className)
	if err != nil {
		return err
	}
	mc.recordClassRef(className)
	if mc.useGC {
		mc.add(ir.NewStruct(ir.StructNew, className, "", ir.NoType, mc.pc, mc.line))
		return nil
	}
	mc.addConst(int32(t.InstanceSize()), ir.I32)
	vt := 0
	if mc.strict {
		vt = t.VTableOffset()
	}
	mc.addConst(int32(vt), ir.I32)
	return mc.callRuntime(fnAlloc)
}

func (mc *MethodCompiler) compileNewArray(elem ir.ValueType, elemSize int) error {
	if mc.useGC {
		mc.add(ir.NewArray(ir.ArrayNew, elem, mc.pc, mc.line))
		return nil
	}
	mc.addConst(int32(elemSize), ir.I32)
	return mc.callRuntime(fnNewArray)
}

func (mc *MethodCompiler) compileMultiArray(desc string, dims int) error {
	if dims != 2 || mc.useGC {
		return diagnostics.NewError(diagnostics.ErrC002,
			"multianewarray with %d dimensions at position %d is not supported", dims, mc.pc)
	}
	elem := desc
	for len(elem) > 0 && elem[0] == '[' {
		elem = elem[1:]
	}
	et, err := classfile.TypeOfDescriptor(elem)
	if err != nil {
		return err
	}
	mc.addConst(int32(et.ByteSize()), ir.I32)
	return mc.callRuntime(fnNewMultiArray)
}

func (mc *MethodCompiler) compileInstanceOf(className string) error {
	t, err := mc.useClassType(className)
	if err != nil {
		return err
	}
	if mc.useGC {
		mc.add(ir.NewStruct(ir.StructInstanceOf, className, "", ir.NoType, mc.pc, mc.line))
		return nil
	}
	mc.addConst(int32(t.ID), ir.I32)
	return mc.callRuntime(fnInstanceOf)
}

func (mc *MethodCompiler) compileWide(r *codeReader) error {
	op := r.u8()
	switch {
	case op >= opILoad && op <= opALoad:
		return mc.localAccess(ir.LocalGet, loadStoreType(op-opILoad), r.u16())
	case op >= opIStore && op <= opAStore:
		return mc.localAccess(ir.LocalSet, loadStoreType(op-opIStore), r.u16())
	case op == opIInc:
		slot := r.u16()
		delta := r.s16()
		return mc.compileIInc(slot, delta)
	default:
		return diagnostics.NewError(diagnostics.ErrC002,
			"wide opcode 0x%02x at position %d is not supported", op, mc.pc)
	}
}

var zeroCmpOps = []ir.NumericOp{ir.OpEq, ir.OpNe, ir.OpLt, ir.OpGe, ir.OpGt, ir.OpLe}

func loadStoreType(kind int) ir.ValueType {
	switch kind {
	case 0:
		return ir.I32
	case 1:
		return ir.I64
	case 2:
		return ir.F32
	case 3:
		return ir.F64
	default:
		return ir.AnyRef
	}
}

func arithType(kind int) ir.ValueType {
	return loadStoreType(kind)
}

// arrayAccessSpec maps the relative array opcode (ia/la/fa/da/aa/ba/ca/sa)
// to its element type, narrow width and signedness.
func arrayAccessSpec(rel int) (t ir.ValueType, width int, signed bool) {
	switch rel {
	case 0:
		return ir.I32, 0, true
	case 1:
		return ir.I64, 0, true
	case 2:
		return ir.F32, 0, true
	case 3:
		return ir.F64, 0, true
	case 4:
		return ir.AnyRef, 0, true
	case 5:
		return ir.I32, 8, true // byte and boolean
	case 6:
		return ir.I32, 16, false // char
	default:
		return ir.I32, 16, true // short
	}
}

// narrowSpec derives sub-word field access width from a descriptor.
func narrowSpec(desc string) (width int, signed bool) {
	switch desc[0] {
	case 'Z':
		return 8, false
	case 'B':
		return 8, true
	case 'C':
		return 16, false
	case 'S':
		return 16, true
	default:
		return 0, true
	}
}

// primitiveArraySpec maps a newarray type code to the element value type
// and its byte size in linear memory.
func primitiveArraySpec(atype int) (ir.ValueType, int) {
	switch atype {
	case 4, 8: // boolean, byte
		return ir.I32, 1
	case 5, 9: // char, short
		return ir.I32, 2
	case 6:
		return ir.F32, 4
	case 7:
		return ir.F64, 8
	case 11:
		return ir.I64, 8
	default: // int
		return ir.I32, 4
	}
}
