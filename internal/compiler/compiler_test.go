package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wasmlift/wasmlift/internal/classfile"
	"github.com/wasmlift/wasmlift/internal/ir"
)

// classImage assembles class file bytes for end-to-end fixtures.
type classImage struct {
	cp      [][]byte
	access  uint16
	this    uint16
	super   uint16
	fields  [][]byte
	methods [][]byte
}

func be16(buf []byte, v uint16) []byte { return append(buf, byte(v>>8), byte(v)) }

func be32(buf []byte, v uint32) []byte {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func (b *classImage) utf8(s string) uint16 {
	e := be16([]byte{1}, uint16(len(s)))
	e = append(e, s...)
	b.cp = append(b.cp, e)
	return uint16(len(b.cp))
}

func (b *classImage) class(name string) uint16 {
	e := be16([]byte{7}, b.utf8(name))
	b.cp = append(b.cp, e)
	return uint16(len(b.cp))
}

// member adds a field (tag 9) or method (tag 10) reference and returns its
// pool index for use as a bytecode operand.
func (b *classImage) member(tag byte, class, name, desc string) uint16 {
	ci := b.class(class)
	nt := be16([]byte{12}, b.utf8(name))
	nt = be16(nt, b.utf8(desc))
	b.cp = append(b.cp, nt)
	ni := uint16(len(b.cp))
	e := be16([]byte{tag}, ci)
	e = be16(e, ni)
	b.cp = append(b.cp, e)
	return uint16(len(b.cp))
}

func (b *classImage) attr(name string, body []byte) []byte {
	e := be16(nil, b.utf8(name))
	e = be32(e, uint32(len(body)))
	return append(e, body...)
}

// exportAttr marks a method exported under its own name.
func (b *classImage) exportAttr() []byte {
	body := be16(nil, 1)
	body = be16(body, b.utf8("Lorg/wasmlift/api/Export;"))
	body = be16(body, 0)
	return b.attr("RuntimeVisibleAnnotations", body)
}

func (b *classImage) codeAttr(code []byte) []byte {
	body := be16(nil, 8) // max stack
	body = be16(body, 8) // max locals
	body = be32(body, uint32(len(code)))
	body = append(body, code...)
	body = be16(body, 0) // exception table
	body = be16(body, 0) // nested attributes
	return b.attr("Code", body)
}

func (b *classImage) field(access uint16, name, desc string) {
	e := be16(nil, access)
	e = be16(e, b.utf8(name))
	e = be16(e, b.utf8(desc))
	e = be16(e, 0)
	b.fields = append(b.fields, e)
}

func (b *classImage) method(access uint16, name, desc string, attrs ...[]byte) {
	e := be16(nil, access)
	e = be16(e, b.utf8(name))
	e = be16(e, b.utf8(desc))
	e = be16(e, uint16(len(attrs)))
	for _, a := range attrs {
		e = append(e, a...)
	}
	b.methods = append(b.methods, e)
}

func (b *classImage) bytes() []byte {
	out := []byte{0xCA, 0xFE, 0xBA, 0xBE, 0x00, 0x00, 0x00, 0x34}
	out = be16(out, uint16(len(b.cp)+1))
	for _, e := range b.cp {
		out = append(out, e...)
	}
	out = be16(out, b.access)
	out = be16(out, b.this)
	out = be16(out, b.super)
	out = be16(out, 0) // interfaces
	out = be16(out, uint16(len(b.fields)))
	for _, f := range b.fields {
		out = append(out, f...)
	}
	out = be16(out, uint16(len(b.methods)))
	for _, m := range b.methods {
		out = append(out, m...)
	}
	out = be16(out, 0) // class attributes
	return out
}

func writeClass(t *testing.T, dir, name string, b *classImage) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name)+".class")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, b.bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

// moduleRecorder captures everything a run renders, one readable line per
// instruction-level call.
type moduleRecorder struct {
	funcs    map[string]*funcRecord
	cur      *funcRecord
	exports  map[string]string
	elements map[int]string
	imports  []string
	globals  []string
}

type funcRecord struct {
	params int
	locals int
	result ir.ValueType
	ops    []string
}

func newModuleRecorder() *moduleRecorder {
	return &moduleRecorder{
		funcs:    make(map[string]*funcRecord),
		exports:  make(map[string]string),
		elements: make(map[int]string),
	}
}

var _ ir.ModuleWriter = (*moduleRecorder)(nil)

func (r *moduleRecorder) op(format string, args ...interface{}) error {
	r.cur.ops = append(r.cur.ops, fmt.Sprintf(format, args...))
	return nil
}

func (r *moduleRecorder) WriteImport(module, name string, sig ir.FuncSig) error {
	r.imports = append(r.imports, module+"."+name)
	return nil
}

func (r *moduleRecorder) WriteExport(externalName, internalName string) error {
	r.exports[externalName] = internalName
	return nil
}

func (r *moduleRecorder) WriteGlobalDecl(name string, t ir.ValueType, init int64, mutable bool) error {
	r.globals = append(r.globals, name)
	return nil
}

func (r *moduleRecorder) WriteDataSegment(offset int, data []byte) error { return nil }
func (r *moduleRecorder) SetTableSize(size int) error                    { return nil }

func (r *moduleRecorder) WriteElement(index int, funcName string) error {
	r.elements[index] = funcName
	return nil
}

func (r *moduleRecorder) StartFunction(name, sourceFile string) error {
	r.cur = &funcRecord{result: ir.NoType}
	r.funcs[name] = r.cur
	return nil
}

func (r *moduleRecorder) WriteParam(t ir.ValueType, name string) error {
	r.cur.params++
	return nil
}

func (r *moduleRecorder) WriteResult(t ir.ValueType) error {
	r.cur.result = t
	return nil
}

func (r *moduleRecorder) WriteLocal(t ir.ValueType, name string) error {
	r.cur.locals++
	return nil
}

func (r *moduleRecorder) StartBody() error      { return nil }
func (r *moduleRecorder) FinishFunction() error { return nil }

func (r *moduleRecorder) WriteConstI32(v int32) error   { return r.op("i32.const %d", v) }
func (r *moduleRecorder) WriteConstI64(v int64) error   { return r.op("i64.const %d", v) }
func (r *moduleRecorder) WriteConstF32(v float32) error { return r.op("f32.const %v", v) }
func (r *moduleRecorder) WriteConstF64(v float64) error { return r.op("f64.const %v", v) }
func (r *moduleRecorder) WriteConstNull() error         { return r.op("ref.null") }

func (r *moduleRecorder) WriteLocalOp(op ir.LocalOp, index int) error {
	return r.op("%s %d", op, index)
}

func (r *moduleRecorder) WriteGlobalOp(load bool, name string, t ir.ValueType) error {
	if load {
		return r.op("global.get %s", name)
	}
	return r.op("global.set %s", name)
}

func (r *moduleRecorder) WriteNumericOp(op ir.NumericOp, t ir.ValueType) error {
	return r.op("%s.%s", t, op)
}

func (r *moduleRecorder) WriteConvert(op ir.ConvertOp) error { return r.op("%s", op) }

func (r *moduleRecorder) WriteMemoryOp(op ir.MemoryOp, t ir.ValueType, offset, width int, signed bool) error {
	return r.op("%s.%s offset=%d", t, op, offset)
}

func (r *moduleRecorder) WriteBlockOp(op ir.BlockOp, data interface{}) error {
	switch op {
	case ir.BlockOpBr, ir.BlockOpBrIf:
		return r.op("%s %d", op, data.(int))
	default:
		return r.op("%s", op)
	}
}

func (r *moduleRecorder) WriteCall(sig ir.FuncSig) error { return r.op("call %s", sig.Name) }
func (r *moduleRecorder) WriteCallIndirect(sig ir.FuncSig) error {
	return r.op("call_indirect")
}

func (r *moduleRecorder) WriteStructOp(op ir.StructOp, typeName, fieldName string) error {
	return r.op("%s %s.%s", op, typeName, fieldName)
}

func (r *moduleRecorder) WriteArrayOp(op ir.ArrayOp, elem ir.ValueType) error {
	return r.op("%s %s", op, elem)
}

func (r *moduleRecorder) WriteTableOp(op ir.TableOp, table int) error {
	return r.op("%s %d", op, table)
}

func (r *moduleRecorder) WriteNop() error { return r.op("nop") }

func compileInto(t *testing.T, dir string, roots ...string) *moduleRecorder {
	t.Helper()
	c, err := New(Options{Classpath: []string{dir}, Roots: roots})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := newModuleRecorder()
	if err := c.Run(rec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return rec
}

func wantFunc(t *testing.T, rec *moduleRecorder, name string) *funcRecord {
	t.Helper()
	f, ok := rec.funcs[name]
	if !ok {
		t.Fatalf("function %s was not written", name)
	}
	return f
}

func wantOps(t *testing.T, f *funcRecord, want []string) {
	t.Helper()
	if len(f.ops) != len(want) {
		t.Fatalf("body = %q, want %q", f.ops, want)
	}
	for i := range want {
		if f.ops[i] != want[i] {
			t.Fatalf("op[%d] = %q, want %q (body %q)", i, f.ops[i], want[i], f.ops)
		}
	}
}

func TestRun_ExportedStaticMethod(t *testing.T) {
	dir := t.TempDir()
	b := &classImage{}
	b.this = b.class("ex/Calc")
	b.super = b.class("java/lang/Object")
	b.method(classfile.AccStatic, "add", "(II)I",
		b.codeAttr([]byte{0x1A, 0x1B, 0x60, 0xAC}), // iload_0 iload_1 iadd ireturn
		b.exportAttr())
	writeClass(t, dir, "ex/Calc", b)

	rec := compileInto(t, dir, "ex/Calc")

	add := wantFunc(t, rec, "ex/Calc.add(II)I")
	if add.params != 2 || add.locals != 0 {
		t.Errorf("add has %d params and %d locals, want 2 and 0", add.params, add.locals)
	}
	if add.result != ir.I32 {
		t.Errorf("add result = %v, want i32", add.result)
	}
	wantOps(t, add, []string{"local.get 0", "local.get 1", "i32.add", "return"})

	if got := rec.exports["add"]; got != "ex/Calc.add(II)I" {
		t.Errorf("export add = %q", got)
	}
	if got := rec.exports[StartExportName]; got == "" {
		t.Errorf("start function is not exported under %s", StartExportName)
	}
}

// A do-while body stores the loop variable right before the loop header
// reads it back. The store and the load are adjacent in the flat form, but
// the load is a jump target: the store must stay a plain store outside the
// loop instead of fusing into a tee.
func TestRun_DoWhileKeepsStoreBeforeLoopHeader(t *testing.T) {
	dir := t.TempDir()
	b := &classImage{}
	b.this = b.class("ex/Loop")
	b.super = b.class("java/lang/Object")
	fRef := b.member(10, "ex/Loop", "f", "(I)V")
	gRef := b.member(10, "ex/Loop", "g", "()I")
	b.method(classfile.AccStatic, "run", "()I",
		b.codeAttr([]byte{
			0x03,                               // 0: iconst_0
			0x3C,                               // 1: istore_1
			0x1B,                               // 2: iload_1 (loop header)
			0xB8, byte(fRef >> 8), byte(fRef),  // 3: invokestatic f
			0xB8, byte(gRef >> 8), byte(gRef),  // 6: invokestatic g
			0x9A, 0xFF, 0xF9,                   // 9: ifne -> 2
			0x1B,                               // 12: iload_1
			0xAC,                               // 13: ireturn
		}),
		b.exportAttr())
	b.method(classfile.AccStatic, "f", "(I)V", b.codeAttr([]byte{0xB1}))
	b.method(classfile.AccStatic, "g", "()I", b.codeAttr([]byte{0x03, 0xAC}))
	writeClass(t, dir, "ex/Loop", b)

	rec := compileInto(t, dir, "ex/Loop")

	run := wantFunc(t, rec, "ex/Loop.run()I")
	wantOps(t, run, []string{
		"i32.const 0",
		"local.set 0",
		"loop",
		"local.get 0",
		"call ex/Loop.f(I)V",
		"call ex/Loop.g()I",
		"i32.const 0",
		"i32.ne",
		"br_if 0",
		"end",
		"local.get 0",
		"return",
	})
	for _, op := range run.ops {
		if strings.HasPrefix(op, "local.tee") {
			t.Fatalf("store before the loop header fused into %q", op)
		}
	}
}

func TestRun_VirtualCallReusesLocalReceiver(t *testing.T) {
	dir := t.TempDir()

	animal := &classImage{}
	animal.this = animal.class("ex/Animal")
	animal.super = animal.class("java/lang/Object")
	animal.method(0, "speak", "()I", animal.codeAttr([]byte{0x04, 0xAC})) // iconst_1 ireturn
	writeClass(t, dir, "ex/Animal", animal)

	dog := &classImage{}
	dog.this = dog.class("ex/Dog")
	dog.super = dog.class("ex/Animal")
	dog.method(0, "speak", "()I", dog.codeAttr([]byte{0x05, 0xAC})) // iconst_2 ireturn
	writeClass(t, dir, "ex/Dog", dog)

	zoo := &classImage{}
	zoo.this = zoo.class("ex/Zoo")
	zoo.super = zoo.class("java/lang/Object")
	aSpeak := zoo.member(10, "ex/Animal", "speak", "()I")
	dSpeak := zoo.member(10, "ex/Dog", "speak", "()I")
	zoo.method(classfile.AccStatic, "callAnimal", "(Lex/Animal;)I",
		zoo.codeAttr([]byte{0x2A, 0xB6, byte(aSpeak >> 8), byte(aSpeak), 0xAC}),
		zoo.exportAttr())
	zoo.method(classfile.AccStatic, "callDog", "(Lex/Dog;)I",
		zoo.codeAttr([]byte{0x2A, 0xB6, byte(dSpeak >> 8), byte(dSpeak), 0xAC}),
		zoo.exportAttr())
	writeClass(t, dir, "ex/Zoo", zoo)

	rec := compileInto(t, dir, "ex/Zoo")

	// overridden method: receiver re-loaded from the local, vtable slot 0
	// resolved through the header, no temporary allocated
	callAnimal := wantFunc(t, rec, "ex/Zoo.callAnimal(Lex/Animal;)I")
	if callAnimal.params != 1 || callAnimal.locals != 0 {
		t.Errorf("callAnimal has %d params and %d locals, want 1 and 0",
			callAnimal.params, callAnimal.locals)
	}
	wantOps(t, callAnimal, []string{
		"local.get 0",
		"local.get 0",
		"i32.load offset=0",
		"i32.load offset=4",
		"call_indirect",
		"return",
	})

	// no class below Dog overrides speak, so the same call site through the
	// subclass devirtualizes
	callDog := wantFunc(t, rec, "ex/Zoo.callDog(Lex/Dog;)I")
	wantOps(t, callDog, []string{
		"local.get 0",
		"call ex/Dog.speak()I",
		"return",
	})

	bound := make(map[string]bool)
	for _, fn := range rec.elements {
		bound[fn] = true
	}
	if !bound["ex/Animal.speak()I"] || !bound["ex/Dog.speak()I"] {
		t.Errorf("function table = %v, want both speak implementations", rec.elements)
	}
}

func TestRun_ClinitCycleRunsEachInitializerOnce(t *testing.T) {
	dir := t.TempDir()

	a := &classImage{}
	a.this = a.class("ex/A")
	a.super = a.class("java/lang/Object")
	a.field(classfile.AccStatic, "x", "I")
	by := a.member(9, "ex/B", "y", "I")
	ax := a.member(9, "ex/A", "x", "I")
	a.method(classfile.AccStatic, "<clinit>", "()V",
		a.codeAttr([]byte{0xB2, byte(by >> 8), byte(by), 0xB3, byte(ax >> 8), byte(ax), 0xB1}))
	writeClass(t, dir, "ex/A", a)

	bb := &classImage{}
	bb.this = bb.class("ex/B")
	bb.super = bb.class("java/lang/Object")
	bb.field(classfile.AccStatic, "y", "I")
	bax := bb.member(9, "ex/A", "x", "I")
	bby := bb.member(9, "ex/B", "y", "I")
	bb.method(classfile.AccStatic, "<clinit>", "()V",
		bb.codeAttr([]byte{0xB2, byte(bax >> 8), byte(bax), 0xB3, byte(bby >> 8), byte(bby), 0xB1}))
	writeClass(t, dir, "ex/B", bb)

	main := &classImage{}
	main.this = main.class("ex/Main")
	main.super = main.class("java/lang/Object")
	max := main.member(9, "ex/A", "x", "I")
	main.method(classfile.AccStatic, "main", "()I",
		main.codeAttr([]byte{0xB2, byte(max >> 8), byte(max), 0xAC}),
		main.exportAttr())
	writeClass(t, dir, "ex/Main", main)

	rec := compileInto(t, dir, "ex/Main")

	// the cycle breaker runs its partner inline at the first reference
	aInit := wantFunc(t, rec, "ex/A.<clinit>()V")
	wantOps(t, aInit, []string{
		"call ex/B.<clinit>()V",
		"global.get ex/B.y",
		"global.set ex/A.x",
		"return",
	})
	bInit := wantFunc(t, rec, "ex/B.<clinit>()V")
	wantOps(t, bInit, []string{
		"global.get ex/A.x",
		"global.set ex/B.y",
		"return",
	})

	// the start function calls only the cycle breaker, so each initializer
	// still runs exactly once
	start := wantFunc(t, rec, rec.exports[StartExportName])
	wantOps(t, start, []string{"call ex/A.<clinit>()V", "return"})

	declared := make(map[string]bool)
	for _, g := range rec.globals {
		declared[g] = true
	}
	if !declared["ex/A.x"] || !declared["ex/B.y"] {
		t.Errorf("globals = %v, want ex/A.x and ex/B.y", rec.globals)
	}
}
