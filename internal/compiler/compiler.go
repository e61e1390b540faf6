package compiler

import (
	"github.com/wasmlift/wasmlift/internal/classfile"
	"github.com/wasmlift/wasmlift/internal/diagnostics"
	"github.com/wasmlift/wasmlift/internal/ir"
	"github.com/wasmlift/wasmlift/internal/optimizer"
	"github.com/wasmlift/wasmlift/internal/pipeline"
	"github.com/wasmlift/wasmlift/internal/registry"
	"github.com/wasmlift/wasmlift/internal/typesystem"
)

// Wiring annotations. Their element values are plain strings, which is all
// the class-file reader retains.
const (
	annImport  = "org/wasmlift/api/Import"
	annExport  = "org/wasmlift/api/Export"
	annReplace = "org/wasmlift/api/Replace"
)

// Options configures one compilation run.
type Options struct {
	// Classpath entries are directories and jar files, searched in order.
	Classpath []string
	// Roots are the classes whose annotated methods seed the compilation.
	Roots []string
	// UseGC selects the reference-types output mode instead of the default
	// linear-memory mode.
	UseGC bool
	// Cache, when set, replays previously journaled scan results for
	// unchanged classes. Purely an accelerator.
	Cache ScanCache
}

// ScanCache persists per-method scan journals between runs, keyed by the
// class content hash. A miss simply means the method is scanned for real.
type ScanCache interface {
	Get(classSum, method string) (*ScanRecord, bool)
	Put(classSum, method string, rec *ScanRecord)
}

// ScanRecord is the journal of one method's discovery scan: every side
// effect the scan had on the shared managers, in order, so a cached record
// can be replayed without recompiling the body.
type ScanRecord struct {
	UsedTypes []string
	Strings   []string
	Globals   []GlobalUse
	Needed    []NeededRef
	ClassRefs []string
}

// GlobalUse is one journaled global access.
type GlobalUse struct {
	Name string
	Type ir.ValueType
}

// NeededRef is one journaled MarkAsNeeded call.
type NeededRef struct {
	Func     registry.FuncName
	NeedThis bool
}

// Compiler drives one compilation run: prepare, scan and write, against a
// registry, type manager and loader that live exactly as long as the run.
type Compiler struct {
	opts    Options
	loader  *classfile.Loader
	types   *typesystem.Manager
	reg     *registry.Manager
	strings *StringPool
	globals *GlobalPool
	clinits *ClinitScheduler

	dispatch *InterfaceDispatch
	splices  map[string][]string

	exports     map[string]registry.FuncName
	exportOrder []string
}

// New creates a compiler for one run. The caller owns the run lifetime; the
// loader is closed when Run returns.
func New(opts Options) (*Compiler, error) {
	if len(opts.Roots) == 0 {
		return nil, diagnostics.NewError(diagnostics.ErrC002, "no root classes to compile")
	}
	loader, err := classfile.NewLoader(opts.Classpath)
	if err != nil {
		return nil, err
	}
	return &Compiler{
		opts:     opts,
		loader:   loader,
		types:    typesystem.NewManager(loader),
		reg:      registry.NewManager(),
		strings:  NewStringPool(),
		globals:  NewGlobalPool(),
		clinits:  NewClinitScheduler(),
		dispatch: &InterfaceDispatch{},
		exports:  make(map[string]registry.FuncName),
	}, nil
}

// Run executes the full prepare, scan and write sequence into w.
func (c *Compiler) Run(w ir.ModuleWriter) error {
	defer c.loader.Close()

	if err := c.prepare(); err != nil {
		return err
	}
	if err := c.scan(); err != nil {
		return err
	}
	if err := c.scheduleClinits(); err != nil {
		return err
	}
	c.reg.PrepareFinish()

	if err := c.writeModule(w); err != nil {
		return err
	}
	return c.write(w)
}

// prepare registers the runtime imports and the synthetic dispatch helper,
// then seeds the registry from the root classes' annotations.
func (c *Compiler) prepare() error {
	if !c.opts.UseGC {
		for _, fn := range RuntimeImports() {
			c.reg.MarkAsImport(fn, RuntimeModule, fn.MethodName)
		}
	}
	c.reg.AddSynthetic(c.dispatch)

	for _, root := range c.opts.Roots {
		cf, err := c.loader.Load(root)
		if err != nil {
			return err
		}
		if cf == nil {
			return diagnostics.NewError(diagnostics.ErrC001,
				"root class %s was not found on the classpath", root)
		}
		if err := c.processClass(cf); err != nil {
			return err
		}
	}
	return nil
}

// processClass applies the wiring annotations of one class: imports bind
// host functions, exports seed the scan work list, replacements substitute
// method bodies.
func (c *Compiler) processClass(cf *classfile.ClassFile) error {
	for _, m := range cf.Methods {
		fn := registry.NewFuncName(cf.ThisClass, m.Name, m.Descriptor)

		if imp, ok := m.Annotations[annImport]; ok {
			field := imp["name"]
			if field == "" {
				field = m.Name
			}
			c.reg.MarkAsImport(fn, imp["module"], field)
		}
		if rep, ok := m.Annotations[annReplace]; ok {
			target := registry.NewFuncName(rep["class"], m.Name, m.Descriptor)
			c.reg.AddReplacement(target, m)
		}
		if exp, ok := m.Annotations[annExport]; ok {
			name := exp["name"]
			if name == "" {
				name = m.Name
			}
			if err := c.addExport(name, fn); err != nil {
				return err
			}
			if err := c.reg.MarkAsNeeded(fn, !m.IsStatic()); err != nil {
				return err
			}
		}
	}
	if cf.Method("<clinit>", "()V") != nil {
		return c.reg.MarkAsNeeded(ClinitName(cf.ThisClass), false)
	}
	return nil
}

func (c *Compiler) addExport(external string, fn registry.FuncName) error {
	if _, ok := c.exports[external]; ok {
		return diagnostics.NewError(diagnostics.ErrC002,
			"export name %s is declared twice", external)
	}
	c.exports[external] = fn
	c.exportOrder = append(c.exportOrder, external)
	return nil
}

// scan runs the discovery phase to a fixed point: every needed function is
// compiled tolerantly to find its callees, then the type layouts are
// finished, which may mark further vtable implementations as needed.
func (c *Compiler) scan() error {
	mc := NewMethodCompiler(c.types, c.reg, c.strings, c.globals, c.resolveSubtype, false, c.opts.UseGC)
	for {
		name, ok := c.reg.NextNeeded()
		if !ok {
			added, err := c.types.FinishLayouts(c.reg)
			if err != nil {
				return err
			}
			if added == 0 {
				return nil
			}
			continue
		}
		if err := c.scanOne(mc, name); err != nil {
			return err
		}
	}
}

func (c *Compiler) scanOne(mc *MethodCompiler, name registry.FuncName) error {
	if _, _, ok := c.reg.Import(name); ok {
		c.reg.MarkAsScanned(name)
		return nil
	}
	if c.reg.Synthetic(name) != nil {
		c.reg.MarkAsScanned(name)
		return nil
	}

	method, cf, err := c.resolveMethod(name)
	if err != nil {
		return err
	}
	if method == nil {
		return nil // resolved as a superclass alias
	}
	if method.Code == nil {
		// abstract methods keep their dispatch slot; a trap stub is
		// emitted in the write phase
		c.reg.MarkAsScanned(name)
		return nil
	}

	methodKey := name.MethodName + name.Descriptor
	if c.opts.Cache != nil {
		if rec, ok := c.opts.Cache.Get(cf.Sum, methodKey); ok {
			if err := c.replay(rec); err != nil {
				return err
			}
			if err := c.noteClassRefs(name, rec.ClassRefs); err != nil {
				return err
			}
			c.reg.MarkAsScanned(name)
			return nil
		}
	}

	rec, cm, err := c.journaled(func() (*CompiledMethod, error) {
		return mc.Compile(method, name, cf.Pool())
	})
	if err != nil {
		return diagnostics.Enrich(err, name.ClassName, name.MethodName, 0)
	}
	rec.ClassRefs = cm.ClassRefs
	if c.opts.Cache != nil {
		c.opts.Cache.Put(cf.Sum, methodKey, rec)
	}
	if err := c.noteClassRefs(name, cm.ClassRefs); err != nil {
		return err
	}
	c.reg.MarkAsScanned(name)
	return nil
}

// journaled runs fn with the manager observers recording into a fresh
// ScanRecord, restoring the previous observers afterwards.
func (c *Compiler) journaled(fn func() (*CompiledMethod, error)) (*ScanRecord, *CompiledMethod, error) {
	rec := &ScanRecord{}
	prevReg := c.reg.Observe(func(n registry.FuncName, needThis bool) {
		rec.Needed = append(rec.Needed, NeededRef{Func: n, NeedThis: needThis})
	})
	prevTypes := c.types.Observe(func(cls string) {
		rec.UsedTypes = append(rec.UsedTypes, cls)
	})
	prevStr := c.strings.Observe(func(s string) {
		rec.Strings = append(rec.Strings, s)
	})
	prevGlob := c.globals.Observe(func(name string, t ir.ValueType) {
		rec.Globals = append(rec.Globals, GlobalUse{Name: name, Type: t})
	})

	cm, err := fn()

	c.reg.Observe(prevReg)
	c.types.Observe(prevTypes)
	c.strings.Observe(prevStr)
	c.globals.Observe(prevGlob)
	return rec, cm, err
}

// replay applies a journaled scan record. Order matters within each
// category: type registration order fixes class identities and intern order
// fixes string offsets.
func (c *Compiler) replay(rec *ScanRecord) error {
	for _, cls := range rec.UsedTypes {
		if _, err := c.types.UseType(cls); err != nil {
			return err
		}
	}
	for _, s := range rec.Strings {
		c.strings.Intern(s)
	}
	for _, g := range rec.Globals {
		c.globals.Use(g.Name, g.Type)
	}
	for _, n := range rec.Needed {
		if err := c.reg.MarkAsNeeded(n.Func, n.NeedThis); err != nil {
			return err
		}
	}
	return nil
}

// noteClassRefs marks the static initializers of referenced classes as
// needed and, for an initializer body, feeds its dependencies to the
// scheduler.
func (c *Compiler) noteClassRefs(name registry.FuncName, refs []string) error {
	for _, cls := range refs {
		cf, err := c.loader.Load(cls)
		if err != nil {
			return err
		}
		if cf == nil || cf.Method("<clinit>", "()V") == nil {
			continue
		}
		if err := c.reg.MarkAsNeeded(ClinitName(cls), false); err != nil {
			return err
		}
	}
	if name.MethodName == "<clinit>" {
		c.clinits.Add(name.ClassName, refs)
	}
	return nil
}

// resolveMethod finds the body behind a function name: a registered
// replacement first, then the declaring class, then the superclass chain.
// A superclass hit resolves as an alias and returns (nil, nil, nil); no hit
// anywhere is a missing function.
func (c *Compiler) resolveMethod(name registry.FuncName) (*classfile.Method, *classfile.ClassFile, error) {
	if rep := c.reg.Replacement(name); rep != nil {
		cf, err := c.loader.Load(rep.ClassName)
		if err != nil {
			return nil, nil, err
		}
		if cf == nil {
			return nil, nil, diagnostics.NewError(diagnostics.ErrC001,
				"replacement class %s was not found on the classpath", rep.ClassName)
		}
		return rep, cf, nil
	}

	cf, err := c.loader.Load(name.ClassName)
	if err != nil {
		return nil, nil, err
	}
	if cf != nil {
		if m := cf.Method(name.MethodName, name.Descriptor); m != nil {
			return m, cf, nil
		}
	}

	super := ""
	if cf != nil {
		super = cf.SuperClass
	}
	for super != "" {
		scf, err := c.loader.Load(super)
		if err != nil {
			return nil, nil, err
		}
		if scf == nil {
			break
		}
		if scf.Method(name.MethodName, name.Descriptor) != nil {
			target := registry.NewFuncName(super, name.MethodName, name.Descriptor)
			needThis := c.reg.NeedThis(name)
			c.reg.SetAlias(name, target)
			return nil, nil, c.reg.MarkAsNeeded(target, needThis)
		}
		super = scf.SuperClass
	}
	return nil, nil, diagnostics.NewError(diagnostics.ErrC001,
		"missing function %s%s", name.FullName(), name.Descriptor)
}

// scheduleClinits fixes the static-initializer order and registers the
// synthetic start function calling them.
func (c *Compiler) scheduleClinits() error {
	order, splices := c.clinits.Schedule()
	c.splices = splices

	start := &StartFunction{}
	for _, cls := range order {
		start.Calls = append(start.Calls, ClinitName(cls))
	}
	c.reg.AddSynthetic(start)
	if err := c.reg.MarkAsNeeded(start.Name(), false); err != nil {
		return err
	}
	c.reg.MarkAsScanned(start.Name())
	return c.addExport(StartExportName, start.Name())
}

func align8(v int) int {
	if rem := v % 8; rem != 0 {
		v += 8 - rem
	}
	return v
}

// writeModule lays out the data section and emits everything module-level:
// imports, globals, data segments, the function table and the exports. The
// layout must be final here because the write phase bakes vtable offsets
// and the itable base into instruction immediates.
func (c *Compiler) writeModule(w ir.ModuleWriter) error {
	stringData := c.strings.Data()
	vtBase := StringBase + len(stringData)
	vtData := c.types.VTableData(vtBase)
	itBase := vtBase + len(vtData)
	itData := c.types.ITableData(c.reg)
	c.dispatch.TableBase = itBase
	heapBase := align8(itBase + len(itData))

	// imports first: the target numbers imported functions before local
	// ones
	for _, fn := range c.reg.Needed() {
		module, field, ok := c.reg.Import(fn)
		if !ok {
			continue
		}
		sig, err := fn.Signature(c.reg.NeedThis(fn))
		if err != nil {
			return err
		}
		if err := w.WriteImport(module, field, sig); err != nil {
			return err
		}
		c.reg.MarkAsWritten(fn)
	}

	for _, g := range c.globals.Globals() {
		if err := w.WriteGlobalDecl(g.Name, g.Type, 0, true); err != nil {
			return err
		}
	}
	if !c.opts.UseGC {
		if err := w.WriteGlobalDecl("__heap_base", ir.I32, int64(heapBase), false); err != nil {
			return err
		}
	}

	if len(stringData) > 0 {
		if err := w.WriteDataSegment(StringBase, stringData); err != nil {
			return err
		}
	}
	if len(vtData) > 0 {
		if err := w.WriteDataSegment(vtBase, vtData); err != nil {
			return err
		}
	}
	if err := w.WriteDataSegment(itBase, itData); err != nil {
		return err
	}

	table := c.types.FunctionTable()
	if err := w.SetTableSize(len(table)); err != nil {
		return err
	}
	for i, fn := range table {
		if err := w.WriteElement(i, c.reg.Alias(fn).UniqueName()); err != nil {
			return err
		}
	}

	for _, ext := range c.exportOrder {
		internal := c.reg.Alias(c.exports[ext]).UniqueName()
		if err := w.WriteExport(ext, internal); err != nil {
			return err
		}
	}
	return nil
}

// write runs the emission phase: every scanned function is compiled again
// in strict mode, rewritten by the per-method passes and rendered.
func (c *Compiler) write(w ir.ModuleWriter) error {
	mc := NewMethodCompiler(c.types, c.reg, c.strings, c.globals, c.resolveSubtype, true, c.opts.UseGC)
	for {
		name, ok := c.reg.NextScanned()
		if !ok {
			return nil
		}
		if err := c.writeOne(w, mc, name); err != nil {
			return diagnostics.Enrich(err, name.ClassName, name.MethodName, 0)
		}
		c.reg.MarkAsWritten(name)
	}
}

func (c *Compiler) writeOne(w ir.ModuleWriter, mc *MethodCompiler, name registry.FuncName) error {
	if syn := c.reg.Synthetic(name); syn != nil {
		return c.writeSynthetic(w, syn)
	}

	method, cf, err := c.resolveMethod(name)
	if err != nil {
		return err
	}
	if method == nil {
		return nil
	}
	if method.Code == nil {
		return c.writeAbstractStub(w, name, cf.SourceFile)
	}

	if name.MethodName == "<clinit>" {
		if partners, ok := c.splices[name.ClassName]; ok {
			sp := make(map[string]registry.FuncName, len(partners))
			for _, p := range partners {
				sp[p] = ClinitName(p)
			}
			mc.SetClinitSplices(sp)
		}
	}

	cm, err := mc.Compile(method, name, cf.Pool())
	if err != nil {
		return err
	}

	// Structuring must run first: the peephole rules rely on block
	// instructions marking every position control can enter, which the flat
	// jump-placeholder form does not have.
	ctx := pipeline.New(
		&structurePass{},
		&optimizePass{opt: optimizer.New()},
	).Run(&pipeline.Context{FunctionName: name.UniqueName(), Instrs: cm.Instrs})
	if ctx.Err != nil {
		return ctx.Err
	}

	cm.Locals.Calculate()
	remapLocals(ctx.Instrs, cm.Locals)
	return c.render(w, name, cf.SourceFile, cm, ctx.Instrs)
}

// optimizePass runs the peephole optimizer.
type optimizePass struct {
	opt *optimizer.Optimizer
}

func (p *optimizePass) Name() string { return "optimize" }

func (p *optimizePass) Process(ctx *pipeline.Context) *pipeline.Context {
	ctx.Instrs = p.opt.Optimize(ctx.Instrs)
	return ctx
}

// structurePass replaces the flat jump placeholders with structured blocks.
type structurePass struct{}

func (p *structurePass) Name() string { return "structure" }

func (p *structurePass) Process(ctx *pipeline.Context) *pipeline.Context {
	out, err := NewBranchManager().Structure(ctx.Instrs)
	if err != nil {
		ctx.Err = err
		return ctx
	}
	ctx.Instrs = out
	return ctx
}

// remapLocals replaces the variable handles the method compiler emitted
// with the dense indices Calculate assigned.
func remapLocals(instrs []ir.Instruction, lm *LocalVariableManager) {
	for _, in := range instrs {
		switch v := in.(type) {
		case *ir.LocalInstruction:
			v.Index = lm.TargetIndex(v.Index)
		case *ir.DupThisInstruction:
			v.Slot = lm.TargetIndex(v.Slot)
		}
	}
}

func (c *Compiler) render(w ir.ModuleWriter, name registry.FuncName, sourceFile string, cm *CompiledMethod, instrs []ir.Instruction) error {
	if err := w.StartFunction(name.UniqueName(), sourceFile); err != nil {
		return err
	}
	for _, v := range cm.Locals.Params() {
		if err := w.WriteParam(v.Type.Primitive(), v.Name); err != nil {
			return err
		}
	}
	if cm.Signature.Result != ir.NoType {
		if err := w.WriteResult(cm.Signature.Result); err != nil {
			return err
		}
	}
	for _, v := range cm.Locals.Locals() {
		if err := w.WriteLocal(v.Type.Primitive(), v.Name); err != nil {
			return err
		}
	}
	if err := w.StartBody(); err != nil {
		return err
	}
	for _, in := range instrs {
		if err := in.Render(w); err != nil {
			return diagnostics.Enrich(err, name.ClassName, name.MethodName, in.Line())
		}
	}
	return w.FinishFunction()
}

// writeAbstractStub emits a trap body for an abstract method that holds a
// dispatch slot, keeping the function table fully populated.
func (c *Compiler) writeAbstractStub(w ir.ModuleWriter, name registry.FuncName, sourceFile string) error {
	sig, err := name.Signature(c.reg.NeedThis(name))
	if err != nil {
		return err
	}
	if err := w.StartFunction(name.UniqueName(), sourceFile); err != nil {
		return err
	}
	if sig.NeedThis {
		if err := w.WriteParam(ir.AnyRef, "this"); err != nil {
			return err
		}
	}
	for _, t := range sig.Params {
		if err := w.WriteParam(t, ""); err != nil {
			return err
		}
	}
	if sig.ReturnType() != ir.NoType {
		if err := w.WriteResult(sig.ReturnType()); err != nil {
			return err
		}
	}
	if err := w.StartBody(); err != nil {
		return err
	}
	if err := w.WriteBlockOp(ir.BlockOpUnreachable, nil); err != nil {
		return err
	}
	return w.FinishFunction()
}

func (c *Compiler) writeSynthetic(w ir.ModuleWriter, syn registry.SyntheticFunction) error {
	sig := syn.Signature()
	body, err := syn.Build()
	if err != nil {
		return err
	}
	if err := w.StartFunction(sig.Name, ""); err != nil {
		return err
	}
	if sig.NeedThis {
		if err := w.WriteParam(ir.AnyRef, "this"); err != nil {
			return err
		}
	}
	for _, t := range sig.Params {
		if err := w.WriteParam(t, ""); err != nil {
			return err
		}
	}
	if sig.ReturnType() != ir.NoType {
		if err := w.WriteResult(sig.ReturnType()); err != nil {
			return err
		}
	}
	for _, t := range syn.Locals() {
		if err := w.WriteLocal(t, ""); err != nil {
			return err
		}
	}
	if err := w.StartBody(); err != nil {
		return err
	}
	for _, in := range body {
		if err := in.Render(w); err != nil {
			return err
		}
	}
	return w.FinishFunction()
}

// resolveSubtype keeps the more specific of two related class types during
// local-variable unification. Primitive types never relate.
func (c *Compiler) resolveSubtype(a, b ir.AnyType) (ir.AnyType, bool) {
	at, aok := a.(*typesystem.StructType)
	bt, bok := b.(*typesystem.StructType)
	if !aok || !bok {
		return nil, false
	}
	if at.IsAssignableTo(bt) {
		return at, true
	}
	if bt.IsAssignableTo(at) {
		return bt, true
	}
	return nil, false
}
