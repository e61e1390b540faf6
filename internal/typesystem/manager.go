// Package typesystem owns the structural view of every class a compilation
// run touches: field layout, vtable and itable slot assignment, class
// identities and the function table for indirect calls.
//
// Types are write-once: they are registered while methods are scanned, the
// layouts are finished exactly once after the scan phase, and everything is
// read-only during the write phase.
package typesystem

import (
	"github.com/wasmlift/wasmlift/internal/classfile"
	"github.com/wasmlift/wasmlift/internal/diagnostics"
	"github.com/wasmlift/wasmlift/internal/ir"
	"github.com/wasmlift/wasmlift/internal/registry"
)

// Field is one instance field with its resolved linear-memory offset.
type Field struct {
	Name   string
	Type   ir.ValueType
	Offset int
}

// StructType is the compiler's view of a class. The first field is always
// the reserved vtable pointer.
type StructType struct {
	ClassName string
	Super     *StructType
	Interface bool

	// ID is the class identity used by interface dispatch.
	ID int

	Fields []Field
	size   int

	// VTable maps virtual slot -> implementing function. Inherited
	// slots are reused from the superclass layout, overridden slots
	// replaced.
	VTable []registry.FuncName

	// vtableOffset is the data-section address of the rendered vtable.
	vtableOffset int

	methods        []*classfile.Method
	interfaceNames []string
}

// Primitive implements ir.AnyType: object references render as AnyRef.
func (t *StructType) Primitive() ir.ValueType { return ir.AnyRef }

// Name implements ir.AnyType.
func (t *StructType) Name() string { return t.ClassName }

// InstanceSize is the linear-memory footprint of one instance, including
// the vtable pointer.
func (t *StructType) InstanceSize() int { return t.size }

// VTableOffset is the data-section address of this class's vtable. Valid
// only after Finish.
func (t *StructType) VTableOffset() int { return t.vtableOffset }

// FieldByName finds a declared or inherited field.
func (t *StructType) FieldByName(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// IsAssignableTo walks the superclass chain.
func (t *StructType) IsAssignableTo(other *StructType) bool {
	for s := t; s != nil; s = s.Super {
		if s == other {
			return true
		}
	}
	return false
}

// Manager registers and finishes types.
type Manager struct {
	loader *classfile.Loader
	types  map[string]*StructType
	order  []*StructType

	// functionTable assigns dense indices for call_indirect targets.
	functionTable []registry.FuncName
	tableIndex    map[string]int

	ifaceMethodIDs map[string]int

	finished bool
	observer func(string)
}

// NewManager creates a type manager resolving classes through loader.
func NewManager(loader *classfile.Loader) *Manager {
	return &Manager{
		loader:     loader,
		types:      make(map[string]*StructType),
		tableIndex: make(map[string]int),
	}
}

// Observe installs a callback invoked for every newly registered class, in
// registration order. The scan cache journals type discoveries through it.
// Returns the previous callback.
func (m *Manager) Observe(fn func(string)) func(string) {
	prev := m.observer
	m.observer = fn
	return prev
}

// UseType registers a class (and transitively its superclasses) and returns
// its structural view. Returns (nil, nil) when the class is not on the
// classpath; callers decide whether that is fatal.
func (m *Manager) UseType(className string) (*StructType, error) {
	if t, ok := m.types[className]; ok {
		return t, nil
	}
	cf, err := m.loader.Load(className)
	if err != nil {
		return nil, err
	}
	if cf == nil {
		return nil, nil
	}

	t := &StructType{
		ClassName: className,
		Interface: cf.IsInterface(),
		ID:        len(m.order),
	}
	// register before recursing; class hierarchies may be circular
	// through field types but never through superclasses
	m.types[className] = t
	m.order = append(m.order, t)
	if m.observer != nil {
		m.observer(className)
	}

	if cf.SuperClass != "" {
		super, err := m.UseType(cf.SuperClass)
		if err != nil {
			return nil, err
		}
		t.Super = super
	}
	for _, ifaceName := range cf.Interfaces {
		t.interfaceNames = append(t.interfaceNames, ifaceName)
		if _, err := m.UseType(ifaceName); err != nil {
			return nil, err
		}
	}

	if err := m.layoutFields(t, cf); err != nil {
		return nil, err
	}
	t.methods = cf.Methods
	return t, nil
}

// Type returns an already registered type.
func (m *Manager) Type(className string) (*StructType, bool) {
	t, ok := m.types[className]
	return t, ok
}

func (m *Manager) layoutFields(t *StructType, cf *classfile.ClassFile) error {
	offset := 0
	if t.Super != nil {
		t.Fields = append(t.Fields, t.Super.Fields...)
		offset = t.Super.size
	} else {
		// reserved vtable pointer field
		t.Fields = append(t.Fields, Field{Name: ".vtable", Type: ir.I32, Offset: 0})
		offset = ir.PointerWidth
	}
	for _, f := range cf.Fields {
		if f.IsStatic() {
			continue // statics become module globals
		}
		ft, err := classfile.TypeOfDescriptor(f.Descriptor)
		if err != nil {
			return err
		}
		// natural alignment
		size := ft.ByteSize()
		if rem := offset % size; rem != 0 {
			offset += size - rem
		}
		t.Fields = append(t.Fields, Field{Name: f.Name, Type: ft, Offset: offset})
		offset += size
	}
	t.size = offset
	return nil
}

// FunctionTableIndex returns the dense function-table index for fn,
// allocating one on first use.
func (m *Manager) FunctionTableIndex(fn registry.FuncName) int {
	key := fn.UniqueName()
	if idx, ok := m.tableIndex[key]; ok {
		return idx
	}
	idx := len(m.functionTable)
	m.functionTable = append(m.functionTable, fn)
	m.tableIndex[key] = idx
	return idx
}

// FunctionTable lists every indirect-call target in index order.
func (m *Manager) FunctionTable() []registry.FuncName { return m.functionTable }

// TypeCount is the number of registered types.
func (m *Manager) TypeCount() int { return len(m.order) }

// Types lists registered types in registration order.
func (m *Manager) Types() []*StructType { return m.order }

// TypeByID resolves a class identity back to its type. IDs are assigned in
// registration order, so this is a direct index.
func (m *Manager) TypeByID(id int) (*StructType, bool) {
	if id < 0 || id >= len(m.order) {
		return nil, false
	}
	return m.order[id], true
}

// ClassID returns the identity of a registered class.
func (m *Manager) ClassID(className string) (int, error) {
	t, ok := m.types[className]
	if !ok {
		return 0, diagnostics.NewError(diagnostics.ErrC004, "class %s was never registered", className)
	}
	return t.ID, nil
}
