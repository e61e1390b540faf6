package typesystem

import (
	"encoding/binary"

	"github.com/wasmlift/wasmlift/internal/classfile"
	"github.com/wasmlift/wasmlift/internal/ir"
	"github.com/wasmlift/wasmlift/internal/registry"
)

// VTableHeaderSize is the byte size of the vtable header: the class
// identity stored before the first method slot.
const VTableHeaderSize = 4

// SlotOffset is the byte offset of a virtual slot inside a rendered vtable.
func SlotOffset(slot int) int {
	return VTableHeaderSize + slot*ir.PointerWidth
}

const accPrivate = 0x0002

func isVirtual(m *classfile.Method) bool {
	if m.IsStatic() || m.AccessFlags&accPrivate != 0 {
		return false
	}
	return m.Name != "<init>" && m.Name != "<clinit>"
}

// FinishLayouts assigns vtable slots for every registered class and marks
// each slot's implementation as needed. Layouts are only final once every
// type is registered, so the driver calls this after each scan round until
// no new functions become needed.
func (m *Manager) FinishLayouts(reg *registry.Manager) (int, error) {
	added := 0
	for _, t := range m.order {
		if t.Interface {
			continue
		}
		if err := m.buildVTable(t); err != nil {
			return added, err
		}
		for slot, fn := range t.VTable {
			if reg.State(fn) < registry.StateNeeded {
				if err := reg.MarkAsNeeded(fn, true); err != nil {
					return added, err
				}
				added++
			}
			reg.SetVTableSlot(fn, slot)
			m.FunctionTableIndex(reg.Alias(fn))
		}
	}
	m.finished = true
	return added, nil
}

// buildVTable computes the flat slot table: the superclass layout first,
// overridden slots replaced in place, new virtual methods appended.
func (m *Manager) buildVTable(t *StructType) error {
	if t.VTable != nil {
		return nil
	}
	if t.Super != nil {
		if err := m.buildVTable(t.Super); err != nil {
			return err
		}
		t.VTable = append(t.VTable, t.Super.VTable...)
	}
	for _, method := range t.methods {
		if !isVirtual(method) {
			continue
		}
		fn := registry.NewFuncName(t.ClassName, method.Name, method.Descriptor)
		slot := m.findInheritedSlot(t, method)
		if slot >= 0 {
			t.VTable[slot] = fn
		} else {
			t.VTable = append(t.VTable, fn)
		}
	}
	return nil
}

func (m *Manager) findInheritedSlot(t *StructType, method *classfile.Method) int {
	for super := t.Super; super != nil; super = super.Super {
		for slot, fn := range super.VTable {
			if fn.MethodName == method.Name && fn.Descriptor == method.Descriptor {
				return slot
			}
		}
	}
	return -1
}

// VirtualSlot resolves the dispatch slot of a method in a class hierarchy.
// ok is false when the method is not virtual in that hierarchy.
func (m *Manager) VirtualSlot(className string, methodName, descriptor string) (int, bool) {
	t, okT := m.types[className]
	if !okT {
		return 0, false
	}
	for s := t; s != nil; s = s.Super {
		for slot, fn := range s.VTable {
			if fn.MethodName == methodName && fn.Descriptor == descriptor {
				return slot, true
			}
		}
	}
	return 0, false
}

// IsOverridden reports whether more than one distinct implementation sits
// in the given slot anywhere below (or at) the declaring class. This is the
// monomorphism test the dispatch rewriter uses to fall back to a direct
// call.
func (m *Manager) IsOverridden(className, methodName, descriptor string) bool {
	impl := ""
	for _, t := range m.order {
		if t.Interface {
			continue
		}
		owner, okT := m.types[className]
		if !okT || !t.IsAssignableTo(owner) {
			continue
		}
		for _, fn := range t.VTable {
			if fn.MethodName == methodName && fn.Descriptor == descriptor {
				if impl == "" {
					impl = fn.UniqueName()
				} else if impl != fn.UniqueName() {
					return true
				}
			}
		}
	}
	return false
}

// InterfaceMethodID returns the stable identity of an interface method used
// by the runtime itable lookup.
func (m *Manager) InterfaceMethodID(ifaceName, methodName, descriptor string) int {
	if m.ifaceMethodIDs == nil {
		m.ifaceMethodIDs = make(map[string]int)
	}
	key := ifaceName + "." + methodName + descriptor
	if id, ok := m.ifaceMethodIDs[key]; ok {
		return id
	}
	id := len(m.ifaceMethodIDs)
	m.ifaceMethodIDs[key] = id
	return id
}

// VTableData renders every class vtable into one data segment starting at
// base and records each class's vtable offset. The layout per class is:
// class id (u32), then one function-table index (u32) per slot.
func (m *Manager) VTableData(base int) []byte {
	var buf []byte
	offset := base
	for _, t := range m.order {
		if t.Interface {
			continue
		}
		t.vtableOffset = offset
		var entry [4]byte
		binary.LittleEndian.PutUint32(entry[:], uint32(t.ID))
		buf = append(buf, entry[:]...)
		for _, fn := range t.VTable {
			idx := m.tableIndex[fn.UniqueName()]
			binary.LittleEndian.PutUint32(entry[:], uint32(idx))
			buf = append(buf, entry[:]...)
		}
		offset = base + len(buf)
	}
	return buf
}

// ITableData renders the global interface dispatch table: a sequence of
// (class id, interface method id, function table index) triples terminated
// by an all-ones sentinel. The runtime helper scans it linearly.
func (m *Manager) ITableData(reg *registry.Manager) []byte {
	var buf []byte
	put := func(v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		buf = append(buf, b[:]...)
	}
	for _, t := range m.order {
		if t.Interface {
			continue
		}
		for _, iface := range m.interfacesOf(t) {
			for _, im := range iface.methods {
				if im.IsStatic() || im.Name == "<clinit>" {
					continue
				}
				slot, ok := m.VirtualSlot(t.ClassName, im.Name, im.Descriptor)
				if !ok {
					continue
				}
				impl := t.VTable[slot]
				put(uint32(t.ID))
				put(uint32(m.InterfaceMethodID(iface.ClassName, im.Name, im.Descriptor)))
				put(uint32(m.tableIndex[reg.Alias(impl).UniqueName()]))
			}
		}
	}
	put(0xFFFFFFFF)
	return buf
}

func (m *Manager) interfacesOf(t *StructType) []*StructType {
	var out []*StructType
	seen := make(map[string]bool)
	for s := t; s != nil; s = s.Super {
		for _, name := range s.interfaceNames {
			if seen[name] {
				continue
			}
			seen[name] = true
			if it, ok := m.types[name]; ok && it.Interface {
				out = append(out, it)
			}
		}
	}
	return out
}
