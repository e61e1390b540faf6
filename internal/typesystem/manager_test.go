package typesystem

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/wasmlift/wasmlift/internal/classfile"
	"github.com/wasmlift/wasmlift/internal/ir"
	"github.com/wasmlift/wasmlift/internal/registry"
)

// classBuilder assembles a minimal class file image for fixtures: constant
// pool, access flags, fields and method heads. No Code attributes; layout
// and dispatch only look at names, descriptors and flags.
type classBuilder struct {
	cp      [][]byte
	access  uint16
	this    uint16
	super   uint16
	ifaces  []uint16
	fields  [][]byte
	methods [][]byte
}

func be16(buf []byte, v uint16) []byte { return append(buf, byte(v>>8), byte(v)) }

func (b *classBuilder) utf8(s string) uint16 {
	e := []byte{1}
	e = be16(e, uint16(len(s)))
	e = append(e, s...)
	b.cp = append(b.cp, e)
	return uint16(len(b.cp))
}

func (b *classBuilder) class(name string) uint16 {
	n := b.utf8(name)
	e := be16([]byte{7}, n)
	b.cp = append(b.cp, e)
	return uint16(len(b.cp))
}

func (b *classBuilder) member(access uint16, name, desc string) []byte {
	var e []byte
	e = be16(e, access)
	e = be16(e, b.utf8(name))
	e = be16(e, b.utf8(desc))
	e = be16(e, 0) // no attributes
	return e
}

func (b *classBuilder) field(access uint16, name, desc string) {
	b.fields = append(b.fields, b.member(access, name, desc))
}

func (b *classBuilder) method(access uint16, name, desc string) {
	b.methods = append(b.methods, b.member(access, name, desc))
}

func (b *classBuilder) bytes() []byte {
	out := []byte{0xCA, 0xFE, 0xBA, 0xBE, 0x00, 0x00, 0x00, 0x34}
	out = be16(out, uint16(len(b.cp)+1))
	for _, e := range b.cp {
		out = append(out, e...)
	}
	out = be16(out, b.access)
	out = be16(out, b.this)
	out = be16(out, b.super)
	out = be16(out, uint16(len(b.ifaces)))
	for _, i := range b.ifaces {
		out = be16(out, i)
	}
	out = be16(out, uint16(len(b.fields)))
	for _, f := range b.fields {
		out = append(out, f...)
	}
	out = be16(out, uint16(len(b.methods)))
	for _, m := range b.methods {
		out = append(out, m...)
	}
	return be16(out, 0) // no class attributes
}

// writeFixtures builds a small hierarchy on disk:
//
//	interface Speaker { int speak(); }
//	class Animal implements Speaker { long weight; int age; int speak() }
//	class Dog extends Animal { int speak() (override); int fetch() }
func writeFixtures(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	speaker := &classBuilder{access: classfile.AccInterface | classfile.AccAbstract}
	speaker.this = speaker.class("Speaker")
	speaker.method(classfile.AccAbstract, "speak", "()I")

	animal := &classBuilder{}
	animal.this = animal.class("Animal")
	animal.ifaces = []uint16{animal.class("Speaker")}
	animal.field(0, "weight", "J")
	animal.field(0, "age", "I")
	animal.field(classfile.AccStatic, "population", "I")
	animal.method(0, "<init>", "()V")
	animal.method(0, "speak", "()I")
	animal.method(0x0002, "groom", "()V") // private
	animal.method(classfile.AccStatic, "census", "()I")

	dog := &classBuilder{}
	dog.this = dog.class("Dog")
	dog.super = dog.class("Animal")
	dog.method(0, "speak", "()I")
	dog.method(0, "fetch", "()I")

	for name, b := range map[string]*classBuilder{
		"Speaker": speaker, "Animal": animal, "Dog": dog,
	} {
		path := filepath.Join(dir, name+".class")
		if err := os.WriteFile(path, b.bytes(), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	loader, err := classfile.NewLoader([]string{writeFixtures(t)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { loader.Close() })
	return NewManager(loader)
}

func TestManager_FieldLayout(t *testing.T) {
	m := newTestManager(t)
	animal, err := m.UseType("Animal")
	if err != nil {
		t.Fatalf("UseType: %v", err)
	}

	// vtable pointer at 0, long aligned to 8, int packed after
	vt, ok := animal.FieldByName(".vtable")
	if !ok || vt.Offset != 0 {
		t.Errorf(".vtable = %+v, %v", vt, ok)
	}
	weight, ok := animal.FieldByName("weight")
	if !ok || weight.Offset != 8 || weight.Type != ir.I64 {
		t.Errorf("weight = %+v, %v", weight, ok)
	}
	age, ok := animal.FieldByName("age")
	if !ok || age.Offset != 16 || age.Type != ir.I32 {
		t.Errorf("age = %+v, %v", age, ok)
	}
	if animal.InstanceSize() != 20 {
		t.Errorf("instance size = %d, want 20", animal.InstanceSize())
	}
	if _, ok := animal.FieldByName("population"); ok {
		t.Error("static field laid out as an instance field")
	}
}

func TestManager_InheritedFields(t *testing.T) {
	m := newTestManager(t)
	dog, err := m.UseType("Dog")
	if err != nil {
		t.Fatalf("UseType: %v", err)
	}
	if dog.Super == nil || dog.Super.ClassName != "Animal" {
		t.Fatalf("super = %v", dog.Super)
	}
	weight, ok := dog.FieldByName("weight")
	if !ok || weight.Offset != 8 {
		t.Errorf("inherited weight = %+v, %v", weight, ok)
	}
	if dog.InstanceSize() != dog.Super.InstanceSize() {
		t.Errorf("Dog adds no fields but size = %d", dog.InstanceSize())
	}
	if !dog.IsAssignableTo(dog.Super) {
		t.Error("Dog not assignable to Animal")
	}
	if dog.Super.IsAssignableTo(dog) {
		t.Error("Animal assignable to Dog")
	}
}

func TestManager_MissingClass(t *testing.T) {
	m := newTestManager(t)
	typ, err := m.UseType("NoSuch")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if typ != nil {
		t.Errorf("UseType of an unresolvable class = %v, want nil", typ)
	}
}

func TestManager_ObserveJournalsRegistration(t *testing.T) {
	m := newTestManager(t)
	var seen []string
	m.Observe(func(name string) { seen = append(seen, name) })

	if _, err := m.UseType("Dog"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.UseType("Animal"); err != nil { // already registered
		t.Fatal(err)
	}

	want := []string{"Dog", "Animal", "Speaker"}
	if len(seen) != len(want) {
		t.Fatalf("journal = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("journal = %v, want %v", seen, want)
		}
	}
}

func TestManager_VTableLayout(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.UseType("Dog"); err != nil {
		t.Fatal(err)
	}
	reg := registry.NewManager()
	if _, err := m.FinishLayouts(reg); err != nil {
		t.Fatalf("FinishLayouts: %v", err)
	}

	animal, _ := m.Type("Animal")
	if len(animal.VTable) != 1 || animal.VTable[0].MethodName != "speak" {
		t.Fatalf("Animal vtable = %v, want only speak", animal.VTable)
	}

	dog, _ := m.Type("Dog")
	if len(dog.VTable) != 2 {
		t.Fatalf("Dog vtable = %v, want speak and fetch", dog.VTable)
	}
	if dog.VTable[0].ClassName != "Dog" || dog.VTable[0].MethodName != "speak" {
		t.Errorf("slot 0 = %v, want the override in the inherited slot", dog.VTable[0])
	}
	if dog.VTable[1].MethodName != "fetch" {
		t.Errorf("slot 1 = %v, want fetch appended", dog.VTable[1])
	}

	if slot, ok := m.VirtualSlot("Dog", "speak", "()I"); !ok || slot != 0 {
		t.Errorf("VirtualSlot(Dog.speak) = %d, %v", slot, ok)
	}
	if slot, ok := m.VirtualSlot("Dog", "fetch", "()I"); !ok || slot != 1 {
		t.Errorf("VirtualSlot(Dog.fetch) = %d, %v", slot, ok)
	}
	if _, ok := m.VirtualSlot("Animal", "groom", "()V"); ok {
		t.Error("private method got a virtual slot")
	}
	if _, ok := m.VirtualSlot("Animal", "census", "()I"); ok {
		t.Error("static method got a virtual slot")
	}
}

func TestManager_FinishMarksImplementationsNeeded(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.UseType("Dog"); err != nil {
		t.Fatal(err)
	}
	reg := registry.NewManager()
	added, err := m.FinishLayouts(reg)
	if err != nil {
		t.Fatal(err)
	}
	// Animal.speak, Dog.speak and Dog.fetch
	if added != 3 {
		t.Errorf("added = %d, want 3", added)
	}
	if st := reg.State(registry.NewFuncName("Dog", "fetch", "()I")); st < registry.StateNeeded {
		t.Errorf("Dog.fetch state = %v, want at least needed", st)
	}
}

func TestManager_IsOverridden(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.UseType("Dog"); err != nil {
		t.Fatal(err)
	}
	reg := registry.NewManager()
	if _, err := m.FinishLayouts(reg); err != nil {
		t.Fatal(err)
	}

	if !m.IsOverridden("Animal", "speak", "()I") {
		t.Error("speak has two implementations but reads as monomorphic")
	}
	if m.IsOverridden("Dog", "fetch", "()I") {
		t.Error("fetch has one implementation but reads as overridden")
	}
	// through the subtype the slot is unambiguous
	if m.IsOverridden("Dog", "speak", "()I") {
		t.Error("speak below Dog has one implementation but reads as overridden")
	}
}

func TestManager_VTableData(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.UseType("Dog"); err != nil {
		t.Fatal(err)
	}
	reg := registry.NewManager()
	if _, err := m.FinishLayouts(reg); err != nil {
		t.Fatal(err)
	}

	const base = 1024
	data := m.VTableData(base)

	// registration order: Dog (id + 2 slots), then Animal (id + 1 slot)
	if len(data) != 12+8 {
		t.Fatalf("data length = %d, want 20", len(data))
	}
	animal, _ := m.Type("Animal")
	dog, _ := m.Type("Dog")
	if dog.VTableOffset() != base {
		t.Errorf("Dog vtable offset = %d, want %d", dog.VTableOffset(), base)
	}
	if animal.VTableOffset() != base+12 {
		t.Errorf("Animal vtable offset = %d, want %d", animal.VTableOffset(), base+12)
	}
	if got := binary.LittleEndian.Uint32(data); got != uint32(dog.ID) {
		t.Errorf("Dog header = %d, want the class id %d", got, dog.ID)
	}

	// Dog's slot 0 points at Dog.speak's function table index
	wantIdx := m.tableIndex[registry.NewFuncName("Dog", "speak", "()I").UniqueName()]
	if got := binary.LittleEndian.Uint32(data[4:]); got != uint32(wantIdx) {
		t.Errorf("Dog slot 0 = %d, want %d", got, wantIdx)
	}
}

func TestManager_ITableData(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.UseType("Dog"); err != nil {
		t.Fatal(err)
	}
	reg := registry.NewManager()
	if _, err := m.FinishLayouts(reg); err != nil {
		t.Fatal(err)
	}

	data := m.ITableData(reg)
	if len(data)%4 != 0 || len(data) < 4 {
		t.Fatalf("data length = %d", len(data))
	}
	if got := binary.LittleEndian.Uint32(data[len(data)-4:]); got != 0xFFFFFFFF {
		t.Fatalf("missing sentinel, trailing word = %#x", got)
	}

	// Animal and Dog both implement Speaker.speak: two triples
	if want := 2*12 + 4; len(data) != want {
		t.Errorf("data length = %d, want %d", len(data), want)
	}
	methodID := m.InterfaceMethodID("Speaker", "speak", "()I")
	foundDog := false
	dog, _ := m.Type("Dog")
	for pos := 0; pos+12 <= len(data); pos += 12 {
		classID := binary.LittleEndian.Uint32(data[pos:])
		ifaceID := binary.LittleEndian.Uint32(data[pos+4:])
		if classID == uint32(dog.ID) && ifaceID == uint32(methodID) {
			foundDog = true
			idx := m.tableIndex[registry.NewFuncName("Dog", "speak", "()I").UniqueName()]
			if got := binary.LittleEndian.Uint32(data[pos+8:]); got != uint32(idx) {
				t.Errorf("Dog triple target = %d, want %d", got, idx)
			}
		}
	}
	if !foundDog {
		t.Error("no triple for Dog implementing Speaker.speak")
	}
}

func TestSlotOffset(t *testing.T) {
	if got := SlotOffset(0); got != VTableHeaderSize {
		t.Errorf("SlotOffset(0) = %d", got)
	}
	if got := SlotOffset(3); got != VTableHeaderSize+3*ir.PointerWidth {
		t.Errorf("SlotOffset(3) = %d", got)
	}
}
