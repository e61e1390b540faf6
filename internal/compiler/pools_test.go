package compiler

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/wasmlift/wasmlift/internal/ir"
)

func TestStringPool_InternLayout(t *testing.T) {
	p := NewStringPool()

	off1 := p.Intern("hello")
	off2 := p.Intern("wasm")
	if off1 != StringBase {
		t.Errorf("first offset = %d, want %d", off1, StringBase)
	}
	if want := StringBase + 4 + len("hello"); off2 != want {
		t.Errorf("second offset = %d, want %d", off2, want)
	}

	// repeated interning is a lookup hit
	if again := p.Intern("hello"); again != off1 {
		t.Errorf("re-intern = %d, want %d", again, off1)
	}

	data := p.Data()
	if len(data) != 4+len("hello")+4+len("wasm") {
		t.Fatalf("data length = %d", len(data))
	}
	if n := binary.LittleEndian.Uint32(data); n != uint32(len("hello")) {
		t.Errorf("first length header = %d", n)
	}
	if !bytes.Equal(data[4:9], []byte("hello")) {
		t.Errorf("first payload = %q", data[4:9])
	}
}

func TestStringPool_Lookup(t *testing.T) {
	p := NewStringPool()
	off := p.Intern("greeting")

	s, ok := p.Lookup(off)
	if !ok || s != "greeting" {
		t.Errorf("lookup = %q %v", s, ok)
	}
	if _, ok := p.Lookup(off + 1); ok {
		t.Error("lookup hit on a non-entry offset")
	}
}

func TestStringPool_ObserverSeesNewOnly(t *testing.T) {
	p := NewStringPool()
	var seen []string
	p.Observe(func(s string) { seen = append(seen, s) })

	p.Intern("a")
	p.Intern("b")
	p.Intern("a") // hit, not journaled

	if len(seen) != 2 || seen[0] != "a" || seen[1] != "b" {
		t.Errorf("observer journal = %v", seen)
	}
}

func TestGlobalPool_FirstUseOrder(t *testing.T) {
	p := NewGlobalPool()
	p.Use("A.counter", ir.I32)
	p.Use("B.total", ir.I64)
	p.Use("A.counter", ir.I32) // duplicate

	globals := p.Globals()
	if len(globals) != 2 {
		t.Fatalf("got %d globals, want 2", len(globals))
	}
	if globals[0].Name != "A.counter" || globals[0].Type != ir.I32 {
		t.Errorf("globals[0] = %+v", globals[0])
	}
	if globals[1].Name != "B.total" || globals[1].Type != ir.I64 {
		t.Errorf("globals[1] = %+v", globals[1])
	}
}

func TestGlobalPool_Observer(t *testing.T) {
	p := NewGlobalPool()
	var seen []string
	prev := p.Observe(func(name string, _ ir.ValueType) { seen = append(seen, name) })
	if prev != nil {
		t.Fatal("fresh pool already had an observer")
	}

	p.Use("A.x", ir.I32)
	p.Use("A.x", ir.I32)
	p.Observe(nil)
	p.Use("A.y", ir.I32)

	if len(seen) != 1 || seen[0] != "A.x" {
		t.Errorf("observer journal = %v", seen)
	}
}
