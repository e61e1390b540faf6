package compiler

import (
	"encoding/binary"

	"github.com/wasmlift/wasmlift/internal/ir"
)

// StringBase is the linear-memory address of the first interned string. The
// low addresses stay unused so that a zero reference never collides with
// real data.
const StringBase = 8

// StringPool interns string literals into one data segment. Each entry is a
// u32 length followed by the raw bytes; the returned offset points at the
// length word.
//
// Offsets are stable across the two compilation phases: the write phase
// replays the same method bodies in the same order, so every Intern call
// after the scan is a lookup hit.
type StringPool struct {
	offsets  map[string]int
	byOffset map[int]string
	data     []byte

	observer func(string)
}

func NewStringPool() *StringPool {
	return &StringPool{
		offsets:  make(map[string]int),
		byOffset: make(map[int]string),
	}
}

// Observe installs a callback invoked for every newly interned string, in
// intern order. Returns the previous callback.
func (p *StringPool) Observe(fn func(string)) func(string) {
	prev := p.observer
	p.observer = fn
	return prev
}

// Intern returns the data-section address of s, adding it on first use.
func (p *StringPool) Intern(s string) int {
	if off, ok := p.offsets[s]; ok {
		return off
	}
	if p.observer != nil {
		p.observer(s)
	}
	off := StringBase + len(p.data)
	p.offsets[s] = off
	p.byOffset[off] = s

	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(s)))
	p.data = append(p.data, header[:]...)
	p.data = append(p.data, s...)
	return off
}

// Lookup resolves an interned offset back to its string. The intrinsic
// rewrites use it to read literal arguments out of constant instructions.
func (p *StringPool) Lookup(offset int) (string, bool) {
	s, ok := p.byOffset[offset]
	return s, ok
}

// Data is the rendered segment.
func (p *StringPool) Data() []byte { return p.data }

// Global is one module global. Static fields become one global each, named
// "Class.field".
type Global struct {
	Name string
	Type ir.ValueType
}

// GlobalPool collects the globals the compiled methods touch, in first-use
// order.
type GlobalPool struct {
	order []Global
	seen  map[string]bool

	observer func(string, ir.ValueType)
}

func NewGlobalPool() *GlobalPool {
	return &GlobalPool{seen: make(map[string]bool)}
}

// Observe installs a callback invoked for every newly used global. Returns
// the previous callback.
func (p *GlobalPool) Observe(fn func(string, ir.ValueType)) func(string, ir.ValueType) {
	prev := p.observer
	p.observer = fn
	return prev
}

// Use records a global access.
func (p *GlobalPool) Use(name string, t ir.ValueType) {
	if p.seen[name] {
		return
	}
	if p.observer != nil {
		p.observer(name, t)
	}
	p.seen[name] = true
	p.order = append(p.order, Global{Name: name, Type: t})
}

// Globals lists the used globals in first-use order.
func (p *GlobalPool) Globals() []Global { return p.order }
