// Package compiler turns parsed class-file method bodies into the target
// instruction model: it builds the per-method instruction list, recovers
// types with the stack inspector, structures branches, rewrites dynamic
// dispatch and drives the two-phase scan/write loop.
package compiler

import (
	"fmt"
	"sort"

	"github.com/wasmlift/wasmlift/internal/classfile"
	"github.com/wasmlift/wasmlift/internal/diagnostics"
	"github.com/wasmlift/wasmlift/internal/ir"
)

// Variable is one local-variable declaration mapped onto the dense target
// index space. Several variables may share a source slot when the source
// reused the slot for incompatible types; their [Start,End) ranges are then
// disjoint.
type Variable struct {
	SourceSlot int
	Type       ir.AnyType // nil until inferred
	Name       string
	Start      int // first covered code position
	End        int // exclusive
	Index      int // target index, assigned by Calculate

	param bool
	temp  bool
}

func (v *Variable) contains(pos int) bool {
	return pos >= v.Start && pos < v.End
}

func (v *Variable) distance(pos int) int {
	if v.contains(pos) {
		return 0
	}
	if pos < v.Start {
		return v.Start - pos
	}
	return pos - v.End + 1
}

// SubtypeResolver decides whether two tracked types are related and which
// is the more specific one. The type manager provides the real
// implementation; tests use a stub.
type SubtypeResolver func(a, b ir.AnyType) (ir.AnyType, bool)

// LocalVariableManager translates source slot numbers (with the two-slot
// convention for 8-byte values) into a dense target index space. One
// manager lives per method compilation.
type LocalVariableManager struct {
	vars    []*Variable
	codeEnd int
	strict  bool
	subtype SubtypeResolver

	paramCount int
	calculated bool
}

// NewLocalVariableManager creates a manager. strict enables hard type
// redefinition errors (the write phase); during scanning conflicts are
// tolerated because not all types are known yet.
func NewLocalVariableManager(strict bool, subtype SubtypeResolver) *LocalVariableManager {
	if subtype == nil {
		subtype = func(a, b ir.AnyType) (ir.AnyType, bool) { return nil, false }
	}
	return &LocalVariableManager{strict: strict, subtype: subtype}
}

// Reset initializes the table for one method. Parameter slots are laid out
// from the signature first (the target requires parameters to occupy the
// leading indices in declaration order); the debug table then contributes
// names and the extra declarations, merged by the range rules.
func (m *LocalVariableManager) Reset(sig *classfile.MethodSignature, isStatic bool, debug []classfile.LocalVariable, codeEnd int) {
	m.vars = m.vars[:0]
	m.codeEnd = codeEnd
	m.calculated = false

	slot := 0
	if !isStatic {
		m.vars = append(m.vars, &Variable{
			SourceSlot: 0, Type: ir.AnyRef, Name: "this",
			Start: 0, End: codeEnd, param: true,
		})
		slot = 1
	}
	for _, t := range sig.Params {
		m.vars = append(m.vars, &Variable{
			SourceSlot: slot, Type: t,
			Start: 0, End: codeEnd, param: true,
		})
		if t.IsWide() {
			slot += 2
		} else {
			slot++
		}
	}
	m.paramCount = len(m.vars)

	m.applyDebugTable(debug)
	m.dedupNames()
}

// applyDebugTable merges the LocalVariableTable entries: names onto the
// parameter entries, additional declarations as new variables with ranges
// expanded so every code position is covered.
func (m *LocalVariableManager) applyDebugTable(debug []classfile.LocalVariable) {
	entries := make([]classfile.LocalVariable, len(debug))
	copy(entries, debug)
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Slot != entries[j].Slot {
			return entries[i].Slot < entries[j].Slot
		}
		return entries[i].StartPC < entries[j].StartPC
	})

	for i := 0; i < len(entries); i++ {
		e := entries[i]
		t, err := classfile.TypeOfDescriptor(e.Descriptor)
		if err != nil {
			t = ir.NoType
		}

		if p := m.findParam(e.Slot); p != nil {
			if p.Name == "" {
				p.Name = e.Name
			}
			continue
		}

		start, end := e.StartPC, e.StartPC+e.Length

		// merge with the previous entry for the same slot when the
		// types match; keep distinct otherwise
		if n := len(m.vars); n > m.paramCount {
			prev := m.vars[n-1]
			if prev.SourceSlot == e.Slot && !prev.param {
				if prev.Type != nil && prev.Type.Primitive() == t {
					if end > prev.End {
						prev.End = end
					}
					continue
				}
				// type changed: previous entry fills the gap up
				// to this one
				prev.End = start
			}
		}

		v := &Variable{SourceSlot: e.Slot, Name: e.Name, Start: start, End: end}
		if t != ir.NoType {
			v.Type = t
		}
		// the first entry of a slot covers from the method start, the
		// last to the method end, so lookups never fall in a hole
		if !m.hasSlot(e.Slot) {
			v.Start = 0
		}
		if i+1 >= len(entries) || entries[i+1].Slot != e.Slot {
			v.End = m.codeEnd
		}
		m.vars = append(m.vars, v)
	}
}

func (m *LocalVariableManager) findParam(slot int) *Variable {
	for _, v := range m.vars[:m.paramCount] {
		if v.SourceSlot == slot {
			return v
		}
	}
	return nil
}

func (m *LocalVariableManager) hasSlot(slot int) bool {
	for _, v := range m.vars {
		if v.SourceSlot == slot {
			return true
		}
	}
	return false
}

// dedupNames appends a numeric suffix on display-name clashes. Names are
// debug only and never affect indices.
func (m *LocalVariableManager) dedupNames() {
	seen := make(map[string]int)
	for _, v := range m.vars {
		if v.Name == "" {
			continue
		}
		if n, ok := seen[v.Name]; ok {
			seen[v.Name] = n + 1
			v.Name = fmt.Sprintf("%s_%d", v.Name, n+1)
		} else {
			seen[v.Name] = 1
		}
	}
}

// Get returns the handle of the variable covering codePos for a source
// slot. When debug info and actual use sites disagree, the entry closest
// to codePos wins; it only fails when the slot is entirely unknown.
func (m *LocalVariableManager) Get(slot, codePos int) (int, error) {
	best := -1
	bestDist := 0
	for i, v := range m.vars {
		if v.SourceSlot != slot || v.temp {
			continue
		}
		d := v.distance(codePos)
		if d == 0 {
			return i, nil
		}
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return 0, diagnostics.NewError(diagnostics.ErrC004,
			"start position not found: no local variable for slot %d at %d", slot, codePos)
	}
	return best, nil
}

// Use records a typed access to a source slot and returns the variable
// handle. Unset types are adopted; related types keep the more specific
// one; an incompatible type on an open-ended range splits the entry to
// model slot reuse; anything else is a type redefinition, fatal once the
// compilation is past its tolerant scanning phase.
func (m *LocalVariableManager) Use(t ir.AnyType, slot, codePos int) (int, error) {
	handle, err := m.Get(slot, codePos)
	if err != nil {
		// a use-site for a slot the debug table never declared:
		// synthesize an untyped placeholder covering the method
		m.vars = append(m.vars, &Variable{SourceSlot: slot, Start: 0, End: m.codeEnd})
		handle = len(m.vars) - 1
	}
	v := m.vars[handle]

	switch {
	case v.Type == nil:
		v.Type = t
	case ir.SameType(v.Type, t):
		// nothing to do
	default:
		if specific, ok := m.subtype(v.Type, t); ok {
			v.Type = specific
			break
		}
		if v.End >= m.codeEnd && codePos > v.Start {
			// legitimate reuse with an incompatible type: close the
			// old range and open a new entry from here
			v.End = codePos
			nv := &Variable{SourceSlot: slot, Type: t, Start: codePos, End: m.codeEnd}
			m.vars = append(m.vars, nv)
			return len(m.vars) - 1, nil
		}
		if m.strict {
			return 0, diagnostics.NewError(diagnostics.ErrC003,
				"local variable %d redefined from %s to %s at position %d",
				slot, v.Type.Name(), t.Name(), codePos)
		}
	}
	return handle, nil
}

// GetTempVariable allocates a compiler temporary for [startPos, endPos).
// An existing temporary of the same type whose live range already ended is
// reused greedily; the result is deterministic and never overlaps a live
// use of the same target index with a different type.
func (m *LocalVariableManager) GetTempVariable(t ir.AnyType, startPos, endPos int) int {
	for i := len(m.vars) - 1; i >= 0; i-- {
		v := m.vars[i]
		if v.temp && ir.SameType(v.Type, t) && v.End <= startPos {
			v.End = endPos
			return i
		}
	}
	m.vars = append(m.vars, &Variable{
		SourceSlot: -1, Type: t, Start: startPos, End: endPos, temp: true,
	})
	return len(m.vars) - 1
}

// Calculate drops placeholders that never received a type and assigns the
// final dense indices. The resulting count is what the target signature
// declares.
func (m *LocalVariableManager) Calculate() {
	idx := 0
	for _, v := range m.vars {
		if v.Type == nil {
			v.Index = -1
			continue
		}
		v.Index = idx
		idx++
	}
	m.calculated = true
}

// TargetIndex resolves a handle to its final index. Calculate must have
// run.
func (m *LocalVariableManager) TargetIndex(handle int) int {
	return m.vars[handle].Index
}

// Variable exposes a handle's entry, mainly for rendering locals and for
// tests.
func (m *LocalVariableManager) Variable(handle int) *Variable {
	return m.vars[handle]
}

// Count is the number of variables that survived Calculate.
func (m *LocalVariableManager) Count() int {
	n := 0
	for _, v := range m.vars {
		if v.Index >= 0 {
			n++
		}
	}
	return n
}

// Params returns the leading parameter variables.
func (m *LocalVariableManager) Params() []*Variable {
	return m.vars[:m.paramCount]
}

// Locals returns the non-parameter variables that survived Calculate, in
// index order.
func (m *LocalVariableManager) Locals() []*Variable {
	var out []*Variable
	for _, v := range m.vars[m.paramCount:] {
		if v.Index >= 0 {
			out = append(out, v)
		}
	}
	return out
}
