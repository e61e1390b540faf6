package registry

import (
	"github.com/wasmlift/wasmlift/internal/classfile"
	"github.com/wasmlift/wasmlift/internal/diagnostics"
	"github.com/wasmlift/wasmlift/internal/ir"
)

// State is the lifecycle of one function. Transitions are monotonic: a
// function never moves backward.
type State int

const (
	StateNone State = iota
	StateNeeded
	StateScanned
	StateWritten
)

func (s State) String() string {
	switch s {
	case StateNeeded:
		return "needed"
	case StateScanned:
		return "scanned"
	case StateWritten:
		return "written"
	default:
		return "none"
	}
}

// SyntheticFunction is a compiler-generated callable with no class-file
// counterpart, e.g. the interface dispatch helper or the start function.
type SyntheticFunction interface {
	Name() FuncName
	Signature() ir.FuncSig
	// Locals are the non-parameter locals the body uses.
	Locals() []ir.ValueType
	// Build produces the function body. It is called once, during the
	// write phase, when all types are known.
	Build() ([]ir.Instruction, error)
}

// entry is the per-function state record. Created lazily on first
// reference, never destroyed.
type entry struct {
	name  FuncName
	state State

	needThis bool

	// alias redirects to an inherited implementation; an aliased
	// function is immediately Written since no code is emitted for it.
	alias *FuncName

	importModule string
	importName   string

	replacement *classfile.Method
	synthetic   SyntheticFunction

	vtableSlot int
}

// Manager owns all function lifecycle state for one compilation run.
type Manager struct {
	entries map[string]*entry
	// order preserves first-reference order so the scan and write loops
	// are deterministic.
	order []*entry

	sealed   bool
	observer func(FuncName, bool)
}

// NewManager creates an empty registry.
func NewManager() *Manager {
	return &Manager{entries: make(map[string]*entry)}
}

func (m *Manager) get(name FuncName) *entry {
	key := name.UniqueName()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{name: name, vtableSlot: -1}
		m.entries[key] = e
		m.order = append(m.order, e)
	}
	return e
}

// PrepareFinish seals the registry: any later attempt to need a new
// function is a fatal internal error, because the write phase can no longer
// pick it up.
func (m *Manager) PrepareFinish() { m.sealed = true }

// Observe installs a callback invoked on every MarkAsNeeded call. The scan
// cache journals a method's discoveries through it. Returns the previous
// callback so callers can restore it.
func (m *Manager) Observe(fn func(FuncName, bool)) func(FuncName, bool) {
	prev := m.observer
	m.observer = fn
	return prev
}

// MarkAsNeeded records that the function must be compiled. needThis marks
// instance calls so the receiver parameter is added to the signature.
func (m *Manager) MarkAsNeeded(name FuncName, needThis bool) error {
	if m.observer != nil {
		m.observer(name, needThis)
	}
	e := m.get(name)
	if e.state >= StateNeeded {
		if needThis {
			e.needThis = true
		}
		return nil
	}
	if m.sealed {
		return diagnostics.NewError(diagnostics.ErrC005,
			"function %s needed after prepare finished", name.FullName())
	}
	e.state = StateNeeded
	if needThis {
		e.needThis = true
	}
	return nil
}

// MarkAsScanned moves the function forward to Scanned. Idempotent; never
// regresses.
func (m *Manager) MarkAsScanned(name FuncName) {
	e := m.get(name)
	if e.state < StateScanned {
		e.state = StateScanned
	}
}

// MarkAsWritten moves the function forward to Written. Idempotent; never
// regresses.
func (m *Manager) MarkAsWritten(name FuncName) {
	e := m.get(name)
	if e.state < StateWritten {
		e.state = StateWritten
	}
}

// State reports the current lifecycle state.
func (m *Manager) State(name FuncName) State {
	if e, ok := m.entries[name.UniqueName()]; ok {
		return e.state
	}
	return StateNone
}

// NeedThis reports whether the function was ever referenced as an instance
// call.
func (m *Manager) NeedThis(name FuncName) bool {
	if e, ok := m.entries[name.UniqueName()]; ok {
		return e.needThis
	}
	return false
}

// SetAlias redirects name to an inherited implementation and marks it
// Written; no duplicate code is emitted for inherited methods.
func (m *Manager) SetAlias(name, target FuncName) {
	e := m.get(name)
	t := target
	e.alias = &t
	if e.state < StateWritten {
		e.state = StateWritten
	}
	// the target now has to exist
	_ = m.get(target)
}

// Alias resolves a name through its alias chain to the function whose code
// is actually emitted.
func (m *Manager) Alias(name FuncName) FuncName {
	e := m.get(name)
	for e.alias != nil {
		e = m.get(*e.alias)
	}
	return e.name
}

// AddReplacement registers a replacement implementation for name. The first
// registration wins; later ones are silently ignored, which makes the
// build-path ordering the deciding factor.
func (m *Manager) AddReplacement(name FuncName, method *classfile.Method) {
	e := m.get(name)
	if e.replacement == nil {
		e.replacement = method
	}
}

// Replacement returns the replacement body, if any.
func (m *Manager) Replacement(name FuncName) *classfile.Method {
	return m.get(name).replacement
}

// AddSynthetic registers a compiler-generated function body. First
// registration wins, mirroring replacements.
func (m *Manager) AddSynthetic(fn SyntheticFunction) {
	e := m.get(fn.Name())
	if e.synthetic == nil {
		e.synthetic = fn
	}
}

// Synthetic returns the synthetic body, if any.
func (m *Manager) Synthetic(name FuncName) SyntheticFunction {
	return m.get(name).synthetic
}

// MarkAsImport binds the function to an externally supplied implementation.
// The binding only takes effect when the function later becomes Needed;
// imports for unused functions are never emitted.
func (m *Manager) MarkAsImport(name FuncName, module, field string) {
	e := m.get(name)
	e.importModule = module
	e.importName = field
}

// Import returns the import binding and whether one is set.
func (m *Manager) Import(name FuncName) (module, field string, ok bool) {
	e := m.get(name)
	return e.importModule, e.importName, e.importModule != ""
}

// SetVTableSlot records the virtual dispatch slot resolved for the
// function.
func (m *Manager) SetVTableSlot(name FuncName, slot int) {
	m.get(name).vtableSlot = slot
}

// VTableSlot returns the resolved dispatch slot, -1 if none.
func (m *Manager) VTableSlot(name FuncName) int {
	if e, ok := m.entries[name.UniqueName()]; ok {
		return e.vtableSlot
	}
	return -1
}

// NextNeeded returns a function that is Needed but not yet Scanned, in
// first-reference order. ok is false when the scan queue is empty.
func (m *Manager) NextNeeded() (FuncName, bool) {
	for _, e := range m.order {
		if e.state == StateNeeded {
			return e.name, true
		}
	}
	return FuncName{}, false
}

// NextScanned returns a function that is Scanned but not yet Written, in
// first-reference order. ok is false when the write queue is empty.
func (m *Manager) NextScanned() (FuncName, bool) {
	for _, e := range m.order {
		if e.state == StateScanned {
			return e.name, true
		}
	}
	return FuncName{}, false
}

// Needed lists every function that reached at least the Needed state, in
// first-reference order. The static-initializer scheduler uses it to find
// pending class initializers.
func (m *Manager) Needed() []FuncName {
	var out []FuncName
	for _, e := range m.order {
		if e.state >= StateNeeded {
			out = append(out, e.name)
		}
	}
	return out
}
