package compiler

import (
	"github.com/wasmlift/wasmlift/internal/ir"
	"github.com/wasmlift/wasmlift/internal/registry"
)

// ClinitScheduler orders static initializers so that every class a static
// initializer reads from is initialized first. Cycles are broken by running
// the partner initializer inline at the first referencing instruction, so
// every initializer still runs exactly once.
type ClinitScheduler struct {
	classes []string
	deps    map[string][]string
	has     map[string]bool
}

func NewClinitScheduler() *ClinitScheduler {
	return &ClinitScheduler{
		deps: make(map[string][]string),
		has:  make(map[string]bool),
	}
}

// Add registers a class that has a static initializer, with the classes
// its initializer body references.
func (s *ClinitScheduler) Add(className string, refs []string) {
	if s.has[className] {
		return
	}
	s.has[className] = true
	s.classes = append(s.classes, className)
	s.deps[className] = refs
}

// Schedule computes the start-function call order. splices maps a class
// chosen to break a cycle to the classes whose initializers it must run
// inline; those classes do not appear in the order.
func (s *ClinitScheduler) Schedule() (order []string, splices map[string][]string) {
	done := make(map[string]bool)
	splices = make(map[string][]string)
	remaining := len(s.classes)

	for remaining > 0 {
		progressed := false
		for _, c := range s.classes {
			if done[c] {
				continue
			}
			ready := true
			for _, d := range s.deps[c] {
				if s.has[d] && !done[d] && d != c {
					ready = false
					break
				}
			}
			if ready {
				done[c] = true
				order = append(order, c)
				remaining--
				progressed = true
			}
		}
		if progressed {
			continue
		}
		// dependency cycle: the first remaining class runs its unmet
		// partners inline
		for _, c := range s.classes {
			if done[c] {
				continue
			}
			var unmet []string
			for _, d := range s.deps[c] {
				if s.has[d] && !done[d] && d != c {
					unmet = append(unmet, d)
				}
			}
			done[c] = true
			order = append(order, c)
			remaining--
			splices[c] = unmet
			for _, d := range unmet {
				done[d] = true
				remaining--
			}
			break
		}
	}
	return order, splices
}

// ClinitName is the registry identity of a class's static initializer.
func ClinitName(className string) registry.FuncName {
	return registry.NewFuncName(className, "<clinit>", "()V")
}

// StartFunction is the synthetic module entry that runs the scheduled
// static initializers. It is exported under the conventional reactor
// initializer name.
type StartFunction struct {
	Calls []registry.FuncName
}

// StartExportName is the export the embedder invokes before any other
// function.
const StartExportName = "_initialize"

func (s *StartFunction) Name() registry.FuncName {
	return registry.NewFuncName("wasmlift/Module", "start", "()V")
}

func (s *StartFunction) Signature() ir.FuncSig {
	sig, _ := s.Name().Signature(false)
	return sig
}

func (s *StartFunction) Locals() []ir.ValueType { return nil }

func (s *StartFunction) Build() ([]ir.Instruction, error) {
	var b []ir.Instruction
	for _, fn := range s.Calls {
		sig, err := fn.Signature(false)
		if err != nil {
			return nil, err
		}
		b = append(b, ir.NewCall(ir.CallDirect, sig, 0, 0))
	}
	b = append(b, ir.NewReturn(ir.NoType, 0, 0))
	return b, nil
}
