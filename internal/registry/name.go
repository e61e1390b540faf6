// Package registry tracks the lifecycle of every function a compilation run
// touches: needed, scanned, written. It is single-writer (the scan/write
// driving loop) and lives exactly as long as one compilation run.
package registry

import (
	"github.com/wasmlift/wasmlift/internal/classfile"
	"github.com/wasmlift/wasmlift/internal/ir"
)

// FuncName identifies a callable unit. Equality and hashing are by the
// signature-qualified name only, so a synthetic replacement compares equal
// to the real function it replaces.
type FuncName struct {
	ClassName  string
	MethodName string
	Descriptor string
}

// NewFuncName builds an identity from its parts.
func NewFuncName(className, methodName, descriptor string) FuncName {
	return FuncName{ClassName: className, MethodName: methodName, Descriptor: descriptor}
}

// FullName is "Class.method", used in diagnostics.
func (n FuncName) FullName() string {
	return n.ClassName + "." + n.MethodName
}

// UniqueName is the signature-qualified name used for identity.
func (n FuncName) UniqueName() string {
	return n.FullName() + n.Descriptor
}

// Signature resolves the callable's target-side signature. needThis adds
// the receiver as a leading reference parameter.
func (n FuncName) Signature(needThis bool) (ir.FuncSig, error) {
	parsed, err := classfile.ParseMethodDescriptor(n.Descriptor)
	if err != nil {
		return ir.FuncSig{}, err
	}
	sig := ir.FuncSig{Name: n.UniqueName(), NeedThis: needThis}
	sig.Params = parsed.Params
	if parsed.Result != ir.NoType {
		sig.Results = []ir.ValueType{parsed.Result}
	}
	return sig, nil
}
