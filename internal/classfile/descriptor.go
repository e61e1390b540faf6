package classfile

import (
	"github.com/wasmlift/wasmlift/internal/diagnostics"
	"github.com/wasmlift/wasmlift/internal/ir"
)

// TypeOfDescriptor maps a JVM field descriptor to a target value type.
// boolean, byte, char, short and int all map to i32 per the source
// machine's computational type rules.
func TypeOfDescriptor(desc string) (ir.ValueType, error) {
	if desc == "" {
		return ir.NoType, diagnostics.NewError(diagnostics.ErrL002, "empty type descriptor")
	}
	switch desc[0] {
	case 'Z', 'B', 'C', 'S', 'I':
		return ir.I32, nil
	case 'J':
		return ir.I64, nil
	case 'F':
		return ir.F32, nil
	case 'D':
		return ir.F64, nil
	case 'L', '[':
		return ir.AnyRef, nil
	case 'V':
		return ir.NoType, nil
	default:
		return ir.NoType, diagnostics.NewError(diagnostics.ErrL002, "bad type descriptor %q", desc)
	}
}

// MethodSignature is a parsed method descriptor.
type MethodSignature struct {
	// ParamDescriptors are the raw JVM descriptors, one per parameter.
	ParamDescriptors []string
	Params           []ir.ValueType
	// Result is NoType for void methods.
	Result ir.ValueType
}

// ParseMethodDescriptor splits "(IJLjava/lang/String;)V" into parameter and
// return types.
func ParseMethodDescriptor(desc string) (*MethodSignature, error) {
	if len(desc) < 3 || desc[0] != '(' {
		return nil, diagnostics.NewError(diagnostics.ErrL002, "bad method descriptor %q", desc)
	}
	sig := &MethodSignature{}
	i := 1
	for i < len(desc) && desc[i] != ')' {
		start := i
		for desc[i] == '[' {
			i++
			if i >= len(desc) {
				return nil, diagnostics.NewError(diagnostics.ErrL002, "bad method descriptor %q", desc)
			}
		}
		if desc[i] == 'L' {
			for i < len(desc) && desc[i] != ';' {
				i++
			}
		}
		if i >= len(desc) {
			return nil, diagnostics.NewError(diagnostics.ErrL002, "bad method descriptor %q", desc)
		}
		i++
		raw := desc[start:i]
		t, err := TypeOfDescriptor(raw)
		if err != nil {
			return nil, err
		}
		sig.ParamDescriptors = append(sig.ParamDescriptors, raw)
		sig.Params = append(sig.Params, t)
	}
	if i >= len(desc)-1 {
		return nil, diagnostics.NewError(diagnostics.ErrL002, "bad method descriptor %q", desc)
	}
	result, err := TypeOfDescriptor(desc[i+1:])
	if err != nil {
		return nil, err
	}
	sig.Result = result
	return sig, nil
}
