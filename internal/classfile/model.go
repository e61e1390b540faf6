package classfile

// Access flags. Only the ones the compiler inspects are named.
const (
	AccStatic    = 0x0008
	AccFinal     = 0x0010
	AccNative    = 0x0100
	AccInterface = 0x0200
	AccAbstract  = 0x0400
)

// ClassFile is one parsed class.
type ClassFile struct {
	ThisClass  string
	SuperClass string // "" for java/lang/Object
	Interfaces []string
	AccessFlags uint16

	Fields  []*Field
	Methods []*Method

	// SourceFile is the compilation unit name for diagnostics.
	SourceFile string

	// Sum is the hex content hash of the class bytes; the incremental
	// cache keys scan results on it.
	Sum string

	// Annotations maps annotation type name ("org/wasmlift/api/Import")
	// to its string-valued elements.
	Annotations map[string]map[string]string

	pool *ConstantPool
}

// IsInterface reports whether the class is an interface.
func (c *ClassFile) IsInterface() bool { return c.AccessFlags&AccInterface != 0 }

// Method finds a declared method by name and descriptor.
func (c *ClassFile) Method(name, descriptor string) *Method {
	for _, m := range c.Methods {
		if m.Name == name && m.Descriptor == descriptor {
			return m
		}
	}
	return nil
}

// Pool exposes the constant pool for bytecode operand resolution.
func (c *ClassFile) Pool() *ConstantPool { return c.pool }

// Field is one declared field.
type Field struct {
	Name       string
	Descriptor string
	AccessFlags uint16
}

// IsStatic reports whether the field is a static (class) field.
func (f *Field) IsStatic() bool { return f.AccessFlags&AccStatic != 0 }

// Method is one declared method.
type Method struct {
	ClassName  string
	Name       string
	Descriptor string
	AccessFlags uint16

	// Code is nil for abstract and native methods.
	Code *CodeAttribute

	// Annotations maps annotation type name to string-valued elements.
	Annotations map[string]map[string]string
}

// IsStatic reports whether the method has no receiver.
func (m *Method) IsStatic() bool { return m.AccessFlags&AccStatic != 0 }

// IsFinal reports whether the method cannot be overridden.
func (m *Method) IsFinal() bool { return m.AccessFlags&AccFinal != 0 }

// IsAbstract reports whether the method has no body.
func (m *Method) IsAbstract() bool { return m.AccessFlags&AccAbstract != 0 }

// CodeAttribute is a method body.
type CodeAttribute struct {
	MaxStack  int
	MaxLocals int
	Code      []byte

	// LocalVariables is the debug table; nil when the class was compiled
	// without -g.
	LocalVariables []LocalVariable

	// LineNumbers maps code offsets to source lines, sorted by StartPC.
	LineNumbers []LineNumber
}

// LineForPC returns the source line covering the given code offset, 0 if
// the table is absent.
func (c *CodeAttribute) LineForPC(pc int) int {
	line := 0
	for _, ln := range c.LineNumbers {
		if ln.StartPC > pc {
			break
		}
		line = ln.Line
	}
	return line
}

// LocalVariable is one LocalVariableTable entry.
type LocalVariable struct {
	StartPC    int
	Length     int
	Name       string
	Descriptor string
	Slot       int
}

// LineNumber is one LineNumberTable entry.
type LineNumber struct {
	StartPC int
	Line    int
}
