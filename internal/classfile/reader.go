package classfile

import (
	"encoding/binary"
	"fmt"

	"github.com/wasmlift/wasmlift/internal/diagnostics"
)

const classMagic = 0xCAFEBABE

// Parse decodes a class file image.
func Parse(data []byte) (*ClassFile, error) {
	if len(data) < 10 || binary.BigEndian.Uint32(data) != classMagic {
		return nil, diagnostics.NewError(diagnostics.ErrL002, "not a class file")
	}
	major := binary.BigEndian.Uint16(data[6:])
	if major < 45 {
		return nil, diagnostics.NewError(diagnostics.ErrL003, "unsupported class file version %d", major)
	}

	pool, pos, err := readConstantPool(data, 8)
	if err != nil {
		return nil, diagnostics.WrapError(diagnostics.ErrL002, err, "bad constant pool")
	}

	r := &reader{data: data, pos: pos, pool: pool}
	cf := &ClassFile{pool: pool}
	cf.AccessFlags = r.u16()
	cf.ThisClass = pool.ClassName(r.u16())
	cf.SuperClass = pool.ClassName(r.u16())

	ifaceCount := int(r.u16())
	for i := 0; i < ifaceCount; i++ {
		cf.Interfaces = append(cf.Interfaces, pool.ClassName(r.u16()))
	}

	fieldCount := int(r.u16())
	for i := 0; i < fieldCount; i++ {
		f := &Field{}
		f.AccessFlags = r.u16()
		f.Name = pool.Utf8(r.u16())
		f.Descriptor = pool.Utf8(r.u16())
		r.skipAttributes()
		cf.Fields = append(cf.Fields, f)
	}

	methodCount := int(r.u16())
	for i := 0; i < methodCount; i++ {
		m := &Method{ClassName: cf.ThisClass}
		m.AccessFlags = r.u16()
		m.Name = pool.Utf8(r.u16())
		m.Descriptor = pool.Utf8(r.u16())
		if err := r.readMethodAttributes(m); err != nil {
			return nil, err
		}
		cf.Methods = append(cf.Methods, m)
	}

	if err := r.readClassAttributes(cf); err != nil {
		return nil, err
	}
	if r.err != nil {
		return nil, diagnostics.WrapError(diagnostics.ErrL002, r.err, "truncated class file")
	}
	return cf, nil
}

type reader struct {
	data []byte
	pos  int
	pool *ConstantPool
	err  error
}

func (r *reader) u8() uint8 {
	if r.pos+1 > len(r.data) {
		r.fail()
		return 0
	}
	v := r.data[r.pos]
	r.pos++
	return v
}

func (r *reader) u16() uint16 {
	if r.pos+2 > len(r.data) {
		r.fail()
		return 0
	}
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v
}

func (r *reader) u32() uint32 {
	if r.pos+4 > len(r.data) {
		r.fail()
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

func (r *reader) bytes(n int) []byte {
	if n < 0 || r.pos+n > len(r.data) {
		r.fail()
		return nil
	}
	v := r.data[r.pos : r.pos+n]
	r.pos += n
	return v
}

func (r *reader) fail() {
	if r.err == nil {
		r.err = fmt.Errorf("unexpected end of class file at offset %d", r.pos)
	}
	r.pos = len(r.data)
}

func (r *reader) skipAttributes() {
	count := int(r.u16())
	for i := 0; i < count; i++ {
		r.u16() // name
		length := int(r.u32())
		r.bytes(length)
	}
}

func (r *reader) readMethodAttributes(m *Method) error {
	count := int(r.u16())
	for i := 0; i < count; i++ {
		name := r.pool.Utf8(r.u16())
		length := int(r.u32())
		body := r.bytes(length)
		switch name {
		case "Code":
			code, err := r.readCode(body)
			if err != nil {
				return err
			}
			m.Code = code
		case "RuntimeVisibleAnnotations", "RuntimeInvisibleAnnotations":
			m.Annotations = mergeAnnotations(m.Annotations, r.parseAnnotations(body))
		}
	}
	return nil
}

func (r *reader) readClassAttributes(cf *ClassFile) error {
	count := int(r.u16())
	for i := 0; i < count; i++ {
		name := r.pool.Utf8(r.u16())
		length := int(r.u32())
		body := r.bytes(length)
		switch name {
		case "SourceFile":
			if len(body) >= 2 {
				cf.SourceFile = r.pool.Utf8(binary.BigEndian.Uint16(body))
			}
		case "RuntimeVisibleAnnotations", "RuntimeInvisibleAnnotations":
			cf.Annotations = mergeAnnotations(cf.Annotations, r.parseAnnotations(body))
		}
	}
	return nil
}

// readCode decodes a Code attribute, including its nested debug tables.
func (r *reader) readCode(body []byte) (*CodeAttribute, error) {
	cr := &reader{data: body, pool: r.pool}
	code := &CodeAttribute{
		MaxStack:  int(cr.u16()),
		MaxLocals: int(cr.u16()),
	}
	codeLen := int(cr.u32())
	code.Code = cr.bytes(codeLen)

	excCount := int(cr.u16())
	cr.bytes(excCount * 8) // exception table, unused by the core

	attrCount := int(cr.u16())
	for i := 0; i < attrCount; i++ {
		name := cr.pool.Utf8(cr.u16())
		length := int(cr.u32())
		attrBody := cr.bytes(length)
		switch name {
		case "LocalVariableTable":
			code.LocalVariables = parseLocalVariableTable(attrBody, cr.pool)
		case "LineNumberTable":
			code.LineNumbers = parseLineNumberTable(attrBody)
		}
	}
	if cr.err != nil {
		return nil, diagnostics.WrapError(diagnostics.ErrL002, cr.err, "truncated Code attribute")
	}
	return code, nil
}

func parseLocalVariableTable(body []byte, pool *ConstantPool) []LocalVariable {
	if len(body) < 2 {
		return nil
	}
	count := int(binary.BigEndian.Uint16(body))
	vars := make([]LocalVariable, 0, count)
	pos := 2
	for i := 0; i < count && pos+10 <= len(body); i++ {
		vars = append(vars, LocalVariable{
			StartPC:    int(binary.BigEndian.Uint16(body[pos:])),
			Length:     int(binary.BigEndian.Uint16(body[pos+2:])),
			Name:       pool.Utf8(binary.BigEndian.Uint16(body[pos+4:])),
			Descriptor: pool.Utf8(binary.BigEndian.Uint16(body[pos+6:])),
			Slot:       int(binary.BigEndian.Uint16(body[pos+8:])),
		})
		pos += 10
	}
	return vars
}

func parseLineNumberTable(body []byte) []LineNumber {
	if len(body) < 2 {
		return nil
	}
	count := int(binary.BigEndian.Uint16(body))
	lines := make([]LineNumber, 0, count)
	pos := 2
	for i := 0; i < count && pos+4 <= len(body); i++ {
		lines = append(lines, LineNumber{
			StartPC: int(binary.BigEndian.Uint16(body[pos:])),
			Line:    int(binary.BigEndian.Uint16(body[pos+2:])),
		})
		pos += 4
	}
	return lines
}

// parseAnnotations extracts annotations whose element values are string or
// class constants; everything else is ignored. That covers the wiring
// annotations (import module/name, export name, replacement target).
func (r *reader) parseAnnotations(body []byte) map[string]map[string]string {
	ar := &reader{data: body, pool: r.pool}
	count := int(ar.u16())
	out := make(map[string]map[string]string, count)
	for i := 0; i < count && ar.err == nil; i++ {
		typeName, elements := ar.parseAnnotation()
		if typeName != "" {
			out[typeName] = elements
		}
	}
	return out
}

func (r *reader) parseAnnotation() (string, map[string]string) {
	typeDesc := r.pool.Utf8(r.u16())
	pairCount := int(r.u16())
	elements := make(map[string]string, pairCount)
	for i := 0; i < pairCount && r.err == nil; i++ {
		name := r.pool.Utf8(r.u16())
		if value, ok := r.parseElementValue(); ok {
			elements[name] = value
		}
	}
	// "Lorg/wasmlift/api/Import;" -> "org/wasmlift/api/Import"
	if len(typeDesc) > 2 && typeDesc[0] == 'L' && typeDesc[len(typeDesc)-1] == ';' {
		typeDesc = typeDesc[1 : len(typeDesc)-1]
	}
	return typeDesc, elements
}

func (r *reader) parseElementValue() (string, bool) {
	tag := r.u8()
	switch tag {
	case 's', 'c':
		return r.pool.Utf8(r.u16()), true
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		r.u16()
		return "", false
	case 'e':
		r.u16()
		r.u16()
		return "", false
	case '@':
		r.parseAnnotation()
		return "", false
	case '[':
		n := int(r.u16())
		for i := 0; i < n && r.err == nil; i++ {
			r.parseElementValue()
		}
		return "", false
	default:
		r.fail()
		return "", false
	}
}

func mergeAnnotations(dst, src map[string]map[string]string) map[string]map[string]string {
	if dst == nil {
		return src
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
