// Package classfile reads the subset of the JVM class file format the
// compiler consumes: constant pool, fields, methods with their Code
// attribute, local variable and line number debug tables, and string-valued
// annotations used for import/export/replacement wiring.
package classfile

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Constant pool tags.
const (
	tagUtf8               = 1
	tagInteger            = 3
	tagFloat              = 4
	tagLong               = 5
	tagDouble             = 6
	tagClass              = 7
	tagString             = 8
	tagFieldRef           = 9
	tagMethodRef          = 10
	tagInterfaceMethodRef = 11
	tagNameAndType        = 12
	tagMethodHandle       = 15
	tagMethodType         = 16
	tagInvokeDynamic      = 18
)

// MemberRef is a resolved field or method reference.
type MemberRef struct {
	ClassName  string
	Name       string
	Descriptor string
	// Interface is true for references through an interface type.
	Interface bool
}

// ConstantPool holds the decoded pool. Entries are stored decoded (Go
// values) so the rest of the compiler never sees raw indices.
type ConstantPool struct {
	entries []interface{}
}

type classRef struct{ nameIndex uint16 }
type stringRef struct{ utf8Index uint16 }
type nameAndType struct{ nameIndex, descIndex uint16 }
type memberRefRaw struct {
	classIndex, natIndex uint16
	iface                bool
}

func readConstantPool(data []byte, pos int) (*ConstantPool, int, error) {
	if pos+2 > len(data) {
		return nil, 0, fmt.Errorf("truncated constant pool count")
	}
	count := int(binary.BigEndian.Uint16(data[pos:]))
	pos += 2

	cp := &ConstantPool{entries: make([]interface{}, count)}
	for i := 1; i < count; i++ {
		if pos >= len(data) {
			return nil, 0, fmt.Errorf("truncated constant pool entry %d", i)
		}
		tag := data[pos]
		pos++
		switch tag {
		case tagUtf8:
			length := int(binary.BigEndian.Uint16(data[pos:]))
			pos += 2
			cp.entries[i] = string(data[pos : pos+length])
			pos += length
		case tagInteger:
			cp.entries[i] = int32(binary.BigEndian.Uint32(data[pos:]))
			pos += 4
		case tagFloat:
			cp.entries[i] = math.Float32frombits(binary.BigEndian.Uint32(data[pos:]))
			pos += 4
		case tagLong:
			cp.entries[i] = int64(binary.BigEndian.Uint64(data[pos:]))
			pos += 8
			i++ // wide entries take two pool slots
		case tagDouble:
			cp.entries[i] = math.Float64frombits(binary.BigEndian.Uint64(data[pos:]))
			pos += 8
			i++
		case tagClass:
			cp.entries[i] = classRef{binary.BigEndian.Uint16(data[pos:])}
			pos += 2
		case tagString:
			cp.entries[i] = stringRef{binary.BigEndian.Uint16(data[pos:])}
			pos += 2
		case tagFieldRef, tagMethodRef, tagInterfaceMethodRef:
			cp.entries[i] = memberRefRaw{
				classIndex: binary.BigEndian.Uint16(data[pos:]),
				natIndex:   binary.BigEndian.Uint16(data[pos+2:]),
				iface:      tag == tagInterfaceMethodRef,
			}
			pos += 4
		case tagNameAndType:
			cp.entries[i] = nameAndType{
				nameIndex: binary.BigEndian.Uint16(data[pos:]),
				descIndex: binary.BigEndian.Uint16(data[pos+2:]),
			}
			pos += 4
		case tagMethodHandle:
			pos += 3
		case tagMethodType:
			pos += 2
		case tagInvokeDynamic:
			pos += 4
		default:
			return nil, 0, fmt.Errorf("unknown constant pool tag %d at entry %d", tag, i)
		}
	}
	return cp, pos, nil
}

// Utf8 returns the string at index.
func (cp *ConstantPool) Utf8(index uint16) string {
	if int(index) >= len(cp.entries) {
		return ""
	}
	s, _ := cp.entries[index].(string)
	return s
}

// ClassName resolves a CONSTANT_Class entry to its internal name
// ("java/lang/Object").
func (cp *ConstantPool) ClassName(index uint16) string {
	if int(index) >= len(cp.entries) {
		return ""
	}
	if ref, ok := cp.entries[index].(classRef); ok {
		return cp.Utf8(ref.nameIndex)
	}
	return ""
}

// Member resolves a field/method reference entry.
func (cp *ConstantPool) Member(index uint16) (MemberRef, bool) {
	if int(index) >= len(cp.entries) {
		return MemberRef{}, false
	}
	raw, ok := cp.entries[index].(memberRefRaw)
	if !ok {
		return MemberRef{}, false
	}
	nat, ok := cp.entries[raw.natIndex].(nameAndType)
	if !ok {
		return MemberRef{}, false
	}
	return MemberRef{
		ClassName:  cp.ClassName(raw.classIndex),
		Name:       cp.Utf8(nat.nameIndex),
		Descriptor: cp.Utf8(nat.descIndex),
		Interface:  raw.iface,
	}, true
}

// ClassConst marks an ldc operand that is a class literal rather than a
// string literal; the value is the internal class name.
type ClassConst string

// Constant returns a loadable constant (ldc operand): int32, int64,
// float32, float64, string or ClassConst.
func (cp *ConstantPool) Constant(index uint16) (interface{}, bool) {
	if int(index) >= len(cp.entries) {
		return nil, false
	}
	switch v := cp.entries[index].(type) {
	case int32, int64, float32, float64:
		return v, true
	case stringRef:
		return cp.Utf8(v.utf8Index), true
	case classRef:
		return ClassConst(cp.Utf8(v.nameIndex)), true
	}
	return nil, false
}
