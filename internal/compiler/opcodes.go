package compiler

// Source bytecode opcodes. Only the names the compiler dispatches on are
// listed; contiguous families are addressed relative to their first member.
const (
	opNop        = 0x00
	opAConstNull = 0x01
	opIConstM1   = 0x02
	opIConst0    = 0x03
	opIConst5    = 0x08
	opLConst0    = 0x09
	opLConst1    = 0x0a
	opFConst0    = 0x0b
	opFConst2    = 0x0d
	opDConst0    = 0x0e
	opDConst1    = 0x0f
	opBIPush     = 0x10
	opSIPush     = 0x11
	opLdc        = 0x12
	opLdcW       = 0x13
	opLdc2W      = 0x14

	opILoad  = 0x15
	opALoad  = 0x19
	opILoad0 = 0x1a
	opALoad3 = 0x2d

	opIALoad = 0x2e
	opSALoad = 0x35

	opIStore  = 0x36
	opAStore  = 0x3a
	opIStore0 = 0x3b
	opAStore3 = 0x4e

	opIAStore = 0x4f
	opSAStore = 0x56

	opPop    = 0x57
	opPop2   = 0x58
	opDup    = 0x59
	opDupX1  = 0x5a
	opDupX2  = 0x5b
	opDup2   = 0x5c
	opDup2X1 = 0x5d
	opDup2X2 = 0x5e
	opSwap   = 0x5f

	opIAdd = 0x60
	opDNeg = 0x77
	opIShl = 0x78
	opLXor = 0x83
	opIInc = 0x84

	opI2L = 0x85
	opI2S = 0x93

	opLCmp  = 0x94
	opFCmpL = 0x95
	opFCmpG = 0x96
	opDCmpL = 0x97
	opDCmpG = 0x98

	opIfEq     = 0x99
	opIfLe     = 0x9e
	opIfICmpEq = 0x9f
	opIfICmpLe = 0xa4
	opIfACmpEq = 0xa5
	opIfACmpNe = 0xa6
	opGoto     = 0xa7
	opJsr      = 0xa8
	opRet      = 0xa9

	opTableSwitch  = 0xaa
	opLookupSwitch = 0xab

	opIReturn = 0xac
	opAReturn = 0xb0
	opReturn  = 0xb1

	opGetStatic = 0xb2
	opPutStatic = 0xb3
	opGetField  = 0xb4
	opPutField  = 0xb5

	opInvokeVirtual   = 0xb6
	opInvokeSpecial   = 0xb7
	opInvokeStatic    = 0xb8
	opInvokeInterface = 0xb9
	opInvokeDynamic   = 0xba

	opNew            = 0xbb
	opNewArray       = 0xbc
	opANewArray      = 0xbd
	opArrayLength    = 0xbe
	opAThrow         = 0xbf
	opCheckCast      = 0xc0
	opInstanceOf     = 0xc1
	opMonitorEnter   = 0xc2
	opMonitorExit    = 0xc3
	opWide           = 0xc4
	opMultiANewArray = 0xc5
	opIfNull         = 0xc6
	opIfNonNull      = 0xc7
	opGotoW          = 0xc8
	opJsrW           = 0xc9
)

// codeReader is a cursor over one method's code bytes. Multi-byte operands
// are big-endian.
type codeReader struct {
	code []byte
	pos  int
}

func (r *codeReader) more() bool { return r.pos < len(r.code) }

func (r *codeReader) u8() int {
	v := int(r.code[r.pos])
	r.pos++
	return v
}

func (r *codeReader) s8() int {
	v := int(int8(r.code[r.pos]))
	r.pos++
	return v
}

func (r *codeReader) u16() int {
	v := int(r.code[r.pos])<<8 | int(r.code[r.pos+1])
	r.pos += 2
	return v
}

func (r *codeReader) s16() int {
	return int(int16(r.u16()))
}

func (r *codeReader) s32() int {
	v := uint32(r.code[r.pos])<<24 | uint32(r.code[r.pos+1])<<16 |
		uint32(r.code[r.pos+2])<<8 | uint32(r.code[r.pos+3])
	r.pos += 4
	return int(int32(v))
}

// index reads a one-byte local variable index.
func (r *codeReader) index() int { return r.u8() }

// align4 skips the padding that aligns switch payloads to a four-byte
// boundary relative to the code start.
func (r *codeReader) align4() {
	for r.pos%4 != 0 {
		r.pos++
	}
}
