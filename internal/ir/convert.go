package ir

// ConvertOp is a numeric conversion between value domains, or a narrowing
// within i32.
type ConvertOp int

const (
	ConvI2L ConvertOp = iota
	ConvI2F
	ConvI2D
	ConvL2I
	ConvL2F
	ConvL2D
	ConvF2I
	ConvF2L
	ConvF2D
	ConvD2I
	ConvD2L
	ConvD2F
	// Narrowing conversions stay in the i32 domain.
	ConvI2B
	ConvI2C
	ConvI2S
)

var convertSpec = map[ConvertOp]struct {
	from, to ValueType
	name     string
}{
	ConvI2L: {I32, I64, "i64.extend_i32_s"},
	ConvI2F: {I32, F32, "f32.convert_i32_s"},
	ConvI2D: {I32, F64, "f64.convert_i32_s"},
	ConvL2I: {I64, I32, "i32.wrap_i64"},
	ConvL2F: {I64, F32, "f32.convert_i64_s"},
	ConvL2D: {I64, F64, "f64.convert_i64_s"},
	ConvF2I: {F32, I32, "i32.trunc_sat_f32_s"},
	ConvF2L: {F32, I64, "i64.trunc_sat_f32_s"},
	ConvF2D: {F32, F64, "f64.promote_f32"},
	ConvD2I: {F64, I32, "i32.trunc_sat_f64_s"},
	ConvD2L: {F64, I64, "i64.trunc_sat_f64_s"},
	ConvD2F: {F64, F32, "f32.demote_f64"},
	ConvI2B: {I32, I32, "i32.extend8_s"},
	ConvI2C: {I32, I32, "i32.and"}, // masked to 16 bits by the writer
	ConvI2S: {I32, I32, "i32.extend16_s"},
}

// From is the operand type of the conversion.
func (op ConvertOp) From() ValueType { return convertSpec[op].from }

// To is the result type of the conversion.
func (op ConvertOp) To() ValueType { return convertSpec[op].to }

func (op ConvertOp) String() string { return convertSpec[op].name }

// ConvertInstruction converts the top of stack between value domains.
type ConvertInstruction struct {
	baseInstruction
	Op ConvertOp
}

func NewConvert(op ConvertOp, codePos, line int) *ConvertInstruction {
	return &ConvertInstruction{baseInstruction{codePos, line}, op}
}

func (i *ConvertInstruction) PopCount() int       { return 1 }
func (i *ConvertInstruction) PushType() ValueType { return i.Op.To() }

func (i *ConvertInstruction) Render(w ModuleWriter) error {
	return w.WriteConvert(i.Op)
}
