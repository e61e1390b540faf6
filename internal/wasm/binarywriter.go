package wasm

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/google/uuid"

	"github.com/wasmlift/wasmlift/internal/diagnostics"
	"github.com/wasmlift/wasmlift/internal/ir"
)

// Section ids of the container format.
const (
	secCustom   = 0
	secType     = 1
	secImport   = 2
	secFunction = 3
	secTable    = 4
	secMemory   = 5
	secGlobal   = 6
	secExport   = 7
	secElement  = 9
	secCode     = 10
	secData     = 11
)

// BinaryWriter serializes the module into the binary container format. It
// only supports the linear-memory mode; the reference-types instructions
// render in the text format only.
//
// Function indices are not final until every function has been written, so
// call sites encode their operand as a five-byte padded LEB128 and Finish
// patches the real index in place.
type BinaryWriter struct {
	out io.Writer

	types    [][]byte
	typeIdx  map[string]int
	imports  []byte
	nimports int

	funcIdx map[string]int
	funcs   []binFunc
	cur     *binFunc
	curSig  curSig

	globals    []byte
	nglobals   int
	globalIdx  map[string]int
	exports    []expEntry
	expGlobals []expGlobal

	tableSize  int
	elements   map[int]string
	datas      []dataEntry
	maxDataEnd int

	buildID uuid.UUID
}

type binFunc struct {
	typeIdx int
	locals  []localRun
	body    []byte
	relocs  []reloc
}

type localRun struct {
	vt    byte
	count int
}

// reloc marks a padded function index at body offset at that must be
// patched to the index of the named function.
type reloc struct {
	at   int
	name string
}

type expEntry struct {
	external string
	internal string
}

type expGlobal struct {
	name  string
	index int
}

type dataEntry struct {
	offset int
	data   []byte
}

func NewBinaryWriter(out io.Writer) *BinaryWriter {
	return &BinaryWriter{
		out:       out,
		typeIdx:   make(map[string]int),
		funcIdx:   make(map[string]int),
		globalIdx: make(map[string]int),
		elements:  make(map[int]string),
		buildID:   uuid.New(),
	}
}

// BuildID is the identifier stamped into the module's custom section.
func (w *BinaryWriter) BuildID() uuid.UUID { return w.buildID }

// valType lowers a value type to its binary encoding. Object references are
// linear-memory addresses.
func valType(t ir.ValueType) byte {
	switch t {
	case ir.I64:
		return 0x7E
	case ir.F32:
		return 0x7D
	case ir.F64:
		return 0x7C
	default:
		return 0x7F
	}
}

// sigType interns the function type of sig and returns its index.
func (w *BinaryWriter) sigType(sig ir.FuncSig) int {
	var enc []byte
	enc = append(enc, 0x60)
	n := len(sig.Params)
	if sig.NeedThis {
		n++
	}
	enc = appendULEB(enc, uint64(n))
	if sig.NeedThis {
		enc = append(enc, valType(ir.AnyRef))
	}
	for _, p := range sig.Params {
		enc = append(enc, valType(p))
	}
	enc = appendULEB(enc, uint64(len(sig.Results)))
	for _, r := range sig.Results {
		enc = append(enc, valType(r))
	}

	key := string(enc)
	if idx, ok := w.typeIdx[key]; ok {
		return idx
	}
	idx := len(w.types)
	w.typeIdx[key] = idx
	w.types = append(w.types, enc)
	return idx
}

func (w *BinaryWriter) WriteImport(module, name string, sig ir.FuncSig) error {
	w.imports = appendName(w.imports, module)
	w.imports = appendName(w.imports, name)
	w.imports = append(w.imports, 0x00)
	w.imports = appendULEB(w.imports, uint64(w.sigType(sig)))
	w.funcIdx[sig.Name] = w.nimports
	w.nimports++
	return nil
}

func (w *BinaryWriter) WriteExport(externalName, internalName string) error {
	w.exports = append(w.exports, expEntry{external: externalName, internal: internalName})
	return nil
}

func (w *BinaryWriter) WriteGlobalDecl(name string, t ir.ValueType, init int64, mutable bool) error {
	w.globals = append(w.globals, valType(t))
	if mutable {
		w.globals = append(w.globals, 0x01)
	} else {
		w.globals = append(w.globals, 0x00)
	}
	switch t {
	case ir.I64:
		w.globals = append(w.globals, 0x42)
		w.globals = appendSLEB(w.globals, init)
	case ir.F32:
		w.globals = append(w.globals, 0x43)
		w.globals = binary.LittleEndian.AppendUint32(w.globals, math.Float32bits(float32(init)))
	case ir.F64:
		w.globals = append(w.globals, 0x44)
		w.globals = binary.LittleEndian.AppendUint64(w.globals, math.Float64bits(float64(init)))
	default:
		w.globals = append(w.globals, 0x41)
		w.globals = appendSLEB(w.globals, init)
	}
	w.globals = append(w.globals, 0x0B)

	idx := w.nglobals
	w.nglobals++
	w.globalIdx[name] = idx
	if !mutable {
		// immutable globals are ABI constants; export them by name
		w.expGlobals = append(w.expGlobals, expGlobal{name: name, index: idx})
	}
	return nil
}

func (w *BinaryWriter) WriteDataSegment(offset int, data []byte) error {
	w.datas = append(w.datas, dataEntry{offset: offset, data: data})
	if end := offset + len(data); end > w.maxDataEnd {
		w.maxDataEnd = end
	}
	return nil
}

func (w *BinaryWriter) SetTableSize(size int) error {
	w.tableSize = size
	return nil
}

func (w *BinaryWriter) WriteElement(index int, funcName string) error {
	w.elements[index] = funcName
	return nil
}

func (w *BinaryWriter) StartFunction(name, sourceFile string) error {
	w.funcIdx[name] = w.nimports + len(w.funcs)
	w.cur = &binFunc{}
	w.curSig = curSig{}
	return nil
}

// curSig accumulates the parameter and result types between StartFunction
// and StartBody; the dedicated type index is only known once both are
// complete.
type curSig struct {
	params  []byte
	results []byte
}

func (w *BinaryWriter) WriteParam(t ir.ValueType, name string) error {
	w.curSig.params = append(w.curSig.params, valType(t))
	return nil
}

func (w *BinaryWriter) WriteResult(t ir.ValueType) error {
	w.curSig.results = append(w.curSig.results, valType(t))
	return nil
}

func (w *BinaryWriter) WriteLocal(t ir.ValueType, name string) error {
	vt := valType(t)
	if n := len(w.cur.locals); n > 0 && w.cur.locals[n-1].vt == vt {
		w.cur.locals[n-1].count++
		return nil
	}
	w.cur.locals = append(w.cur.locals, localRun{vt: vt, count: 1})
	return nil
}

func (w *BinaryWriter) StartBody() error {
	var enc []byte
	enc = append(enc, 0x60)
	enc = appendULEB(enc, uint64(len(w.curSig.params)))
	enc = append(enc, w.curSig.params...)
	enc = appendULEB(enc, uint64(len(w.curSig.results)))
	enc = append(enc, w.curSig.results...)

	key := string(enc)
	idx, ok := w.typeIdx[key]
	if !ok {
		idx = len(w.types)
		w.typeIdx[key] = idx
		w.types = append(w.types, enc)
	}
	w.cur.typeIdx = idx
	return nil
}

func (w *BinaryWriter) FinishFunction() error {
	w.funcs = append(w.funcs, *w.cur)
	w.cur = nil
	return nil
}

func (w *BinaryWriter) op(bytes ...byte) {
	w.cur.body = append(w.cur.body, bytes...)
}

func (w *BinaryWriter) WriteConstI32(v int32) error {
	w.op(0x41)
	w.cur.body = appendSLEB(w.cur.body, int64(v))
	return nil
}

func (w *BinaryWriter) WriteConstI64(v int64) error {
	w.op(0x42)
	w.cur.body = appendSLEB(w.cur.body, v)
	return nil
}

func (w *BinaryWriter) WriteConstF32(v float32) error {
	w.op(0x43)
	w.cur.body = binary.LittleEndian.AppendUint32(w.cur.body, math.Float32bits(v))
	return nil
}

func (w *BinaryWriter) WriteConstF64(v float64) error {
	w.op(0x44)
	w.cur.body = binary.LittleEndian.AppendUint64(w.cur.body, math.Float64bits(v))
	return nil
}

func (w *BinaryWriter) WriteConstNull() error {
	return w.WriteConstI32(0)
}

func (w *BinaryWriter) WriteLocalOp(op ir.LocalOp, index int) error {
	switch op {
	case ir.LocalGet:
		w.op(0x20)
	case ir.LocalSet:
		w.op(0x21)
	default:
		w.op(0x22)
	}
	w.cur.body = appendULEB(w.cur.body, uint64(index))
	return nil
}

func (w *BinaryWriter) WriteGlobalOp(load bool, name string, t ir.ValueType) error {
	idx, ok := w.globalIdx[name]
	if !ok {
		return diagnostics.NewError(diagnostics.ErrW001, "global %s was never declared", name)
	}
	if load {
		w.op(0x23)
	} else {
		w.op(0x24)
	}
	w.cur.body = appendULEB(w.cur.body, uint64(idx))
	return nil
}

// numericOpcodes maps (value domain, operation) to the instruction byte.
// Integer division, remainder, shift and ordering are signed.
var numericOpcodes = map[ir.ValueType]map[ir.NumericOp]byte{
	ir.I32: {
		ir.OpAdd: 0x6A, ir.OpSub: 0x6B, ir.OpMul: 0x6C, ir.OpDiv: 0x6D,
		ir.OpRem: 0x6F, ir.OpAnd: 0x71, ir.OpOr: 0x72, ir.OpXor: 0x73,
		ir.OpShl: 0x74, ir.OpShr: 0x75, ir.OpShrU: 0x76,
		ir.OpEq: 0x46, ir.OpNe: 0x47, ir.OpLt: 0x48, ir.OpGt: 0x4A,
		ir.OpLe: 0x4C, ir.OpGe: 0x4E,
	},
	ir.I64: {
		ir.OpAdd: 0x7C, ir.OpSub: 0x7D, ir.OpMul: 0x7E, ir.OpDiv: 0x7F,
		ir.OpRem: 0x81, ir.OpAnd: 0x83, ir.OpOr: 0x84, ir.OpXor: 0x85,
		ir.OpShl: 0x86, ir.OpShr: 0x87, ir.OpShrU: 0x88,
		ir.OpEq: 0x51, ir.OpNe: 0x52, ir.OpLt: 0x53, ir.OpGt: 0x55,
		ir.OpLe: 0x57, ir.OpGe: 0x59,
	},
	ir.F32: {
		ir.OpAdd: 0x92, ir.OpSub: 0x93, ir.OpMul: 0x94, ir.OpDiv: 0x95,
		ir.OpNeg: 0x8C, ir.OpMin: 0x96, ir.OpMax: 0x97, ir.OpAbs: 0x8B,
		ir.OpSqrt: 0x91, ir.OpCopySign: 0x98,
		ir.OpEq: 0x5B, ir.OpNe: 0x5C, ir.OpLt: 0x5D, ir.OpGt: 0x5E,
		ir.OpLe: 0x5F, ir.OpGe: 0x60,
	},
	ir.F64: {
		ir.OpAdd: 0xA0, ir.OpSub: 0xA1, ir.OpMul: 0xA2, ir.OpDiv: 0xA3,
		ir.OpNeg: 0x9A, ir.OpMin: 0xA4, ir.OpMax: 0xA5, ir.OpAbs: 0x99,
		ir.OpSqrt: 0x9F, ir.OpCopySign: 0xA6,
		ir.OpEq: 0x61, ir.OpNe: 0x62, ir.OpLt: 0x63, ir.OpGt: 0x64,
		ir.OpLe: 0x65, ir.OpGe: 0x66,
	},
}

func (w *BinaryWriter) WriteNumericOp(op ir.NumericOp, t ir.ValueType) error {
	if t == ir.AnyRef {
		t = ir.I32 // references compare as addresses
	}
	if op == ir.OpNeg && (t == ir.I32 || t == ir.I64) {
		// the target has no integer negate
		if t == ir.I32 {
			w.op(0x41, 0x7F, 0x6C) // i32.const -1, i32.mul
		} else {
			w.op(0x42, 0x7F, 0x7E)
		}
		return nil
	}
	if op == ir.OpRem && (t == ir.F32 || t == ir.F64) {
		return diagnostics.NewError(diagnostics.ErrW001,
			"floating remainder is not representable in the target instruction set")
	}
	b, ok := numericOpcodes[t][op]
	if !ok {
		return diagnostics.NewError(diagnostics.ErrW001,
			"numeric operation %v has no %s encoding", op, t)
	}
	w.op(b)
	return nil
}

// convertOpcodes maps a conversion to its encoding. The saturating float
// truncations live behind the 0xFC prefix.
var convertOpcodes = map[ir.ConvertOp][]byte{
	ir.ConvI2L: {0xAC},
	ir.ConvI2F: {0xB2},
	ir.ConvI2D: {0xB7},
	ir.ConvL2I: {0xA7},
	ir.ConvL2F: {0xB4},
	ir.ConvL2D: {0xB9},
	ir.ConvF2I: {0xFC, 0x00},
	ir.ConvF2L: {0xFC, 0x04},
	ir.ConvF2D: {0xBB},
	ir.ConvD2I: {0xFC, 0x02},
	ir.ConvD2L: {0xFC, 0x06},
	ir.ConvD2F: {0xB6},
	ir.ConvI2B: {0xC0},
	ir.ConvI2S: {0xC1},
}

func (w *BinaryWriter) WriteConvert(op ir.ConvertOp) error {
	if op == ir.ConvI2C {
		w.op(0x41)
		w.cur.body = appendSLEB(w.cur.body, 65535)
		w.op(0x71)
		return nil
	}
	bytes, ok := convertOpcodes[op]
	if !ok {
		return diagnostics.NewError(diagnostics.ErrW001, "conversion %v has no encoding", op)
	}
	w.op(bytes...)
	return nil
}

func memoryOpcode(op ir.MemoryOp, t ir.ValueType, width int, signed bool) (byte, error) {
	if t == ir.AnyRef {
		t = ir.I32
	}
	if width != 0 && t != ir.I32 {
		return 0, diagnostics.NewError(diagnostics.ErrW001, "narrow %s access on %s", op, t)
	}
	if op == ir.MemoryLoad {
		switch {
		case width == 8 && signed:
			return 0x2C, nil
		case width == 8:
			return 0x2D, nil
		case width == 16 && signed:
			return 0x2E, nil
		case width == 16:
			return 0x2F, nil
		}
		switch t {
		case ir.I64:
			return 0x29, nil
		case ir.F32:
			return 0x2A, nil
		case ir.F64:
			return 0x2B, nil
		default:
			return 0x28, nil
		}
	}
	switch width {
	case 8:
		return 0x3A, nil
	case 16:
		return 0x3B, nil
	}
	switch t {
	case ir.I64:
		return 0x37, nil
	case ir.F32:
		return 0x38, nil
	case ir.F64:
		return 0x39, nil
	default:
		return 0x36, nil
	}
}

func (w *BinaryWriter) WriteMemoryOp(op ir.MemoryOp, t ir.ValueType, offset, width int, signed bool) error {
	b, err := memoryOpcode(op, t, width, signed)
	if err != nil {
		return err
	}
	w.op(b)
	// alignment hint 0 is always valid
	w.cur.body = appendULEB(w.cur.body, 0)
	w.cur.body = appendULEB(w.cur.body, uint64(offset))
	return nil
}

func (w *BinaryWriter) WriteBlockOp(op ir.BlockOp, data interface{}) error {
	switch op {
	case ir.BlockOpBlock:
		w.op(0x02, 0x40)
	case ir.BlockOpLoop:
		w.op(0x03, 0x40)
	case ir.BlockOpIf:
		w.op(0x04, 0x40)
	case ir.BlockOpElse:
		w.op(0x05)
	case ir.BlockOpEnd:
		w.op(0x0B)
	case ir.BlockOpBr:
		w.op(0x0C)
		w.cur.body = appendULEB(w.cur.body, uint64(data.(int)))
	case ir.BlockOpBrIf:
		w.op(0x0D)
		w.cur.body = appendULEB(w.cur.body, uint64(data.(int)))
	case ir.BlockOpBrTable:
		bt := data.(ir.BrTableData)
		w.op(0x0E)
		w.cur.body = appendULEB(w.cur.body, uint64(len(bt.Targets)))
		for _, t := range bt.Targets {
			w.cur.body = appendULEB(w.cur.body, uint64(t))
		}
		w.cur.body = appendULEB(w.cur.body, uint64(bt.Default))
	case ir.BlockOpReturn:
		w.op(0x0F)
	case ir.BlockOpDrop:
		w.op(0x1A)
	case ir.BlockOpThrow, ir.BlockOpRethrow, ir.BlockOpUnreachable:
		// no exception tags are declared; a throw traps
		w.op(0x00)
	default:
		return diagnostics.NewError(diagnostics.ErrW001, "block operation %v has no encoding", op)
	}
	return nil
}

func (w *BinaryWriter) WriteCall(sig ir.FuncSig) error {
	w.op(0x10)
	w.cur.relocs = append(w.cur.relocs, reloc{at: len(w.cur.body), name: sig.Name})
	w.cur.body = appendPaddedULEB32(w.cur.body, 0)
	return nil
}

func (w *BinaryWriter) WriteCallIndirect(sig ir.FuncSig) error {
	w.op(0x11)
	w.cur.body = appendULEB(w.cur.body, uint64(w.sigType(sig)))
	w.op(0x00) // table 0
	return nil
}

func (w *BinaryWriter) WriteStructOp(op ir.StructOp, typeName, fieldName string) error {
	return diagnostics.NewError(diagnostics.ErrW001,
		"struct operation %v renders in the text format only", op)
}

func (w *BinaryWriter) WriteArrayOp(op ir.ArrayOp, elem ir.ValueType) error {
	return diagnostics.NewError(diagnostics.ErrW001,
		"array operation %v renders in the text format only", op)
}

func (w *BinaryWriter) WriteTableOp(op ir.TableOp, table int) error {
	return diagnostics.NewError(diagnostics.ErrW001,
		"table operation %v renders in the text format only", op)
}

func (w *BinaryWriter) WriteNop() error {
	w.op(0x01)
	return nil
}

func section(id byte, payload []byte) []byte {
	out := []byte{id}
	out = appendULEB(out, uint64(len(payload)))
	return append(out, payload...)
}

// Finish patches every call site, assembles the sections and writes the
// module.
func (w *BinaryWriter) Finish() error {
	for i := range w.funcs {
		f := &w.funcs[i]
		for _, r := range f.relocs {
			idx, ok := w.funcIdx[r.name]
			if !ok {
				return diagnostics.NewError(diagnostics.ErrW001,
					"call target %s was never written", r.name)
			}
			putPaddedULEB32(f.body[r.at:r.at+5], uint32(idx))
		}
	}

	out := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}

	var types []byte
	types = appendULEB(types, uint64(len(w.types)))
	for _, t := range w.types {
		types = append(types, t...)
	}
	out = append(out, section(secType, types)...)

	if w.nimports > 0 {
		var imp []byte
		imp = appendULEB(imp, uint64(w.nimports))
		imp = append(imp, w.imports...)
		out = append(out, section(secImport, imp)...)
	}

	var fsec []byte
	fsec = appendULEB(fsec, uint64(len(w.funcs)))
	for _, f := range w.funcs {
		fsec = appendULEB(fsec, uint64(f.typeIdx))
	}
	out = append(out, section(secFunction, fsec)...)

	if w.tableSize > 0 {
		var tab []byte
		tab = appendULEB(tab, 1)
		tab = append(tab, 0x70, 0x01) // funcref, bounded limits
		tab = appendULEB(tab, uint64(w.tableSize))
		tab = appendULEB(tab, uint64(w.tableSize))
		out = append(out, section(secTable, tab)...)
	}

	var mem []byte
	mem = appendULEB(mem, 1)
	mem = append(mem, 0x00)
	mem = appendULEB(mem, uint64(w.maxDataEnd/0x10000+1))
	out = append(out, section(secMemory, mem)...)

	if w.nglobals > 0 {
		var glob []byte
		glob = appendULEB(glob, uint64(w.nglobals))
		glob = append(glob, w.globals...)
		out = append(out, section(secGlobal, glob)...)
	}

	var exp []byte
	exp = appendULEB(exp, uint64(len(w.exports)+len(w.expGlobals)+1))
	for _, e := range w.exports {
		idx, ok := w.funcIdx[e.internal]
		if !ok {
			return diagnostics.NewError(diagnostics.ErrW001,
				"exported function %s was never written", e.internal)
		}
		exp = appendName(exp, e.external)
		exp = append(exp, 0x00)
		exp = appendULEB(exp, uint64(idx))
	}
	exp = appendName(exp, "memory")
	exp = append(exp, 0x02)
	exp = appendULEB(exp, 0)
	for _, g := range w.expGlobals {
		exp = appendName(exp, g.name)
		exp = append(exp, 0x03)
		exp = appendULEB(exp, uint64(g.index))
	}
	out = append(out, section(secExport, exp)...)

	if w.tableSize > 0 {
		var elem []byte
		elem = appendULEB(elem, 1)
		elem = append(elem, 0x00, 0x41)
		elem = appendSLEB(elem, 0)
		elem = append(elem, 0x0B)
		elem = appendULEB(elem, uint64(w.tableSize))
		for i := 0; i < w.tableSize; i++ {
			name, ok := w.elements[i]
			if !ok {
				return diagnostics.NewError(diagnostics.ErrW001,
					"function table slot %d is unbound", i)
			}
			idx, ok := w.funcIdx[name]
			if !ok {
				return diagnostics.NewError(diagnostics.ErrW001,
					"function table entry %s was never written", name)
			}
			elem = appendULEB(elem, uint64(idx))
		}
		out = append(out, section(secElement, elem)...)
	}

	var code []byte
	code = appendULEB(code, uint64(len(w.funcs)))
	for _, f := range w.funcs {
		var entry []byte
		entry = appendULEB(entry, uint64(len(f.locals)))
		for _, l := range f.locals {
			entry = appendULEB(entry, uint64(l.count))
			entry = append(entry, l.vt)
		}
		entry = append(entry, f.body...)
		entry = append(entry, 0x0B)
		code = appendULEB(code, uint64(len(entry)))
		code = append(code, entry...)
	}
	out = append(out, section(secCode, code)...)

	if len(w.datas) > 0 {
		var data []byte
		data = appendULEB(data, uint64(len(w.datas)))
		for _, d := range w.datas {
			data = append(data, 0x00, 0x41)
			data = appendSLEB(data, int64(d.offset))
			data = append(data, 0x0B)
			data = appendULEB(data, uint64(len(d.data)))
			data = append(data, d.data...)
		}
		out = append(out, section(secData, data)...)
	}

	var custom []byte
	custom = appendName(custom, "build-id")
	custom = append(custom, w.buildID[:]...)
	out = append(out, section(secCustom, custom)...)

	if _, err := w.out.Write(out); err != nil {
		return diagnostics.WrapError(diagnostics.ErrW001, err, "cannot write module binary")
	}
	return nil
}
