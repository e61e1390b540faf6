package wasm

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/wasmlift/wasmlift/internal/diagnostics"
	"github.com/wasmlift/wasmlift/internal/ir"
)

// TextWriter renders the module as .wat s-expressions. Declarations are
// buffered until Finish because module-level items and function bodies
// arrive interleaved.
type TextWriter struct {
	out io.Writer
	gc  bool

	imports  []string
	globals  []string
	exports  []string
	datas    []string
	elements []elemEntry

	tableSize  int
	maxDataEnd int

	funcs []string
	cur   *textFunc
}

type elemEntry struct {
	index int
	name  string
}

type textFunc struct {
	name    string
	src     string
	params  []string
	results []string
	locals  []string
	body    []string
	depth   int
}

// NewTextWriter creates a writer emitting to out. gc selects the
// reference-types rendering for object values; the default renders
// references as i32 addresses.
func NewTextWriter(out io.Writer, gc bool) *TextWriter {
	return &TextWriter{out: out, gc: gc}
}

// id turns a unique function or global name into a valid .wat identifier.
func id(name string) string {
	var b strings.Builder
	b.WriteByte('$')
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
			b.WriteByte(c)
		case strings.IndexByte("!#$%&'*+-./:<=>?@\\^_`|~", c) >= 0:
			b.WriteByte(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (w *TextWriter) valType(t ir.ValueType) string {
	switch t {
	case ir.AnyRef:
		if w.gc {
			return "anyref"
		}
		return "i32"
	case ir.FuncRef:
		return "funcref"
	default:
		return t.String()
	}
}

func (w *TextWriter) sigText(sig ir.FuncSig) string {
	var b strings.Builder
	if sig.NeedThis {
		fmt.Fprintf(&b, " (param %s)", w.valType(ir.AnyRef))
	}
	for _, p := range sig.Params {
		fmt.Fprintf(&b, " (param %s)", w.valType(p))
	}
	for _, r := range sig.Results {
		fmt.Fprintf(&b, " (result %s)", w.valType(r))
	}
	return b.String()
}

func (w *TextWriter) WriteImport(module, name string, sig ir.FuncSig) error {
	w.imports = append(w.imports, fmt.Sprintf("  (import %q %q (func %s%s))",
		module, name, id(sig.Name), w.sigText(sig)))
	return nil
}

func (w *TextWriter) WriteExport(externalName, internalName string) error {
	w.exports = append(w.exports, fmt.Sprintf("  (export %q (func %s))",
		externalName, id(internalName)))
	return nil
}

func (w *TextWriter) WriteGlobalDecl(name string, t ir.ValueType, init int64, mutable bool) error {
	vt := w.valType(t)
	var initExpr string
	switch t {
	case ir.F32:
		initExpr = fmt.Sprintf("(f32.const %d)", init)
	case ir.F64:
		initExpr = fmt.Sprintf("(f64.const %d)", init)
	case ir.I64:
		initExpr = fmt.Sprintf("(i64.const %d)", init)
	default:
		initExpr = fmt.Sprintf("(i32.const %d)", init)
	}
	if mutable {
		w.globals = append(w.globals, fmt.Sprintf("  (global %s (mut %s) %s)", id(name), vt, initExpr))
	} else {
		// immutable globals are ABI constants; export them by name
		w.globals = append(w.globals, fmt.Sprintf("  (global %s (export %q) %s %s)", id(name), name, vt, initExpr))
	}
	return nil
}

func (w *TextWriter) WriteDataSegment(offset int, data []byte) error {
	var b strings.Builder
	for _, c := range data {
		if c >= 0x20 && c < 0x7F && c != '"' && c != '\\' {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "\\%02x", c)
		}
	}
	w.datas = append(w.datas, fmt.Sprintf("  (data (i32.const %d) \"%s\")", offset, b.String()))
	if end := offset + len(data); end > w.maxDataEnd {
		w.maxDataEnd = end
	}
	return nil
}

func (w *TextWriter) SetTableSize(size int) error {
	w.tableSize = size
	return nil
}

func (w *TextWriter) WriteElement(index int, funcName string) error {
	w.elements = append(w.elements, elemEntry{index: index, name: funcName})
	return nil
}

func (w *TextWriter) StartFunction(name, sourceFile string) error {
	w.cur = &textFunc{name: name, src: sourceFile, depth: 2}
	return nil
}

func (w *TextWriter) WriteParam(t ir.ValueType, name string) error {
	if name != "" {
		w.cur.params = append(w.cur.params, fmt.Sprintf("(param %s %s)", id(name), w.valType(t)))
	} else {
		w.cur.params = append(w.cur.params, fmt.Sprintf("(param %s)", w.valType(t)))
	}
	return nil
}

func (w *TextWriter) WriteResult(t ir.ValueType) error {
	w.cur.results = append(w.cur.results, fmt.Sprintf("(result %s)", w.valType(t)))
	return nil
}

func (w *TextWriter) WriteLocal(t ir.ValueType, name string) error {
	if name != "" {
		w.cur.locals = append(w.cur.locals, fmt.Sprintf("(local %s %s)", id(name), w.valType(t)))
	} else {
		w.cur.locals = append(w.cur.locals, fmt.Sprintf("(local %s)", w.valType(t)))
	}
	return nil
}

func (w *TextWriter) StartBody() error { return nil }

func (w *TextWriter) FinishFunction() error {
	f := w.cur
	w.cur = nil

	var b strings.Builder
	fmt.Fprintf(&b, "  (func %s", id(f.name))
	for _, p := range f.params {
		b.WriteString(" " + p)
	}
	for _, r := range f.results {
		b.WriteString(" " + r)
	}
	b.WriteString("\n")
	if f.src != "" {
		fmt.Fprintf(&b, "    ;; %s\n", f.src)
	}
	for _, l := range f.locals {
		fmt.Fprintf(&b, "    %s\n", l)
	}
	for _, line := range f.body {
		b.WriteString(line + "\n")
	}
	b.WriteString("  )")
	w.funcs = append(w.funcs, b.String())
	return nil
}

func (w *TextWriter) emit(s string) {
	w.cur.body = append(w.cur.body, strings.Repeat("  ", w.cur.depth)+s)
}

func (w *TextWriter) WriteConstI32(v int32) error {
	w.emit(fmt.Sprintf("i32.const %d", v))
	return nil
}

func (w *TextWriter) WriteConstI64(v int64) error {
	w.emit(fmt.Sprintf("i64.const %d", v))
	return nil
}

func (w *TextWriter) WriteConstF32(v float32) error {
	w.emit(fmt.Sprintf("f32.const %g", v))
	return nil
}

func (w *TextWriter) WriteConstF64(v float64) error {
	w.emit(fmt.Sprintf("f64.const %g", v))
	return nil
}

func (w *TextWriter) WriteConstNull() error {
	if w.gc {
		w.emit("ref.null any")
	} else {
		w.emit("i32.const 0")
	}
	return nil
}

func (w *TextWriter) WriteLocalOp(op ir.LocalOp, index int) error {
	w.emit(fmt.Sprintf("%s %d", op, index))
	return nil
}

func (w *TextWriter) WriteGlobalOp(load bool, name string, t ir.ValueType) error {
	if load {
		w.emit("global.get " + id(name))
	} else {
		w.emit("global.set " + id(name))
	}
	return nil
}

// numericPrefix is the value-domain prefix of a numeric mnemonic; object
// references compare as plain addresses in the linear mode.
func (w *TextWriter) numericPrefix(t ir.ValueType) string {
	if t == ir.AnyRef {
		return "i32"
	}
	return t.String()
}

func (w *TextWriter) WriteNumericOp(op ir.NumericOp, t ir.ValueType) error {
	if w.gc && t == ir.AnyRef {
		switch op {
		case ir.OpEq:
			w.emit("ref.eq")
			return nil
		case ir.OpNe:
			w.emit("ref.eq")
			w.emit("i32.eqz")
			return nil
		}
	}
	prefix := w.numericPrefix(t)
	isInt := t == ir.I32 || t == ir.I64 || t == ir.AnyRef

	if op == ir.OpNeg && isInt {
		// the target has no integer negate
		w.emit(fmt.Sprintf("%s.const -1", prefix))
		w.emit(prefix + ".mul")
		return nil
	}

	name, err := numericName(op, isInt)
	if err != nil {
		return err
	}
	w.emit(prefix + "." + name)
	return nil
}

// numericName resolves the mnemonic suffix of a numeric operation. Integer
// division, remainder, shift and ordering are all signed; the unsigned
// shift is the one explicitly unsigned source operation.
func numericName(op ir.NumericOp, isInt bool) (string, error) {
	if isInt {
		switch op {
		case ir.OpDiv:
			return "div_s", nil
		case ir.OpRem:
			return "rem_s", nil
		case ir.OpShr:
			return "shr_s", nil
		case ir.OpShrU:
			return "shr_u", nil
		case ir.OpLt:
			return "lt_s", nil
		case ir.OpLe:
			return "le_s", nil
		case ir.OpGt:
			return "gt_s", nil
		case ir.OpGe:
			return "ge_s", nil
		}
	}
	switch op {
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpAnd, ir.OpOr, ir.OpXor,
		ir.OpShl, ir.OpEq, ir.OpNe, ir.OpLt, ir.OpLe, ir.OpGt, ir.OpGe,
		ir.OpNeg, ir.OpMin, ir.OpMax, ir.OpAbs, ir.OpSqrt, ir.OpCopySign:
		return op.String(), nil
	case ir.OpRem:
		return "", diagnostics.NewError(diagnostics.ErrW001,
			"floating remainder is not representable in the target instruction set")
	}
	return "", diagnostics.NewError(diagnostics.ErrW001, "numeric operation %v has no rendering", op)
}

func (w *TextWriter) WriteConvert(op ir.ConvertOp) error {
	if op == ir.ConvI2C {
		w.emit("i32.const 65535")
		w.emit("i32.and")
		return nil
	}
	w.emit(op.String())
	return nil
}

func (w *TextWriter) WriteMemoryOp(op ir.MemoryOp, t ir.ValueType, offset, width int, signed bool) error {
	name := w.numericPrefix(t) + "." + op.String()
	if width != 0 {
		name += fmt.Sprintf("%d", width)
		if op == ir.MemoryLoad {
			if signed {
				name += "_s"
			} else {
				name += "_u"
			}
		}
	}
	if offset > 0 {
		name += fmt.Sprintf(" offset=%d", offset)
	}
	w.emit(name)
	return nil
}

func (w *TextWriter) WriteBlockOp(op ir.BlockOp, data interface{}) error {
	switch op {
	case ir.BlockOpBlock, ir.BlockOpLoop, ir.BlockOpIf:
		w.emit(op.String())
		w.cur.depth++
	case ir.BlockOpElse:
		w.cur.depth--
		w.emit("else")
		w.cur.depth++
	case ir.BlockOpEnd:
		w.cur.depth--
		w.emit("end")
	case ir.BlockOpBr, ir.BlockOpBrIf:
		w.emit(fmt.Sprintf("%s %d", op, data.(int)))
	case ir.BlockOpBrTable:
		bt := data.(ir.BrTableData)
		var b strings.Builder
		b.WriteString("br_table")
		for _, t := range bt.Targets {
			fmt.Fprintf(&b, " %d", t)
		}
		fmt.Fprintf(&b, " %d", bt.Default)
		w.emit(b.String())
	case ir.BlockOpReturn:
		w.emit("return")
	case ir.BlockOpDrop:
		w.emit("drop")
	case ir.BlockOpThrow, ir.BlockOpRethrow, ir.BlockOpUnreachable:
		// no exception tags are declared; a throw traps
		w.emit("unreachable")
	default:
		return diagnostics.NewError(diagnostics.ErrW001, "block operation %v has no rendering", op)
	}
	return nil
}

func (w *TextWriter) WriteCall(sig ir.FuncSig) error {
	w.emit("call " + id(sig.Name))
	return nil
}

func (w *TextWriter) WriteCallIndirect(sig ir.FuncSig) error {
	w.emit("call_indirect" + w.sigText(sig))
	return nil
}

func (w *TextWriter) WriteStructOp(op ir.StructOp, typeName, fieldName string) error {
	if !w.gc {
		return diagnostics.NewError(diagnostics.ErrW001,
			"struct operation %v outside the reference-types mode", op)
	}
	switch op {
	case ir.StructGet, ir.StructSet:
		w.emit(fmt.Sprintf("%s %s %s", op, id(typeName), id(typeName+"."+fieldName)))
	case ir.StructNew:
		w.emit("struct.new_default " + id(typeName))
	case ir.StructCast:
		w.emit(fmt.Sprintf("ref.cast (ref null %s)", id(typeName)))
	default:
		w.emit(fmt.Sprintf("ref.test (ref %s)", id(typeName)))
	}
	return nil
}

func (w *TextWriter) WriteArrayOp(op ir.ArrayOp, elem ir.ValueType) error {
	if !w.gc {
		return diagnostics.NewError(diagnostics.ErrW001,
			"array operation %v outside the reference-types mode", op)
	}
	if op == ir.ArrayNew {
		w.emit("array.new_default " + id("arr."+w.valType(elem)))
		return nil
	}
	w.emit(fmt.Sprintf("%s %s", op, id("arr."+w.valType(elem))))
	return nil
}

func (w *TextWriter) WriteTableOp(op ir.TableOp, table int) error {
	w.emit(fmt.Sprintf("%s %d", op, table))
	return nil
}

func (w *TextWriter) WriteNop() error {
	w.emit("nop")
	return nil
}

// Finish assembles and writes the module text.
func (w *TextWriter) Finish() error {
	var b strings.Builder
	b.WriteString("(module\n")
	for _, s := range w.imports {
		b.WriteString(s + "\n")
	}

	pages := w.maxDataEnd/0x10000 + 1
	fmt.Fprintf(&b, "  (memory (export \"memory\") %d)\n", pages)
	if w.tableSize > 0 {
		fmt.Fprintf(&b, "  (table %d funcref)\n", w.tableSize)
	}
	for _, s := range w.globals {
		b.WriteString(s + "\n")
	}
	for _, s := range w.exports {
		b.WriteString(s + "\n")
	}

	sort.Slice(w.elements, func(i, j int) bool { return w.elements[i].index < w.elements[j].index })
	for _, e := range w.elements {
		fmt.Fprintf(&b, "  (elem (i32.const %d) %s)\n", e.index, id(e.name))
	}

	for _, f := range w.funcs {
		b.WriteString(f + "\n")
	}
	for _, s := range w.datas {
		b.WriteString(s + "\n")
	}
	b.WriteString(")\n")

	if _, err := io.WriteString(w.out, b.String()); err != nil {
		return diagnostics.WrapError(diagnostics.ErrW001, err, "cannot write module text")
	}
	return nil
}
