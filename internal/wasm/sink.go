package wasm

import "github.com/wasmlift/wasmlift/internal/ir"

// Sink is an output serializer. Finish flushes the assembled module; before
// Finish nothing is written to the underlying stream, so a failed
// compilation leaves no partial output behind.
type Sink interface {
	ir.ModuleWriter
	Finish() error
}

var (
	_ Sink = (*TextWriter)(nil)
	_ Sink = (*BinaryWriter)(nil)
)
