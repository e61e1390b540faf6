// Package pipeline chains the rewrite passes a method body goes through
// between being built and being rendered.
package pipeline

import (
	"github.com/wasmlift/wasmlift/internal/ir"
)

// Context carries one method's instruction list through the passes.
type Context struct {
	// FunctionName is the signature-qualified name, for diagnostics.
	FunctionName string
	Instrs       []ir.Instruction
	Err          error
}

// Processor is one rewrite pass over a method body.
type Processor interface {
	Name() string
	Process(ctx *Context) *Context
}

// Pipeline represents a sequence of processing stages.
type Pipeline struct {
	processors []Processor
}

func New(processors ...Processor) *Pipeline {
	return &Pipeline{processors: processors}
}

// Run executes the passes in order. Every core failure is fatal, so the
// first error stops the pipeline.
func (p *Pipeline) Run(initialCtx *Context) *Context {
	ctx := initialCtx
	for _, processor := range p.processors {
		if ctx.Err != nil {
			return ctx
		}
		ctx = processor.Process(ctx)
	}
	return ctx
}
