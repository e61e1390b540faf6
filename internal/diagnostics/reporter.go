package diagnostics

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

const (
	ansiReset = "\x1b[0m"
	ansiRed   = "\x1b[31m"
	ansiCyan  = "\x1b[36m"
	ansiDim   = "\x1b[2m"
)

// Reporter renders diagnostics and progress messages to a terminal.
// Colors are used only when the destination is a real TTY.
type Reporter struct {
	out     io.Writer
	color   bool
	verbose bool
}

// NewReporter creates a reporter writing to w. Color is enabled when w is
// os.Stderr/os.Stdout attached to a terminal.
func NewReporter(w io.Writer, verbose bool) *Reporter {
	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Reporter{out: w, color: color, verbose: verbose}
}

// ReportError prints a single fatal diagnostic. This is the only
// user-visible failure output of a compilation run.
func (r *Reporter) ReportError(err error) {
	if r.color {
		fmt.Fprintf(r.out, "%serror%s %s\n", ansiRed, ansiReset, err.Error())
	} else {
		fmt.Fprintf(r.out, "error %s\n", err.Error())
	}
}

// Progress prints a verbose-mode progress line.
func (r *Reporter) Progress(format string, args ...interface{}) {
	if !r.verbose {
		return
	}
	if r.color {
		fmt.Fprintf(r.out, "%s..%s "+format+"\n", append([]interface{}{ansiDim, ansiReset}, args...)...)
	} else {
		fmt.Fprintf(r.out, ".. "+format+"\n", args...)
	}
}

// Summary prints the end-of-run summary line.
func (r *Reporter) Summary(format string, args ...interface{}) {
	if r.color {
		fmt.Fprintf(r.out, "%s==%s "+format+"\n", append([]interface{}{ansiCyan, ansiReset}, args...)...)
	} else {
		fmt.Fprintf(r.out, "== "+format+"\n", args...)
	}
}
