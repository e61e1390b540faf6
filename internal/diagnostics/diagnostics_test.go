package diagnostics

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestDiagnosticError_Message(t *testing.T) {
	err := NewError(ErrC002, "unsupported opcode %#x", 0xBA)
	if got := err.Error(); got != "C002: unsupported opcode 0xba" {
		t.Errorf("Error() = %q", got)
	}

	err.WithLocation("com/example/Main", "run", 42)
	want := "C002: unsupported opcode 0xba (at com/example/Main.run:42)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	err.WithSourceFile("Main.java")
	if got := err.Error(); !strings.HasSuffix(got, "[Main.java]") {
		t.Errorf("Error() = %q, want the source file appended", got)
	}
}

func TestDiagnosticError_LocationKeepsInnermost(t *testing.T) {
	err := NewError(ErrC003, "conflict")
	err.WithLocation("Inner", "f", 7)
	err.WithLocation("Outer", "g", 99)

	if err.ClassName != "Inner" || err.MethodName != "f" || err.Line != 7 {
		t.Errorf("location = %s.%s:%d, want the first one kept", err.ClassName, err.MethodName, err.Line)
	}
}

func TestDiagnosticError_WrapAndUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapError(ErrL001, cause, "cannot read %s", "A.class")

	if !errors.Is(err, cause) {
		t.Error("wrapped cause not reachable through errors.Is")
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Error() = %q, want the cause included", err.Error())
	}
}

func TestDiagnosticError_IsMatchesByCode(t *testing.T) {
	err := NewError(ErrC005, "sealed")
	if !errors.Is(err, NewError(ErrC005, "")) {
		t.Error("same code does not match")
	}
	if errors.Is(err, NewError(ErrC001, "")) {
		t.Error("different code matches")
	}
}

func TestEnrich(t *testing.T) {
	err := Enrich(NewError(ErrC001, "missing"), "A", "f", 3)
	var de *DiagnosticError
	if !errors.As(err, &de) || de.ClassName != "A" {
		t.Errorf("Enrich did not fill the location: %v", err)
	}

	plain := errors.New("plain")
	if got := Enrich(plain, "A", "f", 3); got != plain {
		t.Errorf("Enrich changed a plain error: %v", got)
	}
}

func TestReporter_PlainOutput(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf, true)

	r.ReportError(NewError(ErrW001, "cannot write"))
	r.Progress("scanning %s", "A")
	r.Summary("wrote %s (%d bytes)", "out.wasm", 128)

	out := buf.String()
	for _, line := range []string{
		"error W001: cannot write",
		".. scanning A",
		"== wrote out.wasm (128 bytes)",
	} {
		if !strings.Contains(out, line+"\n") {
			t.Errorf("output is missing %q:\n%s", line, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("color codes written to a non-terminal sink")
	}
}

func TestReporter_ProgressNeedsVerbose(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf, false)
	r.Progress("hidden")
	if buf.Len() != 0 {
		t.Errorf("progress printed without verbose: %q", buf.String())
	}
	r.Summary("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Error("summary suppressed without verbose")
	}
}
