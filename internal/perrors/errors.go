// Package perrors defines the three error kinds produced by the Pantera
// pipeline: syntax errors from the lexer/parser, compile errors from the
// compiler and its semantic pre-pass, and runtime errors from the VM.
package perrors

import "fmt"

// Kind identifies which stage of the pipeline produced an error.
type Kind string

const (
	SyntaxError  Kind = "SyntaxError"
	CompileError Kind = "CompileError"
	RuntimeError Kind = "RuntimeError"
)

// PanteraError carries the error kind, a message, and an optional source
// line for parse/compile errors. Runtime errors rarely know a source line
// (the VM has no source map), so Line is left at 0 for them.
type PanteraError struct {
	Kind    Kind
	Message string
	Line    int
}

func (e *PanteraError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s: %s (line %d)", e.Kind, e.Message, e.Line)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func NewSyntax(line int, format string, args ...interface{}) *PanteraError {
	return &PanteraError{Kind: SyntaxError, Message: fmt.Sprintf(format, args...), Line: line}
}

func NewCompile(format string, args ...interface{}) *PanteraError {
	return &PanteraError{Kind: CompileError, Message: fmt.Sprintf(format, args...)}
}

func NewRuntime(format string, args ...interface{}) *PanteraError {
	return &PanteraError{Kind: RuntimeError, Message: fmt.Sprintf(format, args...)}
}
