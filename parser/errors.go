package parser

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Position locates a line/column inside a format-definition file, the same
// shape the teacher's assembler uses for syntax errors.
type Position struct {
	Filename string
	Line     int
	Column   int
}

func (p Position) String() string {
	return fmt.Sprintf("%s:%d:%d", p.Filename, p.Line, p.Column)
}

// ErrorKind categorizes a parse-band error (spec.md §7: parse errors are
// band 100..199).
type ErrorKind int

const (
	ErrSyntax ErrorKind = iota
	ErrUnknownDirective
	ErrDuplicateName
	ErrBadValueSpec
	ErrBadScale
	ErrBadIndexedText
	ErrBadFileDirective
	ErrAllocation
	ErrInclude
	ErrFileIO
)

func (k ErrorKind) String() string {
	names := [...]string{
		"syntax", "unknown-directive", "duplicate-name", "bad-value-spec",
		"bad-scale", "bad-indexed-text", "bad-file-directive", "allocation",
		"include", "file-io",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "unknown"
}

// Error is one parse-band diagnostic: (file, line, column, kind, context)
// per spec.md §4.2.3.
type Error struct {
	Pos     Position
	Kind    ErrorKind
	Message string
	Context string // the source line the error occurred on
}

func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: error(%s): %s\n", e.Pos, e.Kind, e.Message)
	if e.Context != "" {
		fmt.Fprintf(&sb, "    %s\n", e.Context)
	}
	return sb.String()
}

// Render formats e using an "-e=FMT" error report template (spec.md §6:
// substitutions %L %E %F %P %D %A for line/error/file/fullpath/
// description/context). An empty template falls back to Error().
func (e *Error) Render(tmpl string) string {
	if tmpl == "" {
		return e.Error()
	}
	r := strings.NewReplacer(
		"%L", strconv.Itoa(e.Pos.Line),
		"%E", e.Kind.String(),
		"%F", filepath.Base(e.Pos.Filename),
		"%P", e.Pos.Filename,
		"%D", e.Message,
		"%A", e.Context,
	)
	return r.Replace(tmpl) + "\n"
}

// NewError builds a parse Error with source context.
func NewError(pos Position, kind ErrorKind, context, format string, args ...any) *Error {
	return &Error{
		Pos:     pos,
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Context: context,
	}
}

// MaxErrorsReported bounds the number of parse errors recorded (spec.md
// §4.2.3). The count covers a whole compilation run: once it is reached,
// the file being compiled is abandoned, and so is every file compiled
// after it by the same Compiler.
const MaxErrorsReported = 50

// ErrorList is the bounded error ring of one Compiler, shared by every
// file it compiles: it accepts diagnostics until MaxErrorsReported is
// reached, then starts counting without storing.
type ErrorList struct {
	Errors    []*Error
	Overflow  int // errors dropped after the cap was reached
	Abandoned bool
}

// Add appends err, or counts it silently once the cap is reached; returns
// true if the file should now be abandoned.
func (el *ErrorList) Add(err *Error) bool {
	if len(el.Errors) >= MaxErrorsReported {
		el.Overflow++
		el.Abandoned = true
		return true
	}
	el.Errors = append(el.Errors, err)
	if len(el.Errors) >= MaxErrorsReported {
		el.Abandoned = true
		return true
	}
	return false
}

// HasErrors reports whether any error was recorded.
func (el *ErrorList) HasErrors() bool {
	return len(el.Errors) > 0
}

// Error implements the error interface by rendering every recorded error.
func (el *ErrorList) Error() string {
	return el.RenderWith("")
}

// RenderWith renders every recorded error through an "-e=FMT" template
// (spec.md §6), or the default one-line-plus-context form when tmpl is
// empty.
func (el *ErrorList) RenderWith(tmpl string) string {
	var sb strings.Builder
	for _, e := range el.Errors {
		sb.WriteString(e.Render(tmpl))
	}
	if el.Overflow > 0 {
		fmt.Fprintf(&sb, "... %d additional error(s) not shown\n", el.Overflow)
	}
	return sb.String()
}
