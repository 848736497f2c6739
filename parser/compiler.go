// Package parser implements the Format Compiler (spec.md §4.1-§4.2): it
// reads *.fmt format-definition files (plain C headers carrying "//"
// directive comments) and produces the decoding Plans and enum table the
// binary-stream decoder runs against, writing a regenerated "*.fmt.h"
// alongside each source file compiled in check mode.
//
// This mirrors the teacher's two-pass compiler shape (parser/lexer.go +
// parser/parser.go feeding a single mutable Program), generalized from
// assembling instructions to compiling message-format directives: one
// Compiler aggregate accumulated by mutable reference while directive
// lines are read in file order, exactly the "Global aggregate state ->
// Decoder aggregate passed by mutable reference" shape carried over from
// decoding an instruction stream to decoding a directive stream.
package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rtedbg/rtemsg/enumtable"
	"github.com/rtedbg/rtemsg/fidalloc"
	"github.com/rtedbg/rtemsg/format"
	"github.com/rtedbg/rtemsg/headersync"
)

// Options configures a compilation run (spec.md §6 CLI options that
// affect format-file compilation).
type Options struct {
	IDBits    int  // format-id width, fidalloc.MinIDBits..MaxIDBits
	CheckOnly bool // -c: (re)generate headers
	Purge     bool // -purge: blank generated headers instead of filling them in
	Backup    bool // -back: keep a .bak of any header replaced in place
	OutputDir string
}

// messageState tracks the in-progress message between a MSG-like
// directive and the format-string and selector lines that follow it.
type messageState struct {
	plan            *format.Plan
	bitCursor       int
	selectedOutFile int
	selectedInFile  int
	alsoMainLog     bool
}

// Compiler is the mutable aggregate a compilation run accumulates into:
// the enum table, the format-id allocator, every plan defined so far, and
// the live memo/file state a running decode will start from.
type Compiler struct {
	opts Options

	enum  *enumtable.Table
	alloc *fidalloc.Allocator

	plans       []*format.Plan
	plansByName map[string]*format.Plan

	memos     map[int]float64
	outFiles  map[int]*os.File
	inFiles   map[int][][]byte
	usedPaths map[string]bool

	errs    *ErrorList
	include includeGuard

	headerStack []*headerWork
	pending     *messageState
}

// NewCompiler creates a Compiler ready to compile one or more root format
// files (later ones sharing the same enum table and id space, the way
// rtemsg invokes the compiler once per project with a list of top-level
// *.fmt files).
func NewCompiler(opts Options) (*Compiler, error) {
	alloc, err := fidalloc.New(opts.IDBits)
	if err != nil {
		return nil, err
	}
	return &Compiler{
		opts:        opts,
		enum:        enumtable.New(),
		alloc:       alloc,
		plansByName: make(map[string]*format.Plan),
		memos:       make(map[int]float64),
		outFiles:    make(map[int]*os.File),
		inFiles:     make(map[int][][]byte),
		usedPaths:   make(map[string]bool),
		errs:        &ErrorList{},
	}, nil
}

// Errors returns the accumulated parse-band diagnostics.
func (c *Compiler) Errors() *ErrorList { return c.errs }

// Result bundles everything a decode run needs, handed over once
// compilation finishes (spec.md §5: compilation and decoding are strictly
// sequential phases, so this is the one-way door between them).
type Result struct {
	Enum      *enumtable.Table
	Alloc     *fidalloc.Allocator
	Plans     []*format.Plan
	Memos     map[int]float64
	OutFiles  map[int]*os.File
	InFiles   map[int][][]byte
	ErrorList *ErrorList
}

// Result snapshots the compiler's final state. Call after CompileRoot
// returns a nil (fatal) error, regardless of whether Errors().HasErrors().
func (c *Compiler) Result() Result {
	return Result{
		Enum:      c.enum,
		Alloc:     c.alloc,
		Plans:     c.plans,
		Memos:     c.memos,
		OutFiles:  c.outFiles,
		InFiles:   c.inFiles,
		ErrorList: c.errs,
	}
}

// CompileRoot compiles path and everything it (transitively) INCLUDEs.
// A non-nil return is always fatal (file I/O failure, INCLUDE stack
// exhaustion): recoverable problems are recorded in Errors() instead.
func (c *Compiler) CompileRoot(path string) error {
	return c.compileFile(path)
}

func (c *Compiler) compileFile(path string) error {
	if err := c.include.push(path); err != nil {
		return err
	}
	defer c.include.pop()

	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied format file
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	hw := &headerWork{sourcePath: path}
	c.headerStack = append(c.headerStack, hw)
	defer func() { c.headerStack = c.headerStack[:len(c.headerStack)-1] }()

	for i, raw := range strings.Split(string(data), "\n") {
		if c.errs.Abandoned {
			break
		}
		pos := Position{Filename: path, Line: i + 1}
		stripped, isDirective, isHeaderDefine := classifyLine(raw)
		if isHeaderDefine && strings.HasSuffix(path, ".fmt") {
			c.errs.Add(NewError(pos, ErrSyntax, strings.TrimSpace(raw), "'#' lines are only allowed in generated headers"))
			continue
		}
		if isHeaderDefine || !isDirective {
			continue
		}
		dl := lexDirective(stripped)
		if err := c.processDirectiveLine(dl, pos, strings.TrimSpace(raw)); err != nil {
			if perr, ok := err.(*Error); ok {
				c.errs.Add(perr)
				continue
			}
			return err
		}
	}

	if c.opts.CheckOnly {
		content := hw.render(c.opts.Purge)
		if _, err := headersync.Sync(path, content, c.opts.Backup); err != nil {
			return fmt.Errorf("writing header for %s: %w", path, err)
		}
	}
	return nil
}

// processDirectiveLine dispatches one classified directive line. Any
// returned *Error is a recoverable parse-band diagnostic; anything else is
// fatal.
func (c *Compiler) processDirectiveLine(dl DirectiveLine, pos Position, raw string) error {
	switch {
	case dl.IsString:
		return c.handleFormatString(dl.FormatString, pos, raw)
	case dl.SelectIn != "":
		return c.handleSelectIn(dl.SelectIn, pos, raw)
	case dl.SelectOut != "":
		return c.handleSelectOut(dl.SelectOut, dl.OutDup, pos, raw)
	case dl.Name == "":
		return nil
	}

	if kind, k, extBits, n, msgName, ok := parseMsgDirective(dl.Name); ok {
		return c.handleMsgDirective(kind, k, extBits, n, msgName, pos, raw)
	}

	switch dl.Name {
	case "FILTER":
		return c.handleFilter(dl.Args, pos, raw)
	case "MEMO":
		return c.handleMemo(dl.Args, pos, raw)
	case "IN_FILE":
		return c.handleInFile(dl.Args, pos, raw)
	case "OUT_FILE":
		return c.handleOutFile(dl.Args, pos, raw)
	case "INCLUDE":
		return c.handleInclude(dl.Args, pos, raw)
	case "FMT_ALIGN":
		return c.handleFmtAlign(dl.Args, pos, raw)
	case "FMT_START":
		return c.handleFmtStart(dl.Args, pos, raw)
	default:
		return NewError(pos, ErrUnknownDirective, raw, "unknown directive %q", dl.Name)
	}
}

// resolvePath joins a directive-relative path against baseDir unless p is
// already absolute.
func resolvePath(baseDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}
