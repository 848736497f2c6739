package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rtedbg/rtemsg/enumtable"
	"github.com/rtedbg/rtemsg/format"
)

// parseMsgDirective recognizes the four message-defining directive name
// shapes (spec.md §4.1): MSG<k>_NAME, EXT_MSG<k>_<b>_NAME, MSGN[_<n>]_NAME
// and MSGX_NAME. It is hand-written string matching, not a regexp, to
// match the lexer's manual-scan style throughout this package.
func parseMsgDirective(name string) (kind format.MsgKind, k, extBits, n int, msgName string, ok bool) {
	switch {
	case strings.HasPrefix(name, "EXT_MSG"):
		rest := name[len("EXT_MSG"):]
		parts := strings.SplitN(rest, "_", 3)
		if len(parts) != 3 {
			return
		}
		kk, err1 := strconv.Atoi(parts[0])
		bb, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil || parts[2] == "" {
			return
		}
		if kk < 0 || kk > 4 || bb < 1 || bb > 8-kk {
			return
		}
		return format.ExtMsg, kk, bb, 0, parts[2], true

	case strings.HasPrefix(name, "MSGX_"):
		rest := name[len("MSGX_"):]
		if rest == "" {
			return
		}
		return format.MsgX, 0, 0, 0, rest, true

	case strings.HasPrefix(name, "MSGN"):
		rest := strings.TrimPrefix(name[len("MSGN"):], "_")
		if rest == "" {
			return
		}
		if idx := strings.IndexByte(rest, '_'); idx > 0 {
			if nn, err := strconv.Atoi(rest[:idx]); err == nil {
				return format.MsgN, 0, 0, nn, rest[idx+1:], true
			}
		}
		return format.MsgN, 0, 0, 0, rest, true

	case strings.HasPrefix(name, "MSG") && len(name) > 3 && name[3] >= '0' && name[3] <= '4':
		kk := int(name[3] - '0')
		rest := strings.TrimPrefix(name[4:], "_")
		if rest == "" {
			return
		}
		return format.Msg0to8, kk, 0, 0, rest, true
	}
	return
}

func (c *Compiler) handleMsgDirective(kind format.MsgKind, k, extBits, n int, msgName string, pos Position, raw string) error {
	if _, exists := c.plansByName[msgName]; exists {
		return NewError(pos, ErrDuplicateName, raw, "message %q already defined", msgName)
	}

	plan := &format.Plan{Name: msgName, Kind: kind}
	var size int
	switch kind {
	case format.Msg0to8:
		size = 1 << uint(k)
		plan.ExpectedLenBytes = 4 * k
	case format.ExtMsg:
		size = 1 << uint(k+extBits)
		plan.ExtDataMask = uint32((1 << uint(extBits)) - 1)
		plan.ExpectedLenBytes = 4 + 4*k
	case format.MsgN:
		size = 16
		if n > 0 {
			if n > format.MaxMsgLength {
				return NewError(pos, ErrSyntax, raw, "MSGN length %d exceeds MAX_MSG_LENGTH (%d)", n, format.MaxMsgLength)
			}
			plan.ExpectedLenBytes = 4 * n
		}
	case format.MsgX:
		size = 16
	default:
		return NewError(pos, ErrSyntax, raw, "unrecognized message directive")
	}

	start, err := c.alloc.Allocate(size, plan)
	if err != nil {
		return NewError(pos, ErrAllocation, raw, "%s", err)
	}

	c.plansByName[msgName] = plan
	c.plans = append(c.plans, plan)
	c.pending = &messageState{plan: plan, selectedOutFile: 0, selectedInFile: format.NoEnumIndex}

	if c.opts.CheckOnly && !c.opts.Purge && len(c.headerStack) > 0 {
		hw := c.headerStack[len(c.headerStack)-1]
		hw.defines = append(hw.defines, fmt.Sprintf("#define %s %d", msgName, start))
	}
	return nil
}

func (c *Compiler) handleFilter(args []string, pos Position, raw string) error {
	if len(args) < 1 || args[0] == "" {
		return NewError(pos, ErrSyntax, raw, "FILTER requires a name")
	}
	name := args[0]
	desc := ""
	if len(args) >= 2 {
		desc = unquoteArg(args[1])
	}
	idx, err := c.enum.Intern(name, enumtable.KindFilter, desc)
	if err != nil {
		return NewError(pos, ErrDuplicateName, raw, "%s", err)
	}
	if c.opts.CheckOnly && !c.opts.Purge && len(c.headerStack) > 0 {
		hw := c.headerStack[len(c.headerStack)-1]
		hw.defines = append(hw.defines, fmt.Sprintf("#define %s %d", name, idx))
	}
	return nil
}

func (c *Compiler) handleMemo(args []string, pos Position, raw string) error {
	if len(args) < 1 || args[0] == "" {
		return NewError(pos, ErrSyntax, raw, "MEMO requires a name")
	}
	name := args[0]
	var initial float64
	if len(args) >= 2 && strings.TrimSpace(args[1]) != "" {
		v, err := strconv.ParseFloat(strings.TrimSpace(args[1]), 64)
		if err != nil {
			return NewError(pos, ErrSyntax, raw, "bad MEMO initial value %q: %s", args[1], err)
		}
		initial = v
	}
	idx, err := c.enum.Intern(name, enumtable.KindMemo, initial)
	if err != nil {
		return NewError(pos, ErrDuplicateName, raw, "%s", err)
	}
	c.memos[idx] = initial
	return nil
}

func (c *Compiler) handleInFile(args []string, pos Position, raw string) error {
	if len(args) < 2 || args[0] == "" || args[1] == "" {
		return NewError(pos, ErrBadFileDirective, raw, "IN_FILE requires a name and a path")
	}
	name := args[0]
	path := unquoteArg(args[1])
	full := resolvePath(filepath.Dir(c.include.current()), path)
	if c.usedPaths[full] {
		return NewError(pos, ErrBadFileDirective, raw, "path %q already used by another IN_FILE/OUT_FILE", path)
	}

	data, err := os.ReadFile(full) // #nosec G304 -- operator-supplied indexed-text file
	if err != nil {
		return NewError(pos, ErrFileIO, raw, "reading IN_FILE %q: %s", path, err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) < 2 {
		return NewError(pos, ErrBadIndexedText, raw, "IN_FILE %q needs at least 2 lines, got %d", path, len(lines))
	}
	opts := make([][]byte, 0, len(lines))
	for _, l := range lines {
		if len(l) < 1 || len(l) > 255 {
			return NewError(pos, ErrBadIndexedText, raw, "IN_FILE %q line %q must be 1..255 bytes", path, l)
		}
		opts = append(opts, []byte(l))
	}

	idx, err := c.enum.Intern(name, enumtable.KindInFile, path)
	if err != nil {
		return NewError(pos, ErrDuplicateName, raw, "%s", err)
	}
	c.inFiles[idx] = opts
	c.usedPaths[full] = true
	return nil
}

func (c *Compiler) handleOutFile(args []string, pos Position, raw string) error {
	if len(args) < 3 || args[0] == "" || args[1] == "" || args[2] == "" {
		return NewError(pos, ErrBadFileDirective, raw, "OUT_FILE requires a name, a path and a mode")
	}
	name := args[0]
	path := unquoteArg(args[1])
	mode := unquoteArg(args[2])
	var initial string
	if len(args) >= 4 {
		initial = unquoteArg(args[3])
	}

	full := resolvePath(c.opts.OutputDir, path)
	if c.usedPaths[full] {
		return NewError(pos, ErrBadFileDirective, raw, "path %q already used by another IN_FILE/OUT_FILE", path)
	}
	flags, err := openFlagsForMode(mode)
	if err != nil {
		return NewError(pos, ErrBadFileDirective, raw, "OUT_FILE mode %q: %s", mode, err)
	}

	idx, err := c.enum.Intern(name, enumtable.KindOutFile, path)
	if err != nil {
		return NewError(pos, ErrDuplicateName, raw, "%s", err)
	}

	if !c.opts.CheckOnly {
		f, err := os.OpenFile(full, flags, 0o644) // #nosec G304,G302 -- operator-declared output target
		if err != nil {
			return NewError(pos, ErrFileIO, raw, "opening OUT_FILE %q: %s", path, err)
		}
		if initial != "" {
			if _, err := f.WriteString(initial); err != nil {
				return NewError(pos, ErrFileIO, raw, "writing OUT_FILE %q initial text: %s", path, err)
			}
		}
		c.outFiles[idx] = f
	}
	c.usedPaths[full] = true
	return nil
}

// openFlagsForMode translates a C fopen-style mode string ("w", "a",
// "ab", "w+", ...) into os.OpenFile flags.
func openFlagsForMode(mode string) (int, error) {
	var flag int
	switch {
	case strings.Contains(mode, "a"):
		flag = os.O_APPEND | os.O_CREATE
	case strings.Contains(mode, "w"):
		flag = os.O_CREATE | os.O_TRUNC
	default:
		return 0, fmt.Errorf("must contain 'w' or 'a'")
	}
	if strings.Contains(mode, "x") {
		flag |= os.O_EXCL
	}
	if strings.Contains(mode, "+") {
		flag |= os.O_RDWR
	} else {
		flag |= os.O_WRONLY
	}
	return flag, nil
}

func (c *Compiler) handleInclude(args []string, pos Position, raw string) error {
	if len(args) != 1 || args[0] == "" {
		return NewError(pos, ErrSyntax, raw, "INCLUDE takes exactly one path argument")
	}
	rel := unquoteArg(args[0])
	resolved := resolvePath(filepath.Dir(c.include.current()), rel)

	err := c.compileFile(resolved)
	if err == nil {
		return nil
	}
	if ie, ok := err.(*includeError); ok {
		if ie.fatal {
			return err
		}
		return NewError(pos, ErrInclude, raw, "%s", ie.msg)
	}
	return NewError(pos, ErrFileIO, raw, "%s", err)
}

func (c *Compiler) handleFmtAlign(args []string, pos Position, raw string) error {
	v, err := oneIntArg(args, "FMT_ALIGN")
	if err != nil {
		return NewError(pos, ErrSyntax, raw, "%s", err)
	}
	if err := c.alloc.Align(v); err != nil {
		return NewError(pos, ErrAllocation, raw, "%s", err)
	}
	return nil
}

func (c *Compiler) handleFmtStart(args []string, pos Position, raw string) error {
	v, err := oneIntArg(args, "FMT_START")
	if err != nil {
		return NewError(pos, ErrSyntax, raw, "%s", err)
	}
	if err := c.alloc.Start(v); err != nil {
		return NewError(pos, ErrAllocation, raw, "%s", err)
	}
	return nil
}

func oneIntArg(args []string, directive string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%s takes exactly one argument", directive)
	}
	v, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil {
		return 0, fmt.Errorf("%s argument %q is not an integer", directive, args[0])
	}
	return v, nil
}

func (c *Compiler) handleSelectIn(name string, pos Position, raw string) error {
	if c.pending == nil {
		return NewError(pos, ErrSyntax, raw, "<%s has no pending message", name)
	}
	idx, ok := c.enum.FindKind(name, enumtable.KindInFile)
	if !ok {
		return NewError(pos, ErrBadFileDirective, raw, "undefined IN_FILE %q", name)
	}
	c.pending.selectedInFile = idx
	return nil
}

func (c *Compiler) handleSelectOut(name string, dup bool, pos Position, raw string) error {
	if c.pending == nil {
		return NewError(pos, ErrSyntax, raw, ">%s has no pending message", name)
	}
	idx, ok := c.enum.FindKind(name, enumtable.KindOutFile)
	if !ok {
		return NewError(pos, ErrBadFileDirective, raw, "undefined OUT_FILE %q", name)
	}
	c.pending.selectedOutFile = idx
	c.pending.alsoMainLog = dup
	c.pending.bitCursor = 0
	return nil
}

func (c *Compiler) handleFormatString(s string, pos Position, raw string) error {
	if c.pending == nil {
		return NewError(pos, ErrSyntax, raw, "format string with no pending message (missing MSG directive)")
	}
	runs, trailing, err := scanFormatString(s)
	if err != nil {
		return NewError(pos, ErrSyntax, raw, "%s", err)
	}

	ms := c.pending
	plainText := func(text string) format.ValueSlot {
		return format.ValueSlot{
			PrintKind:    format.PrintPlainText,
			FormatString: text,
			OutFile:      ms.selectedOutFile,
			AlsoMainLog:  ms.alsoMainLog,
			InFile:       format.NoEnumIndex,
			GetMemo:      format.NoEnumIndex,
			PutMemo:      format.NoEnumIndex,
		}
	}

	for _, r := range runs {
		if r.LeadingLiteral != "" {
			ms.plan.Slots = append(ms.plan.Slots, plainText(r.LeadingLiteral))
		}
		slot, err := c.buildValueSlot(r, pos, raw)
		if err != nil {
			return err
		}
		ms.plan.Slots = append(ms.plan.Slots, slot)
	}
	if trailing != "" {
		ms.plan.Slots = append(ms.plan.Slots, plainText(trailing))
	}
	return nil
}
