package parser

import (
	"strconv"
	"strings"

	"github.com/rtedbg/rtemsg/enumtable"
	"github.com/rtedbg/rtemsg/format"
)

// typeCharPrintKind maps a format-string terminator to its print kind
// (spec.md §3, §4.2.2). Independent of whether a bracket value specifier
// was present: the terminator always controls how the value is rendered.
func typeCharPrintKind(c byte) (format.PrintKind, bool) {
	switch c {
	case 'd', 'i':
		return format.PrintInt64, true
	case 'o', 'u', 'x', 'X', 'c':
		return format.PrintUint64, true
	case 's':
		return format.PrintString, true
	case 'e', 'E', 'f', 'F', 'g', 'G', 'a', 'A':
		return format.PrintDouble, true
	case 't':
		return format.PrintDTimestamp, true
	case 'T', 'W':
		return format.PrintTimestamp, true
	case 'N':
		return format.PrintMsgNo, true
	case 'Y':
		return format.PrintSelectedText, true
	case 'B':
		return format.PrintBinary, true
	case 'H':
		return format.PrintHex1, true // width digit refines to Hex2/Hex4 below
	case 'D':
		return format.PrintDate, true
	case 'M':
		return format.PrintMsgName, true
	}
	return 0, false
}

// defaultSource describes the value this type char pulls when no "[...]"
// value specifier is present (spec.md §4.2.2's blanket default plus the
// natural per-type defaults: %s with no bracket means the whole message,
// %D/%M/%H need no extracted value at all).
type defaultSource struct {
	valueKind      format.ValueKind
	dataBits       int
	consumesCursor bool // true if this default allocates 32 bits from the running cursor
	noExtraction   bool // true if no value is extracted into the registers (D, M, H; H dumps bytes directly)
}

func defaultSourceForType(c byte) defaultSource {
	switch c {
	case 's':
		return defaultSource{valueKind: format.ValueString, dataBits: 0}
	case 't':
		return defaultSource{valueKind: format.ValueDTimestamp}
	case 'T', 'W':
		return defaultSource{valueKind: format.ValueTimestamp}
	case 'N':
		return defaultSource{valueKind: format.ValueMessageNo}
	case 'D', 'M':
		return defaultSource{noExtraction: true}
	case 'H':
		return defaultSource{noExtraction: true}
	default: // numeric printf types and Y/B: 32-bit AUTO at the running cursor
		return defaultSource{valueKind: format.ValueAuto, dataBits: 32, consumesCursor: true}
	}
}

// buildValueSlot resolves one scanned "%"-run, against the compiler's
// live enum table, memo table and the pending message's bit cursor, into
// a finished format.ValueSlot.
func (c *Compiler) buildValueSlot(r run, pos Position, context string) (format.ValueSlot, error) {
	ms := c.pending
	slot := format.ValueSlot{
		OutFile:     ms.selectedOutFile,
		AlsoMainLog: ms.alsoMainLog,
		InFile:      format.NoEnumIndex,
		GetMemo:     format.NoEnumIndex,
		PutMemo:     format.NoEnumIndex,

		TrailingText: r.TrailingLiteral,
	}

	printKind, ok := typeCharPrintKind(r.TypeChar)
	if !ok {
		return slot, NewError(pos, ErrSyntax, context, "unsupported format type %%%c", r.TypeChar)
	}
	slot.PrintKind = printKind
	if r.TypeChar == 'H' {
		switch hexWidthDigit(r.FlagsWidthPrec) {
		case 2:
			slot.PrintKind = format.PrintHex2
		case 4:
			slot.PrintKind = format.PrintHex4
		}
	}

	// Plain printf types keep their verb so fprintf can render the value
	// (spec.md §3 "format_string"); only the RTE-specific types have their
	// "%...TYPE" stripped down to the surrounding literal (spec.md §4.2.2).
	switch slot.PrintKind {
	case format.PrintUint64, format.PrintInt64, format.PrintDouble, format.PrintString:
		slot.FormatString = "%" + r.FlagsWidthPrec + string(r.TypeChar)
	}

	def := defaultSourceForType(r.TypeChar)

	switch {
	case r.Spec == nil && def.noExtraction:
		// D, M, H: nothing to extract; print_kind alone drives output.

	case r.Spec == nil && def.consumesCursor:
		if ms.bitCursor%32 != 0 {
			return slot, NewError(pos, ErrBadValueSpec, context,
				"implicit 32-bit value at non-32-aligned bit cursor %d", ms.bitCursor)
		}
		slot.ValueKind = def.valueKind
		slot.BitAddress = ms.bitCursor
		slot.DataBits = 32
		ms.bitCursor += 32

	case r.Spec == nil:
		slot.ValueKind = def.valueKind
		slot.DataBits = def.dataBits

	default:
		if err := c.applyValueSpec(r.Spec, &slot, ms, pos, context); err != nil {
			return slot, err
		}
	}

	switch slot.PrintKind {
	case format.PrintHex1, format.PrintHex2, format.PrintHex4:
		if slot.BitAddress%8 != 0 {
			return slot, NewError(pos, ErrBadValueSpec, context, "%%H requires a byte-aligned address, got bit %d", slot.BitAddress)
		}
	}

	if r.Scale != nil {
		if r.Spec == nil {
			return slot, NewError(pos, ErrBadScale, context, "scale requires a value specifier ([...]) on the same %%")
		}
		slot.HasScale = true
		if r.Scale.HasOffset {
			slot.ScaleOffset = r.Scale.Offset
		}
		if r.Scale.HasMult {
			slot.ScaleMultiplier = r.Scale.Mult
		}
	}

	if r.StoreMemo != "" {
		idx, ok := c.enum.FindKind(r.StoreMemo, enumtable.KindMemo)
		if !ok {
			return slot, NewError(pos, ErrSyntax, context, "unknown memo %q in <%s>", r.StoreMemo, r.StoreMemo)
		}
		slot.PutMemo = idx
	}

	if r.StatName != "" {
		slot.Stats = format.NewSlotStats(r.StatName)
	}

	if r.TypeChar == 'Y' {
		switch {
		case r.InlineText != nil:
			slot.InlineText = r.InlineText
		case ms.selectedInFile != format.NoEnumIndex:
			slot.InFile = ms.selectedInFile
		default:
			return slot, NewError(pos, ErrBadIndexedText, context,
				"%%Y needs an inline {a|b|...} list or a preceding <NAME selector")
		}
	} else if r.InlineText != nil {
		return slot, NewError(pos, ErrBadIndexedText, context, "inline indexed text is only valid with %%Y")
	}

	return slot, nil
}

// applyValueSpec resolves a "[...]" value specifier into the slot's value
// source, advancing the pending message's bit cursor for bit-field specs.
func (c *Compiler) applyValueSpec(vs *valueSpec, slot *format.ValueSlot, ms *messageState, pos Position, context string) error {
	switch vs.Kind {
	case valueSpecMessageNo:
		slot.ValueKind = format.ValueMessageNo
	case valueSpecDTimestamp:
		slot.ValueKind = format.ValueDTimestamp
	case valueSpecTimestamp:
		slot.ValueKind = format.ValueTimestamp
	case valueSpecTimeDiff:
		plan, ok := c.plansByName[vs.TimerName]
		if !ok {
			return NewError(pos, ErrSyntax, context, "unknown message %q in [t-%s]", vs.TimerName, vs.TimerName)
		}
		slot.ValueKind = format.ValueTimeDiff
		slot.TimerFID = plan.BaseFID
	case valueSpecMemo:
		idx, ok := c.enum.FindKind(vs.MemoName, enumtable.KindMemo)
		if !ok {
			return NewError(pos, ErrSyntax, context, "unknown memo %q in [%s]", vs.MemoName, vs.MemoName)
		}
		slot.ValueKind = format.ValueMemo
		slot.GetMemo = idx
	case valueSpecBitField:
		addr := ms.bitCursor
		if vs.HasAddr {
			if vs.AddrIsDelta {
				addr = ms.bitCursor + vs.AddrDelta
			} else {
				addr = vs.AddrDelta
			}
		}
		if addr < 0 {
			return NewError(pos, ErrBadValueSpec, context, "bit address %d is negative", addr)
		}
		if (vs.Type == 'f' || vs.Type == 's') && addr%8 != 0 {
			return NewError(pos, ErrBadValueSpec, context, "type <%c> requires a byte-aligned address, got bit %d", vs.Type, addr)
		}
		slot.BitAddress = addr
		slot.DataBits = vs.Size
		switch vs.Type {
		case 'f':
			slot.ValueKind = format.ValueDouble
		case 'i':
			slot.ValueKind = format.ValueInt64
		case 's':
			slot.ValueKind = format.ValueString
		default:
			slot.ValueKind = format.ValueUint64
		}
		if vs.Type != 's' {
			ms.bitCursor = addr + vs.Size
		} else if vs.Size > 0 {
			ms.bitCursor = addr + vs.Size
		}
	}
	return nil
}

// hexWidthDigit extracts the leading 1/2/4 width digit preceding a %H
// conversion (spec.md §4.2.2: "the width digit before H selects mode").
func hexWidthDigit(flagsWidthPrec string) int {
	digits := strings.TrimLeft(flagsWidthPrec, "-+# 0.hl")
	if digits == "" {
		return 1
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 1
	}
	return n
}
