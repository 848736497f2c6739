package decode

import (
	"fmt"
	"io"
	"os"

	"github.com/rtedbg/rtemsg/enumtable"
	"github.com/rtedbg/rtemsg/fidalloc"
	"github.com/rtedbg/rtemsg/format"
	"github.com/rtedbg/rtemsg/parser"
)

// Options configures a decode run (spec.md §6 CLI options affecting
// decoding rather than compilation).
type Options struct {
	TimeTemplate   string // -T=FMT, prefixed with %
	NumberTemplate string // -nr=FMT, prefixed with %
	SourceDate     string // printed by PrintDate slots
	Newline        bool   // -newline: blank line between message records
	TicksPerSecond float64
	DecimalComma   bool // -locale=NAME resolved to a comma-decimal locale
}

// Decoder is the mutable aggregate a decode run accumulates into: the
// compiled plan/enum state handed over from package parser, the live
// memo/out-file state, the timestamp reconstructor and the per-code error
// counters (spec.md §5 "all state lives in a single process-wide
// aggregate", the same shape as parser.Compiler on the compile side).
type Decoder struct {
	opts Options

	enum  *enumtable.Table
	alloc *fidalloc.Allocator
	plans []*format.Plan

	memos    map[int]float64
	outFiles map[int]*os.File
	inFiles  map[int][][]byte

	recon    *Reconstructor
	counters *Counters
	outputs  *OutputSet

	timeTemplate   string
	numberTemplate string
	sourceDate     string
	decimalComma   bool

	msgNo      uint64
	currentFID format.FID
}

// NewDecoder builds a Decoder from a finished compilation Result and the
// output streams to write into (spec.md §5: compile and decode are
// strictly sequential phases, Result is the handoff between them).
func NewDecoder(res parser.Result, outputs *OutputSet, opts Options) *Decoder {
	timeTemplate := "%" + opts.TimeTemplate
	if opts.TimeTemplate == "" {
		timeTemplate = "%.6f"
	}
	numberTemplate := "%" + opts.NumberTemplate
	if opts.NumberTemplate == "" {
		numberTemplate = "%d"
	}
	ticks := opts.TicksPerSecond
	if ticks <= 0 {
		ticks = 1
	}
	return &Decoder{
		opts:           opts,
		enum:           res.Enum,
		alloc:          res.Alloc,
		plans:          res.Plans,
		memos:          res.Memos,
		outFiles:       res.OutFiles,
		inFiles:        res.InFiles,
		recon:          NewReconstructor(ticks),
		counters:       newCounters(),
		outputs:        outputs,
		timeTemplate:   timeTemplate,
		numberTemplate: numberTemplate,
		sourceDate:     opts.SourceDate,
		decimalComma:   opts.DecimalComma,
	}
}

// Counters exposes the accumulated decode-error counts.
func (d *Decoder) Counters() *Counters { return d.counters }

// Run decodes the full ordered word stream, writing decoded messages and
// errors to the configured OutputSet (spec.md §4.4 "Per-message
// dispatch").
func (d *Decoder) Run(words []uint32) error {
	r := New(words, d.alloc, d.fmtIDBits(), d.counters)

	for {
		asm, err := r.Next()
		if err == ErrEOF {
			return nil
		}
		if derr, ok := err.(*Error); ok {
			_ = d.outputs.ErrorsLog.WriteString(derr.Error() + "\n")
			continue
		}
		if err != nil {
			return fmt.Errorf("reassembling message stream: %w", err)
		}
		d.dispatch(asm)
	}
}

func (d *Decoder) fmtIDBits() int {
	// topmost = 2^N - 2 => N = log2(topmost+2); derived once from the
	// allocator rather than stored twice.
	topmost := int(d.alloc.Topmost()) + 2
	bits := 0
	for topmost > 1 {
		topmost >>= 1
		bits++
	}
	return bits
}

func (d *Decoder) dispatch(asm *Assembled) {
	switch asm.FID {
	case format.LongTimestamp:
		var high uint32
		if len(asm.Words) > 0 {
			high = asm.Words[0]
		}
		d.recon.LongTimestamp(high, d.msgNo)
		return
	case format.TstampFrequency:
		if len(asm.Words) > 0 {
			d.recon.SetFrequency(float64(asm.Words[0]))
		}
		return
	case d.alloc.StreamingMark():
		return
	}

	plan := asm.Plan
	if plan == nil {
		d.counters.bump(CodeUnknownFID)
		me := &messageErrors{}
		me.add(&Error{Code: CodeUnknownFID, MessageNo: d.msgNo, SlotIndex: -1, Text: fmt.Sprintf("no plan registered for fid %d", asm.FID)})
		d.flushMessageErrors(me)
		return
	}

	msg := wordsToBytes(asm.Words)
	if plan.Kind == format.MsgX {
		trimmed, err := FinalizeMsgX(asm.Words)
		if err != nil {
			d.counters.bump(CodeMsgXCorrupt)
			_ = d.outputs.ErrorsLog.WriteString(fmt.Sprintf("decode(%s) msg#%d: %s\n", CodeMsgXCorrupt, d.msgNo, err))
			return
		}
		msg = trimmed
	}

	d.msgNo++
	ts := d.recon.Accept(asm.TstampL, d.msgNo)
	d.currentFID = asm.FID

	me := &messageErrors{}
	var line string
	for i := range plan.Slots {
		slot := &plan.Slots[i]
		text, err := d.decodeSlot(slot, i, plan, msg, ts, d.msgNo)
		if err != nil {
			me.add(&Error{Code: CodeSlotDecode, MessageNo: d.msgNo, SlotIndex: i, Text: err.Error()})
			continue
		}
		target := d.outFileHandle(slot.OutFile)
		if target == d.outputs.MainLog || slot.AlsoMainLog {
			line += text
		}
		if target != d.outputs.MainLog {
			_, _ = target.Write([]byte(text))
		}
	}
	if ts.GapFlagged {
		line = "*" + line
	}
	if line != "" {
		_ = d.outputs.MainLog.WriteString(line)
		if d.opts.Newline {
			_ = d.outputs.MainLog.WriteString("\n")
		}
	}

	plan.Instances++
	plan.TotalWords += uint64(len(asm.Words))
	plan.LastMessageNo = d.msgNo
	plan.TimeLastMessage = ts.Seconds

	if me.any() {
		d.flushMessageErrors(me)
		// spec.md §4.6: an error inside slot processing raises the
		// "no previous timestamp" flag so the next message begins a
		// long-timestamp re-sync.
		d.recon.FlagResync()
	}
}

func (d *Decoder) flushMessageErrors(me *messageErrors) {
	for _, e := range me.errs {
		d.counters.bump(e.Code)
		_ = d.outputs.ErrorsLog.WriteString(e.Error() + "\n")
	}
	if me.overflow > 0 {
		_ = d.outputs.ErrorsLog.WriteString(fmt.Sprintf("... %d additional slot error(s) not shown\n", me.overflow))
	}
}

func (d *Decoder) outFileHandle(idx int) io.Writer {
	if idx == 0 {
		return d.outputs.MainLog
	}
	if f, ok := d.outFiles[idx]; ok && f != nil {
		return f
	}
	return d.outputs.MainLog
}

func wordsToBytes(words []uint32) []byte {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		buf[4*i+0] = byte(w)
		buf[4*i+1] = byte(w >> 8)
		buf[4*i+2] = byte(w >> 16)
		buf[4*i+3] = byte(w >> 24)
	}
	return buf
}
