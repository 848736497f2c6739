package decode

import (
	"errors"
	"fmt"

	"github.com/rtedbg/rtemsg/fidalloc"
	"github.com/rtedbg/rtemsg/format"
)

// ErrEOF is returned by Reassembler.Next once the word stream is
// exhausted with no partial sub-packet pending.
var ErrEOF = errors.New("decode: end of word stream")

// MaxRawDataSize bounds how many DATA words may accumulate without a
// closing FMT word before the block is declared bad (spec.md §4.4
// "MAX_RAW_DATA_SIZE"). A sub-packet never carries more than 4 DATA
// words, so 8 gives headroom for a corrupt stream before giving up.
const MaxRawDataSize = 8

// MaxMsgBlocks bounds sub-packet chaining (spec.md §4.4 "the cap is
// 4 x MAX_MSG_BLOCKS"). 64 sub-packets (256 data words) comfortably
// covers the largest fixed message kind (MSG4, 4 data words) chained
// with a generous MSGN/MSGX allowance.
const MaxMsgBlocks = 64

// EmptySentinel marks an unwritten circular-buffer word (same value as
// loader.EmptySlot; decode doesn't import loader to avoid a domain
// dependency between the two packages).
const EmptySentinel uint32 = 0xFFFFFFFF

// Assembled is one fully reassembled message handed to the Timestamp
// Reconstructor and Value Decoder (spec.md §4.4 "Per-message dispatch").
type Assembled struct {
	FID            format.FID
	Plan           *format.Plan
	Words          []uint32 // DATA words, bit 31 restored, in order
	AdditionalData uint32
	TstampL        uint32
	MessageNo      uint64
}

// Reassembler walks an ordered word stream splitting it into messages
// (spec.md §4.4). Bit 0 of a word distinguishes DATA (0) from FMT (1).
type Reassembler struct {
	words []uint32
	pos   int

	alloc      *fidalloc.Allocator
	fmtIDBits  int
	fmtIDShift uint

	errs  *Counters
	msgNo uint64
}

// New creates a Reassembler over words, resolving FIDs against alloc
// (idBits must match the value the trace header carried).
func New(words []uint32, alloc *fidalloc.Allocator, idBits int, errs *Counters) *Reassembler {
	return &Reassembler{
		words:      words,
		alloc:      alloc,
		fmtIDBits:  idBits,
		fmtIDShift: uint(32 - idBits),
		errs:       errs,
	}
}

// Next reassembles and returns the next message. It returns ErrEOF once
// the stream is exhausted. Bad or unfinished blocks are counted and
// skipped internally. A *Error is returned (non-fatal) only when a
// message exceeds MaxMsgBlocks sub-packets; the counter is already
// bumped, and the caller can call Next again to resume.
func (r *Reassembler) Next() (*Assembled, error) {
	for {
		rawData, fmtWord, status := r.readDataRun()
		switch status {
		case runEOF:
			return nil, ErrEOF
		case runSkipped:
			// readDataRun already recorded a bad/unfinished block and
			// repositioned past it; try the next sub-packet.
			continue
		}

		fid := format.FID(fmtWord >> r.fmtIDShift)
		tstampL := (fmtWord &^ 1) << uint(r.fmtIDBits)
		plan := r.alloc.Plan(fid)

		additionalData := redistributeBit31(fmtWord, rawData)
		assembled := append([]uint32{}, rawData...)
		tag := fmtWord &^ chainTagMask(r.fmtIDShift)

		blocks := 1
		for needsMoreSubpackets(plan, len(assembled)) {
			more, nextFmt, ok2 := r.peekChainedSubpacket(tag, r.fmtIDShift)
			if !ok2 {
				break
			}
			bits := redistributeBit31(nextFmt, more)
			additionalData |= bits << uint(4*blocks)
			assembled = append(assembled, more...)
			blocks++
			if blocks > MaxMsgBlocks {
				r.msgNo++
				r.errs.bump(CodeMessageTooLong)
				return nil, &Error{Code: CodeMessageTooLong, MessageNo: r.msgNo, SlotIndex: -1,
					Text: "message exceeded the maximum sub-packet chain length"}
			}
		}

		r.msgNo++
		return &Assembled{
			FID: fid, Plan: plan, Words: assembled,
			AdditionalData: additionalData, TstampL: tstampL, MessageNo: r.msgNo,
		}, nil
	}
}

// runStatus distinguishes a genuine end-of-stream, a bad/unfinished block
// that's already been recorded and skipped, and a real sub-packet (which
// may legitimately carry zero DATA words, e.g. a bare MSG0).
type runStatus int

const (
	runEOF runStatus = iota
	runSkipped
	runOK
)

// readDataRun reads DATA words (bit0==0) until a FMT word (bit0==1) is
// hit, implementing spec.md §4.4 step 1.
func (r *Reassembler) readDataRun() (data []uint32, fmtWord uint32, status runStatus) {
	if r.pos >= len(r.words) {
		return nil, 0, runEOF
	}

	var raw []uint32
	for r.pos < len(r.words) {
		w := r.words[r.pos]

		if w == EmptySentinel {
			if len(raw) > 0 {
				r.pos++
				r.errs.bump(CodeBadBlock)
				return nil, 0, runSkipped
			}
			for r.pos < len(r.words) && r.words[r.pos] == EmptySentinel {
				r.pos++
			}
			r.errs.bump(CodeUnfinishedBlock)
			return nil, 0, runSkipped
		}

		if w&1 == 1 {
			r.pos++
			return raw, w, runOK
		}

		raw = append(raw, w)
		r.pos++
		if len(raw) >= MaxRawDataSize {
			r.errs.bump(CodeBadBlock)
			return nil, 0, runSkipped
		}
	}
	// Ran out of words mid sub-packet: no closing FMT word arrived.
	if len(raw) > 0 {
		r.errs.bump(CodeUnfinishedBlock)
	}
	return nil, 0, runEOF
}

// peekChainedSubpacket looks ahead up to 5 words for a FMT word whose
// high bits (above the timestamp field) match tag, per spec.md §4.4
// step 6. It only consumes input when a match is found.
func (r *Reassembler) peekChainedSubpacket(tag uint32, fmtIDShift uint) (data []uint32, fmtWord uint32, ok bool) {
	start := r.pos
	var raw []uint32
	for i := start; i < len(r.words) && i < start+5; i++ {
		w := r.words[i]
		if w&1 == 0 {
			raw = append(raw, w)
			continue
		}
		if w&chainTagMask(fmtIDShift) != tag {
			return nil, 0, false
		}
		r.pos = i + 1
		return raw, w, true
	}
	return nil, 0, false
}

// chainTagMask isolates the bits a FMT word's fid+marker occupy, used to
// match sub-packets belonging to the same message (spec.md §4.4 step 6
// "a FMT word whose (fmt & mask) == tag").
func chainTagMask(fmtIDShift uint) uint32 {
	return (^uint32(0) << fmtIDShift) | 1
}

// needsMoreSubpackets reports whether plan's expected byte length implies
// more DATA words remain beyond what has been assembled so far. MSGN/MSGX
// plans (unknown length at compile time) always probe for one more
// sub-packet; the caller stops once the lookahead fails to find a match.
func needsMoreSubpackets(plan *format.Plan, gotWords int) bool {
	if plan == nil {
		return false
	}
	switch plan.Kind {
	case format.MsgN, format.MsgX:
		return true
	default:
		wantWords := plan.ExpectedLenBytes / 4
		return gotWords < wantWords
	}
}

// redistributeBit31 restores bit 31 of each DATA word from the FMT
// word's low bits (spec.md §4.4 "bit 31 of each DATA word is harvested
// from the low bits of the FMT word") and returns the bits consumed as a
// packed nibble (one bit per DATA word, up to 4).
//
// The source hardware's exact bit layout for this compression trick is
// not specified beyond this sentence (see DESIGN.md); this reads the 4
// bits immediately above the FMT marker bit as the restoration source,
// which doesn't collide with the fid field (top fmtIDBits bits) for any
// configured id width.
func redistributeBit31(fmtWord uint32, data []uint32) uint32 {
	bits := (fmtWord >> 1) & 0xF
	for i := range data {
		if i >= 4 {
			break
		}
		bit := (bits >> uint(i)) & 1
		data[i] = (data[i] &^ (1 << 31)) | (bit << 31)
	}
	return bits
}

// FinalizeMsgX validates and trims an MSGX message per spec.md §4.4
// "MSGX finalization": the last byte of the last data word holds the
// message size in bytes.
func FinalizeMsgX(words []uint32) ([]byte, error) {
	if len(words) == 0 {
		return nil, fmt.Errorf("MSGX message has no data words")
	}
	last := words[len(words)-1]
	size := int(last >> 24)
	maxSize := 4*len(words) - 1
	minSize := 4*len(words) - 4
	if size > maxSize || size < minSize {
		return nil, fmt.Errorf("MSGX size byte %d out of range [%d,%d]", size, minSize, maxSize)
	}

	buf := make([]byte, 4*len(words))
	for i, w := range words {
		buf[4*i+0] = byte(w)
		buf[4*i+1] = byte(w >> 8)
		buf[4*i+2] = byte(w >> 16)
		buf[4*i+3] = byte(w >> 24)
	}
	// buf[len(buf)-1] is the size byte itself, not padding; exclude it.
	for i := size; i < len(buf)-1; i++ {
		if buf[i] != 0 {
			return nil, fmt.Errorf("MSGX padding byte %d is non-zero", i)
		}
	}
	return buf[:size], nil
}
