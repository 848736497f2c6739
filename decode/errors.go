// Package decode implements the Message Reassembler, Timestamp
// Reconstructor, Value Decoder/Printer and Statistics components
// (spec.md §4.4-§4.7): everything that turns the ordered word stream
// package loader produces into decoded message text.
package decode

import "fmt"

// Code is a decode-band diagnostic code (spec.md §7: decode errors are
// band 200+).
type Code int

const (
	CodeBadBlock Code = 200 + iota
	CodeUnfinishedBlock
	CodeMessageTooLong
	CodeMsgXCorrupt
	CodeUnknownFID
	CodeSlotDecode
	CodeTimestampGap
)

func (c Code) String() string {
	names := map[Code]string{
		CodeBadBlock:        "bad-block",
		CodeUnfinishedBlock: "unfinished-block",
		CodeMessageTooLong:  "message-too-long",
		CodeMsgXCorrupt:     "msgx-corrupt",
		CodeUnknownFID:      "unknown-fid",
		CodeSlotDecode:      "slot-decode",
		CodeTimestampGap:    "timestamp-gap",
	}
	if n, ok := names[c]; ok {
		return n
	}
	return fmt.Sprintf("code-%d", int(c))
}

// Error is one decode-band diagnostic, reported per-message (spec.md §7).
type Error struct {
	Code      Code
	MessageNo uint64
	SlotIndex int // -1 if not tied to a particular slot
	Text      string
}

func (e *Error) Error() string {
	if e.SlotIndex >= 0 {
		return fmt.Sprintf("decode(%s) msg#%d slot %d: %s", e.Code, e.MessageNo, e.SlotIndex, e.Text)
	}
	return fmt.Sprintf("decode(%s) msg#%d: %s", e.Code, e.MessageNo, e.Text)
}

// MaxErrorsInSingleMessage bounds the per-message error ring (spec.md
// §4.6 "MAX_ERRORS_IN_SINGLE_MESSAGE"). The source does not fix a number;
// 16 is generous for a single reassembled message's worth of slots while
// still bounding memory on a pathological format.
const MaxErrorsInSingleMessage = 16

// messageErrors accumulates decode errors for one message without
// aborting slot processing (spec.md §4.6 "Error capture during a single
// message").
type messageErrors struct {
	errs     []*Error
	overflow int
}

func (m *messageErrors) add(err *Error) {
	if len(m.errs) >= MaxErrorsInSingleMessage {
		m.overflow++
		return
	}
	m.errs = append(m.errs, err)
}

func (m *messageErrors) any() bool {
	return len(m.errs) > 0 || m.overflow > 0
}

// Counters tallies decode errors by code for the end-of-run summary
// (spec.md §7 "each band has its own counter array").
type Counters struct {
	byCode map[Code]uint64
}

func newCounters() *Counters {
	return &Counters{byCode: make(map[Code]uint64)}
}

// NewCounters creates an empty decode-error counter set, exported for
// tests that exercise Reassembler directly without a full Decoder.
func NewCounters() *Counters {
	return newCounters()
}

func (c *Counters) bump(code Code) {
	c.byCode[code]++
}

// Count returns how many times code has been recorded.
func (c *Counters) Count(code Code) uint64 {
	return c.byCode[code]
}

// Total returns the sum of every code's count.
func (c *Counters) Total() uint64 {
	var total uint64
	for _, n := range c.byCode {
		total += n
	}
	return total
}
