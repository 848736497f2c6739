// Package format holds the shared decoding data model produced by the
// format compiler (package parser) and consumed by the binary-stream
// decoder (package decode): format IDs, decoding plans and value-slot
// descriptors.
package format

// FID is a format id: a dense index into the plan table.
type FID int32

// System format ids (spec.md §3, §4.4).
const (
	LongTimestamp   FID = 0
	TstampFrequency FID = 2
)

// MaxMsgLength bounds an explicit MSGN_<n> word count (spec.md §4.1 "n
// words, n <= MAX_MSG_LENGTH"). The original does not fix a number; 255
// words (1020 bytes) comfortably covers every worked example in the
// specification's scenarios while still catching a typo'd huge length.
const MaxMsgLength = 255

// MsgKind determines how a message's sub-packets are split and terminated.
type MsgKind int

const (
	MsgUnknown MsgKind = iota
	Msg0to8            // MSG0..MSG4: fixed length 0,4,8,12,16 bytes
	MsgN               // MSGN / MSGN_<n>: length known or runtime-variable
	ExtMsg             // EXT_MSGk_b: extended-data bits packed into the FID
	MsgX               // MSGX: length given by trailing byte count
)

func (k MsgKind) String() string {
	switch k {
	case Msg0to8:
		return "MSG0_8"
	case MsgN:
		return "MSGN"
	case ExtMsg:
		return "EXT_MSG"
	case MsgX:
		return "MSGX"
	default:
		return "UNKNOWN"
	}
}

// PrintKind selects how a decoded value is rendered (spec.md §3, §4.6).
type PrintKind int

const (
	PrintPlainText PrintKind = iota
	PrintString
	PrintSelectedText
	PrintUint64
	PrintInt64
	PrintDouble
	PrintBinary
	PrintTimestamp
	PrintDTimestamp
	PrintMsgNo
	PrintHex1
	PrintHex2
	PrintHex4
	PrintBinToFile
	PrintDate
	PrintMsgName
)

// ValueKind selects how the numeric value feeding a slot is obtained
// (spec.md §3, §4.6).
type ValueKind int

const (
	ValueAuto ValueKind = iota
	ValueUint64
	ValueInt64
	ValueDouble
	ValueString
	ValueTimestamp
	ValueDTimestamp
	ValueMemo
	ValueTimeDiff
	ValueMessageNo
)

// NoEnumIndex marks an unset enum-table reference (out_file, in_file,
// get_memo, put_memo).
const NoEnumIndex = -1

// ValueSlot is one value-extraction-and-print step within a Plan (spec.md
// §3). Plans hold an ordered slice of these instead of a linked list per
// the reimplementation guidance in spec.md §9.
type ValueSlot struct {
	PrintKind PrintKind
	ValueKind ValueKind

	BitAddress int // bit offset within the reassembled message
	DataBits   int // width in bits; 0 means "whole message" for STRING

	FormatString string // printf-compatible template, RTE type chars stripped
	TrailingText string // literal text following the %-run, up to the next %; a backslash escape does not end it and is resolved

	OutFile     int // enum-table index of target file, 0 = main log
	AlsoMainLog bool

	InFile int // enum-table index of indexed-text source (%Y), or NoEnumIndex

	GetMemo int // enum-table index to load from, or NoEnumIndex
	PutMemo int // enum-table index to store to, or NoEnumIndex

	TimerFID FID // for value_kind TimeDiff ([t-NAME]); basis plan's FID

	HasScale        bool
	ScaleOffset     float64
	ScaleMultiplier float64

	// InlineText holds the options of an inline {a|b|c} indexed-text list,
	// used when InFile == NoEnumIndex and PrintKind == PrintSelectedText.
	InlineText [][]byte

	Stats *SlotStats // nil unless |stat_name| was present on this %-run
}

// Plan is the fully parsed decoding description for one message type
// (spec.md §3).
type Plan struct {
	Name string
	Kind MsgKind

	ExpectedLenBytes int // 0 if unknown at compile time
	ExtDataMask      uint32

	BaseFID FID // first FID of the allocated range, used as a stats key

	Slots []ValueSlot

	// Runtime counters, updated during decoding.
	Instances       uint64
	TotalWords      uint64
	LastMessageNo   uint64
	TimeLastMessage float64 // reconstructed timestamp of the last instance
}

// FirstInstance reports whether this plan has never fired: the
// dTIMESTAMP/TIME_DIFF "no previous instance" condition (spec.md §9),
// which the decoder tests as Instances > 0 directly.
func (p *Plan) FirstInstance() bool {
	return p.Instances == 0
}
