package decode

import (
	"fmt"
	"math"
	"strings"

	"github.com/rtedbg/rtemsg/format"
)

// registers holds the cleared-per-slot value views (spec.md §4.6 step 1).
type registers struct {
	u64 uint64
	i64 int64
	f64 float64
}

// decodeSlot extracts, scales and renders one value slot against the
// current message, following the per-slot algorithm in spec.md §4.6.
func (d *Decoder) decodeSlot(slot *format.ValueSlot, slotIdx int, plan *format.Plan, msg []byte, ts Result, msgNo uint64) (string, error) {
	var reg registers

	// A value whose bits lie past the end of the message (an MSGN shorter
	// at runtime than its format string) is reported as a slot error; the
	// caller still prints the message's other slots.
	switch slot.ValueKind {
	case format.ValueAuto, format.ValueUint64, format.ValueInt64, format.ValueDouble:
		if slot.DataBits > 0 && slot.BitAddress+slot.DataBits > 8*len(msg) {
			return "", fmt.Errorf("value at bits %d..%d lies beyond the %d-byte message",
				slot.BitAddress, slot.BitAddress+slot.DataBits-1, len(msg))
		}
	}

	switch slot.ValueKind {
	case format.ValueAuto:
		raw := extractUint(msg, slot.BitAddress, 32)
		reg.u64 = raw
		reg.i64 = int64(int32(raw))
		reg.f64 = float64(math.Float32frombits(uint32(raw)))

	case format.ValueUint64:
		reg.u64 = extractUint(msg, slot.BitAddress, slot.DataBits)
		reg.f64 = float64(reg.u64)

	case format.ValueInt64:
		raw := extractUint(msg, slot.BitAddress, slot.DataBits)
		reg.i64 = signExtend(raw, slot.DataBits)
		reg.f64 = float64(reg.i64)

	case format.ValueDouble:
		raw := extractUint(msg, slot.BitAddress, slot.DataBits)
		reg.f64 = widenToDouble(raw, slot.DataBits)

	case format.ValueString:
		// handled directly by the printer; registers stay zero.

	case format.ValueTimestamp:
		reg.f64 = ts.Seconds

	case format.ValueDTimestamp:
		if plan != nil && plan.Instances > 0 {
			reg.f64 = ts.Seconds - plan.TimeLastMessage
		}

	case format.ValueTimeDiff:
		if timer := d.alloc.Plan(slot.TimerFID); timer != nil && timer.Instances > 0 {
			reg.f64 = ts.Seconds - timer.TimeLastMessage
		}

	case format.ValueMemo:
		reg.f64 = d.memos[slot.GetMemo]
		reg.u64 = uint64(reg.f64)
		reg.i64 = int64(reg.f64)

	case format.ValueMessageNo:
		reg.u64 = msgNo
		reg.i64 = int64(msgNo)
		reg.f64 = float64(msgNo)
	}

	if slot.HasScale {
		reg.f64 = (reg.f64 + slot.ScaleOffset) * slot.ScaleMultiplier
		reg.i64 = int64(reg.f64)
		reg.u64 = uint64(reg.i64)
	}

	if slot.PutMemo != format.NoEnumIndex {
		d.memos[slot.PutMemo] = reg.f64
	}

	text, err := d.renderSlot(slot, reg, msg, msgNo)
	if err != nil {
		return "", err
	}

	if slot.Stats != nil {
		slot.Stats.Observe(reg.f64, msgNo)
	}

	_ = slotIdx
	return text, nil
}

// renderSlot formats a decoded slot according to print_kind (spec.md
// §4.6 step 5).
func (d *Decoder) renderSlot(slot *format.ValueSlot, reg registers, msg []byte, msgNo uint64) (string, error) {
	switch slot.PrintKind {
	case format.PrintPlainText:
		return slot.FormatString, nil

	case format.PrintUint64:
		return sprintfTemplate(slot.FormatString, reg.u64) + slot.TrailingText, nil

	case format.PrintInt64:
		return sprintfTemplate(slot.FormatString, reg.i64) + slot.TrailingText, nil

	case format.PrintDouble:
		return d.localizeDecimal(sprintfTemplate(slot.FormatString, reg.f64)) + slot.TrailingText, nil

	case format.PrintString:
		var s string
		if slot.DataBits == 0 {
			s = cString(msg)
		} else {
			start := slot.BitAddress / 8
			end := start + slot.DataBits/8
			if end > len(msg) {
				end = len(msg)
			}
			if start > end {
				start = end
			}
			s = cString(msg[start:end])
		}
		return sprintfTemplate(slot.FormatString, s) + slot.TrailingText, nil

	case format.PrintSelectedText:
		options := slot.InlineText
		if slot.InFile != format.NoEnumIndex {
			options = d.inFiles[slot.InFile]
		}
		idx := int(reg.u64)
		if idx >= len(options) {
			idx = len(options) - 1
		}
		if idx < 0 {
			return slot.TrailingText, nil
		}
		return string(options[idx]) + slot.TrailingText, nil

	case format.PrintBinary:
		return binaryString(reg.u64, slot.DataBits) + slot.TrailingText, nil

	case format.PrintTimestamp, format.PrintDTimestamp:
		return d.localizeDecimal(sprintfTemplate(d.timeTemplate, reg.f64)) + slot.TrailingText, nil

	case format.PrintMsgNo:
		return sprintfTemplate(d.numberTemplate, msgNo) + slot.TrailingText, nil

	case format.PrintHex1, format.PrintHex2, format.PrintHex4:
		width := map[format.PrintKind]int{format.PrintHex1: 1, format.PrintHex2: 2, format.PrintHex4: 4}[slot.PrintKind]
		start := slot.BitAddress / 8
		return hexDump(msg[minInt(start, len(msg)):], width) + slot.TrailingText, nil

	case format.PrintBinToFile:
		n := slot.DataBits / 8
		start := slot.BitAddress / 8
		end := len(msg)
		if n > 0 {
			end = start + n
			if end > len(msg) {
				end = len(msg)
			}
		}
		if f := d.outFileHandle(slot.OutFile); f != nil {
			_, _ = f.Write(msg[start:end])
		}
		return "", nil

	case format.PrintDate:
		return d.sourceDate + slot.TrailingText, nil

	case format.PrintMsgName:
		if plan := d.alloc.Plan(d.currentFID); plan != nil {
			return plan.Name + slot.TrailingText, nil
		}
		return slot.TrailingText, nil

	default:
		return "", fmt.Errorf("unsupported print kind %v", slot.PrintKind)
	}
}

// localizeDecimal swaps the decimal point for a comma when -locale named a
// comma-decimal locale (spec.md §6 "-locale=NAME: set runtime locale for
// message printing"). Only the first '.' is swapped: width/precision
// formatting never produces more than one per rendered number.
func (d *Decoder) localizeDecimal(s string) string {
	if !d.decimalComma {
		return s
	}
	return strings.Replace(s, ".", ",", 1)
}

// sprintfTemplate maps the handful of C verbs Go's fmt doesn't spell the
// same way (%u has no Go equivalent) before delegating to fmt.Sprintf.
func sprintfTemplate(tmpl string, arg any) string {
	tmpl = strings.ReplaceAll(tmpl, "%u", "%d")
	return fmt.Sprintf(tmpl, arg)
}

// extractUint reads `bits` little-endian-numbered bits starting at
// bitAddr out of data (spec.md §4.6 bit extraction).
func extractUint(data []byte, bitAddr, bits int) uint64 {
	var v uint64
	for i := 0; i < bits; i++ {
		byteIdx := (bitAddr + i) / 8
		bitIdx := uint((bitAddr + i) % 8)
		if byteIdx >= len(data) {
			break
		}
		bit := (data[byteIdx] >> bitIdx) & 1
		v |= uint64(bit) << uint(i)
	}
	return v
}

func signExtend(raw uint64, bits int) int64 {
	if bits <= 0 || bits >= 64 {
		return int64(raw)
	}
	signBit := uint64(1) << uint(bits-1)
	if raw&signBit != 0 {
		raw |= ^uint64(0) << uint(bits)
	}
	return int64(raw)
}

// widenToDouble promotes a 16/32/64-bit float register to float64
// (spec.md §4.6 "16 -> IEEE-754 half -> float promotion").
func widenToDouble(raw uint64, bits int) float64 {
	switch bits {
	case 16:
		return float64(halfToFloat32(uint16(raw)))
	case 32:
		return float64(math.Float32frombits(uint32(raw)))
	case 64:
		return math.Float64frombits(raw)
	default:
		return float64(raw)
	}
}

// halfToFloat32 converts an IEEE-754 binary16 value to float32.
func halfToFloat32(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := (h >> 10) & 0x1F
	frac := uint32(h & 0x3FF)

	switch exp {
	case 0:
		if frac == 0 {
			return math.Float32frombits(sign)
		}
		for frac&0x400 == 0 {
			frac <<= 1
			exp--
		}
		exp++
		frac &^= 0x400
	case 0x1F:
		e := uint32(0xFF) << 23
		return math.Float32frombits(sign | e | frac<<13)
	}
	e := (uint32(exp) + (127 - 15)) << 23
	return math.Float32frombits(sign | e | frac<<13)
}

// cString returns data up to its first NUL byte, or all of it if none.
func cString(data []byte) string {
	for i, b := range data {
		if b == 0 {
			return string(data[:i])
		}
	}
	return string(data)
}

// binaryString renders value MSB-first, grouping every 8 bits with a
// single-quote separator (spec.md §4.6 "BINARY").
func binaryString(value uint64, bits int) string {
	if bits <= 0 {
		bits = 32
	}
	var sb strings.Builder
	for i := bits - 1; i >= 0; i-- {
		if (value>>uint(i))&1 == 1 {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
		if i%8 == 0 && i != 0 {
			sb.WriteByte('\'')
		}
	}
	return sb.String()
}

// hexDump renders data in 16-byte rows grouped into width-byte chunks
// with a leading offset column (spec.md §4.6 "HEX1/2/4").
func hexDump(data []byte, width int) string {
	var sb strings.Builder
	for off := 0; off < len(data); off += 16 {
		end := minInt(off+16, len(data))
		fmt.Fprintf(&sb, "%04X:", off)
		for i := off; i < end; i += width {
			chunkEnd := minInt(i+width, end)
			var v uint64
			for j := chunkEnd - 1; j >= i; j-- {
				v = v<<8 | uint64(data[j])
			}
			fmt.Fprintf(&sb, " %0*X", width*2, v)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
