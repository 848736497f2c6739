package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// valueSpecKind distinguishes the bracketed value-specifier forms of
// spec.md §4.2.2.
type valueSpecKind int

const (
	valueSpecNone valueSpecKind = iota
	valueSpecMessageNo
	valueSpecDTimestamp
	valueSpecTimestamp
	valueSpecTimeDiff
	valueSpecMemo
	valueSpecBitField
)

// valueSpec is the parsed content of a "[...]" value specifier.
type valueSpec struct {
	Kind valueSpecKind

	TimerName string // for "[t-MSG_NAME]"
	MemoName  string // for "[M_NAME]"

	HasAddr     bool
	AddrIsDelta bool // +N or -N vs an absolute address
	AddrDelta   int  // signed delta, or absolute value when !AddrIsDelta
	Size        int
	Type        byte // 'f','u','i','s'
}

// scaleSpec is the parsed content of a "(±offset*mult)" scaling suffix.
type scaleSpec struct {
	HasOffset bool
	Offset    float64
	HasMult   bool
	Mult      float64
}

// run is one parsed "%"-run plus the literal text collected before it.
type run struct {
	LeadingLiteral string

	Spec  *valueSpec
	Scale *scaleSpec

	InlineText [][]byte // {a|b|c}
	StoreMemo  string   // <M_name>
	StatName   string   // |stat_name|

	FlagsWidthPrec string // printf flag/width/precision run, verbatim
	TypeChar       byte   // terminating type character

	TrailingLiteral string // literal immediately following, if this type allows it
}

// rteTypeChars disallow trailing literal text on the same slot (spec.md
// §4.2.2): their surrounding literal is emitted as separate PLAIN_TEXT.
var rteTypeChars = map[byte]bool{
	't': true, 'T': true, 'N': true, 'W': true,
	'H': true, 'Y': true, 'B': true, 'D': true, 'M': true,
}

// consumeLiteral reads plain literal text starting at i, interpreting the
// handful of C backslash escapes format strings in .fmt files are written
// with (\n, \t, \r, \\, \", \0), and stops at the first unescaped '%' or
// end of string.
func consumeLiteral(s string, i int) (text string, next int) {
	var sb strings.Builder
	n := len(s)
	for i < n && s[i] != '%' {
		if s[i] == '\\' && i+1 < n {
			switch s[i+1] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '\\':
				sb.WriteByte('\\')
			case '"':
				sb.WriteByte('"')
			case '0':
				sb.WriteByte(0)
			default:
				sb.WriteByte(s[i])
				sb.WriteByte(s[i+1])
			}
			i += 2
			continue
		}
		sb.WriteByte(s[i])
		i++
	}
	return sb.String(), i
}

// scanFormatString tokenizes a printf-compatible template with RTEdbg
// extensions into an ordered list of runs plus any trailing literal with
// no following "%".
func scanFormatString(s string) (runs []run, finalLiteral string, err error) {
	var literal strings.Builder
	i := 0
	n := len(s)

	for i < n {
		if s[i] != '%' {
			text, next := consumeLiteral(s, i)
			literal.WriteString(text)
			i = next
			continue
		}
		// s[i] == '%'
		if i+1 < n && s[i+1] == '%' {
			literal.WriteByte('%')
			i += 2
			continue
		}

		r := run{LeadingLiteral: literal.String()}
		literal.Reset()
		i++ // consume '%'

		var sawSpec, sawScale, sawInline, sawMemo, sawStat bool
		for i < n {
			switch s[i] {
			case '[':
				if sawSpec {
					return nil, "", fmt.Errorf("duplicate value specifier at byte %d", i)
				}
				end := strings.IndexByte(s[i:], ']')
				if end < 0 {
					return nil, "", fmt.Errorf("unterminated value specifier at byte %d", i)
				}
				vs, perr := parseValueSpec(s[i+1 : i+end])
				if perr != nil {
					return nil, "", perr
				}
				r.Spec = vs
				sawSpec = true
				i += end + 1
				continue
			case '(':
				if sawScale {
					return nil, "", fmt.Errorf("duplicate scale at byte %d", i)
				}
				end := strings.IndexByte(s[i:], ')')
				if end < 0 {
					return nil, "", fmt.Errorf("unterminated scale at byte %d", i)
				}
				sc, perr := parseScale(s[i+1 : i+end])
				if perr != nil {
					return nil, "", perr
				}
				r.Scale = sc
				sawScale = true
				i += end + 1
				continue
			case '{':
				if sawInline {
					return nil, "", fmt.Errorf("duplicate inline text at byte %d", i)
				}
				end := strings.IndexByte(s[i:], '}')
				if end < 0 {
					return nil, "", fmt.Errorf("unterminated inline text at byte %d", i)
				}
				opts, perr := parseInlineText(s[i+1 : i+end])
				if perr != nil {
					return nil, "", perr
				}
				r.InlineText = opts
				sawInline = true
				i += end + 1
				continue
			case '<':
				if sawMemo {
					return nil, "", fmt.Errorf("duplicate memo store at byte %d", i)
				}
				end := strings.IndexByte(s[i:], '>')
				if end < 0 {
					return nil, "", fmt.Errorf("unterminated memo store at byte %d", i)
				}
				r.StoreMemo = s[i+1 : i+end]
				sawMemo = true
				i += end + 1
				continue
			case '|':
				if sawStat {
					return nil, "", fmt.Errorf("duplicate statistics marker at byte %d", i)
				}
				end := strings.IndexByte(s[i+1:], '|')
				if end < 0 {
					return nil, "", fmt.Errorf("unterminated statistics marker at byte %d", i)
				}
				r.StatName = s[i+1 : i+1+end]
				sawStat = true
				i += end + 2
				continue
			}
			break
		}

		// flags/width/precision run
		fwpStart := i
		for i < n && strings.IndexByte("-+# 0.hl0123456789", s[i]) >= 0 {
			i++
		}
		r.FlagsWidthPrec = s[fwpStart:i]

		if i >= n {
			return nil, "", fmt.Errorf("unterminated %% conversion starting near %q", s[max(0, fwpStart-4):])
		}
		r.TypeChar = s[i]
		i++

		if !isKnownTypeChar(r.TypeChar) {
			return nil, "", fmt.Errorf("unknown format type %%%c", r.TypeChar)
		}

		if !rteTypeChars[r.TypeChar] {
			r.TrailingLiteral, i = consumeLiteral(s, i)
		}

		runs = append(runs, r)
	}

	return runs, literal.String(), nil
}

func isKnownTypeChar(c byte) bool {
	switch c {
	case 'd', 'i', 'o', 'u', 'x', 'X', 'c', 's':
		return true
	case 'e', 'E', 'f', 'F', 'g', 'G', 'a', 'A':
		return true
	case 't', 'T', 'N', 'W', 'H', 'Y', 'B', 'D', 'M':
		return true
	}
	return false
}

func parseValueSpec(inner string) (*valueSpec, error) {
	switch {
	case inner == "N":
		return &valueSpec{Kind: valueSpecMessageNo}, nil
	case inner == "t":
		return &valueSpec{Kind: valueSpecDTimestamp}, nil
	case inner == "T":
		return &valueSpec{Kind: valueSpecTimestamp}, nil
	case strings.HasPrefix(inner, "t-"):
		return &valueSpec{Kind: valueSpecTimeDiff, TimerName: inner[2:]}, nil
	case looksLikeMemoRef(inner):
		return &valueSpec{Kind: valueSpecMemo, MemoName: inner}, nil
	}
	return parseBitField(inner)
}

// looksLikeMemoRef recognizes a bare memo-name value specifier "[M_name]":
// an identifier with no ':' (which would mark a bit-field spec) and no
// leading digit/sign.
func looksLikeMemoRef(s string) bool {
	if s == "" || strings.ContainsAny(s, ":") {
		return false
	}
	c := s[0]
	if c >= '0' && c <= '9' {
		return false
	}
	if c == '+' || c == '-' {
		return false
	}
	return isIdentStart(rune(c))
}

func parseBitField(s string) (*valueSpec, error) {
	vs := &valueSpec{Kind: valueSpecBitField, Type: 'u', Size: -1}

	addrPart, sizePart, hasColon := cutOnce(s, ':')
	if hasColon {
		if addrPart == "" {
			return nil, fmt.Errorf("bit-field spec %q missing address before ':'", s)
		}
		sign := addrPart[0]
		digits := addrPart
		if sign == '+' || sign == '-' {
			vs.AddrIsDelta = true
			digits = addrPart[1:]
		}
		n, err := strconv.Atoi(digits)
		if err != nil {
			return nil, fmt.Errorf("bad bit address %q: %w", addrPart, err)
		}
		if sign == '-' {
			n = -n
		}
		vs.HasAddr = true
		vs.AddrDelta = n
	} else {
		sizePart = s
	}

	size, typ, err := parseSizeType(sizePart)
	if err != nil {
		return nil, err
	}
	vs.Size = size
	vs.Type = typ

	if vs.Size < 1 || vs.Size > 64 {
		return nil, fmt.Errorf("bit-field size %d out of range [1,64]", vs.Size)
	}
	if vs.Type == 'f' && vs.Size != 16 && vs.Size != 32 && vs.Size != 64 {
		return nil, fmt.Errorf("float bit-field size must be 16, 32 or 64, got %d", vs.Size)
	}
	return vs, nil
}

func parseSizeType(s string) (size int, typ byte, err error) {
	typ = 'u'
	if lt := strings.IndexByte(s, '<'); lt >= 0 {
		gt := strings.IndexByte(s, '>')
		if gt < lt {
			return 0, 0, fmt.Errorf("malformed type annotation in %q", s)
		}
		t := s[lt+1 : gt]
		if len(t) != 1 || strings.IndexByte("fuis", t[0]) < 0 {
			return 0, 0, fmt.Errorf("unknown bit-field type %q", t)
		}
		typ = t[0]
		s = s[:lt]
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("bad bit-field size %q: %w", s, err)
	}
	return n, typ, nil
}

func parseScale(s string) (*scaleSpec, error) {
	sc := &scaleSpec{}
	offsetPart, multPart, hasMult := cutOnce(s, '*')

	if offsetPart != "" {
		if offsetPart[0] != '+' && offsetPart[0] != '-' {
			return nil, fmt.Errorf("scale offset %q must start with + or -", offsetPart)
		}
		v, err := strconv.ParseFloat(offsetPart, 64)
		if err != nil {
			return nil, fmt.Errorf("bad scale offset %q: %w", offsetPart, err)
		}
		sc.HasOffset = true
		sc.Offset = v
	}
	if hasMult {
		v, err := strconv.ParseFloat(multPart, 64)
		if err != nil {
			return nil, fmt.Errorf("bad scale multiplier %q: %w", multPart, err)
		}
		if v == 0 {
			return nil, fmt.Errorf("scale multiplier must not be zero")
		}
		sc.HasMult = true
		sc.Mult = v
	}
	if !sc.HasOffset && !sc.HasMult {
		return nil, fmt.Errorf("scale %q needs an offset, a multiplier, or both", s)
	}
	return sc, nil
}

func parseInlineText(s string) ([][]byte, error) {
	parts := strings.Split(s, "|")
	if len(parts) < 2 {
		return nil, fmt.Errorf("inline indexed text needs at least 2 options, got %d", len(parts))
	}
	opts := make([][]byte, 0, len(parts))
	for _, p := range parts {
		if len(p) < 1 || len(p) > 255 {
			return nil, fmt.Errorf("inline text option %q must be 1..255 bytes", p)
		}
		opts = append(opts, []byte(p))
	}
	return opts, nil
}

// cutOnce splits s on the first occurrence of sep, signaling whether sep
// was present (unlike strings.Cut's ok is about absence vs a leading
// empty match, which we want to distinguish: "*0.1" has an empty offset
// part but is still "has mult").
func cutOnce(s string, sep byte) (before, after string, found bool) {
	idx := strings.IndexByte(s, sep)
	if idx < 0 {
		return s, "", false
	}
	return s[:idx], s[idx+1:], true
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
