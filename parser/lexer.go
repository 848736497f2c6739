package parser

import (
	"strings"
	"unicode"
)

// DirectiveLine is one classified, stripped-of-comment-prefix directive
// line (spec.md §4.2): a MSG-like/FILTER/MEMO/... directive call, an
// input/output file selector, or a bare quoted format string.
type DirectiveLine struct {
	Name string   // directive keyword, e.g. "MSG2_NAME", "FMT_ALIGN"; empty for selectors/strings
	Args []string // raw, comma-split argument text (quotes preserved)

	SelectIn  string // set when the line is "<NAME"
	SelectOut string // set when the line is ">NAME" or ">>NAME"
	OutDup    bool   // true for ">>NAME" (also_main_log)

	FormatString string // set when the line is a bare "quoted string"
	IsString     bool
}

// classifyLine sorts one source line: isDirective is true for a "//" line,
// whose content after the "//" is returned as stripped; isHeaderDefine is
// true for a "#" line, returned trimmed. Blank lines, same-line block
// comments (/*...*/) and any other text give neither. Whether a "#" line
// is accepted depends on the file and is decided by the caller.
func classifyLine(raw string) (stripped string, isDirective, isHeaderDefine bool) {
	trimmed := strings.TrimSpace(raw)
	switch {
	case trimmed == "":
		return "", false, false
	case strings.HasPrefix(trimmed, "/*") && strings.HasSuffix(trimmed, "*/") && len(trimmed) >= 4:
		return "", false, false
	case strings.HasPrefix(trimmed, "#"):
		return trimmed, false, true
	case strings.HasPrefix(trimmed, "//"):
		return strings.TrimSpace(strings.TrimPrefix(trimmed, "//")), true, false
	default:
		return "", false, false
	}
}

// lexDirective parses the stripped content of a "//" line into a
// DirectiveLine.
func lexDirective(content string) DirectiveLine {
	content = strings.TrimSpace(content)

	switch {
	case content == "":
		return DirectiveLine{}
	case strings.HasPrefix(content, "\""):
		return DirectiveLine{IsString: true, FormatString: unquote(content)}
	case strings.HasPrefix(content, ">>"):
		return DirectiveLine{SelectOut: strings.TrimSpace(content[2:]), OutDup: true}
	case strings.HasPrefix(content, ">"):
		return DirectiveLine{SelectOut: strings.TrimSpace(content[1:])}
	case strings.HasPrefix(content, "<"):
		return DirectiveLine{SelectIn: strings.TrimSpace(content[1:])}
	default:
		name, args := splitCall(content)
		return DirectiveLine{Name: name, Args: args}
	}
}

// splitCall splits "NAME(a, b, "c,d")" into ("NAME", ["a","b","\"c,d\""]).
// A bare "NAME" with no parens returns ("NAME", nil).
func splitCall(s string) (name string, args []string) {
	open := strings.IndexByte(s, '(')
	if open < 0 {
		return strings.TrimSpace(s), nil
	}
	name = strings.TrimSpace(s[:open])
	rest := s[open+1:]
	if idx := strings.LastIndexByte(rest, ')'); idx >= 0 {
		rest = rest[:idx]
	}
	return name, splitArgs(rest)
}

// splitArgs splits a comma-separated argument list, treating commas inside
// double-quoted strings as literal.
func splitArgs(s string) []string {
	var args []string
	var cur strings.Builder
	inQuotes := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
			cur.WriteByte(c)
		case c == ',' && !inQuotes:
			args = append(args, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if strings.TrimSpace(cur.String()) != "" || len(args) > 0 {
		args = append(args, strings.TrimSpace(cur.String()))
	}
	return args
}

// unquote strips a leading/trailing double quote. It does not need to
// process escapes: §4.2.2 escape handling is applied later, by the
// format-string scanner, directly on the quoted body.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// unquoteArg removes surrounding quotes from a directive argument, e.g.
// the "path" in OUT_FILE(name,"path","w").
func unquoteArg(s string) string {
	return unquote(s)
}

func isIdentStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}

func isIdentPart(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
