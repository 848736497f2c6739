package parser

import (
	"fmt"
	"strings"

	"github.com/rtedbg/rtemsg/headersync"
)

// headerWork accumulates the "#define NAME value" lines a single
// compiled file contributes to its generated header (spec.md §4.2.1):
// one line per FILTER and per MSG-like directive, in the order they were
// encountered.
type headerWork struct {
	sourcePath string
	defines    []string
}

// render produces the full generated-header text: an include guard
// wrapping the accumulated #define lines, or an empty body (guard only)
// in purge mode, which exists to blank out a header file without
// deleting it (spec.md §6 "-purge").
func (hw *headerWork) render(purge bool) string {
	guard := headersync.IncludeGuard(headersync.Target(hw.sourcePath))

	var sb strings.Builder
	fmt.Fprintf(&sb, "#ifndef %s\n#define %s\n\n", guard, guard)
	if !purge {
		for _, d := range hw.defines {
			sb.WriteString(d)
			sb.WriteByte('\n')
		}
	}
	fmt.Fprintf(&sb, "\n#endif /* %s */\n", guard)
	return sb.String()
}
