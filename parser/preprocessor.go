package parser

import (
	"fmt"
	"path/filepath"
)

// MaxIncludeDepth bounds INCLUDE recursion (spec.md §4.2, §5). The
// original design probes remaining C stack at entry; Go goroutine stacks
// grow dynamically, so an explicit depth counter is the faithful
// reimplementation the Design Notes call for (spec.md §9 "Recursion").
const MaxIncludeDepth = 64

// includeError distinguishes a stack-exhaustion abort (fatal: the whole
// run stops) from a circular-include (recoverable: reported against the
// offending INCLUDE directive, the rest of the file keeps compiling).
type includeError struct {
	msg   string
	fatal bool
}

func (e *includeError) Error() string { return e.msg }

// includeGuard tracks the INCLUDE recursion depth and the set of files
// currently being processed, so a file including itself (directly or
// transitively) is reported instead of recursing forever.
type includeGuard struct {
	depth int
	stack []string
}

func (g *includeGuard) push(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if g.depth >= MaxIncludeDepth {
		return &includeError{fatal: true, msg: fmt.Sprintf("INCLUDE nesting exceeds %d levels, aborting", MaxIncludeDepth)}
	}
	for _, seen := range g.stack {
		if seen == abs {
			return &includeError{fatal: false, msg: fmt.Sprintf("circular INCLUDE detected: %s", abs)}
		}
	}
	g.depth++
	g.stack = append(g.stack, abs)
	return nil
}

func (g *includeGuard) current() string {
	if len(g.stack) == 0 {
		return ""
	}
	return g.stack[len(g.stack)-1]
}

func (g *includeGuard) pop() {
	g.depth--
	g.stack = g.stack[:len(g.stack)-1]
}
