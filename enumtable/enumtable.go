// Package enumtable interns the names of filters, memos, input files,
// output files and inline text lists used by the format compiler, the way
// the teacher's parser/symbols.go interns label and equate symbols: a
// dense append-only table with a reserved low region, looked up by name.
package enumtable

import "fmt"

// Kind distinguishes the namespace an entry belongs to (spec.md §3, §4.1).
type Kind int

const (
	KindFilter Kind = iota
	KindMemo
	KindInFile
	KindOutFile
	KindInlineText
)

func (k Kind) String() string {
	switch k {
	case KindFilter:
		return "filter"
	case KindMemo:
		return "memo"
	case KindInFile:
		return "in_file"
	case KindOutFile:
		return "out_file"
	case KindInlineText:
		return "inline_text"
	default:
		return "unknown"
	}
}

// MaxFilters bounds the reserved filter region, index [0, MaxFilters)
// (spec.md §4.1).
const MaxFilters = 32

// Entry is one interned name plus whatever payload its kind carries.
type Entry struct {
	Name    string
	Kind    Kind
	Payload any
}

// Table is the append-only enum table (spec.md §3's "Enum Table").
// Filter entries occupy [0, MaxFilters); every other kind is appended
// starting at MaxFilters. An entry once assigned never relocates.
type Table struct {
	entries     []Entry
	names       map[string]int
	filterCount int
}

// New creates an empty enum table.
func New() *Table {
	return &Table{
		entries: make([]Entry, MaxFilters),
		names:   make(map[string]int),
	}
}

// Intern registers name under kind and returns its index. Fails if name is
// already present anywhere in the table (names are unique across the whole
// table, spec.md §3 invariant), or if a filter is requested after
// MaxFilters have already been assigned.
func (t *Table) Intern(name string, kind Kind, payload any) (int, error) {
	if _, ok := t.names[name]; ok {
		return 0, fmt.Errorf("enum name %q already defined", name)
	}

	var idx int
	if kind == KindFilter {
		if t.filterCount >= MaxFilters {
			return 0, fmt.Errorf("too many filters (max %d)", MaxFilters)
		}
		idx = t.filterCount
		t.filterCount++
	} else {
		idx = len(t.entries)
		t.entries = append(t.entries, Entry{})
	}

	t.entries[idx] = Entry{Name: name, Kind: kind, Payload: payload}
	t.names[name] = idx
	return idx, nil
}

// Find looks up name, returning its index and true if present.
func (t *Table) Find(name string) (int, bool) {
	idx, ok := t.names[name]
	return idx, ok
}

// FindKind looks up name but only succeeds if its kind matches want.
func (t *Table) FindKind(name string, want Kind) (int, bool) {
	idx, ok := t.names[name]
	if !ok || t.entries[idx].Kind != want {
		return 0, false
	}
	return idx, true
}

// Entry returns the entry at idx. Panics on an out-of-range index, since
// every caller derives idx from a prior Intern/Find on this same table.
func (t *Table) Entry(idx int) Entry {
	return t.entries[idx]
}

// SetPayload replaces the payload of an already-interned entry. The
// compiler does not call it: OUT_FILE handles and MEMO values are kept in
// its own maps, keyed by entry index.
func (t *Table) SetPayload(idx int, payload any) {
	t.entries[idx].Payload = payload
}

// Len returns the number of interned entries, including unused filter
// slots in [0, MaxFilters).
func (t *Table) Len() int {
	return len(t.entries)
}

// FilterCount returns how many of the MaxFilters filter slots are used.
func (t *Table) FilterCount() int {
	return t.filterCount
}

// FilterNames returns every filter name in slot order, for the
// Filter_names.txt dump a decode run writes.
func (t *Table) FilterNames() []string {
	names := make([]string, 0, t.filterCount)
	for i := 0; i < t.filterCount; i++ {
		names = append(names, t.entries[i].Name)
	}
	return names
}
