// Package fidalloc reserves contiguous, aligned ranges of format ids in
// the dense [0, topmost) plan table (spec.md §3, §4.1). The alignment
// arithmetic mirrors the segment-placement logic the teacher uses to lay
// out memory segments in vm/memory.go: round a cursor up to the next
// aligned boundary, verify the range is free, and reject anything that
// would straddle the top of the address space.
package fidalloc

import (
	"fmt"

	"github.com/rtedbg/rtemsg/format"
)

// MinIDBits and MaxIDBits bound the configurable format-id width
// (spec.md §3: N in [9,16]).
const (
	MinIDBits = 9
	MaxIDBits = 16
)

// reservedLowBlock is the first allocatable FID: ids [0,4) are reserved
// for system messages (LONG_TIMESTAMP=0, TSTAMP_FREQUENCY=2) and the holes
// around them (see DESIGN.md "Reserved low FIDs").
const reservedLowBlock = 4

// Allocator assigns FID ranges to decoding plans.
type Allocator struct {
	plans   []*format.Plan
	topmost format.FID

	fmtIDsDefined format.FID // first never-assigned id
	alignCursor   format.FID // lower bound of future allocations
}

// New creates an allocator for an N-bit format id space. topmost =
// 2^N - 2; the top two ids (topmost-1, topmost) are reserved, the latter
// for STREAMING_MARK.
func New(idBits int) (*Allocator, error) {
	if idBits < MinIDBits || idBits > MaxIDBits {
		return nil, fmt.Errorf("format-id bits %d out of range [%d,%d]", idBits, MinIDBits, MaxIDBits)
	}
	topmost := format.FID((1 << uint(idBits)) - 2)
	if topmost <= reservedLowBlock+1 {
		return nil, fmt.Errorf("format-id space too small for %d bits", idBits)
	}

	a := &Allocator{
		plans:         make([]*format.Plan, topmost+1),
		topmost:       topmost,
		fmtIDsDefined: reservedLowBlock,
		alignCursor:   reservedLowBlock,
	}
	return a, nil
}

// Topmost returns the highest valid user FID plus one reservation
// (STREAMING_MARK sits at exactly Topmost()).
func (a *Allocator) Topmost() format.FID {
	return a.topmost
}

// StreamingMark is the system FID marking a streaming-capture boundary.
func (a *Allocator) StreamingMark() format.FID {
	return a.topmost
}

// Plan returns the plan assigned to fid, or nil if unassigned.
func (a *Allocator) Plan(fid format.FID) *format.Plan {
	if fid < 0 || int(fid) >= len(a.plans) {
		return nil
	}
	return a.plans[fid]
}

// Allocate reserves a contiguous, k-aligned range of size k (a power of
// two) and points every slot in it at plan, returning the starting id
// (spec.md §4.1).
func (a *Allocator) Allocate(k int, plan *format.Plan) (format.FID, error) {
	if k <= 0 || k&(k-1) != 0 {
		return 0, fmt.Errorf("allocation size %d is not a power of two", k)
	}

	start := a.alignCursor
	for start < a.topmost-1 && a.plans[start] != nil {
		start++
	}
	if rem := int(start) % k; rem != 0 {
		start += format.FID(k - rem)
	}

	end := start + format.FID(k)
	if end > a.topmost-1 {
		return 0, fmt.Errorf("allocating %d ids at %d would exceed the format-id space (topmost=%d)", k, start, a.topmost)
	}
	for i := start; i < end; i++ {
		if a.plans[i] != nil {
			return 0, fmt.Errorf("format-id range [%d,%d) overlaps an existing plan at %d", start, end, i)
		}
	}

	for i := start; i < end; i++ {
		a.plans[i] = plan
	}
	plan.BaseFID = start

	a.alignCursor = end
	if end > a.fmtIDsDefined {
		a.fmtIDsDefined = end
	}
	return start, nil
}

// Align rounds fmt_ids_defined up to a multiple of v (FMT_ALIGN(v)).
func (a *Allocator) Align(v int) error {
	if v <= 0 || v&(v-1) != 0 {
		return fmt.Errorf("FMT_ALIGN value %d is not a power of two", v)
	}
	if rem := int(a.fmtIDsDefined) % v; rem != 0 {
		a.fmtIDsDefined += format.FID(v - rem)
	}
	if a.fmtIDsDefined > a.alignCursor {
		a.alignCursor = a.fmtIDsDefined
	}
	return nil
}

// Start sets fmt_ids_defined exactly (FMT_START(v)), failing if this would
// move the cursor backward.
func (a *Allocator) Start(v int) error {
	if v <= 0 || v&(v-1) != 0 {
		return fmt.Errorf("FMT_START value %d is not a power of two", v)
	}
	fv := format.FID(v)
	if fv < a.fmtIDsDefined {
		return fmt.Errorf("FMT_START(%d) would move the id cursor backward from %d", v, a.fmtIDsDefined)
	}
	a.fmtIDsDefined = fv
	if a.fmtIDsDefined > a.alignCursor {
		a.alignCursor = a.fmtIDsDefined
	}
	return nil
}

// FmtIDsDefined returns the first never-assigned id.
func (a *Allocator) FmtIDsDefined() format.FID {
	return a.fmtIDsDefined
}
