package decode

// Period is the width of the 32-bit monotonic counter the embedded side
// ticks (spec.md §4.5 "PERIOD = 2^32").
const Period int64 = 1 << 32

// DefaultTimestampFraction is the default magnitude of MaxPos/MaxNeg as a
// fraction of Period (spec.md §4.5 "default to ±0.33*PERIOD").
const DefaultTimestampFraction = 0.33

// RestartTiming is the LONG_TIMESTAMP payload value that resets timing
// statistics and zeroes the timestamp (spec.md §4.5).
const RestartTiming uint32 = 0xFFFFFFFF

// wrapSuppressMessages bounds how often a wrap-around may bump tstamp_h:
// at most once per this many messages (spec.md §4.5 "at most once per 4
// messages").
const wrapSuppressMessages = 4

// Reconstructor turns each message's raw tstamp_l field into a
// monotonically reconstructed timestamp in seconds (spec.md §4.5).
type Reconstructor struct {
	tstampH    uint32
	tstampLOld uint32

	maxPos int64
	maxNeg int64

	ticksPerSecond float64

	lastWrapMsgNo uint64
	resyncPending bool
	highWaterMsg  uint64
}

// NewReconstructor creates a Reconstructor with the default ±0.33*Period
// tolerance and a ticksPerSecond conversion (spec.md §4.5, §6 "-time=").
func NewReconstructor(ticksPerSecond float64) *Reconstructor {
	fraction := DefaultTimestampFraction
	limit := int64(fraction * float64(Period))
	return &Reconstructor{
		maxPos:         limit,
		maxNeg:         -limit,
		ticksPerSecond: ticksPerSecond,
	}
}

// SetLimits overrides MaxPos/MaxNeg from the user-supplied pair (spec.md
// §6 "-ts=neg;pos", values in ticks already converted by the caller).
func (r *Reconstructor) SetLimits(maxNeg, maxPos int64) {
	r.maxNeg = maxNeg
	r.maxPos = maxPos
}

// Result is what Accept reports for one non-system message.
type Result struct {
	Seconds     float64
	OutOfOrder  bool
	GapFlagged  bool // an asterisk-flagged gap/loss was detected
	ResyncStart bool // this call flagged a gap and set ResyncPending; no forward scan is made
}

// Accept reconstructs the timestamp for tstampL on message msgNo,
// applying the case table in spec.md §4.5.
func (r *Reconstructor) Accept(tstampL uint32, msgNo uint64) Result {
	// Plain (non-modular) signed difference: a genuine low-word wrap
	// shows up as a huge negative value near -Period, not as the small
	// value a 32-bit wraparound subtraction would collapse it to.
	diff := int64(tstampL) - int64(r.tstampLOld)

	switch {
	case diff >= 0 && diff <= r.maxPos:
		r.tstampLOld = tstampL
		return r.result(tstampL, false, false)

	case diff >= r.maxNeg && diff < 0:
		return r.result(tstampL, true, false)

	case r.tstampLOld >= 1<<31 && diff <= -(Period-r.maxPos):
		if msgNo-r.lastWrapMsgNo >= wrapSuppressMessages {
			r.tstampH++
			r.lastWrapMsgNo = msgNo
		}
		r.tstampLOld = tstampL
		return r.result(tstampL, false, false)

	case r.tstampLOld < 1<<31 && diff >= Period+r.maxNeg:
		return resultWithHigh(tstampL, r.tstampH-1, r.ticksPerSecond, true, false)

	default:
		r.resyncPending = true
		return Result{Seconds: r.seconds(tstampL), GapFlagged: true, ResyncStart: true}
	}
}

func (r *Reconstructor) result(tstampL uint32, outOfOrder, gap bool) Result {
	return Result{Seconds: r.seconds(tstampL), OutOfOrder: outOfOrder, GapFlagged: gap}
}

func resultWithHigh(tstampL, high uint32, ticksPerSecond float64, outOfOrder, gap bool) Result {
	ticks := (uint64(high) << 32) | uint64(tstampL)
	return Result{Seconds: float64(ticks) / ticksPerSecond, OutOfOrder: outOfOrder, GapFlagged: gap}
}

func (r *Reconstructor) seconds(tstampL uint32) float64 {
	ticks := (uint64(r.tstampH) << 32) | uint64(tstampL)
	return float64(ticks) / r.ticksPerSecond
}

// LongTimestamp handles a LONG_TIMESTAMP system message: high, the DATA
// word, directly sets tstamp_h, except the RestartTiming sentinel which
// resets everything (spec.md §4.5).
func (r *Reconstructor) LongTimestamp(high uint32, msgNo uint64) {
	if high == RestartTiming {
		r.tstampH = 0
		r.tstampLOld = 0
		r.lastWrapMsgNo = msgNo
		r.resyncPending = false
		r.highWaterMsg = msgNo
		return
	}
	r.tstampH = high
	r.resyncPending = false
	if msgNo > r.highWaterMsg {
		r.highWaterMsg = msgNo
	}
}

// SetFrequency updates the ticks-to-seconds multiplier from a
// TSTAMP_FREQUENCY system message (spec.md §4.5).
func (r *Reconstructor) SetFrequency(ticksPerSecond float64) {
	if ticksPerSecond > 0 {
		r.ticksPerSecond = ticksPerSecond
	}
}

// ResyncPending reports whether a gap/loss is awaiting the next
// LONG_TIMESTAMP to resolve (spec.md §4.5's forward-scan trigger).
func (r *Reconstructor) ResyncPending() bool {
	return r.resyncPending
}

// FlagResync marks the next message as needing a long-timestamp re-sync
// (spec.md §4.6 "the 'no previous timestamp' flag is raised" after a
// slot-processing error).
func (r *Reconstructor) FlagResync() {
	r.resyncPending = true
}

// HighWaterMessage returns the highest message number at which a
// LONG_TIMESTAMP (or a timing restart) was seen. The Reconstructor does
// not scan ahead for the next LONG_TIMESTAMP; a pending resync is cleared
// only when one arrives in stream order.
func (r *Reconstructor) HighWaterMessage() uint64 {
	return r.highWaterMsg
}
