package format

// SlotStats accumulates the per-value statistics spec.md §4.7 describes:
// up to MinMaxValues smallest/largest values with their originating
// message numbers, plus a running sum and count for the mean.
type SlotStats struct {
	Name string

	MinValues []ExtremeValue // ascending order, smallest first
	MaxValues []ExtremeValue // descending order, largest first

	Sum   float64
	Count uint64
}

// ExtremeValue is one entry of a min/max leaderboard.
type ExtremeValue struct {
	Value     float64
	MessageNo uint64
}

// MinMaxValues is the default depth of each of the smallest/largest
// leaderboards (spec.md §4.7).
const MinMaxValues = 10

// TopMessages is the default leaderboard depth for per-plan frequency and
// buffer-usage rankings (spec.md §4.7).
const TopMessages = 10

// NewSlotStats creates a stats accumulator for a named value slot.
func NewSlotStats(name string) *SlotStats {
	return &SlotStats{Name: name}
}

// Observe records one value with its message number, keeping the min/max
// leaderboards sorted via insertion (the leaderboards are small, so a
// linear shift is the simplest correct implementation, per spec.md §4.7).
func (s *SlotStats) Observe(value float64, messageNo uint64) {
	s.Sum += value
	s.Count++

	s.MinValues = insertSorted(s.MinValues, ExtremeValue{value, messageNo}, MinMaxValues, true)
	s.MaxValues = insertSorted(s.MaxValues, ExtremeValue{value, messageNo}, MinMaxValues, false)
}

// Mean returns the running mean, or 0 if no values were observed.
func (s *SlotStats) Mean() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / float64(s.Count)
}

// insertSorted inserts v into a bounded sorted slice (ascending if
// smallestFirst, else descending), keeping at most max entries.
func insertSorted(list []ExtremeValue, v ExtremeValue, max int, smallestFirst bool) []ExtremeValue {
	pos := len(list)
	for i, e := range list {
		if (smallestFirst && v.Value < e.Value) || (!smallestFirst && v.Value > e.Value) {
			pos = i
			break
		}
	}
	if pos == len(list) {
		if len(list) >= max {
			return list
		}
		return append(list, v)
	}
	list = append(list, ExtremeValue{})
	copy(list[pos+1:], list[pos:])
	list[pos] = v
	if len(list) > max {
		list = list[:max]
	}
	return list
}

// MessageTypeStats is the per-plan frequency/buffer-usage leaderboard entry
// (spec.md §4.7).
type MessageTypeStats struct {
	Name       string
	Count      uint64
	TotalBytes uint64
}
