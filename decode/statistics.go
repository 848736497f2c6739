package decode

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"

	"github.com/rtedbg/rtemsg/format"
)

// DumpStatisticsCSV writes the per-slot min/max leaderboards to w for
// every slot with count > 0, following the sorted-slice export shape the
// teacher's PerformanceStatistics.ExportCSV uses (vm/statistics.go):
// a summary header row, then a breakdown table (spec.md §4.7 "at
// shutdown, all slots with count>0 are dumped to a CSV").
func DumpStatisticsCSV(w io.Writer, plans []*format.Plan) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write([]string{"plan", "stat", "count", "mean", "min", "min_msg_no", "max", "max_msg_no"}); err != nil {
		return err
	}
	for _, plan := range plans {
		for i := range plan.Slots {
			s := plan.Slots[i].Stats
			if s == nil || s.Count == 0 {
				continue
			}
			var minV, maxV float64
			var minMsg, maxMsg uint64
			if len(s.MinValues) > 0 {
				minV, minMsg = s.MinValues[0].Value, s.MinValues[0].MessageNo
			}
			if len(s.MaxValues) > 0 {
				maxV, maxMsg = s.MaxValues[0].Value, s.MaxValues[0].MessageNo
			}
			row := []string{
				plan.Name, s.Name,
				fmt.Sprintf("%d", s.Count),
				fmt.Sprintf("%g", s.Mean()),
				fmt.Sprintf("%g", minV), fmt.Sprintf("%d", minMsg),
				fmt.Sprintf("%g", maxV), fmt.Sprintf("%d", maxMsg),
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	return nil
}

// Leaderboard is one ranked entry of a per-plan frequency/buffer-usage
// report (spec.md §4.7 "top-TOP_MESSAGES entries").
type Leaderboard struct {
	Name  string
	Value uint64
}

// TopByFrequency ranks plans by instance count, truncated to
// format.TopMessages, mirroring vm/statistics.go's
// GetTopInstructions/GetTopHotPath sort-then-truncate pattern.
func TopByFrequency(plans []*format.Plan) []Leaderboard {
	return topBy(plans, format.TopMessages, func(p *format.Plan) uint64 { return p.Instances })
}

// TopByBufferUsage ranks plans by total words consumed, truncated to
// format.TopMessages.
func TopByBufferUsage(plans []*format.Plan) []Leaderboard {
	return topBy(plans, format.TopMessages, func(p *format.Plan) uint64 { return p.TotalWords })
}

func topBy(plans []*format.Plan, limit int, value func(*format.Plan) uint64) []Leaderboard {
	entries := make([]Leaderboard, 0, len(plans))
	for _, p := range plans {
		if v := value(p); v > 0 {
			entries = append(entries, Leaderboard{Name: p.Name, Value: v})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Value > entries[j].Value })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// WriteLeaderboard renders a leaderboard as plain text lines, the same
// register the teacher's PerformanceStatistics.String() writes in.
func WriteLeaderboard(w io.Writer, title string, entries []Leaderboard) error {
	if _, err := fmt.Fprintf(w, "%s\n", title); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "  %-32s %d\n", e.Name, e.Value); err != nil {
			return err
		}
	}
	return nil
}

// DumpMessageCatalogue writes Stat_msgs_found.txt/Stat_msgs_missing.txt:
// one line per plan that did/did not fire at least once.
func DumpMessageCatalogue(found, missing io.Writer, plans []*format.Plan) error {
	for _, p := range plans {
		target := missing
		if p.Instances > 0 {
			target = found
		}
		if _, err := fmt.Fprintf(target, "%s\n", p.Name); err != nil {
			return err
		}
	}
	return nil
}
