package dbaccess

import (
	"sort"
)

// Interval is a closed wall-clock interval [Start, End] in millisecond
// timestamps.
type Interval struct {
	Start int64
	End   int64
}

// mergeInterval adds newInterval to the sorted, disjoint interval list and
// coalesces any intervals that overlap or are adjacent to it. The result is
// again sorted and disjoint.
func mergeInterval(intervals []Interval, newInterval Interval) []Interval {
	merged := make([]Interval, 0, len(intervals)+1)
	inserted := false
	for _, interval := range intervals {
		switch {
		case interval.End+1 < newInterval.Start:
			merged = append(merged, interval)
		case newInterval.End+1 < interval.Start:
			if !inserted {
				merged = append(merged, newInterval)
				inserted = true
			}
			merged = append(merged, interval)
		default:
			// Overlapping or adjacent. Absorb into newInterval and
			// keep scanning, later intervals may coalesce too.
			if interval.Start < newInterval.Start {
				newInterval.Start = interval.Start
			}
			if interval.End > newInterval.End {
				newInterval.End = interval.End
			}
		}
	}
	if !inserted {
		merged = append(merged, newInterval)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Start < merged[j].Start })
	return merged
}

// missingIntervals returns the complement of the sorted, disjoint interval
// list restricted to the query interval, in ascending order.
func missingIntervals(intervals []Interval, query Interval) []Interval {
	var missing []Interval
	cursor := query.Start
	for _, interval := range intervals {
		if interval.End < cursor {
			continue
		}
		if interval.Start > query.End {
			break
		}
		if interval.Start > cursor {
			missing = append(missing, Interval{Start: cursor, End: interval.Start - 1})
		}
		if interval.End+1 > cursor {
			cursor = interval.End + 1
		}
		if cursor > query.End {
			return missing
		}
	}
	if cursor <= query.End {
		missing = append(missing, Interval{Start: cursor, End: query.End})
	}
	return missing
}
