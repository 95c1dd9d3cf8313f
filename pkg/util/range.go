package util

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Interval is an inclusive integer range.
type Interval struct {
	Start int
	End   int
}

// RangeSet is a sorted, non-overlapping set of inclusive intervals.
// The zero value is empty and, by convention, means "no restriction".
type RangeSet struct {
	intervals []Interval
}

// ParseRangeSet parses a range specification without expanding it
// Supports formats like:
//   - "1-4094"
//   - "100,200,300"
//   - "1-99, 200-299, 4000"
func ParseRangeSet(spec string) (RangeSet, error) {
	var rs RangeSet
	if strings.TrimSpace(spec) == "" {
		return rs, nil
	}

	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		// A leading '-' is a negative bound, not a separator.
		sep := strings.Index(part[1:], "-")
		if sep < 0 {
			val, err := strconv.Atoi(part)
			if err != nil {
				return RangeSet{}, fmt.Errorf("invalid value: %s", part)
			}
			rs.intervals = append(rs.intervals, Interval{Start: val, End: val})
			continue
		}
		sep++

		start, err := strconv.Atoi(strings.TrimSpace(part[:sep]))
		if err != nil {
			return RangeSet{}, fmt.Errorf("invalid start value in range %s: %v", part, err)
		}
		end, err := strconv.Atoi(strings.TrimSpace(part[sep+1:]))
		if err != nil {
			return RangeSet{}, fmt.Errorf("invalid end value in range %s: %v", part, err)
		}
		if start > end {
			return RangeSet{}, fmt.Errorf("start value %d greater than end value %d in range %s", start, end, part)
		}
		rs.intervals = append(rs.intervals, Interval{Start: start, End: end})
	}

	rs.normalize()
	return rs, nil
}

// IsEmpty reports whether the set holds no intervals.
func (r RangeSet) IsEmpty() bool {
	return len(r.intervals) == 0
}

// Contains reports whether v falls inside any interval.
func (r RangeSet) Contains(v int) bool {
	i := sort.Search(len(r.intervals), func(i int) bool {
		return r.intervals[i].End >= v
	})
	return i < len(r.intervals) && r.intervals[i].Start <= v
}

// Intervals returns a copy of the merged intervals.
func (r RangeSet) Intervals() []Interval {
	out := make([]Interval, len(r.intervals))
	copy(out, r.intervals)
	return out
}

// String renders the set in compact notation, e.g. "1-99,200".
func (r RangeSet) String() string {
	parts := make([]string, 0, len(r.intervals))
	for _, iv := range r.intervals {
		parts = append(parts, formatRange(iv.Start, iv.End))
	}
	return strings.Join(parts, ",")
}

func (r *RangeSet) normalize() {
	if len(r.intervals) < 2 {
		return
	}
	sort.Slice(r.intervals, func(i, j int) bool {
		return r.intervals[i].Start < r.intervals[j].Start
	})
	merged := []Interval{r.intervals[0]}
	for _, iv := range r.intervals[1:] {
		last := &merged[len(merged)-1]
		if iv.Start <= last.End+1 {
			if iv.End > last.End {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	r.intervals = merged
}

func formatRange(start, end int) string {
	if start == end {
		return strconv.Itoa(start)
	}
	return fmt.Sprintf("%d-%d", start, end)
}
