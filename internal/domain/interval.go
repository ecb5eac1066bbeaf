package domain

import (
	"sort"
	"time"
)

// Interval is a half-open time range [Start, End) over absolute instants.
// Every interval returned by the functions in this file has positive
// duration; inputs that do not are filtered out rather than propagated.
type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) IsValid() bool {
	return iv.Start.Before(iv.End)
}

func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Contains reports whether t lies within [Start, End).
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

// Overlaps reports whether the two half-open intervals share any instant.
// Touching boundaries (a.End == b.Start) do not overlap.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// Intersect returns the overlap of a and b, or ok=false when the overlap is
// empty. Commutative.
func Intersect(a, b Interval) (Interval, bool) {
	start := a.Start
	if b.Start.After(start) {
		start = b.Start
	}
	end := a.End
	if b.End.Before(end) {
		end = b.End
	}
	out := Interval{Start: start, End: end}
	if !out.IsValid() {
		return Interval{}, false
	}
	return out, true
}

// Subtract removes every removal's overlap from source, returning the sorted,
// disjoint remainders. Removals that merely touch the source boundaries do
// not truncate it. Invalid inputs are ignored.
func Subtract(source Interval, removals []Interval) []Interval {
	if !source.IsValid() {
		return nil
	}

	remaining := []Interval{source}
	for _, rm := range removals {
		if !rm.IsValid() {
			continue
		}
		next := make([]Interval, 0, len(remaining)+1)
		for _, iv := range remaining {
			if !iv.Overlaps(rm) {
				next = append(next, iv)
				continue
			}
			left := Interval{Start: iv.Start, End: rm.Start}
			if left.IsValid() {
				next = append(next, left)
			}
			right := Interval{Start: rm.End, End: iv.End}
			if right.IsValid() {
				next = append(next, right)
			}
		}
		remaining = next
	}

	sort.Slice(remaining, func(i, j int) bool {
		return remaining[i].Start.Before(remaining[j].Start)
	})
	return remaining
}

// MergeIntervals merges overlapping or touching intervals into a sorted,
// non-adjacent, non-overlapping set. Idempotent; invalid inputs are dropped.
func MergeIntervals(intervals []Interval) []Interval {
	valid := make([]Interval, 0, len(intervals))
	for _, iv := range intervals {
		if iv.IsValid() {
			valid = append(valid, iv)
		}
	}
	if len(valid) == 0 {
		return nil
	}

	sort.Slice(valid, func(i, j int) bool {
		return valid[i].Start.Before(valid[j].Start)
	})

	out := make([]Interval, 0, len(valid))
	cur := valid[0]
	for _, iv := range valid[1:] {
		if !iv.Start.After(cur.End) {
			if iv.End.After(cur.End) {
				cur.End = iv.End
			}
			continue
		}
		out = append(out, cur)
		cur = iv
	}
	out = append(out, cur)
	return out
}

// Chunk tiles the interval with back-to-back pieces of the given duration,
// starting at interval.Start. A trailing remainder shorter than duration is
// dropped.
func Chunk(duration time.Duration, interval Interval) []Interval {
	if duration <= 0 || !interval.IsValid() {
		return nil
	}

	out := make([]Interval, 0, interval.Duration()/duration)
	for start := interval.Start; !start.Add(duration).After(interval.End); start = start.Add(duration) {
		out = append(out, Interval{Start: start, End: start.Add(duration)})
	}
	return out
}
