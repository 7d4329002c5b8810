package timeline

import (
	"sort"

	"doorcal/internal/model"
)

// Merge sorts a door's intervals by start and resolves overlaps so that at
// most one status is recorded at any instant.
//
// Each interval is compared with the last one emitted. Two intervals overlap
// only when the earlier one ends on the same calendar date the later one
// starts and ends after that start; overlaps across midnight are not detected.
// When the earlier interval outranks the later one, the earlier one is carved
// around the later (truncated, or split in two when it contains the later
// one) and the later interval is kept intact. Otherwise, including equal
// priority, the earlier one is kept and the later interval is moved to start
// where the earlier ends, dropped if nothing is left. Empty pieces are never
// emitted.
//
// The input slice is not modified.
func Merge(intervals []model.Interval) []model.Interval {
	if len(intervals) == 0 {
		return []model.Interval{}
	}

	sorted := make([]model.Interval, len(intervals))
	copy(sorted, intervals)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	out := make([]model.Interval, 0, len(sorted))
	out = append(out, sorted[0])

	for _, cur := range sorted[1:] {
		prev := out[len(out)-1]

		if !overlaps(prev, cur) {
			out = append(out, cur)
			continue
		}

		if prev.Status.Outranks(cur.Status) {
			contains := !prev.End.Before(cur.End)

			out = out[:len(out)-1]
			if head := (model.Interval{Status: prev.Status, Start: prev.Start, End: cur.Start}); head.Duration() > 0 {
				out = append(out, head)
			}
			out = append(out, cur)
			if contains {
				if tail := (model.Interval{Status: prev.Status, Start: cur.End, End: prev.End}); tail.Duration() > 0 {
					out = append(out, tail)
				}
			}
			continue
		}

		cur.Start = prev.End
		if cur.Duration() > 0 {
			out = append(out, cur)
		}
	}

	return out
}

// MergeDoors replaces every door's exploded exceptions with its merged
// timeline.
func MergeDoors(doors map[string]*model.Door) {
	for _, door := range doors {
		door.ExplodedExceptions = Merge(door.ExplodedExceptions)
	}
}

func overlaps(prev, cur model.Interval) bool {
	return model.SameDate(prev.End, cur.Start) && prev.End.After(cur.Start)
}
