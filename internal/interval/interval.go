// Package interval merges busy time spans and tests events against them.
package interval

import (
	"sort"

	"campuscal/internal/model"
)

// Merge returns the merged form of in: sorted ascending by start, pairwise
// non-overlapping, with touching intervals joined. The input slice is not
// modified. Zero or one interval is returned as-is.
func Merge(in []model.Interval) []model.Interval {
	if len(in) < 2 {
		return in
	}

	sorted := make([]model.Interval, len(in))
	copy(sorted, in)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.End.Before(b.End)
	})

	out := make([]model.Interval, 0, len(sorted))
	cur := sorted[0]
	for _, next := range sorted[1:] {
		if next.Start.After(cur.End) {
			out = append(out, cur)
			cur = next
			continue
		}
		if next.End.After(cur.End) {
			cur.End = next.End
		}
	}
	return append(out, cur)
}

// Conflicts reports whether ev strictly overlaps any interval in busy, which
// must be a merged set. Touching boundaries are not conflicts.
func Conflicts(ev model.Interval, busy []model.Interval) bool {
	// Ends of a merged set are ascending too, so the first interval ending
	// after ev.Start is the only candidate.
	i := sort.Search(len(busy), func(i int) bool {
		return busy[i].End.After(ev.Start)
	})
	if i == len(busy) {
		return false
	}
	return busy[i].Start.Before(ev.End)
}

// Filter drops every event that conflicts with busy. busy need not be merged
// or sorted; both sides are normalized to UTC before comparison.
func Filter(events []model.Event, busy []model.Interval) []model.Event {
	if len(busy) == 0 {
		return events
	}
	norm := make([]model.Interval, len(busy))
	for i, b := range busy {
		norm[i] = b.UTC()
	}
	norm = Merge(norm)

	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if Conflicts(ev.Interval().UTC(), norm) {
			continue
		}
		out = append(out, ev)
	}
	return out
}
