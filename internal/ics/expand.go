package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "campuscal/internal/log"
	"campuscal/internal/model"
)

// maxOccurrencesPerEvent caps expansion of a single recurring component.
const maxOccurrencesPerEvent = 1000

// occurrences returns the concrete spans of ev whose start is no later than
// the end of the horizon day. Non-recurring events yield themselves.
func occurrences(ev FeedEvent, horizon time.Time) []model.Interval {
	single := []model.Interval{{Start: ev.Start, End: ev.End}}
	if ev.RawRRule == "" {
		return single
	}

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("busy feed: failed to parse RRULE; using first instance", err, "rrule", ev.RawRRule)
		return single
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Anything starting on the horizon day itself is still in range.
	until := horizon.AddDate(0, 0, 1).Add(-time.Nanosecond).In(ev.Start.Location())
	starts := set.Between(ev.Start, until, true)
	if len(starts) > maxOccurrencesPerEvent {
		// Keep the latest occurrences; they are the ones nearest the horizon.
		appLog.Error("busy feed: truncated recurring event", errors.New("max occurrences reached"),
			"rrule", ev.RawRRule, "cap", maxOccurrencesPerEvent)
		starts = starts[len(starts)-maxOccurrencesPerEvent:]
	}

	dur := ev.End.Sub(ev.Start)
	out := make([]model.Interval, 0, len(starts))
	for _, s := range starts {
		out = append(out, model.Interval{Start: s, End: s.Add(dur)})
	}
	return out
}
