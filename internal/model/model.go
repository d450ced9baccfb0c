package model

import (
	"strings"
	"time"
)

// Interval is a [Start, End) span of time. Start must not be after End.
type Interval struct {
	Start time.Time
	End   time.Time
}

// UTC returns the interval with both bounds normalized to UTC.
func (i Interval) UTC() Interval {
	return Interval{Start: i.Start.UTC(), End: i.End.UTC()}
}

// Label is one category from the fixed taxonomy.
type Label string

const (
	LabelUnknown    Label = "Unknown"
	LabelSport      Label = "Sport"
	LabelCultural   Label = "Cultural"
	LabelAcademic   Label = "Academic"
	LabelNetworking Label = "Networking"
	LabelGaming     Label = "Gaming"
	LabelHealth     Label = "Health"
)

// Taxonomy is the closed set of assignable labels. Unknown is mutually
// exclusive with every other label.
var Taxonomy = []Label{
	LabelUnknown,
	LabelSport,
	LabelCultural,
	LabelAcademic,
	LabelNetworking,
	LabelGaming,
	LabelHealth,
}

// ParseLabel matches s case-insensitively against the taxonomy.
func ParseLabel(s string) (Label, bool) {
	s = strings.TrimSpace(s)
	for _, l := range Taxonomy {
		if strings.EqualFold(string(l), s) {
			return l, true
		}
	}
	return "", false
}

// Event is a single scraped event as stored and served.
type Event struct {
	Start       time.Time
	End         time.Time
	Cost        int
	Categories  []Label
	Summary     string
	Description string
	Link        string
	Location    string
	UpdatedAt   time.Time
}

// Interval returns the event's time span.
func (e Event) Interval() Interval {
	return Interval{Start: e.Start, End: e.End}
}

// NaturalKey identifies a logically unique event for upsert purposes. Date
// is the start day formatted as YYYY-MM-DD in the site's canonical zone.
type NaturalKey struct {
	Date        string
	Summary     string
	Description string
}

const keyDateLayout = "2006-01-02"

// KeyFor derives the natural key of e, taking the start date in loc.
func KeyFor(e Event, loc *time.Location) NaturalKey {
	if loc == nil {
		loc = time.UTC
	}
	return NaturalKey{
		Date:        e.Start.In(loc).Format(keyDateLayout),
		Summary:     e.Summary,
		Description: e.Description,
	}
}

// String is used for logging and per-key locking.
func (k NaturalKey) String() string {
	return k.Date + "|" + k.Summary + "|" + k.Description
}

// UpsertResult reports what an upsert did to the stored record.
type UpsertResult int

const (
	Inserted UpsertResult = iota + 1
	Updated
	Unchanged
)

func (r UpsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Unchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}
