package ics

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"campuscal/internal/interval"
	appLog "campuscal/internal/log"
	"campuscal/internal/model"
)

const DefaultHorizonDays = 30

// ParseError reports a malformed feed or payload field.
type ParseError struct {
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("ics: parse %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("ics: parse %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// FeedEvent is the busy-time view of one VEVENT in an external feed.
type FeedEvent struct {
	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule string
	ExDates  []time.Time
}

// ParseFeed parses an ICS payload into its VEVENT components, in feed order.
func ParseFeed(body []byte) ([]FeedEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &ParseError{Field: "VCALENDAR", Err: fmt.Errorf("empty body")}
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{Field: "VCALENDAR", Err: err}
	}

	comps := cal.Events()
	events := make([]FeedEvent, 0, len(comps))
	for _, comp := range comps {
		ev, err := parseVEvent(comp)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func parseVEvent(ve *ical.VEvent) (FeedEvent, error) {
	var out FeedEvent

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, &ParseError{Field: "DTSTART", Err: fmt.Errorf("missing")}
	}
	start, err := ve.GetStartAt()
	if err != nil {
		return out, &ParseError{Field: "DTSTART", Value: dtStart.Value, Err: err}
	}
	out.Start = start
	out.AllDay = isDateValue(dtStart)

	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
		end, err := ve.GetEndAt()
		if err != nil {
			return out, &ParseError{Field: "DTEND", Value: dtEnd.Value, Err: err}
		}
		out.End = end
	} else if out.AllDay {
		// No DTEND on a date value: the event covers that one day.
		out.End = out.Start.AddDate(0, 0, 1)
	} else {
		out.End = out.Start
	}

	if out.End.Before(out.Start) {
		return out, &ParseError{Field: "DTEND", Value: out.End.Format(time.RFC3339), Err: fmt.Errorf("before DTSTART")}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part, out.Start.Location()); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	return out, nil
}

// isDateValue reports whether a DTSTART is a whole-day DATE value.
func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// parseICSTime parses a basic DATE or DATE-TIME value. Floating values are
// read in loc.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	if loc == nil {
		loc = time.UTC
	}
	if strings.HasSuffix(v, "Z") {
		return time.Parse(compactUTCLayout, v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, loc)
}

// FeedParser turns an external calendar feed into a merged busy set.
type FeedParser struct {
	source      Source
	horizonDays int
}

// NewFeedParser builds a FeedParser. A non-positive horizonDays selects
// DefaultHorizonDays.
func NewFeedParser(source Source, horizonDays int) *FeedParser {
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	return &FeedParser{source: source, horizonDays: horizonDays}
}

// BusyIntervals fetches url and returns its busy time as a merged set in
// UTC. An unreachable feed yields an empty set and no error; a malformed
// feed yields a *ParseError.
func (p *FeedParser) BusyIntervals(ctx context.Context, url string) ([]model.Interval, error) {
	body, err := p.source.Fetch(ctx, url)
	if err != nil {
		appLog.Warn("busy feed unavailable; treating as free", "url", appLog.RedactURL(url), "err", err)
		return nil, nil
	}

	events, err := ParseFeed(body)
	if err != nil {
		return nil, err
	}

	busy := p.Collect(events)
	appLog.Debug("busy feed parsed", "url", appLog.RedactURL(url), "events", len(events), "busy", len(busy))
	return busy, nil
}

// Collect applies the horizon rule to events and merges what remains. The
// first event in feed order anchors day0; anything whose start day falls
// after day0 plus the horizon is dropped. There is no lower bound.
func (p *FeedParser) Collect(events []FeedEvent) []model.Interval {
	if len(events) == 0 {
		return nil
	}

	day0 := truncateDay(events[0].Start)
	horizon := day0.AddDate(0, 0, p.horizonDays)

	intervals := make([]model.Interval, 0, len(events))
	for _, ev := range events {
		for _, occ := range occurrences(ev, horizon) {
			if truncateDay(occ.Start).After(horizon) {
				continue
			}
			intervals = append(intervals, occ.UTC())
		}
	}
	return interval.Merge(intervals)
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
