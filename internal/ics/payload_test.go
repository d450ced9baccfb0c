package ics

import (
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"
)

const samplePayload = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"BEGIN:VEVENT\r\n" +
	"DTSTART:20250317T073000Z\r\n" +
	"DTEND:20250317T083000Z\r\n" +
	"SUMMARY:Intro to Kung Fu\r\n" +
	"DESCRIPTION:Long Fist basics\\, week 1\r\n" +
	"LOCATION:UTS Underground: Theatre Lounge\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestExtractPayloadDataURI(t *testing.T) {
	raw := DataURIPrefix + url.PathEscape(samplePayload)

	p, err := ExtractPayload(raw)
	if err != nil {
		t.Fatalf("ExtractPayload: %v", err)
	}

	wantStart := time.Date(2025, 3, 17, 7, 30, 0, 0, time.UTC)
	if !p.Start.Equal(wantStart) {
		t.Fatalf("start = %s, want %s", p.Start, wantStart)
	}
	if !p.End.Equal(wantStart.Add(time.Hour)) {
		t.Fatalf("end = %s", p.End)
	}
	if p.Summary != "Intro to Kung Fu" {
		t.Fatalf("summary = %q", p.Summary)
	}
	if p.Description != "Long Fist basics, week 1" {
		t.Fatalf("description = %q", p.Description)
	}
	// Only the first colon separates key from value.
	if p.Location != "UTS Underground: Theatre Lounge" {
		t.Fatalf("location = %q", p.Location)
	}
	if missing := p.Missing(payloadFields...); len(missing) != 0 {
		t.Fatalf("unexpected missing fields: %v", missing)
	}
}

func TestExtractPayloadToleratesStrayPercent(t *testing.T) {
	encoded := url.PathEscape(samplePayload)
	raw := DataURIPrefix + strings.Replace(encoded, "Intro", "100% Intro", 1)

	p, err := ExtractPayload(raw)
	if err != nil {
		t.Fatalf("ExtractPayload: %v", err)
	}
	if missing := p.Missing(FieldStart, FieldEnd, FieldSummary); len(missing) != 0 {
		t.Fatalf("missing = %v", missing)
	}
	if p.Summary != "100% Intro to Kung Fu" {
		t.Fatalf("summary = %q", p.Summary)
	}
	if got := percentDecode("50%2"); got != "50%2" {
		t.Fatalf("truncated escape = %q", got)
	}
}

func TestExtractPayloadPlainText(t *testing.T) {
	p, err := ExtractPayload(samplePayload)
	if err != nil {
		t.Fatalf("ExtractPayload: %v", err)
	}
	if p.Summary != "Intro to Kung Fu" {
		t.Fatalf("summary = %q", p.Summary)
	}
}

func TestExtractPayloadMissingFieldsAreOmitted(t *testing.T) {
	raw := "BEGIN:VEVENT\nDTSTART:20250317T073000Z\nSUMMARY:Quiz night\nEND:VEVENT\n"

	p, err := ExtractPayload(raw)
	if err != nil {
		t.Fatalf("ExtractPayload: %v", err)
	}
	if !p.Has(FieldStart) || !p.Has(FieldSummary) {
		t.Fatal("expected DTSTART and SUMMARY present")
	}
	missing := p.Missing(FieldStart, FieldEnd, FieldSummary, FieldLocation)
	if len(missing) != 2 || missing[0] != FieldEnd || missing[1] != FieldLocation {
		t.Fatalf("missing = %v", missing)
	}
	if !p.End.IsZero() {
		t.Fatalf("end should be zero, got %s", p.End)
	}
}

func TestExtractPayloadBadDate(t *testing.T) {
	raw := "DTSTART:2025-03-17 07:30\nSUMMARY:x\n"

	_, err := ExtractPayload(raw)
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if perr.Field != "DTSTART" {
		t.Fatalf("field = %q", perr.Field)
	}
}

func TestExtractPayloadFirstOccurrenceWins(t *testing.T) {
	raw := "SUMMARY:Calendar\nBEGIN:VEVENT\nSUMMARY:Event\nEND:VEVENT\n"

	p, err := ExtractPayload(raw)
	if err != nil {
		t.Fatalf("ExtractPayload: %v", err)
	}
	if p.Summary != "Calendar" {
		t.Fatalf("summary = %q", p.Summary)
	}
}

func TestExtractPayloadUnfoldsContinuationLines(t *testing.T) {
	raw := "DESCRIPTION:Bring your own\r\n  racket\r\nSUMMARY:Badminton\r\n"

	p, err := ExtractPayload(raw)
	if err != nil {
		t.Fatalf("ExtractPayload: %v", err)
	}
	if p.Description != "Bring your own racket" {
		t.Fatalf("description = %q", p.Description)
	}
	if strings.Contains(p.Summary, "\r") {
		t.Fatalf("summary kept CR: %q", p.Summary)
	}
}
