package ics

import (
	"strings"
	"time"
)

// DataURIPrefix is the marker in front of "Add to calendar" links.
const DataURIPrefix = "data:text/calendar;charset=utf8,"

const compactUTCLayout = "20060102T150405Z"

// Field names a property read from an event payload.
type Field string

const (
	FieldStart       Field = "DTSTART"
	FieldEnd         Field = "DTEND"
	FieldSummary     Field = "SUMMARY"
	FieldDescription Field = "DESCRIPTION"
	FieldLocation    Field = "LOCATION"
)

var payloadFields = []Field{FieldStart, FieldEnd, FieldSummary, FieldDescription, FieldLocation}

// Payload holds the fields found in one event's calendar payload. Absent
// fields are left zero and reported by Has.
type Payload struct {
	Start       time.Time
	End         time.Time
	Summary     string
	Description string
	Location    string

	present map[Field]bool
}

// Has reports whether f appeared in the payload.
func (p Payload) Has(f Field) bool { return p.present[f] }

// Missing lists the given fields that did not appear in the payload.
func (p Payload) Missing(fields ...Field) []Field {
	var out []Field
	for _, f := range fields {
		if !p.present[f] {
			out = append(out, f)
		}
	}
	return out
}

// percentDecode decodes every valid %XX escape and leaves anything else,
// including a stray "%", as-is.
func percentDecode(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

// ExtractPayload parses a single event's raw calendar payload, optionally
// percent-encoded behind DataURIPrefix. Properties are read one KEY:VALUE
// per line and the first occurrence of each wins. A date field that is
// present but not in YYYYMMDDTHHMMSSZ form yields a *ParseError.
func ExtractPayload(raw string) (Payload, error) {
	text := strings.TrimPrefix(raw, DataURIPrefix)
	text = percentDecode(text)

	values := make(map[Field]string, len(payloadFields))
	for _, line := range unfold(text) {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		f := Field(strings.ToUpper(strings.TrimSpace(key)))
		if _, seen := values[f]; seen || !wanted(f) {
			continue
		}
		values[f] = strings.TrimSpace(value)
	}

	p := Payload{present: make(map[Field]bool, len(values))}
	for f, v := range values {
		p.present[f] = true
		switch f {
		case FieldStart, FieldEnd:
			t, err := time.Parse(compactUTCLayout, v)
			if err != nil {
				return Payload{}, &ParseError{Field: string(f), Value: v, Err: err}
			}
			if f == FieldStart {
				p.Start = t
			} else {
				p.End = t
			}
		case FieldSummary:
			p.Summary = unescapeText(v)
		case FieldDescription:
			p.Description = unescapeText(v)
		case FieldLocation:
			p.Location = unescapeText(v)
		}
	}
	return p, nil
}

func wanted(f Field) bool {
	for _, w := range payloadFields {
		if w == f {
			return true
		}
	}
	return false
}

// unfold splits text into logical lines, joining RFC 5545 continuation
// lines (those starting with a space or tab) onto the previous line.
func unfold(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if len(lines) > 0 && (strings.HasPrefix(l, " ") || strings.HasPrefix(l, "\t")) {
			lines[len(lines)-1] += l[1:]
			continue
		}
		lines = append(lines, strings.TrimRight(l, "\r"))
	}
	return lines
}

var textUnescaper = strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)

func unescapeText(v string) string {
	return textUnescaper.Replace(v)
}
