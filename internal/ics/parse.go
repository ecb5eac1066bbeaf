package ics

import (
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
)

// parsedEvent is the normalized representation of one VEVENT before
// recurrence expansion.
type parsedEvent struct {
	UID     string
	Summary string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule string
	ExDates  []time.Time
}

// parseDocument parses a single ICS payload into parsedEvents. Any failure,
// including a malformed VEVENT inside an otherwise well-formed calendar,
// fails the whole document: ingestion is all-or-nothing per document.
func parseDocument(body string, hostLoc *time.Location) ([]parsedEvent, error) {
	if strings.TrimSpace(body) == "" {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(strings.NewReader(body))
	if err != nil {
		return nil, err
	}

	events := make([]parsedEvent, 0, len(cal.Events()))
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(ve, hostLoc)
		if err != nil {
			return nil, fmt.Errorf("vevent: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func parseVEvent(ve *ical.VEvent, hostLoc *time.Location) (parsedEvent, error) {
	var out parsedEvent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}

	dtStartProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStartProp == nil || dtStartProp.Value == "" {
		return out, errors.New("missing DTSTART")
	}
	out.AllDay = isDateValue(dtStartProp)

	if out.AllDay {
		// All-day events are local midnight-to-midnight in the host timezone,
		// regardless of the feed's own notion of locality.
		start, err := parseDateOnly(dtStartProp.Value, hostLoc)
		if err != nil {
			return out, fmt.Errorf("DTSTART: %w", err)
		}
		out.Start = start
		out.End = start.AddDate(0, 0, 1)

		if dtEndProp := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEndProp != nil && dtEndProp.Value != "" {
			// DTEND for all-day events is an exclusive date.
			end, err := parseDateOnly(dtEndProp.Value, hostLoc)
			if err != nil {
				return out, fmt.Errorf("DTEND: %w", err)
			}
			if end.After(out.Start) {
				out.End = end
			}
		}
	} else {
		// Timed events retain their native instants; the library resolves
		// TZID and UTC forms.
		start, err := ve.GetStartAt()
		if err != nil {
			return out, fmt.Errorf("DTSTART: %w", err)
		}
		out.Start = start

		end, err := ve.GetEndAt()
		if err != nil {
			// DTEND is optional; a timed event without one is a point event
			// that blocks nothing, so give it zero width at its start.
			end = start
		}
		out.End = end
	}

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.RawRRule = rruleProp.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, err := parseICSTime(part, out.Start.Location())
			if err != nil {
				return out, fmt.Errorf("EXDATE: %w", err)
			}
			out.ExDates = append(out.ExDates, t)
		}
	}

	return out, nil
}

func isDateValue(p *ical.IANAProperty) bool {
	if p.ICalParameters != nil {
		if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			return true
		}
	}
	return !strings.Contains(p.Value, "T")
}

func parseDateOnly(v string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("20060102", strings.TrimSpace(v), loc)
}

// parseICSTime parses a basic ICS date or date-time value. Floating local
// times resolve in loc (the event's own location when known).
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
