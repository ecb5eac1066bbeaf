package ics

import (
	"time"

	"github.com/teambition/rrule-go"

	"michael/backend/internal/domain"
)

// Safety cap so a pathological feed cannot blow up a sync cycle.
const maxOccurrencesPerEvent = 5000

// ParseAndExpandEvents turns raw ICS documents from one source into the flat
// cached-event list for [rangeStart, rangeEnd]. Recurring events are expanded
// within the range only; an unbounded recurrence never escapes it. All-day
// events come back as host-timezone midnight-to-midnight intervals.
//
// Malformed documents are skipped whole; the skipped count is returned so the
// caller can log it. No error escapes this function.
func ParseAndExpandEvents(sourceID, calendarURL string, documents []string, hostLoc *time.Location, rangeStart, rangeEnd time.Time) (events []domain.CachedEvent, skipped int) {
	if rangeEnd.Before(rangeStart) {
		return nil, len(documents)
	}

	for _, doc := range documents {
		parsed, err := parseDocument(doc, hostLoc)
		if err != nil {
			skipped++
			continue
		}
		for _, ev := range parsed {
			events = append(events, expandEvent(ev, sourceID, calendarURL, rangeStart, rangeEnd)...)
		}
	}
	return events, skipped
}

func expandEvent(ev parsedEvent, sourceID, calendarURL string, rangeStart, rangeEnd time.Time) []domain.CachedEvent {
	if ev.RawRRule == "" {
		if !overlaps(ev.Start, ev.End, rangeStart, rangeEnd) {
			return nil
		}
		return []domain.CachedEvent{cachedEvent(ev, sourceID, calendarURL, ev.Start, ev.End)}
	}

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		// A bad RRULE degrades to the base occurrence rather than dropping
		// the event entirely.
		if !overlaps(ev.Start, ev.End, rangeStart, rangeEnd) {
			return nil
		}
		return []domain.CachedEvent{cachedEvent(ev, sourceID, calendarURL, ev.Start, ev.End)}
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	duration := ev.End.Sub(ev.Start)

	// Widen the query window so occurrences that start before the range but
	// extend into it are kept.
	queryStart := rangeStart.Add(-duration).In(ev.Start.Location())
	queryEnd := rangeEnd.In(ev.Start.Location())

	starts := set.Between(queryStart, queryEnd, true)
	if len(starts) > maxOccurrencesPerEvent {
		starts = starts[:maxOccurrencesPerEvent]
	}

	out := make([]domain.CachedEvent, 0, len(starts))
	for _, start := range starts {
		end := start.Add(duration)
		if !overlaps(start, end, rangeStart, rangeEnd) {
			continue
		}
		out = append(out, cachedEvent(ev, sourceID, calendarURL, start, end))
	}
	return out
}

func cachedEvent(ev parsedEvent, sourceID, calendarURL string, start, end time.Time) domain.CachedEvent {
	return domain.CachedEvent{
		SourceID:     sourceID,
		CalendarURL:  calendarURL,
		UID:          ev.UID,
		Summary:      ev.Summary,
		StartInstant: start.UTC(),
		EndInstant:   end.UTC(),
		IsAllDay:     ev.AllDay,
	}
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}
