package ics

import (
	"strconv"
	"strings"
	"unicode"

	ical "github.com/arran4/golang-ical"

	"michael/backend/internal/domain"
)

// ProductID identifies this tool in generated calendar objects; booking UIDs
// are "<booking id>@michael".
const ProductID = "-//michael//scheduling//EN"

const uidSuffix = "@michael"

// Method selects the scheduling semantics of a generated calendar object.
type Method string

const (
	MethodRequest Method = "REQUEST"
	MethodCancel  Method = "CANCEL"
)

// SanitizeText strips control characters from user-supplied free text before
// it reaches the serialized calendar format. Newlines and tabs become single
// spaces; every other control character is removed. Sanitization happens here
// at the boundary regardless of any escaping the encoder performs.
func SanitizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := false
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			if !lastSpace {
				b.WriteRune(' ')
			}
			lastSpace = true
		case unicode.IsControl(r):
			// dropped
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}

// EventUID returns the stable UID for a booking's calendar object.
func EventUID(b domain.Booking) string {
	return b.ID.String() + uidSuffix
}

// BuildBookingEvent serializes a booking as a single-VEVENT VCALENDAR.
// DTSTART/DTEND are emitted in UTC; SEQUENCE is 0 for REQUEST and 1 for
// CANCEL; all user-supplied text fields pass through SanitizeText.
func BuildBookingEvent(b domain.Booking, method Method, videoLink string) string {
	cal := ical.NewCalendar()
	cal.SetProductId(ProductID)
	cal.SetMethod(ical.Method(method))

	ev := cal.AddEvent(EventUID(b))
	ev.SetDtStampTime(b.CreatedAt.UTC())
	ev.SetStartAt(b.StartTime.UTC())
	ev.SetEndAt(b.EndTime.UTC())
	ev.SetSummary(SanitizeText(b.Title))

	if desc := SanitizeText(b.Description); desc != "" {
		ev.SetDescription(desc)
	}
	if videoLink != "" {
		ev.SetLocation(SanitizeText(videoLink))
	}

	switch method {
	case MethodCancel:
		ev.SetStatus(ical.ObjectStatusCancelled)
		ev.SetProperty(ical.ComponentPropertySequence, strconv.Itoa(1))
	default:
		ev.SetStatus(ical.ObjectStatusConfirmed)
		ev.SetProperty(ical.ComponentPropertySequence, strconv.Itoa(0))
	}

	return cal.Serialize()
}
