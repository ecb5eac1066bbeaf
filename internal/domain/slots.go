package domain

import "time"

// AvailabilityWindow is a participant-submitted window of availability.
// Start and End are absolute instants carrying the offset the participant
// submitted; Timezone is the IANA id they declared, if any, and is purely
// informational here.
type AvailabilityWindow struct {
	Start    time.Time
	End      time.Time
	Timezone string
}

func (w AvailabilityWindow) Interval() Interval {
	return Interval{Start: w.Start, End: w.End}
}

// TimeSlot is one offered bookable slot. Start and End are rendered in the
// output timezone, each with the UTC offset in effect at that instant, so a
// slot crossing a DST boundary shows two different wall-clock offsets.
type TimeSlot struct {
	Start time.Time
	End   time.Time
}

// ComputeSlots reconciles participant windows, host weekly rules, confirmed
// bookings and external calendar blockers into concrete offered slots of the
// given duration.
//
// Empty participant windows or empty host rules yield no slots. Cancelled
// bookings never subtract. A blocker with no overlap is a no-op.
func ComputeSlots(
	windows []AvailabilityWindow,
	rules []HostAvailabilitySlot,
	hostLoc *time.Location,
	bookings []Booking,
	blockers []Interval,
	durationMinutes int,
	outputLoc *time.Location,
) []TimeSlot {
	if len(windows) == 0 || len(rules) == 0 || durationMinutes <= 0 {
		return nil
	}

	wantedIntervals := make([]Interval, 0, len(windows))
	for _, w := range windows {
		wantedIntervals = append(wantedIntervals, w.Interval())
	}
	wanted := MergeIntervals(wantedIntervals)
	if len(wanted) == 0 {
		return nil
	}

	// Expand host rules over the span of the merged windows, widened a day on
	// each side so host-timezone date boundaries cannot clip the edges.
	spanStart := wanted[0].Start.In(hostLoc).AddDate(0, 0, -1)
	spanEnd := wanted[len(wanted)-1].End.In(hostLoc).AddDate(0, 0, 1)
	hostIntervals := MergeIntervals(ExpandHostAvailability(rules, hostLoc, spanStart, spanEnd))
	if len(hostIntervals) == 0 {
		return nil
	}

	removals := make([]Interval, 0, len(bookings)+len(blockers))
	for _, b := range bookings {
		if b.Status != BookingStatusConfirmed {
			continue
		}
		removals = append(removals, b.Interval())
	}
	removals = append(removals, blockers...)

	duration := time.Duration(durationMinutes) * time.Minute

	var out []TimeSlot
	for _, want := range wanted {
		for _, host := range hostIntervals {
			base, ok := Intersect(want, host)
			if !ok {
				continue
			}
			for _, free := range Subtract(base, removals) {
				for _, slot := range Chunk(duration, free) {
					out = append(out, TimeSlot{
						Start: slot.Start.In(outputLoc),
						End:   slot.End.In(outputLoc),
					})
				}
			}
		}
	}
	return out
}
