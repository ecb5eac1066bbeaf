package domain

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TimeOfDay is a locale-free wall-clock time. What instant it denotes depends
// on the date and timezone it is resolved against.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var tod TimeOfDay
	if _, err := fmt.Sscanf(s, "%d:%d", &tod.Hour, &tod.Minute); err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q", s)
	}
	if tod.Hour < 0 || tod.Hour > 23 || tod.Minute < 0 || tod.Minute > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q", s)
	}
	return tod, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func (t TimeOfDay) Before(other TimeOfDay) bool {
	if t.Hour != other.Hour {
		return t.Hour < other.Hour
	}
	return t.Minute < other.Minute
}

func (t TimeOfDay) Value() (driver.Value, error) {
	return t.String(), nil
}

func (t *TimeOfDay) Scan(src any) error {
	switch v := src.(type) {
	case string:
		tod, err := ParseTimeOfDay(v)
		if err != nil {
			return err
		}
		*t = tod
		return nil
	case []byte:
		return t.Scan(string(v))
	case time.Time:
		*t = TimeOfDay{Hour: v.Hour(), Minute: v.Minute()}
		return nil
	default:
		return fmt.Errorf("cannot scan %T into TimeOfDay", src)
	}
}

// HostAvailabilitySlot is one weekly recurring availability rule. Times are
// local wall-clock values in the host's configured timezone; a weekday may
// carry several rules, which are merged only after expansion.
type HostAvailabilitySlot struct {
	bun.BaseModel `bun:"table:host_availability"`

	ID        uuid.UUID    `bun:"id,pk,type:uuid"`
	Weekday   time.Weekday `bun:"weekday,notnull"`
	StartTime TimeOfDay    `bun:"start_time,notnull"`
	EndTime   TimeOfDay    `bun:"end_time,notnull"`
	CreatedAt time.Time    `bun:"created_at,notnull"`
}

func (s *HostAvailabilitySlot) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if _, ok := query.(*bun.InsertQuery); ok {
		if s.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			s.ID = id
		}
		if s.CreatedAt.IsZero() {
			s.CreatedAt = time.Now().UTC()
		}
	}
	return nil
}

func (s HostAvailabilitySlot) Validate() error {
	if s.Weekday < time.Sunday || s.Weekday > time.Saturday {
		return errors.New("invalid weekday")
	}
	if !s.StartTime.Before(s.EndTime) {
		return errors.New("end_time must be after start_time")
	}
	return nil
}

// ResolveLocal maps a local wall-clock time on a calendar date to an absolute
// instant in loc, using the lenient DST policy: a time skipped by a
// spring-forward transition is pushed forward by the gap length; a time that
// occurs twice under fall-back resolves with the earlier UTC offset.
func ResolveLocal(year int, month time.Month, day int, tod TimeOfDay, loc *time.Location) time.Time {
	// The requested wall clock, encoded as if it were UTC. Offsets around the
	// date are probed against real instants bracketing any transition.
	wall := time.Date(year, month, day, tod.Hour, tod.Minute, 0, 0, time.UTC)
	offBefore := offsetAt(wall.Add(-30*time.Hour), loc)
	offAfter := offsetAt(wall.Add(30*time.Hour), loc)

	if offBefore == offAfter {
		return wall.Add(-offBefore)
	}

	beforeValid := offsetAt(wall.Add(-offBefore), loc) == offBefore
	afterValid := offsetAt(wall.Add(-offAfter), loc) == offAfter

	switch {
	case beforeValid && afterValid:
		// Ambiguous (fall-back): both offsets produce this wall clock. The
		// earlier offset is the one in effect before the transition, which is
		// also the earlier instant.
		early := wall.Add(-offBefore)
		late := wall.Add(-offAfter)
		if late.Before(early) {
			early = late
		}
		return early
	case beforeValid:
		return wall.Add(-offBefore)
	case afterValid:
		return wall.Add(-offAfter)
	default:
		// Skipped (spring-forward): push forward by the gap length.
		return wall.Add(-offBefore)
	}
}

func offsetAt(t time.Time, loc *time.Location) time.Duration {
	_, off := t.In(loc).Zone()
	return time.Duration(off) * time.Second
}

// ExpandHostAvailability expands weekly rules into absolute intervals over the
// closed local-date range [rangeStart, rangeEnd]. Only the date components of
// the range bounds are used. One interval is emitted per (date, rule) match;
// same-day rules are not merged here. Rules that collapse to zero or negative
// duration after DST resolution are dropped.
func ExpandHostAvailability(rules []HostAvailabilitySlot, loc *time.Location, rangeStart, rangeEnd time.Time) []Interval {
	if len(rules) == 0 {
		return nil
	}

	startY, startM, startD := rangeStart.Date()
	endY, endM, endD := rangeEnd.Date()
	cursor := time.Date(startY, startM, startD, 0, 0, 0, 0, time.UTC)
	last := time.Date(endY, endM, endD, 0, 0, 0, 0, time.UTC)

	var out []Interval
	for ; !cursor.After(last); cursor = cursor.AddDate(0, 0, 1) {
		y, m, d := cursor.Date()
		wd := cursor.Weekday()
		for _, rule := range rules {
			if rule.Weekday != wd {
				continue
			}
			iv := Interval{
				Start: ResolveLocal(y, m, d, rule.StartTime, loc),
				End:   ResolveLocal(y, m, d, rule.EndTime, loc),
			}
			if iv.IsValid() {
				out = append(out, iv)
			}
		}
	}
	return out
}
