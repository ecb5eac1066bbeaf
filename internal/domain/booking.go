package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type BookingStatus string

const (
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// Booking is a confirmed or cancelled reservation of one slot. Rows are never
// deleted; cancellation is a status transition and the history is retained.
type Booking struct {
	bun.BaseModel `bun:"table:bookings"`

	ID                   uuid.UUID     `bun:"id,pk,type:uuid"`
	ParticipantName      string        `bun:"participant_name,notnull"`
	ParticipantEmail     string        `bun:"participant_email,notnull"`
	ParticipantPhone     string        `bun:"participant_phone"`
	Title                string        `bun:"title,notnull"`
	Description          string        `bun:"description"`
	StartTime            time.Time     `bun:"start_time,notnull"`
	EndTime              time.Time     `bun:"end_time,notnull"`
	DurationMinutes      int           `bun:"duration_minutes,notnull"`
	Timezone             string        `bun:"timezone,notnull"`
	Status               BookingStatus `bun:"status,notnull"`
	CancellationToken    string        `bun:"cancellation_token"`
	CalendarEventLocator string        `bun:"calendar_event_locator"`
	CreatedAt            time.Time     `bun:"created_at,notnull"`
	UpdatedAt            time.Time     `bun:"updated_at,notnull"`
}

func (b *Booking) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if b.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			b.ID = id
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		if b.UpdatedAt.IsZero() {
			b.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		b.UpdatedAt = now
	}
	return nil
}

func (b Booking) Interval() Interval {
	return Interval{Start: b.StartTime, End: b.EndTime}
}
