package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"michael/backend/internal/domain"
)

// BookingRepository is the persistence surface for bookings. Reservation is a
// single atomic check-and-insert: two racing inserts for overlapping slots
// cannot both succeed, and the loser gets ErrConflict.
type BookingRepository interface {
	// Reserve inserts the booking if its slot is still free. Returns
	// ErrConflict when a confirmed booking already overlaps the slot.
	Reserve(ctx context.Context, booking domain.Booking) (domain.Booking, error)

	GetByID(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	GetByCancellationToken(ctx context.Context, token string) (domain.Booking, error)

	// Cancel transitions a booking to cancelled. Idempotent: cancelling an
	// already-cancelled booking returns it unchanged. The row is never
	// deleted.
	Cancel(ctx context.Context, id uuid.UUID) (domain.Booking, error)

	// SetCalendarEventLocator records the external calendar server's
	// reference to the written event after a successful write-back.
	SetCalendarEventLocator(ctx context.Context, id uuid.UUID, locator string) error

	List(ctx context.Context, limit, offset int) ([]domain.Booking, error)
	ListConfirmedInRange(ctx context.Context, windowStart, windowEnd time.Time) ([]domain.Booking, error)
}

// AvailabilityRepository stores the host's weekly recurring availability
// rules. The whole weekly set is replaced at once when the host edits it.
type AvailabilityRepository interface {
	ListHostAvailability(ctx context.Context) ([]domain.HostAvailabilitySlot, error)
	ReplaceHostAvailability(ctx context.Context, slots []domain.HostAvailabilitySlot) error
}
