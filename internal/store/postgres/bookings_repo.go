package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"michael/backend/internal/domain"
	"michael/backend/internal/store"
)

type BookingRepo struct {
	db *bun.DB
}

func NewBookingRepo(db *bun.DB) *BookingRepo {
	return &BookingRepo{db: db}
}

// Reserve is the atomic check-and-insert: the bookings_no_overlap exclusion
// constraint (confirmed rows only) rejects the losing insert of a race.
func (r *BookingRepo) Reserve(ctx context.Context, booking domain.Booking) (domain.Booking, error) {
	m := booking
	_, err := r.db.NewInsert().Model(&m).Exec(ctx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == "23P01" && pgErr.ConstraintName == "bookings_no_overlap" {
				return domain.Booking{}, store.ErrConflict
			}
			// A duplicate id means the same booking raced itself; a collision
			// on any other unique index (cancellation token) is not a slot
			// conflict and surfaces as-is.
			if pgErr.Code == "23505" && pgErr.ConstraintName == "bookings_pkey" {
				return domain.Booking{}, store.ErrConflict
			}
		}
		return domain.Booking{}, err
	}
	return m, nil
}

func (r *BookingRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	var b domain.Booking
	err := r.db.NewSelect().
		Model(&b).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Booking{}, store.ErrNotFound
		}
		return domain.Booking{}, err
	}
	return b, nil
}

func (r *BookingRepo) GetByCancellationToken(ctx context.Context, token string) (domain.Booking, error) {
	if token == "" {
		return domain.Booking{}, store.ErrNotFound
	}
	var b domain.Booking
	err := r.db.NewSelect().
		Model(&b).
		Where("cancellation_token = ?", token).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Booking{}, store.ErrNotFound
		}
		return domain.Booking{}, err
	}
	return b, nil
}

func (r *BookingRepo) Cancel(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	var out domain.Booking
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var b domain.Booking
		err := tx.NewSelect().
			Model(&b).
			Where("id = ?", id).
			For("UPDATE").
			Limit(1).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}

		if b.Status == domain.BookingStatusCancelled {
			out = b
			return nil
		}

		b.Status = domain.BookingStatusCancelled
		res, err := tx.NewUpdate().
			Model(&b).
			Column("status", "updated_at").
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return err
		}
		if _, err := res.RowsAffected(); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}
	return out, nil
}

func (r *BookingRepo) SetCalendarEventLocator(ctx context.Context, id uuid.UUID, locator string) error {
	res, err := r.db.NewUpdate().
		Model((*domain.Booking)(nil)).
		Set("calendar_event_locator = ?", locator).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *BookingRepo) List(ctx context.Context, limit, offset int) ([]domain.Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []domain.Booking
	err := r.db.NewSelect().
		Model(&rows).
		OrderExpr("start_time DESC").
		Limit(limit).
		Offset(offset).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *BookingRepo) ListConfirmedInRange(ctx context.Context, windowStart, windowEnd time.Time) ([]domain.Booking, error) {
	var rows []domain.Booking
	err := r.db.NewSelect().
		Model(&rows).
		Where("status = ?", domain.BookingStatusConfirmed).
		Where("start_time < ?", windowEnd).
		Where("end_time > ?", windowStart).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
