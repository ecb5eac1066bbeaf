package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"michael/backend/internal/domain"
	"michael/backend/internal/store"
)

type CalendarRepo struct {
	db *bun.DB
}

func NewCalendarRepo(db *bun.DB) *CalendarRepo {
	return &CalendarRepo{db: db}
}

func (r *CalendarRepo) UpsertSources(ctx context.Context, sources []domain.CalendarSource) error {
	if len(sources) == 0 {
		return nil
	}
	rows := make([]domain.CalendarSource, len(sources))
	copy(rows, sources)

	// Sync metadata columns are deliberately left out of the update set so a
	// re-upsert of a known id preserves last_synced_at/last_sync_result.
	_, err := r.db.NewInsert().
		Model(&rows).
		On("CONFLICT (id) DO UPDATE").
		Set("provider = EXCLUDED.provider").
		Set("base_url = EXCLUDED.base_url").
		Set("calendar_home_url = EXCLUDED.calendar_home_url").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (r *CalendarRepo) ListSources(ctx context.Context) ([]domain.CalendarSource, error) {
	var rows []domain.CalendarSource
	err := r.db.NewSelect().
		Model(&rows).
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *CalendarRepo) RecordSyncResult(ctx context.Context, sourceID string, syncedAt time.Time, result string) error {
	res, err := r.db.NewUpdate().
		Model((*domain.CalendarSource)(nil)).
		Set("last_synced_at = ?", syncedAt.UTC()).
		Set("last_sync_result = ?", result).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", sourceID).
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

// ReplaceEventsForSource swaps the cached mirror for one source: delete all,
// insert all, in one transaction. A failed replace leaves the prior cache in
// place, so a broken sync cycle never blanks out previously-known blockers.
func (r *CalendarRepo) ReplaceEventsForSource(ctx context.Context, sourceID string, events []domain.CachedEvent) error {
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*domain.CalendarSource)(nil)).
			Where("id = ?", sourceID).
			Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			return store.ErrUnknownSource
		}

		if _, err := tx.NewDelete().
			Model((*domain.CachedEvent)(nil)).
			Where("source_id = ?", sourceID).
			Exec(ctx); err != nil {
			return err
		}

		if len(events) == 0 {
			return nil
		}

		rows := make([]domain.CachedEvent, len(events))
		copy(rows, events)
		if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			// FK race: the source vanished between the existence check and
			// the insert.
			return store.ErrUnknownSource
		}
		return err
	}
	return nil
}

func (r *CalendarRepo) GetCachedEventsInRange(ctx context.Context, windowStart, windowEnd time.Time) ([]domain.CachedEvent, error) {
	var rows []domain.CachedEvent
	err := r.db.NewSelect().
		Model(&rows).
		Where("start_instant < ?", windowEnd).
		Where("end_instant > ?", windowStart).
		OrderExpr("start_instant ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *CalendarRepo) GetCachedBlockers(ctx context.Context, windowStart, windowEnd time.Time) ([]domain.Interval, error) {
	events, err := r.GetCachedEventsInRange(ctx, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	blockers := make([]domain.Interval, 0, len(events))
	for _, ev := range events {
		blockers = append(blockers, ev.Interval())
	}
	return blockers, nil
}
