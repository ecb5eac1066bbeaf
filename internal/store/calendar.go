package store

import (
	"context"
	"time"

	"michael/backend/internal/domain"
)

// CalendarRepository owns the configured calendar sources and the cached
// mirror of their events.
type CalendarRepository interface {
	// UpsertSources inserts or updates the configured sources, preserving
	// sync metadata for ids that already exist.
	UpsertSources(ctx context.Context, sources []domain.CalendarSource) error
	ListSources(ctx context.Context) ([]domain.CalendarSource, error)
	RecordSyncResult(ctx context.Context, sourceID string, syncedAt time.Time, result string) error

	// ReplaceEventsForSource deletes all cached events for the source and
	// inserts the given set, in one transaction. Any failure, including an
	// integrity violation from an unknown sourceID (ErrUnknownSource),
	// aborts the whole replace and leaves the prior cache untouched.
	ReplaceEventsForSource(ctx context.Context, sourceID string, events []domain.CachedEvent) error

	GetCachedEventsInRange(ctx context.Context, windowStart, windowEnd time.Time) ([]domain.CachedEvent, error)

	// GetCachedBlockers is the slot-computation view of the cache: the
	// intervals of every cached event overlapping the window.
	GetCachedBlockers(ctx context.Context, windowStart, windowEnd time.Time) ([]domain.Interval, error)
}
