package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type CalendarProvider string

const (
	CalendarProviderFastmail CalendarProvider = "fastmail"
	CalendarProviderICloud   CalendarProvider = "icloud"
)

// CalendarSource is one configured external calendar account. Rows are
// upserted from static configuration at process start; sync metadata is
// preserved across re-upserts of the same id.
type CalendarSource struct {
	bun.BaseModel `bun:"table:calendar_sources"`

	ID              string           `bun:"id,pk"`
	Provider        CalendarProvider `bun:"provider,notnull"`
	BaseURL         string           `bun:"base_url,notnull"`
	CalendarHomeURL string           `bun:"calendar_home_url"`
	LastSyncedAt    *time.Time       `bun:"last_synced_at"`
	LastSyncResult  string           `bun:"last_sync_result"`
	CreatedAt       time.Time        `bun:"created_at,notnull"`
	UpdatedAt       time.Time        `bun:"updated_at,notnull"`
}

func (s *CalendarSource) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if s.CreatedAt.IsZero() {
			s.CreatedAt = now
		}
		if s.UpdatedAt.IsZero() {
			s.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		s.UpdatedAt = now
	}
	return nil
}

// CachedEvent is the local mirror of one external event occurrence. The full
// set for a source is replaced atomically on every sync cycle; no per-event
// update or delete lifecycle exists outside full replacement.
type CachedEvent struct {
	bun.BaseModel `bun:"table:cached_events"`

	ID           uuid.UUID `bun:"id,pk,type:uuid"`
	SourceID     string    `bun:"source_id,notnull"`
	CalendarURL  string    `bun:"calendar_url,notnull"`
	UID          string    `bun:"uid,notnull"`
	Summary      string    `bun:"summary"`
	StartInstant time.Time `bun:"start_instant,notnull"`
	EndInstant   time.Time `bun:"end_instant,notnull"`
	IsAllDay     bool      `bun:"is_all_day,notnull"`
	CreatedAt    time.Time `bun:"created_at,notnull"`
}

func (e *CachedEvent) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if _, ok := query.(*bun.InsertQuery); ok {
		if e.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			e.ID = id
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
	}
	return nil
}

func (e CachedEvent) Interval() Interval {
	return Interval{Start: e.StartInstant, End: e.EndInstant}
}
