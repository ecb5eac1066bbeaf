package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"michael/backend/internal/caldav"
	"michael/backend/internal/ics"
	"michael/backend/internal/store"
)

// Fetcher is the slice of the CalDAV client the sync cycle needs.
type Fetcher interface {
	FetchCalendars(ctx context.Context, src caldav.Source, rangeStart, rangeEnd time.Time) ([]string, error)
}

// Config bounds the expansion range around "now". Past events are kept for a
// short lookback so in-progress meetings still block slots.
type Config struct {
	HostTimezone  *time.Location
	LookbackDays  int
	LookaheadDays int
}

// Service mirrors each configured external calendar into the local cache.
// Sources sync independently: one source failing leaves the others, and its
// own previously cached events, untouched.
type Service struct {
	calendar store.CalendarRepository
	fetch    Fetcher
	sources  []caldav.Source
	cfg      Config
	log      *slog.Logger

	now func() time.Time
}

func NewService(calendar store.CalendarRepository, fetch Fetcher, sources []caldav.Source, cfg Config, log *slog.Logger) *Service {
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 1
	}
	if cfg.LookaheadDays <= 0 {
		cfg.LookaheadDays = 90
	}
	return &Service{
		calendar: calendar,
		fetch:    fetch,
		sources:  sources,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// SyncAll runs one cycle for every configured source, concurrently. It never
// returns an error: per-source failures are recorded on the source row and
// logged.
func (s *Service) SyncAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, src := range s.sources {
		wg.Add(1)
		go func(src caldav.Source) {
			defer wg.Done()
			s.syncSource(ctx, src)
		}(src)
	}
	wg.Wait()
}

func (s *Service) syncSource(ctx context.Context, src caldav.Source) {
	now := s.now().UTC()
	rangeStart := now.AddDate(0, 0, -s.cfg.LookbackDays)
	rangeEnd := now.AddDate(0, 0, s.cfg.LookaheadDays)

	result, err := s.runCycle(ctx, src, rangeStart, rangeEnd)
	if err != nil {
		s.log.Error("calendar sync failed",
			slog.String("source", src.ID),
			slog.String("error", err.Error()))
		result = "error: " + err.Error()
	}

	if rerr := s.calendar.RecordSyncResult(ctx, src.ID, now, result); rerr != nil {
		s.log.Error("recording sync result failed",
			slog.String("source", src.ID),
			slog.String("error", rerr.Error()))
	}
}

func (s *Service) runCycle(ctx context.Context, src caldav.Source, rangeStart, rangeEnd time.Time) (string, error) {
	docs, err := s.fetch.FetchCalendars(ctx, src, rangeStart, rangeEnd)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}

	events, skipped := ics.ParseAndExpandEvents(src.ID, src.CollectionURL(), docs, s.cfg.HostTimezone, rangeStart, rangeEnd)
	if skipped > 0 {
		s.log.Warn("skipped malformed calendar documents",
			slog.String("source", src.ID),
			slog.Int("skipped", skipped))
	}

	if err := s.calendar.ReplaceEventsForSource(ctx, src.ID, events); err != nil {
		return "", fmt.Errorf("replace cache: %w", err)
	}

	s.log.Info("calendar synced",
		slog.String("source", src.ID),
		slog.Int("events", len(events)),
		slog.Int("skipped", skipped))
	return fmt.Sprintf("ok: %d events, %d skipped", len(events), skipped), nil
}
