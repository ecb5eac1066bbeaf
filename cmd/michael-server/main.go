package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"michael/backend/internal/caldav"
	"michael/backend/internal/config"
	"michael/backend/internal/domain"
	syncsvc "michael/backend/internal/service/sync"
	"michael/backend/internal/store/postgres"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With(
		slog.String("service", "michael-server"),
	)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})).With(
		slog.String("service", "michael-server"),
	)
	slog.SetDefault(log)

	hostLoc, err := time.LoadLocation(cfg.HostTimezone)
	if err != nil {
		log.Error("invalid host timezone", slog.String("timezone", cfg.HostTimezone), slog.Any("err", err))
		os.Exit(1)
	}

	log.Info("starting",
		slog.String("host_timezone", cfg.HostTimezone),
		slog.String("sync_schedule", cfg.SyncSchedule),
		slog.Int("calendar_sources", len(cfg.CalendarSources)),
		slog.String("log_level", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
	db, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
		log.Error("database connection failed", args...)
		os.Exit(1)
	}
	defer func() {
		if err := postgres.Close(db); err != nil {
			log.Warn("database close failed", slog.Any("err", err))
		}
	}()

	calendarRepo := postgres.NewCalendarRepo(db)

	sources := make([]domain.CalendarSource, 0, len(cfg.CalendarSources))
	davSources := make([]caldav.Source, 0, len(cfg.CalendarSources))
	for _, s := range cfg.CalendarSources {
		sources = append(sources, domain.CalendarSource{
			ID:              s.ID,
			Provider:        s.Provider,
			BaseURL:         s.URL,
			CalendarHomeURL: s.HomeURL,
		})
		davSources = append(davSources, caldav.Source{
			ID:              s.ID,
			Provider:        s.Provider,
			BaseURL:         s.URL,
			CalendarHomeURL: s.HomeURL,
			Username:        s.Username,
			Password:        s.Password,
		})
	}
	if err := calendarRepo.UpsertSources(ctx, sources); err != nil {
		log.Error("upserting calendar sources failed", slog.Any("err", err))
		os.Exit(1)
	}

	davClient := caldav.NewClient(cfg.HTTPTimeout, log)
	syncService := syncsvc.NewService(calendarRepo, davClient, davSources, syncsvc.Config{
		HostTimezone:  hostLoc,
		LookbackDays:  cfg.LookbackDays,
		LookaheadDays: cfg.LookaheadDays,
	}, log)

	if len(davSources) > 0 {
		log.Info("running initial calendar sync")
		syncService.SyncAll(ctx)
	}

	scheduler := cron.New()
	if len(davSources) > 0 {
		if _, err := scheduler.AddFunc(cfg.SyncSchedule, func() {
			syncService.SyncAll(ctx)
		}); err != nil {
			log.Error("invalid sync schedule", slog.String("schedule", cfg.SyncSchedule), slog.Any("err", err))
			os.Exit(1)
		}
		scheduler.Start()
		log.Info("sync scheduler started", slog.String("schedule", cfg.SyncSchedule))
	}

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdown(log, scheduler, cfg.ShutdownTimeout)
}

func shutdown(log *slog.Logger, scheduler *cron.Cron, timeout time.Duration) {
	log.Info("stopping sync scheduler", slog.Duration("timeout", timeout))

	stopCtx := scheduler.Stop()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-stopCtx.Done():
		log.Info("sync scheduler stopped")
	case <-timer.C:
		log.Warn("sync jobs still running at shutdown timeout")
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func databaseLogArgs(databaseURL string) []any {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []any{slog.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	return []any{
		slog.String("db_host", host),
		slog.String("db_port", port),
		slog.String("db_name", name),
	}
}
