package booking

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"michael/backend/internal/caldav"
	"michael/backend/internal/domain"
	"michael/backend/internal/ics"
	"michael/backend/internal/mailer"
	"michael/backend/internal/store"
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// ErrEmailFailed reports that a slot was reserved but the confirmation email
// could not be delivered. The reservation has already been rolled back to
// cancelled when this error is returned.
var ErrEmailFailed = errors.New("confirmation email failed; booking was not completed")

// CalendarWriter is the slice of the CalDAV client the booking saga needs.
type CalendarWriter interface {
	PutEvent(ctx context.Context, src caldav.Source, eventURL, icsBody string) (string, error)
	DeleteEvent(ctx context.Context, src caldav.Source, eventURL string) error
}

// Config carries the scheduling policy knobs.
type Config struct {
	HostTimezone           *time.Location
	DefaultDurationMinutes int
	MinNotice              time.Duration
	BookingWindowDays      int
	VideoLink              string
}

type Service struct {
	bookings     store.BookingRepository
	availability store.AvailabilityRepository
	calendar     store.CalendarRepository
	mail         mailer.Sender
	dav          CalendarWriter
	writeBackTo  *caldav.Source
	cfg          Config
	log          *slog.Logger

	now func() time.Time
}

// NewService wires the booking flows. writeBackTo selects the calendar the
// confirmed bookings are pushed to; nil disables write-back entirely.
func NewService(
	bookings store.BookingRepository,
	availability store.AvailabilityRepository,
	calendar store.CalendarRepository,
	mail mailer.Sender,
	dav CalendarWriter,
	writeBackTo *caldav.Source,
	cfg Config,
	log *slog.Logger,
) *Service {
	return &Service{
		bookings:     bookings,
		availability: availability,
		calendar:     calendar,
		mail:         mail,
		dav:          dav,
		writeBackTo:  writeBackTo,
		cfg:          cfg,
		log:          log,
		now:          time.Now,
	}
}

type ComputeSlotsInput struct {
	Windows         []domain.AvailabilityWindow
	DurationMinutes int
	OutputTimezone  string
}

// ComputeSlots resolves the offered slots for the participant's requested
// windows. Windows are first clamped to the bookable horizon: nothing sooner
// than the minimum notice, nothing past the booking window.
func (s *Service) ComputeSlots(ctx context.Context, in ComputeSlotsInput) ([]domain.TimeSlot, error) {
	duration := in.DurationMinutes
	if duration == 0 {
		duration = s.cfg.DefaultDurationMinutes
	}
	if duration <= 0 {
		return nil, validationError("duration_minutes must be positive")
	}

	outputLoc := s.cfg.HostTimezone
	if tz := strings.TrimSpace(in.OutputTimezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, validationError("invalid output timezone")
		}
		outputLoc = loc
	}

	horizon := s.bookableHorizon()
	windows := clampWindows(in.Windows, horizon)
	if len(windows) == 0 {
		return nil, nil
	}

	rules, err := s.availability.ListHostAvailability(ctx)
	if err != nil {
		return nil, fmt.Errorf("load host availability: %w", err)
	}
	if len(rules) == 0 {
		return nil, nil
	}

	spanStart, spanEnd := windowSpan(windows)

	bookings, err := s.bookings.ListConfirmedInRange(ctx, spanStart, spanEnd)
	if err != nil {
		return nil, fmt.Errorf("load confirmed bookings: %w", err)
	}
	blockers, err := s.calendar.GetCachedBlockers(ctx, spanStart, spanEnd)
	if err != nil {
		return nil, fmt.Errorf("load calendar blockers: %w", err)
	}

	return domain.ComputeSlots(windows, rules, s.cfg.HostTimezone, bookings, blockers, duration, outputLoc), nil
}

// bookableHorizon is the instant range bookings may occupy right now.
func (s *Service) bookableHorizon() domain.Interval {
	now := s.now().UTC()
	return domain.Interval{
		Start: now.Add(s.cfg.MinNotice),
		End:   now.AddDate(0, 0, s.cfg.BookingWindowDays),
	}
}

func clampWindows(windows []domain.AvailabilityWindow, horizon domain.Interval) []domain.AvailabilityWindow {
	out := make([]domain.AvailabilityWindow, 0, len(windows))
	for _, w := range windows {
		clamped, ok := domain.Intersect(w.Interval(), horizon)
		if !ok {
			continue
		}
		out = append(out, domain.AvailabilityWindow{
			Start:    clamped.Start,
			End:      clamped.End,
			Timezone: w.Timezone,
		})
	}
	return out
}

func windowSpan(windows []domain.AvailabilityWindow) (time.Time, time.Time) {
	start, end := windows[0].Start, windows[0].End
	for _, w := range windows[1:] {
		if w.Start.Before(start) {
			start = w.Start
		}
		if w.End.After(end) {
			end = w.End
		}
	}
	return start.UTC(), end.UTC()
}

type BookInput struct {
	ParticipantName  string
	ParticipantEmail string
	ParticipantPhone string
	Title            string
	Description      string
	StartTime        time.Time
	EndTime          time.Time
	Timezone         string
}

// Book reserves the slot, then runs the confirmation saga: send the email,
// and on delivery failure compensate by cancelling the reservation. A
// successful booking is then written back to the external calendar; that step
// is best-effort and never fails the call.
func (s *Service) Book(ctx context.Context, in BookInput) (domain.Booking, error) {
	name := strings.TrimSpace(in.ParticipantName)
	if name == "" {
		return domain.Booking{}, validationError("participant_name is required")
	}
	email := strings.TrimSpace(in.ParticipantEmail)
	if email == "" || !strings.Contains(email, "@") || strings.ContainsFunc(email, unicode.IsControl) {
		return domain.Booking{}, validationError("participant_email is invalid")
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.Booking{}, validationError("title is required")
	}

	tz := strings.TrimSpace(in.Timezone)
	if tz == "" {
		return domain.Booking{}, validationError("timezone is required")
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return domain.Booking{}, validationError("invalid timezone")
	}

	start := in.StartTime.UTC()
	end := in.EndTime.UTC()
	if end.Equal(start) || end.Before(start) {
		return domain.Booking{}, validationError("end_time must be after start_time")
	}
	if end.Sub(start) > 24*time.Hour {
		return domain.Booking{}, validationError("duration too long")
	}

	horizon := s.bookableHorizon()
	if start.Before(horizon.Start) {
		return domain.Booking{}, validationError("start_time is below the minimum notice")
	}
	if end.After(horizon.End) {
		return domain.Booking{}, validationError("end_time is beyond the booking window")
	}

	token, err := newCancellationToken()
	if err != nil {
		return domain.Booking{}, fmt.Errorf("generate cancellation token: %w", err)
	}

	reserved, err := s.bookings.Reserve(ctx, domain.Booking{
		ParticipantName:   name,
		ParticipantEmail:  email,
		ParticipantPhone:  strings.TrimSpace(in.ParticipantPhone),
		Title:             title,
		Description:       strings.TrimSpace(in.Description),
		StartTime:         start,
		EndTime:           end,
		DurationMinutes:   int(end.Sub(start) / time.Minute),
		Timezone:          tz,
		Status:            domain.BookingStatusConfirmed,
		CancellationToken: token,
	})
	if err != nil {
		return domain.Booking{}, err
	}

	if err := s.sendConfirmation(ctx, reserved); err != nil {
		s.log.Error("confirmation email failed; cancelling reservation",
			slog.String("booking_id", reserved.ID.String()),
			slog.String("error", err.Error()))
		if _, cerr := s.bookings.Cancel(ctx, reserved.ID); cerr != nil {
			s.log.Error("compensating cancel failed",
				slog.String("booking_id", reserved.ID.String()),
				slog.String("error", cerr.Error()))
		}
		return domain.Booking{}, fmt.Errorf("%w: %v", ErrEmailFailed, err)
	}

	s.writeBack(ctx, &reserved)

	return reserved, nil
}

func (s *Service) sendConfirmation(ctx context.Context, b domain.Booking) error {
	body := fmt.Sprintf(
		"Hi %s,\n\nYour booking %q is confirmed for %s (%s).\n\nTo cancel, use your cancellation token: %s\n",
		b.ParticipantName, b.Title, b.StartTime.UTC().Format(time.RFC1123), b.Timezone, b.CancellationToken,
	)
	return s.mail.Send(ctx, mailer.Message{
		To:      b.ParticipantEmail,
		Subject: "Booking confirmed: " + b.Title,
		Body:    body,
		ICS:     ics.BuildBookingEvent(b, ics.MethodRequest, s.cfg.VideoLink),
		Method:  ics.MethodRequest,
	})
}

// writeBack pushes the confirmed booking to the external calendar and records
// the locator the server stored it at. Failures are logged, never returned:
// the booking stands regardless.
func (s *Service) writeBack(ctx context.Context, b *domain.Booking) {
	if s.dav == nil || s.writeBackTo == nil {
		return
	}

	eventURL := caldav.EventURL(*s.writeBackTo, b.ID)
	locator, err := s.dav.PutEvent(ctx, *s.writeBackTo, eventURL, ics.BuildBookingEvent(*b, ics.MethodRequest, s.cfg.VideoLink))
	if err != nil {
		s.log.Warn("calendar write-back failed",
			slog.String("booking_id", b.ID.String()),
			slog.String("error", err.Error()))
		return
	}
	if err := s.bookings.SetCalendarEventLocator(ctx, b.ID, locator); err != nil {
		s.log.Warn("persisting calendar locator failed",
			slog.String("booking_id", b.ID.String()),
			slog.String("error", err.Error()))
		return
	}
	b.CalendarEventLocator = locator
}

// CancelByToken cancels the booking the token refers to. The external
// calendar delete and the cancellation email are best-effort: cancellation
// never blocks on a downstream failure.
func (s *Service) CancelByToken(ctx context.Context, token string) (domain.Booking, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Booking{}, validationError("cancellation_token is required")
	}

	b, err := s.bookings.GetByCancellationToken(ctx, token)
	if err != nil {
		return domain.Booking{}, err
	}

	cancelled, err := s.bookings.Cancel(ctx, b.ID)
	if err != nil {
		return domain.Booking{}, err
	}

	if s.dav != nil && s.writeBackTo != nil && cancelled.CalendarEventLocator != "" {
		if err := s.dav.DeleteEvent(ctx, *s.writeBackTo, cancelled.CalendarEventLocator); err != nil {
			s.log.Warn("calendar delete failed",
				slog.String("booking_id", cancelled.ID.String()),
				slog.String("error", err.Error()))
		}
	}

	if err := s.sendCancellation(ctx, cancelled); err != nil {
		s.log.Warn("cancellation email failed",
			slog.String("booking_id", cancelled.ID.String()),
			slog.String("error", err.Error()))
	}

	return cancelled, nil
}

func (s *Service) sendCancellation(ctx context.Context, b domain.Booking) error {
	body := fmt.Sprintf(
		"Hi %s,\n\nYour booking %q for %s has been cancelled.\n",
		b.ParticipantName, b.Title, b.StartTime.UTC().Format(time.RFC1123),
	)
	return s.mail.Send(ctx, mailer.Message{
		To:      b.ParticipantEmail,
		Subject: "Booking cancelled: " + b.Title,
		Body:    body,
		ICS:     ics.BuildBookingEvent(b, ics.MethodCancel, s.cfg.VideoLink),
		Method:  ics.MethodCancel,
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	if id == uuid.Nil {
		return domain.Booking{}, validationError("booking_id is required")
	}
	return s.bookings.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]domain.Booking, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.bookings.List(ctx, limit, offset)
}

// ReplaceHostAvailability swaps the host's weekly rule set after validating
// each rule against the host timezone clock.
func (s *Service) ReplaceHostAvailability(ctx context.Context, rules []domain.HostAvailabilitySlot) error {
	for _, r := range rules {
		if r.Weekday < time.Sunday || r.Weekday > time.Saturday {
			return validationError("invalid weekday")
		}
		if !r.StartTime.Before(r.EndTime) {
			return validationError("end_time must be after start_time")
		}
	}
	return s.availability.ReplaceHostAvailability(ctx, rules)
}

func (s *Service) ListHostAvailability(ctx context.Context) ([]domain.HostAvailabilitySlot, error) {
	return s.availability.ListHostAvailability(ctx)
}

func newCancellationToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
