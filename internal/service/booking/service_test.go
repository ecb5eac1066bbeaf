package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"michael/backend/internal/caldav"
	"michael/backend/internal/domain"
	"michael/backend/internal/mailer"
	"michael/backend/internal/store"
)

type fakeBookings struct {
	reserveFn              func(ctx context.Context, b domain.Booking) (domain.Booking, error)
	getByIDFn              func(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	getByTokenFn           func(ctx context.Context, token string) (domain.Booking, error)
	cancelFn               func(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	setLocatorFn           func(ctx context.Context, id uuid.UUID, locator string) error
	listFn                 func(ctx context.Context, limit, offset int) ([]domain.Booking, error)
	listConfirmedInRangeFn func(ctx context.Context, windowStart, windowEnd time.Time) ([]domain.Booking, error)
}

func (f *fakeBookings) Reserve(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	if f.reserveFn == nil {
		panic("Reserve not configured")
	}
	return f.reserveFn(ctx, b)
}

func (f *fakeBookings) GetByID(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	if f.getByIDFn == nil {
		panic("GetByID not configured")
	}
	return f.getByIDFn(ctx, id)
}

func (f *fakeBookings) GetByCancellationToken(ctx context.Context, token string) (domain.Booking, error) {
	if f.getByTokenFn == nil {
		panic("GetByCancellationToken not configured")
	}
	return f.getByTokenFn(ctx, token)
}

func (f *fakeBookings) Cancel(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	if f.cancelFn == nil {
		panic("Cancel not configured")
	}
	return f.cancelFn(ctx, id)
}

func (f *fakeBookings) SetCalendarEventLocator(ctx context.Context, id uuid.UUID, locator string) error {
	if f.setLocatorFn == nil {
		panic("SetCalendarEventLocator not configured")
	}
	return f.setLocatorFn(ctx, id, locator)
}

func (f *fakeBookings) List(ctx context.Context, limit, offset int) ([]domain.Booking, error) {
	if f.listFn == nil {
		panic("List not configured")
	}
	return f.listFn(ctx, limit, offset)
}

func (f *fakeBookings) ListConfirmedInRange(ctx context.Context, windowStart, windowEnd time.Time) ([]domain.Booking, error) {
	if f.listConfirmedInRangeFn == nil {
		panic("ListConfirmedInRange not configured")
	}
	return f.listConfirmedInRangeFn(ctx, windowStart, windowEnd)
}

type fakeAvailability struct {
	listFn    func(ctx context.Context) ([]domain.HostAvailabilitySlot, error)
	replaceFn func(ctx context.Context, slots []domain.HostAvailabilitySlot) error
}

func (f *fakeAvailability) ListHostAvailability(ctx context.Context) ([]domain.HostAvailabilitySlot, error) {
	if f.listFn == nil {
		panic("ListHostAvailability not configured")
	}
	return f.listFn(ctx)
}

func (f *fakeAvailability) ReplaceHostAvailability(ctx context.Context, slots []domain.HostAvailabilitySlot) error {
	if f.replaceFn == nil {
		panic("ReplaceHostAvailability not configured")
	}
	return f.replaceFn(ctx, slots)
}

type fakeCalendar struct {
	blockersFn func(ctx context.Context, windowStart, windowEnd time.Time) ([]domain.Interval, error)
}

func (f *fakeCalendar) UpsertSources(ctx context.Context, sources []domain.CalendarSource) error {
	panic("UpsertSources not configured")
}

func (f *fakeCalendar) ListSources(ctx context.Context) ([]domain.CalendarSource, error) {
	panic("ListSources not configured")
}

func (f *fakeCalendar) RecordSyncResult(ctx context.Context, sourceID string, syncedAt time.Time, result string) error {
	panic("RecordSyncResult not configured")
}

func (f *fakeCalendar) ReplaceEventsForSource(ctx context.Context, sourceID string, events []domain.CachedEvent) error {
	panic("ReplaceEventsForSource not configured")
}

func (f *fakeCalendar) GetCachedEventsInRange(ctx context.Context, windowStart, windowEnd time.Time) ([]domain.CachedEvent, error) {
	panic("GetCachedEventsInRange not configured")
}

func (f *fakeCalendar) GetCachedBlockers(ctx context.Context, windowStart, windowEnd time.Time) ([]domain.Interval, error) {
	if f.blockersFn == nil {
		panic("GetCachedBlockers not configured")
	}
	return f.blockersFn(ctx, windowStart, windowEnd)
}

type fakeSender struct {
	sendFn func(ctx context.Context, msg mailer.Message) error
	sent   []mailer.Message
}

func (f *fakeSender) Send(ctx context.Context, msg mailer.Message) error {
	f.sent = append(f.sent, msg)
	if f.sendFn == nil {
		return nil
	}
	return f.sendFn(ctx, msg)
}

type fakeDAV struct {
	putFn    func(ctx context.Context, src caldav.Source, eventURL, icsBody string) (string, error)
	deleteFn func(ctx context.Context, src caldav.Source, eventURL string) error
}

func (f *fakeDAV) PutEvent(ctx context.Context, src caldav.Source, eventURL, icsBody string) (string, error) {
	if f.putFn == nil {
		panic("PutEvent not configured")
	}
	return f.putFn(ctx, src, eventURL, icsBody)
}

func (f *fakeDAV) DeleteEvent(ctx context.Context, src caldav.Source, eventURL string) error {
	if f.deleteFn == nil {
		panic("DeleteEvent not configured")
	}
	return f.deleteFn(ctx, src, eventURL)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var fixedNow = time.Date(2026, time.January, 1, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		HostTimezone:           time.UTC,
		DefaultDurationMinutes: 30,
		MinNotice:              4 * time.Hour,
		BookingWindowDays:      60,
		VideoLink:              "https://meet.example.com/room",
	}
}

func newTestService(b *fakeBookings, a *fakeAvailability, c *fakeCalendar, m *fakeSender, d CalendarWriter, target *caldav.Source) *Service {
	svc := NewService(b, a, c, m, d, target, testConfig(), testLogger())
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func validBookInput() BookInput {
	return BookInput{
		ParticipantName:  "Ada Lovelace",
		ParticipantEmail: "ada@example.com",
		Title:            "Planning",
		StartTime:        fixedNow.Add(24 * time.Hour),
		EndTime:          fixedNow.Add(24*time.Hour + 30*time.Minute),
		Timezone:         "America/New_York",
	}
}

func TestBook_ValidationErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*BookInput)
		want   string
	}{
		{"missing name", func(in *BookInput) { in.ParticipantName = " " }, "participant_name is required"},
		{"bad email", func(in *BookInput) { in.ParticipantEmail = "nope" }, "participant_email is invalid"},
		{"email with line break", func(in *BookInput) { in.ParticipantEmail = "ada@x\r\nX-Injected: boom" }, "participant_email is invalid"},
		{"missing title", func(in *BookInput) { in.Title = "" }, "title is required"},
		{"missing timezone", func(in *BookInput) { in.Timezone = "" }, "timezone is required"},
		{"bad timezone", func(in *BookInput) { in.Timezone = "Mars/Olympus" }, "invalid timezone"},
		{"inverted interval", func(in *BookInput) { in.EndTime = in.StartTime.Add(-time.Hour) }, "end_time must be after start_time"},
		{"too soon", func(in *BookInput) {
			in.StartTime = fixedNow.Add(time.Hour)
			in.EndTime = in.StartTime.Add(30 * time.Minute)
		}, "start_time is below the minimum notice"},
		{"beyond window", func(in *BookInput) {
			in.StartTime = fixedNow.AddDate(0, 0, 90)
			in.EndTime = in.StartTime.Add(30 * time.Minute)
		}, "end_time is beyond the booking window"},
		{"straddles window end", func(in *BookInput) {
			in.StartTime = fixedNow.AddDate(0, 0, 60).Add(-10 * time.Minute)
			in.EndTime = in.StartTime.Add(30 * time.Minute)
		}, "end_time is beyond the booking window"},
	}

	svc := newTestService(&fakeBookings{}, &fakeAvailability{}, &fakeCalendar{}, &fakeSender{}, nil, nil)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validBookInput()
			tc.mutate(&in)
			_, err := svc.Book(context.Background(), in)
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("error = %v (%T), want *ValidationError", err, err)
			}
			if vErr.Error() != tc.want {
				t.Fatalf("error = %q, want %q", vErr.Error(), tc.want)
			}
		})
	}
}

func TestBook_ReservesSendsAndWritesBack(t *testing.T) {
	id := uuid.MustParse("018f3c9e-0000-7000-8000-000000000001")
	var reservedArg domain.Booking
	var locatorSet string

	bookings := &fakeBookings{
		reserveFn: func(ctx context.Context, b domain.Booking) (domain.Booking, error) {
			reservedArg = b
			b.ID = id
			return b, nil
		},
		setLocatorFn: func(ctx context.Context, gotID uuid.UUID, locator string) error {
			if gotID != id {
				t.Errorf("locator set on booking %s, want %s", gotID, id)
			}
			locatorSet = locator
			return nil
		},
	}
	sender := &fakeSender{}
	target := &caldav.Source{ID: "fastmail", BaseURL: "https://caldav.example.com/cal"}
	dav := &fakeDAV{
		putFn: func(ctx context.Context, src caldav.Source, eventURL, icsBody string) (string, error) {
			if !strings.Contains(icsBody, "METHOD:REQUEST") {
				t.Errorf("write-back body missing METHOD:REQUEST")
			}
			if !strings.HasSuffix(eventURL, id.String()+".ics") {
				t.Errorf("eventURL = %q, want derived from booking id", eventURL)
			}
			return eventURL, nil
		},
	}

	svc := newTestService(bookings, &fakeAvailability{}, &fakeCalendar{}, sender, dav, target)
	got, err := svc.Book(context.Background(), validBookInput())
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	if reservedArg.Status != domain.BookingStatusConfirmed {
		t.Errorf("reserved status = %q, want confirmed", reservedArg.Status)
	}
	if reservedArg.DurationMinutes != 30 {
		t.Errorf("duration = %d, want 30", reservedArg.DurationMinutes)
	}
	if reservedArg.CancellationToken == "" {
		t.Error("cancellation token not generated")
	}

	if len(sender.sent) != 1 {
		t.Fatalf("emails sent = %d, want 1", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.To != "ada@example.com" {
		t.Errorf("email to = %q", msg.To)
	}
	if !strings.Contains(msg.ICS, "UID:"+id.String()+"@michael") {
		t.Error("attachment missing booking UID")
	}
	if !strings.Contains(msg.Body, reservedArg.CancellationToken) {
		t.Error("confirmation body missing cancellation token")
	}

	if locatorSet == "" {
		t.Error("calendar locator was not persisted")
	}
	if got.CalendarEventLocator != locatorSet {
		t.Errorf("returned locator = %q, want %q", got.CalendarEventLocator, locatorSet)
	}
}

func TestBook_EmailFailureCompensates(t *testing.T) {
	id := uuid.MustParse("018f3c9e-0000-7000-8000-000000000002")
	cancelled := false

	bookings := &fakeBookings{
		reserveFn: func(ctx context.Context, b domain.Booking) (domain.Booking, error) {
			b.ID = id
			return b, nil
		},
		cancelFn: func(ctx context.Context, gotID uuid.UUID) (domain.Booking, error) {
			if gotID != id {
				t.Errorf("cancelled %s, want %s", gotID, id)
			}
			cancelled = true
			return domain.Booking{ID: gotID, Status: domain.BookingStatusCancelled}, nil
		},
	}
	sender := &fakeSender{
		sendFn: func(ctx context.Context, msg mailer.Message) error {
			return errors.New("smtp down")
		},
	}

	svc := newTestService(bookings, &fakeAvailability{}, &fakeCalendar{}, sender, nil, nil)
	_, err := svc.Book(context.Background(), validBookInput())
	if !errors.Is(err, ErrEmailFailed) {
		t.Fatalf("error = %v, want ErrEmailFailed", err)
	}
	if !cancelled {
		t.Error("reservation was not rolled back")
	}
}

func TestBook_ConflictPassthrough(t *testing.T) {
	bookings := &fakeBookings{
		reserveFn: func(ctx context.Context, b domain.Booking) (domain.Booking, error) {
			return domain.Booking{}, store.ErrConflict
		},
	}
	svc := newTestService(bookings, &fakeAvailability{}, &fakeCalendar{}, &fakeSender{}, nil, nil)
	_, err := svc.Book(context.Background(), validBookInput())
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("error = %v, want store.ErrConflict", err)
	}
}

func TestBook_WriteBackFailureDoesNotFailBooking(t *testing.T) {
	bookings := &fakeBookings{
		reserveFn: func(ctx context.Context, b domain.Booking) (domain.Booking, error) {
			b.ID = uuid.MustParse("018f3c9e-0000-7000-8000-000000000003")
			return b, nil
		},
	}
	target := &caldav.Source{ID: "fastmail", BaseURL: "https://caldav.example.com/cal"}
	dav := &fakeDAV{
		putFn: func(ctx context.Context, src caldav.Source, eventURL, icsBody string) (string, error) {
			return "", errors.New("server unreachable")
		},
	}

	svc := newTestService(bookings, &fakeAvailability{}, &fakeCalendar{}, &fakeSender{}, dav, target)
	got, err := svc.Book(context.Background(), validBookInput())
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if got.CalendarEventLocator != "" {
		t.Errorf("locator = %q, want empty after failed write-back", got.CalendarEventLocator)
	}
}

func TestCancelByToken(t *testing.T) {
	id := uuid.MustParse("018f3c9e-0000-7000-8000-000000000004")
	locator := "https://caldav.example.com/cal/" + id.String() + ".ics"
	var deletedURL string

	bookings := &fakeBookings{
		getByTokenFn: func(ctx context.Context, token string) (domain.Booking, error) {
			if token != "secret-token" {
				return domain.Booking{}, store.ErrNotFound
			}
			return domain.Booking{ID: id, CancellationToken: token}, nil
		},
		cancelFn: func(ctx context.Context, gotID uuid.UUID) (domain.Booking, error) {
			return domain.Booking{
				ID:                   gotID,
				ParticipantName:      "Ada Lovelace",
				ParticipantEmail:     "ada@example.com",
				Title:                "Planning",
				StartTime:            fixedNow.Add(24 * time.Hour),
				EndTime:              fixedNow.Add(24*time.Hour + 30*time.Minute),
				Status:               domain.BookingStatusCancelled,
				CalendarEventLocator: locator,
			}, nil
		},
	}
	sender := &fakeSender{}
	target := &caldav.Source{ID: "fastmail", BaseURL: "https://caldav.example.com/cal"}
	dav := &fakeDAV{
		deleteFn: func(ctx context.Context, src caldav.Source, eventURL string) error {
			deletedURL = eventURL
			return nil
		},
	}

	svc := newTestService(bookings, &fakeAvailability{}, &fakeCalendar{}, sender, dav, target)
	got, err := svc.CancelByToken(context.Background(), "secret-token")
	if err != nil {
		t.Fatalf("CancelByToken: %v", err)
	}
	if got.Status != domain.BookingStatusCancelled {
		t.Errorf("status = %q, want cancelled", got.Status)
	}
	if deletedURL != locator {
		t.Errorf("deleted %q, want %q", deletedURL, locator)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("emails sent = %d, want 1", len(sender.sent))
	}
	if !strings.Contains(sender.sent[0].ICS, "METHOD:CANCEL") {
		t.Error("cancellation attachment missing METHOD:CANCEL")
	}
}

func TestCancelByToken_DeleteFailureSwallowed(t *testing.T) {
	id := uuid.MustParse("018f3c9e-0000-7000-8000-000000000005")
	bookings := &fakeBookings{
		getByTokenFn: func(ctx context.Context, token string) (domain.Booking, error) {
			return domain.Booking{ID: id, CancellationToken: token}, nil
		},
		cancelFn: func(ctx context.Context, gotID uuid.UUID) (domain.Booking, error) {
			return domain.Booking{
				ID:                   gotID,
				ParticipantEmail:     "ada@example.com",
				Status:               domain.BookingStatusCancelled,
				CalendarEventLocator: "https://caldav.example.com/cal/x.ics",
			}, nil
		},
	}
	target := &caldav.Source{ID: "fastmail", BaseURL: "https://caldav.example.com/cal"}
	dav := &fakeDAV{
		deleteFn: func(ctx context.Context, src caldav.Source, eventURL string) error {
			return errors.New("gateway timeout")
		},
	}

	svc := newTestService(bookings, &fakeAvailability{}, &fakeCalendar{}, &fakeSender{}, dav, target)
	if _, err := svc.CancelByToken(context.Background(), "tok"); err != nil {
		t.Fatalf("CancelByToken: %v, want nil despite delete failure", err)
	}
}

func TestCancelByToken_UnknownToken(t *testing.T) {
	bookings := &fakeBookings{
		getByTokenFn: func(ctx context.Context, token string) (domain.Booking, error) {
			return domain.Booking{}, store.ErrNotFound
		},
	}
	svc := newTestService(bookings, &fakeAvailability{}, &fakeCalendar{}, &fakeSender{}, nil, nil)
	if _, err := svc.CancelByToken(context.Background(), "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("error = %v, want store.ErrNotFound", err)
	}
}

func TestComputeSlots_ClampsToHorizonAndOrchestrates(t *testing.T) {
	// Monday 2026-01-05 is within the booking window.
	monday := time.Date(2026, time.January, 5, 0, 0, 0, 0, time.UTC)

	availability := &fakeAvailability{
		listFn: func(ctx context.Context) ([]domain.HostAvailabilitySlot, error) {
			return []domain.HostAvailabilitySlot{{
				Weekday:   time.Monday,
				StartTime: domain.TimeOfDay{Hour: 9},
				EndTime:   domain.TimeOfDay{Hour: 17},
			}}, nil
		},
	}
	var bookingsRangeStart, bookingsRangeEnd time.Time
	bookings := &fakeBookings{
		listConfirmedInRangeFn: func(ctx context.Context, windowStart, windowEnd time.Time) ([]domain.Booking, error) {
			bookingsRangeStart, bookingsRangeEnd = windowStart, windowEnd
			return []domain.Booking{{
				StartTime: monday.Add(10 * time.Hour),
				EndTime:   monday.Add(10*time.Hour + 30*time.Minute),
				Status:    domain.BookingStatusConfirmed,
			}}, nil
		},
	}
	calendar := &fakeCalendar{
		blockersFn: func(ctx context.Context, windowStart, windowEnd time.Time) ([]domain.Interval, error) {
			return []domain.Interval{{
				Start: monday.Add(11 * time.Hour),
				End:   monday.Add(11*time.Hour + 30*time.Minute),
			}}, nil
		},
	}

	svc := newTestService(bookings, availability, calendar, &fakeSender{}, nil, nil)
	slots, err := svc.ComputeSlots(context.Background(), ComputeSlotsInput{
		Windows: []domain.AvailabilityWindow{{
			Start: monday.Add(10 * time.Hour),
			End:   monday.Add(14 * time.Hour),
		}},
	})
	if err != nil {
		t.Fatalf("ComputeSlots: %v", err)
	}
	if len(slots) != 6 {
		t.Fatalf("len(slots) = %d, want 6", len(slots))
	}
	if !bookingsRangeStart.Equal(monday.Add(10*time.Hour)) || !bookingsRangeEnd.Equal(monday.Add(14*time.Hour)) {
		t.Errorf("booking range queried = [%v, %v), want the window span", bookingsRangeStart, bookingsRangeEnd)
	}
}

func TestComputeSlots_WindowBeforeMinNoticeDropped(t *testing.T) {
	svc := newTestService(&fakeBookings{}, &fakeAvailability{}, &fakeCalendar{}, &fakeSender{}, nil, nil)

	// Entirely inside the 4-hour notice period: clamped away before any
	// repository is touched (fakes would panic otherwise).
	slots, err := svc.ComputeSlots(context.Background(), ComputeSlotsInput{
		Windows: []domain.AvailabilityWindow{{
			Start: fixedNow.Add(time.Hour),
			End:   fixedNow.Add(2 * time.Hour),
		}},
	})
	if err != nil {
		t.Fatalf("ComputeSlots: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("len(slots) = %d, want 0", len(slots))
	}
}

func TestComputeSlots_EmptyWindows(t *testing.T) {
	svc := newTestService(&fakeBookings{}, &fakeAvailability{}, &fakeCalendar{}, &fakeSender{}, nil, nil)
	slots, err := svc.ComputeSlots(context.Background(), ComputeSlotsInput{})
	if err != nil {
		t.Fatalf("ComputeSlots: %v", err)
	}
	if slots != nil {
		t.Fatalf("slots = %v, want nil", slots)
	}
}

func TestComputeSlots_InvalidOutputTimezone(t *testing.T) {
	svc := newTestService(&fakeBookings{}, &fakeAvailability{}, &fakeCalendar{}, &fakeSender{}, nil, nil)
	_, err := svc.ComputeSlots(context.Background(), ComputeSlotsInput{
		Windows:        []domain.AvailabilityWindow{{Start: fixedNow.Add(24 * time.Hour), End: fixedNow.Add(25 * time.Hour)}},
		OutputTimezone: "Mars/Olympus",
	})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("error = %v (%T), want *ValidationError", err, err)
	}
}

func TestReplaceHostAvailability_Validation(t *testing.T) {
	svc := newTestService(&fakeBookings{}, &fakeAvailability{}, &fakeCalendar{}, &fakeSender{}, nil, nil)
	err := svc.ReplaceHostAvailability(context.Background(), []domain.HostAvailabilitySlot{{
		Weekday:   time.Monday,
		StartTime: domain.TimeOfDay{Hour: 17},
		EndTime:   domain.TimeOfDay{Hour: 9},
	}})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("error = %v (%T), want *ValidationError", err, err)
	}
}
