package caldav

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"michael/backend/internal/domain"
)

// Source carries everything needed to talk to one external calendar account.
// Built from configuration; credentials never leave this package except as
// request headers.
type Source struct {
	ID              string
	Provider        domain.CalendarProvider
	BaseURL         string
	CalendarHomeURL string
	Username        string
	Password        string
}

// CollectionURL is the calendar collection requests are issued against.
func (s Source) CollectionURL() string {
	if s.CalendarHomeURL != "" {
		return s.CalendarHomeURL
	}
	return s.BaseURL
}

// Client issues authenticated REPORT/GET/PUT/DELETE requests against CalDAV
// collections. All calls are bounded by the client timeout; a timeout surfaces
// as an ordinary transport error.
type Client struct {
	http *http.Client
	log  *slog.Logger
}

func NewClient(timeout time.Duration, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

const calendarQueryTemplate = `<?xml version="1.0" encoding="utf-8"?>
<C:calendar-query xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop>
    <C:calendar-data/>
  </D:prop>
  <C:filter>
    <C:comp-filter name="VCALENDAR">
      <C:comp-filter name="VEVENT">
        <C:time-range start="%s" end="%s"/>
      </C:comp-filter>
    </C:comp-filter>
  </C:filter>
</C:calendar-query>`

type multistatus struct {
	Responses []struct {
		Href      string `xml:"href"`
		Propstats []struct {
			Prop struct {
				CalendarData string `xml:"calendar-data"`
			} `xml:"prop"`
		} `xml:"propstat"`
	} `xml:"response"`
}

// FetchCalendars retrieves the raw ICS documents for events overlapping
// [rangeStart, rangeEnd]. It issues a calendar-query REPORT against the
// collection; servers that reject REPORT fall back to a plain GET of the
// collection URL (public ICS feeds answer that way).
func (c *Client) FetchCalendars(ctx context.Context, src Source, rangeStart, rangeEnd time.Time) ([]string, error) {
	const stamp = "20060102T150405Z"
	body := fmt.Sprintf(calendarQueryTemplate, rangeStart.UTC().Format(stamp), rangeEnd.UTC().Format(stamp))

	req, err := http.NewRequestWithContext(ctx, "REPORT", src.CollectionURL(), strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(src.Username, src.Password)
	req.Header.Set("Content-Type", `application/xml; charset="utf-8"`)
	req.Header.Set("Depth", "1")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusMultiStatus:
		return parseMultistatus(resp.Body)
	case resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented:
		c.log.Debug("caldav REPORT unsupported; falling back to GET",
			slog.String("source", src.ID), slog.String("url", redactURL(src.CollectionURL())))
		return c.fetchPlain(ctx, src)
	default:
		return nil, fmt.Errorf("caldav report %s: unexpected status %s", redactURL(src.CollectionURL()), resp.Status)
	}
}

func (c *Client) fetchPlain(ctx context.Context, src Source) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.CollectionURL(), nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(src.Username, src.Password)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("caldav get %s: unexpected status %s", redactURL(src.CollectionURL()), resp.Status)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return []string{string(b)}, nil
}

func parseMultistatus(r io.Reader) ([]string, error) {
	var ms multistatus
	if err := xml.NewDecoder(r).Decode(&ms); err != nil {
		return nil, fmt.Errorf("caldav multistatus: %w", err)
	}
	var docs []string
	for _, resp := range ms.Responses {
		for _, ps := range resp.Propstats {
			if data := strings.TrimSpace(ps.Prop.CalendarData); data != "" {
				docs = append(docs, data)
			}
		}
	}
	return docs, nil
}

// EventURL derives the resource locator a booking's calendar object is
// written to.
func EventURL(src Source, bookingID uuid.UUID) string {
	base := strings.TrimSuffix(src.CollectionURL(), "/")
	return base + "/" + bookingID.String() + ".ics"
}

// PutEvent writes a serialized calendar object and returns the locator the
// server stored it at, honoring a relocation reported via the Location
// header.
func (c *Client) PutEvent(ctx context.Context, src Source, eventURL, icsBody string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, eventURL, strings.NewReader(icsBody))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(src.Username, src.Password)
	req.Header.Set("Content-Type", `text/calendar; charset="utf-8"`)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("caldav put %s: unexpected status %s", redactURL(eventURL), resp.Status)
	}

	if loc := resp.Header.Get("Location"); loc != "" {
		if resolved, err := url.Parse(eventURL); err == nil {
			if rel, err := url.Parse(loc); err == nil {
				return resolved.ResolveReference(rel).String(), nil
			}
		}
		return loc, nil
	}
	return eventURL, nil
}

// DeleteEvent removes an event by its locator. "Not found" counts as success:
// the event is already gone.
func (c *Client) DeleteEvent(ctx context.Context, src Source, eventURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, eventURL, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(src.Username, src.Password)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil
	default:
		return fmt.Errorf("caldav delete %s: unexpected status %s", redactURL(eventURL), resp.Status)
	}
}

// redactURL strips credentials and query strings before a URL reaches a log
// line or error message.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "(unparseable url)"
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}
