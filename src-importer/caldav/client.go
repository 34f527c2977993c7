// The `caldav` package offers remote CalDAV collections as import
// destinations, next to the calendars in the local store.
package caldav

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"icsimport/src-importer/directory"
	"icsimport/src-importer/ics"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
)

// Client talks to one CalDAV account and hands out per-collection write
// clients.
type Client struct {
	baseURL  string
	username string
	password string
	client   *caldav.Client
}

func NewClient(baseURL, username, password string) *Client {
	return &Client{
		baseURL:  baseURL,
		username: username,
		password: password,
	}
}

// IsConfigured returns true if the client has credentials
func (c *Client) IsConfigured() bool {
	return c.baseURL != "" && c.username != "" && c.password != ""
}

// connect establishes connection to CalDAV server
func (c *Client) connect() (*caldav.Client, error) {
	if c.client != nil {
		return c.client, nil
	}

	httpClient := &http.Client{
		Transport: &basicAuthTransport{
			username: c.username,
			password: c.password,
		},
		Timeout: 30 * time.Second,
	}

	client, err := caldav.NewClient(httpClient, c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to CalDAV: %w", err)
	}

	c.client = client
	return client, nil
}

// basicAuthTransport adds Basic Auth to HTTP requests
type basicAuthTransport struct {
	username string
	password string
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.username, t.password)
	return http.DefaultTransport.RoundTrip(req)
}

// DiscoverCalendars returns a writable calendar handle per collection on the
// account, suitable for adding to the directory. The account host becomes
// the source parent name.
func (c *Client) DiscoverCalendars(ctx context.Context) ([]*directory.Calendar, error) {
	client, err := c.connect()
	if err != nil {
		return nil, err
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", err)
	}

	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("find home set: %w", err)
	}

	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("find calendars: %w", err)
	}

	parentName := c.baseURL
	if parsed, err := url.Parse(c.baseURL); err == nil && parsed.Host != "" {
		parentName = parsed.Host
	}

	result := make([]*directory.Calendar, 0, len(cals))
	for _, cal := range cals {
		handle := directory.NewCalendar(cal.Path, cal.Name, &WriteClient{
			parent:        c,
			calendarPath:  cal.Path,
			timezonesByID: make(map[string]*ical.Component),
		})
		handle.SourceParentName = parentName
		result = append(result, handle)
	}
	return result, nil
}

// WriteClient writes to one CalDAV collection. Registered timezone
// definitions are embedded into every object that references them, since
// CalDAV has no separate registration call.
type WriteClient struct {
	parent       *Client
	calendarPath string

	timezonesByID map[string]*ical.Component
}

func (w *WriteClient) RegisterTimezone(ctx context.Context, tz *ical.Component) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tzid := ics.TimezoneID(tz)
	if tzid == "" {
		return fmt.Errorf("(*WriteClient).RegisterTimezone: timezone definition has no TZID")
	}
	w.timezonesByID[tzid] = tz
	return nil
}

func (w *WriteClient) CreateEvents(ctx context.Context, components []ical.Event) ([]string, error) {
	client, err := w.parent.connect()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(components))
	for _, comp := range components {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		uid := ""
		if prop := comp.Props.Get(ical.PropUID); prop != nil {
			uid = prop.Value
		}
		if uid == "" {
			uid = fmt.Sprintf("%d@icsimport", time.Now().UnixNano())
			comp.Props.SetText(ical.PropUID, uid)
		}

		cal := ical.NewCalendar()
		cal.Props.SetText(ical.PropVersion, "2.0")
		cal.Props.SetText(ical.PropProductID, "-//icsimport//EN")
		if tzid := ics.ReferencedTimezoneID(comp); tzid != "" {
			if tz, ok := w.timezonesByID[tzid]; ok {
				cal.Children = append(cal.Children, tz)
			}
		}
		cal.Children = append(cal.Children, comp.Component)

		eventPath := w.calendarPath
		if !strings.HasSuffix(eventPath, "/") {
			eventPath += "/"
		}
		eventPath += uid + ".ics"

		if _, err := client.PutCalendarObject(ctx, eventPath, cal); err != nil {
			return nil, fmt.Errorf("create event: %w", err)
		}
		ids = append(ids, uid)
	}

	return ids, nil
}
