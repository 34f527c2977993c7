package directory

import (
	"context"

	"github.com/emersion/go-ical"
)

// WriteClient is what a destination calendar's backing store exposes to the
// import pipeline. Both calls are synchronous and safe to run on a worker;
// cancellation travels through the context.
type WriteClient interface {
	// RegisterTimezone makes one timezone definition known to the
	// destination before any event referencing it is created.
	RegisterTimezone(ctx context.Context, tz *ical.Component) error

	// CreateEvents submits all event components in a single batch and
	// returns the newly-assigned identifiers. Atomicity is at the
	// backend's discretion.
	CreateEvents(ctx context.Context, components []ical.Event) ([]string, error)
}

// Calendar is a handle to one writable calendar, borrowed from the
// directory. The source parent fields describe the account the calendar
// belongs to ("On This Computer", a CalDAV host, ...).
type Calendar struct {
	ID      string
	Name    string
	Color   string
	Visible bool

	SourceParentName  string
	SourceParentColor string

	client WriteClient
}

func NewCalendar(id, name string, client WriteClient) *Calendar {
	return &Calendar{
		ID:      id,
		Name:    name,
		Visible: true,
		client:  client,
	}
}

// Client yields the write-capable client for this calendar.
func (c *Calendar) Client() WriteClient {
	return c.client
}
