package directory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"icsimport/src-importer/model"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// LocalClient writes to a calendar stored in the local SQLite database. The
// batched create runs inside one transaction, so the local backend is
// all-or-nothing.
type LocalClient struct {
	db         *bun.DB
	calendarID string

	// TZIDs registered during this import, resolved to locations. Events
	// referencing an unresolvable TZID fall back to UTC.
	locations map[string]*time.Location
}

func NewLocalClient(db *bun.DB, calendarID string) *LocalClient {
	return &LocalClient{
		db:         db,
		calendarID: calendarID,
		locations:  make(map[string]*time.Location),
	}
}

func (c *LocalClient) RegisterTimezone(ctx context.Context, tz *ical.Component) error {
	tzid := tz.Props.Get(ical.PropTimezoneID)
	if tzid == nil || tzid.Value == "" {
		return fmt.Errorf("(*LocalClient).RegisterTimezone: timezone definition has no TZID")
	}

	raw, err := encodeTimezone(tz)
	if err != nil {
		return fmt.Errorf("(*LocalClient).RegisterTimezone: %w", err)
	}

	tzModel := model.Timezone{
		TZID:       tzid.Value,
		Raw:        raw,
		CalendarID: c.calendarID,
	}
	if err := tzModel.Upsert(ctx, c.db); err != nil {
		return fmt.Errorf("(*LocalClient).RegisterTimezone: %w", err)
	}

	loc, err := time.LoadLocation(tzid.Value)
	if err != nil {
		slog.Warn("can't resolve timezone, events will fall back to UTC", "tzid", tzid.Value, "error", err)
		loc = time.UTC
	}
	c.locations[tzid.Value] = loc

	return nil
}

func (c *LocalClient) CreateEvents(ctx context.Context, components []ical.Event) ([]string, error) {
	if len(components) == 0 {
		return nil, nil
	}

	eventModels := make([]model.Event, 0, len(components))
	for _, comp := range components {
		eventModel, err := c.eventModel(comp)
		if err != nil {
			return nil, fmt.Errorf("(*LocalClient).CreateEvents: %w", err)
		}
		eventModels = append(eventModels, *eventModel)
	}

	if err := c.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().
			Model(&eventModels).
			Exec(ctx); err != nil {
			return err
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("(*LocalClient).CreateEvents: %w", err)
	}

	ids := make([]string, 0, len(eventModels))
	for _, eventModel := range eventModels {
		ids = append(ids, eventModel.ID)
	}
	return ids, nil
}

// eventModel converts an opaque event component into a storable row. This is
// the only place the pipeline looks inside a component.
func (c *LocalClient) eventModel(comp ical.Event) (*model.Event, error) {
	eventModel := model.Event{
		ID:         uuid.NewString(),
		CalendarID: c.calendarID,
	}

	if prop := comp.Props.Get(ical.PropUID); prop != nil && prop.Value != "" {
		eventModel.ID = prop.Value
	}
	if prop := comp.Props.Get(ical.PropSummary); prop != nil {
		eventModel.Summary = prop.Value
	}
	if eventModel.Summary == "" {
		eventModel.Summary = "(no title)"
	}
	if prop := comp.Props.Get(ical.PropDescription); prop != nil {
		eventModel.Description = prop.Value
	}
	if prop := comp.Props.Get(ical.PropLocation); prop != nil {
		eventModel.Location = prop.Value
	}
	if prop := comp.Props.Get(ical.PropOrganizer); prop != nil {
		eventModel.Organizer = strings.TrimPrefix(prop.Value, "mailto:")
	}
	if prop := comp.Props.Get(ical.PropURL); prop != nil {
		eventModel.URL = prop.Value
	}
	if prop := comp.Props.Get(ical.PropRecurrenceRule); prop != nil {
		eventModel.RRule = prop.Value
	}

	startProp := comp.Props.Get(ical.PropDateTimeStart)
	if startProp == nil {
		return nil, fmt.Errorf("event has no DTSTART")
	}
	start, err := c.propDateTime(startProp)
	if err != nil {
		return nil, err
	}
	eventModel.StartDateUnixUTC = start.UTC().Unix()
	eventModel.TimezoneID = startProp.Params.Get(ical.ParamTimezoneID)

	if endProp := comp.Props.Get(ical.PropDateTimeEnd); endProp != nil {
		end, err := c.propDateTime(endProp)
		if err != nil {
			return nil, err
		}
		eventModel.EndDateUnixUTC = end.UTC().Unix()
	}

	if err := eventModel.Validate(); err != nil {
		return nil, err
	}
	return &eventModel, nil
}

// propDateTime resolves a date-time property. TZIDs unknown to the system
// get the UTC fallback instead of failing the batch.
func (c *LocalClient) propDateTime(prop *ical.Prop) (time.Time, error) {
	if t, err := prop.DateTime(time.UTC); err == nil {
		return t, nil
	}

	loc := time.UTC
	if tzid := prop.Params.Get(ical.ParamTimezoneID); tzid != "" {
		if registered, ok := c.locations[tzid]; ok {
			loc = registered
		}
	}
	for _, layout := range []string{"20060102T150405", "20060102"} {
		if t, err := time.ParseInLocation(layout, prop.Value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("can't parse date-time value %q", prop.Value)
}

// encodeTimezone serializes a VTIMEZONE wrapped in a minimal VCALENDAR, so
// the stored text can be re-parsed directly.
func encodeTimezone(tz *ical.Component) (string, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//icsimport//EN")
	cal.Children = append(cal.Children, tz)

	var sb strings.Builder
	if err := ical.NewEncoder(&sb).Encode(cal); err != nil {
		return "", fmt.Errorf("can't encode timezone: %w", err)
	}
	return sb.String(), nil
}
