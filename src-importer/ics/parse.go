// The `ics` package parses iCalendar files into the opaque components the
// import pipeline moves around.
//
// # References:
// - RFC5545: https://datatracker.ietf.org/doc/html/rfc5545
//
// # Notes:
// - Event components are not interpreted here beyond validation; they are
//   handed to the destination's write client as-is.
// - VTIMEZONE blocks are collected alongside the events since the destination
//   needs them registered before the events are created.
// - A file with no VEVENT at all is a valid parse with zero events.
//
// # Example usage:
//
// Parse from a file
//	result, _ := ics.FromFile(ctx, "path/to/input/calendar.ics")
//
// Parse from any reader
//	result, _ := ics.FromReader(ctx, strings.NewReader(payload))
package ics

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/emersion/go-ical"
	"github.com/xyedo/rrule"
)

// ParseResult holds everything one input file contributes to an import: the
// event components in emission order and the timezone definitions they
// reference. Both slices are owned by the caller.
type ParseResult struct {
	Components []ical.Event
	Timezones  []*ical.Component
}

// EventCount returns the number of parsed event components.
func (r *ParseResult) EventCount() int {
	if r == nil {
		return 0
	}
	return len(r.Components)
}

// Basename resolves a file reference to its display name.
func Basename(path string) string {
	return filepath.Base(path)
}

// Unmarshal an iCalendar file into a ParseResult{}.
func FromFile(ctx context.Context, path string) (*ParseResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, NewParseError("can't open file", path, err, nil)
	}
	defer file.Close()

	result, err := FromReader(ctx, file)
	if err != nil {
		var parseErr *ParseError
		if errors.As(err, &parseErr) && parseErr.path == "" {
			parseErr.path = path
		}
		return nil, err
	}
	return result, nil
}

// The shared logic for parsing iCalendar data from a reader, which is used by
// FromFile and by the tests. A single payload may carry more than one
// VCALENDAR block; components from all of them are collected in order.
func FromReader(ctx context.Context, r io.Reader) (*ParseResult, error) {
	result := &ParseResult{
		Components: make([]ical.Event, 0),
		Timezones:  make([]*ical.Component, 0),
	}

	decoder := ical.NewDecoder(r)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cal, err := decoder.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, NewParseError("can't parse calendar data", "", err, nil)
		}

		for _, child := range cal.Children {
			switch child.Name {
			case ical.CompEvent:
				if err := validateEvent(child); err != nil {
					return nil, err
				}
				result.Components = append(result.Components, ical.Event{Component: child})
			case ical.CompTimezone:
				result.Timezones = append(result.Timezones, child)
			}
		}
	}

	return result, nil
}

// TimezoneID returns the TZID of a timezone definition, or an empty string
// when the definition carries none.
func TimezoneID(tz *ical.Component) string {
	prop := tz.Props.Get(ical.PropTimezoneID)
	if prop == nil {
		return ""
	}
	return prop.Value
}

// ReferencedTimezoneID returns the TZID parameter of an event's DTSTART, if
// any. Events without one are either UTC or whole-day.
func ReferencedTimezoneID(comp ical.Event) string {
	prop := comp.Props.Get(ical.PropDateTimeStart)
	if prop == nil {
		return ""
	}
	return prop.Params.Get(ical.ParamTimezoneID)
}

func validateEvent(comp *ical.Component) error {
	if prop := comp.Props.Get(ical.PropRecurrenceRule); prop != nil {
		if _, err := rrule.StrToRRuleSet("RRULE:" + prop.Value); err != nil {
			return NewParseError("can't parse RRULE", "", err, map[string]any{
				"rrule": prop.Value,
			})
		}
	}
	return nil
}
