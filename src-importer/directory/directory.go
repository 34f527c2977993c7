// The `directory` package enumerates the calendars an import can target. It
// only ever hands out writable calendars; read-only ones never leave the
// backing store. Change notifications fire for the calendar list and for the
// default calendar, mirroring what the selector UI subscribes to.
package directory

import (
	"context"
	"fmt"

	"icsimport/src-importer/model"

	"github.com/uptrace/bun"
)

type Directory struct {
	calendars []*Calendar
	defaultID string

	onCalendarsChanged []func()
	onDefaultChanged   []func()
}

func New() *Directory {
	return &Directory{
		calendars: make([]*Calendar, 0),
	}
}

// Load builds a directory from the local store. Only writable calendars are
// offered; the row flagged as default becomes the directory default.
func Load(ctx context.Context, db *bun.DB) (*Directory, error) {
	calendarModels := []model.Calendar{}
	if err := db.NewSelect().
		Model(&calendarModels).
		Where("writable = ?", true).
		Order("name ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("directory.Load: can't list calendars: %w", err)
	}

	d := New()
	for i := range calendarModels {
		calendarModel := calendarModels[i]
		d.Add(&Calendar{
			ID:                calendarModel.ID,
			Name:              calendarModel.Name,
			Color:             calendarModel.Color,
			Visible:           calendarModel.Visible,
			SourceParentName:  calendarModel.SourceParentName,
			SourceParentColor: calendarModel.SourceParentColor,
			client:            NewLocalClient(db, calendarModel.ID),
		})
		if calendarModel.Default {
			d.defaultID = calendarModel.ID
		}
	}
	return d, nil
}

// Add appends a writable calendar handle and notifies list subscribers.
func (d *Directory) Add(c *Calendar) {
	d.calendars = append(d.calendars, c)
	for _, fn := range d.onCalendarsChanged {
		fn()
	}
}

// WritableCalendars returns the ordered list of writable calendar handles.
func (d *Directory) WritableCalendars() []*Calendar {
	return d.calendars
}

// DefaultCalendar returns the default calendar handle, or nil when the
// default is absent or not writable.
func (d *Directory) DefaultCalendar() *Calendar {
	for _, c := range d.calendars {
		if c.ID == d.defaultID {
			return c
		}
	}
	return nil
}

// SetDefaultCalendar records a new default and notifies subscribers. The id
// does not have to name a writable calendar; consumers deal with a default
// that is missing from the writable list.
func (d *Directory) SetDefaultCalendar(id string) {
	d.defaultID = id
	for _, fn := range d.onDefaultChanged {
		fn()
	}
}

func (d *Directory) OnCalendarsChanged(fn func()) {
	d.onCalendarsChanged = append(d.onCalendarsChanged, fn)
}

func (d *Directory) OnDefaultCalendarChanged(fn func()) {
	d.onDefaultChanged = append(d.onDefaultChanged, fn)
}

// IndexOf returns the position of a calendar in the writable list.
func (d *Directory) IndexOf(c *Calendar) (int, bool) {
	for i, aux := range d.calendars {
		if aux == c {
			return i, true
		}
	}
	return 0, false
}
