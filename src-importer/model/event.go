package model

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/uptrace/bun"
)

type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID          string `bun:"id,pk"`           // required
	Summary     string `bun:"summary,notnull"` // required
	Description string `bun:"description"`
	Location    string `bun:"location"`
	URL         string `bun:"url"`
	Organizer   string `bun:"organizer"`
	RRule       string `bun:"rrule"`

	StartDateUnixUTC int64  `bun:"start_date,notnull"` // required
	EndDateUnixUTC   int64  `bun:"end_date"`
	IsWholeDay       bool   `bun:"is_whole_day"`
	TimezoneID       string `bun:"timezone_id"`

	CreatedAt int64 `bun:"created_at,notnull"`
	Sequence  int   `bun:"sequence"`

	CalendarID string `bun:"calendar_id,notnull"` // required

	Calendar *Calendar `bun:"rel:belongs-to,join:calendar_id=id"`
}

func (e *Event) Validate() error {
	switch {
	case e.ID == "":
		return fmt.Errorf("(*Event).Validate: event id is blank")
	case e.Summary == "":
		return fmt.Errorf("(*Event).Validate: summary is blank")
	case e.StartDateUnixUTC == 0:
		return fmt.Errorf("(*Event).Validate: start date is blank")
	case e.EndDateUnixUTC != 0 && e.StartDateUnixUTC > e.EndDateUnixUTC:
		return fmt.Errorf("(*Event).Validate: start date must be before end date")
	case e.CalendarID == "":
		return fmt.Errorf("(*Event).Validate: calendar id is blank")
	case e.URL != "":
		if _, err := url.ParseRequestURI(e.URL); err != nil {
			return fmt.Errorf("(*Event).Validate: url is invalid: %w", err)
		}
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().UTC().Unix()
	}
	startDate := time.Unix(e.StartDateUnixUTC, 0).UTC()
	if startDate.Hour() == 0 &&
		startDate.Minute() == 0 &&
		startDate.Second() == 0 {
		e.IsWholeDay = true
	}
	return nil
}

func (e *Event) Insert(ctx context.Context, db bun.IDB) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if _, err := db.NewInsert().
		Model(e).
		Exec(ctx); err != nil {
		return fmt.Errorf("(*Event).Insert: %w", err)
	}
	return nil
}
