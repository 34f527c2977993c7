package model

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// Timezone definitions travel with the events that reference them. The raw
// VTIMEZONE text is kept verbatim so the calendar can be served back out
// without reconstructing the definition.
type Timezone struct {
	bun.BaseModel `bun:"table:timezones"`

	TZID       string `bun:"tzid,pk"`             // required
	Raw        string `bun:"raw,notnull"`         // required
	CalendarID string `bun:"calendar_id,notnull"` // required
}

func (t *Timezone) Upsert(ctx context.Context, db bun.IDB) error {
	switch {
	case t.TZID == "":
		return fmt.Errorf("(*Timezone).Upsert: tzid is blank")
	case t.Raw == "":
		return fmt.Errorf("(*Timezone).Upsert: raw definition is blank")
	case t.CalendarID == "":
		return fmt.Errorf("(*Timezone).Upsert: calendar id is blank")
	}

	exists, err := db.NewSelect().
		Model((*Timezone)(nil)).
		Where("tzid = ?", t.TZID).
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("(*Timezone).Upsert: %w", err)
	}

	switch exists {
	case true:
		if _, err := db.NewUpdate().
			Model(t).
			WherePK().
			Exec(ctx); err != nil {
			return fmt.Errorf("(*Timezone).Upsert: %w", err)
		}
	case false:
		if _, err := db.NewInsert().
			Model(t).
			Exec(ctx); err != nil {
			return fmt.Errorf("(*Timezone).Upsert: %w", err)
		}
	}

	return nil
}
