package model

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// One row per calendar known to the directory. Read-only calendars are kept
// in the table so the rest of the app can render them, but the import
// pipeline only ever sees the writable ones.
type Calendar struct {
	bun.BaseModel `bun:"table:calendars"`

	ID       string `bun:"id,pk"`        // required
	Name     string `bun:"name,notnull"` // required
	Color    string `bun:"color"`
	Visible  bool   `bun:"visible"`
	Default  bool   `bun:"is_default"`
	Writable bool   `bun:"writable"`

	SourceParentName  string `bun:"source_parent_name"`
	SourceParentColor string `bun:"source_parent_color"`

	Events []*Event `bun:"rel:has-many,join:id=calendar_id"`
}

func (c *Calendar) Upsert(ctx context.Context, db bun.IDB) error {
	switch {
	case c.ID == "":
		return fmt.Errorf("(*Calendar).Upsert: calendar id is blank")
	case c.Name == "":
		return fmt.Errorf("(*Calendar).Upsert: name is blank")
	}

	exists, err := db.NewSelect().
		Model((*Calendar)(nil)).
		Where("id = ?", c.ID).
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("(*Calendar).Upsert: %w", err)
	}

	switch exists {
	case true:
		if _, err := db.NewUpdate().
			Model(c).
			WherePK().
			Exec(ctx); err != nil {
			return fmt.Errorf("(*Calendar).Upsert: %w", err)
		}
	case false:
		if _, err := db.NewInsert().
			Model(c).
			Exec(ctx); err != nil {
			return fmt.Errorf("(*Calendar).Upsert: %w", err)
		}
	}

	return nil
}
