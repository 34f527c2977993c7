package importer

import (
	"context"
	"log/slog"
	"time"

	"icsimport/src-importer/directory"
	"icsimport/src-importer/ics"
	"icsimport/src-importer/utils"

	"github.com/emersion/go-ical"
)

// writeBatch is the writer task's input: the destination's client plus the
// components and timezones moved out of the rows.
type writeBatch struct {
	client     directory.WriteClient
	components []ical.Event
	timezones  []*ical.Component
}

// runWriter is the single background unit of work per import. It registers
// every timezone in input order, then submits all components in one batched
// create. Cancellation is observed at every step boundary. A per-timezone
// registration failure is tolerated; the destination falls back to UTC for
// events referencing it.
func runWriter(ctx context.Context, batch writeBatch, metrics *utils.Metric, done func(error)) {
	start := time.Now()

	for _, tz := range batch.timezones {
		if err := ctx.Err(); err != nil {
			done(err)
			return
		}
		if err := batch.client.RegisterTimezone(ctx, tz); err != nil {
			slog.Warn("can't register timezone", "tzid", ics.TimezoneID(tz), "error", err)
		}
	}

	if err := ctx.Err(); err != nil {
		done(err)
		return
	}

	// the assigned ids are of no use upstream
	if _, err := batch.client.CreateEvents(ctx, batch.components); err != nil {
		done(err)
		return
	}

	if metrics != nil {
		select {
		case metrics.WriteBatch <- float64(time.Since(start).Microseconds()):
		default:
		}
		select {
		case metrics.ImportedEvents <- float64(len(batch.components)):
		default:
		}
	}
	done(nil)
}
