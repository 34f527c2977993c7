// The `importer` package is the import pipeline: one session per batch of
// input files, one row per file, and a single cancellable writer task that
// commits everything to the selected destination calendar.
package importer

import (
	"context"
	"errors"
	"log/slog"

	"icsimport/src-importer/directory"
	"icsimport/src-importer/utils"

	"github.com/emersion/go-ical"
)

var (
	// ErrNoDestination reports a BeginWrite with no selected calendar.
	// The selector only offers writable calendars, so hitting this is a
	// programming error in the host, not a user mistake.
	ErrNoDestination = errors.New("no destination calendar selected")

	// ErrWriteInFlight reports a BeginWrite while a writer task is
	// already running.
	ErrWriteInFlight = errors.New("a write is already in flight")
)

// Session aggregates the rows of one import, owns the selected destination,
// and runs the batched write. All methods must be called on the loop.
type Session struct {
	loop *Loop
	dir  *directory.Directory

	files []string
	rows  []*Row

	selected    *directory.Calendar
	selectedPos int

	totalEvents int
	title       string

	// sensitive is false while a writer task is in flight; during that
	// window no selection change and no second write is accepted.
	sensitive   bool
	cancelWrite context.CancelFunc

	metrics *utils.Metric

	onTitleChanged func(string)
	onRowLoaded    func(*Row)
	onDismiss      func(error)
}

// NewSession creates one row per file and schedules their parses. Must be
// called on the loop. The file list is immutable afterwards.
func NewSession(loop *Loop, dir *directory.Directory, files []string, metrics *utils.Metric) *Session {
	s := &Session{
		loop:        loop,
		dir:         dir,
		files:       files,
		sensitive:   true,
		selectedPos: -1,
		title:       importTitle(0),
		metrics:     metrics,
	}

	for _, file := range files {
		s.rows = append(s.rows, newRow(loop, file, metrics, s.onRowFileLoaded))
	}

	dir.OnDefaultCalendarChanged(func() {
		loop.Dispatch(s.updateDefaultCalendar)
	})
	s.updateDefaultCalendar()

	return s
}

// OnTitleChanged installs the hook that mirrors the dialog title.
func (s *Session) OnTitleChanged(fn func(string)) {
	s.onTitleChanged = fn
}

// OnRowLoaded installs the hook that makes a finished row visible.
func (s *Session) OnRowLoaded(fn func(*Row)) {
	s.onRowLoaded = fn
}

// OnDismiss installs the hook that closes the dialog. A nil error means
// success or a benign cancellation; write failures arrive non-nil after
// being logged.
func (s *Session) OnDismiss(fn func(error)) {
	s.onDismiss = fn
}

func (s *Session) Rows() []*Row {
	return s.rows
}

// Grouped reports whether rows render grouped under their file basename,
// which is the case only when more than one file was given.
func (s *Session) Grouped() bool {
	return len(s.files) > 1
}

func (s *Session) Title() string {
	return s.title
}

func (s *Session) TotalEvents() int {
	return s.totalEvents
}

func (s *Session) SelectedCalendar() *directory.Calendar {
	return s.selected
}

// SelectedPosition returns the selector position of the destination in the
// writable-calendars list, or -1 when nothing is selected.
func (s *Session) SelectedPosition() int {
	return s.selectedPos
}

// Sensitive reports whether the session accepts input. It is false exactly
// while a writer task is in flight.
func (s *Session) Sensitive() bool {
	return s.sensitive
}

// SelectCalendar records the destination. The selector contract guarantees
// only writable calendars are offered. Ignored while a write is in flight.
func (s *Session) SelectCalendar(c *directory.Calendar) {
	if !s.sensitive {
		slog.Debug("ignoring selection change while writing", "calendar", c.Name)
		return
	}
	pos, ok := s.dir.IndexOf(c)
	if !ok {
		slog.Warn("selected calendar is not in the writable list", "calendar", c.Name)
		return
	}
	s.selected = c
	s.selectedPos = pos
}

// onRowFileLoaded handles the one-shot file-loaded signal of a row. Arrival
// order does not matter; the total is updated additively.
func (s *Session) onRowFileLoaded(row *Row, n int) {
	s.totalEvents += n

	s.title = importTitle(s.totalEvents)
	if s.onTitleChanged != nil {
		s.onTitleChanged(s.title)
	}

	row.visible = true
	if s.onRowLoaded != nil {
		s.onRowLoaded(row)
	}
}

// updateDefaultCalendar programs the selector to the directory default, but
// only when that default is present in the writable list.
func (s *Session) updateDefaultCalendar() {
	if !s.sensitive {
		return
	}
	def := s.dir.DefaultCalendar()
	if def == nil {
		return
	}
	if pos, ok := s.dir.IndexOf(def); ok {
		s.selected = def
		s.selectedPos = pos
	}
}

// BeginWrite submits the writer task. With no parsed events it is a silent
// no-op; with no destination it reports ErrNoDestination. At most one task
// is ever in flight.
func (s *Session) BeginWrite() error {
	if !s.sensitive {
		return ErrWriteInFlight
	}
	if s.selected == nil {
		slog.Error("can't import: no destination calendar selected")
		return ErrNoDestination
	}
	if s.totalEvents == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelWrite = cancel
	s.sensitive = false

	// move components and timezones out of the rows, in row order;
	// duplicates are deliberately kept
	components := make([]ical.Event, 0, s.totalEvents)
	timezones := make([]*ical.Component, 0)
	for _, row := range s.rows {
		rowComponents, rowTimezones := row.take()
		components = append(components, rowComponents...)
		timezones = append(timezones, rowTimezones...)
	}

	batch := writeBatch{
		client:     s.selected.Client(),
		components: components,
		timezones:  timezones,
	}
	go runWriter(ctx, batch, s.metrics, func(err error) {
		s.loop.Dispatch(func() { s.onWriteDone(err) })
	})

	return nil
}

// onWriteDone runs on the loop once the writer task reports its outcome. The
// session dismisses in every case; only genuine write failures surface.
func (s *Session) onWriteDone(err error) {
	s.cancelWrite = nil

	switch {
	case err == nil:
		slog.Info("import finished", "events", s.totalEvents)
	case errors.Is(err, context.Canceled):
		slog.Debug("import cancelled")
		err = nil
	default:
		slog.Warn("can't create events", "error", err)
	}

	if s.onDismiss != nil {
		s.onDismiss(err)
	}
}

// Cancel aborts an in-flight write at its next step boundary; with no write
// running it simply dismisses the session.
func (s *Session) Cancel() {
	if s.cancelWrite != nil {
		s.cancelWrite()
		return
	}
	if s.onDismiss != nil {
		s.onDismiss(nil)
	}
}

// Destroy cancels any in-flight row parses. Their results are dropped.
func (s *Session) Destroy() {
	for _, row := range s.rows {
		row.Destroy()
	}
}
