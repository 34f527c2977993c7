package importer

import (
	"context"
	"time"

	"icsimport/src-importer/ics"
	"icsimport/src-importer/utils"

	"github.com/emersion/go-ical"
)

type RowState int

const (
	RowPending RowState = iota
	RowLoaded
	RowFailed
)

func (s RowState) String() string {
	switch s {
	case RowPending:
		return "pending"
	case RowLoaded:
		return "loaded"
	case RowFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Row owns one input file and its eventual parse result. The parse runs on a
// worker goroutine; everything else happens on the loop. State only moves
// forward: pending, then loaded or failed. The only retry path is a new row.
type Row struct {
	loop *Loop
	path string

	state   RowState
	result  *ics.ParseResult
	err     error
	visible bool

	fired     bool
	destroyed bool

	cancelParse context.CancelFunc
	onLoaded    func(*Row, int)
	metrics     *utils.Metric
}

func newRow(loop *Loop, path string, metrics *utils.Metric, onLoaded func(*Row, int)) *Row {
	row := &Row{
		loop:     loop,
		path:     path,
		state:    RowPending,
		onLoaded: onLoaded,
		metrics:  metrics,
	}

	ctx, cancel := context.WithCancel(context.Background())
	row.cancelParse = cancel

	go func() {
		start := time.Now()
		result, err := ics.FromFile(ctx, path)
		if row.metrics != nil {
			select {
			case row.metrics.ParseFile <- float64(time.Since(start).Microseconds()):
			default:
			}
		}
		loop.Dispatch(func() { row.complete(result, err) })
	}()

	return row
}

// complete runs on the loop. The file-loaded signal fires exactly once per
// row, carrying the event count (zero on failure).
func (r *Row) complete(result *ics.ParseResult, err error) {
	if r.fired || r.destroyed {
		return
	}
	r.fired = true

	count := 0
	if err != nil {
		r.state = RowFailed
		r.err = err
	} else {
		r.state = RowLoaded
		r.result = result
		count = result.EventCount()
	}

	if r.onLoaded != nil {
		r.onLoaded(r, count)
	}
}

// Destroy cancels an in-flight parse. A destroyed row emits nothing.
func (r *Row) Destroy() {
	r.destroyed = true
	r.cancelParse()
}

func (r *Row) Path() string {
	return r.path
}

// Basename resolves the row's file reference to its display name.
func (r *Row) Basename() string {
	return ics.Basename(r.path)
}

func (r *Row) State() RowState {
	return r.state
}

// Err reports the row's parse error, if any. Parse errors stay local to the
// row and never abort the session.
func (r *Row) Err() error {
	return r.err
}

func (r *Row) Visible() bool {
	return r.visible
}

func (r *Row) EventCount() int {
	if r.state != RowLoaded || r.result == nil {
		return 0
	}
	return r.result.EventCount()
}

// Events returns the ordered event components, empty unless loaded.
func (r *Row) Events() []ical.Event {
	if r.state != RowLoaded || r.result == nil {
		return nil
	}
	return r.result.Components
}

// Timezones returns the ordered timezone definitions, empty unless loaded.
func (r *Row) Timezones() []*ical.Component {
	if r.state != RowLoaded || r.result == nil {
		return nil
	}
	return r.result.Timezones
}

// take moves the parse result out of the row for the writer batch. The row
// retains nothing afterwards.
func (r *Row) take() ([]ical.Event, []*ical.Component) {
	if r.state != RowLoaded || r.result == nil {
		return nil, nil
	}
	components := r.result.Components
	timezones := r.result.Timezones
	r.result = nil
	return components, timezones
}
