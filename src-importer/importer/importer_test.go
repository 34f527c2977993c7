package importer_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"icsimport/src-importer/directory"
	"icsimport/src-importer/ics"
	"icsimport/src-importer/importer"
	"icsimport/src-importer/utils"

	"github.com/emersion/go-ical"
)

// fakeClient records the order of write-client calls so the tests can check
// the registrations-before-create guarantee.
type fakeClient struct {
	mu      sync.Mutex
	order   []string
	batches [][]ical.Event

	tzErr       error
	createErr   error
	blockCreate bool
}

func (f *fakeClient) RegisterTimezone(ctx context.Context, tz *ical.Component) error {
	f.mu.Lock()
	f.order = append(f.order, "tz:"+ics.TimezoneID(tz))
	f.mu.Unlock()
	return f.tzErr
}

func (f *fakeClient) CreateEvents(ctx context.Context, components []ical.Event) ([]string, error) {
	if f.blockCreate {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.mu.Lock()
	f.order = append(f.order, "create")
	f.batches = append(f.batches, components)
	f.mu.Unlock()
	ids := make([]string, len(components))
	for i := range components {
		ids[i] = fmt.Sprintf("id-%d", i)
	}
	return ids, nil
}

func (f *fakeClient) callOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

func (f *fakeClient) createdEvents() []ical.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		return nil
	}
	return f.batches[0]
}

func (f *fakeClient) createCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, call := range f.order {
		if call == "create" {
			n++
		}
	}
	return n
}

// calendarFile renders an ICS payload with the given event summaries and
// timezone ids.
func calendarFile(tzids []string, summaries ...string) string {
	var sb strings.Builder
	sb.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//Test//Test//EN\r\n")
	for _, tzid := range tzids {
		sb.WriteString("BEGIN:VTIMEZONE\r\nTZID:" + tzid + "\r\n")
		sb.WriteString("BEGIN:STANDARD\r\nDTSTART:19701025T030000\r\nTZOFFSETFROM:+0200\r\nTZOFFSETTO:+0100\r\nEND:STANDARD\r\n")
		sb.WriteString("END:VTIMEZONE\r\n")
	}
	for i, summary := range summaries {
		sb.WriteString("BEGIN:VEVENT\r\n")
		sb.WriteString(fmt.Sprintf("UID:event-%d\r\n", i))
		sb.WriteString("SUMMARY:" + summary + "\r\n")
		sb.WriteString("DTSTAMP:20240101T000000Z\r\n")
		sb.WriteString(fmt.Sprintf("DTSTART:2024010%dT100000Z\r\n", (i%8)+1))
		sb.WriteString("END:VEVENT\r\n")
	}
	sb.WriteString("END:VCALENDAR\r\n")
	return sb.String()
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func startLoop(t *testing.T) *importer.Loop {
	t.Helper()
	loop := importer.NewLoop()
	go loop.Run()
	t.Cleanup(loop.Stop)
	return loop
}

// onLoop runs fn on the loop and waits for it.
func onLoop(t *testing.T, loop *importer.Loop, fn func()) {
	t.Helper()
	done := make(chan struct{})
	loop.Dispatch(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not run the dispatched function")
	}
}

// waitFor polls a condition on the loop until it holds.
func waitFor(t *testing.T, loop *importer.Loop, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		ok := false
		onLoop(t, loop, func() { ok = cond() })
		if ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for", what)
}

func newDirectory(client directory.WriteClient, names ...string) *directory.Directory {
	dir := directory.New()
	for _, name := range names {
		dir.Add(directory.NewCalendar(strings.ToLower(name), name, client))
	}
	if len(names) > 0 {
		dir.SetDefaultCalendar(strings.ToLower(names[0]))
	}
	return dir
}

func allRowsDone(s *importer.Session) bool {
	for _, row := range s.Rows() {
		if row.State() == importer.RowPending {
			return false
		}
	}
	return true
}

func TestSingleFileImport(t *testing.T) {
	loop := startLoop(t)
	client := &fakeClient{}
	dir := newDirectory(client, "Personal")
	path := writeTempFile(t, "A.ics", calendarFile([]string{"Europe/Paris"}, "One", "Two", "Three"))

	var session *importer.Session
	dismissed := make(chan error, 1)
	onLoop(t, loop, func() {
		session = importer.NewSession(loop, dir, []string{path}, nil)
		session.OnDismiss(func(err error) { dismissed <- err })
	})

	waitFor(t, loop, "rows to load", func() bool { return allRowsDone(session) })

	onLoop(t, loop, func() {
		if session.Title() != "Import 3 events" {
			t.Error("wrong title:", session.Title())
		}
		if session.TotalEvents() != 3 {
			t.Error("wrong total:", session.TotalEvents())
		}
		if session.SelectedCalendar() == nil || session.SelectedCalendar().Name != "Personal" {
			t.Error("default calendar not selected")
		}
		if !session.Rows()[0].Visible() {
			t.Error("loaded row should be visible")
		}
		if session.Grouped() {
			t.Error("a single file must not render grouped")
		}
		if err := session.BeginWrite(); err != nil {
			t.Error(err)
		}
	})

	select {
	case err := <-dismissed:
		if err != nil {
			t.Error("unexpected dismiss error:", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session did not dismiss")
	}

	order := client.callOrder()
	if len(order) != 2 || order[0] != "tz:Europe/Paris" || order[1] != "create" {
		t.Error("wrong call order:", order)
	}
	if len(client.createdEvents()) != 3 {
		t.Error("expected 3 components in the batch, got", len(client.createdEvents()))
	}
}

func TestTwoFileAggregationOrder(t *testing.T) {
	loop := startLoop(t)
	client := &fakeClient{}
	dir := newDirectory(client, "Personal")
	pathA := writeTempFile(t, "A.ics", calendarFile([]string{"UTC"}, "A1", "A2"))
	pathB := writeTempFile(t, "B.ics", calendarFile([]string{"Europe/Paris"}, "B1", "B2", "B3", "B4", "B5"))

	var session *importer.Session
	dismissed := make(chan error, 1)
	onLoop(t, loop, func() {
		session = importer.NewSession(loop, dir, []string{pathA, pathB}, nil)
		session.OnDismiss(func(err error) { dismissed <- err })
	})

	waitFor(t, loop, "rows to load", func() bool { return allRowsDone(session) })

	onLoop(t, loop, func() {
		if session.Title() != "Import 7 events" {
			t.Error("wrong title:", session.Title())
		}
		if !session.Grouped() {
			t.Error("multiple files must render grouped")
		}
		if err := session.BeginWrite(); err != nil {
			t.Error(err)
		}
	})
	<-dismissed

	// both registrations precede the single batched create
	order := client.callOrder()
	if len(order) != 3 || order[2] != "create" {
		t.Error("wrong call order:", order)
	}
	if client.createCalls() != 1 {
		t.Error("expected exactly one batched create, got", client.createCalls())
	}

	// batch preserves row order, then parser emission order within a row
	events := client.createdEvents()
	if len(events) != 7 {
		t.Fatal("expected 7 components, got", len(events))
	}
	want := []string{"A1", "A2", "B1", "B2", "B3", "B4", "B5"}
	for i, event := range events {
		summary, _ := event.Props.Text("SUMMARY")
		if summary != want[i] {
			t.Error("wrong order at", i, "expected", want[i], "got", summary)
		}
	}
}

func TestParseFailureStaysLocalToRow(t *testing.T) {
	loop := startLoop(t)
	client := &fakeClient{}
	dir := newDirectory(client, "Personal")
	pathA := writeTempFile(t, "A.ics", calendarFile(nil, "A1", "A2", "A3", "A4"))
	pathB := writeTempFile(t, "B.ics", "this is not a calendar\r\n")

	var session *importer.Session
	dismissed := make(chan error, 1)
	onLoop(t, loop, func() {
		session = importer.NewSession(loop, dir, []string{pathA, pathB}, nil)
		session.OnDismiss(func(err error) { dismissed <- err })
	})

	waitFor(t, loop, "rows to load", func() bool { return allRowsDone(session) })

	onLoop(t, loop, func() {
		if session.Title() != "Import 4 events" {
			t.Error("wrong title:", session.Title())
		}
		rowB := session.Rows()[1]
		if rowB.State() != importer.RowFailed {
			t.Error("row B should have failed")
		}
		if rowB.Err() == nil {
			t.Error("failed row must expose its error")
		}
		if rowB.EventCount() != 0 {
			t.Error("failed row must contribute zero events")
		}
		if err := session.BeginWrite(); err != nil {
			t.Error(err)
		}
	})
	<-dismissed

	if len(client.createdEvents()) != 4 {
		t.Error("expected the 4 events of row A, got", len(client.createdEvents()))
	}
}

func TestCancelDuringWrite(t *testing.T) {
	loop := startLoop(t)
	client := &fakeClient{blockCreate: true}
	dir := newDirectory(client, "Personal")
	path := writeTempFile(t, "A.ics", calendarFile([]string{"UTC"}, "One"))

	var session *importer.Session
	dismissed := make(chan error, 1)
	onLoop(t, loop, func() {
		session = importer.NewSession(loop, dir, []string{path}, nil)
		session.OnDismiss(func(err error) { dismissed <- err })
	})

	waitFor(t, loop, "rows to load", func() bool { return allRowsDone(session) })

	onLoop(t, loop, func() {
		if err := session.BeginWrite(); err != nil {
			t.Error(err)
		}
		if session.Sensitive() {
			t.Error("session must be non-sensitive while writing")
		}
	})
	onLoop(t, loop, func() { session.Cancel() })

	select {
	case err := <-dismissed:
		if err != nil {
			t.Error("cancellation must be benign, got", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session did not dismiss after cancel")
	}

	if client.createCalls() != 0 {
		t.Error("cancelled write must persist nothing")
	}
}

func TestWriteFailureDismissesWithError(t *testing.T) {
	loop := startLoop(t)
	client := &fakeClient{createErr: errors.New("backend unavailable")}
	dir := newDirectory(client, "Personal")
	path := writeTempFile(t, "A.ics", calendarFile(nil, "One"))

	var session *importer.Session
	dismissed := make(chan error, 1)
	onLoop(t, loop, func() {
		session = importer.NewSession(loop, dir, []string{path}, nil)
		session.OnDismiss(func(err error) { dismissed <- err })
	})

	waitFor(t, loop, "rows to load", func() bool { return allRowsDone(session) })
	onLoop(t, loop, func() {
		if err := session.BeginWrite(); err != nil {
			t.Error(err)
		}
	})

	if err := <-dismissed; err == nil {
		t.Error("expected the write error to surface on dismiss")
	}
}

func TestTimezoneRegistrationFailureIsTolerated(t *testing.T) {
	loop := startLoop(t)
	client := &fakeClient{tzErr: errors.New("zone rejected")}
	dir := newDirectory(client, "Personal")
	path := writeTempFile(t, "A.ics", calendarFile([]string{"Europe/Paris"}, "One"))

	var session *importer.Session
	dismissed := make(chan error, 1)
	onLoop(t, loop, func() {
		session = importer.NewSession(loop, dir, []string{path}, nil)
		session.OnDismiss(func(err error) { dismissed <- err })
	})

	waitFor(t, loop, "rows to load", func() bool { return allRowsDone(session) })
	onLoop(t, loop, func() {
		if err := session.BeginWrite(); err != nil {
			t.Error(err)
		}
	})

	if err := <-dismissed; err != nil {
		t.Error("timezone failures must not fail the import, got", err)
	}
	if client.createCalls() != 1 {
		t.Error("create must still run after a timezone failure")
	}
}

func TestEmptyFileIsANoOp(t *testing.T) {
	loop := startLoop(t)
	client := &fakeClient{}
	dir := newDirectory(client, "Personal")
	path := writeTempFile(t, "A.ics", calendarFile(nil))

	var session *importer.Session
	dismissCalls := 0
	onLoop(t, loop, func() {
		session = importer.NewSession(loop, dir, []string{path}, nil)
		session.OnDismiss(func(error) { dismissCalls++ })
	})

	waitFor(t, loop, "rows to load", func() bool { return allRowsDone(session) })

	onLoop(t, loop, func() {
		if session.Title() != "Import 0 events" {
			t.Error("wrong title:", session.Title())
		}
		if err := session.BeginWrite(); err != nil {
			t.Error("empty batch must be a silent no-op, got", err)
		}
		if !session.Sensitive() {
			t.Error("no-op write must leave the session open")
		}
		if dismissCalls != 0 {
			t.Error("session must stay open until explicitly dismissed")
		}
	})

	if len(client.callOrder()) != 0 {
		t.Error("no client calls expected for an empty batch")
	}
}

func TestSingularTitle(t *testing.T) {
	loop := startLoop(t)
	client := &fakeClient{}
	dir := newDirectory(client, "Personal")
	path := writeTempFile(t, "A.ics", calendarFile(nil, "Only"))

	var session *importer.Session
	onLoop(t, loop, func() {
		session = importer.NewSession(loop, dir, []string{path}, nil)
	})
	waitFor(t, loop, "rows to load", func() bool { return allRowsDone(session) })

	onLoop(t, loop, func() {
		if session.Title() != "Import 1 event" {
			t.Error("wrong singular title:", session.Title())
		}
	})
}

func TestNoDestinationIsAContractViolation(t *testing.T) {
	loop := startLoop(t)
	dir := directory.New() // empty: nothing to select, no default
	path := writeTempFile(t, "A.ics", calendarFile(nil, "One"))

	var session *importer.Session
	onLoop(t, loop, func() {
		session = importer.NewSession(loop, dir, []string{path}, nil)
	})
	waitFor(t, loop, "rows to load", func() bool { return allRowsDone(session) })

	onLoop(t, loop, func() {
		if err := session.BeginWrite(); !errors.Is(err, importer.ErrNoDestination) {
			t.Error("expected ErrNoDestination, got", err)
		}
	})
}

func TestSecondBeginWriteRejectedWhileWriting(t *testing.T) {
	loop := startLoop(t)
	client := &fakeClient{blockCreate: true}
	dir := newDirectory(client, "Personal")
	path := writeTempFile(t, "A.ics", calendarFile(nil, "One"))

	var session *importer.Session
	dismissed := make(chan error, 1)
	onLoop(t, loop, func() {
		session = importer.NewSession(loop, dir, []string{path}, nil)
		session.OnDismiss(func(err error) { dismissed <- err })
	})
	waitFor(t, loop, "rows to load", func() bool { return allRowsDone(session) })

	onLoop(t, loop, func() {
		if err := session.BeginWrite(); err != nil {
			t.Error(err)
		}
		if err := session.BeginWrite(); !errors.Is(err, importer.ErrWriteInFlight) {
			t.Error("expected ErrWriteInFlight, got", err)
		}
	})
	onLoop(t, loop, func() { session.Cancel() })
	<-dismissed
}

func TestRowsRetainNothingAfterBeginWrite(t *testing.T) {
	loop := startLoop(t)
	client := &fakeClient{}
	dir := newDirectory(client, "Personal")
	path := writeTempFile(t, "A.ics", calendarFile([]string{"UTC"}, "One", "Two"))

	var session *importer.Session
	dismissed := make(chan error, 1)
	onLoop(t, loop, func() {
		session = importer.NewSession(loop, dir, []string{path}, nil)
		session.OnDismiss(func(err error) { dismissed <- err })
	})
	waitFor(t, loop, "rows to load", func() bool { return allRowsDone(session) })

	onLoop(t, loop, func() {
		if err := session.BeginWrite(); err != nil {
			t.Error(err)
		}
		// ownership moved into the writer batch
		if len(session.Rows()[0].Events()) != 0 {
			t.Error("row must not retain components after BeginWrite")
		}
		if len(session.Rows()[0].Timezones()) != 0 {
			t.Error("row must not retain timezones after BeginWrite")
		}
	})
	<-dismissed
}

func TestFileLoadedFiresExactlyOnce(t *testing.T) {
	loop := startLoop(t)
	client := &fakeClient{}
	dir := newDirectory(client, "Personal")
	pathA := writeTempFile(t, "A.ics", calendarFile(nil, "One"))
	pathB := writeTempFile(t, "B.ics", calendarFile(nil, "Two"))

	var session *importer.Session
	loaded := 0
	onLoop(t, loop, func() {
		session = importer.NewSession(loop, dir, []string{pathA, pathB}, nil)
		session.OnRowLoaded(func(*importer.Row) { loaded++ })
	})
	waitFor(t, loop, "rows to load", func() bool { return allRowsDone(session) })

	// give any stray duplicate signal a chance to arrive
	loop.Sync()
	onLoop(t, loop, func() {
		if loaded != 2 {
			t.Error("expected exactly 2 file-loaded signals, got", loaded)
		}
	})
}

func TestDefaultCalendarChangeMidSession(t *testing.T) {
	loop := startLoop(t)
	client := &fakeClient{}
	dir := newDirectory(client, "Personal", "Work")
	path := writeTempFile(t, "A.ics", calendarFile(nil, "One"))

	var session *importer.Session
	onLoop(t, loop, func() {
		session = importer.NewSession(loop, dir, []string{path}, nil)
	})
	waitFor(t, loop, "rows to load", func() bool { return allRowsDone(session) })

	onLoop(t, loop, func() {
		if session.SelectedCalendar().Name != "Personal" {
			t.Error("expected Personal to start selected")
		}
		dir.SetDefaultCalendar("work")
	})
	loop.Sync()
	onLoop(t, loop, func() {
		if session.SelectedCalendar().Name != "Work" {
			t.Error("selector should follow the new default")
		}
		if session.SelectedPosition() != 1 {
			t.Error("wrong selector position:", session.SelectedPosition())
		}

		// a default outside the writable list leaves the selection alone
		dir.SetDefaultCalendar("not-writable")
	})
	loop.Sync()
	onLoop(t, loop, func() {
		if session.SelectedCalendar().Name != "Work" {
			t.Error("absent default must not change the selection")
		}
	})
}

func TestZeroFiles(t *testing.T) {
	loop := startLoop(t)
	client := &fakeClient{}
	dir := newDirectory(client, "Personal")

	onLoop(t, loop, func() {
		session := importer.NewSession(loop, dir, nil, nil)
		if len(session.Rows()) != 0 {
			t.Error("expected no rows")
		}
		if err := session.BeginWrite(); err != nil {
			t.Error("zero files must make BeginWrite a no-op, got", err)
		}
	})
}

func TestSelectionLockedDuringWrite(t *testing.T) {
	loop := startLoop(t)
	client := &fakeClient{blockCreate: true}
	dir := newDirectory(client, "Personal", "Work")
	path := writeTempFile(t, "A.ics", calendarFile(nil, "One"))

	var session *importer.Session
	dismissed := make(chan error, 1)
	onLoop(t, loop, func() {
		session = importer.NewSession(loop, dir, []string{path}, nil)
		session.OnDismiss(func(err error) { dismissed <- err })
	})
	waitFor(t, loop, "rows to load", func() bool { return allRowsDone(session) })

	work := dir.WritableCalendars()[1]
	onLoop(t, loop, func() {
		// while idle the selector accepts any writable calendar
		session.SelectCalendar(work)
		if session.SelectedCalendar() != work {
			t.Error("selection change rejected while idle")
		}
		if session.SelectedPosition() != 1 {
			t.Error("wrong selector position:", session.SelectedPosition())
		}

		// but never one outside the writable list
		stranger := directory.NewCalendar("other", "Other", nil)
		session.SelectCalendar(stranger)
		if session.SelectedCalendar() != work {
			t.Error("a calendar outside the writable list must not be selectable")
		}

		if err := session.BeginWrite(); err != nil {
			t.Error(err)
		}

		// write in flight: both selection paths must leave it alone
		session.SelectCalendar(dir.WritableCalendars()[0])
		if session.SelectedCalendar() != work {
			t.Error("selection must not change while a write is in flight")
		}
		dir.SetDefaultCalendar("personal")
	})
	loop.Sync()
	onLoop(t, loop, func() {
		if session.SelectedCalendar() != work {
			t.Error("a default change must not move the selection while writing")
		}
		session.Cancel()
	})
	<-dismissed
}

func TestDestroyedRowEmitsNoSignal(t *testing.T) {
	loop := startLoop(t)
	client := &fakeClient{}
	dir := newDirectory(client, "Personal")
	path := writeTempFile(t, "A.ics", calendarFile(nil, "One"))

	var session *importer.Session
	loaded := 0
	onLoop(t, loop, func() {
		session = importer.NewSession(loop, dir, []string{path}, nil)
		session.OnRowLoaded(func(*importer.Row) { loaded++ })
		session.Destroy()
	})

	// any in-flight parse completion lands behind this barrier
	loop.Sync()
	time.Sleep(50 * time.Millisecond)
	loop.Sync()
	onLoop(t, loop, func() {
		if loaded != 0 {
			t.Error("destroyed row must not emit file-loaded, got", loaded)
		}
		if session.TotalEvents() != 0 {
			t.Error("destroyed row must not contribute events")
		}
		if session.Rows()[0].State() != importer.RowPending {
			t.Error("destroyed row must not advance state")
		}
	})
}

func TestImportWithoutMetricConsumer(t *testing.T) {
	loop := startLoop(t)
	client := &fakeClient{}
	dir := newDirectory(client, "Personal")
	path := writeTempFile(t, "A.ics", calendarFile([]string{"UTC"}, "One", "Two"))

	var session *importer.Session
	dismissed := make(chan error, 1)
	onLoop(t, loop, func() {
		// nobody drains these channels; the pipeline must not care
		session = importer.NewSession(loop, dir, []string{path}, utils.NewMetric())
		session.OnDismiss(func(err error) { dismissed <- err })
	})
	waitFor(t, loop, "rows to load", func() bool { return allRowsDone(session) })

	onLoop(t, loop, func() {
		if err := session.BeginWrite(); err != nil {
			t.Error(err)
		}
	})

	select {
	case err := <-dismissed:
		if err != nil {
			t.Error("unexpected dismiss error:", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("import blocked on metric delivery")
	}
	if client.createCalls() != 1 {
		t.Error("expected the batched create to run")
	}
}

func TestCancelWithoutWriteDismisses(t *testing.T) {
	loop := startLoop(t)
	client := &fakeClient{}
	dir := newDirectory(client, "Personal")
	path := writeTempFile(t, "A.ics", calendarFile(nil, "One"))

	var session *importer.Session
	dismissed := make(chan error, 1)
	onLoop(t, loop, func() {
		session = importer.NewSession(loop, dir, []string{path}, nil)
		session.OnDismiss(func(err error) { dismissed <- err })
	})
	waitFor(t, loop, "rows to load", func() bool { return allRowsDone(session) })

	onLoop(t, loop, func() { session.Cancel() })
	if err := <-dismissed; err != nil {
		t.Error("plain dismiss must carry no error, got", err)
	}
}
