package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"icsimport/src-importer/caldav"
	"icsimport/src-importer/directory"
	"icsimport/src-importer/importer"
	"icsimport/src-importer/metric"
	"icsimport/src-importer/model"
	"icsimport/src-importer/utils"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func init() {
	if err := godotenv.Load(); err != nil {
		slog.Info(err.Error())
	}
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.RFC1123Z,
		}),
	))
}

// seedDefaultCalendar makes sure a fresh store has at least one writable
// calendar to import into.
func seedDefaultCalendar(as *utils.AppState) {
	count, err := as.BunDB.NewSelect().
		Model((*model.Calendar)(nil)).
		Where("writable = ?", true).
		Count(context.Background())
	if err != nil {
		slog.Error("can't inspect the calendar store", "error", err)
		os.Exit(1)
	}
	if count > 0 {
		return
	}

	calendarModel := model.Calendar{
		ID:               uuid.NewString(),
		Name:             as.Config.GetDefaultCalendarName(),
		Color:            "#3584e4",
		Visible:          true,
		Writable:         true,
		Default:          true,
		SourceParentName: "On This Computer",
	}
	if err := calendarModel.Upsert(context.Background(), as.BunDB); err != nil {
		slog.Error("can't seed the default calendar", "error", err)
		os.Exit(1)
	}
	slog.Info("created calendar", "name", calendarModel.Name)
}

func main() {
	calendarName := flag.String("calendar", "", "destination calendar name (defaults to the store's default calendar)")
	flag.Parse()
	files := flag.Args()
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "usage: icsimport [-calendar NAME] FILE...")
		os.Exit(2)
	}

	as := utils.NewAppState()
	seedDefaultCalendar(as)

	dir, err := directory.Load(context.Background(), as.BunDB)
	if err != nil {
		slog.Error("can't load the calendar directory", "error", err)
		os.Exit(1)
	}

	// remote CalDAV collections become destinations too, when configured
	remote := caldav.NewClient(
		as.Config.GetCaldavURL(),
		as.Config.GetCaldavUsername(),
		as.Config.GetCaldavPassword(),
	)
	if remote.IsConfigured() {
		handles, err := remote.DiscoverCalendars(context.Background())
		if err != nil {
			slog.Warn("can't discover CalDAV calendars", "error", err)
		}
		for _, handle := range handles {
			dir.Add(handle)
		}
	}

	go metric.Init(as)
	if port := as.Config.GetMetricsPort(); port != "" {
		go func() {
			muxer := http.NewServeMux()
			muxer.Handle("GET /metrics", promhttp.Handler())
			if err := http.ListenAndServe(":"+port, muxer); err != nil {
				slog.Error("cannot start metrics server", "error", err)
			}
		}()
	}

	loop := importer.NewLoop()

	var session *importer.Session
	done := make(chan error, 1)
	loop.Dispatch(func() {
		session = importer.NewSession(loop, dir, files, as.MetricChans)

		session.OnTitleChanged(func(title string) {
			fmt.Println(title)
		})
		session.OnDismiss(func(err error) {
			done <- err
		})

		if *calendarName != "" {
			for _, c := range dir.WritableCalendars() {
				if c.Name == *calendarName {
					session.SelectCalendar(c)
					break
				}
			}
			if session.SelectedCalendar() == nil || session.SelectedCalendar().Name != *calendarName {
				slog.Error("no writable calendar with that name", "name", *calendarName)
				os.Exit(1)
			}
		}

		loaded := 0
		session.OnRowLoaded(func(row *importer.Row) {
			prefix := ""
			if session.Grouped() {
				prefix = row.Basename() + ": "
			}
			switch row.State() {
			case importer.RowFailed:
				slog.Warn("can't read calendar file", "file", row.Basename(), "error", row.Err())
			default:
				fmt.Printf("  %s%d events\n", prefix, row.EventCount())
			}

			loaded++
			if loaded < len(session.Rows()) {
				return
			}

			// every file is in; hand the batch to the destination
			if err := session.BeginWrite(); err != nil {
				done <- err
				return
			}
			if session.Sensitive() {
				// nothing to import; dismiss instead of staying open
				slog.Info("no events to import")
				session.Cancel()
			}
		})
	})
	go loop.Run()

	signal.Notify(as.AppCloseSignalChan, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)

	var exitErr error
	select {
	case exitErr = <-done:
	case <-as.AppCloseSignalChan:
		slog.Info("cancelling import")
		loop.Dispatch(func() {
			if session != nil {
				session.Cancel()
			}
		})
		exitErr = <-done
	}

	destination := ""
	loop.Dispatch(func() {
		if session != nil {
			if c := session.SelectedCalendar(); c != nil {
				destination = c.Name
			}
			session.Destroy()
		}
	})
	loop.Sync()
	loop.Stop()

	if exitErr == nil && destination != "" {
		slog.Info("done", "destination", destination)
	}

	as.GracefulShutdown()

	if exitErr != nil {
		os.Exit(1)
	}
}
