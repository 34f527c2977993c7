package metric

import (
	"log/slog"
	"time"

	"icsimport/src-importer/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func parseFile(as *utils.AppState, clearTickerInterval *time.Duration) {
	parseFile := promauto.NewGauge(prometheus.GaugeOpts{
		Name: "icsimport_parse_file_microsec",
		Help: "The latency of one calendar file parse in microseconds",
	})
	good := true
	if err := prometheus.Register(parseFile); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			slog.Error("can't register icsimport_parse_file_microsec metric", "error", err)
			good = false
		}
	}
	if good {
		slog.Debug("icsimport_parse_file_microsec metric registered")
		parseFile.Set(0)
	}
	go func() {
		gracefulShutdownCh := as.CreateGracefulShutdownChan()
		clearTicker := time.NewTicker(*clearTickerInterval)
		defer clearTicker.Stop()
		for {
			select {
			case <-gracefulShutdownCh:
				switch prometheus.Unregister(parseFile) {
				case true:
					slog.Debug("icsimport_parse_file_microsec metric unregistered")
				case false:
					slog.Warn("icsimport_parse_file_microsec metric not registered")
				}
				return
			case latency := <-as.MetricChans.ParseFile:
				parseFile.Set(latency)
				clearTicker.Reset(*clearTickerInterval)
			case <-clearTicker.C:
				parseFile.Set(0)
			}
		}
	}()
}

func writeBatch(as *utils.AppState, clearTickerInterval *time.Duration) {
	writeBatch := promauto.NewGauge(prometheus.GaugeOpts{
		Name: "icsimport_write_batch_microsec",
		Help: "The latency of one batched event write in microseconds",
	})
	good := true
	if err := prometheus.Register(writeBatch); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			slog.Error("can't register icsimport_write_batch_microsec metric", "error", err)
			good = false
		}
	}
	if good {
		slog.Debug("icsimport_write_batch_microsec metric registered")
		writeBatch.Set(0)
	}
	go func() {
		gracefulShutdownCh := as.CreateGracefulShutdownChan()
		clearTicker := time.NewTicker(*clearTickerInterval)
		defer clearTicker.Stop()
		for {
			select {
			case <-gracefulShutdownCh:
				switch prometheus.Unregister(writeBatch) {
				case true:
					slog.Debug("icsimport_write_batch_microsec metric unregistered")
				case false:
					slog.Warn("icsimport_write_batch_microsec metric not registered")
				}
				return
			case latency := <-as.MetricChans.WriteBatch:
				writeBatch.Set(latency)
				clearTicker.Reset(*clearTickerInterval)
			case <-clearTicker.C:
				writeBatch.Set(0)
			}
		}
	}()
}

func importedEvents(as *utils.AppState) {
	importedEvents := promauto.NewCounter(prometheus.CounterOpts{
		Name: "icsimport_imported_events_total",
		Help: "The number of events written to destinations since startup",
	})
	if err := prometheus.Register(importedEvents); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			slog.Error("can't register icsimport_imported_events_total metric", "error", err)
			return
		}
	}
	slog.Debug("icsimport_imported_events_total metric registered")
	go func() {
		gracefulShutdownCh := as.CreateGracefulShutdownChan()
		for {
			select {
			case <-gracefulShutdownCh:
				switch prometheus.Unregister(importedEvents) {
				case true:
					slog.Debug("icsimport_imported_events_total metric unregistered")
				case false:
					slog.Warn("icsimport_imported_events_total metric not registered")
				}
				return
			case count := <-as.MetricChans.ImportedEvents:
				importedEvents.Add(count)
			}
		}
	}()
}

func Init(as *utils.AppState) {
	clearTickerInterval := time.Minute
	parseFile(as, &clearTickerInterval)
	writeBatch(as, &clearTickerInterval)
	importedEvents(as)
}
