package utils

import (
	"database/sql"
	"log/slog"
	"os"
	"sync"

	"icsimport/src-importer/model"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
)

type AppState struct {
	Config *Config
	RawDB  *sql.DB
	BunDB  *bun.DB

	MetricChans *Metric

	AppCloseSignalChan chan os.Signal

	mu                    sync.Mutex
	gracefulShutdownChans []chan struct{}
}

func NewAppState() *AppState {
	as := &AppState{}

	as.Config = NewConfig()
	as.MetricChans = NewMetric()
	as.AppCloseSignalChan = make(chan os.Signal, 1)

	var err error
	as.RawDB, err = sql.Open(sqliteshim.ShimName, as.Config.GetSqlitePath()+"?mode=rwc")
	if err != nil {
		slog.Error("cannot open sqlite database", "error", err)
		os.Exit(1)
	}
	as.RawDB.SetMaxIdleConns(8)

	as.BunDB = bun.NewDB(as.RawDB, sqlitedialect.New())
	as.BunDB.AddQueryHook(bundebug.NewQueryHook(
		bundebug.FromEnv("BUNDEBUG"),
	))

	if err := model.CreateSchema(as.BunDB); err != nil {
		slog.Error("can't create database schema", "error", err)
		os.Exit(1)
	}

	return as
}

// CreateGracefulShutdownChan hands out a channel that closes when the app is
// shutting down; long-running goroutines select on it.
func (as *AppState) CreateGracefulShutdownChan() chan struct{} {
	as.mu.Lock()
	defer as.mu.Unlock()
	ch := make(chan struct{})
	as.gracefulShutdownChans = append(as.gracefulShutdownChans, ch)
	return ch
}

func (as *AppState) GracefulShutdown() {
	as.mu.Lock()
	defer as.mu.Unlock()
	for _, ch := range as.gracefulShutdownChans {
		close(ch)
	}
	as.gracefulShutdownChans = nil
	if err := as.RawDB.Close(); err != nil {
		slog.Warn("can't close database", "error", err)
	}
}
