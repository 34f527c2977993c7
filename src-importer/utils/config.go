package utils

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	sqlitePath  string
	metricsPort string

	location *time.Location

	caldavURL      string
	caldavUsername string
	caldavPassword string

	defaultCalendarName string
}

func NewConfig() *Config {
	return &Config{
		sqlitePath: func() string {
			sqlitePath := os.Getenv("SQLITE_PATH")
			if sqlitePath == "" {
				sqlitePath = "./sqlite.db"
			}
			slog.Debug("env", "SQLITE_PATH", sqlitePath)
			return filepath.Clean(sqlitePath)
		}(),

		metricsPort: func() string {
			metricsPort := os.Getenv("METRICS_PORT")
			if metricsPort == "" {
				slog.Debug("METRICS_PORT is not set, metrics endpoint disabled")
			}
			return metricsPort
		}(),

		location: func() *time.Location {
			timezoneStr := os.Getenv("TIMEZONE")
			var loc *time.Location
			var err error
			switch timezoneStr {
			case "":
				slog.Warn("TIMEZONE is not set, using local timezone", "timezone", time.Local)
				loc = time.Local
			case "UTC":
				loc = time.UTC
			default:
				loc, err = time.LoadLocation(timezoneStr)
				if err != nil {
					slog.Error("invalid timezone", "timezone", timezoneStr, "error", err)
					os.Exit(1)
				}
			}
			slog.Debug("env", "TIMEZONE", timezoneStr)
			return loc
		}(),

		caldavURL: func() string {
			caldavURL := os.Getenv("CALDAV_URL")
			slog.Debug("env", "CALDAV_URL", caldavURL)
			return caldavURL
		}(),
		caldavUsername: os.Getenv("CALDAV_USERNAME"),
		caldavPassword: os.Getenv("CALDAV_PASSWORD"),

		defaultCalendarName: func() string {
			defaultCalendarName := os.Getenv("DEFAULT_CALENDAR_NAME")
			if defaultCalendarName == "" {
				defaultCalendarName = "Personal"
			}
			slog.Debug("env", "DEFAULT_CALENDAR_NAME", defaultCalendarName)
			return defaultCalendarName
		}(),
	}
}

// Get SQLITE_PATH env, default to ./sqlite.db
func (c *Config) GetSqlitePath() string {
	return c.sqlitePath
}

// Get METRICS_PORT env; blank means the metrics endpoint stays off
func (c *Config) GetMetricsPort() string {
	return c.metricsPort
}

// Get TIMEZONE env
func (c *Config) GetLocation() *time.Location {
	return c.location
}

// Get CALDAV_URL env
func (c *Config) GetCaldavURL() string {
	return c.caldavURL
}

// Get CALDAV_USERNAME env
func (c *Config) GetCaldavUsername() string {
	return c.caldavUsername
}

// Get CALDAV_PASSWORD env
func (c *Config) GetCaldavPassword() string {
	return c.caldavPassword
}

// Get DEFAULT_CALENDAR_NAME env, default to "Personal"
func (c *Config) GetDefaultCalendarName() string {
	return c.defaultCalendarName
}
