// Package logging builds the process logger shared by every component.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level  string
	Format string // "text" or "json"

	// File enables a rolling log file next to stdout.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// FromEnv fills Level and Format from LOG_LEVEL / LOG_FORMAT when they are unset.
func (c Config) FromEnv() Config {
	if c.Level == "" {
		c.Level = os.Getenv("LOG_LEVEL")
	}
	if c.Format == "" {
		c.Format = os.Getenv("LOG_FORMAT")
	}
	return c
}

// New returns a configured logger and a closer for its file output (a no-op without File).
func New(cfg Config) (*logrus.Logger, io.Closer) {
	l := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if strings.EqualFold(strings.TrimSpace(cfg.Format), "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	var closer io.Closer = nopCloser{}
	out := io.Writer(os.Stdout)
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, lj)
		closer = lj
	}
	l.SetOutput(out)
	return l, closer
}

// Component tags entries with the emitting component.
func Component(l logrus.FieldLogger, name string) logrus.FieldLogger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return l.WithField("component", name)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
