// Package logging builds the structured logger shared by every component.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config selects level and output format.
type Config struct {
	Level  string `json:"level"`
	Format string `json:"format"` // "json" or "text"
}

func DefaultConfig() *Config {
	return &Config{Level: "info", Format: "json"}
}

// New returns a logger writing to stdout with a "service" field on every entry.
func New(cfg *Config, service string) *logrus.Entry {
	return NewWithWriter(cfg, service, os.Stdout)
}

func NewWithWriter(cfg *Config, service string, w io.Writer) *logrus.Entry {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	logger := logrus.New()
	logger.SetOutput(w)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.EqualFold(cfg.Format, "text") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	return logger.WithField("service", service)
}

// Component scopes a logger to one subsystem.
func Component(log *logrus.Entry, name string) *logrus.Entry {
	return log.WithField("component", name)
}

// Discard is a logger for tests.
func Discard() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}
