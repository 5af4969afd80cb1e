// Package logging builds the single *logrus.Logger threaded through
// every constructor, per the teacher's dominant
// logger.WithFields(logrus.Fields{...}) convention.
package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/sentineld/sentineld/internal/config"
)

// New builds a *logrus.Logger from cfg, defaulting to info/text when
// either field is unset or fails to parse.
func New(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger
}
