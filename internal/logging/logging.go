// Package logging builds the process-wide structured logger.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a JSON-formatted logrus.Logger writing to stdout at the
// given level. An unrecognized level falls back to Info rather than
// failing startup over a typo'd env var.
func New(level string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.JSONFormatter{})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}
