// Package logging builds the logrus logger the binaries share.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

func New(verbose bool) *logrus.Logger {
	return NewWithOutput(os.Stderr, verbose)
}

func NewWithOutput(w io.Writer, verbose bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05Z07:00",
	})
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}

// Discard returns an entry that drops everything, for libraries given no logger.
func Discard() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}
