package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Setup builds the application logger. The TUI owns the terminal, so
// log output goes to a file; an unwritable path degrades to a silent
// logger instead of failing startup.
func Setup(level, path string) *logrus.Entry {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)

	if path == "" {
		log.SetOutput(io.Discard)
		return logrus.NewEntry(log)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.SetOutput(io.Discard)
		fmt.Fprintf(os.Stderr, "cko: log file unavailable: %v\n", err)
		return logrus.NewEntry(log)
	}
	log.SetOutput(file)
	return logrus.NewEntry(log)
}
