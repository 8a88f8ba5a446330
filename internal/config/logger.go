package config

import (
	"io"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogPath returns the log file path (for tools and debugging).
func LogPath() string {
	dir, err := DataDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "qoze.log")
}

// NewLogger builds the application logger. Output goes to a size-rotated
// file under the data dir, never to the terminal: the TUI owns stdout and
// stray writes corrupt the display. If the data dir is unavailable the
// logger discards everything.
func NewLogger(debug bool) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05Z07:00",
	})
	if debug {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}

	path := LogPath()
	if path == "" {
		log.SetOutput(io.Discard)
		return log
	}
	log.SetOutput(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     30, // days
	})
	return log
}
