// Package logging builds the process logger.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Format     string // json or text
	FilePath   string // empty disables the log file
	MaxSize    int    // megabytes
	MaxBackups int
	MaxAge     int // days
	Debug      bool
}

// New creates a logger writing to out and, when FilePath is set, to a
// rotating log file. The returned closer releases the file.
func New(cfg LogConfig, out io.Writer) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
		defer logger.WithError(err).Warn("Invalid log level, using INFO")
	}
	if cfg.Debug {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)

	var closer io.Closer = nopCloser{}
	writer := out
	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return nil, nil, err
		}
		fileWriter := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   true,
		}
		writer = io.MultiWriter(out, fileWriter)
		closer = fileWriter
	}
	logger.SetOutput(writer)

	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
