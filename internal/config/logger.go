package config

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/sirupsen/logrus"
)

// InitLogger builds the build logger from cfg. Logs go to stderr so they
// never mix with region output on stdout.
func InitLogger(cfg *LogConfig) *logrus.Logger {
	return NewLogger(cfg, os.Stderr)
}

// NewLogger is InitLogger with an explicit destination
func NewLogger(cfg *LogConfig, out io.Writer) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	caller := func(f *runtime.Frame) (string, string) {
		return "", fmt.Sprintf("%s:%d", f.File, f.Line)
	}
	if level >= logrus.DebugLevel {
		logger.SetReportCaller(true)
	}

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat:  "2006-01-02 15:04:05",
			CallerPrettyfier: caller,
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  "2006/01/02 15:04:05",
			CallerPrettyfier: caller,
		})
	}

	logger.SetOutput(out)
	return logger
}
